// Package log configures the process-wide zerolog logger and hands out
// child loggers tagged with the fields quorumkv's components care about.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Components derive tagged
// children from it via the With* constructors below rather than logging
// through it directly.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Level names a log severity threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init installs the root logger. JSON output is meant for log pipelines;
// console output renders through zerolog.ConsoleWriter for local runs.
// An unrecognised level falls back to info rather than failing startup.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent creates a child logger tagged with the owning component
// (raftcore, node, transport, storage, daemon).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNodeID creates a child logger tagged with the node's cluster id.
func WithNodeID(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithGeneration creates a child logger with the node's current
// generation, so log lines can be correlated across a restart boundary.
func WithGeneration(generation uint64) zerolog.Logger {
	return Logger.With().Uint64("generation", generation).Logger()
}

// WithPeer creates a child logger tagged with a remote peer address, for
// transport-layer connection lifecycle logging.
func WithPeer(addr string) zerolog.Logger {
	return Logger.With().Str("peer", addr).Logger()
}
