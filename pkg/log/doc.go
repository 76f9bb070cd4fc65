/*
Package log provides structured logging for quorumkv using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers and configurable log levels. All logs
include timestamps and support filtering by severity level.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("raftcore")                │          │
	│  │  - WithNodeID("1")                          │          │
	│  │  - WithGeneration(3)                        │          │
	│  │  - WithPeer("10.0.0.2:7000")                │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("transport").With().Logger()
	logger.Info().Str("peer", addr).Msg("connection established")

Console mode (JSONOutput: false) renders through zerolog.ConsoleWriter for
local development; production deployments should set JSONOutput so logs
are scrapeable by a log pipeline.
*/
package log
