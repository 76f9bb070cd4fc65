// Command quorumkvd runs a single quorumkv cluster member: it wires a
// pkg/node.Node to a pkg/storage.FileStorage journal, a pkg/transport
// line-framed peer socket, and a JSON-RPC client front door, and drains
// the node's action stream on pkg/daemon's host loop.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/daemon"
	"github.com/quorumkv/quorumkv/pkg/log"
	"github.com/quorumkv/quorumkv/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quorumkvd",
	Short: "quorumkvd runs a node of a quorumkv cluster",
	Long: `quorumkvd hosts one member of a quorumkv cluster: a Raft-replicated
in-memory key-value store reachable over JSON-RPC.

Each invocation runs exactly one node. Form a cluster by starting one
quorumkvd per member, all bootstrapped with the same --peer set.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"quorumkvd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	flags := rootCmd.Flags()
	flags.Uint64("node-id", 0, "This node's id (required)")
	flags.String("data-dir", "./data", "Directory for the journal and materialized-view cache")
	flags.String("raft-addr", "127.0.0.1:7400", "Listen address for the inter-node line-framed socket")
	flags.String("rpc-addr", "127.0.0.1:7401", "Listen address for client JSON-RPC connections")
	flags.String("metrics-addr", "127.0.0.1:7402", "Listen address for /metrics and /healthz")
	flags.StringSlice("peer", nil, "Cluster member as id=raft-addr, repeatable (must include self)")
	flags.Bool("bootstrap", false, "Bootstrap a brand-new cluster from --peer on first start")
	flags.Uint64("snapshot-every", 1000, "Take a snapshot and trim the log every N applied entries (0 disables)")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func parsePeers(raw []string) (map[raftcore.NodeID]string, error) {
	peers := make(map[raftcore.NodeID]string, len(raw))
	for _, p := range raw {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --peer %q, want id=host:port", p)
		}
		id, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --peer id %q: %w", parts[0], err)
		}
		peers[raftcore.NodeID(id)] = parts[1]
	}
	return peers, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	nodeID, _ := flags.GetUint64("node-id")
	dataDir, _ := flags.GetString("data-dir")
	raftAddr, _ := flags.GetString("raft-addr")
	rpcAddr, _ := flags.GetString("rpc-addr")
	metricsAddr, _ := flags.GetString("metrics-addr")
	bootstrap, _ := flags.GetBool("bootstrap")
	snapshotEvery, _ := flags.GetUint64("snapshot-every")
	rawPeers, _ := flags.GetStringSlice("peer")

	peers, err := parsePeers(rawPeers)
	if err != nil {
		return err
	}

	logger := log.WithNodeID(strconv.FormatUint(nodeID, 10))
	logger.Info().Msg("starting quorumkvd")

	d, err := daemon.New(daemon.Config{
		NodeID:        raftcore.NodeID(nodeID),
		DataDir:       dataDir,
		RaftAddr:      raftAddr,
		RPCAddr:       rpcAddr,
		Peers:         peers,
		Bootstrap:     bootstrap,
		SnapshotEvery: snapshotEvery,
	})
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Close()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "")
	metrics.RegisterComponent("storage", true, "")
	metrics.RegisterComponent("transport", true, "")

	collector := metrics.NewCollector(d.Snapshot)
	collector.Start()
	defer collector.Stop()

	go serveMetrics(metricsAddr, logger)

	stopCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down")
		close(stopCh)
	}()

	return d.Run(stopCh)
}

// serveMetrics runs the /metrics and /healthz HTTP endpoints until the
// process exits; a bind failure is logged, not fatal, since scraping is
// best-effort observability, not part of the consensus path.
func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}
