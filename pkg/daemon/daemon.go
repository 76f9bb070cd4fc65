// Package daemon hosts a Node: it owns the single goroutine that drains
// Node's action stream and performs every effect Node itself refuses to
// perform — appending to the journal, sending and receiving wire
// messages, applying committed commands to the key-value machine, and
// answering JSON-RPC clients. It plays the role pkg/manager plays for
// the teacher repo's Raft-backed orchestrator, adapted from a
// hashicorp/raft FSM driver to quorumkv's pull-based action stream.
package daemon

import (
	"bufio"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/conv"
	"github.com/quorumkv/quorumkv/pkg/events"
	"github.com/quorumkv/quorumkv/pkg/jsonrpc"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
	"github.com/quorumkv/quorumkv/pkg/kvstore"
	"github.com/quorumkv/quorumkv/pkg/log"
	"github.com/quorumkv/quorumkv/pkg/metrics"
	"github.com/quorumkv/quorumkv/pkg/node"
	"github.com/quorumkv/quorumkv/pkg/storage"
	"github.com/quorumkv/quorumkv/pkg/transport"
)

// internalMethod tags node-to-node JSON-RPC requests. The name is not
// semantic; it only has to be consistent within a cluster.
const internalMethod = "_message"

// proposalWait bounds how long an RPC connection waits for its proposal
// to commit before reporting a timeout to the client. Dropped proposals
// (no leader known, leadership change, snapshot skip) produce no Apply,
// so this is the only way such a client learns anything at all.
const proposalWait = 3 * time.Second

// Config configures a Daemon.
type Config struct {
	NodeID  raftcore.NodeID
	DataDir string

	RaftAddr string // this node's line-framed peer transport address
	RPCAddr  string // this node's JSON-RPC client-facing address

	// Peers maps every voting member (including self) to its RaftAddr.
	Peers map[raftcore.NodeID]string

	// Bootstrap, if true and the journal is empty, calls InitCluster with
	// the member set derived from Peers. A node joining an existing
	// cluster leaves this false and waits to be added and contacted.
	Bootstrap bool

	// SnapshotEvery triggers a local snapshot+trim once this many new
	// entries have been applied since the last one. Zero disables
	// periodic snapshotting.
	SnapshotEvery uint64
}

// Daemon wires a Node to storage, transport, the key-value machine, and
// a JSON-RPC client front door, and drains the resulting action stream
// on a single goroutine.
type Daemon struct {
	cfg Config

	n       *node.Node
	journal *storage.FileStorage
	machine *kvstore.Machine
	cache   *kvstore.Cache
	peerNet *transport.Socket
	broker  *events.Broker

	rpcListener net.Listener
	clientCh    chan clientCall

	pending map[conv.ProposalID]pendingReply

	electionTimer *time.Timer

	lastSnapshotIndex raftcore.LogIndex

	// stateMu guards state, the only daemon data read off the host-loop
	// goroutine (by the metrics collector).
	stateMu sync.Mutex
	state   metrics.Snapshot
}

type clientCall struct {
	isQuery bool
	request kvstore.Request
	done    chan clientResult
}

type clientResult struct {
	resp kvstore.Response
	err  error
}

type pendingReply struct {
	done     chan<- clientResult
	started  time.Time
	deadline time.Time
}

// New opens the journal and materialised-view cache, replays history
// into a fresh Node and Machine, and either bootstraps or waits to be
// contacted, per cfg.Bootstrap.
func New(cfg Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	journal, err := storage.Open(filepath.Join(cfg.DataDir, "journal.jsonl"))
	if err != nil {
		return nil, err
	}

	entries, err := journal.LoadEntries()
	if err != nil {
		journal.Close()
		return nil, err
	}

	n := node.Start(cfg.NodeID)
	machine := kvstore.NewMachine()

	if len(entries) > 0 {
		userMachine, err := n.Load(entries)
		if err != nil {
			journal.Close()
			return nil, fmt.Errorf("load journal: %w", err)
		}
		if !userMachine.IsZero() {
			if err := machine.Restore(userMachine); err != nil {
				journal.Close()
				return nil, fmt.Errorf("restore machine from snapshot: %w", err)
			}
		}
	} else if cfg.Bootstrap {
		members := make([]raftcore.NodeID, 0, len(cfg.Peers))
		for id := range cfg.Peers {
			members = append(members, id)
		}
		if !n.InitCluster(members) {
			journal.Close()
			return nil, fmt.Errorf("bootstrap: this node is not a member of its own peer set")
		}
	}

	cache, err := kvstore.OpenCache(filepath.Join(cfg.DataDir, "cache.bolt"))
	if err != nil {
		journal.Close()
		return nil, err
	}
	if err := cache.Rebuild(machine); err != nil {
		journal.Close()
		cache.Close()
		return nil, err
	}

	peerNet, err := transport.Bind(cfg.RaftAddr, 256)
	if err != nil {
		journal.Close()
		cache.Close()
		return nil, err
	}

	rpcListener, err := net.Listen("tcp", cfg.RPCAddr)
	if err != nil {
		journal.Close()
		cache.Close()
		peerNet.Close()
		return nil, fmt.Errorf("listen rpc: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	d := &Daemon{
		cfg:               cfg,
		n:                 n,
		journal:           journal,
		machine:           machine,
		cache:             cache,
		peerNet:           peerNet,
		broker:            broker,
		rpcListener:       rpcListener,
		clientCh:          make(chan clientCall, 64),
		pending:           map[conv.ProposalID]pendingReply{},
		lastSnapshotIndex: n.AppliedIndex(),
	}
	d.publishState()
	return d, nil
}

// Events returns the daemon's lifecycle event broker, for subscribing
// components like the metrics collector or an admin endpoint.
func (d *Daemon) Events() *events.Broker { return d.broker }

// Snapshot returns the last published Raft state for the metrics
// collector. Safe to call from any goroutine.
func (d *Daemon) Snapshot() metrics.Snapshot {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

// publishState copies the node's current Raft state out from under the
// host loop, so the collector never touches Node itself.
func (d *Daemon) publishState() {
	s := metrics.Snapshot{
		IsLeader:     d.n.Role() == raftcore.Leader,
		Term:         uint64(d.n.CurrentTerm()),
		LastLogIndex: uint64(d.n.LastLogIndex()),
		CommitIndex:  uint64(d.n.CommitIndex()),
		AppliedIndex: uint64(d.n.AppliedIndex()),
		PeerCount:    d.n.PeerCount(),
	}
	d.stateMu.Lock()
	d.state = s
	d.stateMu.Unlock()
}

// Run drives the host loop until stopCh is closed. It owns the only
// goroutine allowed to touch Node, FileStorage, or the Machine; the RPC
// and peer-transport goroutines only ever hand work to it over channels.
func (d *Daemon) Run(stopCh <-chan struct{}) error {
	go d.acceptRPC(stopCh)

	d.electionTimer = time.NewTimer(d.followerTimeout())
	defer d.electionTimer.Stop()

	peerResults := make(chan []byte, 64)
	go d.recvPeers(stopCh, peerResults)

	gc := time.NewTicker(time.Second)
	defer gc.Stop()

	for {
		d.drainActions()
		d.publishState()

		select {
		case <-stopCh:
			return nil
		case <-d.electionTimer.C:
			if d.n.Role() == raftcore.Leader {
				d.n.HandleTimeout()
				d.electionTimer.Reset(d.leaderTimeout())
			} else {
				metrics.RaftElectionsTotal.Inc()
				d.n.HandleTimeout()
				d.electionTimer.Reset(d.followerTimeout())
			}
		case data := <-peerResults:
			d.handlePeerLine(data)
		case call := <-d.clientCh:
			d.handleClientCall(call)
		case <-gc.C:
			d.expirePending()
		}
	}
}

func (d *Daemon) recvPeers(stopCh <-chan struct{}, out chan<- []byte) {
	buf := make([]byte, transport.MaxLineSize)
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		n, _, err := d.peerNet.RecvFrom(buf, 200*time.Millisecond)
		if err != nil {
			continue
		}
		metrics.TransportMessagesTotal.WithLabelValues("in").Inc()
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case out <- cp:
		case <-stopCh:
			return
		}
	}
}

// handlePeerLine unwraps one inter-node JSON-RPC line and feeds its
// params to the node: a Raft message, a forwarded command, a query
// message, or — for a lagging or fresh member — a full snapshot.
func (d *Daemon) handlePeerLine(data []byte) {
	logger := log.WithComponent("daemon")
	req, rpcErr := jsonrpc.ParseRequest(data)
	if rpcErr != nil || req.Method != internalMethod || req.Params.IsZero() {
		logger.Debug().Msg("ignoring malformed peer line")
		return
	}
	handled, err := d.n.HandleMessage(req.Params)
	if err != nil {
		logger.Error().Err(err).Msg("handle peer message")
		return
	}
	if handled {
		return
	}
	d.maybeInstallSnapshot(req.Params)
}

// maybeInstallSnapshot handles the one peer payload Node.HandleMessage
// does not: an InstallSnapshotRpc from a leader that decided this node
// is too far behind. Node validates and adopts the snapshot first,
// refusing one at or behind its applied index; an accepted snapshot is
// then made durable (replacing the whole journal, mirroring what a
// restart-and-load would see) before the key-value machine and cache are
// restored from it.
func (d *Daemon) maybeInstallSnapshot(raw jsonvalue.Value) {
	logger := log.WithComponent("daemon")
	entry, err := conv.ParseStorageEntry(raw)
	if err != nil || entry.Kind != conv.StorageInstallSnapshot {
		logger.Debug().Msg("ignoring unrecognised peer payload")
		return
	}
	userMachine, ok := d.n.InstallSnapshot(raw, entry.Snapshot)
	if !ok {
		return
	}
	if err := d.journal.SaveSnapshot(raw); err != nil {
		logger.Error().Err(err).Msg("persist installed snapshot")
	}
	if err := d.machine.Restore(userMachine); err != nil {
		logger.Error().Err(err).Msg("restore machine from installed snapshot")
		return
	}
	if err := d.cache.Rebuild(d.machine); err != nil {
		logger.Warn().Err(err).Msg("rebuild kv cache from installed snapshot")
	}
	d.lastSnapshotIndex = d.n.AppliedIndex()
}

// followerTimeout picks a randomised follower/candidate election
// timeout per the usual Raft split-vote avoidance.
func (d *Daemon) followerTimeout() time.Duration {
	return 150*time.Millisecond + time.Duration(rand.Intn(150))*time.Millisecond
}

// leaderTimeout is the heartbeat pace: short enough that followers
// receiving it never reach their own election timeout.
func (d *Daemon) leaderTimeout() time.Duration {
	return 50 * time.Millisecond
}

func (d *Daemon) handleClientCall(call clientCall) {
	if !d.n.Initialized() {
		call.done <- clientResult{err: fmt.Errorf("node not yet initialised")}
		return
	}
	reqVal, err := jsonvalue.From(call.request)
	if err != nil {
		call.done <- clientResult{err: err}
		return
	}
	var pid conv.ProposalID
	if call.isQuery {
		pid = d.n.ProposeQuery(reqVal)
	} else {
		pid = d.n.ProposeCommand(reqVal)
	}
	now := time.Now()
	d.pending[pid] = pendingReply{done: call.done, started: now, deadline: now.Add(proposalWait)}
}

// expirePending forgets proposals whose client has stopped waiting, so
// dropped proposals (leader unknown, leadership lost, snapshot skip)
// don't accumulate forever.
func (d *Daemon) expirePending() {
	now := time.Now()
	for pid, p := range d.pending {
		if now.After(p.deadline) {
			delete(d.pending, pid)
		}
	}
}

func (d *Daemon) drainActions() {
	for {
		a, ok := d.n.NextAction()
		if !ok {
			return
		}
		d.perform(a)
	}
}

func (d *Daemon) perform(a node.Action) {
	switch a.Kind {
	case node.ActionSetTimeout:
		if d.electionTimer == nil {
			return
		}
		if !d.electionTimer.Stop() {
			select {
			case <-d.electionTimer.C:
			default:
			}
		}
		if a.Role == raftcore.Leader {
			d.electionTimer.Reset(d.leaderTimeout())
		} else {
			d.electionTimer.Reset(d.followerTimeout())
		}
	case node.ActionAppendStorageEntry:
		timer := metrics.NewTimer()
		if err := d.journal.AppendEntry(a.StorageValue); err != nil {
			logger := log.WithComponent("daemon")
			logger.Error().Err(err).Msg("append journal")
		}
		timer.ObserveDuration(metrics.StorageAppendDuration)
		metrics.StorageEntriesTotal.Inc()
	case node.ActionBroadcastMessage:
		for id, addr := range d.cfg.Peers {
			if id == d.n.ID() {
				continue
			}
			d.send(addr, a.WireValue)
		}
	case node.ActionSendMessage:
		if addr, ok := d.cfg.Peers[a.Dest]; ok {
			d.send(addr, a.WireValue)
		}
	case node.ActionSendSnapshot:
		d.sendSnapshotTo(a.Dest)
	case node.ActionApply:
		d.applyCommitted(a)
	case node.ActionNotifyEvent:
		d.broker.Publish(events.Event{
			Type:    events.EventType(a.Event),
			NodeID:  uint64(d.n.ID()),
			Message: a.Event,
		})
	}
}

// send wraps v in the internal JSON-RPC envelope and writes it to addr
// over the line-framed peer socket.
func (d *Daemon) send(addr string, v jsonvalue.Value) {
	framed, err := jsonrpc.FmtInternalRequest(internalMethod, v)
	if err != nil {
		logger := log.WithComponent("daemon")
		logger.Error().Err(err).Msg("frame peer message")
		return
	}
	if err := d.peerNet.SendTo(framed.Bytes(), addr); err != nil {
		peerLogger := log.WithPeer(addr)
		peerLogger.Warn().Err(err).Msg("send to peer")
		return
	}
	metrics.TransportMessagesTotal.WithLabelValues("out").Inc()
}

func (d *Daemon) sendSnapshotTo(dest raftcore.NodeID) {
	logger := log.WithComponent("daemon")
	userSnapshot, err := d.machine.Snapshot()
	if err != nil {
		logger.Error().Err(err).Msg("snapshot machine")
		return
	}
	rpc, ok := d.n.CreateSnapshot(d.n.AppliedIndex(), userSnapshot)
	if !ok {
		return
	}
	if addr, ok := d.cfg.Peers[dest]; ok {
		d.send(addr, rpc)
	}
}

func (d *Daemon) applyCommitted(a node.Action) {
	logger := log.WithComponent("daemon")
	var req kvstore.Request
	if err := a.Request.Decode(&req); err != nil {
		logger.Error().Err(err).Msg("decode committed request")
		return
	}
	resp, err := d.machine.Apply(req)
	if err != nil {
		logger.Error().Err(err).Msg("apply committed request")
	} else {
		switch req.Op {
		case "put":
			if req.Value != nil {
				d.cache.Put(req.Key, *req.Value)
			}
		case "delete":
			d.cache.Delete(req.Key)
		}
	}

	if a.IsProposer {
		if p, ok := d.pending[a.ProposalID]; ok {
			metrics.ProposalCommitDuration.Observe(time.Since(p.started).Seconds())
			p.done <- clientResult{resp: resp}
			delete(d.pending, a.ProposalID)
		}
	}

	d.maybeSnapshot()
}

func (d *Daemon) maybeSnapshot() {
	if d.cfg.SnapshotEvery == 0 {
		return
	}
	applied := d.n.AppliedIndex()
	if uint64(applied-d.lastSnapshotIndex) < d.cfg.SnapshotEvery {
		return
	}
	userSnapshot, err := d.machine.Snapshot()
	if err != nil {
		return
	}
	rpc, ok := d.n.CreateSnapshot(applied, userSnapshot)
	if !ok {
		return
	}
	if err := d.journal.SaveSnapshot(rpc); err != nil {
		logger := log.WithComponent("daemon")
		logger.Error().Err(err).Msg("save snapshot")
		return
	}
	d.n.StripMemoryLog(applied)
	d.lastSnapshotIndex = applied
	metrics.SnapshotsTotal.Inc()
	d.broker.Publish(events.Event{
		Type:   events.EventSnapshotCreated,
		NodeID: uint64(d.n.ID()),
	})
}

// acceptRPC serves client JSON-RPC connections: one goroutine per
// connection, parsing line-framed requests and handing them to the host
// loop via clientCh, then writing back whatever response arrives.
func (d *Daemon) acceptRPC(stopCh <-chan struct{}) {
	go func() {
		<-stopCh
		d.rpcListener.Close()
	}()
	for {
		conn, err := d.rpcListener.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
				continue
			}
		}
		go d.serveRPCConn(conn)
	}
}

func (d *Daemon) serveRPCConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	writer := bufio.NewWriter(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		reply := d.handleRPCLine(line)
		writer.Write(reply.Bytes())
		writer.WriteByte('\n')
		writer.Flush()
	}
}

func (d *Daemon) handleRPCLine(line []byte) jsonvalue.Value {
	timer := metrics.NewTimer()
	req, rpcErr := jsonrpc.ParseRequest(line)
	if rpcErr != nil {
		v, _ := jsonrpc.FmtError(jsonrpc.ID{}, rpcErr)
		return v
	}

	switch req.Method {
	case "put", "get", "delete":
	default:
		v, _ := jsonrpc.FmtError(req.ID, jsonrpc.NewError(jsonrpc.MethodNotFound))
		metrics.RPCRequestsTotal.WithLabelValues(req.Method, "not_found").Inc()
		return v
	}

	var kvReq kvstore.Request
	if !req.Params.IsZero() {
		if err := req.Params.Decode(&kvReq); err != nil {
			v, _ := jsonrpc.FmtError(req.ID, jsonrpc.NewError(jsonrpc.InvalidParams))
			return v
		}
	}
	kvReq.Op = req.Method

	isQuery := req.Method == "get"
	done := make(chan clientResult, 1)
	d.clientCh <- clientCall{isQuery: isQuery, request: kvReq, done: done}

	var result clientResult
	select {
	case result = <-done:
	case <-time.After(proposalWait):
		result = clientResult{err: fmt.Errorf("proposal timed out")}
	}

	metrics.RPCRequestDuration.WithLabelValues(req.Method).Observe(timer.Duration().Seconds())
	outcome := "ok"
	if result.err != nil {
		outcome = "error"
	}
	if isQuery {
		metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	} else {
		metrics.ProposalsTotal.WithLabelValues(outcome).Inc()
	}

	if result.err != nil {
		metrics.RPCRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		v, _ := jsonrpc.FmtError(req.ID, jsonrpc.NewError(jsonrpc.InternalError).WithData(jsonvalue.MustFrom(result.err.Error())))
		return v
	}
	metrics.RPCRequestsTotal.WithLabelValues(req.Method, "ok").Inc()
	resultVal, _ := jsonvalue.From(result.resp)
	v, _ := jsonrpc.FmtSuccess(req.ID, resultVal)
	return v
}

// Close releases the journal, cache, transport, and RPC listener.
func (d *Daemon) Close() error {
	d.broker.Stop()
	d.peerNet.Close()
	d.rpcListener.Close()
	d.cache.Close()
	return d.journal.Close()
}
