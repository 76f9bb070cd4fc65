package raftcore

// Core is the black-box consensus primitive: vote counting, log matching,
// and commit-index advancement per the Raft paper. It holds no I/O handles
// and performs no blocking calls; every observable state change is
// reflected in the Action stream returned by DrainActions.
type Core struct {
	id NodeID

	// generation is this node's own incarnation counter, stamped onto
	// every AppendEntriesReply so the leader can discard a reply that
	// arrives after the sender has since restarted into a newer
	// incarnation. Owned by the wrapping node package; Core only carries
	// and echoes it.
	generation uint64

	currentTerm Term
	votedFor    *NodeID
	role        Role

	// log holds entries starting at index logBase+1; logBase is the index
	// of the last entry folded into a snapshot (or 0 if none), and
	// baseTerm is the term recorded for that boundary index.
	log     []LogEntry
	logBase LogIndex
	baseTerm Term

	config ClusterConfig

	commitIndex LogIndex

	votesReceived map[NodeID]bool
	nextIndex     map[NodeID]LogIndex
	matchIndex    map[NodeID]LogIndex

	// peerGeneration is the highest AppendEntriesReply generation seen so
	// far from each peer, used to discard a reply that arrives out of
	// order from a peer incarnation older than one already heard from.
	peerGeneration map[NodeID]uint64

	leaderID *NodeID

	actions []Action
}

// New creates an uninitialised Core for the given node id.
func New(id NodeID) *Core {
	return &Core{id: id}
}

// ID returns the node's own identifier.
func (c *Core) ID() NodeID { return c.id }

// SetGeneration records this node's current incarnation counter, to be
// echoed on every AppendEntriesReply this Core sends from now on.
func (c *Core) SetGeneration(generation uint64) { c.generation = generation }

// CurrentTerm returns the current election term.
func (c *Core) CurrentTerm() Term { return c.currentTerm }

// VotedFor returns the candidate voted for in the current term, if any.
func (c *Core) VotedFor() *NodeID { return c.votedFor }

// RoleValue returns the current role.
func (c *Core) RoleValue() Role { return c.role }

// CommitIndex returns the highest known committed index.
func (c *Core) CommitIndex() LogIndex { return c.commitIndex }

// Config returns the current (possibly joint) cluster configuration.
func (c *Core) Config() ClusterConfig { return c.config }

// LastLogIndex returns the index of the last entry in the log.
func (c *Core) LastLogIndex() LogIndex {
	return c.logBase + LogIndex(len(c.log))
}

// LastLogPosition returns the position of the last entry in the log.
func (c *Core) LastLogPosition() LogPosition {
	idx := c.LastLogIndex()
	if idx == c.logBase {
		return LogPosition{Term: c.entryTermAt(c.logBase), Index: idx}
	}
	return LogPosition{Term: c.log[idx-c.logBase-1].Term, Index: idx}
}

// entryTermAt returns the term recorded for a boundary index (the base of
// the retained log, which may itself be a snapshot position).
func (c *Core) entryTermAt(idx LogIndex) Term {
	if idx == 0 {
		return 0
	}
	if idx == c.logBase {
		return c.baseTerm
	}
	if idx > c.logBase && int(idx-c.logBase) <= len(c.log) {
		return c.log[idx-c.logBase-1].Term
	}
	return 0
}

// setBase records the snapshot boundary index and its term.
func (c *Core) setBase(idx LogIndex, term Term) {
	c.logBase = idx
	c.baseTerm = term
}

// GetEntryAndPosition returns the log entry at idx, if retained.
func (c *Core) GetEntryAndPosition(idx LogIndex) (EntryWithPosition, bool) {
	if idx <= c.logBase || idx > c.LastLogIndex() {
		return EntryWithPosition{}, false
	}
	e := c.log[idx-c.logBase-1]
	return EntryWithPosition{Position: LogPosition{Term: e.Term, Index: idx}, Entry: e}, true
}

// GetPositionAndConfig reports the position of idx together with the
// current cluster config (not the config that was in force at idx).
// Used by the host when servicing a lagging peer with a snapshot.
func (c *Core) GetPositionAndConfig(idx LogIndex) (LogPosition, ClusterConfig, bool) {
	if idx > c.LastLogIndex() {
		return LogPosition{}, ClusterConfig{}, false
	}
	return LogPosition{Term: c.entryTermAt(idx), Index: idx}, c.config, true
}

func (c *Core) quorumOK(yes map[NodeID]bool) bool {
	has := func(voters []NodeID) bool {
		if len(voters) == 0 {
			return true
		}
		count := 0
		for _, v := range voters {
			if yes[v] {
				count++
			}
		}
		return count*2 > len(voters)
	}
	if c.config.IsJoint() {
		return has(c.config.Voters) && has(c.config.NewVoters)
	}
	return has(c.config.Voters)
}

func (c *Core) becomeFollower(term Term) {
	if term > c.currentTerm {
		c.currentTerm = term
		c.votedFor = nil
		c.pushAction(Action{Kind: ActionSaveCurrentTerm, Term: term})
		c.pushAction(Action{Kind: ActionSaveVotedFor, VotedFor: nil})
	}
	if c.role != Follower {
		c.role = Follower
		c.leaderID = nil
		c.pushAction(Action{Kind: ActionSetElectionTimeout, Role: Follower})
	}
}

// CreateCluster transitions an uninitialised Core into a single-term,
// leaderless follower with an initial ClusterConfig entry naming members
// as voters. The caller must ensure members contains the local id.
func (c *Core) CreateCluster(members []NodeID) {
	c.config = ClusterConfig{Voters: append([]NodeID(nil), members...)}
	entry := LogEntry{Kind: EntryClusterConfig, Term: c.currentTerm, Config: c.config}
	c.appendLocal(entry)
	c.role = Follower
	c.pushAction(Action{Kind: ActionSetElectionTimeout, Role: Follower})
}

func (c *Core) appendLocal(entries ...LogEntry) LogPosition {
	start := c.LastLogIndex() + 1
	c.log = append(c.log, entries...)
	var withPos []EntryWithPosition
	idx := start
	for _, e := range entries {
		withPos = append(withPos, EntryWithPosition{Position: LogPosition{Term: e.Term, Index: idx}, Entry: e})
		idx++
	}
	c.pushAction(Action{Kind: ActionAppendLogEntries, PrevPosition: LogPosition{Term: c.entryTermAt(start - 1), Index: start - 1}, Entries: withPos})
	if c.role == Leader {
		// The leader always matches its own log, so a quorum that the
		// leader alone satisfies (the common single-voter case, or a
		// quorum already reached among followers before this entry was
		// appended) can commit without waiting for a fresh
		// AppendEntriesReply.
		c.matchIndex[c.id] = c.LastLogIndex()
		c.advanceCommitIndex()
	}
	return LogPosition{Term: c.log[len(c.log)-1].Term, Index: c.LastLogIndex()}
}

// HandleElectionTimeout starts a new election for followers/candidates, or
// issues a heartbeat round for leaders.
func (c *Core) HandleElectionTimeout() {
	if c.role == Leader {
		c.Heartbeat()
		return
	}
	c.currentTerm++
	c.role = Candidate
	self := c.id
	c.votedFor = &self
	c.votesReceived = map[NodeID]bool{c.id: true}
	c.leaderID = nil
	c.pushAction(Action{Kind: ActionSaveCurrentTerm, Term: c.currentTerm})
	c.pushAction(Action{Kind: ActionSaveVotedFor, VotedFor: &self})
	c.pushAction(Action{Kind: ActionSetElectionTimeout, Role: Candidate})

	last := c.LastLogPosition()
	msg := Message{
		Type:         MessageHeader{From: c.id, Term: c.currentTerm},
		Kind:         MsgRequestVoteCall,
		LastPosition: last,
	}
	c.pushAction(Action{Kind: ActionBroadcastMessage, Message: msg})

	if c.quorumOK(c.votesReceived) {
		c.becomeLeader()
	}
}

func (c *Core) becomeLeader() {
	c.role = Leader
	self := c.id
	c.leaderID = &self
	c.nextIndex = map[NodeID]LogIndex{}
	c.matchIndex = map[NodeID]LogIndex{}
	for _, v := range append(append([]NodeID(nil), c.config.Voters...), c.config.NewVoters...) {
		c.nextIndex[v] = c.LastLogIndex() + 1
		c.matchIndex[v] = 0
	}
	// Leader marker entry so followers learn of the changeover explicitly.
	c.appendLocal(LogEntry{Kind: EntryTerm, Term: c.currentTerm})
	c.pushAction(Action{Kind: ActionSetElectionTimeout, Role: Leader})
	c.Heartbeat()
}

// Heartbeat forces an immediate AppendEntries broadcast.
func (c *Core) Heartbeat() {
	if c.role != Leader {
		return
	}
	for _, peer := range c.peers() {
		c.sendAppendEntriesTo(peer)
	}
}

func (c *Core) peers() []NodeID {
	seen := map[NodeID]bool{}
	var out []NodeID
	for _, v := range append(append([]NodeID(nil), c.config.Voters...), c.config.NewVoters...) {
		if v == c.id || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (c *Core) sendAppendEntriesTo(peer NodeID) {
	next, ok := c.nextIndex[peer]
	if !ok {
		next = c.LastLogIndex() + 1
		c.nextIndex[peer] = next
	}
	if next <= c.logBase {
		c.pushAction(Action{Kind: ActionInstallSnapshot, Dest: peer})
		return
	}
	prevIdx := next - 1
	var entries []EntryWithPosition
	for idx := next; idx <= c.LastLogIndex(); idx++ {
		ewp, ok := c.GetEntryAndPosition(idx)
		if !ok {
			break
		}
		entries = append(entries, ewp)
	}
	msg := Message{
		Type:         MessageHeader{From: c.id, Term: c.currentTerm},
		Kind:         MsgAppendEntriesCall,
		CommitIndex:  c.commitIndex,
		PrevPosition: LogPosition{Term: c.entryTermAt(prevIdx), Index: prevIdx},
		Entries:      entries,
	}
	c.pushAction(Action{Kind: ActionSendMessage, Dest: peer, Message: msg})
}

// HandleMessage applies a received Raft message, updating term, role, log,
// and commit index per the paper.
func (c *Core) HandleMessage(msg Message) {
	if msg.Type.Term > c.currentTerm {
		c.becomeFollower(msg.Type.Term)
	}
	if msg.Type.Term < c.currentTerm {
		return // stale message, ignore
	}
	switch msg.Kind {
	case MsgRequestVoteCall:
		c.handleRequestVoteCall(msg)
	case MsgRequestVoteReply:
		c.handleRequestVoteReply(msg)
	case MsgAppendEntriesCall:
		c.handleAppendEntriesCall(msg)
	case MsgAppendEntriesReply:
		c.handleAppendEntriesReply(msg)
	}
}

func (c *Core) handleRequestVoteCall(msg Message) {
	grant := false
	last := c.LastLogPosition()
	upToDate := msg.LastPosition.Term > last.Term ||
		(msg.LastPosition.Term == last.Term && msg.LastPosition.Index >= last.Index)
	if upToDate && (c.votedFor == nil || *c.votedFor == msg.Type.From) {
		grant = true
		from := msg.Type.From
		c.votedFor = &from
		c.pushAction(Action{Kind: ActionSaveVotedFor, VotedFor: &from})
		c.pushAction(Action{Kind: ActionSetElectionTimeout, Role: c.role})
	}
	reply := Message{
		Type:        MessageHeader{From: c.id, Term: c.currentTerm},
		Kind:        MsgRequestVoteReply,
		VoteGranted: grant,
	}
	c.pushAction(Action{Kind: ActionSendMessage, Dest: msg.Type.From, Message: reply})
}

func (c *Core) handleRequestVoteReply(msg Message) {
	if c.role != Candidate || msg.Type.Term != c.currentTerm || !msg.VoteGranted {
		return
	}
	if c.votesReceived == nil {
		c.votesReceived = map[NodeID]bool{}
	}
	c.votesReceived[msg.Type.From] = true
	if c.quorumOK(c.votesReceived) {
		c.becomeLeader()
	}
}

func (c *Core) handleAppendEntriesCall(msg Message) {
	if c.role == Candidate {
		c.becomeFollower(c.currentTerm)
	}
	from := msg.Type.From
	c.leaderID = &from
	// Contact from the live leader of the current term re-arms the
	// election timer whether or not the log-matching check below passes.
	c.pushAction(Action{Kind: ActionSetElectionTimeout, Role: c.role})

	prevOK := msg.PrevPosition.Index <= c.logBase ||
		(msg.PrevPosition.Index <= c.LastLogIndex() && c.entryTermAt(msg.PrevPosition.Index) == msg.PrevPosition.Term)
	if !prevOK {
		reply := Message{
			Type:         MessageHeader{From: c.id, Term: c.currentTerm},
			Kind:         MsgAppendEntriesReply,
			Generation:   c.generation,
			LastPosition: c.LastLogPosition(),
		}
		c.pushAction(Action{Kind: ActionSendMessage, Dest: msg.Type.From, Message: reply})
		return
	}

	// Truncate conflicting suffix, then append new entries.
	for _, ewp := range msg.Entries {
		if ewp.Position.Index <= c.LastLogIndex() {
			if c.entryTermAt(ewp.Position.Index) != ewp.Position.Term {
				c.truncateFrom(ewp.Position.Index)
				c.log = append(c.log, ewp.Entry)
			}
		} else {
			c.log = append(c.log, ewp.Entry)
		}
	}
	if len(msg.Entries) > 0 {
		c.pushAction(Action{Kind: ActionAppendLogEntries, PrevPosition: msg.PrevPosition, Entries: append([]EntryWithPosition(nil), msg.Entries...)})
	}

	if msg.CommitIndex > c.commitIndex {
		newCommit := msg.CommitIndex
		if newCommit > c.LastLogIndex() {
			newCommit = c.LastLogIndex()
		}
		c.commitIndex = newCommit
	}

	reply := Message{
		Type:         MessageHeader{From: c.id, Term: c.currentTerm},
		Kind:         MsgAppendEntriesReply,
		Generation:   c.generation,
		LastPosition: c.LastLogPosition(),
	}
	c.pushAction(Action{Kind: ActionSendMessage, Dest: msg.Type.From, Message: reply})
}

func (c *Core) truncateFrom(idx LogIndex) {
	if idx <= c.logBase {
		c.log = nil
		return
	}
	c.log = c.log[:idx-c.logBase-1]
}

func (c *Core) handleAppendEntriesReply(msg Message) {
	if c.role != Leader {
		return
	}
	peer := msg.Type.From
	if msg.Generation < c.peerGeneration[peer] {
		return // stale: a newer incarnation of peer has already replied
	}
	if c.peerGeneration == nil {
		c.peerGeneration = map[NodeID]uint64{}
	}
	c.peerGeneration[peer] = msg.Generation
	if msg.LastPosition.Index+1 >= c.nextIndex[peer] && c.entryTermAt(msg.LastPosition.Index) == msg.LastPosition.Term {
		c.matchIndex[peer] = msg.LastPosition.Index
		c.nextIndex[peer] = msg.LastPosition.Index + 1
		c.advanceCommitIndex()
	} else {
		if c.nextIndex[peer] > 1 {
			c.nextIndex[peer]--
		}
		c.sendAppendEntriesTo(peer)
	}
}

func (c *Core) advanceCommitIndex() {
	for idx := c.LastLogIndex(); idx > c.commitIndex; idx-- {
		if c.entryTermAt(idx) != c.currentTerm {
			continue // only commit entries from the current term directly (Raft §5.4.2)
		}
		agree := map[NodeID]bool{c.id: true}
		for peer, m := range c.matchIndex {
			if m >= idx {
				agree[peer] = true
			}
		}
		if c.quorumOK(agree) {
			c.commitIndex = idx
			break
		}
	}
}

// ProposeCommand appends a Command tag to the local log. May only be
// called on a leader; the caller is responsible for storing the payload
// in RecentCommands keyed by the returned position's index.
func (c *Core) ProposeCommand() LogPosition {
	return c.appendLocal(LogEntry{Kind: EntryCommand, Term: c.currentTerm})
}

// ProposeConfig appends a ClusterConfig entry for joint consensus.
// Leader-only.
func (c *Core) ProposeConfig(new ClusterConfig) LogPosition {
	c.config = new
	return c.appendLocal(LogEntry{Kind: EntryClusterConfig, Term: c.currentTerm, Config: new})
}

// HandleSnapshotInstalled reports that the log up to position has been
// replaced by a snapshot; truncates the in-memory log prefix.
func (c *Core) HandleSnapshotInstalled(position LogPosition, config ClusterConfig) {
	if position.Index > c.LastLogIndex() {
		c.log = nil
	} else if position.Index > c.logBase {
		c.log = c.log[position.Index-c.logBase:]
	}
	c.setBase(position.Index, position.Term)
	c.config = config
	if position.Index > c.commitIndex {
		c.commitIndex = position.Index
	}
}

// GetCommitStatus reports the commit status of a specific log position.
func (c *Core) GetCommitStatus(position LogPosition) CommitStatus {
	if position.Index <= c.logBase {
		return Unknown
	}
	if position.Index > c.LastLogIndex() {
		return InProgress
	}
	actualTerm := c.entryTermAt(position.Index)
	if actualTerm != position.Term {
		return Rejected
	}
	if position.Index <= c.commitIndex {
		return Committed
	}
	return InProgress
}

// LeaderID returns the node believed to be leader in the current term, if
// known.
func (c *Core) LeaderID() *NodeID {
	return c.leaderID
}

// Initialize seeds state read back from the journal during Node.load,
// bypassing the action stream (no actions are re-emitted for replayed
// state).
func (c *Core) Initialize(term Term, votedFor *NodeID, log []LogEntry, logBase LogIndex, baseTerm Term, config ClusterConfig, commitIndex LogIndex) {
	c.currentTerm = term
	c.votedFor = votedFor
	c.log = log
	c.setBase(logBase, baseTerm)
	c.config = config
	c.commitIndex = commitIndex
	c.role = Follower
}

