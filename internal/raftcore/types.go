// Package raftcore implements the black-box consensus primitive described
// as RaftCore: vote/log/commit mechanics from the Raft paper, exposed as a
// pure, non-blocking value type. It performs no I/O and spawns no
// goroutines; all communication with the outside world happens through the
// Action stream drained by the caller.
package raftcore

// NodeID is an opaque identifier for a cluster member.
type NodeID uint64

// Term is a monotone election term counter.
type Term uint64

// LogIndex is a monotone, 1-based position in the replicated log.
type LogIndex uint64

// LogPosition pairs a term with a log index.
type LogPosition struct {
	Term  Term
	Index LogIndex
}

// ZeroPosition is the sentinel position prior to any entry.
var ZeroPosition = LogPosition{}

// Role is the node's current Raft role.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// EntryKind tags the kind of a LogEntry.
type EntryKind int

const (
	EntryTerm EntryKind = iota
	EntryClusterConfig
	EntryCommand
)

// ClusterConfig carries the joint-consensus capable voter sets.
type ClusterConfig struct {
	Voters    []NodeID
	NewVoters []NodeID
}

// IsJoint reports whether the configuration is mid joint-consensus.
func (c ClusterConfig) IsJoint() bool {
	return len(c.NewVoters) > 0
}

func (c ClusterConfig) hasVoter(id NodeID) bool {
	for _, v := range c.Voters {
		if v == id {
			return true
		}
	}
	for _, v := range c.NewVoters {
		if v == id {
			return true
		}
	}
	return false
}

// LogEntry is one of Term, ClusterConfig, or Command. For Command entries
// the payload itself is not stored here; only the tag is, matching the
// spec's RecentCommands side-table design.
type LogEntry struct {
	Kind   EntryKind
	Term   Term
	Config ClusterConfig
}

// CommitStatus is the result of a get_commit_status query.
type CommitStatus int

const (
	InProgress CommitStatus = iota
	Committed
	Rejected
	Unknown
)

// MessageType tags a Raft wire message.
type MessageType int

const (
	MsgRequestVoteCall MessageType = iota
	MsgRequestVoteReply
	MsgAppendEntriesCall
	MsgAppendEntriesReply
)

// MessageHeader carries the fields common to every Raft message.
type MessageHeader struct {
	From NodeID
	Term Term
}

// EntryWithPosition pairs a LogEntry with the position it occupies.
type EntryWithPosition struct {
	Position LogPosition
	Entry    LogEntry
}

// Message is a tagged union of the four Raft wire message variants.
type Message struct {
	Type MessageHeader
	Kind MessageType

	// RequestVoteCall / AppendEntriesReply
	LastPosition LogPosition

	// RequestVoteReply
	VoteGranted bool

	// AppendEntriesCall
	CommitIndex  LogIndex
	PrevPosition LogPosition
	Entries      []EntryWithPosition

	// AppendEntriesReply
	Generation uint64
}
