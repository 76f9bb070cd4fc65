package node

import (
	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/conv"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

// HandleMessage attempts to parse raw as (a) a Raft message, feeding it to
// RaftCore; (b) a redirected Command envelope; (c) a QueryMessage.
// Returns false iff none matched. On success the node is initialised if
// it was not already, matching passive initialisation by a peer that
// already considers this node a member.
func (n *Node) HandleMessage(raw jsonvalue.Value) (bool, error) {
	if msg, err := conv.JSONToMessage(raw); err == nil {
		n.handleRaftMessage(raw, msg)
		return true, nil
	}
	if ok, err := n.handleRedirectedCommand(raw); ok || err != nil {
		return ok, err
	}
	if ok, err := n.handleQueryMessage(raw); ok || err != nil {
		return ok, err
	}
	return false, nil
}

func (n *Node) handleRaftMessage(raw jsonvalue.Value, msg raftcore.Message) {
	n.ensureInitialized()

	n.core.HandleMessage(msg)

	// Payload memoisation: store command values carried alongside an
	// AppendEntriesCall iff the corresponding position survived
	// log-matching (i.e. the entry now actually present at that index is
	// the Command entry the value was paired with).
	if values, err := conv.GetCommandValues(raw, msg); err == nil {
		for _, cv := range values {
			ewp, ok := n.core.GetEntryAndPosition(cv.Position.Index)
			if ok && ewp.Entry.Kind == raftcore.EntryCommand && ewp.Position.Term == cv.Position.Term {
				n.recentCommands[cv.Position.Index] = cv.Value
			}
		}
	}
}
