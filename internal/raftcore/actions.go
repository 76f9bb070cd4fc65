package raftcore

// ActionKind tags a member of the low-level action stream.
type ActionKind int

const (
	ActionSetElectionTimeout ActionKind = iota
	ActionSaveCurrentTerm
	ActionSaveVotedFor
	ActionBroadcastMessage
	ActionAppendLogEntries
	ActionSendMessage
	ActionInstallSnapshot
)

// Action is one element of the action stream RaftCore emits after any call
// that may have changed state. Fields are populated according to Kind.
type Action struct {
	Kind ActionKind

	Role Role // ActionSetElectionTimeout

	Term Term // ActionSaveCurrentTerm

	VotedFor *NodeID // ActionSaveVotedFor

	Message Message // ActionBroadcastMessage, ActionSendMessage

	PrevPosition LogPosition         // ActionAppendLogEntries
	Entries      []EntryWithPosition // ActionAppendLogEntries

	Dest NodeID // ActionSendMessage, ActionInstallSnapshot
}

func (c *Core) pushAction(a Action) {
	c.actions = append(c.actions, a)
}

// DrainActions returns and clears the pending low-level action stream, in
// emission order.
func (c *Core) DrainActions() []Action {
	out := c.actions
	c.actions = nil
	return out
}
