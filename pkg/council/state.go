package council

import "go.uber.org/zap"

// State bundles the mutation-safe stores the council owns: per-run hive
// memory, the fixed-capacity vote ring, and the size-capped blackboard.
// No other component mutates these directly; all interaction goes through
// the documented operations, which keeps lock scope bounded to single
// method calls.
type State struct {
	Memory *HiveMemory
	Votes  *VoteRing
	Board  *Blackboard
}

// NewState constructs council state with the given ring capacity and
// default blackboard limits. Pass 0 for the default ring capacity.
func NewState(ringCapacity int, logger *zap.Logger) *State {
	return &State{
		Memory: NewHiveMemory(),
		Votes:  NewVoteRing(ringCapacity),
		Board:  NewBlackboard(0, 0, logger),
	}
}
