package session

import (
	"github.com/osinstall/osinstall/internal/common"
)

// State is the lifecycle phase of a session. The wire shows the name, not
// the number.
type State int

const (
	StateIdle State = iota
	StateConfiguring
	StateExecuting
	StateCompleted
	StateFailed
	StateAborted
)

func getStateMapping() map[string]int {
	return map[string]int{
		"Idle":        int(StateIdle),
		"Configuring": int(StateConfiguring),
		"Executing":   int(StateExecuting),
		"Completed":   int(StateCompleted),
		"Failed":      int(StateFailed),
		"Aborted":     int(StateAborted),
	}
}

func (s State) String() string {
	str, ok := common.EnumToString(getStateMapping(), int(s))
	if !ok {
		panic("invalid state value")
	}
	return str
}

func (s State) MarshalJSON() ([]byte, error) {
	return common.MarshalEnum(int(s), getStateMapping(), "is not a valid state value")
}

func (s *State) UnmarshalJSON(data []byte) error {
	value, err := common.UnmarshalEnum(data, " is not a valid state string", " is not a valid state", getStateMapping())
	if err != nil {
		return err
	}
	*s = State(value)
	return nil
}

// Terminal reports whether the session accepts anything beyond
// introspection commands.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

// validNextStates is the full transition relation. Everything else is a
// programming error, not a command the wire could produce.
var validNextStates = map[State][]State{
	StateIdle:        {StateConfiguring, StateAborted},
	StateConfiguring: {StateExecuting, StateAborted},
	StateExecuting:   {StateCompleted, StateFailed, StateAborted},
	StateFailed:      {StateExecuting},
}

func transitionValid(from, to State) bool {
	for _, next := range validNextStates[from] {
		if next == to {
			return true
		}
	}
	return false
}
