package lifecycle

import (
	"fmt"
	"time"
)

// State is a step of the lifecycle state machine.
type State string

const (
	Idle              State = "Idle"
	PreflightChecking State = "PreflightChecking"
	Snapshotting      State = "Snapshotting"
	Mutating          State = "Mutating"
	Verifying         State = "Verifying"
	Committed         State = "Committed"
	RollingBack       State = "RollingBack"
	Succeeded         State = "Succeeded"
	RolledBack        State = "RolledBack"
	FailedNoRollback  State = "FailedNoRollback"
)

var transitions = map[State][]State{
	Idle:              {PreflightChecking, FailedNoRollback},
	PreflightChecking: {Snapshotting, RollingBack, FailedNoRollback},
	Snapshotting:      {Mutating, FailedNoRollback},
	Mutating:          {Verifying, RollingBack},
	Verifying:         {Committed, RollingBack},
	Committed:         {Succeeded},
	RollingBack:       {RolledBack, FailedNoRollback},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Succeeded || s == RolledBack || s == FailedNoRollback
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition records entry into a state.
type Transition struct {
	State State     `json:"state" yaml:"state"`
	At    time.Time `json:"at" yaml:"at"`
}

// machine tracks the current state and validates each move.
type machine struct {
	current State
	history []Transition
	now     func() time.Time
}

func newMachine(now func() time.Time) *machine {
	return &machine{current: Idle, now: now, history: []Transition{{State: Idle, At: now()}}}
}

func (m *machine) advance(to State) error {
	if !canTransition(m.current, to) {
		return fmt.Errorf("illegal transition %s -> %s", m.current, to)
	}
	m.current = to
	m.history = append(m.history, Transition{State: to, At: m.now()})
	return nil
}
