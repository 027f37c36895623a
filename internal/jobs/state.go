//go:generate stringer -type=State -linecomment

package jobs

import (
	"github.com/pkg/errors"
)

// State is where a job is in its lifecycle. A job starts Pending and moves
// exactly once to Succeeded or Failed.
type State int

const (
	Pending   State = iota // pending
	Succeeded              // succeeded
	Failed                 // failed
)

// Terminal reports if the job has finished.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Status is the text served by the status endpoint.
func (s State) Status() string {
	switch s {
	case Succeeded:
		return "SUCCESS"
	case Failed:
		return "FAILED"
	default:
		return "PENDING"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	state, err := ParseState(string(text))

	if err != nil {
		return err
	}

	*s = state
	return nil
}

// ParseState is the inverse of State.String.
func ParseState(value string) (State, error) {
	for _, state := range []State{Pending, Succeeded, Failed} {
		if state.String() == value {
			return state, nil
		}
	}

	return Pending, errors.Errorf("unknown job state %q", value)
}
