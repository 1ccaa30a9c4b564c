package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a per-user buffer.
type State int

const (
	Empty State = iota
	Accumulating
	Ready
	Matching
	Matched
	Unmatched
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Accumulating:
		return "accumulating"
	case Ready:
		return "ready"
	case Matching:
		return "matching"
	case Matched:
		return "matched"
	case Unmatched:
		return "unmatched"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event drives state transitions.
type Event int

const (
	ChunkAppended Event = iota
	ThresholdReached
	AttemptStarted
	MatchFound
	NoMatch
	AttemptFailed
	Cleared
	// Overflowed marks eviction of old audio; the state is unchanged.
	Overflowed
)

func (e Event) String() string {
	switch e {
	case ChunkAppended:
		return "chunk_appended"
	case ThresholdReached:
		return "threshold_reached"
	case AttemptStarted:
		return "attempt_started"
	case MatchFound:
		return "match_found"
	case NoMatch:
		return "no_match"
	case AttemptFailed:
		return "attempt_failed"
	case Cleared:
		return "cleared"
	case Overflowed:
		return "overflowed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

var ErrInvalidTransition = errors.New("invalid session state transition")

// Transition returns the state reached from s on e. Cleared is accepted from
// every state; anything not listed is an error and leaves s unchanged.
func Transition(s State, e Event) (State, error) {
	if e == Cleared {
		return Empty, nil
	}
	if e == Overflowed && (s == Accumulating || s == Ready || s == Matching) {
		return s, nil
	}
	switch s {
	case Empty:
		if e == ChunkAppended {
			return Accumulating, nil
		}
	case Accumulating:
		switch e {
		case ChunkAppended:
			return Accumulating, nil
		case ThresholdReached:
			return Ready, nil
		}
	case Ready:
		switch e {
		case ChunkAppended:
			return Ready, nil
		case AttemptStarted:
			return Matching, nil
		}
	case Matching:
		switch e {
		case ChunkAppended:
			return Matching, nil
		case MatchFound:
			return Matched, nil
		case NoMatch, AttemptFailed:
			return Unmatched, nil
		}
	case Unmatched:
		if e == ChunkAppended {
			return Accumulating, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, e)
}
