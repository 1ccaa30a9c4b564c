package session

import (
	"sync"
	"time"

	"github.com/himanishpuri/EarPrint/pkg/earprint/audio"
	"github.com/himanishpuri/EarPrint/pkg/models"
)

// Session is one user's rolling PCM buffer and its matching state. All
// fields are guarded by mu.
type Session struct {
	mu sync.Mutex

	userID     string
	state      State
	buf        []byte // mono s16le
	sampleRate int
	epoch      uint64 // bumped whenever buffered audio is discarded
	removed    bool   // detached from the registry

	inFlight     bool
	attempted    bool // an attempt ran since the buffer was last emptied
	sinceAttempt int  // bytes appended since the last attempt started

	attempts     int
	matches      int
	overflows    int
	lastResult   *models.MatchResult
	lastMatch    *models.MatchResult
	lastError    string
	lastMatchAt  time.Time
	lastNotified string
	notifiedAt   time.Time
	lastActivity time.Time
	createdAt    time.Time
}

// Snapshot is a read-only view of a session for introspection.
type Snapshot struct {
	UserID        string              `json:"uid"`
	State         string              `json:"state"`
	BufferBytes   int                 `json:"buffer_size_bytes"`
	BufferSeconds float64             `json:"buffer_duration_seconds"`
	SampleRate    int                 `json:"sample_rate"`
	Attempts      int                 `json:"attempts"`
	Matches       int                 `json:"matches"`
	Overflows     int                 `json:"overflows"`
	InFlight      bool                `json:"attempt_in_flight"`
	LastResult    *models.MatchResult `json:"last_result,omitempty"`
	LastMatch     *models.MatchResult `json:"last_recognition,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	LastMatchAt   *time.Time          `json:"last_match_at,omitempty"`
	LastActivity  time.Time           `json:"last_activity"`
	CreatedAt     time.Time           `json:"created_at"`
}

func newSession(userID string, now time.Time) *Session {
	return &Session{userID: userID, state: Empty, lastActivity: now, createdAt: now}
}

func (s *Session) duration() float64 {
	return audio.Duration(len(s.buf), s.sampleRate)
}

// setState applies e; invalid transitions leave the state as is.
func (s *Session) setState(e Event) error {
	next, err := Transition(s.state, e)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

// reset empties the buffer and invalidates in-flight attempts.
func (s *Session) reset() {
	s.buf = s.buf[:0]
	s.epoch++
	s.attempted = false
	s.sinceAttempt = 0
	s.state = Empty
}

// dropOldest removes n bytes from the front, compacting in place so the
// backing array does not grow without bound.
func (s *Session) dropOldest(n int) {
	if n <= 0 {
		return
	}
	if n >= len(s.buf) {
		s.buf = s.buf[:0]
		return
	}
	kept := copy(s.buf, s.buf[n:])
	s.buf = s.buf[:kept]
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		UserID:        s.userID,
		State:         s.state.String(),
		BufferBytes:   len(s.buf),
		BufferSeconds: s.duration(),
		SampleRate:    s.sampleRate,
		Attempts:      s.attempts,
		Matches:       s.matches,
		Overflows:     s.overflows,
		InFlight:      s.inFlight,
		LastError:     s.lastError,
		LastActivity:  s.lastActivity,
		CreatedAt:     s.createdAt,
	}
	if s.lastResult != nil {
		r := *s.lastResult
		snap.LastResult = &r
	}
	if s.lastMatch != nil {
		r := *s.lastMatch
		snap.LastMatch = &r
	}
	if !s.lastMatchAt.IsZero() {
		t := s.lastMatchAt
		snap.LastMatchAt = &t
	}
	return snap
}
