package models

import "time"

// MatchStatus is the outcome class of an identification attempt.
type MatchStatus string

const (
	StatusMatched   MatchStatus = "matched"
	StatusNoMatch   MatchStatus = "no_match"
	StatusAmbiguous MatchStatus = "ambiguous"
)

// MatchResult represents the outcome of scoring a query against the index.
type MatchResult struct {
	Status        MatchStatus `json:"status"`
	RecordingID   string      `json:"recording_id,omitempty"`
	Title         string      `json:"title,omitempty"`
	Artist        string      `json:"artist,omitempty"`
	Album         string      `json:"album,omitempty"`
	Score         int         `json:"score"`          // size of the winning offset bucket
	TotalHits     int         `json:"total_hits"`     // all hash hits for the winning recording
	Offset        float64     `json:"offset_seconds"` // position of the query start inside the recording
	QueryHashes   int         `json:"query_hashes"`
	Confidence    float64     `json:"confidence"` // 0..1
	CandidatesTie []string    `json:"tied_recordings,omitempty"`
}

// Matched reports whether the result identifies a single recording.
func (r MatchResult) Matched() bool {
	return r.Status == StatusMatched
}

// Recording represents a registered reference recording.
type Recording struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Album       string    `json:"album,omitempty"`
	DurationSec float64   `json:"duration_seconds"`
	CreatedAt   time.Time `json:"created_at"`
}
