package models

// Fingerprint is one landmark hash anchored at Offset seconds in its source.
// RecordingID is empty for query fingerprints.
type Fingerprint struct {
	Hash        uint32  `json:"hash"`
	Offset      float64 `json:"offset"`
	RecordingID string  `json:"recording_id,omitempty"`
}

// Couple is the stored value for a hash bucket entry.
type Couple struct {
	RecordingID string
	Offset      float64 // anchor time in seconds inside the reference recording
}

// Candidate is a per-recording vote summary produced by the matcher.
type Candidate struct {
	RecordingID string  `json:"recording_id"`
	Score       int     `json:"score"`
	TotalHits   int     `json:"total_hits"`
	Offset      float64 `json:"offset_seconds"`
}
