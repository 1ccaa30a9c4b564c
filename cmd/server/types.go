package main

import (
	"fmt"
	"math"

	"github.com/himanishpuri/EarPrint/pkg/earprint/fingerprint"
	"github.com/himanishpuri/EarPrint/pkg/models"
)

// Hash limit constants for validation
const (
	// MaxHashesSoftLimit is the recommended maximum for most queries (~20-30 seconds of audio)
	MaxHashesSoftLimit = 10000

	// MaxHashesHardLimit is the absolute maximum allowed (~2 minutes of audio)
	MaxHashesHardLimit = 50000

	// HashWarningThreshold triggers logging for large hash batches
	HashWarningThreshold = 5000
)

// HashDTO is one fingerprint computed on the client.
type HashDTO struct {
	Hash   uint32  `json:"hash"`
	Offset float64 `json:"offset"` // anchor time in seconds
}

// MatchHashesRequest is the request body for POST /api/match/hashes
type MatchHashesRequest struct {
	Hashes []HashDTO `json:"hashes"`
}

// Validate checks if the request is valid
func (r *MatchHashesRequest) Validate() error {
	if len(r.Hashes) == 0 {
		return fmt.Errorf("hashes cannot be empty")
	}
	if len(r.Hashes) > MaxHashesHardLimit {
		return fmt.Errorf("too many hashes: %d (maximum: %d)", len(r.Hashes), MaxHashesHardLimit)
	}
	for i, h := range r.Hashes {
		if !isValidHash(h.Hash) {
			return fmt.Errorf("invalid hash format at %d: %d", i, h.Hash)
		}
		if h.Offset < 0 || math.IsNaN(h.Offset) || math.IsInf(h.Offset, 0) {
			return fmt.Errorf("invalid offset at %d: %v", i, h.Offset)
		}
	}
	return nil
}

// ToFingerprints converts the request into query fingerprints.
func (r *MatchHashesRequest) ToFingerprints() []models.Fingerprint {
	fps := make([]models.Fingerprint, len(r.Hashes))
	for i, h := range r.Hashes {
		fps[i] = models.Fingerprint{Hash: h.Hash, Offset: h.Offset}
	}
	return fps
}

// isValidHash performs lightweight validation of hash structure
// Hash format: [anchorFreq (9 bits) | targetFreq (9 bits) | deltaTime (14 bits)]
func isValidHash(hash uint32) bool {
	_, _, deltaMs := fingerprint.UnpackHash(hash)
	// pairs closer than MinDelta are never hashed
	return deltaMs > 0
}

// MatchResultDTO represents a single match result
type MatchResultDTO struct {
	RecordingID   string  `json:"recording_id"`
	Title         string  `json:"title"`
	Artist        string  `json:"artist"`
	Album         string  `json:"album,omitempty"`
	Score         int     `json:"score"`
	TotalHits     int     `json:"total_hits"`
	OffsetSeconds float64 `json:"offset_seconds"`
	Confidence    float64 `json:"confidence"`
}

// MatchResponse is the response for POST /api/match and /api/match/hashes.
// Result is the decision; Matches lists the ranked candidates behind it.
type MatchResponse struct {
	Result  models.MatchResult `json:"result"`
	Matches []MatchResultDTO   `json:"matches"`
	Count   int                `json:"count"`
}

// RegisterResponse is the response for successful registration
type RegisterResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	ID           string `json:"song_id"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	Album        string `json:"album,omitempty"`
	Fingerprints int    `json:"fingerprints"`
}

// SongDTO represents a song in API responses
type SongDTO struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func toSongDTO(rec models.Recording) SongDTO {
	return SongDTO{
		ID:              rec.ID,
		Title:           rec.Title,
		Artist:          rec.Artist,
		Album:           rec.Album,
		DurationSeconds: rec.DurationSec,
	}
}

// ListSongsResponse is the response for GET /songs and /api/songs
type ListSongsResponse struct {
	Status string    `json:"status"`
	Songs  []SongDTO `json:"songs"`
	Count  int       `json:"count"`
}

// DeleteSongResponse is the response for DELETE /api/songs/{id}
type DeleteSongResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// AudioResponse acknowledges a streamed chunk.
type AudioResponse struct {
	Status        string              `json:"status"`
	ReceivedBytes int                 `json:"received_bytes"`
	UID           string              `json:"uid"`
	State         string              `json:"state"`
	BufferSeconds float64             `json:"buffer_seconds"`
	Attempted     bool                `json:"attempted"`
	Result        *models.MatchResult `json:"result,omitempty"`
}

// StatusResponse is a plain acknowledgement.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	ActiveUsers int    `json:"active_users"`
	Time        string `json:"time"`
}

// MetricsResponse provides server health and database metrics
type MetricsResponse struct {
	Status           string `json:"status"`
	DatabasePath     string `json:"database_path"`
	SongCount        int64  `json:"song_count"`
	FingerprintCount int64  `json:"fingerprint_count"`
	ActiveSessions   int    `json:"active_sessions"`
	SampleRate       int    `json:"sample_rate"`
	Uptime           string `json:"uptime"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
