package earprint

import (
	"context"

	"github.com/himanishpuri/EarPrint/pkg/models"
)

type Service interface {
	Identifier

	Register(ctx context.Context, rec models.Recording, samples []float64, sampleRate int) (models.Recording, error)
	RegisterFile(ctx context.Context, path string, rec models.Recording) (models.Recording, error)
	IdentifyFile(ctx context.Context, path string) (models.MatchResult, []models.Candidate, error)
	IdentifyFingerprints(ctx context.Context, fps []models.Fingerprint) (models.MatchResult, []models.Candidate, error)
	GetRecording(ctx context.Context, id string) (*models.Recording, error)
	GetRecordings(ctx context.Context, ids []string) (map[string]models.Recording, error)
	ListRecordings(ctx context.Context) ([]models.Recording, error)
	DeleteRecording(ctx context.Context, id string) error
	FingerprintCount(ctx context.Context, id string) (int, error)
	Stats(ctx context.Context) (IndexStats, error)
	SampleRate() int
	Close() error
}

// Identifier scores a mono waveform against the registered recordings.
type Identifier interface {
	Identify(ctx context.Context, samples []float64, sampleRate int) (models.MatchResult, error)
}

// Notifier delivers a recognition to a user. Implementations may block; the
// caller bounds them with ctx.
type Notifier interface {
	Notify(ctx context.Context, userID string, result models.MatchResult) error
}

type Storage interface {
	RegisterRecording(ctx context.Context, rec models.Recording, fps []models.Fingerprint) error
	LookupHashes(ctx context.Context, hashes []uint32) (map[uint32][]models.Couple, error)
	DeleteRecording(ctx context.Context, id string) error
	GetRecording(ctx context.Context, id string) (*models.Recording, error)
	GetRecordings(ctx context.Context, ids []string) (map[string]models.Recording, error)
	ListRecordings(ctx context.Context) ([]models.Recording, error)
	FingerprintCount(ctx context.Context, id string) (int, error)
	Counts(ctx context.Context) (recordings, fingerprints int64, err error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// IndexStats summarises the reference index.
type IndexStats struct {
	Recordings   int64 `json:"recordings"`
	Fingerprints int64 `json:"fingerprints"`
}
