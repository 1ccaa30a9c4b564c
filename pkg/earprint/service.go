package earprint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/himanishpuri/EarPrint/pkg/earprint/audio"
	"github.com/himanishpuri/EarPrint/pkg/earprint/fingerprint"
	"github.com/himanishpuri/EarPrint/pkg/earprint/matcher"
	"github.com/himanishpuri/EarPrint/pkg/logger"
	"github.com/himanishpuri/EarPrint/pkg/models"
	"github.com/himanishpuri/EarPrint/pkg/utils"
)

// earprintService is the default implementation of the Service interface.
type earprintService struct {
	storage Storage
	gen     *fingerprint.Generator
	matcher *matcher.Matcher
	log     Logger
	config  *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	gen, err := fingerprint.NewGenerator(cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint generator: %w", err)
	}

	var stor Storage
	if cfg.Storage != nil {
		stor = cfg.Storage
	} else {
		stor, err = NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	return &earprintService{
		storage: stor,
		gen:     gen,
		matcher: matcher.New(stor, cfg.Matcher),
		log:     cfg.Logger,
		config:  cfg,
	}, nil
}

func (s *earprintService) SampleRate() int {
	return s.config.Fingerprint.SampleRate
}

// Register fingerprints samples and stores them under rec.ID, replacing any
// previous registration with the same id. An empty id gets a random one.
func (s *earprintService) Register(ctx context.Context, rec models.Recording, samples []float64, sampleRate int) (models.Recording, error) {
	if sampleRate <= 0 {
		return rec, fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate)
	}
	if len(samples) == 0 {
		return rec, ErrEmptyAudio
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = utils.GenerateUUID()
	}
	rec.DurationSec = float64(len(samples)) / float64(sampleRate)

	s.log.Infof("Registering recording %s (%s - %s, %.1fs)", rec.ID, rec.Artist, rec.Title, rec.DurationSec)

	// 1. Fingerprint
	fps, err := s.gen.Generate(samples, sampleRate)
	if err != nil {
		return rec, fmt.Errorf("fingerprint generation failed: %w", err)
	}
	if len(fps) == 0 {
		return rec, ErrNoFingerprints
	}
	s.log.Debugf("Generated %d fingerprints for %s", len(fps), rec.ID)

	// 2. Store metadata and fingerprints atomically
	if err := s.storage.RegisterRecording(ctx, rec, fps); err != nil {
		return rec, fmt.Errorf("failed to store recording: %w", err)
	}

	s.log.Infof("Successfully registered recording %s with %d fingerprints", rec.ID, len(fps))
	return rec, nil
}

// RegisterFile decodes an audio file and registers it. Missing id defaults to
// a stable id derived from the file name; missing metadata is filled from the
// file's tags when probing is enabled.
func (s *earprintService) RegisterFile(ctx context.Context, path string, rec models.Recording) (models.Recording, error) {
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = utils.RecordingIDFromName(path)
	}

	if s.config.ProbeMetadata && (rec.Title == "" || rec.Artist == "" || rec.Album == "") {
		meta, err := audio.ReadMetadataFFmpeg(ctx, path)
		if err != nil {
			s.log.Warnf("Could not read tags from %s: %v", path, err)
		} else {
			rec.Title = firstNonEmpty(rec.Title, meta.Title)
			rec.Artist = firstNonEmpty(rec.Artist, meta.Artist)
			rec.Album = firstNonEmpty(rec.Album, meta.Album)
		}
	}
	rec.Title = firstNonEmpty(rec.Title, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	rec.Artist = firstNonEmpty(rec.Artist, "Unknown Artist")

	samples, err := audio.LoadSamples(ctx, path, s.config.TempDir, s.SampleRate())
	if err != nil {
		return rec, fmt.Errorf("audio decoding failed: %w", err)
	}
	return s.Register(ctx, rec, samples, s.SampleRate())
}

// Identify scores samples against the index. Recording metadata is attached
// to a matched result.
func (s *earprintService) Identify(ctx context.Context, samples []float64, sampleRate int) (models.MatchResult, error) {
	if sampleRate <= 0 {
		return models.MatchResult{Status: models.StatusNoMatch}, fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate)
	}
	fps, err := s.gen.Generate(samples, sampleRate)
	if err != nil {
		return models.MatchResult{Status: models.StatusNoMatch}, fmt.Errorf("fingerprint generation failed: %w", err)
	}
	result, _, err := s.IdentifyFingerprints(ctx, fps)
	return result, err
}

func (s *earprintService) IdentifyFile(ctx context.Context, path string) (models.MatchResult, []models.Candidate, error) {
	s.log.Infof("Matching audio: %s", path)

	samples, err := audio.LoadSamples(ctx, path, s.config.TempDir, s.SampleRate())
	if err != nil {
		return models.MatchResult{Status: models.StatusNoMatch}, nil, fmt.Errorf("audio decoding failed: %w", err)
	}
	fps, err := s.gen.Generate(samples, s.SampleRate())
	if err != nil {
		return models.MatchResult{Status: models.StatusNoMatch}, nil, fmt.Errorf("fingerprint generation failed: %w", err)
	}
	return s.IdentifyFingerprints(ctx, fps)
}

// IdentifyFingerprints scores precomputed query fingerprints, for clients
// that fingerprint locally.
func (s *earprintService) IdentifyFingerprints(ctx context.Context, fps []models.Fingerprint) (models.MatchResult, []models.Candidate, error) {
	result, candidates, err := s.matcher.Match(ctx, fps)
	if err != nil {
		return result, nil, err
	}
	s.log.Debugf("Query of %d hashes: status=%s score=%d candidates=%d", len(fps), result.Status, result.Score, len(candidates))

	if result.Matched() {
		rec, err := s.storage.GetRecording(ctx, result.RecordingID)
		switch {
		case err == nil:
			result.Title, result.Artist, result.Album = rec.Title, rec.Artist, rec.Album
		case errors.Is(err, ErrRecordingNotFound):
			// deleted between lookup and metadata fetch
			s.log.Warnf("Matched recording %s vanished", result.RecordingID)
			return models.MatchResult{Status: models.StatusNoMatch, QueryHashes: len(fps)}, nil, nil
		default:
			s.log.Warnf("Failed to load metadata for %s: %v", result.RecordingID, err)
		}
	}
	return result, candidates, nil
}

func (s *earprintService) GetRecording(ctx context.Context, id string) (*models.Recording, error) {
	return s.storage.GetRecording(ctx, id)
}

// GetRecordings loads metadata for several recordings in one query. Unknown
// ids are absent from the result.
func (s *earprintService) GetRecordings(ctx context.Context, ids []string) (map[string]models.Recording, error) {
	if len(ids) == 0 {
		return map[string]models.Recording{}, nil
	}
	return s.storage.GetRecordings(ctx, ids)
}

func (s *earprintService) ListRecordings(ctx context.Context) ([]models.Recording, error) {
	return s.storage.ListRecordings(ctx)
}

// DeleteRecording removes a recording and all its fingerprints.
func (s *earprintService) DeleteRecording(ctx context.Context, id string) error {
	if err := s.storage.DeleteRecording(ctx, id); err != nil {
		return err
	}
	s.log.Infof("Deleted recording %s", id)
	return nil
}

func (s *earprintService) FingerprintCount(ctx context.Context, id string) (int, error) {
	return s.storage.FingerprintCount(ctx, id)
}

func (s *earprintService) Stats(ctx context.Context) (IndexStats, error) {
	recs, fps, err := s.storage.Counts(ctx)
	if err != nil {
		return IndexStats{}, err
	}
	return IndexStats{Recordings: recs, Fingerprints: fps}, nil
}

// Close releases all resources held by the service.
func (s *earprintService) Close() error {
	return s.storage.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
