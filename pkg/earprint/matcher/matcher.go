// Package matcher scores query fingerprints against the reference index by
// voting on time-offset alignment.
package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/himanishpuri/EarPrint/pkg/models"
)

const (
	DefaultOffsetQuantum = 0.05
	DefaultMinScore      = 20
)

// Store is the lookup side of the fingerprint index.
type Store interface {
	LookupHashes(ctx context.Context, hashes []uint32) (map[uint32][]models.Couple, error)
}

type Config struct {
	// OffsetQuantum is the bucket width in seconds for alignment votes.
	OffsetQuantum float64
	// MinScore is the smallest winning bucket accepted as a match.
	MinScore int
	// MaxCandidates bounds the ranked list returned by Candidates (0 = all).
	MaxCandidates int
}

func DefaultConfig() Config {
	return Config{
		OffsetQuantum: DefaultOffsetQuantum,
		MinScore:      DefaultMinScore,
		MaxCandidates: 10,
	}
}

type Matcher struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) *Matcher {
	if cfg.OffsetQuantum <= 0 {
		cfg.OffsetQuantum = DefaultOffsetQuantum
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultMinScore
	}
	return &Matcher{store: store, cfg: cfg}
}

func (m *Matcher) Config() Config {
	return m.cfg
}

// Match looks up the query hashes and returns the best-aligned recording.
// An empty query never touches the store. Store errors are returned as is.
func (m *Matcher) Match(ctx context.Context, query []models.Fingerprint) (models.MatchResult, []models.Candidate, error) {
	if len(query) == 0 {
		return models.MatchResult{Status: models.StatusNoMatch}, nil, nil
	}

	hashes := make([]uint32, len(query))
	for i, fp := range query {
		hashes[i] = fp.Hash
	}
	hits, err := m.store.LookupHashes(ctx, hashes)
	if err != nil {
		return models.MatchResult{Status: models.StatusNoMatch, QueryHashes: len(query)}, nil, fmt.Errorf("looking up %d hashes: %w", len(hashes), err)
	}

	candidates := Score(query, hits, m.cfg.OffsetQuantum)
	result := Decide(candidates, m.cfg.MinScore)
	result.QueryHashes = len(query)

	if m.cfg.MaxCandidates > 0 && len(candidates) > m.cfg.MaxCandidates {
		candidates = candidates[:m.cfg.MaxCandidates]
	}
	return result, candidates, nil
}

type bucketKey struct {
	recordingID string
	delta       int64
}

// Score tallies (recording, quantized offset delta) votes for every query
// fingerprint whose hash occurs in hits, where delta is the reference offset
// minus the query offset. It returns one candidate per recording carrying its
// best bucket, ranked by score, then total hits, then id.
func Score(query []models.Fingerprint, hits map[uint32][]models.Couple, quantum float64) []models.Candidate {
	if quantum <= 0 {
		quantum = DefaultOffsetQuantum
	}

	votes := make(map[bucketKey]int)
	totals := make(map[string]int)
	for _, q := range query {
		for _, c := range hits[q.Hash] {
			delta := int64(math.Round((c.Offset - q.Offset) / quantum))
			votes[bucketKey{c.RecordingID, delta}]++
			totals[c.RecordingID]++
		}
	}

	best := make(map[string]models.Candidate, len(totals))
	for k, n := range votes {
		cur, ok := best[k.recordingID]
		offset := float64(k.delta) * quantum
		// prefer the earliest offset on equal counts so the result is stable
		if !ok || n > cur.Score || (n == cur.Score && offset < cur.Offset) {
			best[k.recordingID] = models.Candidate{
				RecordingID: k.recordingID,
				Score:       n,
				TotalHits:   totals[k.recordingID],
				Offset:      offset,
			}
		}
	}

	out := make([]models.Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].TotalHits != out[j].TotalHits {
			return out[i].TotalHits > out[j].TotalHits
		}
		return out[i].RecordingID < out[j].RecordingID
	})
	return out
}

// Decide turns ranked candidates into a result. The top score must reach
// minScore; a tie on score is broken by total hits, and a tie on both is
// reported as ambiguous.
func Decide(ranked []models.Candidate, minScore int) models.MatchResult {
	if len(ranked) == 0 || ranked[0].Score < minScore {
		r := models.MatchResult{Status: models.StatusNoMatch}
		if len(ranked) > 0 {
			r.Score = ranked[0].Score
			r.TotalHits = ranked[0].TotalHits
		}
		return r
	}

	top := ranked[0]
	var tied []string
	for _, c := range ranked[1:] {
		if c.Score == top.Score && c.TotalHits == top.TotalHits {
			tied = append(tied, c.RecordingID)
		}
	}
	if len(tied) > 0 {
		return models.MatchResult{
			Status:        models.StatusAmbiguous,
			Score:         top.Score,
			TotalHits:     top.TotalHits,
			CandidatesTie: append([]string{top.RecordingID}, tied...),
		}
	}

	return models.MatchResult{
		Status:      models.StatusMatched,
		RecordingID: top.RecordingID,
		Score:       top.Score,
		TotalHits:   top.TotalHits,
		Offset:      top.Offset,
		Confidence:  Confidence(top.Score),
	}
}

// Confidence maps a winning bucket size to a coarse 0..1 certainty.
func Confidence(score int) float64 {
	switch {
	case score > 1000:
		return 1.0
	case score > 100:
		return 0.9
	case score > 50:
		return 0.7
	case score > 10:
		return 0.4
	case score > 0:
		return 0.1
	default:
		return 0
	}
}
