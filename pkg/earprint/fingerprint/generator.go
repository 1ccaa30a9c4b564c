package fingerprint

import (
	"slices"

	"github.com/himanishpuri/EarPrint/pkg/earprint/audio"
	"github.com/himanishpuri/EarPrint/pkg/models"
)

// Generator runs the full samples -> spectrogram -> peaks -> hashes pipeline.
type Generator struct {
	cfg Config
}

func NewGenerator(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg}, nil
}

func (g *Generator) Config() Config {
	return g.cfg
}

// Peaks returns the landmark peaks of samples recorded at sampleRate. The
// signal is peak-normalised first so input gain does not move peaks across
// the noise floor; samples itself is not modified.
func (g *Generator) Peaks(samples []float64, sampleRate int) ([]Peak, error) {
	samples = audio.Normalize(slices.Clone(audio.Resample(samples, sampleRate, g.cfg.SampleRate)))
	spec, err := Spectrogram(samples, g.cfg)
	if err != nil {
		return nil, err
	}
	return ExtractPeaks(spec, g.cfg), nil
}

// Generate fingerprints samples recorded at sampleRate. Silence or input
// shorter than one analysis window yields no fingerprints.
func (g *Generator) Generate(samples []float64, sampleRate int) ([]models.Fingerprint, error) {
	peaks, err := g.Peaks(samples, sampleRate)
	if err != nil {
		return nil, err
	}
	return Hash(peaks, g.cfg), nil
}
