package fingerprint

import (
	"math"
	"testing"
)

func TestHammingWindow(t *testing.T) {
	w := Hamming(WindowSize)
	if len(w) != WindowSize {
		t.Fatalf("Expected window length %d, got %d", WindowSize, len(w))
	}
	if math.Abs(w[0]-0.08) > 1e-9 || math.Abs(w[WindowSize-1]-0.08) > 1e-9 {
		t.Errorf("Expected Hamming endpoints of 0.08, got %f and %f", w[0], w[WindowSize-1])
	}
	for i := 0; i < WindowSize/2; i++ {
		if math.Abs(w[i]-w[WindowSize-1-i]) > 1e-12 {
			t.Fatalf("Window not symmetric at %d", i)
		}
	}
}

func TestSpectrogramSinePeak(t *testing.T) {
	cfg := DefaultConfig()
	const freq = 1000.0 // exactly bin 64 at 16 kHz / 1024
	const amp = 0.5
	samples := make([]float64, cfg.SampleRate)
	for i := range samples {
		samples[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(cfg.SampleRate))
	}

	spec, err := Spectrogram(samples, cfg)
	if err != nil {
		t.Fatalf("Spectrogram failed: %v", err)
	}

	expectedFrames := 1 + (len(samples)-cfg.WindowSize)/cfg.HopSize
	if len(spec) != expectedFrames {
		t.Fatalf("Expected %d frames, got %d", expectedFrames, len(spec))
	}
	if len(spec[0]) != cfg.WindowSize/2 {
		t.Fatalf("Expected %d bins, got %d", cfg.WindowSize/2, len(spec[0]))
	}

	wantBin := int(freq / cfg.BinWidth())
	for f, frame := range spec {
		best := 0
		for i := range frame {
			if frame[i] > frame[best] {
				best = i
			}
		}
		if best != wantBin {
			t.Fatalf("Frame %d: expected peak at bin %d, got %d", f, wantBin, best)
		}
		if math.Abs(frame[best]-amp) > 0.02 {
			t.Fatalf("Frame %d: expected magnitude ~%.2f, got %f", f, amp, frame[best])
		}
	}
}

func TestSpectrogramDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	samples := make([]float64, 8000)
	for i := range samples {
		samples[i] = math.Sin(float64(i)*0.37) * math.Cos(float64(i)*0.011)
	}
	a, _ := Spectrogram(samples, cfg)
	b, _ := Spectrogram(samples, cfg)
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("Spectrogram differs at [%d][%d]", i, j)
			}
		}
	}
}

func TestSpectrogramShortInput(t *testing.T) {
	cfg := DefaultConfig()
	for _, n := range []int{0, 1, cfg.WindowSize - 1} {
		spec, err := Spectrogram(make([]float64, n), cfg)
		if err != nil {
			t.Errorf("Expected no error for %d samples, got %v", n, err)
		}
		if len(spec) != 0 {
			t.Errorf("Expected empty grid for %d samples, got %d frames", n, len(spec))
		}
	}

	spec, err := Spectrogram(make([]float64, cfg.WindowSize), cfg)
	if err != nil || len(spec) != 1 {
		t.Errorf("Expected exactly one frame for one window of input, got %d (%v)", len(spec), err)
	}
}

func TestSTFTInvalidArguments(t *testing.T) {
	samples := make([]float64, 4096)
	if _, err := STFT(samples, 1024, 0, Hamming(1024)); err == nil {
		t.Error("Expected error for zero hop")
	}
	if _, err := STFT(samples, 256, 512, Hamming(256)); err == nil {
		t.Error("Expected error for hop larger than window")
	}
	if _, err := STFT(samples, 1024, 256, Hamming(512)); err == nil {
		t.Error("Expected error for mismatched window length")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rate", func(c *Config) { c.SampleRate = 0 }},
		{"hop > window", func(c *Config) { c.HopSize = 2048 }},
		{"no fan-out", func(c *Config) { c.FanOut = 0 }},
		{"inverted deltas", func(c *Config) { c.MinDelta = 2; c.MaxDelta = 1 }},
		{"delta overflow", func(c *Config) { c.MaxDelta = 20 }},
		{"negative radius", func(c *Config) { c.TimeRadius = -1 }},
		{"zero freq window", func(c *Config) { c.MaxFreqDelta = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
