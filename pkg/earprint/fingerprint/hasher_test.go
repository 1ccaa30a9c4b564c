package fingerprint

import (
	"math"
	"testing"

	"github.com/himanishpuri/EarPrint/internal/testsignal"
	"github.com/himanishpuri/EarPrint/pkg/models"
)

func TestCreateAddressRoundTrip(t *testing.T) {
	anchor := Peak{FreqIdx: 300, Time: 1.0}
	target := Peak{FreqIdx: 17, Time: 1.25}

	addr, ok := createAddress(anchor, target)
	if !ok {
		t.Fatal("Expected pair to be hashable")
	}
	a, b, d := UnpackHash(addr)
	if a != 300 || b != 17 || d != 250 {
		t.Errorf("Expected (300, 17, 250), got (%d, %d, %d)", a, b, d)
	}
}

func TestCreateAddressRejects(t *testing.T) {
	tests := []struct {
		name           string
		anchor, target Peak
	}{
		{"anchor freq overflow", Peak{FreqIdx: 512}, Peak{FreqIdx: 1, Time: 0.1}},
		{"target freq overflow", Peak{FreqIdx: 1}, Peak{FreqIdx: 600, Time: 0.1}},
		{"delta overflow", Peak{FreqIdx: 1}, Peak{FreqIdx: 1, Time: 17}},
		{"negative delta", Peak{FreqIdx: 1, Time: 1}, Peak{FreqIdx: 1, Time: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := createAddress(tt.anchor, tt.target); ok {
				t.Error("Expected pair to be rejected")
			}
		})
	}
}

func TestHashPairingWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FanOut = 2
	cfg.MinDelta = 0.1
	cfg.MaxDelta = 1.0
	cfg.MaxFreqDelta = 50

	peaks := []Peak{
		{FreqIdx: 100, Time: 0.0},
		{FreqIdx: 101, Time: 0.05}, // too close in time
		{FreqIdx: 300, Time: 0.2},  // too far in frequency
		{FreqIdx: 120, Time: 0.3},
		{FreqIdx: 130, Time: 0.5},
		{FreqIdx: 110, Time: 0.6}, // beyond fan-out for the first anchor
		{FreqIdx: 100, Time: 2.0}, // beyond MaxDelta
	}

	fps := Hash(peaks, cfg)
	var fromFirst []models.Fingerprint
	for _, fp := range fps {
		if fp.Offset == 0 {
			fromFirst = append(fromFirst, fp)
		}
	}
	if len(fromFirst) != 2 {
		t.Fatalf("Expected 2 targets for first anchor, got %d", len(fromFirst))
	}
	for i, want := range []int{120, 130} {
		_, target, _ := UnpackHash(fromFirst[i].Hash)
		if target != want {
			t.Errorf("Target %d: expected bin %d, got %d", i, want, target)
		}
	}

	for _, fp := range fps {
		a, b, d := UnpackHash(fp.Hash)
		if d < 100 || d > 1000 {
			t.Errorf("Delta %dms outside pairing window", d)
		}
		if math.Abs(float64(a-b)) > 50 {
			t.Errorf("Frequency distance %d outside pairing window", a-b)
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	gen, err := NewGenerator(DefaultConfig())
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	samples := testsignal.Melody(7, 6, DefaultSampleRate)

	a, err := gen.Generate(samples, DefaultSampleRate)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	b, _ := gen.Generate(samples, DefaultSampleRate)
	if len(a) == 0 {
		t.Fatal("Expected fingerprints for melodic input")
	}
	if len(a) != len(b) {
		t.Fatalf("Fingerprint counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Fingerprint %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestGenerateOffsetsAreFractionalSeconds(t *testing.T) {
	gen, _ := NewGenerator(DefaultConfig())
	fps, _ := gen.Generate(testsignal.Melody(3, 4, DefaultSampleRate), DefaultSampleRate)
	fractional := false
	for _, fp := range fps {
		if fp.Offset != math.Trunc(fp.Offset) {
			fractional = true
			break
		}
	}
	if !fractional {
		t.Error("Expected sub-second anchor offsets")
	}
}

// An excerpt taken later in a recording must share hashes with the full
// recording, with offsets shifted by the excerpt start.
func TestGenerateTimeShiftInvariance(t *testing.T) {
	gen, _ := NewGenerator(DefaultConfig())
	sr := DefaultSampleRate
	full := testsignal.Melody(11, 20, sr)

	ref, _ := gen.Generate(full, sr)
	index := make(map[uint32][]float64)
	for _, fp := range ref {
		index[fp.Hash] = append(index[fp.Hash], fp.Offset)
	}

	check := func(name string, query []models.Fingerprint, minFraction float64) {
		if len(query) == 0 {
			t.Fatalf("%s: no query fingerprints", name)
		}
		aligned := 0
		for _, fp := range query {
			for _, off := range index[fp.Hash] {
				if math.Abs(off-fp.Offset-8.0) < 1e-6 {
					aligned++
					break
				}
			}
		}
		frac := float64(aligned) / float64(len(query))
		if frac < minFraction {
			t.Errorf("%s: only %.2f of %d query hashes aligned at +8s", name, frac, len(query))
		}
	}

	clean, _ := gen.Generate(testsignal.Excerpt(full, sr, 8, 16), sr)
	check("clean excerpt", clean, 0.5)

	noisy, _ := gen.Generate(testsignal.AddNoise(testsignal.Excerpt(full, sr, 8, 16), 0.6, 0.05, 99), sr)
	check("noisy excerpt", noisy, 0.1)
}

func TestGenerateIgnoresInputGain(t *testing.T) {
	gen, _ := NewGenerator(DefaultConfig())
	loud := testsignal.Melody(13, 6, DefaultSampleRate)
	quiet := make([]float64, len(loud))
	for i, s := range loud {
		quiet[i] = s * 0.0078125 // -42 dB, exact in binary
	}
	before := quiet[1000]

	a, err := gen.Generate(loud, DefaultSampleRate)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	b, err := gen.Generate(quiet, DefaultSampleRate)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("Expected identical fingerprint counts, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Fingerprint %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	if quiet[1000] != before {
		t.Error("Generate must not modify its input")
	}
}

func TestGenerateResamplesInput(t *testing.T) {
	gen, _ := NewGenerator(DefaultConfig())
	fps, err := gen.Generate(testsignal.Melody(5, 4, 44100), 44100)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(fps) == 0 {
		t.Error("Expected fingerprints for 44.1 kHz input")
	}
}

func TestGenerateSilenceAndShortInput(t *testing.T) {
	gen, _ := NewGenerator(DefaultConfig())
	for name, samples := range map[string][]float64{
		"silence": testsignal.Silence(5, DefaultSampleRate),
		"short":   make([]float64, 100),
		"empty":   nil,
	} {
		fps, err := gen.Generate(samples, DefaultSampleRate)
		if err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
		}
		if len(fps) != 0 {
			t.Errorf("%s: expected no fingerprints, got %d", name, len(fps))
		}
	}
}
