// Package testsignal builds deterministic synthetic audio for tests: plucked
// note sequences that behave like music for the fingerprinting pipeline, plus
// noise and silence.
package testsignal

import (
	"math"
	"math/rand"
)

const (
	NoteDuration = 0.2
	noteDecay    = 0.08
	partialAmp   = 0.3
	minFreq      = 200.0
	maxFreq      = 4000.0
)

// Melody returns seconds of a random note sequence at sampleRate. Each note
// carries two decaying partials. The same seed always yields the same signal.
func Melody(seed int64, seconds float64, sampleRate int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	n := int(seconds * float64(sampleRate))
	out := make([]float64, n)
	noteLen := int(NoteDuration * float64(sampleRate))

	for start := 0; start < n; start += noteLen {
		f1 := minFreq + rng.Float64()*(maxFreq-minFreq)
		f2 := minFreq + rng.Float64()*(maxFreq-minFreq)
		for i := 0; i < noteLen && start+i < n; i++ {
			t := float64(i) / float64(sampleRate)
			env := math.Exp(-t / noteDecay)
			out[start+i] = partialAmp * env * (math.Sin(2*math.Pi*f1*t) + math.Sin(2*math.Pi*f2*t))
		}
	}
	return out
}

// Noise returns n samples of zero-mean Gaussian noise with the given sigma.
func Noise(seed int64, n int, sigma float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64() * sigma
	}
	return out
}

// Silence returns seconds of zeros.
func Silence(seconds float64, sampleRate int) []float64 {
	return make([]float64, int(seconds*float64(sampleRate)))
}

// Excerpt copies [from, to) seconds out of samples.
func Excerpt(samples []float64, sampleRate int, from, to float64) []float64 {
	a := int(from * float64(sampleRate))
	b := int(to * float64(sampleRate))
	if a < 0 {
		a = 0
	}
	if b > len(samples) {
		b = len(samples)
	}
	if a >= b {
		return nil
	}
	out := make([]float64, b-a)
	copy(out, samples[a:b])
	return out
}

// AddNoise returns gain*samples plus Gaussian noise of the given sigma.
func AddNoise(samples []float64, gain, sigma float64, seed int64) []float64 {
	noise := Noise(seed, len(samples), sigma)
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = gain*s + noise[i]
	}
	return out
}
