package fingerprint

import (
	"errors"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// Hamming returns an n-point Hamming window.
func Hamming(n int) []float64 {
	return window.Hamming(n)
}

func FFTReal(frame []float64) []complex128 {
	return fft.FFTReal(frame)
}

// MagnitudeSpectrum returns |X[k]| * scale for the positive half of spectrum.
func MagnitudeSpectrum(spectrum []complex128, scale float64) []float64 {
	n := len(spectrum)
	half := n / 2
	mag := make([]float64, half)
	for i := 0; i < half; i++ {
		mag[i] = cmplx.Abs(spectrum[i]) * scale
	}
	return mag
}

// STFT computes a magnitude spectrogram indexed [frame][bin]. Magnitudes are
// scaled by 2/sum(window) so a full-scale sinusoid reads about 1.0 (0 dBFS).
// Input shorter than one window yields an empty grid.
func STFT(samples []float64, windowSize, hopSize int, win []float64) ([][]float64, error) {
	if windowSize <= 0 || hopSize <= 0 {
		return nil, errors.New("window and hop sizes must be positive")
	}
	if hopSize > windowSize {
		return nil, errors.New("hop size must not exceed window size")
	}
	if len(win) != windowSize {
		return nil, errors.New("window length must equal windowSize")
	}
	if len(samples) < windowSize {
		return [][]float64{}, nil
	}

	var winSum float64
	for _, w := range win {
		winSum += w
	}
	scale := 2 / winSum

	nFrames := 1 + (len(samples)-windowSize)/hopSize
	spectrogram := make([][]float64, 0, nFrames)
	frame := make([]float64, windowSize)
	for start := 0; start+windowSize <= len(samples); start += hopSize {
		for i := 0; i < windowSize; i++ {
			frame[i] = samples[start+i] * win[i]
		}
		spectrogram = append(spectrogram, MagnitudeSpectrum(FFTReal(frame), scale))
	}
	return spectrogram, nil
}

// Spectrogram computes the STFT of mono samples using cfg's window and hop.
// The samples are expected to already be at cfg.SampleRate.
func Spectrogram(samples []float64, cfg Config) ([][]float64, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return STFT(samples, cfg.WindowSize, cfg.HopSize, Hamming(cfg.WindowSize))
}
