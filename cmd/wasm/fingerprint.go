package main

import (
	"fmt"

	"github.com/himanishpuri/EarPrint/pkg/earprint/fingerprint"
	"github.com/himanishpuri/EarPrint/pkg/models"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorProcessing
	ErrorSpectrogramFailed
	ErrorPeakExtraction
	ErrorHashGeneration
)

// fingerprintError carries one of the codes above to the JS caller.
type fingerprintError struct {
	code int
	msg  string
}

func (e *fingerprintError) Error() string { return e.msg }

var generator *fingerprint.Generator

func init() {
	g, err := fingerprint.NewGenerator(fingerprint.DefaultConfig())
	if err != nil {
		panic(err)
	}
	generator = g
}

// fingerprintSamples produces query fingerprints in the shape accepted by
// POST /api/match-hashes.
func fingerprintSamples(samples []float64, sampleRate, channels int) ([]models.Fingerprint, error) {
	if sampleRate <= 0 {
		return nil, &fingerprintError{ErrorInvalidArgs, fmt.Sprintf("Invalid sample rate: %d", sampleRate)}
	}
	if channels < 1 || channels > 2 {
		return nil, &fingerprintError{ErrorInvalidArgs, fmt.Sprintf("Channels must be 1 (mono) or 2 (stereo), got: %d", channels)}
	}
	if len(samples) == 0 {
		return nil, &fingerprintError{ErrorInvalidArgs, "audioArray is empty"}
	}
	if channels == 2 {
		samples = stereoToMono(samples)
	}

	peaks, err := generator.Peaks(samples, sampleRate)
	if err != nil {
		return nil, &fingerprintError{ErrorSpectrogramFailed, fmt.Sprintf("Failed to generate spectrogram: %v", err)}
	}
	if len(peaks) == 0 {
		return nil, &fingerprintError{ErrorPeakExtraction, "No peaks found in audio (audio may be silent or too short)"}
	}

	fps := fingerprint.Hash(peaks, generator.Config())
	if len(fps) == 0 {
		return nil, &fingerprintError{ErrorHashGeneration, "No fingerprint hashes generated"}
	}
	return fps, nil
}

func stereoToMono(stereo []float64) []float64 {
	mono := make([]float64, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[i*2] + stereo[i*2+1]) / 2.0
	}
	return mono
}
