package main

import (
	"errors"
	"testing"

	"github.com/himanishpuri/EarPrint/internal/testsignal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintSamplesValidation(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float64
		rate     int
		channels int
		code     int
	}{
		{"zero rate", []float64{0.1}, 0, 1, ErrorInvalidArgs},
		{"three channels", []float64{0.1}, 16000, 3, ErrorInvalidArgs},
		{"empty", nil, 16000, 1, ErrorInvalidArgs},
		{"silence", make([]float64, 16000*3), 16000, 1, ErrorPeakExtraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fingerprintSamples(tt.samples, tt.rate, tt.channels)
			var fe *fingerprintError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, tt.code, fe.code)
		})
	}
}

func TestFingerprintSamplesStereoMatchesMono(t *testing.T) {
	mono := testsignal.Melody(11, 5, 44100)
	stereo := make([]float64, 2*len(mono))
	for i, s := range mono {
		stereo[2*i], stereo[2*i+1] = s, s
	}

	a, err := fingerprintSamples(mono, 44100, 1)
	require.NoError(t, err)
	b, err := fingerprintSamples(stereo, 44100, 2)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	for _, fp := range a {
		assert.GreaterOrEqual(t, fp.Offset, 0.0)
		assert.Empty(t, fp.RecordingID)
	}
}

func TestStereoToMonoDropsTrailingSample(t *testing.T) {
	assert.Equal(t, []float64{0.5, 0}, stereoToMono([]float64{1, 0, 1, -1, 0.3}))
}
