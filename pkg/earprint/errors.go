package earprint

import (
	"errors"

	"github.com/himanishpuri/EarPrint/pkg/earprint/storage"
)

var (
	// ErrRecordingNotFound is returned for operations on an unknown recording id.
	ErrRecordingNotFound = storage.ErrNotFound
	// ErrNoFingerprints is returned when audio yields no landmarks to index.
	ErrNoFingerprints = errors.New("audio produced no fingerprints")
	ErrEmptyAudio     = errors.New("audio is empty")

	ErrInvalidSampleRate  = errors.New("invalid sample rate")
	ErrSampleRateMismatch = errors.New("sample rate differs from buffered audio")
	ErrMalformedChunk     = errors.New("malformed pcm chunk")
	ErrManagerClosed      = errors.New("session manager is closed")
)
