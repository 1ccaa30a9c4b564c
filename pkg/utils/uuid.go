package utils

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// recordingNamespace scopes name-based recording ids so that the same file
// name always yields the same id.
var recordingNamespace = uuid.NewMD5(uuid.NameSpaceURL, []byte("earprint:recording"))

// GenerateUUID returns a random (v4) UUID string.
func GenerateUUID() string {
	return uuid.NewString()
}

// RecordingIDFromName derives a stable id from a source file name. The
// directory and surrounding whitespace are ignored; an empty name gets a
// random id.
func RecordingIDFromName(name string) string {
	base := strings.TrimSpace(filepath.Base(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return GenerateUUID()
	}
	return uuid.NewMD5(recordingNamespace, []byte(base)).String()
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
