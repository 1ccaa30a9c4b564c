package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/himanishpuri/EarPrint/internal/testsignal"
	"github.com/himanishpuri/EarPrint/pkg/earprint/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 16000

type cliFixture struct {
	dir string
	db  string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("EARPRINT_ENGINE_PROBE_METADATA", "false")
	return &cliFixture{dir: dir, db: filepath.Join(dir, "cli.sqlite3")}
}

func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", f.db, "--temp", f.dir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (f *cliFixture) writeWav(t *testing.T, name string, samples []float64) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, audio.WriteWav(path, samples, testRate))
	return path
}

func TestAddListMatchDelete(t *testing.T) {
	f := newCLIFixture(t)
	song := testsignal.Melody(7, 24, testRate)
	songPath := f.writeWav(t, "song.wav", song)
	clipPath := f.writeWav(t, "clip.wav", testsignal.Excerpt(song, testRate, 8, 16))

	out, err := f.run(t, "add", songPath, "--id", "r1", "--title", "Signal", "--artist", "Band")
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully added song")
	assert.Contains(t, out, "r1")

	out, err = f.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 song(s)")
	assert.Contains(t, out, `"Signal" by Band (ID: r1)`)

	out, err = f.run(t, "match", clipPath)
	require.NoError(t, err)
	assert.Contains(t, out, `Match: "Signal" by Band`)

	out, err = f.run(t, "delete", "r1")
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully deleted song")

	out, err = f.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No songs in database")

	_, err = f.run(t, "delete", "r1")
	assert.ErrorContains(t, err, "song not found")
}

func TestMatchEmptyIndex(t *testing.T) {
	f := newCLIFixture(t)
	clip := f.writeWav(t, "clip.wav", testsignal.Melody(3, 8, testRate))

	out, err := f.run(t, "match", clip)
	require.NoError(t, err)
	assert.Contains(t, out, "No match found")
}

func TestCommandArgs(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "add")
	assert.Error(t, err)
	_, err = f.run(t, "match", "a.wav", "b.wav")
	assert.Error(t, err)
	_, err = f.run(t, "add", filepath.Join(f.dir, "missing.wav"))
	assert.Error(t, err)
}

func TestSpectrogram(t *testing.T) {
	f := newCLIFixture(t)
	src := f.writeWav(t, "tone.wav", testsignal.Melody(5, 6, testRate))
	png := filepath.Join(f.dir, "tone.png")

	out, err := f.run(t, "spectrogram", src, "-o", png, "--width", "256", "--height", "128")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved spectrogram")
	assert.Contains(t, out, "Hashes:")

	info, err := os.Stat(png)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestConfigDumpMasksKey(t *testing.T) {
	f := newCLIFixture(t)
	t.Setenv("OMI_API_KEY", "secret-key")

	out, err := f.run(t, "config", "--rate", "22050")
	require.NoError(t, err)
	assert.NotContains(t, out, "secret-key")

	var settings map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &settings))
	engine := settings["engine"].(map[string]any)
	assert.EqualValues(t, 22050, engine["sample_rate"])
	assert.Equal(t, f.db, settings["db_path"])
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00", formatDuration(0))
	assert.Equal(t, "1:05", formatDuration(64.6))
	assert.Equal(t, "10:00", formatDuration(600))
}
