package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/himanishpuri/EarPrint/internal/testsignal"
	"github.com/himanishpuri/EarPrint/pkg/earprint"
	"github.com/himanishpuri/EarPrint/pkg/earprint/audio"
	"github.com/himanishpuri/EarPrint/pkg/earprint/fingerprint"
	"github.com/himanishpuri/EarPrint/pkg/earprint/session"
	"github.com/himanishpuri/EarPrint/pkg/logger"
	"github.com/himanishpuri/EarPrint/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rate = 16000

type fixture struct {
	handler http.Handler
	service earprint.Service
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	lc := logger.DefaultConfig()
	lc.Output = io.Discard
	log := logger.New(lc)

	svc, err := earprint.NewService(
		earprint.WithDBPath(filepath.Join(dir, "earprint.sqlite3")),
		earprint.WithTempDir(filepath.Join(dir, "tmp")),
		earprint.WithLogger(log),
		earprint.WithMetadataProbe(false),
	)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	cfg := session.DefaultConfig()
	cfg.Synchronous = true
	sessions, err := session.New(svc, cfg, session.WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	srv := NewServer(svc, sessions, &ServerConfig{
		DBPath:         filepath.Join(dir, "earprint.sqlite3"),
		TempDir:        filepath.Join(dir, "tmp"),
		SampleRate:     rate,
		AllowedOrigins: []string{"*"},
		MaxChunkBytes:  1 << 20,
		MaxUploadBytes: 32 << 20,
		ShutdownGrace:  time.Second,
	}, log)
	return &fixture{handler: srv.setupRoutes(), service: svc, dir: dir}
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// upload builds a multipart body with a WAV of samples under field plus
// any extra form values.
func (f *fixture) upload(t *testing.T, field, filename string, samples []float64, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	path := filepath.Join(f.dir, filename)
	require.NoError(t, audio.WriteWav(path, samples, rate))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func (f *fixture) register(t *testing.T, song []float64) RegisterResponse {
	t.Helper()
	body, ct := f.upload(t, "file", "first song.wav", song, map[string]string{
		"id": "r1", "title": "First", "artist": "Alpha", "album": "Demo",
	})
	rec := f.do(t, http.MethodPost, "/register", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[RegisterResponse](t, rec)
}

func TestAudioSetupProbe(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/audio", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"is_setup_completed":true}`, rec.Body.String())
}

func TestAudioRejectsMalformedRequests(t *testing.T) {
	f := newFixture(t)
	chunk := make([]byte, 3200)

	tests := []struct {
		name   string
		target string
		body   []byte
	}{
		{"missing uid", "/audio?sample_rate=16000", chunk},
		{"missing rate", "/audio?uid=u1", chunk},
		{"rate out of range", "/audio?uid=u1&sample_rate=100", chunk},
		{"odd length", "/audio?uid=u1&sample_rate=16000", chunk[:101]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.target, bytes.NewReader(tt.body), "application/octet-stream")
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := f.do(t, http.MethodGet, "/stats/u1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "rejected chunks leave no session behind")

	rec = f.do(t, http.MethodPost, "/audio?uid=u1&sample_rate=16000", bytes.NewReader(make([]byte, 2<<20)), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAudioBufferLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/audio?uid=u1&sample_rate=16000", bytes.NewReader(make([]byte, 32000)), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ack := decode[AudioResponse](t, rec)
	assert.Equal(t, "ok", ack.Status)
	assert.Equal(t, 32000, ack.ReceivedBytes)
	assert.Equal(t, "accumulating", ack.State)
	assert.InDelta(t, 1.0, ack.BufferSeconds, 1e-9)

	rec = f.do(t, http.MethodPost, "/audio?uid=u1&sample_rate=8000", bytes.NewReader(make([]byte, 160)), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "rate change on a non-empty buffer")

	rec = f.do(t, http.MethodGet, "/stats/u1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[session.Snapshot](t, rec)
	assert.Equal(t, "u1", snap.UserID)
	assert.Equal(t, 32000, snap.BufferBytes)
	assert.Equal(t, rate, snap.SampleRate)

	rec = f.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, 1, decode[HealthResponse](t, rec).ActiveUsers)

	rec = f.do(t, http.MethodDelete, "/buffer/u1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Buffer cleared for user u1", decode[StatusResponse](t, rec).Message)

	rec = f.do(t, http.MethodDelete, "/buffer/u1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/stats/u1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamedAudioIsRecognised(t *testing.T) {
	f := newFixture(t)
	song := testsignal.Melody(101, 30, rate)
	f.register(t, song)

	pcm := audio.EncodePCM16(testsignal.Excerpt(song, rate, 8, 20))
	step := audio.BytesFor(1, rate)
	var ack AudioResponse
	for off := 0; off+step <= len(pcm); off += step {
		rec := f.do(t, http.MethodPost, "/audio?uid=listener&sample_rate=16000", bytes.NewReader(pcm[off:off+step]), "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		ack = decode[AudioResponse](t, rec)
		if ack.Result != nil {
			break
		}
	}

	require.NotNil(t, ack.Result)
	assert.Equal(t, models.StatusMatched, ack.Result.Status)
	assert.Equal(t, "r1", ack.Result.RecordingID)
	assert.Equal(t, "empty", ack.State)

	rec := f.do(t, http.MethodGet, "/stats/listener", nil, "")
	snap := decode[session.Snapshot](t, rec)
	require.NotNil(t, snap.LastMatch)
	assert.Equal(t, "First", snap.LastMatch.Title)
	assert.Equal(t, 1, snap.Matches)
}

func TestCatalogueEndpoints(t *testing.T) {
	f := newFixture(t)
	song := testsignal.Melody(101, 30, rate)

	reg := f.register(t, song)
	assert.Equal(t, "success", reg.Status)
	assert.Equal(t, "r1", reg.ID)
	assert.Equal(t, "Demo", reg.Album)
	assert.Greater(t, reg.Fingerprints, 0)
	assert.Equal(t, "Song registered: Alpha - First", reg.Message)

	for _, path := range []string{"/songs", "/api/songs"} {
		rec := f.do(t, http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		list := decode[ListSongsResponse](t, rec)
		require.Equal(t, 1, list.Count, path)
		assert.Equal(t, "First", list.Songs[0].Title)
		assert.InDelta(t, 30.0, list.Songs[0].DurationSeconds, 0.01)
	}

	rec := f.do(t, http.MethodGet, "/api/songs/r1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alpha", decode[SongDTO](t, rec).Artist)

	rec = f.do(t, http.MethodGet, "/api/health/metrics", nil, "")
	metrics := decode[MetricsResponse](t, rec)
	assert.EqualValues(t, 1, metrics.SongCount)
	assert.EqualValues(t, reg.Fingerprints, metrics.FingerprintCount)
	assert.Equal(t, rate, metrics.SampleRate)

	rec = f.do(t, http.MethodDelete, "/api/songs/r1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/songs/r1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/songs/r1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterRequiresFile(t *testing.T) {
	f := newFixture(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("title", "x"))
	require.NoError(t, mw.Close())

	rec := f.do(t, http.MethodPost, "/register", &body, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchFile(t *testing.T) {
	f := newFixture(t)
	song := testsignal.Melody(101, 30, rate)
	f.register(t, song)

	body, ct := f.upload(t, "audio", "clip.wav", testsignal.Excerpt(song, rate, 4, 14), nil)
	rec := f.do(t, http.MethodPost, "/api/match", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[MatchResponse](t, rec)
	assert.Equal(t, models.StatusMatched, resp.Result.Status)
	assert.Equal(t, "r1", resp.Result.RecordingID)
	assert.InDelta(t, 4.0, resp.Result.Offset, 0.05)
	require.NotEmpty(t, resp.Matches)
	assert.Equal(t, "First", resp.Matches[0].Title)
}

func TestMatchHashes(t *testing.T) {
	f := newFixture(t)
	song := testsignal.Melody(101, 30, rate)
	f.register(t, song)

	gen, err := fingerprint.NewGenerator(fingerprint.DefaultConfig())
	require.NoError(t, err)
	fps, err := gen.Generate(testsignal.Excerpt(song, rate, 8, 18), rate)
	require.NoError(t, err)

	req := MatchHashesRequest{}
	for _, fp := range fps {
		req.Hashes = append(req.Hashes, HashDTO{Hash: fp.Hash, Offset: fp.Offset})
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/match/hashes", bytes.NewReader(payload), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[MatchResponse](t, rec)
	assert.Equal(t, models.StatusMatched, resp.Result.Status)
	assert.Equal(t, "First", resp.Result.Title)

	for _, bad := range []string{`{"hashes":[]}`, `not json`, `{"hashes":[{"hash":0,"offset":1}]}`, `{"hashes":[{"hash":99,"offset":-1}]}`} {
		rec = f.do(t, http.MethodPost, "/api/match/hashes", bytes.NewBufferString(bad), "application/json")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/match"},
		{http.MethodGet, "/api/match/hashes"},
		{http.MethodPut, "/api/songs"},
		{http.MethodPost, "/stats/u1"},
		{http.MethodGet, "/buffer/u1"},
		{http.MethodPut, "/audio"},
	} {
		rec := f.do(t, tc.method, tc.path, nil, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/audio", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowList(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := corsMiddleware([]string{"https://app.example"})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStartStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	lc := logger.DefaultConfig()
	lc.Output = io.Discard
	log := logger.New(lc)

	sessions, err := session.New(f.service, session.DefaultConfig(), session.WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })
	srv := NewServer(f.service, sessions, &ServerConfig{Port: 0, ShutdownGrace: time.Second}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
