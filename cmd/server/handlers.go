package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/EarPrint/pkg/earprint"
	"github.com/himanishpuri/EarPrint/pkg/earprint/matcher"
	"github.com/himanishpuri/EarPrint/pkg/earprint/session"
	"github.com/himanishpuri/EarPrint/pkg/models"
	"github.com/himanishpuri/EarPrint/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service  earprint.Service
	sessions *session.Manager
	config   *ServerConfig
	log      earprint.Logger
	started  time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	TempDir        string
	SampleRate     int
	AllowedOrigins []string
	MaxChunkBytes  int64
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ShutdownGrace  time.Duration
}

// NewServer creates a new server instance
func NewServer(service earprint.Service, sessions *session.Manager, config *ServerConfig, log earprint.Logger) *Server {
	return &Server{
		service:  service,
		sessions: sessions,
		config:   config,
		log:      log,
		started:  time.Now(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "EarPrint API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"audio":       "POST /audio?uid={uid}&sample_rate={hz}",
			"audioSetup":  "GET /audio",
			"stats":       "GET /stats/{uid}",
			"clearBuffer": "DELETE /buffer/{uid}",
			"register":    "POST /register",
			"songs":       "GET /songs",
			"health":      "GET /health",
			"metrics":     "GET /api/health/metrics",
			"listSongs":   "GET /api/songs",
			"addSong":     "POST /api/songs",
			"getSong":     "GET /api/songs/{id}",
			"deleteSong":  "DELETE /api/songs/{id}",
			"matchFile":   "POST /api/match",
			"matchHashes": "POST /api/match/hashes",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Service:     "EarPrint",
		ActiveUsers: s.sessions.ActiveSessions(),
		Time:        time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.log.Errorf("Failed to get index stats: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:           "healthy",
		DatabasePath:     s.config.DBPath,
		SongCount:        stats.Recordings,
		FingerprintCount: stats.Fingerprints,
		ActiveSessions:   s.sessions.ActiveSessions(),
		SampleRate:       s.service.SampleRate(),
		Uptime:           time.Since(s.started).Round(time.Second).String(),
	})
}

// handleListSongs handles GET /songs and GET /api/songs
func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	recs, err := s.service.ListRecordings(r.Context())
	if err != nil {
		s.log.Errorf("Failed to list songs: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve songs")
		return
	}

	songs := make([]SongDTO, len(recs))
	for i, rec := range recs {
		songs[i] = toSongDTO(rec)
	}
	s.respondJSON(w, http.StatusOK, ListSongsResponse{
		Status: "success",
		Songs:  songs,
		Count:  len(songs),
	})
}

// handleGetSong handles GET /api/songs/{id}
func (s *Server) handleGetSong(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.service.GetRecording(r.Context(), id)
	if err != nil {
		s.respondLookupError(w, id, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSongDTO(*rec))
}

// handleDeleteSong handles DELETE /api/songs/{id}
func (s *Server) handleDeleteSong(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.service.DeleteRecording(r.Context(), id); err != nil {
		s.respondLookupError(w, id, err)
		return
	}
	s.respondJSON(w, http.StatusOK, DeleteSongResponse{
		Message: "Song deleted successfully",
		ID:      id,
	})
}

func (s *Server) respondLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, earprint.ErrRecordingNotFound) {
		s.log.Warnf("Song not found: %s", id)
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Song with ID %s not found", id))
		return
	}
	s.log.Errorf("Song lookup %s failed: %v", id, err)
	s.respondError(w, http.StatusInternalServerError, "Failed to access song")
}

// handleRegister handles POST /register and POST /api/songs (multipart file upload)
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	path, cleanup, err := s.saveUpload(r, "file", "audio")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	rec := models.Recording{
		ID:     strings.TrimSpace(r.FormValue("id")),
		Title:  strings.TrimSpace(r.FormValue("title")),
		Artist: strings.TrimSpace(r.FormValue("artist")),
		Album:  strings.TrimSpace(r.FormValue("album")),
	}
	rec, err = s.service.RegisterFile(ctx, path, rec)
	if err != nil {
		s.log.Errorf("Failed to register song: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, earprint.ErrNoFingerprints) || errors.Is(err, earprint.ErrEmptyAudio) {
			status = http.StatusUnprocessableEntity
		}
		s.respondError(w, status, fmt.Sprintf("Failed to register song: %v", err))
		return
	}

	count, err := s.service.FingerprintCount(ctx, rec.ID)
	if err != nil {
		s.log.Warnf("Could not count fingerprints for %s: %v", rec.ID, err)
	}

	s.log.Infof("Successfully registered song: %s by %s (ID: %s)", rec.Title, rec.Artist, rec.ID)
	s.respondJSON(w, http.StatusCreated, RegisterResponse{
		Status:       "success",
		Message:      fmt.Sprintf("Song registered: %s - %s", rec.Artist, rec.Title),
		ID:           rec.ID,
		Title:        rec.Title,
		Artist:       rec.Artist,
		Album:        rec.Album,
		Fingerprints: count,
	})
}

// handleMatchFile handles POST /api/match (multipart file upload)
func (s *Server) handleMatchFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	path, cleanup, err := s.saveUpload(r, "audio", "file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	result, candidates, err := s.service.IdentifyFile(ctx, path)
	if err != nil {
		s.log.Errorf("Failed to match song: %v", err)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to match song: %v", err))
		return
	}
	s.respondMatch(ctx, w, result, candidates)
}

// handleMatchHashes handles POST /api/match/hashes (hash-based matching for WASM clients)
func (s *Server) handleMatchHashes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req MatchHashesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)).Decode(&req); err != nil {
		s.log.Errorf("Failed to decode request: %v", err)
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch n := len(req.Hashes); {
	case n > MaxHashesSoftLimit:
		s.log.Warnf("Hash batch of %d exceeds recommended %d", n, MaxHashesSoftLimit)
	case n >= HashWarningThreshold:
		s.log.Warnf("Large hash batch received: %d hashes", n)
	}

	result, candidates, err := s.service.IdentifyFingerprints(ctx, req.ToFingerprints())
	if err != nil {
		s.log.Errorf("Failed to match hashes: %v", err)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to match hashes: %v", err))
		return
	}
	s.respondMatch(ctx, w, result, candidates)
}

func (s *Server) respondMatch(ctx context.Context, w http.ResponseWriter, result models.MatchResult, candidates []models.Candidate) {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.RecordingID
	}
	recs, err := s.service.GetRecordings(ctx, ids)
	if err != nil {
		s.log.Warnf("Failed to load candidate metadata: %v", err)
	}

	matches := make([]MatchResultDTO, 0, len(candidates))
	for _, c := range candidates {
		dto := MatchResultDTO{
			RecordingID:   c.RecordingID,
			Score:         c.Score,
			TotalHits:     c.TotalHits,
			OffsetSeconds: c.Offset,
			Confidence:    matcher.Confidence(c.Score),
		}
		if rec, ok := recs[c.RecordingID]; ok {
			dto.Title, dto.Artist, dto.Album = rec.Title, rec.Artist, rec.Album
		}
		matches = append(matches, dto)
	}

	s.log.Infof("Match complete: status=%s, %d candidates", result.Status, len(matches))
	s.respondJSON(w, http.StatusOK, MatchResponse{
		Result:  result,
		Matches: matches,
		Count:   len(matches),
	})
}

// saveUpload copies the first present form file into a private temp dir,
// keeping its base name so registration can derive ids and titles from it.
func (s *Server) saveUpload(r *http.Request, fields ...string) (string, func(), error) {
	var (
		file   multipart.File
		header *multipart.FileHeader
		err    error
	)
	for _, field := range fields {
		if file, header, err = r.FormFile(field); err == nil {
			break
		}
	}
	if file == nil {
		return "", nil, fmt.Errorf("%s file is required", fields[0])
	}
	defer file.Close()

	if err := utils.MakeDir(s.config.TempDir); err != nil {
		return "", nil, err
	}
	dir, err := os.MkdirTemp(s.config.TempDir, "upload-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to process upload: %w", err)
	}
	cleanup := func() { _ = utils.DeleteDir(dir) }

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload"
	}
	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to process upload: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to save uploaded file: %w", err)
	}
	if err := out.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// handleSongs routes requests to /api/songs
func (s *Server) handleSongs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSongs(w, r)
	case http.MethodPost:
		s.handleRegister(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleSong routes requests to /api/songs/{id}
func (s *Server) handleSong(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/songs/")
	if id == "" || strings.Contains(id, "/") {
		s.respondError(w, http.StatusBadRequest, "Song ID required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetSong(w, r, id)
	case http.MethodDelete:
		s.handleDeleteSong(w, r, id)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleMatch routes requests to /api/match
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleMatchFile(w, r)
}

// handleMatchHashesRoute routes requests to /api/match/hashes
func (s *Server) handleMatchHashesRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleMatchHashes(w, r)
}
