package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/himanishpuri/EarPrint/pkg/earprint"
)

// handleAudio routes /audio: GET is the webhook setup probe, POST carries a
// raw mono s16le chunk for ?uid=&sample_rate=.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, map[string]bool{"is_setup_completed": true})
	case http.MethodPost:
		s.handleIngest(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	uid := strings.TrimSpace(r.URL.Query().Get("uid"))
	if uid == "" {
		s.respondError(w, http.StatusBadRequest, "uid is required")
		return
	}
	rate, err := strconv.Atoi(r.URL.Query().Get("sample_rate"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "sample_rate must be an integer")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxChunkBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("chunk exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.respondError(w, http.StatusBadRequest, "Failed to read audio body")
		return
	}

	res, err := s.sessions.Ingest(r.Context(), uid, body, rate)
	if err != nil {
		status := ingestStatus(err)
		if status >= http.StatusInternalServerError {
			s.log.Errorf("Error processing audio for user %s: %v", uid, err)
		} else {
			s.log.Warnf("Rejected chunk from %s: %v", uid, err)
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.log.Debugf("Received %d bytes from %s at %d Hz, buffer %.2fs (%s)", len(body), uid, rate, res.BufferSeconds, res.State)

	s.respondJSON(w, http.StatusOK, AudioResponse{
		Status:        "ok",
		ReceivedBytes: len(body),
		UID:           uid,
		State:         res.State,
		BufferSeconds: res.BufferSeconds,
		Attempted:     res.Attempted,
		Result:        res.Result,
	})
}

func ingestStatus(err error) int {
	switch {
	case errors.Is(err, earprint.ErrInvalidSampleRate),
		errors.Is(err, earprint.ErrSampleRateMismatch),
		errors.Is(err, earprint.ErrMalformedChunk):
		return http.StatusBadRequest
	case errors.Is(err, earprint.ErrManagerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleStats handles GET /stats/{uid}
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := strings.TrimPrefix(r.URL.Path, "/stats/")
	snap, ok := s.sessions.Stats(uid)
	if !ok {
		s.respondError(w, http.StatusNotFound, "User not found")
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

// handleClearBuffer handles DELETE /buffer/{uid}
func (s *Server) handleClearBuffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := strings.TrimPrefix(r.URL.Path, "/buffer/")
	if !s.sessions.Clear(uid) {
		s.respondError(w, http.StatusNotFound, "User not found")
		return
	}
	s.respondJSON(w, http.StatusOK, StatusResponse{
		Status:  "ok",
		Message: fmt.Sprintf("Buffer cleared for user %s", uid),
	})
}
