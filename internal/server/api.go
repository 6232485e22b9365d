package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sjawhar/livescribe/internal/audio"
	"github.com/sjawhar/livescribe/internal/session"
	"github.com/sjawhar/livescribe/internal/storage"
)

const defaultTitle = "Untitled Session"

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type SessionStore interface {
	CreateSession(sess storage.Session) error
	GetSession(id string) (storage.Session, error)
	ListSessions(status string) ([]storage.Session, error)
	UpdateSession(id string, update storage.SessionUpdate) error
	DeleteSession(id string) error
	GetChunks(sessionID string) ([]storage.Chunk, error)
	GetChunkAudio(sessionID string, sequence int) ([]byte, error)
}

type createSessionRequest struct {
	Title       string `json:"title"`
	AudioSource string `json:"audio_source"`
}

type updateSessionRequest struct {
	Title *string `json:"title"`
}

func registerAPIRoutes(mux *http.ServeMux, store SessionStore, status StatusHooks) {
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := store.ListSessions(r.URL.Query().Get("status"))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
			return
		}
		if sessions == nil {
			sessions = []storage.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	})

	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = defaultTitle
		}
		sess := storage.Session{
			ID:          uuid.NewString(),
			Title:       title,
			AudioSource: string(session.ParseAudioSource(req.AudioSource)),
			Status:      storage.StatusIdle,
		}
		if err := store.CreateSession(sess); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("create session: %v", err))
			return
		}

		created, err := store.GetSession(sess.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get session: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := pathSessionID(w, r)
		if !ok {
			return
		}

		sessionData, err := store.GetSession(sessionID)
		if err != nil {
			writeStoreError(w, "get session", err)
			return
		}

		chunks, err := store.GetChunks(sessionID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get session chunks: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"session": sessionData,
			"chunks":  chunks,
		})
	})

	mux.HandleFunc("PATCH /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := pathSessionID(w, r)
		if !ok {
			return
		}

		var req updateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == nil {
			writeJSONError(w, http.StatusBadRequest, "title is required")
			return
		}
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			title = defaultTitle
		}

		if err := store.UpdateSession(sessionID, storage.SessionUpdate{Title: &title}); err != nil {
			writeStoreError(w, "update session", err)
			return
		}

		updated, err := store.GetSession(sessionID)
		if err != nil {
			writeStoreError(w, "get session", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	})

	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := pathSessionID(w, r)
		if !ok {
			return
		}

		sess, err := store.GetSession(sessionID)
		if err != nil {
			writeStoreError(w, "get session", err)
			return
		}
		switch sess.Status {
		case storage.StatusRecording, storage.StatusPaused, storage.StatusProcessing:
			writeJSONError(w, http.StatusConflict, "session is active")
			return
		}

		if err := store.DeleteSession(sessionID); err != nil {
			writeStoreError(w, "delete session", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/sessions/{id}/chunks/{sequence}/audio", func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := pathSessionID(w, r)
		if !ok {
			return
		}
		sequence, err := strconv.Atoi(r.PathValue("sequence"))
		if err != nil || sequence < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid sequence")
			return
		}

		data, err := store.GetChunkAudio(sessionID, sequence)
		if err != nil {
			writeStoreError(w, "get chunk audio", err)
			return
		}
		if len(data) == 0 {
			writeJSONError(w, http.StatusNotFound, "audio not available")
			return
		}

		contentType := "application/octet-stream"
		if format := audio.Sniff(data); format != audio.FormatUnknown {
			contentType = format.MIMEType()
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		active := 0
		if status.ActiveSessions != nil {
			active = status.ActiveSessions()
		}
		var warnings []string
		if status.Warnings != nil {
			warnings = status.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"active_sessions": active, "warnings": warnings})
	})
}

func pathSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := r.PathValue("id")
	if !validSessionID(sessionID) {
		writeJSONError(w, http.StatusForbidden, "invalid session id")
		return "", false
	}
	return sessionID, true
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func writeStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", op, err))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
