package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"hls-library/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const maxRequestBody = 1 << 20

// Handler exposes the library HTTP endpoints using go-chi.
type Handler struct {
	store     *SessionStore
	jobs      *JobTracker
	pipeline  *Pipeline
	artifacts *ArtifactServer
	log       *slog.Logger
	metrics   *metrics.Metrics
	readOnly  bool
}

// NewHandler returns a Handler over the given components. In read-only mode
// the submit, poll and delete routes are not mounted.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(store *SessionStore, jobs *JobTracker, p *Pipeline, a *ArtifactServer, log *slog.Logger, m *metrics.Metrics, readOnly bool) *Handler {
	return &Handler{
		store:     store,
		jobs:      jobs,
		pipeline:  p,
		artifacts: a,
		log:       log,
		metrics:   m,
		readOnly:  readOnly,
	}
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/tracks", h.ListTracks)
		r.Get("/mode", h.Mode)
		r.Get("/hls/{session_id}/playlist.m3u8", h.GetPlaylist)
		r.Get("/hls/{session_id}/{segment}", h.GetSegment)

		if h.readOnly {
			return
		}
		r.Delete("/tracks/{track_id}", h.DeleteTrack)
		r.Post("/download", h.SubmitDownload)
		r.Get("/download/{job_id}", h.GetDownload)
	})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListTracks handles GET /api/tracks.
func (h *Handler) ListTracks(w http.ResponseWriter, r *http.Request) {
	entries := h.store.List()
	tracks := make([]Track, 0, len(entries))
	for _, e := range entries {
		tracks = append(tracks, TrackOf(e))
	}
	writeJSON(w, http.StatusOK, tracks)
}

// Mode handles GET /api/mode.
func (h *Handler) Mode(w http.ResponseWriter, r *http.Request) {
	mode := "readwrite"
	if h.readOnly {
		mode = "readonly"
	}
	writeJSON(w, http.StatusOK, map[string]any{"readonly": h.readOnly, "mode": mode})
}

// GetPlaylist handles GET /api/hls/{session_id}/playlist.m3u8.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	data, err := h.artifacts.Manifest(sessionID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", manifestContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetSegment handles GET /api/hls/{session_id}/{segment}. Forbidden names get
// the same response as missing ones.
func (h *Handler) GetSegment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	name := chi.URLParam(r, "segment")
	// chi routes on RawPath when it is set, leaving params escaped.
	if r.URL.RawPath != "" {
		var err error
		if name, err = url.PathUnescape(name); err != nil {
			http.NotFound(w, r)
			return
		}
	}

	f, err := h.artifacts.OpenSegment(sessionID, name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", segmentContentType)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// SubmitDownload handles POST /api/download.
// Body: { "url": "https://example.test/a", "title": "Song A" }.
func (h *Handler) SubmitDownload(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug("invalid download body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := h.pipeline.Submit(req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, job)
	case errors.Is(err, ErrDuplicateOrigin):
		writeJSON(w, http.StatusConflict, map[string]string{"id": job.ID, "error": err.Error()})
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("submit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// GetDownload handles GET /api/download/{job_id}.
func (h *Handler) GetDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Get(chi.URLParam(r, "job_id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteTrack handles DELETE /api/tracks/{track_id}. The track id is the
// session's content key.
func (h *Handler) DeleteTrack(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "track_id")

	sess, ok := h.store.Remove(key)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := os.RemoveAll(sess.SegmentsDir); err != nil {
		h.log.Warn("failed to delete segments dir",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
	}
	h.store.Persist()

	h.log.Info("track deleted", slog.String("session_id", sess.ID), slog.String("title", sess.Title))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Track '%s' deleted", sess.Title),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
