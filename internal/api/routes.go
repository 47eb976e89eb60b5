package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-clipper/internal/annotation"
	"github.com/heimdex/heimdex-clipper/internal/jobs"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/session"
)

// handlers carries the router's dependencies. Session commands run one at a
// time under mu.
type handlers struct {
	cfg ServerConfig
	mu  sync.Mutex
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	h := &handlers{cfg: cfg}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", h.status)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.sessionStatus)
			r.Get("/videos", h.sessionVideos)
			r.Post("/mark", h.mark)
			r.Post("/undo", h.undo)
			r.Post("/cursor", h.cursor)
			r.Post("/next", h.next)
			r.Post("/previous", h.previous)
			r.Post("/save", h.save)
		})

		r.Post("/extract", h.extract)
		r.Get("/jobs", h.listJobs)
		r.Get("/jobs/{id}", h.getJob)
		r.Get("/jobs/{id}/clips", h.listClips)
		r.Post("/runner/pause", h.pauseRunner)
		r.Post("/runner/resume", h.resumeRunner)

		r.Post("/export/edl", h.exportEDL)

		r.With(LoopbackGuard()).Get("/clips/{name}", h.clip)
		r.With(LoopbackGuard()).Head("/clips/{name}", h.clip)
	})

	return r
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: h.cfg.Version,
		UptimeS: int64(time.Since(h.cfg.StartTime).Seconds()),
	}
	if h.cfg.Doctor != nil {
		resp.Media = MediaToStatus(h.cfg.Doctor.Peek())
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recent, _ := h.cfg.Repository.ListJobs(ctx, 10)

	state := "idle"
	var activeJob *JobResponse
	jobsRunning := 0
	lastError := ""

	if h.cfg.Runner != nil && h.cfg.Runner.IsPaused() {
		state = "paused"
	}

	for _, j := range recent {
		if j.Status == jobs.JobStatusRunning {
			state = "extracting"
			resp := JobToResponse(j)
			activeJob = &resp
			jobsRunning++
		}
		if j.Status == jobs.JobStatusFailed && lastError == "" {
			lastError = j.Error
		}
	}

	if lastError != "" && state == "idle" {
		state = "error"
	}

	resp := StatusResponse{
		State:       state,
		LastError:   lastError,
		JobsRunning: jobsRunning,
		ActiveJob:   activeJob,
	}
	if h.cfg.Session != nil {
		h.mu.Lock()
		st := h.cfg.Session.Status()
		h.mu.Unlock()
		resp.Session = &st
	}
	WriteJSON(w, http.StatusOK, resp)
}

// withSession runs fn under the session lock, answering 503 when the server
// was started without videos.
func (h *handlers) withSession(w http.ResponseWriter, fn func(s *session.Context)) {
	if h.cfg.Session == nil {
		WriteError(w, http.StatusServiceUnavailable, "no annotation session", "NO_SESSION")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.cfg.Session)
}

func (h *handlers) sessionStatus(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, func(s *session.Context) {
		WriteJSON(w, http.StatusOK, s.Status())
	})
}

func (h *handlers) sessionVideos(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, func(s *session.Context) {
		WriteJSON(w, http.StatusOK, VideosResponse{Videos: s.Videos(), Current: s.Status().Position})
	})
}

func (h *handlers) mark(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}

	frame := 0
	switch {
	case req.Frame != nil:
		frame = *req.Frame
	case req.TimeMs != nil:
		if req.FPS <= 0 {
			WriteError(w, http.StatusBadRequest, "fps is required with time_ms", "BAD_REQUEST")
			return
		}
		frame = media.FrameAt(*req.TimeMs, req.FPS)
	default:
		WriteError(w, http.StatusBadRequest, "frame or time_ms is required", "BAD_REQUEST")
		return
	}

	h.withSession(w, func(s *session.Context) {
		key, err := s.Mark(r.Context(), req.Position, frame)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, MarkResponse{Key: key.String(), Frame: frame, Cursor: s.Cursor().String()})
	})
}

func (h *handlers) undo(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, func(s *session.Context) {
		resp := UndoResponse{}
		if key, ok := s.Undo(); ok {
			resp.Removed = key.String()
		}
		resp.Cursor = s.Cursor().String()
		WriteJSON(w, http.StatusOK, resp)
	})
}

func (h *handlers) cursor(w http.ResponseWriter, r *http.Request) {
	var req CursorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}

	h.withSession(w, func(s *session.Context) {
		switch req.Action {
		case "advance":
			s.AdvanceCursor()
		case "regress":
			s.RegressCursor()
		case "reset":
			s.ResetCursor()
		case "seek":
			key, err := annotation.ParseKey(req.Key)
			if err == nil {
				err = s.SeekCursor(key)
			}
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_KEY")
				return
			}
		default:
			WriteError(w, http.StatusBadRequest, "action must be advance, regress, reset or seek", "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusOK, CursorResponse{Cursor: s.Cursor().String()})
	})
}

func (h *handlers) next(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, func(s *session.Context) {
		move, err := s.Next()
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, MoveResponse{Move: move, Status: s.Status()})
	})
}

func (h *handlers) previous(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, func(s *session.Context) {
		move, err := s.Previous()
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, MoveResponse{Move: move, Status: s.Status()})
	})
}

// save waits for the background writer so the response reflects the disk.
func (h *handlers) save(w http.ResponseWriter, r *http.Request) {
	var (
		done = make(chan error, 1)
		resp SaveResponse
		err  error
	)
	h.withSession(w, func(s *session.Context) {
		rec := s.Record()
		resp = SaveResponse{Record: rec.Name, Keys: rec.Len()}
		err = s.Save(func(err error) { done <- err })
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "SAVE_FAILED")
		}
	})
	if h.cfg.Session == nil || err != nil {
		return
	}

	select {
	case err := <-done:
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "SAVE_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	case <-r.Context().Done():
		WriteError(w, http.StatusServiceUnavailable, "save still pending", "SAVE_PENDING")
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	var dup *annotation.DuplicateAnnotationError
	var unpaired *annotation.UnpairedAnnotationError
	switch {
	case errors.As(err, &dup):
		WriteJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "DUPLICATE_ANNOTATION"})
	case errors.As(err, &unpaired):
		WriteJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "UNPAIRED_ANNOTATION", Missing: keyStrings(unpaired.Missing)})
	case errors.Is(err, session.ErrInvalidPosition), errors.Is(err, session.ErrInvalidFrame):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func (h *handlers) extract(w http.ResponseWriter, r *http.Request) {
	var req jobs.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}

	job, err := h.cfg.Jobs.Enqueue(r.Context(), req)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	if h.cfg.Runner != nil {
		h.cfg.Runner.Wake()
	}
	WriteJSON(w, http.StatusAccepted, ExtractResponse{JobID: job.ID})
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
			return
		}
		limit = n
	}

	list, err := h.cfg.Repository.ListJobs(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
		return
	}

	resp := JobsResponse{Jobs: make([]JobResponse, len(list))}
	for i, j := range list {
		resp.Jobs[i] = JobToResponse(j)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.cfg.Repository.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to get job", "INTERNAL_ERROR")
		return
	}
	if job == nil {
		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
		return
	}
	WriteJSON(w, http.StatusOK, JobToResponse(job))
}

func (h *handlers) listClips(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	job, err := h.cfg.Repository.GetJob(ctx, id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to get job", "INTERNAL_ERROR")
		return
	}
	if job == nil {
		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
		return
	}

	clips, err := h.cfg.Repository.ListClips(ctx, id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list clips", "INTERNAL_ERROR")
		return
	}
	resp := ClipsResponse{Clips: make([]ClipResponse, len(clips))}
	for i, c := range clips {
		resp.Clips[i] = ClipToResponse(c, filepath.Base(c.Path))
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) pauseRunner(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Runner == nil {
		WriteError(w, http.StatusServiceUnavailable, "runner not started", "NO_RUNNER")
		return
	}
	h.cfg.Runner.Pause()
	WriteJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (h *handlers) resumeRunner(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Runner == nil {
		WriteError(w, http.StatusServiceUnavailable, "runner not started", "NO_RUNNER")
		return
	}
	h.cfg.Runner.Resume()
	WriteJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (h *handlers) clip(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PlaybackServer == nil {
		WriteError(w, http.StatusServiceUnavailable, "clip playback not configured", "NO_PLAYBACK")
		return
	}
	if err := h.cfg.PlaybackServer.ServeClip(w, r, chi.URLParam(r, "name")); err != nil {
		h.cfg.Logger.Error("clip playback failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "playback error", "INTERNAL_ERROR")
	}
}
