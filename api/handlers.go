package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Suhridx/pump-dashboard/auth"
	"github.com/Suhridx/pump-dashboard/device"
	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/gate"
	"github.com/Suhridx/pump-dashboard/health"
	"github.com/Suhridx/pump-dashboard/pkg/timestamp"
	"github.com/Suhridx/pump-dashboard/view"
)

// StreamStatusHeader carries the text log status on GET /api/view/log.
const StreamStatusHeader = "X-Stream-Status"

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

type requestAccepted struct {
	Kind string `json:"kind"`
}

type backfillResponse struct {
	Folder  string `json:"folder"`
	File    string `json:"file"`
	Records int    `json:"records"`
	Skipped int    `json:"skipped"`
	At      int64  `json:"at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Status: status})
}

// statusFor maps a command error to an HTTP status.
func statusFor(err error) int {
	var cooldown *gate.CooldownError
	switch {
	case stderrors.As(err, &cooldown):
		return http.StatusTooManyRequests
	case stderrors.Is(err, errors.ErrInvalidRequest), stderrors.Is(err, errors.ErrInvalidData):
		return http.StatusBadRequest
	case stderrors.Is(err, errors.ErrNotConnected), stderrors.Is(err, errors.ErrStreamBusy):
		return http.StatusConflict
	case stderrors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case stderrors.Is(err, errors.ErrPublishFailed), stderrors.Is(err, errors.ErrArchiveUnavailable):
		return http.StatusBadGateway
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeCommandError writes err with its mapped status. Cooldown rejections
// carry Retry-After in whole seconds, rounded up.
func writeCommandError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var cooldown *gate.CooldownError
	if stderrors.As(err, &cooldown) {
		secs := int((cooldown.RetryAfter + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = health.Sanitize(msg)
	}
	writeError(w, status, msg)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

func (s *Server) currentView() *view.View {
	if v := s.session.View(); v != nil {
		return v
	}
	return view.Empty()
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.currentView())
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "domain")
	d, ok := device.ParseDomain(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown domain "+strconv.Quote(name))
		return
	}
	raw, ok := s.currentView().Domain(d)
	if !ok {
		writeError(w, http.StatusNotFound, "no "+name+" state received yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request) {
	lv := s.currentView().Log
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(StreamStatusHeader, lv.Status.String())
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, lv.Text())
}

func (s *Server) handleLevels(w http.ResponseWriter, _ *http.Request) {
	lv := s.currentView().Levels
	if lv.Records == nil {
		lv.Records = []device.LevelRecord{}
	}
	writeJSON(w, http.StatusOK, lv)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	req, err := s.session.Send(r.Context(), body)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestAccepted{Kind: req.Kind})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var err error
	switch chi.URLParam(r, "stream") {
	case "log":
		err = s.session.ClearLog(r.Context())
	case "levels":
		err = s.session.ClearLevels(r.Context())
	default:
		writeError(w, http.StatusNotFound, "unknown stream")
		return
	}
	if err != nil {
		writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var id auth.Identity
	if err := json.Unmarshal(body, &id); err != nil {
		writeError(w, http.StatusBadRequest, "identity must be a JSON object")
		return
	}
	if err := id.Validate(); err != nil {
		writeCommandError(w, err)
		return
	}
	if err := s.session.Ready(r.Context(), id); err != nil {
		writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Revoke(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.archive.ListFolders(r.Context())
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

// handleFile always answers 200; archive failures come back as in-band
// error documents.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	file := r.URL.Query().Get("file")
	if folder == "" || file == "" {
		writeError(w, http.StatusBadRequest, "folder and file are required")
		return
	}
	writeJSON(w, http.StatusOK, s.archive.Fetch(r.Context(), folder, file))
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if s.backfill == nil {
		writeError(w, http.StatusServiceUnavailable, "backfill is not configured")
		return
	}
	res, err := s.backfill.Run(r.Context())
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backfillResponse{
		Folder:  res.Folder,
		File:    res.File,
		Records: res.Records,
		Skipped: res.Skipped,
		At:      timestamp.ToUnixMs(res.At),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.monitor.AggregateHealth("pumpview")
	status := http.StatusOK
	if st.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}
	if s.registry != nil {
		s.registry.CoreMetrics().RecordHealthStatus("session", !st.IsUnhealthy())
	}
	writeJSON(w, status, st)
}
