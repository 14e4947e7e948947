package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/robertmeta/podcatch/model"
	"github.com/robertmeta/podcatch/overlay"
)

type openPageRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

type clickRequest struct {
	Text string `json:"text"`
}

type fieldRequest struct {
	Field string `json:"field"`
}

type htmlRequest struct {
	HTML string `json:"html"`
}

type detectRequest struct {
	URL string `json:"url"`
}

type exportRequest struct {
	Dir string `json:"dir"`
}

// Handler returns the control API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /pages", s.handleOpenPage)
	mux.HandleFunc("GET /pages/{id}", s.handleSnapshot)
	mux.HandleFunc("DELETE /pages/{id}", s.handleClosePage)
	mux.HandleFunc("POST /pages/{id}/focus", s.handleFocus)
	mux.HandleFunc("POST /pages/{id}/click", s.handleClick)
	mux.HandleFunc("POST /pages/{id}/field", s.handleField)
	mux.HandleFunc("POST /pages/{id}/html", s.handleHTML)
	mux.HandleFunc("POST /pages/{id}/add", s.handleAdd)
	mux.HandleFunc("DELETE /pages/{id}/records", s.handleRemove)

	mux.HandleFunc("POST /detect", s.handleDetect)
	mux.HandleFunc("POST /export", s.handleExport)
	mux.HandleFunc("POST /toggle", s.handleToggle)
	mux.HandleFunc("GET /records", s.handleRecords)

	return mux
}

func (s *Server) handleOpenPage(w http.ResponseWriter, r *http.Request) {
	var req openPageRequest
	if !decode(w, r, &req) {
		return
	}

	id, state, err := s.OpenPage(r.Context(), req.URL, req.HTML)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":    id,
		"state": state,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.page(w, r)
	if !ok {
		return
	}
	s.respondState(w, r, ov, nil)
}

func (s *Server) handleClosePage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.ClosePage(id); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Focus(id); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"focused": id,
	})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.page(w, r)
	if !ok {
		return
	}
	var req clickRequest
	if !decode(w, r, &req) {
		return
	}
	s.respondState(w, r, ov, ov.Click(r.Context(), req.Text))
}

func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.page(w, r)
	if !ok {
		return
	}
	var req fieldRequest
	if !decode(w, r, &req) {
		return
	}
	field, err := model.ParseField(req.Field)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.respondState(w, r, ov, ov.FocusField(r.Context(), field))
}

func (s *Server) handleHTML(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.page(w, r)
	if !ok {
		return
	}
	var req htmlRequest
	if !decode(w, r, &req) {
		return
	}
	s.respondState(w, r, ov, ov.SetHTML(r.Context(), req.HTML))
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.page(w, r)
	if !ok {
		return
	}
	s.respondState(w, r, ov, ov.Add(r.Context()))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.page(w, r)
	if !ok {
		return
	}
	recordURL := r.URL.Query().Get("url")
	if recordURL == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("url query parameter is required"))
		return
	}
	s.respondState(w, r, ov, ov.Remove(r.Context(), recordURL))
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Detector == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("detector is not configured"))
		return
	}
	var req detectRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"url":     req.URL,
		"matched": s.deps.Detector.Observe(req.URL),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("exporter is not configured"))
		return
	}
	var req exportRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	dir := strings.TrimSpace(req.Dir)
	if dir == "" {
		dir = s.opts.ExportDir
	}

	plan, err := s.deps.Exporter.ExportAll(r.Context(), dir)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, plan)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("exporter is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"delivered": s.deps.Exporter.RequestToggleOverlay(),
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Records.Load(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(list),
		"records": list,
	})
}

func (s *Server) page(w http.ResponseWriter, r *http.Request) (*overlay.Overlay, bool) {
	ov, err := s.Page(r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return nil, false
	}
	return ov, true
}

// respondState answers with the page state after an action, or with the
// action's error.
func (s *Server) respondState(w http.ResponseWriter, r *http.Request, ov *overlay.Overlay, actionErr error) {
	if actionErr != nil {
		s.writeError(w, statusFor(actionErr), actionErr)
		return
	}
	state, err := ov.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrPageNotFound):
		return http.StatusNotFound
	case errors.Is(err, overlay.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
