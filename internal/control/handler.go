// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package control exposes the HTTP surface the desktop GUI drives:
// starting preview and forward runs, cancelling, streaming progress
// events, and managing named recipient configurations.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/royalpayne/docushuttle/internal/filter"
	"github.com/royalpayne/docushuttle/internal/models"
	"github.com/royalpayne/docushuttle/internal/run"
)

// ConfigStore persists named recipient configurations.
type ConfigStore interface {
	SaveConfig(ctx context.Context, name string, cfg *models.RecipientConfig) error
	LoadConfig(ctx context.Context, name string) (*models.RecipientConfig, error)
	ListConfigNames(ctx context.Context) ([]string, error)
	DeleteConfig(ctx context.Context, name string) (bool, error)
}

// Pinger is a health-checkable dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the control API.
type Handler struct {
	mgr     *run.Manager
	configs ConfigStore
	health  map[string]Pinger
}

// NewHandler creates the control handler. health maps a dependency name
// to its ping check.
func NewHandler(mgr *run.Manager, configs ConfigStore, health map[string]Pinger) *Handler {
	return &Handler{mgr: mgr, configs: configs, health: health}
}

// Router builds the chi router for the control API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.getHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", h.startRun)
		r.Route("/runs/current", func(r chi.Router) {
			r.Get("/", h.getCurrentRun)
			r.Post("/cancel", h.cancelRun)
			r.Get("/events", h.streamEvents)
		})

		r.Get("/configs", h.listConfigs)
		r.Route("/configs/{name}", func(r chi.Router) {
			r.Get("/", h.getConfig)
			r.Put("/", h.putConfig)
			r.Delete("/", h.deleteConfig)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	for name, p := range h.health {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("%s unhealthy", name))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// startRunRequest starts a run from an inline config or a saved name.
type startRunRequest struct {
	Mode       string                  `json:"mode"`
	ConfigName string                  `json:"config_name,omitempty"`
	Config     *models.RecipientConfig `json:"config,omitempty"`
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var mode run.Mode
	switch req.Mode {
	case string(run.ModePreview):
		mode = run.ModePreview
	case string(run.ModeForward):
		mode = run.ModeForward
	default:
		writeError(w, http.StatusBadRequest, "mode must be preview or forward")
		return
	}

	cfg := req.Config
	if cfg == nil {
		if req.ConfigName == "" {
			writeError(w, http.StatusBadRequest, "config or config_name required")
			return
		}
		loaded, err := h.configs.LoadConfig(r.Context(), req.ConfigName)
		if err != nil {
			slog.Error("load config failed", "name", req.ConfigName, "error", err)
			writeError(w, http.StatusInternalServerError, "load config failed")
			return
		}
		if loaded == nil {
			writeError(w, http.StatusNotFound, "config not found")
			return
		}
		cfg = loaded
	}

	started, err := h.mgr.Start(cfg, mode)
	if err != nil {
		var vErr *models.ValidationError
		var iErr *filter.InjectionError
		switch {
		case errors.Is(err, run.ErrRunActive):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &vErr), errors.As(err, &iErr):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("start run failed", "error", err)
			writeError(w, http.StatusInternalServerError, "start run failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": started.ID,
		"mode":   string(started.Mode),
	})
}

func (h *Handler) getCurrentRun(w http.ResponseWriter, r *http.Request) {
	active := h.mgr.Active()
	if active == nil {
		writeError(w, http.StatusNotFound, "no run")
		return
	}
	summary := active.Summary()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  active.ID,
		"mode":    string(active.Mode),
		"done":    active.Done(),
		"summary": summary,
	})
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	if !h.mgr.Cancel() {
		writeError(w, http.StatusNotFound, "no active run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// streamEvents streams the active run's progress as Server-Sent Events
// until the run reaches a terminal state.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	active := h.mgr.Active()
	if active == nil {
		writeError(w, http.StatusNotFound, "no run")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-active.Events():
			if !open {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				slog.Error("marshal event failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
			flusher.Flush()
		}
	}
}

func (h *Handler) listConfigs(w http.ResponseWriter, r *http.Request) {
	names, err := h.configs.ListConfigNames(r.Context())
	if err != nil {
		slog.Error("list configs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list configs failed")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"names": names})
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cfg, err := h.configs.LoadConfig(r.Context(), name)
	if err != nil {
		slog.Error("load config failed", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "load config failed")
		return
	}
	if cfg == nil {
		writeError(w, http.StatusNotFound, "config not found")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var cfg models.RecipientConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := filter.ValidateKeyword(cfg.SubjectKeyword); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.configs.SaveConfig(r.Context(), name, &cfg); err != nil {
		slog.Error("save config failed", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "save config failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	deleted, err := h.configs.DeleteConfig(r.Context(), name)
	if err != nil {
		slog.Error("delete config failed", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "delete config failed")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "config not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
