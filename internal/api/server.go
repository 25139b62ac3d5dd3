// Package api exposes the admin/status HTTP interface on a separate listener
// from the WebSocket port.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v3/mem"

	"thermoscope/internal/export"
	"thermoscope/internal/model"
	"thermoscope/internal/monitor"
	"thermoscope/internal/store"
	"thermoscope/internal/util"
	"thermoscope/internal/ws"
)

type Server struct {
	registry  *ws.Registry
	engine    *monitor.Engine
	store     *store.Store // nil when persistence is disabled
	startedAt time.Time
}

func NewServer(registry *ws.Registry, engine *monitor.Engine, st *store.Store) *Server {
	return &Server{
		registry:  registry,
		engine:    engine,
		store:     st,
		startedAt: time.Now().UTC(),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", s.handleListConnections)
			r.Delete("/{connID}", s.handleDropConnection)
		})

		r.Route("/monitor", func(r chi.Router) {
			r.Post("/start", s.handleMonitorStart)
			r.Post("/stop", s.handleMonitorStop)
		})

		r.Route("/readings", func(r chi.Router) {
			r.Get("/", s.handleListReadings)
			r.Get("/latest", s.handleLatestReading)
			r.Get("/export", s.handleExportReadings)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var free uint64
	if stat, err := mem.VirtualMemory(); err == nil {
		free = stat.Available
	}
	now := time.Now().UTC()
	util.WriteJSON(w, http.StatusOK, model.StatusReport{
		Clients:        s.registry.Len(),
		MaxClients:     s.registry.Max(),
		MonitorRunning: s.engine.IsRunning(),
		FreeMemory:     free,
		StartedAt:      s.startedAt,
		UptimeSec:      int64(now.Sub(s.startedAt).Seconds()),
	})
}

func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	util.WriteJSON(w, http.StatusOK, s.registry.Infos())
}

func (s *Server) handleDropConnection(w http.ResponseWriter, r *http.Request) {
	connID, err := strconv.ParseUint(chi.URLParam(r, "connID"), 10, 64)
	if err != nil || connID < 1 {
		util.WriteError(w, http.StatusBadRequest, "invalid connection id")
		return
	}

	if _, ok := s.registry.Get(connID); !ok {
		util.WriteError(w, http.StatusNotFound, "connection not found")
		return
	}
	s.registry.Remove(connID)
	util.WriteJSON(w, http.StatusOK, map[string]any{"dropped": connID})
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, _ *http.Request) {
	s.engine.Start()
	util.WriteJSON(w, http.StatusOK, map[string]any{"running": true})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, _ *http.Request) {
	stopped := s.engine.Stop()
	util.WriteJSON(w, http.StatusOK, map[string]any{"running": false, "stopped": stopped})
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		util.WriteError(w, http.StatusServiceUnavailable, "history store is disabled")
		return
	}

	start, end, limit, err := parseRangeQuery(r)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := s.store.ListReadings(r.Context(), start, end, limit)
	if err != nil {
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	util.WriteJSON(w, http.StatusOK, readings)
}

func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		util.WriteError(w, http.StatusServiceUnavailable, "history store is disabled")
		return
	}

	reading, err := s.store.LatestReading(r.Context())
	if errors.Is(err, store.ErrNoReadings) {
		util.WriteError(w, http.StatusNotFound, "no readings recorded yet")
		return
	}
	if err != nil {
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	util.WriteJSON(w, http.StatusOK, reading)
}

func (s *Server) handleExportReadings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		util.WriteError(w, http.StatusServiceUnavailable, "history store is disabled")
		return
	}

	start, end, limit, err := parseRangeQuery(r)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := s.store.ListReadings(r.Context(), start, end, limit)
	if err != nil {
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	workbook, err := export.Workbook(readings)
	if err != nil {
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	filename := fmt.Sprintf("readings-%s.xlsx", time.Now().UTC().Format("2006-01-02-15-04-05"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(workbook)))
	_, _ = w.Write(workbook)
}

func parseRangeQuery(r *http.Request) (start, end time.Time, limit int, err error) {
	end = time.Now().UTC()
	start = end.Add(-24 * time.Hour)

	if raw := strings.TrimSpace(r.URL.Query().Get("start")); raw != "" {
		start, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return start, end, 0, fmt.Errorf("invalid start format, want RFC 3339")
		}
		start = start.UTC()
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("end")); raw != "" {
		end, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return start, end, 0, fmt.Errorf("invalid end format, want RFC 3339")
		}
		end = end.UTC()
	}
	if !start.Before(end) {
		return start, end, 0, fmt.Errorf("start must be before end")
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return start, end, 0, fmt.Errorf("limit must be a positive integer")
		}
	}
	return start, end, limit, nil
}
