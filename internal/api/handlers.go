// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/xapiwatch/internal/xapi"
	"github.com/ManuGH/xapiwatch/internal/xapi/record"
)

// StatusResponse is the body of /api/v1/status.
type StatusResponse struct {
	ClientID    string      `json:"clientId"`
	Status      xapi.Status `json:"status"`
	Endpoint    string      `json:"endpoint,omitempty"`
	ReadOnly    bool        `json:"readOnly"`
	WatchEvents bool        `json:"watchEvents"`
	EventMode   string      `json:"eventMode"`
	Objects     int         `json:"objects"`
	Pool        string      `json:"pool,omitempty"`
	Version     string      `json:"version,omitempty"`
}

// ObjectsResponse is the body of /api/v1/objects.
type ObjectsResponse struct {
	Count   int              `json:"count"`
	Objects []*record.Record `json:"objects"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		ClientID:    s.src.ID(),
		Status:      s.src.Status(),
		Endpoint:    s.cfg.Endpoint,
		ReadOnly:    s.src.ReadOnly(),
		WatchEvents: s.src.WatchesEvents(),
		EventMode:   s.src.EventMode(),
		Objects:     s.src.ObjectCount(),
		Version:     s.cfg.Version,
	}
	if pool := s.src.Pool(); pool != nil {
		resp.Pool = pool.ID()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	if !s.src.WatchesEvents() {
		writeServiceUnavailable(w, xapi.ErrEventsDisabled)
		return
	}
	objs := s.src.Objects(r.URL.Query().Get("type"))
	if objs == nil {
		objs = []*record.Record{}
	}
	record.SortByID(objs)
	writeJSON(w, http.StatusOK, ObjectsResponse{Count: len(objs), Objects: objs})
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	obj, err := s.src.GetObject(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, xapi.ErrEventsDisabled):
		writeServiceUnavailable(w, err)
	case errors.Is(err, xapi.ErrNoSuchObject):
		writeNotFound(w)
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, obj)
	}
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeNotFound writes a 404 Not Found response
func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

// writeServiceUnavailable writes a 503 Service Unavailable response
func writeServiceUnavailable(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
}
