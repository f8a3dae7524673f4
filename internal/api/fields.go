package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-poller/internal/audit"
	"github.com/nerrad567/gray-logic-poller/internal/directory"
	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// FieldResponse is the body of GET /fields/{moniker}/{field} and of
// WebSocket field events.
// Value is null until the first poll reply arrives.
type FieldResponse struct {
	Name   string                `json:"name"`
	Value  pollengine.Value      `json:"value"`
	State  pollengine.FieldState `json:"state"`
	Serial uint32                `json:"serial"`
}

func fieldResponse(name string, r pollengine.Reading) FieldResponse {
	return FieldResponse{Name: name, Value: r.Value, State: r.State, Serial: r.Serial}
}

// WriteFieldRequest is the body of PUT /fields/{moniker}/{field}.
type WriteFieldRequest struct {
	// Value is the new value in its text form, e.g. "21.5" or "true".
	Value string `json:"value"`

	// Credential is passed to the host for its access check.
	Credential string `json:"credential,omitempty"`
}

// pathParam returns an unescaped URL parameter. Field names may carry
// '#', which clients must percent-encode.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	v, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return v
}

// handleReadField reads a field's cached value, registering it for polling
// on first use. A field in error answers 200 with state "error".
func (s *Server) handleReadField(w http.ResponseWriter, r *http.Request) {
	moniker, field := pathParam(r, "moniker"), pathParam(r, "field")

	reading, err := s.engine.ReadValue(moniker, field)
	if err != nil && !errors.Is(err, pollengine.ErrFieldError) {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fieldResponse(pollengine.FieldName(moniker, field), reading))
}

// handleWriteField writes a value through to the host.
func (s *Server) handleWriteField(w http.ResponseWriter, r *http.Request) {
	moniker, field := pathParam(r, "moniker"), pathParam(r, "field")

	var req WriteFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.engine.WriteField(r.Context(), moniker, field, req.Value, req.Credential)
	s.record(r.Context(), audit.Entry{
		Action: audit.ActionWriteField,
		Target: pollengine.FieldName(moniker, field),
		Value:  req.Value,
		Source: audit.SourceREST,
	}, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.logger.Info("field written via API",
		"field", pollengine.FieldName(moniker, field),
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	w.WriteHeader(http.StatusNoContent)
}

// handleFieldInfo returns a field's definition from the loaded catalog.
func (s *Server) handleFieldInfo(w http.ResponseWriter, r *http.Request) {
	moniker, field := pathParam(r, "moniker"), pathParam(r, "field")

	def, err := s.engine.QueryFieldInfo(moniker, field)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// DriverStateResponse is the body of GET /drivers/{moniker}/state.
type DriverStateResponse struct {
	Moniker string                 `json:"moniker"`
	Host    string                 `json:"host"`
	State   pollengine.DriverState `json:"state"`
}

// handleDriverState reports a driver's last known state and its host.
func (s *Server) handleDriverState(w http.ResponseWriter, r *http.Request) {
	moniker := pathParam(r, "moniker")

	state, err := s.engine.CheckDriverState(moniker)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	host, err := s.engine.HostForMoniker(moniker)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DriverStateResponse{Moniker: moniker, Host: host, State: state})
}

// handleListDirectory returns every moniker to host entry.
func (s *Server) handleListDirectory(w http.ResponseWriter, _ *http.Request) {
	entries := s.directory.Entries()
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// SetEntryRequest is the body of PUT /directory/{moniker}.
type SetEntryRequest struct {
	Host string `json:"host"`
}

// handleSetDirectoryEntry pins a moniker to a host as an operator override.
func (s *Server) handleSetDirectoryEntry(w http.ResponseWriter, r *http.Request) {
	moniker := pathParam(r, "moniker")

	var req SetEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.directory.SetHost(r.Context(), moniker, req.Host, directory.SourceAPI)
	s.record(r.Context(), audit.Entry{Action: audit.ActionSetHost, Target: moniker, Value: req.Host, Source: audit.SourceREST}, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, directory.Entry{Moniker: moniker, Host: req.Host, Source: directory.SourceAPI})
}

// handleDeleteDirectoryEntry removes a moniker from the directory.
func (s *Server) handleDeleteDirectoryEntry(w http.ResponseWriter, r *http.Request) {
	moniker := pathParam(r, "moniker")
	err := s.directory.Remove(r.Context(), moniker)
	s.record(r.Context(), audit.Entry{Action: audit.ActionRemoveHost, Target: moniker, Source: audit.SourceREST}, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
