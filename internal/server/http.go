package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/muurk/acond/internal/coordinator"
	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/logging"
	"github.com/muurk/acond/internal/registers"
	"go.uber.org/zap"
)

// maxRequestBody limits request bodies of the write endpoints
const maxRequestBody = 4 << 10

// SnapshotResponse is the body of GET /api/snapshot and of WebSocket
// messages
type SnapshotResponse struct {
	Type                string            `json:"type,omitempty"`
	Status              string            `json:"status"`
	Stale               bool              `json:"stale"`
	UpdatedAt           *time.Time        `json:"updated_at,omitempty"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	Error               string            `json:"error,omitempty"`
	Values              map[string]string `json:"values,omitempty"`
}

// RegisterResponse describes one catalog register and its current value
type RegisterResponse struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Key         string           `json:"key"`
	Class       string           `json:"class"`
	Unit        string           `json:"unit,omitempty"`
	Writable    bool             `json:"writable"`
	Min         *float64         `json:"min,omitempty"`
	Max         *float64         `json:"max,omitempty"`
	Options     map[string]int64 `json:"options,omitempty"`
	Raw         *string          `json:"raw,omitempty"`
	Value       *float64         `json:"value,omitempty"`
	Text        string           `json:"text"`
	Error       string           `json:"error,omitempty"`
}

type writeRegisterRequest struct {
	Value *float64 `json:"value"`
}

type writeValueRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func snapshotResponse(snap device.Snapshot, present bool, st coordinator.State) SnapshotResponse {
	resp := SnapshotResponse{
		Status:              string(st.Status),
		Stale:               st.Status == coordinator.StatusStale,
		ConsecutiveFailures: st.ConsecutiveFailures,
	}
	if st.LastError != nil {
		resp.Error = device.ShortMessage(st.LastError)
	}
	if present {
		at := snap.FetchedAt()
		resp.UpdatedAt = &at
		resp.Values = snap.Map()
	}
	return resp
}

func registerResponse(reg registers.Register, snap device.Snapshot, present bool) RegisterResponse {
	resp := RegisterResponse{
		Name:        reg.Name,
		Description: reg.Description,
		Key:         reg.Key,
		Class:       string(reg.Class),
		Unit:        reg.Unit,
		Writable:    reg.Writable(),
		Text:        "n/a",
	}
	if reg.Min != 0 || reg.Max != 0 {
		lo, hi := reg.Min, reg.Max
		resp.Min, resp.Max = &lo, &hi
	}
	if len(reg.Options) > 0 {
		resp.Options = make(map[string]int64, len(reg.Options))
		for _, opt := range reg.Options {
			resp.Options[opt.Label] = opt.Value
		}
	}
	if !present {
		return resp
	}

	if raw, ok := snap.Get(reg.Key); ok {
		resp.Raw = &raw
	}
	resp.Text = snap.RegisterText(reg)
	v, err := snap.Register(reg)
	switch {
	case errors.Is(err, device.ErrKeyMissing):
	case err != nil:
		resp.Error = err.Error()
	default:
		if f, ok := v.Float(); ok {
			resp.Value = &f
		}
	}
	return resp
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.coord.Current()
	st := s.coord.State()
	resp := snapshotResponse(snap, ok, st)
	if !ok {
		writeJSON(w, statusForState(st.Status), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisters(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.coord.Current()
	all := registers.All()
	out := make([]RegisterResponse, 0, len(all))
	for _, reg := range all {
		out = append(out, registerResponse(reg, snap, ok))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	reg, ok := registers.Lookup(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", coordinator.ErrUnknownRegister, r.PathValue("name")))
		return
	}
	snap, present := s.coord.Current()
	if !present {
		writeError(w, statusForState(s.coord.State().Status), errors.New("no data available"))
		return
	}
	writeJSON(w, http.StatusOK, registerResponse(reg, snap, present))
}

func (s *Server) handleWriteRegister(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	reg, ok := registers.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", coordinator.ErrUnknownRegister, name))
		return
	}

	var req writeRegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, errors.New(`missing "value"`))
		return
	}

	if err := s.coord.WriteRegister(r.Context(), reg.Name, *req.Value); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	snap, present := s.coord.Current()
	writeJSON(w, http.StatusOK, registerResponse(reg, snap, present))
}

func (s *Server) handleWriteValue(w http.ResponseWriter, r *http.Request) {
	var req writeValueRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, errors.New(`missing "key"`))
		return
	}

	if err := s.coord.Write(r.Context(), req.Key, req.Value); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.RefreshNow(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(snap, true, s.coord.State()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.coord.State()
	code := http.StatusOK
	if !st.Serving() {
		code = statusForState(st.Status)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(st.Status))
}

// statusForError maps coordinator and device errors to HTTP status codes
func statusForError(err error) int {
	var verr *coordinator.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrUnknownRegister):
		return http.StatusNotFound
	case device.IsAuthError(err):
		return http.StatusUnauthorized
	case device.IsCommunicationError(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, device.ErrEmptyKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func statusForState(status coordinator.Status) int {
	if status == coordinator.StatusAuthFailed {
		return http.StatusUnauthorized
	}
	return http.StatusServiceUnavailable
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	msg := err.Error()
	if device.IsAuthError(err) || device.IsCommunicationError(err) {
		msg = device.ShortMessage(err)
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

// statusRecorder captures the response code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade take over the connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
