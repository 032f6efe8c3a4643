package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/acond/internal/coordinator"
	"github.com/muurk/acond/internal/device"
)

type fakeFetcher struct {
	mu       sync.Mutex
	values   map[string]string
	err      error
	writeErr error
	writes   []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{values: map[string]string{
		"__T46AA2571_REAL_.1f": "21.5",
		"__T05D9E707_REAL_.1f": "22.0",
		"__T61E4AC91_BOOL_i":   "0",
	}}
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context) (device.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return device.Snapshot{}, f.err
	}
	return device.NewSnapshot(f.values, time.Now()), nil
}

func (f *fakeFetcher) WriteValue(ctx context.Context, key, value string) (device.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return device.Snapshot{}, f.writeErr
	}
	f.writes = append(f.writes, key+"="+value)
	f.values[key] = value
	return device.Snapshot{}, nil
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// newTestServer returns a server over a fake controller, refreshed once when
// refresh is true
func newTestServer(t *testing.T, refresh bool) (*Server, *fakeFetcher, *httptest.Server) {
	t.Helper()

	f := newFakeFetcher()
	coord := coordinator.New(f, coordinator.Options{})
	t.Cleanup(coord.Stop)
	if refresh {
		if _, err := coord.RefreshNow(context.Background()); err != nil {
			t.Fatalf("RefreshNow() error = %v", err)
		}
	}

	srv, err := New(Config{}, coord)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, f, ts
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestSnapshot(t *testing.T) {
	_, _, empty := newTestServer(t, false)
	resp, _ := do(t, http.MethodGet, empty.URL+"/api/snapshot", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status before refresh = %d, want 503", resp.StatusCode)
	}

	_, _, ts := newTestServer(t, true)
	resp, body := do(t, http.MethodGet, ts.URL+"/api/snapshot", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got SnapshotResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Status != "ok" || got.Stale || got.UpdatedAt == nil {
		t.Errorf("snapshot = %+v, want ok, not stale, with a timestamp", got)
	}
	if got.Values["__T46AA2571_REAL_.1f"] != "21.5" {
		t.Errorf("values = %v, want indoor temperature 21.5", got.Values)
	}
}

func TestSnapshot_Stale(t *testing.T) {
	srv, f, ts := newTestServer(t, true)

	f.setErr(device.NewStatusError("fetch", 500))
	srv.coord.RefreshNow(context.Background())

	resp, body := do(t, http.MethodGet, ts.URL+"/api/snapshot", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got SnapshotResponse
	json.Unmarshal(body, &got)
	if !got.Stale || got.Status != "stale" || got.ConsecutiveFailures != 1 || got.Error == "" {
		t.Errorf("snapshot = %+v, want stale with one failure and an error", got)
	}
}

func TestRegisters(t *testing.T) {
	_, _, ts := newTestServer(t, true)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/registers", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var list []RegisterResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(list) == 0 {
		t.Fatal("no registers returned")
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/api/registers/indoor_temperature", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var reg RegisterResponse
	json.Unmarshal(body, &reg)
	if reg.Value == nil || *reg.Value != 21.5 {
		t.Errorf("Value = %v, want 21.5", reg.Value)
	}
	if reg.Raw == nil || *reg.Raw != "21.5" {
		t.Errorf("Raw = %v, want 21.5", reg.Raw)
	}
	if reg.Writable {
		t.Error("indoor_temperature reported writable")
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/api/registers/boiler_temperature", "")
	json.Unmarshal(body, &reg)
	if resp.StatusCode != http.StatusOK || reg.Text != "n/a" {
		t.Errorf("missing register: status %d text %q, want 200 n/a", resp.StatusCode, reg.Text)
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/registers/no_such_register", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown register status = %d, want 404", resp.StatusCode)
	}
}

func TestWriteRegister(t *testing.T) {
	tests := []struct {
		name     string
		register string
		body     string
		writeErr error
		want     int
	}{
		{"valid setpoint", "indoor_setpoint", `{"value": 22.5}`, nil, http.StatusOK},
		{"out of range", "indoor_setpoint", `{"value": 99}`, nil, http.StatusBadRequest},
		{"read-only", "indoor_temperature", `{"value": 20}`, nil, http.StatusBadRequest},
		{"missing value", "indoor_setpoint", `{}`, nil, http.StatusBadRequest},
		{"bad json", "indoor_setpoint", `{"value":`, nil, http.StatusBadRequest},
		{"unknown field", "indoor_setpoint", `{"value": 22, "x": 1}`, nil, http.StatusBadRequest},
		{"unknown register", "nope", `{"value": 1}`, nil, http.StatusNotFound},
		{"auth failure", "indoor_setpoint", `{"value": 22}`, device.NewAuthError("write", "rejected"), http.StatusUnauthorized},
		{"controller error", "indoor_setpoint", `{"value": 22}`, device.NewStatusError("write", 500), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, f, ts := newTestServer(t, true)
			f.writeErr = tt.writeErr

			resp, body := do(t, http.MethodPut, ts.URL+"/api/registers/"+tt.register, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.want, body)
			}
			if tt.want != http.StatusOK && tt.writeErr == nil && len(f.writes) != 0 {
				t.Errorf("writes = %v, want none", f.writes)
			}
		})
	}
}

func TestWriteRegister_ReturnsRefreshedValue(t *testing.T) {
	_, f, ts := newTestServer(t, true)

	resp, body := do(t, http.MethodPut, ts.URL+"/api/registers/indoor_setpoint", `{"value": 22.54}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(f.writes) != 1 || f.writes[0] != "__TBEC2C30E_REAL_.1f=22.5" {
		t.Errorf("writes = %v, want [__TBEC2C30E_REAL_.1f=22.5]", f.writes)
	}
	var reg RegisterResponse
	json.Unmarshal(body, &reg)
	if reg.Name != "indoor_setpoint" {
		t.Errorf("Name = %q, want indoor_setpoint", reg.Name)
	}
}

func TestWriteValue(t *testing.T) {
	_, f, ts := newTestServer(t, true)

	resp, _ := do(t, http.MethodPost, ts.URL+"/api/values", `{"key": "__T_SET_BOILER_MODE_INT_", "value": "2"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if len(f.writes) != 1 || f.writes[0] != "__T_SET_BOILER_MODE_INT_=2" {
		t.Errorf("writes = %v", f.writes)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/values", `{"value": "2"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing key status = %d, want 400", resp.StatusCode)
	}
}

func TestRefresh(t *testing.T) {
	_, f, ts := newTestServer(t, false)

	resp, _ := do(t, http.MethodPost, ts.URL+"/api/refresh", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	f.setErr(device.NewStatusError("fetch", 503))
	resp, body := do(t, http.MethodPost, ts.URL+"/api/refresh", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	var e errorResponse
	json.Unmarshal(body, &e)
	if e.Error != "Controller error (HTTP 503)" {
		t.Errorf("error = %q, want the short message", e.Error)
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/refresh", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/refresh status = %d, want 405", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv, f, ts := newTestServer(t, false)

	resp, _ := do(t, http.MethodGet, ts.URL+"/healthz", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status before refresh = %d, want 503", resp.StatusCode)
	}

	srv.coord.RefreshNow(context.Background())
	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", resp.StatusCode, body)
	}

	f.setErr(device.NewAuthError("login", "rejected"))
	srv.coord.RefreshNow(context.Background())
	resp, body = do(t, http.MethodGet, ts.URL+"/healthz", "")
	if resp.StatusCode != http.StatusUnauthorized || string(body) != "auth_failed" {
		t.Errorf("healthz = %d %q, want 401 auth_failed", resp.StatusCode, body)
	}
}

func TestMetrics(t *testing.T) {
	_, _, ts := newTestServer(t, true)

	resp, body := do(t, http.MethodGet, ts.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	for _, want := range []string{
		"acond_scrape_success 1",
		`acond_register_value{name="indoor_temperature",unit="°C"} 21.5`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestWebSocketStream(t *testing.T) {
	srv, _, ts := newTestServer(t, true)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first SnapshotResponse
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if first.Type != "snapshot" || first.Status != "ok" {
		t.Errorf("first message = %+v, want an ok snapshot", first)
	}

	// the client is registered once the initial message was queued
	deadline := time.Now().Add(2 * time.Second)
	for srv.ActiveStreams() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ActiveStreams() = %d, want 1", srv.ActiveStreams())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := srv.coord.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	var update SnapshotResponse
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if update.Type != "update" || update.Values["__T46AA2571_REAL_.1f"] != "21.5" {
		t.Errorf("update = %+v, want an update with values", update)
	}
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	coord := coordinator.New(newFakeFetcher(), coordinator.Options{})
	defer coord.Stop()
	srv, err := New(Config{Listen: "127.0.0.1:0"}, coord)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/healthz", ln.Addr())
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not answer: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil", err)
		}
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &coordinator.ValidationError{Register: "x", Err: errors.New("bad")}, http.StatusBadRequest},
		{"unknown register", fmt.Errorf("%w: x", coordinator.ErrUnknownRegister), http.StatusNotFound},
		{"auth", device.NewAuthError("login", "rejected"), http.StatusUnauthorized},
		{"communication", device.NewStatusError("fetch", 500), http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewTLSConfig_Errors(t *testing.T) {
	if _, err := NewTLSConfig("", ""); err == nil {
		t.Error("NewTLSConfig(\"\", \"\") error = nil")
	}
	if _, err := NewTLSConfig("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Error("NewTLSConfig(missing files) error = nil")
	}
	coord := coordinator.New(newFakeFetcher(), coordinator.Options{})
	if _, err := New(Config{CertFile: "/nonexistent/cert.pem"}, coord); err == nil {
		t.Error("New() with an incomplete TLS pair error = nil")
	}
}
