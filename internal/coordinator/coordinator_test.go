package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/acond/internal/device"
)

// fakeFetcher stands in for the controller. When gate is set, reads block
// until it is closed.
type fakeFetcher struct {
	mu       sync.Mutex
	values   map[string]string
	err      error
	writeErr error
	gate     chan struct{}
	started  chan struct{}
	writes   [][2]string

	fetches atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{values: map[string]string{
		"__T46AA2571_REAL_.1f": "21.5",
		"__T61E4AC91_BOOL_i":   "1",
	}}
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context) (device.Snapshot, error) {
	f.fetches.Add(1)

	f.mu.Lock()
	gate, started := f.gate, f.started
	err := f.err
	snap := device.NewSnapshot(f.values, time.Now())
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return device.Snapshot{}, ctx.Err()
		}
	}
	if err != nil {
		return device.Snapshot{}, err
	}
	return snap, nil
}

func (f *fakeFetcher) WriteValue(ctx context.Context, key, value string) (device.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return device.Snapshot{}, f.writeErr
	}
	f.writes = append(f.writes, [2]string{key, value})
	f.values[key] = value
	return device.NewSnapshot(nil, time.Now()), nil
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func commErr() error { return device.NewStatusError("fetch", 500) }

func TestNew_Defaults(t *testing.T) {
	c := New(newFakeFetcher(), Options{})
	opts := c.Options()
	if opts.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", opts.Interval, DefaultInterval)
	}
	if opts.FailureThreshold != DefaultFailureThreshold {
		t.Errorf("FailureThreshold = %v, want %v", opts.FailureThreshold, DefaultFailureThreshold)
	}
	if _, ok := c.Current(); ok {
		t.Error("Current() ok = true before any refresh")
	}
	if s := c.State().Status; s != StatusUnavailable {
		t.Errorf("Status = %v, want %v", s, StatusUnavailable)
	}
}

func TestRefreshNow_SingleFlight(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 1)
	c := New(f, Options{})
	defer c.Stop()

	const callers = 8
	results := make([]device.Snapshot, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.RefreshNow(context.Background())
	}()
	<-f.started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.RefreshNow(context.Background())
		}(i)
	}
	// let the joiners reach the in-flight call
	time.Sleep(100 * time.Millisecond)
	if !c.State().InFlight {
		t.Error("State().InFlight = false while a refresh is running")
	}
	close(f.gate)
	wg.Wait()

	if n := f.fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d error = %v", i, errs[i])
		}
		if !results[i].Equal(results[0]) || !results[i].FetchedAt().Equal(results[0].FetchedAt()) {
			t.Errorf("caller %d got a different snapshot", i)
		}
	}
	if c.State().InFlight {
		t.Error("State().InFlight = true after the refresh finished")
	}
}

func TestRefreshNow_CallerCancelDoesNotCancelRefresh(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 1)
	c := New(f, Options{})
	defer c.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.RefreshNow(ctx)
		errCh <- err
	}()
	<-f.started
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("RefreshNow() error = %v, want context.Canceled", err)
	}

	close(f.gate)
	if _, err := c.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	if _, ok := c.Current(); !ok {
		t.Error("Current() ok = false after the shared refresh completed")
	}
}

func TestRefresh_StaleThenUnavailable(t *testing.T) {
	f := newFakeFetcher()
	c := New(f, Options{FailureThreshold: 3})
	defer c.Stop()
	ctx := context.Background()

	if _, err := c.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	first, _ := c.Current()

	f.setErr(commErr())
	for i := 1; i <= 2; i++ {
		if _, err := c.RefreshNow(ctx); err == nil {
			t.Fatalf("RefreshNow() #%d error = nil", i)
		}
		st := c.State()
		if st.Status != StatusStale {
			t.Errorf("after %d failures Status = %v, want %v", i, st.Status, StatusStale)
		}
		if st.ConsecutiveFailures != i {
			t.Errorf("ConsecutiveFailures = %d, want %d", st.ConsecutiveFailures, i)
		}
		got, ok := c.Current()
		if !ok || !got.Equal(first) {
			t.Errorf("Current() = %v, %v; want the last good snapshot", got.Map(), ok)
		}
	}

	if _, err := c.RefreshNow(ctx); err == nil {
		t.Fatal("RefreshNow() error = nil")
	}
	if s := c.State().Status; s != StatusUnavailable {
		t.Errorf("Status = %v, want %v", s, StatusUnavailable)
	}
	if _, ok := c.Current(); ok {
		t.Error("Current() ok = true at the failure threshold")
	}
	if c.State().ErrorMessage() == "" {
		t.Error("ErrorMessage() empty after failures")
	}

	f.setErr(nil)
	if _, err := c.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	st := c.State()
	if st.Status != StatusOK || st.ConsecutiveFailures != 0 || st.LastError != nil {
		t.Errorf("State() = %+v, want ok with no failures", st)
	}
	if st.RefreshOK != 2 || st.RefreshFailed != 3 {
		t.Errorf("RefreshOK, RefreshFailed = %d, %d; want 2, 3", st.RefreshOK, st.RefreshFailed)
	}
	if _, ok := c.Current(); !ok {
		t.Error("Current() ok = false after recovery")
	}
}

func TestRefresh_FailureWithoutSnapshotIsUnavailable(t *testing.T) {
	f := newFakeFetcher()
	f.setErr(commErr())
	c := New(f, Options{FailureThreshold: 5})
	defer c.Stop()

	c.RefreshNow(context.Background())
	if s := c.State().Status; s != StatusUnavailable {
		t.Errorf("Status = %v, want %v", s, StatusUnavailable)
	}
}

func TestRefresh_AuthFailureIsImmediate(t *testing.T) {
	f := newFakeFetcher()
	c := New(f, Options{FailureThreshold: 10})
	defer c.Stop()
	ctx := context.Background()

	if _, err := c.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}

	f.setErr(device.NewAuthError("login", "login page returned"))
	_, err := c.RefreshNow(ctx)
	if !device.IsAuthError(err) {
		t.Fatalf("RefreshNow() error = %v, want an authentication error", err)
	}
	if s := c.State().Status; s != StatusAuthFailed {
		t.Errorf("Status = %v, want %v", s, StatusAuthFailed)
	}
	if _, ok := c.Current(); ok {
		t.Error("Current() ok = true after an authentication failure")
	}

	c.ResetAuth()
	if s := c.State().Status; s != StatusUnavailable {
		t.Errorf("after ResetAuth Status = %v, want %v", s, StatusUnavailable)
	}
}

func TestStart_FirstRefreshFailureSchedulesNothing(t *testing.T) {
	f := newFakeFetcher()
	f.setErr(commErr())
	c := New(f, Options{Interval: 10 * time.Millisecond})

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want the refresh error")
	}
	time.Sleep(50 * time.Millisecond)
	if n := f.fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
	c.Stop()
}

func TestStart_PollsAtInterval(t *testing.T) {
	f := newFakeFetcher()
	c := New(f, Options{Interval: 10 * time.Millisecond})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	if _, ok := c.Current(); !ok {
		t.Error("Current() ok = false right after Start")
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.fetches.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("fetches = %d after 2s, want at least 3", f.fetches.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStart_PollingOutlivesStartContext(t *testing.T) {
	f := newFakeFetcher()
	c := New(f, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()
	<-ctx.Done()

	f.setErr(commErr())
	deadline := time.Now().Add(2 * time.Second)
	for c.State().Status != StatusUnavailable {
		if time.Now().After(deadline) {
			st := c.State()
			t.Fatalf("Status = %v, ConsecutiveFailures = %d after 2s; want %v", st.Status, st.ConsecutiveFailures, StatusUnavailable)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := c.Current(); ok {
		t.Error("Current() ok = true after the failure threshold")
	}
}

func TestStart_LoopSkipsWhileAuthFailed(t *testing.T) {
	f := newFakeFetcher()
	c := New(f, Options{Interval: 10 * time.Millisecond})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	f.setErr(device.NewAuthError("login", "rejected"))
	deadline := time.Now().Add(2 * time.Second)
	for c.State().Status != StatusAuthFailed {
		if time.Now().After(deadline) {
			t.Fatalf("Status = %v after 2s, want %v", c.State().Status, StatusAuthFailed)
		}
		time.Sleep(5 * time.Millisecond)
	}

	before := f.fetches.Load()
	time.Sleep(80 * time.Millisecond)
	if after := f.fetches.Load(); after != before {
		t.Errorf("fetches went from %d to %d while credentials were rejected", before, after)
	}
}

func TestStop_Idempotent(t *testing.T) {
	c := New(newFakeFetcher(), Options{Interval: 10 * time.Millisecond})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c.Stop()
	c.Stop()
}

func TestWrite_RefreshesAfterWrite(t *testing.T) {
	f := newFakeFetcher()
	c := New(f, Options{})
	defer c.Stop()
	ctx := context.Background()

	if _, err := c.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	if err := c.Write(ctx, "__TBEC2C30E_REAL_.1f", "22.0"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	snap, ok := c.Current()
	if !ok {
		t.Fatal("Current() ok = false after write")
	}
	if v, _ := snap.Get("__TBEC2C30E_REAL_.1f"); v != "22.0" {
		t.Errorf("written key = %q, want 22.0", v)
	}
	if n := f.fetches.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
}

func TestWrite_Errors(t *testing.T) {
	f := newFakeFetcher()
	c := New(f, Options{})
	defer c.Stop()
	ctx := context.Background()

	f.writeErr = commErr()
	if err := c.Write(ctx, "k", "1"); !device.IsCommunicationError(err) {
		t.Errorf("Write() error = %v, want a communication error", err)
	}
	if n := f.fetches.Load(); n != 0 {
		t.Errorf("fetches = %d after a failed write, want 0", n)
	}

	f.writeErr = device.NewAuthError("write", "rejected")
	if err := c.Write(ctx, "k", "1"); !device.IsAuthError(err) {
		t.Errorf("Write() error = %v, want an authentication error", err)
	}
	st := c.State()
	if st.Status != StatusAuthFailed {
		t.Errorf("Status = %v, want %v", st.Status, StatusAuthFailed)
	}
	if st.RefreshFailed != 0 {
		t.Errorf("RefreshFailed = %d, want 0", st.RefreshFailed)
	}
}

func TestWriteRegister(t *testing.T) {
	f := newFakeFetcher()
	c := New(f, Options{})
	defer c.Stop()
	ctx := context.Background()

	if err := c.WriteRegister(ctx, "no_such_register", 1); !errors.Is(err, ErrUnknownRegister) {
		t.Errorf("WriteRegister(unknown) error = %v, want ErrUnknownRegister", err)
	}

	var verr *ValidationError
	if err := c.WriteRegister(ctx, "indoor_setpoint", 99); !errors.As(err, &verr) {
		t.Errorf("WriteRegister(out of range) error = %v, want *ValidationError", err)
	} else if verr.Register != "indoor_setpoint" {
		t.Errorf("ValidationError.Register = %q, want indoor_setpoint", verr.Register)
	}
	if err := c.WriteRegister(ctx, "indoor_temperature", 20); !errors.As(err, &verr) {
		t.Errorf("WriteRegister(read-only) error = %v, want *ValidationError", err)
	}
	if len(f.writes) != 0 {
		t.Fatalf("writes = %v, want none after rejected values", f.writes)
	}

	if err := c.WriteRegister(ctx, "indoor_setpoint", 21.54); err != nil {
		t.Fatalf("WriteRegister() error = %v", err)
	}
	if len(f.writes) != 1 {
		t.Fatalf("writes = %v, want one", f.writes)
	}
	if got := f.writes[0]; got != [2]string{"__TBEC2C30E_REAL_.1f", "21.5"} {
		t.Errorf("write = %v, want [__TBEC2C30E_REAL_.1f 21.5]", got)
	}

	if err := c.WriteRegister(ctx, "operating_mode", 3); err != nil {
		t.Fatalf("WriteRegister(operating_mode) error = %v", err)
	}
	if got := f.writes[1]; got[1] != "3" {
		t.Errorf("operating_mode write value = %q, want 3", got[1])
	}
}

func TestSubscribe(t *testing.T) {
	f := newFakeFetcher()
	c := New(f, Options{FailureThreshold: 1})
	defer c.Stop()
	ctx := context.Background()

	var got []Update
	c.Subscribe(func(Update) { panic("observer bug") })
	unsubscribe := c.Subscribe(func(u Update) { got = append(got, u) })

	if _, err := c.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	if len(got) != 1 || !got[0].Present || got[0].State.Status != StatusOK {
		t.Fatalf("updates = %+v, want one ok update with a snapshot", got)
	}
	if v, _ := got[0].Snapshot.Get("__T46AA2571_REAL_.1f"); v != "21.5" {
		t.Errorf("update snapshot value = %q, want 21.5", v)
	}

	f.setErr(commErr())
	c.RefreshNow(ctx)
	if len(got) != 2 || got[1].Present || got[1].State.Status != StatusUnavailable {
		t.Fatalf("updates = %+v, want an unavailable update", got)
	}

	// unchanged status is not re-announced
	c.RefreshNow(ctx)
	if len(got) != 2 {
		t.Errorf("updates = %d, want 2", len(got))
	}

	unsubscribe()
	f.setErr(nil)
	c.RefreshNow(ctx)
	if len(got) != 2 {
		t.Errorf("updates after unsubscribe = %d, want 2", len(got))
	}
}
