package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/logging"
	"github.com/muurk/acond/internal/registers"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultInterval is the refresh interval used when none is configured
	DefaultInterval = 30 * time.Second

	// MinInterval and MaxInterval bound the configurable interval
	MinInterval = 30 * time.Second
	MaxInterval = time.Hour

	// DefaultFailureThreshold is the number of consecutive failed refreshes
	// after which the last snapshot is no longer served
	DefaultFailureThreshold = 3

	refreshKey = "refresh"
)

// Fetcher is the device side of the coordinator. *device.Client implements it.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (device.Snapshot, error)
	WriteValue(ctx context.Context, key, value string) (device.Snapshot, error)
}

// ErrUnknownRegister is returned by WriteRegister for names not in the catalog
var ErrUnknownRegister = errors.New("unknown register")

// ErrAlreadyStarted is returned by a second call to Start
var ErrAlreadyStarted = errors.New("coordinator already started")

// ValidationError reports a register value rejected before it reached the device
type ValidationError struct {
	Register string
	Err      error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for %s: %v", e.Register, e.Err)
}

// Unwrap returns the underlying error
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Options configures a Coordinator
type Options struct {
	Interval         time.Duration // Refresh interval (default 30s)
	FailureThreshold int           // Consecutive failures before the snapshot is withdrawn (default 3)
}

// Observer receives updates after they have been published
type Observer func(Update)

// Update is delivered to observers after every successful refresh and every
// status change
type Update struct {
	Snapshot device.Snapshot
	Present  bool // false when no snapshot is served
	State    State
}

// Coordinator polls one controller and serves the last good snapshot.
type Coordinator struct {
	client Fetcher
	opts   Options

	group singleflight.Group
	ioMu  sync.Mutex // serializes device operations
	nfyMu sync.Mutex // keeps observer deliveries in publication order

	snap atomic.Pointer[device.Snapshot]

	mu        sync.Mutex
	state     State
	observers map[int]Observer
	nextObsID int
	started   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a coordinator for client. Nothing happens until Start or
// RefreshNow.
func New(client Fetcher, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		client:    client,
		opts:      opts,
		state:     State{Status: StatusUnavailable},
		observers: make(map[int]Observer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Options returns the effective options
func (c *Coordinator) Options() Options {
	return c.opts
}

// Start performs the first refresh synchronously and, if it succeeds,
// starts polling at the configured interval until Stop. ctx bounds the
// first refresh only. A failed first refresh is returned and nothing is
// scheduled.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.mu.Unlock()

	if _, err := c.RefreshNow(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.started = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.loop()

	logging.Info("Polling started",
		zap.Duration("interval", c.opts.Interval),
		zap.Int("failure_threshold", c.opts.FailureThreshold),
	)
	return nil
}

// Stop ends polling and cancels a refresh in progress. It is safe to call
// more than once.
func (c *Coordinator) Stop() {
	c.cancel()

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// loop runs until Stop; the ctx given to Start bounds only the first refresh
func (c *Coordinator) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.State().Status == StatusAuthFailed {
				logging.Debug("Skipping scheduled refresh until credentials are fixed")
				continue
			}
			if _, err := c.RefreshNow(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Warn("Scheduled refresh failed",
					zap.String("error", device.ShortMessage(err)),
				)
			}
		}
	}
}

// RefreshNow reads the controller, joining a refresh already in flight.
// Every caller joined to one refresh gets the same result. Canceling ctx
// stops waiting but not the shared refresh.
func (c *Coordinator) RefreshNow(ctx context.Context) (device.Snapshot, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.refresh()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return device.Snapshot{}, res.Err
		}
		return res.Val.(device.Snapshot), nil
	case <-ctx.Done():
		return device.Snapshot{}, ctx.Err()
	}
}

func (c *Coordinator) refresh() (device.Snapshot, error) {
	c.ioMu.Lock()

	c.mu.Lock()
	c.state.InFlight = true
	c.mu.Unlock()

	start := time.Now()
	snap, err := c.client.FetchSnapshot(c.ctx)
	elapsed := time.Since(start)

	var update *Update
	if err != nil {
		update = c.recordFailure(err, elapsed)
	} else {
		update = c.recordSuccess(snap, elapsed)
	}

	c.nfyMu.Lock()
	c.ioMu.Unlock()
	if update != nil {
		c.notify(*update)
	}
	c.nfyMu.Unlock()

	if err != nil {
		return device.Snapshot{}, err
	}
	return snap, nil
}

func (c *Coordinator) recordSuccess(snap device.Snapshot, elapsed time.Duration) *Update {
	c.snap.Store(&snap)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.InFlight = false
	c.state.Status = StatusOK
	c.state.LastError = nil
	c.state.ConsecutiveFailures = 0
	c.state.LastSuccess = time.Now()
	c.state.LastAttempt = c.state.LastSuccess
	c.state.LastDuration = elapsed
	c.state.RefreshOK++

	logging.Debug("Refresh succeeded",
		zap.Int("keys", snap.Len()),
		zap.Duration("duration", elapsed),
	)
	return &Update{Snapshot: snap, Present: true, State: c.state}
}

// recordFailure applies a failed refresh. Canceled refreshes leave the
// state untouched.
func (c *Coordinator) recordFailure(err error, elapsed time.Duration) *Update {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.InFlight = false
	if errors.Is(err, context.Canceled) {
		return nil
	}

	prev := c.state.Status
	c.state.LastError = err
	c.state.LastAttempt = time.Now()
	c.state.LastDuration = elapsed
	c.state.RefreshFailed++

	switch {
	case device.IsAuthError(err):
		c.setAuthFailedLocked(err)
	default:
		c.state.ConsecutiveFailures++
		if c.state.ConsecutiveFailures >= c.opts.FailureThreshold || c.snap.Load() == nil {
			c.state.Status = StatusUnavailable
			c.snap.Store(nil)
		} else {
			c.state.Status = StatusStale
		}
		logging.Warn("Refresh failed",
			zap.String("status", string(c.state.Status)),
			zap.Int("consecutive_failures", c.state.ConsecutiveFailures),
			zap.Error(err),
		)
	}

	if c.state.Status == prev {
		return nil
	}
	return &Update{State: c.state}
}

// markAuthFailed applies an authentication error seen outside a refresh
func (c *Coordinator) markAuthFailed(err error) *Update {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state.Status
	c.state.LastError = err
	c.setAuthFailedLocked(err)
	if prev == StatusAuthFailed {
		return nil
	}
	return &Update{State: c.state}
}

func (c *Coordinator) setAuthFailedLocked(err error) {
	c.state.Status = StatusAuthFailed
	c.snap.Store(nil)
	logging.Error("Controller rejected the credentials, polling paused",
		zap.Error(err),
	)
}

// Current returns the snapshot being served, if any. It never blocks.
func (c *Coordinator) Current() (device.Snapshot, bool) {
	p := c.snap.Load()
	if p == nil {
		return device.Snapshot{}, false
	}
	return *p, true
}

// State returns a copy of the coordinator state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ResetAuth clears an authentication failure so that scheduled refreshes
// resume, typically after the client's credentials were replaced.
func (c *Coordinator) ResetAuth() {
	c.mu.Lock()
	if c.state.Status != StatusAuthFailed {
		c.mu.Unlock()
		return
	}
	c.state.Status = StatusUnavailable
	c.state.LastError = nil
	c.state.ConsecutiveFailures = 0
	update := Update{State: c.state}
	c.mu.Unlock()

	c.nfyMu.Lock()
	c.notify(update)
	c.nfyMu.Unlock()
}

// Write sends one raw key/value to the controller and then refreshes so
// that observers see the result. Only the write's error is returned; a
// failed follow-up refresh is recorded in the state like any other.
func (c *Coordinator) Write(ctx context.Context, key, value string) error {
	if err := c.write(ctx, key, value); err != nil {
		return err
	}

	// start a refresh that begins after the write rather than joining one
	// that was already running
	c.group.Forget(refreshKey)
	if _, err := c.RefreshNow(ctx); err != nil {
		logging.Warn("Refresh after write failed",
			zap.String("key", key),
			zap.String("error", device.ShortMessage(err)),
		)
	}
	return nil
}

func (c *Coordinator) write(ctx context.Context, key, value string) error {
	c.ioMu.Lock()
	_, err := c.client.WriteValue(ctx, key, value)

	var update *Update
	if device.IsAuthError(err) {
		update = c.markAuthFailed(err)
	}

	c.nfyMu.Lock()
	c.ioMu.Unlock()
	if update != nil {
		c.notify(*update)
	}
	c.nfyMu.Unlock()

	return err
}

// WriteRegister validates value against the catalog register called name,
// encodes it and writes it.
func (c *Coordinator) WriteRegister(ctx context.Context, name string, value float64) error {
	reg, ok := registers.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	if err := reg.Validate(value); err != nil {
		return &ValidationError{Register: reg.Name, Err: err}
	}
	return c.Write(ctx, reg.WriteKey, reg.EncodeWrite(value))
}

// Subscribe registers fn for updates and returns a function that removes it.
// Observers run synchronously on the refreshing goroutine and must not call
// RefreshNow or Write.
func (c *Coordinator) Subscribe(fn Observer) func() {
	c.mu.Lock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) notify(u Update) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, c.observers[id])
	}
	c.mu.Unlock()

	for _, fn := range observers {
		c.deliver(fn, u)
	}
}

func (c *Coordinator) deliver(fn Observer, u Update) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Observer panicked", zap.Any("panic", r))
		}
	}()
	fn(u)
}
