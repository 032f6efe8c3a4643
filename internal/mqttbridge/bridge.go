package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/acond/internal/coordinator"
	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/logging"
	"github.com/muurk/acond/internal/registers"
	"go.uber.org/zap"
)

const (
	// DefaultPrefix is the topic prefix used when none is configured
	DefaultPrefix = "acond"

	availabilityOnline  = "online"
	availabilityOffline = "offline"

	writeTimeout = 45 * time.Second
)

// Source is the coordinator side of the bridge
type Source interface {
	Subscribe(fn coordinator.Observer) func()
	Current() (device.Snapshot, bool)
	State() coordinator.State
	WriteRegister(ctx context.Context, name string, value float64) error
}

// StatePayload is published to <prefix>/state
type StatePayload struct {
	Status    string            `json:"status"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
	Error     string            `json:"error,omitempty"`
	Registers map[string]string `json:"registers,omitempty"`
}

// Bridge mirrors coordinator updates to MQTT topics and routes
// <prefix>/set/<name> messages to register writes.
type Bridge struct {
	broker Broker
	source Source
	prefix string
	retain bool

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	last         map[string]string
	availability string
	unsubscribe  func()
}

// New creates a bridge. Nothing is published until Start.
func New(broker Broker, source Source, prefix string, retain bool) *Bridge {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		broker: broker,
		source: source,
		prefix: prefix,
		retain: retain,
		ctx:    ctx,
		cancel: cancel,
		last:   make(map[string]string),
	}
}

// Connect dials the broker with the availability topic as last will and
// starts a bridge over it. The bridge republishes after every reconnect.
func Connect(cfg ClientConfig, source Source, prefix string, retain bool) (*Bridge, error) {
	var started atomic.Pointer[Bridge]

	cfg.WillTopic = AvailabilityTopic(prefix)
	cfg.WillPayload = availabilityOffline
	onConnect := cfg.OnConnect
	cfg.OnConnect = func() {
		if b := started.Load(); b != nil {
			go b.Republish()
		}
		if onConnect != nil {
			onConnect()
		}
	}

	broker, err := Dial(cfg)
	if err != nil {
		return nil, err
	}
	b := New(broker, source, prefix, retain)
	if err := b.Start(); err != nil {
		broker.Close()
		return nil, err
	}
	started.Store(b)
	return b, nil
}

// AvailabilityTopic is where "online"/"offline" is published. Use it as the
// broker connection's last will.
func AvailabilityTopic(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "/availability"
}

// Start subscribes to set topics and coordinator updates and publishes the
// current state.
func (b *Bridge) Start() error {
	if err := b.broker.Subscribe(b.prefix+"/set/+", b.handleSet); err != nil {
		return err
	}
	b.mu.Lock()
	b.unsubscribe = b.source.Subscribe(b.onUpdate)
	b.mu.Unlock()

	b.Republish()
	logging.Info("MQTT bridge started", zap.String("prefix", b.prefix))
	return nil
}

// Republish publishes everything again, e.g. after a broker reconnect
func (b *Bridge) Republish() {
	b.mu.Lock()
	b.last = make(map[string]string)
	b.availability = ""
	b.mu.Unlock()

	snap, ok := b.source.Current()
	b.onUpdate(coordinator.Update{Snapshot: snap, Present: ok, State: b.source.State()})
}

// Stop publishes "offline", detaches from the coordinator, cancels writes
// in progress and closes the broker connection.
func (b *Bridge) Stop() {
	b.cancel()
	b.mu.Lock()
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	b.mu.Unlock()
	b.publish(b.prefix+"/availability", availabilityOffline)
	b.broker.Close()
}

func (b *Bridge) onUpdate(u coordinator.Update) {
	availability := availabilityOffline
	if u.Present {
		availability = availabilityOnline
	}

	state := StatePayload{Status: string(u.State.Status)}
	if u.State.LastError != nil {
		state.Error = device.ShortMessage(u.State.LastError)
	}

	var changed map[string]string
	if u.Present {
		at := u.Snapshot.FetchedAt()
		state.UpdatedAt = &at
		state.Registers = registerPayloads(u.Snapshot)

		b.mu.Lock()
		changed = make(map[string]string)
		for name, v := range state.Registers {
			if b.last[name] != v {
				changed[name] = v
				b.last[name] = v
			}
		}
		b.mu.Unlock()
	}

	if data, err := json.Marshal(state); err == nil {
		b.publish(b.prefix+"/state", string(data))
	}
	for name, v := range changed {
		b.publish(b.prefix+"/"+name, v)
	}

	b.mu.Lock()
	publishAvailability := b.availability != availability
	b.availability = availability
	b.mu.Unlock()
	if publishAvailability {
		b.publish(b.prefix+"/availability", availability)
	}
}

func (b *Bridge) publish(topic, payload string) {
	if err := b.broker.Publish(topic, b.retain, []byte(payload)); err != nil {
		logging.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// handleSet routes <prefix>/set/<name> to a register write
func (b *Bridge) handleSet(topic string, payload []byte) {
	name := strings.TrimPrefix(topic, b.prefix+"/set/")
	if name == topic || name == "" || strings.Contains(name, "/") {
		return
	}

	value, err := ParseSetPayload(name, string(payload))
	if err != nil {
		logging.Warn("Ignoring MQTT set command",
			zap.String("topic", topic),
			zap.String("payload", string(payload)),
			zap.Error(err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, writeTimeout)
	defer cancel()
	if err := b.source.WriteRegister(ctx, name, value); err != nil {
		logging.Warn("MQTT set command failed",
			zap.String("register", name),
			zap.Float64("value", value),
			zap.String("error", device.ShortMessage(err)),
		)
		return
	}
	logging.Info("MQTT set command applied",
		zap.String("register", name),
		zap.Float64("value", value),
	)
}

// ParseSetPayload converts a set command payload for register name to the
// value passed to WriteRegister. Enumerated registers accept option labels
// as well as numbers.
func ParseSetPayload(name, payload string) (float64, error) {
	reg, ok := registers.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", coordinator.ErrUnknownRegister, name)
	}
	return reg.ParseInput(payload)
}

// registerPayloads renders every catalog register present in snap
func registerPayloads(snap device.Snapshot) map[string]string {
	out := make(map[string]string)
	for _, reg := range registers.All() {
		v, err := snap.Register(reg)
		if err != nil {
			continue
		}
		if len(reg.Options) > 0 {
			if label, ok := reg.OptionLabel(v.Int); ok {
				out[reg.Name] = label
				continue
			}
		}
		out[reg.Name] = v.String()
	}
	return out
}
