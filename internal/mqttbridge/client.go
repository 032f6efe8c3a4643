package mqttbridge

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/muurk/acond/internal/logging"
	"go.uber.org/zap"
)

// Broker is the part of an MQTT client the bridge uses
type Broker interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Close()
}

// ClientConfig configures the paho connection
type ClientConfig struct {
	Broker   string // e.g. "tcp://localhost:1883"
	Username string
	Password string
	ClientID string

	// WillTopic receives WillPayload (retained) when the connection drops
	WillTopic   string
	WillPayload string

	// OnConnect runs after every (re)connect, after subscriptions are restored
	OnConnect func()
}

type pahoBroker struct {
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]func(topic string, payload []byte)
}

// Dial connects to the broker. Paho keeps reconnecting afterwards and
// subscriptions are restored on every reconnect.
func Dial(cfg ClientConfig) (Broker, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = randomClientID()
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOrderMatters(false)
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, cfg.WillPayload, 1, true)
	}

	b := &pahoBroker{subs: make(map[string]func(string, []byte))}
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logging.Info("MQTT connected", zap.String("broker", cfg.Broker))
		b.resubscribeAll()
		if cfg.OnConnect != nil {
			cfg.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15*time.Second) && token.Error() == nil {
		logging.Warn("MQTT broker not reachable yet, retrying in the background",
			zap.String("broker", cfg.Broker))
	} else if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	b.client = client
	return b, nil
}

func (b *pahoBroker) Publish(topic string, retained bool, payload []byte) error {
	token := b.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func (b *pahoBroker) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	b.mu.Lock()
	b.subs[topic] = handler
	b.mu.Unlock()

	if !b.client.IsConnectionOpen() {
		// restored by the connect handler
		return nil
	}
	return b.subscribe(topic, handler)
}

func (b *pahoBroker) subscribe(topic string, handler func(string, []byte)) error {
	token := b.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		// handlers may block on the controller
		go handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

func (b *pahoBroker) resubscribeAll() {
	b.mu.Lock()
	subs := make(map[string]func(string, []byte), len(b.subs))
	for topic, h := range b.subs {
		subs[topic] = h
	}
	b.mu.Unlock()

	for topic, h := range subs {
		if err := b.subscribe(topic, h); err != nil {
			logging.Warn("MQTT resubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (b *pahoBroker) Close() {
	b.client.Disconnect(250)
}

func randomClientID() string {
	nonce := make([]byte, 6)
	_, _ = rand.Read(nonce)
	return "acond-" + base64.RawURLEncoding.EncodeToString(nonce)
}
