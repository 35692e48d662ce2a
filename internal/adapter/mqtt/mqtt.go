// Package mqtt connects the controller to the site broker. Backend
// abstracts broker access so everything above it tests against the
// in-memory mock; Client is the live paho connection used on a real
// deployment.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"doorman/internal/domain"
	"doorman/internal/infra/config"
)

// subscribeQueueDepth bounds each subscription's delivery channel. A slow
// consumer drops messages rather than stalling the network loop.
const subscribeQueueDepth = 16

// Message is one message received from a subscription.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// Backend abstracts MQTT operations for testability. Unsubscribe stops
// delivery but never closes the delivery channel; consumers watch their
// own cancellation instead of waiting for channel close.
type Backend interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
	Unsubscribe(topic string) error
	Close() error
}

// Client is a live broker connection with automatic reconnect. Tracked
// subscriptions are re-established after every reconnect, since the
// broker forgets a clean-session client's subscriptions.
type Client struct {
	c   paho.Client
	log *slog.Logger
	qos byte // subscription QoS from config

	mu   sync.Mutex
	subs map[string]chan Message
}

// Connect dials the broker and blocks until the connection is up or the
// configured timeout passes.
func Connect(cfg config.MQTTConfig, log *slog.Logger) (*Client, error) {
	c := &Client{
		log:  log,
		qos:  byte(cfg.QoS),
		subs: make(map[string]chan Message),
	}

	c.c = paho.NewClient(c.options(cfg))
	tok := c.c.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("%w: no connection to %s after %s",
			domain.ErrBusUnavailable, cfg.Broker, cfg.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBusUnavailable, err)
	}
	log.Info("mqtt connected", "broker", cfg.Broker, "client_id", cfg.ClientID)
	return c, nil
}

// options keeps paho's in-order delivery (Order stays true): an "unlock"
// command must never be overtaken by the "lock" that follows it. Safe
// here because the receive handler is a non-blocking channel send and
// cannot stall the network loop.
func (c *Client) options(cfg config.MQTTConfig) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn("mqtt connection lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	tok := c.c.Publish(topic, qos, retain, payload)
	select {
	case <-tok.Done():
		return domain.WrapOp("mqtt.publish", tok.Error())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	c.mu.Lock()
	if ch, ok := c.subs[topic]; ok {
		c.mu.Unlock()
		return ch, nil
	}
	ch := make(chan Message, subscribeQueueDepth)
	c.subs[topic] = ch
	c.mu.Unlock()

	tok := c.attach(topic, ch)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		c.dropSub(topic)
		return nil, ctx.Err()
	}
	if err := tok.Error(); err != nil {
		c.dropSub(topic)
		return nil, domain.WrapOp("mqtt.subscribe", err)
	}
	return ch, nil
}

func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	_, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotSubscribed, topic)
	}

	tok := c.c.Unsubscribe(topic)
	tok.Wait()
	return domain.WrapOp("mqtt.unsubscribe", tok.Error())
}

// Close disconnects from the broker, allowing in-flight messages a short
// window to drain.
func (c *Client) Close() error {
	c.c.Disconnect(250)
	return nil
}

// attach registers the delivery handler for topic with the broker.
func (c *Client) attach(topic string, ch chan Message) paho.Token {
	handler := func(_ paho.Client, m paho.Message) {
		msg := Message{Topic: m.Topic(), Payload: m.Payload(), QoS: m.Qos()}
		select {
		case ch <- msg:
		default:
			c.log.Warn("mqtt message dropped, consumer too slow", "topic", m.Topic())
		}
	}
	return c.c.Subscribe(topic, c.qos, handler)
}

// onConnect runs on the initial connect (where it has nothing to do) and
// after every automatic reconnect, where every tracked subscription must
// be re-established.
func (c *Client) onConnect(_ paho.Client) {
	c.mu.Lock()
	topics := make(map[string]chan Message, len(c.subs))
	for topic, ch := range c.subs {
		topics[topic] = ch
	}
	c.mu.Unlock()

	for topic, ch := range topics {
		tok := c.attach(topic, ch)
		tok.Wait()
		if err := tok.Error(); err != nil {
			c.log.Error("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) dropSub(topic string) {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
}

// --- Mock backend for testing ---

// Mock is an in-memory Backend. Publish records the message and delivers
// it to a matching subscription, standing in for the broker round-trip.
type Mock struct {
	mu        sync.Mutex
	published []Message
	subs      map[string]chan Message
}

// NewMock creates a mock MQTT backend.
func NewMock() *Mock {
	return &Mock{subs: make(map[string]chan Message)}
}

func (m *Mock) Publish(_ context.Context, topic string, payload []byte, qos byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...), QoS: qos}
	m.published = append(m.published, msg)

	if ch, ok := m.subs[topic]; ok {
		select {
		case ch <- msg:
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

func (m *Mock) Subscribe(_ context.Context, topic string) (<-chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subs[topic]; ok {
		return ch, nil
	}
	ch := make(chan Message, subscribeQueueDepth)
	m.subs[topic] = ch
	return ch, nil
}

func (m *Mock) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[topic]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotSubscribed, topic)
	}
	delete(m.subs, topic)
	return nil
}

func (m *Mock) Close() error { return nil }

// Published returns all recorded publications.
func (m *Mock) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published...)
}

// PublishedTo returns recorded publications for one topic.
func (m *Mock) PublishedTo(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.published {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}
