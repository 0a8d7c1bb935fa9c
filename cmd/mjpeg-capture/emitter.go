package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// SnapshotEvent announces a served snapshot. The JPEG itself is not included.
type SnapshotEvent struct {
	Source    string    `msgpack:"source"`
	SessionID string    `msgpack:"session_id"`
	TraceID   string    `msgpack:"trace_id"`
	Seq       uint64    `msgpack:"seq"`
	Timestamp time.Time `msgpack:"ts"`
	Bytes     int       `msgpack:"bytes"`
	Width     int       `msgpack:"width,omitempty"`
	Height    int       `msgpack:"height,omitempty"`
}

func newSnapshotEvent(frame mjpegcapture.Frame) SnapshotEvent {
	ev := SnapshotEvent{
		Source:    frame.SourceName,
		SessionID: frame.SessionID,
		TraceID:   frame.TraceID,
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Bytes:     len(frame.Data),
	}
	if w, h, ok := dimensions(frame.Data); ok {
		ev.Width, ev.Height = w, h
	}
	return ev
}

// eventPublisher receives every snapshot served by the HTTP server.
type eventPublisher interface {
	PublishSnapshot(frame mjpegcapture.Frame) error
}

// MQTTEmitter publishes msgpack-encoded SnapshotEvents to an MQTT broker on
// "{prefix}/{source}/snapshot".
type MQTTEmitter struct {
	broker   string
	clientID string
	prefix   string
	qos      byte

	client         mqtt.Client
	newClient      func(*mqtt.ClientOptions) mqtt.Client
	connectTimeout time.Duration

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter; call Connect before publishing.
func NewMQTTEmitter(broker, clientID, prefix string, qos byte) *MQTTEmitter {
	return &MQTTEmitter{
		broker:    broker,
		clientID:  clientID,
		prefix:    prefix,
		qos:       qos,
		newClient: mqtt.NewClient,

		connectTimeout: mqttConnectTimeout,
	}
}

// Connect establishes the connection to the broker. The client reconnects on
// its own afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.broker))
	opts.SetClientID(e.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established", "broker", e.broker, "client_id", e.clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", e.broker, "error", err)
	}

	e.client = e.newClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		// Abandon the attempt still running in the client.
		e.client.Disconnect(0)
		return fmt.Errorf("mqtt connection cancelled: %w", ctx.Err())
	case <-time.After(e.connectTimeout):
		e.client.Disconnect(0)
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// PublishSnapshot publishes the event for frame.
func (e *MQTTEmitter) PublishSnapshot(frame mjpegcapture.Frame) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := msgpack.Marshal(newSnapshotEvent(frame))
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal snapshot event: %w", err)
	}

	topic := e.topic(frame.SourceName)
	token := e.client.Publish(topic, e.qos, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	slog.Debug("snapshot event published", "topic", topic, "qos", e.qos, "size", len(payload))
	return nil
}

// Disconnect closes the MQTT connection.
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns the number of published events and publish errors.
func (e *MQTTEmitter) Stats() (published, errors uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published, e.errors
}

func (e *MQTTEmitter) topic(source string) string {
	return fmt.Sprintf("%s/%s/snapshot", e.prefix, source)
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
