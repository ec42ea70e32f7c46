package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-panscan/pkg/scanner"
	"github.com/teslashibe/go-panscan/pkg/tracking"
)

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool                     { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type sent struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	err          error
	timeout      bool
	sent         []sent
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return &fakeToken{err: c.err, timedOut: c.timeout}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.disconnected = true
	c.mu.Unlock()
}

// drain runs the publisher until its queue is empty.
func drain(p *Publisher) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)
}

func TestPublisher_ModeChange(t *testing.T) {
	client := &fakeClient{connected: true}
	cfg := DefaultConfig()
	cfg.TopicPrefix = "room1"
	p := New(client, cfg)

	p.ModeChanged(scanner.ModeChange{From: scanner.ModeScan, To: scanner.ModeWatch, Session: "s1", Reason: "people found"})
	drain(p)

	require.Len(t, client.sent, 1)
	msg := client.sent[0]
	assert.Equal(t, "room1/mode", msg.topic)
	assert.True(t, msg.retained)
	assert.Equal(t, byte(1), msg.qos)

	var got scanner.ModeChange
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, scanner.ModeWatch, got.To)
	assert.Equal(t, "s1", got.Session)
}

func TestPublisher_TrackingEvents(t *testing.T) {
	client := &fakeClient{connected: true}
	p := New(client, DefaultConfig())

	right := tracking.Right
	p.TrackingEvent("s1", tracking.ExitEvent{Header: tracking.Header{TrackID: 3, WorldAngle: 120}, Direction: &right})
	p.TrackingEvent("s1", tracking.EdgeEvent{Header: tracking.Header{TrackID: 3}, Position: tracking.EdgeRightWarning, Severity: tracking.SeverityWarning})
	drain(p)

	require.Len(t, client.sent, 2)
	assert.Equal(t, "panscan/events/exit", client.sent[0].topic)
	assert.Equal(t, "panscan/events/edge", client.sent[1].topic)
	assert.False(t, client.sent[0].retained)

	var body map[string]any
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &body))
	assert.Equal(t, "s1", body["session"])
	assert.Equal(t, "exit", body["kind"])
	ev := body["event"].(map[string]any)
	assert.Equal(t, "right", ev["direction"])
	assert.Equal(t, float64(120), ev["world_angle"])

	require.NoError(t, json.Unmarshal(client.sent[1].payload, &body))
	ev = body["event"].(map[string]any)
	assert.Equal(t, "warning", ev["severity"])

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Published["panscan/events/exit"])
	assert.Zero(t, stats.Errors)
}

func TestPublisher_NotConnected(t *testing.T) {
	client := &fakeClient{connected: false}
	p := New(client, DefaultConfig())

	p.ModeChanged(scanner.ModeChange{To: scanner.ModeScan})
	drain(p)

	assert.Empty(t, client.sent)
	assert.Equal(t, uint64(1), p.Stats().Errors)
}

func TestPublisher_PublishErrors(t *testing.T) {
	client := &fakeClient{connected: true, err: errors.New("broker said no")}
	p := New(client, DefaultConfig())
	p.ModeChanged(scanner.ModeChange{To: scanner.ModeScan})
	drain(p)
	assert.Equal(t, uint64(1), p.Stats().Errors)

	client.err = nil
	client.timeout = true
	err := p.publish(message{topic: "x", payload: []byte("{}")})
	assert.ErrorIs(t, err, ErrPublishTimeout)
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	client := &fakeClient{connected: true}
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	p := New(client, cfg)

	for i := 0; i < 5; i++ {
		p.ModeChanged(scanner.ModeChange{To: scanner.ModeScan})
	}
	assert.Equal(t, uint64(3), p.Stats().Dropped)

	drain(p)
	assert.Len(t, client.sent, 2)
}

func TestPublisher_Close(t *testing.T) {
	client := &fakeClient{connected: true}
	p := New(client, DefaultConfig())
	require.NoError(t, p.Close())
	assert.True(t, client.disconnected)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}

func TestPublisher_ImplementsNotifier(t *testing.T) {
	var _ scanner.Notifier = New(&fakeClient{}, DefaultConfig())
}
