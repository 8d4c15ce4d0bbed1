// ABOUTME: Tests for the MQTT bridge using an in-memory fake broker client
// ABOUTME: Covers subscription on connect, delta mirroring, and command handling
package mqtt

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/armintoepfer/solo/internal/dispatch"
	"github.com/armintoepfer/solo/internal/protocol"
	"github.com/armintoepfer/solo/internal/upnp"
	"github.com/armintoepfer/solo/internal/zone"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	published []published
	handlers  map[string]paho.MessageHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]paho.MessageHandler)}
}

func (f *fakeClient) IsConnected() bool      { f.mu.Lock(); defer f.mu.Unlock(); return f.connected }
func (f *fakeClient) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeClient) Connect() paho.Token {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return &fakeToken{}
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := payload.([]byte)
	f.published = append(f.published, published{topic: topic, retained: retained, payload: data})
	return &fakeToken{}
}

func (f *fakeClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = cb
	return &fakeToken{}
}

func (f *fakeClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &fakeToken{}
}

func (f *fakeClient) Unsubscribe(...string) paho.Token        { return &fakeToken{} }
func (f *fakeClient) AddRoute(string, paho.MessageHandler)    {}
func (f *fakeClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func (f *fakeClient) publishedTo(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type fakeMessage struct{ payload []byte }

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "solo/command" }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newBridge(t *testing.T) (*Bridge, *fakeClient, *zone.Core) {
	t.Helper()
	core := zone.New()
	dispatcher := dispatch.New(core, upnp.NewClient(), 2*time.Second)
	b := New(Config{BrokerURL: "tcp://127.0.0.1:1883"}, core, dispatcher)
	fake := newFakeClient()
	fake.Connect()
	b.client = fake
	return b, fake, core
}

func TestOnConnectSubscribesAndSeedsSnapshot(t *testing.T) {
	b, fake, core := newBridge(t)
	core.UpsertDevice(zone.Device{ID: "RINCON_A", Name: "Kitchen", Address: "10.0.0.5:1400", LastSeen: time.Now()})

	b.onConnect(fake)

	fake.mu.Lock()
	_, subscribed := fake.handlers["solo/command"]
	fake.mu.Unlock()
	if !subscribed {
		t.Error("expected a subscription to solo/command")
	}

	snaps := fake.publishedTo("solo/snapshot")
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot publish, got %d", len(snaps))
	}
	if !snaps[0].retained {
		t.Error("expected the snapshot to be retained")
	}
	var snap zone.Snapshot
	if err := json.Unmarshal(snaps[0].payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Devices) != 1 || snap.Devices[0].ID != "RINCON_A" {
		t.Errorf("expected seeded device in snapshot, got %+v", snap.Devices)
	}
}

func TestDeltaMirroring(t *testing.T) {
	b, fake, core := newBridge(t)
	b.wg.Add(1)
	go b.run()
	t.Cleanup(b.Stop)

	// Deltas published before run's watcher registers are dropped by
	// design, so give the goroutine a moment to reach its select.
	time.Sleep(100 * time.Millisecond)

	core.UpsertDevice(zone.Device{ID: "RINCON_B", Name: "Bedroom", Address: "10.0.0.6:1400", LastSeen: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for len(fake.publishedTo("solo/events")) == 0 || len(fake.publishedTo("solo/snapshot")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("delta was not mirrored to the broker")
		}
		time.Sleep(10 * time.Millisecond)
	}

	events := fake.publishedTo("solo/events")
	if events[0].retained {
		t.Error("expected event publishes to be non-retained")
	}
	var ev protocol.Event
	if err := json.Unmarshal(events[0].payload, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != protocol.EventDelta || ev.Delta == nil {
		t.Fatalf("expected a delta event, got %+v", ev)
	}
	if len(ev.Delta.Devices) != 1 || ev.Delta.Devices[0].ID != "RINCON_B" {
		t.Errorf("expected RINCON_B in delta, got %+v", ev.Delta.Devices)
	}
	if snaps := fake.publishedTo("solo/snapshot"); !snaps[0].retained {
		t.Error("expected the mirrored snapshot to be retained")
	}
}

func TestHandleCommandDispatches(t *testing.T) {
	b, fake, core := newBridge(t)

	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Write([]byte(`<?xml version="1.0"?>` +
			`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
			`<s:Body><u:PlayResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"/></s:Body></s:Envelope>`))
	}))
	t.Cleanup(srv.Close)
	core.UpsertDevice(zone.Device{
		ID:       "RINCON_A",
		Name:     "Kitchen",
		Address:  strings.TrimPrefix(srv.URL, "http://"),
		LastSeen: time.Now(),
	})

	b.handleCommand(fake, &fakeMessage{payload: []byte(`{"action":"play","deviceId":"RINCON_A"}`)})

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Errorf("expected 1 device call, got %d", got)
	}

	// Malformed payloads and failing commands are logged, never fatal.
	b.handleCommand(fake, &fakeMessage{payload: []byte("{oops")})
	b.handleCommand(fake, &fakeMessage{payload: []byte(`{"action":"play","deviceId":"RINCON_NOPE"}`)})
}

func TestTopicPrefix(t *testing.T) {
	core := zone.New()
	dispatcher := dispatch.New(core, upnp.NewClient(), time.Second)

	b := New(Config{BrokerURL: "tcp://127.0.0.1:1883"}, core, dispatcher)
	if got := b.topic("events"); got != "solo/events" {
		t.Errorf("expected default prefix solo, got %q", got)
	}

	b = New(Config{BrokerURL: "tcp://127.0.0.1:1883", Prefix: "home/sound"}, core, dispatcher)
	if got := b.topic("command"); got != "home/sound/command" {
		t.Errorf("expected custom prefix, got %q", got)
	}
}
