// ABOUTME: Optional MQTT bridge mirroring the control boundary over a broker
// ABOUTME: Publishes retained snapshots and deltas, consumes command envelopes
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/armintoepfer/solo/internal/dispatch"
	"github.com/armintoepfer/solo/internal/logger"
	"github.com/armintoepfer/solo/internal/protocol"
	"github.com/armintoepfer/solo/internal/zone"
)

const (
	connectAttempts = 10
	connectRetry    = time.Second
	disconnectWait  = 250 // milliseconds, handed to paho on shutdown
)

// Config controls the broker connection.
type Config struct {
	BrokerURL string
	Prefix    string
	ClientID  string
}

// Bridge mirrors the daemon boundary over an MQTT broker: the full
// snapshot is kept retained under <prefix>/snapshot, deltas stream to
// <prefix>/events, and command envelopes are consumed from
// <prefix>/command. Commands get no direct reply; definitive state
// flows back through the state topics.
type Bridge struct {
	config     Config
	core       *zone.Core
	dispatcher *dispatch.Dispatcher
	client     paho.Client

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a bridge for the given broker. Nothing connects until Start.
func New(cfg Config, core *zone.Core, dispatcher *dispatch.Dispatcher) *Bridge {
	if cfg.Prefix == "" {
		cfg.Prefix = "solo"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "solo"
	}
	b := &Bridge{
		config:     cfg,
		core:       core,
		dispatcher: dispatcher,
		stop:       make(chan struct{}),
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warnf("mqtt connection lost: %v", err)
		})
	b.client = paho.NewClient(opts)
	return b
}

// Start connects to the broker, retrying a bounded number of times, and
// begins mirroring model changes.
func (b *Bridge) Start() error {
	for attempt := 1; ; attempt++ {
		token := b.client.Connect()
		token.Wait()
		err := token.Error()
		if err == nil {
			break
		}
		if attempt == connectAttempts {
			return fmt.Errorf("connecting to mqtt broker %s: %w", b.config.BrokerURL, err)
		}
		logger.Debugf("mqtt connect attempt %d/%d: %v", attempt, connectAttempts, err)
		select {
		case <-b.stop:
			return errors.New("mqtt bridge stopped before connecting")
		case <-time.After(connectRetry):
		}
	}

	b.wg.Add(1)
	go b.run()
	logger.Infof("mqtt bridge connected to %s, prefix %q", b.config.BrokerURL, b.config.Prefix)
	return nil
}

// Stop halts the mirror and disconnects from the broker.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.wg.Wait()
		if b.client.IsConnected() {
			if token := b.client.Unsubscribe(b.topic("command")); token.Wait() && token.Error() != nil {
				logger.Debugf("mqtt unsubscribe: %v", token.Error())
			}
			b.client.Disconnect(disconnectWait)
		}
		logger.Infof("mqtt bridge stopped")
	})
}

// onConnect runs on every connect, including automatic reconnects.
// Subscriptions do not survive a reconnect, so they are re-established
// here, and the retained snapshot is refreshed in case deltas were
// missed while offline.
func (b *Bridge) onConnect(client paho.Client) {
	topic := b.topic("command")
	if token := client.Subscribe(topic, 0, b.handleCommand); token.Wait() && token.Error() != nil {
		logger.Errorf("mqtt subscribe %s: %v", topic, token.Error())
		return
	}
	logger.Debugf("mqtt subscribed to %s", topic)
	b.publishSnapshot()
}

func (b *Bridge) run() {
	defer b.wg.Done()

	deltas, cancel := b.core.Watch(64)
	defer cancel()

	for {
		select {
		case <-b.stop:
			return
		case delta := <-deltas:
			b.publish(b.topic("events"), false, protocol.Event{Type: protocol.EventDelta, Delta: &delta})
			b.publishSnapshot()
		}
	}
}

// handleCommand runs one command envelope from the broker. Failures are
// logged only; MQTT callers observe outcomes on the state topics.
func (b *Bridge) handleCommand(_ paho.Client, msg paho.Message) {
	var cmd protocol.Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		logger.Warnf("mqtt command: malformed payload: %v", err)
		return
	}
	if _, err := b.dispatcher.Do(context.Background(), cmd); err != nil {
		logger.Warnf("mqtt command %s failed: %v", cmd.Action, err)
	}
}

func (b *Bridge) publishSnapshot() {
	b.publish(b.topic("snapshot"), true, b.core.Snapshot())
}

func (b *Bridge) publish(topic string, retained bool, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("mqtt encode %s: %v", topic, err)
		return
	}
	if token := b.client.Publish(topic, 0, retained, data); token.Wait() && token.Error() != nil {
		logger.Warnf("mqtt publish %s: %v", topic, token.Error())
	}
}

func (b *Bridge) topic(leaf string) string {
	return b.config.Prefix + "/" + leaf
}
