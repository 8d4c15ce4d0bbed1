// ABOUTME: GENA subscription manager for zone player services
// ABOUTME: Opens, renews, and tears down subscriptions and owns the sequence gate
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/armintoepfer/solo/internal/logger"
	"github.com/armintoepfer/solo/internal/upnp"
	"github.com/armintoepfer/solo/internal/zone"
)

// renewScanInterval is how often the renewal loop checks for
// subscriptions nearing their timeout.
const renewScanInterval = 15 * time.Second

// Config holds event ingestion settings.
type Config struct {
	// Callback is the base URL devices NOTIFY, e.g. http://10.0.0.2:8080.
	// The per-subscription path is appended.
	Callback string

	TTL         time.Duration // requested subscription lifetime
	RenewMargin time.Duration // renew when less than this remains
	Timeout     time.Duration // per-verb network deadline
}

// subKey identifies one event source: a service on a device. Sequence
// gating operates per source.
type subKey struct {
	device  zone.DeviceID
	service string
}

type subscription struct {
	addr    string
	sid     string
	expires time.Time
}

// Manager owns the GENA subscriptions of every registered device and
// feeds admitted notifications into the core.
type Manager struct {
	config Config
	client *upnp.Client
	core   *zone.Core

	mu   sync.Mutex
	subs map[subKey]*subscription

	gate *gate

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates the subscription manager.
func NewManager(cfg Config, client *upnp.Client, core *zone.Core) *Manager {
	return &Manager{
		config: cfg,
		client: client,
		core:   core,
		subs:   make(map[subKey]*subscription),
		gate:   newGate(),
		stop:   make(chan struct{}),
	}
}

// SetCallback fixes the base URL devices NOTIFY, e.g. http://10.0.0.2:8080.
// The listener address is only known once it is bound, so the daemon sets
// this after binding and before the first Subscribe.
func (m *Manager) SetCallback(base string) {
	m.config.Callback = base
}

// Start launches the renewal loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.renewLoop()
}

// Stop ends the renewal loop and tears down all subscriptions
// best-effort. Devices drop stragglers once their timeout lapses.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[subKey]*subscription)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	defer cancel()
	for key, sub := range subs {
		m.gate.drop(key)
		svc, ok := upnp.ServiceByName(key.service)
		if !ok {
			continue
		}
		if err := m.client.Unsubscribe(ctx, sub.addr, svc, sub.sid); err != nil {
			logger.Debugf("unsubscribe %s/%s: %v", key.device, key.service, err)
		}
	}
}

// Subscribe opens subscriptions for every service on a device. Already
// live subscriptions are kept, so discovery may call this on every pass.
func (m *Manager) Subscribe(ctx context.Context, dev zone.Device) {
	for _, svc := range upnp.Services {
		key := subKey{device: dev.ID, service: svc.Name}

		m.mu.Lock()
		_, live := m.subs[key]
		m.mu.Unlock()
		if live {
			continue
		}

		// Arm the gate before the verb so the initial NOTIFY cannot race
		// the subscribe response.
		m.gate.reset(key)

		callback := m.config.Callback + "/notify/" + svc.Name + "/" + string(dev.ID)
		cctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		sub, err := m.client.Subscribe(cctx, dev.Address, svc, callback, m.config.TTL)
		cancel()
		if err != nil {
			m.gate.drop(key)
			logger.Debugf("subscribe %s/%s: %v", dev.ID, svc.Name, err)
			continue
		}

		m.gate.confirm(key, sub.SID)
		m.mu.Lock()
		m.subs[key] = &subscription{addr: dev.Address, sid: sub.SID, expires: time.Now().Add(sub.Timeout)}
		m.mu.Unlock()
		logger.Debugf("subscribed %s/%s sid=%s ttl=%s", dev.ID, svc.Name, sub.SID, sub.Timeout)
	}
}

// Drop tears down a device's subscriptions, e.g. when it expires from
// the registry.
func (m *Manager) Drop(id zone.DeviceID) {
	for _, svc := range upnp.Services {
		key := subKey{device: id, service: svc.Name}

		m.mu.Lock()
		sub, ok := m.subs[key]
		if ok {
			delete(m.subs, key)
		}
		m.mu.Unlock()
		m.gate.drop(key)

		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
		if err := m.client.Unsubscribe(ctx, sub.addr, svc, sub.sid); err != nil {
			logger.Debugf("unsubscribe %s/%s: %v", id, svc.Name, err)
		}
		cancel()
	}
}

func (m *Manager) renewLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(renewScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.renewDue(time.Now())
		}
	}
}

// renewDue renews every subscription within the margin of its timeout.
// A rejected renewal means the device forgot the SID; those start over
// with a fresh subscription and a reset gate.
func (m *Manager) renewDue(now time.Time) {
	type due struct {
		key  subKey
		addr string
		sid  string
	}
	var dues []due

	m.mu.Lock()
	for key, sub := range m.subs {
		if now.After(sub.expires.Add(-m.config.RenewMargin)) {
			dues = append(dues, due{key: key, addr: sub.addr, sid: sub.sid})
		}
	}
	m.mu.Unlock()

	for _, d := range dues {
		svc, ok := upnp.ServiceByName(d.key.service)
		if !ok {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
		sub, err := m.client.Renew(ctx, d.addr, svc, d.sid, m.config.TTL)
		cancel()

		if err == nil {
			m.mu.Lock()
			if cur, ok := m.subs[d.key]; ok && cur.sid == d.sid {
				cur.expires = time.Now().Add(sub.Timeout)
			}
			m.mu.Unlock()
			continue
		}

		m.removeSub(d.key, d.sid)
		if errors.Is(err, zone.ErrCommandRejected) {
			logger.Debugf("renew %s/%s rejected, resubscribing", d.key.device, d.key.service)
			if dev, ok := m.core.Device(d.key.device); ok {
				m.Subscribe(context.Background(), dev)
			}
			continue
		}
		// Unreachable: the next discovery pass resubscribes if the
		// device comes back.
		logger.Debugf("renew %s/%s: %v", d.key.device, d.key.service, err)
	}
}

func (m *Manager) removeSub(key subKey, sid string) {
	m.mu.Lock()
	if cur, ok := m.subs[key]; ok && cur.sid == sid {
		delete(m.subs, key)
	}
	m.mu.Unlock()
	m.gate.drop(key)
}

// Admission results for one NOTIFY.
const (
	admitApply   = iota // fresh sequence number, apply the body
	admitStale          // duplicate or out-of-order, drop silently
	admitUnknown        // no live subscription for this source
)

// gate tracks the delivery sequence per event source. GENA numbers
// notifications per subscription starting at zero; anything at or below
// the high-water mark already happened.
type gate struct {
	mu      sync.Mutex
	entries map[subKey]*gateEntry
}

type gateEntry struct {
	sid     string
	lastSeq int64 // -1 until the first admitted NOTIFY
}

func newGate() *gate {
	return &gate{entries: make(map[subKey]*gateEntry)}
}

// reset arms the gate for a fresh subscription before its SID is known.
// The first NOTIFY to arrive adopts the SID.
func (g *gate) reset(key subKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[key] = &gateEntry{lastSeq: -1}
}

// confirm records the granted SID once the subscribe verb returns.
func (g *gate) confirm(key subKey, sid string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[key]; ok {
		e.sid = sid
	}
}

func (g *gate) drop(key subKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
}

// admit decides whether one NOTIFY applies. Sequence numbers only move
// forward within a SID; a new subscription resets the sequence.
func (g *gate) admit(key subKey, sid string, seq int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		return admitUnknown
	}
	if e.sid == "" {
		e.sid = sid
	}
	if e.sid != sid {
		return admitUnknown
	}
	if seq <= e.lastSeq {
		return admitStale
	}
	e.lastSeq = seq
	return admitApply
}

// hasEvents reports whether a source has delivered at least one admitted
// NOTIFY. Polled values only apply while this is false.
func (g *gate) hasEvents(key subKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	return ok && e.lastSeq >= 0
}
