// ABOUTME: Device discovery combining SSDP search passes with alive tracking
// ABOUTME: Fills the registry, seeds group topology, and expires silent devices
package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/armintoepfer/solo/internal/events"
	"github.com/armintoepfer/solo/internal/logger"
	"github.com/armintoepfer/solo/internal/ssdp"
	"github.com/armintoepfer/solo/internal/upnp"
	"github.com/armintoepfer/solo/internal/zone"
)

// Config holds discovery settings.
type Config struct {
	Target      string        // SSDP search target
	Window      time.Duration // per-pass response collection window
	Interval    time.Duration // spacing between periodic passes
	Timeout     time.Duration // per device-call deadline
	ModelPrefix string        // keep only devices whose model starts with this
	Silence     time.Duration // expiry threshold for silent devices
	Sweep       time.Duration // spacing between expiry sweeps
	MDNS        bool          // browse _sonos._tcp as a secondary source
}

// Manager runs the discovery pipeline: periodic and on-demand search
// passes locate devices, alive announcements keep them fresh, and the
// sweep expires whatever went silent.
type Manager struct {
	config Config
	client *upnp.Client
	core   *zone.Core
	events *events.Manager

	mu     sync.Mutex
	cancel context.CancelFunc // cancels the in-flight pass

	listener *ssdp.Listener
	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates the discovery manager.
func NewManager(cfg Config, client *upnp.Client, core *zone.Core, ev *events.Manager) *Manager {
	return &Manager{
		config: cfg,
		client: client,
		core:   core,
		events: ev,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Start launches the search, announcement, and sweep loops. The
// multicast listener is best effort: another control point may already
// own port 1900, and search passes alone keep the registry fresh.
func (m *Manager) Start() {
	listener, err := ssdp.Listen(m.config.Target)
	if err != nil {
		logger.Warnf("ssdp listener unavailable, relying on search passes: %v", err)
	} else {
		m.listener = listener
		m.wg.Add(1)
		go m.announceLoop()
	}

	m.wg.Add(2)
	go m.runLoop()
	go m.sweepLoop()

	if m.config.MDNS {
		m.wg.Add(1)
		go m.mdnsLoop()
	}
}

// Stop cancels any in-flight pass and waits for the loops to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		m.mu.Unlock()
		if m.listener != nil {
			m.listener.Stop()
		}
	})
	m.wg.Wait()
}

// Refresh triggers an on-demand pass. An in-flight pass is abandoned
// (its responses so far still merge); the fresh pass starts immediately.
func (m *Manager) Refresh() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Manager) runLoop() {
	defer m.wg.Done()

	m.pass()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.pass()
		case <-m.kick:
			m.pass()
		}
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Sweep)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			for _, dev := range m.core.ExpireDevices(time.Now(), m.config.Silence) {
				logger.Infof("device %s (%s) silent for %s, removed", dev.Name, dev.ID, m.config.Silence)
				m.events.Drop(dev.ID)
			}
		}
	}
}

func (m *Manager) announceLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stop:
			return
		case ann, ok := <-m.listener.Announcements():
			if !ok {
				return
			}
			m.handleAnnouncement(ann)
		}
	}
}

// pass runs one search: collect responses, resolve their descriptions in
// parallel, seed the group topology, then wire up eventing and priming.
func (m *Manager) pass() {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	responses, err := ssdp.Search(ctx, m.config.Target, m.config.Window)

	m.mu.Lock()
	m.cancel = nil
	m.mu.Unlock()
	cancel()

	if err != nil {
		logger.Warnf("ssdp search: %v", err)
		return
	}
	// An empty pass is not an error; the next tick tries again.
	if len(responses) == 0 {
		logger.Debugf("discovery pass found no devices")
		return
	}

	located := make([]zone.Device, len(responses))
	adopted := make([]bool, len(responses))
	var wg sync.WaitGroup
	for i, r := range responses {
		wg.Add(1)
		go func(i int, location string) {
			defer wg.Done()
			located[i], adopted[i] = m.locate(location)
		}(i, r.Location)
	}
	wg.Wait()

	var devs []zone.Device
	for i, ok := range adopted {
		if ok {
			devs = append(devs, located[i])
		}
	}
	if len(devs) == 0 {
		return
	}

	m.seedTopology(devs)
	for _, dev := range devs {
		m.attach(dev)
	}
	m.primeCoordinators()
}

// locate resolves a LOCATION URL into a registered device. Devices not
// matching the model filter are ignored.
func (m *Manager) locate(location string) (zone.Device, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	defer cancel()

	desc, err := m.client.FetchDescription(ctx, location)
	if err != nil {
		logger.Debugf("describe %s: %v", location, err)
		return zone.Device{}, false
	}
	if m.config.ModelPrefix != "" && !strings.HasPrefix(desc.Model, m.config.ModelPrefix) {
		logger.Debugf("ignoring %s (%s): other vendor", desc.Name, desc.Model)
		return zone.Device{}, false
	}

	dev := zone.Device{
		ID:               desc.ID,
		Name:             desc.Name,
		Model:            desc.Model,
		Address:          desc.Address,
		Location:         desc.Location,
		CanGroup:         true,
		CanControlVolume: true,
		LastSeen:         time.Now(),
	}
	if m.core.UpsertDevice(dev) {
		logger.Infof("discovered %s (%s) at %s", dev.Name, dev.ID, dev.Address)
	}
	return dev, true
}

// seedTopology asks one device for the whole-home group state. Any
// member answers for the fleet, so the first reachable one wins.
func (m *Manager) seedTopology(devs []zone.Device) {
	for _, dev := range devs {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
		groups, err := m.client.GetZoneGroupState(ctx, dev.Address)
		cancel()
		if err != nil {
			logger.Debugf("zone group state from %s: %v", dev.ID, err)
			continue
		}
		events.ApplyZoneGroups(m.core, groups)
		return
	}
}

// attach opens event subscriptions and warms the rendering cache.
// Both are idempotent, so every pass may call this.
func (m *Manager) attach(dev zone.Device) {
	m.events.Subscribe(context.Background(), dev)
	m.events.PrimeDevice(context.Background(), dev)
}

// primeCoordinators polls transport state for groups that have not
// reported any yet.
func (m *Manager) primeCoordinators() {
	for _, g := range m.core.Groups() {
		if coord, ok := m.core.Device(g.Coordinator); ok {
			m.events.PrimeGroup(context.Background(), coord)
		}
	}
}

// handleAnnouncement keeps announcing devices fresh. byebye is only
// logged: removal stays silence-driven, because players reboot far more
// often than they actually leave the network.
func (m *Manager) handleAnnouncement(ann ssdp.Announcement) {
	id := upnp.DeviceIDFromUDN(ann.USN)
	if ann.Byebye {
		logger.Debugf("byebye from %s", id)
		return
	}
	if id != "" && m.core.TouchDevice(id, time.Now()) {
		return
	}
	// A player we have not met announced itself; adopt it right away.
	if ann.Location == "" {
		return
	}
	if dev, ok := m.locate(ann.Location); ok {
		m.attach(dev)
	}
}
