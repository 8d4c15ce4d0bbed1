// ABOUTME: Daemon assembly for the zone control service
// ABOUTME: Wires core, discovery, eventing, dispatch, and the boundary surfaces
package app

import (
	"fmt"
	"net"

	"github.com/armintoepfer/solo/internal/api"
	"github.com/armintoepfer/solo/internal/artwork"
	"github.com/armintoepfer/solo/internal/config"
	"github.com/armintoepfer/solo/internal/discovery"
	"github.com/armintoepfer/solo/internal/dispatch"
	"github.com/armintoepfer/solo/internal/events"
	"github.com/armintoepfer/solo/internal/logger"
	"github.com/armintoepfer/solo/internal/mqtt"
	"github.com/armintoepfer/solo/internal/upnp"
	"github.com/armintoepfer/solo/internal/zone"
)

// Daemon owns every long-running component. It exists so main stays a
// thin flag-and-signal shell.
type Daemon struct {
	config config.Config

	core       *zone.Core
	events     *events.Manager
	dispatcher *dispatch.Dispatcher
	discovery  *discovery.Manager
	artwork    *artwork.Cache
	api        *api.Server
	bridge     *mqtt.Bridge
}

// New wires the components. Nothing starts until Start.
func New(cfg config.Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	core := zone.New()
	client := upnp.NewClient()

	// The callback URL is set after the listener binds.
	ev := events.NewManager(events.Config{
		TTL:         cfg.SubscriptionTTL,
		RenewMargin: cfg.RenewMargin,
		Timeout:     cfg.CommandTimeout,
	}, client, core)

	dispatcher := dispatch.New(core, client, cfg.CommandTimeout)

	disco := discovery.NewManager(discovery.Config{
		Target:      cfg.SearchTarget,
		Window:      cfg.DiscoveryWindow,
		Interval:    cfg.DiscoveryInterval,
		Timeout:     cfg.CommandTimeout,
		ModelPrefix: cfg.ModelPrefix,
		Silence:     cfg.SilenceTimeout,
		Sweep:       cfg.ExpirySweep,
		MDNS:        cfg.MDNS,
	}, client, core, ev)

	art, err := artwork.NewCache(core)
	if err != nil {
		return nil, fmt.Errorf("artwork cache: %w", err)
	}

	d := &Daemon{
		config:     cfg,
		core:       core,
		events:     ev,
		dispatcher: dispatcher,
		discovery:  disco,
		artwork:    art,
	}

	d.api = api.New(api.Config{
		Addr:    cfg.HTTPAddr,
		Notify:  ev.HandleNotify,
		Refresh: disco.Refresh,
		Artwork: art,
	}, core, dispatcher)

	if cfg.MQTTBroker != "" {
		d.bridge = mqtt.New(mqtt.Config{
			BrokerURL: cfg.MQTTBroker,
			Prefix:    cfg.MQTTPrefix,
		}, core, dispatcher)
	}

	return d, nil
}

// Start brings the daemon up. The listener binds first so the NOTIFY
// callback URL is known; eventing, discovery, and the optional broker
// bridge follow.
func (d *Daemon) Start() error {
	if err := d.api.Start(); err != nil {
		return err
	}

	callback, err := d.callbackBase()
	if err != nil {
		d.api.Stop()
		return err
	}
	d.events.SetCallback(callback)
	logger.Infof("event callbacks advertised at %s", callback)

	d.events.Start()
	d.discovery.Start()

	if d.bridge != nil {
		// A dead broker must not take LAN control down with it.
		if err := d.bridge.Start(); err != nil {
			logger.Warnf("mqtt bridge disabled: %v", err)
			d.bridge = nil
		}
	}
	return nil
}

// Stop tears the daemon down: discovery and the bridge first so nothing
// new arrives, then subscriptions, then the listener.
func (d *Daemon) Stop() {
	d.discovery.Stop()
	if d.bridge != nil {
		d.bridge.Stop()
	}
	d.events.Stop()
	d.api.Stop()
}

// Core exposes the model for optional frontends like the dashboard.
func (d *Daemon) Core() *zone.Core {
	return d.core
}

// Refresh triggers an on-demand discovery pass.
func (d *Daemon) Refresh() {
	d.discovery.Refresh()
}

// Addr returns the bound API address, available after Start.
func (d *Daemon) Addr() string {
	return d.api.Addr()
}

// callbackBase resolves the URL devices use to reach the NOTIFY
// listener: the configured advertise host, or the first usable
// interface address, plus the bound port.
func (d *Daemon) callbackBase() (string, error) {
	_, port, err := net.SplitHostPort(d.api.Addr())
	if err != nil {
		return "", fmt.Errorf("parsing bound address %q: %w", d.api.Addr(), err)
	}
	host := d.config.AdvertiseHost
	if host == "" {
		host, err = localIP()
		if err != nil {
			return "", fmt.Errorf("advertise host not set and autodetection failed: %w", err)
		}
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// localIP picks the first non-loopback IPv4 on an up interface.
func localIP() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				return ipnet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no usable interface address found")
}
