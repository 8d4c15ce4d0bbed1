// ABOUTME: Daemon configuration loaded from environment variables
// ABOUTME: Provides defaults for discovery, eventing, and API timing knobs
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all daemon settings. Values come from the environment
// (optionally via a .env file); flags in main may override a subset.
type Config struct {
	HTTPAddr      string // listen address for the API + event callbacks
	AdvertiseHost string // host devices use to reach the callback listener; empty = auto-detect

	DiscoveryWindow   time.Duration // how long one search pass collects responses
	DiscoveryInterval time.Duration // time between periodic search passes
	SilenceTimeout    time.Duration // device removed after this much silence
	ExpirySweep       time.Duration // how often the silence check runs

	CommandTimeout  time.Duration // per control-call deadline
	SubscriptionTTL time.Duration // requested GENA subscription lifetime
	RenewMargin     time.Duration // renew when less than this remains

	SearchTarget string // SSDP search target
	ModelPrefix  string // device models kept during discovery
	MDNS         bool   // browse mDNS as a secondary discovery source

	MQTTBroker string // broker URL; empty disables the bridge
	MQTTPrefix string // topic prefix for the bridge

	LogLevel string
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() Config {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	return Config{
		HTTPAddr:      envString("SOLO_HTTP_ADDR", ":8080"),
		AdvertiseHost: envString("SOLO_ADVERTISE_HOST", ""),

		DiscoveryWindow:   envDuration("SOLO_DISCOVERY_WINDOW", 3*time.Second),
		DiscoveryInterval: envDuration("SOLO_DISCOVERY_INTERVAL", 30*time.Second),
		SilenceTimeout:    envDuration("SOLO_SILENCE_TIMEOUT", 90*time.Second),
		ExpirySweep:       envDuration("SOLO_EXPIRY_SWEEP", 10*time.Second),

		CommandTimeout:  envDuration("SOLO_COMMAND_TIMEOUT", 5*time.Second),
		SubscriptionTTL: envDuration("SOLO_SUBSCRIPTION_TTL", 300*time.Second),
		RenewMargin:     envDuration("SOLO_RENEW_MARGIN", 60*time.Second),

		SearchTarget: envString("SOLO_SEARCH_TARGET", "urn:schemas-upnp-org:device:ZonePlayer:1"),
		ModelPrefix:  envString("SOLO_MODEL_PREFIX", "Sonos"),
		MDNS:         envBool("SOLO_MDNS", false),

		MQTTBroker: envString("SOLO_MQTT_BROKER", ""),
		MQTTPrefix: envString("SOLO_MQTT_PREFIX", "solo"),

		LogLevel: envString("SOLO_LOG_LEVEL", "info"),
	}
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http listen address must not be empty")
	}
	if c.DiscoveryWindow <= 0 {
		return fmt.Errorf("discovery window must be positive, got %v", c.DiscoveryWindow)
	}
	if c.SilenceTimeout <= c.DiscoveryWindow {
		return fmt.Errorf("silence timeout %v must exceed the discovery window %v", c.SilenceTimeout, c.DiscoveryWindow)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive, got %v", c.CommandTimeout)
	}
	if c.SubscriptionTTL <= c.RenewMargin {
		return fmt.Errorf("subscription ttl %v must exceed the renew margin %v", c.SubscriptionTTL, c.RenewMargin)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
