// ABOUTME: mDNS browsing as a secondary discovery source
// ABOUTME: Feeds _sonos._tcp answers into the same adoption path as SSDP
package discovery

import (
	"fmt"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/armintoepfer/solo/internal/logger"
)

const mdnsService = "_sonos._tcp"

// mdnsLoop periodically browses for players over mDNS. Some firmware
// answers multicast DNS more reliably than unicast SSDP, so hits feed
// the same locate/attach path; duplicates merge in the registry.
func (m *Manager) mdnsLoop() {
	defer m.wg.Done()

	m.browseMDNS()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.browseMDNS()
		}
	}
}

func (m *Manager) browseMDNS() {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			if entry.AddrV4 == nil || entry.Port == 0 {
				continue
			}
			location := fmt.Sprintf("http://%s:%d/xml/device_description.xml", entry.AddrV4, entry.Port)
			if dev, ok := m.locate(location); ok {
				m.attach(dev)
			}
		}
	}()

	params := &mdns.QueryParam{
		Service:     mdnsService,
		Domain:      "local",
		Timeout:     m.config.Window,
		Entries:     entries,
		DisableIPv6: true,
	}
	if err := mdns.Query(params); err != nil {
		logger.Debugf("mdns browse: %v", err)
	}
	close(entries)
	<-done
}
