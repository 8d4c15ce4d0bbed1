// ABOUTME: Multicast NOTIFY listener for SSDP presence announcements
// ABOUTME: Joins the SSDP group and surfaces alive/byebye messages between search passes
package ssdp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/armintoepfer/solo/internal/logger"
)

// Announcement is one NOTIFY heard on the multicast group.
type Announcement struct {
	Location string
	USN      string
	Byebye   bool
}

// Listener joins the SSDP multicast group and surfaces NOTIFY
// announcements matching one search target. Port 1900 may be owned by
// another SSDP daemon on the host; callers treat a failed listener as
// non-fatal and fall back to periodic searches alone.
type Listener struct {
	target string
	packet net.PacketConn
	conn   *ipv4.PacketConn
	out    chan Announcement

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Listen binds the SSDP port and joins the multicast group on every
// usable interface.
func Listen(target string) (*Listener, error) {
	packet, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", multicastPort))
	if err != nil {
		return nil, fmt.Errorf("ssdp listen: %w", err)
	}

	conn := ipv4.NewPacketConn(packet)
	group := &net.UDPAddr{IP: net.ParseIP(multicastGroup)}

	joined := 0
	ifaces, err := net.Interfaces()
	if err == nil {
		for i := range ifaces {
			iface := ifaces[i]
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
				continue
			}
			if err := conn.JoinGroup(&iface, group); err == nil {
				joined++
			}
		}
	}
	if joined == 0 {
		packet.Close()
		return nil, fmt.Errorf("ssdp listen: no multicast-capable interface")
	}

	l := &Listener{
		target: target,
		packet: packet,
		conn:   conn,
		out:    make(chan Announcement, 16),
		stop:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.readLoop()

	logger.Debugf("SSDP listener joined %s on %d interface(s)", multicastGroup, joined)
	return l, nil
}

// Announcements returns the channel of matching NOTIFY messages.
// Announcements are dropped when the consumer lags; the periodic search
// pass re-finds anything missed.
func (l *Listener) Announcements() <-chan Announcement {
	return l.out
}

// Stop leaves the multicast group and ends the read loop.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.packet.Close()
	})
	l.wg.Wait()
}

func (l *Listener) readLoop() {
	defer l.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, _, _, err := l.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-l.stop:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		d, ok := parseDatagram(buf[:n])
		if !ok || !d.notify || d.target != l.target {
			continue
		}

		ann := Announcement{Location: d.location, USN: d.usn, Byebye: d.byebye}
		select {
		case l.out <- ann:
		default:
		}
	}
}
