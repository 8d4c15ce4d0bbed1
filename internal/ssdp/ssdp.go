// ABOUTME: SSDP M-SEARCH discovery for zone players
// ABOUTME: Broadcasts search requests and collects unicast answers
package ssdp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/armintoepfer/solo/internal/version"
)

const (
	multicastGroup = "239.255.255.250"
	multicastPort  = 1900
)

// Response is one SSDP search answer.
type Response struct {
	Location string
	USN      string
}

// Search broadcasts one M-SEARCH for the given target and collects
// answers until the window lapses or ctx is canceled. Early cancellation
// returns whatever arrived so far. Duplicate locations are folded.
func Search(ctx context.Context, target string, window time.Duration) ([]Response, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("ssdp search: %w", err)
	}
	defer conn.Close()

	group := &net.UDPAddr{IP: net.ParseIP(multicastGroup), Port: multicastPort}
	if _, err := conn.WriteTo(searchRequest(target, window), group); err != nil {
		return nil, fmt.Errorf("ssdp search: %w", err)
	}

	deadline := time.Now().Add(window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	unblock := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer unblock()

	var responses []Response
	seen := make(map[string]bool)
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			// The window lapsed or the context fired; both end the pass.
			return responses, nil
		}
		d, ok := parseDatagram(buf[:n])
		if !ok || d.notify || d.target != target || d.location == "" {
			continue
		}
		if seen[d.location] {
			continue
		}
		seen[d.location] = true
		responses = append(responses, Response{Location: d.location, USN: d.usn})
	}
}

// searchRequest renders the M-SEARCH datagram. MX tells devices how long
// they may delay their answer, so it tracks the collect window.
func searchRequest(target string, window time.Duration) []byte {
	mx := int(window / time.Second)
	if mx < 1 {
		mx = 1
	}
	if mx > 5 {
		mx = 5
	}

	var b strings.Builder
	b.WriteString("M-SEARCH * HTTP/1.1\r\n")
	fmt.Fprintf(&b, "HOST: %s:%d\r\n", multicastGroup, multicastPort)
	b.WriteString("MAN: \"ssdp:discover\"\r\n")
	fmt.Fprintf(&b, "ST: %s\r\n", target)
	fmt.Fprintf(&b, "MX: %d\r\n", mx)
	fmt.Fprintf(&b, "USER-AGENT: %s\r\n", version.UserAgent())
	b.WriteString("\r\n")
	return []byte(b.String())
}

// datagram is one parsed SSDP message, either a search answer or a
// multicast NOTIFY.
type datagram struct {
	notify   bool
	location string
	usn      string
	target   string // ST on answers, NT on announcements
	byebye   bool
}

func parseDatagram(data []byte) (datagram, bool) {
	reader := bufio.NewReader(bytes.NewReader(data))
	first, err := reader.ReadString('\n')
	if err != nil {
		return datagram{}, false
	}
	first = strings.TrimSpace(first)

	var d datagram
	switch {
	case strings.HasPrefix(first, "NOTIFY"):
		d.notify = true
	case strings.HasPrefix(first, "HTTP/1.1 200"):
	default:
		return datagram{}, false
	}

	headers, err := textproto.NewReader(reader).ReadMIMEHeader()
	if err != nil && len(headers) == 0 {
		return datagram{}, false
	}

	d.location = strings.TrimSpace(headers.Get("Location"))
	d.usn = strings.TrimSpace(headers.Get("USN"))
	if d.notify {
		d.target = strings.TrimSpace(headers.Get("NT"))
		d.byebye = strings.EqualFold(strings.TrimSpace(headers.Get("NTS")), "ssdp:byebye")
	} else {
		d.target = strings.TrimSpace(headers.Get("ST"))
	}
	return d, true
}
