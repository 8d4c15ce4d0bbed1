// ABOUTME: GENA subscription verbs and event payload parsing
// ABOUTME: Handles SUBSCRIBE/renew/UNSUBSCRIBE plus propertyset and LastChange documents
package upnp

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/armintoepfer/solo/internal/version"
	"github.com/armintoepfer/solo/internal/zone"
)

// Subscription is a live GENA subscription as granted by the device. The
// device controls the actual timeout; it may differ from the requested one.
type Subscription struct {
	SID     string
	Timeout time.Duration
}

// Subscribe opens an event subscription on one device service. callback
// is the absolute URL the device will NOTIFY.
func (c *Client) Subscribe(ctx context.Context, addr string, svc Service, callback string, ttl time.Duration) (Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", "http://"+addr+svc.EventPath, nil)
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: subscribe %s/%s: %v", zone.ErrInvalidArgument, addr, svc.Name, err)
	}
	req.Header.Set("CALLBACK", "<"+callback+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", formatTimeout(ttl))
	req.Header.Set("User-Agent", version.UserAgent())

	return c.doSubscribe(req, addr, svc, ttl)
}

// Renew refreshes an existing subscription before its timeout lapses.
// A rejected renewal (dead SID) maps to ErrCommandRejected; callers
// typically fall back to a fresh Subscribe.
func (c *Client) Renew(ctx context.Context, addr string, svc Service, sid string, ttl time.Duration) (Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", "http://"+addr+svc.EventPath, nil)
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: renew %s/%s: %v", zone.ErrInvalidArgument, addr, svc.Name, err)
	}
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", formatTimeout(ttl))
	req.Header.Set("User-Agent", version.UserAgent())

	return c.doSubscribe(req, addr, svc, ttl)
}

// Unsubscribe tears a subscription down. Best-effort at shutdown; the
// device drops it on its own once the timeout lapses.
func (c *Client) Unsubscribe(ctx context.Context, addr string, svc Service, sid string) error {
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", "http://"+addr+svc.EventPath, nil)
	if err != nil {
		return fmt.Errorf("%w: unsubscribe %s/%s: %v", zone.ErrInvalidArgument, addr, svc.Name, err)
	}
	req.Header.Set("SID", sid)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: unsubscribe %s/%s: %v", zone.ErrDeviceUnreachable, addr, svc.Name, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unsubscribe %s/%s: http %d", zone.ErrCommandRejected, addr, svc.Name, resp.StatusCode)
	}
	return nil
}

func (c *Client) doSubscribe(req *http.Request, addr string, svc Service, requested time.Duration) (Subscription, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: subscribe %s/%s: %v", zone.ErrDeviceUnreachable, addr, svc.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Subscription{}, fmt.Errorf("%w: subscribe %s/%s: http %d", zone.ErrCommandRejected, addr, svc.Name, resp.StatusCode)
	}

	sub := Subscription{
		SID:     resp.Header.Get("SID"),
		Timeout: parseTimeout(resp.Header.Get("TIMEOUT"), requested),
	}
	if sub.SID == "" {
		return Subscription{}, fmt.Errorf("%w: subscribe %s/%s: no SID granted", zone.ErrCommandRejected, addr, svc.Name)
	}
	return sub, nil
}

func formatTimeout(ttl time.Duration) string {
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return "Second-" + strconv.Itoa(secs)
}

// parseTimeout reads a "Second-300" header value. Devices answering
// "Second-infinite" or garbage fall back to the requested duration.
func parseTimeout(header string, requested time.Duration) time.Duration {
	header = strings.TrimSpace(header)
	rest, ok := strings.CutPrefix(header, "Second-")
	if !ok {
		return requested
	}
	secs, err := strconv.Atoi(rest)
	if err != nil || secs <= 0 {
		return requested
	}
	return time.Duration(secs) * time.Second
}

// ParsePropertySet parses a NOTIFY body into property name -> value.
// Values that are themselves escaped XML documents (LastChange,
// ZoneGroupState) come back unescaped and ready for their own parser.
func ParsePropertySet(data []byte) (map[string]string, error) {
	props := make(map[string]string)
	dec := xml.NewDecoder(bytes.NewReader(data))
	inProperty := false
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "property" {
				inProperty = true
				continue
			}
			if inProperty {
				var text strings.Builder
				if err := collectText(dec, &text); err != nil {
					return nil, fmt.Errorf("parse propertyset: %w", err)
				}
				props[t.Name.Local] = text.String()
				inProperty = false
			}
		case xml.EndElement:
			if t.Name.Local == "property" {
				inProperty = false
			}
		}
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("parse propertyset: no properties")
	}
	return props, nil
}

// TransportEvent is the decoded AVTransport LastChange payload. GENA
// sends only changed variables after the initial event, so every field
// is optional: an empty State or nil Track means "not reported".
type TransportEvent struct {
	State zone.TransportState
	Track *zone.Track
}

type avtEventXML struct {
	Instance struct {
		TransportState attrVal `xml:"TransportState"`
		TrackMetaData  attrVal `xml:"CurrentTrackMetaData"`
		TrackDuration  attrVal `xml:"CurrentTrackDuration"`
	} `xml:"InstanceID"`
}

type attrVal struct {
	Val string `xml:"val,attr"`
}

type channelVal struct {
	Channel string `xml:"channel,attr"`
	Val     string `xml:"val,attr"`
}

// ParseAVTransportEvent decodes the LastChange document of an
// AVTransport notification.
func ParseAVTransportEvent(lastChange string) (TransportEvent, bool) {
	var doc avtEventXML
	if err := xml.Unmarshal([]byte(lastChange), &doc); err != nil {
		return TransportEvent{}, false
	}

	var ev TransportEvent
	if raw := strings.TrimSpace(doc.Instance.TransportState.Val); raw != "" {
		ev.State = ParseTransportState(raw)
	}
	if track, ok := ParseDIDL(doc.Instance.TrackMetaData.Val); ok {
		if d := ParseClockDuration(doc.Instance.TrackDuration.Val); d > 0 {
			track.Duration = d
		}
		ev.Track = &track
	}
	if ev.State == "" && ev.Track == nil {
		return TransportEvent{}, false
	}
	return ev, true
}

// RenderingEvent is the decoded RenderingControl LastChange payload for
// the Master channel. Nil fields were not reported.
type RenderingEvent struct {
	Volume *int
	Muted  *bool
}

type rcsEventXML struct {
	Instance struct {
		Volumes []channelVal `xml:"Volume"`
		Mutes   []channelVal `xml:"Mute"`
	} `xml:"InstanceID"`
}

// ParseRenderingEvent decodes the LastChange document of a
// RenderingControl notification.
func ParseRenderingEvent(lastChange string) (RenderingEvent, bool) {
	var doc rcsEventXML
	if err := xml.Unmarshal([]byte(lastChange), &doc); err != nil {
		return RenderingEvent{}, false
	}

	var ev RenderingEvent
	for _, v := range doc.Instance.Volumes {
		if v.Channel != "Master" {
			continue
		}
		if level, err := strconv.Atoi(strings.TrimSpace(v.Val)); err == nil {
			ev.Volume = &level
		}
	}
	for _, m := range doc.Instance.Mutes {
		if m.Channel != "Master" {
			continue
		}
		muted := strings.TrimSpace(m.Val) == "1"
		ev.Muted = &muted
	}
	if ev.Volume == nil && ev.Muted == nil {
		return RenderingEvent{}, false
	}
	return ev, true
}
