// ABOUTME: SOAP control client for UPnP zone players
// ABOUTME: Builds envelopes, posts actions, and classifies transport vs device failures
package upnp

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/armintoepfer/solo/internal/version"
	"github.com/armintoepfer/solo/internal/zone"
)

// Service identifies one UPnP service on a zone player. Name is the short
// slug used in event callback paths and logs.
type Service struct {
	Name        string
	Type        string
	ControlPath string
	EventPath   string
}

var (
	AVTransport = Service{
		Name:        "avtransport",
		Type:        "urn:schemas-upnp-org:service:AVTransport:1",
		ControlPath: "/MediaRenderer/AVTransport/Control",
		EventPath:   "/MediaRenderer/AVTransport/Event",
	}
	RenderingControl = Service{
		Name:        "rendering",
		Type:        "urn:schemas-upnp-org:service:RenderingControl:1",
		ControlPath: "/MediaRenderer/RenderingControl/Control",
		EventPath:   "/MediaRenderer/RenderingControl/Event",
	}
	ZoneGroupTopology = Service{
		Name:        "topology",
		Type:        "urn:schemas-upnp-org:service:ZoneGroupTopology:1",
		ControlPath: "/ZoneGroupTopology/Control",
		EventPath:   "/ZoneGroupTopology/Event",
	}
)

// Services lists every service the daemon subscribes to.
var Services = []Service{AVTransport, RenderingControl, ZoneGroupTopology}

// ServiceByName resolves a callback path slug back to its service.
func ServiceByName(name string) (Service, bool) {
	for _, svc := range Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// Client talks UPnP to zone players: SOAP control calls, device
// descriptions, and GENA subscription verbs. All calls honor the
// deadline on the passed context; a Client carries no timeout itself.
type Client struct {
	http *http.Client
}

// NewClient creates a control client.
func NewClient() *Client {
	return &Client{http: &http.Client{}}
}

// arg is one named SOAP action argument. Values are XML-escaped when the
// envelope is rendered.
type arg struct {
	name  string
	value string
}

// call posts one SOAP action to addr and returns the raw response body.
// Transport failures map to ErrDeviceUnreachable; SOAP faults and other
// device-side refusals map to ErrCommandRejected.
func (c *Client) call(ctx context.Context, addr string, svc Service, action string, args []arg) ([]byte, error) {
	body := envelope(svc.Type, action, args)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+svc.ControlPath, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", zone.ErrInvalidArgument, action, addr, err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf("%q", svc.Type+"#"+action))
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", zone.ErrDeviceUnreachable, action, addr, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", zone.ErrDeviceUnreachable, action, addr, err)
	}

	if resp.StatusCode != http.StatusOK || bytes.Contains(data, []byte("<s:Fault")) {
		if code, ok := faultCode(data); ok {
			return nil, fmt.Errorf("%w: %s on %s: upnp error %s", zone.ErrCommandRejected, action, addr, code)
		}
		return nil, fmt.Errorf("%w: %s on %s: http %d", zone.ErrCommandRejected, action, addr, resp.StatusCode)
	}
	return data, nil
}

// envelope renders the SOAP request body for one action.
func envelope(serviceType, action string, args []arg) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>`)
	b.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	b.WriteString(`<s:Body>`)
	fmt.Fprintf(&b, `<u:%s xmlns:u=%q>`, action, serviceType)
	for _, a := range args {
		fmt.Fprintf(&b, "<%s>%s</%s>", a.name, escapeXML(a.value), a.name)
	}
	fmt.Fprintf(&b, `</u:%s>`, action)
	b.WriteString(`</s:Body></s:Envelope>`)
	return b.String()
}

func escapeXML(s string) string {
	var b bytes.Buffer
	// EscapeText only fails on a failing writer.
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// xmlText returns the character data of the first element with the given
// local name, ignoring namespaces. Devices are inconsistent about
// prefixes, so matching on local names mirrors what they all produce.
func xmlText(data []byte, local string) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == local {
			var text strings.Builder
			if err := collectText(dec, &text); err != nil {
				return "", false
			}
			return text.String(), true
		}
	}
}

// collectText gathers the direct character data of the current element,
// skipping over any nested elements.
func collectText(dec *xml.Decoder, out *strings.Builder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 1 {
				out.Write(t)
			}
		}
	}
	return nil
}

func faultCode(data []byte) (string, bool) {
	code, ok := xmlText(data, "errorCode")
	if !ok || strings.TrimSpace(code) == "" {
		return "", false
	}
	return strings.TrimSpace(code), true
}
