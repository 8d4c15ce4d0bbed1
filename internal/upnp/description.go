// ABOUTME: Device description fetching and parsing
// ABOUTME: Resolves a discovery LOCATION URL into identity and model facts
package upnp

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/armintoepfer/solo/internal/version"
	"github.com/armintoepfer/solo/internal/zone"
)

// Description is the subset of a device description document the daemon
// cares about.
type Description struct {
	ID       zone.DeviceID // UDN without the uuid: prefix
	Name     string        // room name, falling back to friendly name
	Model    string
	Address  string // host:port of the control endpoint
	Location string
}

type descriptionXML struct {
	Device struct {
		UDN          string `xml:"UDN"`
		FriendlyName string `xml:"friendlyName"`
		RoomName     string `xml:"roomName"`
		ModelName    string `xml:"modelName"`
	} `xml:"device"`
}

// FetchDescription downloads and parses the device description document
// behind a discovery LOCATION URL.
func (c *Client) FetchDescription(ctx context.Context, location string) (Description, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return Description{}, fmt.Errorf("%w: bad location %q: %v", zone.ErrInvalidArgument, location, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return Description{}, fmt.Errorf("%w: describe %s: %v", zone.ErrDeviceUnreachable, location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Description{}, fmt.Errorf("%w: describe %s: http %d", zone.ErrDeviceUnreachable, location, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Description{}, fmt.Errorf("%w: describe %s: %v", zone.ErrDeviceUnreachable, location, err)
	}
	return parseDescription(location, data)
}

func parseDescription(location string, data []byte) (Description, error) {
	var doc descriptionXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Description{}, fmt.Errorf("parse description %s: %w", location, err)
	}

	id := DeviceIDFromUDN(doc.Device.UDN)
	if id == "" {
		return Description{}, fmt.Errorf("description %s has no UDN", location)
	}

	name := doc.Device.RoomName
	if name == "" {
		name = doc.Device.FriendlyName
	}

	addr, err := AddressFromLocation(location)
	if err != nil {
		return Description{}, err
	}

	return Description{
		ID:       id,
		Name:     name,
		Model:    doc.Device.ModelName,
		Address:  addr,
		Location: location,
	}, nil
}

// DeviceIDFromUDN strips the uuid: prefix off a UDN or USN header value.
// USN values carry a ::urn:... suffix after the identity.
func DeviceIDFromUDN(udn string) zone.DeviceID {
	udn = strings.TrimSpace(udn)
	udn = strings.TrimPrefix(udn, "uuid:")
	if i := strings.Index(udn, "::"); i >= 0 {
		udn = udn[:i]
	}
	return zone.DeviceID(udn)
}

// AddressFromLocation extracts the host:port control address from a
// description URL.
func AddressFromLocation(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("bad device location %q", location)
	}
	return u.Host, nil
}
