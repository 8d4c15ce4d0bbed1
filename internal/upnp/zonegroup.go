// ABOUTME: ZoneGroupState document parsing
// ABOUTME: Turns a device's topology report into coordinator and member claims
package upnp

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/armintoepfer/solo/internal/zone"
)

// ZoneGroup is one group as claimed by a device's ZoneGroupState report.
type ZoneGroup struct {
	ID          string
	Coordinator zone.DeviceID
	Members     []ZoneMember
}

// ZoneMember is one visible group member. Invisible members (stereo pair
// satellites, subwoofers) are filtered out during parsing.
type ZoneMember struct {
	ID       zone.DeviceID
	Name     string
	Location string
}

// MemberIDs returns the member device IDs in report order.
func (g ZoneGroup) MemberIDs() []zone.DeviceID {
	ids := make([]zone.DeviceID, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

type zoneGroupStateXML struct {
	// Newer firmware wraps groups in <ZoneGroups>; older firmware lists
	// them directly under the root. Accept both.
	Wrapped []zoneGroupXML `xml:"ZoneGroups>ZoneGroup"`
	Flat    []zoneGroupXML `xml:"ZoneGroup"`
}

type zoneGroupXML struct {
	Coordinator string          `xml:"Coordinator,attr"`
	ID          string          `xml:"ID,attr"`
	Members     []zoneMemberXML `xml:"ZoneGroupMember"`
}

type zoneMemberXML struct {
	UUID      string `xml:"UUID,attr"`
	ZoneName  string `xml:"ZoneName,attr"`
	Location  string `xml:"Location,attr"`
	Invisible string `xml:"Invisible,attr"`
}

// ParseZoneGroupState parses the inner ZoneGroupState document (already
// unescaped from its SOAP or event envelope).
func ParseZoneGroupState(doc string) ([]ZoneGroup, error) {
	var state zoneGroupStateXML
	if err := xml.Unmarshal([]byte(doc), &state); err != nil {
		return nil, fmt.Errorf("parse zone group state: %w", err)
	}

	raw := state.Wrapped
	if len(raw) == 0 {
		raw = state.Flat
	}

	groups := make([]ZoneGroup, 0, len(raw))
	for _, g := range raw {
		coordinator := DeviceIDFromUDN(g.Coordinator)
		if coordinator == "" {
			continue
		}
		group := ZoneGroup{ID: g.ID, Coordinator: coordinator}
		for _, m := range g.Members {
			if m.Invisible != "" && m.Invisible != "0" {
				continue
			}
			id := DeviceIDFromUDN(m.UUID)
			if id == "" {
				continue
			}
			group.Members = append(group.Members, ZoneMember{
				ID:       id,
				Name:     strings.TrimSpace(m.ZoneName),
				Location: strings.TrimSpace(m.Location),
			})
		}
		groups = append(groups, group)
	}
	return groups, nil
}
