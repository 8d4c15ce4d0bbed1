// ABOUTME: DIDL-Lite track metadata parsing
// ABOUTME: Extracts title, artist, album, artwork, and clock-format durations
package upnp

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/armintoepfer/solo/internal/zone"
)

type didlXML struct {
	Item struct {
		Title       string `xml:"title"`
		Creator     string `xml:"creator"`
		Album       string `xml:"album"`
		AlbumArtURI string `xml:"albumArtURI"`
		Res         struct {
			Duration string `xml:"duration,attr"`
		} `xml:"res"`
	} `xml:"item"`
}

// ParseDIDL parses an unescaped DIDL-Lite document into track metadata.
// Returns false when the document is empty or carries no usable fields;
// a "NOT_IMPLEMENTED" placeholder counts as empty.
func ParseDIDL(doc string) (zone.Track, bool) {
	doc = strings.TrimSpace(doc)
	if doc == "" || doc == "NOT_IMPLEMENTED" {
		return zone.Track{}, false
	}

	var d didlXML
	if err := xml.Unmarshal([]byte(doc), &d); err != nil {
		return zone.Track{}, false
	}

	track := zone.Track{
		Title:      strings.TrimSpace(d.Item.Title),
		Artist:     strings.TrimSpace(d.Item.Creator),
		Album:      strings.TrimSpace(d.Item.Album),
		ArtworkURL: strings.TrimSpace(d.Item.AlbumArtURI),
		Duration:   ParseClockDuration(d.Item.Res.Duration),
	}
	if track.Title == "" && track.Artist == "" && track.Album == "" {
		return zone.Track{}, false
	}
	return track, true
}

// ParseClockDuration converts a device duration like "0:03:21" or
// "1:02:03.456" to whole seconds. Unknown or placeholder values are 0.
func ParseClockDuration(s string) int {
	s = strings.TrimSpace(s)
	if s == "" || s == "NOT_IMPLEMENTED" {
		return 0
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}

	parts := strings.Split(s, ":")
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}
