// ABOUTME: Tests for ZoneGroupState parsing
// ABOUTME: Covers wrapped and flat layouts plus invisible member filtering
package upnp

import "testing"

func TestParseZoneGroupStateWrapped(t *testing.T) {
	doc := `<ZoneGroupState><ZoneGroups>` +
		`<ZoneGroup Coordinator="uuid:RINCON_A" ID="RINCON_A:42">` +
		`<ZoneGroupMember UUID="RINCON_A" ZoneName="Kitchen" Location="http://10.0.0.5:1400/desc.xml" Invisible="0"/>` +
		`<ZoneGroupMember UUID="RINCON_B" ZoneName="Dining" Location="http://10.0.0.6:1400/desc.xml"/>` +
		`</ZoneGroup>` +
		`<ZoneGroup Coordinator="RINCON_C" ID="RINCON_C:7">` +
		`<ZoneGroupMember UUID="RINCON_C" ZoneName="Bedroom" Location="http://10.0.0.7:1400/desc.xml"/>` +
		`</ZoneGroup>` +
		`</ZoneGroups></ZoneGroupState>`

	groups, err := ParseZoneGroupState(doc)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	if groups[0].Coordinator != "RINCON_A" {
		t.Errorf("expected coordinator RINCON_A, got %s", groups[0].Coordinator)
	}
	if groups[0].ID != "RINCON_A:42" {
		t.Errorf("expected group id RINCON_A:42, got %s", groups[0].ID)
	}
	ids := groups[0].MemberIDs()
	if len(ids) != 2 || ids[0] != "RINCON_A" || ids[1] != "RINCON_B" {
		t.Errorf("expected members [RINCON_A RINCON_B], got %v", ids)
	}
	if groups[0].Members[0].Name != "Kitchen" {
		t.Errorf("expected zone name Kitchen, got %s", groups[0].Members[0].Name)
	}
	if groups[1].Coordinator != "RINCON_C" {
		t.Errorf("expected coordinator RINCON_C, got %s", groups[1].Coordinator)
	}
}

func TestParseZoneGroupStateFlat(t *testing.T) {
	// Older firmware lists groups directly under the root element.
	doc := `<ZoneGroupState>` +
		`<ZoneGroup Coordinator="RINCON_A" ID="RINCON_A:1">` +
		`<ZoneGroupMember UUID="RINCON_A" ZoneName="Kitchen" Location="http://10.0.0.5:1400/desc.xml"/>` +
		`</ZoneGroup>` +
		`</ZoneGroupState>`

	groups, err := ParseZoneGroupState(doc)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0].Coordinator != "RINCON_A" {
		t.Errorf("expected coordinator RINCON_A, got %s", groups[0].Coordinator)
	}
}

func TestParseZoneGroupStateFiltersInvisible(t *testing.T) {
	doc := `<ZoneGroupState><ZoneGroups>` +
		`<ZoneGroup Coordinator="RINCON_A" ID="RINCON_A:1">` +
		`<ZoneGroupMember UUID="RINCON_A" ZoneName="Living Room" Location="http://10.0.0.5:1400/desc.xml"/>` +
		`<ZoneGroupMember UUID="RINCON_SUB" ZoneName="Living Room" Location="http://10.0.0.8:1400/desc.xml" Invisible="1"/>` +
		`</ZoneGroup>` +
		`</ZoneGroups></ZoneGroupState>`

	groups, err := ParseZoneGroupState(doc)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ids := groups[0].MemberIDs()
	if len(ids) != 1 || ids[0] != "RINCON_A" {
		t.Errorf("expected invisible member to be filtered, got %v", ids)
	}
}

func TestParseZoneGroupStateSkipsEmptyCoordinator(t *testing.T) {
	doc := `<ZoneGroupState><ZoneGroups>` +
		`<ZoneGroup Coordinator="" ID="X:1">` +
		`<ZoneGroupMember UUID="RINCON_A" ZoneName="Kitchen" Location=""/>` +
		`</ZoneGroup>` +
		`</ZoneGroups></ZoneGroupState>`

	groups, err := ParseZoneGroupState(doc)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("expected group without coordinator to be skipped, got %d groups", len(groups))
	}
}

func TestParseZoneGroupStateBadXML(t *testing.T) {
	if _, err := ParseZoneGroupState("<ZoneGroupState"); err == nil {
		t.Error("expected error for malformed document")
	}
}
