package usbmon

import (
	"testing"

	"github.com/google/gousb"
)

func desc(vendor, product uint16) *gousb.DeviceDesc {
	return &gousb.DeviceDesc{Vendor: gousb.ID(vendor), Product: gousb.ID(product)}
}

func TestMatchesAcceptsEverythingWithNoAllowList(t *testing.T) {
	m := NewMonitor(nil)
	if !m.matches(desc(0x16C0, 0x0478)) {
		t.Error("an empty allow-list should match every device")
	}
}

func TestMatchesFiltersToAllowList(t *testing.T) {
	m := NewMonitor([]VIDPID{{Vendor: 0x16C0, Product: 0x0478}})

	if !m.matches(desc(0x16C0, 0x0478)) {
		t.Error("expected the allow-listed pair to match")
	}
	if m.matches(desc(0x16C0, 0x0483)) {
		t.Error("expected a different product id to be rejected")
	}
	if m.matches(desc(0x1234, 0x0478)) {
		t.Error("expected a different vendor id to be rejected")
	}
}

func descAt(bus, address int, vendor, product uint16) *gousb.DeviceDesc {
	d := desc(vendor, product)
	d.Bus = bus
	d.Address = address
	return d
}

func TestReuseDecisionReusesUnchangedDevice(t *testing.T) {
	old := NewSyntheticDevice(locationOf(descAt(5, 3, 0x16C0, 0x0478)), 0x16C0, 0x0478, "", 0)
	previous := map[string]*Device{old.location: old}

	open, reuse := reuseDecision(previous, descAt(5, 3, 0x16C0, 0x0478))
	if open {
		t.Error("expected an unchanged device not to need a fresh handle")
	}
	if reuse != old {
		t.Errorf("expected reuseDecision to return the previously tracked Device, got %v", reuse)
	}
}

func TestReuseDecisionOpensNewLocation(t *testing.T) {
	previous := map[string]*Device{}

	open, reuse := reuseDecision(previous, descAt(5, 3, 0x16C0, 0x0478))
	if !open {
		t.Error("expected a never-before-seen location to open a handle")
	}
	if reuse != nil {
		t.Errorf("expected no reused device for a new location, got %v", reuse)
	}
}

func TestReuseDecisionOpensWhenIdentityChanged(t *testing.T) {
	loc := locationOf(descAt(5, 3, 0x16C0, 0x0478))
	old := NewSyntheticDevice(loc, 0x16C0, 0x0478, "", 0)
	previous := map[string]*Device{loc: old}

	// Same port, different VID/PID: the board rebooted into another mode.
	open, reuse := reuseDecision(previous, descAt(5, 3, 0x16C0, 0x0483))
	if !open {
		t.Error("expected a VID/PID change at the same location to open a fresh handle")
	}
	if reuse != nil {
		t.Errorf("expected no reused device when identity changed, got %v", reuse)
	}
}
