package board

import (
	"testing"
	"time"

	"github.com/tytools/tytools/pkg/firmware"
	"github.com/tytools/tytools/pkg/model"
	"github.com/tytools/tytools/pkg/usbmon"
)

func teensy30() model.Model {
	m, ok := model.Find("teensy30")
	if !ok {
		panic("teensy30 not registered")
	}
	return m
}

func newTestBoard(caps Set) (*Board, *Interface) {
	dev := usbmon.NewSyntheticDevice("5-1.3", 0x16C0, 0x0483, "1234", 0)
	iface := NewInterface(dev, "test", teensy30(), 1234, caps, &Vtable{
		Upload: func(iface *Interface, fw *firmware.Firmware, progress ProgressFunc) error { return nil },
	})
	return NewStandaloneBoard(iface), iface
}

func TestNewStandaloneBoardHasNoManager(t *testing.T) {
	b, _ := newTestBoard(CapabilityUpload.Bit())
	if b.Manager() != nil {
		t.Error("a standalone board should report a nil Manager")
	}
	if b.State() != StateOnline {
		t.Errorf("State() = %v, want StateOnline", b.State())
	}
	if err := b.WaitFor(CapabilityReset, false, 0); err == nil {
		t.Error("WaitFor on a standalone board lacking the capability should fail, not block forever")
	}
}

func TestEventString(t *testing.T) {
	cases := map[Event]string{
		EventAdded:       "added",
		EventChanged:     "changed",
		EventDisappeared: "disappeared",
		EventDropped:     "dropped",
		Event(99):        "unknown",
	}
	for event, want := range cases {
		if got := event.String(); got != want {
			t.Errorf("Event(%d).String() = %q, want %q", event, got, want)
		}
	}
}

func TestBoardCapabilitiesRouting(t *testing.T) {
	caps := CapabilityUpload.Bit().With(CapabilityReset)
	b, _ := newTestBoard(caps)

	if !b.HasCapability(CapabilityUpload) {
		t.Error("expected upload capability")
	}
	if !b.HasCapability(CapabilityReset) {
		t.Error("expected reset capability")
	}
	if b.HasCapability(CapabilityReboot) {
		t.Error("did not expect reboot capability")
	}

	iface := b.GetInterface(CapabilityUpload)
	if iface == nil {
		t.Fatal("expected an interface for upload")
	}
	iface.Unref()

	if b.GetInterface(CapabilityReboot) != nil {
		t.Error("expected nil interface for reboot")
	}
}

func TestBoardMatchesIdentity(t *testing.T) {
	b, _ := newTestBoard(CapabilityUpload.Bit())

	cases := []struct {
		id   string
		want bool
	}{
		{"", true},
		{b.location, true},
		{b.identity, true},
		{"5-1.3#1234", true},
		{"5-1.3#9999", false},
		{"5-1.9", false},
		{"#1234", true},
	}

	for _, c := range cases {
		got, err := b.MatchesIdentity(c.id)
		if err != nil {
			t.Fatalf("MatchesIdentity(%q): %v", c.id, err)
		}
		if got != c.want {
			t.Errorf("MatchesIdentity(%q) = %v, want %v", c.id, got, c.want)
		}
	}
}

func TestBoardMatchesIdentityMalformed(t *testing.T) {
	b, _ := newTestBoard(CapabilityUpload.Bit())

	if _, err := b.MatchesIdentity("5-1.3#notanumber"); err == nil {
		t.Fatal("expected error for malformed serial")
	}
}

func TestBoardRemoveInterfaceClearsCapabilities(t *testing.T) {
	b, iface := newTestBoard(CapabilityUpload.Bit())

	b.mu.Lock()
	b.removeInterfaceLocked(iface)
	b.mu.Unlock()

	if b.HasCapability(CapabilityUpload) {
		t.Error("expected no capabilities after removing the only interface")
	}
	if b.GetInterface(CapabilityUpload) != nil {
		t.Error("expected nil interface after removal")
	}
}

func TestBoardUploadRejectsOversizedFirmware(t *testing.T) {
	b, _ := newTestBoard(CapabilityUpload.Bit())

	big := make([]byte, teensy30().CodeSize+1)
	err := b.Upload(&firmware.Firmware{Image: big}, true, nil)
	if err == nil {
		t.Fatal("expected oversize rejection")
	}
}

func TestBoardUploadRequiresUploadCapability(t *testing.T) {
	b, _ := newTestBoard(CapabilityReset.Bit())

	err := b.Upload(&firmware.Firmware{Image: []byte{1, 2, 3}}, true, nil)
	if err == nil {
		t.Fatal("expected mode error when upload capability is missing")
	}
}

func TestBoardWaitForDisappearedBoard(t *testing.T) {
	b, _ := newTestBoard(CapabilityUpload.Bit())
	b.manager = nil
	b.state = StateDropped

	if err := b.WaitFor(CapabilityUpload, false, time.Millisecond); err == nil {
		t.Fatal("expected error waiting on a disappeared board")
	}
}
