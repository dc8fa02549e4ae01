package model

import "testing"

func TestFindByNameAndMCU(t *testing.T) {
	for _, m := range All() {
		byName, ok := Find(m.Name)
		if !ok || byName != m {
			t.Errorf("Find(%q) = %v, %v; want %v, true", m.Name, byName, ok, m)
		}

		byMCU, ok := Find(m.MCU)
		if !ok || byMCU != m {
			t.Errorf("Find(%q) = %v, %v; want %v, true", m.MCU, byMCU, ok, m)
		}
	}
}

func TestFindUnknown(t *testing.T) {
	if _, ok := Find("no-such-model"); ok {
		t.Error("Find on unknown key should return false")
	}
}

func TestTestFirmwareShorterThanSignature(t *testing.T) {
	for _, n := range []int{0, 1, 4, 7} {
		image := make([]byte, n)
		if _, ok := TestFirmware(image); ok {
			t.Errorf("TestFirmware on %d-byte image should return false", n)
		}
	}
}

func TestTestFirmwareAtOffset(t *testing.T) {
	image := make([]byte, 20)
	copy(image[12:], []byte{0x0C, 0x94, 0x00, 0x3F, 0xFF, 0xCF, 0xF8, 0x94})

	got, ok := TestFirmware(image)
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Name != "teensy20" {
		t.Errorf("got model %q, want teensy20", got.Name)
	}
}

func TestTestFirmwareTieBreakIsFirstOffsetThenRegistrationOrder(t *testing.T) {
	// Two signatures placed back to back, the later-registered model's at
	// the earlier offset: the earlier offset must win over registration
	// order.
	first, _ := Find("teensy31")
	second, _ := Find("teensy30")

	image := make([]byte, 32)
	copy(image[0:], []byte{0x30, 0x80, 0x04, 0x40, 0x82, 0x3F, 0x04, 0x00})
	copy(image[8:], []byte{0x38, 0x80, 0x04, 0x40, 0x82, 0x3F, 0x04, 0x00})

	got, ok := TestFirmware(image)
	if !ok {
		t.Fatal("expected a match")
	}
	if got != first {
		t.Errorf("got %v, want earlier-offset model %v", got, first)
	}
	_ = second
}

func TestTestFirmwareNoMatch(t *testing.T) {
	image := make([]byte, 64)
	if _, ok := TestFirmware(image); ok {
		t.Error("all-zero image should not match any signature")
	}
}

func TestIsValid(t *testing.T) {
	if IsValid(Model{}) {
		t.Error("zero Model should not be valid")
	}
	m, _ := Find("teensy31")
	if !IsValid(m) {
		t.Error("registered model should be valid")
	}
}
