// Package model holds the static table of known board models and the
// firmware-signature matching used to guess a model from an image.
package model

import "bytes"

// Model is an immutable description of one board model.
type Model struct {
	Name     string // short id, e.g. "teensy31"
	MCU      string // microcontroller id, e.g. "mk20dx256"
	Desc     string // human label, e.g. "Teensy 3.1"
	CodeSize int    // bytes of flash available for the application

	signature [8]byte
}

// signatureBytes returns the fixed 8-byte pattern guaranteed to appear somewhere in a
// firmware image compiled for this model.
func (m Model) signatureBytes() [8]byte {
	return m.signature
}

var registry = []Model{
	{
		Name:      "teensypp10",
		MCU:       "at90usb646",
		Desc:      "Teensy++ 1.0",
		CodeSize:  64512,
		signature: [8]byte{0x0C, 0x94, 0x00, 0x7E, 0xFF, 0xCF, 0xF8, 0x94},
	},
	{
		Name:      "teensy20",
		MCU:       "atmega32u4",
		Desc:      "Teensy 2.0",
		CodeSize:  32256,
		signature: [8]byte{0x0C, 0x94, 0x00, 0x3F, 0xFF, 0xCF, 0xF8, 0x94},
	},
	{
		Name:      "teensypp20",
		MCU:       "at90usb1286",
		Desc:      "Teensy++ 2.0",
		CodeSize:  130048,
		signature: [8]byte{0x0C, 0x94, 0x00, 0xFE, 0xFF, 0xCF, 0xF8, 0x94},
	},
	{
		Name:      "teensy30",
		MCU:       "mk20dx128",
		Desc:      "Teensy 3.0",
		CodeSize:  131072,
		signature: [8]byte{0x38, 0x80, 0x04, 0x40, 0x82, 0x3F, 0x04, 0x00},
	},
	{
		Name:      "teensy31",
		MCU:       "mk20dx256",
		Desc:      "Teensy 3.1",
		CodeSize:  262144,
		signature: [8]byte{0x30, 0x80, 0x04, 0x40, 0x82, 0x3F, 0x04, 0x00},
	},
}

// All returns the registered models in registration order.
func All() []Model {
	return registry
}

// Find looks up a model by exact, case-sensitive match on either its Name or
// its MCU id.
func Find(key string) (Model, bool) {
	for _, m := range registry {
		if m.Name == key || m.MCU == key {
			return m, true
		}
	}
	return Model{}, false
}

// IsValid reports whether m is a populated model rather than the zero value.
// A board that has never seen a valid model carries a zero Model, so
// CodeSize == 0 is the discriminator, matching board.c's model_is_valid.
func IsValid(m Model) bool {
	return m.CodeSize != 0
}

// TestFirmware scans image for any registered model's signature and returns
// the first hit, scanning offsets left to right and, at a given offset,
// models in registration order. Returns false if image is shorter than the
// signature window or no signature matches.
func TestFirmware(image []byte) (Model, bool) {
	const sigLen = 8
	if len(image) < sigLen {
		return Model{}, false
	}

	for i := 0; i <= len(image)-sigLen; i++ {
		window := image[i : i+sigLen]
		for _, m := range registry {
			sig := m.signatureBytes()
			if bytes.Equal(window, sig[:]) {
				return m, true
			}
		}
	}

	return Model{}, false
}
