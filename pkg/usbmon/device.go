// Package usbmon is the device-monitor external boundary: it enumerates and
// watches USB devices through gousb and turns them into the small Device
// interface the board manager consumes. This is deliberately thin — the
// heavy lifting (capability detection, vendor matching) lives in pkg/board.
package usbmon

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
)

// Device is one USB device as seen by the board manager. It is stable
// across reads (location, VID/PID, serial never change for the lifetime of
// the physical connection) but becomes invalid once the device is removed.
type Device struct {
	raw      *gousb.Device
	location string
	vid      uint16
	pid      uint16
	serial   string
	ifaceNum int
}

// Location returns the OS-reported USB topological path, stable across a
// bootloader/application mode switch of the same physical port.
func (d *Device) Location() string { return d.location }

// VID returns the device's USB vendor id.
func (d *Device) VID() uint16 { return d.vid }

// PID returns the device's USB product id.
func (d *Device) PID() uint16 { return d.pid }

// SerialNumber returns the USB serial number string descriptor, or "" if
// the device doesn't expose one.
func (d *Device) SerialNumber() string { return d.serial }

// Path returns a human-readable device path, used only for diagnostics.
func (d *Device) Path() string {
	return fmt.Sprintf("%s:%04x:%04x", d.location, d.vid, d.pid)
}

// InterfaceNumber returns the USB interface number this Device was opened
// against. A given physical device may surface as several board interfaces
// (one per USB interface), each with its own Device value sharing the same
// Location.
func (d *Device) InterfaceNumber() int { return d.ifaceNum }

// Raw returns the underlying gousb handle so a vendor driver can claim
// configurations/interfaces and open endpoints.
func (d *Device) Raw() *gousb.Device { return d.raw }

// Close releases the underlying USB handle.
func (d *Device) Close() error {
	if d.raw == nil {
		return nil
	}
	return d.raw.Close()
}

func locationOf(desc *gousb.DeviceDesc) string {
	parts := make([]string, len(desc.Path))
	for i, p := range desc.Path {
		parts[i] = strconv.Itoa(p)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d-%d", desc.Bus, desc.Address)
	}
	return fmt.Sprintf("%d-%s", desc.Bus, strings.Join(parts, "."))
}

// NewSyntheticDevice builds a Device with no backing gousb handle, for
// tests and for vendor drivers that simulate a board without a live USB
// connection. Close is a no-op on the result.
func NewSyntheticDevice(location string, vid, pid uint16, serial string, ifaceNum int) *Device {
	return &Device{location: location, vid: vid, pid: pid, serial: serial, ifaceNum: ifaceNum}
}

// NewSubDevice builds a Device sharing dev's location/VID/PID/serial but
// bound to a different USB interface number, for vendor drivers that need
// to address several interfaces of the same physical device (e.g. a
// composite USB-serial-plus-HID board) as distinct board interfaces.
func NewSubDevice(dev *Device, ifaceNum int) *Device {
	sub := *dev
	sub.ifaceNum = ifaceNum
	return &sub
}

func newDevice(dev *gousb.Device) *Device {
	d := &Device{
		raw:      dev,
		location: locationOf(dev.Desc),
		vid:      uint16(dev.Desc.Vendor),
		pid:      uint16(dev.Desc.Product),
		ifaceNum: 0,
	}
	if s, err := dev.SerialNumber(); err == nil {
		d.serial = s
	}
	return d
}
