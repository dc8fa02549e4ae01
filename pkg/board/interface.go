package board

import (
	"sync/atomic"
	"time"

	"github.com/tytools/tytools/pkg/firmware"
	"github.com/tytools/tytools/pkg/model"
	"github.com/tytools/tytools/pkg/tyerr"
	"github.com/tytools/tytools/pkg/usbmon"
)

// ProgressFunc reports upload progress for a single long-running operation,
// mirroring spec.md's Progress message fields.
type ProgressFunc func(action string, value, max int64)

// Vtable is the set of capability operations a vendor driver implements for
// one opened interface. A driver leaves nil the members for capabilities
// its interface doesn't expose. The Interface methods below call members
// without a nil check, so a call must be gated on Capabilities (the Board
// façades do this through GetInterface).
type Vtable struct {
	Upload              func(iface *Interface, fw *firmware.Firmware, progress ProgressFunc) error
	Reset               func(iface *Interface) error
	Reboot              func(iface *Interface) error
	SerialRead          func(iface *Interface, buf []byte, timeout time.Duration) (int, error)
	SerialWrite         func(iface *Interface, buf []byte) (int, error)
	SerialSetAttributes func(iface *Interface, rate uint32, flags int) error
}

// Interface wraps one opened USB interface belonging to one physical
// device. It is refcounted: the last Unref closes the underlying handle.
type Interface struct {
	dev          *usbmon.Device
	desc         string
	model        model.Model
	serial       uint64
	capabilities Set
	vtable       *Vtable

	refcount int32
}

// Device returns the interface's backing USB device.
func (i *Interface) Device() *usbmon.Device { return i.dev }

// Description returns the vendor driver's human label for this interface.
func (i *Interface) Description() string { return i.desc }

// Model returns the model the vendor driver inferred from this interface,
// which may be the zero Model if it couldn't tell.
func (i *Interface) Model() model.Model { return i.model }

// Serial returns the decimal USB serial number, or 0 if unreadable.
func (i *Interface) Serial() uint64 { return i.serial }

// Capabilities returns the bitset of operations this interface exposes.
func (i *Interface) Capabilities() Set { return i.capabilities }

// Ref increments the interface's refcount and returns it, for callers that
// need to retain a handle beyond the scope that looked it up.
func (i *Interface) Ref() *Interface {
	atomic.AddInt32(&i.refcount, 1)
	return i
}

// Unref decrements the interface's refcount, closing the USB handle and
// releasing the device reference when it reaches zero.
func (i *Interface) Unref() {
	if atomic.AddInt32(&i.refcount, -1) > 0 {
		return
	}
	i.dev.Close()
}

// VendorDriver attempts to recognize dev and, if successful, opens it and
// returns a populated Interface. It returns a *tyerr.Error with
// tyerr.KindNotFound when dev is not one of this driver's devices — a soft
// failure that lets OpenInterface try the next registered driver. Any
// other error is a hard failure (the device looked like a match but
// opening it failed) and aborts the search.
type VendorDriver func(dev *usbmon.Device) (*Interface, error)

type registeredVendor struct {
	name   string
	driver VendorDriver
}

var vendors []registeredVendor

// RegisterVendor adds a driver to the end of the vendor-driver search
// order. Call from an init() in the package that implements the driver, the
// way spec.md's `vendors[]` table is populated at link time.
func RegisterVendor(name string, driver VendorDriver) {
	vendors = append(vendors, registeredVendor{name: name, driver: driver})
}

// OpenInterface tries each registered vendor driver in registration order
// against dev. The first driver that recognizes the device wins. If every
// driver reports KindNotFound, OpenInterface itself returns KindNotFound,
// which callers (the board manager) treat as "not a managed board, ignore
// silently".
func OpenInterface(dev *usbmon.Device) (*Interface, error) {
	for _, v := range vendors {
		iface, err := v.driver(dev)
		if err == nil {
			return iface, nil
		}
		if tyerr.Is(err, tyerr.KindNotFound) {
			continue
		}
		return nil, err
	}
	return nil, tyerr.New(tyerr.KindNotFound, "no vendor driver recognized %s", dev.Path())
}

// Upload delegates to the vendor vtable's Upload implementation.
func (i *Interface) Upload(fw *firmware.Firmware, progress ProgressFunc) error {
	return i.vtable.Upload(i, fw, progress)
}

// Reset delegates to the vendor vtable's Reset implementation.
func (i *Interface) Reset() error {
	return i.vtable.Reset(i)
}

// Reboot delegates to the vendor vtable's Reboot implementation.
func (i *Interface) Reboot() error {
	return i.vtable.Reboot(i)
}

// SerialRead delegates to the vendor vtable's SerialRead implementation.
func (i *Interface) SerialRead(buf []byte, timeout time.Duration) (int, error) {
	return i.vtable.SerialRead(i, buf, timeout)
}

// SerialWrite delegates to the vendor vtable's SerialWrite implementation.
func (i *Interface) SerialWrite(buf []byte) (int, error) {
	return i.vtable.SerialWrite(i, buf)
}

// SerialSetAttributes delegates to the vendor vtable's
// SerialSetAttributes implementation.
func (i *Interface) SerialSetAttributes(rate uint32, flags int) error {
	return i.vtable.SerialSetAttributes(i, rate, flags)
}

// NewInterface constructs an Interface with refcount 1. Vendor drivers call
// this once they've identified a device and opened its handle/endpoints.
func NewInterface(dev *usbmon.Device, desc string, m model.Model, serial uint64, caps Set, vt *Vtable) *Interface {
	return &Interface{
		dev:          dev,
		desc:         desc,
		model:        m,
		serial:       serial,
		capabilities: caps,
		vtable:       vt,
		refcount:     1,
	}
}
