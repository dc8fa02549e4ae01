package usbmon

import (
	"sync"

	"github.com/google/gousb"

	"github.com/tytools/tytools/pkg/tyerr"
)

// VIDPID scopes device discovery to a known vendor/product pair, the same
// allow-list role pkg/jtag/interfaces.go's knownCMSISDAPVIDPIDs table played
// for JTAG probe discovery.
type VIDPID struct {
	Vendor  uint16
	Product uint16
}

// EventKind discriminates the two device lifecycle events the manager cares
// about.
type EventKind int

const (
	Added EventKind = iota
	Removed
)

// Event is one hotplug notification: a device appeared or disappeared.
type Event struct {
	Kind   EventKind
	Device *Device
}

// Monitor polls the USB bus for devices matching a VID/PID allow-list and
// synthesizes Added/Removed events by diffing successive snapshots. Real
// hotplug notification is OS-specific; polling on Refresh keeps this
// portable, at the cost of latency bounded by how often the caller drives
// the refresh loop (see board.Manager.RunLoop).
type Monitor struct {
	ctx    *gousb.Context
	allow  []VIDPID
	events chan Event

	mu    sync.Mutex
	known map[string]*Device // keyed by location
}

// NewMonitor creates a Monitor scoped to the given VID/PID allow-list.
func NewMonitor(allow []VIDPID) *Monitor {
	return &Monitor{
		ctx:    gousb.NewContext(),
		allow:  allow,
		events: make(chan Event, 4096),
		known:  make(map[string]*Device),
	}
}

// Close releases the underlying USB context.
func (m *Monitor) Close() error {
	return m.ctx.Close()
}

// Events returns the channel Refresh publishes Added/Removed notifications
// to. The channel is buffered; callers are expected to drain it promptly
// from inside their own Refresh-driven poll loop.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

func (m *Monitor) matches(desc *gousb.DeviceDesc) bool {
	if len(m.allow) == 0 {
		return true
	}
	for _, vp := range m.allow {
		if uint16(desc.Vendor) == vp.Vendor && uint16(desc.Product) == vp.Product {
			return true
		}
	}
	return false
}

// reuseDecision reports whether a device matching desc needs a fresh
// native handle opened against it, or whether previous already has one
// open at the same location with the same identity that can be carried
// forward unchanged.
func reuseDecision(previous map[string]*Device, desc *gousb.DeviceDesc) (open bool, reuse *Device) {
	loc := locationOf(desc)
	if old, ok := previous[loc]; ok && old.vid == uint16(desc.Vendor) && old.pid == uint16(desc.Product) {
		return false, old
	}
	return true, nil
}

// openMatching re-enumerates the bus and returns a fresh location->Device
// snapshot. gousb.Context.OpenDevices evaluates its filter against each
// device's descriptor before opening anything, so a location already
// present in m.known with an unchanged VID/PID declines to open a second
// native handle to the same device and reuses the one already tracked
// (very likely owned by a live board interface) instead.
func (m *Monitor) openMatching() (map[string]*Device, error) {
	m.mu.Lock()
	previous := m.known
	m.mu.Unlock()

	reused := make(map[string]*Device)
	devs, err := m.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if !m.matches(desc) {
			return false
		}
		open, old := reuseDecision(previous, desc)
		if !open {
			reused[old.location] = old
		}
		return open
	})
	if err != nil && err != gousb.ErrorAccess {
		return nil, tyerr.Wrap(tyerr.KindIO, err, "enumerate USB devices")
	}

	snapshot := make(map[string]*Device, len(reused)+len(devs))
	for loc, d := range reused {
		snapshot[loc] = d
	}
	for _, dev := range devs {
		d := newDevice(dev)
		snapshot[d.location] = d
	}

	return snapshot, nil
}

// List performs a one-shot enumeration of currently connected matching
// devices, invoking f synchronously for each. It also seeds the monitor's
// known-device set so a later Refresh does not report these as newly
// Added.
func (m *Monitor) List(f func(*Device) error) error {
	snapshot, err := m.openMatching()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.known = snapshot
	m.mu.Unlock()

	for _, d := range snapshot {
		if err := f(d); err != nil {
			return err
		}
	}

	return nil
}

// Refresh diffs the current device set against the last known one and
// pushes Added/Removed events for anything that changed. It never blocks
// the caller on I/O beyond the USB enumeration call itself, and it never
// opens a native handle to a device that was already open and unchanged
// on the previous poll.
func (m *Monitor) Refresh() error {
	snapshot, err := m.openMatching()
	if err != nil {
		return err
	}

	m.mu.Lock()
	previous := m.known
	m.known = snapshot
	m.mu.Unlock()

	for loc, dev := range snapshot {
		old, existed := previous[loc]
		switch {
		case !existed:
			m.events <- Event{Kind: Added, Device: dev}
		case old.vid != dev.vid || old.pid != dev.pid || old.serial != dev.serial:
			// Same USB port, different device identity: the physical board
			// rebooted into another mode between two polls. Synthesize the
			// disappearance the board manager's replacement/VID-PID-change
			// checks expect to see.
			m.events <- Event{Kind: Removed, Device: old}
			m.events <- Event{Kind: Added, Device: dev}
		}
	}
	for loc, dev := range previous {
		if _, still := snapshot[loc]; !still {
			m.events <- Event{Kind: Removed, Device: dev}
		}
	}

	return nil
}
