package board

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tytools/tytools/pkg/firmware"
	"github.com/tytools/tytools/pkg/model"
	"github.com/tytools/tytools/pkg/tyerr"
)

// State is a board's lifecycle stage, as tracked by the Manager.
type State int

const (
	// StateOnline means at least one interface is currently open on this
	// board.
	StateOnline State = iota
	// StateMissing means every interface disappeared, but the drop delay
	// hasn't elapsed yet — the board might be mid-reboot.
	StateMissing
	// StateDropped means the drop delay elapsed with nothing reappearing;
	// the board is gone for good and has been removed from its manager.
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateMissing:
		return "missing"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event describes what happened to a board across one device-notification
// cycle, passed to Manager callbacks.
type Event int

const (
	EventAdded Event = iota
	EventChanged
	EventDisappeared
	EventDropped
)

func (e Event) String() string {
	switch e {
	case EventAdded:
		return "added"
	case EventChanged:
		return "changed"
	case EventDisappeared:
		return "disappeared"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Board is one physical device tracked across however many USB interfaces
// it currently exposes. A board outlives any single interface: when a
// Teensy reboots from application mode into its bootloader, the old
// interface disappears and a new one with a different VID/PID shows up at
// the same USB location, and the Manager folds both into the same Board.
type Board struct {
	// mu guards only interfaces/cap2iface/capabilities: the routing
	// snapshot a capability lookup needs. It is held just long enough for
	// GetInterface to read cap2iface and bump a refcount; no capability
	// façade holds it while calling into a vendor vtable, so there is
	// never a recursive acquire to worry about.
	mu sync.Mutex

	manager  *Manager
	location string
	identity string

	model  model.Model
	serial uint64
	vid    uint16
	pid    uint16

	state        State
	interfaces   []*Interface
	cap2iface    [CapabilityCount]*Interface
	capabilities Set

	missingSince time.Time

	refcount int32
	udata    any
}

func newBoard(manager *Manager, iface *Interface) *Board {
	dev := iface.Device()
	b := &Board{
		manager:  manager,
		location: dev.Location(),
		model:    iface.Model(),
		serial:   iface.Serial(),
		vid:      dev.VID(),
		pid:      dev.PID(),
		refcount: 1,
	}
	b.identity = Identity(b.location, b.serial)
	return b
}

// NewStandaloneBoard wraps iface in a Board with no owning Manager, for
// callers that address one fixed interface directly instead of going
// through hotplug discovery (and for driver tests that need a *Board
// without a live USB monitor). WaitFor on a standalone board never
// blocks: it returns nil if the board already has the capability and
// KindNotFound otherwise, since there is no manager to watch for the
// device reappearing.
func NewStandaloneBoard(iface *Interface) *Board {
	b := newBoard(nil, iface)
	b.mu.Lock()
	b.addInterfaceLocked(iface)
	b.mu.Unlock()
	b.state = StateOnline
	return b
}

// Ref increments the board's refcount and returns it.
func (b *Board) Ref() *Board {
	atomic.AddInt32(&b.refcount, 1)
	return b
}

// Unref decrements the board's refcount. A Board has no resources of its
// own to release when it reaches zero (its interfaces own the USB
// handles), so Unref is bookkeeping only — callers that track board
// lifetimes independently of the Manager should still pair every Ref.
func (b *Board) Unref() {
	atomic.AddInt32(&b.refcount, -1)
}

// Location returns the board's USB location string (bus/port path),
// which stays stable across a bootloader reboot at the same port.
func (b *Board) Location() string { return b.location }

// Identity returns the "location#serial" string ty_board_matches_identity
// and the CLI's --board flag both accept.
func (b *Board) Identity() string { return b.identity }

// Model returns the board's currently known model, which may be the zero
// Model if no interface has reported one yet.
func (b *Board) Model() model.Model { return b.model }

// SerialNumber returns the board's decimal USB serial number, or 0 if
// unknown.
func (b *Board) SerialNumber() uint64 { return b.serial }

// VID returns the board's current vendor ID.
func (b *Board) VID() uint16 { return b.vid }

// PID returns the board's current product ID.
func (b *Board) PID() uint16 { return b.pid }

// State returns the board's current lifecycle state.
func (b *Board) State() State { return b.state }

// Manager returns the Manager that owns this board, or nil once the board
// has been dropped.
func (b *Board) Manager() *Manager { return b.manager }

// UserData returns whatever value SetUserData last stored, for callers
// that want to attach their own bookkeeping to a board.
func (b *Board) UserData() any { return b.udata }

// SetUserData attaches caller-defined data to the board.
func (b *Board) SetUserData(udata any) { b.udata = udata }

// Capabilities returns the bitset of operations available across all of
// the board's currently open interfaces.
func (b *Board) Capabilities() Set {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capabilities
}

// HasCapability reports whether cap is currently routable to some open
// interface.
func (b *Board) HasCapability(cap Capability) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capabilities.Has(cap)
}

// GetInterface returns the interface currently routed for cap, with its
// refcount bumped, or nil if no open interface provides it. Callers must
// Unref the result.
func (b *Board) GetInterface(cap Capability) *Interface {
	b.mu.Lock()
	defer b.mu.Unlock()

	iface := b.cap2iface[cap]
	if iface == nil {
		return nil
	}
	return iface.Ref()
}

// ListInterfaces calls f for every interface currently open on the board,
// stopping early if f returns an error.
func (b *Board) ListInterfaces(f func(*Interface) error) error {
	b.mu.Lock()
	snapshot := make([]*Interface, len(b.interfaces))
	copy(snapshot, b.interfaces)
	b.mu.Unlock()

	for _, iface := range snapshot {
		if err := f(iface); err != nil {
			return err
		}
	}
	return nil
}

// MatchesIdentity reports whether id (location, "location#serial", or
// "#serial") refers to this board. An empty id matches every board.
func (b *Board) MatchesIdentity(id string) (bool, error) {
	if id == "" {
		return true, nil
	}

	location, serial, err := ParseIdentity(id)
	if err != nil {
		return false, err
	}

	if location != "" && location != b.location {
		return false, nil
	}
	if serial != 0 && serial != b.serial {
		return false, nil
	}
	return true, nil
}

// routeCapabilities recomputes cap2iface/capabilities from the current
// interface list. Callers must hold mu.
func (b *Board) routeCapabilities() {
	b.cap2iface = [CapabilityCount]*Interface{}
	b.capabilities = 0

	for _, iface := range b.interfaces {
		caps := iface.Capabilities()
		for cap := Capability(0); cap < CapabilityCount; cap++ {
			if caps.Has(cap) {
				b.cap2iface[cap] = iface
			}
		}
		b.capabilities |= caps
	}
}

// addInterfaceLocked attaches iface to the board and recomputes routing.
// Callers must hold mu.
func (b *Board) addInterfaceLocked(iface *Interface) {
	b.interfaces = append(b.interfaces, iface)
	b.routeCapabilities()
}

// removeInterfaceLocked detaches iface from the board and recomputes
// routing. Callers must hold mu.
func (b *Board) removeInterfaceLocked(iface *Interface) {
	for i, cur := range b.interfaces {
		if cur == iface {
			b.interfaces = append(b.interfaces[:i], b.interfaces[i+1:]...)
			break
		}
	}
	b.routeCapabilities()
}

// closeInterfacesLocked unrefs and clears every open interface, leaving
// the board with no capabilities. Callers must hold mu.
func (b *Board) closeInterfacesLocked() {
	for _, iface := range b.interfaces {
		iface.Unref()
	}
	b.interfaces = nil
	b.cap2iface = [CapabilityCount]*Interface{}
	b.capabilities = 0
}

// WaitFor blocks until the board exposes capability or the board
// disappears, returning tyerr.KindNotFound in the latter case. With
// parallel set, the wait rides the manager's refresh condition variable
// instead of driving its own refresh/poll loop, for callers that already
// have another goroutine refreshing the manager. A zero timeout blocks
// forever; a negative one returns immediately after one check.
func (b *Board) WaitFor(cap Capability, parallel bool, timeout time.Duration) error {
	manager := b.manager
	if manager == nil {
		if b.state != StateDropped && b.HasCapability(cap) {
			return nil
		}
		return tyerr.New(tyerr.KindNotFound, "board %s has disappeared", b.identity)
	}

	check := func() (bool, error) {
		if b.state == StateDropped {
			return false, tyerr.New(tyerr.KindNotFound, "board %s has disappeared", b.identity)
		}
		return b.HasCapability(cap), nil
	}

	if parallel {
		return manager.waitParallel(check, timeout)
	}
	return manager.waitSerial(check, timeout)
}

// Upload sends fw to the board's upload interface, cross-checking the
// firmware's embedded model signature against the board's known model
// unless nocheck is set. It refuses images bigger than the model's flash.
func (b *Board) Upload(fw *firmware.Firmware, nocheck bool, progress ProgressFunc) error {
	iface := b.GetInterface(CapabilityUpload)
	if iface == nil {
		return tyerr.New(tyerr.KindMode, "firmware upload is not available in this mode")
	}
	defer iface.Unref()

	boardModel := b.Model()
	if !model.IsValid(boardModel) {
		return tyerr.New(tyerr.KindMode, "cannot upload to unknown board model")
	}

	if fw.Size() > boardModel.CodeSize {
		return tyerr.New(tyerr.KindRange, "firmware is too big for %s", boardModel.Desc)
	}

	if !nocheck {
		guess, ok := model.TestFirmware(fw.Image)
		if !ok {
			return tyerr.New(tyerr.KindFirmware, "this firmware was not compiled for a known device")
		}
		if guess.Name != boardModel.Name {
			return tyerr.New(tyerr.KindFirmware, "this firmware was compiled for %s", guess.Desc)
		}
	}

	return iface.Upload(fw, progress)
}

// Reset asks the board's reset interface to restart the running firmware.
func (b *Board) Reset() error {
	iface := b.GetInterface(CapabilityReset)
	if iface == nil {
		return tyerr.New(tyerr.KindMode, "cannot reset in this mode")
	}
	defer iface.Unref()
	return iface.Reset()
}

// Reboot asks the board's reboot interface to restart into its
// bootloader.
func (b *Board) Reboot() error {
	iface := b.GetInterface(CapabilityReboot)
	if iface == nil {
		return tyerr.New(tyerr.KindMode, "cannot reboot in this mode")
	}
	defer iface.Unref()
	return iface.Reboot()
}

// SerialRead reads from the board's serial interface.
func (b *Board) SerialRead(buf []byte, timeout time.Duration) (int, error) {
	iface := b.GetInterface(CapabilitySerial)
	if iface == nil {
		return 0, tyerr.New(tyerr.KindMode, "serial transfer is not available in this mode")
	}
	defer iface.Unref()
	return iface.SerialRead(buf, timeout)
}

// SerialWrite writes to the board's serial interface.
func (b *Board) SerialWrite(buf []byte) (int, error) {
	iface := b.GetInterface(CapabilitySerial)
	if iface == nil {
		return 0, tyerr.New(tyerr.KindMode, "serial transfer is not available in this mode")
	}
	defer iface.Unref()
	return iface.SerialWrite(buf)
}

// SerialSetAttributes configures the board's serial interface.
func (b *Board) SerialSetAttributes(rate uint32, flags int) error {
	iface := b.GetInterface(CapabilitySerial)
	if iface == nil {
		return tyerr.New(tyerr.KindMode, "serial transfer is not available in this mode")
	}
	defer iface.Unref()
	return iface.SerialSetAttributes(rate, flags)
}
