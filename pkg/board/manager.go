package board

import (
	"context"
	"sync"
	"time"

	"github.com/tytools/tytools/pkg/model"
	"github.com/tytools/tytools/pkg/tyerr"
	"github.com/tytools/tytools/pkg/usbmon"
)

// dropBoardDelay is how long a board stays in StateMissing, with every
// interface closed, before the manager gives up on it reappearing and
// moves it to StateDropped. Teensy boards take a moment to re-enumerate
// after a bootloader reboot; five seconds covers that without making a
// genuinely unplugged board linger.
const dropBoardDelay = 5 * time.Second

// CallbackFunc is notified of board lifecycle events. Returning a non-nil
// error stops delivery to any callback registered after this one for the
// same event and propagates the error up through the Manager.Refresh call
// that triggered it. A callback that wants to stop receiving future events
// calls DeregisterCallback on itself with the id RegisterCallback returned,
// rather than signaling removal through its return value.
type CallbackFunc func(b *Board, event Event) error

type callback struct {
	id int
	f  CallbackFunc
}

// Manager discovers Teensy boards over USB, folds multiple interfaces
// (e.g. application mode and bootloader mode at the same port) into a
// single Board, and dispatches lifecycle events to registered callbacks.
type Manager struct {
	monitor *usbmon.Monitor

	mu               sync.Mutex
	boards           []*Board
	interfaceToBoard map[*usbmon.Device]*Board
	missing          []*Board
	callbacks        []callback
	nextCallback     int
	enumerated       bool

	refreshMu   sync.Mutex
	refreshCond *sync.Cond
}

// NewManager creates a board manager watching the given VID/PID
// allowlist. Pass usbmon.VIDPID entries for every vendor driver you
// register, or none to watch every USB device (vendor drivers will reject
// the ones they don't recognize).
func NewManager(allow []usbmon.VIDPID) (*Manager, error) {
	monitor := usbmon.NewMonitor(allow)

	m := &Manager{
		monitor:          monitor,
		interfaceToBoard: make(map[*usbmon.Device]*Board),
	}
	m.refreshCond = sync.NewCond(&m.refreshMu)
	return m, nil
}

// Close releases the manager's USB context.
func (m *Manager) Close() error {
	return m.monitor.Close()
}

// RegisterCallback adds f to the set of callbacks notified on every board
// event, and returns an id usable with DeregisterCallback.
func (m *Manager) RegisterCallback(f CallbackFunc) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextCallback
	m.nextCallback++
	m.callbacks = append(m.callbacks, callback{id: id, f: f})
	return id
}

// DeregisterCallback removes the callback added under id, if it's still
// registered.
func (m *Manager) DeregisterCallback(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, cb := range m.callbacks {
		if cb.id == id {
			m.callbacks = append(m.callbacks[:i], m.callbacks[i+1:]...)
			return
		}
	}
}

// triggerCallbacks calls every registered callback for event on b, in
// registration order, stopping and returning the first non-nil error
// instead of calling the rest. Callers must not hold m.mu.
func (m *Manager) triggerCallbacks(b *Board, event Event) error {
	m.mu.Lock()
	snapshot := make([]callback, len(m.callbacks))
	copy(snapshot, m.callbacks)
	m.mu.Unlock()

	for _, cb := range snapshot {
		if err := cb.f(b, event); err != nil {
			return err
		}
	}
	return nil
}

// List calls f once for every currently online board, in registration
// order.
func (m *Manager) List(f func(*Board) error) error {
	m.mu.Lock()
	snapshot := make([]*Board, len(m.boards))
	copy(snapshot, m.boards)
	m.mu.Unlock()

	for _, b := range snapshot {
		if b.State() == StateOnline {
			if err := f(b); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) findBoardLocked(location string) *Board {
	for _, b := range m.boards {
		if b.location == location {
			return b
		}
	}
	return nil
}

// addInterface folds a newly opened interface into a board, creating one
// if this location hasn't been seen before, and routes its capabilities.
func (m *Manager) addInterface(dev *usbmon.Device, iface *Interface) error {
	m.mu.Lock()

	b := m.findBoardLocked(dev.Location())
	var dropped *Board
	var disappeared bool

	// Device notifications can arrive out of order, or a removal can be
	// missed entirely; use model/serial/VID/PID heuristics to notice a
	// board changed identity without a clean remove in between.
	if b != nil {
		b.mu.Lock()
		ifaceModel := iface.Model()
		sameModel := !model.IsValid(ifaceModel) || !model.IsValid(b.model) || ifaceModel.Name == b.model.Name
		identityChanged := !sameModel || (iface.Serial() != 0 && b.serial != 0 && iface.Serial() != b.serial)
		if identityChanged {
			for _, old := range b.interfaces {
				delete(m.interfaceToBoard, old.Device())
			}
			b.closeInterfacesLocked()
			b.state = StateDropped
			b.manager = nil
			b.mu.Unlock()

			m.removeBoardLocked(b)
			dropped = b
			b = nil
		} else if b.vid != dev.VID() || b.pid != dev.PID() {
			for _, old := range b.interfaces {
				delete(m.interfaceToBoard, old.Device())
			}
			b.closeInterfacesLocked()
			b.vid = dev.VID()
			b.pid = dev.PID()
			disappeared = true
			b.mu.Unlock()
		} else {
			b.mu.Unlock()
		}
	}

	event := EventAdded
	if b != nil {
		if model.IsValid(iface.Model()) {
			b.model = iface.Model()
		}
		if iface.Serial() != 0 {
			b.serial = iface.Serial()
		}
		event = EventChanged
	} else {
		b = newBoard(m, iface)
		m.boards = append(m.boards, b)
	}

	b.mu.Lock()
	b.addInterfaceLocked(iface)
	b.mu.Unlock()

	m.interfaceToBoard[dev] = b
	m.removeFromMissingLocked(b)
	b.state = StateOnline

	m.mu.Unlock()

	if dropped != nil {
		if err := m.triggerCallbacks(dropped, EventDropped); err != nil {
			return err
		}
	}
	if disappeared {
		if err := m.triggerCallbacks(b, EventDisappeared); err != nil {
			return err
		}
	}
	return m.triggerCallbacks(b, event)
}

// removeInterface detaches the interface belonging to dev from its board.
// If that was the board's last interface, the board moves to
// StateMissing and is scheduled for dropping after dropBoardDelay.
func (m *Manager) removeInterface(dev *usbmon.Device) error {
	m.mu.Lock()
	b, ok := m.interfaceToBoard[dev]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.interfaceToBoard, dev)
	m.mu.Unlock()

	b.mu.Lock()
	var found *Interface
	for _, iface := range b.interfaces {
		if iface.Device() == dev {
			found = iface
			break
		}
	}
	if found != nil {
		b.removeInterfaceLocked(found)
		found.Unref()
	}
	empty := len(b.interfaces) == 0
	b.mu.Unlock()

	if empty {
		b.mu.Lock()
		b.state = StateMissing
		b.mu.Unlock()

		if err := m.triggerCallbacks(b, EventDisappeared); err != nil {
			return err
		}
		m.addMissingBoard(b)
		return nil
	}
	return m.triggerCallbacks(b, EventChanged)
}

func (m *Manager) removeBoardLocked(b *Board) {
	for i, cur := range m.boards {
		if cur == b {
			m.boards = append(m.boards[:i], m.boards[i+1:]...)
			break
		}
	}
	m.removeFromMissingLocked(b)
}

func (m *Manager) removeFromMissingLocked(b *Board) {
	for i, cur := range m.missing {
		if cur == b {
			m.missing = append(m.missing[:i], m.missing[i+1:]...)
			break
		}
	}
}

func (m *Manager) addMissingBoard(b *Board) {
	m.mu.Lock()
	b.missingSince = time.Now()
	m.removeFromMissingLocked(b)
	m.missing = append(m.missing, b)
	m.mu.Unlock()
}

// dropOverdueMissing drops every board in the missing list whose
// dropBoardDelay has elapsed, firing EventDropped for each. It stops at the
// first callback error instead of dropping the rest of the list.
func (m *Manager) dropOverdueMissing() error {
	for {
		m.mu.Lock()
		if len(m.missing) == 0 {
			m.mu.Unlock()
			return nil
		}
		b := m.missing[0]
		overdue := time.Since(b.missingSince) >= dropBoardDelay
		if !overdue {
			m.mu.Unlock()
			return nil
		}

		m.removeBoardLocked(b)
		b.mu.Lock()
		b.state = StateDropped
		b.manager = nil
		b.mu.Unlock()
		m.mu.Unlock()

		if err := m.triggerCallbacks(b, EventDropped); err != nil {
			return err
		}
	}
}

// Refresh polls the USB bus once for added/removed devices, dispatches
// the resulting board events, drops any boards whose missing timer has
// elapsed, and wakes goroutines blocked in a parallel WaitFor.
func (m *Manager) Refresh() error {
	if err := m.dropOverdueMissing(); err != nil {
		return err
	}

	m.mu.Lock()
	firstPass := !m.enumerated
	m.enumerated = true
	m.mu.Unlock()

	var events []usbmon.Event
	if firstPass {
		err := m.monitor.List(func(dev *usbmon.Device) error {
			events = append(events, usbmon.Event{Kind: usbmon.Added, Device: dev})
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := m.monitor.Refresh(); err != nil {
			return err
		}
	drain:
		for {
			select {
			case ev := <-m.monitor.Events():
				events = append(events, ev)
			default:
				break drain
			}
		}
	}

	for _, ev := range events {
		if err := m.handleEvent(ev); err != nil {
			return err
		}
	}

	m.refreshMu.Lock()
	m.refreshCond.Broadcast()
	m.refreshMu.Unlock()

	return nil
}

// RunLoop calls Refresh every pollInterval until ctx is canceled, for
// callers (like the ty monitor command) that want a blocking drive loop
// instead of calling Refresh from their own poll cycle.
func (m *Manager) RunLoop(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := m.Refresh(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) handleEvent(ev usbmon.Event) error {
	switch ev.Kind {
	case usbmon.Added:
		iface, err := OpenInterface(ev.Device)
		if err != nil {
			if tyerr.Is(err, tyerr.KindNotFound) {
				return nil
			}
			return err
		}
		return m.addInterface(ev.Device, iface)

	case usbmon.Removed:
		return m.removeInterface(ev.Device)
	}
	return nil
}

// Wait repeatedly refreshes the manager and calls f after each refresh
// until f returns true (or an error), or timeout elapses. A zero timeout
// waits forever.
func (m *Manager) Wait(f func() (bool, error), timeout time.Duration) error {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := m.Refresh(); err != nil {
			return err
		}
		done, err := f()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if timeout < 0 {
			return tyerr.New(tyerr.KindIO, "timed out")
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return tyerr.New(tyerr.KindIO, "timed out")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// waitSerial drives its own Refresh/poll loop, matching
// ty_board_manager_wait's non-parallel path.
func (m *Manager) waitSerial(check func() (bool, error), timeout time.Duration) error {
	return m.Wait(check, timeout)
}

// waitParallel rides the manager's refresh condition variable, matching
// ty_board_wait_for's parallel path: it assumes some other goroutine is
// already driving Refresh.
func (m *Manager) waitParallel(check func() (bool, error), timeout time.Duration) error {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if timeout < 0 {
			return tyerr.New(tyerr.KindIO, "timed out")
		}

		if deadline.IsZero() {
			m.refreshCond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return tyerr.New(tyerr.KindIO, "timed out")
		}

		waitDone := make(chan struct{})
		go func() {
			select {
			case <-time.After(remaining):
				m.refreshMu.Lock()
				m.refreshCond.Broadcast()
				m.refreshMu.Unlock()
			case <-waitDone:
			}
		}()
		m.refreshCond.Wait()
		close(waitDone)

		if time.Now().After(deadline) {
			done, err := check()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			return tyerr.New(tyerr.KindIO, "timed out")
		}
	}
}
