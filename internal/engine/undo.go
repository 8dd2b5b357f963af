package engine

import (
	"sync"
	"time"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
)

const (
	// DefaultUndoWindow is how long a removed item can be restored.
	DefaultUndoWindow = 5 * time.Second
	// DefaultUndoTick drives the observable countdown progress.
	DefaultUndoTick = 100 * time.Millisecond
)

// UndoItem is the soft-deleted item held for restore. Exactly one of Line and
// Entry is set, matched by Collection.
type UndoItem struct {
	Collection domain.Collection
	Line       domain.CartLine
	Entry      domain.WishlistEntry
}

// UndoState is the observable countdown: Progress runs 100 down to 0 over the
// undo window.
type UndoState struct {
	Collection domain.Collection `json:"collection"`
	Deadline   time.Time         `json:"deadline"`
	Progress   float64           `json:"progress"`
}

// undoManager holds at most one pending restore. A removal while one is
// pending finalizes the first (it is never restored) and starts the countdown
// for the second: most-recent-removal wins.
type undoManager struct {
	window time.Duration
	tick   time.Duration

	// onChange is called after every state transition and countdown tick so
	// the engine can publish a fresh snapshot.
	onChange func()

	mu       sync.Mutex
	pending  *UndoItem
	deadline time.Time
	progress float64
	stop     chan struct{}
	closed   bool
}

func newUndoManager(window, tick time.Duration, onChange func()) *undoManager {
	if window <= 0 {
		window = DefaultUndoWindow
	}
	if tick <= 0 {
		tick = DefaultUndoTick
	}
	return &undoManager{window: window, tick: tick, onChange: onChange}
}

// hold starts (or restarts) the countdown for item.
func (u *undoManager) hold(item UndoItem) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.stopCountdownLocked()

	u.pending = &item
	u.deadline = time.Now().Add(u.window)
	u.progress = 100
	stop := make(chan struct{})
	u.stop = stop
	deadline := u.deadline
	u.mu.Unlock()

	go u.countdown(deadline, stop)
	u.onChange()
}

func (u *undoManager) countdown(deadline time.Time, stop chan struct{}) {
	ticker := time.NewTicker(u.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			remaining := deadline.Sub(now)
			if remaining <= 0 {
				u.expire(stop)
				return
			}
			u.mu.Lock()
			if u.stop == stop {
				u.progress = float64(remaining) / float64(u.window) * 100
			}
			u.mu.Unlock()
			u.onChange()
		}
	}
}

// expire finalizes the deletion once the deadline elapses.
func (u *undoManager) expire(stop chan struct{}) {
	u.mu.Lock()
	if u.stop != stop {
		// A newer removal took the slot.
		u.mu.Unlock()
		return
	}
	u.pending = nil
	u.stop = nil
	u.progress = 0
	u.mu.Unlock()
	u.onChange()
}

// take hands the pending item back for restore and clears the slot.
// Returns false when nothing is pending or the deadline already elapsed.
func (u *undoManager) take() (UndoItem, bool) {
	u.mu.Lock()
	if u.pending == nil || time.Now().After(u.deadline) {
		u.mu.Unlock()
		return UndoItem{}, false
	}
	item := *u.pending
	u.stopCountdownLocked()
	u.mu.Unlock()

	u.onChange()
	return item, true
}

// cancel drops the pending item without restoring it.
func (u *undoManager) cancel() {
	u.mu.Lock()
	if u.pending == nil {
		u.mu.Unlock()
		return
	}
	u.stopCountdownLocked()
	u.mu.Unlock()

	u.onChange()
}

func (u *undoManager) state() *UndoState {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.pending == nil {
		return nil
	}
	return &UndoState{
		Collection: u.pending.Collection,
		Deadline:   u.deadline,
		Progress:   u.progress,
	}
}

// close stops the countdown so a torn-down engine never receives a late tick.
func (u *undoManager) close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	u.stopCountdownLocked()
}

func (u *undoManager) stopCountdownLocked() {
	if u.stop != nil {
		close(u.stop)
		u.stop = nil
	}
	u.pending = nil
	u.progress = 0
}
