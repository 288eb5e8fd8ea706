package client

import (
	"context"
	"sync"
	"time"

	"podpulse/internal/models"
)

// Toast kinds
const (
	ToastError = "error"
	ToastInfo  = "info"
)

// Toast is a queued transient message, unrelated to tasks.
type Toast struct {
	Content string
	Kind    string
	Shown   time.Time
}

const (
	messageClearDelay = 5 * time.Second
	toastHideDelay    = 5 * time.Second
	// Extra grace before a hidden toast leaves the queue, so an exit
	// animation has something to animate.
	toastPurgeGrace = 500 * time.Millisecond
)

// Center owns everything the notification surface renders: the task list
// (through the reducer), the two scalar message slots, and the toast queue.
// All timers it schedules are cancelled by Close.
type Center struct {
	mu      sync.Mutex
	reducer *Reducer

	open          bool
	showCompleted bool

	errorMessage string
	infoMessage  string
	errTimer     *time.Timer
	infoTimer    *time.Timer

	toasts      []Toast
	toastTimers []*time.Timer

	clearDelay time.Duration
	hideDelay  time.Duration
	purgeGrace time.Duration

	now    func() time.Time
	closed bool
}

// NewCenter creates a notification center around a fresh reducer.
func NewCenter() *Center {
	return &Center{
		reducer:    NewReducer(),
		clearDelay: messageClearDelay,
		hideDelay:  toastHideDelay,
		purgeGrace: toastPurgeGrace,
		now:        time.Now,
	}
}

// Apply feeds one task record through the reducer.
func (c *Center) Apply(rec models.TaskRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reducer.Apply(rec)
}

// ApplySnapshot feeds a full resync through the reducer.
func (c *Center) ApplySnapshot(recs []models.TaskRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reducer.ApplySnapshot(recs)
}

// Sweep drops expired terminal tasks; callers run it on a short tick.
func (c *Center) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reducer.Sweep()
}

// Tasks returns the visible list, honoring the show-completed toggle.
func (c *Center) Tasks() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.reducer.Tasks()
	if c.showCompleted {
		return all
	}
	kept := all[:0]
	for _, n := range all {
		if n.Terminal() {
			continue
		}
		kept = append(kept, n)
	}
	return kept
}

// ActiveCount is the number of non-terminal tasks.
func (c *Center) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reducer.ActiveCount()
}

// BadgeCount is the active-task count plus one when an error message is
// pending. Info messages never contribute.
func (c *Center) BadgeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := c.reducer.ActiveCount()
	if c.errorMessage != "" {
		count++
	}
	return count
}

// Toggle flips the dropdown open state and returns the new value.
func (c *Center) Toggle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = !c.open
	return c.open
}

// CloseDropdown closes the dropdown (outside click).
func (c *Center) CloseDropdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

// IsOpen reports whether the dropdown is open.
func (c *Center) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// SetShowCompleted flips the completed-tasks filter. The badge count is
// unaffected by this filter.
func (c *Center) SetShowCompleted(show bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showCompleted = show
}

// Dismiss removes exactly one task.
func (c *Center) Dismiss(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reducer.Dismiss(taskID)
}

// DismissCompleted removes every terminal task immediately.
func (c *Center) DismissCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reducer.DismissCompleted()
}

// SetError fills the error slot, last write wins. A fresh auto-clear timer
// replaces any pending one.
func (c *Center) SetError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.errorMessage = msg
	if c.errTimer != nil {
		c.errTimer.Stop()
		c.errTimer = nil
	}
	if msg == "" {
		return
	}
	c.errTimer = time.AfterFunc(c.clearDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.errorMessage == msg {
			c.errorMessage = ""
		}
	})
}

// SetInfo fills the info slot, independent of the error slot.
func (c *Center) SetInfo(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.infoMessage = msg
	if c.infoTimer != nil {
		c.infoTimer.Stop()
		c.infoTimer = nil
	}
	if msg == "" {
		return
	}
	c.infoTimer = time.AfterFunc(c.clearDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.infoMessage == msg {
			c.infoMessage = ""
		}
	})
}

// ErrorMessage returns the pending error message, empty when none.
func (c *Center) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorMessage
}

// InfoMessage returns the pending info message, empty when none.
func (c *Center) InfoMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoMessage
}

// AddToast queues a transient message. An identical content+kind pair is
// dropped while the original is still visible.
func (c *Center) AddToast(content, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	for _, t := range c.toasts {
		if t.Content == content && t.Kind == kind {
			return
		}
	}

	c.toasts = append(c.toasts, Toast{Content: content, Kind: kind, Shown: c.now()})
	var timer *time.Timer
	timer = time.AfterFunc(c.hideDelay+c.purgeGrace, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.purgeToastsLocked()
		c.dropToastTimerLocked(timer)
	})
	c.toastTimers = append(c.toastTimers, timer)
}

// dropToastTimerLocked forgets a fired timer so the slice does not grow for
// the lifetime of the center.
func (c *Center) dropToastTimerLocked(timer *time.Timer) {
	for i, t := range c.toastTimers {
		if t == timer {
			c.toastTimers = append(c.toastTimers[:i], c.toastTimers[i+1:]...)
			return
		}
	}
}

// VisibleToasts returns toasts still inside the hide delay.
func (c *Center) VisibleToasts() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var out []Toast
	for _, t := range c.toasts {
		if now.Sub(t.Shown) < c.hideDelay {
			out = append(out, t)
		}
	}
	return out
}

func (c *Center) purgeToastsLocked() {
	now := c.now()
	kept := c.toasts[:0]
	for _, t := range c.toasts {
		if now.Sub(t.Shown) >= c.hideDelay+c.purgeGrace {
			continue
		}
		kept = append(kept, t)
	}
	c.toasts = kept
}

// Close cancels every pending timer. The center accepts no new messages
// afterwards; task state stays readable.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.errTimer != nil {
		c.errTimer.Stop()
		c.errTimer = nil
	}
	if c.infoTimer != nil {
		c.infoTimer.Stop()
		c.infoTimer = nil
	}
	for _, t := range c.toastTimers {
		t.Stop()
	}
	c.toastTimers = nil
}

// sweepTick drives the reducer's expiry sweep between events.
const sweepTick = 100 * time.Millisecond

// StartSweeper runs the expiry sweep on a short tick until ctx is
// cancelled, so terminal tasks disappear on time even when no event
// arrives to trigger a sweep.
func (c *Center) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}
