// Package abort coordinates cooperative cancellation across the rig.
//
// A single Controller is shared by the interpreter, the motion layer and
// the operator-facing front ends. Anything that can demand a stop (the
// console key listener, M112, a failed bus transaction mid-queue) raises
// the flag; long-running operations poll it between steps and unwind on
// their own. No goroutine is ever killed, so hardware teardown always
// runs in a known order.
package abort

import (
	"sync"
	"sync/atomic"
	"time"

	"helical-go-migration/pkg/rigerr"
)

// pollInterval is how often WaitOrAbort re-checks the flag while
// sleeping. Dwells and settle loops end within one interval of a raise.
const pollInterval = 10 * time.Millisecond

// Controller holds the shared abort and emergency-stop flags plus the
// operator-confirm edge. All methods are safe for concurrent use.
type Controller struct {
	aborted atomic.Bool
	estop   atomic.Bool
	enter   atomic.Bool

	mu     sync.Mutex
	reason string
}

// NewController returns a Controller with both flags clear.
func NewController() *Controller {
	return &Controller{}
}

// Raise sets the abort flag. The first reason wins; later raises while
// the flag is still set do not overwrite it.
func (c *Controller) Raise(reason string) {
	if c.aborted.CompareAndSwap(false, true) {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
	}
}

// RaiseEStop sets the emergency-stop flag in addition to the abort flag.
// E-stop is latched: Clear does not reset it, only a process restart
// does. The interpreter refuses new lines while it is set.
func (c *Controller) RaiseEStop(reason string) {
	c.estop.Store(true)
	c.Raise(reason)
}

// Clear resets the abort flag so the next job can run. The caller is
// expected to have drained its queue and settled the hardware first.
func (c *Controller) Clear() {
	c.aborted.Store(false)
	c.mu.Lock()
	c.reason = ""
	c.mu.Unlock()
}

// Aborted reports whether the abort flag is set.
func (c *Controller) Aborted() bool {
	return c.aborted.Load()
}

// EStopped reports whether an emergency stop has been latched.
func (c *Controller) EStopped() bool {
	return c.estop.Load()
}

// Reason returns the reason recorded by the raise that set the current
// abort flag, or "" when the flag is clear.
func (c *Controller) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// PressEnter latches the operator-confirm edge. Raised by the key
// listener on a newline; staged procedures use it as a "ready, go on"
// signal.
func (c *Controller) PressEnter() {
	c.enter.Store(true)
}

// ConsumeEnter reports and clears the confirm edge: true at most once
// per press.
func (c *Controller) ConsumeEnter() bool {
	return c.enter.CompareAndSwap(true, false)
}

// Err returns a cancellation error naming the given operation if the
// abort flag is set, nil otherwise.
func (c *Controller) Err(during string) error {
	if c.aborted.Load() {
		return rigerr.Cancelled(during)
	}
	return nil
}

// WaitOrAbort sleeps for d, re-checking the abort flag every poll
// interval. It returns true if the full duration elapsed and false if
// the wait was cut short by an abort.
func (c *Controller) WaitOrAbort(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if c.aborted.Load() {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining > pollInterval {
			remaining = pollInterval
		}
		time.Sleep(remaining)
	}
}
