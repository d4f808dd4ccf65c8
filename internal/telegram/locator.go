package telegram

import (
	"context"
	"sync"
	"time"

	"vibe-planner/internal/geo"
	"vibe-planner/internal/hangout"
)

const defaultLocationTimeout = 60 * time.Second

type locationResult struct {
	loc hangout.Location
	err error
}

// LocationWaiter is a geo.Locator backed by Telegram location sharing. Locate
// blocks until the chat shares a location, declines, or the timeout passes.
type LocationWaiter struct {
	timeout time.Duration

	mu      sync.Mutex
	waiting chan locationResult
}

func NewLocationWaiter(timeout time.Duration) *LocationWaiter {
	if timeout <= 0 {
		timeout = defaultLocationTimeout
	}
	return &LocationWaiter{timeout: timeout}
}

func (w *LocationWaiter) Locate(ctx context.Context) (hangout.Location, error) {
	ch := make(chan locationResult, 1)
	w.mu.Lock()
	w.waiting = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		if w.waiting == ch {
			w.waiting = nil
		}
		w.mu.Unlock()
	}()

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.loc, r.err
	case <-timer.C:
		return hangout.Location{}, &geo.Error{Code: geo.Timeout}
	case <-ctx.Done():
		return hangout.Location{}, geo.AsError(ctx.Err())
	}
}

// Deliver hands a shared location to a pending Locate. It reports whether one
// was waiting.
func (w *LocationWaiter) Deliver(loc hangout.Location) bool {
	return w.resolve(locationResult{loc: loc})
}

// Decline fails a pending Locate with PERMISSION_DENIED.
func (w *LocationWaiter) Decline() bool {
	return w.resolve(locationResult{err: &geo.Error{Code: geo.PermissionDenied}})
}

// Waiting reports whether a Locate is pending.
func (w *LocationWaiter) Waiting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waiting != nil
}

func (w *LocationWaiter) resolve(r locationResult) bool {
	w.mu.Lock()
	ch := w.waiting
	w.waiting = nil
	w.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- r
	return true
}
