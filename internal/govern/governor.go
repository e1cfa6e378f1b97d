// Package govern admits or denies requests per actor and action class using
// a sliding-window counter. State is process-local and advisory: losing it on
// restart can only under-block, never deny a legitimate first request.
package govern

import (
	"sync"
	"time"
)

// Quota bounds one action class: at most MaxRequests within Window.
type Quota struct {
	MaxRequests int
	Window      time.Duration
}

// Decision is the admission result. RetryAfter is positive only when denied.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type windowKey struct {
	actor string
	class string
}

// Governor tracks request timestamps per (actor, action class). Distinct
// action classes never share quota.
type Governor struct {
	mu      sync.Mutex
	quotas  map[string]Quota
	windows map[windowKey][]time.Time
}

// New creates a governor with the given per-class quotas. Classes without a
// quota are always admitted.
func New(quotas map[string]Quota) *Governor {
	copied := make(map[string]Quota, len(quotas))
	for class, q := range quotas {
		copied[class] = q
	}
	return &Governor{
		quotas:  copied,
		windows: make(map[windowKey][]time.Time),
	}
}

// Admit decides whether one more request from actorKey in class is allowed at
// now. Timestamps older than the window are pruned before counting; an
// admitted request records now into the window.
func (g *Governor) Admit(actorKey, class string, now time.Time) Decision {
	quota, ok := g.quotas[class]
	if !ok || quota.MaxRequests <= 0 || quota.Window <= 0 {
		return Decision{Allowed: true}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := windowKey{actor: actorKey, class: class}
	cutoff := now.Add(-quota.Window)

	kept := g.windows[key][:0]
	for _, ts := range g.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= quota.MaxRequests {
		g.windows[key] = kept
		retry := kept[0].Add(quota.Window).Sub(now)
		if retry <= 0 {
			retry = time.Nanosecond
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}

	g.windows[key] = append(kept, now)
	return Decision{Allowed: true}
}

// Reset drops all recorded state for an actor across every action class.
// Administrative escape hatch; never called on hot paths.
func (g *Governor) Reset(actorKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.windows {
		if key.actor == actorKey {
			delete(g.windows, key)
		}
	}
}
