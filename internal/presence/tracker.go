// Package presence tracks ephemeral typing indicators. This state is
// deliberately kept out of the persisted projections: it lives in a TTL map
// refreshed by heartbeats and vanishes on its own, never touching the store.
package presence

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a typing indicator stays lit without a heartbeat.
const DefaultTTL = 4 * time.Second

// Tracker holds per-chat typing deadlines.
type Tracker struct {
	mu        sync.Mutex
	ttl       time.Duration
	deadlines map[string]time.Time
	now       func() time.Time
	onExpire  func(chatID string)
	cancel    context.CancelFunc
}

// NewTracker creates a tracker. onExpire (optional) fires once per chat when
// its indicator times out without an explicit Clear.
func NewTracker(ttl time.Duration, onExpire func(chatID string)) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:       ttl,
		deadlines: make(map[string]time.Time),
		now:       time.Now,
		onExpire:  onExpire,
	}
}

// Heartbeat marks the chat as typing until now+ttl.
func (t *Tracker) Heartbeat(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadlines[chatID] = t.now().Add(t.ttl)
}

// Clear removes the typing indicator for a chat. Returns true if it was set.
func (t *Tracker) Clear(chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.deadlines[chatID]
	delete(t.deadlines, chatID)
	return ok
}

// Typing reports whether the chat's indicator is currently lit.
func (t *Tracker) Typing(chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	dl, ok := t.deadlines[chatID]
	return ok && t.now().Before(dl)
}

// Start runs the expiry sweep until the context is canceled.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the expiry sweep.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Tracker) sweep() {
	t.mu.Lock()
	var expired []string
	now := t.now()
	for id, dl := range t.deadlines {
		if !now.Before(dl) {
			delete(t.deadlines, id)
			expired = append(expired, id)
		}
	}
	t.mu.Unlock()

	if t.onExpire != nil {
		for _, id := range expired {
			t.onExpire(id)
		}
	}
}
