package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/corkboard-app/corkboard/internal/obs"
	"github.com/corkboard-app/corkboard/internal/store"
)

// PresenceChannel is the shared ephemeral channel used to estimate how many
// clients are connected. WSFeed implements it.
type PresenceChannel interface {
	Join(ctx context.Context, key string, onSync func(keys []string)) (store.Subscription, error)
}

// Tracker joins the presence channel under a random per-session key and
// reports the distinct-key count on every full-state sync. Advisory only; it
// never affects note state.
type Tracker struct {
	channel PresenceChannel
	key     string
	onCount func(int)
	log     *slog.Logger

	mu      sync.Mutex
	sub     store.Subscription
	stopped bool
}

// NewTracker creates a tracker with a fresh session key.
func NewTracker(channel PresenceChannel, onCount func(int)) *Tracker {
	return &Tracker{
		channel: channel,
		key:     uuid.NewString(),
		onCount: onCount,
		log:     obs.Pkg("realtime"),
	}
}

// Key returns the session's presence key.
func (t *Tracker) Key() string { return t.key }

// Start joins the channel; the join frame announces this session's key, so
// subscription confirmation and self-announcement are one step.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.sub != nil {
		return nil
	}
	sub, err := t.channel.Join(ctx, t.key, t.sync)
	if err != nil {
		return err
	}
	t.sub = sub
	t.log.Debug("presence joined", "key", t.key)
	return nil
}

// Stop leaves the channel. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	if t.sub != nil {
		_ = t.sub.Close()
		t.sub = nil
	}
}

func (t *Tracker) sync(keys []string) {
	distinct := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key != "" {
			distinct[key] = struct{}{}
		}
	}
	t.onCount(len(distinct))
}
