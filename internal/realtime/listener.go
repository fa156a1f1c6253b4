package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/corkboard-app/corkboard/internal/board"
	"github.com/corkboard-app/corkboard/internal/obs"
	"github.com/corkboard-app/corkboard/internal/store"
)

// DesiredFilter maps the owned id set to the subscription filter: an
// id-scoped filter when the client owns notes, the inserts-only filter
// otherwise. Pure; Reconcile compares its output across calls.
func DesiredFilter(ownedIDs []string) store.Filter {
	return store.Filter{IDs: ownedIDs}.Canonical()
}

// State names the listener's position in its subscription state machine.
type State string

const (
	StateIdle       State = "idle"
	StateSubscribed State = "subscribed"
	StatePolling    State = "polling"
)

// ListenerConfig tunes the poll fallback and the refresh throttle.
type ListenerConfig struct {
	// PollInterval is the refresh period used instead of an open push
	// channel while the client owns no notes.
	PollInterval time.Duration
	// MinRefresh caps how often qualifying events may trigger a full
	// refresh, regardless of how many arrive.
	MinRefresh time.Duration
}

// DefaultListenerConfig polls every 30s and allows one full refresh per 5s.
var DefaultListenerConfig = ListenerConfig{
	PollInterval: 30 * time.Second,
	MinRefresh:   5 * time.Second,
}

// Listener owns the change-feed subscription lifecycle. It is an explicit
// state machine, Idle -> Subscribed(filter) -> Idle: Reconcile tears down
// and recreates the subscription whenever the desired filter changes, and
// never holds two subscriptions at once. While the client owns no notes it
// runs a periodic poll instead of keeping a push channel open, since open
// channels count against the realtime API's connection budget.
type Listener struct {
	feed      store.Feed
	onEvent   func(board.Event)
	onRefresh func()
	limiter   *rate.Limiter
	pollEvery time.Duration
	log       *slog.Logger

	// mu is held across the whole reconcile, including the subscribe
	// call, so a concurrent reconcile can never double-subscribe.
	mu         sync.Mutex
	state      State
	filter     store.Filter
	sub        store.Subscription
	pollCancel context.CancelFunc
	closed     bool
}

// NewListener creates an idle listener. onEvent receives feed events whose
// payload is sufficient to patch the local list; onRefresh is invoked,
// throttled, when a full refetch is needed instead.
func NewListener(feed store.Feed, onEvent func(board.Event), onRefresh func(), cfg ListenerConfig) *Listener {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultListenerConfig.PollInterval
	}
	if cfg.MinRefresh <= 0 {
		cfg.MinRefresh = DefaultListenerConfig.MinRefresh
	}
	return &Listener{
		feed:      feed,
		onEvent:   onEvent,
		onRefresh: onRefresh,
		limiter:   rate.NewLimiter(rate.Every(cfg.MinRefresh), 1),
		pollEvery: cfg.PollInterval,
		log:       obs.Pkg("realtime"),
		state:     StateIdle,
	}
}

// Reconcile moves the listener to the subscription the owned id set calls
// for. A no-op when the desired filter already matches the active one.
func (l *Listener) Reconcile(ctx context.Context, ownedIDs []string) error {
	desired := DesiredFilter(ownedIDs)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	if l.state != StateIdle && l.filter.Equal(desired) {
		return nil
	}

	l.teardownLocked()

	// Without a feed there is nothing to subscribe to; stay on polling.
	if desired.InsertsOnly() || l.feed == nil {
		pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		l.pollCancel = cancel
		go l.pollLoop(pollCtx)
		l.state = StatePolling
		l.filter = desired
		l.log.Debug("listener polling", "interval", l.pollEvery.String())
		return nil
	}

	sub, err := l.feed.Subscribe(ctx, desired, l.dispatch)
	if err != nil {
		l.state = StateIdle
		return err
	}
	l.sub = sub
	l.state = StateSubscribed
	l.filter = desired
	l.log.Debug("listener subscribed", "filter", desired.Expression())
	return nil
}

// Close tears the listener down. Unconditional and idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.teardownLocked()
	return nil
}

// State returns the current machine state and active filter.
func (l *Listener) State() (State, store.Filter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.filter
}

func (l *Listener) teardownLocked() {
	if l.sub != nil {
		_ = l.sub.Close()
		l.sub = nil
	}
	if l.pollCancel != nil {
		l.pollCancel()
		l.pollCancel = nil
	}
	l.state = StateIdle
	l.filter = store.Filter{}
}

// dispatch routes one feed event: payloads carrying the row patch the list
// directly, insufficient ones fall back to a throttled full refresh.
func (l *Listener) dispatch(event board.Event) {
	switch event.Type {
	case board.EventDelete:
		if event.NoteID() == "" {
			l.requestRefresh()
			return
		}
	case board.EventInsert, board.EventUpdate:
		if event.New == nil {
			l.requestRefresh()
			return
		}
	default:
		return
	}
	l.onEvent(event)
}

func (l *Listener) requestRefresh() {
	if !l.limiter.Allow() {
		l.log.Debug("refresh throttled")
		return
	}
	l.onRefresh()
}

func (l *Listener) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(l.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.requestRefresh()
		}
	}
}
