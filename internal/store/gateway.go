package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/corkboard-app/corkboard/internal/board"
	"github.com/corkboard-app/corkboard/internal/cache"
	"github.com/corkboard-app/corkboard/internal/obs"
	"github.com/corkboard-app/corkboard/internal/retry"
)

// PageKey identifies one cached page of notes.
type PageKey struct {
	Page int
	Size int
}

const countKey = "notes"

// GatewayConfig tunes the gateway's retry policy and cache lifetimes.
type GatewayConfig struct {
	Policy   retry.Policy
	PageTTL  time.Duration
	CountTTL time.Duration
}

// DefaultGatewayConfig trades a minute of staleness for load on the shared
// backend; writes invalidate, so a client never sees its own stale data.
var DefaultGatewayConfig = GatewayConfig{
	Policy:   retry.DefaultPolicy,
	PageTTL:  45 * time.Second,
	CountTTL: 60 * time.Second,
}

// Gateway wraps a backend Store with the bounded retry policy on every call
// and a TTL cache over the read operations. Writes always go to the backend
// and, on success, invalidate the count entry and sweep the page cache.
type Gateway struct {
	backend  Store
	policy   retry.Policy
	pages    *cache.Cache[PageKey, []board.Note]
	counts   *cache.Cache[string, int]
	pageTTL  time.Duration
	countTTL time.Duration
	log      *slog.Logger
}

var _ Store = (*Gateway)(nil)

// NewGateway wraps backend. Zero-valued config fields fall back to defaults.
func NewGateway(backend Store, cfg GatewayConfig) *Gateway {
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultGatewayConfig.Policy
	}
	if cfg.PageTTL == 0 {
		cfg.PageTTL = DefaultGatewayConfig.PageTTL
	}
	if cfg.CountTTL == 0 {
		cfg.CountTTL = DefaultGatewayConfig.CountTTL
	}
	return &Gateway{
		backend:  backend,
		policy:   cfg.Policy,
		pages:    cache.New[PageKey, []board.Note](),
		counts:   cache.New[string, int](),
		pageTTL:  cfg.PageTTL,
		countTTL: cfg.CountTTL,
		log:      obs.Pkg("store"),
	}
}

func (g *Gateway) FetchPage(ctx context.Context, page, size int) ([]board.Note, error) {
	key := PageKey{Page: page, Size: size}
	if notes, ok := g.pages.Get(key); ok {
		return notes, nil
	}

	var notes []board.Note
	err := g.policy.Do(ctx, "fetch_page", func(ctx context.Context) error {
		fetched, err := g.backend.FetchPage(ctx, page, size)
		if err != nil {
			return classify(err)
		}
		notes = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.pages.Set(key, notes, g.pageTTL)
	return notes, nil
}

func (g *Gateway) Count(ctx context.Context) (int, error) {
	if count, ok := g.counts.Get(countKey); ok {
		return count, nil
	}

	var count int
	err := g.policy.Do(ctx, "count", func(ctx context.Context) error {
		n, err := g.backend.Count(ctx)
		if err != nil {
			return classify(err)
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	g.counts.Set(countKey, count, g.countTTL)
	return count, nil
}

func (g *Gateway) Insert(ctx context.Context, draft board.NoteDraft) (board.Note, error) {
	var note board.Note
	err := g.policy.Do(ctx, "insert", func(ctx context.Context) error {
		inserted, err := g.backend.Insert(ctx, draft)
		if err != nil {
			return classify(err)
		}
		note = inserted
		return nil
	})
	if err != nil {
		return board.Note{}, err
	}
	g.invalidate()
	return note, nil
}

func (g *Gateway) Update(ctx context.Context, id string, patch board.NotePatch) error {
	if patch.IsZero() {
		return nil
	}
	err := g.policy.Do(ctx, "update", func(ctx context.Context) error {
		return classify(g.backend.Update(ctx, id, patch))
	})
	if err != nil {
		return err
	}
	g.invalidate()
	return nil
}

func (g *Gateway) Delete(ctx context.Context, id string) error {
	err := g.policy.Do(ctx, "delete", func(ctx context.Context) error {
		return classify(g.backend.Delete(ctx, id))
	})
	if err != nil {
		return err
	}
	g.invalidate()
	return nil
}

// invalidate drops the count entry and sweeps every cached page. The key
// space is bounded, so the sweep is cheap, and a stale page after a known
// local write is worse than one extra refetch.
func (g *Gateway) invalidate() {
	g.counts.Remove(countKey)
	g.pages.Clear()
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if Transient(err) {
		return err
	}
	return retry.Permanent(err)
}
