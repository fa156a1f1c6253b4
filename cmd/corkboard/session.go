package main

import (
	"context"
	"fmt"

	"github.com/corkboard-app/corkboard/internal/board"
	"github.com/corkboard-app/corkboard/internal/config"
	"github.com/corkboard-app/corkboard/internal/media"
	"github.com/corkboard-app/corkboard/internal/memegen"
	"github.com/corkboard-app/corkboard/internal/obs"
	"github.com/corkboard-app/corkboard/internal/ownership"
	"github.com/corkboard-app/corkboard/internal/realtime"
	"github.com/corkboard-app/corkboard/internal/store"
)

// session is one wired-up board client: every service constructed once,
// injected explicitly, torn down in reverse order.
type session struct {
	cfg      *config.Config
	registry *ownership.Registry
	ctrl     *board.Controller
	listener *realtime.Listener
	tracker  *realtime.Tracker
}

// newSession builds the full dependency graph from configuration. The
// returned context carries the session correlation id for logging.
func newSession(ctx context.Context) (context.Context, *session, error) {
	cfg, err := config.Load(profileDir)
	if err != nil {
		return ctx, nil, err
	}
	ctx = obs.WithSession(ctx, "")

	backend, feed, err := store.Open(cfg.StoreURL, cfg.StoreKey, nil)
	if err != nil {
		return ctx, nil, err
	}
	gateway := store.NewGateway(backend, store.GatewayConfig{
		Policy:   cfg.Retry,
		PageTTL:  cfg.PageTTL,
		CountTTL: cfg.CountTTL,
	})

	registry, err := ownership.Open(cfg.OwnershipPath())
	if err != nil {
		return ctx, nil, err
	}

	ctrlCfg := board.ControllerConfig{
		PageSize:       cfg.PageSize,
		MaxPages:       cfg.MaxPages,
		StrictGestures: cfg.StrictGestures,
	}
	switch {
	case cfg.GeneratorURL != "":
		ctrlCfg.Generator = memegen.NewHTTPGenerator(cfg.GeneratorURL, nil)
	case cfg.OpenAIAPIKey != "":
		ctrlCfg.Generator = memegen.NewOpenAIGenerator(cfg.OpenAIAPIKey, "")
	}
	if cfg.MediaConfigured() {
		uploader, err := media.New(ctx, media.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Bucket:          cfg.AWSBucketName,
			PublicURL:       cfg.AWSPublicURL,
		})
		if err != nil {
			_ = registry.Close()
			return ctx, nil, fmt.Errorf("configure media storage: %w", err)
		}
		ctrlCfg.Uploader = uploader
	}

	ctrl := board.NewController(gateway, registry, ctrlCfg)

	// The websocket feed, when configured, wins over the store's own feed
	// (only the Postgres backend has one).
	var wsFeed *realtime.WSFeed
	if cfg.RealtimeURL != "" {
		wsFeed = realtime.NewWSFeed(cfg.RealtimeURL)
		feed = wsFeed
	}

	listener := realtime.NewListener(feed, ctrl.ApplyEvent, func() {
		if err := ctrl.Load(context.Background()); err != nil {
			obs.Pkg("cli").Warn("board refresh failed", "error", err)
		}
	}, realtime.ListenerConfig{
		PollInterval: cfg.PollInterval,
		MinRefresh:   cfg.MinRefresh,
	})

	s := &session{
		cfg:      cfg,
		registry: registry,
		ctrl:     ctrl,
		listener: listener,
	}
	if wsFeed != nil {
		s.tracker = realtime.NewTracker(wsFeed, func(n int) {
			obs.Pkg("cli").Info("participants on the board", "count", n)
		})
	}
	return ctx, s, nil
}

// close tears the session down: subscriptions first, then local state.
func (s *session) close() {
	if s.tracker != nil {
		s.tracker.Stop()
	}
	_ = s.listener.Close()
	_ = s.registry.Close()
}
