package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corkboard-app/corkboard/internal/board"
	"github.com/corkboard-app/corkboard/internal/obs"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join the board and follow it until interrupted",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ctx, s, err := newSession(ctx)
		if err != nil {
			fatal("starting session", err)
		}
		defer s.close()
		log := obs.From(ctx).With("pkg", "cli")

		s.ctrl.OnChange(func(notes []board.Note) {
			log.Info("board changed", "notes", len(notes))
		})
		s.ctrl.OnAdvisory(func(a board.Advisory) {
			log.Warn("advisory", "message", a.Message, "error", a.Err)
		})

		if err := s.ctrl.Load(ctx); err != nil {
			fatal("loading board", err)
		}
		if err := s.listener.Reconcile(ctx, s.registry.IDs()); err != nil {
			log.Warn("change feed unavailable, continuing without push", "error", err)
		}
		s.registry.OnChange(func(ids []string) {
			if err := s.listener.Reconcile(context.Background(), ids); err != nil {
				log.Warn("resubscribe failed", "error", err)
			}
		})
		if s.tracker != nil {
			if err := s.tracker.Start(ctx); err != nil {
				log.Warn("presence unavailable", "error", err)
			}
		}

		log.Info("following board", "notes", len(s.ctrl.Notes()), "author", s.cfg.Author)
		<-ctx.Done()
		log.Info("shutting down")
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
