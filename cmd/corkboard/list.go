package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corkboard-app/corkboard/internal/board"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the board's current notes in render order",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, s, err := newSession(context.Background())
		if err != nil {
			fatal("starting session", err)
		}
		defer s.close()

		if err := s.ctrl.Load(ctx); err != nil {
			fatal("loading board", err)
		}
		notes := s.ctrl.Notes()

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(notes); err != nil {
				fatal("encoding notes", err)
			}
			return
		}

		for _, note := range notes {
			marker := " "
			if s.registry.Contains(note.ID) {
				marker = "*"
			}
			text := note.Content
			if note.Kind == board.KindMeme {
				text, _ = board.ParseStyle(note.Content)
			}
			fmt.Printf("%s %-36s %-5s (%6.0f,%6.0f) %q by %s\n",
				marker, note.ID, note.Kind, note.X, note.Y, text, note.Author)
		}
		fmt.Printf("%d notes (* = yours)\n", len(notes))
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output notes as JSON")
	rootCmd.AddCommand(listCmd)
}
