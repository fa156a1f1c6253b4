package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corkboard-app/corkboard/internal/board"
)

var (
	postAuthor string
	postColor  string
	postMeme   bool
	postStyle  string
	postImage  string
)

var postCmd = &cobra.Command{
	Use:   "post [content]",
	Short: "Post a note to the board",
	Long: `Post a text note, a generated meme (--meme, optionally --style), or an
uploaded image (--image path). The note spawns at a random visible position
and its id is recorded locally so this profile may edit it later.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		content := ""
		if len(args) == 1 {
			content = args[0]
		}
		if postStyle != "" {
			postMeme = true
		}
		if content == "" && postImage == "" {
			fatal("posting note", fmt.Errorf("nothing to post: give content or --image"))
		}

		ctx, s, err := newSession(context.Background())
		if err != nil {
			fatal("starting session", err)
		}
		defer s.close()

		author := postAuthor
		if author == "" {
			author = s.cfg.Author
		}

		var note board.Note
		switch {
		case postMeme:
			note, err = s.ctrl.ComposeMeme(ctx, content, postStyle, author)
		case postImage != "":
			var data []byte
			data, err = os.ReadFile(postImage)
			if err != nil {
				fatal("reading image", err)
			}
			contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(postImage)))
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			note, err = s.ctrl.ComposeImage(ctx, content, author, contentType, data)
		default:
			note, err = s.ctrl.Compose(ctx, board.NoteDraft{
				Content: content,
				Author:  author,
				Color:   postColor,
			})
		}
		if err != nil {
			fatal("posting note", err)
		}

		fmt.Printf("posted %s note %s at (%.0f, %.0f)\n", note.Kind, note.ID, note.X, note.Y)
	},
}

func init() {
	postCmd.Flags().StringVar(&postAuthor, "author", "", "Author name (default: profile author)")
	postCmd.Flags().StringVar(&postColor, "color", "", "Note color, #rrggbb or rgba(...)")
	postCmd.Flags().BoolVar(&postMeme, "meme", false, "Generate a meme image from the content")
	postCmd.Flags().StringVar(&postStyle, "style", "", "Meme style, e.g. \"noir\" (implies --meme)")
	postCmd.Flags().StringVar(&postImage, "image", "", "Path of an image file to post")
	rootCmd.AddCommand(postCmd)
}
