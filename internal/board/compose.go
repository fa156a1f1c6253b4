package board

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/corkboard-app/corkboard/internal/errs"
)

// Generator turns a text prompt into an image URL. Implementations own
// their retry policy; a returned error is terminal for the compose action.
type Generator interface {
	Generate(ctx context.Context, prompt, style string) (url string, err error)
}

// Uploader stores raw image bytes somewhere reachable and returns a URL.
type Uploader interface {
	Upload(ctx context.Context, contentType string, data []byte) (url string, err error)
}

// ComposeMeme generates an image for prompt and posts it as a meme note.
// The style rides along in the persisted content as a "(Style: ...)" suffix
// so a later regeneration can recover it. A failed generation never inserts.
func (c *Controller) ComposeMeme(ctx context.Context, prompt, style, author string) (Note, error) {
	if c.cfg.Generator == nil {
		return Note{}, errs.New(errs.GenerationFailed, "no meme generator configured")
	}
	url, err := c.cfg.Generator.Generate(ctx, prompt, style)
	if err != nil {
		c.advise("meme generation failed", err)
		return Note{}, err
	}

	note, err := c.Compose(ctx, NoteDraft{
		Content:  WithStyle(prompt, style),
		Author:   author,
		Kind:     KindMeme,
		MediaURL: url,
	})
	if err != nil {
		// The image exists but the note does not; the caller is told,
		// the generation is not retried.
		c.advise("posting the generated meme failed", err)
		return Note{}, err
	}
	return note, nil
}

// ComposeImage posts an uploaded image as a note. With an uploader the
// bytes go to remote storage and the note references the public URL;
// without one they embed directly as a data URL.
func (c *Controller) ComposeImage(ctx context.Context, caption, author, contentType string, data []byte) (Note, error) {
	if len(data) == 0 {
		return Note{}, errs.New(errs.InvalidArgument, "empty image")
	}

	var url string
	if c.cfg.Uploader != nil {
		uploaded, err := c.cfg.Uploader.Upload(ctx, contentType, data)
		if err != nil {
			c.advise("image upload failed", err)
			return Note{}, fmt.Errorf("upload image: %w", err)
		}
		url = uploaded
	} else {
		url = DataURL(contentType, data)
	}

	return c.Compose(ctx, NoteDraft{
		Content:  caption,
		Author:   author,
		Kind:     KindImage,
		MediaURL: url,
	})
}

// DataURL encodes image bytes inline, the fallback persisted form for
// uploads when no remote media storage is configured.
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
