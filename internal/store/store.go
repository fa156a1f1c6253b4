// Package store talks to the remote note store. It defines the backend
// contract, a REST client for the hosted data API, a direct Postgres backend
// for self-hosted boards, and the Gateway that wraps either one with the
// retry policy and the TTL response cache.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/corkboard-app/corkboard/internal/board"
)

// Store is the typed CRUD surface of the note table. Implementations perform
// single-shot calls; retries and caching live in Gateway.
type Store interface {
	// FetchPage returns one page of notes ordered by creation time.
	FetchPage(ctx context.Context, page, size int) ([]board.Note, error)
	// Count returns the total number of notes on the board.
	Count(ctx context.Context) (int, error)
	// Insert persists a draft and returns the full row, including the
	// server-assigned id and creation time.
	Insert(ctx context.Context, draft board.NoteDraft) (board.Note, error)
	// Update writes the non-nil fields of patch to the note with id.
	Update(ctx context.Context, id string, patch board.NotePatch) error
	// Delete removes the note with id.
	Delete(ctx context.Context, id string) error
}

// Filter scopes a change-feed subscription. With IDs set, the server
// delivers every mutation of those notes; with none, only inserts, so a
// client that owns nothing still learns about new notes.
type Filter struct {
	IDs []string
}

// InsertsOnly reports whether the filter carries no id scope.
func (f Filter) InsertsOnly() bool { return len(f.IDs) == 0 }

// Canonical returns the filter with its ids sorted and deduplicated.
func (f Filter) Canonical() Filter {
	if len(f.IDs) == 0 {
		return Filter{}
	}
	ids := make([]string, 0, len(f.IDs))
	seen := make(map[string]struct{}, len(f.IDs))
	for _, id := range f.IDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Filter{IDs: ids}
}

// Equal compares canonical forms.
func (f Filter) Equal(other Filter) bool {
	a, b := f.Canonical(), other.Canonical()
	if len(a.IDs) != len(b.IDs) {
		return false
	}
	for i := range a.IDs {
		if a.IDs[i] != b.IDs[i] {
			return false
		}
	}
	return true
}

// Expression renders the server-side filter expression, e.g. "id=in.(a,b)".
// Empty for inserts-only subscriptions.
func (f Filter) Expression() string {
	c := f.Canonical()
	if c.InsertsOnly() {
		return ""
	}
	return "id=in.(" + strings.Join(c.IDs, ",") + ")"
}

// Subscription is an open change-feed channel. Close is idempotent.
type Subscription interface {
	Close() error
}

// Feed delivers note mutation events for a filtered subset of the board.
type Feed interface {
	Subscribe(ctx context.Context, filter Filter, fn func(board.Event)) (Subscription, error)
}

// Row is the wire form of a note. Width, height and rotation are nullable:
// rows persisted before those columns existed carry nulls and normalize to
// the documented defaults.
type Row struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Author    string    `json:"author"`
	Color     string    `json:"color"`
	Kind      string    `json:"kind"`
	MediaURL  *string   `json:"media_url"`
	Width     *float64  `json:"width"`
	Height    *float64  `json:"height"`
	Rotation  *int      `json:"rotation"`
	CreatedAt time.Time `json:"created_at"`
}

// Note converts the wire row to the domain form, applying legacy defaults.
func (r Row) Note() board.Note {
	n := board.Note{
		ID:        r.ID,
		Content:   r.Content,
		X:         r.X,
		Y:         r.Y,
		Author:    r.Author,
		Color:     r.Color,
		Kind:      board.NoteKind(r.Kind),
		Width:     board.DefaultNoteSize,
		Height:    board.DefaultNoteSize,
		CreatedAt: r.CreatedAt,
	}
	if r.MediaURL != nil {
		n.MediaURL = *r.MediaURL
	}
	if r.Width != nil {
		n.Width = *r.Width
	}
	if r.Height != nil {
		n.Height = *r.Height
	}
	if r.Rotation != nil {
		n.Rotation = *r.Rotation
	}
	return n
}

// changeEnvelope is the wire form of one change-feed event, shared by the
// Postgres NOTIFY payload and the realtime websocket channel.
type changeEnvelope struct {
	Type string `json:"type"`
	New  *Row   `json:"new"`
	Old  *Row   `json:"old"`
}

// DecodeEvent parses a change-feed payload of the form
// {"type":"INSERT","new":{...},"old":null}. Returns false for malformed or
// unknown payloads; callers drop those rather than failing the feed.
func DecodeEvent(payload []byte) (board.Event, bool) {
	var envelope changeEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return board.Event{}, false
	}
	event := board.Event{Type: board.EventType(envelope.Type)}
	switch event.Type {
	case board.EventInsert, board.EventUpdate, board.EventDelete:
	default:
		return board.Event{}, false
	}
	if envelope.New != nil {
		note := envelope.New.Note()
		event.New = &note
	}
	if envelope.Old != nil {
		note := envelope.Old.Note()
		event.Old = &note
	}
	return event, true
}

// patchFields flattens a NotePatch into column/value pairs, in a stable
// order, optionally restricted to the known-safe column set used by the
// schema-mismatch fallback.
func patchFields(patch board.NotePatch, safeOnly bool) map[string]any {
	fields := make(map[string]any, 6)
	if patch.X != nil {
		fields["x"] = *patch.X
	}
	if patch.Y != nil {
		fields["y"] = *patch.Y
	}
	if patch.Color != nil {
		fields["color"] = *patch.Color
	}
	if safeOnly {
		return fields
	}
	if patch.Width != nil {
		fields["width"] = *patch.Width
	}
	if patch.Height != nil {
		fields["height"] = *patch.Height
	}
	if patch.Rotation != nil {
		fields["rotation"] = *patch.Rotation
	}
	return fields
}
