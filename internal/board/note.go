// Package board holds the sticky-note domain model and the synchronization
// controller that keeps the in-memory board view consistent with the remote
// note store.
package board

import (
	"math"
	"math/rand"
	"time"
)

// NoteKind classifies a note's media. It never changes after creation.
type NoteKind string

const (
	KindText  NoteKind = "text"
	KindMeme  NoteKind = "meme"
	KindImage NoteKind = "image"
)

// Valid reports whether k is a known kind.
func (k NoteKind) Valid() bool {
	switch k {
	case KindText, KindMeme, KindImage:
		return true
	}
	return false
}

const (
	// DefaultNoteSize is the pixel size assumed for legacy rows persisted
	// before width/height existed.
	DefaultNoteSize = 256

	// SpawnMin and SpawnMax bound the random position assigned to notes
	// composed without an explicit one: x, y uniform in [SpawnMin, SpawnMax).
	SpawnMin = 100.0
	SpawnMax = 400.0
)

// Note is a single sticky note on the board. X and Y are canvas units in the
// shared virtual coordinate space, not screen pixels. Rotation is persisted
// as whole degrees; only in-flight gestures hold fractional angles.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Author    string    `json:"author"`
	Color     string    `json:"color"`
	Kind      NoteKind  `json:"kind"`
	MediaURL  string    `json:"media_url,omitempty"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	Rotation  int       `json:"rotation"`
	CreatedAt time.Time `json:"created_at"`
}

// NoteDraft contains the fields a client supplies when composing a note.
// Nil X/Y means "spawn at a random visible position".
type NoteDraft struct {
	Content  string   `json:"content"`
	Author   string   `json:"author"`
	Color    string   `json:"color"`
	Kind     NoteKind `json:"kind"`
	MediaURL string   `json:"media_url,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
}

// NotePatch is a partial update. Only non-nil fields are written; these are
// the only fields ever mutated after creation.
type NotePatch struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	Rotation *int     `json:"rotation,omitempty"`
	Color    *string  `json:"color,omitempty"`
}

// IsZero reports whether the patch writes nothing.
func (p NotePatch) IsZero() bool {
	return p.X == nil && p.Y == nil && p.Width == nil && p.Height == nil &&
		p.Rotation == nil && p.Color == nil
}

// RoundRotation converts a continuous gesture angle to the integer degrees
// the store persists: 44.6 -> 45, -0.4 -> 0.
func RoundRotation(deg float64) int {
	return int(math.Round(deg))
}

// SpawnPosition picks a random position in the documented visible range.
func SpawnPosition(rng *rand.Rand) (x, y float64) {
	span := SpawnMax - SpawnMin
	return SpawnMin + rng.Float64()*span, SpawnMin + rng.Float64()*span
}

func ptr[T any](v T) *T { return &v }

// Float64Ptr returns a pointer to v, for building drafts and patches.
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
