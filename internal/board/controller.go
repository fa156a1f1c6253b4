package board

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/corkboard-app/corkboard/internal/errs"
	"github.com/corkboard-app/corkboard/internal/obs"
)

// Store is the persistence surface the controller writes through. The
// gateway in internal/store satisfies it.
type Store interface {
	FetchPage(ctx context.Context, page, size int) ([]Note, error)
	Count(ctx context.Context) (int, error)
	Insert(ctx context.Context, draft NoteDraft) (Note, error)
	Update(ctx context.Context, id string, patch NotePatch) error
	Delete(ctx context.Context, id string) error
}

// Ownership is the owned-id set the controller consults before gated edits.
type Ownership interface {
	Add(id string) bool
	Remove(id string) bool
	Contains(id string) bool
}

// Advisory is a transient, user-facing message: a write that failed and was
// rolled back, a degraded sync channel. Never fatal; the UI shows it as a
// dismissible banner.
type Advisory struct {
	Message string
	Err     error
}

// ControllerConfig tunes the controller. Zero values fall back to defaults.
type ControllerConfig struct {
	// PageSize is the number of notes fetched per page during Load.
	PageSize int
	// MaxPages caps how many pages Load fetches, bounding initial latency
	// on very full boards.
	MaxPages int
	// StrictGestures restores the earlier edit policy: drag, resize and
	// rotate also require ownership, not just delete and recolor.
	StrictGestures bool
	// Generator produces meme image URLs for ComposeMeme. Optional.
	Generator Generator
	// Uploader stores uploaded images for ComposeImage. Optional; without
	// one, images embed as data URLs.
	Uploader Uploader
	// Rand seeds spawn positions; nil uses a time-seeded source.
	Rand *rand.Rand
}

const (
	defaultPageSize = 50
	defaultMaxPages = 8

	// minNoteSize keeps a resize gesture from collapsing a note into an
	// ungrabbable sliver.
	minNoteSize = 64
)

type gestureKind int

const (
	gestureDrag gestureKind = iota
	gestureResize
	gestureRotate
)

func (k gestureKind) String() string {
	switch k {
	case gestureDrag:
		return "drag"
	case gestureResize:
		return "resize"
	case gestureRotate:
		return "rotate"
	}
	return "unknown"
}

// gesture is the in-flight edit state for one note. confirmed holds the
// last server-acknowledged value so a failed write can roll back; the note
// in the visible list carries the transient value.
type gesture struct {
	kind      gestureKind
	pointerX  float64
	pointerY  float64
	confirmed Note
	angle     float64
}

// Controller owns the in-memory note list shown to the user. It merges
// paginated loads, change-feed events and optimistic local gestures into one
// ordered view, with the list's order doubling as z-order (last renders on
// top). All mutation is serialized through its mutex; gesture move ticks
// stay pure in-memory so they never block on I/O.
type Controller struct {
	store Store
	owned Ownership
	cfg   ControllerConfig
	log   *slog.Logger

	mu       sync.Mutex
	notes    []Note
	gestures map[string]*gesture
	viewport Viewport
	rng      *rand.Rand

	onChange   func([]Note)
	onAdvisory func(Advisory)
}

// NewController builds a controller over store and owned. Call Load before
// expecting Notes to return anything.
func NewController(store Store, owned Ownership, cfg ControllerConfig) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Controller{
		store:    store,
		owned:    owned,
		cfg:      cfg,
		log:      obs.Pkg("board"),
		gestures: make(map[string]*gesture),
		viewport: DefaultViewport,
		rng:      rng,
	}
}

// OnChange registers the callback invoked with a snapshot of the list after
// every visible mutation. The UI re-renders from it.
func (c *Controller) OnChange(fn func([]Note)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// OnAdvisory registers the callback for transient user-facing messages.
func (c *Controller) OnAdvisory(fn func(Advisory)) {
	c.mu.Lock()
	c.onAdvisory = fn
	c.mu.Unlock()
}

// SetViewport updates the pan/zoom state used to convert pointer deltas.
func (c *Controller) SetViewport(v Viewport) {
	c.mu.Lock()
	c.viewport = v
	c.mu.Unlock()
}

// Notes returns a snapshot of the visible list in render order.
func (c *Controller) Notes() []Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() []Note {
	out := make([]Note, len(c.notes))
	copy(out, c.notes)
	return out
}

// emitLocked snapshots the list and returns the change callback to run once
// the lock is released. Callbacks never run under the mutex.
func (c *Controller) emitLocked() func() {
	fn := c.onChange
	if fn == nil {
		return func() {}
	}
	snapshot := c.snapshotLocked()
	return func() { fn(snapshot) }
}

func (c *Controller) advise(message string, err error) {
	c.mu.Lock()
	fn := c.onAdvisory
	c.mu.Unlock()
	c.log.Warn(message, "error", err)
	if fn != nil {
		fn(Advisory{Message: message, Err: err})
	}
}

// Load replaces the list with the board's current contents: count first,
// then sequential pages merged incrementally so the user sees partial
// content before the full load completes, then the ownership ordering pass.
func (c *Controller) Load(ctx context.Context) error {
	count, err := c.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count notes: %w", err)
	}

	c.mu.Lock()
	// Notes with an active gesture survive the reset; their transient
	// value takes precedence over anything the server reports until the
	// gesture ends.
	kept := c.notes[:0]
	for _, note := range c.notes {
		if _, active := c.gestures[note.ID]; active {
			kept = append(kept, note)
		}
	}
	c.notes = kept
	emit := c.emitLocked()
	c.mu.Unlock()
	emit()

	if count == 0 {
		return nil
	}

	pages := (count + c.cfg.PageSize - 1) / c.cfg.PageSize
	if pages > c.cfg.MaxPages {
		pages = c.cfg.MaxPages
	}
	for page := 0; page < pages; page++ {
		fetched, err := c.store.FetchPage(ctx, page, c.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", page, err)
		}
		c.mu.Lock()
		for _, note := range fetched {
			c.mergeLocked(note)
		}
		emit := c.emitLocked()
		c.mu.Unlock()
		emit()
	}

	c.mu.Lock()
	c.sortByOwnershipLocked()
	emit = c.emitLocked()
	c.mu.Unlock()
	emit()
	return nil
}

// mergeLocked inserts or replaces note, preserving z-position on replace.
// A note with an active gesture keeps its transient value.
func (c *Controller) mergeLocked(note Note) {
	if i := c.indexLocked(note.ID); i >= 0 {
		if _, active := c.gestures[note.ID]; !active {
			c.notes[i] = note
		}
		return
	}
	c.notes = append(c.notes, note)
}

func (c *Controller) indexLocked(id string) int {
	for i := range c.notes {
		if c.notes[i].ID == id {
			return i
		}
	}
	return -1
}

// sortByOwnershipLocked layers owned notes above foreign ones. Stable, so
// ties keep their fetch order. Visual stacking only; canvas positions are
// untouched.
func (c *Controller) sortByOwnershipLocked() {
	sort.SliceStable(c.notes, func(i, j int) bool {
		return !c.owned.Contains(c.notes[i].ID) && c.owned.Contains(c.notes[j].ID)
	})
}

// Activate moves the note to the end of the list so it stacks above all
// others. Pure presentation, never persisted, not ownership-gated.
func (c *Controller) Activate(id string) {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 || i == len(c.notes)-1 {
		c.mu.Unlock()
		return
	}
	note := c.notes[i]
	c.notes = append(append(c.notes[:i:i], c.notes[i+1:]...), note)
	emit := c.emitLocked()
	c.mu.Unlock()
	emit()
}

// beginGestureLocked validates and records a new gesture on id.
func (c *Controller) beginGestureLocked(id string, kind gestureKind, px, py float64) (*gesture, error) {
	i := c.indexLocked(id)
	if i < 0 {
		return nil, errs.New(errs.NotFound, "unknown note "+id)
	}
	if _, active := c.gestures[id]; active {
		return nil, errs.New(errs.InvalidArgument, "note already mid-gesture")
	}
	if c.cfg.StrictGestures && !c.owned.Contains(id) {
		return nil, errs.New(errs.PermissionDenied, "not the owner of note "+id)
	}
	g := &gesture{
		kind:      kind,
		pointerX:  px,
		pointerY:  py,
		confirmed: c.notes[i],
		angle:     float64(c.notes[i].Rotation),
	}
	c.gestures[id] = g
	return g, nil
}

// BeginDrag starts a drag gesture at the given pointer screen coordinate.
func (c *Controller) BeginDrag(id string, pointerX, pointerY float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.beginGestureLocked(id, gestureDrag, pointerX, pointerY)
	return err
}

// DragTo updates the dragged note's transient position from the pointer's
// current screen coordinate. Pure in-memory; runs on every move tick.
func (c *Controller) DragTo(id string, pointerX, pointerY float64) {
	c.mu.Lock()
	g, i := c.activeGestureLocked(id, gestureDrag)
	if g == nil {
		c.mu.Unlock()
		return
	}
	dx, dy := c.viewport.DeltaToCanvas(pointerX-g.pointerX, pointerY-g.pointerY)
	c.notes[i].X = g.confirmed.X + dx
	c.notes[i].Y = g.confirmed.Y + dy
	emit := c.emitLocked()
	c.mu.Unlock()
	emit()
}

// EndDrag finishes the gesture and issues the single write with the final
// position. On failure the note reverts to its pre-gesture position.
func (c *Controller) EndDrag(ctx context.Context, id string) error {
	return c.endGesture(ctx, id, gestureDrag, func(n Note) NotePatch {
		return NotePatch{X: ptr(n.X), Y: ptr(n.Y)}
	})
}

// BeginResize starts a resize gesture at the given pointer coordinate.
func (c *Controller) BeginResize(id string, pointerX, pointerY float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.beginGestureLocked(id, gestureResize, pointerX, pointerY)
	return err
}

// ResizeTo grows or shrinks the note by the pointer delta in canvas units,
// clamped so it stays grabbable.
func (c *Controller) ResizeTo(id string, pointerX, pointerY float64) {
	c.mu.Lock()
	g, i := c.activeGestureLocked(id, gestureResize)
	if g == nil {
		c.mu.Unlock()
		return
	}
	dx, dy := c.viewport.DeltaToCanvas(pointerX-g.pointerX, pointerY-g.pointerY)
	c.notes[i].Width = max(g.confirmed.Width+dx, minNoteSize)
	c.notes[i].Height = max(g.confirmed.Height+dy, minNoteSize)
	emit := c.emitLocked()
	c.mu.Unlock()
	emit()
}

// EndResize finishes the gesture and persists the final dimensions.
func (c *Controller) EndResize(ctx context.Context, id string) error {
	return c.endGesture(ctx, id, gestureResize, func(n Note) NotePatch {
		return NotePatch{Width: ptr(n.Width), Height: ptr(n.Height)}
	})
}

// BeginRotate starts a rotate gesture.
func (c *Controller) BeginRotate(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.beginGestureLocked(id, gestureRotate, 0, 0)
	return err
}

// RotateTo sets the transient rotation angle in degrees. The angle stays
// continuous while the gesture is active; only the persisted value rounds.
func (c *Controller) RotateTo(id string, degrees float64) {
	c.mu.Lock()
	g, i := c.activeGestureLocked(id, gestureRotate)
	if g == nil {
		c.mu.Unlock()
		return
	}
	g.angle = degrees
	c.notes[i].Rotation = RoundRotation(degrees)
	emit := c.emitLocked()
	c.mu.Unlock()
	emit()
}

// EndRotate finishes the gesture and persists the rounded angle.
func (c *Controller) EndRotate(ctx context.Context, id string) error {
	return c.endGesture(ctx, id, gestureRotate, func(n Note) NotePatch {
		return NotePatch{Rotation: ptr(n.Rotation)}
	})
}

func (c *Controller) activeGestureLocked(id string, kind gestureKind) (*gesture, int) {
	g, ok := c.gestures[id]
	if !ok || g.kind != kind {
		return nil, -1
	}
	i := c.indexLocked(id)
	if i < 0 {
		return nil, -1
	}
	return g, i
}

// endGesture clears the gesture, writes the final value, then either
// confirms it or rolls the note back to the pre-gesture value.
func (c *Controller) endGesture(ctx context.Context, id string, kind gestureKind, patch func(Note) NotePatch) error {
	c.mu.Lock()
	g, i := c.activeGestureLocked(id, kind)
	if g == nil {
		c.mu.Unlock()
		return errs.New(errs.InvalidArgument, "no active "+kind.String()+" gesture")
	}
	delete(c.gestures, id)
	final := c.notes[i]
	c.mu.Unlock()

	if err := c.store.Update(ctx, id, patch(final)); err != nil {
		c.revert(id, g.confirmed)
		c.advise("saving the note failed, change undone", err)
		return err
	}
	return nil
}

// revert restores the note to its last confirmed value after a failed write.
func (c *Controller) revert(id string, confirmed Note) {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	c.notes[i] = confirmed
	emit := c.emitLocked()
	c.mu.Unlock()
	emit()
}

// SetColor recolors an owned note. The gate is local: an unowned id is
// rejected before any network call.
func (c *Controller) SetColor(ctx context.Context, id, color string) error {
	if !ValidColor(color) {
		return errs.New(errs.InvalidArgument, "color must be #rrggbb or rgba(r,g,b,a)")
	}
	if !c.owned.Contains(id) {
		return errs.New(errs.PermissionDenied, "not the owner of note "+id)
	}

	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return errs.New(errs.NotFound, "unknown note "+id)
	}
	confirmed := c.notes[i]
	c.notes[i].Color = color
	emit := c.emitLocked()
	c.mu.Unlock()
	emit()

	if err := c.store.Update(ctx, id, NotePatch{Color: ptr(color)}); err != nil {
		c.revert(id, confirmed)
		c.advise("recoloring the note failed, change undone", err)
		return err
	}
	return nil
}

// Remove deletes an owned note. The note leaves the list optimistically and
// comes back if the delete fails.
func (c *Controller) Remove(ctx context.Context, id string) error {
	if !c.owned.Contains(id) {
		return errs.New(errs.PermissionDenied, "not the owner of note "+id)
	}

	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return errs.New(errs.NotFound, "unknown note "+id)
	}
	removed := c.notes[i]
	c.notes = append(c.notes[:i:i], c.notes[i+1:]...)
	delete(c.gestures, id)
	emit := c.emitLocked()
	c.mu.Unlock()
	emit()

	if err := c.store.Delete(ctx, id); err != nil {
		c.mu.Lock()
		c.mergeLocked(removed)
		emit := c.emitLocked()
		c.mu.Unlock()
		emit()
		c.advise("deleting the note failed, it is back", err)
		return err
	}
	c.owned.Remove(id)
	return nil
}

// Compose inserts a new note and claims ownership of it. A draft without a
// position spawns at a random spot in the visible range. The new note
// appends to the list, so it renders on top.
func (c *Controller) Compose(ctx context.Context, draft NoteDraft) (Note, error) {
	if draft.Kind == "" {
		draft.Kind = KindText
	}
	if !draft.Kind.Valid() {
		return Note{}, errs.New(errs.InvalidArgument, "unknown note kind "+string(draft.Kind))
	}
	if draft.X == nil || draft.Y == nil {
		c.mu.Lock()
		x, y := SpawnPosition(c.rng)
		c.mu.Unlock()
		draft.X, draft.Y = &x, &y
	}

	note, err := c.store.Insert(ctx, draft)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	c.owned.Add(note.ID)

	c.mu.Lock()
	c.mergeLocked(note)
	emit := c.emitLocked()
	c.mu.Unlock()
	emit()
	return note, nil
}

// ApplyEvent folds one change-feed event into the list. Last write wins,
// with one exception: a note that is mid-gesture locally keeps its transient
// value, and the gesture-end write supersedes the remote change. Duplicate
// and out-of-order events are tolerated.
func (c *Controller) ApplyEvent(event Event) {
	id := event.NoteID()
	if id == "" {
		return
	}

	c.mu.Lock()
	switch event.Type {
	case EventDelete:
		i := c.indexLocked(id)
		if i < 0 {
			c.mu.Unlock()
			return
		}
		c.notes = append(c.notes[:i:i], c.notes[i+1:]...)
		delete(c.gestures, id)
		emit := c.emitLocked()
		c.mu.Unlock()
		emit()
		c.owned.Remove(id)
	case EventInsert, EventUpdate:
		if event.New == nil {
			c.mu.Unlock()
			return
		}
		if _, active := c.gestures[id]; active {
			c.mu.Unlock()
			return
		}
		c.mergeLocked(*event.New)
		emit := c.emitLocked()
		c.mu.Unlock()
		emit()
	default:
		c.mu.Unlock()
	}
}
