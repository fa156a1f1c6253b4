package board

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corkboard-app/corkboard/internal/errs"
)

// fakeStore implements Store in memory and counts every call, so tests can
// assert which operations hit the network path.
type fakeStore struct {
	mu      sync.Mutex
	notes   []Note
	nextID  int
	updates []NotePatch
	inserts []NoteDraft
	deletes []string

	failUpdate error
	failDelete error
}

func (s *fakeStore) seed(notes ...Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, notes...)
}

func (s *fakeStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes), nil
}

func (s *fakeStore) FetchPage(_ context.Context, page, size int) ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := page * size
	if start >= len(s.notes) {
		return nil, nil
	}
	end := start + size
	if end > len(s.notes) {
		end = len(s.notes)
	}
	return append([]Note(nil), s.notes[start:end]...), nil
}

func (s *fakeStore) Insert(_ context.Context, draft NoteDraft) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, draft)
	s.nextID++
	note := Note{
		ID:        string(rune('a'+s.nextID-1)) + "-inserted",
		Content:   draft.Content,
		Author:    draft.Author,
		Color:     draft.Color,
		Kind:      draft.Kind,
		MediaURL:  draft.MediaURL,
		Width:     DefaultNoteSize,
		Height:    DefaultNoteSize,
		CreatedAt: time.Now(),
	}
	if draft.X != nil {
		note.X = *draft.X
	}
	if draft.Y != nil {
		note.Y = *draft.Y
	}
	s.notes = append(s.notes, note)
	return note, nil
}

func (s *fakeStore) Update(_ context.Context, id string, patch NotePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate != nil {
		return s.failUpdate
	}
	s.updates = append(s.updates, patch)
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete != nil {
		return s.failDelete
	}
	s.deletes = append(s.deletes, id)
	return nil
}

func (s *fakeStore) writeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates) + len(s.deletes)
}

// fakeOwnership is an in-memory Ownership with no persistence.
type fakeOwnership struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newFakeOwnership(ids ...string) *fakeOwnership {
	o := &fakeOwnership{ids: make(map[string]struct{})}
	for _, id := range ids {
		o.ids[id] = struct{}{}
	}
	return o
}

func (o *fakeOwnership) Add(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.ids[id]; ok {
		return false
	}
	o.ids[id] = struct{}{}
	return true
}

func (o *fakeOwnership) Remove(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.ids[id]; !ok {
		return false
	}
	delete(o.ids, id)
	return true
}

func (o *fakeOwnership) Contains(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.ids[id]
	return ok
}

func testNote(id string, created time.Time) Note {
	return Note{
		ID: id, Content: "note " + id, Author: "someone", Kind: KindText,
		X: 10, Y: 20, Width: DefaultNoteSize, Height: DefaultNoteSize,
		CreatedAt: created,
	}
}

func ids(notes []Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.ID
	}
	return out
}

func TestLoadOrdersOwnedNotesOnTop(t *testing.T) {
	t.Parallel()
	base := time.Now()
	backend := &fakeStore{}
	backend.seed(
		testNote("f1", base),
		testNote("f2", base.Add(time.Second)),
		testNote("f3", base.Add(2*time.Second)),
	)
	owned := newFakeOwnership()
	ctrl := NewController(backend, owned, ControllerConfig{})

	mine, err := ctrl.Compose(context.Background(), NoteDraft{Content: "mine", Author: "me"})
	require.NoError(t, err)
	require.NoError(t, ctrl.Load(context.Background()))

	got := ids(ctrl.Notes())
	require.Len(t, got, 4)
	require.Equal(t, mine.ID, got[3], "the locally created note must render last")
	require.Equal(t, []string{"f1", "f2", "f3"}, got[:3], "foreign notes keep fetch order")
}

func TestLoadMergesPagesIncrementally(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	base := time.Now()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		backend.seed(testNote(id, base))
	}
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{PageSize: 2})

	var sizes []int
	ctrl.OnChange(func(notes []Note) { sizes = append(sizes, len(notes)) })
	require.NoError(t, ctrl.Load(context.Background()))

	// Reset, then one change per page, then the ordering pass.
	require.Equal(t, []int{0, 2, 4, 5, 5}, sizes)
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(ctrl.Notes()))
}

func TestLoadCapsPageCount(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	base := time.Now()
	for i := 0; i < 10; i++ {
		backend.seed(testNote(string(rune('a'+i)), base))
	}
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{PageSize: 2, MaxPages: 3})
	require.NoError(t, ctrl.Load(context.Background()))
	require.Len(t, ctrl.Notes(), 6)
}

func TestActivateMovesNoteToTop(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	base := time.Now()
	backend.seed(testNote("a", base), testNote("b", base), testNote("c", base))
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))

	ctrl.Activate("a")
	require.Equal(t, []string{"b", "c", "a"}, ids(ctrl.Notes()))

	// Activation is not persisted.
	require.Zero(t, backend.writeCalls())
}

func TestDragIssuesSingleWriteWithFinalPosition(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	backend.seed(testNote("n", time.Now()))
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))
	ctrl.SetViewport(Viewport{PanX: 100, PanY: 50, Zoom: 2})

	require.NoError(t, ctrl.BeginDrag("n", 300, 300))
	for i := 1; i <= 10; i++ {
		ctrl.DragTo("n", 300+float64(i*4), 300+float64(i*2))
	}
	require.Zero(t, backend.writeCalls(), "move ticks must not hit the store")

	require.NoError(t, ctrl.EndDrag(context.Background(), "n"))
	require.Len(t, backend.updates, 1)

	// Screen delta (40, 20) at zoom 2 is canvas delta (20, 10).
	patch := backend.updates[0]
	require.Equal(t, 30.0, *patch.X)
	require.Equal(t, 30.0, *patch.Y)

	note := ctrl.Notes()[0]
	require.Equal(t, 30.0, note.X)
	require.Equal(t, 30.0, note.Y)
}

func TestFailedGestureWriteRevertsOptimisticValue(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	backend.seed(testNote("n", time.Now()))
	backend.failUpdate = errors.New("backend down")
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))

	var advisories []Advisory
	ctrl.OnAdvisory(func(a Advisory) { advisories = append(advisories, a) })

	require.NoError(t, ctrl.BeginDrag("n", 0, 0))
	ctrl.DragTo("n", 500, 500)
	require.Error(t, ctrl.EndDrag(context.Background(), "n"))

	note := ctrl.Notes()[0]
	require.Equal(t, 10.0, note.X, "position must revert to the confirmed value")
	require.Equal(t, 20.0, note.Y)
	require.Len(t, advisories, 1)
}

func TestRotationPersistsRounded(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	backend.seed(testNote("n", time.Now()))
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))

	require.NoError(t, ctrl.BeginRotate("n"))
	ctrl.RotateTo("n", 44.6)
	require.NoError(t, ctrl.EndRotate(context.Background(), "n"))
	require.Len(t, backend.updates, 1)
	require.Equal(t, 45, *backend.updates[0].Rotation)

	require.NoError(t, ctrl.BeginRotate("n"))
	ctrl.RotateTo("n", -0.4)
	require.NoError(t, ctrl.EndRotate(context.Background(), "n"))
	require.Equal(t, 0, *backend.updates[1].Rotation)
}

func TestResizeClampsToMinimum(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	backend.seed(testNote("n", time.Now()))
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))

	require.NoError(t, ctrl.BeginResize("n", 0, 0))
	ctrl.ResizeTo("n", -10000, -10000)
	require.NoError(t, ctrl.EndResize(context.Background(), "n"))

	require.Equal(t, float64(minNoteSize), *backend.updates[0].Width)
	require.Equal(t, float64(minNoteSize), *backend.updates[0].Height)
}

func TestSecondGestureOnSameNoteRejected(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	backend.seed(testNote("n", time.Now()))
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))

	require.NoError(t, ctrl.BeginDrag("n", 0, 0))
	err := ctrl.BeginRotate("n")
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func TestMidGestureEventKeepsTransientValue(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	backend.seed(testNote("n", time.Now()))
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))

	require.NoError(t, ctrl.BeginDrag("n", 0, 0))
	ctrl.DragTo("n", 7, 7)

	remote := testNote("n", time.Now())
	remote.X, remote.Y = 999, 999
	ctrl.ApplyEvent(Event{Type: EventUpdate, New: &remote})

	note := ctrl.Notes()[0]
	require.Equal(t, 17.0, note.X, "remote change must not clobber the active gesture")

	require.NoError(t, ctrl.EndDrag(context.Background(), "n"))
	ctrl.ApplyEvent(Event{Type: EventUpdate, New: &remote})
	require.Equal(t, 999.0, ctrl.Notes()[0].X, "after gesture end a newer remote change wins")
}

func TestRefreshKeepsTransientValueMidGesture(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	backend.seed(testNote("n", time.Now()))
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))

	require.NoError(t, ctrl.BeginDrag("n", 0, 0))
	ctrl.DragTo("n", 100, 100)

	// A throttled full refresh is the fallback delivery path for change
	// notifications; like a direct event it defers to the gesture.
	require.NoError(t, ctrl.Load(context.Background()))

	note := ctrl.Notes()[0]
	require.Equal(t, 110.0, note.X, "refresh must not clobber the active gesture")
	require.Equal(t, 120.0, note.Y)

	require.NoError(t, ctrl.EndDrag(context.Background(), "n"))
	require.Len(t, backend.updates, 1)
	require.Equal(t, 110.0, *backend.updates[0].X, "the transient value is what gets persisted")

	require.NoError(t, ctrl.Load(context.Background()))
	require.Equal(t, 10.0, ctrl.Notes()[0].X, "after gesture end the server value wins again")
}

func TestDeleteEventRemovesNoteAndOwnership(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	base := time.Now()
	backend.seed(testNote("a", base), testNote("b", base))
	owned := newFakeOwnership("a", "b")
	ctrl := NewController(backend, owned, ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))

	gone := testNote("b", base)
	ctrl.ApplyEvent(Event{Type: EventDelete, Old: &gone})

	require.Equal(t, []string{"a"}, ids(ctrl.Notes()))
	require.True(t, owned.Contains("a"))
	require.False(t, owned.Contains("b"))

	// Duplicate delivery is a no-op.
	ctrl.ApplyEvent(Event{Type: EventDelete, Old: &gone})
	require.Equal(t, []string{"a"}, ids(ctrl.Notes()))
}

func TestInsertEventAddsUnknownNote(t *testing.T) {
	t.Parallel()
	ctrl := NewController(&fakeStore{}, newFakeOwnership(), ControllerConfig{})

	fresh := testNote("new", time.Now())
	ctrl.ApplyEvent(Event{Type: EventInsert, New: &fresh})
	require.Equal(t, []string{"new"}, ids(ctrl.Notes()))

	// An update without a payload carries nothing to merge.
	ctrl.ApplyEvent(Event{Type: EventUpdate})
	require.Equal(t, []string{"new"}, ids(ctrl.Notes()))
}

func TestUnownedEditRejectedWithoutNetworkCall(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	backend.seed(testNote("theirs", time.Now()))
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))

	err := ctrl.SetColor(context.Background(), "theirs", "#aabbcc")
	require.Equal(t, errs.PermissionDenied, errs.CodeOf(err))

	err = ctrl.Remove(context.Background(), "theirs")
	require.Equal(t, errs.PermissionDenied, errs.CodeOf(err))

	require.Zero(t, backend.writeCalls(), "gated edits must fail before the store")
	require.Len(t, ctrl.Notes(), 1)
}

func TestStrictGesturesGateDragByOwnership(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	backend.seed(testNote("theirs", time.Now()), testNote("mine", time.Now()))
	ctrl := NewController(backend, newFakeOwnership("mine"), ControllerConfig{StrictGestures: true})
	require.NoError(t, ctrl.Load(context.Background()))

	err := ctrl.BeginDrag("theirs", 0, 0)
	require.Equal(t, errs.PermissionDenied, errs.CodeOf(err))
	require.NoError(t, ctrl.BeginDrag("mine", 0, 0))
}

func TestSetColorValidatesAndReverts(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	note := testNote("n", time.Now())
	note.Color = "#111111"
	backend.seed(note)
	ctrl := NewController(backend, newFakeOwnership("n"), ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))

	err := ctrl.SetColor(context.Background(), "n", "chartreuse")
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))

	backend.failUpdate = errors.New("backend down")
	require.Error(t, ctrl.SetColor(context.Background(), "n", "#22cc44"))
	require.Equal(t, "#111111", ctrl.Notes()[0].Color, "failed recolor must revert")

	backend.failUpdate = nil
	require.NoError(t, ctrl.SetColor(context.Background(), "n", "#22cc44"))
	require.Equal(t, "#22cc44", ctrl.Notes()[0].Color)
}

func TestRemoveFailureRestoresNote(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	backend.seed(testNote("n", time.Now()))
	backend.failDelete = errors.New("backend down")
	owned := newFakeOwnership("n")
	ctrl := NewController(backend, owned, ControllerConfig{})
	require.NoError(t, ctrl.Load(context.Background()))

	require.Error(t, ctrl.Remove(context.Background(), "n"))
	require.Equal(t, []string{"n"}, ids(ctrl.Notes()), "failed delete must restore the note")
	require.True(t, owned.Contains("n"))

	backend.failDelete = nil
	require.NoError(t, ctrl.Remove(context.Background(), "n"))
	require.Empty(t, ctrl.Notes())
	require.False(t, owned.Contains("n"))
}

func TestComposeEndToEnd(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	owned := newFakeOwnership()
	ctrl := NewController(backend, owned, ControllerConfig{
		Rand: rand.New(rand.NewSource(42)),
	})

	note, err := ctrl.Compose(context.Background(), NoteDraft{
		Content: "Happy Birthday!",
		Author:  "Sam",
	})
	require.NoError(t, err)

	require.Len(t, backend.inserts, 1)
	draft := backend.inserts[0]
	require.Equal(t, "Happy Birthday!", draft.Content)
	require.Equal(t, "Sam", draft.Author)
	require.Equal(t, KindText, draft.Kind)
	require.GreaterOrEqual(t, *draft.X, SpawnMin)
	require.Less(t, *draft.X, SpawnMax)
	require.GreaterOrEqual(t, *draft.Y, SpawnMin)
	require.Less(t, *draft.Y, SpawnMax)

	require.True(t, owned.Contains(note.ID))
	require.Equal(t, []string{note.ID}, ids(ctrl.Notes()))
}

type stubGenerator struct {
	url string
	err error

	prompts []string
	styles  []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt, style string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	g.styles = append(g.styles, style)
	return g.url, g.err
}

func TestComposeMemeEmbedsStyleSuffix(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	gen := &stubGenerator{url: "https://img.example/meme.png"}
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{Generator: gen})

	note, err := ctrl.ComposeMeme(context.Background(), "cat in a hat", "noir", "Sam")
	require.NoError(t, err)
	require.Equal(t, KindMeme, note.Kind)
	require.Equal(t, "https://img.example/meme.png", note.MediaURL)
	require.Equal(t, "cat in a hat (Style: noir)", note.Content)
	require.Equal(t, []string{"cat in a hat"}, gen.prompts)
	require.Equal(t, []string{"noir"}, gen.styles)
}

func TestComposeMemeGenerationFailureNeverInserts(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	gen := &stubGenerator{err: errs.New(errs.GenerationFailed, "no image today")}
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{Generator: gen})

	_, err := ctrl.ComposeMeme(context.Background(), "cat", "noir", "Sam")
	require.Equal(t, errs.GenerationFailed, errs.CodeOf(err))
	require.Empty(t, backend.inserts)
}

func TestComposeImageFallsBackToDataURL(t *testing.T) {
	t.Parallel()
	backend := &fakeStore{}
	ctrl := NewController(backend, newFakeOwnership(), ControllerConfig{})

	note, err := ctrl.ComposeImage(context.Background(), "holiday pic", "Sam", "image/png", []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, KindImage, note.Kind)
	require.Equal(t, "data:image/png;base64,AQID", note.MediaURL)
}
