package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corkboard-app/corkboard/internal/board"
	"github.com/corkboard-app/corkboard/internal/errs"
	"github.com/corkboard-app/corkboard/internal/retry"
)

// fakeBackend counts calls and can be scripted to fail.
type fakeBackend struct {
	notes      []board.Note
	fetchCalls int
	countCalls int
	failWith   error
	failReads  bool
	inserted   []board.NoteDraft
	updated    map[string]board.NotePatch
	deleted    []string
}

func newFakeBackend(notes ...board.Note) *fakeBackend {
	return &fakeBackend{notes: notes, updated: make(map[string]board.NotePatch)}
}

func (f *fakeBackend) FetchPage(_ context.Context, page, size int) ([]board.Note, error) {
	f.fetchCalls++
	if f.failReads && f.failWith != nil {
		return nil, f.failWith
	}
	start := page * size
	if start >= len(f.notes) {
		return nil, nil
	}
	end := start + size
	if end > len(f.notes) {
		end = len(f.notes)
	}
	return f.notes[start:end], nil
}

func (f *fakeBackend) Count(context.Context) (int, error) {
	f.countCalls++
	if f.failReads && f.failWith != nil {
		return 0, f.failWith
	}
	return len(f.notes), nil
}

func (f *fakeBackend) Insert(_ context.Context, draft board.NoteDraft) (board.Note, error) {
	if f.failWith != nil && !f.failReads {
		return board.Note{}, f.failWith
	}
	f.inserted = append(f.inserted, draft)
	note := board.Note{
		ID:        "srv-" + draft.Content,
		Content:   draft.Content,
		Author:    draft.Author,
		Color:     draft.Color,
		Kind:      draft.Kind,
		Width:     board.DefaultNoteSize,
		Height:    board.DefaultNoteSize,
		CreatedAt: time.Now(),
	}
	if draft.X != nil {
		note.X = *draft.X
	}
	if draft.Y != nil {
		note.Y = *draft.Y
	}
	f.notes = append(f.notes, note)
	return note, nil
}

func (f *fakeBackend) Update(_ context.Context, id string, patch board.NotePatch) error {
	if f.failWith != nil && !f.failReads {
		return f.failWith
	}
	f.updated[id] = patch
	return nil
}

func (f *fakeBackend) Delete(_ context.Context, id string) error {
	if f.failWith != nil && !f.failReads {
		return f.failWith
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func testGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Policy: retry.Policy{
			MaxAttempts: 3,
			BaseTimeout: 50 * time.Millisecond,
			TimeoutCap:  100 * time.Millisecond,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
		PageTTL:  time.Minute,
		CountTTL: time.Minute,
	}
}

func TestGatewayReadsAreCached(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(board.Note{ID: "a"}, board.Note{ID: "b"})
	g := NewGateway(backend, testGatewayConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		notes, err := g.FetchPage(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, notes, 2)

		count, err := g.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, count)
	}

	require.Equal(t, 1, backend.fetchCalls, "page served from backend instead of cache")
	require.Equal(t, 1, backend.countCalls, "count served from backend instead of cache")
}

func TestGatewayWritesInvalidateCaches(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(board.Note{ID: "a"})
	g := NewGateway(backend, testGatewayConfig())
	ctx := context.Background()

	_, err := g.Count(ctx)
	require.NoError(t, err)
	_, err = g.FetchPage(ctx, 0, 10)
	require.NoError(t, err)

	_, err = g.Insert(ctx, board.NoteDraft{Content: "new", Kind: board.KindText})
	require.NoError(t, err)

	count, err := g.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count, "stale count after insert")
	require.Equal(t, 2, backend.countCalls)

	_, err = g.FetchPage(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 2, backend.fetchCalls, "page cache not swept by write")
}

func TestGatewayRetriesTransientReadFailures(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.failReads = true
	backend.failWith = &HTTPError{StatusCode: 503, Message: "overloaded"}
	g := NewGateway(backend, testGatewayConfig())

	_, err := g.Count(context.Background())
	require.Error(t, err)
	require.Equal(t, errs.Unavailable, errs.CodeOf(err))
	require.Equal(t, 3, backend.countCalls, "transient failure not retried to exhaustion")
}

func TestGatewayDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.failWith = &HTTPError{StatusCode: 403, Message: "forbidden"}
	g := NewGateway(backend, testGatewayConfig())

	err := g.Update(context.Background(), "n1", board.NotePatch{X: board.Float64Ptr(1)})
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, 403, httpErr.StatusCode)
}

func TestGatewayEmptyPatchIsNoop(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.failWith = &HTTPError{StatusCode: 500}
	g := NewGateway(backend, testGatewayConfig())

	require.NoError(t, g.Update(context.Background(), "n1", board.NotePatch{}))
}

func TestGatewayDeleteInvalidatesCount(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(board.Note{ID: "a"})
	g := NewGateway(backend, testGatewayConfig())
	ctx := context.Background()

	_, err := g.Count(ctx)
	require.NoError(t, err)

	require.NoError(t, g.Delete(ctx, "a"))
	require.Equal(t, []string{"a"}, backend.deleted)

	_, err = g.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, backend.countCalls)
}
