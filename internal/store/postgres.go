package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/corkboard-app/corkboard/internal/board"
	"github.com/corkboard-app/corkboard/internal/obs"
)

const (
	postgresNotesTable     = "corkboard_notes"
	postgresNotifyChannel  = "corkboard_notes"
	postgresListenMinDelay = time.Second
	postgresListenMaxDelay = 30 * time.Second
	postgresNotifyBacklog  = 16
)

// PostgresStore is the direct-database backend for self-hosted boards. Its
// change feed rides LISTEN/NOTIFY on a per-row trigger, so a separate
// realtime service is not needed.
type PostgresStore struct {
	dsn string
	log *slog.Logger

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

var _ Store = (*PostgresStore)(nil)
var _ Feed = (*PostgresStore)(nil)

// NewPostgresStore creates a backend for the given DSN. The connection and
// schema are established lazily on first use.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	return &PostgresStore{dsn: dsn, log: obs.Pkg("store")}, nil
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := sql.Open("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		if err := s.migrate(db); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
			content TEXT NOT NULL DEFAULT '',
			x DOUBLE PRECISION NOT NULL DEFAULT 0,
			y DOUBLE PRECISION NOT NULL DEFAULT 0,
			author TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '#ffd966',
			kind TEXT NOT NULL DEFAULT 'text',
			media_url TEXT,
			width DOUBLE PRECISION,
			height DOUBLE PRECISION,
			rotation INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, postgresNotesTable),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION corkboard_notify_note_change() RETURNS trigger AS $$
		DECLARE
			payload JSON;
		BEGIN
			payload = json_build_object(
				'type', TG_OP,
				'new', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
				'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END
			);
			PERFORM pg_notify('%s', payload::text);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`, postgresNotifyChannel),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS corkboard_notes_notify ON %s`, postgresNotesTable),
		fmt.Sprintf(`CREATE TRIGGER corkboard_notes_notify
			AFTER INSERT OR UPDATE OR DELETE ON %s
			FOR EACH ROW EXECUTE FUNCTION corkboard_notify_note_change()`, postgresNotesTable),
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

const postgresNoteColumns = "id, content, x, y, author, color, kind, media_url, width, height, rotation, created_at"

func scanNote(scanner interface{ Scan(...any) error }) (board.Note, error) {
	var row Row
	var mediaURL sql.NullString
	var width, height sql.NullFloat64
	var rotation sql.NullInt64
	err := scanner.Scan(&row.ID, &row.Content, &row.X, &row.Y, &row.Author,
		&row.Color, &row.Kind, &mediaURL, &width, &height, &rotation, &row.CreatedAt)
	if err != nil {
		return board.Note{}, err
	}
	if mediaURL.Valid {
		row.MediaURL = &mediaURL.String
	}
	if width.Valid {
		row.Width = &width.Float64
	}
	if height.Valid {
		row.Height = &height.Float64
	}
	if rotation.Valid {
		r := int(rotation.Int64)
		row.Rotation = &r
	}
	return row.Note(), nil
}

func (s *PostgresStore) FetchPage(ctx context.Context, page, size int) ([]board.Note, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at, id LIMIT $1 OFFSET $2",
		postgresNoteColumns, postgresNotesTable)
	rows, err := s.db.QueryContext(ctx, query, size, page*size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []board.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", postgresNotesTable)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) Insert(ctx context.Context, draft board.NoteDraft) (board.Note, error) {
	if err := s.ensureReady(); err != nil {
		return board.Note{}, err
	}
	var x, y float64
	if draft.X != nil {
		x = *draft.X
	}
	if draft.Y != nil {
		y = *draft.Y
	}
	var mediaURL any
	if draft.MediaURL != "" {
		mediaURL = draft.MediaURL
	}
	query := fmt.Sprintf(`INSERT INTO %s (content, x, y, author, color, kind, media_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING %s`,
		postgresNotesTable, postgresNoteColumns)
	return scanNote(s.db.QueryRowContext(ctx, query,
		draft.Content, x, y, draft.Author, draft.Color, string(draft.Kind), mediaURL))
}

func (s *PostgresStore) Update(ctx context.Context, id string, patch board.NotePatch) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	fields := patchFields(patch, false)
	if len(fields) == 0 {
		return nil
	}
	assignments := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, column := range []string{"x", "y", "color", "width", "height", "rotation"} {
		value, ok := fields[column]
		if !ok {
			continue
		}
		args = append(args, value)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		postgresNotesTable, strings.Join(assignments, ", "), len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return &HTTPError{StatusCode: 404, Message: "note not found"}
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", postgresNotesTable)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type postgresSubscription struct {
	listener *pq.Listener
	cancel   context.CancelFunc
	once     sync.Once
	done     chan struct{}
}

func (s *postgresSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.listener.Close()
		<-s.done
	})
	return err
}

// Subscribe opens a LISTEN channel and delivers matching note mutations to
// fn until the subscription is closed. Filtering happens client-side; the
// notify payload carries the full row, so no refetch is needed.
func (s *PostgresStore) Subscribe(ctx context.Context, filter Filter, fn func(board.Event)) (Subscription, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	listener := pq.NewListener(s.dsn, postgresListenMinDelay, postgresListenMaxDelay,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				s.log.Warn("postgres listener event", "event", int(event), "error", err)
			}
		})
	if err := listener.Listen(postgresNotifyChannel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	// The subscription outlives the subscribe call's context; only Close
	// tears it down.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sub := &postgresSubscription{
		listener: listener,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	filter = filter.Canonical()
	wanted := make(map[string]struct{}, len(filter.IDs))
	for _, id := range filter.IDs {
		wanted[id] = struct{}{}
	}

	// fn runs off the notify goroutine. A handler may close this
	// subscription (a delete of an owned note changes the filter), and
	// Close waits for the notify loop to exit.
	events := make(chan board.Event, postgresNotifyBacklog)
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case event := <-events:
				fn(event)
			}
		}
	}()

	go func() {
		defer close(sub.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case notification, ok := <-listener.Notify:
				if !ok {
					return
				}
				if notification == nil {
					// Reconnect marker from pq; nothing to deliver.
					continue
				}
				event, ok := DecodeEvent([]byte(notification.Extra))
				if !ok {
					s.log.Warn("dropping malformed notify payload")
					continue
				}
				if !matches(event, filter, wanted) {
					continue
				}
				select {
				case events <- event:
				case <-runCtx.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

// matches applies the subscription's filter expression client-side: an
// inserts-only filter passes INSERT events, an id-scoped filter passes only
// mutations of those ids.
func matches(event board.Event, filter Filter, wanted map[string]struct{}) bool {
	if filter.InsertsOnly() {
		return event.Type == board.EventInsert
	}
	_, ok := wanted[event.NoteID()]
	return ok
}
