// Package store persists users, downloads and pipeline outcome events in
// sqlite. The retrieval core never blocks on it: outcome events arrive
// over a channel drained by a background consumer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ttgrab/ttgrab/internal/retriever"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id        INTEGER PRIMARY KEY,
	joined    INTEGER NOT NULL,
	lang      TEXT    NOT NULL DEFAULT 'en',
	file_mode INTEGER NOT NULL DEFAULT 0,
	ref       TEXT
);
CREATE TABLE IF NOT EXISTS downloads (
	user_id INTEGER NOT NULL,
	time    INTEGER NOT NULL,
	link    TEXT    NOT NULL,
	kind    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_time ON downloads(time);
CREATE TABLE IF NOT EXISTS outcomes (
	user_id      INTEGER NOT NULL,
	time         INTEGER NOT NULL,
	canonical_id TEXT,
	status       TEXT    NOT NULL,
	stage        TEXT    NOT NULL,
	error_kind   TEXT,
	duration_ms  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_time ON outcomes(time);
`

// User is one registered chat.
type User struct {
	ID       int64
	Joined   time.Time
	Lang     string
	FileMode bool
	Ref      string
}

// Stats is the aggregate the admin command reports.
type Stats struct {
	Users        int64
	Downloads    int64
	Users24h     int64
	Downloads24h int64
}

// Store wraps the sqlite handle.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite handles one writer at a time; keep the pool at one
	// connection to avoid SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// GetUser returns the user row, or ok=false when unregistered.
func (s *Store) GetUser(ctx context.Context, id int64) (User, bool, error) {
	var u User
	var joined int64
	var fileMode int
	var ref sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, joined, lang, file_mode, ref FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &joined, &u.Lang, &fileMode, &ref)
	if err == sql.ErrNoRows {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("get user %d: %w", id, err)
	}
	u.Joined = time.Unix(joined, 0)
	u.FileMode = fileMode == 1
	u.Ref = ref.String
	return u, true, nil
}

// CreateUser registers a new chat.
func (s *Store) CreateUser(ctx context.Context, id int64, lang, ref string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, joined, lang, ref) VALUES (?, ?, ?, ?)`,
		id, time.Now().Unix(), lang, ref,
	)
	if err != nil {
		return fmt.Errorf("create user %d: %w", id, err)
	}
	return nil
}

// SetLang updates a user's language.
func (s *Store) SetLang(ctx context.Context, id int64, lang string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET lang = ? WHERE id = ?`, lang, id)
	if err != nil {
		return fmt.Errorf("set lang for %d: %w", id, err)
	}
	return nil
}

// SetFileMode updates a user's document-mode preference.
func (s *Store) SetFileMode(ctx context.Context, id int64, fileMode bool) error {
	mode := 0
	if fileMode {
		mode = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET file_mode = ? WHERE id = ?`, mode, id)
	if err != nil {
		return fmt.Errorf("set file mode for %d: %w", id, err)
	}
	return nil
}

// AddDownload records a served download.
func (s *Store) AddDownload(ctx context.Context, userID int64, link string, kind retriever.ContentKind) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO downloads (user_id, time, link, kind) VALUES (?, ?, ?, ?)`,
		userID, time.Now().Unix(), link, kind.String(),
	)
	if err != nil {
		return fmt.Errorf("add download: %w", err)
	}
	return nil
}

// RecordOutcome persists one pipeline outcome event.
func (s *Store) RecordOutcome(ctx context.Context, ev retriever.Event) error {
	var kind *string
	if ev.Kind != retriever.ErrNone {
		k := ev.Kind.String()
		kind = &k
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (user_id, time, canonical_id, status, stage, error_kind, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.UserID, time.Now().Unix(), ev.CanonicalID, ev.Status.String(),
		ev.Stage.String(), kind, ev.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// BotStats aggregates totals plus the trailing 24 hours.
func (s *Store) BotStats(ctx context.Context) (Stats, error) {
	var st Stats
	dayAgo := time.Now().Add(-24 * time.Hour).Unix()

	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM downloads),
			(SELECT COUNT(*) FROM users WHERE joined >= ?),
			(SELECT COUNT(*) FROM downloads WHERE time >= ?)`,
		dayAgo, dayAgo,
	)
	if err := row.Scan(&st.Users, &st.Downloads, &st.Users24h, &st.Downloads24h); err != nil {
		return Stats{}, fmt.Errorf("bot stats: %w", err)
	}
	return st, nil
}

// Consume drains the outcome event stream until ctx is cancelled.
// Persistence failures are logged and dropped; the stream must keep
// moving.
func (s *Store) Consume(ctx context.Context, events <-chan retriever.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.RecordOutcome(ctx, ev); err != nil {
				slog.Error("outcome not persisted", slog.Any("error", err), slog.String("event", ev.String()))
			}
		}
	}
}
