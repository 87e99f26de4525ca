// Package history persists clipboard entries and settings in SQLite.
//
// The store runs on a single connection, so every statement and transaction
// is serialized: readers observe either the state before or after a write,
// never a partial one.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so that created_at sorts lexically in
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const clipColumns = `id, content, category, pinned, hash, created_at,
	media_path, thumb_path, mime_type, byte_size, pixel_width, pixel_height`

var validate = validator.New()

// Store wraps the SQLite database holding the history and settings.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) clipvault.db in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "clipvault.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: the detector and user commands share it, which gives
	// single-writer semantics and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := s.seedSettings(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) seedSettings() error {
	d := DefaultSettings()
	denylist, err := json.Marshal(d.Denylist)
	if err != nil {
		return fmt.Errorf("encoding default denylist: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO settings (id, history_limit, tracking_paused, max_clip_bytes, restore_clipboard_after_paste, denylist)
		VALUES (1, ?, 0, ?, 1, ?)`,
		d.HistoryLimit, d.MaxClipBytes, string(denylist),
	)
	if err != nil {
		return fmt.Errorf("seeding settings: %w", err)
	}
	return nil
}

// --- Entries ---

// InsertText stores a non-image entry.
func (s *Store) InsertText(ctx context.Context, content string, category Category, hash string) (Entry, error) {
	if category == CategoryImage {
		return Entry{}, fmt.Errorf("insert text: category %q not allowed", category)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO clips (content, category, pinned, hash, created_at)
		VALUES (?, ?, 0, ?, ?)`,
		content, string(category), hash, s.timestamp(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("inserting text entry: %w", err)
	}
	return s.getInserted(ctx, res)
}

// InsertImage stores an image entry.
func (s *Store) InsertImage(ctx context.Context, img ImageInsert) (Entry, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO clips (content, category, pinned, hash, created_at, media_path, thumb_path, mime_type, byte_size, pixel_width, pixel_height)
		VALUES (?, 'image', 0, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.Content, img.Hash, s.timestamp(), img.MediaPath, img.ThumbPath, img.MIME,
		img.ByteSize, img.Width, img.Height,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("inserting image entry: %w", err)
	}
	return s.getInserted(ctx, res)
}

func (s *Store) getInserted(ctx context.Context, res sql.Result) (Entry, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("reading inserted id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns the entry with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+clipColumns+" FROM clips WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("loading entry %d: %w", id, err)
	}
	return e, nil
}

// Latest returns the most recently created entry, or nil when the history is empty.
func (s *Store) Latest(ctx context.Context) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+clipColumns+" FROM clips ORDER BY created_at DESC, id DESC LIMIT 1")
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest entry: %w", err)
	}
	return &e, nil
}

// List returns a page of entries, pinned first and then newest first. A
// non-empty query filters on a case-insensitive substring of the content.
func (s *Store) List(ctx context.Context, query string, limit, offset int64) (Page, error) {
	limit = max(limit, 1)
	offset = max(offset, 0)

	where := ""
	var args []any
	if q := strings.TrimSpace(query); q != "" {
		where = " WHERE LOWER(content) LIKE ?"
		args = append(args, "%"+strings.ToLower(q)+"%")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clips"+where, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("counting entries: %w", err)
	}

	items, err := s.queryEntries(ctx,
		"SELECT "+clipColumns+" FROM clips"+where+" ORDER BY pinned DESC, created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...,
	)
	if err != nil {
		return Page{}, fmt.Errorf("listing entries: %w", err)
	}

	page := Page{Items: items, Total: total}
	if offset+limit < total {
		next := offset + limit
		page.NextOffset = &next
	}
	return page, nil
}

// ListImages returns up to limit image entries, newest first.
func (s *Store) ListImages(ctx context.Context, limit int64) ([]Entry, error) {
	items, err := s.queryEntries(ctx,
		"SELECT "+clipColumns+" FROM clips WHERE category = 'image' ORDER BY created_at DESC, id DESC LIMIT ?",
		max(limit, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("listing image entries: %w", err)
	}
	return items, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clips").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// SetPinned updates the pinned flag and returns the updated entry.
func (s *Store) SetPinned(ctx context.Context, id int64, pinned bool) (Entry, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE clips SET pinned = ? WHERE id = ?", boolInt(pinned), id)
	if err != nil {
		return Entry{}, fmt.Errorf("updating pin on %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Entry{}, err
	}
	if n == 0 {
		return Entry{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes one entry and returns it.
func (s *Store) Delete(ctx context.Context, id int64) (Entry, error) {
	deleted, err := s.DeleteMany(ctx, []int64{id})
	if err != nil {
		return Entry{}, err
	}
	if len(deleted) == 0 {
		return Entry{}, ErrNotFound
	}
	return deleted[0], nil
}

// DeleteMany removes the given entries in one transaction and returns those
// that existed. Unknown ids are skipped.
func (s *Store) DeleteMany(ctx context.Context, ids []int64) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	deleted := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, err := scanEntry(tx.QueryRowContext(ctx, "SELECT "+clipColumns+" FROM clips WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading entry %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM clips WHERE id = ?", id); err != nil {
			return nil, fmt.Errorf("deleting entry %d: %w", id, err)
		}
		deleted = append(deleted, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing delete: %w", err)
	}
	return deleted, nil
}

// DeleteAll removes every entry, pinned or not, and returns them.
func (s *Store) DeleteAll(ctx context.Context) ([]Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning clear transaction: %w", err)
	}
	defer tx.Rollback()

	deleted, err := queryEntriesTx(ctx, tx, "SELECT "+clipColumns+" FROM clips")
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM clips"); err != nil {
		return nil, fmt.Errorf("deleting entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing clear: %w", err)
	}
	return deleted, nil
}

// Prune enforces the history limit. The limit bounds unpinned entries: when
// more than limit of them exist, the oldest (created_at, then id) overflow are
// removed as a single transaction and returned. Pinned entries are never
// selected and do not count toward the limit, so one pinned entry plus 199
// unpinned ones at limit 100 leaves 101 rows. A limit below one is treated
// as one.
func (s *Store) Prune(ctx context.Context, limit int64) ([]Entry, error) {
	limit = max(limit, 1)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning prune transaction: %w", err)
	}
	defer tx.Rollback()

	var unpinned int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM clips WHERE pinned = 0").Scan(&unpinned); err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	overflow := unpinned - limit
	if overflow <= 0 {
		return nil, nil
	}

	victims, err := queryEntriesTx(ctx, tx,
		"SELECT "+clipColumns+" FROM clips WHERE pinned = 0 ORDER BY created_at ASC, id ASC LIMIT ?",
		overflow,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting entries to prune: %w", err)
	}
	if len(victims) == 0 {
		return nil, nil
	}

	for _, e := range victims {
		if _, err := tx.ExecContext(ctx, "DELETE FROM clips WHERE id = ?", e.ID); err != nil {
			return nil, fmt.Errorf("pruning entry %d: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing prune: %w", err)
	}
	return victims, nil
}

// ReferencedMediaPaths returns every original and thumbnail path referenced
// by a stored entry.
func (s *Store) ReferencedMediaPaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT media_path, thumb_path FROM clips WHERE media_path IS NOT NULL OR thumb_path IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("querying media paths: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var media, thumb sql.NullString
		if err := rows.Scan(&media, &thumb); err != nil {
			return nil, err
		}
		if media.Valid && media.String != "" {
			out[media.String] = struct{}{}
		}
		if thumb.Valid && thumb.String != "" {
			out[thumb.String] = struct{}{}
		}
	}
	return out, rows.Err()
}

// --- Settings ---

// Settings returns the persisted settings.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	var (
		st       Settings
		paused   int
		restore  int
		denylist string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT history_limit, tracking_paused, max_clip_bytes, restore_clipboard_after_paste, denylist
		FROM settings WHERE id = 1`,
	).Scan(&st.HistoryLimit, &paused, &st.MaxClipBytes, &restore, &denylist)
	if err != nil {
		return Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	st.TrackingPaused = paused == 1
	st.RestoreClipboardAfterPaste = restore == 1
	if err := json.Unmarshal([]byte(denylist), &st.Denylist); err != nil {
		st.Denylist = DefaultDenylist()
	}
	if st.Denylist == nil {
		st.Denylist = []string{}
	}
	return st, nil
}

// ValidationError wraps a settings validation failure.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid settings: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// UpdateSettings validates and stores st.
func (s *Store) UpdateSettings(ctx context.Context, st Settings) (Settings, error) {
	if err := validate.Struct(st); err != nil {
		return Settings{}, &ValidationError{Err: err}
	}
	if st.Denylist == nil {
		st.Denylist = []string{}
	}
	denylist, err := json.Marshal(st.Denylist)
	if err != nil {
		return Settings{}, fmt.Errorf("encoding denylist: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE settings SET history_limit = ?, tracking_paused = ?, max_clip_bytes = ?,
			restore_clipboard_after_paste = ?, denylist = ?
		WHERE id = 1`,
		st.HistoryLimit, boolInt(st.TrackingPaused), st.MaxClipBytes,
		boolInt(st.RestoreClipboardAfterPaste), string(denylist),
	)
	if err != nil {
		return Settings{}, fmt.Errorf("updating settings: %w", err)
	}
	return st, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e                   Entry
		category, createdAt string
		pinned              int
		media, thumb, mime  sql.NullString
		size, width, height sql.NullInt64
	)
	if err := r.Scan(&e.ID, &e.Content, &category, &pinned, &e.Hash, &createdAt,
		&media, &thumb, &mime, &size, &width, &height); err != nil {
		return Entry{}, err
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	e.Category = Category(category)
	e.Pinned = pinned == 1
	e.CreatedAt = t
	if e.Category == CategoryImage {
		e.MediaPath = media.String
		e.ThumbPath = thumb.String
		e.MIME = mime.String
		e.ByteSize = size.Int64
		e.Width = int(width.Int64)
		e.Height = int(height.Int64)
	}
	return e, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	return queryEntriesTx(ctx, s.db, query, args...)
}

func queryEntriesTx(ctx context.Context, q querier, query string, args ...any) ([]Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
