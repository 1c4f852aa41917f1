// Package session is the tab-scoped session cache of the desk. It bridges
// page navigations: one row per tab holds the active-document group, the
// tab's credential and the pending list invalidation triple.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/eringen/draftdesk/document"
)

var (
	// ErrLeaseLost is returned when the tab entered the editor again (for
	// example from a second browser tab sharing the session) after the
	// caller's lease was minted.
	ErrLeaseLost = errors.New("session: editor lease superseded")
	// ErrNoActive is returned when a save targets a tab without an active document.
	ErrNoActive = errors.New("session: no active document")
)

// activeColumns is the active-document group. EnterEditor populates exactly
// these columns and LeaveEditor clears exactly these columns.
var activeColumns = []string{"document_id", "version", "filename", "snapshot"}

// Active is the active-document pointer of a tab.
type Active struct {
	DocumentID string // empty until the first save
	Version    int
	Filename   string
	Snapshot   string
}

// Triple is the persisted staleness signal, one bit per status.
type Triple = document.Triple

// Store wraps a SQLite database holding one row per tab.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes every write transaction
}

// NewStore opens (or creates) the SQLite database at path and ensures the
// schema exists. Use ":memory:" for a throwaway store.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		db.Close()
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and makes the
	// store's reads observe every committed write immediately.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS tabs (
    tab_id TEXT PRIMARY KEY,
    credential TEXT,
    status TEXT,
    lease TEXT,
    document_id TEXT,
    version INTEGER,
    filename TEXT,
    snapshot TEXT,
    stale_draft INTEGER NOT NULL DEFAULT 0,
    stale_published INTEGER NOT NULL DEFAULT 0,
    stale_archive INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);
`)
	return err
}

// NewTabID mints an identifier for a fresh tab.
func NewTabID() string {
	return uuid.NewString()
}

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

// ensureTab inserts an empty row for tab when none exists.
func ensureTab(ctx context.Context, tx *sql.Tx, tab string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tabs (tab_id, updated_at) VALUES (?, ?)`, tab, now())
	return err
}

// write runs fn in a serialized transaction against an existing tab row.
func (s *Store) write(ctx context.Context, tab string, fn func(tx *sql.Tx) error) error {
	if tab == "" {
		return errors.New("session: empty tab id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := ensureTab(ctx, tx, tab); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// EnterEditor populates the active-document group of tab and mints a new
// editor lease. It is the only way the group gets populated from outside the
// save path.
func (s *Store) EnterEditor(ctx context.Context, tab string, a Active) (string, error) {
	lease := uuid.NewString()
	sets := make([]string, 0, len(activeColumns)+2)
	for _, col := range activeColumns {
		sets = append(sets, col+" = ?")
	}
	sets = append(sets, "lease = ?", "updated_at = ?")
	args := append(activeArgs(a), lease, now(), tab)
	err := s.write(ctx, tab, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE tabs SET `+strings.Join(sets, ", ")+` WHERE tab_id = ?`, args...)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("session: enter editor: %w", err)
	}
	return lease, nil
}

// LeaveEditor clears exactly the active-document group of tab. Credential,
// status and the invalidation triple are left untouched.
func (s *Store) LeaveEditor(ctx context.Context, tab string) error {
	sets := make([]string, 0, len(activeColumns))
	for _, col := range activeColumns {
		sets = append(sets, col+" = NULL")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE tabs SET `+strings.Join(sets, ", ")+`, updated_at = ? WHERE tab_id = ?`, now(), tab)
	return err
}

func activeArgs(a Active) []any {
	var id any
	if a.DocumentID != "" {
		id = a.DocumentID
	}
	return []any{id, a.Version, a.Filename, a.Snapshot}
}

// Active returns the active-document group of tab. ok is false when the
// group is empty.
func (s *Store) Active(ctx context.Context, tab string) (a Active, ok bool, err error) {
	var id, filename, snapshot sql.NullString
	var version sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT document_id, version, filename, snapshot FROM tabs WHERE tab_id = ?`, tab).
		Scan(&id, &version, &filename, &snapshot)
	if err == sql.ErrNoRows {
		return Active{}, false, nil
	}
	if err != nil {
		return Active{}, false, err
	}
	if !version.Valid {
		return Active{}, false, nil
	}
	return Active{
		DocumentID: id.String,
		Version:    int(version.Int64),
		Filename:   filename.String,
		Snapshot:   snapshot.String,
	}, true, nil
}

// Lease returns the current editor lease of tab.
func (s *Store) Lease(ctx context.Context, tab string) (string, error) {
	var lease sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT lease FROM tabs WHERE tab_id = ?`, tab).Scan(&lease)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}
	return lease.String, nil
}

// CheckLease returns ErrLeaseLost unless lease is the tab's current lease.
func (s *Store) CheckLease(ctx context.Context, tab, lease string) error {
	cur, err := s.Lease(ctx, tab)
	if err != nil {
		return err
	}
	if cur == "" || cur != lease {
		return ErrLeaseLost
	}
	return nil
}

// CommitSave records a successful save: the active-document group is
// replaced by a and the triple is OR-combined with stale, in one
// transaction. The write is refused with ErrLeaseLost when lease is no
// longer the tab's lease and with ErrNoActive when the group was cleared.
func (s *Store) CommitSave(ctx context.Context, tab, lease string, a Active, stale Triple) error {
	sets := make([]string, 0, len(activeColumns))
	for _, col := range activeColumns {
		sets = append(sets, col+" = ?")
	}
	err := s.write(ctx, tab, func(tx *sql.Tx) error {
		var cur sql.NullString
		var version sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT lease, version FROM tabs WHERE tab_id = ?`, tab).Scan(&cur, &version); err != nil {
			return err
		}
		if !cur.Valid || cur.String != lease {
			return ErrLeaseLost
		}
		if !version.Valid {
			return ErrNoActive
		}
		args := append(activeArgs(a), now(), tab)
		if _, err := tx.ExecContext(ctx, `UPDATE tabs SET `+strings.Join(sets, ", ")+`, updated_at = ? WHERE tab_id = ?`, args...); err != nil {
			return err
		}
		return orTriple(ctx, tx, tab, stale)
	})
	if err != nil {
		return fmt.Errorf("session: commit save: %w", err)
	}
	return nil
}

func orTriple(ctx context.Context, tx *sql.Tx, tab string, t Triple) error {
	_, err := tx.ExecContext(ctx, `UPDATE tabs SET
		stale_draft = stale_draft | ?,
		stale_published = stale_published | ?,
		stale_archive = stale_archive | ?,
		updated_at = ?
		WHERE tab_id = ?`, boolInt(t[0]), boolInt(t[1]), boolInt(t[2]), now(), tab)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// MarkStale OR-combines t into the tab's triple.
func (s *Store) MarkStale(ctx context.Context, tab string, t Triple) error {
	return s.write(ctx, tab, func(tx *sql.Tx) error {
		return orTriple(ctx, tx, tab, t)
	})
}

// Triple returns the tab's pending triple without consuming it.
func (s *Store) Triple(ctx context.Context, tab string) (Triple, error) {
	var d, p, a int
	err := s.db.QueryRowContext(ctx, `SELECT stale_draft, stale_published, stale_archive FROM tabs WHERE tab_id = ?`, tab).Scan(&d, &p, &a)
	if err == sql.ErrNoRows {
		return Triple{}, nil
	}
	if err != nil {
		return Triple{}, err
	}
	return Triple{d == 1, p == 1, a == 1}, nil
}

// ConsumeTriple reads the whole triple and clears it in one transaction.
func (s *Store) ConsumeTriple(ctx context.Context, tab string) (Triple, error) {
	var t Triple
	err := s.write(ctx, tab, func(tx *sql.Tx) error {
		var d, p, a int
		if err := tx.QueryRowContext(ctx, `SELECT stale_draft, stale_published, stale_archive FROM tabs WHERE tab_id = ?`, tab).Scan(&d, &p, &a); err != nil {
			return err
		}
		t = Triple{d == 1, p == 1, a == 1}
		_, err := tx.ExecContext(ctx, `UPDATE tabs SET stale_draft = 0, stale_published = 0, stale_archive = 0, updated_at = ? WHERE tab_id = ?`, now(), tab)
		return err
	})
	return t, err
}

// SetCredential stores the tab's bearer credential.
func (s *Store) SetCredential(ctx context.Context, tab, credential string) error {
	return s.write(ctx, tab, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE tabs SET credential = ?, updated_at = ? WHERE tab_id = ?`, credential, now(), tab)
		return err
	})
}

// Credential returns the tab's bearer credential, or "".
func (s *Store) Credential(ctx context.Context, tab string) (string, error) {
	var c sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT credential FROM tabs WHERE tab_id = ?`, tab).Scan(&c)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}
	return c.String, nil
}

// ClearCredential forgets the tab's credential, as on logout or when the
// service reports the session timed out.
func (s *Store) ClearCredential(ctx context.Context, tab string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE tabs SET credential = NULL, updated_at = ? WHERE tab_id = ?`, now(), tab)
	return err
}

// SetStatus remembers the status category the user last browsed.
func (s *Store) SetStatus(ctx context.Context, tab string, st document.Status) error {
	return s.write(ctx, tab, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE tabs SET status = ?, updated_at = ? WHERE tab_id = ?`, string(st), now(), tab)
		return err
	})
}

// Status returns the last browsed status, defaulting to Draft.
func (s *Store) Status(ctx context.Context, tab string) (document.Status, error) {
	var st sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT status FROM tabs WHERE tab_id = ?`, tab).Scan(&st)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}
	if parsed, perr := document.ParseStatus(st.String); perr == nil {
		return parsed, nil
	}
	return document.Draft, nil
}

// Forget drops every key of tab, as when its session timed out.
func (s *Store) Forget(ctx context.Context, tab string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM tabs WHERE tab_id = ?`, tab)
	return err
}

// Prune removes tabs untouched since before cutoff. Every write to a tab
// row counts as a touch.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM tabs WHERE updated_at < ?`, cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
