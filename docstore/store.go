package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/eringen/draftdesk/document"
)

var (
	ErrNotFound           = errors.New("docstore: not found")
	ErrVersionConflict    = errors.New("docstore: version conflict")
	ErrDuplicateUser      = errors.New("docstore: user already exists")
	ErrInvalidCredentials = errors.New("docstore: invalid credentials")
	ErrTokenExpired       = errors.New("docstore: token expired")
	ErrUnknownToken       = errors.New("docstore: unknown token")
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store keeps every revision of every document in all_files and the current
// revision of each document, with its status and thumbnail, in latest_files.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (or creates) the SQLite database at path.
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
		PRAGMA foreign_keys=ON;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, now: time.Now}
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
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
    token TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    expires_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS all_files (
    file_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    owner TEXT NOT NULL,
    file_name TEXT NOT NULL,
    project_data TEXT NOT NULL,
    html TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    PRIMARY KEY (file_id, version)
);
CREATE TABLE IF NOT EXISTS latest_files (
    file_id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    version INTEGER NOT NULL,
    file_name TEXT NOT NULL,
    project_data TEXT NOT NULL,
    html TEXT NOT NULL DEFAULT '',
    project_status TEXT NOT NULL DEFAULT 'Draft',
    thumbnail_url TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    edited_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_latest_owner_status ON latest_files(owner, project_status);
`)
	return err
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeFormat)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(timeFormat, v)
	return t
}

// CreateUser registers email with a bcrypt hash of password.
func (s *Store) CreateUser(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		id, email, string(hash), s.stamp())
	if err != nil {
		if isConstraint(err) {
			return "", ErrDuplicateUser
		}
		return "", err
	}
	return id, nil
}

// Authenticate returns the id of the user with email and password.
func (s *Store) Authenticate(ctx context.Context, email, password string) (string, error) {
	var id, hash string
	err := s.db.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&id, &hash)
	if err == sql.ErrNoRows {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return id, nil
}

// IssueToken mints a bearer token for user valid for ttl.
func (s *Store) IssueToken(ctx context.Context, user string, ttl time.Duration) (string, error) {
	token := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	expires := s.now().Add(ttl).UTC().Format(timeFormat)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO tokens (token, user_id, expires_at) VALUES (?, ?, ?)`, token, user, expires); err != nil {
		return "", err
	}
	return token, nil
}

// ResolveToken returns the user owning token.
func (s *Store) ResolveToken(ctx context.Context, token string) (string, error) {
	var user, expires string
	err := s.db.QueryRowContext(ctx, `SELECT user_id, expires_at FROM tokens WHERE token = ?`, token).Scan(&user, &expires)
	if err == sql.ErrNoRows {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", err
	}
	if !s.now().Before(parseTime(expires)) {
		return "", ErrTokenExpired
	}
	return user, nil
}

// PurgeTokens deletes expired tokens.
func (s *Store) PurgeTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at <= ?`, s.stamp())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Revision is one save request.
type Revision struct {
	DocumentID string // empty for the first save
	Version    int
	Name       string
	Project    string
	Markup     string
}

// Save stores rev as a new revision of its document. The requested version
// must be exactly one past the latest stored version (1 for a new
// document); anything else is ErrVersionConflict.
func (s *Store) Save(ctx context.Context, owner string, rev Revision) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := s.stamp()
	id := rev.DocumentID
	if id == "" {
		if rev.Version != 1 {
			return "", fmt.Errorf("%w: new document must start at version 1, got %d", ErrVersionConflict, rev.Version)
		}
		id = ulid.Make().String()
		if _, err := tx.ExecContext(ctx, `INSERT INTO latest_files (file_id, owner, version, file_name, project_data, html, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, id, owner, rev.Version, rev.Name, rev.Project, rev.Markup, now); err != nil {
			return "", err
		}
	} else {
		var latest int
		err := tx.QueryRowContext(ctx, `SELECT version FROM latest_files WHERE file_id = ? AND owner = ?`, id, owner).Scan(&latest)
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		if err != nil {
			return "", err
		}
		if rev.Version != latest+1 {
			return "", fmt.Errorf("%w: requested %d, latest is %d", ErrVersionConflict, rev.Version, latest)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE latest_files SET version = ?, file_name = ?, project_data = ?, html = ?, edited_at = ?
			WHERE file_id = ?`, rev.Version, rev.Name, rev.Project, rev.Markup, now, id); err != nil {
			return "", err
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO all_files (file_id, version, owner, file_name, project_data, html, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, id, rev.Version, owner, rev.Name, rev.Project, rev.Markup, now); err != nil {
		if isConstraint(err) {
			return "", fmt.Errorf("%w: version %d already stored", ErrVersionConflict, rev.Version)
		}
		return "", err
	}
	if err := tx.Commit(); err != nil {
		if isConstraint(err) {
			return "", ErrVersionConflict
		}
		return "", err
	}
	return id, nil
}

// List returns the latest revision of every document of owner with status
// st, most recently edited first.
func (s *Store) List(ctx context.Context, owner string, st document.Status) ([]document.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_id, file_name, version, project_status, thumbnail_url, created_at, COALESCE(edited_at, '')
		FROM latest_files WHERE owner = ? AND project_status = ?
		ORDER BY COALESCE(edited_at, created_at) DESC`, owner, string(st))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []document.Summary{}
	for rows.Next() {
		var sum document.Summary
		var status, created, edited string
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Version, &status, &sum.Thumbnail, &created, &edited); err != nil {
			return nil, err
		}
		sum.Status = document.Status(status)
		sum.CreatedAt = parseTime(created)
		sum.EditedAt = parseTime(edited)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Revisions returns every revision of a document, latest first.
func (s *Store) Revisions(ctx context.Context, owner, id string) ([]document.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_id, file_name, version, project_data, html, created_at
		FROM all_files WHERE file_id = ? AND owner = ? ORDER BY version DESC`, id, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []document.Revision{}
	for rows.Next() {
		var rev document.Revision
		var project, created string
		if err := rows.Scan(&rev.ID, &rev.Name, &rev.Version, &project, &rev.Markup, &created); err != nil {
			return nil, err
		}
		rev.Project = []byte(project)
		rev.CreatedAt = parseTime(created)
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Latest returns the status and version of a document.
func (s *Store) Latest(ctx context.Context, owner, id string) (document.Status, int, error) {
	var st string
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT project_status, version FROM latest_files WHERE file_id = ? AND owner = ?`, id, owner).Scan(&st, &version)
	if err == sql.ErrNoRows {
		return "", 0, ErrNotFound
	}
	return document.Status(st), version, err
}

func (s *Store) updateLatest(ctx context.Context, owner, id, set string, args ...any) error {
	args = append(args, id, owner)
	res, err := s.db.ExecContext(ctx, `UPDATE latest_files SET `+set+` WHERE file_id = ? AND owner = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Rename sets the display name of a document.
func (s *Store) Rename(ctx context.Context, owner, id, name string) error {
	return s.updateLatest(ctx, owner, id, `file_name = ?, edited_at = ?`, name, s.stamp())
}

// SetStatus moves a document to another category.
func (s *Store) SetStatus(ctx context.Context, owner, id string, st document.Status) error {
	if !st.Valid() {
		return fmt.Errorf("docstore: unknown status %q", st)
	}
	return s.updateLatest(ctx, owner, id, `project_status = ?`, string(st))
}

// SetThumbnail records the preview image URL of a document.
func (s *Store) SetThumbnail(ctx context.Context, owner, id, url string) error {
	return s.updateLatest(ctx, owner, id, `thumbnail_url = ?`, url)
}

// Delete removes revisions of a document. With all set, or when version is
// the only revision, the whole document goes. Otherwise the single revision
// is removed and, when it was the latest, the highest remaining revision
// becomes the latest.
func (s *Store) Delete(ctx context.Context, owner, id string, version int, all bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var latest, count int
	err = tx.QueryRowContext(ctx, `SELECT l.version, (SELECT COUNT(*) FROM all_files a WHERE a.file_id = l.file_id)
		FROM latest_files l WHERE l.file_id = ? AND l.owner = ?`, id, owner).Scan(&latest, &count)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if all || count <= 1 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM all_files WHERE file_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM latest_files WHERE file_id = ?`, id); err != nil {
			return err
		}
		return tx.Commit()
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM all_files WHERE file_id = ? AND version = ?`, id, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if version == latest {
		var v int
		var name, project, markup, created string
		err := tx.QueryRowContext(ctx, `SELECT version, file_name, project_data, html, created_at FROM all_files
			WHERE file_id = ? ORDER BY version DESC LIMIT 1`, id).Scan(&v, &name, &project, &markup, &created)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE latest_files SET version = ?, file_name = ?, project_data = ?, html = ?, edited_at = ?
			WHERE file_id = ?`, v, name, project, markup, created, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}
