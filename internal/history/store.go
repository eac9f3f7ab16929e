package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/manash/uigen/pkg/models"
)

var (
	ErrRecordNotFound = errors.New("history record not found")
	ErrAmbiguousID    = errors.New("id prefix matches more than one record")
)

const schema = `
CREATE TABLE IF NOT EXISTS generations (
    id TEXT PRIMARY KEY,
    remote_session_id TEXT,
    gallery_url TEXT,
    description TEXT NOT NULL,
    framework TEXT NOT NULL,
    styling TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    variation_index INTEGER NOT NULL DEFAULT -1,
    code TEXT,
    error TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_generations_created_at ON generations(created_at);
CREATE INDEX IF NOT EXISTS idx_generations_remote_session_id ON generations(remote_session_id);
`

const recordColumns = `id, remote_session_id, gallery_url, description, framework, styling,
	status, variation_index, code, error, created_at, updated_at`

type Store struct {
	db *sql.DB
}

// DefaultDBPath places the database next to the config file.
func DefaultDBPath(configDir string) string {
	return filepath.Join(configDir, "history.db")
}

// NewStore opens or creates the database at dbPath and applies the schema.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// concurrent tool calls write from separate goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullString(r.RemoteSessionID), nullString(r.GalleryURL), r.Description,
		string(r.Framework), string(r.Styling), string(r.Status), r.VariationIndex,
		nullString(r.Code), nullString(r.Error), r.CreatedAt, r.UpdatedAt)
	return err
}

// Update writes the mutable fields of r. It returns ErrRecordNotFound for an unknown id.
func (s *Store) Update(ctx context.Context, r *Record) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE generations SET remote_session_id = ?, gallery_url = ?, status = ?,
		 variation_index = ?, code = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(r.RemoteSessionID), nullString(r.GalleryURL), string(r.Status),
		r.VariationIndex, nullString(r.Code), nullString(r.Error), r.UpdatedAt, r.ID)
	if err != nil {
		return err
	}
	return requireRow(res, r.ID)
}

// Get returns the record with exactly id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM generations WHERE id = ?`, id)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return r, err
}

// Find resolves a full id or a unique id prefix.
func (s *Store) Find(ctx context.Context, prefix string) (*Record, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, fmt.Errorf("%w: empty id", ErrRecordNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM generations WHERE id LIKE ? ESCAPE '\' LIMIT 2`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, prefix)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousID, prefix)
	}
}

// List returns the newest records first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM generations ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM generations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	r := &Record{}
	var remoteID, galleryURL, code, errText sql.NullString
	var framework, styling, status string
	err := row.Scan(&r.ID, &remoteID, &galleryURL, &r.Description, &framework, &styling,
		&status, &r.VariationIndex, &code, &errText, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.RemoteSessionID = remoteID.String
	r.GalleryURL = galleryURL.String
	r.Code = code.String
	r.Error = errText.String
	r.Framework = models.Framework(framework)
	r.Styling = models.Styling(styling)
	r.Status = Status(status)
	return r, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
