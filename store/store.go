// Package store keeps a library of named effect images in SQLite.
package store

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
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("rgbvm.store")

var (
	// ErrNotFound indicates the requested effect doesn't exist.
	ErrNotFound = errors.New("effect not found")

	// ErrInvalidName is returned for empty effect names.
	ErrInvalidName = errors.New("effect name must not be empty")
)

// Effect is a stored program.
type Effect struct {
	ID        uuid.UUID
	Name      string
	Image     []byte // Headered or raw image bytes
	Favorite  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store handles SQLite storage for effects.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

const schema = `CREATE TABLE IF NOT EXISTS effects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	image      BLOB NOT NULL,
	favorite   INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Open opens or creates the database at path. The parent directory is
// created as needed; ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened effect store %s", path)
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save inserts an effect or replaces the image of the effect with the same
// name. The favorite flag of an existing effect is kept. The stored record
// is returned.
func (s *Store) Save(ctx context.Context, name string, image []byte) (Effect, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Effect{}, ErrInvalidName
	}
	now := s.now().UnixMilli()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO effects (id, name, image, favorite, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(name) DO UPDATE SET image = excluded.image, updated_at = excluded.updated_at`,
		uuid.New().String(), name, image, now, now,
	)
	if err != nil {
		return Effect{}, fmt.Errorf("saving effect %q: %w", name, err)
	}
	return s.Get(ctx, name)
}

const selectEffect = `SELECT id, name, image, favorite, created_at, updated_at FROM effects`

// Get retrieves an effect by name.
func (s *Store) Get(ctx context.Context, name string) (Effect, error) {
	row := s.db.QueryRowContext(ctx, selectEffect+" WHERE name = ?", name)
	e, err := scanEffect(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Effect{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return Effect{}, fmt.Errorf("querying effect %q: %w", name, err)
	}
	return e, nil
}

// List returns every effect ordered by name.
func (s *Store) List(ctx context.Context) ([]Effect, error) {
	return s.query(ctx, selectEffect+" ORDER BY name")
}

// Favorites returns the favorite effects ordered by name.
func (s *Store) Favorites(ctx context.Context) ([]Effect, error) {
	return s.query(ctx, selectEffect+" WHERE favorite = 1 ORDER BY name")
}

// SetFavorite marks or unmarks an effect.
func (s *Store) SetFavorite(ctx context.Context, name string, favorite bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE effects SET favorite = ?, updated_at = ? WHERE name = ?",
		favorite, s.now().UnixMilli(), name,
	)
	if err != nil {
		return fmt.Errorf("updating effect %q: %w", name, err)
	}
	return requireRow(res, name)
}

// Delete removes an effect.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM effects WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting effect %q: %w", name, err)
	}
	return requireRow(res, name)
}

func (s *Store) query(ctx context.Context, q string) ([]Effect, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing effects: %w", err)
	}
	defer rows.Close()

	var effects []Effect
	for rows.Next() {
		e, err := scanEffect(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning effect: %w", err)
		}
		effects = append(effects, e)
	}
	return effects, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEffect(row scanner) (Effect, error) {
	var (
		e                Effect
		id               string
		created, updated int64
	)
	if err := row.Scan(&id, &e.Name, &e.Image, &e.Favorite, &created, &updated); err != nil {
		return Effect{}, err
	}
	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return Effect{}, fmt.Errorf("effect %q has a malformed id: %w", e.Name, err)
	}
	e.CreatedAt = time.UnixMilli(created)
	e.UpdatedAt = time.UnixMilli(updated)
	return e, nil
}

func requireRow(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}
