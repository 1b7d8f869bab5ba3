package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store configuration constants.
const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout is the timeout for verifying connectivity.
	connectionTimeout = 5 * time.Second
)

// ErrControllerNotFound is returned when a controller record does not
// exist.
var ErrControllerNotFound = errors.New("store: controller not found")

// Controller is one configured Z-Wave JS Server record.
type Controller struct {
	Identifier string
	Address    string
	Name       string
	Model      string
	UpdatedAt  time.Time
}

// Config contains store configuration options. These map to the store
// section of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	Path string

	// WALMode enables Write-Ahead Logging for concurrent reads.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a lock (seconds).
	BusyTimeout int
}

// Store persists configured controller records in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS controllers (
	identifier TEXT PRIMARY KEY,
	address    TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	model      TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);
`

// Open creates the store, initialising the schema on first use.
//
// The database directory is created if missing, the file is opened with
// the configured pragmas and the connection is verified with a ping.
func Open(cfg Config) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying store connection: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising store schema: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions)

	return &Store{db: db, path: cfg.Path}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or updates a controller record keyed by identifier.
func (s *Store) Save(ctx context.Context, c Controller) error {
	query := `
		INSERT INTO controllers (identifier, address, name, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			address = excluded.address,
			name = excluded.name,
			model = excluded.model,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		c.Identifier, c.Address, c.Name, c.Model, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving controller %q: %w", c.Identifier, err)
	}
	return nil
}

// Get retrieves one controller record.
// Returns ErrControllerNotFound if no record exists.
func (s *Store) Get(ctx context.Context, identifier string) (*Controller, error) {
	query := `
		SELECT identifier, address, name, model, updated_at
		FROM controllers
		WHERE identifier = ?`

	var c Controller
	err := s.db.QueryRowContext(ctx, query, identifier).Scan(
		&c.Identifier, &c.Address, &c.Name, &c.Model, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrControllerNotFound
		}
		return nil, fmt.Errorf("querying controller %q: %w", identifier, err)
	}
	return &c, nil
}

// List retrieves all controller records ordered by identifier.
func (s *Store) List(ctx context.Context) ([]Controller, error) {
	query := `
		SELECT identifier, address, name, model, updated_at
		FROM controllers
		ORDER BY identifier`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing controllers: %w", err)
	}
	defer rows.Close()

	var controllers []Controller
	for rows.Next() {
		var c Controller
		if err := rows.Scan(&c.Identifier, &c.Address, &c.Name, &c.Model, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning controller: %w", err)
		}
		controllers = append(controllers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating controllers: %w", err)
	}
	return controllers, nil
}

// Remove deletes a controller record.
// Returns ErrControllerNotFound if no record exists.
func (s *Store) Remove(ctx context.Context, identifier string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM controllers WHERE identifier = ?`, identifier)
	if err != nil {
		return fmt.Errorf("removing controller %q: %w", identifier, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking removal of %q: %w", identifier, err)
	}
	if affected == 0 {
		return ErrControllerNotFound
	}
	return nil
}

// Clear deletes every controller record.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM controllers`); err != nil {
		return fmt.Errorf("clearing controllers: %w", err)
	}
	return nil
}
