package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"framevault/internal/artifact"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps artifact envelopes as blobs in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the artifact database in dataDir and runs
// pending migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "framevault.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db, path: dsn}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
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

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
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

// Upload writes the artifact envelope in a single upsert. The prior row, if
// any, stays readable if the statement fails.
func (s *SQLiteStore) Upload(ctx context.Context, a *artifact.Artifact) error {
	data, err := artifact.Encode(a)
	if err != nil {
		return fmt.Errorf("encoding artifact %d: %w", a.ItemID, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (item_id, payload, width, height, frame_count, mutation_count, rendered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			payload = excluded.payload,
			width = excluded.width,
			height = excluded.height,
			frame_count = excluded.frame_count,
			mutation_count = excluded.mutation_count,
			rendered_at = excluded.rendered_at,
			updated_at = excluded.updated_at`,
		a.ItemID, data, a.Width, a.Height, len(a.Frames),
		a.MutationCount, a.RenderedAt.UTC().Format(time.RFC3339), now,
	)
	if err != nil {
		return fmt.Errorf("uploading artifact %d: %w", a.ItemID, err)
	}
	return nil
}

func (s *SQLiteStore) Download(ctx context.Context, itemID int64) (*artifact.Artifact, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM artifacts WHERE item_id = ?", itemID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("downloading artifact %d: %w", itemID, err)
	}

	a, err := artifact.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding artifact %d: %w", itemID, err)
	}
	return a, nil
}

// Stat reads the metadata columns only; the payload blob never leaves the
// database.
func (s *SQLiteStore) Stat(ctx context.Context, itemID int64) (*artifact.Meta, error) {
	m := &artifact.Meta{ItemID: itemID}
	var renderedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT width, height, frame_count, mutation_count, rendered_at FROM artifacts WHERE item_id = ?",
		itemID,
	).Scan(&m.Width, &m.Height, &m.FrameCount, &m.MutationCount, &renderedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact %d metadata: %w", itemID, err)
	}
	t, err := time.Parse(time.RFC3339, renderedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing rendered_at for item %d: %w", itemID, err)
	}
	m.RenderedAt = t
	return m, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT item_id, updated_at FROM artifacts ORDER BY item_id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var result []Descriptor
	for rows.Next() {
		var d Descriptor
		var updatedAt string
		if err := rows.Scan(&d.ItemID, &updatedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at for item %d: %w", d.ItemID, err)
		}
		d.LastModified = t
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, itemID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM artifacts WHERE item_id = ?", itemID); err != nil {
		return fmt.Errorf("deleting artifact %d: %w", itemID, err)
	}
	return nil
}

func (s *SQLiteStore) Location(itemID int64) string {
	return fmt.Sprintf("sqlite://%s/artifacts/%d", s.path, itemID)
}
