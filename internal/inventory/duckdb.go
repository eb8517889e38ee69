package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
)

const duckdbSchema = `
CREATE SEQUENCE IF NOT EXISTS inventory_object_ids START 1;

CREATE TABLE IF NOT EXISTS inventory_objects (
    id          BIGINT PRIMARY KEY,
    scope_class VARCHAR NOT NULL,
    scope_id    BIGINT NOT NULL,
    position    INTEGER NOT NULL,
    class       VARCHAR NOT NULL,
    name        VARCHAR NOT NULL,
    attributes  VARCHAR NOT NULL DEFAULT '{}',
    protected   BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_inventory_objects_scope
    ON inventory_objects (scope_class, scope_id);
`

// DuckDBConfig holds DuckDB store options.
type DuckDBConfig struct {
	// DSN is the database file; empty opens an in-memory database.
	DSN string

	// QueryTimeout bounds every read.
	QueryTimeout time.Duration
}

// DuckDBStore reads inventory children from a DuckDB database.
//
// DuckDBStore is safe for concurrent use.
type DuckDBStore struct {
	db      *sql.DB
	timeout time.Duration
	mu      sync.Mutex
	closed  bool
}

// OpenDuckDB opens the database and creates the schema if needed.
func OpenDuckDB(cfg DuckDBConfig) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, duckdbSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DuckDBStore{db: db, timeout: timeout}, nil
}

// Close closes the store.
func (s *DuckDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// GetChildren implements Store.
func (s *DuckDBStore) GetChildren(ctx context.Context, scope group.ObjectRef) ([]StoredObject, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, class, name, attributes, protected
		FROM inventory_objects
		WHERE scope_class = ? AND scope_id = ?
		ORDER BY position, id
	`, scope.Class, scope.ID)
	if err != nil {
		return nil, s.wrap(scope, err)
	}
	defer rows.Close()

	out := make([]StoredObject, 0)
	for rows.Next() {
		var (
			o     StoredObject
			attrs string
		)
		if err := rows.Scan(&o.ID, &o.Class, &o.Name, &attrs, &o.Protected); err != nil {
			return nil, s.wrap(scope, err)
		}
		if err := json.Unmarshal([]byte(attrs), &o.Attributes); err != nil {
			return nil, s.wrap(scope, fmt.Errorf("object %d attributes: %w", o.ID, err))
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(scope, err)
	}
	return out, nil
}

// Put appends objects under scope in one transaction. Objects without an
// id get one from the id sequence.
func (s *DuckDBStore) Put(ctx context.Context, scope group.ObjectRef, objs ...StoredObject) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := putObjects(ctx, tx, scope, objs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

func putObjects(ctx context.Context, tx *sql.Tx, scope group.ObjectRef, objs []StoredObject) error {
	var pos int
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), 0)
		FROM inventory_objects
		WHERE scope_class = ? AND scope_id = ?
	`, scope.Class, scope.ID).Scan(&pos)
	if err != nil {
		return fmt.Errorf("next position: %w", err)
	}

	for _, o := range objs {
		if o.ID == 0 {
			if err := tx.QueryRowContext(ctx, `SELECT nextval('inventory_object_ids')`).Scan(&o.ID); err != nil {
				return fmt.Errorf("next id: %w", err)
			}
		}

		attrs := o.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		data, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}

		pos++
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_objects
				(id, scope_class, scope_id, position, class, name, attributes, protected)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, o.ID, scope.Class, scope.ID, pos, o.Class, o.Name, string(data), o.Protected)
		if err != nil {
			return fmt.Errorf("insert %s/%s: %w", o.Class, o.Name, err)
		}
	}
	return nil
}

func (s *DuckDBStore) wrap(scope group.ObjectRef, err error) error {
	return fmt.Errorf("children of %s: %w: %w", scope, errors.ErrInventory, err)
}
