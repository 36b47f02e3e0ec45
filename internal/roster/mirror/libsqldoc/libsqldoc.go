// Package libsqldoc is a mirror backend that stores documents as JSON rows in
// a libSQL database.
//
// Two modes are supported:
//   - local: a plain libSQL file, useful for a mirror on a shared disk
//   - embedded replica: a local file kept in sync with a remote Turso
//     primary. Writes are delegated to the primary and reads are served
//     from the replica, which is synced before every full fetch.
//
// Every document is one row of the documents table:
//
//	CREATE TABLE documents (
//	    collection TEXT NOT NULL,
//	    id         TEXT NOT NULL,
//	    data       TEXT NOT NULL,   -- JSON object
//	    updated_at INTEGER NOT NULL,
//	    PRIMARY KEY (collection, id)
//	)
//
// Merge writes use json_patch and equality queries use json_extract, so the
// store never needs to know the record schema.
package libsqldoc

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tursodatabase/go-libsql"

	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// Config selects the database a Store opens.
type Config struct {
	// Path is the local database file.
	Path string

	// PrimaryURL turns on embedded-replica mode when set
	// (for example libsql://roster-org.turso.io).
	PrimaryURL string

	// AuthToken authenticates against PrimaryURL.
	AuthToken string

	// SyncInterval enables background replica syncs. Zero means sync only
	// on demand.
	SyncInterval time.Duration
}

// Store is a DocumentStore on libSQL.
type Store struct {
	conn      *sql.DB
	connector *libsql.Connector
	path      string
}

var (
	_ mirror.DocumentStore = (*Store)(nil)
	_ mirror.Syncer        = (*Store)(nil)
)

// Open opens (creating if needed) the documents database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("libsql mirror path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	s := &Store{path: cfg.Path}
	if cfg.PrimaryURL != "" {
		opts := []libsql.Option{libsql.WithAuthToken(cfg.AuthToken)}
		if cfg.SyncInterval > 0 {
			opts = append(opts, libsql.WithSyncInterval(cfg.SyncInterval))
		}
		connector, err := libsql.NewEmbeddedReplicaConnector(cfg.Path, cfg.PrimaryURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedded replica: %w", classify(err))
		}
		s.connector = connector
		s.conn = sql.OpenDB(connector)
	} else {
		conn, err := sql.Open("libsql", "file:"+cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.conn = conn
	}

	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", classify(err))
	}
	return nil
}

// Sync pulls the primary's latest frames into the replica. It is a no-op in
// local mode.
func (s *Store) Sync(ctx context.Context) error {
	if s.connector == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.connector.Sync(); err != nil {
		return fmt.Errorf("failed to sync replica: %w", classify(err))
	}
	return nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, id, err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			data = json_patch(documents.data, excluded.data),
			updated_at = excluded.updated_at`,
		collection, id, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, classify(err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, classify(err))
	}
	return nil
}

// Query compares the field's text form, so "3" and 3 match alike.
func (s *Store) Query(ctx context.Context, collection, field string, value any) ([]schema.Document, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, data FROM documents
		WHERE collection = ? AND CAST(json_extract(data, '$.' || ?) AS TEXT) = ?
		ORDER BY CAST(id AS INTEGER), id`,
		collection, field, fmt.Sprint(value))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, classify(err))
	}
	return scanDocuments(rows, collection)
}

func (s *Store) DeleteBatch(ctx context.Context, refs []mirror.Ref) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", classify(err))
	}
	defer stmt.Close()

	for _, ref := range refs {
		if _, err := stmt.ExecContext(ctx, ref.Collection, ref.ID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", ref, classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete batch: %w", classify(err))
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]schema.Document, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, data FROM documents
		WHERE collection = ?
		ORDER BY CAST(id AS INTEGER), id`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, classify(err))
	}
	return scanDocuments(rows, collection)
}

func (s *Store) Close() error {
	var errs []error
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	if s.connector != nil {
		errs = append(errs, s.connector.Close())
	}
	return errors.Join(errs...)
}

func scanDocuments(rows *sql.Rows, collection string) ([]schema.Document, error) {
	defer rows.Close()

	docs := []schema.Document{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(data)))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return nil, fmt.Errorf("failed to parse %s/%s: %w", collection, id, err)
		}
		docs = append(docs, schema.Document{Collection: collection, ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", classify(err))
	}
	return docs, nil
}

// classify marks network failures talking to the primary as
// mirror.ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(mirror.ErrUnavailable, err)
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection refused", "no such host", "dial tcp", "connection reset", "timed out", "stream error"} {
		if strings.Contains(msg, hint) {
			return errors.Join(mirror.ErrUnavailable, err)
		}
	}
	return err
}
