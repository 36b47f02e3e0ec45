// Package export writes local snapshots to files and restores them.
//
// A snapshot file holds one schema.Document per record, in the same shape
// the remote mirror stores. JSONL files carry one document per line; YAML
// files carry a single sequence of documents. Password hashes are never
// exported.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rollcall-dev/rollcall/internal/roster/db"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// Format selects the snapshot file encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jsonl", "json":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown snapshot format %q (want jsonl or yaml)", s)
}

// FormatFromPath guesses the format from the file extension, defaulting to JSONL.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSONL
}

// Result describes one export or import.
type Result struct {
	Path          string
	Students      int
	Courses       int
	Enrollments   int
	Attendance    int
	Dropped       []schema.Dropped
	BackupCreated string
}

// Total returns the number of records written or restored.
func (r *Result) Total() int {
	return r.Students + r.Courses + r.Enrollments + r.Attendance
}

func (r *Result) count(snap *schema.Snapshot) {
	r.Students = len(snap.Students)
	r.Courses = len(snap.Courses)
	r.Enrollments = len(snap.Enrollments)
	r.Attendance = len(snap.Attendance)
}

// Export writes every local record to path.
func Export(ctx context.Context, store *db.DB, path string, format Format) (*Result, error) {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read local snapshot: %w", err)
	}

	if err := writeAtomic(path, func(w io.Writer) error {
		return encode(w, snap.Documents(), format)
	}); err != nil {
		return nil, err
	}

	result := &Result{Path: path}
	result.count(snap)
	return result, nil
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	Format Format // Empty means guess from the file extension
	DryRun bool   // Decode and count without writing
	Backup bool   // Export the current local store before restoring
}

// Import reads a snapshot file and upserts its records into the local store.
//
// Documents with an unparseable id are skipped and reported in
// Result.Dropped, as in a pull. Any other decoding or restore error leaves
// the store unchanged. Local rows absent from the file are kept.
func Import(ctx context.Context, store *db.DB, path string, opts ImportOptions) (*Result, error) {
	format := opts.Format
	if format == "" {
		format = FormatFromPath(path)
	}

	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	docs, err := decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	snap, dropped, err := schema.DecodeSnapshot(schema.GroupDocuments(docs))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	result := &Result{Path: path, Dropped: dropped}
	result.count(snap)
	if opts.DryRun {
		return result, nil
	}

	if opts.Backup {
		backupPath := BackupPath(store.Path(), time.Now())
		if _, err := Export(ctx, store, backupPath, FormatJSONL); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	if err := store.RestoreSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return result, nil
}

// BackupPath names the backup written next to the database before an import.
func BackupPath(dbPath string, at time.Time) string {
	return dbPath + ".backup." + at.Format("20060102-150405") + ".jsonl"
}

func encode(w io.Writer, docs []schema.Document, format Format) error {
	switch format {
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, doc := range docs {
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("failed to encode %s/%s: %w", doc.Collection, doc.ID, err)
			}
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(docs); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown snapshot format %q", format)
}

func decode(r io.Reader, format Format) ([]schema.Document, error) {
	switch format {
	case FormatJSONL:
		var docs []schema.Document
		dec := json.NewDecoder(r)
		dec.UseNumber()
		for line := 1; ; line++ {
			var doc schema.Document
			if err := dec.Decode(&doc); err != nil {
				if errors.Is(err, io.EOF) {
					return docs, nil
				}
				return nil, fmt.Errorf("invalid JSON at record %d: %w", line, err)
			}
			docs = append(docs, doc)
		}
	case FormatYAML:
		var docs []schema.Document
		if err := yaml.NewDecoder(r).Decode(&docs); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		return docs, nil
	}
	return nil, fmt.Errorf("unknown snapshot format %q", format)
}

// writeAtomic writes via a temp file in the target directory and renames it
// into place.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
