package recordstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"reelhub/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	id         TEXT PRIMARY KEY,
	workspace  TEXT NOT NULL,
	name       TEXT NOT NULL,
	schema     TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (workspace, name)
);

CREATE TABLE IF NOT EXISTS records (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	collection_id TEXT NOT NULL REFERENCES collections(id),
	fields        TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection_id, seq);
`

// SQLiteStore keeps collections and records in a local SQLite file. It
// stands in for the remote store in development.
type SQLiteStore struct {
	DB *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma foreign_keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{DB: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

func (s *SQLiteStore) ListCollections(ctx context.Context, d models.Domain) ([]models.Collection, error) {
	const op = "list collections"
	if err := checkDomain(op, d); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name FROM collections
		WHERE workspace = ?
		ORDER BY created_at, rowid
	`, d.WorkspaceID)
	if err != nil {
		return nil, newError(ErrUpstreamUnavailable, op, 0, "", err)
	}
	defer rows.Close()

	out := make([]models.Collection, 0)
	for rows.Next() {
		var c models.Collection
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, newError(ErrUpstreamUnavailable, op, 0, "scan", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(ErrUpstreamUnavailable, op, 0, "rows", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, d models.Domain, collectionID string) ([]models.Record, error) {
	const op = "list records"
	if err := checkDomain(op, d); err != nil {
		return nil, err
	}
	if _, err := s.collectionSchema(ctx, op, d, collectionID); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, fields, created_at FROM records
		WHERE collection_id = ?
		ORDER BY seq
	`, collectionID)
	if err != nil {
		return nil, newError(ErrUpstreamUnavailable, op, 0, "", err)
	}
	defer rows.Close()

	out := make([]models.Record, 0)
	for rows.Next() {
		var (
			rec     models.Record
			raw     string
			created time.Time
		)
		if err := rows.Scan(&rec.ID, &raw, &created); err != nil {
			return nil, newError(ErrUpstreamUnavailable, op, 0, "scan", err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, newError(ErrUpstreamUnavailable, op, 0, "decode fields", err)
		}
		rec.Fields = fields
		rec.CreatedTime = created.UTC().Format(time.RFC3339)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(ErrUpstreamUnavailable, op, 0, "rows", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, d models.Domain, collectionID string, fields models.Fields) (models.Record, error) {
	const op = "create record"
	if err := checkDomain(op, d); err != nil {
		return models.Record{}, err
	}
	schema, err := s.collectionSchema(ctx, op, d, collectionID)
	if err != nil {
		return models.Record{}, err
	}
	if err := checkSchema(op, schema, fields); err != nil {
		return models.Record{}, err
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return models.Record{}, newError(ErrUpstreamRejected, op, 0, "encode fields", err)
	}

	now := time.Now().UTC()
	rec := models.Record{
		ID:          "rec" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
		CreatedTime: now.Format(time.RFC3339),
		Fields:      fields.Clone(),
	}
	if _, err := s.DB.ExecContext(ctx, `
		INSERT INTO records (id, collection_id, fields, created_at)
		VALUES (?, ?, ?, ?)
	`, rec.ID, collectionID, string(raw), now); err != nil {
		return models.Record{}, newError(ErrUpstreamUnavailable, op, 0, "insert", err)
	}
	return rec, nil
}

func (s *SQLiteStore) PatchRecord(ctx context.Context, d models.Domain, collectionID, recordID string, fields models.Fields) (models.Record, error) {
	const op = "patch record"
	if err := checkDomain(op, d); err != nil {
		return models.Record{}, err
	}
	schema, err := s.collectionSchema(ctx, op, d, collectionID)
	if err != nil {
		return models.Record{}, err
	}
	if err := checkSchema(op, schema, fields); err != nil {
		return models.Record{}, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Record{}, newError(ErrUpstreamUnavailable, op, 0, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `
		SELECT fields FROM records WHERE id = ? AND collection_id = ?
	`, recordID, collectionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, newError(ErrNotFound, op, 404, "record "+recordID, nil)
	}
	if err != nil {
		return models.Record{}, newError(ErrUpstreamUnavailable, op, 0, "select", err)
	}

	current, err := decodeFields(raw)
	if err != nil {
		return models.Record{}, newError(ErrUpstreamUnavailable, op, 0, "decode fields", err)
	}
	for k, v := range fields {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return models.Record{}, newError(ErrUpstreamRejected, op, 0, "encode fields", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE records SET fields = ? WHERE id = ?`, string(merged), recordID); err != nil {
		return models.Record{}, newError(ErrUpstreamUnavailable, op, 0, "update", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Record{}, newError(ErrUpstreamUnavailable, op, 0, "commit", err)
	}
	return models.Record{ID: recordID, Fields: current}, nil
}

func (s *SQLiteStore) CreateCollection(ctx context.Context, d models.Domain, name string, schema Schema) (models.Collection, error) {
	const op = "create collection"
	if err := checkDomain(op, d); err != nil {
		return models.Collection{}, err
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return models.Collection{}, newError(ErrUpstreamRejected, op, 0, "encode schema", err)
	}

	c := models.Collection{
		ID:   "app" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
		Name: name,
	}
	if _, err := s.DB.ExecContext(ctx, `
		INSERT INTO collections (id, workspace, name, schema) VALUES (?, ?, ?, ?)
	`, c.ID, d.WorkspaceID, name, string(raw)); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return models.Collection{}, newError(ErrUpstreamRejected, op, 409, "collection name "+name+" already taken", nil)
		}
		return models.Collection{}, newError(ErrUpstreamUnavailable, op, 0, "insert", err)
	}
	return c, nil
}

func (s *SQLiteStore) collectionSchema(ctx context.Context, op string, d models.Domain, collectionID string) (Schema, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, `
		SELECT schema FROM collections WHERE id = ? AND workspace = ?
	`, collectionID, d.WorkspaceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrNotFound, op, 404, "collection "+collectionID, nil)
	}
	if err != nil {
		return nil, newError(ErrUpstreamUnavailable, op, 0, "select collection", err)
	}

	var schema Schema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		return nil, newError(ErrUpstreamUnavailable, op, 0, "decode schema", err)
	}
	return schema, nil
}

func checkSchema(op string, schema Schema, fields models.Fields) error {
	if len(schema) == 0 {
		return nil
	}
	var unknown []string
	for k := range fields {
		if !schema.Has(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return newError(ErrUpstreamRejected, op, 422, "UNKNOWN_FIELD_NAME: "+strings.Join(unknown, ", "), nil)
}

func decodeFields(raw string) (models.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	fields := models.Fields{}
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}
