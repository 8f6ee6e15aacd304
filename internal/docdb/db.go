// Package docdb provides the embedded document database and its change bus.
//
// Documents are stored in a single SQLite table (ncruces/go-sqlite3, WAL
// mode). Every committed mutation is announced on the change bus; callers
// can buffer a burst of writes into one notification with BeginBatch and
// EndBatch, or apply a set of writes atomically with ApplyBatch.
//
// Architecture:
//   - Database file: <dataDir>/versync.db
//   - Schema: documents(id, type, parent_id, created, modified, body)
//   - Indexes: (type, parent_id) for scoped queries, parent_id for tree walks
package docdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/versync/internal/types"
)

// ChangeBus is the change-notification and batching contract of the
// database.
type ChangeBus interface {
	Subscribe(h Handler) Subscription
	Unsubscribe(s Subscription) bool
	BeginBatch() BatchID
	EndBatch(id BatchID) error
	AbortBatch(id BatchID) error
	ApplyBatch(ctx context.Context, batch Batch) error
}

var _ ChangeBus = (*DB)(nil)

// DB wraps the SQLite connection and owns the change bus.
type DB struct {
	cmu  sync.RWMutex // guards conn, which Close sets to nil
	conn *sql.DB
	path string
	bus  *Bus
	log  *slog.Logger

	// wmu serializes writes together with their change enqueue.
	wmu sync.Mutex
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for warnings.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) {
		if l != nil {
			db.log = l
		}
	}
}

// Open creates a database connection at the specified path and initializes
// the schema.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := docdb.Open(filepath.Join(dataDir, "versync.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Per-connection settings go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
		bus:  NewBus(),
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Bus returns the change bus.
func (db *DB) Bus() *Bus { return db.bus }

// Close checkpoints the WAL and closes the connection. It waits for an
// in-flight write to finish; later operations return ErrClosed.
func (db *DB) Close() error {
	db.wmu.Lock()
	defer db.wmu.Unlock()

	db.cmu.Lock()
	conn := db.conn
	db.conn = nil
	db.cmu.Unlock()
	if conn == nil {
		return nil
	}

	if _, err := conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.log.Warn("failed to checkpoint WAL", "error", err)
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// connection returns the open connection or ErrClosed.
func (db *DB) connection() (*sql.DB, error) {
	db.cmu.RLock()
	defer db.cmu.RUnlock()
	if db.conn == nil {
		return nil, ErrClosed
	}
	return db.conn, nil
}

// InitSchema creates the documents table and indexes. Idempotent.
func (db *DB) InitSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id        TEXT PRIMARY KEY,
	type      TEXT NOT NULL,
	parent_id TEXT NOT NULL DEFAULT '',
	created   TEXT NOT NULL,
	modified  TEXT NOT NULL,
	body      TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_documents_type_parent ON documents(type, parent_id);
CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents(parent_id);
`
	conn, err := db.connection()
	if err != nil {
		return err
	}
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ===================
// Change Bus
// ===================

// Subscribe registers a change handler.
func (db *DB) Subscribe(h Handler) Subscription { return db.bus.Subscribe(h) }

// Unsubscribe removes a change handler.
func (db *DB) Unsubscribe(s Subscription) bool { return db.bus.Unsubscribe(s) }

// BeginBatch defers notifications until the matching EndBatch.
func (db *DB) BeginBatch() BatchID { return db.bus.BeginBatch() }

// EndBatch closes a batch opened with BeginBatch.
func (db *DB) EndBatch(id BatchID) error { return db.bus.EndBatch(id) }

// AbortBatch closes a batch and discards the notifications it buffered.
// Writes already committed inside the batch stay committed.
func (db *DB) AbortBatch(id BatchID) error { return db.bus.AbortBatch(id) }

// WithBatch runs fn inside a batch. When fn fails the batch is aborted and
// nothing it buffered is delivered; use ApplyBatch when the writes
// themselves must be all or nothing.
func (db *DB) WithBatch(fn func() error) error {
	id := db.BeginBatch()
	if err := fn(); err != nil {
		_ = db.AbortBatch(id)
		return err
	}
	return db.EndBatch(id)
}

// ApplyBatch removes and upserts the given documents in one transaction. On
// failure nothing is applied or announced and a *BatchApplyError is
// returned.
func (db *DB) ApplyBatch(ctx context.Context, batch Batch) error {
	if batch.Empty() {
		return nil
	}
	fromSync := IsSyncOrigin(ctx)

	err := db.write(ctx, func(tx *sql.Tx) ([]ChangeRecord, error) {
		records := make([]ChangeRecord, 0, len(batch.Upserts)+len(batch.Removes))
		for _, doc := range batch.Removes {
			removed, err := removeTree(ctx, tx, doc.ID)
			if err != nil {
				return nil, err
			}
			for _, d := range removed {
				records = append(records, ChangeRecord{Kind: ChangeRemove, Doc: d, FromSync: fromSync})
			}
		}
		for _, doc := range batch.Upserts {
			rec, err := upsert(ctx, tx, doc, fromSync)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		return records, nil
	})
	if err != nil {
		return &BatchApplyError{Upserts: len(batch.Upserts), Removes: len(batch.Removes), Err: err}
	}
	return nil
}

// write runs fn in a transaction and enqueues its change records in commit
// order.
func (db *DB) write(ctx context.Context, fn func(tx *sql.Tx) ([]ChangeRecord, error)) error {
	db.wmu.Lock()
	conn, err := db.connection()
	if err != nil {
		db.wmu.Unlock()
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		db.wmu.Unlock()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	records, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		db.wmu.Unlock()
		return err
	}

	if err := tx.Commit(); err != nil {
		db.wmu.Unlock()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.bus.enqueue(records)
	db.wmu.Unlock()

	db.bus.drain()
	return nil
}

// ===================
// Mutations
// ===================

// Insert adds a new document. A missing id is generated from the type.
func (db *DB) Insert(ctx context.Context, doc *types.Document) (*types.Document, error) {
	doc = doc.Clone()
	if doc.ID == "" {
		doc.ID = types.NewID(doc.Type)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}

	now := time.Now().UTC()
	if doc.Created.IsZero() {
		doc.Created = now
	}
	doc.Modified = now

	fromSync := IsSyncOrigin(ctx)
	err := db.write(ctx, func(tx *sql.Tx) ([]ChangeRecord, error) {
		if err := insertRow(ctx, tx, doc); err != nil {
			return nil, err
		}
		return []ChangeRecord{{Kind: ChangeInsert, Doc: doc.Clone(), FromSync: fromSync}}, nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Update replaces an existing document.
func (db *DB) Update(ctx context.Context, doc *types.Document) (*types.Document, error) {
	doc = doc.Clone()
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	doc.Modified = time.Now().UTC()

	fromSync := IsSyncOrigin(ctx)
	err := db.write(ctx, func(tx *sql.Tx) ([]ChangeRecord, error) {
		existing, err := getRow(ctx, tx, doc.ID)
		if err != nil {
			return nil, err
		}
		if doc.Created.IsZero() {
			doc.Created = existing.Created
		}
		if err := updateRow(ctx, tx, doc); err != nil {
			return nil, err
		}
		return []ChangeRecord{{Kind: ChangeUpdate, Doc: doc.Clone(), FromSync: fromSync}}, nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Upsert inserts or replaces a document.
func (db *DB) Upsert(ctx context.Context, doc *types.Document) (*types.Document, error) {
	doc = doc.Clone()
	fromSync := IsSyncOrigin(ctx)

	var out *types.Document
	err := db.write(ctx, func(tx *sql.Tx) ([]ChangeRecord, error) {
		rec, err := upsert(ctx, tx, doc, fromSync)
		if err != nil {
			return nil, err
		}
		out = rec.Doc.Clone()
		return []ChangeRecord{rec}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes a document and all of its descendants. Removing a missing
// document is a no-op.
func (db *DB) Remove(ctx context.Context, id string) error {
	fromSync := IsSyncOrigin(ctx)
	return db.write(ctx, func(tx *sql.Tx) ([]ChangeRecord, error) {
		removed, err := removeTree(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		records := make([]ChangeRecord, 0, len(removed))
		for _, d := range removed {
			records = append(records, ChangeRecord{Kind: ChangeRemove, Doc: d, FromSync: fromSync})
		}
		return records, nil
	})
}

// ===================
// Queries
// ===================

// Get returns the document with the given id, or ErrNotFound.
func (db *DB) Get(ctx context.Context, id string) (*types.Document, error) {
	conn, err := db.connection()
	if err != nil {
		return nil, err
	}
	return getRow(ctx, conn, id)
}

// Find returns all documents of a type scoped to a parent, ordered by id.
func (db *DB) Find(ctx context.Context, docType, parentID string) ([]*types.Document, error) {
	return db.query(ctx,
		`SELECT id, type, parent_id, created, modified, body FROM documents
		 WHERE type = ? AND parent_id = ? ORDER BY id`, docType, parentID)
}

// FindByType returns all documents of a type, ordered by id.
func (db *DB) FindByType(ctx context.Context, docType string) ([]*types.Document, error) {
	return db.query(ctx,
		`SELECT id, type, parent_id, created, modified, body FROM documents
		 WHERE type = ? ORDER BY id`, docType)
}

// WithDescendants returns the root document and everything below it,
// optionally restricted to the given types. The root is first.
func (db *DB) WithDescendants(ctx context.Context, rootID string, docTypes ...string) ([]*types.Document, error) {
	conn, err := db.connection()
	if err != nil {
		return nil, err
	}
	docs, err := collectTree(ctx, conn, rootID)
	if err != nil {
		return nil, err
	}
	if len(docTypes) == 0 {
		return docs, nil
	}

	want := make(map[string]bool, len(docTypes))
	for _, t := range docTypes {
		want[t] = true
	}
	filtered := docs[:0]
	for _, d := range docs {
		if want[d.Type] {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (db *DB) query(ctx context.Context, q string, args ...any) ([]*types.Document, error) {
	conn, err := db.connection()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ===================
// Row helpers
// ===================

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner) (*types.Document, error) {
	var (
		doc               types.Document
		created, modified string
		body              string
	)
	if err := s.Scan(&doc.ID, &doc.Type, &doc.ParentID, &created, &modified, &body); err != nil {
		return nil, err
	}

	var err error
	if doc.Created, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("failed to parse created time of %s: %w", doc.ID, err)
	}
	if doc.Modified, err = time.Parse(time.RFC3339Nano, modified); err != nil {
		return nil, fmt.Errorf("failed to parse modified time of %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal([]byte(body), &doc.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode body of %s: %w", doc.ID, err)
	}
	return &doc, nil
}

func scanRows(rows *sql.Rows) ([]*types.Document, error) {
	var docs []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

func getRow(ctx context.Context, q querier, id string) (*types.Document, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, type, parent_id, created, modified, body FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

func encodeBody(doc *types.Document) (string, error) {
	if len(doc.Fields) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(doc.Fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode body of %s: %w", doc.ID, err)
	}
	return string(b), nil
}

func insertRow(ctx context.Context, tx *sql.Tx, doc *types.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, type, parent_id, created, modified, body) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Type, doc.ParentID,
		doc.Created.Format(time.RFC3339Nano), doc.Modified.Format(time.RFC3339Nano), body)
	if err != nil {
		return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
	}
	return nil
}

func updateRow(ctx context.Context, tx *sql.Tx, doc *types.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET type = ?, parent_id = ?, created = ?, modified = ?, body = ? WHERE id = ?`,
		doc.Type, doc.ParentID,
		doc.Created.Format(time.RFC3339Nano), doc.Modified.Format(time.RFC3339Nano), body, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", doc.ID, err)
	}
	return nil
}

// upsert writes doc and reports whether it was an insert or an update.
// Documents arriving from a sync keep their own modification time.
func upsert(ctx context.Context, tx *sql.Tx, doc *types.Document, fromSync bool) (ChangeRecord, error) {
	doc = doc.Clone()
	if doc.ID == "" {
		doc.ID = types.NewID(doc.Type)
	}
	if err := doc.Validate(); err != nil {
		return ChangeRecord{}, fmt.Errorf("invalid document: %w", err)
	}

	now := time.Now().UTC()
	if !fromSync || doc.Modified.IsZero() {
		doc.Modified = now
	}

	existing, err := getRow(ctx, tx, doc.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		if doc.Created.IsZero() {
			doc.Created = now
		}
		if err := insertRow(ctx, tx, doc); err != nil {
			return ChangeRecord{}, err
		}
		return ChangeRecord{Kind: ChangeInsert, Doc: doc, FromSync: fromSync}, nil
	case err != nil:
		return ChangeRecord{}, err
	}

	if doc.Created.IsZero() {
		doc.Created = existing.Created
	}
	if err := updateRow(ctx, tx, doc); err != nil {
		return ChangeRecord{}, err
	}
	return ChangeRecord{Kind: ChangeUpdate, Doc: doc, FromSync: fromSync}, nil
}

const treeQuery = `
WITH RECURSIVE tree(id, depth) AS (
	SELECT id, 0 FROM documents WHERE id = ?
	UNION ALL
	SELECT d.id, t.depth + 1 FROM documents d JOIN tree t ON d.parent_id = t.id
)
SELECT d.id, d.type, d.parent_id, d.created, d.modified, d.body
FROM documents d JOIN tree t ON d.id = t.id
ORDER BY t.depth, d.id`

func collectTree(ctx context.Context, q querier, rootID string) ([]*types.Document, error) {
	rows, err := q.QueryContext(ctx, treeQuery, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to query descendants of %s: %w", rootID, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// removeTree deletes a document and its descendants, parents first.
func removeTree(ctx context.Context, tx *sql.Tx, id string) ([]*types.Document, error) {
	docs, err := collectTree(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]any, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id IN ("+placeholders+")", ids...); err != nil {
		return nil, fmt.Errorf("failed to remove document %s: %w", id, err)
	}
	return docs, nil
}
