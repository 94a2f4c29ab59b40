// Package sqlite implements the durable DocumentStore on SQLite. Reads inside
// a transaction run outside any database lock; the commit takes the write
// lock with BEGIN IMMEDIATE, re-checks every version the transaction read and
// applies the buffered writes with compare-and-set updates.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/questbook/internal/clock"
	"github.com/mesh-intelligence/questbook/internal/logger"
	"github.com/mesh-intelligence/questbook/internal/sqlite/migrations"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// DBFileName is the database file created under Config.DataDir.
const DBFileName = "questbook.db"

const dsnParams = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

// Backend implements types.DocumentStore using SQLite.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	clock    clock.Clock
	log      *logger.Logger
}

// Option customizes a Backend.
type Option func(*Backend)

// WithClock sets the clock used for updated_at stamps.
func WithClock(c clock.Clock) Option {
	return func(b *Backend) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithLogger sets the backend logger.
func WithLogger(l *logger.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		clock: clock.NewMonotonic(),
		log:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open is NewBackend followed by Attach.
func Open(cfg types.Config, opts ...Option) (*Backend, error) {
	b := NewBackend(opts...)
	if err := b.Attach(cfg); err != nil {
		return nil, err
	}
	return b, nil
}

// Attach opens the database under cfg.DataDir, creating the directory if
// needed, and applies embedded migrations.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(cfg types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	db, err := sql.Open("sqlite", filepath.Clean(dbPath)+dsnParams)
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return fmt.Errorf("run migrations: %w", err)
	}

	b.db = db
	b.config = cfg
	b.attached = true
	b.log.Debug("sqlite backend attached", "path", dbPath)
	return nil
}

// Detach closes the database. After Detach, all operations return
// ErrStoreDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	if b.db != nil {
		err := b.db.Close()
		b.db = nil
		return err
	}
	return nil
}

func (b *Backend) handle() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	return b.db, nil
}

// row is one documents row as seen by a reader.
type row struct {
	version int64
	body    []byte
	live    bool
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readRow(ctx context.Context, q querier, ref types.DocRef) (row, error) {
	var (
		r       row
		deleted int
	)
	err := q.QueryRowContext(ctx,
		`SELECT version, body, deleted FROM documents WHERE collection = ? AND id = ?`,
		ref.Collection, ref.ID,
	).Scan(&r.version, &r.body, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return row{}, nil
	}
	if err != nil {
		return row{}, mapError("sqlite.read", ref, err)
	}
	r.live = deleted == 0
	return r, nil
}

// Get implements types.DocumentStore.
func (b *Backend) Get(ctx context.Context, ref types.DocRef, dst any) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}
	db, err := b.handle()
	if err != nil {
		return false, err
	}
	r, err := readRow(ctx, db, ref)
	if err != nil || !r.live {
		return false, err
	}
	return true, decode(ref, r.body, dst)
}

// List implements types.DocumentStore.
func (b *Backend) List(ctx context.Context, collection string) ([]types.Document, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, types.ErrInvalidRef
	}
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, version, body, updated_at FROM documents
		 WHERE collection = ? AND deleted = 0 ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		var (
			d         types.Document
			updatedAt int64
		)
		if err := rows.Scan(&d.Ref.ID, &d.Version, &d.Body, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		d.Ref.Collection = collection
		d.UpdatedAt = fromMillis(updatedAt)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return docs, nil
}

// RunTx implements types.DocumentStore.
func (b *Backend) RunTx(ctx context.Context, fn func(tx types.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := b.handle()
	if err != nil {
		return err
	}
	t := &tx{
		ctx:    ctx,
		db:     db,
		reads:  make(map[types.DocRef]int64),
		writes: make(map[types.DocRef]pending),
	}
	if err := fn(t); err != nil {
		return err
	}
	return b.commit(ctx, db, t)
}

func (b *Backend) commit(ctx context.Context, db *sql.DB, t *tx) error {
	if len(t.writes) == 0 && len(t.reads) == 0 {
		return nil
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("sqlite.begin", types.DocRef{}, err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	for ref, seen := range t.reads {
		if _, written := t.writes[ref]; written {
			continue // checked by the CAS write below
		}
		r, err := readRow(ctx, sqlTx, ref)
		if err != nil {
			return err
		}
		if r.version != seen {
			return types.Conflict("sqlite.commit", ref)
		}
	}

	now := toMillis(b.clock.Now())
	for _, ref := range t.order {
		w := t.writes[ref]
		seen, read := t.reads[ref]
		if err := applyWrite(ctx, sqlTx, ref, w, seen, read, now); err != nil {
			return err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError("sqlite.commit", types.DocRef{}, err)
	}
	return nil
}

// applyWrite writes one buffered document. When the transaction read ref,
// the write is a compare-and-set against the version it saw.
func applyWrite(ctx context.Context, sqlTx *sql.Tx, ref types.DocRef, w pending, seen int64, read bool, now int64) error {
	var (
		res sql.Result
		err error
	)
	switch {
	case w.deleted:
		if read {
			r, rerr := readRow(ctx, sqlTx, ref)
			if rerr != nil {
				return rerr
			}
			if r.version != seen {
				return types.Conflict("sqlite.delete", ref)
			}
		}
		_, err = sqlTx.ExecContext(ctx,
			`UPDATE documents SET deleted = 1, body = NULL, version = version + 1, updated_at = ?
			 WHERE collection = ? AND id = ? AND deleted = 0`,
			now, ref.Collection, ref.ID)
	case read && seen > 0:
		res, err = sqlTx.ExecContext(ctx,
			`UPDATE documents SET body = ?, deleted = 0, version = version + 1, updated_at = ?
			 WHERE collection = ? AND id = ? AND version = ?`,
			w.body, now, ref.Collection, ref.ID, seen)
	case read:
		res, err = sqlTx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, version, body, deleted, updated_at)
			 VALUES (?, ?, 1, ?, 0, ?) ON CONFLICT (collection, id) DO NOTHING`,
			ref.Collection, ref.ID, w.body, now)
	default:
		_, err = sqlTx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, version, body, deleted, updated_at)
			 VALUES (?, ?, 1, ?, 0, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET
			   body = excluded.body, deleted = 0,
			   version = documents.version + 1, updated_at = excluded.updated_at`,
			ref.Collection, ref.ID, w.body, now)
	}
	if err != nil {
		return mapError("sqlite.write", ref, err)
	}
	if res != nil {
		n, err := res.RowsAffected()
		if err != nil {
			return mapError("sqlite.write", ref, err)
		}
		if n != 1 {
			return types.Conflict("sqlite.write", ref)
		}
	}
	return nil
}

type pending struct {
	body    []byte
	deleted bool
}

type tx struct {
	ctx    context.Context
	db     *sql.DB
	reads  map[types.DocRef]int64
	writes map[types.DocRef]pending
	order  []types.DocRef
}

func (t *tx) Get(ref types.DocRef, dst any) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}
	if w, ok := t.writes[ref]; ok {
		if w.deleted {
			return false, nil
		}
		return true, decode(ref, w.body, dst)
	}
	r, err := readRow(t.ctx, t.db, ref)
	if err != nil {
		return false, err
	}
	if seen, tracked := t.reads[ref]; tracked && seen != r.version {
		return false, types.Conflict("sqlite.get", ref)
	}
	t.reads[ref] = r.version
	if !r.live {
		return false, nil
	}
	return true, decode(ref, r.body, dst)
}

func (t *tx) Set(ref types.DocRef, value any) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ref, err)
	}
	t.put(ref, pending{body: body})
	return nil
}

func (t *tx) Delete(ref types.DocRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	t.put(ref, pending{deleted: true})
	return nil
}

func (t *tx) put(ref types.DocRef, p pending) {
	if _, ok := t.writes[ref]; !ok {
		t.order = append(t.order, ref)
	}
	t.writes[ref] = p
}

func decode(ref types.DocRef, body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	return nil
}

// mapError turns lock contention into a conflict so the retry runner treats
// it like a lost optimistic race.
func mapError(op string, ref types.DocRef, err error) error {
	if isBusy(err) {
		return types.NewError(types.CodeConflict, op, "database busy", err)
	}
	if ref.Collection != "" {
		return fmt.Errorf("%s %s: %w", op, ref, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

var _ types.DocumentStore = (*Backend)(nil)
