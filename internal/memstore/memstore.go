// Package memstore is an in-process DocumentStore. Documents are kept as JSON
// bodies with per-document versions; transactions validate their read set at
// commit and apply buffered writes under one lock.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mesh-intelligence/questbook/internal/clock"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

type entry struct {
	body      []byte
	updatedAt time.Time
}

// Store implements types.DocumentStore in memory.
type Store struct {
	mu       sync.RWMutex
	docs     map[types.DocRef]entry
	versions map[types.DocRef]int64 // survives deletes so a recreated doc never reuses a version
	clock    clock.Clock
	detached bool

	// beforeCommit runs after fn and before validation. Tests use it to
	// interleave a competing writer.
	beforeCommit func()
}

// Option customizes a Store.
type Option func(*Store)

// WithClock sets the clock used for UpdatedAt stamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// New returns an empty, attached Store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:     make(map[types.DocRef]entry),
		versions: make(map[types.DocRef]int64),
		clock:    clock.NewMonotonic(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunTx implements types.DocumentStore.
func (s *Store) RunTx(ctx context.Context, fn func(tx types.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isDetached() {
		return types.ErrStoreDetached
	}

	t := &tx{
		store:  s,
		reads:  make(map[types.DocRef]int64),
		writes: make(map[types.DocRef]pending),
	}
	if err := fn(t); err != nil {
		return err
	}
	if s.beforeCommit != nil {
		s.beforeCommit()
	}
	return s.commit(ctx, t)
}

func (s *Store) commit(ctx context.Context, t *tx) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached {
		return types.ErrStoreDetached
	}
	for ref, seen := range t.reads {
		if s.versions[ref] != seen {
			return types.Conflict("memstore.commit", ref)
		}
	}
	if len(t.writes) == 0 {
		return nil
	}

	now := s.clock.Now()
	for _, ref := range t.order {
		w := t.writes[ref]
		if w.deleted {
			if _, ok := s.docs[ref]; ok {
				delete(s.docs, ref)
				s.versions[ref]++
			}
			continue
		}
		s.versions[ref]++
		s.docs[ref] = entry{body: w.body, updatedAt: now}
	}
	return nil
}

// Get implements types.DocumentStore.
func (s *Store) Get(ctx context.Context, ref types.DocRef, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ref.Validate(); err != nil {
		return false, err
	}
	body, _, ok, err := s.read(ref)
	if err != nil || !ok {
		return false, err
	}
	return true, decode(ref, body, dst)
}

// List implements types.DocumentStore.
func (s *Store) List(ctx context.Context, collection string) ([]types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(collection) == "" {
		return nil, types.ErrInvalidRef
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.detached {
		return nil, types.ErrStoreDetached
	}

	var docs []types.Document
	for ref, e := range s.docs {
		if ref.Collection != collection {
			continue
		}
		docs = append(docs, types.Document{
			Ref:       ref,
			Version:   s.versions[ref],
			Body:      slices.Clone(e.body),
			UpdatedAt: e.updatedAt,
		})
	}
	slices.SortFunc(docs, func(a, b types.Document) int { return strings.Compare(a.Ref.ID, b.Ref.ID) })
	return docs, nil
}

// Detach implements types.DocumentStore.
func (s *Store) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = true
	return nil
}

func (s *Store) isDetached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detached
}

// read returns the committed body and version of ref.
func (s *Store) read(ref types.DocRef) ([]byte, int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.detached {
		return nil, 0, false, types.ErrStoreDetached
	}
	e, ok := s.docs[ref]
	return e.body, s.versions[ref], ok, nil
}

type pending struct {
	body    []byte
	deleted bool
}

type tx struct {
	store  *Store
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

	body, version, ok, err := t.store.read(ref)
	if err != nil {
		return false, err
	}
	if seen, tracked := t.reads[ref]; tracked && seen != version {
		return false, types.Conflict("memstore.get", ref)
	}
	t.reads[ref] = version
	if !ok {
		return false, nil
	}
	return true, decode(ref, body, dst)
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

var _ types.DocumentStore = (*Store)(nil)
