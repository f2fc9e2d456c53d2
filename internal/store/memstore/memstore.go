// Package memstore is an in-process store backend. It keeps records in maps
// guarded by a mutex and hands out copies, so callers never share state.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spigell/shortlister/internal/store"
)

// Op names a store operation for failure injection.
type Op string

const (
	OpGet    Op = "get"
	OpQuery  Op = "query"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type entry struct {
	seq    int64
	record *store.Record
}

type Store struct {
	mu   sync.Mutex
	seq  int64
	data map[store.Collection]map[string]*entry

	// Now stamps created records; defaults to time.Now.
	Now func() time.Time
	// Fail, when set, is consulted before every operation and its error returned.
	Fail func(op Op, c store.Collection, id string) error
}

func New() *Store {
	return &Store{
		data: make(map[store.Collection]map[string]*entry),
		Now:  time.Now,
	}
}

func (s *Store) Get(_ context.Context, c store.Collection, id string) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail(OpGet, c, id); err != nil {
		return nil, err
	}

	e, ok := s.data[c][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c, id, store.ErrNotFound)
	}

	return clone(e.record), nil
}

func (s *Store) Query(_ context.Context, c store.Collection, f store.Filter) ([]*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail(OpQuery, c, f.LinkedTo); err != nil {
		return nil, err
	}

	entries := make([]*entry, 0, len(s.data[c]))
	for _, e := range s.data[c] {
		if f.Match(e.record.Fields) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]*store.Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, clone(e.record))
	}
	return out, nil
}

func (s *Store) Create(_ context.Context, c store.Collection, fields map[string]any) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail(OpCreate, c, ""); err != nil {
		return nil, err
	}

	s.seq++
	rec := &store.Record{
		ID:        strconv.FormatInt(s.seq, 10),
		CreatedAt: s.now(),
		Fields:    copyFields(fields),
	}

	if s.data[c] == nil {
		s.data[c] = make(map[string]*entry)
	}
	s.data[c][rec.ID] = &entry{seq: s.seq, record: rec}

	return clone(rec), nil
}

func (s *Store) Update(_ context.Context, c store.Collection, id string, fields map[string]any) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail(OpUpdate, c, id); err != nil {
		return nil, err
	}

	e, ok := s.data[c][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c, id, store.ErrNotFound)
	}

	for k, v := range fields {
		e.record.Fields[k] = v
	}

	return clone(e.record), nil
}

func (s *Store) Delete(_ context.Context, c store.Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail(OpDelete, c, id); err != nil {
		return err
	}

	if _, ok := s.data[c][id]; !ok {
		return fmt.Errorf("%s/%s: %w", c, id, store.ErrNotFound)
	}
	delete(s.data[c], id)

	return nil
}

// Len returns the number of records in a collection.
func (s *Store) Len(c store.Collection) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data[c])
}

func (s *Store) fail(op Op, c store.Collection, id string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op, c, id)
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func clone(rec *store.Record) *store.Record {
	return &store.Record{ID: rec.ID, CreatedAt: rec.CreatedAt, Fields: copyFields(rec.Fields)}
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if ids, ok := v.([]string); ok {
			v = append([]string(nil), ids...)
		}
		out[k] = v
	}
	return out
}
