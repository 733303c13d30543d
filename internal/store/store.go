// Package store persists named collections as indented JSON documents, one
// file per collection, each guarded by its own mutex. It is the only package
// that touches the data directory; everything else goes through Load, Save,
// Update or Txn.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Collection names a persisted document. The value doubles as the file name.
type Collection string

const (
	Students   Collection = "students.json"
	Attendance Collection = "attendance.json"
	Users      Collection = "users.json"
	Leaves     Collection = "leaves.json"
	Settings   Collection = "settings.json"
)

var collections = []Collection{Students, Attendance, Users, Leaves, Settings}

// Store guards one JSON file per collection.
type Store struct {
	dir   string
	locks map[Collection]*sync.Mutex
}

// New creates the data directory if needed and returns a store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	locks := make(map[Collection]*sync.Mutex, len(collections))
	for _, c := range collections {
		locks[c] = &sync.Mutex{}
	}
	return &Store{dir: dir, locks: locks}, nil
}

func (s *Store) path(c Collection) string { return filepath.Join(s.dir, string(c)) }

// Txn holds the locks of one or more collections for the span of a
// read-modify-write. Obtain one through Store.Txn.
type Txn struct {
	s    *Store
	held map[Collection]bool
}

// Txn locks the given collections, invokes fn, and releases the locks. Locks
// are always acquired in lexicographic file-name order so operations spanning
// two collections cannot deadlock against each other.
func (s *Store) Txn(fn func(tx *Txn) error, cols ...Collection) error {
	ordered := make([]Collection, 0, len(cols))
	for _, c := range cols {
		if _, ok := s.locks[c]; !ok {
			return fmt.Errorf("store: unknown collection %q", c)
		}
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	held := make(map[Collection]bool, len(ordered))
	for _, c := range ordered {
		if held[c] {
			continue
		}
		s.locks[c].Lock()
		held[c] = true
	}
	defer func() {
		for c := range held {
			s.locks[c].Unlock()
		}
	}()

	return fn(&Txn{s: s, held: held})
}

func (tx *Txn) guard(c Collection) error {
	if !tx.held[c] {
		return fmt.Errorf("store: collection %q not locked by this transaction", c)
	}
	return nil
}

// LoadTx reads a collection into v inside an open transaction. v carries the
// caller's documented default: a missing file leaves it untouched, and a
// corrupt or unreadable file is logged and likewise leaves the default in
// place rather than failing the caller.
func LoadTx[T any](tx *Txn, c Collection, v *T) error {
	if err := tx.guard(c); err != nil {
		return err
	}
	b, err := os.ReadFile(tx.s.path(c))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("store: read %s failed, using default: %v", c, err)
		}
		return nil
	}
	seed := *v
	if err := json.Unmarshal(b, v); err != nil {
		log.Printf("store: %s is corrupt, using default: %v", c, err)
		*v = seed
	}
	return nil
}

// SaveTx writes a collection inside an open transaction. The document is
// written to a temp file and renamed into place, so readers never observe a
// partial write. Failures propagate to the caller.
func SaveTx[T any](tx *Txn, c Collection, v T) error {
	if err := tx.guard(c); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", c, err)
	}
	tmp, err := os.CreateTemp(tx.s.dir, string(c)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: save %s: %w", c, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("store: save %s: %w", c, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: save %s: %w", c, err)
	}
	if err := os.Rename(tmp.Name(), tx.s.path(c)); err != nil {
		return fmt.Errorf("store: save %s: %w", c, err)
	}
	return nil
}

// Load reads a collection under its lock. See LoadTx for default semantics.
func Load[T any](s *Store, c Collection, v *T) error {
	return s.Txn(func(tx *Txn) error { return LoadTx(tx, c, v) }, c)
}

// Save writes a collection under its lock.
func Save[T any](s *Store, c Collection, v T) error {
	return s.Txn(func(tx *Txn) error { return SaveTx(tx, c, v) }, c)
}

// Update runs a single-collection check-and-mutate in one critical section.
// v carries the empty default, fn mutates it and reports whether the result
// should be saved.
func Update[T any](s *Store, c Collection, v *T, fn func(*T) (bool, error)) error {
	return s.Txn(func(tx *Txn) error {
		if err := LoadTx(tx, c, v); err != nil {
			return err
		}
		save, err := fn(v)
		if err != nil || !save {
			return err
		}
		return SaveTx(tx, c, *v)
	}, c)
}
