// Package recordstore persists program records keyed by their derived
// address. Terminal records stay behind as tombstones so a late transition
// attempt can be rejected by phase instead of surfacing as not-found.
package recordstore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/internal/securestore"
	"chainvault/go-backend/pkg/models"
)

type Store[T any] struct {
	mu     sync.RWMutex
	items  map[models.Address]T
	path   string
	secret string
}

func New[T any]() *Store[T] {
	return &Store[T]{items: make(map[models.Address]T)}
}

// Open restores a store from disk, decrypting when a passphrase is set.
func Open[T any](path, passphrase string) (*Store[T], error) {
	s := &Store[T]{items: make(map[models.Address]T), path: path, secret: passphrase}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store[T]) Get(addr models.Address) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[addr]
	return item, ok
}

func (s *Store[T]) Put(addr models.Address, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[models.Address]T, len(s.items)+1)
	for k, v := range s.items {
		next[k] = v
	}
	next[addr] = item
	if err := s.persist(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

// StagePut queues a write behind the surrounding request's ledger commit.
// The record lands only if the ledger snapshot persists; until then a
// failed request leaves the store untouched.
func (s *Store[T]) StagePut(txn *ledger.Txn, addr models.Address, item T) {
	txn.StageRecord(&stagedWrite[T]{store: s, mutate: func(items map[models.Address]T) {
		items[addr] = item
	}})
}

// StageDelete queues a removal behind the surrounding ledger commit.
func (s *Store[T]) StageDelete(txn *ledger.Txn, addr models.Address) {
	txn.StageRecord(&stagedWrite[T]{store: s, mutate: func(items map[models.Address]T) {
		delete(items, addr)
	}})
}

// stagedWrite holds the store's lock from Prepare until Commit or Abort,
// so readers never observe a half-applied request. One request must not
// stage the same store twice.
type stagedWrite[T any] struct {
	store  *Store[T]
	mutate func(map[models.Address]T)
	next   map[models.Address]T
}

func (w *stagedWrite[T]) Prepare() error {
	w.store.mu.Lock()
	next := make(map[models.Address]T, len(w.store.items)+1)
	for k, v := range w.store.items {
		next[k] = v
	}
	w.mutate(next)
	if err := w.store.persist(next); err != nil {
		w.store.mu.Unlock()
		return err
	}
	w.next = next
	return nil
}

func (w *stagedWrite[T]) Commit() {
	w.store.items = w.next
	w.store.mu.Unlock()
}

func (w *stagedWrite[T]) Abort() {
	// The in-memory view never swapped; restore the previous disk contents.
	_ = w.store.persist(w.store.items)
	w.store.mu.Unlock()
}

func (s *Store[T]) Delete(addr models.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[addr]; !ok {
		return nil
	}
	next := make(map[models.Address]T, len(s.items))
	for k, v := range s.items {
		if k != addr {
			next[k] = v
		}
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

// All returns a copy of the live contents.
func (s *Store[T]) All() map[models.Address]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Address]T, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

type persistedRecords[T any] struct {
	Version int                  `json:"version"`
	Items   map[models.Address]T `json:"items"`
}

func (s *Store[T]) persist(items map[models.Address]T) error {
	if s.path == "" {
		return nil
	}
	payload, err := json.Marshal(persistedRecords[T]{Version: 1, Items: items})
	if err != nil {
		return err
	}
	if s.secret != "" {
		payload, err = securestore.Encrypt(s.secret, payload)
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, payload, 0o600)
}

func (s *Store[T]) load() error {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if s.secret != "" {
		raw, err = securestore.Decrypt(s.secret, raw)
		if err != nil {
			return err
		}
	}
	var state persistedRecords[T]
	if err := json.Unmarshal(raw, &state); err != nil {
		return err
	}
	if state.Version != 1 {
		return errors.New("record store payload is invalid")
	}
	if state.Items != nil {
		s.items = state.Items
	}
	return nil
}
