// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package paged

import (
	"sync"

	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
)

// Backend is a transactional key-value store that holds pages.
type Backend interface {
	// View runs fn in a read-only transaction.
	View(fn func(Reader) error) error

	// Update runs fn in a read-write transaction. Changes are committed if fn
	// returns nil and discarded otherwise.
	Update(fn func(Writer) error) error
}

// Reader reads values. Get returns a NotFound error if the key does not
// exist. The returned slice is owned by the caller.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// Writer reads and writes values.
type Writer interface {
	Reader
	Put(key, value []byte) error
	Delete(key []byte) error
}

// MemoryBackend is an in-memory [Backend].
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: map[string][]byte{}}
}

func (m *MemoryBackend) View(fn func(Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryTxn{m, nil})
}

func (m *MemoryBackend) Update(fn func(Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn := &memoryTxn{m, map[string]*[]byte{}}
	err := fn(txn)
	if err != nil {
		return err
	}

	for k, v := range txn.pending {
		if v == nil {
			delete(m.entries, k)
		} else {
			m.entries[k] = *v
		}
	}
	return nil
}

type memoryTxn struct {
	backend *MemoryBackend
	pending map[string]*[]byte
}

func (t *memoryTxn) Get(key []byte) ([]byte, error) {
	v, ok := t.pending[string(key)]
	if ok {
		if v == nil {
			return nil, errors.NotFound.WithFormat("key %x not found", key)
		}
		return append([]byte(nil), *v...), nil
	}

	u, ok := t.backend.entries[string(key)]
	if !ok {
		return nil, errors.NotFound.WithFormat("key %x not found", key)
	}
	return append([]byte(nil), u...), nil
}

func (t *memoryTxn) Put(key, value []byte) error {
	v := append([]byte(nil), value...)
	t.pending[string(key)] = &v
	return nil
}

func (t *memoryTxn) Delete(key []byte) error {
	t.pending[string(key)] = nil
	return nil
}
