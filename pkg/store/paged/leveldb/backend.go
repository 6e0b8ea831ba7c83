// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package leveldb stores pages in a LevelDB database.
package leveldb

import (
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gitlab.com/accumulatenetwork/partstore/pkg/store/paged"
)

// Backend is a [paged.Backend] backed by LevelDB.
type Backend struct {
	leveldb *leveldb.DB
}

var _ paged.Backend = (*Backend)(nil)

// OpenFile opens or creates the database directory.
func OpenFile(filepath string) (*Backend, error) {
	// Make sure all directories exist
	err := os.MkdirAll(filepath, 0700)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("create %q: %w", filepath, err)
	}

	db, err := leveldb.OpenFile(filepath, nil)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("open %q: %w", filepath, err)
	}

	return &Backend{db}, nil
}

func (d *Backend) View(fn func(paged.Reader) error) error {
	snap, err := d.leveldb.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()
	return fn(snapshot{snap})
}

func (d *Backend) Update(fn func(paged.Writer) error) error {
	txn, err := d.leveldb.OpenTransaction()
	if err != nil {
		return err
	}

	err = fn(transaction{txn})
	if err != nil {
		txn.Discard()
		return err
	}
	return txn.Commit()
}

// Close closes the underlying database.
func (d *Backend) Close() error {
	return d.leveldb.Close()
}

type snapshot struct {
	snap *leveldb.Snapshot
}

func (s snapshot) Get(key []byte) ([]byte, error) {
	return get(s.snap.Get(key, nil))
}

type transaction struct {
	txn *leveldb.Transaction
}

func (t transaction) Get(key []byte) ([]byte, error) {
	return get(t.txn.Get(key, nil))
}

func (t transaction) Put(key, value []byte) error { return t.txn.Put(key, value, nil) }
func (t transaction) Delete(key []byte) error     { return t.txn.Delete(key, nil) }

func get(v []byte, err error) ([]byte, error) {
	switch {
	case err == nil:
		u := make([]byte, len(v))
		copy(u, v)
		return u, nil
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, errors.NotFound.Wrap(err)
	default:
		return nil, err
	}
}
