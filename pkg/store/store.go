// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package store defines the byte stores a partitioned container is built on,
// along with in-memory and file implementations.
package store

import (
	"io"

	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
)

// Store is a readable byte store with a known length. Positions are absolute
// byte offsets from the start of the store.
type Store interface {
	io.ReaderAt

	// Len returns the current length of the store.
	Len() (int64, error)
}

// WritableStore is a store that can be written and resized. Writing past the
// end grows the store.
type WritableStore interface {
	Store
	io.WriterAt

	// Truncate sets the length of the store. Truncating to a larger size pads
	// with zeros.
	Truncate(size int64) error
}

// Syncer is implemented by stores that can flush writes to durable storage.
type Syncer interface {
	Sync() error
}

// IsWritable returns true if the store supports writing.
func IsWritable(s Store) bool {
	_, ok := s.(WritableStore)
	return ok
}

// Writable returns the store as a [WritableStore] or fails with
// UnsupportedOperation.
func Writable(s Store) (WritableStore, error) {
	w, ok := s.(WritableStore)
	if !ok {
		return nil, errors.UnsupportedOperation.With("store does not support writing")
	}
	return w, nil
}

// ReadOnly hides the write methods of a store.
func ReadOnly(s Store) Store {
	return readOnly{s}
}

type readOnly struct {
	s Store
}

func (r readOnly) ReadAt(b []byte, off int64) (int, error) { return r.s.ReadAt(b, off) }
func (r readOnly) Len() (int64, error)                      { return r.s.Len() }

func (r readOnly) Close() error {
	if c, ok := r.s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadFull reads exactly len(b) bytes at off. A short read is reported as
// [io.ErrUnexpectedEOF].
func ReadFull(s io.ReaderAt, b []byte, off int64) error {
	n, err := s.ReadAt(b, off)
	switch {
	case n == len(b):
		return nil
	case err == nil, errors.Is(err, io.EOF):
		return io.ErrUnexpectedEOF
	default:
		return err
	}
}
