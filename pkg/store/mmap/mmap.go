// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package mmap implements a memory-mapped file store.
package mmap

import (
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gitlab.com/accumulatenetwork/partstore/pkg/store"
)

// Store is a [store.WritableStore] backed by a memory-mapped file. The mapping
// always covers the whole file; growing the file remaps it.
type Store struct {
	mu   *sync.RWMutex
	file *os.File
	data mmap.MMap
}

var _ store.WritableStore = (*Store)(nil)
var _ store.Syncer = (*Store)(nil)

// Open opens or creates the named file and maps it.
func Open(name string) (_ *Store, err error) {
	s := new(Store)
	s.mu = new(sync.RWMutex)

	s.file, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("open %s: %w", name, err)
	}
	defer closeIfError(&err, s.file)

	st, err := s.file.Stat()
	if err != nil {
		return nil, err
	}

	err = s.remap(st.Size(), mmap.RDWR)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("map %s: %w", name, err)
	}
	return s, nil
}

// OpenReadOnly maps the named file read-only. The returned store does not
// support writing.
func OpenReadOnly(name string) (_ store.Store, err error) {
	s := new(Store)
	s.mu = new(sync.RWMutex)

	s.file, err = os.Open(name)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("open %s: %w", name, err)
	}
	defer closeIfError(&err, s.file)

	st, err := s.file.Stat()
	if err != nil {
		return nil, err
	}

	err = s.remap(st.Size(), mmap.RDONLY)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("map %s: %w", name, err)
	}
	return store.ReadOnly(s), nil
}

func (s *Store) Len() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data)), nil
}

func (s *Store) ReadAt(b []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if off < 0 {
		return 0, fs.ErrInvalid
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}

	n := copy(b, s.data[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Store) WriteAt(b []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if off < 0 {
		return 0, fs.ErrInvalid
	}

	n := off + int64(len(b))
	if n > int64(len(s.data)) {
		err := s.resize(n)
		if err != nil {
			return 0, err
		}
	}

	copy(s.data[off:], b)
	return len(b), nil
}

func (s *Store) Truncate(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if size < 0 {
		return fs.ErrInvalid
	}
	return s.resize(size)
}

// Sync flushes the mapped region to disk.
func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil
	}
	return s.data.Flush()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.data != nil {
		errs = append(errs, s.data.Unmap())
	}
	if s.file != nil {
		errs = append(errs, s.file.Close())
	}

	s.data = nil
	s.file = nil
	return errors.Join(errs...)
}

func (s *Store) resize(n int64) (err error) {
	old := int64(len(s.data))
	err = s.unmap()
	if err != nil {
		return err
	}

	// Put the file and the mapping back if the resize fails
	defer func() {
		if err == nil {
			return
		}
		_ = s.file.Truncate(old)
		_ = s.remap(old, mmap.RDWR)
	}()

	err = s.file.Truncate(n)
	if err != nil {
		return err
	}

	return s.remap(n, mmap.RDWR)
}

func (s *Store) remap(n int64, prot int) error {
	// Mapping an empty file fails
	if n == 0 {
		s.data = nil
		return nil
	}

	var err error
	s.data, err = mmap.MapRegion(s.file, int(n), prot, 0, 0)
	return err
}

func (s *Store) unmap() error {
	if s.data == nil {
		return nil
	}

	err := s.data.Unmap()
	s.data = nil
	return err
}

func closeIfError(err *error, closer io.Closer) {
	if *err != nil {
		_ = closer.Close()
	}
}
