// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package paged implements a byte store that is split into fixed-size pages
// held by a key-value [Backend]. Every write runs in a single backend
// transaction, so a write that spans several pages is applied atomically.
package paged

import (
	"encoding/binary"
	"io"
	"io/fs"

	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gitlab.com/accumulatenetwork/partstore/pkg/store"
)

// DefaultPageSize is the page size used for new stores.
const DefaultPageSize = 4096

var (
	keyLength   = []byte("L")
	keyPageSize = []byte("S")
	prefixPage  = byte('P')
)

// Store is a [store.WritableStore] built on a [Backend].
type Store struct {
	backend  Backend
	pageSize int64
}

var _ store.WritableStore = (*Store)(nil)

type opts struct {
	pageSize int64
}

type Option func(*opts) error

// WithPageSize sets the page size of a new store. It is ignored if the backend
// already holds a store.
func WithPageSize(n int) Option {
	return func(o *opts) error {
		if n <= 0 {
			return errors.BadRequest.WithFormat("invalid page size %d", n)
		}
		o.pageSize = int64(n)
		return nil
	}
}

// Open opens the store held by the backend, initializing it if the backend is
// empty.
func Open(backend Backend, o ...Option) (*Store, error) {
	opts := opts{pageSize: DefaultPageSize}
	for _, o := range o {
		err := o(&opts)
		if err != nil {
			return nil, errors.UnknownError.Wrap(err)
		}
	}

	s := &Store{backend: backend}
	err := backend.Update(func(w Writer) error {
		v, err := w.Get(keyPageSize)
		switch {
		case err == nil:
			if len(v) != 8 {
				return errors.CorruptMap.WithFormat("invalid page size record (%d bytes)", len(v))
			}
			s.pageSize = int64(binary.BigEndian.Uint64(v))
			return nil

		case errors.Is(err, errors.NotFound):
			s.pageSize = opts.pageSize
			err = w.Put(keyPageSize, binary.BigEndian.AppendUint64(nil, uint64(s.pageSize)))
			if err != nil {
				return err
			}
			return putLength(w, 0)

		default:
			return err
		}
	})
	if err != nil {
		return nil, errors.UnknownError.WithFormat("open paged store: %w", err)
	}
	return s, nil
}

// PageSize returns the page size.
func (s *Store) PageSize() int { return int(s.pageSize) }

func (s *Store) Len() (int64, error) {
	var n int64
	err := s.backend.View(func(r Reader) error {
		var err error
		n, err = getLength(r)
		return err
	})
	return n, err
}

func (s *Store) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fs.ErrInvalid
	}

	var n int
	err := s.backend.View(func(r Reader) error {
		length, err := getLength(r)
		if err != nil {
			return err
		}
		if off >= length {
			return io.EOF
		}

		want := b
		if rem := length - off; int64(len(want)) > rem {
			want = want[:rem]
		}

		for len(want) > 0 {
			index, within := off/s.pageSize, off%s.pageSize
			page, err := s.getPage(r, index)
			if err != nil {
				return err
			}
			c := copy(want, page[within:])
			mPageRead.Inc()
			want, off, n = want[c:], off+int64(c), n+c
		}

		if n < len(b) {
			return io.EOF
		}
		return nil
	})
	return n, err
}

func (s *Store) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fs.ErrInvalid
	}

	err := s.backend.Update(func(w Writer) error {
		length, err := getLength(w)
		if err != nil {
			return err
		}

		pos, rest := off, b
		for len(rest) > 0 {
			index, within := pos/s.pageSize, pos%s.pageSize
			page, err := s.getPage(w, index)
			if err != nil {
				return err
			}
			c := copy(page[within:], rest)
			err = w.Put(pageKey(index), page)
			if err != nil {
				return err
			}
			mPageWrite.Inc()
			rest, pos = rest[c:], pos+int64(c)
		}

		if pos > length {
			return putLength(w, pos)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (s *Store) Truncate(size int64) error {
	if size < 0 {
		return fs.ErrInvalid
	}

	return s.backend.Update(func(w Writer) error {
		length, err := getLength(w)
		if err != nil {
			return err
		}
		if size >= length {
			return putLength(w, size)
		}

		// Delete whole pages past the new end
		first := (size + s.pageSize - 1) / s.pageSize
		last := (length - 1) / s.pageSize
		for i := first; i <= last; i++ {
			err = w.Delete(pageKey(i))
			if err != nil {
				return err
			}
		}

		// Zero the tail of the last page so growing the store again reads
		// back zeros
		if within := size % s.pageSize; within > 0 {
			index := size / s.pageSize
			page, err := s.getPage(w, index)
			if err != nil {
				return err
			}
			clear(page[within:])
			err = w.Put(pageKey(index), page)
			if err != nil {
				return err
			}
		}

		return putLength(w, size)
	})
}

// Close closes the backend if it is closable.
func (s *Store) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// getPage returns the page, or a zero page if it has never been written.
func (s *Store) getPage(r Reader, index int64) ([]byte, error) {
	page, err := r.Get(pageKey(index))
	switch {
	case err == nil:
		if int64(len(page)) != s.pageSize {
			return nil, errors.CorruptMap.WithFormat("page %d has length %d, want %d", index, len(page), s.pageSize)
		}
		return page, nil
	case errors.Is(err, errors.NotFound):
		return make([]byte, s.pageSize), nil
	default:
		return nil, errors.UnknownError.WithFormat("load page %d: %w", index, err)
	}
}

func pageKey(index int64) []byte {
	k := make([]byte, 9)
	k[0] = prefixPage
	binary.BigEndian.PutUint64(k[1:], uint64(index))
	return k
}

func getLength(r Reader) (int64, error) {
	v, err := r.Get(keyLength)
	if err != nil {
		return 0, errors.UnknownError.WithFormat("load length: %w", err)
	}
	if len(v) != 8 {
		return 0, errors.CorruptMap.WithFormat("invalid length record (%d bytes)", len(v))
	}
	return int64(binary.BigEndian.Uint64(v)), nil
}

func putLength(w Writer, n int64) error {
	return w.Put(keyLength, binary.BigEndian.AppendUint64(nil, uint64(n)))
}
