// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package store

import (
	"os"

	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
)

// File is a [WritableStore] backed by an [os.File].
type File struct {
	file *os.File
}

var _ WritableStore = (*File)(nil)
var _ Syncer = (*File)(nil)

// NewFile wraps an open file. The file must have been opened for reading and
// writing.
func NewFile(f *os.File) *File {
	return &File{file: f}
}

// OpenFile opens or creates the named file. If readOnly is set the file is
// opened read-only and the returned store does not support writing.
func OpenFile(name string, readOnly bool) (Store, error) {
	if readOnly {
		f, err := os.Open(name)
		if err != nil {
			return nil, errors.UnknownError.WithFormat("open %s: %w", name, err)
		}
		return ReadOnly(&File{f}), nil
	}

	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("open %s: %w", name, err)
	}
	return &File{f}, nil
}

func (f *File) Len() (int64, error) {
	st, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (f *File) ReadAt(b []byte, off int64) (int, error)  { return f.file.ReadAt(b, off) }
func (f *File) WriteAt(b []byte, off int64) (int, error) { return f.file.WriteAt(b, off) }
func (f *File) Truncate(size int64) error                { return f.file.Truncate(size) }
func (f *File) Sync() error                              { return f.file.Sync() }
func (f *File) Close() error                             { return f.file.Close() }

// Name returns the name of the file.
func (f *File) Name() string { return f.file.Name() }
