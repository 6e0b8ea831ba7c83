// Copyright 2023 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package store

import (
	"io"
	"io/fs"
	"sync"
)

// Buffer is a [WritableStore] backed by a byte array.
type Buffer struct {
	mu  sync.RWMutex
	buf []byte
}

var _ WritableStore = (*Buffer)(nil)

func NewBuffer(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// Bytes returns the buffer's contents. The slice is only valid until the next
// write.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buf
}

func (b *Buffer) Len() (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.buf)), nil
}

func (b *Buffer) ReadAt(v []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if off < 0 {
		return 0, fs.ErrInvalid
	}
	if off >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(v, b.buf[off:])
	if n < len(v) {
		return n, io.EOF
	}
	return n, nil
}

func (b *Buffer) WriteAt(v []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if off < 0 {
		return 0, fs.ErrInvalid
	}
	if end := off + int64(len(v)); int64(len(b.buf)) < end {
		b.buf = append(b.buf, make([]byte, end-int64(len(b.buf)))...)
	}
	copy(b.buf[off:], v)
	return len(v), nil
}

func (b *Buffer) Truncate(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case size < 0:
		return fs.ErrInvalid
	case size <= int64(len(b.buf)):
		b.buf = b.buf[:size]
	default:
		b.buf = append(b.buf, make([]byte, size-int64(len(b.buf)))...)
	}
	return nil
}
