// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package partition

import (
	"io"
	"sync"

	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
)

// Partition is a handle for one partition of a container. It holds the
// partition id and a cursor; the data lives in the container's store.
// Operations on a deleted partition fail with InvalidState, apart from ID,
// IsDeleted, Flags, and Fragments.
type Partition struct {
	c  *Container
	id uint8

	mu  sync.Mutex
	pos int64
}

var _ interface {
	io.ReadWriteSeeker
	io.ReaderAt
	io.WriterAt
	io.WriterTo
	io.ReaderFrom
} = (*Partition)(nil)

// ID returns the partition id.
func (p *Partition) ID() uint8 { return p.id }

// Container returns the container the partition belongs to.
func (p *Partition) Container() *Container { return p.c }

// IsDeleted returns true if the partition is soft-deleted.
func (p *Partition) IsDeleted() (bool, error) {
	f, err := p.Flags()
	return f&FlagDeleted != 0, err
}

// Flags returns the state flags of the partition.
func (p *Partition) Flags() (Flags, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	m, i, err := p.c.lookup(p.id)
	if err != nil {
		return 0, err
	}
	return m.entries[i].Flags, nil
}

// Fragments returns the physical fragments of the partition in chain order.
func (p *Partition) Fragments() ([]Fragment, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	m, i, err := p.c.lookup(p.id)
	if err != nil {
		return nil, err
	}
	return p.c.fragments(m, &m.entries[i])
}

// Len returns the logical length of the partition.
func (p *Partition) Len() (int64, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	m, i, err := p.c.live(p.id)
	if err != nil {
		return 0, err
	}
	return m.entries[i].Length, nil
}

// ReadAt reads len(b) bytes starting at off. It fails with OutOfRange if the
// range extends past the end of the partition.
func (p *Partition) ReadAt(b []byte, off int64) (int, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	m, i, err := p.c.live(p.id)
	if err != nil {
		return 0, err
	}
	err = p.c.readAt(m, &m.entries[i], b, off)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// WriteAt writes b starting at off, growing the partition if the write
// extends past its end. off must not be past the end of the partition.
//
// If the write ends inside a fragment, the rest of that fragment is dropped
// from the partition and the length shrinks accordingly.
func (p *Partition) WriteAt(b []byte, off int64) (int, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return p.writeAt(b, off)
}

func (p *Partition) writeAt(b []byte, off int64) (int, error) {
	m, i, err := p.c.live(p.id)
	if err != nil {
		return 0, err
	}
	err = p.c.writeAt(m, i, b, off)
	if err != nil {
		return 0, err
	}
	mBytesWritten.Add(float64(len(b)))
	return len(b), nil
}

// Read reads from the cursor. It returns [io.EOF] at the end of the
// partition.
func (p *Partition) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.c.mu.Lock()
	defer p.c.mu.Unlock()

	m, i, err := p.c.live(p.id)
	if err != nil {
		return 0, err
	}

	e := &m.entries[i]
	if p.pos >= e.Length {
		if len(b) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	b = b[:min(int64(len(b)), e.Length-p.pos)]
	err = p.c.readAt(m, e, b, p.pos)
	if err != nil {
		return 0, err
	}
	p.pos += int64(len(b))
	return len(b), nil
}

// Write writes at the cursor and advances it.
func (p *Partition) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.c.mu.Lock()
	defer p.c.mu.Unlock()

	n, err := p.writeAt(b, p.pos)
	p.pos += int64(n)
	return n, err
}

// Seek moves the cursor. Seeking before the start or past the end of the
// partition fails with OutOfRange.
func (p *Partition) Seek(offset int64, whence int) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.c.mu.Lock()
	defer p.c.mu.Unlock()

	m, i, err := p.c.live(p.id)
	if err != nil {
		return 0, err
	}

	length := m.entries[i].Length
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = p.pos + offset
	case io.SeekEnd:
		pos = length + offset
	default:
		return 0, errors.BadRequest.WithFormat("invalid whence %d", whence)
	}

	if pos < 0 || pos > length {
		return 0, errors.OutOfRange.WithFormat("cannot seek to %d in partition %d of length %d", pos, p.id, length)
	}
	p.pos = pos
	return pos, nil
}

// SetLength resizes the partition. Shrinking cuts the fragment chain at the
// new end; growing appends zeros.
func (p *Partition) SetLength(size int64) error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()

	m, i, err := p.c.live(p.id)
	if err != nil {
		return err
	}

	e := &m.entries[i]
	switch {
	case size < 0:
		return errors.OutOfRange.WithFormat("invalid length %d", size)
	case size == e.Length:
		return nil
	case size < e.Length:
		return p.c.truncate(m, i, size)
	}

	zeros := make([]byte, min(size-e.Length, int64(p.c.copyBuffer)))
	for e.Length < size {
		n := min(size-e.Length, int64(len(zeros)))
		err = p.c.writeAt(m, i, zeros[:n], e.Length)
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteTo writes the partition from the cursor to the end into w.
func (p *Partition) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, p.c.copyBuffer)
	var total int64
	for {
		n, err := p.Read(buf)
		if n > 0 {
			m, err := w.Write(buf[:n])
			total += int64(m)
			if err != nil {
				return total, err
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// ReadFrom writes everything read from r at the cursor.
func (p *Partition) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, p.c.copyBuffer)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m, err := p.Write(buf[:n])
			total += int64(m)
			if err != nil {
				return total, err
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
