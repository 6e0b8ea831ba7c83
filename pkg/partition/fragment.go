// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package partition

import (
	"encoding/binary"

	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gitlab.com/accumulatenetwork/partstore/pkg/store"
)

// readFragment reads and validates the fragment header at off.
func (c *Container) readFragment(m *partitionMap, off int64) (Fragment, error) {
	if off < 0 || off+headerSize > m.dataEnd {
		return Fragment{}, errors.CorruptMap.WithFormat("fragment pointer %d is outside the data region", off)
	}

	var b [headerSize]byte
	err := store.ReadFull(c.store, b[:], off)
	if err != nil {
		return Fragment{}, errors.UnknownError.WithFormat("read fragment header: %w", err)
	}

	f := Fragment{
		Offset: off,
		Next:   int64(binary.LittleEndian.Uint64(b[0:])),
		Length: int64(binary.LittleEndian.Uint64(b[8:])),
	}
	switch {
	case f.Length < 0,
		f.Length > m.dataEnd-off-headerSize:
		return Fragment{}, errors.CorruptMap.WithFormat("fragment at %d has invalid length %d", off, f.Length)
	case f.Next < nilPointer:
		return Fragment{}, errors.CorruptMap.WithFormat("fragment at %d has invalid next pointer %d", off, f.Next)
	}
	return f, nil
}

// walk calls fn for each fragment of the chain starting at head, until fn
// returns false or the chain ends.
func (c *Container) walk(m *partitionMap, head int64, fn func(Fragment) (bool, error)) error {
	// Every fragment occupies at least a header, so a longer chain must
	// contain a cycle
	limit := m.dataEnd/headerSize + 1
	for ptr, hops := head, int64(0); ptr != nilPointer; hops++ {
		if hops > limit {
			return errors.CorruptMap.WithFormat("fragment chain starting at %d contains a cycle", head)
		}

		f, err := c.readFragment(m, ptr)
		if err != nil {
			return err
		}

		ok, err := fn(f)
		if err != nil || !ok {
			return err
		}
		ptr = f.Next
	}
	return nil
}

func (c *Container) fragments(m *partitionMap, e *entry) ([]Fragment, error) {
	var frags []Fragment
	err := c.walk(m, e.Head, func(f Fragment) (bool, error) {
		frags = append(frags, f)
		return true, nil
	})
	return frags, err
}

// chain returns the fragments of the partition and checks that they hold
// exactly its length.
func (c *Container) chain(m *partitionMap, e *entry) ([]Fragment, error) {
	frags, err := c.fragments(m, e)
	if err != nil {
		return nil, err
	}

	var sum int64
	for _, f := range frags {
		sum += f.Length
	}
	if sum != e.Length {
		return nil, errors.CorruptMap.WithFormat("partition %d has length %d but its fragments hold %d bytes", e.ID, e.Length, sum)
	}
	return frags, nil
}

func (c *Container) writeHeader(w store.WritableStore, f Fragment) error {
	var b [headerSize]byte
	encodeHeader(b[:], f.Next, f.Length)
	_, err := w.WriteAt(b[:], f.Offset)
	if err != nil {
		return errors.UnknownError.WithFormat("write fragment header: %w", err)
	}
	return nil
}

// readAt copies len(b) bytes of the partition starting at off into b.
func (c *Container) readAt(m *partitionMap, e *entry, b []byte, off int64) error {
	if off < 0 || off+int64(len(b)) > e.Length {
		return errors.OutOfRange.WithFormat("cannot read %d bytes at %d from partition %d of length %d", len(b), off, e.ID, e.Length)
	}
	if len(b) == 0 {
		return nil
	}

	frags, err := c.chain(m, e)
	if err != nil {
		return err
	}

	total := len(b)
	var pos int64
	for _, f := range frags {
		start := pos
		pos += f.Length
		if pos <= off {
			continue
		}

		within := off - start
		n := min(f.Length-within, int64(len(b)))
		err := store.ReadFull(c.store, b[:n], f.payload()+within)
		if err != nil {
			return errors.UnknownError.WithFormat("read fragment: %w", err)
		}
		b, off = b[n:], off+n
		if len(b) == 0 {
			break
		}
	}
	mBytesRead.Add(float64(total))
	return nil
}

// writeAt writes b to the partition at entry idx, starting at off. Existing
// fragments are overwritten first. If the write ends inside a fragment, that
// fragment is cut at the end of the write. Bytes that do not fit in the chain
// extend the last fragment when it sits at the end of the data region, and
// otherwise go into a new fragment.
func (c *Container) writeAt(m *partitionMap, idx int, b []byte, off int64) error {
	e := &m.entries[idx]
	if off < 0 || off > e.Length {
		return errors.OutOfRange.WithFormat("cannot write at %d to partition %d of length %d", off, e.ID, e.Length)
	}
	if len(b) == 0 {
		return nil
	}

	w, err := store.Writable(c.store)
	if err != nil {
		return err
	}
	if e.Head == nilPointer {
		// The first fragment goes at the end of the data region and becomes
		// the head
		f := Fragment{Offset: m.dataEnd, Next: nilPointer, Length: int64(len(b))}
		err = c.appendFragment(w, m, f, b)
		if err != nil {
			return err
		}
		e.Head = f.Offset
		e.Length = f.Length
		c.logger.Debug("Allocated first fragment", "id", e.ID, "offset", f.Offset, "length", f.Length)
		return c.commit(m, idx)
	}

	frags, err := c.chain(m, e)
	if err != nil {
		return err
	}

	// Overwrite the existing chain
	var pos int64
	var structural bool
	for _, f := range frags {
		start := pos
		pos += f.Length
		if pos <= off {
			continue
		}

		within := off - start
		n := min(f.Length-within, int64(len(b)))
		_, err := w.WriteAt(b[:n], f.payload()+within)
		if err != nil {
			return errors.UnknownError.WithFormat("write fragment: %w", err)
		}
		b, off = b[n:], off+n
		if len(b) > 0 {
			continue
		}

		// The write ends inside this fragment, so the rest of the
		// fragment becomes unreachable
		if unwritten := f.Length - within - n; unwritten > 0 {
			f.Length -= unwritten
			err = c.writeHeader(w, f)
			if err != nil {
				return err
			}
			e.Length -= unwritten
			structural = true
			mFragmentCut.Inc()
			c.logger.Debug("Cut fragment", "id", e.ID, "offset", f.Offset, "unreachable", unwritten)
		}
		break
	}

	if len(b) == 0 {
		if structural {
			return c.commit(m, idx)
		}
		return nil
	}

	last := frags[len(frags)-1]
	if last.end() == m.dataEnd {
		// The last fragment is at the end of the data region so it can
		// grow in place
		_, err = w.WriteAt(b, m.dataEnd)
		if err != nil {
			return errors.UnknownError.WithFormat("extend fragment: %w", err)
		}
		last.Length += int64(len(b))
		err = c.writeHeader(w, last)
		if err != nil {
			return err
		}
		m.dataEnd += int64(len(b))
		mFragmentExtend.Inc()
		c.logger.Debug("Extended fragment", "id", e.ID, "offset", last.Offset, "length", last.Length)

	} else {
		f := Fragment{Offset: m.dataEnd, Next: nilPointer, Length: int64(len(b))}
		err = c.appendFragment(w, m, f, b)
		if err != nil {
			return err
		}

		last.Next = f.Offset
		err = c.writeHeader(w, last)
		if err != nil {
			return err
		}
		e.Flags |= FlagFragmented
		c.logger.Debug("Appended fragment", "id", e.ID, "offset", f.Offset, "length", f.Length)
	}

	e.Length = off + int64(len(b))
	return c.commit(m, idx)
}

// appendFragment writes a new fragment at the end of the data region.
func (c *Container) appendFragment(w store.WritableStore, m *partitionMap, f Fragment, data []byte) error {
	b := make([]byte, headerSize+len(data))
	encodeHeader(b, f.Next, f.Length)
	copy(b[headerSize:], data)
	_, err := w.WriteAt(b, f.Offset)
	if err != nil {
		return errors.UnknownError.WithFormat("write fragment: %w", err)
	}
	m.dataEnd = f.end()
	mFragmentAppend.Inc()
	return nil
}

// truncate shortens the partition at entry idx to size bytes. The fragment
// holding the new end becomes the last fragment of the chain.
func (c *Container) truncate(m *partitionMap, idx int, size int64) error {
	e := &m.entries[idx]
	w, err := store.Writable(c.store)
	if err != nil {
		return err
	}

	frags, err := c.chain(m, e)
	if err != nil {
		return err
	}

	var pos int64
	for _, f := range frags {
		start := pos
		pos += f.Length
		if pos < size {
			continue
		}

		f.Length = size - start
		f.Next = nilPointer
		err = c.writeHeader(w, f)
		if err != nil {
			return err
		}
		mFragmentCut.Inc()
		break
	}

	c.logger.Debug("Truncated partition", "id", e.ID, "from", e.Length, "to", size)
	e.Length = size
	return c.commit(m, idx)
}
