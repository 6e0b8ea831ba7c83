// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package partition

import (
	"io"
	"time"

	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gitlab.com/accumulatenetwork/partstore/pkg/store"
)

// CompactResult reports the outcome of a compaction pass.
type CompactResult struct {
	// Before and After are the length of the store before and after.
	Before, After int64

	// Removed lists the ids of partitions that were dropped.
	Removed []uint8
}

// Reclaimed returns the number of bytes the pass freed.
func (r *CompactResult) Reclaimed() int64 { return r.Before - r.After }

// Compact rewrites the store so every partition is a single contiguous
// fragment, drops soft-deleted partitions, and truncates the store.
func (c *Container) Compact() (*CompactResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compact(func(e *entry) bool { return e.deleted() })
}

// Defragment is [Container.Compact] without dropping soft-deleted
// partitions.
func (c *Container) Defragment() (*CompactResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compact(func(*entry) bool { return false })
}

// RemovePartition permanently removes a partition, deleted or not, and
// compacts the store.
func (c *Container) RemovePartition(p *Partition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _, err := c.lookup(p.id)
	if err != nil {
		return err
	}
	_, err = c.compact(func(e *entry) bool { return e.ID == p.id })
	return err
}

// compact rewrites the store without the partitions for which drop returns
// true. The surviving data is first copied past the end of the store and the
// old map is appended after it, so the store stays readable while the new
// layout is built. The copy is then moved to the start of the store and the
// new map is written after it.
func (c *Container) compact(drop func(*entry) bool) (*CompactResult, error) {
	w, err := store.Writable(c.store)
	if err != nil {
		return nil, err
	}

	m, err := c.readMap()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { mCompactDuration.Observe(time.Since(start).Seconds()) }()
	c.logger.Debug("Compacting", "size", m.size, "partitions", len(m.entries))

	// Check every surviving chain before anything is written
	type move struct {
		entry
		frags []Fragment
	}
	result := &CompactResult{Before: m.size}
	var moves []move
	for _, e := range m.entries {
		if drop(&e) {
			result.Removed = append(result.Removed, e.ID)
			continue
		}
		frags, err := c.chain(m, &e)
		if err != nil {
			return nil, err
		}
		moves = append(moves, move{e, frags})
	}

	buf := make([]byte, c.copyBuffer)
	stage := m.size
	sw := store.NewSectionWriter(w, stage, -1)
	kept := make([]entry, 0, len(moves))
	for _, mv := range moves {
		e := mv.entry
		e.Flags &^= FlagFragmented
		if e.Length == 0 {
			e.Head = nilPointer
			kept = append(kept, e)
			continue
		}

		// Copy the chain into a single fragment
		f := Fragment{Offset: sw.Offset() - stage, Next: nilPointer, Length: e.Length}
		var hdr [headerSize]byte
		encodeHeader(hdr[:], f.Next, f.Length)
		_, err = sw.Write(hdr[:])
		if err != nil {
			return nil, errors.UnknownError.WithFormat("stage fragment header: %w", err)
		}

		for _, g := range mv.frags {
			r, err := store.NewSectionReader(c.store, g.payload(), g.end())
			if err != nil {
				return nil, err
			}
			_, err = io.CopyBuffer(sw, r, buf)
			if err != nil {
				return nil, errors.UnknownError.WithFormat("stage fragment: %w", err)
			}
		}

		e.Head = f.Offset
		kept = append(kept, e)
	}

	if len(kept) == 0 {
		err = w.Truncate(0)
		if err != nil {
			return nil, errors.UnknownError.WithFormat("truncate store: %w", err)
		}
		result.After = 0
		c.logCompacted(result)
		return result, c.sync()
	}

	// Keep the old map at the end of the store until the data is moved
	dataEnd := sw.Offset() - stage
	_, err = sw.Write(encodeMap(c.layout, m.entries))
	if err != nil {
		return nil, errors.UnknownError.WithFormat("stage map: %w", err)
	}

	r, err := store.NewSectionReader(c.store, stage, stage+dataEnd)
	if err != nil {
		return nil, err
	}
	_, err = io.CopyBuffer(store.NewSectionWriter(w, 0, dataEnd), r, buf)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("move compacted data: %w", err)
	}

	n := &partitionMap{entries: kept, dataEnd: dataEnd, mapAt: -1}
	n.size, err = c.store.Len()
	if err != nil {
		return nil, errors.UnknownError.WithFormat("get store length: %w", err)
	}
	err = c.commit(n, -1)
	if err != nil {
		return nil, err
	}

	result.After = n.size
	c.logCompacted(result)
	return result, nil
}

func (c *Container) logCompacted(r *CompactResult) {
	mCompactReclaimed.Add(float64(r.Reclaimed()))
	c.logger.Debug("Compacted", "before", r.Before, "after", r.After, "reclaimed", r.Reclaimed(), "removed", r.Removed)
}
