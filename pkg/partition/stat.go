// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package partition

import (
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
)

// Stats describes the space usage of a container.
type Stats struct {
	Layout Layout

	// Size is the length of the store.
	Size int64

	// DataEnd is the end of the fragment region and the start of the map.
	DataEnd int64

	// MapSize is the size of the map, not including the trailer.
	MapSize int64

	Partitions []PartitionStats

	// Used is the number of bytes, headers included, held by the fragments
	// of all partitions.
	Used int64

	// Deleted is the part of Used held by soft-deleted partitions.
	Deleted int64

	// Debt is the number of bytes in the fragment region that no partition
	// can reach.
	Debt int64
}

// PartitionStats describes one entry of the map.
type PartitionStats struct {
	ID        uint8
	Length    int64
	Flags     Flags
	Fragments int
}

// Stat walks every fragment chain and reports the space usage of the store.
func (c *Container) Stat() (*Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.readMap()
	if err != nil {
		return nil, err
	}

	s := new(Stats)
	s.Layout = c.layout
	s.Size = m.size
	s.DataEnd = m.dataEnd
	s.MapSize = m.mapSize()
	for i := range m.entries {
		e := &m.entries[i]
		frags, err := c.fragments(m, e)
		if err != nil {
			return nil, err
		}

		var used int64
		for _, f := range frags {
			used += headerSize + f.Length
		}

		s.Used += used
		if e.deleted() {
			s.Deleted += used
		}
		s.Partitions = append(s.Partitions, PartitionStats{
			ID:        e.ID,
			Length:    e.Length,
			Flags:     e.Flags,
			Fragments: len(frags),
		})
	}
	s.Debt = s.DataEnd - s.Used
	return s, nil
}

// Verify checks the integrity of the map and of every fragment chain. It
// fails with CorruptMap if a pointer leaves the data region, two chains share
// a fragment, a chain contains a cycle, a partition's length does not match
// its fragments, or a multi-fragment partition is not marked as fragmented.
func (c *Container) Verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.readMap()
	if err != nil {
		return err
	}

	owner := map[int64]uint8{}
	for i := range m.entries {
		e := &m.entries[i]
		var sum int64
		var count int
		err = c.walk(m, e.Head, func(f Fragment) (bool, error) {
			if id, ok := owner[f.Offset]; ok {
				return false, errors.CorruptMap.WithFormat("fragment at %d of partition %d is already used by partition %d", f.Offset, e.ID, id)
			}
			owner[f.Offset] = e.ID
			sum += f.Length
			count++
			return true, nil
		})
		if err != nil {
			return err
		}

		switch {
		case sum != e.Length:
			return errors.CorruptMap.WithFormat("partition %d has length %d but its fragments hold %d bytes", e.ID, e.Length, sum)
		case count > 1 && e.Flags&FlagFragmented == 0:
			return errors.CorruptMap.WithFormat("partition %d has %d fragments but is not marked as fragmented", e.ID, count)
		}
	}
	return nil
}
