// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package partition

import (
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gitlab.com/accumulatenetwork/partstore/pkg/store"
	"golang.org/x/exp/slices"
)

// partitionMap is an in-memory copy of the map at the tail of the store.
type partitionMap struct {
	entries []entry

	// dataEnd is the end of the fragment region. The map and trailer are
	// written here.
	dataEnd int64

	// size is the length of the store.
	size int64

	// mapAt and stored describe the map as it is currently on disk. mapAt is
	// -1 if the store has no map.
	mapAt  int64
	stored int
}

func (m *partitionMap) find(id uint8) (int, bool) {
	i := slices.IndexFunc(m.entries, func(e entry) bool { return e.ID == id })
	return i, i >= 0
}

func (m *partitionMap) mapSize() int64 {
	return int64(len(m.entries)) * entrySize
}

// readMap loads and validates the partition map.
func (c *Container) readMap() (*partitionMap, error) {
	size, err := c.store.Len()
	if err != nil {
		return nil, errors.UnknownError.WithFormat("get store length: %w", err)
	}

	m := &partitionMap{dataEnd: size, size: size, mapAt: -1}
	trailer := c.layout.trailerSize()
	if size < entrySize+trailer {
		// Too short to hold a map
		return m, nil
	}

	var b [8]byte
	err = store.ReadFull(c.store, b[:trailer], size-trailer)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("read map size: %w", err)
	}

	mapSize := c.layout.decodeTrailer(b[:trailer])
	switch {
	case mapSize < 0,
		mapSize%entrySize != 0:
		return nil, errors.CorruptMap.WithFormat("invalid map size %d", mapSize)
	case mapSize > c.layout.maxMapSize(),
		mapSize+trailer > size:
		return nil, errors.CorruptMap.WithFormat("map size %d exceeds the store", mapSize)
	}

	raw := make([]byte, mapSize)
	m.dataEnd = size - trailer - mapSize
	m.mapAt = m.dataEnd
	err = store.ReadFull(c.store, raw, m.dataEnd)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("read map: %w", err)
	}

	m.entries = make([]entry, 0, mapSize/entrySize)
	var seen [256]bool
	for len(raw) > 0 {
		e := decodeEntry(raw)
		raw = raw[entrySize:]
		switch {
		case seen[e.ID]:
			return nil, errors.CorruptMap.WithFormat("duplicate partition %d", e.ID)
		case e.Length < 0,
			e.Head < nilPointer,
			e.Head >= m.dataEnd,
			e.Head == nilPointer && e.Length != 0:
			return nil, errors.CorruptMap.WithFormat("invalid entry for partition %d", e.ID)
		}
		seen[e.ID] = true
		m.entries = append(m.entries, e)
	}
	m.stored = len(m.entries)
	return m, nil
}

// commit persists a change to the map. If the map has not moved and has not
// changed size, only the entry at idx is rewritten. Otherwise the whole map
// is written at dataEnd and the store is truncated if it became shorter.
// Callers must write fragment data before committing.
func (c *Container) commit(m *partitionMap, idx int) error {
	w, err := store.Writable(c.store)
	if err != nil {
		return err
	}

	// The fragments the map points to must be durable before the map is
	err = c.sync()
	if err != nil {
		return err
	}

	if idx >= 0 && m.mapAt == m.dataEnd && m.stored == len(m.entries) {
		var b [entrySize]byte
		m.entries[idx].encode(b[:])
		_, err = w.WriteAt(b[:], m.dataEnd+int64(idx)*entrySize)
		if err != nil {
			return errors.UnknownError.WithFormat("write map entry: %w", err)
		}
		mMapWrite.WithLabelValues("entry").Inc()
		return c.sync()
	}

	b := encodeMap(c.layout, m.entries)
	_, err = w.WriteAt(b, m.dataEnd)
	if err != nil {
		return errors.UnknownError.WithFormat("write map: %w", err)
	}

	end := m.dataEnd + int64(len(b))
	if end < m.size {
		err = w.Truncate(end)
		if err != nil {
			return errors.UnknownError.WithFormat("truncate store: %w", err)
		}
	}

	m.size = end
	m.mapAt = m.dataEnd
	m.stored = len(m.entries)
	mMapWrite.WithLabelValues("full").Inc()
	return c.sync()
}

func encodeMap(layout Layout, entries []entry) []byte {
	n := int64(len(entries)) * entrySize
	b := make([]byte, n+layout.trailerSize())
	for i := range entries {
		entries[i].encode(b[int64(i)*entrySize:])
	}
	layout.encodeTrailer(b[n:], n)
	return b
}

func (c *Container) sync() error {
	if !c.syncWrites {
		return nil
	}
	s, ok := c.store.(store.Syncer)
	if !ok {
		return nil
	}
	err := s.Sync()
	if err != nil {
		return errors.UnknownError.WithFormat("sync: %w", err)
	}
	return nil
}
