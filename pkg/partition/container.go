// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package partition carves a single byte store into independently
// addressable partitions.
//
// Partition data is stored as chains of fragments. Each fragment is a 16-byte
// header (the offset of the next fragment and the payload length, both
// little-endian int64) followed by the payload. The partition map sits at the
// end of the store: one 18-byte entry per partition (id, head pointer,
// logical length, flags) followed by a trailer that records the size of the
// map. The trailer is a single byte for [LayoutCompact] and eight bytes for
// [LayoutWide].
//
//	[ fragments ... ] [ map entries ... ] [ map size ]
//
// A container serializes every operation with a mutex it owns, so a
// container and its partitions are safe for concurrent use.
package partition

import (
	"io"
	"sync"

	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gitlab.com/accumulatenetwork/partstore/pkg/store"
	"golang.org/x/exp/slog"
)

// DefaultCopyBuffer is the size of the buffer used to move data during
// compaction and zero-fill.
const DefaultCopyBuffer = 1 << 16

// Container owns a backing store and its partition map.
type Container struct {
	mu         sync.Mutex
	store      store.Store
	layout     Layout
	logger     *slog.Logger
	syncWrites bool
	copyBuffer int
}

// An Option configures a container when it is opened.
type Option func(*Container) error

// WithLayout selects the map trailer encoding. The layout is not recorded in
// the store, so a store must always be opened with the layout it was
// created with.
func WithLayout(layout Layout) Option {
	return func(c *Container) error {
		switch layout {
		case LayoutCompact, LayoutWide:
			c.layout = layout
			return nil
		}
		return errors.BadRequest.WithFormat("unknown layout %v", layout)
	}
}

// WithLogger sets the logger. Records are tagged with module=partition.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) error {
		if logger == nil {
			return errors.BadRequest.With("logger is nil")
		}
		c.logger = logger.With("module", "partition")
		return nil
	}
}

// WithSync flushes the store before and after every map write, if the store
// implements [store.Syncer], so a map never refers to fragment data that has
// not reached the disk.
func WithSync(sync bool) Option {
	return func(c *Container) error {
		c.syncWrites = sync
		return nil
	}
}

// WithCopyBuffer sets the size of the buffer used to move data.
func WithCopyBuffer(size int) Option {
	return func(c *Container) error {
		if size < headerSize {
			return errors.BadRequest.WithFormat("copy buffer must be at least %d bytes", headerSize)
		}
		c.copyBuffer = size
		return nil
	}
}

// Open binds a container to a store. The container is writable if the store
// implements [store.WritableStore]. Open fails with CorruptMap if the store
// holds an invalid map.
func Open(s store.Store, opts ...Option) (*Container, error) {
	c := new(Container)
	c.store = s
	c.layout = LayoutCompact
	c.logger = slog.Default().With("module", "partition")
	c.copyBuffer = DefaultCopyBuffer
	for _, o := range opts {
		err := o(c)
		if err != nil {
			return nil, errors.UnknownError.Wrap(err)
		}
	}

	_, err := c.readMap()
	if err != nil {
		return nil, errors.UnknownError.WithFormat("open container: %w", err)
	}
	return c, nil
}

// Layout returns the layout of the container.
func (c *Container) Layout() Layout { return c.layout }

// CanWrite returns true if the backing store supports writing.
func (c *Container) CanWrite() bool { return store.IsWritable(c.store) }

// Close closes the backing store if it implements [io.Closer].
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.store.(io.Closer); ok {
		return d.Close()
	}
	return nil
}

// CreatePartition adds an empty partition. It fails with
// PartitionAlreadyExists if the id is in use, including by a soft-deleted
// partition, and with CapacityExceeded if the map is full.
func (c *Container) CreatePartition(id uint8) (*Partition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.CanWrite() {
		return nil, errors.UnsupportedOperation.With("store does not support writing")
	}

	m, err := c.readMap()
	if err != nil {
		return nil, err
	}

	if i, ok := m.find(id); ok {
		if m.entries[i].deleted() {
			return nil, errors.PartitionAlreadyExists.WithFormat("partition %d exists and is deleted", id)
		}
		return nil, errors.PartitionAlreadyExists.WithFormat("partition %d exists", id)
	}

	if m.mapSize()+entrySize > c.layout.maxMapSize() {
		return nil, errors.CapacityExceeded.WithFormat("map is full (%d partitions)", len(m.entries))
	}

	m.entries = append(m.entries, entry{ID: id, Head: nilPointer})
	err = c.commit(m, len(m.entries)-1)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Created partition", "id", id)
	return c.handle(id), nil
}

// DeletePartition marks a partition as deleted. Its data is kept until the
// container is compacted.
func (c *Container) DeletePartition(p *Partition) error {
	return c.setDeleted(p, true)
}

// RestorePartition clears the deleted mark of a partition. It fails with
// InvalidState if the partition is not deleted.
func (c *Container) RestorePartition(p *Partition) error {
	return c.setDeleted(p, false)
}

func (c *Container) setDeleted(p *Partition, deleted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, idx, err := c.lookup(p.id)
	if err != nil {
		return err
	}

	e := &m.entries[idx]
	switch {
	case deleted && e.deleted():
		return errors.InvalidState.WithFormat("partition %d is already deleted", e.ID)
	case !deleted && !e.deleted():
		return errors.InvalidState.WithFormat("partition %d is not deleted", e.ID)
	}

	e.Flags ^= FlagDeleted
	err = c.commit(m, idx)
	if err != nil {
		return err
	}

	if deleted {
		c.logger.Debug("Deleted partition", "id", e.ID)
	} else {
		c.logger.Debug("Restored partition", "id", e.ID)
	}
	return nil
}

// Partition returns a handle for the partition with the given id, or fails
// with PartitionNotFound.
func (c *Container) Partition(id uint8) (*Partition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	return c.handle(id), nil
}

// Len returns the number of partitions, including deleted ones.
func (c *Container) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.readMap()
	if err != nil {
		return 0, err
	}
	return len(m.entries), nil
}

// GetAllPartitions returns an iterator over every partition in map order,
// whether or not it is deleted.
func (c *Container) GetAllPartitions() *PartitionIterator {
	return &PartitionIterator{c: c}
}

// PartitionIterator iterates over the partitions of a container. Each call to
// Range reads the map again.
type PartitionIterator struct {
	c   *Container
	err error
}

// Range calls yield for each partition until yield returns false. The map is
// read once at the start; yield is called without holding the container
// lock.
func (it *PartitionIterator) Range(yield func(*Partition) bool) {
	it.c.mu.Lock()
	m, err := it.c.readMap()
	it.c.mu.Unlock()
	it.err = err
	if err != nil {
		return
	}

	for _, e := range m.entries {
		if !yield(it.c.handle(e.ID)) {
			return
		}
	}
}

// Err returns the error from the last call to Range, if any.
func (it *PartitionIterator) Err() error { return it.err }

// lookup reads the map and finds the entry for id.
func (c *Container) lookup(id uint8) (*partitionMap, int, error) {
	m, err := c.readMap()
	if err != nil {
		return nil, 0, err
	}
	i, ok := m.find(id)
	if !ok {
		return nil, 0, errors.PartitionNotFound.WithFormat("partition %d not found", id)
	}
	return m, i, nil
}

// live is lookup for operations that are not allowed on deleted partitions.
func (c *Container) live(id uint8) (*partitionMap, int, error) {
	m, i, err := c.lookup(id)
	if err != nil {
		return nil, 0, err
	}
	if m.entries[i].deleted() {
		return nil, 0, errors.InvalidState.WithFormat("partition %d is deleted", id)
	}
	return m, i, nil
}

func (c *Container) handle(id uint8) *Partition {
	return &Partition{c: c, id: id}
}
