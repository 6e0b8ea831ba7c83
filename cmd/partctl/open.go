// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"io"
	"strconv"

	"gitlab.com/accumulatenetwork/partstore/internal/config"
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gitlab.com/accumulatenetwork/partstore/pkg/partition"
	"gitlab.com/accumulatenetwork/partstore/pkg/store"
	"gitlab.com/accumulatenetwork/partstore/pkg/store/mmap"
	"gitlab.com/accumulatenetwork/partstore/pkg/store/paged"
	"gitlab.com/accumulatenetwork/partstore/pkg/store/paged/badger"
	"gitlab.com/accumulatenetwork/partstore/pkg/store/paged/bolt"
	"gitlab.com/accumulatenetwork/partstore/pkg/store/paged/leveldb"
	"golang.org/x/exp/slog"
)

// openStore opens the backing store described by the configuration.
func openStore(c *config.Config) (store.Store, error) {
	var s store.Store
	var err error
	switch c.Store.Type {
	case config.StoreTypeFile:
		return store.OpenFile(c.Store.Path, c.Store.ReadOnly)

	case config.StoreTypeMmap:
		if c.Store.ReadOnly {
			return mmap.OpenReadOnly(c.Store.Path)
		}
		return mmap.Open(c.Store.Path)

	case config.StoreTypeMemory:
		s = store.NewBuffer(nil)

	case config.StoreTypeBolt:
		var b *bolt.Backend
		b, err = bolt.Open(c.Store.Path)
		if err == nil {
			s, err = openPaged(b, c)
		}

	case config.StoreTypeLevelDB:
		var b *leveldb.Backend
		b, err = leveldb.OpenFile(c.Store.Path)
		if err == nil {
			s, err = openPaged(b, c)
		}

	case config.StoreTypeBadger:
		var b *badger.Backend
		b, err = badger.New(c.Store.Path)
		if err == nil {
			s, err = openPaged(b, c)
		}

	default:
		return nil, errors.BadRequest.WithFormat("unknown store type %q", c.Store.Type)
	}
	if err != nil {
		return nil, err
	}

	if c.Store.ReadOnly {
		s = store.ReadOnly(s)
	}
	return s, nil
}

type closableBackend interface {
	paged.Backend
	io.Closer
}

func openPaged(b closableBackend, c *config.Config) (store.Store, error) {
	var opts []paged.Option
	if c.Store.PageSize > 0 {
		opts = append(opts, paged.WithPageSize(c.Store.PageSize))
	}
	s, err := paged.Open(b, opts...)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return s, nil
}

// openContainer opens the store and binds a container to it.
func openContainer() *partition.Container {
	s, err := openStore(cfg)
	checkf(err, "open %s store", cfg.Store.Type)

	layout, err := cfg.PartitionLayout()
	check(err)

	c, err := partition.Open(s,
		partition.WithLayout(layout),
		partition.WithSync(cfg.Sync),
		partition.WithLogger(slog.Default()),
	)
	if err != nil {
		if d, ok := s.(io.Closer); ok {
			_ = d.Close()
		}
		checkf(err, "open container")
	}
	return c
}

func parseID(s string) uint8 {
	id, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		fatalf("invalid partition id %q: must be 0-255", s)
	}
	return uint8(id)
}

func getPartition(c *partition.Container, arg string) *partition.Partition {
	id := parseID(arg)
	p, err := c.Partition(id)
	checkf(err, "get partition %d", id)
	return p
}
