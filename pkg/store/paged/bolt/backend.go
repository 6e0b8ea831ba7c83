// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package bolt stores pages in a bbolt database.
package bolt

import (
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gitlab.com/accumulatenetwork/partstore/pkg/store/paged"
	bolt "go.etcd.io/bbolt"
)

// Backend is a [paged.Backend] that keeps pages in one bbolt bucket.
type Backend struct {
	opts
	bolt *bolt.DB
}

var _ paged.Backend = (*Backend)(nil)

type opts struct {
	bucket []byte
}

type Option func(*opts) error

// WithBucket sets the bucket that holds the pages. This allows several stores
// to share one database file.
func WithBucket(name string) Option {
	return func(o *opts) error {
		if name == "" {
			return errors.BadRequest.With("bucket name is empty")
		}
		o.bucket = []byte(name)
		return nil
	}
}

// Open opens or creates the database file.
func Open(filepath string, o ...Option) (*Backend, error) {
	d := new(Backend)
	d.bucket = []byte("pages")
	var err error
	for _, o := range o {
		err = o(&d.opts)
		if err != nil {
			return nil, errors.UnknownError.Wrap(err)
		}
	}

	d.bolt, err = bolt.Open(filepath, 0600, nil)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("open %q: %w", filepath, err)
	}

	err = d.bolt.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(d.bucket)
		return err
	})
	if err != nil {
		_ = d.bolt.Close()
		return nil, errors.UnknownError.WithFormat("create bucket: %w", err)
	}

	return d, nil
}

func (d *Backend) View(fn func(paged.Reader) error) error {
	return d.bolt.View(func(tx *bolt.Tx) error {
		return fn(bucket{tx.Bucket(d.bucket)})
	})
}

func (d *Backend) Update(fn func(paged.Writer) error) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return fn(bucket{tx.Bucket(d.bucket)})
	})
}

// Close closes the underlying database.
func (d *Backend) Close() error {
	return d.bolt.Close()
}

type bucket struct {
	b *bolt.Bucket
}

func (b bucket) Get(key []byte) ([]byte, error) {
	v := b.b.Get(key)
	if v == nil {
		return nil, errors.NotFound.WithFormat("key %x not found", key)
	}

	// Values are only valid for the life of the transaction
	u := make([]byte, len(v))
	copy(u, v)
	return u, nil
}

func (b bucket) Put(key, value []byte) error { return b.b.Put(key, value) }
func (b bucket) Delete(key []byte) error     { return b.b.Delete(key) }
