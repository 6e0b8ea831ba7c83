// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package badger stores pages in a Badger database.
package badger

import (
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gitlab.com/accumulatenetwork/partstore/pkg/store/paged"
	"golang.org/x/exp/slog"
)

// Backend is a [paged.Backend] backed by Badger.
type Backend struct {
	badger *badger.DB
}

var _ paged.Backend = (*Backend)(nil)

type opts struct {
	inMemory bool
}

type Option func(*opts) error

// InMemory runs Badger without touching the disk.
func InMemory(o *opts) error {
	o.inMemory = true
	return nil
}

// New opens or creates the database directory.
func New(filepath string, o ...Option) (*Backend, error) {
	var options opts
	for _, o := range o {
		err := o(&options)
		if err != nil {
			return nil, errors.UnknownError.Wrap(err)
		}
	}

	var bopts badger.Options
	if options.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Make sure all directories exist
		err := os.MkdirAll(filepath, 0700)
		if err != nil {
			return nil, errors.UnknownError.WithFormat("open badger: create %q: %w", filepath, err)
		}
		bopts = badger.DefaultOptions(filepath)
	}
	bopts = bopts.WithLogger(slogger{})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("open badger: %w", err)
	}
	return &Backend{db}, nil
}

func (d *Backend) View(fn func(paged.Reader) error) error {
	return d.badger.View(func(txn *badger.Txn) error {
		return fn(transaction{txn})
	})
}

func (d *Backend) Update(fn func(paged.Writer) error) error {
	return d.badger.Update(func(txn *badger.Txn) error {
		return fn(transaction{txn})
	})
}

// Close closes the underlying database.
func (d *Backend) Close() error {
	return d.badger.Close()
}

type transaction struct {
	txn *badger.Txn
}

func (t transaction) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	switch {
	case err == nil:
		// Ok
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, errors.NotFound.Wrap(err)
	default:
		return nil, err
	}

	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, errors.UnknownError.WithFormat("get %x: %w", key, err)
	}
	return v, nil
}

func (t transaction) Put(key, value []byte) error {
	// Badger holds on to the slices until the transaction commits
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	return t.txn.Set(k, v)
}

func (t transaction) Delete(key []byte) error {
	return t.txn.Delete(append([]byte(nil), key...))
}

type slogger struct{}

func (l slogger) format(format string, args ...interface{}) string {
	s := fmt.Sprintf(format, args...)
	return strings.TrimRight(s, "\n")
}

func (l slogger) Errorf(format string, args ...interface{}) {
	slog.Error(l.format(format, args...), "module", "badger")
}

func (l slogger) Warningf(format string, args ...interface{}) {
	slog.Warn(l.format(format, args...), "module", "badger")
}

func (l slogger) Infof(format string, args ...interface{}) {
	slog.Debug(l.format(format, args...), "module", "badger")
}

func (l slogger) Debugf(format string, args ...interface{}) {
	slog.Debug(l.format(format, args...), "module", "badger")
}
