// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package storetest is a conformance suite for [store.WritableStore]
// implementations.
package storetest

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/accumulatenetwork/partstore/pkg/store"
)

// Opener opens the store under test. Calling it again must reopen the same
// underlying data, or return a fresh store if the implementation is not
// persistent.
type Opener = func() (store.WritableStore, error)

type closableStore struct {
	store.WritableStore
	t      testing.TB
	closed bool
}

func (c *closableStore) Close() {
	if c.closed {
		return
	}
	c.closed = true

	if d, ok := c.WritableStore.(io.Closer); ok {
		require.NoError(c.t, d.Close())
	}
}

func openStore(t testing.TB, open Opener) *closableStore {
	s, err := open()
	require.NoError(t, err)
	c := &closableStore{s, t, false}
	t.Cleanup(c.Close)
	return c
}

// TestStore runs the full suite. Each case gets its own opener, so a
// persistent store must be placed in a fresh location for every call to
// newOpener.
func TestStore(t *testing.T, newOpener func(testing.TB) Opener) {
	t.Run("Empty", func(t *testing.T) { TestEmpty(t, newOpener(t)) })
	t.Run("ReadWrite", func(t *testing.T) { TestReadWrite(t, newOpener(t)) })
	t.Run("Grow", func(t *testing.T) { TestGrow(t, newOpener(t)) })
	t.Run("Truncate", func(t *testing.T) { TestTruncate(t, newOpener(t)) })
	t.Run("ReadPastEnd", func(t *testing.T) { TestReadPastEnd(t, newOpener(t)) })
}

func TestEmpty(t *testing.T, open Opener) {
	s := openStore(t, open)
	n, err := s.Len()
	require.NoError(t, err)
	require.Zero(t, n)

	var b [1]byte
	_, err = s.ReadAt(b[:], 0)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadWrite(t *testing.T, open Opener) {
	const N = 3 << 12
	data := make([]byte, N)
	_, _ = rand.Read(data)

	s := openStore(t, open)
	_, err := s.WriteAt(data, 0)
	require.NoError(t, err)

	// Overwrite a span that crosses any page boundary
	patch := bytes.Repeat([]byte{0xAB}, 100)
	_, err = s.WriteAt(patch, 4096-50)
	require.NoError(t, err)
	copy(data[4096-50:], patch)

	n, err := s.Len()
	require.NoError(t, err)
	require.Equal(t, int64(N), n)

	got := make([]byte, N)
	require.NoError(t, store.ReadFull(s, got, 0))
	require.Equal(t, data, got)

	// Verify with a fresh instance
	s.Close()
	s = openStore(t, open)
	n, err = s.Len()
	require.NoError(t, err)
	if n == 0 {
		return // Not persistent
	}
	got = make([]byte, N)
	require.NoError(t, store.ReadFull(s, got, 0))
	require.Equal(t, data, got)
}

func TestGrow(t *testing.T, open Opener) {
	s := openStore(t, open)
	_, err := s.WriteAt([]byte("foo"), 0)
	require.NoError(t, err)

	// Writing past the end pads with zeros
	_, err = s.WriteAt([]byte("bar"), 10)
	require.NoError(t, err)

	n, err := s.Len()
	require.NoError(t, err)
	require.Equal(t, int64(13), n)

	got := make([]byte, 13)
	require.NoError(t, store.ReadFull(s, got, 0))
	require.Equal(t, []byte("foo\x00\x00\x00\x00\x00\x00\x00bar"), got)
}

func TestTruncate(t *testing.T, open Opener) {
	s := openStore(t, open)
	_, err := s.WriteAt(bytes.Repeat([]byte{1}, 100), 0)
	require.NoError(t, err)

	require.NoError(t, s.Truncate(10))
	n, err := s.Len()
	require.NoError(t, err)
	require.Equal(t, int64(10), n)

	// Growing again must not resurrect the old bytes
	require.NoError(t, s.Truncate(20))
	got := make([]byte, 20)
	require.NoError(t, store.ReadFull(s, got, 0))
	require.Equal(t, append(bytes.Repeat([]byte{1}, 10), make([]byte, 10)...), got)
}

func TestReadPastEnd(t *testing.T, open Opener) {
	s := openStore(t, open)
	_, err := s.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)

	b := make([]byte, 10)
	n, err := s.ReadAt(b, 2)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 3, n)
	require.Equal(t, "llo", string(b[:n]))

	err = store.ReadFull(s, b, 2)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
