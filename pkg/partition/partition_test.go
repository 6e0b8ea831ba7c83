// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package partition_test

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	mrand "math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/accumulatenetwork/partstore/internal/logging"
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	. "gitlab.com/accumulatenetwork/partstore/pkg/partition"
	"gitlab.com/accumulatenetwork/partstore/pkg/store"
	"gitlab.com/accumulatenetwork/partstore/pkg/store/mmap"
	"gitlab.com/accumulatenetwork/partstore/pkg/store/paged"
	"golang.org/x/sync/errgroup"
)

type storeFunc = func(t testing.TB) store.WritableStore

var stores = []struct {
	Name string
	Open storeFunc
}{
	{"Buffer", func(testing.TB) store.WritableStore { return store.NewBuffer(nil) }},
	{"File", func(t testing.TB) store.WritableStore {
		s, err := store.OpenFile(filepath.Join(t.TempDir(), "store.bin"), false)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.(io.Closer).Close() })
		return s.(store.WritableStore)
	}},
	{"Mmap", func(t testing.TB) store.WritableStore {
		s, err := mmap.Open(filepath.Join(t.TempDir(), "store.bin"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
	{"Paged", func(t testing.TB) store.WritableStore {
		s, err := paged.Open(paged.NewMemoryBackend(), paged.WithPageSize(64))
		require.NoError(t, err)
		return s
	}},
}

func newContainer(t testing.TB, opts ...Option) (*Container, *store.Buffer) {
	buf := store.NewBuffer(nil)
	opts = append([]Option{WithLogger(logging.NewTestLogger(t))}, opts...)
	c, err := Open(buf, opts...)
	require.NoError(t, err)
	return c, buf
}

func readAll(t testing.TB, p *Partition) []byte {
	t.Helper()
	n, err := p.Len()
	require.NoError(t, err)
	b := make([]byte, n)
	_, err = p.ReadAt(b, 0)
	require.NoError(t, err)
	return b
}

func write(t testing.TB, p *Partition, off int64, s string) {
	t.Helper()
	_, err := p.WriteAt([]byte(s), off)
	require.NoError(t, err)
}

func listPartitions(t testing.TB, c *Container) map[uint8]bool {
	t.Helper()
	all := map[uint8]bool{}
	it := c.GetAllPartitions()
	it.Range(func(p *Partition) bool {
		deleted, err := p.IsDeleted()
		require.NoError(t, err)
		all[p.ID()] = deleted
		return true
	})
	require.NoError(t, it.Err())
	return all
}

func TestScenario(t *testing.T) {
	c, buf := newContainer(t)

	p, err := c.CreatePartition(1)
	require.NoError(t, err)
	require.Equal(t, []byte{
		0x01,                                           // id
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, // head
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // length
		0x00, // flags
		0x12, // map size
	}, buf.Bytes())

	write(t, p, 0, "ABC")
	n, err := p.Len()
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Equal(t, []byte{
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, // next
		0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // length
		'A', 'B', 'C',
		0x01,                                           // id
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // head
		0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // length
		0x00, // flags
		0x12, // map size
	}, buf.Bytes())
	require.Equal(t, map[uint8]bool{1: false}, listPartitions(t, c))

	require.NoError(t, c.DeletePartition(p))
	require.Equal(t, map[uint8]bool{1: true}, listPartitions(t, c))
	require.Equal(t, byte(FlagDeleted), buf.Bytes()[len(buf.Bytes())-2])

	_, err = p.ReadAt(make([]byte, 3), 0)
	require.ErrorIs(t, err, errors.InvalidState)
}

func TestRoundTrip(t *testing.T) {
	for _, s := range stores {
		t.Run(s.Name, func(t *testing.T) {
			c, err := Open(s.Open(t))
			require.NoError(t, err)

			// Interleave appends to two partitions so both become
			// fragmented
			var model [2][]byte
			var parts [2]*Partition
			for i := range parts {
				parts[i], err = c.CreatePartition(uint8(i + 1))
				require.NoError(t, err)
			}

			for i := 0; i < 20; i++ {
				j := i % 2
				b := make([]byte, 50+mrand.Intn(250))
				_, _ = rand.Read(b)
				off := int64(len(model[j]))
				_, err := parts[j].WriteAt(b, off)
				require.NoError(t, err)
				model[j] = append(model[j], b...)

				got := make([]byte, len(b))
				_, err = parts[j].ReadAt(got, off)
				require.NoError(t, err)
				require.Equal(t, b, got)
			}

			for j, p := range parts {
				require.Equal(t, model[j], readAll(t, p))
				flags, err := p.Flags()
				require.NoError(t, err)
				require.NotZero(t, flags&FlagFragmented)

				// Overwrite a span that crosses fragments and ends on the
				// last byte
				b := bytes.Repeat([]byte{0xAB}, 200)
				off := int64(len(model[j]) - len(b))
				_, err = p.WriteAt(b, off)
				require.NoError(t, err)
				copy(model[j][off:], b)
				require.Equal(t, model[j], readAll(t, p))
			}
			require.NoError(t, c.Verify())
		})
	}
}

func TestFragmentationTrigger(t *testing.T) {
	c, _ := newContainer(t)
	p1, err := c.CreatePartition(1)
	require.NoError(t, err)
	p2, err := c.CreatePartition(2)
	require.NoError(t, err)

	write(t, p1, 0, "aaaa")
	write(t, p1, 4, "bb")
	frags, err := p1.Fragments()
	require.NoError(t, err)
	require.Equal(t, []Fragment{{Offset: 0, Next: -1, Length: 6}}, frags)
	flags, err := p1.Flags()
	require.NoError(t, err)
	require.Zero(t, flags&FlagFragmented, "extending the physical tail must not fragment")

	write(t, p2, 0, "cc")
	write(t, p1, 6, "dd")
	frags, err = p1.Fragments()
	require.NoError(t, err)
	require.Equal(t, []Fragment{
		{Offset: 0, Next: 40, Length: 6},
		{Offset: 40, Next: -1, Length: 2},
	}, frags)
	flags, err = p1.Flags()
	require.NoError(t, err)
	require.NotZero(t, flags&FlagFragmented)

	// The new fragment is now at the tail so it grows in place
	write(t, p1, 8, "ee")
	frags, err = p1.Fragments()
	require.NoError(t, err)
	require.Equal(t, []Fragment{
		{Offset: 0, Next: 40, Length: 6},
		{Offset: 40, Next: -1, Length: 4},
	}, frags)
	require.Equal(t, "aaaabbddee", string(readAll(t, p1)))
	require.Equal(t, "cc", string(readAll(t, p2)))
	require.NoError(t, c.Verify())
}

func TestWriteCutsFragment(t *testing.T) {
	c, _ := newContainer(t)
	p, err := c.CreatePartition(1)
	require.NoError(t, err)

	write(t, p, 0, "abcdef")
	write(t, p, 1, "XY")
	require.Equal(t, "aXY", string(readAll(t, p)))

	s, err := c.Stat()
	require.NoError(t, err)
	require.Equal(t, int64(22), s.DataEnd)
	require.Equal(t, int64(19), s.Used)
	require.Equal(t, int64(3), s.Debt)
	require.NoError(t, c.Verify())
}

func TestWriteAcrossFragments(t *testing.T) {
	c, _ := newContainer(t)
	p1, err := c.CreatePartition(1)
	require.NoError(t, err)
	p2, err := c.CreatePartition(2)
	require.NoError(t, err)

	write(t, p1, 0, "aaaabb")
	write(t, p2, 0, "cc")
	write(t, p1, 6, "ddee")

	// Ends one byte before the end of the second fragment, which cuts it
	write(t, p1, 3, "XXXXXX")
	require.Equal(t, "aaaXXXXXX", string(readAll(t, p1)))
	frags, err := p1.Fragments()
	require.NoError(t, err)
	require.Len(t, frags, 2)
	require.Equal(t, int64(3), frags[1].Length)
	require.NoError(t, c.Verify())
}

func TestCapacity(t *testing.T) {
	t.Run("Compact", func(t *testing.T) {
		c, _ := newContainer(t)
		require.Equal(t, 14, c.Layout().MaxPartitions())
		for i := 0; i < 14; i++ {
			_, err := c.CreatePartition(uint8(i))
			require.NoError(t, err)
		}
		_, err := c.CreatePartition(14)
		require.ErrorIs(t, err, errors.CapacityExceeded)

		n, err := c.Len()
		require.NoError(t, err)
		require.Equal(t, 14, n)
	})

	t.Run("Wide", func(t *testing.T) {
		c, buf := newContainer(t, WithLayout(LayoutWide))
		for i := 0; i < 256; i++ {
			_, err := c.CreatePartition(uint8(i))
			require.NoError(t, err)
		}
		_, err := c.CreatePartition(7)
		require.ErrorIs(t, err, errors.PartitionAlreadyExists)

		b := buf.Bytes()
		require.Equal(t, uint64(256*18), binary.LittleEndian.Uint64(b[len(b)-8:]))
	})
}

func TestMapIntegrity(t *testing.T) {
	c, _ := newContainer(t, WithLayout(LayoutWide))
	model := map[uint8]bool{}
	rng := mrand.New(mrand.NewSource(1))

	for i := 0; i < 500; i++ {
		id := uint8(rng.Intn(40))
		deleted, exists := model[id]
		switch {
		case !exists:
			_, err := c.CreatePartition(id)
			require.NoError(t, err)
			model[id] = false

		case rng.Intn(2) == 0:
			_, err := c.CreatePartition(id)
			require.ErrorIs(t, err, errors.PartitionAlreadyExists)

		case deleted:
			p, err := c.Partition(id)
			require.NoError(t, err)
			require.NoError(t, c.RestorePartition(p))
			model[id] = false

		default:
			p, err := c.Partition(id)
			require.NoError(t, err)
			require.NoError(t, c.DeletePartition(p))
			model[id] = true
		}
	}

	require.Equal(t, model, listPartitions(t, c))
}

func TestLifecycleErrors(t *testing.T) {
	c, _ := newContainer(t)
	p, err := c.CreatePartition(1)
	require.NoError(t, err)

	require.ErrorIs(t, c.RestorePartition(p), errors.InvalidState)
	require.NoError(t, c.DeletePartition(p))
	require.ErrorIs(t, c.DeletePartition(p), errors.InvalidState)

	// Ids of soft-deleted partitions cannot be reused
	_, err = c.CreatePartition(1)
	require.ErrorIs(t, err, errors.PartitionAlreadyExists)

	for _, op := range []func() error{
		func() error { _, err := p.Len(); return err },
		func() error { _, err := p.Read(make([]byte, 1)); return err },
		func() error { _, err := p.Write([]byte("x")); return err },
		func() error { _, err := p.Seek(0, io.SeekStart); return err },
		func() error { return p.SetLength(10) },
	} {
		require.ErrorIs(t, op(), errors.InvalidState)
	}

	require.NoError(t, c.RestorePartition(p))
	write(t, p, 0, "ok")

	_, err = c.Partition(9)
	require.ErrorIs(t, err, errors.PartitionNotFound)
}

func TestOutOfRange(t *testing.T) {
	c, _ := newContainer(t)
	p, err := c.CreatePartition(1)
	require.NoError(t, err)
	write(t, p, 0, "hello")

	_, err = p.ReadAt(make([]byte, 3), 3)
	require.ErrorIs(t, err, errors.OutOfRange)
	_, err = p.ReadAt(make([]byte, 1), -1)
	require.ErrorIs(t, err, errors.OutOfRange)
	_, err = p.WriteAt([]byte("x"), 6)
	require.ErrorIs(t, err, errors.OutOfRange)
	_, err = p.Seek(6, io.SeekStart)
	require.ErrorIs(t, err, errors.OutOfRange)
	_, err = p.Seek(-6, io.SeekEnd)
	require.ErrorIs(t, err, errors.OutOfRange)
	require.ErrorIs(t, p.SetLength(-1), errors.OutOfRange)
}

func TestCursor(t *testing.T) {
	c, _ := newContainer(t)
	p, err := c.CreatePartition(1)
	require.NoError(t, err)

	_, err = p.Write([]byte("hello"))
	require.NoError(t, err)

	pos, err := p.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(3), pos)

	b := make([]byte, 10)
	n, err := p.Read(b)
	require.NoError(t, err)
	require.Equal(t, "lo", string(b[:n]))
	_, err = p.Read(b)
	require.ErrorIs(t, err, io.EOF)

	_, err = p.Write([]byte(" world"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(readAll(t, p)))

	_, err = p.Seek(0, io.SeekStart)
	require.NoError(t, err)
	got, err := io.ReadAll(p)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestSetLength(t *testing.T) {
	c, _ := newContainer(t)
	p1, err := c.CreatePartition(1)
	require.NoError(t, err)
	p2, err := c.CreatePartition(2)
	require.NoError(t, err)

	// Grow an empty partition
	require.NoError(t, p1.SetLength(4))
	require.Equal(t, []byte{0, 0, 0, 0}, readAll(t, p1))

	write(t, p1, 0, "aaaa")
	write(t, p2, 0, "cc")
	write(t, p1, 4, "dd")

	require.NoError(t, p1.SetLength(5))
	require.Equal(t, "aaaad", string(readAll(t, p1)))
	require.NoError(t, c.Verify())

	require.NoError(t, p1.SetLength(2))
	require.Equal(t, "aa", string(readAll(t, p1)))
	frags, err := p1.Fragments()
	require.NoError(t, err)
	require.Equal(t, []Fragment{{Offset: 0, Next: -1, Length: 2}}, frags)
	require.NoError(t, c.Verify())

	require.NoError(t, p1.SetLength(5))
	require.Equal(t, "aa\x00\x00\x00", string(readAll(t, p1)))

	require.NoError(t, p1.SetLength(0))
	frags, err = p1.Fragments()
	require.NoError(t, err)
	require.Equal(t, []Fragment{{Offset: 0, Next: -1, Length: 0}}, frags)
	write(t, p1, 0, "new")
	require.Equal(t, "new", string(readAll(t, p1)))
	require.Equal(t, "cc", string(readAll(t, p2)))
	require.NoError(t, c.Verify())
}

func TestZeroFillUsesChunks(t *testing.T) {
	c, _ := newContainer(t, WithCopyBuffer(32))
	p, err := c.CreatePartition(1)
	require.NoError(t, err)
	require.NoError(t, p.SetLength(1000))
	require.Equal(t, make([]byte, 1000), readAll(t, p))

	frags, err := p.Fragments()
	require.NoError(t, err)
	require.Len(t, frags, 1)
}

func TestCompact(t *testing.T) {
	setup := func(t *testing.T) (*Container, *store.Buffer, *Partition, *Partition) {
		c, buf := newContainer(t)
		p1, err := c.CreatePartition(1)
		require.NoError(t, err)
		p2, err := c.CreatePartition(2)
		require.NoError(t, err)
		_, err = c.CreatePartition(3)
		require.NoError(t, err)

		write(t, p1, 0, "aaaabb")
		write(t, p2, 0, "cc")
		write(t, p1, 6, "ddee")
		write(t, p1, 3, "XXXXXX")
		require.NoError(t, c.DeletePartition(p2))
		return c, buf, p1, p2
	}

	t.Run("Compact", func(t *testing.T) {
		c, buf, p1, _ := setup(t)
		r, err := c.Compact()
		require.NoError(t, err)
		require.Equal(t, []uint8{2}, r.Removed)
		require.Equal(t, int64(16+9+2*18+1), r.After)
		require.Equal(t, r.After, int64(len(buf.Bytes())))
		require.Equal(t, r.Before-r.After, r.Reclaimed())

		require.Equal(t, "aaaXXXXXX", string(readAll(t, p1)))
		frags, err := p1.Fragments()
		require.NoError(t, err)
		require.Equal(t, []Fragment{{Offset: 0, Next: -1, Length: 9}}, frags)
		flags, err := p1.Flags()
		require.NoError(t, err)
		require.Zero(t, flags)
		require.Equal(t, map[uint8]bool{1: false, 3: false}, listPartitions(t, c))

		s, err := c.Stat()
		require.NoError(t, err)
		require.Zero(t, s.Debt)
		require.NoError(t, c.Verify())

		// The partition is still usable
		write(t, p1, 9, "!")
		require.Equal(t, "aaaXXXXXX!", string(readAll(t, p1)))
	})

	t.Run("Defragment", func(t *testing.T) {
		c, _, p1, p2 := setup(t)
		r, err := c.Defragment()
		require.NoError(t, err)
		require.Empty(t, r.Removed)
		require.Equal(t, int64(16+9+16+2+3*18+1), r.After)
		require.Equal(t, map[uint8]bool{1: false, 2: true, 3: false}, listPartitions(t, c))

		require.NoError(t, c.RestorePartition(p2))
		require.Equal(t, "cc", string(readAll(t, p2)))
		require.Equal(t, "aaaXXXXXX", string(readAll(t, p1)))
		require.NoError(t, c.Verify())
	})

	t.Run("Remove", func(t *testing.T) {
		c, _, p1, p2 := setup(t)
		require.NoError(t, c.RemovePartition(p1))
		require.Equal(t, map[uint8]bool{2: true, 3: false}, listPartitions(t, c))
		_, err := p1.Len()
		require.ErrorIs(t, err, errors.PartitionNotFound)
		require.ErrorIs(t, c.RemovePartition(p1), errors.PartitionNotFound)

		// The id can be reused once the partition is gone
		p1, err = c.CreatePartition(1)
		require.NoError(t, err)
		write(t, p1, 0, "fresh")
		require.NoError(t, c.RestorePartition(p2))
		require.Equal(t, "cc", string(readAll(t, p2)))
		require.NoError(t, c.Verify())
	})

	t.Run("Empty", func(t *testing.T) {
		c, buf := newContainer(t)
		p, err := c.CreatePartition(1)
		require.NoError(t, err)
		write(t, p, 0, "data")
		require.NoError(t, c.DeletePartition(p))

		r, err := c.Compact()
		require.NoError(t, err)
		require.Equal(t, int64(0), r.After)
		require.Empty(t, buf.Bytes())
		require.Empty(t, listPartitions(t, c))
	})

	t.Run("SmallBuffer", func(t *testing.T) {
		c, _ := newContainer(t, WithCopyBuffer(16))
		p, err := c.CreatePartition(1)
		require.NoError(t, err)
		q, err := c.CreatePartition(2)
		require.NoError(t, err)

		var want []byte
		for i := 0; i < 10; i++ {
			b := bytes.Repeat([]byte{byte('a' + i)}, 37)
			_, err = p.Write(b)
			require.NoError(t, err)
			_, err = q.Write([]byte{byte(i)})
			require.NoError(t, err)
			want = append(want, b...)
		}

		_, err = c.Compact()
		require.NoError(t, err)
		require.Equal(t, want, readAll(t, p))
		require.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, readAll(t, q))
		require.NoError(t, c.Verify())
	})
}

func TestReadOnly(t *testing.T) {
	c, buf := newContainer(t)
	p, err := c.CreatePartition(1)
	require.NoError(t, err)
	write(t, p, 0, "data")

	c, err = Open(store.ReadOnly(buf))
	require.NoError(t, err)
	require.False(t, c.CanWrite())

	_, err = c.CreatePartition(2)
	require.ErrorIs(t, err, errors.UnsupportedOperation)

	p, err = c.Partition(1)
	require.NoError(t, err)
	require.Equal(t, "data", string(readAll(t, p)))
	_, err = p.WriteAt([]byte("x"), 0)
	require.ErrorIs(t, err, errors.UnsupportedOperation)
	require.ErrorIs(t, c.DeletePartition(p), errors.UnsupportedOperation)
	_, err = c.Compact()
	require.ErrorIs(t, err, errors.UnsupportedOperation)
}

func TestCorruptMap(t *testing.T) {
	valid := func() []byte {
		c, buf := newContainer(t)
		p, err := c.CreatePartition(1)
		require.NoError(t, err)
		write(t, p, 0, "data")
		_, err = c.CreatePartition(2)
		require.NoError(t, err)
		return append([]byte(nil), buf.Bytes()...)
	}

	cases := []struct {
		Name   string
		Modify func([]byte) []byte
	}{
		{"NotDivisible", func(b []byte) []byte { b[len(b)-1] = 17; return b }},
		{"TooLarge", func(b []byte) []byte { b[len(b)-1] = 252; return b }},
		{"DuplicateID", func(b []byte) []byte { b[len(b)-1-18] = 1; return b }},
		{"HeadOutsideData", func(b []byte) []byte { b[len(b)-1-36+1] = 0x7F; return b }},
		{"LengthWithoutHead", func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[len(b)-1-18+9:], 5) // Partition 2 has no fragments
			return b
		}},
	}
	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			_, err := Open(store.NewBuffer(c.Modify(valid())))
			require.ErrorIs(t, err, errors.CorruptMap)
		})
	}

	t.Run("BrokenChain", func(t *testing.T) {
		b := valid()
		b[8] = 99 // Fragment length
		c, err := Open(store.NewBuffer(b))
		require.NoError(t, err)
		require.ErrorIs(t, c.Verify(), errors.CorruptMap)

		p, err := c.Partition(1)
		require.NoError(t, err)
		_, err = p.ReadAt(make([]byte, 4), 0)
		require.ErrorIs(t, err, errors.CorruptMap)
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		b := valid()
		b[len(b)-1-36+9] = 3 // Logical length of partition 1
		c, err := Open(store.NewBuffer(b))
		require.NoError(t, err)
		require.ErrorIs(t, c.Verify(), errors.CorruptMap)
	})

	// Operations on a corrupt chain must fail without touching the store
	unchanged := func(t *testing.T, b []byte, fn func(*Container, *Partition) error) {
		t.Helper()
		before := append([]byte(nil), b...)
		buf := store.NewBuffer(b)
		c, err := Open(buf)
		require.NoError(t, err)
		p, err := c.Partition(1)
		require.NoError(t, err)

		require.ErrorIs(t, fn(c, p), errors.CorruptMap)
		require.Equal(t, before, buf.Bytes())

		_, err = Open(store.NewBuffer(buf.Bytes()))
		require.NoError(t, err)
	}

	hugeFragment := func() []byte {
		b := valid()
		binary.LittleEndian.PutUint64(b[8:], 1<<63-10) // Fragment length
		return b
	}
	shortEntry := func() []byte {
		b := valid()
		binary.LittleEndian.PutUint64(b[len(b)-1-36+9:], 3) // The chain holds 4 bytes
		return b
	}

	corrupt := []struct {
		Name  string
		Store func() []byte
		Op    func(*Container, *Partition) error
	}{
		{"HugeFragment/Write", hugeFragment, func(_ *Container, p *Partition) error {
			_, err := p.WriteAt([]byte("zzzz"), 0)
			return err
		}},
		{"HugeFragment/Read", hugeFragment, func(_ *Container, p *Partition) error {
			_, err := p.ReadAt(make([]byte, 4), 0)
			return err
		}},
		{"HugeFragment/Compact", hugeFragment, func(c *Container, _ *Partition) error {
			_, err := c.Compact()
			return err
		}},
		{"ShortEntry/Write", shortEntry, func(_ *Container, p *Partition) error {
			_, err := p.WriteAt([]byte("Z"), 3)
			return err
		}},
		{"ShortEntry/SetLength", shortEntry, func(_ *Container, p *Partition) error {
			return p.SetLength(1)
		}},
		{"ShortEntry/Compact", shortEntry, func(c *Container, _ *Partition) error {
			_, err := c.Defragment()
			return err
		}},
	}
	for _, c := range corrupt {
		t.Run(c.Name, func(t *testing.T) {
			unchanged(t, c.Store(), c.Op)
		})
	}
}

type recordingStore struct {
	*store.Buffer
	ops []string
}

func (s *recordingStore) WriteAt(b []byte, off int64) (int, error) {
	s.ops = append(s.ops, fmt.Sprintf("write@%d(%d)", off, len(b)))
	return s.Buffer.WriteAt(b, off)
}

func (s *recordingStore) Truncate(size int64) error {
	s.ops = append(s.ops, fmt.Sprintf("truncate(%d)", size))
	return s.Buffer.Truncate(size)
}

func (s *recordingStore) Sync() error {
	s.ops = append(s.ops, "sync")
	return nil
}

func TestSyncOrder(t *testing.T) {
	s := &recordingStore{Buffer: store.NewBuffer(nil)}
	c, err := Open(s, WithSync(true), WithLogger(logging.NewTestLogger(t)))
	require.NoError(t, err)
	p, err := c.CreatePartition(1)
	require.NoError(t, err)

	// First fragment, then the whole map
	s.ops = nil
	write(t, p, 0, "data")
	require.Equal(t, []string{"write@0(20)", "sync", "write@20(19)", "sync"}, s.ops)

	// Extend in place, then the whole map
	s.ops = nil
	write(t, p, 4, "more")
	require.Equal(t, []string{"write@20(4)", "write@0(16)", "sync", "write@24(19)", "sync"}, s.ops)

	// A single entry
	s.ops = nil
	require.NoError(t, c.DeletePartition(p))
	require.Equal(t, []string{"sync", "write@24(18)", "sync"}, s.ops)
}

func TestRandomOperations(t *testing.T) {
	type model struct {
		data    []byte
		deleted bool
	}

	rng := mrand.New(mrand.NewSource(1))
	c, _ := newContainer(t)
	models := map[uint8]*model{}
	ids := []uint8{1, 2, 3, 4}

	check := func(step int, op string) {
		t.Helper()
		require.NoError(t, c.Verify(), "step %d: %s", step, op)
		require.Len(t, listPartitions(t, c), len(models), "step %d: %s", step, op)
		for id, m := range models {
			p, err := c.Partition(id)
			require.NoError(t, err)
			deleted, err := p.IsDeleted()
			require.NoError(t, err)
			require.Equal(t, m.deleted, deleted, "step %d: %s", step, op)
			if !m.deleted {
				require.Equal(t, m.data, readAll(t, p), "step %d: %s %d", step, op, id)
			}
		}
	}

	for step := 0; step < 500; step++ {
		id := ids[rng.Intn(len(ids))]
		m := models[id]
		if m == nil {
			_, err := c.CreatePartition(id)
			require.NoError(t, err)
			models[id] = &model{data: []byte{}}
			check(step, "create")
			continue
		}

		p, err := c.Partition(id)
		require.NoError(t, err)

		var op string
		switch r := rng.Intn(10); {
		case m.deleted && r < 5:
			op = "restore"
			require.NoError(t, c.RestorePartition(p))
			m.deleted = false

		case m.deleted, r == 9:
			op = "compact"
			if rng.Intn(2) == 0 {
				_, err = c.Defragment()
				require.NoError(t, err)
				break
			}
			_, err = c.Compact()
			require.NoError(t, err)
			for id, m := range models {
				if m.deleted {
					delete(models, id)
				}
			}

		case r < 6:
			op = "write"
			length := int64(len(m.data))
			off := rng.Int63n(length + 1)
			data := make([]byte, 1+rng.Intn(40))
			_, _ = rng.Read(data)

			// A write that ends inside a fragment drops the rest of that
			// fragment
			frags, err := p.Fragments()
			require.NoError(t, err)
			end := off + int64(len(data))
			next := append(append([]byte{}, m.data[:off]...), data...)
			if end < length {
				var pos int64
				for _, f := range frags {
					pos += f.Length
					if pos >= end {
						break
					}
				}
				next = append(next, m.data[pos:]...)
			}

			write(t, p, off, string(data))
			m.data = next

		case r < 8:
			op = "resize"
			n := rng.Int63n(int64(len(m.data)) + 30)
			require.NoError(t, p.SetLength(n))
			if n < int64(len(m.data)) {
				m.data = m.data[:n]
			} else {
				m.data = append(m.data, make([]byte, n-int64(len(m.data)))...)
			}

		default:
			op = "delete"
			require.NoError(t, c.DeletePartition(p))
			m.deleted = true
		}
		check(step, op)
	}
}

func TestOptions(t *testing.T) {
	_, err := Open(store.NewBuffer(nil), WithLogger(nil))
	require.ErrorIs(t, err, errors.BadRequest)

	_, err = Open(store.NewBuffer(nil), WithCopyBuffer(8))
	require.ErrorIs(t, err, errors.BadRequest)

	_, err = Open(store.NewBuffer(nil), WithLayout(Layout(9)))
	require.ErrorIs(t, err, errors.BadRequest)
}

func TestShortStore(t *testing.T) {
	prefix := []byte("0123456789")
	buf := store.NewBuffer(append([]byte(nil), prefix...))
	c, err := Open(buf)
	require.NoError(t, err)
	require.Empty(t, listPartitions(t, c))

	p, err := c.CreatePartition(1)
	require.NoError(t, err)
	write(t, p, 0, "abc")
	require.Equal(t, prefix, buf.Bytes()[:len(prefix)])

	frags, err := p.Fragments()
	require.NoError(t, err)
	require.Equal(t, int64(len(prefix)), frags[0].Offset)

	s, err := c.Stat()
	require.NoError(t, err)
	require.Equal(t, int64(len(prefix)), s.Debt)
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.bin")
	for _, layout := range []Layout{LayoutCompact, LayoutWide} {
		t.Run(layout.String(), func(t *testing.T) {
			s, err := store.OpenFile(path+layout.String(), false)
			require.NoError(t, err)
			c, err := Open(s, WithLayout(layout), WithSync(true))
			require.NoError(t, err)
			p, err := c.CreatePartition(5)
			require.NoError(t, err)
			write(t, p, 0, "persisted")
			require.NoError(t, c.Close())

			s, err = store.OpenFile(path+layout.String(), true)
			require.NoError(t, err)
			c, err = Open(s, WithLayout(layout))
			require.NoError(t, err)
			defer c.Close()
			p, err = c.Partition(5)
			require.NoError(t, err)
			require.Equal(t, "persisted", string(readAll(t, p)))
		})
	}
}

func TestStreamCopy(t *testing.T) {
	c, _ := newContainer(t, WithCopyBuffer(64))
	p, err := c.CreatePartition(1)
	require.NoError(t, err)

	data := make([]byte, 1000)
	_, _ = rand.Read(data)
	n, err := io.Copy(p, bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)

	_, err = p.Seek(0, io.SeekStart)
	require.NoError(t, err)
	out := new(bytes.Buffer)
	n, err = io.Copy(out, p)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
	require.Equal(t, data, out.Bytes())
}

func TestConcurrentWrites(t *testing.T) {
	c, _ := newContainer(t)
	const N, M = 8, 50

	var errg errgroup.Group
	for i := 0; i < N; i++ {
		p, err := c.CreatePartition(uint8(i))
		require.NoError(t, err)
		chunk := bytes.Repeat([]byte{byte(i)}, 10)
		errg.Go(func() error {
			for j := 0; j < M; j++ {
				_, err := p.Write(chunk)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	// Read and inspect while the writers are running
	errg.Go(func() error {
		for j := 0; j < M; j++ {
			_, err := c.Stat()
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, errg.Wait())

	for i := 0; i < N; i++ {
		p, err := c.Partition(uint8(i))
		require.NoError(t, err)
		require.Equal(t, bytes.Repeat([]byte{byte(i)}, 10*M), readAll(t, p), fmt.Sprintf("partition %d", i))
	}
	require.NoError(t, c.Verify())
}

func TestIndependentContainers(t *testing.T) {
	var errg errgroup.Group
	for i := 0; i < 4; i++ {
		errg.Go(func() error {
			c, err := Open(store.NewBuffer(nil))
			if err != nil {
				return err
			}
			p, err := c.CreatePartition(1)
			if err != nil {
				return err
			}
			for j := 0; j < 100; j++ {
				_, err = p.Write([]byte{byte(j)})
				if err != nil {
					return err
				}
			}
			return c.Verify()
		})
	}
	require.NoError(t, errg.Wait())
}
