// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package partition

import (
	"encoding/binary"
	"fmt"
	"strings"

	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
)

const (
	// entrySize is the size of a map entry: id, head, length, flags.
	entrySize = 1 + 8 + 8 + 1

	// headerSize is the size of a fragment header: next, length.
	headerSize = 8 + 8

	// nilPointer marks the end of a fragment chain, or a partition that has
	// no fragments.
	nilPointer = -1
)

// Layout selects the encoding of the map-size trailer at the end of the
// store.
type Layout int

const (
	// LayoutCompact records the map size in a single byte, which limits the
	// map to 14 entries.
	LayoutCompact Layout = iota

	// LayoutWide records the map size as a little-endian 64-bit integer.
	LayoutWide
)

// ParseLayout parses "compact" or "wide".
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "", "compact":
		return LayoutCompact, nil
	case "wide":
		return LayoutWide, nil
	}
	return 0, errors.BadRequest.WithFormat("unknown layout %q", s)
}

func (l Layout) String() string {
	switch l {
	case LayoutCompact:
		return "compact"
	case LayoutWide:
		return "wide"
	}
	return fmt.Sprintf("Layout:%d", int(l))
}

func (l Layout) trailerSize() int64 {
	if l == LayoutWide {
		return 8
	}
	return 1
}

// maxMapSize is the largest map the trailer can describe.
func (l Layout) maxMapSize() int64 {
	if l == LayoutWide {
		return 256 * entrySize
	}
	return 255 / entrySize * entrySize
}

// MaxPartitions returns the number of map entries the layout can hold.
func (l Layout) MaxPartitions() int {
	return int(l.maxMapSize() / entrySize)
}

func (l Layout) encodeTrailer(b []byte, size int64) {
	if l == LayoutWide {
		binary.LittleEndian.PutUint64(b, uint64(size))
		return
	}
	b[0] = byte(size)
}

func (l Layout) decodeTrailer(b []byte) int64 {
	if l == LayoutWide {
		return int64(binary.LittleEndian.Uint64(b))
	}
	return int64(b[0])
}

// Flags is the state bitset of a map entry.
type Flags uint8

const (
	// FlagDeleted marks a soft-deleted partition. Its data is kept until the
	// store is compacted.
	FlagDeleted Flags = 1 << iota

	// FlagFragmented marks a partition whose data spans more than one
	// fragment.
	FlagFragmented
)

func (f Flags) String() string {
	var s []string
	if f&FlagDeleted != 0 {
		s = append(s, "deleted")
	}
	if f&FlagFragmented != 0 {
		s = append(s, "fragmented")
	}
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ",")
}

type entry struct {
	ID     uint8
	Head   int64
	Length int64
	Flags  Flags
}

func (e *entry) deleted() bool { return e.Flags&FlagDeleted != 0 }

func (e *entry) encode(b []byte) {
	b[0] = e.ID
	binary.LittleEndian.PutUint64(b[1:], uint64(e.Head))
	binary.LittleEndian.PutUint64(b[9:], uint64(e.Length))
	b[17] = byte(e.Flags)
}

func decodeEntry(b []byte) entry {
	return entry{
		ID:     b[0],
		Head:   int64(binary.LittleEndian.Uint64(b[1:])),
		Length: int64(binary.LittleEndian.Uint64(b[9:])),
		Flags:  Flags(b[17]),
	}
}

// Fragment describes one physical fragment of a partition.
type Fragment struct {
	// Offset is the position of the fragment header in the store.
	Offset int64

	// Next is the offset of the next fragment, or -1.
	Next int64

	// Length is the number of payload bytes.
	Length int64
}

func (f Fragment) payload() int64 { return f.Offset + headerSize }
func (f Fragment) end() int64     { return f.Offset + headerSize + f.Length }

func encodeHeader(b []byte, next, length int64) {
	binary.LittleEndian.PutUint64(b[0:], uint64(next))
	binary.LittleEndian.PutUint64(b[8:], uint64(length))
}
