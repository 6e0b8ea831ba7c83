// Copyright 2023 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package store

import (
	"io"

	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
)

// NewSectionReader returns a reader for the region [start, end) of the store.
// If end is negative the section extends to the current end of the store.
func NewSectionReader(s Store, start, end int64) (*io.SectionReader, error) {
	if end < 0 {
		var err error
		end, err = s.Len()
		if err != nil {
			return nil, err
		}
	}
	if start < 0 || end < start {
		return nil, errors.OutOfRange.WithFormat("invalid section [%d, %d)", start, end)
	}
	return io.NewSectionReader(s, start, end-start), nil
}

// SectionWriter writes sequentially into the region [start, end) of a store.
// If end is negative the section is unbounded.
type SectionWriter struct {
	wr io.WriterAt

	start, offset, end int64
}

func NewSectionWriter(wr io.WriterAt, start, end int64) *SectionWriter {
	return &SectionWriter{wr, start, start, end}
}

func (s *SectionWriter) Write(p []byte) (n int, err error) {
	if s.end >= 0 && s.offset+int64(len(p)) > s.end {
		return 0, errors.OutOfRange.With("attempted to write past the end of the section")
	}
	n, err = s.wr.WriteAt(p, s.offset)
	s.offset += int64(n)
	return n, err
}

func (s *SectionWriter) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		offset += s.start
	case io.SeekCurrent:
		offset += s.offset
	case io.SeekEnd:
		if s.end < 0 {
			return 0, errors.BadRequest.With("cannot seek from the end of an unbounded section")
		}
		offset += s.end
	default:
		return 0, errors.BadRequest.With("invalid whence")
	}

	if offset < s.start {
		return 0, errors.OutOfRange.With("attempted to seek past the start of the section")
	}
	if s.end >= 0 && offset > s.end {
		return 0, io.EOF
	}

	s.offset = offset
	return offset - s.start, nil
}

// Offset returns the absolute offset of the next write.
func (s *SectionWriter) Offset() int64 { return s.offset }
