// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package errors

// Status is an error status code.
type Status uint64

// Error is an error with a status code, an optional cause, and the call stack
// where it was created.
type Error struct {
	Message   string
	Code      Status
	Cause     *Error
	CallStack []*CallSite
}

// CallSite is a location in the source.
type CallSite struct {
	FuncName string
	File     string
	Line     int64
}
