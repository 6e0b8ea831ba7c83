// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package errors

import (
	"fmt"
	"strings"
)

// OK means the request completed successfully.
const OK Status = 200

// BadRequest means the request was invalid.
const BadRequest Status = 400

// NotAllowed means the requested action is not allowed.
const NotAllowed Status = 403

// NotFound means a record could not be found.
const NotFound Status = 404

// Conflict means the request failed due to a conflict.
const Conflict Status = 409

// UnsupportedOperation means the backing store does not support the operation,
// typically a write to a read-only store.
const UnsupportedOperation Status = 405

// PartitionNotFound means the partition map has no entry with the given ID.
const PartitionNotFound Status = 410

// PartitionAlreadyExists means a partition with the given ID already exists.
const PartitionAlreadyExists Status = 411

// InvalidState means the partition is not in a state that allows the
// operation, for example reading a deleted partition.
const InvalidState Status = 412

// OutOfRange means an offset or length lies outside the partition.
const OutOfRange Status = 416

// CapacityExceeded means the partition map cannot hold another entry.
const CapacityExceeded Status = 507

// CorruptMap means the partition map or a fragment chain is malformed.
const CorruptMap Status = 422

// InternalError means an internal error occurred.
const InternalError Status = 500

// UnknownError means an unknown error occurred.
const UnknownError Status = 520

var statusNames = map[Status]string{
	OK:                     "ok",
	BadRequest:             "badRequest",
	NotAllowed:             "notAllowed",
	NotFound:               "notFound",
	Conflict:               "conflict",
	UnsupportedOperation:   "unsupportedOperation",
	PartitionNotFound:      "partitionNotFound",
	PartitionAlreadyExists: "partitionAlreadyExists",
	InvalidState:           "invalidState",
	OutOfRange:             "outOfRange",
	CapacityExceeded:       "capacityExceeded",
	CorruptMap:             "corruptMap",
	InternalError:          "internalError",
	UnknownError:           "unknownError",
}

// GetEnumValue returns the value of the Status
func (v Status) GetEnumValue() uint64 { return uint64(v) }

// SetEnumValue sets the value. SetEnumValue returns false if the value is invalid.
func (v *Status) SetEnumValue(id uint64) bool {
	u := Status(id)
	if _, ok := statusNames[u]; !ok {
		return false
	}
	*v = u
	return true
}

// String returns the name of the Status.
func (v Status) String() string {
	if s, ok := statusNames[v]; ok {
		return s
	}
	return fmt.Sprintf("Status:%d", v)
}

// StatusByName returns the named Status.
func StatusByName(name string) (Status, bool) {
	for v, s := range statusNames {
		if strings.EqualFold(s, name) {
			return v, true
		}
	}
	return 0, false
}
