// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package partition

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mBytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partstore",
		Subsystem: "partition",
		Name:      "bytes_read",
		Help:      "Number of partition bytes read",
	})
	mBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partstore",
		Subsystem: "partition",
		Name:      "bytes_written",
		Help:      "Number of partition bytes written",
	})
	mFragmentAppend = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partstore",
		Subsystem: "partition",
		Name:      "fragment_append",
		Help:      "Number of fragments appended to the data region",
	})
	mFragmentExtend = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partstore",
		Subsystem: "partition",
		Name:      "fragment_extend",
		Help:      "Number of fragments extended in place",
	})
	mFragmentCut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partstore",
		Subsystem: "partition",
		Name:      "fragment_cut",
		Help:      "Number of fragments shortened by a write or truncation",
	})
	mMapWrite = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partstore",
		Subsystem: "partition",
		Name:      "map_write",
		Help:      "Number of partition map writes",
	}, []string{"kind"})
	mCompactReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partstore",
		Subsystem: "partition",
		Name:      "compact_reclaimed_bytes",
		Help:      "Number of bytes reclaimed by compaction",
	})
	mCompactDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "partstore",
		Subsystem: "partition",
		Name:      "compact_duration_seconds",
		Help:      "Duration of compaction passes",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)
