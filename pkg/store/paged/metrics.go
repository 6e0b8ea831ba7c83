// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package paged

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mPageRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partstore",
		Subsystem: "paged",
		Name:      "page_read",
		Help:      "Number of pages read",
	})
	mPageWrite = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partstore",
		Subsystem: "paged",
		Name:      "page_write",
		Help:      "Number of pages written",
	})
)
