// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package logging

import (
	"io"
	"strings"
	"testing"

	"golang.org/x/exp/slog"
)

// TestLogger writes each log line to the test log.
type TestLogger struct {
	Test testing.TB
}

var _ io.Writer = (*TestLogger)(nil)

func (l *TestLogger) Write(b []byte) (int, error) {
	l.Test.Log(strings.TrimSuffix(string(b), "\n"))
	return len(b), nil
}

// NewTestLogger returns a logger that writes plain text at debug level to
// the test log.
func NewTestLogger(t testing.TB) *slog.Logger {
	h, err := NewHandler(Config{Rules: []Rule{{Level: slog.LevelDebug}}}, &TestLogger{Test: t})
	if err != nil {
		t.Fatal(err)
	}
	return slog.New(h)
}
