// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package logging

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"golang.org/x/exp/slog"
)

// Config configures the handler built by [NewHandler].
type Config struct {
	// Format is plain, text, or json. Plain and text are the same.
	Format string

	// Rules sets the level per module. A rule with no module sets the
	// default level, which is error if no rule sets it.
	Rules []Rule

	// Color enables colored console output.
	Color bool
}

// Rule sets the log level for a module.
type Rule struct {
	Module string
	Level  slog.Level
}

// ParseRules parses a rule list such as "partition=debug;error". Rules are
// separated by semicolons or commas. A rule without a module sets the default
// level.
func ParseRules(s string) ([]Rule, error) {
	var rules []Rule
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' }) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var rule Rule
		level := part
		if i := strings.IndexByte(part, '='); i >= 0 {
			rule.Module, level = strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+1:])
			if rule.Module == "*" {
				rule.Module = ""
			}
		}

		err := rule.Level.UnmarshalText([]byte(level))
		if err != nil {
			return nil, errors.BadRequest.WithFormat("invalid log rule %q: %w", part, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ConsoleWriter returns a writer that formats JSON log lines for humans.
func ConsoleWriter(w io.Writer, color bool) io.Writer {
	return &zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !color,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			if ll, ok := i.(string); ok {
				return strings.ToUpper(ll)
			}
			return "????"
		},
		FormatMessage: func(i interface{}) string {
			s, ok := i.(string)
			if ok {
				return s
			}
			return fmt.Sprint(i)
		},
	}
}

// NewHandler builds a handler that writes to w and filters records by the
// level rules of their "module" attribute.
func NewHandler(cfg Config, w io.Writer) (slog.Handler, error) {
	defaultLevel := slog.LevelError
	modules := map[string]slog.Level{}
	for _, r := range cfg.Rules {
		if r.Module == "" {
			defaultLevel = r.Level
		} else {
			modules[strings.ToLower(r.Module)] = r.Level
		}
	}

	lowestLevel := defaultLevel
	for _, l := range modules {
		if l < lowestLevel {
			lowestLevel = l
		}
	}

	opts := &slog.HandlerOptions{
		Level: lowestLevel,
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text", "plain":
		// Use zerolog's console writer to write pretty logs
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.MessageKey || len(groups) > 0 {
				return a
			}
			if a.Value.Kind() == slog.KindString {
				return slog.Any(zerolog.MessageFieldName, a.Value)
			}
			return slog.String(zerolog.MessageFieldName, fmt.Sprint(a.Value.Any()))
		}
		h = slog.NewJSONHandler(ConsoleWriter(w, cfg.Color), opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, errors.BadRequest.WithFormat("log format %q is not supported", cfg.Format)
	}

	return &logHandler{
		handler:      h,
		defaultLevel: defaultLevel,
		level:        defaultLevel,
		lowestLevel:  lowestLevel,
		modules:      modules,
	}, nil
}

type logHandler struct {
	handler      slog.Handler
	defaultLevel slog.Level
	lowestLevel  slog.Level
	modules      map[string]slog.Level

	// level is the level that applies to records that do not carry a
	// module attribute of their own
	level slog.Level
}

func (h *logHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	i := *h
	i.handler = h.handler.WithAttrs(attrs)
	i.level = h.levelFor(h.level, attrs)
	return &i
}

func (h *logHandler) WithGroup(name string) slog.Handler {
	i := *h
	i.handler = h.handler.WithGroup(name)
	return &i
}

func (h *logHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.lowestLevel {
		return false
	}
	return h.handler.Enabled(ctx, level)
}

func (h *logHandler) Handle(ctx context.Context, record slog.Record) error {
	level := h.levelFor(h.level, Attrs(ctx))
	var attrs []slog.Attr
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	level = h.levelFor(level, attrs)
	if record.Level < level {
		return nil
	}

	if ctxAttrs := Attrs(ctx); len(ctxAttrs) > 0 {
		record = record.Clone()
		record.AddAttrs(ctxAttrs...)
	}
	return h.handler.Handle(ctx, record)
}

// levelFor returns the level of the last module attribute that has a rule,
// or level if there is none.
func (h *logHandler) levelFor(level slog.Level, attrs []slog.Attr) slog.Level {
	for _, a := range attrs {
		if a.Key != "module" {
			continue
		}
		if l, ok := h.modules[strings.ToLower(a.Value.String())]; ok {
			level = l
		} else {
			level = h.defaultLevel
		}
	}
	return level
}
