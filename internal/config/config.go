// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package config loads the configuration that describes how to open a
// partitioned container.
package config

import (
	"io/fs"
	"strings"

	"gitlab.com/accumulatenetwork/partstore/internal/logging"
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gitlab.com/accumulatenetwork/partstore/pkg/partition"
)

// StoreType is the kind of backing store.
type StoreType string

const (
	StoreTypeFile    StoreType = "file"
	StoreTypeMmap    StoreType = "mmap"
	StoreTypeMemory  StoreType = "memory"
	StoreTypeBolt    StoreType = "bolt"
	StoreTypeLevelDB StoreType = "leveldb"
	StoreTypeBadger  StoreType = "badger"
)

type Config struct {
	file string
	fs   fs.FS

	// DotEnv enables ${VAR} expansion from a .env file next to the
	// configuration file.
	DotEnv *bool `json:"dotEnv,omitempty"`

	Store   Store   `json:"store"`
	Layout  string  `json:"layout,omitempty"`
	Sync    bool    `json:"sync,omitempty"`
	Logging Logging `json:"logging"`
}

type Store struct {
	Type     StoreType `json:"type,omitempty"`
	Path     string    `json:"path,omitempty"`
	ReadOnly bool      `json:"readOnly,omitempty"`

	// PageSize is the page size of a new bolt, leveldb, or badger store.
	PageSize int `json:"pageSize,omitempty"`
}

type Logging struct {
	Format string   `json:"format,omitempty"`
	Rules  []string `json:"rules,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store:   Store{Type: StoreTypeFile},
		Layout:  partition.LayoutCompact.String(),
		Logging: Logging{Format: "plain", Rules: []string{"error"}},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreTypeMemory:
	case StoreTypeFile, StoreTypeMmap, StoreTypeBolt, StoreTypeLevelDB, StoreTypeBadger:
		if c.Store.Path == "" {
			return errors.BadRequest.WithFormat("a %s store requires a path", c.Store.Type)
		}
	default:
		return errors.BadRequest.WithFormat("unknown store type %q", c.Store.Type)
	}

	if c.Store.PageSize < 0 {
		return errors.BadRequest.WithFormat("invalid page size %d", c.Store.PageSize)
	}

	_, err := c.PartitionLayout()
	if err != nil {
		return err
	}
	_, err = c.LogConfig()
	return err
}

// PartitionLayout parses the layout.
func (c *Config) PartitionLayout() (partition.Layout, error) {
	return partition.ParseLayout(c.Layout)
}

// LogConfig builds the handler configuration.
func (c *Config) LogConfig() (logging.Config, error) {
	rules, err := logging.ParseRules(strings.Join(c.Logging.Rules, ";"))
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{Format: c.Logging.Format, Rules: rules}, nil
}
