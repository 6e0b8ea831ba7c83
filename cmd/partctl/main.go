// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gitlab.com/accumulatenetwork/partstore/internal/config"
	"gitlab.com/accumulatenetwork/partstore/internal/logging"
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"golang.org/x/exp/slog"
)

var cmd = &cobra.Command{
	Use:              "partctl",
	Short:            "Inspect and modify partitioned stores",
	PersistentPreRun: setup,
}

var flag = struct {
	Config    string
	Store     string
	Path      string
	ReadOnly  bool
	Layout    string
	LogLevel  string
	LogFormat string
}{}

// cfg is the effective configuration, set up before any command runs.
var cfg *config.Config

func init() {
	cmd.PersistentFlags().StringVarP(&flag.Config, "config", "c", "", "Configuration file (.toml, .yaml, or .json)")
	cmd.PersistentFlags().StringVar(&flag.Store, "store", "file", "Store type (file, mmap, memory, bolt, leveldb, badger)")
	cmd.PersistentFlags().StringVarP(&flag.Path, "path", "p", "", "Path of the store")
	cmd.PersistentFlags().BoolVar(&flag.ReadOnly, "read-only", false, "Open the store read-only")
	cmd.PersistentFlags().StringVar(&flag.Layout, "layout", "compact", "Map layout (compact, wide)")
	cmd.PersistentFlags().StringVar(&flag.LogLevel, "log-level", "error", "Log rules, such as partition=debug;error")
	cmd.PersistentFlags().StringVar(&flag.LogFormat, "log-format", "plain", "Log format (plain, json)")
}

func main() {
	_ = cmd.Execute()
}

func setup(cmd *cobra.Command, _ []string) {
	cfg = config.Default()
	if flag.Config != "" {
		checkf(cfg.LoadFrom(flag.Config), "load %s", flag.Config)
	}

	// Flags override the file
	flags := cmd.Flags()
	if flags.Changed("store") || flag.Config == "" {
		cfg.Store.Type = config.StoreType(flag.Store)
	}
	if flags.Changed("path") {
		cfg.Store.Path = flag.Path
	}
	if flags.Changed("read-only") {
		cfg.Store.ReadOnly = flag.ReadOnly
	}
	if flags.Changed("layout") {
		cfg.Layout = flag.Layout
	}
	if flags.Changed("log-level") {
		cfg.Logging.Rules = strings.Split(flag.LogLevel, ";")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = flag.LogFormat
	}
	check(cfg.Validate())

	lc, err := cfg.LogConfig()
	check(err)
	lc.Color = true
	h, err := logging.NewHandler(lc, os.Stderr)
	check(err)
	slog.SetDefault(slog.New(h).With("module", "partctl"))
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(exitCode(args))
}

// exitCode maps a client error to 2 and anything else to 1.
func exitCode(args []interface{}) int {
	for _, arg := range args {
		if err, ok := arg.(error); ok && errors.Code(err).IsClientError() {
			return 2
		}
	}
	return 1
}

func check(err error) {
	if err != nil {
		fatalf("%+v", err)
	}
}

func checkf(err error, format string, otherArgs ...interface{}) {
	if err != nil {
		fatalf(format+": %+v", append(otherArgs, err)...)
	}
}
