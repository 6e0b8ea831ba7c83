// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gitlab.com/accumulatenetwork/partstore/pkg/partition"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List partitions",
	Args:  cobra.NoArgs,
	Run:   listPartitions,
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Report space usage",
	Args:  cobra.NoArgs,
	Run:   statStore,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the integrity of the map and fragment chains",
	Args:  cobra.NoArgs,
	Run:   verifyStore,
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Reclaim unreachable space and drop deleted partitions",
	Args:  cobra.NoArgs,
	Run:   compactStore,
}

var configCmd = &cobra.Command{
	Use:   "config [format]",
	Short: "Print the effective configuration as toml, yaml, or json",
	Args:  cobra.MaximumNArgs(1),
	Run:   printConfig,
}

var flagCompact = struct {
	KeepDeleted bool
}{}

func init() {
	cmd.AddCommand(listCmd, statCmd, verifyCmd, compactCmd, configCmd)

	compactCmd.Flags().BoolVar(&flagCompact.KeepDeleted, "keep-deleted", false, "Keep deleted partitions")
}

func listPartitions(cmd *cobra.Command, _ []string) {
	c := openContainer()
	defer c.Close()

	wr := tabwriter.NewWriter(cmd.OutOrStdout(), 3, 4, 2, ' ', 0)
	defer wr.Flush()

	fmt.Fprint(wr, "ID\tLENGTH\tFRAGMENTS\tSTATE\n")
	it := c.GetAllPartitions()
	it.Range(func(p *partition.Partition) bool {
		flags, err := p.Flags()
		checkf(err, "get partition %d", p.ID())
		frags, err := p.Fragments()
		checkf(err, "get partition %d", p.ID())

		var length int64
		for _, f := range frags {
			length += f.Length
		}

		state := color.GreenString("live")
		if flags&partition.FlagDeleted != 0 {
			state = color.RedString("deleted")
		}
		fmt.Fprintf(wr, "%d\t%s\t%d\t%s\n", p.ID(), humanize.IBytes(uint64(length)), len(frags), state)
		return true
	})
	check(it.Err())
}

func statStore(cmd *cobra.Command, _ []string) {
	c := openContainer()
	defer c.Close()

	s, err := c.Stat()
	check(err)

	wr := tabwriter.NewWriter(cmd.OutOrStdout(), 3, 4, 2, ' ', 0)
	defer wr.Flush()

	fmt.Fprintf(wr, "Layout\t%v\n", s.Layout)
	fmt.Fprintf(wr, "Size\t%s\n", humanize.IBytes(uint64(s.Size)))
	fmt.Fprintf(wr, "Map\t%d partitions (%s)\n", len(s.Partitions), humanize.IBytes(uint64(s.MapSize)))
	fmt.Fprintf(wr, "Used\t%s\n", humanize.IBytes(uint64(s.Used)))
	fmt.Fprintf(wr, "Deleted\t%s\n", humanize.IBytes(uint64(s.Deleted)))
	fmt.Fprintf(wr, "Unreachable\t%s\n", humanize.IBytes(uint64(s.Debt)))
	if s.DataEnd > 0 {
		fmt.Fprintf(wr, "Reclaimable\t%s%%\n", humanize.FtoaWithDigits(float64(s.Debt+s.Deleted)*100/float64(s.DataEnd), 1))
	}
}

func verifyStore(cmd *cobra.Command, _ []string) {
	c := openContainer()
	defer c.Close()

	err := c.Verify()
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), color.RedString("FAIL"))
		check(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("OK"))
}

func compactStore(cmd *cobra.Command, _ []string) {
	c := openContainer()
	defer c.Close()

	var r *partition.CompactResult
	var err error
	if flagCompact.KeepDeleted {
		r, err = c.Defragment()
	} else {
		r, err = c.Compact()
	}
	checkf(err, "compact")

	fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %s (%s → %s)\n",
		humanize.IBytes(uint64(r.Reclaimed())),
		humanize.IBytes(uint64(r.Before)),
		humanize.IBytes(uint64(r.After)))
	for _, id := range r.Removed {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed partition %d\n", id)
	}
}

func printConfig(cmd *cobra.Command, args []string) {
	ext := ".toml"
	if len(args) > 0 {
		ext = "." + args[0]
	} else if cfg.FilePath() != "" {
		ext = filepath.Ext(cfg.FilePath())
	}

	b, err := cfg.Marshal(ext)
	check(err)
	_, _ = cmd.OutOrStdout().Write(b)
}
