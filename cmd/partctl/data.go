// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat <id>",
	Short: "Write the contents of a partition to stdout",
	Args:  cobra.ExactArgs(1),
	Run:   catPartition,
}

var writeCmd = &cobra.Command{
	Use:   "write <id>",
	Short: "Write stdin or a file into a partition",
	Args:  cobra.ExactArgs(1),
	Run:   writePartition,
}

var truncateCmd = &cobra.Command{
	Use:   "truncate <id> <length>",
	Short: "Resize a partition",
	Args:  cobra.ExactArgs(2),
	Run:   truncatePartition,
}

var flagCat = struct {
	Offset int64
	Count  int64
}{}

var flagWrite = struct {
	Offset int64
	File   string
}{}

func init() {
	cmd.AddCommand(catCmd, writeCmd, truncateCmd)

	catCmd.Flags().Int64Var(&flagCat.Offset, "offset", 0, "Start reading at this offset")
	catCmd.Flags().Int64VarP(&flagCat.Count, "count", "n", -1, "Number of bytes to read (default: to the end)")
	writeCmd.Flags().Int64Var(&flagWrite.Offset, "offset", -1, "Start writing at this offset (default: append)")
	writeCmd.Flags().StringVarP(&flagWrite.File, "file", "f", "", "Read from this file instead of stdin")
}

func catPartition(cmd *cobra.Command, args []string) {
	c := openContainer()
	defer c.Close()

	p := getPartition(c, args[0])
	_, err := p.Seek(flagCat.Offset, io.SeekStart)
	checkf(err, "seek")

	var r io.Reader = p
	if flagCat.Count >= 0 {
		r = io.LimitReader(p, flagCat.Count)
	}
	_, err = io.Copy(cmd.OutOrStdout(), r)
	checkf(err, "read partition %d", p.ID())
}

func writePartition(cmd *cobra.Command, args []string) {
	c := openContainer()
	defer c.Close()

	p := getPartition(c, args[0])
	var err error
	if flagWrite.Offset < 0 {
		_, err = p.Seek(0, io.SeekEnd)
	} else {
		_, err = p.Seek(flagWrite.Offset, io.SeekStart)
	}
	checkf(err, "seek")

	var r io.Reader = cmd.InOrStdin()
	if flagWrite.File != "" {
		f, err := os.Open(flagWrite.File)
		checkf(err, "open %s", flagWrite.File)
		defer f.Close()
		r = f
	}

	_, err = p.ReadFrom(r)
	checkf(err, "write partition %d", p.ID())
}

func truncatePartition(_ *cobra.Command, args []string) {
	c := openContainer()
	defer c.Close()

	p := getPartition(c, args[0])
	size, err := strconv.ParseInt(args[1], 10, 64)
	checkf(err, "invalid length %q", args[1])
	checkf(p.SetLength(size), "resize partition %d", p.ID())
}
