// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create an empty partition",
	Args:  cobra.ExactArgs(1),
	Run:   createPartition,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Mark a partition as deleted",
	Args:  cobra.ExactArgs(1),
	Run:   deletePartition,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a deleted partition",
	Args:  cobra.ExactArgs(1),
	Run:   restorePartition,
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Permanently remove a partition and compact the store",
	Args:  cobra.ExactArgs(1),
	Run:   removePartition,
}

func init() {
	cmd.AddCommand(
		createCmd,
		deleteCmd,
		restoreCmd,
		removeCmd,
	)
}

func createPartition(cmd *cobra.Command, args []string) {
	c := openContainer()
	defer c.Close()

	id := parseID(args[0])
	_, err := c.CreatePartition(id)
	checkf(err, "create partition %d", id)
	fmt.Fprintf(cmd.OutOrStdout(), "Created partition %d\n", id)
}

func deletePartition(cmd *cobra.Command, args []string) {
	c := openContainer()
	defer c.Close()

	p := getPartition(c, args[0])
	checkf(c.DeletePartition(p), "delete partition %d", p.ID())
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted partition %d\n", p.ID())
}

func restorePartition(cmd *cobra.Command, args []string) {
	c := openContainer()
	defer c.Close()

	p := getPartition(c, args[0])
	checkf(c.RestorePartition(p), "restore partition %d", p.ID())
	fmt.Fprintf(cmd.OutOrStdout(), "Restored partition %d\n", p.ID())
}

func removePartition(cmd *cobra.Command, args []string) {
	c := openContainer()
	defer c.Close()

	p := getPartition(c, args[0])
	checkf(c.RemovePartition(p), "remove partition %d", p.ID())
	fmt.Fprintf(cmd.OutOrStdout(), "Removed partition %d\n", p.ID())
}
