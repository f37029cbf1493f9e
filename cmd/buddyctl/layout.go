package main

import (
	"fmt"
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/buddypool/memutils/buddy"
	"github.com/vkngwrapper/buddypool/memutils/rawmem"
)

func init() {
	rootCmd.AddCommand(newLayoutCmd())
}

func newLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Describe the buffer layout of a pool",
		Long: `The layout command prints the size of the status tree, the block reserved
to hold it, and the block size and count at every tree depth.

Example:
  buddyctl layout --total-level 20 --min-level 6`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd.OutOrStdout())
		},
	}
	return cmd
}

func runLayout(out io.Writer) error {
	pool, err := buddy.NewFromProvider(totalLevel, minLevel, rawmem.Heap{})
	if err != nil {
		return err
	}
	defer pool.Destroy()

	if jsonOut {
		writer := jwriter.NewWriter()
		obj := writer.Object()
		obj.Name("PoolBytes").Int(pool.Size())
		obj.Name("MinBlockBytes").Int(pool.MinBlockSize())
		obj.Name("Depth").Int(pool.Depth())
		obj.Name("Nodes").Int(pool.NodeCount())
		obj.Name("TreeBytes").Int(pool.TreeSize())
		obj.Name("ReservedBytes").Int(pool.ReservedSize())
		levels := obj.Name("Levels").Array()
		for depth := 0; depth <= pool.Depth(); depth++ {
			level := levels.Object()
			level.Name("Depth").Int(depth)
			level.Name("BlockBytes").Int(pool.Size() >> depth)
			level.Name("Blocks").Int(1 << depth)
			level.End()
		}
		levels.End()
		obj.End()

		if err := writer.Error(); err != nil {
			return err
		}
		fmt.Fprintln(out, string(writer.Bytes()))
		return nil
	}

	fmt.Fprintf(out, "pool:      %d bytes\n", pool.Size())
	fmt.Fprintf(out, "min block: %d bytes\n", pool.MinBlockSize())
	fmt.Fprintf(out, "depth:     %d (%d nodes)\n", pool.Depth(), pool.NodeCount())
	fmt.Fprintf(out, "tree:      %d bytes, reserved block of %d bytes at offset 0\n", pool.TreeSize(), pool.ReservedSize())
	for depth := 0; depth <= pool.Depth(); depth++ {
		fmt.Fprintf(out, "  depth %2d: %d blocks of %d bytes\n", depth, 1<<depth, pool.Size()>>depth)
	}
	return nil
}
