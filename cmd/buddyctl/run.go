package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/buddypool/arena"
)

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <op>...",
		Short: "Run a script of allocations and frees",
		Long: `The run command applies each operation in order to a fresh pool and prints
the offset each allocation received, followed by pool statistics.

Operations:
  alloc:<size>[:<name>]   allocate at least size bytes
  free:<offset>           free the allocation at offset
  free:#<n>               free the allocation made by the n-th alloc (from 0)

Example:
  buddyctl run alloc:64 alloc:64 free:#0 alloc:128
  buddyctl run --total-level 12 --json alloc:100:header alloc:1000:body`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd.OutOrStdout(), cmd.ErrOrStderr(), args)
		},
	}
	return cmd
}

type operation struct {
	alloc     bool
	size      int
	name      string
	offset    int
	allocRef  int
	reference bool
}

func parseOperation(text string) (operation, error) {
	parts := strings.Split(text, ":")
	switch {
	case parts[0] == "alloc" && (len(parts) == 2 || len(parts) == 3):
		size, err := strconv.Atoi(parts[1])
		if err != nil {
			return operation{}, cerrors.Wrapf(err, "invalid size in %q", text)
		}
		op := operation{alloc: true, size: size}
		if len(parts) == 3 {
			op.name = parts[2]
		}
		return op, nil
	case parts[0] == "free" && len(parts) == 2:
		if strings.HasPrefix(parts[1], "#") {
			ref, err := strconv.Atoi(parts[1][1:])
			if err != nil {
				return operation{}, cerrors.Wrapf(err, "invalid allocation reference in %q", text)
			}
			return operation{allocRef: ref, reference: true}, nil
		}
		offset, err := strconv.Atoi(parts[1])
		if err != nil {
			return operation{}, cerrors.Wrapf(err, "invalid offset in %q", text)
		}
		return operation{offset: offset}, nil
	}

	return operation{}, errors.Errorf("unrecognized operation %q", text)
}

func runScript(out, logOut io.Writer, args []string) error {
	ops := make([]operation, 0, len(args))
	for _, arg := range args {
		op, err := parseOperation(arg)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}

	a, err := arena.New(newLogger(logOut), arena.CreateOptions{
		TotalLevel: totalLevel,
		MinLevel:   minLevel,
	})
	if err != nil {
		return err
	}

	var allocations []int
	for _, op := range ops {
		if op.alloc {
			offset, ok, err := a.Alloc(op.size, op.name)
			if err != nil {
				return err
			}
			if !ok {
				allocations = append(allocations, -1)
				fmt.Fprintf(out, "alloc %d -> none\n", op.size)
				continue
			}
			allocations = append(allocations, offset)
			fmt.Fprintf(out, "alloc %d -> %d\n", op.size, offset)
			continue
		}

		offset := op.offset
		if op.reference {
			if op.allocRef < 0 || op.allocRef >= len(allocations) || allocations[op.allocRef] < 0 {
				return errors.Errorf("free:#%d does not refer to a successful allocation", op.allocRef)
			}
			offset = allocations[op.allocRef]
		}

		err = a.Free(offset)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "free %d -> ok\n", offset)
	}

	if jsonOut {
		writer := jwriter.NewWriter()
		a.PrintDetailedMap(&writer)
		if err := writer.Error(); err != nil {
			return err
		}
		fmt.Fprintln(out, string(writer.Bytes()))
	} else {
		stats := a.Statistics()
		fmt.Fprintf(out, "allocations: %d (%d bytes)\n", stats.AllocationCount, stats.AllocationBytes)
		fmt.Fprintf(out, "free: %d bytes in %d blocks\n", stats.FreeBytes(), stats.FreeBlockCount)
	}

	if stats := a.Statistics(); stats.AllocationCount == 0 {
		return a.Destroy()
	}
	return nil
}
