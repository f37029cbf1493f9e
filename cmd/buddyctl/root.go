package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	verbose    bool
	jsonOut    bool
	totalLevel int
	minLevel   int
)

var rootCmd = &cobra.Command{
	Use:   "buddyctl",
	Short: "Exercise and inspect buddy allocator pools",
	Long: `buddyctl builds a buddy allocator pool with the requested levels and either
runs a script of allocations and frees against it or describes its layout.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every allocator call to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().IntVar(&totalLevel, "total-level", 10, "log2 of the pool size in bytes")
	rootCmd.PersistentFlags().IntVar(&minLevel, "min-level", 4, "log2 of the smallest block size in bytes")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(w))
}
