package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/artifactkit/internal/mmfile"
	"github.com/joshuapare/artifactkit/pkg/types"
)

var (
	// Global flags
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "artifactdump",
	Short: "Classify and decode forensic artifact files",
	Long: `artifactdump identifies forensic artifact files by byte signature and
decodes them into normalized timestamped events: NTFS $MFT tables, macOS
keychains, Spotlight stores, fseventsd journals, OneDrive ODL logs, mlocate
databases and Windows Defender detection history.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose diagnostics")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// logger returns the diagnostic logger honoring --verbose.
func logger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openSource memory-maps path into a ByteSource. The returned cleanup is
// safe to call more than once.
func openSource(path string) (types.ByteSource, func() error, error) {
	data, cleanup, err := mmfile.Map(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return types.BytesSource(data), cleanup, nil
}
