package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/artifactkit/artifact"
)

func init() {
	rootCmd.AddCommand(newClassifyCmd())
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <file>...",
		Short: "Identify the format of artifact files by byte signature",
		Long: `classify reads each file's signature bytes and reports the matching
format identifier, or "unknown" when no registered format matches. The
file name and extension are never consulted.

Example:
  artifactdump classify \$MFT store.db
  artifactdump classify --json *.odl`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(args)
		},
	}
}

type classification struct {
	File   string `json:"file"`
	Format string `json:"format"`
}

func runClassify(paths []string) error {
	reg := artifact.DefaultRegistry()
	results := make([]classification, 0, len(paths))
	for _, path := range paths {
		src, cleanup, err := openSource(path)
		if err != nil {
			return err
		}
		format, err := reg.ClassifySource(src)
		if cerr := cleanup(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("classify %s: %w", path, err)
		}
		if format == "" {
			format = "unknown"
		}
		results = append(results, classification{File: path, Format: format})
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		fmt.Printf("%s\t%s\n", r.File, r.Format)
	}
	return nil
}
