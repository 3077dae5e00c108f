package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/artifactkit/artifact"
	"github.com/joshuapare/artifactkit/artifact/odl"
	"github.com/joshuapare/artifactkit/pkg/types"
)

var (
	odlKey string
	strict bool
)

func init() {
	rootCmd.AddCommand(newEventsCmd())
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <file>",
		Short: "Decode an artifact file and print its normalized events",
		Long: `events classifies the file, runs the matching decoder and prints one
line per normalized event. Recoverable per-record failures are logged to
stderr and counted; they never abort the decode.

Example:
  artifactdump events \$MFT
  artifactdump events --json store.db
  artifactdump events --key dGhpcnR5dHdvLWJ5dGUta2V5... SyncDiagnostics.odl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(args[0])
		},
	}
	cmd.Flags().StringVar(&odlKey, "key", "", "Base64 obfuscation key for OneDrive ODL parameter strings")
	cmd.Flags().BoolVar(&strict, "strict", false, "Use strict decode limits")
	return cmd
}

func runEvents(path string) error {
	log := logger()
	src, cleanup, err := openSource(path)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := artifact.DefaultRegistry()
	format, err := reg.ClassifySource(src)
	if err != nil {
		return fmt.Errorf("classify %s: %w", path, err)
	}
	if format == "" {
		return fmt.Errorf("%s: no registered format matches", path)
	}
	log.Debug("classified input", "file", path, "format", format)

	dec, ok := reg.NewDecoder(format)
	if !ok {
		return fmt.Errorf("%s: no decoder for format %q", path, format)
	}
	if odlKey != "" {
		key, err := base64.StdEncoding.DecodeString(odlKey)
		if err != nil {
			return fmt.Errorf("--key is not valid base64: %w", err)
		}
		odlDec, ok := dec.(*odl.Decoder)
		if !ok {
			return fmt.Errorf("--key only applies to %s inputs, file is %s", odl.FormatID, format)
		}
		odlDec.SetKey(key)
	}

	limits := types.Limits{}
	if strict {
		limits = types.StrictLimits()
	}

	sess := artifact.NewSession(dec, src, limits)
	sink := &printSink{json: jsonOut, enc: json.NewEncoder(os.Stdout)}
	res, err := sess.Run(sink, types.SlogWarnSink{L: log})
	if sink.err != nil {
		return sink.err
	}
	if err != nil {
		if errors.Is(err, types.ErrUnsupportedVersion) {
			return fmt.Errorf("%s: recognized as %s but the version is unsupported: %w",
				path, format, err)
		}
		return fmt.Errorf("decode %s: %w", path, err)
	}
	log.Debug("decode complete", "events", res.Events, "warnings", res.Warnings)
	if !jsonOut {
		fmt.Printf("%s: %d events, %d warnings\n", res.Format, res.Events, res.Warnings)
	}
	return nil
}

// printSink writes each event as it is emitted: JSON stream or a text line.
type printSink struct {
	json bool
	enc  *json.Encoder
	err  error
}

func (p *printSink) Emit(ev types.Event) {
	if p.err != nil {
		return
	}
	if p.json {
		p.err = p.enc.Encode(ev)
		return
	}
	line := fmt.Sprintf("0x%08X  %s", ev.Offset, ev.Data.DataType())
	for _, ts := range ev.Timestamps {
		line += fmt.Sprintf("  %s=%s", ts.Label, ts.Time.Format("2006-01-02T15:04:05.000Z07:00"))
	}
	_, p.err = fmt.Println(line)
}
