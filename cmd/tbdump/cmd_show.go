package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/willibrandon/tbdump/pkg/capture"
	"gopkg.in/yaml.v3"
)

const (
	formatAuto      = "auto"
	formatJSON      = "json"
	formatYAML      = "yaml"
	formatTraceback = "traceback"
)

func newShowCmd(flags *rootFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show FILE",
		Short: "Print a dump",
		Long: `Print a dump as JSON, YAML or a traceback.

The auto format prints YAML to a terminal and JSON otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := flags.load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == formatAuto {
				format = formatJSON
				if isTerminal(out) {
					format = formatYAML
				}
			}
			return writeDump(out, d, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatAuto, "output format: auto, json, yaml or traceback")
	return cmd
}

func writeDump(w io.Writer, d *capture.Dump, format string) error {
	switch format {
	case formatTraceback:
		fmt.Fprintf(w, "dump %s taken %s on %s/%s\n\n", d.ID, d.Created.Format("2006-01-02 15:04:05"), d.System.OSName, d.System.Arch)
		_, err := io.WriteString(w, d.String())
		return err
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case formatYAML:
		// go through JSON so the field names match the stored dump
		b, err := json.Marshal(d)
		if err != nil {
			return err
		}
		var doc any
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	}
	return errors.Errorf("unknown format %q", format)
}
