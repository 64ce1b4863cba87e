package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/willibrandon/tbdump/pkg/dump"
)

func newVerifyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify FILE...",
		Short: "Check that dumps decode and their integrity tags match",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.dumpOptions()
			if err != nil {
				return err
			}
			failed := 0
			for _, path := range args {
				h, err := dump.VerifyFile(path, opts)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: FAIL %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK %s\n", path, h)
			}
			if failed > 0 {
				return errors.Errorf("%d of %d dumps failed verification", failed, len(args))
			}
			return nil
		},
	}
}
