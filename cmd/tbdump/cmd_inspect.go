package main

import (
	"github.com/spf13/cobra"
	"github.com/willibrandon/tbdump/pkg/inspect"
)

func newInspectCmd(flags *rootFlags) *cobra.Command {
	var breakpoints []string
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Open a dump in the post-mortem debugger",
		Long: `Walk the frames of every error in a dump and print their variables.

Breakpoints given with --break stop continue at matching frames:
  file.go:42      a source line
  func:name       a function, short or fully qualified
  type:name       exceptions of a type`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := flags.load(args[0])
			if err != nil {
				return err
			}
			c, err := inspect.NewCursor(d)
			if err != nil {
				return err
			}
			for _, b := range breakpoints {
				if _, err := c.Breakpoints().AddBreakpoint(b); err != nil {
					return err
				}
			}
			inspect.NewCLI(c, cmd.InOrStdin(), cmd.OutOrStdout()).Start()
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&breakpoints, "break", "b", nil, "set a breakpoint, repeatable")
	return cmd
}
