// Command tbdump reads the dumps written by the capture hook: it prints
// them, verifies them and opens them in a post-mortem debugger.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/willibrandon/tbdump/pkg/capture"
	"github.com/willibrandon/tbdump/pkg/config"
	"github.com/willibrandon/tbdump/pkg/dummy"
	"github.com/willibrandon/tbdump/pkg/dump"
	"github.com/willibrandon/tbdump/pkg/version"
)

// rootFlags are the flags shared by every subcommand
type rootFlags struct {
	configPath    string
	encryptionKey string
	integrityKey  string
	verbose       bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "tbdump",
		Short: "Inspect traceback dumps",
		Long: `tbdump reads dumps of captured error chains: the traceback of every
error in the chain with the variables of each frame.

Examples:
  tbdump show app.dump
  tbdump show app.dump --format traceback
  tbdump inspect app.dump
  tbdump verify app.dump --integrity-key 6b6579`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr(), flags.verbose)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.encryptionKey, "key", "", "hex encoded decryption key, overrides the config")
	rootCmd.PersistentFlags().StringVar(&flags.integrityKey, "integrity-key", "", "hex encoded HMAC key, overrides the config")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(
		newShowCmd(flags),
		newInspectCmd(flags),
		newVerifyCmd(flags),
		newVersionCmd(),
	)
	return rootCmd
}

// dumpOptions reads the config and applies the key flags on top
func (f *rootFlags) dumpOptions() (dump.Options, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return dump.Options{}, err
	}
	opts, err := cfg.DumpOptions()
	if err != nil {
		return opts, err
	}
	if f.encryptionKey != "" {
		key, err := hex.DecodeString(f.encryptionKey)
		if err != nil {
			return opts, errors.Wrap(err, "decoding --key")
		}
		dump.WithEncryption(key)(&opts.Security)
	}
	if f.integrityKey != "" {
		key, err := hex.DecodeString(f.integrityKey)
		if err != nil {
			return opts, errors.Wrap(err, "decoding --integrity-key")
		}
		dump.WithIntegrityCheck(key)(&opts.Security)
	}
	return opts, nil
}

func (f *rootFlags) load(path string) (*capture.Dump, error) {
	opts, err := f.dumpOptions()
	if err != nil {
		return nil, err
	}
	return dump.LoadFile(path, opts)
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	l := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	capture.SetLogger(l)
	dump.SetLogger(l)
	dummy.SetLogger(l)
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
