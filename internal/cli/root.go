// Package cli implements the livehub command line: the server, a local
// compile check, remote module management and a headless client.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Options holds persistent flag values shared by every command.
type Options struct {
	LogLevel  string
	LogFormat string
	// Base URL of a running server for push, remove and list.
	Server string

	out io.Writer
	log zerolog.Logger
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }
func (e exitError) Unwrap() error { return e.err }

// BuildRootCmd constructs the command tree writing user output to out.
func BuildRootCmd(out io.Writer) *cobra.Command {
	opts := &Options{out: out}
	root := &cobra.Command{
		Use:           "livehub",
		Short:         "Compile and hot-distribute TypeScript snippets to live clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", envStr("LIVEHUB_LOG_LEVEL", "info"), "Log level: trace|debug|info|warn|error (defaults LIVEHUB_LOG_LEVEL)")
	root.PersistentFlags().StringVar(&opts.LogFormat, "log-format", envStr("LIVEHUB_LOG_FORMAT", "console"), "Log format: console|json")
	root.PersistentFlags().StringVar(&opts.Server, "server", envStr("LIVEHUB_SERVER", "http://127.0.0.1:8080"), "Base URL of a running livehub server")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		opts.log = newLogger(cmd.ErrOrStderr(), opts.LogLevel, opts.LogFormat)
	}

	root.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newPushCmd(opts),
		newRemoveCmd(opts),
		newListCmd(opts),
		newReloadCmd(opts),
		newClientCmd(opts),
	)
	return root
}

// MainWithArgs runs the CLI and returns the process exit code: 0 on success,
// 2 for usage errors and 1 for everything else unless a command chose its own.
func MainWithArgs(args []string) int {
	return mainWith(args, os.Stdout, os.Stderr)
}

func mainWith(args []string, stdout, stderr io.Writer) int {
	root := BuildRootCmd(stdout)
	root.SetErr(stderr)
	if len(args) == 0 {
		_ = root.Usage()
		return 2
	}
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, err.Error())
		var ee exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return 1
	}
	return 0
}
