package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"livehub/internal/config"
)

func newCheckCmd(opts *Options) *cobra.Command {
	var (
		cfg     config.Config
		modules string
		quiet   bool
	)
	cmd := &cobra.Command{
		Use:     "check <file>",
		Short:   "Type-check and compile a snippet locally",
		Example: "  livehub check scene.ts\n  livehub check --ambient-modules three,cannon scene.ts",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cfg.AmbientModules = splitCSV(modules)
			compiler, err := newCompiler(cfg, opts.log)
			if err != nil {
				return err
			}
			res := compiler.Check(string(src))
			out := cmd.OutOrStdout()
			for _, d := range res.Diagnostics {
				fmt.Fprintf(out, "%s:%s\n", args[0], d)
			}
			if !res.Success {
				return exitError{code: 1, err: fmt.Errorf("%s: compile failed", args[0])}
			}
			if !quiet {
				fmt.Fprintln(out, res.CompiledText)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&modules, "ambient-modules", "", "Comma separated module specifiers the clients provide as globals")
	f.StringVar(&cfg.Target, "target", "", "ECMAScript target of compiled output")
	f.BoolVar(&cfg.PreserveWhitespace, "preserve-whitespace", false, "Emit readable instead of minified output")
	f.BoolVarP(&quiet, "quiet", "q", false, "Print diagnostics only")
	return cmd
}
