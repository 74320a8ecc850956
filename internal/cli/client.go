package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"livehub/internal/client"
	"livehub/internal/executor"
	"livehub/pkg/protocol"
)

func newClientCmd(opts *Options) *cobra.Command {
	var (
		eventsURL string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:     "client <hub-url>",
		Short:   "Run a headless live client that executes pushed modules",
		Example: "  livehub client ws://127.0.0.1:8080/ws --events ws://127.0.0.1:8080/events",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := opts.log
			c, err := client.New(client.Config{
				URL:     args[0],
				Timeout: timeout,
				Logger:  &log,
				OnResult: func(r executor.Result) {
					ev := log.Info()
					if !r.Success {
						ev = log.Warn().Str("error", r.Error)
					}
					ev.Str("module", r.Name).Int("disposed", r.Disposed).Int("tracked", r.Tracked).
						Dur("took", r.Duration).Msg("executed")
				},
			})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return c.Run(gctx) })
			if eventsURL != "" {
				out := cmd.OutOrStdout()
				g.Go(func() error {
					return client.Events(gctx, nil, eventsURL, func(ev protocol.BusEvent) {
						b, err := protocol.Encode(ev)
						if err == nil {
							fmt.Fprintln(out, string(b))
						}
					})
				})
			}
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&eventsURL, "events", "", "Event bus URL to print progress events from")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Per-execution time limit (0 disables)")
	return cmd
}
