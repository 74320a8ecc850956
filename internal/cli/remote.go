package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"livehub/pkg/protocol"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// remoteError is a non-2xx answer from the server.
type remoteError struct {
	status int
	msg    string
}

func (e remoteError) Error() string { return fmt.Sprintf("server returned %d: %s", e.status, e.msg) }

// call sends one JSON request and decodes the response into out. A 422 body
// is still decoded so callers can show diagnostics.
func call(ctx context.Context, method, base, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnprocessableEntity {
		var er protocol.ErrorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return resp.StatusCode, remoteError{status: resp.StatusCode, msg: msg}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func modulePath(name string) string { return "/modules/" + url.PathEscape(name) }

func newPushCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "push <name> <file>",
		Short:   "Compile a module on the server and broadcast it to connected clients",
		Example: "  livehub push scene scene.ts\n  cat scene.ts | livehub push scene -",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src []byte
			var err error
			if args[1] == "-" {
				src, err = io.ReadAll(cmd.InOrStdin())
			} else {
				src, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}
			var res protocol.CheckResponse
			status, err := call(cmd.Context(), http.MethodPut, opts.Server, modulePath(args[0]),
				protocol.SourceRequest{Source: string(src)}, &res)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range res.Diagnostics {
				fmt.Fprintf(out, "%s:%d:%d: %s: %s\n", args[1], d.Line, d.Column, d.Severity, d.Message)
			}
			if status == http.StatusUnprocessableEntity || !res.Success {
				return exitError{code: 1, err: fmt.Errorf("push %s rejected", args[0])}
			}
			fmt.Fprintf(out, "pushed %s to %d client(s)\n", args[0], res.Delivered)
			return nil
		},
	}
}

func newRemoveCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a module and tell clients to release its resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res protocol.RemoveResponse
			if _, err := call(cmd.Context(), http.MethodDelete, opts.Server, modulePath(args[0]), nil, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%d client(s) notified)\n", args[0], res.Delivered)
			return nil
		},
	}
}

func newListCmd(opts *Options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List modules registered on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res protocol.ModulesResponse
			if _, err := call(cmd.Context(), http.MethodGet, opts.Server, "/modules", nil, &res); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCOMPILED\tDIAGNOSTICS\tUPDATED")
			for _, m := range res.Modules {
				fmt.Fprintf(tw, "%s\t%t\t%d\t%s\n", m.Name, m.Compiled, m.Diagnostics,
					time.UnixMilli(m.UpdatedAt).UTC().Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d module(s), %d connection(s)\n", len(res.Modules), res.Connections)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON response")
	return cmd
}

func newReloadCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Make the server re-read its backing store and update clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res protocol.ReloadResponse
			if _, err := call(cmd.Context(), http.MethodPost, opts.Server, "/modules/reload", nil, &res); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "updated %d, removed %d\n", len(res.Updated), len(res.Removed))
			for _, name := range res.Broken {
				fmt.Fprintf(out, "%s: does not compile, previous version kept\n", name)
			}
			if len(res.Broken) > 0 {
				return exitError{code: 1, err: fmt.Errorf("%d module(s) failed to compile", len(res.Broken))}
			}
			return nil
		},
	}
}
