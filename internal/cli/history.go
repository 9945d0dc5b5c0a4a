package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/canvassync/internal/canvas"
	"github.com/roach88/canvassync/internal/config"
	"github.com/roach88/canvassync/internal/persistence"
)

const historyTimeout = 30 * time.Second

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	APIURL string
	Token  string
	Limit  int
}

// HistoryEntry is one saved snapshot in command output.
type HistoryEntry struct {
	SavedAt  time.Time `json:"saved_at"`
	Author   string    `json:"author,omitempty"`
	Elements int       `json:"elements"`
	IDs      []string  `json:"ids"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved snapshots of your canvas",
		Long: `List the saved snapshots of the canvas the token belongs to, newest first.

Examples:
  canvassync history --config client.yaml
  canvassync history --api-url http://localhost:3001/api --token t1 --limit 5 --format json`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.APIURL, "api-url", "", "hub API base URL (default "+config.DefaultAPIURL+")")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many snapshots (0 = all returned)")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	apiURL, token := cfg.Client.APIURL, cfg.Client.Token
	if opts.APIURL != "" {
		apiURL = opts.APIURL
	}
	if opts.Token != "" {
		token = opts.Token
	}
	if token == "" {
		return NewExitError(ExitCommandError, CodeUsage, "a token is required (--token or client.token)")
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithTimeout(parentCtx, historyTimeout)
	defer cancel()

	snaps, err := persistence.New(apiURL, token).History(ctx)
	if err != nil {
		if persistence.IsUnauthorized(err) {
			return WrapExitError(ExitCommandError, CodeHub, "token rejected by hub", err)
		}
		return WrapExitError(ExitCommandError, CodeHub, "fetch history", err)
	}
	if opts.Limit > 0 && len(snaps) > opts.Limit {
		snaps = snaps[:opts.Limit]
	}

	entries := make([]HistoryEntry, len(snaps))
	for i, s := range snaps {
		entries[i] = HistoryEntry{
			SavedAt:  s.LastUpdated.UTC(),
			Author:   s.UserID,
			Elements: len(s.Elements),
			IDs:      canvas.IDs(s.Elements),
		}
	}

	f := opts.formatter(cmd)
	if opts.Format == "json" {
		return f.Success(entries)
	}
	return f.Success(formatHistory(entries))
}

func formatHistory(entries []HistoryEntry) string {
	if len(entries) == 0 {
		return "No saved snapshots."
	}
	var b strings.Builder
	for i, e := range entries {
		author := e.Author
		if author == "" {
			author = "-"
		}
		fmt.Fprintf(&b, "%s  %-12s %3d element(s)", e.SavedAt.Format(time.RFC3339), author, e.Elements)
		if i < len(entries)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
