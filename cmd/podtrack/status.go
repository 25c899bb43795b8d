package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathant8883/mtg-leaderboard/internal/queue"
	"github.com/nathant8883/mtg-leaderboard/internal/transport"
)

var statusJSONOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and server reachability",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false,
		"Output in JSON format")
	statusCmd.Flags().StringVar(&dbPathOverride, "db", "",
		"Queue database path (overrides config and PODTRACK_DB_PATH)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	count, err := s.svc.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("count queue: %w", err)
	}

	client := transport.New(s.cfg.Server.BaseURL, s.cfg.Server.APIToken, s.store.ClientID())
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	online := client.Ping(pingCtx) == nil

	var oldest *queue.QueuedMatch
	if recs, err := s.svc.List(ctx); err == nil && len(recs) > 0 {
		oldest = &recs[0]
	}

	if statusJSONOutput {
		out := map[string]any{
			"server":  s.cfg.Server.BaseURL,
			"online":  online,
			"queued":  count,
			"version": Version,
		}
		if oldest != nil {
			out["oldest_queued_at"] = oldest.QueuedAt
		}
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Server:  %s (%s)\n", s.cfg.Server.BaseURL, onlineWord(online))
	fmt.Fprintf(w, "Queued:  %d\n", count)
	if oldest != nil {
		fmt.Fprintf(w, "Oldest:  %s (queued %s)\n",
			oldest.ID, oldest.QueuedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func onlineWord(online bool) string {
	if online {
		return "reachable"
	}
	return "unreachable"
}
