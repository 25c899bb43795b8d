package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nathant8883/mtg-leaderboard/internal/queue"
	"github.com/nathant8883/mtg-leaderboard/internal/service"
	"github.com/nathant8883/mtg-leaderboard/internal/syncer"
	"github.com/nathant8883/mtg-leaderboard/internal/transport"
)

// syncerCallbacks adapts full-pass callbacks for a single-record sync.
func syncerCallbacks(cb service.SyncAllCallbacks) syncer.Callbacks {
	return syncer.Callbacks{
		OnSuccess: cb.OnRecordSuccess,
		OnError:   cb.OnRecordError,
	}
}

var syncCmd = &cobra.Command{
	Use:   "sync [id]",
	Short: "Deliver queued matches to the leaderboard now",
	Long: `Deliver queued matches to the leaderboard server.

Without arguments every pending and failed match is attempted in order.
With an id only that match is attempted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&dbPathOverride, "db", "",
		"Queue database path (overrides config and PODTRACK_DB_PATH)")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	cb := service.SyncAllCallbacks{
		OnRecordSuccess: func(rec queue.QueuedMatch, serverID string) {
			fmt.Fprintf(out, "synced   %s -> %s\n", rec.ID, serverID)
		},
		OnRecordError: func(rec queue.QueuedMatch, derr *transport.DeliveryError) {
			fmt.Fprintf(out, "failed   %s (%s): %s\n", rec.ID, derr.Class, derr.Message)
		},
	}

	if len(args) == 1 {
		err := s.svc.SyncOne(ctx, args[0], syncerCallbacks(cb))
		if err != nil {
			return fmt.Errorf("sync match: %w", err)
		}
		return nil
	}

	summary, err := s.svc.SyncAll(ctx, service.SyncManual, cb)
	if err != nil {
		return fmt.Errorf("sync queue: %w", err)
	}

	fmt.Fprintf(out, "Synced %d, failed %d, skipped %d.\n",
		summary.Succeeded, summary.Failed, summary.Skipped)
	if summary.Failed > 0 {
		return fmt.Errorf("%d matches failed to sync", summary.Failed)
	}
	return nil
}
