package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathant8883/mtg-leaderboard/internal/config"
	"github.com/nathant8883/mtg-leaderboard/internal/queue"
	"github.com/nathant8883/mtg-leaderboard/internal/service"
	"github.com/nathant8883/mtg-leaderboard/internal/syncer"
	"github.com/nathant8883/mtg-leaderboard/internal/transport"
)

var (
	dbPathOverride  string
	queueJSONOutput bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the local match queue",
	Long:  "List, inspect, and remove queued matches without running the daemon.",
}

func init() {
	queueCmd.PersistentFlags().StringVar(&dbPathOverride, "db", "",
		"Queue database path (overrides config and PODTRACK_DB_PATH)")
	queueCmd.PersistentFlags().BoolVar(&queueJSONOutput, "json", false,
		"Output in JSON format")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRemoveCmd)
	queueCmd.AddCommand(queueCountCmd)
}

// cliStack is the daemon's wiring opened inside a one-shot command.
type cliStack struct {
	cfg    *config.Config
	store  *queue.SQLiteStore
	engine *syncer.Engine
	svc    *service.Service
}

func (s *cliStack) Close() {
	s.engine.Close()
	s.store.Close()
}

// openStack builds store, transport, engine, and coordinator from config
// with the optional --db override applied.
func openStack(ctx context.Context) (*cliStack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPathOverride != "" {
		cfg.Database.Path = dbPathOverride
	}

	store, err := queue.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	client := transport.New(cfg.Server.BaseURL, cfg.Server.APIToken, store.ClientID())
	engine := syncer.New(store, client, syncer.Config{
		BackoffMin:   time.Duration(cfg.Sync.BackoffMin),
		BackoffMax:   time.Duration(cfg.Sync.BackoffMax),
		SyncedWindow: time.Duration(cfg.Queue.DedupWindow),
	})

	svc, err := service.New(ctx, store, engine, service.Config{
		DedupWindow: time.Duration(cfg.Queue.DedupWindow),
		UndoGrace:   time.Duration(cfg.Queue.UndoGrace),
	})
	if err != nil {
		engine.Close()
		store.Close()
		return nil, err
	}

	return &cliStack{cfg: cfg, store: store, engine: engine, svc: svc}, nil
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued matches",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

func runQueueList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.svc.List(ctx)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}

	if queueJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"matches": recs,
			"total":   len(recs),
		})
	}

	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tQUEUED\tWINNER\tERROR")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.ID,
			rec.Status,
			rec.RetryCount,
			rec.QueuedAt.Local().Format("2006-01-02 15:04"),
			winnerName(rec),
			lastErrorSummary(rec),
		)
	}
	w.Flush()

	return nil
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a queued match without syncing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRemove,
}

func runQueueRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.svc.Remove(ctx, args[0]); err != nil {
		return fmt.Errorf("remove match: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from the queue.\n", args[0])
	return nil
}

var queueCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of matches awaiting sync",
	Args:  cobra.NoArgs,
	RunE:  runQueueCount,
}

func runQueueCount(cmd *cobra.Command, args []string) error {
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

	if queueJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"count": count})
	}
	fmt.Fprintln(cmd.OutOrStdout(), count)
	return nil
}

func winnerName(rec queue.QueuedMatch) string {
	for _, p := range rec.Payload.Players {
		if p.PlayerID == rec.Payload.WinnerPlayerID {
			return p.PlayerName
		}
	}
	return rec.Payload.WinnerPlayerID
}

func lastErrorSummary(rec queue.QueuedMatch) string {
	if rec.LastError == nil {
		return "-"
	}
	return fmt.Sprintf("%s: %s", rec.LastError.Code, rec.LastError.Message)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
