package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nathant8883/mtg-leaderboard/internal/match"
	"github.com/nathant8883/mtg-leaderboard/internal/queue"
	"github.com/nathant8883/mtg-leaderboard/internal/service"
	"github.com/nathant8883/mtg-leaderboard/internal/syncer"
	"github.com/nathant8883/mtg-leaderboard/internal/transport"
)

var (
	recordFile    string
	recordSyncNow bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Queue a match result for delivery",
	Long: `Queue a match result read as JSON from a file or stdin.

The match is stored locally first; it reaches the leaderboard on the next
sync. Pass --sync to attempt delivery immediately.`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVarP(&recordFile, "file", "f", "-",
		"Path to the match result JSON ('-' for stdin)")
	recordCmd.Flags().BoolVar(&recordSyncNow, "sync", false,
		"Attempt to deliver the match immediately after queueing")
	recordCmd.Flags().StringVar(&dbPathOverride, "db", "",
		"Queue database path (overrides config and PODTRACK_DB_PATH)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	result, err := readResult(recordFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.svc.Enqueue(ctx, result, nil)
	if err != nil {
		var verr *match.ValidationError
		switch {
		case errors.As(err, &verr):
			fmt.Fprintln(cmd.ErrOrStderr(), "Match result is invalid:")
			for _, fe := range verr.Fields {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", fe.Field, fe.Message)
			}
			return errors.New("match not queued")
		case errors.Is(err, service.ErrDuplicate):
			return errors.New("an identical match was already recorded moments ago")
		default:
			return fmt.Errorf("match NOT saved: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Queued match %s.\n", rec.ID)

	if !recordSyncNow {
		return nil
	}
	err = s.svc.SyncOne(ctx, rec.ID, syncer.Callbacks{
		OnSuccess: func(r queue.QueuedMatch, serverID string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Delivered to the leaderboard as %s.\n", serverID)
		},
	})
	if err != nil {
		var derr *transport.DeliveryError
		if errors.As(err, &derr) {
			action := derr.Class.UserAction()
			if action == "" {
				action = "it will retry automatically"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Delivery failed (%s). The match stays queued; %s.\n",
				derr.Class, action)
			return nil
		}
		return err
	}
	return nil
}

func readResult(path string, stdin io.Reader) (match.Result, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return match.Result{}, fmt.Errorf("open match file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var result match.Result
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&result); err != nil {
		return match.Result{}, fmt.Errorf("parse match JSON: %w", err)
	}
	return result, nil
}
