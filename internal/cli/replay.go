package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/certsync/internal/journal"
	"github.com/roach88/certsync/internal/reconciler"
)

// replayTimeout bounds a single offline replay pass.
const replayTimeout = time.Minute

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Until    int64 // replay entries with seq <= Until; 0 means all
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Events        int            `json:"events"`
	Applied       int64          `json:"applied"`
	Duplicates    int64          `json:"duplicates"`
	Dropped       int64          `json:"dropped"`
	Counts        map[string]int `json:"counts"`
	Deterministic bool           `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild pending counts from the event journal",
		Long: `Replay the journaled certification events in sequence order against an
empty reconciler, without contacting the API, and report the resulting
pending counts. The journal is replayed twice to verify the result is
deterministic.

Exit codes:
  0 - Replay succeeded and is deterministic
  1 - The two replays disagree
  2 - Command error (journal not found, etc.)

Examples:
  certsync replay --db ./certsync.db
  certsync replay --db ./certsync.db --until 120 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.Until, "until", 0, "replay entries up to and including this sequence number")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	j, err := openExistingJournal(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Entries(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	if opts.Until > 0 {
		entries = slices.DeleteFunc(entries, func(e journal.Entry) bool { return e.Seq > opts.Until })
	}

	first, stats, err := replayEntries(ctx, entries)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}
	second, _, err := replayEntries(ctx, entries)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	result := ReplayResult{
		Events:        len(entries),
		Applied:       stats.Applied,
		Duplicates:    stats.Duplicates,
		Dropped:       stats.Dropped,
		Counts:        first,
		Deterministic: maps.Equal(first, second),
	}

	f := newFormatter(opts.RootOptions, cmd)
	if f.JSON() {
		if !result.Deterministic {
			if err := f.Error(ErrCodeNonDeterministic, "replays produced different counts", result); err != nil {
				return err
			}
		} else if err := f.Success(result); err != nil {
			return err
		}
	} else {
		printReplayText(f, result)
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "replays produced different counts")
	}
	return nil
}

// replayEntries feeds entries to a fresh offline reconciler and returns
// the resulting counts. Each event is keyed by the trainer it resolved to
// when journaled, since no trainer list is loaded.
func replayEntries(ctx context.Context, entries []journal.Entry) (map[string]int, reconciler.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, replayTimeout)
	defer cancel()

	rec := reconciler.New(nil,
		reconciler.WithoutInitialLoad(),
		reconciler.WithSyncDisabled(),
		reconciler.WithUnresolvedReloadAfter(0),
	)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- rec.Run(runCtx) }()
	defer func() {
		stop()
		<-done
	}()

	for _, e := range entries {
		ev := e.Event
		if e.TrainerKey != "" {
			ev.TrainerRef = e.TrainerKey
		}
		if err := rec.Submit(ev); err != nil {
			return nil, reconciler.Stats{}, err
		}
	}
	if err := rec.WaitIdle(ctx); err != nil {
		return nil, reconciler.Stats{}, err
	}
	return rec.Snapshot().Counts, rec.Stats(), nil
}

func printReplayText(f *OutputFormatter, r ReplayResult) {
	f.Textf("Replayed %d event(s): %d applied, %d duplicate, %d dropped", r.Events, r.Applied, r.Duplicates, r.Dropped)
	if len(r.Counts) == 0 {
		f.Textf("No pending certifications.")
	}
	for _, key := range slices.Sorted(maps.Keys(r.Counts)) {
		f.Textf("  %-24s %d", key, r.Counts[key])
	}
	if r.Deterministic {
		f.Textf("✓ Replay is deterministic")
	} else {
		f.Textf("✗ Replays produced different counts")
	}
}

// openExistingJournal opens a journal that must already exist.
func openExistingJournal(path string) (*journal.Journal, error) {
	if !fileExists(path) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path))
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}
