package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/certsync/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Cert     string // optional - one certification only
	Trainer  string // optional - filter by resolved trainer key
}

// TraceEvent is one journaled event in the timeline.
type TraceEvent struct {
	Seq        int64     `json:"seq"`
	EventID    string    `json:"event_id,omitempty"`
	Kind       string    `json:"kind"`
	Cert       string    `json:"cert"`
	TrainerRef string    `json:"trainer_ref,omitempty"`
	Trainer    string    `json:"trainer,omitempty"`
	Status     string    `json:"status,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Cert     string       `json:"cert,omitempty"`
	Trainer  string       `json:"trainer,omitempty"`
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	ByKind      map[string]int `json:"by_kind"`
	ByChannel   map[string]int `json:"by_channel"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journaled event timeline",
		Long: `Show journaled certification events in sequence order, optionally for a
single certification or trainer.

Examples:
  certsync trace --db ./certsync.db
  certsync trace --db ./certsync.db --cert C-1042
  certsync trace --db ./certsync.db --trainer T7 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Cert, "cert", "", "show one certification only")
	cmd.Flags().StringVar(&opts.Trainer, "trainer", "", "show events resolved to one trainer")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	j, err := openExistingJournal(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	var entries []journal.Entry
	if opts.Cert != "" {
		entries, err = j.History(ctx, opts.Cert)
	} else {
		entries, err = j.Entries(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := buildTrace(entries, opts.Cert, opts.Trainer)

	f := newFormatter(opts.RootOptions, cmd)
	if f.JSON() {
		return f.Success(result)
	}
	printTraceText(f, result)
	return nil
}

func buildTrace(entries []journal.Entry, cert, trainer string) TraceResult {
	result := TraceResult{
		Cert:     cert,
		Trainer:  trainer,
		Timeline: []TraceEvent{},
		Stats: TraceStats{
			ByKind:    map[string]int{},
			ByChannel: map[string]int{},
		},
	}
	for _, e := range entries {
		if trainer != "" && e.TrainerKey != trainer {
			continue
		}
		ev := e.Event
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:        e.Seq,
			EventID:    ev.ID,
			Kind:       string(ev.Kind),
			Cert:       ev.CertKey,
			TrainerRef: ev.TrainerRef,
			Trainer:    e.TrainerKey,
			Status:     string(ev.Status),
			Channel:    ev.Channel,
			ReceivedAt: ev.ReceivedAt,
		})
		result.Stats.ByKind[string(ev.Kind)]++
		if ev.Channel != "" {
			result.Stats.ByChannel[ev.Channel]++
		}
	}
	result.Stats.TotalEvents = len(result.Timeline)
	return result
}

func printTraceText(f *OutputFormatter, r TraceResult) {
	if len(r.Timeline) == 0 {
		f.Textf("No journaled events.")
		return
	}
	for _, ev := range r.Timeline {
		status := ev.Status
		if status == "" {
			status = "-"
		}
		f.Textf("[%d] %s %-24s cert=%s trainer=%s status=%s via %s",
			ev.Seq,
			ev.ReceivedAt.Format(time.RFC3339),
			ev.Kind,
			ev.Cert,
			ev.Trainer,
			status,
			ev.Channel,
		)
	}
	f.Textf("")
	f.Textf("%d event(s)", r.Stats.TotalEvents)
}
