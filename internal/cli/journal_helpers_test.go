package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/certsync/internal/journal"
	"github.com/roach88/certsync/internal/model"
)

// writeJournal creates a journal holding events in order, each filed under
// the trainer key paired with it.
func writeJournal(t *testing.T, events []model.Event, keys []string) string {
	t.Helper()
	require.Len(t, keys, len(events))

	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	for i, ev := range events {
		fp, err := model.Fingerprint(ev, keys[i], 0)
		require.NoError(t, err)
		require.NoError(t, j.Append(ctx, int64(i+1), fp, keys[i], ev))
	}
	return path
}

func sampleEvents() ([]model.Event, []string) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []model.Event{
		{ID: "e1", Kind: model.KindCreated, TrainerRef: "U1", CertKey: "C1", Channel: "feed", ReceivedAt: at},
		{ID: "e2", Kind: model.KindCreated, TrainerRef: "T1", CertKey: "C2", Channel: "webhook", ReceivedAt: at.Add(time.Second)},
		{ID: "e3", Kind: model.KindCreated, TrainerRef: "T2", CertKey: "C3", Channel: "feed", ReceivedAt: at.Add(2 * time.Second)},
		{ID: "e4", Kind: model.KindDeleted, TrainerRef: "T1", CertKey: "C1", Channel: "feed", ReceivedAt: at.Add(3 * time.Second)},
	}
	return events, []string{"T1", "T1", "T2", "T1"}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
