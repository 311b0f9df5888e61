package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/certsync/internal/model"
)

func TestFakeBackend_ScriptedFailures(t *testing.T) {
	b := NewFakeBackend([]model.Trainer{{ID: "T1"}}, nil)
	b.Fail(CallRecompute, 2)
	ctx := context.Background()

	_, err := b.RecomputeSpecializations(ctx, "T1")
	assert.ErrorIs(t, err, ErrScripted)
	_, err = b.RecomputeSpecializations(ctx, "T1")
	assert.ErrorIs(t, err, ErrScripted)
	_, err = b.RecomputeSpecializations(ctx, "T1")
	assert.NoError(t, err)

	assert.Equal(t, 3, b.Calls(CallRecompute))
}

func TestFakeBackend_AlwaysFail(t *testing.T) {
	b := NewFakeBackend(nil, nil)
	b.Fail(CallFetchPending, -1)

	for range 3 {
		_, err := b.FetchPendingCertifications(context.Background())
		assert.ErrorIs(t, err, ErrScripted)
	}
	b.Fail(CallFetchPending, 0)
	_, err := b.FetchPendingCertifications(context.Background())
	assert.NoError(t, err)
}

func TestFakeBackend_RecomputeStoresResult(t *testing.T) {
	b := NewFakeBackend([]model.Trainer{{ID: "T1", Specializations: []string{"old"}}}, nil)
	b.SetRecomputed("T1", []string{"new"})

	got, err := b.RecomputeSpecializations(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, got.HasSpecializations)
	assert.Equal(t, []string{"new"}, got.Specializations)

	fetched, err := b.FetchTrainerByID(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, fetched.Specializations)

	_, err = b.FetchTrainerByID(context.Background(), "T404")
	assert.Error(t, err)
}

func TestFakeBackend_HoldLoads(t *testing.T) {
	b := NewFakeBackend([]model.Trainer{{ID: "T1"}}, nil)
	b.HoldLoads()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = b.FetchTrainers(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("FetchTrainers returned while loads are held")
	case <-time.After(20 * time.Millisecond):
	}

	b.ReleaseLoads()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("FetchTrainers did not return after release")
	}
}
