package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telhawk-systems/assetsync/internal/formatter"
	"github.com/telhawk-systems/assetsync/internal/paginate"
	"github.com/telhawk-systems/assetsync/internal/pipeline"
)

// setupTestDatabase starts PostgreSQL in a container, migrates it and opens a Store.
func setupTestDatabase(t *testing.T) *Store {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("assetsync_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("skipping integration test - database not available: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	version, err := Migrate(connStr)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	// A second migration is a no-op.
	_, err = Migrate(connStr)
	require.NoError(t, err)

	store, err := Open(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

func outcome(runID, assetType string, started time.Time) pipeline.Outcome {
	return pipeline.Outcome{
		RunID:     runID,
		AssetType: assetType,
		State:     pipeline.StateDone,
		Stats: pipeline.Stats{
			Pages:      3,
			Fetched:    250,
			Records:    248,
			Dropped:    map[formatter.DropReason]int{formatter.DropNotViable: 2},
			StopReason: paginate.StopCeiling,
			Documents:  248,
			Indexed:    245,
			Failed:     3,
		},
		Started:  started,
		Finished: started.Add(42 * time.Second),
	}
}

func TestRecordAndRecent(t *testing.T) {
	store := setupTestDatabase(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, outcome("run-1", "devices", base)))
	require.NoError(t, store.Record(ctx, outcome("run-2", "devices", base.Add(time.Hour))))
	require.NoError(t, store.Record(ctx, outcome("run-3", "users", base.Add(2*time.Hour))))

	aborted := pipeline.Outcome{
		RunID:     "run-4",
		AssetType: "devices",
		State:     pipeline.StateAborted,
		Reason:    pipeline.ReasonNotReady,
		Error:     "source discovery has not succeeded",
		Started:   base.Add(3 * time.Hour),
		Finished:  base.Add(3*time.Hour + time.Second),
	}
	require.NoError(t, store.Record(ctx, aborted))

	runs, err := store.Recent(ctx, "devices", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	assert.Equal(t, "run-4", runs[0].RunID)
	assert.Equal(t, pipeline.ReasonNotReady, runs[0].Reason)
	assert.Equal(t, "source discovery has not succeeded", runs[0].Error)
	assert.Nil(t, runs[0].Stats.Dropped)

	assert.Equal(t, "run-2", runs[1].RunID)
	assert.Equal(t, pipeline.StateDone, runs[1].State)
	assert.Equal(t, 245, runs[1].Stats.Indexed)
	assert.Equal(t, paginate.StopCeiling, runs[1].Stats.StopReason)
	assert.Equal(t, 2, runs[1].Stats.Dropped[formatter.DropNotViable])
	assert.Equal(t, 42*time.Second, runs[1].Duration)
	assert.True(t, runs[1].Started.Equal(base.Add(time.Hour)))

	limited, err := store.Recent(ctx, "devices", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "run-4", limited[0].RunID)
}

func TestRecord_Duplicate(t *testing.T) {
	store := setupTestDatabase(t)
	ctx := context.Background()

	out := outcome("run-dup", "devices", time.Now().UTC())
	require.NoError(t, store.Record(ctx, out))

	err := store.Record(ctx, out)
	assert.ErrorIs(t, err, ErrDuplicateRun)
}

func TestClose_NilStore(t *testing.T) {
	var s *Store
	assert.NotPanics(t, s.Close)
}
