package offsets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-mssql-cdc/types"
)

type store interface {
	LoadOffset(ctx context.Context) (*types.Offset, error)
	SaveOffset(ctx context.Context, offset types.Offset) error
	LoadProgress(ctx context.Context) (*types.IncrementalProgress, error)
	SaveProgress(ctx context.Context, progress types.IncrementalProgress) error
	ClearProgress(ctx context.Context) error
	Close() error
}

func TestStores(t *testing.T) {
	stores := []struct {
		name string
		open func(t *testing.T) store
	}{
		{"memory", func(t *testing.T) store { return NewMemoryStore() }},
		{"pebble", func(t *testing.T) store {
			s, err := OpenPebbleStore(t.TempDir())
			require.NoError(t, err)
			return s
		}},
	}

	commit, err := types.ParseLsn("00000027:00000758:0005")
	require.NoError(t, err)
	change, err := types.ParseLsn("00000027:00000758:0003")
	require.NoError(t, err)

	for _, tc := range stores {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s := tc.open(t)
			defer s.Close()

			offset, err := s.LoadOffset(ctx)
			require.NoError(t, err)
			assert.Nil(t, offset)

			saved := types.Offset{
				Position:          types.NewPosition(commit, change, 2),
				SnapshotCompleted: true,
				UpdatedAt:         time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			}
			require.NoError(t, s.SaveOffset(ctx, saved))
			offset, err = s.LoadOffset(ctx)
			require.NoError(t, err)
			require.NotNil(t, offset)
			assert.Equal(t, saved.Position, offset.Position)
			assert.True(t, offset.SnapshotCompleted)
			assert.True(t, saved.UpdatedAt.Equal(offset.UpdatedAt))

			progress, err := s.LoadProgress(ctx)
			require.NoError(t, err)
			assert.Nil(t, progress)

			require.NoError(t, s.SaveProgress(ctx, types.IncrementalProgress{
				RunID:         "01HRUN",
				CurrentTable:  "dbo.orders",
				LastBoundary:  []any{"k-10", []byte{0x01, 0x02}},
				PendingTables: []string{"dbo.customers"},
				ChunkSize:     100,
				Paused:        true,
			}))
			progress, err = s.LoadProgress(ctx)
			require.NoError(t, err)
			require.NotNil(t, progress)
			assert.Equal(t, "dbo.orders", progress.CurrentTable)
			assert.Equal(t, []any{"k-10", []byte{0x01, 0x02}}, progress.LastBoundary)
			assert.Equal(t, []string{"dbo.customers"}, progress.PendingTables)
			assert.Equal(t, 100, progress.ChunkSize)
			assert.True(t, progress.Paused)

			require.NoError(t, s.ClearProgress(ctx))
			progress, err = s.LoadProgress(ctx)
			require.NoError(t, err)
			assert.Nil(t, progress)
		})
	}
}

func TestPebbleStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	commit, err := types.ParseLsn("00000030:00000010:0001")
	require.NoError(t, err)

	s, err := OpenPebbleStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveOffset(ctx, types.Offset{Position: types.CommitPosition(commit)}))
	require.NoError(t, s.Close())

	s, err = OpenPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()
	offset, err := s.LoadOffset(ctx)
	require.NoError(t, err)
	require.NotNil(t, offset)
	assert.Equal(t, types.CommitPosition(commit), offset.Position)
	assert.False(t, offset.SnapshotCompleted)
}

func TestDecodeOffsetRejectsNewerVersion(t *testing.T) {
	data, err := marshal(offsetRecord{Version: 99})
	require.NoError(t, err)
	_, err = decodeOffset(data)
	assert.ErrorContains(t, err, "newer than supported")
}
