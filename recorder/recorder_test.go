package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.db")
	s, err := Open(path, []byte("pipeline: {}"))
	require.NoError(t, err)
	defer s.Close()

	_, err = uuid.Parse(s.RunID())
	require.NoError(t, err)

	ctx := context.Background()
	captured := time.Unix(1700000000, 5000)
	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, s.Record(ctx, Record{
			Seq:        seq,
			Captured:   captured,
			Angle:      0.1 * float64(seq),
			AX:         150,
			AY:         100,
			AShapes:    2,
			BX:         900,
			BY:         150,
			BFallback:  true,
			MidX:       525,
			MidY:       125,
			Separation: 752.5,
			Lateral:    225,
			Duration:   3 * time.Millisecond,
		}))
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.InDelta(t, 0.3, got[0].Angle, 1e-12)
	assert.True(t, got[0].Captured.Equal(captured))
	assert.Equal(t, float32(150), got[0].AX)
	assert.Equal(t, 2, got[0].AShapes)
	assert.False(t, got[0].AFallback)
	assert.True(t, got[0].BFallback)
	assert.Equal(t, float32(752.5), got[0].Separation)
	assert.Equal(t, 3*time.Millisecond, got[0].Duration)
}

func TestRunsAreSeparate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.db")
	ctx := context.Background()

	first, err := Open(path, []byte("first"))
	require.NoError(t, err)
	require.NoError(t, first.Record(ctx, Record{Seq: 1}))
	require.NoError(t, first.Close())

	second, err := Open(path, []byte("second"))
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, first.RunID(), second.RunID())

	recent, err := second.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	runs, err := second.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.RunID(), runs[0].ID)
	assert.Equal(t, 1, runs[0].Cycles)
	assert.Equal(t, "second", runs[1].Config)
	assert.Equal(t, 0, runs[1].Cycles)
}
