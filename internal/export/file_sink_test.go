package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-engine/strategy"
)

func samplePlan(at time.Time) strategy.OTOPlan {
	return strategy.BuildOTOPlan(strategy.OTOLadderParams{
		Symbol:        "aapl",
		StartPrice:    100,
		Step:          1,
		InitialShares: 200,
		Levels:        2,
	}, 100.5, at)
}

func TestFileSink_SavePlan(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, nil)
	require.NoError(t, err)

	at := time.Unix(1767225600, 0).UTC()
	plan := samplePlan(at)

	path, err := sink.SavePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "AAPL_oto_1767225600.yaml"), path)

	loaded, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, plan.SharesPerLevel, loaded.SharesPerLevel)
	assert.Equal(t, plan.CurrentStepLevel, loaded.CurrentStepLevel)
	require.Len(t, loaded.Entries, 6)
	assert.Equal(t, plan.Entries[1], loaded.Entries[1])

	second, err := sink.SavePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "AAPL_oto_1767225600_1.yaml"), second)
}

func TestFileSink_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	sink, err := NewFileSink(dir, nil)
	require.NoError(t, err)

	path, err := sink.SavePlan(context.Background(), samplePlan(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
}

func TestFileSink_Errors(t *testing.T) {
	_, err := NewFileSink("", nil)
	assert.Error(t, err)

	sink, err := NewFileSink(t.TempDir(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sink.SavePlan(ctx, samplePlan(time.Now()))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
