package sweep

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkgv/cpm/internal/dataset"
	"github.com/dkgv/cpm/internal/vector"
)

func mustAdaptor(t *testing.T) *dataset.Adaptor {
	t.Helper()
	v1, err := vector.ParseLibSVMBody("1:1.0")
	require.NoError(t, err)
	v2, err := vector.ParseLibSVMBody("1:-1.0")
	require.NoError(t, err)
	a, err := dataset.New(1, []int{1, -1}, []*vector.SparseVector{v1, v2})
	require.NoError(t, err)
	return a
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig("k=2,C=0.5")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Classifiers)
	assert.Equal(t, float32(0.5), cfg.C)
	assert.Equal(t, float32(1.0), cfg.CostRatio)
	assert.False(t, cfg.HasSeed)
}

func TestParseConfigPinnedSeed(t *testing.T) {
	cfg, err := ParseConfig("k=1,seed=42")
	require.NoError(t, err)
	assert.True(t, cfg.HasSeed)
	assert.EqualValues(t, 42, cfg.Seed)
}

func TestRunProducesOneResultPerConfigInDisjointSlots(t *testing.T) {
	train := mustAdaptor(t)
	test := mustAdaptor(t)

	configs := []Config{
		{OuterLabel: 1, Classifiers: 1, C: 1, CostRatio: 1, Iterations: 20, Seed: 1, HasSeed: true},
		{OuterLabel: 1, Classifiers: 1, C: 2, CostRatio: 1, Iterations: 20, Seed: 2, HasSeed: true},
	}

	out, err := Run(context.Background(), configs, train, test, 2)
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Len(t, out.Scores, 2*test.Len())
	for _, r := range out.Results {
		require.NotNil(t, r)
	}
}

func TestDatasetGobCacheRoundTrip(t *testing.T) {
	a := mustAdaptor(t)
	var buf bytes.Buffer
	require.NoError(t, CacheDataset(&buf, a))

	restored, err := LoadCachedDataset(&buf)
	require.NoError(t, err)
	assert.Equal(t, a.Len(), restored.Len())
	assert.Equal(t, a.OuterLabel(), restored.OuterLabel())
	assert.Equal(t, a.At(0).Label, restored.At(0).Label)
}
