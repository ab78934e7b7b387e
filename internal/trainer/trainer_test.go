package trainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkgv/cpm/internal/dataset"
	"github.com/dkgv/cpm/internal/vector"
)

func mustAdaptor(t *testing.T, outerLabel int, labels []int, bodies []string) *dataset.Adaptor {
	t.Helper()
	vecs := make([]*vector.SparseVector, len(bodies))
	for i, b := range bodies {
		v, err := vector.ParseLibSVMBody(b)
		require.NoError(t, err)
		vecs[i] = v
	}
	a, err := dataset.New(outerLabel, labels, vecs)
	require.NoError(t, err)
	return a
}

// Scenario 1 driven through the trainer wrapper instead of raw OneStep
// calls: checks the lambda/cost conversions and epoch accounting end to end.
func TestRunSingleClassifierConverges(t *testing.T) {
	data := mustAdaptor(t, 1, []int{1, -1}, []string{"1:1.0", "1:-1.0"})

	tr, err := New(Config{
		OuterLabel:  1,
		Classifiers: 1,
		C:           10, // lambda_user = 0.1
		CostRatio:   1,
		Entropy:     0,
		Seed:        0,
		Iterations:  200, // lambda_step = 0.1/200, matching scenario 1's effective lambda over 100 "epochs" of the pair
		Quiet:       true,
	}, data)
	require.NoError(t, err)

	stats, err := tr.Run()
	require.NoError(t, err)
	assert.Len(t, stats, 100) // 200 iterations / 2 instances per epoch

	core := tr.Core()
	scorePos, _ := core.Predict(mustVecFor(t, "1:1.0"))
	scoreNeg, _ := core.Predict(mustVecFor(t, "1:-1.0"))
	assert.Greater(t, scorePos, float32(0))
	assert.Less(t, scoreNeg, float32(0))
}

func mustVecFor(t *testing.T, body string) *vector.SparseVector {
	t.Helper()
	v, err := vector.ParseLibSVMBody(body)
	require.NoError(t, err)
	return v
}

func TestRunEmptyDatasetLeavesModelUnchanged(t *testing.T) {
	data := mustAdaptor(t, 1, nil, nil)
	tr, err := New(Config{
		OuterLabel:  1,
		Classifiers: 1,
		C:           1,
		CostRatio:   1,
		Iterations:  10,
		Quiet:       true,
	}, data)
	require.NoError(t, err)

	stats, err := tr.Run()
	require.NoError(t, err)
	assert.Nil(t, stats)
	assert.Nil(t, tr.Core())
}

func TestNewRejectsNonPositiveC(t *testing.T) {
	data := mustAdaptor(t, 1, []int{1}, []string{"1:1.0"})
	_, err := New(Config{Classifiers: 1, C: 0, Iterations: 10}, data)
	require.Error(t, err)
}
