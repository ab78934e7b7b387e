package report

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkgv/cpm/internal/eval"
)

func TestRenderContainsKeyMetrics(t *testing.T) {
	r := &eval.Result{
		MeanPosHingeLoss: 0.1,
		AUCFull:          0.75,
		AbsoluteTop:      0.5,
		L2:               2.0,
		Accuracy:         0.9,
		Precision:        0.8,
	}
	out := Render(r)
	assert.Contains(t, out, "AUC [0,1]")
	assert.Contains(t, out, "0.750000")
	assert.Contains(t, out, "absolute top")
	assert.Contains(t, out, "weight L2 norm")
	assert.Contains(t, out, "2.000000")
	assert.Contains(t, out, "precision")
}
