// Package eval implements the evaluator: prediction, confusion counts, ROC
// curve construction, and AUC (full and truncated-FPR) over a held-out
// dataset against a trained CPM core.
package eval

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/dkgv/cpm/internal/cpm"
	"github.com/dkgv/cpm/internal/cpmerr"
	"github.com/dkgv/cpm/internal/dataset"
)

// Prediction is one test instance's outcome, also the unit written to the
// CLI's --scores output file.
type Prediction struct {
	Score     float32
	AssignedK int
	IsOuter   bool
}

// Confusion holds threshold-0 confusion counts.
type Confusion struct {
	TP, FP, TN, FN int
}

// ROCPoint is one (FPR, TPR) vertex of the ROC curve, in ascending FPR
// order, with score ties collapsed into a single point.
type ROCPoint struct {
	FPR, TPR float32
}

// Result aggregates everything the evaluator computes over a dataset.
type Result struct {
	Predictions []Prediction

	MeanPosHingeLoss  float32
	MeanNegHingeLoss  float32
	MeanExclusionLoss float32
	EntropyBits       float32

	// Cost is eval_utils.cpp's combined misc_cost: the raw (unaveraged) pos
	// and neg hinge sums, divided once by the total instance count, rather
	// than averaged separately per class like MeanPosHingeLoss/MeanNegHingeLoss.
	Cost float32
	// L2 is the trained model's weight-bank L2 norm (model.getW().l2norm()),
	// excluding the intercept column.
	L2 float32

	Confusion Confusion

	// Accuracy, TruePositiveRate, FalsePositiveRate and Precision are the
	// threshold-0 rates eval_utils.cpp's measure() reports alongside the ROC
	// curve; all four are derived from Confusion. Precision reads 0, not
	// NaN, when no instance is predicted positive.
	Accuracy          float32
	TruePositiveRate  float32
	FalsePositiveRate float32
	Precision         float32

	ROC         []ROCPoint
	AUCFull     float32
	AUC01       float32
	AUC001      float32
	AbsoluteTop float32
}

// Evaluate scores every instance in data with core, returning the aggregate
// Result. It returns cpmerr.ErrInconsistent if a predicted score's sign
// ever disagrees with the argmax classifier's own score -- an internal
// self-check that should never trip in a correct W.
func Evaluate(data *dataset.Adaptor, core *cpm.Core) (*Result, error) {
	r := &Result{Predictions: make([]Prediction, data.Len())}

	var posHingeSum, negHingeSum, exclusionSum float32
	var posSeen, negSeen int
	occupancy := make(map[int]int)

	for i := 0; i < data.Len(); i++ {
		inst := data.At(i)
		score, argmax := core.Predict(inst.X)
		scores := core.Scores()

		if (scores[argmax] > 0) != (score > 0) {
			return nil, errors.Wrapf(cpmerr.ErrInconsistent,
				"instance %d: predicted score %.6g disagrees in sign with argmax classifier score %.6g",
				i, score, scores[argmax])
		}

		isOuter := inst.Label == core.OuterLabel()
		r.Predictions[i] = Prediction{Score: score, AssignedK: argmax, IsOuter: isOuter}

		if isOuter {
			posSeen++
			posHingeSum += max32(0, 1-score)
			occupancy[argmax]++
			for k, s := range scores {
				if k == argmax {
					continue
				}
				if s > 0 {
					exclusionSum += s
				}
			}
			r.Confusion.classifyPositive(score)
		} else {
			negSeen++
			for _, s := range scores {
				negHingeSum += max32(0, 1+s)
			}
			r.Confusion.classifyNegative(score)
		}
	}

	if posSeen > 0 {
		r.MeanPosHingeLoss = posHingeSum / float32(posSeen)
		r.MeanExclusionLoss = exclusionSum / float32(posSeen)
	}
	if negSeen > 0 {
		r.MeanNegHingeLoss = negHingeSum / float32(negSeen)
	}
	if total := posSeen + negSeen; total > 0 {
		r.Cost = (posHingeSum + negHingeSum) / float32(total)
	}
	r.L2 = core.W().L2Norm()
	r.EntropyBits = entropyBits(occupancy, posSeen)

	c := r.Confusion
	if posSeen > 0 {
		r.TruePositiveRate = float32(c.TP) / float32(posSeen)
	}
	if negSeen > 0 {
		r.FalsePositiveRate = float32(c.FP) / float32(negSeen)
	}
	if total := posSeen + negSeen; total > 0 {
		r.Accuracy = float32(c.TP+c.TN) / float32(total)
	}
	if predictedPos := c.TP + c.FP; predictedPos > 0 {
		r.Precision = float32(c.TP) / float32(predictedPos)
	}

	r.ROC, r.AUCFull, r.AUC01, r.AUC001 = rocAndAUC(r.Predictions)
	r.AbsoluteTop = absoluteTop(r.Predictions)

	return r, nil
}

func (c *Confusion) classifyPositive(score float32) {
	if score > 0 {
		c.TP++
	} else {
		c.FN++
	}
}

func (c *Confusion) classifyNegative(score float32) {
	if score > 0 {
		c.FP++
	} else {
		c.TN++
	}
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func entropyBits(occupancy map[int]int, n int) float32 {
	if n <= 0 {
		return 0
	}
	const ln2 = float32(0.6931471805599453)
	var h float32
	for _, count := range occupancy {
		p := float32(count) / float32(n)
		if p <= 1e-6 {
			continue
		}
		h -= p * math32.Log(p) / ln2
	}
	return h
}

// rocAndAUC sorts predictions by descending score, collapses score ties
// into single ROC vertices, and computes the trapezoidal AUC over the full
// curve plus the two truncated-FPR ranges, each normalized to [0,1] by
// dividing by its FPR cutoff.
func rocAndAUC(preds []Prediction) (points []ROCPoint, full, at01, at001 float32) {
	sorted := make([]Prediction, len(preds))
	copy(sorted, preds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var totalPos, totalNeg int
	for _, p := range sorted {
		if p.IsOuter {
			totalPos++
		} else {
			totalNeg++
		}
	}

	points = append(points, ROCPoint{0, 0})
	if totalPos == 0 || totalNeg == 0 {
		points = append(points, ROCPoint{1, 1})
		return points, 0, 0, 0
	}

	var tp, fp int
	i := 0
	for i < len(sorted) {
		j := i
		for j < len(sorted) && sorted[j].Score == sorted[i].Score {
			if sorted[j].IsOuter {
				tp++
			} else {
				fp++
			}
			j++
		}
		points = append(points, ROCPoint{
			FPR: float32(fp) / float32(totalNeg),
			TPR: float32(tp) / float32(totalPos),
		})
		i = j
	}

	full = trapezoidArea(points, 1.0) / 1.0
	at01 = trapezoidArea(points, 0.1) / 0.1
	at001 = trapezoidArea(points, 0.01) / 0.01
	return points, full, at01, at001
}

// trapezoidArea integrates the ROC curve's area under FPR in [0, cutoff],
// interpolating the segment that straddles the cutoff.
func trapezoidArea(points []ROCPoint, cutoff float32) float32 {
	var area float32
	for i := 1; i < len(points); i++ {
		x0, y0 := points[i-1].FPR, points[i-1].TPR
		x1, y1 := points[i].FPR, points[i].TPR
		if x0 >= cutoff {
			break
		}
		if x1 > cutoff {
			// Interpolate y at x=cutoff along this segment.
			frac := (cutoff - x0) / (x1 - x0)
			yCut := y0 + frac*(y1-y0)
			area += (cutoff - x0) * (y0 + yCut) / 2
			break
		}
		area += (x1 - x0) * (y0 + y1) / 2
	}
	return area
}

// absoluteTop returns the fraction of positives whose score strictly
// exceeds every negative's score.
func absoluteTop(preds []Prediction) float32 {
	const negInf = float32(-3.402823466e+38) // -math.MaxFloat32
	maxNeg := negInf
	var numPos int
	for _, p := range preds {
		if p.IsOuter {
			numPos++
		} else if p.Score > maxNeg {
			maxNeg = p.Score
		}
	}
	if numPos == 0 {
		return 0
	}
	var above int
	for _, p := range preds {
		if p.IsOuter && p.Score > maxNeg {
			above++
		}
	}
	return float32(above) / float32(numPos)
}
