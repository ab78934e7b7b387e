// Package cpm implements the Convex Polytope Machine online training engine:
// the stochastic sub-gradient descent loop, entropy-constrained attribution
// of positives to sub-classifiers, and the model's on-disk serialization.
package cpm

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/dkgv/cpm/internal/cpmerr"
	"github.com/dkgv/cpm/internal/dataset"
	"github.com/dkgv/cpm/internal/dense"
	"github.com/dkgv/cpm/internal/vector"
)

// margin is the fixed hinge margin used on both sides of the decision
// boundary.
const margin = float32(1.0)

// entropyMinSamplesPerClassifier is the 5*K threshold below which
// heuristicMax always defers to the natural argmax: there isn't enough data
// yet for entropy accounting to be meaningful.
const entropyMinSamplesPerClassifier = 5

// Core is the CPM training engine: it owns the weight bank W and the
// per-positive assignment bookkeeping used by the entropy-constrained
// attribution heuristic. It is not safe for concurrent use -- OneStep is not
// reentrant.
type Core struct {
	outerLabel int
	k, d       int
	lambda     float32
	entropy    float32
	costNeg    float32
	costPos    float32
	seed       uint64

	w *dense.DenseMatrix

	score       []float32 // scratch, observable after Predict/OneStep
	assignments []int32   // len NPos; -1 means never assigned
	occupancy   []int
	occScratch  []int // reused by heuristicMax to avoid per-step allocation
	iter        uint64
	distinctP   int
}

// New allocates a CPM core for K in [1, 65535].
func New(outerLabel, d, k int, lambda, entropyFloor, costNeg, costPos float32, numPos int, seed uint64) (*Core, error) {
	if k < 1 || k > 65535 {
		return nil, errors.Wrapf(cpmerr.ErrInvalidArgument, "K=%d outside [1,65535]", k)
	}
	if lambda <= 0 {
		return nil, errors.Wrapf(cpmerr.ErrInvalidArgument, "lambda=%g must be > 0", lambda)
	}
	if numPos < 0 {
		return nil, errors.Wrapf(cpmerr.ErrInvalidArgument, "numPos=%d must be >= 0", numPos)
	}
	assignments := make([]int32, numPos)
	for i := range assignments {
		assignments[i] = -1
	}
	return &Core{
		outerLabel:  outerLabel,
		k:           k,
		d:           d,
		lambda:      lambda,
		entropy:     entropyFloor,
		costNeg:     costNeg,
		costPos:     costPos,
		seed:        seed,
		w:           dense.New(k, d),
		score:       make([]float32, k),
		assignments: assignments,
		occupancy:   make([]int, k),
		occScratch:  make([]int, k),
	}, nil
}

// K returns the number of sub-classifiers.
func (c *Core) K() int { return c.k }

// D returns the number of dimensions.
func (c *Core) D() int { return c.d }

// Iter returns the number of SGD steps taken so far.
func (c *Core) Iter() uint64 { return c.iter }

// OuterLabel returns the label treated as the positive class.
func (c *Core) OuterLabel() int { return c.outerLabel }

// Occupancy returns a copy of the per-classifier positive-assignment counts.
func (c *Core) Occupancy() []int {
	out := make([]int, len(c.occupancy))
	copy(out, c.occupancy)
	return out
}

// DistinctPositives returns the number of positives ever assigned to a
// classifier.
func (c *Core) DistinctPositives() int { return c.distinctP }

// W exposes the underlying weight bank, for serialization and evaluation.
func (c *Core) W() *dense.DenseMatrix { return c.w }

// Scores returns the scratch buffer last filled by Predict or OneStep. It is
// only valid until the next call to either; callers must not retain it
// across calls.
func (c *Core) Scores() []float32 { return c.score }

// AssignmentsSnapshot returns a copy of the current per-positive assignment
// array, used by the trainer wrapper to compute the per-epoch reassignment
// rate.
func (c *Core) AssignmentsSnapshot() []int32 {
	out := make([]int32, len(c.assignments))
	copy(out, c.assignments)
	return out
}

// argmaxStrict returns the index of the largest element, with ties broken by
// the lowest index (strict '<' on the running best).
func argmaxStrict(scores []float32) int {
	best := 0
	for k := 1; k < len(scores); k++ {
		if scores[best] < scores[k] {
			best = k
		}
	}
	return best
}

// Predict evaluates W against x and returns the scalar maximum and its
// index.
func (c *Core) Predict(x *vector.SparseVector) (maxScore float32, argmax int) {
	c.w.Inner(x, nil, c.score)
	argmax = argmaxStrict(c.score)
	return c.score[argmax], argmax
}

// OneStep performs one SGD step on the given instance, returning the score
// used for the loss, the exclusion loss, and the sub-classifier it is
// assigned to: the natural argmax, which for a positive can differ from the
// classifier the update was attributed to.
func (c *Core) OneStep(inst dataset.Instance) (maxScore, exclusionLoss float32, assignment int, err error) {
	eta := 1.0 / (c.lambda * float32(c.iter+2))
	c.w.Inner(inst.X, nil, c.score)

	if inst.Label == c.outerLabel {
		if int(inst.PosID) >= len(c.assignments) {
			return 0, 0, 0, errors.Wrapf(cpmerr.ErrInvalidArgument,
				"pos_id=%d out of range [0,%d)", inst.PosID, len(c.assignments))
		}
		attributed, trueArgmax := c.heuristicMax(int(inst.PosID))
		maxScore = c.score[attributed]
		for k := 0; k < c.k; k++ {
			if k == attributed {
				continue
			}
			if c.score[k] > 0 {
				exclusionLoss += c.score[k]
			}
		}
		if maxScore < margin {
			c.w.AddInplaceOne(inst.X, eta*c.costPos, attributed)
		}
		if err := c.setHistory(int(inst.PosID), trueArgmax); err != nil {
			return 0, 0, 0, err
		}
		assignment = trueArgmax
	} else {
		g := make([]float32, c.k)
		anyNonZero := false
		for k := 0; k < c.k; k++ {
			if c.score[k] > -margin {
				g[k] = -eta * c.costNeg
				anyNonZero = true
			}
		}
		assignment = argmaxStrict(c.score)
		maxScore = c.score[assignment]
		if anyNonZero {
			c.w.AddInplaceAll(inst.X, g)
		}
		exclusionLoss = 0
	}

	c.w.MulInplaceScalar(max32(0, 1-eta*c.lambda))
	c.iter++
	return maxScore, exclusionLoss, assignment, nil
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// heuristicMax chooses which sub-classifier to credit a positive to,
// possibly overriding the natural argmax so the assignment distribution
// maintains the entropy floor c.entropy.
func (c *Core) heuristicMax(posID int) (attributed, trueArgmax int) {
	trueArgmax = argmaxStrict(c.score)
	// The "too little data yet" gate is judged against distinct_p, exactly as
	// ConvexPolytopeMachine::heuristicMax does it (N = distinct_p; N < k*5.0f)
	// -- never against the total SGD step count. For small N_pos relative to
	// 5*K this gate can stay closed for the lifetime of a run; see DESIGN.md.
	if c.entropy <= 0 || c.distinctP < entropyMinSamplesPerClassifier*c.k {
		return trueArgmax, trueArgmax
	}
	n := c.distinctP

	old := -1
	if posID < len(c.assignments) {
		old = int(c.assignments[posID])
	}

	hOld := shannonEntropyNats(c.occupancy, n)

	copy(c.occScratch, c.occupancy)
	newDenom := n
	if old == -1 {
		newDenom = n + 1
		c.occScratch[trueArgmax]++
	} else {
		c.occScratch[old]--
		c.occScratch[trueArgmax]++
	}
	hNew := shannonEntropyNats(c.occScratch, newDenom)

	if hNew >= c.entropy || hOld < hNew {
		return trueArgmax, trueArgmax
	}

	alt := 0
	found := false
	if old != -1 {
		for k := 0; k < c.k; k++ {
			if c.occupancy[k] < c.occupancy[old] {
				if !found || c.score[k] > c.score[alt] {
					alt = k
					found = true
				}
			}
		}
	} else {
		threshold := float32(c.k) / float32(n)
		for k := 0; k < c.k; k++ {
			if float32(c.occupancy[k]) < threshold {
				if !found || c.score[k] > c.score[alt] {
					alt = k
					found = true
				}
			}
		}
	}
	if !found {
		alt = 0
	}
	return alt, trueArgmax
}

// shannonEntropyNats computes -sum p_k log(p_k) over occ/denom, zeroing
// terms where p_k <= 1e-6.
func shannonEntropyNats(occ []int, denom int) float32 {
	if denom <= 0 {
		return 0
	}
	var h float32
	for _, count := range occ {
		p := float32(count) / float32(denom)
		if p <= 1e-6 {
			continue
		}
		h -= p * math32.Log(p)
	}
	return h
}

// setHistory records that posID is now attributed to classifier kTrue.
func (c *Core) setHistory(posID, kTrue int) error {
	if posID < 0 || posID >= len(c.assignments) {
		return errors.Wrapf(cpmerr.ErrInvalidArgument, "pos_id=%d out of range [0,%d)", posID, len(c.assignments))
	}
	old := c.assignments[posID]
	c.assignments[posID] = int32(kTrue)
	c.occupancy[kTrue]++
	if old == -1 {
		c.distinctP++
	} else {
		c.occupancy[old]--
	}
	return nil
}

// Clear resets iter and distinctP to zero and zeros W, following the
// source's CPM::clear behavior verbatim: assignments and occupancy are NOT
// reset by Clear (see DESIGN.md), so occupancy can keep nonzero counts while
// distinctP reads back as 0 -- the Σ occupancy[k] = distinctP invariant no
// longer holds until enough new positives are assigned to restore it. Also,
// W.Clear() sets its scales to 0.0, which violates the scales >= minScale
// invariant until the next mutating call triggers a rescale.
func (c *Core) Clear() {
	c.iter = 0
	c.distinctP = 0
	c.w.Clear()
}
