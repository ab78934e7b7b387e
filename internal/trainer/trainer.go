// Package trainer implements the epoch-accounting wrapper around the CPM
// core: it owns the permutation of training instances, converts user-facing
// hyperparameters into the core's per-step parameters, and reports
// per-epoch progress.
package trainer

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/dkgv/cpm/internal/cpm"
	"github.com/dkgv/cpm/internal/cpmerr"
	"github.com/dkgv/cpm/internal/dataset"
)

// Config holds the user-facing hyperparameters, converted internally into
// the CPM core's per-step parameters.
type Config struct {
	OuterLabel  int
	Classifiers int     // K
	C           float32 // user lambda = 1/C
	CostRatio   float32 // r = c- / c+
	Entropy     float32 // H, in nats
	Seed        uint64
	Iterations  int
	Reshuffle   bool
	Quiet       bool
}

// EpochStats is the tuple reported on every epoch boundary.
type EpochStats struct {
	Epoch             int
	ReassignmentRate  float32
	MeanExclusionLoss float32
	EntropyBits       float32
	MeanNegHingeLoss  float32
	MeanPosHingeLoss  float32
}

// Trainer owns a CPM core and drives it for Config.Iterations steps over a
// dataset, reporting per-epoch statistics.
type Trainer struct {
	cfg  Config
	core *cpm.Core
	data *dataset.Adaptor
}

// New builds a Trainer and its underlying CPM core from cfg and data.
func New(cfg Config, data *dataset.Adaptor) (*Trainer, error) {
	if cfg.C <= 0 {
		return nil, errors.Wrapf(cpmerr.ErrInvalidArgument, "C=%g must be > 0", cfg.C)
	}
	if cfg.Iterations <= 0 {
		return nil, errors.Wrapf(cpmerr.ErrInvalidArgument, "iterations=%d must be > 0", cfg.Iterations)
	}
	if data.IsEmpty() {
		klog.Infof("training set is empty, model left unchanged")
		return &Trainer{cfg: cfg, data: data}, nil
	}

	lambdaUser := 1 / cfg.C
	lambdaStep := lambdaUser / float32(cfg.Iterations)
	costNeg := cfg.CostRatio / (1 + cfg.CostRatio)
	costPos := 1 / (1 + cfg.CostRatio)

	core, err := cpm.New(cfg.OuterLabel, data.MaxDim(), cfg.Classifiers,
		lambdaStep, cfg.Entropy, costNeg, costPos, data.NumPositive(), cfg.Seed)
	if err != nil {
		return nil, err
	}
	return &Trainer{cfg: cfg, core: core, data: data}, nil
}

// Core exposes the underlying CPM core, e.g. for serialization after Run.
func (t *Trainer) Core() *cpm.Core { return t.core }

// Run drives the training loop for cfg.Iterations steps, returning the
// per-epoch statistics collected along the way.
func (t *Trainer) Run() ([]EpochStats, error) {
	if t.data.IsEmpty() {
		return nil, nil
	}

	nTotal := t.data.Len()
	rng := rand.New(rand.NewSource(int64(t.cfg.Seed)))
	perm := rng.Perm(nTotal)

	var bar *progressbar.ProgressBar
	if !t.cfg.Quiet {
		bar = progressbar.Default(int64(t.cfg.Iterations), "training")
	}

	var stats []EpochStats
	epoch := 0
	epochStart := t.core.AssignmentsSnapshot()

	var exclusionSum, posHingeSum, negHingeSum float32
	var posSeen, negSeen int

	for i := 0; i < t.cfg.Iterations; i++ {
		idx := perm[i%nTotal]
		inst := t.data.At(idx)

		maxScore, exclusionLoss, _, err := t.core.OneStep(inst)
		if err != nil {
			return stats, err
		}

		if inst.Label == t.cfg.OuterLabel {
			posSeen++
			exclusionSum += exclusionLoss
			posHingeSum += max32(0, 1-maxScore)
		} else {
			negSeen++
			// cpm.cpp's CPM::fit accumulates neg_loss from the single argmax
			// score returned by oneStep, not a sum over all K classifiers --
			// that per-classifier sum is eval_utils.cpp's measure(), reused
			// faithfully in internal/eval instead.
			negHingeSum += max32(0, 1+maxScore)
		}

		if bar != nil {
			_ = bar.Add(1)
		}

		if (i+1)%nTotal == 0 {
			epoch++
			current := t.core.AssignmentsSnapshot()
			var reassigned int
			for p := range current {
				if current[p] != epochStart[p] {
					reassigned++
				}
			}
			rate := float32(0)
			if t.data.NumPositive() > 0 {
				rate = float32(reassigned) / float32(t.data.NumPositive())
			}

			entropyBits := shannonEntropyBits(t.core.Occupancy(), t.core.DistinctPositives())

			s := EpochStats{
				Epoch:            epoch,
				ReassignmentRate: rate,
				EntropyBits:      entropyBits,
			}
			if posSeen > 0 {
				s.MeanExclusionLoss = exclusionSum / float32(posSeen)
				s.MeanPosHingeLoss = posHingeSum / float32(posSeen)
			}
			if negSeen > 0 {
				s.MeanNegHingeLoss = negHingeSum / float32(negSeen)
			}
			stats = append(stats, s)

			if !t.cfg.Quiet {
				klog.V(1).Infof("epoch %d: reassignment_rate=%.4f exclusion_loss=%.4f entropy_bits=%.4f neg_hinge=%.4f pos_hinge=%.4f",
					s.Epoch, s.ReassignmentRate, s.MeanExclusionLoss, s.EntropyBits, s.MeanNegHingeLoss, s.MeanPosHingeLoss)
			}

			exclusionSum, posHingeSum, negHingeSum = 0, 0, 0
			posSeen, negSeen = 0, 0
			epochStart = current

			if t.cfg.Reshuffle {
				perm = rng.Perm(nTotal)
			}
		}
	}

	return stats, nil
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func shannonEntropyBits(occ []int, n int) float32 {
	if n <= 0 {
		return 0
	}
	const ln2 = float32(0.6931471805599453)
	var h float32
	for _, count := range occ {
		p := float32(count) / float32(n)
		if p <= 1e-6 {
			continue
		}
		h -= p * math32.Log(p) / ln2
	}
	return h
}
