// Package sweep implements the parallel driver: it runs a list of
// hyperparameter configurations against one shared train/test dataset pair,
// each configuration on its own goroutine, writing results into disjoint
// slices so no locking is needed.
package sweep

import (
	"context"
	"encoding/gob"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/dkgv/cpm/internal/cpmerr"
	"github.com/dkgv/cpm/internal/dataset"
	"github.com/dkgv/cpm/internal/eval"
	"github.com/dkgv/cpm/internal/parameters"
	"github.com/dkgv/cpm/internal/trainer"
)

// Config is one parsed sweep line.
type Config struct {
	Raw         string
	OuterLabel  int
	Classifiers int
	C           float32
	CostRatio   float32
	Entropy     float32
	Seed        uint64
	HasSeed     bool
	Iterations  int
	Reshuffle   bool
}

// ParseConfig parses one sweep-file line of the form
// "k=4,C=0.5,cost_ratio=1,entropy=0.69,seed=1,iterations=50000,outer_label=1,reshuffle".
func ParseConfig(line string) (Config, error) {
	params := parameters.NewFromConfigString(line)

	k, err := parameters.PopParamOr(params, "k", 1)
	if err != nil {
		return Config{}, errors.Wrapf(cpmerr.ErrMalformedInput, "%v", err)
	}
	c, err := parameters.PopParamOr(params, "C", float32(1.0))
	if err != nil {
		return Config{}, errors.Wrapf(cpmerr.ErrMalformedInput, "%v", err)
	}
	costRatio, err := parameters.PopParamOr(params, "cost_ratio", float32(1.0))
	if err != nil {
		return Config{}, errors.Wrapf(cpmerr.ErrMalformedInput, "%v", err)
	}
	entropy, err := parameters.PopParamOr(params, "entropy", float32(1.0))
	if err != nil {
		return Config{}, errors.Wrapf(cpmerr.ErrMalformedInput, "%v", err)
	}
	iterations, err := parameters.PopParamOr(params, "iterations", 50000000)
	if err != nil {
		return Config{}, errors.Wrapf(cpmerr.ErrMalformedInput, "%v", err)
	}
	outerLabel, err := parameters.PopParamOr(params, "outer_label", 1)
	if err != nil {
		return Config{}, errors.Wrapf(cpmerr.ErrMalformedInput, "%v", err)
	}
	reshuffle, err := parameters.PopParamOr(params, "reshuffle", false)
	if err != nil {
		return Config{}, errors.Wrapf(cpmerr.ErrMalformedInput, "%v", err)
	}
	seedStr, hasSeed := params["seed"]
	delete(params, "seed")
	cfg := Config{
		Raw: line, OuterLabel: outerLabel, Classifiers: k, C: c,
		CostRatio: costRatio, Entropy: entropy, Iterations: iterations, Reshuffle: reshuffle,
	}
	if hasSeed {
		seed, err := parameters.GetParamOr(parameters.Params{"seed": seedStr}, "seed", 0)
		if err != nil {
			return Config{}, errors.Wrapf(cpmerr.ErrMalformedInput, "%v", err)
		}
		cfg.Seed = uint64(seed)
		cfg.HasSeed = true
	}
	return cfg, nil
}

// deriveSeed reproduces the source's seed policy: system time XOR thread
// (worker) identity, folded to 32 bits, unless the config pins its own.
func deriveSeed(cfg Config, workerIndex int) uint64 {
	if cfg.HasSeed {
		return cfg.Seed
	}
	folded := (uint64(time.Now().UnixNano()) ^ uint64(workerIndex)) & 0xFFFFFFFF
	return folded
}

// Output collects every configuration's evaluator result plus the raw
// per-instance predictions, each configuration writing to its own disjoint
// slice of Scores.
type Output struct {
	Results []*eval.Result
	Scores  []eval.Prediction // len(configs)*test.Len(); config i occupies [i*N : (i+1)*N)
}

// Run trains and evaluates every config against train/test on its own
// goroutine, bounded to parallelism concurrent workers (0 means
// runtime.GOMAXPROCS(0)).
func Run(ctx context.Context, configs []Config, train, test *dataset.Adaptor, parallelism int) (*Output, error) {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	n := test.Len()
	out := &Output{
		Results: make([]*eval.Result, len(configs)),
		Scores:  make([]eval.Prediction, len(configs)*n),
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(parallelism)

	for i, cfg := range configs {
		i, cfg := i, cfg
		wg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			seed := deriveSeed(cfg, i)
			klog.V(1).Infof("sweep config %d (%q): seed=%d", i, cfg.Raw, seed)

			tr, err := trainer.New(trainer.Config{
				OuterLabel:  cfg.OuterLabel,
				Classifiers: cfg.Classifiers,
				C:           cfg.C,
				CostRatio:   cfg.CostRatio,
				Entropy:     cfg.Entropy,
				Seed:        seed,
				Iterations:  cfg.Iterations,
				Reshuffle:   cfg.Reshuffle,
				Quiet:       true,
			}, train)
			if err != nil {
				return errors.Wrapf(err, "config %d (%q)", i, cfg.Raw)
			}
			if _, err := tr.Run(); err != nil {
				return errors.Wrapf(err, "config %d (%q)", i, cfg.Raw)
			}

			result, err := eval.Evaluate(test, tr.Core())
			if err != nil {
				return errors.Wrapf(err, "config %d (%q)", i, cfg.Raw)
			}
			out.Results[i] = result
			copy(out.Scores[i*n:(i+1)*n], result.Predictions)
			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CacheDataset writes adaptor instances to w in gob form, for reuse across
// sweep invocations without re-parsing the libsvm text file.
func CacheDataset(w io.Writer, a *dataset.Adaptor) error {
	enc := gob.NewEncoder(w)
	return errors.Wrap(enc.Encode(dataset.ExportForGob(a)), "encoding dataset cache")
}

// LoadCachedDataset reads a dataset previously written by CacheDataset.
func LoadCachedDataset(r io.Reader) (*dataset.Adaptor, error) {
	dec := gob.NewDecoder(r)
	var raw dataset.GobRecord
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrapf(cpmerr.ErrIoFailure, "decoding dataset cache: %v", err)
	}
	return dataset.ImportFromGob(raw)
}

// OpenOrCreateCache is a convenience wrapper used by cmd/cpm-sweep's
// --cache flag: it loads path if present, otherwise parses train from
// libsvm text and writes the cache for next time.
func OpenOrCreateCache(path string, outerLabel int, loadLibSVM func() (*dataset.Adaptor, error)) (*dataset.Adaptor, error) {
	if path == "" {
		return loadLibSVM()
	}
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		a, err := LoadCachedDataset(f)
		if err == nil && a.OuterLabel() == outerLabel {
			return a, nil
		}
		if err == nil {
			klog.Errorf("dataset cache %q was built with outer_label=%d, want %d; reparsing", path, a.OuterLabel(), outerLabel)
		} else {
			klog.Errorf("failed to read dataset cache %q, reparsing: %v", path, err)
		}
	}
	a, err := loadLibSVM()
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		klog.Errorf("failed to create dataset cache %q: %v", path, err)
		return a, nil
	}
	defer f.Close()
	if err := CacheDataset(f, a); err != nil {
		klog.Errorf("failed to write dataset cache %q: %v", path, err)
	}
	return a, nil
}
