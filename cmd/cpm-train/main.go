// Command cpm-train trains and/or evaluates a Convex Polytope Machine on a
// libsvm-formatted dataset, per the §6.3 CLI surface.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/dkgv/cpm/internal/cpm"
	"github.com/dkgv/cpm/internal/cpmerr"
	"github.com/dkgv/cpm/internal/dataset"
	"github.com/dkgv/cpm/internal/eval"
	"github.com/dkgv/cpm/internal/report"
	"github.com/dkgv/cpm/internal/trainer"
)

var (
	flagQuiet       bool
	flagClassifiers int
	flagC           float32
	flagCostRatio   float32
	flagEntropy     float32
	flagSeed        uint64
	flagOuterLabel  int
	flagReshuffle   bool
	flagIterations  int
	flagTrainPath   string
	flagTestPath    string
	flagModelIn     string
	flagModelOut    string
	flagScoresPath  string
)

func main() {
	klog.InitFlags(nil)

	root := &cobra.Command{
		Use:          "cpm-train",
		Short:        "Train and evaluate a Convex Polytope Machine",
		SilenceUsage: true,
		RunE:         run,
	}

	flags := root.Flags()
	flags.AddGoFlagSet(flag.CommandLine)
	flags.BoolVar(&flagQuiet, "quiet", false, "suppress progress reporting")
	flags.IntVarP(&flagClassifiers, "classifiers", "k", 1, "number of sub-classifiers K")
	flags.Float32Var(&flagC, "C", 1.0, "inverse of the per-run L2 penalty (user lambda = 1/C)")
	flags.Float32Var(&flagCostRatio, "cost_ratio", 1.0, "cost ratio c-/c+")
	flags.Float32Var(&flagEntropy, "entropy", 1.0, "minimum assignment entropy floor, in nats")
	flags.Uint64Var(&flagSeed, "seed", uint64(time.Now().UnixNano()), "PRNG seed for the training permutation")
	flags.IntVar(&flagOuterLabel, "outer_label", 1, "label treated as the positive/outer class")
	flags.BoolVar(&flagReshuffle, "reshuffle", false, "reshuffle the instance permutation every epoch")
	flags.IntVarP(&flagIterations, "iterations", "i", 50000000, "total SGD iteration budget")
	flags.StringVarP(&flagTrainPath, "train", "t", "", "training dataset path (libsvm format)")
	flags.StringVarP(&flagTestPath, "test", "c", "", "test dataset path (libsvm format)")
	flags.StringVarP(&flagModelIn, "model_in", "m", "", "model file to load instead of training")
	flags.StringVarP(&flagModelOut, "model_out", "o", "", "model file to write after training")
	flags.StringVarP(&flagScoresPath, "scores", "s", "", "path to write per-instance test scores")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	var core *cpm.Core

	if flagModelIn != "" {
		f, err := os.Open(flagModelIn)
		if err != nil {
			return errors.Wrapf(cpmerr.ErrIoFailure, "opening model %q: %v", flagModelIn, err)
		}
		defer f.Close()
		core, err = cpm.Deserialize(f)
		if err != nil {
			return err
		}
		klog.Infof("loaded model from %q (K=%d, D=%d)", flagModelIn, core.K(), core.D())
	}

	if flagTrainPath != "" {
		train, err := dataset.LoadLibSVM(flagTrainPath, flagOuterLabel)
		if err != nil {
			return err
		}
		klog.Infof("loaded %d training instances (%d positive, %d negative) from %q",
			train.Len(), train.NumPositive(), train.NumNegative(), flagTrainPath)

		tr, err := trainer.New(trainer.Config{
			OuterLabel:  flagOuterLabel,
			Classifiers: flagClassifiers,
			C:           flagC,
			CostRatio:   flagCostRatio,
			Entropy:     flagEntropy,
			Seed:        flagSeed,
			Iterations:  flagIterations,
			Reshuffle:   flagReshuffle,
			Quiet:       flagQuiet,
		}, train)
		if err != nil {
			return err
		}
		if _, err := tr.Run(); err != nil {
			return err
		}
		if trained := tr.Core(); trained != nil {
			core = trained
		}
	}

	if core == nil {
		return errors.Wrap(cpmerr.ErrInvalidArgument, "neither --train nor --model_in was given")
	}

	if flagModelOut != "" {
		f, err := os.Create(flagModelOut)
		if err != nil {
			return errors.Wrapf(cpmerr.ErrIoFailure, "creating model %q: %v", flagModelOut, err)
		}
		defer f.Close()
		if err := core.Serialize(f); err != nil {
			return err
		}
		klog.Infof("wrote model to %q", flagModelOut)
	}

	if flagTestPath != "" {
		test, err := dataset.LoadLibSVM(flagTestPath, flagOuterLabel)
		if err != nil {
			return err
		}
		result, err := eval.Evaluate(test, core)
		if err != nil {
			return err
		}
		if !flagQuiet {
			fmt.Print(report.Render(result))
		}
		if flagScoresPath != "" {
			if err := writeScores(flagScoresPath, result); err != nil {
				return err
			}
		}
	}

	return nil
}

// writeScores writes one line per test instance: "<score>\t<assigned_k>\t<is_outer_label>".
func writeScores(path string, result *eval.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(cpmerr.ErrIoFailure, "creating scores file %q: %v", path, err)
	}
	defer f.Close()
	for _, p := range result.Predictions {
		if _, err := fmt.Fprintf(f, "%g\t%d\t%t\n", p.Score, p.AssignedK, p.IsOuter); err != nil {
			return errors.Wrapf(cpmerr.ErrIoFailure, "writing scores file %q: %v", path, err)
		}
	}
	return nil
}
