// Command cpm-sweep runs a list of CPM hyperparameter configurations in
// parallel against one shared train/test dataset pair, per spec §4.6.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/dkgv/cpm/internal/cpmerr"
	"github.com/dkgv/cpm/internal/dataset"
	"github.com/dkgv/cpm/internal/report"
	"github.com/dkgv/cpm/internal/sweep"
)

var (
	flagTrainPath   string
	flagTestPath    string
	flagSweepPath   string
	flagOuterLabel  int
	flagParallelism int
	flagCachePath   string
)

func main() {
	klog.InitFlags(nil)

	root := &cobra.Command{
		Use:          "cpm-sweep",
		Short:        "Run a hyperparameter sweep of CPM configurations in parallel",
		SilenceUsage: true,
		RunE:         run,
	}

	flags := root.Flags()
	flags.AddGoFlagSet(flag.CommandLine)
	flags.StringVarP(&flagTrainPath, "train", "t", "", "training dataset path (libsvm format)")
	flags.StringVarP(&flagTestPath, "test", "c", "", "test dataset path (libsvm format)")
	flags.StringVar(&flagSweepPath, "sweep", "", "path to a file with one configuration string per line")
	flags.IntVar(&flagOuterLabel, "outer_label", 1, "label treated as the positive/outer class")
	flags.IntVar(&flagParallelism, "parallelism", 0, "number of configurations to run concurrently (0 = GOMAXPROCS)")
	flags.StringVar(&flagCachePath, "cache", "", "optional path to cache the parsed training dataset across runs")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagTrainPath == "" || flagTestPath == "" || flagSweepPath == "" {
		return errors.Wrap(cpmerr.ErrInvalidArgument, "--train, --test, and --sweep are all required")
	}

	configs, err := loadConfigs(flagSweepPath)
	if err != nil {
		return err
	}
	klog.Infof("loaded %d sweep configurations from %q", len(configs), flagSweepPath)

	train, err := sweep.OpenOrCreateCache(flagCachePath, flagOuterLabel, func() (*dataset.Adaptor, error) {
		return dataset.LoadLibSVM(flagTrainPath, flagOuterLabel)
	})
	if err != nil {
		return err
	}
	test, err := dataset.LoadLibSVM(flagTestPath, flagOuterLabel)
	if err != nil {
		return err
	}

	out, err := sweep.Run(context.Background(), configs, train, test, flagParallelism)
	if err != nil {
		return err
	}

	for i, result := range out.Results {
		fmt.Printf("--- config %d: %s ---\n", i, configs[i].Raw)
		fmt.Print(report.Render(result))
	}
	return nil
}

func loadConfigs(path string) ([]sweep.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(cpmerr.ErrIoFailure, "opening sweep file %q: %v", path, err)
	}
	defer f.Close()

	var configs []sweep.Config
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cfg, err := sweep.ParseConfig(line)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(cpmerr.ErrIoFailure, "reading sweep file %q: %v", path, err)
	}
	return configs, nil
}
