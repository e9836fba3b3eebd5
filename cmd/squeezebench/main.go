// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// squeezebench trains SqueezeNet on CIFAR-10 binary batch files for a fixed number of epochs
// and writes the per-epoch training loss, the preparation time and the median epoch time to a results file.
//
// Hyperparameters (epochs, batch size, learning rate, flavor, ...) are set with -set, e.g.:
//
//	squeezebench -set="flavor=tensorflow;epochs=2;batch_size=128"
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/squeezebench/pkg/bench"
	"github.com/gomlx/squeezebench/pkg/cifar"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagInputFile = flag.String("input_file", "~/work/cifar/cifar-10-batches-bin/data_batch_1.bin",
		"CIFAR-10 binary batch file(s) used for training. Multiple files can be given separated by commas.")
	flagWriteTo   = flag.String("write_to", "", "Results file. Defaults to \"result_<Flavor>\", e.g. \"result_PyTorch\".")
	flagFlavor    = flag.String("flavor", "", "Overrides the \"flavor\" hyperparameter: \"pytorch\" or \"tensorflow\".")
	flagDataDir   = flag.String("data", "~/work/cifar", "Directory where CIFAR-10 is downloaded to, if -download is set.")
	flagDownload  = flag.Bool("download", false, "Download CIFAR-10 to -data, if not there yet. If -input_file is not set, it uses data_batch_1.bin from the download.")
	flagCSV       = flag.String("csv", "", "If set, also write the per-epoch measurements in CSV format to this file.")
	flagPlot      = flag.String("plot", "", "If set, save a PNG with the loss and time per epoch to this file.")
	flagProbe     = flag.Int("probe", 0, "If > 0, instead of training, print the first N values of the first layers' activations.")
	flagBackend   = flag.String("backend", "", "GoMLX backend configuration, e.g. \"xla:cuda\". Defaults to $GOMLX_BACKEND or the default backend. Training requires an XLA backend: the pure Go backend (\"go\") lacks the max-pool gradient and can only run -probe.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

func main() {
	ctx := bench.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	if *flagFlavor != "" {
		ctx.SetParam(bench.ParamFlavor, *flagFlavor)
		paramsSet = append(paramsSet, bench.ParamFlavor)
	}
	if *flagBackend != "" {
		must.M(os.Setenv(backends.ConfigEnvVar, *flagBackend))
	}

	err := exceptions.TryCatch[error](func() { run(ctx, paramsSet) })
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

// inputFiles returns the configured input files, downloading CIFAR-10 first if requested.
func inputFiles() ([]string, error) {
	inputFile := *flagInputFile
	if *flagDownload {
		*flagDataDir = fsutil.MustReplaceTildeInDir(*flagDataDir)
		if err := os.MkdirAll(*flagDataDir, 0o777); err != nil {
			return nil, errors.Wrapf(err, "creating data directory %q", *flagDataDir)
		}
		if err := cifar.Download(*flagDataDir); err != nil {
			return nil, err
		}
		if !isFlagSet("input_file") {
			inputFile = filepath.Join(*flagDataDir, cifar.C10SubDir, "data_batch_1.bin")
		}
	}
	return cifar.SplitFileList(inputFile), nil
}

func isFlagSet(name string) (found bool) {
	flag.Visit(func(f *flag.Flag) {
		found = found || f.Name == name
	})
	return
}

func run(ctx *context.Context, paramsSet []string) {
	files := must.M1(inputFiles())
	cfg := must.M1(bench.ConfigFromContext(ctx, files))
	cfg.ProgressBar = *flagVerbosity >= 2

	backend := backends.MustNew()
	if *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
		if len(paramsSet) > 0 {
			fmt.Println(commandline.SprintModifiedContextSettings(ctx, paramsSet))
		}
	}

	if *flagProbe > 0 {
		must.M(bench.Probe(backend, ctx, cfg, os.Stdout, *flagProbe))
		return
	}

	result := must.M1(bench.Run(backend, ctx, cfg))
	writeTo := *flagWriteTo
	if writeTo == "" {
		writeTo = "result_" + cfg.Flavor.DisplayName()
	}
	must.M(result.WriteFile(writeTo))
	if *flagCSV != "" {
		f := must.M1(os.Create(*flagCSV))
		must.M(result.WriteCSV(f))
		must.M(f.Close())
	}
	if *flagPlot != "" {
		must.M(result.PlotPNG(*flagPlot))
	}
	if *flagVerbosity >= 1 {
		fmt.Println(result.Report())
		fmt.Printf("Results written to %q (run time: preparation %s, median epoch %s)\n", writeTo,
			commandline.FormatDuration(result.PrepareTime), commandline.FormatDuration(result.MedianEpochTime()))
	}
}
