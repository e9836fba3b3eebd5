// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bench

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/squeezebench/pkg/squeezenet"
	"github.com/pkg/errors"
)

// Flavor selects how data is fed to the training loop, imitating the input pipeline of
// either PyTorch or TensorFlow.
type Flavor string

const (
	// PyTorch feeds batches sequentially, straight from the in-memory dataset.
	PyTorch Flavor = "pytorch"

	// TensorFlow feeds shuffled batches through a read-ahead (prefetch) pipeline.
	TensorFlow Flavor = "tensorflow"
)

// ValidFlavors lists the accepted values of ParamFlavor.
var ValidFlavors = []Flavor{PyTorch, TensorFlow}

// DisplayName is the capitalized name used in the default results file name, e.g. "result_PyTorch".
func (f Flavor) DisplayName() string {
	switch f {
	case PyTorch:
		return "PyTorch"
	case TensorFlow:
		return "TensorFlow"
	default:
		return string(f)
	}
}

// Context parameters read by ConfigFromContext.
const (
	ParamFlavor       = "flavor"
	ParamEpochs       = "epochs"
	ParamBatchSize    = "batch_size"
	ParamSeed         = "seed"
	ParamDType        = "dtype"
	ParamSGDDecay     = "sgd_decay"
	ParamLogsPerEpoch = "logs_per_epoch"
	ParamPrefetch     = "prefetch"
	ParamMaxExamples  = "max_examples"
)

// CreateDefaultContext returns a context with the default hyperparameters of the benchmark.
// They can be changed from the command line with commandline.ParseContextSettings.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamFlavor:       string(PyTorch),
		ParamEpochs:       4,
		ParamBatchSize:    64,
		ParamSeed:         42,
		ParamDType:        "float32",
		ParamSGDDecay:     false,
		ParamLogsPerEpoch: 10,
		ParamPrefetch:     4,
		ParamMaxExamples:  0,

		optimizers.ParamOptimizer:    "sgd",
		optimizers.ParamLearningRate: 0.05,

		squeezenet.ParamNumClasses:    squeezenet.DefaultNumClasses,
		squeezenet.ParamChannelsFirst: true,
	})
	return ctx
}

// Config of one benchmark run.
type Config struct {
	// InputFiles are CIFAR-10 binary batch files, concatenated in order.
	InputFiles []string

	Flavor       Flavor
	Epochs       int
	BatchSize    int
	LearningRate float64
	Optimizer    string
	SGDDecay     bool
	Seed         int64
	DType        dtypes.DType

	// LogsPerEpoch is the number of progress log lines per epoch. 0 disables them.
	LogsPerEpoch int

	// Prefetch is the number of batches read ahead by the TensorFlow flavor.
	Prefetch int

	// MaxExamples limits the number of examples used from the input files. 0 means all.
	MaxExamples int

	// ProgressBar attaches a command-line progress bar to the training loop.
	ProgressBar bool
}

// parseDType accepts only the float dtypes supported by the CIFAR loader.
func parseDType(name string) (dtypes.DType, error) {
	switch strings.ToLower(name) {
	case "float32", "f32":
		return dtypes.Float32, nil
	case "float64", "f64":
		return dtypes.Float64, nil
	default:
		return dtypes.InvalidDType, errors.Errorf("invalid dtype %q, valid values are \"float32\" and \"float64\"", name)
	}
}

// ConfigFromContext reads the benchmark configuration from the context hyperparameters.
func ConfigFromContext(ctx *context.Context, inputFiles []string) (*Config, error) {
	dtype, err := parseDType(context.GetParamOr(ctx, ParamDType, "float32"))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		InputFiles:   inputFiles,
		Flavor:       Flavor(strings.ToLower(context.GetParamOr(ctx, ParamFlavor, string(PyTorch)))),
		Epochs:       context.GetParamOr(ctx, ParamEpochs, 4),
		BatchSize:    context.GetParamOr(ctx, ParamBatchSize, 64),
		LearningRate: context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.05),
		Optimizer:    context.GetParamOr(ctx, optimizers.ParamOptimizer, "sgd"),
		SGDDecay:     context.GetParamOr(ctx, ParamSGDDecay, false),
		Seed:         int64(context.GetParamOr(ctx, ParamSeed, 42)),
		DType:        dtype,
		LogsPerEpoch: context.GetParamOr(ctx, ParamLogsPerEpoch, 10),
		Prefetch:     context.GetParamOr(ctx, ParamPrefetch, 4),
		MaxExamples:  context.GetParamOr(ctx, ParamMaxExamples, 0),
	}
	return cfg, cfg.Validate()
}

// Validate returns an error describing the first invalid setting found.
func (cfg *Config) Validate() error {
	switch {
	case len(cfg.InputFiles) == 0:
		return errors.New("no input files configured")
	case !slices.Contains(ValidFlavors, cfg.Flavor):
		return errors.Errorf("invalid flavor %q, valid values are %v", cfg.Flavor, ValidFlavors)
	case cfg.Epochs <= 0:
		return errors.Errorf("epochs must be > 0, got %d", cfg.Epochs)
	case cfg.BatchSize <= 0:
		return errors.Errorf("batch size must be > 0, got %d", cfg.BatchSize)
	case cfg.LearningRate <= 0:
		return errors.Errorf("learning rate must be > 0, got %g", cfg.LearningRate)
	case cfg.DType != dtypes.Float32 && cfg.DType != dtypes.Float64:
		return errors.Errorf("dtype %s not supported, use float32 or float64", cfg.DType)
	case cfg.LogsPerEpoch < 0:
		return errors.Errorf("logs per epoch must be >= 0, got %d", cfg.LogsPerEpoch)
	case cfg.Prefetch < 0:
		return errors.Errorf("prefetch must be >= 0, got %d", cfg.Prefetch)
	case cfg.MaxExamples < 0:
		return errors.Errorf("max examples must be >= 0, got %d", cfg.MaxExamples)
	}
	if _, found := optimizers.KnownOptimizers[cfg.Optimizer]; !found {
		return errors.Errorf("unknown optimizer %q, valid values are %v",
			cfg.Optimizer, slices.Sorted(maps.Keys(optimizers.KnownOptimizers)))
	}
	return nil
}

// String implements fmt.Stringer.
func (cfg *Config) String() string {
	return fmt.Sprintf("flavor=%s epochs=%d batch_size=%d lr=%g optimizer=%s seed=%d dtype=%s inputs=%v",
		cfg.Flavor, cfg.Epochs, cfg.BatchSize, cfg.LearningRate, cfg.Optimizer, cfg.Seed, cfg.DType, cfg.InputFiles)
}
