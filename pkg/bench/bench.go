// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bench trains the SqueezeNet model on CIFAR-10 batch files for a fixed number of epochs
// and reports the time it took to prepare and to train.
//
// Two flavors of the input pipeline are supported, see Flavor. The measured Result can be written in the
// plain-text results format (Result.WriteTo), as CSV, plotted or rendered as a table.
package bench

import (
	"math/rand"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/squeezebench/pkg/cifar"
	"github.com/gomlx/squeezebench/pkg/squeezenet"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelScope is the context scope under which the model variables are created.
const ModelScope = "model"

// newOptimizer returns plain SGD (no learning rate decay unless configured) or, for other names,
// the optimizer built by optimizers.ByName, configured through the context.
func newOptimizer(ctx *context.Context, cfg *Config) optimizers.Interface {
	if cfg.Optimizer == "sgd" {
		return optimizers.StochasticGradientDescent().
			WithDecay(cfg.SGDDecay).
			WithLearningRate(cfg.LearningRate).
			Done()
	}
	ctx.SetParam(optimizers.ParamLearningRate, cfg.LearningRate)
	return optimizers.ByName(ctx, cfg.Optimizer)
}

// newDataset builds the batched training dataset of the configured flavor.
// The returned stop function releases any goroutines used by the pipeline, and must be called when done.
func newDataset(backend backends.Backend, cfg *Config, batch *cifar.Batch, ctx *context.Context) (ds train.Dataset, stop func(), err error) {
	layout := squeezenet.LayoutFromContext(ctx)
	inMemory, err := cifar.NewDataset(backend, string(cfg.Flavor), batch, cfg.DType, layout)
	if err != nil {
		return nil, nil, err
	}
	inMemory.BatchSize(cfg.BatchSize, true)
	stop = func() {}
	switch cfg.Flavor {
	case PyTorch:
		ds = inMemory
	case TensorFlow:
		inMemory.Shuffle().WithRand(rand.New(rand.NewSource(cfg.Seed)))
		ds = inMemory
		if cfg.Prefetch > 0 {
			prefetched := datasets.CustomParallel(inMemory).
				Parallelism(1).
				Buffer(cfg.Prefetch).
				Start()
			ds = prefetched
			stop = prefetched.Done
		}
	default:
		return nil, nil, errors.Errorf("flavor %q not supported", cfg.Flavor)
	}
	return ds, stop, nil
}

// Run trains the model for cfg.Epochs epochs over the examples of cfg.InputFiles and returns the measurements.
//
// The preparation time covers reading the input files, converting them to tensors and building the model
// trainer. The graph compilation happens on the first training step, so it is accounted in the first epoch.
//
// The model variables are created under the ModelScope of ctx, and the context random number generator
// is seeded with cfg.Seed.
func Run(backend backends.Backend, ctx *context.Context, cfg *Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prepStart := time.Now()
	batch, err := cifar.ReadBatchFiles(cfg.InputFiles...)
	if err != nil {
		return nil, err
	}
	if cfg.MaxExamples > 0 {
		batch = batch.Take(cfg.MaxExamples)
	}
	stepsPerEpoch := batch.NumExamples() / cfg.BatchSize
	if stepsPerEpoch == 0 {
		return nil, errors.Errorf("not enough examples (%d) for one batch of size %d", batch.NumExamples(), cfg.BatchSize)
	}

	ds, stop, err := newDataset(backend, cfg, batch, ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "building %s dataset", cfg.Flavor)
	}
	defer stop()

	if err = ctx.SetRNGStateFromSeed(cfg.Seed); err != nil {
		return nil, errors.WithMessagef(err, "seeding the context random number generator with %d", cfg.Seed)
	}
	modelCtx := ctx.In(ModelScope)
	trainer := train.NewTrainer(backend, modelCtx, squeezenet.ModelGraph,
		losses.SparseCategoricalCrossEntropyLogits,
		newOptimizer(modelCtx, cfg),
		nil, // trainMetrics
		nil) // evalMetrics
	loop := train.NewLoop(trainer)
	tracker := newEpochTracker(stepsPerEpoch, cfg.LogsPerEpoch)
	tracker.attach(loop)
	if cfg.ProgressBar {
		commandline.AttachProgressBar(loop)
	}

	result := &Result{
		RunID:         uuid.NewString(),
		Flavor:        cfg.Flavor,
		Backend:       backend.Name(),
		NumExamples:   batch.NumExamples(),
		BatchSize:     cfg.BatchSize,
		StepsPerEpoch: stepsPerEpoch,
		NumParameters: squeezenet.NumParameters(cifar.Depth, context.GetParamOr(ctx, squeezenet.ParamNumClasses, squeezenet.DefaultNumClasses)),
		PrepareTime:   time.Since(prepStart),
	}
	klog.V(1).Infof("run %s: prepared in %s, training %d epochs of %d steps (%s)",
		result.RunID, result.PrepareTime, cfg.Epochs, stepsPerEpoch, cfg)

	if _, err = loop.RunEpochs(ds, cfg.Epochs); err != nil {
		return nil, errors.WithMessagef(err, "training %d epochs with flavor %s", cfg.Epochs, cfg.Flavor)
	}
	result.EpochLosses = tracker.losses
	result.EpochTimes = tracker.durations
	if len(result.EpochTimes) != cfg.Epochs {
		return nil, errors.Errorf("recorded %d epochs, expected %d", len(result.EpochTimes), cfg.Epochs)
	}
	return result, nil
}
