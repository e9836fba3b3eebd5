// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bench

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/squeezebench/pkg/cifar"
	"github.com/gomlx/squeezebench/pkg/squeezenet"
	"github.com/pkg/errors"
)

// Probe runs the first layers of a freshly initialized model on the first cfg.BatchSize examples of
// the input files, and prints the head of each activation listed in squeezenet.ProbeNames to w.
//
// It is a debugging aid to compare the numerics with other implementations, no training happens.
// ctx should be a fresh context (with the same hyperparameters), since the probe creates the model variables.
func Probe(backend backends.Backend, ctx *context.Context, cfg *Config, w io.Writer, headSize int) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	batch, err := cifar.ReadBatchFiles(cfg.InputFiles...)
	if err != nil {
		return err
	}
	batch = batch.Take(cfg.BatchSize)
	imagesT, labelsT, err := batch.ToTensors(cfg.DType, squeezenet.LayoutFromContext(ctx))
	if err != nil {
		return err
	}
	labelsT.MustFinalizeAll()
	defer imagesT.MustFinalizeAll()

	if err = ctx.SetRNGStateFromSeed(cfg.Seed); err != nil {
		return errors.WithMessagef(err, "seeding the context random number generator with %d", cfg.Seed)
	}
	outputs, err := context.ExecOnceN(backend, ctx.In(ModelScope), func(ctx *context.Context, x *Node) []*Node {
		return squeezenet.ProbeGraph(ctx, x)
	}, imagesT)
	if err != nil {
		return errors.WithMessage(err, "executing probe graph")
	}
	defer func() {
		for _, output := range outputs {
			output.MustFinalizeAll()
		}
	}()
	for ii, name := range squeezenet.ProbeNames {
		if err = WriteHead(w, name, outputs[ii], headSize); err != nil {
			return err
		}
	}
	return nil
}

// WriteHead writes the name and dimensions of the tensor, and in a second line its maximum absolute value
// followed by its first n values (in row-major order), all with 5 decimal places.
func WriteHead(w io.Writer, name string, t *tensors.Tensor, n int) error {
	var values []float64
	switch t.DType() {
	case dtypes.Float32:
		for _, v := range tensors.MustCopyFlatData[float32](t) {
			values = append(values, float64(v))
		}
	case dtypes.Float64:
		values = tensors.MustCopyFlatData[float64](t)
	default:
		return errors.Errorf("probe %q: dtype %s not supported", name, t.DType())
	}
	maxAbs := 0.0
	for _, v := range values {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %v\n%.5f ||", name, t.Shape().Dimensions, maxAbs)
	for _, v := range values[:min(n, len(values))] {
		fmt.Fprintf(&sb, " %.5f", v)
	}
	sb.WriteString("\n\n")
	_, err := io.WriteString(w, sb.String())
	return errors.Wrapf(err, "writing probe %q", name)
}
