// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package squeezenet

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// FinalStddev is the standard deviation of the normal initialization of the final convolution kernel.
const FinalStddev = 0.01

// kernelFanIn returns the fan-in of a convolution kernel: input channels times the receptive field.
//
// Kernels are shaped [<spatial...>, input_channels, output_channels] for images.ChannelsLast and
// [output_channels, input_channels, <spatial...>] for images.ChannelsFirst.
func kernelFanIn(shape shapes.Shape, layout images.ChannelsAxisConfig) int {
	rank := shape.Rank()
	if rank < 2 {
		return max(1, shape.Size())
	}
	var spatial []int
	var inputChannels int
	if layout == images.ChannelsFirst {
		inputChannels = shape.Dimensions[1]
		spatial = shape.Dimensions[2:]
	} else {
		inputChannels = shape.Dimensions[rank-2]
		spatial = shape.Dimensions[:rank-2]
	}
	fanIn := inputChannels
	for _, dim := range spatial {
		fanIn *= dim
	}
	return max(1, fanIn)
}

// KaimingUniform returns an initializer that samples kernels from U(-bound, bound), with bound = sqrt(6/fan_in),
// the He initialization for ReLU activations (https://arxiv.org/abs/1502.01852).
//
// Biases (anything with rank <= 1) are initialized to zero.
// It uses the context random state, so it is deterministic if the context was seeded with Context.SetRNGStateFromSeed.
func KaimingUniform(ctx *context.Context, layout images.ChannelsAxisConfig) context.VariableInitializer {
	return func(g *Graph, shape shapes.Shape) *Node {
		if !shape.DType.IsFloat() || shape.Rank() <= 1 {
			return Zeros(g, shape)
		}
		bound := math.Sqrt(6.0 / float64(kernelFanIn(shape, layout)))
		values := ctx.RandomUniform(g, shape)
		return AddScalar(MulScalar(values, 2*bound), -bound)
	}
}

// NormalInitializer returns an initializer that samples kernels from N(0, stddev).
// Biases (rank <= 1) are initialized to zero.
func NormalInitializer(ctx *context.Context, stddev float64) context.VariableInitializer {
	return func(g *Graph, shape shapes.Shape) *Node {
		if !shape.DType.IsFloat() || shape.Rank() <= 1 {
			return Zeros(g, shape)
		}
		return MulScalar(ctx.RandomNormal(g, shape), stddev)
	}
}
