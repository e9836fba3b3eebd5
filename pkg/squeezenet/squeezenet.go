// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package squeezenet declares a SqueezeNet model for CIFAR-10 sized images as a GoMLX graph.
//
// The network is a fixed stack of convolutions, ceil-mode max-poolings and Fire modules
// (see Topology), followed by a final 4x4 convolution producing one logit per class.
//
// Hyperparameters are read from the context, see ParamNumClasses and ParamChannelsFirst.
package squeezenet

import (
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

const (
	// ParamNumClasses is the context parameter with the number of output classes. Default is 10.
	ParamNumClasses = "num_classes"

	// ParamChannelsFirst is the context parameter that selects the images layout: if true (the default)
	// images are shaped [batch, channels, height, width], otherwise [batch, height, width, channels].
	ParamChannelsFirst = "channels_first"

	// DefaultNumClasses for CIFAR-10.
	DefaultNumClasses = 10
)

// LayoutFromContext returns the images layout configured with ParamChannelsFirst.
func LayoutFromContext(ctx *context.Context) images.ChannelsAxisConfig {
	if context.GetParamOr(ctx, ParamChannelsFirst, true) {
		return images.ChannelsFirst
	}
	return images.ChannelsLast
}

// conv adds a convolution with bias and stride 1. Padding is either 0 or the symmetric padding that
// preserves the spatial dimensions.
func conv(ctx *context.Context, x *Node, layout images.ChannelsAxisConfig, channels, kernelSize, padding int) *Node {
	builder := layers.Convolution(ctx, x).
		ChannelsAxis(layout).
		Channels(channels).
		KernelSize(kernelSize).
		Strides(1)
	switch {
	case padding == 0:
		builder = builder.NoPadding()
	case 2*padding == kernelSize-1:
		builder = builder.PadSame()
	default:
		Panicf("padding %d not supported for kernel size %d", padding, kernelSize)
	}
	return builder.Done()
}

// maxPoolCeil applies a max-pooling rounding the output size up, as in "ceil mode":
// the input is padded at the end so that partial windows at the border are kept.
func maxPoolCeil(x *Node, layout images.ChannelsAxisConfig, window, stride int) *Node {
	spatialAxes := images.GetSpatialAxes(x, layout)
	paddings := make([][2]int, len(spatialAxes))
	needsPadding := false
	for ii, axis := range spatialAxes {
		_, padEnd := ceilPoolOutput(x.Shape().Dimensions[axis], window, stride)
		paddings[ii][1] = padEnd
		needsPadding = needsPadding || padEnd > 0
	}
	pool := MaxPool(x).ChannelsAxis(layout).Window(window).Strides(stride)
	if needsPadding {
		pool = pool.PaddingPerDim(paddings)
	} else {
		pool = pool.NoPadding()
	}
	return pool.Done()
}

// Fire builds a Fire module: a 1x1 squeeze convolution followed by parallel 1x1 and 3x3 expand convolutions,
// each followed by a ReLU, concatenated on the channels axis.
func Fire(ctx *context.Context, x *Node, cfg FireConfig, layout images.ChannelsAxisConfig) *Node {
	_, expanded1x1, expanded3x3 := fireParts(ctx, x, cfg, layout)
	return concatChannels(expanded1x1, expanded3x3, layout)
}

func concatChannels(a, b *Node, layout images.ChannelsAxisConfig) *Node {
	return Concatenate([]*Node{a, b}, images.GetChannelsAxis(a, layout))
}

func fireParts(ctx *context.Context, x *Node, cfg FireConfig, layout images.ChannelsAxisConfig) (squeezed, expanded1x1, expanded3x3 *Node) {
	squeezed = activations.Relu(conv(ctx.In("squeeze"), x, layout, cfg.Squeeze, 1, 0))
	expanded1x1 = activations.Relu(conv(ctx.In("expand1x1"), squeezed, layout, cfg.Expand1x1, 1, 0))
	expanded3x3 = activations.Relu(conv(ctx.In("expand3x3"), squeezed, layout, cfg.Expand3x3, 3, 1))
	return
}

// Features applies the feature stack (Topology) to the batched images.
//
// If stopAfter is not empty, the stack ends after the layer with that name, and no variables are
// created for the layers after it. It panics if there is no such layer.
//
// If visit is not nil, it is called with the name and output of each layer, and for Fire modules
// also with the outputs of their parts ("<fire>/squeeze", "<fire>/expand1x1" and "<fire>/expand3x3").
func Features(ctx *context.Context, x *Node, layout images.ChannelsAxisConfig, stopAfter string,
	visit func(name string, output *Node)) *Node {
	if stopAfter != "" && !slices.ContainsFunc(Topology(), func(layer Layer) bool { return layer.Name == stopAfter }) {
		Panicf("squeezenet has no layer named %q to stop after", stopAfter)
	}
	ctx = ctx.WithInitializer(KaimingUniform(ctx, layout))
	for _, layer := range Topology() {
		layerCtx := ctx.In(layer.Name)
		switch layer.Kind {
		case ConvLayer:
			x = activations.Relu(conv(layerCtx, x, layout, layer.Channels, layer.Size, layer.Padding))
		case PoolLayer:
			x = maxPoolCeil(x, layout, layer.Size, layer.Stride)
		case FireLayer:
			squeezed, expanded1x1, expanded3x3 := fireParts(layerCtx, x, layer.Fire, layout)
			if visit != nil {
				visit(layer.Name+"/squeeze", squeezed)
				visit(layer.Name+"/expand1x1", expanded1x1)
				visit(layer.Name+"/expand3x3", expanded3x3)
			}
			x = concatChannels(expanded1x1, expanded3x3, layout)
		default:
			Panicf("unknown layer kind %s in layer %q", layer.Kind, layer.Name)
		}
		if visit != nil {
			visit(layer.Name, x)
		}
		if layer.Name == stopAfter {
			break
		}
	}
	return x
}

// ModelGraph implements train.ModelFn, and returns the logits shaped [batch, num_classes], given the batched images.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	batchedImages := inputs[0]
	if batchedImages.Rank() != 4 {
		Panicf("squeezenet expects images of rank 4 (batched 2D images), got shape %s", batchedImages.Shape())
	}
	batchSize := batchedImages.Shape().Dimensions[0]
	layout := LayoutFromContext(ctx)
	numClasses := context.GetParamOr(ctx, ParamNumClasses, DefaultNumClasses)

	x := Features(ctx, batchedImages, layout, "", nil)
	for _, axis := range images.GetSpatialAxes(x, layout) {
		if dim := x.Shape().Dimensions[axis]; dim != FinalKernelSize {
			Panicf("feature map of shape %s has spatial dimension %d, final convolution requires %d: "+
				"squeezenet is declared for 32x32 images", x.Shape(), dim, FinalKernelSize)
		}
	}
	finalCtx := ctx.In("final_conv").WithInitializer(NormalInitializer(ctx, FinalStddev))
	logits := conv(finalCtx, x, layout, numClasses, FinalKernelSize, 0)
	logits = Reshape(logits, batchSize, numClasses)
	return []*Node{logits}
}
