// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package squeezenet

import "fmt"

// LayerKind enumerates the kinds of layers in the feature stack.
type LayerKind int

const (
	// ConvLayer is a convolution followed by a ReLU.
	ConvLayer LayerKind = iota
	// PoolLayer is a ceil-mode max-pooling.
	PoolLayer
	// FireLayer is a Fire module.
	FireLayer
)

// String implements fmt.Stringer.
func (k LayerKind) String() string {
	switch k {
	case ConvLayer:
		return "conv"
	case PoolLayer:
		return "pool"
	case FireLayer:
		return "fire"
	default:
		return fmt.Sprintf("LayerKind(%d)", int(k))
	}
}

// FireConfig configures a Fire module: a 1x1 squeeze convolution followed by parallel
// 1x1 and 3x3 expand convolutions whose outputs are concatenated.
type FireConfig struct {
	Squeeze, Expand1x1, Expand3x3 int
}

// OutputChannels is the number of channels after the concatenation of the expand convolutions.
func (f FireConfig) OutputChannels() int { return f.Expand1x1 + f.Expand3x3 }

// NumParameters of a Fire module (kernels and biases) for the given number of input channels.
func (f FireConfig) NumParameters(inputChannels int) int {
	return convParameters(inputChannels, f.Squeeze, 1) +
		convParameters(f.Squeeze, f.Expand1x1, 1) +
		convParameters(f.Squeeze, f.Expand3x3, 3)
}

// Layer is one entry of the feature stack.
type Layer struct {
	Kind LayerKind
	Name string

	// Conv and Pool: Size is the kernel/window size.
	// Conv: Channels is the number of output channels and Padding the symmetric padding.
	// Pool: Stride.
	Size, Channels, Padding, Stride int

	// Fire configuration, for FireLayer.
	Fire FireConfig
}

// FinalKernelSize is the kernel of the last convolution: it collapses the 4x4 feature map
// left by the feature stack on a 32x32 input into one logit per class.
const FinalKernelSize = 4

// Topology returns the feature stack declared for CIFAR-10, in order.
// The final classifier convolution (FinalKernelSize, one output per class) is not included.
func Topology() []Layer {
	fire := func(name string, squeeze, expand1x1, expand3x3 int) Layer {
		return Layer{Kind: FireLayer, Name: name, Fire: FireConfig{squeeze, expand1x1, expand3x3}}
	}
	pool := func(name string) Layer {
		return Layer{Kind: PoolLayer, Name: name, Size: 2, Stride: 2}
	}
	return []Layer{
		{Kind: ConvLayer, Name: "conv1", Size: 3, Channels: 96, Padding: 1},
		pool("pool1"),
		fire("fire1", 16, 64, 64),
		fire("fire2", 16, 64, 64),
		fire("fire3", 32, 128, 128),
		pool("pool2"),
		fire("fire4", 32, 128, 128),
		fire("fire5", 48, 192, 192),
		fire("fire6", 48, 192, 192),
		fire("fire7", 64, 256, 256),
		pool("pool3"),
		fire("fire8", 64, 256, 256),
	}
}

func convParameters(inputChannels, outputChannels, kernelSize int) int {
	return inputChannels*outputChannels*kernelSize*kernelSize + outputChannels
}

// ceilPoolOutput is the output size of a ceil-mode pooling, and the padding at the end
// needed to obtain it with a floor-mode pooling.
func ceilPoolOutput(size, window, stride int) (output, padEnd int) {
	output = (size-window+stride-1)/stride + 1
	// The last window must start inside the input.
	if (output-1)*stride >= size {
		output--
	}
	padEnd = max(0, (output-1)*stride+window-size)
	return
}

// OutputSpatialSize returns the spatial size (height or width) after the feature stack, for an input of the given size.
func OutputSpatialSize(size int) int {
	for _, layer := range Topology() {
		switch layer.Kind {
		case ConvLayer:
			size = size + 2*layer.Padding - layer.Size + 1
		case PoolLayer:
			size, _ = ceilPoolOutput(size, layer.Size, layer.Stride)
		}
	}
	return size
}

// OutputChannels returns the number of channels at the end of the feature stack.
func OutputChannels() int {
	channels := 0
	for _, layer := range Topology() {
		switch layer.Kind {
		case ConvLayer:
			channels = layer.Channels
		case FireLayer:
			channels = layer.Fire.OutputChannels()
		}
	}
	return channels
}

// NumParameters returns the number of trainable parameters of the model for images with
// inputChannels channels and numClasses outputs.
func NumParameters(inputChannels, numClasses int) int {
	total := 0
	channels := inputChannels
	for _, layer := range Topology() {
		switch layer.Kind {
		case ConvLayer:
			total += convParameters(channels, layer.Channels, layer.Size)
			channels = layer.Channels
		case FireLayer:
			total += layer.Fire.NumParameters(channels)
			channels = layer.Fire.OutputChannels()
		}
	}
	total += convParameters(channels, numClasses, FinalKernelSize)
	return total
}
