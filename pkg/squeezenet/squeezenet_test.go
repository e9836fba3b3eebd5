package squeezenet

import (
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestTopology(t *testing.T) {
	layers := Topology()
	require.Len(t, layers, 12)
	numFire, numPool := 0, 0
	for _, layer := range layers {
		switch layer.Kind {
		case FireLayer:
			numFire++
		case PoolLayer:
			numPool++
		}
	}
	assert.Equal(t, 8, numFire)
	assert.Equal(t, 3, numPool)
	assert.Equal(t, 512, OutputChannels())
	assert.Equal(t, FinalKernelSize, OutputSpatialSize(32))
	assert.Equal(t, "fire", FireLayer.String())
}

func TestNumParameters(t *testing.T) {
	assert.Equal(t, 11_920, FireConfig{16, 64, 64}.NumParameters(96))
	assert.Equal(t, 805_834, NumParameters(3, 10))
}

func TestCeilPoolOutput(t *testing.T) {
	for _, tc := range []struct{ size, window, stride, output, padEnd int }{
		{32, 2, 2, 16, 0},
		{5, 2, 2, 3, 1},
		{4, 2, 2, 2, 0},
		{7, 3, 2, 3, 0},
		{6, 3, 2, 3, 1},
		{1, 2, 2, 1, 1},
	} {
		output, padEnd := ceilPoolOutput(tc.size, tc.window, tc.stride)
		assert.Equalf(t, tc.output, output, "output for %+v", tc)
		assert.Equalf(t, tc.padEnd, padEnd, "padEnd for %+v", tc)
	}
}

func TestKernelFanIn(t *testing.T) {
	assert.Equal(t, 3*3*16, kernelFanIn(shapes.Make(dtypes.Float32, 3, 3, 16, 64), images.ChannelsLast))
	assert.Equal(t, 3*3*16, kernelFanIn(shapes.Make(dtypes.Float32, 64, 16, 3, 3), images.ChannelsFirst))
	assert.Equal(t, 10, kernelFanIn(shapes.Make(dtypes.Float32, 10), images.ChannelsFirst))
}

func TestModelGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, channelsFirst := range []bool{true, false} {
		ctx := context.New()
		require.NoError(t, ctx.SetRNGStateFromSeed(42))
		ctx.SetParam(ParamChannelsFirst, channelsFirst)
		layout := LayoutFromContext(ctx)
		input := tensors.FromShape(shapes.Make(dtypes.Float32, 2, 3, 32, 32))
		if layout == images.ChannelsLast {
			input = tensors.FromShape(shapes.Make(dtypes.Float32, 2, 32, 32, 3))
		}
		logits := context.MustExecOnce(backend, ctx.In("model"), func(ctx *context.Context, x *Node) *Node {
			return ModelGraph(ctx, nil, []*Node{x})[0]
		}, input)
		assert.Equal(t, []int{2, DefaultNumClasses}, logits.Shape().Dimensions)

		// All-zero input with zero biases gives zero logits.
		for _, v := range tensors.MustCopyFlatData[float32](logits) {
			assert.Equal(t, float32(0), v)
		}

		numParams := 0
		for v := range ctx.IterVariables() {
			if v.Trainable {
				numParams += v.Shape().Size()
			}
		}
		assert.Equalf(t, NumParameters(3, DefaultNumClasses), numParams, "channels_first=%v", channelsFirst)
	}
}

func TestModelGraphWrongSize(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	input := tensors.FromShape(shapes.Make(dtypes.Float32, 1, 3, 16, 16))
	_, err := context.ExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return ModelGraph(ctx, nil, []*Node{x})[0]
	}, input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32x32")
}

func TestInitializers(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	require.NoError(t, ctx.SetRNGStateFromSeed(42))
	kernelShape := shapes.Make(dtypes.Float32, 64, 16, 3, 3)
	outputs := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		return []*Node{
			KaimingUniform(ctx, images.ChannelsFirst)(g, kernelShape),
			NormalInitializer(ctx, FinalStddev)(g, shapes.Make(dtypes.Float32, 10, 512, 4, 4)),
			KaimingUniform(ctx, images.ChannelsFirst)(g, shapes.Make(dtypes.Float32, 64)),
		}
	})
	bound := math.Sqrt(6.0 / (16 * 3 * 3))
	for _, v := range tensors.MustCopyFlatData[float32](outputs[0]) {
		require.LessOrEqual(t, math.Abs(float64(v)), bound)
	}
	normal := tensors.MustCopyFlatData[float32](outputs[1])
	var sumSquares float64
	for _, v := range normal {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, FinalStddev, math.Sqrt(sumSquares/float64(len(normal))), 0.001)

	// Rank-1 shapes are biases: zero.
	for _, v := range tensors.MustCopyFlatData[float32](outputs[2]) {
		require.Equal(t, float32(0), v)
	}
}

func TestProbeGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	require.NoError(t, ctx.SetRNGStateFromSeed(42))
	input := tensors.FromShape(shapes.Make(dtypes.Float32, 1, 3, 32, 32))
	outputs := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, x *Node) []*Node {
		return ProbeGraph(ctx, x)
	}, input)
	require.Len(t, outputs, len(ProbeNames))
	assert.Equal(t, []int{1, 96, 32, 32}, outputs[1].Shape().Dimensions)
	assert.Equal(t, []int{1, 96, 16, 16}, outputs[2].Shape().Dimensions)
	assert.Equal(t, []int{1, 16, 16, 16}, outputs[3].Shape().Dimensions)
	assert.Equal(t, []int{1, 128, 16, 16}, outputs[6].Shape().Dimensions)
	assert.Equal(t, []int{1, 256, 16, 16}, outputs[8].Shape().Dimensions)

	// The stack stops at ProbeLastLayer: no variables for the later layers.
	for v := range ctx.IterVariables() {
		for _, later := range []string{"fire4", "fire5", "fire6", "fire7", "fire8", "final_conv"} {
			require.NotContainsf(t, v.Scope(), later, "variable %s created after %q", v.ScopeAndName(), ProbeLastLayer)
		}
	}

	// Stopping after an unknown layer fails at graph-building time.
	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, x *Node) *Node {
			return Features(ctx, x, images.ChannelsFirst, "fire42", nil)
		}, input)
	})
}

// testImages returns a deterministic non-zero batch of images shaped [n, 3, 32, 32].
func testImages(n int) *tensors.Tensor {
	x := tensors.FromShape(shapes.Make(dtypes.Float32, n, 3, 32, 32))
	tensors.MustMutableFlatData[float32](x, func(flat []float32) {
		for ii := range flat {
			flat[ii] = float32(ii%17) / 17
		}
	})
	return x
}

func seededActivations(t *testing.T, seed int64) []float32 {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	require.NoError(t, ctx.SetRNGStateFromSeed(seed))
	outputs := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, x *Node) []*Node {
		return ProbeGraph(ctx, x)
	}, testImages(2))
	return tensors.MustCopyFlatData[float32](outputs[len(outputs)-1])
}

func TestInitializationIsDeterministic(t *testing.T) {
	first := seededActivations(t, 42)
	second := seededActivations(t, 42)
	require.Equal(t, first, second, "same seed must give the same initialization")
	other := seededActivations(t, 7)
	require.NotEqual(t, first, other, "a different seed must change the initialization")
}
