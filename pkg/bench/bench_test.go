package bench

import (
	"bytes"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/squeezebench/pkg/cifar"
	"github.com/gomlx/squeezebench/pkg/squeezenet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

// writeBatchFile writes numExamples random CIFAR-10 records to a file in dir.
func writeBatchFile(t *testing.T, dir string, numExamples int) string {
	rng := rand.New(rand.NewSource(7))
	record := make([]byte, 1+cifar.ImageSizeBytes)
	var buf bytes.Buffer
	for ii := range numExamples {
		record[0] = byte(ii % len(cifar.C10Labels))
		rng.Read(record[1:])
		buf.Write(record)
	}
	filePath := filepath.Join(dir, "data_batch_test.bin")
	require.NoError(t, os.WriteFile(filePath, buf.Bytes(), 0o644))
	return filePath
}

func testConfig(t *testing.T, flavor Flavor, numExamples int) *Config {
	ctx := CreateDefaultContext()
	ctx.SetParams(map[string]any{
		ParamFlavor:       string(flavor),
		ParamEpochs:       2,
		ParamBatchSize:    4,
		ParamLogsPerEpoch: 1,
		ParamPrefetch:     2,
	})
	cfg, err := ConfigFromContext(ctx, []string{writeBatchFile(t, t.TempDir(), numExamples)})
	require.NoError(t, err)
	return cfg
}

func TestConfigFromContext(t *testing.T) {
	ctx := CreateDefaultContext()
	cfg, err := ConfigFromContext(ctx, []string{"data_batch_1.bin"})
	require.NoError(t, err)
	assert.Equal(t, PyTorch, cfg.Flavor)
	assert.Equal(t, 4, cfg.Epochs)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 0.05, cfg.LearningRate)
	assert.Equal(t, "sgd", cfg.Optimizer)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, dtypes.Float32, cfg.DType)
	assert.Equal(t, 10, cfg.LogsPerEpoch)
	assert.Equal(t, "result_PyTorch", "result_"+cfg.Flavor.DisplayName())

	for _, tc := range []struct {
		key, errContains string
		value            any
	}{
		{ParamFlavor, "invalid flavor", "jax"},
		{ParamDType, "invalid dtype", "int8"},
		{ParamEpochs, "epochs", 0},
		{ParamBatchSize, "batch size", -1},
		{optimizers.ParamOptimizer, "unknown optimizer", "no_such_optimizer"},
	} {
		ctx := CreateDefaultContext()
		ctx.SetParam(tc.key, tc.value)
		_, err := ConfigFromContext(ctx, []string{"data_batch_1.bin"})
		require.Errorf(t, err, "%s=%v", tc.key, tc.value)
		assert.Contains(t, err.Error(), tc.errContains)
	}

	_, err = ConfigFromContext(CreateDefaultContext(), nil)
	require.Error(t, err)
}

func TestEpochTracker(t *testing.T) {
	clock := time.Unix(0, 0)
	var logs []string
	tracker := newEpochTracker(4, 2)
	tracker.now = func() time.Time { return clock }
	tracker.logf = func(format string, args ...any) {
		logs = append(logs, format)
	}
	tracker.start()
	for epoch, losses := range [][]float64{{4, 2, 3, 3}, {1, 1, 1, 1}} {
		for _, loss := range losses {
			clock = clock.Add(time.Duration(epoch+1) * time.Second)
			tracker.record(epoch, loss)
		}
	}
	tracker.closeEpoch()
	assert.Equal(t, []float64{3, 1}, tracker.losses)
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, tracker.durations)
	assert.Len(t, logs, 4)
	assert.Equal(t, "epoch %d: step %d, training loss %f", logs[0])

	// Closing twice doesn't add empty epochs.
	tracker.closeEpoch()
	assert.Len(t, tracker.losses, 2)
}

func TestBatchLoss(t *testing.T) {
	loss, err := batchLoss([]*tensors.Tensor{tensors.FromValue(float32(1.5))})
	require.NoError(t, err)
	assert.Equal(t, 1.5, loss)
	_, err = batchLoss(nil)
	require.Error(t, err)
	_, err = batchLoss([]*tensors.Tensor{tensors.FromValue(int32(1))})
	require.Error(t, err)
}

func TestRun(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, flavor := range ValidFlavors {
		t.Run(string(flavor), func(t *testing.T) {
			cfg := testConfig(t, flavor, 10)
			result, err := Run(backend, CreateDefaultContext(), cfg)
			require.NoError(t, err)
			assert.Equal(t, flavor, result.Flavor)
			assert.NotEmpty(t, result.RunID)
			assert.Equal(t, 10, result.NumExamples)
			assert.Equal(t, 2, result.StepsPerEpoch)
			assert.Equal(t, squeezenet.NumParameters(3, 10), result.NumParameters)
			require.Len(t, result.EpochLosses, 2)
			require.Len(t, result.EpochTimes, 2)
			for _, loss := range result.EpochLosses {
				assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0), "loss %g", loss)
				assert.Greater(t, loss, 0.0)
			}
			assert.Greater(t, result.PrepareTime, time.Duration(0))
		})
	}
}

func TestRunMaxExamples(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig(t, TensorFlow, 13)
	cfg.MaxExamples = 9
	cfg.Epochs = 1
	result, err := Run(backend, CreateDefaultContext(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 9, result.NumExamples)
	assert.Equal(t, 2, result.StepsPerEpoch)
	require.Len(t, result.EpochTimes, 1)

	// A limit larger than the input files uses all examples.
	cfg.MaxExamples = 100
	result, err = Run(backend, CreateDefaultContext(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 13, result.NumExamples)
	assert.Equal(t, 3, result.StepsPerEpoch)
}

func TestRunNotEnoughExamples(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig(t, PyTorch, 3)
	_, err := Run(backend, CreateDefaultContext(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough examples")
}

func TestProbe(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig(t, PyTorch, 4)
	var buf bytes.Buffer
	require.NoError(t, Probe(backend, CreateDefaultContext(), cfg, &buf, 10))
	out := buf.String()
	for _, name := range squeezenet.ProbeNames {
		assert.Contains(t, out, name+" [")
	}
	assert.Contains(t, out, "input [4 3 32 32]\n")
	assert.Contains(t, out, "fire3 [4 256 16 16]\n")
}

func TestWriteHead(t *testing.T) {
	var buf bytes.Buffer
	x := tensors.FromValue([][]float32{{0.5, -2}, {1, 0.25}})
	require.NoError(t, WriteHead(&buf, "x", x, 3))
	assert.Equal(t, "x [2 2]\n2.00000 || 0.50000 -2.00000 1.00000\n\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteHead(&buf, "y", tensors.FromValue([]float64{1}), 10))
	assert.Equal(t, "y [1]\n1.00000 || 1.00000\n\n", buf.String())

	require.Error(t, WriteHead(&buf, "z", tensors.FromValue([]int32{1}), 10))
}

func TestContextIsolation(t *testing.T) {
	// Run creates the model variables under ModelScope.
	backend := graphtest.BuildTestBackend()
	ctx := CreateDefaultContext()
	cfg := testConfig(t, PyTorch, 4)
	cfg.Epochs = 1
	_, err := Run(backend, ctx, cfg)
	require.NoError(t, err)
	numModelVars := 0
	for v := range ctx.IterVariables() {
		if strings.HasPrefix(v.Scope(), context.RootScope+ModelScope) {
			numModelVars++
		}
	}
	assert.Greater(t, numModelVars, 0)
}
