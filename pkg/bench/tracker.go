// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bench

import (
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// epochTracker is attached to a train.Loop and collects the wall-clock time and the mean
// training loss of each epoch.
//
// An epoch is closed when the first step of the next epoch arrives or when the loop ends, and
// its duration is measured from the end of the previous epoch (or the start of the loop) to its last step.
type epochTracker struct {
	logEvery int
	now      func() time.Time
	logf     func(format string, args ...any)

	epoch              int
	epochStart, latest time.Time
	lossSum            float64
	steps              int

	losses    []float64
	durations []time.Duration
}

func newEpochTracker(stepsPerEpoch, logsPerEpoch int) *epochTracker {
	t := &epochTracker{
		now:  time.Now,
		logf: klog.Infof,
	}
	if logsPerEpoch > 0 {
		t.logEvery = max(1, stepsPerEpoch/logsPerEpoch)
	}
	return t
}

// attach registers the tracker hooks in the loop.
func (t *epochTracker) attach(loop *train.Loop) {
	loop.OnStart("epoch_tracker", 0, func(_ *train.Loop, _ train.Dataset) error {
		t.start()
		return nil
	})
	loop.OnStep("epoch_tracker", 0, func(loop *train.Loop, metrics []*tensors.Tensor) error {
		loss, err := batchLoss(metrics)
		if err != nil {
			return errors.WithMessagef(err, "epoch %d, step %d", loop.Epoch, loop.LoopStep)
		}
		t.record(loop.Epoch, loss)
		return nil
	})
	loop.OnEnd("epoch_tracker", 0, func(_ *train.Loop, _ []*tensors.Tensor) error {
		t.closeEpoch()
		return nil
	})
}

func (t *epochTracker) start() {
	t.epoch = 0
	t.epochStart = t.now()
	t.latest = t.epochStart
	t.lossSum, t.steps = 0, 0
	t.losses, t.durations = nil, nil
}

// record the loss of one training step of the given epoch.
func (t *epochTracker) record(epoch int, loss float64) {
	if epoch != t.epoch {
		t.closeEpoch()
		t.epoch = epoch
	}
	t.lossSum += loss
	t.steps++
	t.latest = t.now()
	if t.logEvery > 0 && t.steps%t.logEvery == 0 {
		t.logf("epoch %d: step %d, training loss %f", t.epoch+1, t.steps, t.lossSum/float64(t.steps))
	}
}

func (t *epochTracker) closeEpoch() {
	if t.steps == 0 {
		return
	}
	t.durations = append(t.durations, t.latest.Sub(t.epochStart))
	t.losses = append(t.losses, t.lossSum/float64(t.steps))
	t.epochStart = t.latest
	t.lossSum, t.steps = 0, 0
}

// batchLoss extracts the batch loss, the first metric returned by train.Trainer.TrainStep.
func batchLoss(metrics []*tensors.Tensor) (float64, error) {
	if len(metrics) == 0 {
		return 0, errors.New("train step returned no metrics, the batch loss is expected first")
	}
	switch v := metrics[0].Value().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, errors.Errorf("batch loss of unexpected type %T (shape %s)", v, metrics[0].Shape())
	}
}
