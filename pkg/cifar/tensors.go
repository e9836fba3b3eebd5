// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cifar

import (
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/pkg/errors"
)

// ImagesShape returns the shape of the images tensor for n examples in the given layout.
func ImagesShape(dtype dtypes.DType, n int, layout images.ChannelsAxisConfig) shapes.Shape {
	if layout == images.ChannelsFirst {
		return shapes.Make(dtype, n, Depth, Height, Width)
	}
	return shapes.Make(dtype, n, Height, Width, Depth)
}

func convertBytesToTensor[T float32 | float64](batch *Batch, imagesT *tensors.Tensor, layout images.ChannelsAxisConfig) {
	tensors.MustMutableFlatData[T](imagesT, func(tensorData []T) {
		if layout == images.ChannelsFirst {
			// File layout is already [depth, height, width].
			for ii, v := range batch.Pixels {
				tensorData[ii] = T(v) / T(255)
			}
			return
		}
		tensorPos := 0
		for exampleIdx := range batch.NumExamples() {
			image := batch.Image(exampleIdx)
			for h := 0; h < Height; h++ {
				for w := 0; w < Width; w++ {
					for d := 0; d < Depth; d++ {
						tensorData[tensorPos] = T(image[d*(Height*Width)+h*Width+w]) / T(255)
						tensorPos++
					}
				}
			}
		}
	})
}

// ToTensors converts the batch to an images tensor with values in [0, 1], shaped
// [N, Depth, Height, Width] for images.ChannelsFirst or [N, Height, Width, Depth] for images.ChannelsLast,
// and a labels tensor shaped [N, 1] of Int64.
//
// Only Float32 and Float64 are supported.
func (b *Batch) ToTensors(dtype dtypes.DType, layout images.ChannelsAxisConfig) (imagesT, labelsT *tensors.Tensor, err error) {
	n := b.NumExamples()
	if n == 0 {
		return nil, nil, errors.New("cannot convert an empty batch to tensors")
	}
	if len(b.Pixels) != n*ImageSizeBytes {
		return nil, nil, errors.Errorf("batch has %d labels but %d pixel bytes, wanted %d",
			n, len(b.Pixels), n*ImageSizeBytes)
	}
	imagesT = tensors.FromShape(ImagesShape(dtype, n, layout))
	switch dtype {
	case dtypes.Float32:
		convertBytesToTensor[float32](b, imagesT, layout)
	case dtypes.Float64:
		convertBytesToTensor[float64](b, imagesT, layout)
	default:
		imagesT.MustFinalizeAll()
		return nil, nil, errors.Errorf("DType %s not supported for CIFAR images, use Float32 or Float64", dtype)
	}
	labelsT = tensors.FromShape(shapes.Make(dtypes.Int64, n, 1))
	tensors.MustMutableFlatData[int64](labelsT, func(labelsData []int64) {
		for ii, label := range b.Labels {
			labelsData[ii] = int64(label)
		}
	})
	return imagesT, labelsT, nil
}

// NewDataset returns an in-memory dataset holding the batch, which implements train.Dataset.
//
// It is neither batched nor shuffled: configure it with the InMemoryDataset methods.
func NewDataset(backend backends.Backend, name string, batch *Batch, dtype dtypes.DType,
	layout images.ChannelsAxisConfig) (*datasets.InMemoryDataset, error) {
	imagesT, labelsT, err := batch.ToTensors(dtype, layout)
	if err != nil {
		return nil, err
	}
	ds, err := datasets.InMemoryFromData(backend, name, []any{imagesT}, []any{labelsT})
	if err != nil {
		return nil, errors.WithMessagef(err, "creating dataset %q", name)
	}
	return ds, nil
}
