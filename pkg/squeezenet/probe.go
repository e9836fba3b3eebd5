// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package squeezenet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// ProbeNames lists the activations returned by ProbeGraph, in order.
var ProbeNames = []string{
	"input",
	"conv1",
	"pool1",
	"fire1/squeeze",
	"fire1/expand1x1",
	"fire1/expand3x3",
	"fire1",
	"fire2",
	"fire3",
}

// ProbeLastLayer is the last layer whose activations are listed in ProbeNames.
const ProbeLastLayer = "fire3"

// ProbeGraph builds the feature stack up to ProbeLastLayer on the batched images and returns the
// activations listed in ProbeNames.
// It is used to debug the numerics of the first layers, and it shares the variables with ModelGraph.
func ProbeGraph(ctx *context.Context, batchedImages *Node) []*Node {
	layout := LayoutFromContext(ctx)
	found := make(map[string]*Node, len(ProbeNames))
	found["input"] = batchedImages
	_ = Features(ctx, batchedImages, layout, ProbeLastLayer, func(name string, output *Node) {
		found[name] = output
	})
	outputs := make([]*Node, 0, len(ProbeNames))
	for _, name := range ProbeNames {
		node, ok := found[name]
		if !ok {
			Panicf("probe %q not found in the feature stack", name)
		}
		outputs = append(outputs, node)
	}
	return outputs
}
