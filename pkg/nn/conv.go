// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gopjrt/dtypes"
)

// ConvBlock applies a 1-D convolution with "same" padding over x, shaped `[batch, length, channels]`,
// then batch normalization (if ParamBatchNorm is set), ReLU and, if pool is true, a max-pool of window 2.
//
// The output has shape `[batch, length, numFilters]`, or `[batch, length/2, numFilters]` if pooling.
func ConvBlock(ctx *context.Context, name string, x *Node, filterSize, numFilters int, pool bool) *Node {
	if x.Rank() != 3 {
		Panicf("nn.ConvBlock(%q) expects x shaped [batch, length, channels], got %s", name, x.Shape())
	}
	ctx = ctx.In(name)
	h := layers.Convolution(ctx, x).Channels(numFilters).KernelSize(filterSize).PadSame().Done()
	h = normalize(ctx, h)
	h = activations.Relu(h)
	if pool {
		h = MaxPool(h).Window(2).Done()
	}
	return h
}

// Flatten reshapes x to `[batch, -1]`.
func Flatten(x *Node) *Node {
	return Reshape(x, x.Shape().Dimensions[0], -1)
}

// OneLabel returns a constant one-hot batch `[batchSize, numClasses]` where every example has
// the class `label`. It is used to evaluate the labeled ELBO for every class of unlabeled examples.
func OneLabel(g *Graph, label, batchSize, numClasses int, dtype dtypes.DType) *Node {
	if label < 0 || label >= numClasses {
		Panicf("nn.OneLabel: label %d out of range [0, %d)", label, numClasses)
	}
	indices := Scalar(g, dtypes.Int32, float64(label))
	indices = BroadcastToDims(indices, batchSize)
	oneHot := OneHot(indices, numClasses, dtype)
	oneHot.AssertDims(batchSize, numClasses)
	return oneHot
}

// ConcatFeatures concatenates the given `[batch, features_i]` nodes on the feature axis.
func ConcatFeatures(parts ...*Node) *Node {
	if len(parts) == 1 {
		return parts[0]
	}
	return Concatenate(parts, -1)
}
