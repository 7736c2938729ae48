// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

const (
	// ParamBatchNorm is the context hyperparameter that enables batch normalization in NormalizedMLP and
	// ConvBlock. Default is true.
	ParamBatchNorm = "batch_norm"

	// ParamKeepProb is the context hyperparameter with the probability of keeping a unit in Dropout.
	// Default is 1.0, that is, no dropout.
	ParamKeepProb = "keep_prob"
)

// MLPNeuron is a fully connected layer `x·W + b` in scope `name`, followed by a ReLU if activation is true.
func MLPNeuron(ctx *context.Context, name string, x *Node, outputDim int, activation bool) *Node {
	h := affine(ctx, name, x, outputDim)
	if activation {
		h = activations.Relu(h)
	}
	return h
}

// NormalizedMLP is a fully connected layer in scope `name`, followed by batch normalization
// (if ParamBatchNorm is set) and a ReLU.
//
// Batch normalization uses the batch statistics while training, and the moving averages otherwise.
// See Context.IsTraining.
func NormalizedMLP(ctx *context.Context, name string, x *Node, outputDim int) *Node {
	h := affine(ctx, name, x, outputDim)
	h = normalize(ctx.In(name), h)
	return activations.Relu(h)
}

func normalize(ctx *context.Context, x *Node) *Node {
	if !context.GetParamOr(ctx, ParamBatchNorm, true) {
		return x
	}
	return batchnorm.New(ctx, x, -1).Done()
}

// Dropout drops units of x with probability `1 - keep_prob` (see ParamKeepProb) while training.
// It is a no-op during inference or if keep_prob >= 1.
func Dropout(ctx *context.Context, x *Node) *Node {
	keepProb := context.GetParamOr(ctx, ParamKeepProb, 1.0)
	if keepProb >= 1.0 {
		return x
	}
	g := x.Graph()
	return layers.Dropout(ctx.In("dropout"), x, Scalar(g, x.DType(), 1.0-keepProb))
}
