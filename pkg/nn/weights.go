// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nn holds the small building blocks shared by the encoder and decoder networks:
// fully connected layers with explicit weights, optionally batch-normalized, 1-D convolution
// blocks and constant label batches.
//
// All variables are created with the names WeightsVariableName and BiasesVariableName, which
// is what distributions.PriorWeights uses to find the kernels of a model.
package nn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gopjrt/dtypes"
)

const (
	// WeightsVariableName is the name of every kernel variable created by this package.
	WeightsVariableName = "weights"

	// BiasesVariableName is the name of every bias variable created by this package.
	BiasesVariableName = "biases"
)

// CreateWeights creates (or reuses, if the context allows it) the kernel and bias variables
// of a fully connected layer in the scope `name`.
//
// The kernel has shape `[inputDim, outputDim]` and is initialized with Xavier normal values,
// the bias has shape `[outputDim]` and is initialized with zeros.
func CreateWeights(ctx *context.Context, name string, dtype dtypes.DType, inputDim, outputDim int) (w, b *context.Variable) {
	if inputDim <= 0 || outputDim <= 0 {
		Panicf("nn.CreateWeights(%q): invalid dimensions %d -> %d", name, inputDim, outputDim)
	}
	ctx = ctx.In(name)
	w = ctx.WithInitializer(initializers.XavierNormalFn(ctx)).
		VariableWithShape(WeightsVariableName, shapes.Make(dtype, inputDim, outputDim))
	b = ctx.WithInitializer(initializers.Zero).
		VariableWithShape(BiasesVariableName, shapes.Make(dtype, outputDim))
	return
}

// affine returns `x·W + b` for the layer in scope `name`.
func affine(ctx *context.Context, name string, x *Node, outputDim int) *Node {
	if x.Rank() != 2 {
		Panicf("nn: layer %q expects input of rank 2 ([batch, features]), got %s", name, x.Shape())
	}
	g := x.Graph()
	wVar, bVar := CreateWeights(ctx, name, x.DType(), x.Shape().Dimensions[1], outputDim)
	return Add(MatMul(x, wVar.ValueGraph(g)), InsertAxes(bVar.ValueGraph(g), 0))
}
