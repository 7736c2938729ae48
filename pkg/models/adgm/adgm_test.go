// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package adgm

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/ssdgm/pkg/models"
	"github.com/gomlx/ssdgm/pkg/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestADGM(t *testing.T) {
	dims := models.Dims{InputDim: 5, LatentDim: 3, HiddenDim: 7, NumClasses: 2}
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(42)
	model := New(dims)

	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x, y *Node) []*Node {
		ctx.SetTraining(x.Graph(), true)
		obs := models.Observation{Mu: x}
		lab := model.Labeled(ctx, obs, OneHot(y, dims.NumClasses, x.DType()))
		elbo, logits := model.Unlabeled(ctx, obs)
		return []*Node{lab.ELBO, lab.Logits, elbo, logits}
	})
	x := [][]float32{{0, 1, 0, 1, 1}, {1, 1, 1, 0, 0}, {0, 0, 0, 0, 1}}
	outputs := exec.MustExec(x, []int32{0, 1, 1})
	assert.Equal(t, []int{3}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []int{3, 2}, outputs[1].Shape().Dimensions)
	assert.Equal(t, []int{3, 2}, outputs[2].Shape().Dimensions)
	assert.Equal(t, []int{3, 2}, outputs[3].Shape().Dimensions)
	for _, v := range tensors.CopyFlatData[float32](outputs[2]) {
		require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0))
	}

	// The merge layer of the classifier has its own weights, so latent and hidden dimensions may differ.
	merge := ctx.GetVariableByScopeAndName("/"+models.ClassifierScope+"/y_h1_merge", "weights")
	require.NotNil(t, merge)
	assert.Equal(t, []int{dims.HiddenDim, dims.HiddenDim}, merge.Shape().Dimensions)
	qa := ctx.GetVariableByScopeAndName("/"+models.EncoderScope+"/h1_a", "weights")
	require.NotNil(t, qa)
	pa := ctx.GetVariableByScopeAndName("/"+models.DecoderScope+"/h1_a", "weights")
	require.NotNil(t, pa)
	assert.Equal(t, []int{dims.InputDim, dims.HiddenDim}, qa.Shape().Dimensions)
	assert.Equal(t, []int{dims.LatentDim + dims.NumClasses, dims.HiddenDim}, pa.Shape().Dimensions)
}

func TestClassifyInference(t *testing.T) {
	dims := models.Dims{InputDim: 4, LatentDim: 2, HiddenDim: 4, NumClasses: 3}
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	model := New(dims)
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return model.Classify(ctx, models.Observation{Mu: x})
	})
	x := [][]float32{{1, 0, 0, 1}, {0, 1, 1, 0}}
	first := tensors.CopyFlatData[float32](exec.MustExec(x)[0])
	second := tensors.CopyFlatData[float32](exec.MustExec(x)[0])
	// Inference uses the mean of q(a|x), so it is deterministic.
	assert.Equal(t, first, second)

	// The labeled pass samples a, even at inference, so its logits change between runs.
	labeledExec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x, y *Node) *Node {
		return model.Labeled(ctx, models.Observation{Mu: x}, OneHot(y, dims.NumClasses, x.DType())).Logits
	})
	labels := []int32{0, 2}
	first = tensors.CopyFlatData[float32](labeledExec.MustExec(x, labels)[0])
	second = tensors.CopyFlatData[float32](labeledExec.MustExec(x, labels)[0])
	assert.NotEqual(t, first, second)
}

func TestUnlabeledColumnMatchesLabeled(t *testing.T) {
	dims := models.Dims{InputDim: 5, LatentDim: 3, HiddenDim: 7, NumClasses: 2}
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetParam(nn.ParamBatchNorm, false)
	model := New(dims)
	labeledExec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x, y *Node) *Node {
		ctx.SetTraining(x.Graph(), true)
		return model.Labeled(ctx, models.Observation{Mu: x}, OneHot(y, dims.NumClasses, x.DType())).ELBO
	})
	unlabeledExec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		ctx.SetTraining(x.Graph(), true)
		elbo, _ := model.Unlabeled(ctx, models.Observation{Mu: x})
		return elbo
	})
	x := [][]float32{{0, 1, 0, 1, 1}, {1, 1, 1, 0, 0}, {0, 0, 0, 0, 1}}

	// Same seed: a and the z of class 0 are drawn in the same order in both passes.
	ctx.RngStateFromSeed(11)
	labeled := tensors.CopyFlatData[float32](labeledExec.MustExec(x, []int32{0, 0, 0})[0])
	ctx.RngStateFromSeed(11)
	unlabeled := tensors.CopyFlatData[float32](unlabeledExec.MustExec(x)[0])
	require.Len(t, unlabeled, len(x)*dims.NumClasses)
	for ii := range x {
		assert.InDelta(t, labeled[ii], unlabeled[ii*dims.NumClasses], 1e-3, "example %d", ii)
	}
}
