// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributions

import (
	"fmt"
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/ssdgm/pkg/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func drawNormWithSeed(t *testing.T, seed int64, mu, logvar any) []float32 {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(seed)
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, mu, logvar *Node) *Node {
		return DrawNorm(ctx, mu, logvar).Sample
	})
	var sample *tensors.Tensor
	require.NotPanics(t, func() { sample = exec.MustExec(mu, logvar)[0] })
	return tensors.CopyFlatData[float32](sample)
}

func TestDrawNorm(t *testing.T) {
	mu := [][]float32{{1, -2, 3}, {0.5, 0, -0.5}}
	unit := [][]float32{{0, 0, 0}, {0, 0, 0}}

	t.Run("reproducible", func(t *testing.T) {
		s1 := drawNormWithSeed(t, 42, mu, unit)
		s2 := drawNormWithSeed(t, 42, mu, unit)
		s3 := drawNormWithSeed(t, 43, mu, unit)
		assert.Equal(t, s1, s2)
		assert.NotEqual(t, s1, s3)
	})

	t.Run("zero variance", func(t *testing.T) {
		tiny := [][]float32{{-200, -200, -200}, {-200, -200, -200}}
		sample := drawNormWithSeed(t, 42, mu, tiny)
		assert.InDeltaSlice(t, []float32{1, -2, 3, 0.5, 0, -0.5}, sample, 1e-6)
	})

	t.Run("unit variance", func(t *testing.T) {
		sample := drawNormWithSeed(t, 42, mu, unit)

		backend := graphtest.BuildTestBackend()
		ctx := context.New()
		ctx.RngStateFromSeed(42)
		exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, mu *Node) *Node {
			return ctx.RandomNormal(mu.Graph(), mu.Shape())
		})
		noise := tensors.CopyFlatData[float32](exec.MustExec(mu)[0])
		flatMu := []float32{1, -2, 3, 0.5, 0, -0.5}
		for ii := range sample {
			assert.InDelta(t, flatMu[ii]+noise[ii], sample[ii], 1e-5)
		}
	})
}

func TestLogNormal(t *testing.T) {
	graphtest.RunTestGraphFn(t, "LogNormal", func(g *Graph) (inputs, outputs []*Node) {
		x := Const(g, [][]float32{{0, 0}, {1, 2}})
		mu := Const(g, [][]float32{{0, 0}, {1, 0}})
		logvar := Const(g, [][]float32{{0, 0}, {0, float32(math.Log(4))}})
		inputs = []*Node{x, mu, logvar}
		outputs = []*Node{LogNormal(x, mu, logvar), LogStandardNormal(x)}
		return
	}, []any{
		[]float32{
			float32(-math.Log(2 * math.Pi)),
			float32(-math.Log(2*math.Pi) - 0.5*math.Log(4) - 0.5),
		},
		[]float32{
			float32(-math.Log(2 * math.Pi)),
			float32(-math.Log(2*math.Pi) - 2.5),
		},
	}, 1e-4)
}

func TestLogBernoulli(t *testing.T) {
	graphtest.RunTestGraphFn(t, "LogBernoulli", func(g *Graph) (inputs, outputs []*Node) {
		x := Const(g, [][]float32{{1, 0}, {1, 1}})
		p := Const(g, [][]float32{{0.5, 0.5}, {1, 0.25}})
		inputs = []*Node{x, p}
		outputs = []*Node{LogBernoulli(x, p)}
		return
	}, []any{
		[]float32{float32(2 * math.Log(0.5)), float32(math.Log(1-BernoulliEpsilon) + math.Log(0.25))},
	}, 1e-4)
}

func TestLogUniformCategorical(t *testing.T) {
	graphtest.RunTestGraphFn(t, "LogUniformCategorical", func(g *Graph) (inputs, outputs []*Node) {
		y := Const(g, [][]float32{{0, 1, 0, 0}, {1, 0, 0, 0}})
		inputs = []*Node{y}
		outputs = []*Node{LogUniformCategorical(y)}
		return
	}, []any{[]float32{float32(-math.Log(4)), float32(-math.Log(4))}}, 1e-5)
}

func TestSoftmaxClassifier(t *testing.T) {
	graphtest.RunTestGraphFn(t, "SoftmaxClassifier", func(g *Graph) (inputs, outputs []*Node) {
		logits := Const(g, [][]float32{{0, 0}, {10, 0}})
		labels := Const(g, [][]int32{{1}, {0}})
		ce, predicted := SoftmaxClassifier(logits, labels)
		inputs = []*Node{logits, labels}
		outputs = []*Node{ce, predicted}
		return
	}, []any{
		[]float32{float32(math.Log(2)), float32(math.Log(1 + math.Exp(-10)))},
		[]int32{0, 0},
	}, 1e-4)
}

// Marginalizing the per-class ELBO with a one-hot q(y|x) must give back the ELBO of that class.
func TestMarginalizeUnlabeledOneHot(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := context.MustNewExec(backend, nil, func(ctx *context.Context, elbo, probs *Node) *Node {
		return MarginalizeUnlabeled(elbo, probs)
	})
	elbo := [][]float32{{-10, -20, -30}, {-5, -1, -7}}
	probs := [][]float32{{0, 1, 0}, {0, 0, 1}}
	got := tensors.CopyFlatData[float32](exec.MustExec(elbo, probs)[0])
	fmt.Printf("\tMarginalizeUnlabeled(one-hot)=%v\n", got)
	assert.InDeltaSlice(t, []float32{-20, -7}, got, 1e-4)

	// Uniform probabilities: mean ELBO plus the entropy log(3).
	uniform := [][]float32{{1. / 3, 1. / 3, 1. / 3}, {1. / 3, 1. / 3, 1. / 3}}
	got = tensors.CopyFlatData[float32](exec.MustExec(elbo, uniform)[0])
	assert.InDeltaSlice(t, []float32{float32(-20 + math.Log(3)), float32(-13./3 + math.Log(3))}, got, 1e-3)
}

// The labeled ELBO increases as the reconstruction approaches the known input.
func TestElboM2ImprovesWithReconstruction(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(1)
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x, recon *Node) *Node {
		g := x.Graph()
		y := nn.OneLabel(g, 1, 2, 3, x.DType())
		mu := Zeros(g, shapes.Make(x.DType(), 2, 2))
		z := DrawNorm(ctx, mu, ZerosLike(mu))
		return ElboM2(LogBernoulli(x, recon), y, z)
	})
	x := [][]float32{{1, 0, 1, 1}, {0, 0, 1, 0}}
	var previous []float32
	for _, distance := range []float32{0.45, 0.3, 0.1, 0.01} {
		recon := make([][]float32, len(x))
		for ii, row := range x {
			recon[ii] = make([]float32, len(row))
			for jj, v := range row {
				if v > 0.5 {
					recon[ii][jj] = v - distance
				} else {
					recon[ii][jj] = v + distance
				}
			}
		}
		ctx.RngStateFromSeed(1)
		elbo := tensors.CopyFlatData[float32](exec.MustExec(x, recon)[0])
		if previous != nil {
			for ii := range elbo {
				require.Greaterf(t, elbo[ii], previous[ii], "distance=%g, example #%d", distance, ii)
			}
		}
		previous = elbo
	}
}

func TestAuxiliaryTerm(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(3)
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, mu, logvar *Node) *Node {
		a := DrawNorm(ctx, mu, logvar)
		// Same distribution for p(a|z,y) and q(a|x): the correction vanishes.
		return AuxiliaryTerm(a, mu, logvar)
	})
	got := tensors.CopyFlatData[float32](exec.MustExec([][]float32{{1, 2}, {3, 4}}, [][]float32{{0, -1}, {1, 0.5}})[0])
	assert.InDeltaSlice(t, []float32{0, 0}, got, 1e-5)
}

func TestPriorWeights(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().WithInitializer(initializers.Zero)
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		_ = nn.MLPNeuron(ctx, "h1", x, 3, true)
		ctx.In("frozen").VariableWithShape(nn.WeightsVariableName, x.Shape()).SetTrainable(false)
		return PriorWeights(ctx, x.Graph())
	})
	got := exec.MustExec([][]float32{{1, 2}})[0].Value().(float32)

	// Only the trainable 2x3 kernel counts: neither the biases nor the frozen variable.
	kernel := tensors.CopyFlatData[float32](ctx.GetVariableByScopeAndName("/h1", nn.WeightsVariableName).Value())
	require.Len(t, kernel, 6)
	var want float64
	for _, w := range kernel {
		want += -0.5 * (float64(w)*float64(w) + math.Log(2*math.Pi))
	}
	assert.InDelta(t, want, got, 1e-4)
}
