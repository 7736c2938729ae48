// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributions

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/ssdgm/pkg/nn"
)

// ElboM2 returns the per-example labeled evidence lower bound of the M2 model:
//
//	log p(x|z,y) + log p(y) + log p(z) − log q(z|x,y)
//
// reconLogLikelihood is `log p(x|z,y)` shaped `[batch]`, y is one-hot and z is the sample
// drawn from q(z|x,y).
func ElboM2(reconLogLikelihood, y *Node, z *Gaussian) *Node {
	elbo := Add(reconLogLikelihood, LogUniformCategorical(y))
	elbo = Add(elbo, LogStandardNormal(z.Sample))
	return Sub(elbo, z.LogDensity())
}

// AuxiliaryTerm returns the auxiliary variable correction of the ADGM's ELBO:
//
//	log p(a|z,y) − log q(a|x)
//
// a is the sample from q(a|x), and (pMu, pLogVar) are the parameters of p(a|z,y).
func AuxiliaryTerm(a *Gaussian, pMu, pLogVar *Node) *Node {
	return Sub(LogNormal(a.Sample, pMu, pLogVar), a.LogDensity())
}

// PriorWeights returns `Σ log N(w; 0, 1)` over all elements of every trainable kernel in the
// context, that is, every trainable variable named "weights".
//
// It returns a float32 scalar zero if there are no such variables.
func PriorWeights(ctx *context.Context, g *Graph) *Node {
	var prior *Node
	for v := range ctx.IterVariables() {
		if !v.Trainable || v.Name() != nn.WeightsVariableName {
			continue
		}
		w := v.ValueGraph(g)
		logDensity := MulScalar(ReduceAllSum(AddScalar(Square(w), log2Pi)), -0.5)
		if prior == nil {
			prior = logDensity
		} else {
			prior = Add(prior, logDensity)
		}
	}
	if prior == nil {
		return Scalar(g, dtypes.Float32, 0)
	}
	return prior
}
