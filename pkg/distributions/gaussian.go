// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distributions implements the log-densities, reparameterized sampling and the
// evidence lower bound (ELBO) terms used by the semi-supervised generative models.
//
// All densities are diagonal and are summed over the last axis, so for inputs shaped
// `[batch, dim]` they return one value per example, shaped `[batch]`.
package distributions

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Gaussian is a sample from a diagonal Gaussian, along with the parameters it was sampled from.
//
// The ELBO terms must be computed on the same (Sample, Mu, LogVar) triple that is fed downstream,
// so they are always kept together.
type Gaussian struct {
	Sample, Mu, LogVar *Node
}

// DrawNorm samples from `N(mu, exp(logvar))` with the reparameterization trick:
// `mu + eps * exp(0.5 * logvar)`, with `eps ~ N(0, I)` drawn from the context random number generator.
//
// Gradients flow through mu and logvar.
func DrawNorm(ctx *context.Context, mu, logvar *Node) *Gaussian {
	if !mu.Shape().Equal(logvar.Shape()) {
		Panicf("distributions.DrawNorm: mu %s and logvar %s must have the same shape", mu.Shape(), logvar.Shape())
	}
	eps := ctx.RandomNormal(mu.Graph(), mu.Shape())
	sample := Add(mu, Mul(eps, Exp(MulScalar(logvar, 0.5))))
	return &Gaussian{Sample: sample, Mu: mu, LogVar: logvar}
}

// LogDensity returns the log-density of the sample under its own distribution. See LogNormal.
func (n *Gaussian) LogDensity() *Node {
	return LogNormal(n.Sample, n.Mu, n.LogVar)
}

var log2Pi = math.Log(2 * math.Pi)

// LogNormal returns the log-density of x under the diagonal Gaussian `N(mu, exp(logvar))`,
// summed over the last axis:
//
//	-0.5 * Σ (log(2π) + logvar + (x - mu)² / exp(logvar))
func LogNormal(x, mu, logvar *Node) *Node {
	diff := Sub(x, mu)
	perDim := Add(AddScalar(logvar, log2Pi), Div(Square(diff), Exp(logvar)))
	return MulScalar(ReduceSum(perDim, -1), -0.5)
}

// LogStandardNormal returns the log-density of x under `N(0, I)`, summed over the last axis.
func LogStandardNormal(x *Node) *Node {
	return MulScalar(ReduceSum(AddScalar(Square(x), log2Pi), -1), -0.5)
}
