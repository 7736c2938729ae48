// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package adgm implements the auxiliary deep generative model (ADGM).
//
// It extends M2 with an auxiliary latent variable a, inferred from x by q(a|x) and generated by
// p(a|z,y). The encoder and the classifier are conditioned on a:
//
//	ELBO = log p(x|z,y) + log p(a|z,y) + log p(y) + log p(z) − log q(z|a,y,x) − log q(a|x)
package adgm

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/ssdgm/pkg/distributions"
	"github.com/gomlx/ssdgm/pkg/models"
	"github.com/gomlx/ssdgm/pkg/nn"
)

// Model implements models.Model for the ADGM.
type Model struct {
	dims models.Dims
}

var _ models.Model = (*Model)(nil)

// New creates an ADGM with the given dimensions. The auxiliary variable a has the same
// dimension as z.
func New(dims models.Dims) *Model {
	return &Model{dims: dims}
}

// Dims implements models.Model.
func (m *Model) Dims() models.Dims { return m.dims }

// QaGivenX infers the auxiliary variable from x.
func (m *Model) QaGivenX(ctx *context.Context, x *Node) *distributions.Gaussian {
	ctx = ctx.In(models.EncoderScope)
	h := nn.MLPNeuron(ctx, "h1_a", x, m.dims.HiddenDim, true)
	h = nn.MLPNeuron(ctx, "h2_a", h, m.dims.HiddenDim, true)
	mu := nn.MLPNeuron(ctx, "mu_a", h, m.dims.LatentDim, false)
	logvar := nn.MLPNeuron(ctx, "var_a", h, m.dims.LatentDim, false)
	return distributions.DrawNorm(ctx, mu, logvar)
}

// QzGivenAYX is the encoder q(z|a,y,x).
func (m *Model) QzGivenAYX(ctx *context.Context, a, y, x *Node) *distributions.Gaussian {
	ctx = ctx.In(models.EncoderScope)
	h := nn.NormalizedMLP(ctx, "h1_z", nn.ConcatFeatures(y, x, a), m.dims.HiddenDim)
	h = nn.NormalizedMLP(ctx, "h2_z", h, m.dims.HiddenDim)
	mu := nn.MLPNeuron(ctx, "mu_z", h, m.dims.LatentDim, false)
	logvar := nn.MLPNeuron(ctx, "var_z", h, m.dims.LatentDim, false)
	return distributions.DrawNorm(ctx, mu, logvar)
}

// QyGivenAX is the classifier q(y|a,x). It returns logits.
//
// a and x go through their own first layer, and the sum of both goes through a merge layer
// with its own weights.
func (m *Model) QyGivenAX(ctx *context.Context, a, x *Node) *Node {
	ctx = ctx.In(models.ClassifierScope)
	fromA := nn.MLPNeuron(ctx, "y_h1_a", a, m.dims.HiddenDim, true)
	fromX := nn.MLPNeuron(ctx, "y_h1_x", x, m.dims.HiddenDim, true)
	h := nn.NormalizedMLP(ctx, "y_h1_merge", Add(fromA, fromX), m.dims.HiddenDim)
	h = nn.NormalizedMLP(ctx, "y_h2", h, m.dims.HiddenDim)
	h = nn.Dropout(ctx, h)
	return nn.MLPNeuron(ctx, "y_fully_connected", h, m.dims.NumClasses, false)
}

// PxGivenZY is the decoder p(x|z,y): Bernoulli, or a diagonal Gaussian if gaussian is true.
func (m *Model) PxGivenZY(ctx *context.Context, z, y *Node, gaussian bool) *models.Reconstruction {
	ctx = ctx.In(models.DecoderScope)
	h := nn.NormalizedMLP(ctx, "h1_x", nn.ConcatFeatures(z, y), m.dims.HiddenDim)
	h = nn.NormalizedMLP(ctx, "h2_x", h, m.dims.HiddenDim)
	mean := nn.MLPNeuron(ctx, "mu_x", h, m.dims.InputDim, false)
	if !gaussian {
		return &models.Reconstruction{Mean: Sigmoid(mean)}
	}
	logvar := nn.MLPNeuron(ctx, "var_x", h, m.dims.InputDim, false)
	return &models.Reconstruction{Mean: mean, LogVar: logvar}
}

// PaGivenZY is the generative distribution of the auxiliary variable. It returns its mean and
// log-variance.
func (m *Model) PaGivenZY(ctx *context.Context, z, y *Node) (mu, logvar *Node) {
	ctx = ctx.In(models.DecoderScope)
	h := nn.NormalizedMLP(ctx, "h1_a", nn.ConcatFeatures(z, y), m.dims.HiddenDim)
	h = nn.NormalizedMLP(ctx, "h2_a", h, m.dims.HiddenDim)
	mu = nn.MLPNeuron(ctx, "mu_a", h, m.dims.LatentDim, false)
	logvar = nn.MLPNeuron(ctx, "var_a", h, m.dims.LatentDim, false)
	return
}

// elbo for the given one-hot y, reusing the already sampled auxiliary variable.
func (m *Model) elbo(ctx *context.Context, xObs models.Observation, x, y *Node, a *distributions.Gaussian) (
	*Node, *models.Reconstruction) {
	z := m.QzGivenAYX(ctx, a.Sample, y, x)
	recon := m.PxGivenZY(ctx, z.Sample, y, xObs.IsGaussian())
	paMu, paLogVar := m.PaGivenZY(ctx, z.Sample, y)
	elbo := distributions.ElboM2(recon.LogLikelihood(x), y, z)
	return Add(elbo, distributions.AuxiliaryTerm(a, paMu, paLogVar)), recon
}

// Labeled implements models.Model.
func (m *Model) Labeled(ctx *context.Context, xObs models.Observation, y *Node) models.LabeledOutput {
	ctx = ctx.Checked(false)
	x := xObs.Sample(ctx)
	a := m.QaGivenX(ctx, x)
	elbo, recon := m.elbo(ctx, xObs, x, y, a)
	return models.LabeledOutput{
		ELBO:           elbo,
		Logits:         m.QyGivenAX(ctx, a.Sample, x),
		Reconstruction: recon,
	}
}

// Unlabeled implements models.Model. q(a|x) and q(y|a,x) are computed once, only z is
// recomputed for each class.
func (m *Model) Unlabeled(ctx *context.Context, xObs models.Observation) (elbo, logits *Node) {
	ctx = ctx.Checked(false)
	x := xObs.Sample(ctx)
	a := m.QaGivenX(ctx, x)
	logits = m.QyGivenAX(ctx, a.Sample, x)
	elbo = models.ELBOPerClass(xObs, m.dims, func(y *Node) *Node {
		classElbo, _ := m.elbo(ctx, xObs, x, y, a)
		return classElbo
	})
	return
}

// Classify implements models.Model. During inference the auxiliary variable is its mean.
func (m *Model) Classify(ctx *context.Context, xObs models.Observation) *Node {
	ctx = ctx.Checked(false)
	x := xObs.Sample(ctx)
	a := m.QaGivenX(ctx, x)
	aValue := a.Sample
	if !ctx.IsTraining(x.Graph()) {
		aValue = a.Mu
	}
	return m.QyGivenAX(ctx, aValue, x)
}
