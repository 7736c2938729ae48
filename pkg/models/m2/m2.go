// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package m2 implements the M2 semi-supervised generative model with fully connected networks:
//
//   - the encoder q(z|x,y);
//   - the classifier q(y|x);
//   - the decoder p(x|z,y), Bernoulli for raw inputs and Gaussian for M1 encodings.
package m2

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/ssdgm/pkg/distributions"
	"github.com/gomlx/ssdgm/pkg/models"
	"github.com/gomlx/ssdgm/pkg/nn"
)

// Model implements models.Model for M2.
type Model struct {
	dims models.Dims
}

var _ models.Model = (*Model)(nil)

// New creates an M2 model with the given dimensions.
func New(dims models.Dims) *Model {
	return &Model{dims: dims}
}

// Dims implements models.Model.
func (m *Model) Dims() models.Dims { return m.dims }

// QzGivenXY is the encoder: it returns the sample of z along with the parameters of q(z|x,y).
func (m *Model) QzGivenXY(ctx *context.Context, x, y *Node) *distributions.Gaussian {
	ctx = ctx.In(models.EncoderScope)
	h := nn.NormalizedMLP(ctx, "h1_z", nn.ConcatFeatures(y, x), m.dims.HiddenDim)
	h = nn.NormalizedMLP(ctx, "h2_z", h, m.dims.HiddenDim)
	mu := nn.MLPNeuron(ctx, "mu_z", h, m.dims.LatentDim, false)
	logvar := nn.MLPNeuron(ctx, "var_z", h, m.dims.LatentDim, false)
	return distributions.DrawNorm(ctx, mu, logvar)
}

// QyGivenX is the classifier: it returns the logits of q(y|x).
func (m *Model) QyGivenX(ctx *context.Context, x *Node) *Node {
	ctx = ctx.In(models.ClassifierScope)
	h := nn.NormalizedMLP(ctx, "y_h1", x, m.dims.HiddenDim)
	h = nn.NormalizedMLP(ctx, "y_h2", h, m.dims.HiddenDim)
	h = nn.Dropout(ctx, h)
	return nn.MLPNeuron(ctx, "y_fully_connected", h, m.dims.NumClasses, false)
}

// PxGivenZY is the decoder. If gaussian is false it returns the Bernoulli probabilities of
// p(x|z,y), otherwise the mean and log-variance of a diagonal Gaussian.
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

// elbo of the labeled x, for the given one-hot y.
func (m *Model) elbo(ctx *context.Context, xObs models.Observation, x, y *Node) (*Node, *models.Reconstruction) {
	z := m.QzGivenXY(ctx, x, y)
	recon := m.PxGivenZY(ctx, z.Sample, y, xObs.IsGaussian())
	return distributions.ElboM2(recon.LogLikelihood(x), y, z), recon
}

// Labeled implements models.Model.
func (m *Model) Labeled(ctx *context.Context, xObs models.Observation, y *Node) models.LabeledOutput {
	ctx = ctx.Checked(false)
	x := xObs.Sample(ctx)
	elbo, recon := m.elbo(ctx, xObs, x, y)
	return models.LabeledOutput{
		ELBO:           elbo,
		Logits:         m.QyGivenX(ctx, x),
		Reconstruction: recon,
	}
}

// Unlabeled implements models.Model.
func (m *Model) Unlabeled(ctx *context.Context, xObs models.Observation) (elbo, logits *Node) {
	ctx = ctx.Checked(false)
	x := xObs.Sample(ctx)
	logits = m.QyGivenX(ctx, x)
	elbo = models.ELBOPerClass(xObs, m.dims, func(y *Node) *Node {
		classElbo, _ := m.elbo(ctx, xObs, x, y)
		return classElbo
	})
	return
}

// Classify implements models.Model.
func (m *Model) Classify(ctx *context.Context, xObs models.Observation) *Node {
	ctx = ctx.Checked(false)
	return m.QyGivenX(ctx, xObs.Sample(ctx))
}
