// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package convm2 implements the convolutional semi-supervised VAE: an M2 model stacked on the
// Gaussian encodings z1 of a pre-trained M1 model, with convolutional encoder, classifier and
// decoder networks.
//
// z1 is treated as a 1-D signal of length InputDim with one channel. The convolutions use
// "same" padding, so the signal length is preserved through the blocks.
package convm2

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/ssdgm/pkg/distributions"
	"github.com/gomlx/ssdgm/pkg/models"
	"github.com/gomlx/ssdgm/pkg/nn"
)

const (
	// ParamFilterSizes is the context hyperparameter with the kernel size of each convolution block
	// of the encoder and classifier. The decoder uses them in reverse order.
	ParamFilterSizes = "filter_sizes"

	// ParamNumFilters is the context hyperparameter with the number of filters (channels) of each
	// convolution block. It must have the same length as ParamFilterSizes.
	ParamNumFilters = "num_filters"

	// ParamFCSize is the context hyperparameter with the size of the fully connected layer that
	// follows (or, in the decoder, precedes) the convolutions.
	ParamFCSize = "fc_size"
)

// Model implements models.Model for the convolutional semi-supervised VAE.
type Model struct {
	dims        models.Dims
	filterSizes []int
	numFilters  []int
	fcSize      int
}

var _ models.Model = (*Model)(nil)

// New creates the model, reading the convolution hyperparameters from the context.
func New(ctx *context.Context, dims models.Dims) *Model {
	m := &Model{
		dims:        dims,
		filterSizes: context.GetParamOr(ctx, ParamFilterSizes, []int{5, 3}),
		numFilters:  context.GetParamOr(ctx, ParamNumFilters, []int{32, 64}),
		fcSize:      context.GetParamOr(ctx, ParamFCSize, 256),
	}
	if len(m.filterSizes) == 0 || len(m.filterSizes) != len(m.numFilters) {
		Panicf("convm2: %q=%v and %q=%v must be non-empty and have the same length",
			ParamFilterSizes, m.filterSizes, ParamNumFilters, m.numFilters)
	}
	return m
}

// Dims implements models.Model.
func (m *Model) Dims() models.Dims { return m.dims }

// convolutions applies the convolution blocks to z1, and returns the flattened features.
func (m *Model) convolutions(ctx *context.Context, z1 *Node) *Node {
	batchSize := z1.Shape().Dimensions[0]
	h := Reshape(z1, batchSize, m.dims.InputDim, 1)
	for ii, filterSize := range m.filterSizes {
		h = nn.ConvBlock(ctx, fmt.Sprintf("conv_%d", ii), h, filterSize, m.numFilters[ii], false)
	}
	return nn.Flatten(h)
}

// QZ2GivenZ1Y is the encoder q(z2|z1,y).
func (m *Model) QZ2GivenZ1Y(ctx *context.Context, z1, y *Node) *distributions.Gaussian {
	ctx = ctx.In(models.EncoderScope)
	h := m.convolutions(ctx, z1)
	h = nn.NormalizedMLP(ctx, "fc", nn.ConcatFeatures(h, y), m.fcSize)
	mu := nn.MLPNeuron(ctx, "mu_z2", h, m.dims.LatentDim, false)
	logvar := nn.MLPNeuron(ctx, "var_z2", h, m.dims.LatentDim, false)
	return distributions.DrawNorm(ctx, mu, logvar)
}

// QyGivenZ1 is the classifier q(y|z1). It returns logits.
func (m *Model) QyGivenZ1(ctx *context.Context, z1 *Node) *Node {
	ctx = ctx.In(models.ClassifierScope)
	h := m.convolutions(ctx, z1)
	h = nn.NormalizedMLP(ctx, "fc", h, m.fcSize)
	h = nn.Dropout(ctx, h)
	return nn.MLPNeuron(ctx, "y_fully_connected", h, m.dims.NumClasses, false)
}

// PZ1GivenZ2Y is the decoder p(z1|z2,y), a diagonal Gaussian over z1.
//
// It projects (z2, y) to a `[InputDim, filters]` signal and applies the convolution blocks with
// the filter sizes and counts in reverse order.
func (m *Model) PZ1GivenZ2Y(ctx *context.Context, z2, y *Node) *models.Reconstruction {
	ctx = ctx.In(models.DecoderScope)
	batchSize := z2.Shape().Dimensions[0]
	numBlocks := len(m.filterSizes)
	firstChannels := m.numFilters[numBlocks-1]

	h := nn.NormalizedMLP(ctx, "fc", nn.ConcatFeatures(z2, y), m.fcSize)
	h = nn.MLPNeuron(ctx, "projection", h, m.dims.InputDim*firstChannels, true)
	h = Reshape(h, batchSize, m.dims.InputDim, firstChannels)
	for ii := range numBlocks {
		reversed := numBlocks - 1 - ii
		h = nn.ConvBlock(ctx, fmt.Sprintf("conv_%d", ii), h, m.filterSizes[reversed], m.numFilters[reversed], false)
	}
	mu := layers.Convolution(ctx.In("mu_z1"), h).Channels(1).KernelSize(1).PadSame().Done()
	logvar := layers.Convolution(ctx.In("var_z1"), h).Channels(1).KernelSize(1).PadSame().Done()
	return &models.Reconstruction{
		Mean:   Reshape(mu, batchSize, m.dims.InputDim),
		LogVar: Reshape(logvar, batchSize, m.dims.InputDim),
	}
}

func (m *Model) elbo(ctx *context.Context, z1, y *Node) (*Node, *models.Reconstruction) {
	z2 := m.QZ2GivenZ1Y(ctx, z1, y)
	recon := m.PZ1GivenZ2Y(ctx, z2.Sample, y)
	return distributions.ElboM2(recon.LogLikelihood(z1), y, z2), recon
}

// Labeled implements models.Model.
func (m *Model) Labeled(ctx *context.Context, xObs models.Observation, y *Node) models.LabeledOutput {
	ctx = ctx.Checked(false)
	z1 := xObs.Sample(ctx)
	elbo, recon := m.elbo(ctx, z1, y)
	return models.LabeledOutput{
		ELBO:           elbo,
		Logits:         m.QyGivenZ1(ctx, z1),
		Reconstruction: recon,
	}
}

// Unlabeled implements models.Model.
func (m *Model) Unlabeled(ctx *context.Context, xObs models.Observation) (elbo, logits *Node) {
	ctx = ctx.Checked(false)
	z1 := xObs.Sample(ctx)
	logits = m.QyGivenZ1(ctx, z1)
	elbo = models.ELBOPerClass(xObs, m.dims, func(y *Node) *Node {
		classElbo, _ := m.elbo(ctx, z1, y)
		return classElbo
	})
	return
}

// Classify implements models.Model.
func (m *Model) Classify(ctx *context.Context, xObs models.Observation) *Node {
	ctx = ctx.Checked(false)
	return m.QyGivenZ1(ctx, xObs.Sample(ctx))
}
