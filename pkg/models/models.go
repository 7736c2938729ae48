// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package models defines what the semi-supervised generative models have in common: the observed
// input, the decoder's reconstruction, the Model interface used by the trainer, and the
// hyperparameters shared by the networks.
//
// The concrete networks live in the sub-packages m2, adgm and convm2.
package models

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/ssdgm/pkg/distributions"
	"github.com/gomlx/ssdgm/pkg/nn"
)

const (
	// EncoderScope holds the variables of q(z|...) and, for the ADGM, q(a|x).
	EncoderScope = "encoder"

	// DecoderScope holds the variables of p(x|z,y) and, for the ADGM, p(a|z,y).
	DecoderScope = "decoder"

	// ClassifierScope holds the variables of the classifier q(y|...).
	ClassifierScope = "y_classifier"
)

const (
	// ParamLatentDim is the context hyperparameter with the dimension of the latent variables z (and a).
	ParamLatentDim = "latent_dim"

	// ParamHiddenDim is the context hyperparameter with the size of the hidden layers of the MLP networks.
	ParamHiddenDim = "hidden_dim"
)

// Dims are the static dimensions of a model.
type Dims struct {
	InputDim, LatentDim, HiddenDim, NumClasses int
}

// DimsFromContext returns the Dims of a model for data with the given input dimension and number
// of classes, reading the latent and hidden dimensions from the context hyperparameters.
func DimsFromContext(ctx *context.Context, inputDim, numClasses int) Dims {
	d := Dims{
		InputDim:   inputDim,
		LatentDim:  context.GetParamOr(ctx, ParamLatentDim, 50),
		HiddenDim:  context.GetParamOr(ctx, ParamHiddenDim, 600),
		NumClasses: numClasses,
	}
	if d.InputDim <= 0 || d.LatentDim <= 0 || d.HiddenDim <= 0 || d.NumClasses < 2 {
		Panicf("invalid model dimensions %+v", d)
	}
	return d
}

// Observation is the observed input x of a model. It is either raw values (LogVar == nil) or the
// Gaussian encoding `N(Mu, exp(LogVar))` produced by a pre-trained M1 model.
type Observation struct {
	Mu, LogVar *Node
}

// IsGaussian returns whether the observation is a Gaussian encoding.
func (o Observation) IsGaussian() bool { return o.LogVar != nil }

// BatchSize of the observation.
func (o Observation) BatchSize() int { return o.Mu.Shape().Dimensions[0] }

// Sample returns the value of x fed to the networks.
//
// For Gaussian encodings, it draws x with distributions.DrawNorm while training, and returns the
// mean during inference. Raw observations are returned as is.
func (o Observation) Sample(ctx *context.Context) *Node {
	if !o.IsGaussian() || !ctx.IsTraining(o.Mu.Graph()) {
		return o.Mu
	}
	return distributions.DrawNorm(ctx, o.Mu, o.LogVar).Sample
}

// Reconstruction is the output of a decoder p(x|z,y).
//
// If LogVar is nil it is a Bernoulli distribution with probabilities Mean, otherwise it is the
// diagonal Gaussian `N(Mean, exp(LogVar))`.
type Reconstruction struct {
	Mean, LogVar *Node
}

// LogLikelihood returns `log p(x|z,y)` per example.
func (r *Reconstruction) LogLikelihood(x *Node) *Node {
	if r.LogVar == nil {
		return distributions.LogBernoulli(x, r.Mean)
	}
	return distributions.LogNormal(x, r.Mean, r.LogVar)
}

// LabeledOutput is the result of the labeled pass of a model.
type LabeledOutput struct {
	// ELBO per example, shaped `[batch]`.
	ELBO *Node

	// Logits of the classifier q(y|x), shaped `[batch, numClasses]`.
	Logits *Node

	// Reconstruction of x given the sampled z and the true label.
	Reconstruction *Reconstruction
}

// Model is implemented by the semi-supervised generative models.
//
// All methods must share the variables of the networks: calling them several times, in the same
// graph or in different graphs, uses the same weights.
type Model interface {
	// Labeled returns the ELBO of the labeled examples, with y one-hot encoded, along with
	// the classifier logits and the reconstruction.
	Labeled(ctx *context.Context, x Observation, y *Node) LabeledOutput

	// Unlabeled returns the ELBO of every example for every possible class, shaped
	// `[batch, numClasses]`, and the classifier logits.
	Unlabeled(ctx *context.Context, x Observation) (elbo, logits *Node)

	// Classify returns the logits of the classifier q(y|x).
	Classify(ctx *context.Context, x Observation) *Node

	// Dims of the model.
	Dims() Dims
}

// ELBOPerClass evaluates fn for every class, with y set to a constant one-hot batch of that class,
// and stacks the results into `[batchSize, numClasses]`.
func ELBOPerClass(x Observation, d Dims, fn func(y *Node) *Node) *Node {
	g := x.Mu.Graph()
	perClass := make([]*Node, d.NumClasses)
	for label := range d.NumClasses {
		y := nn.OneLabel(g, label, x.BatchSize(), d.NumClasses, x.Mu.DType())
		perClass[label] = fn(y)
	}
	return Stack(perClass, -1)
}
