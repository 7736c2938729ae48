// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributions

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

const (
	// BernoulliEpsilon bounds the Bernoulli probabilities away from 0 and 1 in LogBernoulli.
	BernoulliEpsilon = 1e-7

	// MarginalEpsilon is added to the classifier probabilities before taking their log
	// in MarginalizeUnlabeled.
	MarginalEpsilon = 1e-10
)

// LogBernoulli returns the log-likelihood of x (values in [0, 1]) under independent Bernoulli
// variables with probabilities p, summed over the last axis:
//
//	Σ x·log(p) + (1-x)·log(1-p)
//
// p is clipped to [BernoulliEpsilon, 1-BernoulliEpsilon].
func LogBernoulli(x, p *Node) *Node {
	p = ClipScalar(p, BernoulliEpsilon, 1-BernoulliEpsilon)
	ll := Add(Mul(x, Log(p)), Mul(OneMinus(x), Log(OneMinus(p))))
	return ReduceSum(ll, -1)
}

// LogUniformCategorical returns `log p(y)` for y one-hot encoded (`[batch, numClasses]`) under a
// uniform prior over the classes. It is `-log(numClasses)` for every valid one-hot row.
func LogUniformCategorical(y *Node) *Node {
	numClasses := y.Shape().Dimensions[y.Rank()-1]
	return ReduceSum(MulScalar(y, -math.Log(float64(numClasses))), -1)
}

// SoftmaxClassifier returns the per-example categorical cross-entropy of the logits against the
// sparse labels (`[batch, 1]` or `[batch]`, integer), and the predicted class (argmax) per example.
func SoftmaxClassifier(logits, labels *Node) (crossEntropy, predicted *Node) {
	if labels.Rank() == 2 {
		labels = Squeeze(labels, -1)
	}
	if !labels.DType().IsInt() {
		Panicf("distributions.SoftmaxClassifier: labels must be integers, got %s", labels.Shape())
	}
	numClasses := logits.Shape().Dimensions[logits.Rank()-1]
	oneHot := OneHot(labels, numClasses, logits.DType())
	crossEntropy = Neg(ReduceSum(Mul(oneHot, LogSoftmax(logits, -1)), -1))
	predicted = ArgMax(logits, -1, labels.DType())
	return
}

// MarginalizeUnlabeled marginalizes the per-class ELBO of unlabeled examples over the classifier
// distribution q(y|x):
//
//	Σ_y q(y|x) · (ELBO(x, y) − log q(y|x))
//
// elbo and probs are shaped `[batch, numClasses]`, the result is shaped `[batch]`.
// MarginalEpsilon is added to probs.
func MarginalizeUnlabeled(elbo, probs *Node) *Node {
	if !elbo.Shape().EqualDimensions(probs.Shape()) {
		Panicf("distributions.MarginalizeUnlabeled: elbo %s and probs %s must have the same dimensions",
			elbo.Shape(), probs.Shape())
	}
	q := AddScalar(probs, MarginalEpsilon)
	return ReduceSum(Mul(q, Sub(elbo, Log(q))), -1)
}
