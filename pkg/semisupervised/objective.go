// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package semisupervised

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/ssdgm/pkg/distributions"
	"github.com/gomlx/ssdgm/pkg/models"
	"github.com/pkg/errors"
)

// BatchSizes returns the sizes of the training mini-batches for numExamples training examples, of
// which numLabeled are labeled, split in numBatches batches per epoch:
//
//   - batchSize is numExamples / numBatches;
//   - numLabBatch is numLabeled / numBatches, at least 1;
//   - numUnlabBatch is the rest of the batch, 0 if all examples are labeled.
func BatchSizes(numExamples, numBatches, numLabeled int) (numLabBatch, numUnlabBatch, batchSize int, err error) {
	if numBatches <= 0 || numExamples < numBatches {
		err = errors.Errorf("invalid number of batches %d for %d examples", numBatches, numExamples)
		return
	}
	if numLabeled <= 0 || numLabeled > numExamples {
		err = errors.Errorf("invalid number of labeled examples %d for %d examples", numLabeled, numExamples)
		return
	}
	batchSize = numExamples / numBatches
	if numLabeled == numExamples {
		numLabBatch = batchSize
		return
	}
	numLabBatch = max(numLabeled/numBatches, 1)
	numUnlabBatch = batchSize - numLabBatch
	if numUnlabBatch <= 0 {
		err = errors.Errorf("batch size %d leaves no room for unlabeled examples (%d labeled per batch): "+
			"use fewer batches or fewer labeled examples", batchSize, numLabBatch)
	}
	return
}

// Objective builds the variational cost minimized during training.
//
// For labeled examples it is the ELBO minus the weighted classification cross-entropy. Unlabeled
// examples contribute the ELBO marginalized over the classifier's q(y|x). The sums are scaled by the
// number of training examples, the log-prior of the weights is added, and the result is normalized
// by the batch size and negated:
//
//	cost = ((labeled + unlabeled)·N + log p(θ)) / (−batchSize·N)
type Objective struct {
	Model models.Model

	// NumExamples is N, the number of training examples.
	NumExamples int

	// BatchSize and NumLabBatch are the sizes of the training mini-batch and of its labeled part.
	BatchSize, NumLabBatch int

	// Alpha weights the classification term.
	Alpha float64
}

// Beta is the weight of the cross-entropy in the labeled loss: `alpha · batchSize / numLabBatch`.
func (o *Objective) Beta() float64 {
	return o.Alpha * float64(o.BatchSize) / float64(o.NumLabBatch)
}

// LabeledLoss returns `Σ (ELBO − β·CE)` over the labeled examples, and the classifier logits.
// labels are the sparse int labels shaped `[batch, 1]`.
func (o *Objective) LabeledLoss(ctx *context.Context, x models.Observation, labels *Node) (loss, logits *Node) {
	numClasses := o.Model.Dims().NumClasses
	y := OneHot(Reshape(labels, x.BatchSize()), numClasses, x.Mu.DType())
	out := o.Model.Labeled(ctx, x, y)
	crossEntropy, _ := distributions.SoftmaxClassifier(out.Logits, labels)
	loss = ReduceAllSum(Sub(out.ELBO, MulScalar(crossEntropy, o.Beta())))
	return loss, out.Logits
}

// UnlabeledLoss returns the sum over the unlabeled examples of the ELBO marginalized over q(y|x).
func (o *Objective) UnlabeledLoss(ctx *context.Context, x models.Observation) *Node {
	elbo, logits := o.Model.Unlabeled(ctx, x)
	return ReduceAllSum(distributions.MarginalizeUnlabeled(elbo, Softmax(logits, -1)))
}

// Cost combines the labeled loss and, if not nil, the unlabeled loss into the cost to minimize.
// batchSize is the number of examples the losses were summed over.
func (o *Objective) Cost(ctx *context.Context, labeledLoss, unlabeledLoss *Node, batchSize int) *Node {
	g := labeledLoss.Graph()
	total := labeledLoss
	if unlabeledLoss != nil {
		total = Add(total, unlabeledLoss)
	}
	n := float64(o.NumExamples)
	prior := ConvertDType(distributions.PriorWeights(ctx, g), total.DType())
	return DivScalar(Add(MulScalar(total, n), prior), -float64(batchSize)*n)
}

// observationInputs takes the observation from the front of inputs: its mean, followed by its
// log-variance if gaussian. It returns the remaining inputs.
func observationInputs(inputs []*Node, gaussian bool) (models.Observation, []*Node) {
	if gaussian {
		return models.Observation{Mu: inputs[0], LogVar: inputs[1]}, inputs[2:]
	}
	return models.Observation{Mu: inputs[0]}, inputs[1:]
}

// TrainModelFn returns the train.ModelFn fed by Dataset. Its inputs are the labeled observation,
// the labels and, if withUnlabeled, the unlabeled observation.
//
// It returns the classifier logits of the labeled examples, used by the accuracy metric, and the
// cost, used as the loss.
func (o *Objective) TrainModelFn(gaussian, withUnlabeled bool) train.ModelFn {
	return func(ctx *context.Context, _ any, inputs []*Node) []*Node {
		xLab, rest := observationInputs(inputs, gaussian)
		labels := rest[0]
		labeledLoss, logits := o.LabeledLoss(ctx, xLab, labels)
		var unlabeledLoss *Node
		if withUnlabeled {
			xUnlab, _ := observationInputs(rest[1:], gaussian)
			unlabeledLoss = o.UnlabeledLoss(ctx, xUnlab)
		}
		cost := o.Cost(ctx, labeledLoss, unlabeledLoss, o.BatchSize)
		return []*Node{logits, cost}
	}
}

// costAsLoss is the train.LossFn for TrainModelFn: the cost is the second prediction.
func costAsLoss(_, predictions []*Node) *Node {
	return predictions[1]
}
