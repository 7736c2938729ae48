// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package semisupervised

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/ssdgm/pkg/datasets"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// progressBarMinBatches is the number of batches from which prediction displays a progress bar.
const progressBarMinBatches = 20

// BatchRanges splits `[0, n)` into consecutive `[start, end)` ranges of batchSize examples.
// The last range is shorter if n is not divisible by batchSize.
func BatchRanges(n, batchSize int) [][2]int {
	if batchSize <= 0 {
		exceptions.Panicf("invalid batch size %d", batchSize)
	}
	ranges := make([][2]int, 0, (n+batchSize-1)/batchSize)
	for start := 0; start < n; start += batchSize {
		ranges = append(ranges, [2]int{start, min(start+batchSize, n)})
	}
	return ranges
}

// Accuracy returns the fraction of true values in correct, and their count.
// The accuracy of an empty slice is 0.
func Accuracy(correct []bool) (accuracy float64, numCorrect int) {
	for _, c := range correct {
		if c {
			numCorrect++
		}
	}
	if len(correct) > 0 {
		accuracy = float64(numCorrect) / float64(len(correct))
	}
	return
}

// Prediction holds the classification of a set of examples.
type Prediction struct {
	// Predicted class of each example.
	Predicted []int32

	// Labels are the true classes.
	Labels []int32

	// Probabilities of each class for each example, flat `[numExamples, numClasses]`.
	Probabilities []float32
	NumClasses    int

	// Cost is the labeled cost averaged over the examples.
	Cost float64
}

// Correct returns for each example whether its predicted class is the true one.
func (p *Prediction) Correct() []bool {
	correct := make([]bool, len(p.Predicted))
	for ii, predicted := range p.Predicted {
		correct[ii] = predicted == p.Labels[ii]
	}
	return correct
}

// Accuracy of the prediction.
func (p *Prediction) Accuracy() float64 {
	accuracy, _ := Accuracy(p.Correct())
	return accuracy
}

// ClassProbabilities returns the probabilities of class for every example.
func (p *Prediction) ClassProbabilities(class int) []float64 {
	probs := make([]float64, len(p.Predicted))
	for ii := range probs {
		probs[ii] = float64(p.Probabilities[ii*p.NumClasses+class])
	}
	return probs
}

// evalBatchSize returns the prediction batch size configured in the context.
func (c *Classifier) evalBatchSize() int {
	batchSize := context.GetParamOr(c.ctx, ParamEvalBatchSize, 0)
	if batchSize <= 0 {
		batchSize = c.objective.BatchSize
	}
	return batchSize
}

// predictExec returns the executor of the classifier probabilities (from Model.Classify) and the labeled cost,
// creating it on the first use.
func (c *Classifier) predictExec(gaussian bool) (*context.Exec, error) {
	if exec := c.predictExecs[gaussian]; exec != nil {
		return exec, nil
	}
	exec, err := context.NewExec(c.backend, c.ctx, func(ctx *context.Context, inputs []*Node) []*Node {
		x, rest := observationInputs(inputs, gaussian)
		labeledLoss, _ := c.objective.LabeledLoss(ctx, x, rest[0])
		cost := c.objective.Cost(ctx, labeledLoss, nil, x.BatchSize())
		return []*Node{Softmax(c.model.Classify(ctx, x), -1), cost}
	})
	if err != nil {
		return nil, err
	}
	c.predictExecs[gaussian] = exec
	return exec, nil
}

// Predict classifies all the examples of set, in batches of ParamEvalBatchSize examples.
func (c *Classifier) Predict(set *datasets.Set) (*Prediction, error) {
	exec, err := c.predictExec(set.IsGaussian())
	if err != nil {
		return nil, err
	}
	n := set.Len()
	p := &Prediction{
		Predicted:     make([]int32, 0, n),
		Labels:        make([]int32, 0, n),
		Probabilities: make([]float32, 0, n*set.NumClasses),
		NumClasses:    set.NumClasses,
	}
	ranges := BatchRanges(n, c.evalBatchSize())
	var bar *progressbar.ProgressBar
	if len(ranges) >= progressBarMinBatches {
		bar = progressbar.Default(int64(n), "predicting")
		defer func() { _ = bar.Close() }()
	}
	var totalCost float64
	for _, r := range ranges {
		indices := make([]int, 0, r[1]-r[0])
		for idx := r[0]; idx < r[1]; idx++ {
			indices = append(indices, idx)
		}
		mu, logvar, labels := set.BatchTensors(indices)
		args := []any{mu}
		if logvar != nil {
			args = append(args, logvar)
		}
		args = append(args, labels)
		probsT, costT, err := exec.Exec2(args...)
		if err != nil {
			return nil, errors.WithMessagef(err, "predicting examples [%d, %d)", r[0], r[1])
		}
		probs := tensors.CopyFlatData[float32](probsT)
		p.Probabilities = append(p.Probabilities, probs...)
		for row := range len(indices) {
			p.Predicted = append(p.Predicted, argMax(probs[row*set.NumClasses:(row+1)*set.NumClasses]))
		}
		p.Labels = append(p.Labels, set.Labels[r[0]:r[1]]...)
		totalCost += shapes.ConvertTo[float64](costT.Value()) * float64(len(indices))
		if bar != nil {
			_ = bar.Add(len(indices))
		}
	}
	if n > 0 {
		p.Cost = totalCost / float64(n)
	}
	return p, nil
}

func argMax(values []float32) int32 {
	best := 0
	for ii, v := range values {
		if v > values[best] {
			best = ii
		}
	}
	return int32(best)
}

// reconstructExec returns the executor of the reconstruction means, creating it on the first use.
func (c *Classifier) reconstructExec(gaussian bool) (*context.Exec, error) {
	if exec := c.reconstructExecs[gaussian]; exec != nil {
		return exec, nil
	}
	numClasses := c.model.Dims().NumClasses
	exec, err := context.NewExec(c.backend, c.ctx, func(ctx *context.Context, inputs []*Node) *Node {
		x, rest := observationInputs(inputs, gaussian)
		y := OneHot(Reshape(rest[0], x.BatchSize()), numClasses, x.Mu.DType())
		return c.model.Labeled(ctx, x, y).Reconstruction.Mean
	})
	if err != nil {
		return nil, err
	}
	c.reconstructExecs[gaussian] = exec
	return exec, nil
}

// Reconstruct returns the reconstruction means of the first n examples of set, given their true
// labels, flat `[n, Dim]`.
func (c *Classifier) Reconstruct(set *datasets.Set, n int) ([]float32, error) {
	n = min(n, set.Len())
	if n <= 0 {
		return nil, nil
	}
	exec, err := c.reconstructExec(set.IsGaussian())
	if err != nil {
		return nil, err
	}
	indices := make([]int, n)
	for ii := range indices {
		indices[ii] = ii
	}
	mu, logvar, labels := set.BatchTensors(indices)
	args := []any{mu}
	if logvar != nil {
		args = append(args, logvar)
	}
	args = append(args, labels)
	means, err := exec.Exec1(args...)
	if err != nil {
		return nil, errors.WithMessagef(err, "reconstructing %d examples", n)
	}
	return tensors.CopyFlatData[float32](means), nil
}
