// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package semisupervised

import (
	"math"
	"math/rand"
	"os"
	"path"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/ssdgm/pkg/datasets"
	"github.com/gomlx/ssdgm/pkg/models"
	"github.com/gomlx/ssdgm/pkg/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestBatchSizes(t *testing.T) {
	for _, tc := range []struct {
		numExamples, numBatches, numLabeled int
		wantLab, wantUnlab, wantBatch       int
	}{
		{50_000, 100, 100, 1, 499, 500},
		{50_000, 100, 1000, 10, 490, 500},
		{50_000, 100, 50_000, 500, 0, 500},
		{1000, 10, 5, 1, 99, 100},
	} {
		lab, unlab, batch, err := BatchSizes(tc.numExamples, tc.numBatches, tc.numLabeled)
		require.NoError(t, err, "%+v", tc)
		assert.Equal(t, tc.wantLab, lab, "%+v", tc)
		assert.Equal(t, tc.wantUnlab, unlab, "%+v", tc)
		assert.Equal(t, tc.wantBatch, batch, "%+v", tc)
	}

	_, _, _, err := BatchSizes(10, 0, 5)
	assert.Error(t, err)
	_, _, _, err = BatchSizes(10, 20, 5)
	assert.Error(t, err)
	_, _, _, err = BatchSizes(10, 2, 0)
	assert.Error(t, err)
	// Batch of 1 with 1 labeled example per batch: no room for unlabeled ones.
	_, _, _, err = BatchSizes(10, 10, 5)
	assert.Error(t, err)
	// Batch of 2 with 1 labeled example per batch.
	lab, unlab, batch, err := BatchSizes(10, 5, 9)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2}, []int{lab, unlab, batch})
}

func TestBatchRangesAndAccuracy(t *testing.T) {
	for _, n := range []int{0, 1, 7, 10, 23} {
		for _, batchSize := range []int{1, 3, 10} {
			seen := make([]int, n)
			for _, r := range BatchRanges(n, batchSize) {
				require.Less(t, r[0], r[1])
				require.LessOrEqual(t, r[1]-r[0], batchSize)
				for ii := r[0]; ii < r[1]; ii++ {
					seen[ii]++
				}
			}
			for ii, count := range seen {
				require.Equal(t, 1, count, "n=%d, batchSize=%d, example %d", n, batchSize, ii)
			}
		}
	}
	assert.Equal(t, [][2]int{{0, 4}, {4, 8}, {8, 10}}, BatchRanges(10, 4))
	assert.Panics(t, func() { BatchRanges(10, 0) })

	accuracy, numCorrect := Accuracy([]bool{true, false, true, true})
	assert.Equal(t, 0.75, accuracy)
	assert.Equal(t, 3, numCorrect)
	accuracy, numCorrect = Accuracy(nil)
	assert.Equal(t, 0.0, accuracy)
	assert.Equal(t, 0, numCorrect)

	p := &Prediction{
		Predicted:     []int32{1, 0, 1},
		Labels:        []int32{1, 1, 1},
		Probabilities: []float32{0.2, 0.8, 0.6, 0.4, 0.3, 0.7},
		NumClasses:    2,
	}
	assert.Equal(t, []bool{true, false, true}, p.Correct())
	assert.InDelta(t, 2.0/3.0, p.Accuracy(), 1e-9)
	assert.InDeltaSlice(t, []float64{0.8, 0.4, 0.7}, p.ClassProbabilities(1), 1e-6)
}

// patternSet creates a binary set of 2x2 images: class 0 lights the top row, class 1 the bottom row,
// and every 5th example has one pixel flipped.
func patternSet(t *testing.T, n int) *datasets.Set {
	mu := make([]float32, 0, 4*n)
	labels := make([]int32, n)
	for ii := range n {
		label := int32(ii % 2)
		labels[ii] = label
		pixels := []float32{1, 1, 0, 0}
		if label == 1 {
			pixels = []float32{0, 0, 1, 1}
		}
		if ii%5 == 0 {
			pixels[ii%4] = 1 - pixels[ii%4]
		}
		mu = append(mu, pixels...)
	}
	s, err := datasets.NewSet(mu, nil, labels, 4, 2)
	require.NoError(t, err)
	return s
}

func TestDataset(t *testing.T) {
	labeled := patternSet(t, 5)
	unlabeled := patternSet(t, 7)
	backend := graphtest.BuildTestBackend()
	ds, err := NewDataset(backend, "test", labeled, unlabeled, 2, 3, 3)
	require.NoError(t, err)
	assert.True(t, ds.WithUnlabeled())
	assert.Equal(t, "test", ds.Name())

	wantLabels := [][]int32{{0, 1}, {0, 1}, {0, 0}, {1, 0}}
	for step, want := range wantLabels {
		_, inputs, labels, err := ds.Yield()
		require.NoError(t, err)
		require.Len(t, inputs, 3)
		require.Len(t, labels, 1)
		assert.Equal(t, []int{2, 4}, inputs[0].Shape().Dimensions)
		assert.Equal(t, []int{2, 1}, inputs[1].Shape().Dimensions)
		assert.Equal(t, []int{3, 4}, inputs[2].Shape().Dimensions)
		assert.Equal(t, want, tensors.CopyFlatData[int32](labels[0]), "step %d", step)
		assert.Equal(t, want, tensors.CopyFlatData[int32](inputs[1]), "step %d", step)
		assert.Equal(t, step == 2, ds.IsEpochEnd(), "step %d", step)
	}
	assert.Equal(t, 1, ds.Epochs())

	ds.Reset()
	assert.Equal(t, 0, ds.Epochs())
	assert.False(t, ds.IsEpochEnd())
	_, _, labels, err := ds.Yield()
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1}, tensors.CopyFlatData[int32](labels[0]))

	// 5 labeled examples in batches of 2 only repeat after 5 batches.
	ds.Reset()
	var seen []int32
	for range 10 {
		_, _, labels, err = ds.Yield()
		require.NoError(t, err)
		seen = append(seen, tensors.CopyFlatData[int32](labels[0])...)
	}
	assert.Equal(t, seen[:10], seen[10:])
	assert.Equal(t, labeled.Labels, seen[:5])
	assert.Equal(t, labeled.Labels, seen[5:10])
	assert.Equal(t, 3, ds.Epochs())

	labeledOnly, err := NewDataset(backend, "labeled", labeled, datasets.Subset(unlabeled, []int{}), 2, 0, 3)
	require.NoError(t, err)
	assert.False(t, labeledOnly.WithUnlabeled())
	_, inputs, _, err := labeledOnly.Yield()
	require.NoError(t, err)
	assert.Len(t, inputs, 2)
}

func TestHistory(t *testing.T) {
	h := NewHistory("run-1")
	_, found := h.Best()
	assert.False(t, found)
	assert.Equal(t, -1, h.BestIndex())

	h.Add(Evaluation{Step: 99, Epoch: 1, TrainCost: 120.5, ValidationCost: 130.25, ValidationAccuracy: 0.5, Improved: true})
	h.Add(Evaluation{Step: 199, Epoch: 2, TrainCost: 100, ValidationCost: 110, ValidationAccuracy: 0.75, Improved: true})
	h.Add(Evaluation{Step: 299, Epoch: 3, TrainCost: 95.5, ValidationCost: 111, ValidationAccuracy: 0.75})
	best, found := h.Best()
	require.True(t, found)
	assert.Equal(t, 199, best.Step)
	assert.Equal(t, 1, h.BestIndex())
	assert.Equal(t, []float64{120.5, 100, 95.5}, h.TrainCosts())

	filePath := path.Join(t.TempDir(), HistoryFileName)
	require.NoError(t, h.WriteCSV(filePath))
	loaded, err := LoadHistoryCSV(filePath)
	require.NoError(t, err)
	assert.Equal(t, h.RunID, loaded.RunID)
	assert.Equal(t, h.Evaluations, loaded.Evaluations)

	// Plot points.
	dir := t.TempDir()
	h = NewHistory("run-2")
	h.AttachPlotPoints(dir)
	h.Add(Evaluation{Step: 9, Epoch: 1, TrainCost: 1, ValidationCost: 2, ValidationAccuracy: 0.5})
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConfigureLogFile(t *testing.T) {
	closeFn, err := ConfigureLogFile("")
	require.NoError(t, err)
	require.NoError(t, closeFn())

	filePath := path.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(filePath, []byte("previous run\n"), 0o644))
	closeFn, err = ConfigureLogFile(filePath)
	require.NoError(t, err)
	klog.Infof("semi-supervised log line")
	require.NoError(t, closeFn())
	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "semi-supervised log line")
	assert.NotContains(t, string(contents), "previous run")
}

func TestObjectiveCost(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.In("layer").VariableWithValue(nn.WeightsVariableName, [][]float32{{1, 2}})
	o := &Objective{NumExamples: 100, BatchSize: 10, NumLabBatch: 2, Alpha: 0.1}
	assert.InDelta(t, 0.5, o.Beta(), 1e-9)

	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, lab, unlab *Node) (*Node, *Node) {
		return o.Cost(ctx, lab, unlab, 10), o.Cost(ctx, lab, nil, 10)
	})
	outputs := exec.MustExec(float32(-10), float32(-20))
	prior := -0.5 * (1 + 4 + 2*math.Log(2*math.Pi))
	assert.InDelta(t, (-3000+prior)/-1000, tensors.ToScalar[float32](outputs[0]), 1e-4)
	assert.InDelta(t, (-1000+prior)/-1000, tensors.ToScalar[float32](outputs[1]), 1e-4)
}

// tinyContext returns a context configured for a quick training run in t.TempDir().
func tinyContext(t *testing.T, modelName string) *context.Context {
	ctx := CreateDefaultContext()
	ctx.SetParams(map[string]any{
		ParamModel:              modelName,
		models.ParamLatentDim:   2,
		models.ParamHiddenDim:   8,
		nn.ParamBatchNorm:       false,
		ParamNumLabeled:         10,
		ParamNumValidation:      10,
		ParamNumIterations:      12,
		ParamNumBatches:         5,
		ParamRequireImprovement: 100,
		ParamEvalBatchSize:      4,
		ParamCheckpoint:         path.Join(t.TempDir(), "checkpoint"),
		ParamLogFile:            "",
	})
	return ctx
}

func tinySplit(t *testing.T, ctx *context.Context) *datasets.Split {
	rng := rand.New(rand.NewSource(int64(context.GetParamOr(ctx, ParamSeed, 0))))
	split, err := datasets.SplitSemiSupervised(patternSet(t, 60),
		context.GetParamOr(ctx, ParamNumLabeled, 0), context.GetParamOr(ctx, ParamNumValidation, 0), rng)
	require.NoError(t, err)
	return split
}

func TestTrainTest(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := tinyContext(t, "m2")
	c, err := New(backend, ctx, tinySplit(t, ctx))
	require.NoError(t, err)
	c.ShowProgressBar = false
	defer func() { require.NoError(t, c.Close()) }()

	// Prediction works before training.
	test := patternSet(t, 9)
	p, err := c.Predict(test)
	require.NoError(t, err)
	require.Len(t, p.Predicted, 9)
	assert.Equal(t, test.Labels, p.Labels)
	for ii := range p.Predicted {
		probs := p.Probabilities[ii*2 : ii*2+2]
		assert.InDelta(t, 1.0, float64(probs[0]+probs[1]), 1e-4)
	}
	assert.False(t, math.IsNaN(p.Cost))

	reportDir := path.Join(t.TempDir(), "reports")
	p, err = c.TrainTest(test, reportDir)
	require.NoError(t, err)
	require.Len(t, p.Predicted, 9)
	assert.False(t, math.IsNaN(p.Cost))

	// 12 steps of 5 batches per epoch: evaluations at the 2 epoch ends and at the last step.
	require.Len(t, c.History.Evaluations, 3)
	assert.Equal(t, []int{4, 9, 11}, []int{c.History.Evaluations[0].Step, c.History.Evaluations[1].Step, c.History.Evaluations[2].Step})
	assert.Equal(t, 2, c.History.Evaluations[2].Epoch)

	for _, name := range []string{ROCPlotFileName, CostPlotFileName, AccuracyPlotFileName, HTMLReportFileName,
		HistoryFileName, ReconstructionFileName} {
		_, err := os.Stat(path.Join(reportDir, name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(path.Join(c.CheckpointDir(), HistoryFileName))
	assert.NoError(t, err)

	reconstructions, err := c.Reconstruct(test, 3)
	require.NoError(t, err)
	assert.Len(t, reconstructions, 3*4)
}

func TestEarlyStop(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := tinyContext(t, "adgm")
	ctx.SetParam(ParamRequireImprovement, 0)
	ctx.SetParam(ParamNumIterations, 50)
	c, err := New(backend, ctx, tinySplit(t, ctx))
	require.NoError(t, err)
	c.ShowProgressBar = false
	defer func() { require.NoError(t, c.Close()) }()

	// The second step is already more than 0 steps past the (initial) last improvement.
	epochs, lastImprovement, err := c.Train()
	require.NoError(t, err)
	assert.Equal(t, 0, epochs)
	assert.Equal(t, 0, lastImprovement)
	assert.Empty(t, c.History.Evaluations)
}

func TestSelectModel(t *testing.T) {
	ctx := CreateDefaultContext()
	for _, name := range ValidModels {
		ctx.SetParam(ParamModel, name)
		model := SelectModel(ctx, 784, 10)
		assert.Equal(t, 10, model.Dims().NumClasses, name)
	}
	ctx.SetParam(ParamModel, "m3")
	assert.Panics(t, func() { SelectModel(ctx, 784, 10) })

	ctx.SetParam(ParamGPUMemoryFraction, 1.5)
	assert.Error(t, ConfigureGPUMemoryFraction(ctx))
	ctx.SetParam(ParamGPUMemoryFraction, 1.0)
	assert.NoError(t, ConfigureGPUMemoryFraction(ctx))
}

func TestPredictIsDeterministic(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := tinyContext(t, "adgm")
	c, err := New(backend, ctx, tinySplit(t, ctx))
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	// ADGM samples its auxiliary variable during training only: predictions use its mean.
	test := patternSet(t, 9)
	first, err := c.Predict(test)
	require.NoError(t, err)
	second, err := c.Predict(test)
	require.NoError(t, err)
	assert.Equal(t, first.Probabilities, second.Probabilities)
	assert.Equal(t, first.Predicted, second.Predicted)
}

func TestResumeKeepsBestAccuracy(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := tinyContext(t, "m2")
	checkpointDir := context.GetParamOr(ctx, ParamCheckpoint, "")
	c, err := New(backend, ctx, tinySplit(t, ctx))
	require.NoError(t, err)
	c.ShowProgressBar = false
	_, _, err = c.Train()
	require.NoError(t, err)
	best, found := c.History.Best()
	require.True(t, found)
	assert.Equal(t, best.ValidationAccuracy, c.BestAccuracy())
	require.NoError(t, c.Close())

	// A new run on the same checkpoint only saves models better than the saved one.
	ctx = tinyContext(t, "m2")
	ctx.SetParam(ParamCheckpoint, checkpointDir)
	resumed, err := New(backend, ctx, tinySplit(t, ctx))
	require.NoError(t, err)
	resumed.ShowProgressBar = false
	defer func() { require.NoError(t, resumed.Close()) }()
	assert.Equal(t, best.ValidationAccuracy, resumed.BestAccuracy())
	_, _, err = resumed.Train()
	require.NoError(t, err)
	running := best.ValidationAccuracy
	for _, e := range resumed.History.Evaluations {
		assert.Equal(t, e.ValidationAccuracy > running, e.Improved, "step %d", e.Step)
		running = max(running, e.ValidationAccuracy)
	}
	assert.Equal(t, running, resumed.BestAccuracy())
}
