// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package semisupervised

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/ssdgm/pkg/datasets"
	"github.com/gomlx/ssdgm/pkg/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Classifier is a semi-supervised generative classifier: it owns the model, its trainer and its
// checkpoint.
type Classifier struct {
	backend   backends.Backend
	ctx       *context.Context
	model     models.Model
	objective *Objective
	data      *datasets.Split
	gaussian  bool

	trainDS    *Dataset
	trainer    *train.Trainer
	checkpoint *checkpoints.Handler

	// RunID identifies the run in the log and in the history.
	RunID string

	// History of the validations during training.
	History *History

	// ShowProgressBar during training. Defaults to true.
	ShowProgressBar bool

	closeLog                       func() error
	predictExecs, reconstructExecs map[bool]*context.Exec
}

// New creates a Classifier for the data split, configured by the hyperparameters in ctx
// (see CreateDefaultContext).
//
// It truncates the log file, seeds the random number generator and builds the trainer.
// If the checkpoint directory already holds a checkpoint, the model is loaded from it.
//
// If the split has no unlabeled examples, the model is trained on the labeled loss only.
func New(backend backends.Backend, ctx *context.Context, data *datasets.Split) (c *Classifier, err error) {
	c = &Classifier{
		backend:          backend,
		ctx:              ctx,
		data:             data,
		gaussian:         data.Labeled.IsGaussian(),
		RunID:            uuid.NewString(),
		ShowProgressBar:  true,
		predictExecs:     make(map[bool]*context.Exec),
		reconstructExecs: make(map[bool]*context.Exec),
	}
	c.closeLog, err = ConfigureLogFile(context.GetParamOr(ctx, ParamLogFile, ""))
	if err != nil {
		return nil, err
	}
	c.History = NewHistory(c.RunID)
	klog.Infof("Run %s: model %q", c.RunID, context.GetParamOr(ctx, ParamModel, "m2"))
	ctx.RngStateFromSeed(int64(context.GetParamOr(ctx, ParamSeed, 0)))

	labeled, unlabeled := data.Labeled, data.Unlabeled
	if unlabeled != nil && unlabeled.Len() == 0 {
		unlabeled = nil
	}
	numExamples := labeled.Len()
	if unlabeled != nil {
		numExamples += unlabeled.Len()
	}
	numBatches := context.GetParamOr(ctx, ParamNumBatches, 100)
	numLabBatch, numUnlabBatch, batchSize, err := BatchSizes(numExamples, numBatches, labeled.Len())
	if err != nil {
		return nil, c.closeOnError(err)
	}
	klog.Infof("Examples: %s labeled, %s total, %s validation; batch size %d (%d labeled, %d unlabeled), %d batches per epoch",
		humanize.Comma(int64(labeled.Len())), humanize.Comma(int64(numExamples)),
		humanize.Comma(int64(data.Validation.Len())), batchSize, numLabBatch, numUnlabBatch, numBatches)

	klog.V(1).Infof("Labeled examples per class: %v", labeled.ClassCounts())

	err = exceptions.TryCatch[error](func() {
		c.model = SelectModel(ctx, labeled.Dim, labeled.NumClasses)
	})
	if err != nil {
		return nil, c.closeOnError(err)
	}
	c.objective = &Objective{
		Model:       c.model,
		NumExamples: numExamples,
		BatchSize:   batchSize,
		NumLabBatch: numLabBatch,
		Alpha:       context.GetParamOr(ctx, ParamAlpha, 0.1),
	}
	c.trainDS, err = NewDataset(backend, "train", labeled, unlabeled, numLabBatch, numUnlabBatch, numBatches)
	if err != nil {
		return nil, c.closeOnError(err)
	}
	klog.V(1).Infof("%s", c.trainDS)

	err = exceptions.TryCatch[error](func() {
		movingAccuracy := metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)
		c.trainer = train.NewTrainer(backend, ctx,
			c.objective.TrainModelFn(c.gaussian, c.trainDS.WithUnlabeled()), costAsLoss,
			optimizers.FromContext(ctx),
			[]metrics.Interface{movingAccuracy}, // trainMetrics
			nil)                                 // evalMetrics
	})
	if err != nil {
		return nil, c.closeOnError(errors.WithMessage(err, "failed to create trainer"))
	}

	if dir := context.GetParamOr(ctx, ParamCheckpoint, ""); dir != "" {
		c.checkpoint, err = checkpoints.Build(ctx).
			Dir(dir).
			Keep(1).
			ExcludeParams(ParamsExcludedFromSaving...).
			Done()
		if err != nil {
			return nil, c.closeOnError(errors.WithMessagef(err, "failed to configure checkpoint in %q", dir))
		}
		c.History.AttachPlotPoints(c.checkpoint.Dir())
		if best := c.BestAccuracy(); best > 0 {
			klog.Infof("Resuming from %q, best validation accuracy so far %.4f", c.checkpoint.Dir(), best)
		}
	}
	return c, nil
}

// bestAccuracyVariable holds the best validation accuracy, so it is saved and restored with the checkpoint.
func (c *Classifier) bestAccuracyVariable() *context.Variable {
	return c.ctx.InAbsPath(BestAccuracyScope).Checked(false).
		VariableWithValue(BestAccuracyVariableName, float64(0)).SetTrainable(false)
}

// BestAccuracy returns the best validation accuracy of the model in the checkpoint, including
// previous runs resumed from it. It is 0 before the first validation.
func (c *Classifier) BestAccuracy() float64 {
	return shapes.ConvertTo[float64](c.bestAccuracyVariable().Value().Value())
}

func (c *Classifier) setBestAccuracy(accuracy float64) {
	c.bestAccuracyVariable().SetValue(tensors.FromValue(accuracy))
}

func (c *Classifier) closeOnError(err error) error {
	if closeErr := c.closeLog(); closeErr != nil {
		klog.Errorf("Error closing log file: %+v", closeErr)
	}
	return err
}

// Context used by the classifier. It changes after RestoreBest.
func (c *Classifier) Context() *context.Context { return c.ctx }

// Model being trained.
func (c *Classifier) Model() models.Model { return c.model }

// Objective used for training and evaluation.
func (c *Classifier) Objective() *Objective { return c.objective }

// CheckpointDir returns the directory of the checkpoint, or "" if there is none.
func (c *Classifier) CheckpointDir() string {
	if c.checkpoint == nil {
		return ""
	}
	return c.checkpoint.Dir()
}

// Close flushes the history and closes the log file.
func (c *Classifier) Close() error {
	err := c.History.Close()
	if closeErr := c.closeLog(); err == nil {
		err = closeErr
	}
	return err
}

// RestoreBest reloads the model saved at the best validation accuracy.
//
// The variables are loaded into a new context, which replaces the current one. It is a no-op if
// there is no checkpoint directory or nothing was saved yet.
func (c *Classifier) RestoreBest() error {
	if c.checkpoint == nil {
		klog.Warningf("No checkpoint directory configured, keeping the current model")
		return nil
	}
	hasCheckpoints, err := c.checkpoint.HasCheckpoints()
	if err != nil {
		return err
	}
	if !hasCheckpoints {
		klog.Warningf("No checkpoint saved in %q, keeping the current model", c.checkpoint.Dir())
		return nil
	}
	restored := context.New()
	c.ctx.EnumerateParams(func(scope, key string, value any) {
		restored.InAbsPath(scope).SetParam(key, value)
	})
	_, err = checkpoints.Load(restored).Dir(c.checkpoint.Dir()).Immediate().Done()
	if err != nil {
		return errors.WithMessagef(err, "failed to restore best model from %q", c.checkpoint.Dir())
	}
	c.ctx = restored
	clear(c.predictExecs)
	clear(c.reconstructExecs)
	klog.Infof("Restored best model from %q", c.checkpoint.Dir())
	return nil
}
