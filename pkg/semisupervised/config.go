// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package semisupervised trains and evaluates the semi-supervised generative classifiers.
//
// A Classifier owns the model, the trainer and the checkpoint. It trains with Adam on one labeled
// and one unlabeled mini-batch per step, validates at every epoch, checkpoints the best validation
// accuracy, and stops early if the accuracy doesn't improve for a while.
//
// All the configuration is given as hyperparameters of the context, see CreateDefaultContext.
package semisupervised

import (
	"os"
	"strconv"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/ssdgm/pkg/models"
	"github.com/gomlx/ssdgm/pkg/models/adgm"
	"github.com/gomlx/ssdgm/pkg/models/convm2"
	"github.com/gomlx/ssdgm/pkg/models/m2"
	"github.com/gomlx/ssdgm/pkg/nn"
	"github.com/pkg/errors"
)

const (
	// ParamModel selects the model: one of ValidModels.
	ParamModel = "model"

	// ParamAlpha weights the classification term of the labeled loss.
	ParamAlpha = "alpha"

	// ParamSeed is the seed of the random number generators, both for the data split and the graph.
	ParamSeed = "seed"

	// ParamNumIterations is the maximum number of training steps.
	ParamNumIterations = "num_iterations"

	// ParamNumBatches is the number of batches per epoch.
	ParamNumBatches = "num_batches"

	// ParamRequireImprovement is the number of steps without improvement of the validation
	// accuracy after which training stops.
	ParamRequireImprovement = "require_improvement"

	// ParamNumLabeled is the number of labeled training examples.
	ParamNumLabeled = "n_labeled"

	// ParamNumValidation is the number of training examples held out for validation.
	ParamNumValidation = "num_validation"

	// ParamEvalBatchSize is the batch size used for prediction. If <= 0 the training batch size is used.
	ParamEvalBatchSize = "eval_batch_size"

	// ParamGPUMemoryFraction is the fraction of the accelerator memory the backend may use.
	ParamGPUMemoryFraction = "gpu_memory_fraction"

	// ParamCheckpoint is the directory where the best model is saved.
	ParamCheckpoint = "checkpoint"

	// ParamLogFile is the file where the training log is written, truncated at construction.
	// Set to "" to log only to stderr.
	ParamLogFile = "log_file"
)

// BestAccuracyScope and BestAccuracyVariableName locate the variable with the best validation accuracy.
const (
	BestAccuracyScope        = "/semisupervised"
	BestAccuracyVariableName = "best_validation_accuracy"
)

// ValidModels are the valid values of ParamModel.
var ValidModels = []string{"m2", "adgm", "convm2"}

// ParamsExcludedFromSaving are run-local parameters that are not saved in the checkpoint.
var ParamsExcludedFromSaving = []string{
	ParamCheckpoint, ParamLogFile, ParamGPUMemoryFraction, ParamNumIterations, ParamEvalBatchSize,
}

// CreateDefaultContext returns a context with the default hyperparameters.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamModel: "m2",

		// Optimizer: Adam with a fixed learning rate.
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 3e-4,
		optimizers.ParamAdamBeta1:    0.9,
		optimizers.ParamAdamBeta2:    0.999,

		// Objective.
		ParamAlpha: 0.1,

		// Networks.
		models.ParamLatentDim:   50,
		models.ParamHiddenDim:   600,
		convm2.ParamFilterSizes: []int{5, 3},
		convm2.ParamNumFilters:  []int{32, 64},
		convm2.ParamFCSize:      256,
		nn.ParamBatchNorm:       true,
		nn.ParamKeepProb:        1.0,

		// Data and training loop.
		ParamSeed:               31415,
		ParamNumLabeled:         100,
		ParamNumValidation:      10_000,
		ParamNumIterations:      40_000,
		ParamNumBatches:         100,
		ParamRequireImprovement: 5_000,
		ParamEvalBatchSize:      200,

		// Run-local.
		ParamGPUMemoryFraction: 1.0,
		ParamCheckpoint:        "summaries/semi_supervised_model",
		ParamLogFile:           "semi_supervised.log",
	})
	return ctx
}

// SelectModel creates the model configured in the context for data with the given dimensions.
// It panics for an invalid ParamModel or invalid dimensions.
func SelectModel(ctx *context.Context, inputDim, numClasses int) models.Model {
	dims := models.DimsFromContext(ctx, inputDim, numClasses)
	modelName := context.GetParamOr(ctx, ParamModel, "m2")
	switch modelName {
	case "m2":
		return m2.New(dims)
	case "adgm":
		return adgm.New(dims)
	case "convm2":
		return convm2.New(ctx, dims)
	default:
		Panicf("unknown model %q, valid values are %q", modelName, ValidModels)
	}
	return nil
}

// ConfigureGPUMemoryFraction sets XLA_CLIENT_MEM_FRACTION from ParamGPUMemoryFraction, if it is
// below 1. It must be called before the backend is created.
func ConfigureGPUMemoryFraction(ctx *context.Context) error {
	fraction := context.GetParamOr(ctx, ParamGPUMemoryFraction, 1.0)
	if fraction <= 0 || fraction > 1 {
		return errors.Errorf("invalid %s=%g, it must be in (0, 1]", ParamGPUMemoryFraction, fraction)
	}
	if fraction == 1 {
		return nil
	}
	return os.Setenv("XLA_CLIENT_MEM_FRACTION", strconv.FormatFloat(fraction, 'f', -1, 64))
}
