// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package semisupervised

import (
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrEarlyStop is returned by the validation hook to stop the training loop when the validation
// accuracy stopped improving. Train doesn't report it as an error.
var ErrEarlyStop = errors.New("no improvement found in a while, stopping optimization")

// Train runs up to ParamNumIterations training steps.
//
// The validation set is evaluated at the end of every epoch and at the last step. When the
// validation accuracy improves, the model is saved to the checkpoint. Training stops early if the
// accuracy didn't improve for more than ParamRequireImprovement steps.
//
// It returns the number of completed epochs and the step (0-based) of the last improvement.
func (c *Classifier) Train() (epochs, lastImprovement int, err error) {
	numIterations := context.GetParamOr(c.ctx, ParamNumIterations, 0)
	requireImprovement := context.GetParamOr(c.ctx, ParamRequireImprovement, numIterations)
	if numIterations <= 0 {
		return 0, 0, errors.Errorf("%s=%d, there is nothing to train", ParamNumIterations, numIterations)
	}
	klog.Infof("Training for up to %d steps (epochs=%d), stopping after %d steps without improvement",
		numIterations, numIterations/c.trainDS.stepsPerEpoch, requireImprovement)

	loop := train.NewLoop(c.trainer)
	if c.ShowProgressBar {
		commandline.AttachProgressBar(loop)
	}
	bestAccuracy := c.BestAccuracy()
	loop.OnStep("validation", 100, func(loop *train.Loop, metrics []*tensors.Tensor) error {
		step := loop.LoopStep - loop.StartStep
		if c.trainDS.IsEpochEnd() || step == numIterations-1 {
			batchLoss := shapes.ConvertTo[float64](metrics[0].Value())
			p, err := c.Predict(c.data.Validation)
			if err != nil {
				return errors.WithMessagef(err, "validation at step %d", step)
			}
			accuracy := p.Accuracy()
			improved := accuracy > bestAccuracy
			if improved {
				bestAccuracy = accuracy
				lastImprovement = step
				c.setBestAccuracy(accuracy)
				if c.checkpoint != nil {
					if err := c.checkpoint.Save(); err != nil {
						return err
					}
				}
			}
			c.History.Add(Evaluation{
				Step:               step,
				Epoch:              c.trainDS.Epochs(),
				TrainCost:          batchLoss,
				ValidationCost:     p.Cost,
				ValidationAccuracy: accuracy,
				Improved:           improved,
			})
			improvedStr := ""
			if improved {
				improvedStr = "*"
			}
			klog.Infof("Iteration: %d, Training Loss: %.4f, Validation Loss: %.4f, Validation Acc: %.4f %s",
				step+1, batchLoss, p.Cost, accuracy, improvedStr)
		}
		if step-lastImprovement > requireImprovement {
			return ErrEarlyStop
		}
		return nil
	})

	_, err = loop.RunSteps(c.trainDS, numIterations)
	if errors.Is(err, ErrEarlyStop) {
		klog.Infof("No improvement found in a while, stopping optimization at step %d", loop.LoopStep-loop.StartStep+1)
		err = nil
	}
	epochs = c.trainDS.Epochs()
	if err != nil {
		return epochs, lastImprovement, errors.WithMessage(err, "training failed")
	}
	if best, found := c.History.Best(); found {
		klog.Infof("Best validation accuracy %.4f at step %d (epoch %d)", best.ValidationAccuracy, best.Step+1, best.Epoch)
	}
	return epochs, lastImprovement, nil
}
