// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package semisupervised

import (
	"os"
	"path"

	"github.com/gomlx/ssdgm/pkg/datasets"
	"github.com/gomlx/ssdgm/ui/report"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the files written by TrainTest in the report directory.
const (
	ROCPlotFileName            = "roc.png"
	CostPlotFileName           = "cost.png"
	AccuracyPlotFileName       = "validation_accuracy.png"
	ReconstructionFileName     = "reconstructions.png"
	HTMLReportFileName         = "report.html"
	NumReconstructionsReported = 10
)

// TrainTest trains the model, restores the best one saved and evaluates it on the test set.
//
// If reportDir is not empty, the plots, the history and an HTML page with the results are written there.
func (c *Classifier) TrainTest(test *datasets.Set, reportDir string) (*Prediction, error) {
	epochs, lastImprovement, err := c.Train()
	if err != nil {
		return nil, err
	}
	klog.Infof("Training finished after %d epochs, last improvement at step %d", epochs, lastImprovement+1)
	if err = c.RestoreBest(); err != nil {
		return nil, err
	}
	p, err := c.Predict(test)
	if err != nil {
		return nil, errors.WithMessage(err, "evaluating test set")
	}
	accuracyReport := report.NewAccuracyReport(p.Predicted, p.Labels, p.NumClasses)
	klog.Infof("Test Accuracy: %.4f, Test Loss: %.4f\n%s", p.Accuracy(), p.Cost, accuracyReport.PlainTable())

	if dir := c.CheckpointDir(); dir != "" {
		if err = c.History.WriteCSV(path.Join(dir, HistoryFileName)); err != nil {
			return p, err
		}
	}
	if reportDir == "" {
		return p, nil
	}
	if err = c.writeReports(test, p, reportDir); err != nil {
		return p, err
	}
	klog.Infof("Reports written to %q", reportDir)
	return p, nil
}

func (c *Classifier) writeReports(test *datasets.Set, p *Prediction, reportDir string) error {
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create report directory %q", reportDir)
	}
	curves := report.ROC(p.Probabilities, p.Labels, p.NumClasses)
	klog.Infof("Test mean AUC: %.4f", report.MeanAUC(curves))
	best := c.History.BestIndex()
	training, validation := c.History.TrainCosts(), c.History.ValidationCosts()
	accuracies := c.History.ValidationAccuracies()

	if err := report.PlotROC(curves, path.Join(reportDir, ROCPlotFileName)); err != nil {
		return err
	}
	if err := report.PlotCost(training, validation, best, path.Join(reportDir, CostPlotFileName)); err != nil {
		return err
	}
	if err := report.PlotLine("validation accuracy", accuracies, best, path.Join(reportDir, AccuracyPlotFileName)); err != nil {
		return err
	}
	if err := report.WriteHTMLFile(path.Join(reportDir, HTMLReportFileName), "Run "+c.RunID,
		report.CostFigure(training, validation, best),
		report.LineFigure("validation accuracy", accuracies, best),
		report.ROCFigure(curves)); err != nil {
		return err
	}
	if err := c.History.WriteCSV(path.Join(reportDir, HistoryFileName)); err != nil {
		return err
	}

	side, isSquare := report.ImageSide(test.Dim)
	if test.IsGaussian() || !isSquare || test.Len() == 0 {
		return nil
	}
	n := min(NumReconstructionsReported, test.Len())
	reconstructions, err := c.Reconstruct(test, n)
	if err != nil {
		return err
	}
	grid, err := report.ReconstructionGrid(test.Mu[:n*test.Dim], reconstructions, n, side, side)
	if err != nil {
		return err
	}
	return report.SaveImage(grid, path.Join(reportDir, ReconstructionFileName))
}
