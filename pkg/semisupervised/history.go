// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package semisupervised

import (
	"os"
	"path"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/ui/plots"
	"github.com/pkg/errors"
)

// HistoryFileName is the name of the CSV file with the history, saved in the checkpoint directory.
const HistoryFileName = "history.csv"

// Evaluation is one validation of the model during training.
type Evaluation struct {
	Step, Epoch        int
	TrainCost          float64
	ValidationCost     float64
	ValidationAccuracy float64
	Improved           bool
}

// History of the validations of a training run.
//
// If attached to a directory (see AttachPlotPoints), every evaluation is also written as GoMLX plot
// points, which can be displayed with the gomlx_checkpoints tool.
type History struct {
	RunID       string
	Evaluations []Evaluation

	pointWriter chan<- plots.Point
	errReport   <-chan error
}

// NewHistory creates an empty history for the run.
func NewHistory(runID string) *History {
	return &History{RunID: runID}
}

// AttachPlotPoints writes the plot points of the following evaluations to dir.
func (h *History) AttachPlotPoints(dir string) {
	h.pointWriter, h.errReport = plots.CreatePointsWriter(path.Join(dir, plots.TrainingPlotFileName))
}

// Add an evaluation.
func (h *History) Add(e Evaluation) {
	h.Evaluations = append(h.Evaluations, e)
	if h.pointWriter == nil {
		return
	}
	step := float64(e.Step)
	h.pointWriter <- plots.Point{MetricName: "Train: cost", Short: "Train/cost", MetricType: "cost", Step: step, Value: e.TrainCost}
	h.pointWriter <- plots.Point{MetricName: "Validation: cost", Short: "Valid/cost", MetricType: "cost", Step: step, Value: e.ValidationCost}
	h.pointWriter <- plots.Point{MetricName: "Validation: accuracy", Short: "Valid/acc", MetricType: "accuracy", Step: step, Value: e.ValidationAccuracy}
}

// Close the plot points file, if one is attached.
func (h *History) Close() error {
	if h.pointWriter == nil {
		return nil
	}
	close(h.pointWriter)
	h.pointWriter = nil
	return <-h.errReport
}

// Best returns the evaluation with the highest validation accuracy, the first one in case of ties.
func (h *History) Best() (best Evaluation, found bool) {
	idx := h.BestIndex()
	if idx < 0 {
		return
	}
	return h.Evaluations[idx], true
}

// BestIndex returns the index of the Best evaluation, or -1 if there are none.
func (h *History) BestIndex() int {
	best := -1
	for ii, e := range h.Evaluations {
		if best < 0 || e.ValidationAccuracy > h.Evaluations[best].ValidationAccuracy {
			best = ii
		}
	}
	return best
}

// TrainCosts returns the training cost of every evaluation.
func (h *History) TrainCosts() []float64 {
	return h.column(func(e Evaluation) float64 { return e.TrainCost })
}

// ValidationCosts returns the validation cost of every evaluation.
func (h *History) ValidationCosts() []float64 {
	return h.column(func(e Evaluation) float64 { return e.ValidationCost })
}

// ValidationAccuracies returns the validation accuracy of every evaluation.
func (h *History) ValidationAccuracies() []float64 {
	return h.column(func(e Evaluation) float64 { return e.ValidationAccuracy })
}

func (h *History) column(fn func(e Evaluation) float64) []float64 {
	values := make([]float64, len(h.Evaluations))
	for ii, e := range h.Evaluations {
		values[ii] = fn(e)
	}
	return values
}

// DataFrame returns the history as a gota DataFrame, one row per evaluation.
func (h *History) DataFrame() dataframe.DataFrame {
	n := len(h.Evaluations)
	runIDs := make([]string, n)
	steps := make([]int, n)
	epochs := make([]int, n)
	improved := make([]bool, n)
	for ii, e := range h.Evaluations {
		runIDs[ii] = h.RunID
		steps[ii] = e.Step
		epochs[ii] = e.Epoch
		improved[ii] = e.Improved
	}
	return dataframe.New(
		series.New(runIDs, series.String, "run_id"),
		series.New(steps, series.Int, "step"),
		series.New(epochs, series.Int, "epoch"),
		series.New(h.TrainCosts(), series.Float, "train_cost"),
		series.New(h.ValidationCosts(), series.Float, "validation_cost"),
		series.New(h.ValidationAccuracies(), series.Float, "validation_accuracy"),
		series.New(improved, series.Bool, "improved"),
	)
}

// WriteCSV writes the history to filePath.
func (h *History) WriteCSV(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create history file %q", filePath)
	}
	if err = h.DataFrame().WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write history to %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close history file %q", filePath)
}

// LoadHistoryCSV reads a history written by WriteCSV.
func LoadHistoryCSV(filePath string) (*History, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open history file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f, dataframe.WithTypes(map[string]series.Type{
		"run_id":   series.String,
		"step":     series.Int,
		"epoch":    series.Int,
		"improved": series.Bool,

		"train_cost":          series.Float,
		"validation_cost":     series.Float,
		"validation_accuracy": series.Float,
	}))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "failed to parse history file %q", filePath)
	}
	steps, err := df.Col("step").Int()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid steps in history file %q", filePath)
	}
	epochs, err := df.Col("epoch").Int()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid epochs in history file %q", filePath)
	}
	improved, err := df.Col("improved").Bool()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid improvement flags in history file %q", filePath)
	}
	trainCosts := df.Col("train_cost").Float()
	validationCosts := df.Col("validation_cost").Float()
	validationAccuracies := df.Col("validation_accuracy").Float()

	h := &History{Evaluations: make([]Evaluation, df.Nrow())}
	if df.Nrow() > 0 {
		h.RunID = df.Col("run_id").Records()[0]
	}
	for ii := range h.Evaluations {
		h.Evaluations[ii] = Evaluation{
			Step:               steps[ii],
			Epoch:              epochs[ii],
			TrainCost:          trainCosts[ii],
			ValidationCost:     validationCosts[ii],
			ValidationAccuracy: validationAccuracies[ii],
			Improved:           improved[ii],
		}
	}
	return h, nil
}
