// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
)

// AccuracyReport holds the per-class accuracy and the confusion matrix of a classifier.
type AccuracyReport struct {
	NumClasses int

	// Confusion[label][predicted] is the number of examples of class label predicted as predicted.
	Confusion [][]int
}

// NewAccuracyReport counts the predictions against the labels.
// Predictions or labels outside [0, numClasses) are ignored.
func NewAccuracyReport(predicted, labels []int32, numClasses int) *AccuracyReport {
	r := &AccuracyReport{NumClasses: numClasses, Confusion: make([][]int, numClasses)}
	for ii := range r.Confusion {
		r.Confusion[ii] = make([]int, numClasses)
	}
	for ii, label := range labels {
		p := predicted[ii]
		if label < 0 || int(label) >= numClasses || p < 0 || int(p) >= numClasses {
			continue
		}
		r.Confusion[label][p]++
	}
	return r
}

// Count returns the number of examples of the class.
func (r *AccuracyReport) Count(class int) int {
	var total int
	for _, c := range r.Confusion[class] {
		total += c
	}
	return total
}

// Total number of examples.
func (r *AccuracyReport) Total() int {
	var total int
	for class := range r.NumClasses {
		total += r.Count(class)
	}
	return total
}

// Accuracy over all examples. It is 0 if there are no examples.
func (r *AccuracyReport) Accuracy() float64 {
	var correct int
	for class := range r.NumClasses {
		correct += r.Confusion[class][class]
	}
	total := r.Total()
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

// PerClass returns the accuracy (recall) of each class. Classes without examples get 0.
func (r *AccuracyReport) PerClass() []float64 {
	accuracies := make([]float64, r.NumClasses)
	for class := range r.NumClasses {
		if count := r.Count(class); count > 0 {
			accuracies[class] = float64(r.Confusion[class][class]) / float64(count)
		}
	}
	return accuracies
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle    = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
	evenRowStyle   = lipgloss.NewStyle().Faint(true).PaddingLeft(1).PaddingRight(1)
)

func newTable(renderer *lipgloss.Renderer, headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(renderer.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row == lgtable.HeaderRow:
				s = headerRowStyle.Renderer(renderer)
				return
			case row%2 == 0:
				s = oddRowStyle.Renderer(renderer)
			default:
				s = evenRowStyle.Renderer(renderer)
			}
			if col > 0 {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}

func (r *AccuracyReport) tables(renderer *lipgloss.Renderer) (accuracy, confusion *lgtable.Table) {
	accuracy = newTable(renderer, "Class", "Examples", "Accuracy")
	perClass := r.PerClass()
	for class := range r.NumClasses {
		accuracy.Row(strconv.Itoa(class), humanize.Comma(int64(r.Count(class))), fmt.Sprintf("%.2f%%", 100*perClass[class]))
	}
	accuracy.Row("all", humanize.Comma(int64(r.Total())), fmt.Sprintf("%.2f%%", 100*r.Accuracy()))

	headers := []string{"Label \\ Predicted"}
	for class := range r.NumClasses {
		headers = append(headers, strconv.Itoa(class))
	}
	confusion = newTable(renderer, headers...)
	for class := range r.NumClasses {
		row := []string{strconv.Itoa(class)}
		for _, count := range r.Confusion[class] {
			row = append(row, humanize.Comma(int64(count)))
		}
		confusion.Row(row...)
	}
	return
}

// Table renders the accuracy and the confusion tables for the terminal.
func (r *AccuracyReport) Table() string {
	accuracy, confusion := r.tables(lipgloss.DefaultRenderer())
	return accuracy.String() + "\n" + confusion.String()
}

// PlainTable renders the tables without colors or styles, suitable for log files.
func (r *AccuracyReport) PlainTable() string {
	renderer := lipgloss.NewRenderer(io.Discard)
	renderer.SetColorProfile(termenv.Ascii)
	accuracy, confusion := r.tables(renderer)
	return accuracy.String() + "\n" + confusion.String()
}
