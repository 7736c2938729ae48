// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package report renders the evaluation of a classifier: ROC curves, training curves, reconstruction
// images and the test accuracy, as PNG images, an HTML page and text tables.
package report

import (
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ROCCurve is the one-vs-rest ROC curve of a class.
type ROCCurve struct {
	Class int

	// FPR and TPR are the false and true positive rates, in increasing order of FPR.
	FPR, TPR []float64

	// AUC is the area under the curve. It is NaN if the class has no positive or no negative examples.
	AUC float64
}

// ROC returns the one-vs-rest ROC curve of every class.
//
// probabilities are flat `[numExamples, numClasses]`, labels are the true classes.
func ROC(probabilities []float32, labels []int32, numClasses int) []ROCCurve {
	curves := make([]ROCCurve, numClasses)
	n := len(labels)
	for class := range numClasses {
		scores := make([]float64, n)
		positives := make([]bool, n)
		var numPositives int
		for ii, label := range labels {
			scores[ii] = float64(probabilities[ii*numClasses+class])
			positives[ii] = int(label) == class
			if positives[ii] {
				numPositives++
			}
		}
		curves[class].Class = class
		if numPositives == 0 || numPositives == n {
			curves[class].AUC = math.NaN()
			continue
		}
		stat.SortWeightedLabeled(scores, positives, nil)
		tpr, fpr, _ := stat.ROC(nil, scores, positives, nil)
		curves[class].TPR, curves[class].FPR = tpr, fpr
		curves[class].AUC = integrate.Trapezoidal(fpr, tpr)
	}
	return curves
}

// MeanAUC returns the mean of the AUC of the curves, ignoring the undefined ones.
func MeanAUC(curves []ROCCurve) float64 {
	aucs := make([]float64, 0, len(curves))
	for _, c := range curves {
		if !math.IsNaN(c.AUC) {
			aucs = append(aucs, c.AUC)
		}
	}
	if len(aucs) == 0 {
		return math.NaN()
	}
	return stat.Mean(aucs, nil)
}
