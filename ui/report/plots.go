// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Dimensions of the PNG plots.
var (
	PlotWidth  = 8 * vg.Inch
	PlotHeight = 6 * vg.Inch
)

// indexedXYs returns the points (i, values[i]).
func indexedXYs(values []float64) plotter.XYs {
	xys := make(plotter.XYs, len(values))
	for ii, v := range values {
		xys[ii].X = float64(ii)
		xys[ii].Y = v
	}
	return xys
}

// addBestMarker marks the point (best, values[best]), if best is a valid index.
func addBestMarker(p *plot.Plot, values []float64, best int) error {
	if best < 0 || best >= len(values) {
		return nil
	}
	marker, err := plotter.NewScatter(plotter.XYs{{X: float64(best), Y: values[best]}})
	if err != nil {
		return err
	}
	marker.GlyphStyle.Shape = draw.CrossGlyph{}
	marker.GlyphStyle.Radius = vg.Points(6)
	marker.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
	p.Add(marker)
	p.Legend.Add(fmt.Sprintf("best (#%d)", best), marker)
	return nil
}

func savePlot(p *plot.Plot, filePath string) error {
	if err := p.Save(PlotWidth, PlotHeight, filePath); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", filePath)
	}
	return nil
}

// PlotCost saves to filePath the training and validation costs at each evaluation, marking the best one.
func PlotCost(training, validation []float64, best int, filePath string) error {
	p := plot.New()
	p.Title.Text = "Cost"
	p.X.Label.Text = "evaluation"
	p.Y.Label.Text = "cost"
	if err := plotutil.AddLinePoints(p, "training", indexedXYs(training), "validation", indexedXYs(validation)); err != nil {
		return errors.Wrap(err, "failed to plot costs")
	}
	if err := addBestMarker(p, validation, best); err != nil {
		return err
	}
	return savePlot(p, filePath)
}

// PlotLine saves to filePath the values at each evaluation, marking the best one.
func PlotLine(name string, values []float64, best int, filePath string) error {
	p := plot.New()
	p.Title.Text = name
	p.X.Label.Text = "evaluation"
	p.Y.Label.Text = name
	if err := plotutil.AddLinePoints(p, name, indexedXYs(values)); err != nil {
		return errors.Wrapf(err, "failed to plot %q", name)
	}
	if err := addBestMarker(p, values, best); err != nil {
		return err
	}
	return savePlot(p, filePath)
}

// PlotROC saves the ROC curves to filePath, with the AUC of each class in the legend.
func PlotROC(curves []ROCCurve, filePath string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("ROC (mean AUC %.4f)", MeanAUC(curves))
	p.X.Label.Text = "false positive rate"
	p.Y.Label.Text = "true positive rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	var lines []any
	for _, c := range curves {
		if len(c.FPR) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(c.FPR))
		for ii := range c.FPR {
			xys[ii].X, xys[ii].Y = c.FPR[ii], c.TPR[ii]
		}
		lines = append(lines, fmt.Sprintf("class %d (AUC %.3f)", c.Class, c.AUC), xys)
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return errors.Wrap(err, "failed to plot ROC curves")
	}
	diagonal, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return err
	}
	diagonal.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	diagonal.LineStyle.Color = color.Gray{Y: 128}
	p.Add(diagonal)
	return savePlot(p, filePath)
}
