// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"

	grob "github.com/MetalBlueberry/go-plotly/generated/v2.34.0/graph_objects"
	ptypes "github.com/MetalBlueberry/go-plotly/pkg/types"
	"github.com/pkg/errors"
)

// PlotlySrc is the URL of the Plotly library used by the HTML page.
var PlotlySrc = "https://cdn.plot.ly/plotly-2.34.0.min.js"

func newFigure(title, xTitle, yTitle string) *grob.Fig {
	return &grob.Fig{
		Layout: &grob.Layout{
			Title: &grob.LayoutTitle{Text: ptypes.S(title)},
			Xaxis: &grob.LayoutXaxis{
				Showgrid: ptypes.B(true),
				Title:    &grob.LayoutXaxisTitle{Text: ptypes.S(xTitle)},
			},
			Yaxis: &grob.LayoutYaxis{
				Showgrid: ptypes.B(true),
				Title:    &grob.LayoutYaxisTitle{Text: ptypes.S(yTitle)},
			},
			Legend: &grob.LayoutLegend{},
		},
	}
}

func lineTrace(name string, x, y []float64) *grob.Scatter {
	return &grob.Scatter{
		Name: ptypes.S(name),
		Line: &grob.ScatterLine{Shape: grob.ScatterLineShapeLinear},
		Mode: "lines+markers",
		X:    ptypes.DataArray(x),
		Y:    ptypes.DataArray(y),
	}
}

func evaluationIndices(n int) []float64 {
	indices := make([]float64, n)
	for ii := range indices {
		indices[ii] = float64(ii)
	}
	return indices
}

func bestTrace(values []float64, best int) *grob.Scatter {
	if best < 0 || best >= len(values) {
		return nil
	}
	return &grob.Scatter{
		Name: ptypes.S(fmt.Sprintf("best (#%d)", best)),
		Mode: "markers",
		X:    ptypes.DataArray([]float64{float64(best)}),
		Y:    ptypes.DataArray([]float64{values[best]}),
	}
}

// CostFigure is the Plotly version of PlotCost.
func CostFigure(training, validation []float64, best int) *grob.Fig {
	fig := newFigure("Cost", "evaluation", "cost")
	fig.Data = append(fig.Data,
		lineTrace("training", evaluationIndices(len(training)), training),
		lineTrace("validation", evaluationIndices(len(validation)), validation))
	if marker := bestTrace(validation, best); marker != nil {
		fig.Data = append(fig.Data, marker)
	}
	return fig
}

// LineFigure is the Plotly version of PlotLine.
func LineFigure(name string, values []float64, best int) *grob.Fig {
	fig := newFigure(name, "evaluation", name)
	fig.Data = append(fig.Data, lineTrace(name, evaluationIndices(len(values)), values))
	if marker := bestTrace(values, best); marker != nil {
		fig.Data = append(fig.Data, marker)
	}
	return fig
}

// ROCFigure is the Plotly version of PlotROC.
func ROCFigure(curves []ROCCurve) *grob.Fig {
	fig := newFigure(fmt.Sprintf("ROC (mean AUC %.4f)", MeanAUC(curves)), "false positive rate", "true positive rate")
	for _, c := range curves {
		if len(c.FPR) == 0 {
			continue
		}
		fig.Data = append(fig.Data, &grob.Scatter{
			Name: ptypes.S(fmt.Sprintf("class %d (AUC %.3f)", c.Class, c.AUC)),
			Mode: "lines",
			X:    ptypes.DataArray(c.FPR),
			Y:    ptypes.DataArray(c.TPR),
		})
	}
	return fig
}

var (
	singleFileHTML = `<!DOCTYPE html>
<html>
	<head>
		<meta charset="utf-8">
		<title>{{ .Title }}</title>
		<script src="{{ .CDN }}"></script>
	</head>
	<body>
		<h2>{{ .Title }}</h2>
{{- range $i, $f := .Figures }}
		<div id="plot{{ $i }}"></div>
{{- end }}
	<script>
{{- range $i, $f := .Figures }}
		data = JSON.parse(atob('{{ $f }}'))
		Plotly.newPlot('plot{{ $i }}', data);
{{- end }}
	</script>
	</body>
</html>`
	singleFileHTMLTmpl = template.Must(template.New("plotly").Parse(singleFileHTML))
)

// WriteHTML renders the figures to a self-contained HTML page. The Plotly library is loaded from PlotlySrc.
func WriteHTML(w io.Writer, title string, figures ...*grob.Fig) error {
	data := &struct {
		Title   string
		CDN     string
		Figures []string
	}{Title: title, CDN: PlotlySrc}
	for ii, fig := range figures {
		figAsJSON, err := json.Marshal(fig)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal plotly figure #%d", ii)
		}
		data.Figures = append(data.Figures, base64.StdEncoding.EncodeToString(figAsJSON))
	}
	if err := singleFileHTMLTmpl.Execute(w, data); err != nil {
		return errors.Wrap(err, "failed to render plotly")
	}
	return nil
}

// WriteHTMLFile is like WriteHTML, but writes to a file.
func WriteHTMLFile(filePath, title string, figures ...*grob.Fig) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %q", filePath)
	}
	if err = WriteHTML(f, title, figures...); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to close %q", filePath)
}
