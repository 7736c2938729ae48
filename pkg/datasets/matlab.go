// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"os"

	"github.com/daniellowtw/matlab"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the variables in the MATLAB file with the M1 encodings.
const (
	M1MuVar     = "mu"
	M1LogVarVar = "logvar"
	M1LabelsVar = "y"
)

// LoadM1 reads the Gaussian encodings of a pre-trained M1 model from a MATLAB ".mat" file.
//
// The file must hold the matrices "mu" and "logvar", shaped `[N, latentDim]`, and the labels "y",
// either as `N` class indices or as one-hot rows shaped `[N, numClasses]`. MATLAB stores matrices in
// column-major order, they are converted to the row-major layout of Set.
func LoadM1(filePath string, latentDim, numClasses int) (*Set, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open M1 encodings file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	matlabFile, err := matlab.NewFileFromReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse M1 encodings file %q", filePath)
	}

	values := make(map[string][]float64, 3)
	for _, name := range []string{M1MuVar, M1LogVarVar, M1LabelsVar} {
		v, found := matlabFile.GetVar(name)
		if !found {
			return nil, errors.Errorf("variable %q not found in Matlab file %q", name, filePath)
		}
		values[name], err = toFloat64s(v.Value())
		if err != nil {
			return nil, errors.WithMessagef(err, "variable %q in %q", name, filePath)
		}
	}

	if latentDim <= 0 || len(values[M1MuVar])%latentDim != 0 {
		return nil, errors.Errorf("%q has %d values, not a multiple of the latent dimension %d",
			M1MuVar, len(values[M1MuVar]), latentDim)
	}
	n := len(values[M1MuVar]) / latentDim
	if len(values[M1LogVarVar]) != len(values[M1MuVar]) {
		return nil, errors.Errorf("%q has %d values, but %q has %d",
			M1LogVarVar, len(values[M1LogVarVar]), M1MuVar, len(values[M1MuVar]))
	}
	labels, err := m1Labels(values[M1LabelsVar], n, numClasses)
	if err != nil {
		return nil, errors.WithMessagef(err, "in %q", filePath)
	}
	set, err := NewSet(
		columnToRowMajor(values[M1MuVar], n, latentDim),
		columnToRowMajor(values[M1LogVarVar], n, latentDim),
		labels, latentDim, numClasses)
	if err != nil {
		return nil, errors.WithMessagef(err, "M1 encodings in %q", filePath)
	}
	klog.V(1).Infof("Loaded M1 encodings from %q: %s", filePath, set)
	return set, nil
}

func toFloat64s(values []interface{}) ([]float64, error) {
	result := make([]float64, len(values))
	for ii, value := range values {
		switch v := value.(type) {
		case float64:
			result[ii] = v
		case float32:
			result[ii] = float64(v)
		case uint8:
			result[ii] = float64(v)
		case int32:
			result[ii] = float64(v)
		case int64:
			result[ii] = float64(v)
		default:
			return nil, errors.Errorf("unsupported value type %T at position %d", value, ii)
		}
	}
	return result, nil
}

// columnToRowMajor converts a column-major `[rows, cols]` matrix to row-major float32.
func columnToRowMajor(values []float64, rows, cols int) []float32 {
	result := make([]float32, rows*cols)
	for col := 0; col < cols; col++ {
		for row := 0; row < rows; row++ {
			result[row*cols+col] = float32(values[col*rows+row])
		}
	}
	return result
}

// m1Labels converts either class indices or column-major one-hot rows to class indices.
func m1Labels(values []float64, n, numClasses int) ([]int32, error) {
	labels := make([]int32, n)
	switch len(values) {
	case n:
		for ii, v := range values {
			labels[ii] = int32(v)
		}
	case n * numClasses:
		for row := 0; row < n; row++ {
			labels[row] = -1
			for class := 0; class < numClasses; class++ {
				if values[class*n+row] > 0.5 {
					labels[row] = int32(class)
					break
				}
			}
			if labels[row] < 0 {
				return nil, errors.Errorf("one-hot labels of example #%d has no class set", row)
			}
		}
	default:
		return nil, errors.Errorf("%q has %d values, expected %d class indices or %d x %d one-hot labels",
			M1LabelsVar, len(values), n, n, numClasses)
	}
	return labels, nil
}
