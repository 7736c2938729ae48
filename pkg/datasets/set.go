// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets loads the data used by the semi-supervised models, and splits it into the
// labeled, unlabeled and validation sets.
//
// Two sources are supported: the MNIST digits in their original IDX format (raw pixels scaled
// to [0, 1]), and Gaussian encodings (mean and log-variance) produced by a pre-trained M1 model,
// stored in a MATLAB ".mat" file.
package datasets

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Set is an in-memory set of examples.
//
// Mu holds the features, flat in row-major order (`Len() * Dim` values). LogVar is nil for raw
// features, or holds the log-variances of Gaussian encoded features, in the same layout as Mu.
type Set struct {
	Mu, LogVar []float32
	Labels     []int32
	Dim        int
	NumClasses int
}

// NewSet returns a Set after checking that the dimensions are consistent.
func NewSet(mu, logvar []float32, labels []int32, dim, numClasses int) (*Set, error) {
	s := &Set{Mu: mu, LogVar: logvar, Labels: labels, Dim: dim, NumClasses: numClasses}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the consistency of the dimensions and labels of the set.
func (s *Set) Validate() error {
	if s.Dim <= 0 {
		return errors.Errorf("invalid feature dimension %d", s.Dim)
	}
	if s.NumClasses < 2 {
		return errors.Errorf("invalid number of classes %d", s.NumClasses)
	}
	if len(s.Mu) != len(s.Labels)*s.Dim {
		return errors.Errorf("features have %d values, expected %d examples x %d dimensions",
			len(s.Mu), len(s.Labels), s.Dim)
	}
	if s.LogVar != nil && len(s.LogVar) != len(s.Mu) {
		return errors.Errorf("log-variances have %d values, features have %d", len(s.LogVar), len(s.Mu))
	}
	for ii, label := range s.Labels {
		if label < 0 || int(label) >= s.NumClasses {
			return errors.Errorf("example #%d has label %d, expected it in [0, %d)", ii, label, s.NumClasses)
		}
	}
	return nil
}

// Len returns the number of examples.
func (s *Set) Len() int { return len(s.Labels) }

// IsGaussian returns whether the features are Gaussian encodings, with log-variances.
func (s *Set) IsGaussian() bool { return s.LogVar != nil }

// String implements fmt.Stringer.
func (s *Set) String() string {
	kind := "raw"
	if s.IsGaussian() {
		kind = "gaussian"
	}
	return fmt.Sprintf("Set{%d examples, dim=%d, %s, %d classes}", s.Len(), s.Dim, kind, s.NumClasses)
}

// Example returns the features (and log-variances, if any) of the example idx.
// The returned slices share the storage of the set.
func (s *Set) Example(idx int) (mu, logvar []float32) {
	start, end := idx*s.Dim, (idx+1)*s.Dim
	mu = s.Mu[start:end]
	if s.LogVar != nil {
		logvar = s.LogVar[start:end]
	}
	return
}

// Subset returns a new set with copies of the selected examples, in the given order.
func Subset[I constraints.Integer](s *Set, indices []I) *Set {
	sub := &Set{
		Mu:         make([]float32, 0, len(indices)*s.Dim),
		Labels:     make([]int32, 0, len(indices)),
		Dim:        s.Dim,
		NumClasses: s.NumClasses,
	}
	if s.LogVar != nil {
		sub.LogVar = make([]float32, 0, len(indices)*s.Dim)
	}
	for _, idx := range indices {
		if int(idx) < 0 || int(idx) >= s.Len() {
			exceptions.Panicf("datasets.Subset: index %d out of range for %s", idx, s)
		}
		mu, logvar := s.Example(int(idx))
		sub.Mu = append(sub.Mu, mu...)
		if s.LogVar != nil {
			sub.LogVar = append(sub.LogVar, logvar...)
		}
		sub.Labels = append(sub.Labels, s.Labels[idx])
	}
	return sub
}

// Concat returns a new set with the examples of s followed by the examples of the others.
// All sets must have the same dimension, number of classes and kind of features.
func Concat(s *Set, others ...*Set) (*Set, error) {
	result := Subset(s, []int{})
	for _, other := range append([]*Set{s}, others...) {
		if other.Dim != s.Dim || other.NumClasses != s.NumClasses || other.IsGaussian() != s.IsGaussian() {
			return nil, errors.Errorf("cannot concatenate %s with %s", s, other)
		}
		result.Mu = append(result.Mu, other.Mu...)
		if s.IsGaussian() {
			result.LogVar = append(result.LogVar, other.LogVar...)
		}
		result.Labels = append(result.Labels, other.Labels...)
	}
	return result, nil
}

// Binarize sets raw features to 1 if they are above the threshold and 0 otherwise.
// It panics for Gaussian encoded sets.
func (s *Set) Binarize(threshold float32) {
	if s.IsGaussian() {
		exceptions.Panicf("datasets.Binarize: cannot binarize Gaussian encoded %s", s)
	}
	for ii, v := range s.Mu {
		if v > threshold {
			s.Mu[ii] = 1
		} else {
			s.Mu[ii] = 0
		}
	}
}

// ClassCounts returns the number of examples of each class.
func (s *Set) ClassCounts() []int {
	counts := make([]int, s.NumClasses)
	for _, label := range s.Labels {
		counts[label]++
	}
	return counts
}

// BatchTensors returns the tensors for the examples at the given indices:
//
//   - mu: features shaped `[len(indices), Dim]`;
//   - logvar: shaped like mu, or nil if the set is not Gaussian;
//   - labels: int32 shaped `[len(indices), 1]`.
//
// The examples wrap around: index Len() is the example 0.
func (s *Set) BatchTensors(indices []int) (mu, logvar, labels *tensors.Tensor) {
	n := s.Len()
	muData := make([]float32, 0, len(indices)*s.Dim)
	var logvarData []float32
	if s.IsGaussian() {
		logvarData = make([]float32, 0, len(indices)*s.Dim)
	}
	labelsData := make([]int32, 0, len(indices))
	for _, idx := range indices {
		idx %= n
		exampleMu, exampleLogVar := s.Example(idx)
		muData = append(muData, exampleMu...)
		if logvarData != nil {
			logvarData = append(logvarData, exampleLogVar...)
		}
		labelsData = append(labelsData, s.Labels[idx])
	}
	mu = tensors.FromFlatDataAndDimensions(muData, len(indices), s.Dim)
	if logvarData != nil {
		logvar = tensors.FromFlatDataAndDimensions(logvarData, len(indices), s.Dim)
	}
	labels = tensors.FromFlatDataAndDimensions(labelsData, len(indices), 1)
	return
}
