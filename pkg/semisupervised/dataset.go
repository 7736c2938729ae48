// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package semisupervised

import (
	"fmt"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mldatasets "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/ssdgm/pkg/datasets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Dataset yields, at every step, one labeled and (optionally) one unlabeled mini-batch.
//
// Each set is read by its own stream, that wraps around at the end of the set, so the dataset
// never ends. Epochs are counted in steps: an epoch is stepsPerEpoch steps.
//
// The yielded inputs are the labeled observation (mu and, for Gaussian sets, logvar), the labels,
// and the unlabeled observation. The labels are also yielded as the labels of the batch.
type Dataset struct {
	name                       string
	labeled, unlabeled         *mldatasets.InMemoryDataset
	numLabeled, numUnlabeled   int
	numLabBatch, numUnlabBatch int
	stepsPerEpoch              int
	step                       int
}

var _ train.Dataset = (*Dataset)(nil)

// NewDataset creates a Dataset. If unlabeled is nil or numUnlabBatch is 0, only labeled batches are yielded.
func NewDataset(backend backends.Backend, name string, labeled, unlabeled *datasets.Set,
	numLabBatch, numUnlabBatch, stepsPerEpoch int) (ds *Dataset, err error) {
	if numUnlabBatch == 0 || (unlabeled != nil && unlabeled.Len() == 0) {
		unlabeled = nil
	}
	ds = &Dataset{
		name:          name,
		numLabeled:    labeled.Len(),
		numLabBatch:   numLabBatch,
		numUnlabBatch: numUnlabBatch,
		stepsPerEpoch: stepsPerEpoch,
	}
	ds.labeled, err = newStream(backend, name+"-labeled", labeled, numLabBatch)
	if err != nil {
		return nil, err
	}
	if unlabeled != nil {
		ds.numUnlabeled = unlabeled.Len()
		ds.unlabeled, err = newStream(backend, name+"-unlabeled", unlabeled, numUnlabBatch)
		if err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// newStream returns an infinite in-memory dataset yielding batches of batchSize consecutive examples
// of set, wrapping around at its end.
//
// The stream holds the set repeated until its length is a multiple of batchSize, so batches
// crossing the end of the set are never dropped.
func newStream(backend backends.Backend, name string, set *datasets.Set, batchSize int) (*mldatasets.InMemoryDataset, error) {
	n := set.Len()
	if n == 0 || batchSize <= 0 {
		return nil, errors.Errorf("dataset %q: can't yield batches of %d from %d examples", name, batchSize, n)
	}
	length := n * (batchSize / gcd(n, batchSize))
	if length > n {
		klog.V(1).Infof("Dataset %q: %d examples repeated %d times for batches of %d", name, n, length/n, batchSize)
	}
	indices := make([]int, length)
	for ii := range indices {
		indices[ii] = ii % n
	}
	mu, logvar, labels := set.BatchTensors(indices)
	inputs := []any{mu}
	if logvar != nil {
		inputs = append(inputs, logvar)
	}
	mds, err := mldatasets.InMemoryFromData(backend, name, inputs, []any{labels})
	if err != nil {
		return nil, errors.WithMessagef(err, "creating stream %q", name)
	}
	return mds.BatchSize(batchSize, true).Infinite(true), nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset. It restarts the streams and the epoch count.
func (ds *Dataset) Reset() {
	ds.labeled.Reset()
	if ds.unlabeled != nil {
		ds.unlabeled.Reset()
	}
	ds.step = 0
}

// WithUnlabeled returns whether the dataset yields unlabeled batches.
func (ds *Dataset) WithUnlabeled() bool { return ds.unlabeled != nil }

// Epochs returns the number of completed epochs.
func (ds *Dataset) Epochs() int { return ds.step / ds.stepsPerEpoch }

// IsEpochEnd returns whether the last yielded batch completed an epoch.
func (ds *Dataset) IsEpochEnd() bool { return ds.step > 0 && ds.step%ds.stepsPerEpoch == 0 }

// String implements fmt.Stringer.
func (ds *Dataset) String() string {
	return fmt.Sprintf("Dataset %q: %d labeled per batch from %d, %d unlabeled per batch from %d",
		ds.name, ds.numLabBatch, ds.numLabeled, ds.numUnlabBatch, ds.numUnlabeled)
}

// Yield implements train.Dataset. It never returns io.EOF.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	_, observation, streamLabels, err := ds.labeled.Yield()
	if err != nil {
		return nil, nil, nil, errors.WithMessagef(err, "dataset %q", ds.name)
	}
	yLab := streamLabels[0]
	inputs = append(inputs, observation...)
	inputs = append(inputs, yLab)
	if ds.unlabeled != nil {
		_, observation, _, err = ds.unlabeled.Yield()
		if err != nil {
			return nil, nil, nil, errors.WithMessagef(err, "dataset %q", ds.name)
		}
		inputs = append(inputs, observation...)
	}
	// The labels tensor is finalized by the loop after use, so it can't be shared with inputs.
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(tensors.CopyFlatData[int32](yLab), ds.numLabBatch, 1)}
	ds.step++
	return nil, inputs, labels, nil
}
