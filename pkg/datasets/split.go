// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Split holds the sets used for semi-supervised training.
type Split struct {
	Labeled, Unlabeled, Validation *Set
}

// SplitSemiSupervised shuffles the training set with rng and splits it into:
//
//   - Validation: the first numValidation shuffled examples;
//   - Labeled: nLabeled examples, balanced across the classes (the remainder of
//     nLabeled / NumClasses goes to the lowest classes);
//   - Unlabeled: all the other examples, with their labels kept only for reporting.
//
// If nLabeled covers all the non-validation examples, they are all merged into Labeled (the balanced
// selection first) and Unlabeled is empty.
func SplitSemiSupervised(train *Set, nLabeled, numValidation int, rng *rand.Rand) (*Split, error) {
	n := train.Len()
	if numValidation < 0 || numValidation >= n {
		return nil, errors.Errorf("invalid number of validation examples %d for %d examples", numValidation, n)
	}
	if nLabeled <= 0 || nLabeled > n-numValidation {
		return nil, errors.Errorf("invalid number of labeled examples %d for %d training examples",
			nLabeled, n-numValidation)
	}
	perm := rng.Perm(n)
	validationIdx := perm[:numValidation]
	rest := perm[numValidation:]

	quota := make([]int, train.NumClasses)
	for class := range quota {
		quota[class] = nLabeled / train.NumClasses
		if class < nLabeled%train.NumClasses {
			quota[class]++
		}
	}
	var labeledIdx, unlabeledIdx []int
	for _, idx := range rest {
		label := train.Labels[idx]
		if quota[label] > 0 {
			quota[label]--
			labeledIdx = append(labeledIdx, idx)
		} else {
			unlabeledIdx = append(unlabeledIdx, idx)
		}
	}
	labeled, unlabeled := Subset(train, labeledIdx), Subset(train, unlabeledIdx)
	if nLabeled == len(rest) {
		// Every example is labeled: the balanced selection comes first, followed by the rest.
		merged, err := Concat(labeled, unlabeled)
		if err != nil {
			return nil, err
		}
		return &Split{Labeled: merged, Unlabeled: Subset(train, []int{}), Validation: Subset(train, validationIdx)}, nil
	}
	for class, missing := range quota {
		if missing > 0 {
			return nil, errors.Errorf("not enough examples of class %d to select %d balanced labeled examples",
				class, nLabeled)
		}
	}
	return &Split{
		Labeled:    labeled,
		Unlabeled:  unlabeled,
		Validation: Subset(train, validationIdx),
	}, nil
}
