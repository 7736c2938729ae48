// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// ssdgm trains a semi-supervised deep generative classifier on MNIST, or on M1 encodings of it,
// and reports its accuracy on the test set.
//
// Hyperparameters are set with -set, e.g.:
//
//	ssdgm -data=~/work/mnist -download -set="model=adgm;n_labeled=100;alpha=0.1"
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"path"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/ssdgm/pkg/datasets"
	"github.com/gomlx/ssdgm/pkg/semisupervised"
	"github.com/gomlx/ssdgm/ui/report"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDataDir   = flag.String("data", "~/work/mnist", "Directory with the MNIST files.")
	flagDownload  = flag.Bool("download", false, "Download MNIST to -data, if not there yet.")
	flagM1        = flag.String("m1", "", "Directory with the M1 encodings (train.mat and test.mat). If set, they are used instead of the raw MNIST pixels.")
	flagM1Dim     = flag.Int("m1_dim", 50, "Dimension of the M1 encodings.")
	flagBinarize  = flag.Bool("binarize", false, "Binarize the MNIST pixels with threshold 0.5.")
	flagReports   = flag.String("reports", "reports", "Directory where to write the test reports. If empty, no reports are written.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

func main() {
	ctx := semisupervised.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	if *flagVerbosity >= 1 {
		fmt.Println(commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}

	must.M(semisupervised.ConfigureGPUMemoryFraction(ctx))
	backend := backends.MustNew()
	klog.V(1).Infof("Backend: %s", backend.Description())

	train, test := loadData()
	rng := rand.New(rand.NewSource(int64(context.GetParamOr(ctx, semisupervised.ParamSeed, 0))))
	split := must.M1(datasets.SplitSemiSupervised(train,
		context.GetParamOr(ctx, semisupervised.ParamNumLabeled, 100),
		context.GetParamOr(ctx, semisupervised.ParamNumValidation, 10_000), rng))
	if *flagVerbosity >= 2 {
		fmt.Printf("Labeled: %s\nUnlabeled: %s\nValidation: %s\nTest: %s\n",
			split.Labeled, split.Unlabeled, split.Validation, test)
	}

	classifier, err := semisupervised.New(backend, ctx, split)
	if err != nil {
		klog.Fatalf("Failed to create classifier: %+v", err)
	}
	classifier.ShowProgressBar = *flagVerbosity >= 1
	p, err := classifier.TrainTest(test, *flagReports)
	if closeErr := classifier.Close(); closeErr != nil {
		klog.Errorf("Failed to close classifier: %+v", closeErr)
	}
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
	fmt.Println(report.NewAccuracyReport(p.Predicted, p.Labels, p.NumClasses).Table())
	fmt.Printf("Test accuracy: %.2f%%\n", 100*p.Accuracy())
}

// loadData returns the train and test sets selected by the flags.
func loadData() (train, test *datasets.Set) {
	if *flagM1 != "" {
		train = must.M1(datasets.LoadM1(path.Join(*flagM1, "train.mat"), *flagM1Dim, datasets.MNISTNumClasses))
		test = must.M1(datasets.LoadM1(path.Join(*flagM1, "test.mat"), *flagM1Dim, datasets.MNISTNumClasses))
		return
	}
	if *flagDownload {
		must.M(datasets.DownloadMNIST(*flagDataDir))
	}
	train = must.M1(datasets.LoadMNIST(*flagDataDir, "train"))
	test = must.M1(datasets.LoadMNIST(*flagDataDir, "test"))
	if *flagBinarize {
		train.Binarize(0.5)
		test.Binarize(0.5)
	}
	return
}
