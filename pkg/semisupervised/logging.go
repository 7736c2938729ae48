// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package semisupervised

import (
	"io"
	"os"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ConfigureLogFile truncates (or creates) the log file at filePath and sends the klog output to it,
// mirrored to stderr.
//
// The returned function flushes klog, closes the file and restores logging to stderr only.
// If filePath is empty, nothing is changed and the returned function is a no-op.
func ConfigureLogFile(filePath string) (closeFn func() error, err error) {
	if filePath == "" {
		return func() error { return nil }, nil
	}
	filePath, err = fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create log file %q", filePath)
	}
	klog.LogToStderr(false)
	klog.SetOutput(io.MultiWriter(f, os.Stderr))
	klog.V(1).Infof("Logging to %q", filePath)
	closeFn = func() error {
		klog.Flush()
		klog.LogToStderr(true)
		return errors.Wrapf(f.Close(), "failed to close log file %q", filePath)
	}
	return closeFn, nil
}
