// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

const (
	// MNISTDownloadURL is where the MNIST files are downloaded from.
	MNISTDownloadURL = "https://storage.googleapis.com/cvdf-datasets/mnist"

	// MNISTNumClasses is the number of digits.
	MNISTNumClasses = 10

	mnistWidth  = 28
	mnistHeight = 28
	imageMagic  = 0x00000803
	labelMagic  = 0x00000801
)

// MNISTDim is the number of pixels of an MNIST image.
const MNISTDim = mnistWidth * mnistHeight

var mnistFiles = map[string][2]string{
	"train": {"train-images-idx3-ubyte.gz", "train-labels-idx1-ubyte.gz"},
	"test":  {"t10k-images-idx3-ubyte.gz", "t10k-labels-idx1-ubyte.gz"},
}

type imageFileHeader struct {
	Magic     int32
	NumImages int32
	Height    int32
	Width     int32
}

type labelFileHeader struct {
	Magic     int32
	NumLabels int32
}

// DownloadMNIST downloads the MNIST files to baseDir, skipping the ones already there.
func DownloadMNIST(baseDir string) error {
	baseDir, err := fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(baseDir, 0777); err != nil {
		return errors.Wrapf(err, "failed to create directory %q", baseDir)
	}
	for _, files := range mnistFiles {
		for _, file := range files {
			fileURL, err := url.JoinPath(MNISTDownloadURL, file)
			if err != nil {
				return errors.Wrapf(err, "invalid download URL for %q", file)
			}
			if err := downloadIfMissing(fileURL, path.Join(baseDir, file)); err != nil {
				return err
			}
		}
	}
	return nil
}

func downloadIfMissing(fileURL, filePath string) error {
	exists, err := fsutil.FileExists(filePath)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	klog.Infof("Downloading %s", fileURL)
	resp, err := http.Get(fileURL)
	if err != nil {
		return errors.Wrapf(err, "failed downloading %q", fileURL)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("failed downloading %q: %s", fileURL, resp.Status)
	}

	// Download to a temporary file, so an interrupted download is not taken as complete.
	tmpPath := filePath + ".part"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "failed creating %q", tmpPath)
	}
	bar := progressbar.DefaultBytes(resp.ContentLength, path.Base(filePath))
	size, err := io.Copy(io.MultiWriter(f, bar), resp.Body)
	_ = bar.Close()
	if err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "downloading %q to %q", fileURL, tmpPath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed closing %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return errors.Wrapf(err, "failed renaming %q to %q", tmpPath, filePath)
	}
	klog.V(1).Infof("Downloaded %s bytes to %q", humanize.Comma(size), filePath)
	return nil
}

// LoadMNIST loads the "train" or "test" MNIST split from baseDir. Pixels are scaled to [0, 1].
func LoadMNIST(baseDir, mode string) (*Set, error) {
	files, found := mnistFiles[mode]
	if !found {
		return nil, errors.Errorf("unknown MNIST split %q, valid values are \"train\" or \"test\"", mode)
	}
	baseDir, err := fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return nil, err
	}
	pixels, err := readGzipped(path.Join(baseDir, files[0]), readImages)
	if err != nil {
		return nil, err
	}
	labels, err := readGzipped(path.Join(baseDir, files[1]), readLabels)
	if err != nil {
		return nil, err
	}
	features := make([]float32, len(pixels))
	for ii, p := range pixels {
		features[ii] = float32(p) / 255.0
	}
	set, err := NewSet(features, nil, labels, MNISTDim, MNISTNumClasses)
	if err != nil {
		return nil, errors.WithMessagef(err, "MNIST %q split in %q", mode, baseDir)
	}
	klog.V(1).Infof("Loaded MNIST %q: %s", mode, set)
	return set, nil
}

func readGzipped[T any](filePath string, parse func(r io.Reader) (T, error)) (T, error) {
	var empty T
	f, err := os.Open(filePath)
	if err != nil {
		return empty, errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()
	reader, err := gzip.NewReader(f)
	if err != nil {
		return empty, errors.Wrapf(err, "failed to decompress %q", filePath)
	}
	defer func() { _ = reader.Close() }()
	value, err := parse(reader)
	if err != nil {
		return empty, errors.WithMessagef(err, "parsing %q", filePath)
	}
	return value, nil
}

// readImages parses an IDX images file, returning the pixels of all images concatenated.
func readImages(r io.Reader) ([]byte, error) {
	var header imageFileHeader
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "failed to read images header")
	}
	if header.Magic != imageMagic || header.Width != mnistWidth || header.Height != mnistHeight {
		return nil, errors.Errorf("invalid images file header %+v", header)
	}
	pixels := make([]byte, int(header.NumImages)*MNISTDim)
	if _, err := io.ReadFull(r, pixels); err != nil {
		return nil, errors.Wrapf(err, "failed to read %d images", header.NumImages)
	}
	return pixels, nil
}

// readLabels parses an IDX labels file.
func readLabels(r io.Reader) ([]int32, error) {
	var header labelFileHeader
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "failed to read labels header")
	}
	if header.Magic != labelMagic {
		return nil, errors.Errorf("invalid labels file header %+v", header)
	}
	raw := make([]byte, header.NumLabels)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "failed to read %d labels", header.NumLabels)
	}
	labels := make([]int32, len(raw))
	for ii, label := range raw {
		labels[ii] = int32(label)
	}
	return labels, nil
}
