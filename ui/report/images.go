// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ReconstructionScale is the magnification of each image in ReconstructionGrid.
var ReconstructionScale = 2

// ImageSide returns the side of a square image with dim pixels, and whether dim is a perfect square.
func ImageSide(dim int) (side int, ok bool) {
	side = int(math.Round(math.Sqrt(float64(dim))))
	return side, dim > 0 && side*side == dim
}

// grayImage converts pixels in [0, 1] (row-major) to a gray image.
func grayImage(pixels []float32, width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for ii, v := range pixels[:width*height] {
		v = min(max(v, 0), 1)
		img.Pix[ii] = uint8(math.Round(float64(v) * 255))
	}
	return img
}

// ReconstructionGrid builds an image with n originals on the top row and their reconstructions
// right below them.
//
// originals and reconstructions are flat `[n, width*height]` pixel values in [0, 1].
func ReconstructionGrid(originals, reconstructions []float32, n, width, height int) (image.Image, error) {
	dim := width * height
	if n <= 0 || dim <= 0 {
		return nil, errors.Errorf("invalid grid of %d images of %dx%d", n, width, height)
	}
	if len(originals) < n*dim || len(reconstructions) < n*dim {
		return nil, errors.Errorf("%d images of %dx%d require %d values, got %d originals and %d reconstructions",
			n, width, height, n*dim, len(originals), len(reconstructions))
	}
	const margin = 2
	scale := max(ReconstructionScale, 1)
	cellW, cellH := width*scale, height*scale
	grid := imaging.New(n*(cellW+margin)+margin, 2*(cellH+margin)+margin, color.White)
	for ii := range n {
		x := margin + ii*(cellW+margin)
		for row, values := range [][]float32{originals, reconstructions} {
			img := imaging.Resize(grayImage(values[ii*dim:(ii+1)*dim], width, height), cellW, cellH, imaging.NearestNeighbor)
			grid = imaging.Paste(grid, img, image.Pt(x, margin+row*(cellH+margin)))
		}
	}
	return grid, nil
}

// SaveImage saves img to filePath, the format is given by the extension.
func SaveImage(img image.Image, filePath string) error {
	if err := imaging.Save(img, filePath); err != nil {
		return errors.Wrapf(err, "failed to save image to %q", filePath)
	}
	return nil
}
