// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package filter implements the spatial prefilters applied to movie frames before
// registration: box and Gaussian smoothing, the guided filter, elliptic morphological
// opening for background estimation, and the principal component wiper.
package filter

import (
	"fmt"
	"image"
	"math"

	"github.com/emer/etable/etensor"
	"github.com/emer/vision/vfilter"
	"github.com/mlnoga/caltrace/internal/frame"
)

// Applies a normalized (2r+1)x(2r+1) box filter to src and stores the result in dst.
// Borders are extrapolated with BorderReflect101. dst may equal src.
func Box(dst, src frame.View, r int) error {
	if r < 0 {
		return fmt.Errorf("negative box filter radius %d", r)
	}
	size := 2*r + 1
	k := make([]float32, size*size)
	for i := range k {
		k[i] = 1 / float32(len(k))
	}
	return Convolve(dst, src, k, size, frame.BorderReflect101)
}

// Applies a size x size Gaussian blur to src and stores the result in dst. A non-positive
// sigma is derived from the size. Borders are extrapolated with BorderReflect101.
func Gaussian(dst, src frame.View, size int, sigma float64) error {
	g := GaussianKernel(size, sigma)
	k := make([]float32, size*size)
	for y, gy := range g {
		for x, gx := range g {
			k[y*size+x] = float32(gy * gx)
		}
	}
	return Convolve(dst, src, k, size, frame.BorderReflect101)
}

// Returns a normalized 1D Gaussian kernel of given odd size. A non-positive sigma is
// derived from the size as 0.3*((size-1)*0.5-1)+0.8
func GaussianKernel(size int, sigma float64) []float64 {
	if sigma <= 0 {
		sigma = 0.3*(float64(size-1)*0.5-1) + 0.8
	}
	r := size / 2
	k := make([]float64, size)
	sum := 0.0
	for i := range k {
		d := float64(i - r)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// Convolves the first channel of src with the row-major size x size kernel k and stores
// the result in dst. The input is padded with the given border type, so the output has
// the shape of the input. dst may equal src.
func Convolve(dst, src frame.View, k []float32, size int, bt frame.BorderType) error {
	if !dst.SameShape(src) || src.Channels != 1 {
		return fmt.Errorf("%w: filtering %s into %s", frame.ErrShape, src.DimensionsToString(), dst.DimensionsToString())
	}
	if size&1 == 0 || len(k) != size*size {
		return fmt.Errorf("kernel of %d values is not a square of odd size %d", len(k), size)
	}

	// vfilter reads from a padded image starting at Border-FiltLt, so a border of
	// FiltRt centers the odd kernel and keeps the output size equal to the input
	pad := size - size/2
	var geom vfilter.Geom
	geom.Set(image.Point{pad, pad}, image.Point{1, 1}, image.Point{size, size})

	w, h := src.Width, src.Height
	pw, ph := w+2*pad, h+2*pad
	geom.SetSize(image.Point{pw, ph})
	img := etensor.NewFloat32([]int{ph, pw}, nil, []string{"Y", "X"})
	for y := 0; y < ph; y++ {
		yi := frame.BorderIndex(y-pad, h, bt)
		for x := 0; x < pw; x++ {
			xi := frame.BorderIndex(x-pad, w, bt)
			if xi >= 0 && yi >= 0 {
				img.Values[y*pw+x] = src.At(xi, yi)
			}
		}
	}
	flt := etensor.NewFloat32([]int{size, size}, nil, []string{"Y", "X"})
	copy(flt.Values, k)

	// output is split by polarity into positive and negative parts
	var out etensor.Float32
	vfilter.Conv1(&geom, flt, img, &out, 1)
	for y := 0; y < h; y++ {
		row := dst.Row(y)
		for x := range row {
			row[x] = out.Value([]int{0, y, x}) - out.Value([]int{1, y, x})
		}
	}
	return nil
}
