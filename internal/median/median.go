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

// Package median implements median blur filters on frames.
package median

import (
	"fmt"

	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/mlnoga/caltrace/internal/qsort"
)

// Applies a size x size median filter to the first channel of src and stores the results in dst.
// Size must be odd and at least 3. Pixels beyond the border are replicated from the nearest edge.
// dst must not overlap src.
func Blur(dst, src frame.View, size int) error {
	if size < 3 || size&1 == 0 {
		return fmt.Errorf("median blur size %d must be odd and at least 3", size)
	}
	if !dst.SameShape(src) || src.Channels != 1 {
		return fmt.Errorf("%w: median blur from %s to %s", frame.ErrShape, src.DimensionsToString(), dst.DimensionsToString())
	}
	r := size / 2
	gathered := make([]float32, size*size)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			j := 0
			for dy := -r; dy <= r; dy++ {
				yy := frame.BorderIndex(y+dy, src.Height, frame.BorderReplicate)
				for dx := -r; dx <= r; dx++ {
					xx := frame.BorderIndex(x+dx, src.Width, frame.BorderReplicate)
					gathered[j] = src.At(xx, yy)
					j++
				}
			}
			dst.Set(x, y, MedianFloat32(gathered))
		}
	}
	return nil
}

// Calculates the median of a float32 slice of length nine
// Modifies the elements in place
// From https://stackoverflow.com/questions/45453537/optimal-9-element-sorting-network-that-reduces-to-an-optimal-median-of-9-network
// See also http://ndevilla.free.fr/median/median/src/optmed.c for other sizes
// Array must not contain IEEE NaN
func MedianFloat32Slice9(a []float32) float32 { // 30x min/max
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[1] > a[2] {
		a[1], a[2] = a[2], a[1]
	}
	if a[4] > a[5] {
		a[4], a[5] = a[5], a[4]
	}
	if a[7] > a[8] {
		a[7], a[8] = a[8], a[7]
	}
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[0] > a[3] {
		a[3] = a[0]
	}
	if a[3] > a[6] {
		a[6] = a[3]
	}
	if a[1] > a[4] {
		a[1], a[4] = a[4], a[1]
	}
	if a[4] > a[7] {
		a[4] = a[7]
	}
	if a[1] > a[4] {
		a[4] = a[1]
	}
	if a[5] > a[8] {
		a[5] = a[8]
	}
	if a[2] > a[5] {
		a[2] = a[5]
	}
	if a[2] > a[4] {
		a[2], a[4] = a[4], a[2]
	}
	if a[4] > a[6] {
		a[4] = a[6]
	}
	if a[2] > a[4] {
		a[4] = a[2]
	}
	return a[4]
}

// Calculates the median of a float32 slice
// Modifies the elements in place
// Array must not contain IEEE NaN
func MedianFloat32(a []float32) float32 {
	if len(a) == 9 {
		return MedianFloat32Slice9(a)
	}
	return qsort.QSelectMedianFloat32(a)
}
