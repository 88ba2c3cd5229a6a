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

package frame

import (
	"math"
)

// Returns the minimum and maximum of the first channel of the view. Ignores NaNs.
func MinMax(v View) (min, max float32) {
	min, max = float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for y := 0; y < v.Height; y++ {
		row := v.Row(y)
		for i := 0; i < len(row); i += v.Channels {
			d := row[i]
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
		}
	}
	if min > max {
		return 0, 0
	}
	return min, max
}

// Linearly rescales src into dst such that the minimum maps to lo and the maximum to hi.
// A constant input maps to lo. dst and src may be the same view.
func NormalizeMinMax(dst, src View, lo, hi float32) error {
	if !dst.SameShape(src) {
		return shapeError(dst, src)
	}
	min, max := MinMax(src)
	scale := float32(0)
	if max > min {
		scale = (hi - lo) / (max - min)
	}
	for y := 0; y < src.Height; y++ {
		d, s := dst.Row(y), src.Row(y)
		for i := range s {
			d[i] = (s[i]-min)*scale + lo
		}
	}
	return nil
}

// Rescales src to the 8-bit range [0,255] with rounding to the nearest integer, like a
// min-max normalization into an 8-bit image. dst and src may be the same view.
func NormalizeToUint8(dst, src View) error {
	if err := NormalizeMinMax(dst, src, 0, 255); err != nil {
		return err
	}
	for y := 0; y < dst.Height; y++ {
		d := dst.Row(y)
		for i, v := range d {
			d[i] = float32(math.Round(float64(v)))
		}
	}
	return nil
}

// Subtracts b from a and stores the result in dst. All views must have the same shape.
func Subtract(dst, a, b View) error {
	if !dst.SameShape(a) {
		return shapeError(dst, a)
	}
	if !dst.SameShape(b) {
		return shapeError(dst, b)
	}
	for y := 0; y < dst.Height; y++ {
		d, ra, rb := dst.Row(y), a.Row(y), b.Row(y)
		for i := range d {
			d[i] = ra[i] - rb[i]
		}
	}
	return nil
}

// Multiplies all values by the given factor, in place
func Scale(v View, factor float32) {
	for y := 0; y < v.Height; y++ {
		row := v.Row(y)
		for i := range row {
			row[i] *= factor
		}
	}
}

// Clamps all values to [lo, hi] and replaces NaNs with lo, in place
func Clamp(v View, lo, hi float32) {
	for y := 0; y < v.Height; y++ {
		row := v.Row(y)
		for i, d := range row {
			if math.IsNaN(float64(d)) || d < lo {
				row[i] = lo
			} else if d > hi {
				row[i] = hi
			}
		}
	}
}
