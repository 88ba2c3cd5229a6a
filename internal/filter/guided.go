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

package filter

import (
	"github.com/mlnoga/caltrace/internal/frame"
)

// Self-guided edge-preserving smoothing filter with window (2r+1)x(2r+1) and regularization eps.
// See K. He, J. Sun, X. Tang: Guided Image Filtering, ECCV 2010.
// dst may equal src.
func Guided(dst, src frame.View, r int, eps float32) error {
	w, h := src.Width, src.Height
	in := src.Clone(0)
	sq := in.Clone()
	for i, v := range sq.Data {
		sq.Data[i] = v * v
	}

	meanI, meanI2 := frame.New(0, w, h, 1), frame.New(0, w, h, 1)
	if err := Box(meanI.View(), in.View(), r); err != nil {
		return err
	}
	if err := Box(meanI2.View(), sq.View(), r); err != nil {
		return err
	}

	// linear coefficients a and b per window, reusing the buffers
	a, b := meanI2, sq
	for i, m := range meanI.Data {
		cov := meanI2.Data[i] - m*m
		a.Data[i] = cov / (cov + eps)
		b.Data[i] = m - a.Data[i]*m
	}
	if err := Box(a.View(), a.View(), r); err != nil {
		return err
	}
	if err := Box(b.View(), b.View(), r); err != nil {
		return err
	}

	if err := dst.CopyFrom(in.View()); err != nil {
		return err
	}
	for y := 0; y < h; y++ {
		row := dst.Row(y)
		for x := range row {
			row[x] = a.Data[y*w+x]*row[x] + b.Data[y*w+x]
		}
	}
	return nil
}
