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
	"fmt"
	"math"

	"github.com/mlnoga/caltrace/internal/frame"
)

// One row of a structuring element, covering horizontal offsets [X0, X1] at vertical offset DY
type kernelRow struct {
	DY, X0, X1 int
}

// An elliptic structuring element inscribed into a size x size square
type Ellipse struct {
	Size int
	rows []kernelRow
}

// Creates an elliptic structuring element of the given size
func NewEllipse(size int) (*Ellipse, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid structuring element size %d", size)
	}
	r := size / 2
	e := &Ellipse{Size: size}
	for i := 0; i < size; i++ {
		dy := i - r
		dx := 0
		if r > 0 {
			dx = int(math.RoundToEven(float64(r) * math.Sqrt(float64(r*r-dy*dy)/float64(r*r))))
		}
		x0, x1 := r-dx, r+dx+1
		if x0 < 0 {
			x0 = 0
		}
		if x1 > size {
			x1 = size
		}
		e.rows = append(e.rows, kernelRow{DY: dy, X0: x0 - r, X1: x1 - 1 - r})
	}
	return e, nil
}

// Returns true if the element covers offset (dx, dy) from its center
func (e *Ellipse) Covers(dx, dy int) bool {
	for _, row := range e.rows {
		if row.DY == dy {
			return dx >= row.X0 && dx <= row.X1
		}
	}
	return false
}

// Replaces each pixel with the minimum over the structuring element. Pixels outside the frame are ignored.
func Erode(dst, src frame.View, e *Ellipse) error {
	return morph(dst, src, e, func(a, b float32) bool { return a < b })
}

// Replaces each pixel with the maximum over the structuring element. Pixels outside the frame are ignored.
func Dilate(dst, src frame.View, e *Ellipse) error {
	return morph(dst, src, e, func(a, b float32) bool { return a > b })
}

func morph(dst, src frame.View, e *Ellipse, better func(a, b float32) bool) error {
	if !dst.SameShape(src) || src.Channels != 1 {
		return fmt.Errorf("%w: morphology from %s into %s", frame.ErrShape, src.DimensionsToString(), dst.DimensionsToString())
	}
	in := src.Clone(0).View()
	for y := 0; y < in.Height; y++ {
		for x := 0; x < in.Width; x++ {
			best, found := float32(0), false
			for _, row := range e.rows {
				yy := y + row.DY
				if yy < 0 || yy >= in.Height {
					continue
				}
				for xx := x + row.X0; xx <= x+row.X1; xx++ {
					if xx < 0 || xx >= in.Width {
						continue
					}
					v := in.At(xx, yy)
					if !found || better(v, best) {
						best, found = v, true
					}
				}
			}
			dst.Set(x, y, best)
		}
	}
	return nil
}

// Morphological opening: iterations erosions followed by the same number of dilations
func Opening(dst, src frame.View, e *Ellipse, iterations int) error {
	if err := dst.CopyFrom(src); err != nil {
		return err
	}
	for i := 0; i < iterations; i++ {
		if err := Erode(dst, dst, e); err != nil {
			return err
		}
	}
	for i := 0; i < iterations; i++ {
		if err := Dilate(dst, dst, e); err != nil {
			return err
		}
	}
	return nil
}
