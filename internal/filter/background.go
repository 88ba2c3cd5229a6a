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

	"github.com/mlnoga/caltrace/internal/frame"
)

// Prefilter shared by all registration methods: normalizes a frame to [0,1], smooths it with
// the guided filter and removes the background estimated by elliptic morphological opening.
type Background struct {
	FilterSize   int     // guided filter radius
	Eps          float32 // guided filter regularization
	KernelSize   int     // structuring element size
	MorphNumIter int     // opening iterations
	ellipse      *Ellipse
}

// Creates a background remover with the given guided filter radius, structuring element size
// and number of opening iterations
func NewBackground(filterSize, kernelSize, morphNumIter int) (*Background, error) {
	if filterSize < 0 {
		return nil, fmt.Errorf("negative filter size %d", filterSize)
	}
	if morphNumIter < 0 {
		return nil, fmt.Errorf("negative number of morphological iterations %d", morphNumIter)
	}
	e, err := NewEllipse(kernelSize)
	if err != nil {
		return nil, err
	}
	return &Background{
		FilterSize:   filterSize,
		Eps:          0.01,
		KernelSize:   kernelSize,
		MorphNumIter: morphNumIter,
		ellipse:      e,
	}, nil
}

// Filters src, and stores the smoothed frame in filtered, the estimated background in bgr,
// and their difference in dst. All views must have the same single-channel shape.
func (b *Background) Apply(dst, filtered, bgr, src frame.View) error {
	if err := frame.NormalizeMinMax(filtered, src, 0, 1); err != nil {
		return err
	}
	if err := Guided(filtered, filtered, b.FilterSize, b.Eps); err != nil {
		return err
	}
	if err := Opening(bgr, filtered, b.ellipse, b.MorphNumIter); err != nil {
		return err
	}
	return frame.Subtract(dst, filtered, bgr)
}
