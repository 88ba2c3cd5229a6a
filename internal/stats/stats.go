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

// Package stats provides basic statistics over frames and value slices.
package stats

import (
	"fmt"
	"math"

	"github.com/mlnoga/caltrace/internal/frame"
	"gonum.org/v1/gonum/stat"
)

// Basic statistics of a frame or a set of values
type Basic struct {
	Min    float32 `json:"min"`
	Max    float32 `json:"max"`
	Mean   float32 `json:"mean"`
	StdDev float32 `json:"stdDev"` // population standard deviation
}

func (s Basic) String() string {
	return fmt.Sprintf("Min %.4g Max %.4g Mean %.4g StdDev %.4g", s.Min, s.Max, s.Mean, s.StdDev)
}

// Calculates basic statistics over the first channel of the given view
func CalcBasic(v frame.View) Basic {
	values := make([]float64, 0, v.Pixels())
	for y := 0; y < v.Height; y++ {
		row := v.Row(y)
		for i := 0; i < len(row); i += v.Channels {
			values = append(values, float64(row[i]))
		}
	}
	return CalcBasicFloat64(values)
}

// Calculates basic statistics over the given values
func CalcBasicFloat64(values []float64) Basic {
	if len(values) == 0 {
		return Basic{}
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, d := range values {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return Basic{Min: float32(min), Max: float32(max), Mean: float32(mean), StdDev: float32(std)}
}

// Population mean and standard deviation of the first channel of all pixels
// for which the selector returns true. The selector receives the pixel index y*width+x.
// Returns zeros if no pixel is selected.
func MaskedMeanStdDev(v frame.View, selected func(index int) bool) (mean, std float64, count int) {
	values := make([]float64, 0, v.Pixels())
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			if selected(y*v.Width + x) {
				values = append(values, float64(v.At(x, y)))
			}
		}
	}
	if len(values) == 0 {
		return 0, 0, 0
	}
	mean, std = stat.PopMeanStdDev(values, nil)
	return mean, std, len(values)
}
