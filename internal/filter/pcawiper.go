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
	"errors"
	"fmt"
	"sort"

	"github.com/mlnoga/caltrace/internal/frame"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Removes selected principal components from a frame. Treats the shorter frame dimension as variables
// and the longer one as observations, which suppresses row or column stripe artifacts when the
// first component is removed. Components are counted from zero in order of decreasing variance.
type PCAWiper struct {
	Components []int
}

// Creates a wiper removing the given principal components
func NewPCAWiper(components []int) (*PCAWiper, error) {
	if len(components) == 0 {
		return nil, errors.New("no principal components to remove")
	}
	for _, c := range components {
		if c < 0 {
			return nil, fmt.Errorf("principal component %d must not be negative", c)
		}
	}
	return &PCAWiper{Components: components}, nil
}

// Stores src minus its mean and the selected principal components in dst. dst may equal src.
func (p *PCAWiper) Apply(dst, src frame.View) error {
	if !dst.SameShape(src) || src.Channels != 1 {
		return fmt.Errorf("%w: wiping %s into %s", frame.ErrShape, src.DimensionsToString(), dst.DimensionsToString())
	}
	transposed := src.Height > src.Width
	nvars, nobs := src.Height, src.Width
	if transposed {
		nvars, nobs = src.Width, src.Height
	}
	for _, c := range p.Components {
		if c >= nvars {
			return fmt.Errorf("principal component %d out of range for %d variables", c, nvars)
		}
	}
	if nobs < 2 {
		return fmt.Errorf("%w: need at least two observations, got %d", frame.ErrShape, nobs)
	}

	// observations in rows, variables in columns
	x := mat.NewDense(nobs, nvars, nil)
	for y := 0; y < src.Height; y++ {
		for xx := 0; xx < src.Width; xx++ {
			if transposed {
				x.Set(y, xx, float64(src.At(xx, y)))
			} else {
				x.Set(xx, y, float64(src.At(xx, y)))
			}
		}
	}
	means := make([]float64, nvars)
	for j := range means {
		means[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}
	for i := 0; i < nobs; i++ {
		for j := 0; j < nvars; j++ {
			x.Set(i, j, x.At(i, j)-means[j])
		}
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)
	var eig mat.EigenSym
	if ok := eig.Factorize(&cov, true); !ok {
		return errors.New("eigen decomposition of covariance matrix failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// order components by decreasing eigenvalue
	order := make([]int, nvars)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })

	basis := mat.NewDense(nvars, len(p.Components), nil)
	for k, c := range p.Components {
		basis.SetCol(k, mat.Col(nil, order[c], &vectors))
	}

	// reconstruction from the selected components only
	var scores, recon mat.Dense
	scores.Mul(x, basis)
	recon.Mul(&scores, basis.T())
	x.Sub(x, &recon)

	for y := 0; y < src.Height; y++ {
		for xx := 0; xx < src.Width; xx++ {
			if transposed {
				dst.Set(xx, y, float32(x.At(y, xx)))
			} else {
				dst.Set(xx, y, float32(x.At(xx, y)))
			}
		}
	}
	return nil
}
