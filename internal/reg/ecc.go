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

package reg

import (
	"context"
	"math"

	"github.com/mlnoga/caltrace/internal/filter"
	"github.com/mlnoga/caltrace/internal/frame"
	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Outcome of an ECC alignment
type ECCStatus int

const (
	ECCSuccess      ECCStatus = iota // converged, or reached the iteration cap
	ECCNotConverged                  // numerically degenerate input, warp unusable
	ECCAborted                       // context cancelled
)

func (s ECCStatus) String() string {
	switch s {
	case ECCSuccess:
		return "success"
	case ECCNotConverged:
		return "not converged"
	default:
		return "aborted"
	}
}

// Result of an ECC alignment
type ECCResult struct {
	Status     ECCStatus
	CorrCoef   float64 // enhanced correlation coefficient of the last iteration
	Iterations int
	Reason     string // why the solver did not converge, if it did not
}

// Aligns an input image to a template, starting from the given warp
type TileAligner interface {
	Align(ctx context.Context, template, input frame.View, warp f64.Aff3) (f64.Aff3, ECCResult)
}

// Enhanced correlation coefficient maximization after Evangelidis and Psarakis (2008),
// with Gauss-Newton steps on the translation or euclidean motion parameters.
// Both images are smoothed with a GaussSize x GaussSize Gaussian first.
type ECC struct {
	Motion    MotionType
	MaxIter   int
	Eps       float64
	GaussSize int
}

func NewECC(motion MotionType, maxIter int, eps float64) *ECC {
	return &ECC{Motion: motion, MaxIter: maxIter, Eps: eps, GaussSize: 5}
}

// Finds the warp which maps template coordinates onto input coordinates, so that
// warping input with the returned matrix aligns it with the template. The initial warp
// seeds the search. On failure the initial warp is returned unchanged.
func (e *ECC) Align(ctx context.Context, template, input frame.View, warp f64.Aff3) (f64.Aff3, ECCResult) {
	if !template.SameShape(input) || template.Pixels() == 0 {
		return warp, ECCResult{Status: ECCNotConverged, Reason: "shape mismatch"}
	}
	w, h := template.Width, template.Height
	tpl, err := e.smooth(template)
	if err != nil {
		return warp, ECCResult{Status: ECCNotConverged, Reason: err.Error()}
	}
	img, err := e.smooth(input)
	if err != nil {
		return warp, ECCResult{Status: ECCNotConverged, Reason: err.Error()}
	}
	gx, gy := img.gradients()

	nParams := 2
	if e.Motion == MotionEuclidean {
		nParams = 3
	}
	iw, gxw, gyw := newPlane(w, h), newPlane(w, h), newPlane(w, h)
	mask := make([]bool, w*h)
	jac := make([]float64, w*h*nParams)
	tz, iz := make([]float64, w*h), make([]float64, w*h)
	hess := mat.NewDense(nParams, nParams, nil)
	var hessInv mat.Dense
	m := warp

	rho, last := -1.0, -e.Eps
	it := 0
	for ; it < e.MaxIter && math.Abs(rho-last) >= e.Eps; it++ {
		if ctx.Err() != nil {
			return warp, ECCResult{Status: ECCAborted, CorrCoef: rho, Iterations: it, Reason: ctx.Err().Error()}
		}
		img.warpInto(iw, mask, m)
		gx.warpInto(gxw, nil, m)
		gy.warpInto(gyw, nil, m)

		// masked means and population standard deviations
		n := 0
		tm, im := 0.0, 0.0
		for i, in := range mask {
			if in {
				n++
				tm += tpl.data[i]
				im += iw.data[i]
			}
		}
		if n == 0 {
			return warp, ECCResult{Status: ECCNotConverged, CorrCoef: rho, Iterations: it, Reason: "no overlap"}
		}
		tm /= float64(n)
		im /= float64(n)
		tss, iss, corr := 0.0, 0.0, 0.0
		for i, in := range mask {
			if in {
				tz[i] = tpl.data[i] - tm
				iz[i] = iw.data[i] - im
				tss += tz[i] * tz[i]
				iss += iz[i] * iz[i]
				corr += tz[i] * iz[i]
			} else {
				tz[i], iz[i] = 0, 0
			}
		}

		// Jacobian of the warped image with respect to the motion parameters
		h0, h1 := m[0], m[3]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				j := jac[i*nParams : (i+1)*nParams]
				if !mask[i] {
					for k := range j {
						j[k] = 0
					}
					continue
				}
				dx, dy := gxw.data[i], gyw.data[i]
				if nParams == 3 {
					fx, fy := float64(x), float64(y)
					hx := -(fx * h1) - (fy * h0)
					hy := fx*h0 - fy*h1
					j[0], j[1], j[2] = dx*hx+dy*hy, dx, dy
				} else {
					j[0], j[1] = dx, dy
				}
			}
		}
		for a := 0; a < nParams; a++ {
			for b := a; b < nParams; b++ {
				s := 0.0
				for i := 0; i < w*h; i++ {
					s += jac[i*nParams+a] * jac[i*nParams+b]
				}
				hess.Set(a, b, s)
				hess.Set(b, a, s)
			}
		}
		if err := hessInv.Inverse(hess); err != nil {
			return warp, ECCResult{Status: ECCNotConverged, CorrCoef: rho, Iterations: it, Reason: "singular Hessian"}
		}

		tNorm, iNorm := math.Sqrt(tss), math.Sqrt(iss)
		if tNorm*iNorm == 0 {
			return warp, ECCResult{Status: ECCNotConverged, CorrCoef: rho, Iterations: it, Reason: "zero variance"}
		}
		last = rho
		rho = corr / (iNorm * tNorm)

		iProj, tProj := e.project(jac, iz, nParams), e.project(jac, tz, nParams)
		iProjHess := mulVec(&hessInv, iProj)
		lambdaNum := iNorm*iNorm - floats.Dot(iProj, iProjHess)
		lambdaDen := corr - floats.Dot(tProj, iProjHess)
		if lambdaDen <= 0 {
			return warp, ECCResult{Status: ECCNotConverged, CorrCoef: rho, Iterations: it, Reason: "correlation minimized"}
		}
		lambda := lambdaNum / lambdaDen
		for i := range tz {
			tz[i] = lambda*tz[i] - iz[i] // error image, reusing the buffer
		}
		delta := mulVec(&hessInv, e.project(jac, tz, nParams))

		if nParams == 3 {
			theta := math.Asin(math.Max(-1, math.Min(1, m[3]))) + delta[0]
			sin, cos := math.Sincos(theta)
			m = f64.Aff3{cos, -sin, m[2] + delta[1], sin, cos, m[5] + delta[2]}
		} else {
			m[2] += delta[0]
			m[5] += delta[1]
		}
		if math.IsNaN(m[2]) || math.IsNaN(m[5]) {
			return warp, ECCResult{Status: ECCNotConverged, CorrCoef: rho, Iterations: it, Reason: "NaN warp"}
		}
	}
	return m, ECCResult{Status: ECCSuccess, CorrCoef: rho, Iterations: it}
}

// Gaussian smoothing into a new float64 plane
func (e *ECC) smooth(v frame.View) (plane, error) {
	if e.GaussSize <= 1 {
		return planeFromView(v), nil
	}
	tmp := frame.New(0, v.Width, v.Height, 1)
	if err := filter.Gaussian(tmp.View(), v, e.GaussSize, 0); err != nil {
		return plane{}, err
	}
	return plane{data: float64Data(tmp.Data), w: v.Width, h: v.Height}, nil
}

// Returns the product of the transposed Jacobian with the image
func (e *ECC) project(jac, img []float64, nParams int) []float64 {
	res := make([]float64, nParams)
	for i, v := range img {
		if v == 0 {
			continue
		}
		for k := 0; k < nParams; k++ {
			res[k] += jac[i*nParams+k] * v
		}
	}
	return res
}

func mulVec(m *mat.Dense, v []float64) []float64 {
	var res mat.VecDense
	res.MulVec(m, mat.NewVecDense(len(v), v))
	return res.RawVector().Data
}

func float64Data(d []float32) []float64 {
	res := make([]float64, len(d))
	for i, v := range d {
		res[i] = float64(v)
	}
	return res
}
