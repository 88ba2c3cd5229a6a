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
	"image"
	"math"

	"github.com/mlnoga/caltrace/internal/frame"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// The identity warp
var Identity = f64.Aff3{1, 0, 0, 0, 1, 0}

// Warps src into dst with an inverse map: dst(x,y) = src(m*(x,y,1)), bilinearly interpolated.
// Coordinates outside src are extrapolated with the given border type, zero for BorderConstant.
// Values pass through 16-bit gray images, so results are exact to 1/65535 of the value range.
func WarpAffine(dst, src frame.View, m f64.Aff3, bt frame.BorderType) error {
	if !dst.SameShape(src) || src.Channels != 1 {
		return frame.ErrShape
	}
	w, h := src.Width, src.Height
	lo, hi := frame.MinMax(src)
	if bt == frame.BorderConstant {
		lo, hi = float32(math.Min(float64(lo), 0)), float32(math.Max(float64(hi), 0))
	}
	if hi <= lo {
		dst.Fill(lo)
		return nil
	}
	scale := 65535 / float64(hi-lo)

	// pad the source with the border policy so every destination pixel samples inside it
	pad := warpPadding(m, w, h)
	in := image.NewGray16(image.Rect(-pad, -pad, w+pad, h+pad))
	for y := -pad; y < h+pad; y++ {
		yi := frame.BorderIndex(y, h, bt)
		for x := -pad; x < w+pad; x++ {
			xi := frame.BorderIndex(x, w, bt)
			v := float32(0)
			if xi >= 0 && yi >= 0 {
				v = src.At(xi, yi)
			}
			in.Pix[in.PixOffset(x, y)], in.Pix[in.PixOffset(x, y)+1] = splitGray16(float64(v-lo) * scale)
		}
	}

	out := image.NewGray16(image.Rect(0, 0, w, h))
	draw.BiLinear.Transform(out, sourceToDest(m), in, in.Bounds(), draw.Src, nil)
	for y := 0; y < h; y++ {
		row := dst.Row(y)
		for x := range row {
			row[x] = lo + float32(float64(out.Gray16At(x, y).Y)/scale)
		}
	}
	return nil
}

func splitGray16(v float64) (uint8, uint8) {
	q := uint16(math.Max(0, math.Min(65535, math.Round(v))))
	return uint8(q >> 8), uint8(q)
}

// Converts the inverse map m on integer pixel coordinates into the source to destination
// transform of x/image/draw, which places pixel centers at +0.5
func sourceToDest(m f64.Aff3) f64.Aff3 {
	d2s := m
	d2s[2] += 0.5 - 0.5*(m[0]+m[1])
	d2s[5] += 0.5 - 0.5*(m[3]+m[4])
	det := d2s[0]*d2s[4] - d2s[1]*d2s[3]
	if det == 0 {
		return Identity
	}
	a, b, c, d := d2s[4]/det, -d2s[1]/det, -d2s[3]/det, d2s[0]/det
	return f64.Aff3{
		a, b, -(a*d2s[2] + b*d2s[5]),
		c, d, -(c*d2s[2] + d*d2s[5]),
	}
}

// Border needed around a w x h source so the inverse map m of every destination pixel
// lands at least one pixel inside, capped at the frame size
func warpPadding(m f64.Aff3, w, h int) int {
	over := 0.0
	for _, p := range [][2]float64{{-1, -1}, {float64(w), -1}, {-1, float64(h)}, {float64(w), float64(h)}} {
		sx := m[0]*p[0] + m[1]*p[1] + m[2]
		sy := m[3]*p[0] + m[4]*p[1] + m[5]
		over = math.Max(over, math.Max(math.Max(-sx, sx-float64(w-1)), math.Max(-sy, sy-float64(h-1))))
	}
	pad := int(math.Ceil(over)) + 2
	if max := w + h; pad > max {
		pad = max
	}
	return pad
}

// Euclidean length of the difference between the translations of two warps
func translationDistance(a, b f64.Aff3) float64 {
	return math.Hypot(a[2]-b[2], a[5]-b[5])
}

// A dense single-channel float64 image, used internally by the ECC solver
type plane struct {
	data []float64
	w, h int
}

func newPlane(w, h int) plane { return plane{data: make([]float64, w*h), w: w, h: h} }

func planeFromView(v frame.View) plane {
	p := newPlane(v.Width, v.Height)
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			p.data[y*p.w+x] = float64(v.At(x, y))
		}
	}
	return p
}

// Warps the plane with an inverse map and zero extension into dst. If mask is non-nil,
// sets it to true where the nearest source pixel lies within the plane.
func (p plane) warpInto(dst plane, mask []bool, m f64.Aff3) {
	at := func(x, y int) float64 {
		if x < 0 || x >= p.w || y < 0 || y >= p.h {
			return 0
		}
		return p.data[y*p.w+x]
	}
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			sx := m[0]*float64(x) + m[1]*float64(y) + m[2]
			sy := m[3]*float64(x) + m[4]*float64(y) + m[5]
			if mask != nil {
				rx, ry := int(math.Floor(sx+0.5)), int(math.Floor(sy+0.5))
				mask[y*p.w+x] = rx >= 0 && rx < p.w && ry >= 0 && ry < p.h
			}
			x0, y0 := math.Floor(sx), math.Floor(sy)
			fx, fy := sx-x0, sy-y0
			xi, yi := int(x0), int(y0)
			dst.data[y*p.w+x] = (1-fy)*((1-fx)*at(xi, yi)+fx*at(xi+1, yi)) +
				fy*((1-fx)*at(xi, yi+1)+fx*at(xi+1, yi+1))
		}
	}
}

// Central difference gradients with BorderReflect101 extension
func (p plane) gradients() (gx, gy plane) {
	gx, gy = newPlane(p.w, p.h), newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		ym, yp := frame.BorderIndex(y-1, p.h, frame.BorderReflect101), frame.BorderIndex(y+1, p.h, frame.BorderReflect101)
		for x := 0; x < p.w; x++ {
			xm, xp := frame.BorderIndex(x-1, p.w, frame.BorderReflect101), frame.BorderIndex(x+1, p.w, frame.BorderReflect101)
			gx.data[y*p.w+x] = 0.5 * (p.data[y*p.w+xp] - p.data[y*p.w+xm])
			gy.data[y*p.w+x] = 0.5 * (p.data[yp*p.w+x] - p.data[ym*p.w+x])
		}
	}
	return gx, gy
}
