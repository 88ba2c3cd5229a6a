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

// Package roi detects regions of interest (cells) in registered frames, aggregates them
// over a movie into a single ROI set, and extracts fluorescence traces and dF/F.
package roi

import (
	"image"
	"math"
	"slices"
)

// Neighbor offsets, counterclockwise on screen starting east: E, NE, N, NW, W, SW, S, SE
var dirs = [8]image.Point{
	image.Pt(1, 0), image.Pt(1, -1), image.Pt(0, -1), image.Pt(-1, -1),
	image.Pt(-1, 0), image.Pt(-1, 1), image.Pt(0, 1), image.Pt(1, 1),
}

// 4-connected neighbor offsets
var dirs4 = [4]image.Point{image.Pt(1, 0), image.Pt(-1, 0), image.Pt(0, 1), image.Pt(0, -1)}

func dirIndex(d image.Point) int {
	for i, o := range dirs {
		if o == d {
			return i
		}
	}
	return -1
}

// The outer border of an 8-connected component of a binary image
type Contour struct {
	Points []image.Point // border pixels in tracing order, without repetition of the start
	Pixels []int32       // pixel indices y*w+x of the component, in raster order
}

// Finds the outer borders of all 8-connected foreground components of the binary image,
// ordered by the raster position of their first pixel
func FindContours(bin []bool, w, h int) []Contour {
	labels := make([]int32, w*h)
	var res []Contour
	stack := []int32{}
	for start := range bin {
		if !bin[start] || labels[start] != 0 {
			continue
		}
		id := int32(len(res) + 1)
		labels[start] = id
		stack = append(stack[:0], int32(start))
		var pixels []int32
		for len(stack) > 0 {
			j := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			pixels = append(pixels, j)
			x, y := int(j)%w, int(j)/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || xx >= w || yy < 0 || yy >= h {
						continue
					}
					k := yy*w + xx
					if bin[k] && labels[k] == 0 {
						labels[k] = id
						stack = append(stack, int32(k))
					}
				}
			}
		}
		slices.Sort(pixels)
		res = append(res, Contour{
			Points: traceBorder(bin, w, h, start%w, start/w),
			Pixels: pixels,
		})
	}
	return res
}

// Traces the outer border starting from the topmost, leftmost pixel of a component,
// after Suzuki and Abe (1985)
func traceBorder(bin []bool, w, h, x0, y0 int) []image.Point {
	on := func(p image.Point) bool {
		return p.X >= 0 && p.X < w && p.Y >= 0 && p.Y < h && bin[p.Y*w+p.X]
	}
	p0 := image.Pt(x0, y0)

	// search clockwise from west for the first foreground neighbor
	var p1 image.Point
	found := false
	for k := 0; k < 8; k++ {
		if n := p0.Add(dirs[(4-k+8)%8]); on(n) {
			p1, found = n, true
			break
		}
	}
	if !found {
		return []image.Point{p0} // isolated pixel
	}

	var pts []image.Point
	p2, p3 := p1, p0
	for {
		dd := dirIndex(p2.Sub(p3))
		var p4 image.Point
		for k := 1; k <= 8; k++ {
			if n := p3.Add(dirs[(dd+k)%8]); on(n) {
				p4 = n
				break
			}
		}
		pts = append(pts, p3)
		if p4 == p0 && p3 == p1 {
			return pts
		}
		p2, p3 = p3, p4
	}
}

// Area enclosed by the border polygon, by the shoelace formula
func (c *Contour) Area() float64 {
	s := 0
	n := len(c.Points)
	for i, p := range c.Points {
		q := c.Points[(i+1)%n]
		s += p.X*q.Y - q.X*p.Y
	}
	return math.Abs(float64(s)) / 2
}

// Length of the closed border polygon
func (c *Contour) Perimeter() float64 {
	n := len(c.Points)
	if n < 2 {
		return 0
	}
	s := 0.0
	for i, p := range c.Points {
		q := c.Points[(i+1)%n]
		s += math.Hypot(float64(q.X-p.X), float64(q.Y-p.Y))
	}
	return s
}

// Returns 4*pi*area/perimeter^2, which is 1 for a disk
func (c *Contour) Circularity() float64 {
	p := c.Perimeter()
	if p == 0 {
		return 0
	}
	return 4 * math.Pi * c.Area() / (p * p)
}

// Returns the pixel indices of the component including enclosed holes, in raster order
func (c *Contour) Fill(w, h int) []int32 {
	if len(c.Pixels) == 0 {
		return nil
	}
	// bounding box, extended by one pixel so the outside is connected
	x0, y0, x1, y1 := w, h, -1, -1
	for _, p := range c.Pixels {
		x, y := int(p)%w, int(p)/w
		x0, x1 = minInt(x0, x), maxInt(x1, x)
		y0, y1 = minInt(y0, y), maxInt(y1, y)
	}
	x0, y0, x1, y1 = x0-1, y0-1, x1+1, y1+1
	bw, bh := x1-x0+1, y1-y0+1
	wall := make([]bool, bw*bh)
	for _, p := range c.Pixels {
		x, y := int(p)%w, int(p)/w
		wall[(y-y0)*bw+(x-x0)] = true
	}

	// flood the outside with 4-connectivity
	outside := make([]bool, bw*bh)
	outside[0] = true
	stack := []int{0}
	for len(stack) > 0 {
		j := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := j%bw, j/bw
		for _, d := range dirs4 {
			xx, yy := x+d.X, y+d.Y
			if xx < 0 || xx >= bw || yy < 0 || yy >= bh {
				continue
			}
			k := yy*bw + xx
			if !wall[k] && !outside[k] {
				outside[k] = true
				stack = append(stack, k)
			}
		}
	}

	var res []int32
	for y := maxInt(y0, 0); y <= minInt(y1, h-1); y++ {
		for x := maxInt(x0, 0); x <= minInt(x1, w-1); x++ {
			if !outside[(y-y0)*bw+(x-x0)] {
				res = append(res, int32(y*w+x))
			}
		}
	}
	return res
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
