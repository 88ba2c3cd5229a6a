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
	"fmt"
)

// A non-owning rectangular window into a frame. Rows are Stride elements apart,
// pixels within a row are Channels elements apart. Data starts at the first
// element of the top left pixel.
type View struct {
	Data     []float32
	Width    int
	Height   int
	Stride   int
	Channels int
}

// Returns a compact single-channel view of the given data
func NewView(data []float32, width, height int) View {
	return View{Data: data, Width: width, Height: height, Stride: width, Channels: 1}
}

// Index of channel c of pixel (x,y) in the data slice
func (v View) Index(x, y, c int) int {
	return y*v.Stride + x*v.Channels + c
}

// Returns the first channel of pixel (x,y)
func (v View) At(x, y int) float32 {
	return v.Data[y*v.Stride+x*v.Channels]
}

// Returns channel c of pixel (x,y)
func (v View) AtC(x, y, c int) float32 {
	return v.Data[y*v.Stride+x*v.Channels+c]
}

// Sets the first channel of pixel (x,y)
func (v View) Set(x, y int, val float32) {
	v.Data[y*v.Stride+x*v.Channels] = val
}

// Sets channel c of pixel (x,y)
func (v View) SetC(x, y, c int, val float32) {
	v.Data[y*v.Stride+x*v.Channels+c] = val
}

// Returns row y, with all channels interleaved
func (v View) Row(y int) []float32 {
	start := y * v.Stride
	return v.Data[start : start+v.Width*v.Channels]
}

// Returns true if rows follow each other without gaps
func (v View) IsCompact() bool {
	return v.Stride == v.Width*v.Channels || v.Height <= 1
}

// Returns true if both views have the same width, height and channels
func (v View) SameShape(o View) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Channels == o.Channels
}

// Pixels in the view, disregarding channels
func (v View) Pixels() int {
	return v.Width * v.Height
}

// Returns the sub-view of width w and height h starting at (x,y).
// Panics if the rectangle exceeds the view, like slicing does.
func (v View) Sub(x, y, w, h int) View {
	if x < 0 || y < 0 || w < 0 || h < 0 || x+w > v.Width || y+h > v.Height {
		panic(fmt.Sprintf("frame: sub-view (%d,%d)+%dx%d outside %dx%d", x, y, w, h, v.Width, v.Height))
	}
	res := View{Width: w, Height: h, Stride: v.Stride, Channels: v.Channels}
	if w == 0 || h == 0 {
		res.Data = v.Data[:0]
		return res
	}
	start := y*v.Stride + x*v.Channels
	end := (y+h-1)*v.Stride + (x+w)*v.Channels
	res.Data = v.Data[start:end]
	return res
}

// Copies all pixels from src, which must have the same shape
func (v View) CopyFrom(src View) error {
	if !v.SameShape(src) {
		return fmt.Errorf("%w: copying %s into %s", ErrShape, src.DimensionsToString(), v.DimensionsToString())
	}
	for y := 0; y < v.Height; y++ {
		copy(v.Row(y), src.Row(y))
	}
	return nil
}

// Adds all pixels from src, which must have the same shape
func (v View) AddFrom(src View) error {
	if !v.SameShape(src) {
		return fmt.Errorf("%w: adding %s into %s", ErrShape, src.DimensionsToString(), v.DimensionsToString())
	}
	for y := 0; y < v.Height; y++ {
		d, s := v.Row(y), src.Row(y)
		for i := range d {
			d[i] += s[i]
		}
	}
	return nil
}

// Sets all pixels and channels to the given value
func (v View) Fill(val float32) {
	for y := 0; y < v.Height; y++ {
		row := v.Row(y)
		for i := range row {
			row[i] = val
		}
	}
}

// Returns a compact copy of the view as a new frame with the given ID
func (v View) Clone(id int) *Frame {
	f := New(id, v.Width, v.Height, v.Channels)
	f.View().CopyFrom(v)
	return f
}

// Returns a string representation of the view dimensions
func (v View) DimensionsToString() string {
	if v.Channels == 1 {
		return fmt.Sprintf("%dx%d", v.Width, v.Height)
	}
	return fmt.Sprintf("%dx%dx%d", v.Width, v.Height, v.Channels)
}

func shapeError(dst, src View) error {
	return fmt.Errorf("%w: %s vs %s", ErrShape, dst.DimensionsToString(), src.DimensionsToString())
}
