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

// Package frame holds single-channel and interleaved multi-channel float32
// image buffers, non-owning strided views into them, and their file formats.
package frame

import (
	"errors"
	"fmt"
)

// ErrShape signals mismatching or unsupported frame dimensions.
var ErrShape = errors.New("frame shape mismatch")

// A frame of a movie. Pixel (x,y,c) is stored at Data[(y*Width+x)*Channels+c]
type Frame struct {
	ID       int       // sequence number in the movie, starting at 0
	Width    int       // width in pixels
	Height   int       // height in pixels
	Channels int       // interleaved channels per pixel
	Data     []float32 // pixel data
}

// Creates a new frame with the given dimensions, initialized to zero
func New(id, width, height, channels int) *Frame {
	return &Frame{
		ID:       id,
		Width:    width,
		Height:   height,
		Channels: channels,
		Data:     make([]float32, width*height*channels),
	}
}

// Creates a new frame wrapping the given data, which must be of matching size
func FromData(id, width, height, channels int, data []float32) (*Frame, error) {
	if width < 0 || height < 0 || channels < 1 || len(data) != width*height*channels {
		return nil, fmt.Errorf("%w: %d values for %dx%dx%d", ErrShape, len(data), width, height, channels)
	}
	return &Frame{ID: id, Width: width, Height: height, Channels: channels, Data: data}, nil
}

// Returns a view covering the entire frame
func (f *Frame) View() View {
	return View{Data: f.Data, Width: f.Width, Height: f.Height, Stride: f.Width * f.Channels, Channels: f.Channels}
}

// Returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	c := *f
	c.Data = make([]float32, len(f.Data))
	copy(c.Data, f.Data)
	return &c
}

// Number of pixels in the frame, disregarding channels
func (f *Frame) Pixels() int {
	return f.Width * f.Height
}

// Returns a string representation of the frame dimensions
func (f *Frame) DimensionsToString() string {
	if f.Channels == 1 {
		return fmt.Sprintf("%dx%d", f.Width, f.Height)
	}
	return fmt.Sprintf("%dx%dx%d", f.Width, f.Height, f.Channels)
}
