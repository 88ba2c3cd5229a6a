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

// Package tiling partitions frames into tiles: bordered frames padded by an
// extrapolation policy, non-overlapping tiled views, overlapping stitched tiles
// with additive writes, and their composition used for piece-wise registration.
package tiling

import (
	"errors"
	"fmt"

	"github.com/mlnoga/caltrace/internal/frame"
)

// ErrShape signals frame or grid dimensions which cannot be tiled as requested.
var ErrShape = frame.ErrShape

// ErrAlreadyStitched signals a second Stitch on the same accumulation cycle.
var ErrAlreadyStitched = errors.New("stitch called twice without clean")

// ErrNotCleaned signals tile writes into an accumulator which was already stitched.
var ErrNotCleaned = errors.New("tile added after stitch without clean")

// A single-channel frame padded with a border on all four sides.
// The outer array has size (width+2*border) x (height+2*border).
type BorderedFrame struct {
	border     int
	borderType frame.BorderType
	width      int // inner width
	height     int // inner height
	outer      *frame.Frame
}

// Creates a bordered copy of src with given border width and extrapolation method
func NewBorderedFrame(src frame.View, border int, bt frame.BorderType) (*BorderedFrame, error) {
	if border < 0 {
		return nil, fmt.Errorf("%w: negative border %d", ErrShape, border)
	}
	if err := bt.Validate(); err != nil {
		return nil, err
	}
	if src.Channels != 1 {
		return nil, fmt.Errorf("%w: bordered frames need a single channel, got %d", ErrShape, src.Channels)
	}
	if src.Width < 1 || src.Height < 1 {
		return nil, fmt.Errorf("%w: empty frame %s", ErrShape, src.DimensionsToString())
	}
	b := &BorderedFrame{
		border:     border,
		borderType: bt,
		width:      src.Width,
		height:     src.Height,
		outer:      frame.New(0, src.Width+2*border, src.Height+2*border, 1),
	}
	b.fill(src)
	return b, nil
}

// Replaces the contents with a new frame of identical size and re-extrapolates the border
func (b *BorderedFrame) SetNew(src frame.View) error {
	if src.Width != b.width || src.Height != b.height || src.Channels != 1 {
		return fmt.Errorf("%w: bordered frame is %dx%d, new frame %s", ErrShape, b.width, b.height, src.DimensionsToString())
	}
	b.fill(src)
	return nil
}

func (b *BorderedFrame) fill(src frame.View) {
	out := b.outer.View()
	for y := 0; y < out.Height; y++ {
		row := out.Row(y)
		yi := frame.BorderIndex(y-b.border, b.height, b.borderType)
		for x := range row {
			xi := frame.BorderIndex(x-b.border, b.width, b.borderType)
			if xi < 0 || yi < 0 {
				row[x] = 0
			} else {
				row[x] = src.At(xi, yi)
			}
		}
	}
}

// The full padded array
func (b *BorderedFrame) Outer() frame.View { return b.outer.View() }

// The original frame area within the padded array
func (b *BorderedFrame) Inner() frame.View {
	return b.outer.View().Sub(b.border, b.border, b.width, b.height)
}

func (b *BorderedFrame) Border() int                  { return b.border }
func (b *BorderedFrame) BorderType() frame.BorderType { return b.borderType }
