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

package tiling

import (
	"fmt"

	"github.com/mlnoga/caltrace/internal/frame"
)

// A view partitioned into a grid of tiles which overlap their neighbors by a margin.
// Tiles are read from the source view, and written additively into an owned accumulator
// of the same size, so that overlapping contributions sum up.
type StitchedFrame struct {
	src       frame.View
	nrows     int
	ncols     int
	margin    int
	rowBreaks []int
	colBreaks []int
	acc       *frame.Frame
}

// Partitions src into nrows x ncols tiles extended by margin into their neighbors.
// Height and width must be divisible by the grid size.
func NewStitchedFrame(src frame.View, nrows, ncols, margin int) (*StitchedFrame, error) {
	if margin < 0 {
		return nil, fmt.Errorf("%w: negative margin %d", ErrShape, margin)
	}
	if _, err := NewTiledFrame(src, nrows, ncols); err != nil {
		return nil, err
	}
	return &StitchedFrame{
		src:       src,
		nrows:     nrows,
		ncols:     ncols,
		margin:    margin,
		rowBreaks: breakpoints(src.Height, nrows),
		colBreaks: breakpoints(src.Width, ncols),
		acc:       frame.New(0, src.Width, src.Height, src.Channels),
	}, nil
}

func (s *StitchedFrame) NRows() int  { return s.nrows }
func (s *StitchedFrame) NCols() int  { return s.ncols }
func (s *StitchedFrame) Margin() int { return s.margin }

// Extends the half-open interval of part i of n by the margin on its interior sides,
// clipped to [0,limit)
func extend(breaks []int, i, margin, limit int) (start, end int) {
	n := len(breaks) - 1
	start, end = breaks[i], breaks[i+1]
	if n > 1 {
		if i > 0 {
			start -= margin
		}
		if i < n-1 {
			end += margin
		}
	}
	if start < 0 {
		start = 0
	}
	if end > limit {
		end = limit
	}
	return start, end
}

// Returns the read region of the tile at the given grid position as x0, y0, x1, y1
func (s *StitchedFrame) Region(row, col int) (x0, y0, x1, y1 int) {
	if row < 0 || row >= s.nrows || col < 0 || col >= s.ncols {
		panic(fmt.Sprintf("tiling: tile (%d,%d) outside %dx%d grid", row, col, s.nrows, s.ncols))
	}
	y0, y1 = extend(s.rowBreaks, row, s.margin, s.src.Height)
	x0, x1 = extend(s.colBreaks, col, s.margin, s.src.Width)
	return x0, y0, x1, y1
}

// Returns the extended tile at the given grid position from the source
func (s *StitchedFrame) Tile(row, col int) frame.View {
	x0, y0, x1, y1 := s.Region(row, col)
	return s.src.Sub(x0, y0, x1-x0, y1-y0)
}

// Adds tile into the accumulator at the region of the given grid position
func (s *StitchedFrame) AddTile(row, col int, tile frame.View) error {
	x0, y0, x1, y1 := s.Region(row, col)
	if err := s.acc.View().Sub(x0, y0, x1-x0, y1-y0).AddFrom(tile); err != nil {
		return fmt.Errorf("tile (%d,%d): %w", row, col, err)
	}
	return nil
}

// Replaces the source view. It must have the same shape as the original one.
func (s *StitchedFrame) SetSource(src frame.View) error {
	if !src.SameShape(s.src) {
		return fmt.Errorf("%w: stitched source is %s, new one %s", ErrShape, s.src.DimensionsToString(), src.DimensionsToString())
	}
	s.src = src
	return nil
}

// The source view tiles are read from
func (s *StitchedFrame) Source() frame.View { return s.src }

// The accumulated output
func (s *StitchedFrame) Output() frame.View { return s.acc.View() }

// Resets the accumulated output to zero
func (s *StitchedFrame) Clean() { s.acc.View().Fill(0) }
