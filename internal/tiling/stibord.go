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

// A bordered frame partitioned into overlapping stitched tiles, with a lining matrix
// counting how many tiles cover each pixel. After all tiles of a cycle have been added,
// Stitch averages the overlapping contributions. Each cycle must start with Clean.
type StiBordFrame struct {
	bordered   *BorderedFrame
	stitched   *StitchedFrame
	lining     *frame.Frame
	isStitched bool
}

// Creates a stitched bordered frame from src. Border must be even and non-negative, and
// the bordered height and width must be divisible by the grid size. Tiles overlap by half the border.
func NewStiBordFrame(src frame.View, border int, bt frame.BorderType, nrows, ncols int) (*StiBordFrame, error) {
	if border < 0 || border%2 != 0 {
		return nil, fmt.Errorf("%w: border %d must be even and non-negative", ErrShape, border)
	}
	bordered, err := NewBorderedFrame(src, border, bt)
	if err != nil {
		return nil, err
	}
	stitched, err := NewStitchedFrame(bordered.Outer(), nrows, ncols, border/2)
	if err != nil {
		return nil, err
	}

	// accumulate a constant array of ones through the same tiling to obtain multiplicities
	ones := frame.New(0, bordered.Outer().Width, bordered.Outer().Height, 1)
	ones.View().Fill(1)
	liner, err := NewStitchedFrame(ones.View(), nrows, ncols, border/2)
	if err != nil {
		return nil, err
	}
	for row := 0; row < nrows; row++ {
		for col := 0; col < ncols; col++ {
			if err := liner.AddTile(row, col, liner.Tile(row, col)); err != nil {
				return nil, err
			}
		}
	}

	return &StiBordFrame{
		bordered: bordered,
		stitched: stitched,
		lining:   liner.acc,
	}, nil
}

// Replaces the bordered input with a new frame of identical size
func (s *StiBordFrame) SetNew(src frame.View) error { return s.bordered.SetNew(src) }

// Returns the extended tile at the given grid position from the bordered input
func (s *StiBordFrame) Tile(row, col int) frame.View { return s.stitched.Tile(row, col) }

// Returns the read region of the given tile within the bordered array as x0, y0, x1, y1
func (s *StiBordFrame) Region(row, col int) (x0, y0, x1, y1 int) {
	return s.stitched.Region(row, col)
}

// Adds a tile into the accumulator. Fails after Stitch until the next Clean.
func (s *StiBordFrame) AddTile(row, col int, tile frame.View) error {
	if s.isStitched {
		return ErrNotCleaned
	}
	return s.stitched.AddTile(row, col, tile)
}

// Divides accumulated values by the lining wherever tiles overlap.
// Must be called exactly once per cycle.
func (s *StiBordFrame) Stitch() error {
	if s.isStitched {
		return ErrAlreadyStitched
	}
	acc, lin := s.stitched.acc.Data, s.lining.Data
	for i, l := range lin {
		if l > 1 {
			acc[i] /= l
		}
	}
	s.isStitched = true
	return nil
}

// Resets the accumulator to zero and starts a new cycle
func (s *StiBordFrame) Clean() {
	s.stitched.Clean()
	s.isStitched = false
}

// The stitched result, cropped to the original frame area
func (s *StiBordFrame) Output() frame.View {
	b := s.bordered.Border()
	in := s.bordered.Inner()
	return s.stitched.Output().Sub(b, b, in.Width, in.Height)
}

// The stitched result including the border
func (s *StiBordFrame) OuterOutput() frame.View { return s.stitched.Output() }

// The lining matrix over the bordered array
func (s *StiBordFrame) Lining() frame.View { return s.lining.View() }

// The bordered input
func (s *StiBordFrame) Bordered() *BorderedFrame { return s.bordered }

func (s *StiBordFrame) NRows() int  { return s.stitched.nrows }
func (s *StiBordFrame) NCols() int  { return s.stitched.ncols }
func (s *StiBordFrame) Border() int { return s.bordered.Border() }
