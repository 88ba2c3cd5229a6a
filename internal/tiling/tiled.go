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

// Integer breakpoints i*n/parts for i=0..parts
func breakpoints(n, parts int) []int {
	b := make([]int, parts+1)
	for i := range b {
		b[i] = i * n / parts
	}
	return b
}

// A view partitioned into a grid of nrows x ncols equally sized, non-overlapping tiles.
// Tiles are views into the underlying data, so reads and writes go through.
type TiledFrame struct {
	data      frame.View
	nrows     int
	ncols     int
	rowBreaks []int
	colBreaks []int
}

// Partitions data into nrows x ncols tiles. Height and width must be divisible by the grid size.
func NewTiledFrame(data frame.View, nrows, ncols int) (*TiledFrame, error) {
	if nrows < 1 || ncols < 1 {
		return nil, fmt.Errorf("%w: invalid tile grid %dx%d", ErrShape, nrows, ncols)
	}
	if data.Height%nrows != 0 || data.Width%ncols != 0 {
		return nil, fmt.Errorf("%w: %s not divisible into %dx%d tiles", ErrShape, data.DimensionsToString(), nrows, ncols)
	}
	return &TiledFrame{
		data:      data,
		nrows:     nrows,
		ncols:     ncols,
		rowBreaks: breakpoints(data.Height, nrows),
		colBreaks: breakpoints(data.Width, ncols),
	}, nil
}

func (t *TiledFrame) NRows() int      { return t.nrows }
func (t *TiledFrame) NCols() int      { return t.ncols }
func (t *TiledFrame) TileWidth() int  { return t.data.Width / t.ncols }
func (t *TiledFrame) TileHeight() int { return t.data.Height / t.nrows }

// Returns the tile at the given grid position. Panics if out of range.
func (t *TiledFrame) Tile(row, col int) frame.View {
	t.check(row, col)
	y0, x0 := t.rowBreaks[row], t.colBreaks[col]
	return t.data.Sub(x0, y0, t.colBreaks[col+1]-x0, t.rowBreaks[row+1]-y0)
}

// Overwrites the tile at the given grid position with src, which must have tile shape
func (t *TiledFrame) SetTile(row, col int, src frame.View) error {
	if err := t.Tile(row, col).CopyFrom(src); err != nil {
		return fmt.Errorf("tile (%d,%d): %w", row, col, err)
	}
	return nil
}

// Returns the whole underlying array
func (t *TiledFrame) All() frame.View { return t.data }

// Overwrites the whole underlying array with src
func (t *TiledFrame) SetAll(src frame.View) error { return t.data.CopyFrom(src) }

func (t *TiledFrame) check(row, col int) {
	if row < 0 || row >= t.nrows || col < 0 || col >= t.ncols {
		panic(fmt.Sprintf("tiling: tile (%d,%d) outside %dx%d grid", row, col, t.nrows, t.ncols))
	}
}
