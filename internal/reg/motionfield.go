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
	"math"

	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/mlnoga/caltrace/internal/tiling"
)

// Draws the tile grid of a width x height frame, a cross at each tile center, and a line
// from each center along the tile translation magnified by zoom. Warps are read from the
// 2x3 blocks of the given store. Lines have value 255 on a zero background.
func DrawMotionField(store *tiling.TiledFrame, width, height int, zoom float64) *frame.Frame {
	f := frame.New(0, width, height, 1)
	v := f.View()
	nrows, ncols := store.NRows(), store.NCols()
	for row := 0; row < nrows; row++ {
		y0, y1 := row*height/nrows, (row+1)*height/nrows
		for col := 0; col < ncols; col++ {
			x0, x1 := col*width/ncols, (col+1)*width/ncols
			drawLine(v, x0, y0, x1-1, y0)
			drawLine(v, x0, y0, x0, y1-1)
			cx, cy := (x0+x1)/2, (y0+y1)/2
			drawLine(v, cx-2, cy, cx+2, cy)
			drawLine(v, cx, cy-2, cx, cy+2)

			t := store.Tile(row, col)
			tx, ty := float64(t.At(2, 0)), float64(t.At(2, 1))
			ex := cx + int(math.Round(tx*zoom))
			ey := cy + int(math.Round(ty*zoom))
			drawLine(v, cx, cy, ex, ey)
		}
	}
	return f
}

// Bresenham line, clipped to the view
func drawLine(v frame.View, x0, y0, x1, y1 int) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		if x0 >= 0 && x0 < v.Width && y0 >= 0 && y0 < v.Height {
			v.Set(x0, y0, 255)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
