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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mlnoga/caltrace/internal/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// A tile that did not converge or jumped too far in a given frame
type TileEvent struct {
	Frame int `json:"frame"`
	Row   int `json:"row"`
	Col   int `json:"col"`
}

// Registration results of a single frame. Tile-wise slices are in row-major tile order,
// with six warp matrix entries per tile.
type FrameRecord struct {
	Frame      int       `json:"frame"`
	CorrCoef   []float32 `json:"corrCoef"`
	Dist       []float32 `json:"dist"`
	DoWarp     []bool    `json:"doWarp"`
	WarpMatrix []float32 `json:"warpMatrix"`
}

func newFrameRecord(id, tiles int) FrameRecord {
	return FrameRecord{
		Frame:      id,
		CorrCoef:   make([]float32, tiles),
		Dist:       make([]float32, tiles),
		DoWarp:     make([]bool, tiles),
		WarpMatrix: make([]float32, 6*tiles),
	}
}

// Largest inter-frame tile distance
func (r *FrameRecord) MaxDist() float64 {
	if len(r.Dist) == 0 {
		return 0
	}
	return floats.Max(float64Data(r.Dist))
}

// Average correlation coefficient over all tiles
func (r *FrameRecord) MeanCorr() float64 {
	if len(r.CorrCoef) == 0 {
		return 0
	}
	return stat.Mean(float64Data(r.CorrCoef), nil)
}

// Cumulative registration diagnostics of a movie
type Diagnostics struct {
	Method       string        `json:"method"`
	NRows        int           `json:"nRows"`
	NCols        int           `json:"nCols"`
	MaxShift     float64       `json:"maxShift"`
	Frames       []FrameRecord `json:"frames"`
	NotConverged []TileEvent   `json:"notConverged"`
	HighJumps    []TileEvent   `json:"highJumps"`
}

func newDiagnostics(method string, nrows, ncols int, maxShift float64) *Diagnostics {
	return &Diagnostics{
		Method:       method,
		NRows:        nrows,
		NCols:        ncols,
		MaxShift:     maxShift,
		Frames:       []FrameRecord{},
		NotConverged: []TileEvent{},
		HighJumps:    []TileEvent{},
	}
}

// Statistics of the per-frame mean correlation and maximum tile distance
func (d *Diagnostics) Summary() (corr, dist stats.Basic) {
	corrs, dists := make([]float64, len(d.Frames)), make([]float64, len(d.Frames))
	for i := range d.Frames {
		corrs[i], dists[i] = d.Frames[i].MeanCorr(), d.Frames[i].MaxDist()
	}
	return stats.CalcBasicFloat64(corrs), stats.CalcBasicFloat64(dists)
}

func (d *Diagnostics) String() string {
	corr, dist := d.Summary()
	return fmt.Sprintf("%s on %dx%d tiles, %d frames, %d not converged, %d high jumps\nCorrelation %s\nMax distance %s",
		d.Method, d.NRows, d.NCols, len(d.Frames), len(d.NotConverged), len(d.HighJumps), corr, dist)
}

// Writes the diagnostics as indented JSON
func (d *Diagnostics) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// Writes the diagnostics as indented JSON to the given file
func (d *Diagnostics) WriteJSONToFile(fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	if err := d.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
