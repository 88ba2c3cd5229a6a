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

package roi

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mlnoga/caltrace/internal/frame"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrLowBackground = errors.New("background level below 1.0")
var ErrSequence = errors.New("call FinalizePickup before extracting fluorescence")
var ErrFrameGap = errors.New("gap in frame sequence")
var ErrShape = frame.ErrShape

// An ROI accepted into the movie-wise set
type PickedROI struct {
	MaskID   int       `json:"maskID"`
	Frame    int       `json:"frame"` // frame of first detection
	Centroid Point2    `json:"centroid"`
	SNR      float64   `json:"snr"`
	Area     float64   `json:"area"`
	Pixels   []int32   `json:"pixels"`
	Weights  []float32 `json:"weights,omitempty"` // per pixel, weighted picker only
}

// Fluorescence traces of all picked ROIs. Matrices are indexed by frame, then ROI.
type Fluorescence struct {
	Width         int          `json:"width"`
	Height        int          `json:"height"`
	ROIs          []PickedROI  `json:"rois"`
	RawMean       [][]float32  `json:"rawMean"`
	RawSum        [][]float32  `json:"rawSum"`
	DFF           [][]float32  `json:"dff"`
	Background    []float32    `json:"background"`
	ResidualCount int          `json:"residualCount"`
	Mask          *frame.Frame `json:"-"` // ROI mask ids, or normalized blend of weights
	BlendRaw      *frame.Frame `json:"-"` // weighted picker only
	Residual      *frame.Frame `json:"-"` // weighted picker only
}

// Writes the picked ROIs and traces as JSON to the given file
func (f *Fluorescence) WriteJSONToFile(fileName string) error {
	bs, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(fileName, bs, 0644)
}

// Returns the trace of the given ROI as a column of the matrix
func Column(m [][]float32, roi int) []float32 {
	res := make([]float32, len(m))
	for i, row := range m {
		res[i] = row[roi]
	}
	return res
}

// Frame counting, call order checks and trace accumulation shared by the pickers
type pickBase struct {
	width, height int
	frames        int // frames picked up, or extracted after finalization
	finalized     bool
	background    []int32 // pixels outside all ROIs
	rawMean       [][]float32
	rawSum        [][]float32
	bgMean        []float32
	buf           []float64
}

func (p *pickBase) checkPickup(frameID int) error {
	if p.finalized {
		return fmt.Errorf("%w: pickup after FinalizePickup", ErrSequence)
	}
	if frameID != p.frames {
		return fmt.Errorf("%w: got frame %d, want %d", ErrFrameGap, frameID, p.frames)
	}
	p.frames++
	return nil
}

func (p *pickBase) finalizePickup(background []int32) {
	p.background = background
	p.frames = 0
	p.finalized = true
}

func (p *pickBase) checkExtract(v frame.View) error {
	if !p.finalized {
		return ErrSequence
	}
	if v.Width != p.width || v.Height != p.height || v.Channels != 1 {
		return fmt.Errorf("%w: extracting from %s, ROIs are %dx%d", frame.ErrShape, v.DimensionsToString(), p.width, p.height)
	}
	return nil
}

// Appends one frame of traces. Weights may be nil for unweighted ROIs.
func (p *pickBase) extract(v frame.View, pixels [][]int32, weights [][]float32) {
	mean, sum := make([]float32, len(pixels)), make([]float32, len(pixels))
	for i, px := range pixels {
		vals := p.gather(v, px)
		if weights != nil && weights[i] != nil {
			for j, w := range weights[i] {
				vals[j] *= float64(w)
			}
		}
		if len(vals) > 0 {
			sum[i] = float32(floats.Sum(vals))
			mean[i] = float32(stat.Mean(vals, nil))
		}
	}
	p.rawMean = append(p.rawMean, mean)
	p.rawSum = append(p.rawSum, sum)
	bg := 0.0
	if vals := p.gather(v, p.background); len(vals) > 0 {
		bg = stat.Mean(vals, nil)
	}
	p.bgMean = append(p.bgMean, float32(bg))
	p.frames++
}

// Gathers the values of the given pixels into a reused buffer
func (p *pickBase) gather(v frame.View, pixels []int32) []float64 {
	p.buf = p.buf[:0]
	for _, px := range pixels {
		p.buf = append(p.buf, float64(v.At(int(px)%p.width, int(px)/p.width)))
	}
	return p.buf
}

// Computes dF/F from the accumulated traces
func (p *pickBase) finalizeFluo(nrois int) (*Fluorescence, error) {
	if !p.finalized {
		return nil, ErrSequence
	}
	dff, err := DeltaFOverF(p.rawMean, p.bgMean, nrois)
	if err != nil {
		return nil, err
	}
	return &Fluorescence{
		Width:      p.width,
		Height:     p.height,
		RawMean:    p.rawMean,
		RawSum:     p.rawSum,
		DFF:        dff,
		Background: p.bgMean,
	}, nil
}

// Computes (raw-bg)/bg per ROI, shifted up by its minimum where that is negative.
// Fails if any background value is below 1.0, or if the arrays disagree on the number of
// frames or ROIs.
func DeltaFOverF(rawMean [][]float32, background []float32, nrois int) ([][]float32, error) {
	if len(background) != len(rawMean) {
		return nil, fmt.Errorf("%w: %d background values for %d frames", ErrShape, len(background), len(rawMean))
	}
	for i, row := range rawMean {
		if len(row) != nrois {
			return nil, fmt.Errorf("%w: frame %d has %d values for %d ROIs", ErrShape, i, len(row), nrois)
		}
	}
	for i, bg := range background {
		if bg < 1.0 {
			return nil, fmt.Errorf("%w: %g in frame %d", ErrLowBackground, bg, i)
		}
	}
	dff := make([][]float32, len(rawMean))
	for i := range dff {
		dff[i] = make([]float32, nrois)
	}
	col := make([]float64, len(rawMean))
	for r := 0; r < nrois && len(col) > 0; r++ {
		for i, row := range rawMean {
			bg := float64(background[i])
			col[i] = (float64(row[r]) - bg) / bg
		}
		if min := floats.Min(col); min < 0 {
			floats.AddConst(-min, col)
		}
		for i, v := range col {
			dff[i][r] = float32(v)
		}
	}
	return dff, nil
}
