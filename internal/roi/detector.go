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
	"math"
	"os"
	"slices"

	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/mlnoga/caltrace/internal/ops"
	"github.com/mlnoga/caltrace/internal/stats"
)

var ErrAlgorithm = errors.New("contour with near-zero perimeter")
var ErrSafeguard = errors.New("threshold iteration safeguard exceeded")

// Upper bound for the number of threshold levels per frame
const maxThresholdLevels = 0xFFFF

// Bound on the magnitude of reported SNR values, in dB
const maxSNR = 200

// A point in pixel coordinates, x is the column and y the row
type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// A region of interest detected in a frame
type ROI struct {
	ID           int     `json:"id"`
	Area         float64 `json:"area"`
	Perimeter    float64 `json:"perimeter"`
	Circularity  float64 `json:"circularity"`
	Centroid     Point2  `json:"centroid"`
	CenterOfMass Point2  `json:"centerOfMass"`
	FluoSum      float64 `json:"fluoSum"`
	FluoMean     float64 `json:"fluoMean"`
	SNR          float64 `json:"snr"` // 20*log10(FluoMean/noise std), in dB
	Pixels       []int32 `json:"pixels"`
}

// Parameters of the frame-wise ROI detector
type DetectorParams struct {
	CircMin          float64 // circularity bounds, circMin < circ <= circMax
	CircMax          float64
	AreaMin          float64 // area bounds, areaMin < area < areaMax
	AreaMax          float64
	ThreshDrop       int // step between threshold levels on the 8-bit scale
	MaxZeroROIFrames int // consecutive frames without ROIs before a warning
}

func DefaultDetectorParams() DetectorParams {
	return DetectorParams{
		CircMin:          0.5,
		CircMax:          1.0,
		AreaMin:          5,
		AreaMax:          2000,
		ThreshDrop:       10,
		MaxZeroROIFrames: 100,
	}
}

// The ROIs of a single frame
type FrameROIs struct {
	Frame    int          `json:"frame"`
	NoiseStd float64      `json:"noiseStd"`
	ROIs     []ROI        `json:"rois"`
	Labels   *frame.Frame `json:"-"` // ROI ids, 0 for background
	Masked   *frame.Frame `json:"-"` // input with all pixels outside candidates zeroed
}

// Detects ROIs frame by frame with an adaptive multi-level threshold
type Detector struct {
	params     DetectorParams
	c          *ops.Context
	zeroStreak int
}

func NewDetector(p DetectorParams, c *ops.Context) *Detector {
	return &Detector{params: p, c: c}
}

// Number of consecutive frames without ROIs, up to the most recent one
func (d *Detector) ZeroStreak() int { return d.zeroStreak }

// Detects the ROIs of a single-channel frame
func (d *Detector) Detect(f *frame.Frame) (*FrameROIs, error) {
	if f.Channels != 1 || f.Pixels() == 0 {
		return nil, fmt.Errorf("%w: ROI detection requires a non-empty single-channel frame", frame.ErrShape)
	}
	w, h := f.Width, f.Height
	v8 := frame.New(f.ID, w, h, 1)
	if err := frame.NormalizeToUint8(v8.View(), f.View()); err != nil {
		return nil, err
	}

	candidates, levels, err := d.candidateMask(v8.Data, w, h)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}

	// noise from non-candidate pixels, which are then zeroed
	_, noiseStd, _ := stats.MaskedMeanStdDev(f.View(), func(i int) bool { return !candidates[i] })
	masked := f.Clone()
	for i, c := range candidates {
		if !c {
			masked.Data[i] = 0
		}
	}

	// final pass over the consolidated candidate mask
	p := d.params
	labels := frame.New(f.ID, w, h, 1)
	res := &FrameROIs{Frame: f.ID, NoiseStd: noiseStd, ROIs: []ROI{}, Labels: labels, Masked: masked}
	for _, c := range FindContours(candidates, w, h) {
		perim, err := checkPerimeter(&c)
		if err != nil {
			return nil, fmt.Errorf("%d: %w", f.ID, err)
		}
		area, circ := c.Area(), c.Circularity()
		if area < p.AreaMin || area >= p.AreaMax || circ < p.CircMin || circ >= p.CircMax {
			continue
		}
		roi := newROI(len(res.ROIs)+1, c.Fill(w, h), masked.Data, w, noiseStd)
		roi.Area, roi.Perimeter, roi.Circularity = area, perim, circ
		for _, px := range roi.Pixels {
			labels.Data[px] = float32(roi.ID)
		}
		res.ROIs = append(res.ROIs, roi)
	}

	if len(res.ROIs) == 0 {
		d.zeroStreak++
		if d.zeroStreak == p.MaxZeroROIFrames {
			d.c.Warn(ops.Warning{FrameID: f.ID, Kind: ops.WarnNoROIs, Row: -1, Col: -1,
				Message: fmt.Sprintf("no ROIs in the last %d frames", d.zeroStreak)})
		}
	} else {
		d.zeroStreak = 0
	}
	d.c.Logf("%d: Detected %d ROIs in %d threshold levels, noise std %.4g\n", f.ID, len(res.ROIs), levels, noiseStd)
	return res, nil
}

// Lowers the threshold from the top of the 8-bit range until a level accepts no new
// contour, accumulating the filled accepted contours. Returns the mask and the number of levels.
func (d *Detector) candidateMask(v8 []float32, w, h int) ([]bool, int, error) {
	p := d.params
	mask := make([]bool, w*h)
	bin := make([]bool, w*h)
	thrMin, thrMax := 127, 255
	for level := 1; ; level++ {
		if level > maxThresholdLevels {
			return nil, level, ErrSafeguard
		}
		for i, v := range v8 {
			bin[i] = thrMax > 0 && v > float32(thrMin)
		}
		found := false
		for _, c := range FindContours(bin, w, h) {
			perim := c.Perimeter()
			if perim < 1 {
				continue
			}
			area, circ := c.Area(), c.Circularity()
			if p.CircMin < circ && circ <= p.CircMax && p.AreaMin < area && area < p.AreaMax {
				found = true
				for _, px := range c.Fill(w, h) {
					mask[px] = true
				}
			}
		}
		if !found {
			return mask, level, nil
		}
		thrMax = thrMin
		thrMin = thrMax - p.ThreshDrop
	}
}

// Returns the perimeter of a contour of the final pass, which cannot be degenerate
func checkPerimeter(c *Contour) (float64, error) {
	perim := c.Perimeter()
	if perim < 1e-3 {
		return 0, fmt.Errorf("%w at pixel %d", ErrAlgorithm, c.Pixels[0])
	}
	return perim, nil
}

// Computes the intensity features of a filled ROI
func newROI(id int, pixels []int32, data []float32, w int, noiseStd float64) ROI {
	r := ROI{ID: id, Pixels: pixels}
	var sx, sy, wx, wy float64
	for _, px := range pixels {
		x, y := float64(int(px)%w), float64(int(px)/w)
		v := float64(data[px])
		sx, sy = sx+x, sy+y
		wx, wy = wx+v*x, wy+v*y
		r.FluoSum += v
	}
	n := float64(len(pixels))
	r.FluoMean = r.FluoSum / n
	r.Centroid = Point2{sx / n, sy / n}
	if r.FluoSum != 0 {
		r.CenterOfMass = Point2{wx / r.FluoSum, wy / r.FluoSum}
	} else {
		r.CenterOfMass = r.Centroid
	}
	r.SNR = snr(r.FluoMean, noiseStd)
	return r
}

// Signal to noise ratio in dB, clamped to +-maxSNR
func snr(mean, std float64) float64 {
	if std <= 0 || mean <= 0 {
		if mean > 0 {
			return maxSNR
		}
		return -maxSNR
	}
	return math.Max(-maxSNR, math.Min(maxSNR, 20*math.Log10(mean/std)))
}

// The ROIs of all frames of a movie
type MovieROIs struct {
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Frames []FrameROIs `json:"frames"`
}

func (m *MovieROIs) Add(r *FrameROIs) {
	m.Frames = append(m.Frames, FrameROIs{Frame: r.Frame, NoiseStd: r.NoiseStd, ROIs: r.ROIs})
}

// Total number of ROIs over all frames
func (m *MovieROIs) Count() int {
	n := 0
	for _, f := range m.Frames {
		n += len(f.ROIs)
	}
	return n
}

// Writes the per-frame ROI lists as JSON to the given file
func (m *MovieROIs) WriteJSONToFile(fileName string) error {
	bs, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(fileName, bs, 0644)
}

// Reads per-frame ROI lists from a JSON file
func ReadMovieROIsFile(fileName string) (*MovieROIs, error) {
	bs, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	m := &MovieROIs{}
	if err := json.Unmarshal(bs, m); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", fileName, err)
	}
	if err := m.Normalize(); err != nil {
		return nil, fmt.Errorf("error in %s: %w", fileName, err)
	}
	return m, nil
}

// Sorts and deduplicates the pixel indices of every ROI, as the pickers require.
// Returns a wrapped ErrShape if the frame size is empty or a pixel lies outside the frame.
func (m *MovieROIs) Normalize() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: ROI lists for %dx%d frames", ErrShape, m.Width, m.Height)
	}
	n := int32(m.Width * m.Height)
	for fi := range m.Frames {
		f := &m.Frames[fi]
		for ri := range f.ROIs {
			r := &f.ROIs[ri]
			slices.Sort(r.Pixels)
			r.Pixels = slices.Compact(r.Pixels)
			if len(r.Pixels) > 0 && (r.Pixels[0] < 0 || r.Pixels[len(r.Pixels)-1] >= n) {
				return fmt.Errorf("%w: frame %d ROI %d has pixels outside %dx%d", ErrShape, f.Frame, r.ID, m.Width, m.Height)
			}
		}
	}
	return nil
}
