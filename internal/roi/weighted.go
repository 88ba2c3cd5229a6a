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
	"math"

	"github.com/mlnoga/caltrace/internal/frame"
)

// A source observed in one or more frames, with per-pixel accumulation weights
type identity struct {
	id       int
	frame    int
	centroid Point2 // of the first observation
	snr      float64
	area     float64
	pixels   []int32 // sorted
	weights  []float32
}

// Picks ROIs softly: a candidate which matches an identity by Jaccard index and
// centroid distance is merged into it, one with negligible overlap becomes a new
// identity, and ambiguous ones are collected in a residual map.
type WeightedPicker struct {
	pickBase
	params        PickerParams
	ids           []*identity
	blendRaw      *frame.Frame
	blendNorm     *frame.Frame
	residual      *frame.Frame
	residualCount int
	canvas        []float32
}

func NewWeightedPicker(width, height int, p PickerParams) *WeightedPicker {
	return &WeightedPicker{
		pickBase:  pickBase{width: width, height: height},
		params:    p,
		blendRaw:  frame.New(0, width, height, 1),
		blendNorm: frame.New(0, width, height, 1),
		residual:  frame.New(0, width, height, 1),
		canvas:    make([]float32, width*height),
	}
}

func (p *WeightedPicker) Pickup(frameID int, rois []ROI) error {
	if err := p.checkPickup(frameID); err != nil {
		return err
	}
	for i := range rois {
		if rois[i].SNR > p.params.SNRThreshold {
			p.pickup(frameID, &rois[i])
		}
	}
	return nil
}

func (p *WeightedPicker) pickup(frameID int, r *ROI) {
	best, bestJaccard := -1, -1.0
	for i, id := range p.ids {
		if j := jaccard(id.pixels, r.Pixels); j > bestJaccard {
			best, bestJaccard = i, j
		}
	}

	if best < 0 || bestJaccard < 1e-3 {
		weights := make([]float32, len(r.Pixels))
		for i, px := range r.Pixels {
			weights[i] = 1
			p.blendRaw.Data[px]++
		}
		p.ids = append(p.ids, &identity{
			id:       len(p.ids) + 1,
			frame:    frameID,
			centroid: r.Centroid,
			snr:      r.SNR,
			area:     r.Area,
			pixels:   append([]int32(nil), r.Pixels...),
			weights:  weights,
		})
		return
	}

	id := p.ids[best]
	dist := math.Hypot(r.Centroid.X-id.centroid.X, r.Centroid.Y-id.centroid.Y)
	if bestJaccard > p.params.JaccardThreshold && dist < p.params.CentroidDistThreshold {
		for i, px := range id.pixels {
			p.canvas[px] = id.weights[i]
		}
		for _, px := range r.Pixels {
			p.canvas[px]++
		}
		union := mergeSorted(id.pixels, r.Pixels)
		weights := make([]float32, len(union))
		for i, px := range union {
			weights[i] = p.canvas[px]
			p.canvas[px] = 0
			p.blendRaw.Data[px]++
		}
		id.pixels, id.weights = union, weights
		return
	}

	for _, px := range r.Pixels {
		p.residual.Data[px]++
	}
	p.residualCount++
}

// Normalizes the weights of every identity to a maximum of 1 and blends them
func (p *WeightedPicker) FinalizePickup() error {
	for _, id := range p.ids {
		max := float32(0)
		for _, w := range id.weights {
			if w > max {
				max = w
			}
		}
		for i, px := range id.pixels {
			if max > 0 {
				id.weights[i] /= max
			}
			p.blendNorm.Data[px] += id.weights[i]
		}
	}
	var bg []int32
	for i, v := range p.blendRaw.Data {
		if v == 0 {
			bg = append(bg, int32(i))
		}
	}
	p.finalizePickup(bg)
	return nil
}

// Appends the weighted mean and sum of every identity for the given frame
func (p *WeightedPicker) ExtractFrame(v frame.View) error {
	if err := p.checkExtract(v); err != nil {
		return err
	}
	pixels, weights := make([][]int32, len(p.ids)), make([][]float32, len(p.ids))
	for i, id := range p.ids {
		pixels[i], weights[i] = id.pixels, id.weights
	}
	p.extract(v, pixels, weights)
	return nil
}

func (p *WeightedPicker) FinalizeFluo() (*Fluorescence, error) {
	f, err := p.finalizeFluo(len(p.ids))
	if err != nil {
		return nil, err
	}
	f.ROIs = make([]PickedROI, len(p.ids))
	for i, id := range p.ids {
		f.ROIs[i] = PickedROI{
			MaskID:   id.id,
			Frame:    id.frame,
			Centroid: id.centroid,
			SNR:      id.snr,
			Area:     id.area,
			Pixels:   id.pixels,
			Weights:  id.weights,
		}
	}
	f.Mask, f.BlendRaw, f.Residual = p.blendNorm, p.blendRaw, p.residual
	f.ResidualCount = p.residualCount
	return f, nil
}

func (p *WeightedPicker) NumROIs() int { return len(p.ids) }

// Number of candidates which neither matched nor were distinct enough to become new identities
func (p *WeightedPicker) ResidualCount() int { return p.residualCount }

// Returns the pixels and normalized weights of the i-th identity
func (p *WeightedPicker) Identity(i int) ([]int32, []float32) {
	return p.ids[i].pixels, p.ids[i].weights
}

// Jaccard index of two sorted pixel sets, the size of the intersection over the size of the union
func jaccard(a, b []int32) float64 {
	inter := 0
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			inter++
			i++
			j++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Union of two sorted pixel sets
func mergeSorted(a, b []int32) []int32 {
	res := make([]int32, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			res = append(res, a[i])
			i++
		case a[i] > b[j]:
			res = append(res, b[j])
			j++
		default:
			res = append(res, a[i])
			i++
			j++
		}
	}
	res = append(res, a[i:]...)
	return append(res, b[j:]...)
}
