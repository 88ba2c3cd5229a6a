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
	"github.com/mlnoga/caltrace/internal/frame"
)

// Aggregates per-frame ROIs into a movie-wise ROI set, then extracts fluorescence
// traces over that set from the registered frames. Pickup must see frames 0, 1, 2, ...
// without gaps, and extraction must follow FinalizePickup.
type MoviePicker interface {
	Pickup(frameID int, rois []ROI) error
	FinalizePickup() error
	ExtractFrame(v frame.View) error
	FinalizeFluo() (*Fluorescence, error)
	NumROIs() int
}

// Parameters of the movie-wise pickers
type PickerParams struct {
	SNRThreshold          float64 // minimum SNR of candidates, in dB
	MaxOverlap            int     // maximum number of already claimed pixels, non-overlapping picker
	JaccardThreshold      float64 // minimum Jaccard index for merging, weighted picker
	CentroidDistThreshold float64 // maximum centroid distance for merging, weighted picker
}

func DefaultPickerParams() PickerParams {
	return PickerParams{
		SNRThreshold:          20,
		MaxOverlap:            3,
		JaccardThreshold:      0.4,
		CentroidDistThreshold: 5,
	}
}

// Picks ROIs which overlap little with those picked before. Overlapping pixels are
// removed from the new ROI, so the picked ROIs are disjoint.
type Picker struct {
	pickBase
	params  PickerParams
	claimed []bool
	labels  *frame.Frame
	rois    []PickedROI
}

func NewPicker(width, height int, p PickerParams) *Picker {
	return &Picker{
		pickBase: pickBase{width: width, height: height},
		params:   p,
		claimed:  make([]bool, width*height),
		labels:   frame.New(0, width, height, 1),
	}
}

func (p *Picker) Pickup(frameID int, rois []ROI) error {
	if err := p.checkPickup(frameID); err != nil {
		return err
	}
	for i := range rois {
		r := &rois[i]
		if r.SNR <= p.params.SNRThreshold {
			continue
		}
		overlap := 0
		for _, px := range r.Pixels {
			if p.claimed[px] {
				overlap++
			}
		}
		if overlap > p.params.MaxOverlap {
			continue
		}
		pixels := make([]int32, 0, len(r.Pixels)-overlap)
		for _, px := range r.Pixels {
			if !p.claimed[px] {
				pixels = append(pixels, px)
			}
		}
		if len(pixels) == 0 {
			continue
		}
		id := len(p.rois) + 1
		for _, px := range pixels {
			p.claimed[px] = true
			p.labels.Data[px] = float32(id)
		}
		p.rois = append(p.rois, PickedROI{
			MaskID:   id,
			Frame:    frameID,
			Centroid: r.Centroid,
			SNR:      r.SNR,
			Area:     r.Area,
			Pixels:   pixels,
		})
	}
	return nil
}

func (p *Picker) FinalizePickup() error {
	var bg []int32
	for i, c := range p.claimed {
		if !c {
			bg = append(bg, int32(i))
		}
	}
	p.finalizePickup(bg)
	return nil
}

func (p *Picker) ExtractFrame(v frame.View) error {
	if err := p.checkExtract(v); err != nil {
		return err
	}
	pixels := make([][]int32, len(p.rois))
	for i := range p.rois {
		pixels[i] = p.rois[i].Pixels
	}
	p.extract(v, pixels, nil)
	return nil
}

func (p *Picker) FinalizeFluo() (*Fluorescence, error) {
	f, err := p.finalizeFluo(len(p.rois))
	if err != nil {
		return nil, err
	}
	f.ROIs = p.rois
	f.Mask = p.labels
	return f, nil
}

func (p *Picker) NumROIs() int { return len(p.rois) }

// The cumulative mask of picked ROI ids, 0 for background
func (p *Picker) Labels() *frame.Frame { return p.labels }
