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

package pipeline

import (
	"context"
	"fmt"

	"github.com/mlnoga/caltrace/internal/config"
	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/mlnoga/caltrace/internal/ops"
	"github.com/mlnoga/caltrace/internal/roi"
)

// Creates the movie-wise picker selected by the configuration
func newPicker(cfg *config.Config, width, height int) roi.MoviePicker {
	if cfg.Pickup.Weighted {
		return roi.NewWeightedPicker(width, height, cfg.PickerParams())
	}
	return roi.NewPicker(width, height, cfg.PickerParams())
}

// Picks ROIs movie-wise from the per-frame ROI lists, then extracts their fluorescence
// traces from the registered frames. Writes the traces as JSON and the picked ROI mask
// as 16-bit TIFF.
func PickupExtract(ctx context.Context, c *ops.Context, cfg *config.Config, rois *roi.MovieROIs, frames FrameReader, out Outputs) (*roi.Fluorescence, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rois.Width <= 0 || rois.Height <= 0 {
		return nil, fmt.Errorf("%w: ROI lists for %dx%d frames", frame.ErrShape, rois.Width, rois.Height)
	}
	if err := out.MkdirAll(); err != nil {
		return nil, err
	}
	picker := newPicker(cfg, rois.Width, rois.Height)
	for i := range rois.Frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fr := &rois.Frames[i]
		if err := picker.Pickup(fr.Frame, fr.ROIs); err != nil {
			return nil, fmt.Errorf("%d: pickup: %w", fr.Frame, err)
		}
	}
	if err := picker.FinalizePickup(); err != nil {
		return nil, err
	}
	c.Logf("Picked %d ROIs from %d frames\n", picker.NumROIs(), len(rois.Frames))

	for i := 0; i < frames.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := frames.Read(i)
		if err != nil {
			return nil, err
		}
		if err := picker.ExtractFrame(f.View()); err != nil {
			return nil, fmt.Errorf("%d: extract: %w", f.ID, err)
		}
	}
	fluo, err := picker.FinalizeFluo()
	if err != nil {
		return nil, err
	}
	c.Logf("Extracted fluorescence of %d ROIs from %d frames\n", len(fluo.ROIs), len(fluo.RawMean))

	if err := fluo.WriteJSONToFile(out.FluoJSON()); err != nil {
		return nil, err
	}
	if fluo.Mask != nil {
		if cfg.Pickup.Weighted {
			err = fluo.Mask.WriteTIFF16ToFile(out.FluoMask(), 0, 1)
		} else {
			err = fluo.Mask.WriteLabelTIFF16ToFile(out.FluoMask())
		}
		if err != nil {
			return nil, err
		}
	}
	return fluo, nil
}

// Reads the per-frame ROI lists and registered frames written by an earlier
// register-and-detect pass with the same outputs, and runs pickup and extraction on them.
func PickupExtractFromFiles(ctx context.Context, c *ops.Context, cfg *config.Config, out Outputs) (*roi.Fluorescence, error) {
	rois, err := roi.ReadMovieROIsFile(out.ROIsJSON())
	if err != nil {
		return nil, err
	}
	frames, err := NewFrameSource(out.RegisteredPattern())
	if err != nil {
		return nil, err
	}
	return PickupExtract(ctx, c, cfg, rois, frames, out)
}

// Runs both passes. Registered frames are passed on in memory if they fit into the
// memory budget, and re-read from disk otherwise.
func Run(ctx context.Context, c *ops.Context, cfg *config.Config, src FrameReader, out Outputs) (*RegisterResult, *roi.Fluorescence, error) {
	res, err := RegisterDetect(ctx, c, cfg, src, out)
	if err != nil {
		return nil, nil, err
	}
	var frames FrameReader = res.Registered
	if res.Registered == nil {
		c.Logf("Re-reading registered frames from %s\n", out.RegisteredPattern())
		if frames, err = NewFrameSource(out.RegisteredPattern()); err != nil {
			return nil, nil, err
		}
	}
	fluo, err := PickupExtract(ctx, c, cfg, res.ROIs, frames, out)
	if err != nil {
		return nil, nil, err
	}
	return res, fluo, nil
}
