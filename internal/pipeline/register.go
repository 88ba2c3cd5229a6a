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
	"github.com/mlnoga/caltrace/internal/reg"
	"github.com/mlnoga/caltrace/internal/roi"
	"github.com/mlnoga/caltrace/internal/stats"
)

// Result of the register-and-detect pass
type RegisterResult struct {
	Frames      int
	Width       int
	Height      int
	Registered  MemorySource // quantized registered frames, nil if they exceed the memory budget
	ROIs        *roi.MovieROIs
	Diagnostics *reg.Diagnostics
}

// Builds the optional steps applied to each frame before registration
func prefilterSteps(cfg *config.Config) *ops.OpSequence {
	seq := ops.NewOpSequence()
	if pcs := cfg.Registration.PCsToRemove; len(pcs) > 0 {
		seq.Append(ops.NewOpPCAWipe(pcs))
	}
	if size := cfg.Registration.MedianBlur; size > 0 {
		seq.Append(ops.NewOpMedian(size))
	}
	return seq
}

// Returns true if n frames of the given size fit into half the memory budget
func fitsMemory(c *ops.Context, width, height, n int) bool {
	bytes := int64(width) * int64(height) * 4 * int64(n)
	return bytes <= int64(c.MemoryMB)*1024*1024/2
}

// Returns the smallest power of two upscaling a frame to at least 512 pixels on its longer side
func previewUpscale(width, height int) int {
	size := width
	if height > size {
		size = height
	}
	upscale := 1
	for size > 0 && upscale*size < 512 {
		upscale *= 2
	}
	return upscale
}

// Registers all frames of a movie and detects ROIs frame by frame. Writes the registered
// frames, ROI fluorescence frames and ROI mask frames as 16-bit TIFF, the registration
// diagnostics and per-frame ROI lists as JSON, and a preview of the last frame with ROI overlay.
func RegisterDetect(ctx context.Context, c *ops.Context, cfg *config.Config, src FrameReader, out Outputs) (*RegisterResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := cfg.RegistrationParams()
	if err != nil {
		return nil, err
	}
	r, err := reg.New(cfg.Registration.Method, p, c)
	if err != nil {
		return nil, err
	}
	det := roi.NewDetector(cfg.DetectorParams(), c)
	pre := prefilterSteps(cfg)
	if err := out.MkdirAll(); err != nil {
		return nil, err
	}

	n := src.Len()
	if n == 0 {
		return nil, ErrNoFrames
	}
	res := &RegisterResult{ROIs: &roi.MovieROIs{}}
	keep := false
	var labels *frame.Frame
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := src.Read(i)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			res.Width, res.Height = f.Width, f.Height
			res.ROIs.Width, res.ROIs.Height = f.Width, f.Height
			keep = fitsMemory(c, f.Width, f.Height, n)
			if keep {
				res.Registered = make(MemorySource, 0, n)
			}
			c.Logf("Registering %d frames of %s pixels with method %s, keeping frames in memory: %v\n",
				n, f.DimensionsToString(), cfg.Registration.Method, keep)
		}
		if b := stats.CalcBasic(f.View()); !(b.Max > b.Min) {
			c.Warn(ops.Warning{FrameID: f.ID, Kind: ops.WarnLowRange, Row: -1, Col: -1,
				Message: fmt.Sprintf("constant input frame with value %g", b.Min)})
		} else if i == 0 {
			c.Logf("%d: Input %s\n", f.ID, b)
		}

		if f, err = pre.Apply(f, c); err != nil {
			return nil, err
		}
		if err := r.ProcessFrame(ctx, f); err != nil {
			return nil, err
		}
		if err := r.RegisterFrame(ctx, nil); err != nil {
			return nil, err
		}
		rois, err := det.Detect(r.Out8())
		if err != nil {
			return nil, err
		}
		res.ROIs.Add(rois)
		labels = rois.Labels

		registered := r.Registered()
		if err := registered.WriteTIFF16ToFile(out.Registered(f.ID), 0, 1); err != nil {
			return nil, fmt.Errorf("%d: %w", f.ID, err)
		}
		if err := rois.Masked.WriteTIFF16ToFile(out.ROIFluo(f.ID), 0, 255); err != nil {
			return nil, fmt.Errorf("%d: %w", f.ID, err)
		}
		if err := rois.Labels.WriteLabelTIFF16ToFile(out.ROIMask(f.ID)); err != nil {
			return nil, fmt.Errorf("%d: %w", f.ID, err)
		}
		if keep {
			res.Registered = append(res.Registered, Quantize16(registered))
		}
		res.Frames++
	}

	res.Diagnostics = r.Diagnostics()
	if err := res.Diagnostics.WriteJSONToFile(out.RegJSON()); err != nil {
		return nil, err
	}
	if err := res.ROIs.WriteJSONToFile(out.ROIsJSON()); err != nil {
		return nil, err
	}
	last := r.Out8()
	if err := last.WriteOverlayJPGToFile(out.Preview(), labels, 0, 255, previewUpscale(last.Width, last.Height), 90); err != nil {
		return nil, err
	}
	if pw, ok := r.(*reg.PieceWiseECC); ok {
		up := previewUpscale(last.Width, last.Height)
		mf := reg.DrawMotionField(pw.WarpStore(), last.Width*up, last.Height*up, 4*float64(up))
		if err := mf.WriteMonoJPGToFile(out.MotionField(), 0, 255, 1, 90); err != nil {
			return nil, err
		}
	}
	c.Logf("Registered %d frames with %s\nDetected %d ROIs\n", res.Frames, res.Diagnostics, res.ROIs.Count())
	return res, nil
}
