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
	"context"
	"errors"
	"fmt"

	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/mlnoga/caltrace/internal/ops"
	"golang.org/x/image/math/f64"
)

// Whole-frame registration. Each prefiltered frame is aligned to the previous 8-bit
// output with a single ECC warp seeded from the identity.
type FrameECC struct {
	base
	Aligner TileAligner

	warp   f64.Aff3
	doWarp bool
}

func NewFrameECC(p Params, c *ops.Context) (*FrameECC, error) {
	b, err := newBase(MethodFrame, p, c)
	if err != nil {
		return nil, err
	}
	return &FrameECC{
		base:    b,
		Aligner: NewECC(p.Motion, p.MaxIter, p.Eps),
		warp:    Identity,
	}, nil
}

func (r *FrameECC) ProcessFrame(ctx context.Context, in *frame.Frame) error {
	if err := r.preprocess(ctx, in); err != nil {
		return err
	}
	r.warp, r.doWarp = Identity, false
	if r.frames == 1 || r.out8 == nil {
		return nil
	}
	in8 := frame.New(in.ID, in.Width, in.Height, 1)
	if err := frame.NormalizeToUint8(in8.View(), r.prefiltered.View()); err != nil {
		return err
	}
	m, res := r.Aligner.Align(ctx, r.out8.View(), in8.View(), Identity)
	rec := newFrameRecord(in.ID, 1)
	switch res.Status {
	case ECCAborted:
		if ctx.Err() != nil {
			return fmt.Errorf("%d: %w", in.ID, ctx.Err())
		}
		return fmt.Errorf("%d: %w", in.ID, errors.New(res.Reason))
	case ECCNotConverged:
		r.diag.NotConverged = append(r.diag.NotConverged, TileEvent{in.ID, 0, 0})
		r.c.Warn(ops.Warning{FrameID: in.ID, Kind: ops.WarnNotConverged, Row: -1, Col: -1, Message: res.Reason})
	default:
		r.warp, r.doWarp = m, true
		rec.CorrCoef[0] = float32(res.CorrCoef)
	}
	rec.Dist[0] = float32(translationDistance(r.warp, Identity))
	rec.DoWarp[0] = r.doWarp
	for k := 0; k < 6; k++ {
		rec.WarpMatrix[k] = float32(r.warp[k])
	}
	r.diag.Frames = append(r.diag.Frames, rec)
	r.c.Logf("%d: Aligned frame, distance %.3f, correlation %.4f\n", in.ID, rec.Dist[0], rec.CorrCoef[0])
	return nil
}

// Warps the frame with the estimate from ProcessFrame, if the solver converged
func (r *FrameECC) RegisterFrame(ctx context.Context, in *frame.Frame) error {
	source, err := r.source(in)
	if err != nil {
		return err
	}
	if !r.doWarp {
		return r.publish(source.View().Clone(source.ID))
	}
	reg := frame.New(source.ID, source.Width, source.Height, 1)
	if err := WarpAffine(reg.View(), source.View(), r.warp, r.params.WarpBorder); err != nil {
		return err
	}
	return r.publish(reg)
}

// The warp estimated for the most recent frame
func (r *FrameECC) Warp() f64.Aff3 { return r.warp }
