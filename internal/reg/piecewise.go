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
	"github.com/mlnoga/caltrace/internal/tiling"
	"golang.org/x/image/math/f64"
)

// Piece-wise registration. Each frame is partitioned into overlapping bordered tiles,
// every tile is aligned to the reference with its own ECC warp, and the warped tiles
// are stitched back together with lining-weighted averaging. This corrects motion which
// varies across the field of view.
type PieceWiseECC struct {
	base
	Aligner TileAligner // per-tile alignment, an ECC solver by default

	ref    *tiling.StiBordFrame // reference tiles
	cur    *tiling.StiBordFrame // tiles of the current prefiltered frame
	src    *tiling.StiBordFrame // tiles of the frame being registered, and the stitching accumulator
	warps  []f64.Aff3           // current warp per tile, row-major
	doWarp []bool               // whether the current warp of a tile is applied
	store  *tiling.TiledFrame   // warps as 2x3 blocks, for visualization
}

type tileResult struct {
	warp f64.Aff3
	res  ECCResult
}

// Creates a piece-wise registration. Params carry no frame size, so whether the bordered
// frame divides evenly into the tile grid is checked by the first ProcessFrame, which
// returns a wrapped tiling.ErrShape and leaves the engine ready for another first frame.
func NewPieceWiseECC(p Params, c *ops.Context) (*PieceWiseECC, error) {
	b, err := newBase(MethodPieceWise, p, c)
	if err != nil {
		return nil, err
	}
	n := p.NRows * p.NCols
	warps := make([]f64.Aff3, n)
	for i := range warps {
		warps[i] = Identity
	}
	storeFrame := frame.New(0, 3*p.NCols, 2*p.NRows, 1)
	store, err := tiling.NewTiledFrame(storeFrame.View(), p.NRows, p.NCols)
	if err != nil {
		return nil, err
	}
	r := &PieceWiseECC{
		base:    b,
		Aligner: NewECC(p.Motion, p.MaxIter, p.Eps),
		warps:   warps,
		doWarp:  make([]bool, n),
		store:   store,
	}
	r.storeWarps()
	return r, nil
}

// Prefilters the frame and aligns all tiles to the reference, concurrently on up to
// MaxThreads goroutines. The first frame establishes the reference.
func (r *PieceWiseECC) ProcessFrame(ctx context.Context, in *frame.Frame) error {
	if err := r.preprocess(ctx, in); err != nil {
		return err
	}
	pre := r.prefiltered.View()
	if r.frames == 1 {
		if err := r.init(pre); err != nil {
			r.frames, r.pending = 0, false
			return err
		}
		return nil
	}
	if err := r.cur.SetNew(pre); err != nil {
		return err
	}

	nrows, ncols := r.params.NRows, r.params.NCols
	results := make([]tileResult, nrows*ncols)
	err := ops.ForEach(ctx, len(results), r.c.MaxThreads, func(i int) error {
		row, col := i/ncols, i%ncols
		m, res := r.Aligner.Align(ctx, r.ref.Tile(row, col), r.cur.Tile(row, col), r.warps[i])
		if res.Status == ECCAborted {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.New(res.Reason)
		}
		results[i] = tileResult{m, res}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%d: %w", in.ID, err)
	}

	// merge in tile order, so logs and diagnostics are deterministic
	maxShift := r.params.MaxShift()
	rec := newFrameRecord(in.ID, len(results))
	for i, tr := range results {
		row, col := i/ncols, i%ncols
		m := tr.warp
		if tr.res.Status == ECCNotConverged {
			m = r.warps[i]
			r.diag.NotConverged = append(r.diag.NotConverged, TileEvent{in.ID, row, col})
			r.c.Warn(ops.Warning{FrameID: in.ID, Kind: ops.WarnNotConverged, Row: row, Col: col, Message: tr.res.Reason})
		} else {
			rec.CorrCoef[i] = float32(tr.res.CorrCoef)
		}
		dist := translationDistance(m, r.warps[i])
		if dist < maxShift {
			r.doWarp[i] = true
		} else {
			m[2], m[5] = 0, 0
			r.doWarp[i] = false
			r.diag.HighJumps = append(r.diag.HighJumps, TileEvent{in.ID, row, col})
			r.c.Warn(ops.Warning{FrameID: in.ID, Kind: ops.WarnHighJump, Row: row, Col: col,
				Message: fmt.Sprintf("distance %.2f exceeds %.2f", dist, maxShift)})
		}
		r.warps[i] = m
		rec.Dist[i] = float32(dist)
		rec.DoWarp[i] = r.doWarp[i]
		for k := 0; k < 6; k++ {
			rec.WarpMatrix[6*i+k] = float32(m[k])
		}
	}
	r.storeWarps()
	r.diag.Frames = append(r.diag.Frames, rec)
	r.c.Logf("%d: Aligned %d tiles, max distance %.3f, mean correlation %.4f\n",
		in.ID, len(results), rec.MaxDist(), rec.MeanCorr())
	return nil
}

// Establishes the reference tiling from the first prefiltered frame
func (r *PieceWiseECC) init(pre frame.View) (err error) {
	p := r.params
	if r.ref, err = tiling.NewStiBordFrame(pre, p.Border, p.BorderType, p.NRows, p.NCols); err != nil {
		return err
	}
	if r.cur, err = tiling.NewStiBordFrame(pre, p.Border, p.BorderType, p.NRows, p.NCols); err != nil {
		return err
	}
	if r.src, err = tiling.NewStiBordFrame(pre, p.Border, p.BorderType, p.NRows, p.NCols); err != nil {
		return err
	}
	r.c.Logf("%d: Reference established with %dx%d tiles, border %d, maximum shift %.2f\n",
		r.prefiltered.ID, p.NRows, p.NCols, p.Border, p.MaxShift())
	return nil
}

// Warps the tiles marked for warping, stitches all tiles and publishes the result.
// The first frame is copied through.
func (r *PieceWiseECC) RegisterFrame(ctx context.Context, in *frame.Frame) error {
	source, err := r.source(in)
	if err != nil {
		return err
	}
	if r.frames == 1 {
		return r.publish(source.View().Clone(source.ID))
	}
	reg, err := r.stitchWarped(ctx, source)
	if err != nil {
		return err
	}
	if r.params.Reference == ReferencePrevious {
		refFrame := reg
		if source != r.prefiltered {
			if refFrame, err = r.stitchWarped(ctx, r.prefiltered); err != nil {
				return err
			}
		}
		if err := r.ref.SetNew(refFrame.View()); err != nil {
			return err
		}
	}
	return r.publish(reg)
}

// Stitches the tiles of f, warped where the current estimate allows
func (r *PieceWiseECC) stitchWarped(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	if err := r.src.SetNew(f.View()); err != nil {
		return nil, err
	}
	r.src.Clean()
	ncols := r.params.NCols
	warped := make([]*frame.Frame, len(r.warps))
	err := ops.ForEach(ctx, len(warped), r.c.MaxThreads, func(i int) error {
		if !r.doWarp[i] {
			return nil
		}
		t := r.src.Tile(i/ncols, i%ncols)
		w := frame.New(f.ID, t.Width, t.Height, 1)
		if err := WarpAffine(w.View(), t, r.warps[i], r.params.WarpBorder); err != nil {
			return err
		}
		warped[i] = w
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	for i, w := range warped {
		row, col := i/ncols, i%ncols
		t := r.src.Tile(row, col)
		if w != nil {
			t = w.View()
		}
		if err := r.src.AddTile(row, col, t); err != nil {
			return nil, err
		}
	}
	if err := r.src.Stitch(); err != nil {
		return nil, err
	}
	return r.src.Output().Clone(f.ID), nil
}

// Mirrors the current warps into the tiled warp store
func (r *PieceWiseECC) storeWarps() {
	for i, m := range r.warps {
		t := r.store.Tile(i/r.params.NCols, i%r.params.NCols)
		for k := 0; k < 6; k++ {
			t.Set(k%3, k/3, float32(m[k]))
		}
	}
}

// The current warp of each tile, as 2x3 blocks in a tiled frame
func (r *PieceWiseECC) WarpStore() *tiling.TiledFrame { return r.store }

// The current warp of the given tile
func (r *PieceWiseECC) Warp(row, col int) f64.Aff3 { return r.warps[row*r.params.NCols+col] }

// Whether the current warp of the given tile is applied by RegisterFrame
func (r *PieceWiseECC) DoWarp(row, col int) bool { return r.doWarp[row*r.params.NCols+col] }
