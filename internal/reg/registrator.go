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
	"fmt"

	"github.com/mlnoga/caltrace/internal/filter"
	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/mlnoga/caltrace/internal/ops"
)

// Motion correction of a movie, one frame at a time. ProcessFrame prefilters the next
// frame and estimates its motion, RegisterFrame applies the estimate and publishes
// the registered output. Frames must be passed in movie order.
type Registrator interface {
	// Prefilters a frame and estimates its motion against the reference
	ProcessFrame(ctx context.Context, in *frame.Frame) error
	// Applies the most recent motion estimate to in, or to the prefiltered frame if in is nil
	RegisterFrame(ctx context.Context, in *frame.Frame) error
	Prefiltered() *frame.Frame
	Registered() *frame.Frame
	Out8() *frame.Frame
	Diagnostics() *Diagnostics
}

// Creates a registrator for the given method name
func New(method string, p Params, c *ops.Context) (Registrator, error) {
	switch method {
	case MethodPieceWise:
		return NewPieceWiseECC(p, c)
	case MethodFrame:
		return NewFrameECC(p, c)
	case MethodNone:
		return NewNone(p, c)
	}
	return nil, fmt.Errorf("%w: '%s'", ErrMethod, method)
}

// State shared by all registrators: prefiltering, frame counting and the published outputs
type base struct {
	params      Params
	c           *ops.Context
	bg          *filter.Background
	filtered    *frame.Frame
	background  *frame.Frame
	prefiltered *frame.Frame
	registered  *frame.Frame
	out8        *frame.Frame
	width       int
	height      int
	frames      int  // number of processed frames
	pending     bool // processed, but not yet registered
	diag        *Diagnostics
}

func newBase(method string, p Params, c *ops.Context) (base, error) {
	if err := p.Validate(); err != nil {
		return base{}, err
	}
	bg, err := filter.NewBackground(p.FilterSize, p.KernelSize, p.MorphNumIter)
	if err != nil {
		return base{}, err
	}
	nrows, ncols := p.NRows, p.NCols
	if method != MethodPieceWise {
		nrows, ncols = 1, 1
	}
	return base{
		params: p,
		c:      c,
		bg:     bg,
		diag:   newDiagnostics(method, nrows, ncols, p.MaxShift()),
	}, nil
}

// Prefilters the next frame and advances the frame counter
func (b *base) preprocess(ctx context.Context, in *frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if in == nil || in.Channels != 1 || in.Pixels() == 0 {
		return fmt.Errorf("%w: registration requires a non-empty single-channel frame", frame.ErrShape)
	}
	if b.frames == 0 {
		b.width, b.height = in.Width, in.Height
		b.filtered = frame.New(0, in.Width, in.Height, 1)
		b.background = frame.New(0, in.Width, in.Height, 1)
	} else if in.Width != b.width || in.Height != b.height {
		return fmt.Errorf("%w: frame %d is %s, movie is %dx%d", frame.ErrShape, in.ID, in.DimensionsToString(), b.width, b.height)
	}
	pre := frame.New(in.ID, in.Width, in.Height, 1)
	if err := b.bg.Apply(pre.View(), b.filtered.View(), b.background.View(), in.View()); err != nil {
		return fmt.Errorf("%d: prefilter: %w", in.ID, err)
	}
	b.filtered.ID, b.background.ID = in.ID, in.ID
	b.prefiltered = pre
	b.frames++
	b.pending = true
	return nil
}

// Returns the frame to register, checking call order and shape
func (b *base) source(in *frame.Frame) (*frame.Frame, error) {
	if !b.pending {
		return nil, ErrNotProcessed
	}
	if in == nil {
		return b.prefiltered, nil
	}
	if in.Width != b.width || in.Height != b.height || in.Channels != 1 {
		return nil, fmt.Errorf("%w: registering %s into %dx%d", frame.ErrShape, in.DimensionsToString(), b.width, b.height)
	}
	return in, nil
}

// Publishes a registered frame and its 8-bit normalization
func (b *base) publish(reg *frame.Frame) error {
	out8 := frame.New(reg.ID, reg.Width, reg.Height, 1)
	if err := frame.NormalizeToUint8(out8.View(), reg.View()); err != nil {
		return err
	}
	b.registered, b.out8 = reg, out8
	b.pending = false
	return nil
}

func (b *base) Prefiltered() *frame.Frame { return b.prefiltered }
func (b *base) Registered() *frame.Frame  { return b.registered }
func (b *base) Out8() *frame.Frame        { return b.out8 }
func (b *base) Diagnostics() *Diagnostics { return b.diag }
func (b *base) Filtered() *frame.Frame    { return b.filtered }
func (b *base) Background() *frame.Frame  { return b.background }
