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

	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/mlnoga/caltrace/internal/ops"
)

// Pass-through registration. Frames are prefiltered, but not moved.
type None struct {
	base
}

func NewNone(p Params, c *ops.Context) (*None, error) {
	b, err := newBase(MethodNone, p, c)
	if err != nil {
		return nil, err
	}
	return &None{base: b}, nil
}

func (r *None) ProcessFrame(ctx context.Context, in *frame.Frame) error {
	return r.preprocess(ctx, in)
}

func (r *None) RegisterFrame(ctx context.Context, in *frame.Frame) error {
	source, err := r.source(in)
	if err != nil {
		return err
	}
	return r.publish(source.View().Clone(source.ID))
}
