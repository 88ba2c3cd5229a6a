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

// Package reg implements motion correction of movie frames: an ECC image alignment
// solver, affine warping, piece-wise per-tile registration over stitched bordered
// tiles, whole-frame registration, and the diagnostics recorded along the way.
package reg

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mlnoga/caltrace/internal/frame"
)

var ErrMotionType = errors.New("unknown motion type")
var ErrReference = errors.New("unknown reference mode")
var ErrMethod = errors.New("unknown registration method")
var ErrNotProcessed = errors.New("register frame called before process frame")

// Motion model of the ECC solver
type MotionType int

const (
	MotionTranslation MotionType = iota // x and y shift
	MotionEuclidean                     // rotation plus x and y shift
)

func (m MotionType) String() string {
	if m == MotionEuclidean {
		return "euclidean"
	}
	return "translation"
}

// Parses a motion type name, case insensitive
func ParseMotionType(s string) (MotionType, error) {
	switch strings.ToLower(s) {
	case "translation":
		return MotionTranslation, nil
	case "euclidean", "rigid":
		return MotionEuclidean, nil
	}
	return MotionTranslation, fmt.Errorf("%w: '%s'", ErrMotionType, s)
}

// Selects which frame the tiles of a new frame are aligned to
type Reference int

const (
	ReferencePrevious Reference = iota // the previous registered output
	ReferenceFirst                     // the first frame of the movie
)

func (r Reference) String() string {
	if r == ReferenceFirst {
		return "first"
	}
	return "previous"
}

func ParseReference(s string) (Reference, error) {
	switch strings.ToLower(s) {
	case "previous", "":
		return ReferencePrevious, nil
	case "first":
		return ReferenceFirst, nil
	}
	return ReferencePrevious, fmt.Errorf("%w: '%s'", ErrReference, s)
}

// Registration methods
const (
	MethodPieceWise = "pw_ecc"
	MethodFrame     = "ecc"
	MethodNone      = "none"
)

// Parameters of all registration methods
type Params struct {
	FilterSize   int              // guided filter radius
	KernelSize   int              // structuring element size for background estimation
	MorphNumIter int              // opening iterations for background estimation
	Motion       MotionType       // ECC motion model
	MaxIter      int              // ECC iteration cap
	Eps          float64          // ECC convergence threshold on the correlation coefficient
	NRows        int              // tile grid rows
	NCols        int              // tile grid columns
	Border       int              // border width in pixels, even
	BorderType   frame.BorderType // extension of the frame into the border
	WarpBorder   frame.BorderType // extension of tiles during warping, BorderReplicate or BorderConstant
	Reference    Reference        // alignment reference for tiles
}

// Returns the default parameters for 8x8 tiles with a 20 pixel border
func DefaultParams() Params {
	return Params{
		FilterSize:   5,
		KernelSize:   15,
		MorphNumIter: 3,
		Motion:       MotionEuclidean,
		MaxIter:      100,
		Eps:          1e-6,
		NRows:        8,
		NCols:        8,
		Border:       20,
		BorderType:   frame.BorderReflect,
		WarpBorder:   frame.BorderReplicate,
		Reference:    ReferencePrevious,
	}
}

// Maximum accepted change of a tile translation between two frames, sqrt(2*(border/2)^2)
func (p Params) MaxShift() float64 {
	hb := 0.5 * float64(p.Border)
	return math.Sqrt(2 * hb * hb)
}

// Checks the parameters for consistency, independent of frame size
func (p Params) Validate() error {
	if p.FilterSize < 0 {
		return fmt.Errorf("negative filter size %d", p.FilterSize)
	}
	if p.KernelSize < 1 || p.KernelSize%2 == 0 {
		return fmt.Errorf("kernel size %d must be odd and positive", p.KernelSize)
	}
	if p.MorphNumIter < 0 {
		return fmt.Errorf("negative number of morphological iterations %d", p.MorphNumIter)
	}
	if p.Motion != MotionTranslation && p.Motion != MotionEuclidean {
		return fmt.Errorf("%w: %d", ErrMotionType, p.Motion)
	}
	if p.MaxIter < 1 {
		return fmt.Errorf("iteration cap %d must be positive", p.MaxIter)
	}
	if p.Eps < 0 {
		return fmt.Errorf("negative convergence threshold %g", p.Eps)
	}
	if p.NRows < 1 || p.NCols < 1 {
		return fmt.Errorf("tile grid %dx%d must be positive", p.NRows, p.NCols)
	}
	if p.Border < 0 || p.Border%2 != 0 {
		return fmt.Errorf("border %d must be even and non-negative", p.Border)
	}
	if err := p.BorderType.Validate(); err != nil {
		return err
	}
	if p.WarpBorder != frame.BorderReplicate && p.WarpBorder != frame.BorderConstant {
		return fmt.Errorf("%w: warp border must be REPLICATE or CONSTANT, not %s", frame.ErrBorderType, p.WarpBorder)
	}
	return nil
}
