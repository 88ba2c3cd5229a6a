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

package frame

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBorderType signals an unknown border extrapolation method.
var ErrBorderType = errors.New("unknown border type")

// Border extrapolation method, following the usual image processing naming
type BorderType int

const (
	BorderConstant   BorderType = iota // iiiiii|abcdefgh|iiiiiii with i=0
	BorderReplicate                    // aaaaaa|abcdefgh|hhhhhhh
	BorderReflect                      // fedcba|abcdefgh|hgfedcb
	BorderReflect101                   // gfedcb|abcdefgh|gfedcba
	BorderWrap                         // cdefgh|abcdefgh|abcdefg
)

var borderTypeNames = []string{"CONSTANT", "REPLICATE", "REFLECT", "REFLECT_101", "WRAP"}

func (b BorderType) String() string {
	if b < 0 || int(b) >= len(borderTypeNames) {
		return fmt.Sprintf("BorderType(%d)", int(b))
	}
	return borderTypeNames[b]
}

// Returns ErrBorderType for values outside the known methods
func (b BorderType) Validate() error {
	if b < 0 || int(b) >= len(borderTypeNames) {
		return fmt.Errorf("%w: %v", ErrBorderType, b)
	}
	return nil
}

// Parses a border type from its name, case insensitive
func ParseBorderType(s string) (BorderType, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	if u == "REFLECT101" || u == "DEFAULT" {
		u = "REFLECT_101"
	}
	for i, n := range borderTypeNames {
		if n == u {
			return BorderType(i), nil
		}
	}
	return BorderConstant, fmt.Errorf("%w: '%s'", ErrBorderType, s)
}

// Maps a possibly out-of-range coordinate p onto [0,n) using the given border method.
// Returns -1 for out-of-range coordinates with BorderConstant.
func BorderIndex(p, n int, bt BorderType) int {
	if p >= 0 && p < n {
		return p
	}
	switch bt {
	case BorderReplicate:
		if p < 0 {
			return 0
		}
		return n - 1
	case BorderReflect, BorderReflect101:
		if n == 1 {
			return 0
		}
		delta := 0
		if bt == BorderReflect101 {
			delta = 1
		}
		for p < 0 || p >= n {
			if p < 0 {
				p = -p - 1 + delta
			} else {
				p = n - 1 - (p - n) - delta
			}
		}
		return p
	case BorderWrap:
		p %= n
		if p < 0 {
			p += n
		}
		return p
	default:
		return -1
	}
}

// Returns the first channel of pixel (x,y), extrapolating out-of-range coordinates
// with the given border method and constant value
func (v View) AtBorder(x, y int, bt BorderType, value float32) float32 {
	xi, yi := BorderIndex(x, v.Width, bt), BorderIndex(y, v.Height, bt)
	if xi < 0 || yi < 0 {
		return value
	}
	return v.Data[yi*v.Stride+xi*v.Channels]
}
