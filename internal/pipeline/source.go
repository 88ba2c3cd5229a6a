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

// Package pipeline chains registration, ROI detection, pickup and fluorescence
// extraction over movies of single-frame TIFF files.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mlnoga/caltrace/internal/frame"
)

var ErrNoFrames = errors.New("no frames found")

// Provides the frames of a movie by index
type FrameReader interface {
	Len() int
	Read(i int) (*frame.Frame, error)
}

// A movie stored as one TIFF file per frame
type FrameSource struct {
	Files []string
}

// Resolves a file pattern into a frame source. Patterns containing a %d verb are expanded
// with increasing frame numbers, starting at 0 or 1, until a file is missing. Other
// patterns are globs, sorted by name.
func NewFrameSource(pattern string) (*FrameSource, error) {
	var files []string
	if strings.Contains(pattern, "%") {
		start := 0
		if _, err := os.Stat(fmt.Sprintf(pattern, 0)); err != nil {
			start = 1
		}
		for i := start; ; i++ {
			name := fmt.Sprintf(pattern, i)
			if _, err := os.Stat(name); err != nil {
				break
			}
			files = append(files, name)
		}
	} else {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		files = matches
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFrames, pattern)
	}
	return &FrameSource{Files: files}, nil
}

func (s *FrameSource) Len() int { return len(s.Files) }

// Reads frame i, with i as frame id
func (s *FrameSource) Read(i int) (*frame.Frame, error) {
	return frame.ReadTIFFFile(s.Files[i], i)
}

// A movie held in memory
type MemorySource []*frame.Frame

func (m MemorySource) Len() int { return len(m) }

func (m MemorySource) Read(i int) (*frame.Frame, error) { return m[i], nil }

// Output file names of the pipeline passes, all sharing a common prefix
// which may include a directory
type Outputs struct {
	Prefix string
}

func (o Outputs) Registered(id int) string  { return fmt.Sprintf("%sregister_%05d.tif", o.Prefix, id) }
func (o Outputs) ROIFluo(id int) string     { return fmt.Sprintf("%sroi_fluo_%05d.tif", o.Prefix, id) }
func (o Outputs) ROIMask(id int) string     { return fmt.Sprintf("%sroi_mask_%05d.tif", o.Prefix, id) }
func (o Outputs) RegisteredPattern() string { return o.Prefix + "register_%05d.tif" }
func (o Outputs) RegJSON() string           { return o.Prefix + "reg.json" }
func (o Outputs) ROIsJSON() string          { return o.Prefix + "rois.json" }
func (o Outputs) FluoJSON() string          { return o.Prefix + "fluo.json" }
func (o Outputs) FluoMask() string          { return o.Prefix + "fluo_mask.tif" }
func (o Outputs) Preview() string           { return o.Prefix + "preview.jpg" }
func (o Outputs) MotionField() string       { return o.Prefix + "motion.jpg" }

// Creates the directory of the prefix, if any
func (o Outputs) MkdirAll() error {
	dir := filepath.Dir(o.Prefix + "x")
	return os.MkdirAll(dir, 0755)
}

// Quantizes registered values the way the 16-bit TIFF output stores them: clamped to [0,1]
// and scaled to [0,65535]. Frames kept in memory thus match frames re-read from disk.
func Quantize16(f *frame.Frame) *frame.Frame {
	out := frame.New(f.ID, f.Width, f.Height, 1)
	v := f.View()
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			g := v.At(x, y)
			if !(g > 0) { // NaN too
				g = 0
			}
			if g > 1 {
				g = 1
			}
			out.Data[y*f.Width+x] = float32(uint16(g*65535 + 0.5))
		}
	}
	return out
}
