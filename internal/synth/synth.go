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

// Package synth renders synthetic calcium imaging movies: a textured background
// carrying Gaussian blobs, translated along a known periodic trajectory.
package synth

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/valyala/fastrand"
)

var ErrParams = errors.New("invalid synthetic movie parameters")

// A Gaussian blob with optional periodic activity
type Blob struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Sigma  float64 `json:"sigma"`
	Amp    float64 `json:"amp"`
	Pulse  float64 `json:"pulse"`  // relative amplitude modulation, 0 for constant brightness
	Period float64 `json:"period"` // modulation period in frames
}

// Parameters of a synthetic movie
type Params struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Frames     int     `json:"frames"`
	Background float64 `json:"background"` // constant offset
	Texture    float64 `json:"texture"`    // amplitude of the two plane waves giving the background structure
	Blobs      []Blob  `json:"blobs"`
	ShiftX     float64 `json:"shiftX"`  // amplitude of the horizontal sinusoidal trajectory
	ShiftY     float64 `json:"shiftY"`  // amplitude of the vertical sinusoidal trajectory
	PeriodX    float64 `json:"periodX"` // period of the horizontal trajectory in frames
	PeriodY    float64 `json:"periodY"` // period of the vertical trajectory in frames
	Noise      float64 `json:"noise"`   // additive uniform noise in [0,noise)
	Seed       uint32  `json:"seed"`
}

// Default parameters: 100 frames of 64x64 pixels, one bright blob, shifts up to 3 pixels
func DefaultParams() Params {
	return Params{
		Width:      64,
		Height:     64,
		Frames:     100,
		Background: 10,
		Texture:    0.75,
		Blobs:      []Blob{{X: 30, Y: 34, Sigma: 3, Amp: 5}},
		ShiftX:     3,
		ShiftY:     2.5,
		PeriodX:    50,
		PeriodY:    35,
	}
}

func (p Params) Validate() error {
	if p.Width < 1 || p.Height < 1 || p.Frames < 1 {
		return fmt.Errorf("%w: %dx%d pixels, %d frames", ErrParams, p.Width, p.Height, p.Frames)
	}
	if p.PeriodX <= 0 || p.PeriodY <= 0 {
		return fmt.Errorf("%w: trajectory periods %g and %g must be positive", ErrParams, p.PeriodX, p.PeriodY)
	}
	if p.Noise < 0 {
		return fmt.Errorf("%w: negative noise %g", ErrParams, p.Noise)
	}
	for i, b := range p.Blobs {
		if b.Sigma <= 0 {
			return fmt.Errorf("%w: blob %d has sigma %g", ErrParams, i, b.Sigma)
		}
		if b.Pulse != 0 && b.Period <= 0 {
			return fmt.Errorf("%w: blob %d pulses with period %g", ErrParams, i, b.Period)
		}
	}
	return nil
}

// Returns the ground-truth displacement of the scene in frame k
func (p Params) Shift(k int) (dx, dy float64) {
	dx = p.ShiftX * math.Sin(2*math.Pi*float64(k)/p.PeriodX)
	dy = p.ShiftY * math.Sin(2*math.Pi*float64(k)/p.PeriodY)
	return dx, dy
}

// Returns the brightness factor of a blob in frame k
func (b Blob) Activity(k int) float64 {
	if b.Pulse == 0 {
		return 1
	}
	return 1 + b.Pulse*math.Sin(2*math.Pi*float64(k)/b.Period)
}

// Renders frame k. Noise is drawn from rng if p.Noise is positive.
func (p Params) Render(k int, rng *fastrand.RNG) *frame.Frame {
	f := frame.New(k, p.Width, p.Height, 1)
	dx, dy := p.Shift(k)
	acts := make([]float64, len(p.Blobs))
	for i, b := range p.Blobs {
		acts[i] = b.Amp * b.Activity(k)
	}
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			u, v := float64(x)-dx, float64(y)-dy
			val := p.Background + p.Texture*(math.Sin(2*math.Pi*(u/17+v/23))+math.Sin(2*math.Pi*(u/29-v/13)))
			for i, b := range p.Blobs {
				du, dv := u-b.X, v-b.Y
				val += acts[i] * math.Exp(-(du*du+dv*dv)/(2*b.Sigma*b.Sigma))
			}
			if p.Noise > 0 {
				val += p.Noise * float64(rng.Uint32n(1<<20)) / (1 << 20)
			}
			f.Data[y*p.Width+x] = float32(val)
		}
	}
	return f
}

// A rendered movie with its ground truth
type Movie struct {
	Params Params         `json:"params"`
	Frames []*frame.Frame `json:"-"`
	DX     []float64      `json:"dx"` // displacement per frame
	DY     []float64      `json:"dy"`
}

// Renders all frames of a movie
func Generate(p Params) (*Movie, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	rng := fastrand.RNG{}
	rng.Seed(p.Seed)
	m := &Movie{
		Params: p,
		Frames: make([]*frame.Frame, p.Frames),
		DX:     make([]float64, p.Frames),
		DY:     make([]float64, p.Frames),
	}
	for k := range m.Frames {
		m.Frames[k] = p.Render(k, &rng)
		m.DX[k], m.DY[k] = p.Shift(k)
	}
	return m, nil
}

// Returns the smallest and largest pixel value over all frames
func (m *Movie) Range() (min, max float32) {
	for i, f := range m.Frames {
		lo, hi := frame.MinMax(f.View())
		if i == 0 || lo < min {
			min = lo
		}
		if i == 0 || hi > max {
			max = hi
		}
	}
	return min, max
}

// Writes all frames as 16-bit TIFF files. The file name pattern must contain a %d verb
// for the frame number. Pixel values are scaled jointly over the movie.
func (m *Movie) WriteTIFFs(pattern string) ([]string, error) {
	min, max := m.Range()
	names := make([]string, len(m.Frames))
	for k, f := range m.Frames {
		names[k] = fmt.Sprintf(pattern, k)
		if err := f.WriteTIFF16ToFile(names[k], min, max); err != nil {
			return nil, fmt.Errorf("%d: %w", k, err)
		}
	}
	return names, nil
}
