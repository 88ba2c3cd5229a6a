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

package synth

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/mlnoga/caltrace/internal/frame"
)

func TestShiftTrajectory(t *testing.T) {
	p := DefaultParams()
	if dx, dy := p.Shift(0); dx != 0 || dy != 0 {
		t.Errorf("got (%g,%g); want (0,0)", dx, dy)
	}
	dx, _ := p.Shift(50 / 4)
	if want := 3 * math.Sin(2*math.Pi*12/50); math.Abs(dx-want) > 1e-12 {
		t.Errorf("got %g; want %g", dx, want)
	}
	for k := 0; k < 200; k++ {
		dx, dy := p.Shift(k)
		if math.Abs(dx) > p.ShiftX || math.Abs(dy) > p.ShiftY {
			t.Fatalf("frame %d: got (%g,%g); want within (%g,%g)", k, dx, dy, p.ShiftX, p.ShiftY)
		}
	}
}

func TestRenderMovesBlob(t *testing.T) {
	p := DefaultParams()
	p.Texture = 0
	p.ShiftX, p.ShiftY = 2, 0
	p.PeriodX = 4 // frame 1 is at the positive peak
	f0, f1 := p.Render(0, nil), p.Render(1, nil)
	if got := f0.View().At(30, 34); math.Abs(float64(got)-15) > 1e-5 {
		t.Errorf("got %g; want 15", got)
	}
	if got := f1.View().At(32, 34); math.Abs(float64(got)-15) > 1e-5 {
		t.Errorf("got %g; want 15", got)
	}
	if f1.ID != 1 {
		t.Errorf("got id %d; want 1", f1.ID)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	p := DefaultParams()
	p.Frames, p.Noise, p.Seed = 3, 2, 42
	a, err := Generate(p)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Generate(p)
	for k := range a.Frames {
		for i := range a.Frames[k].Data {
			if a.Frames[k].Data[i] != b.Frames[k].Data[i] {
				t.Fatalf("frame %d pixel %d: got %g; want %g", k, i, b.Frames[k].Data[i], a.Frames[k].Data[i])
			}
		}
	}
	p.Seed = 43
	c, _ := Generate(p)
	same := true
	for i := range a.Frames[0].Data {
		if a.Frames[0].Data[i] != c.Frames[0].Data[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("got identical noise for different seeds; want different")
	}
	if len(a.DX) != 3 || a.DX[1] != p.ShiftX*math.Sin(2*math.Pi/p.PeriodX) {
		t.Errorf("got dx %v; want trajectory", a.DX)
	}
}

func TestPulsingBlob(t *testing.T) {
	b := Blob{X: 5, Y: 5, Sigma: 1, Amp: 10, Pulse: 0.5, Period: 4}
	if got := b.Activity(1); math.Abs(got-1.5) > 1e-12 {
		t.Errorf("got %g; want 1.5", got)
	}
	if got := b.Activity(3); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("got %g; want 0.5", got)
	}
}

func TestValidate(t *testing.T) {
	bad := []func(p *Params){
		func(p *Params) { p.Width = 0 },
		func(p *Params) { p.PeriodY = 0 },
		func(p *Params) { p.Noise = -1 },
		func(p *Params) { p.Blobs[0].Sigma = 0 },
		func(p *Params) { p.Blobs[0].Pulse = 1 },
	}
	for i, modify := range bad {
		p := DefaultParams()
		modify(&p)
		if _, err := Generate(p); !errors.Is(err, ErrParams) {
			t.Errorf("case %d: got %v; want %v", i, err, ErrParams)
		}
	}
}

func TestWriteTIFFs(t *testing.T) {
	p := DefaultParams()
	p.Frames = 2
	m, err := Generate(p)
	if err != nil {
		t.Fatal(err)
	}
	names, err := m.WriteTIFFs(filepath.Join(t.TempDir(), "frame%03d.tif"))
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || filepath.Base(names[1]) != fmt.Sprintf("frame%03d.tif", 1) {
		t.Fatalf("got %v; want two numbered files", names)
	}
	f, err := frame.ReadTIFFFile(names[1], 1)
	if err != nil {
		t.Fatal(err)
	}
	if f.Width != 64 || f.Height != 64 {
		t.Errorf("got %s; want 64x64", f.DimensionsToString())
	}
	// the brightest pixel of the movie maps to full scale
	_, max := frame.MinMax(f.View())
	_, max0 := frame.MinMax(m.Frames[1].View())
	_, movieMax := m.Range()
	if max0 == movieMax && max != 65535 {
		t.Errorf("got %g; want 65535", max)
	}
	if max > 65535 {
		t.Errorf("got %g; want at most 65535", max)
	}
}
