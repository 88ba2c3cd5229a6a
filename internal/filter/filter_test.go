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

package filter

import (
	"math"
	"testing"

	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/valyala/fastrand"
)

func TestGaussianKernel(t *testing.T) {
	k := GaussianKernel(5, 0)
	sum := 0.0
	for _, v := range k {
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("kernel sum got %v; want 1", sum)
	}
	// default sigma for size 5 is 1.1
	want := math.Exp(-1 / (2 * 1.1 * 1.1))
	if got := k[1] / k[2]; math.Abs(got-want) > 1e-12 {
		t.Errorf("kernel ratio got %v; want %v", got, want)
	}
}

func TestBoxFilter(t *testing.T) {
	f := frame.New(0, 7, 7, 1)
	f.Data[3*7+3] = 9
	out := frame.New(0, 7, 7, 1)
	if err := Box(out.View(), f.View(), 1); err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 7; y++ {
		for x := 0; x < 7; x++ {
			want := float32(0)
			if x >= 2 && x <= 4 && y >= 2 && y <= 4 {
				want = 1
			}
			if got := out.View().At(x, y); math.Abs(float64(got-want)) > 1e-6 {
				t.Errorf("box (%d,%d) got %v; want %v", x, y, got, want)
			}
		}
	}
}

func TestGaussianImpulseResponse(t *testing.T) {
	f := frame.New(0, 9, 9, 1)
	f.Data[4*9+4] = 1
	out := frame.New(0, 9, 9, 1)
	if err := Gaussian(out.View(), f.View(), 5, 0); err != nil {
		t.Fatal(err)
	}
	k := GaussianKernel(5, 0)
	for y := 0; y < 9; y++ {
		for x := 0; x < 9; x++ {
			want := 0.0
			if x >= 2 && x <= 6 && y >= 2 && y <= 6 {
				want = k[y-2] * k[x-2]
			}
			if got := float64(out.View().At(x, y)); math.Abs(got-want) > 1e-6 {
				t.Errorf("gauss (%d,%d) got %v; want %v", x, y, got, want)
			}
		}
	}
}

func TestConvolveBorderAndKernelChecks(t *testing.T) {
	f := frame.New(0, 4, 1, 1)
	copy(f.Data, []float32{1, 2, 3, 4})
	out := frame.New(0, 4, 1, 1)
	// horizontal [1 0 0] picks the left neighbour, replicated at the edge
	k := []float32{0, 0, 0, 1, 0, 0, 0, 0, 0}
	if err := Convolve(out.View(), f.View(), k, 3, frame.BorderReplicate); err != nil {
		t.Fatal(err)
	}
	for i, want := range []float32{1, 1, 2, 3} {
		if got := out.Data[i]; math.Abs(float64(got-want)) > 1e-6 {
			t.Errorf("pixel %d got %v; want %v", i, got, want)
		}
	}
	if err := Convolve(out.View(), f.View(), make([]float32, 4), 2, frame.BorderReplicate); err == nil {
		t.Errorf("got nil; want error for even kernel size")
	}
	if err := Convolve(frame.New(0, 3, 1, 1).View(), f.View(), k, 3, frame.BorderReplicate); err == nil {
		t.Errorf("got nil; want shape error")
	}
}

func TestGuidedPreservesEdges(t *testing.T) {
	f := frame.New(0, 32, 8, 1)
	for y := 0; y < 8; y++ {
		for x := 16; x < 32; x++ {
			f.View().Set(x, y, 1)
		}
	}
	out := frame.New(0, 32, 8, 1)
	if err := Guided(out.View(), f.View(), 3, 1e-4); err != nil {
		t.Fatal(err)
	}
	if got := out.View().At(10, 4); math.Abs(float64(got)) > 0.02 {
		t.Errorf("flat dark side got %v; want ~0", got)
	}
	if got := out.View().At(21, 4); math.Abs(float64(got-1)) > 0.02 {
		t.Errorf("flat bright side got %v; want ~1", got)
	}
	if d := out.View().At(17, 4) - out.View().At(14, 4); d < 0.9 {
		t.Errorf("edge contrast got %v; want >= 0.9", d)
	}
}

func TestEllipse(t *testing.T) {
	e, err := NewEllipse(3)
	if err != nil {
		t.Fatal(err)
	}
	// a 3x3 ellipse is a cross
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			want := dx == 0 || dy == 0
			if got := e.Covers(dx, dy); got != want {
				t.Errorf("3x3 covers(%d,%d) got %v; want %v", dx, dy, got, want)
			}
		}
	}
	e, _ = NewEllipse(15)
	if !e.Covers(7, 0) || !e.Covers(0, -7) || e.Covers(7, 7) || e.Covers(6, 6) || !e.Covers(4, 4) {
		t.Errorf("15x15 ellipse has unexpected shape: %+v", e.rows)
	}
}

func TestOpeningRemovesSmallSpots(t *testing.T) {
	f := frame.New(0, 20, 20, 1)
	f.View().Fill(1)
	for y := 8; y < 11; y++ {
		for x := 8; x < 11; x++ {
			f.View().Set(x, y, 5)
		}
	}
	e, _ := NewEllipse(5)
	out := frame.New(0, 20, 20, 1)
	if err := Opening(out.View(), f.View(), e, 1); err != nil {
		t.Fatal(err)
	}
	for i, v := range out.Data {
		if v != 1 {
			t.Fatalf("opening pixel %d got %v; want 1", i, v)
		}
	}
}

func TestBackgroundIsNonNegative(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(11)
	f := frame.New(0, 40, 30, 1)
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			blob := 50 * math.Exp(-float64((x-20)*(x-20)+(y-15)*(y-15))/8)
			f.View().Set(x, y, float32(x)+float32(blob)+float32(rng.Uint32n(100))/100)
		}
	}
	b, err := NewBackground(5, 15, 3)
	if err != nil {
		t.Fatal(err)
	}
	dst, filtered, bgr := frame.New(0, 40, 30, 1), frame.New(0, 40, 30, 1), frame.New(0, 40, 30, 1)
	if err := b.Apply(dst.View(), filtered.View(), bgr.View(), f.View()); err != nil {
		t.Fatal(err)
	}
	min, max := frame.MinMax(dst.View())
	if min < 0 {
		t.Errorf("top-hat minimum got %v; want >= 0", min)
	}
	if dst.View().At(20, 15) != max {
		t.Errorf("top-hat maximum not at blob center: got %v, max %v", dst.View().At(20, 15), max)
	}
}

func TestPCAWiperRemovesRankOneStructure(t *testing.T) {
	const w, h = 16, 8
	f := frame.New(0, w, h, 1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.View().Set(x, y, float32(1+y)*float32(math.Sin(float64(x)))+10)
		}
	}
	p, err := NewPCAWiper([]int{0})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Apply(f.View(), f.View()); err != nil {
		t.Fatal(err)
	}
	for i, v := range f.Data {
		if math.Abs(float64(v)) > 1e-3 {
			t.Fatalf("residual at %d got %v; want ~0", i, v)
		}
	}
	if _, err := NewPCAWiper([]int{-1}); err == nil {
		t.Errorf("negative component accepted")
	}
}
