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
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/mlnoga/caltrace/internal/ops"
	"golang.org/x/image/math/f64"
)

// Two anisotropic Gaussian blobs, shifted by (dx,dy) and rotated by theta around the first
func blobs(w, h int, dx, dy, theta float64) frame.View {
	f := frame.New(0, w, h, 1)
	sin, cos := math.Sincos(theta)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			u, v := float64(x)-dx-14, float64(y)-dy-17
			uu, vv := cos*u+sin*v, -sin*u+cos*v
			a, b := float64(x)-dx-22, float64(y)-dy-9
			val := math.Exp(-(uu*uu/18 + vv*vv/32)) + 0.5*math.Exp(-(a*a+b*b)/8)
			f.View().Set(x, y, float32(val))
		}
	}
	return f.View()
}

// A textured scene with a bright cell, shifted by (dx,dy)
func scene(id, w, h int, dx, dy float64) *frame.Frame {
	f := frame.New(id, w, h, 1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			u, v := float64(x)-dx, float64(y)-dy
			t := 0.15 * (math.Sin(2*math.Pi*(u/17+v/23)) + math.Sin(2*math.Pi*(u/29-v/13)))
			t += math.Exp(-((u-30)*(u-30) + (v-34)*(v-34)) / 18)
			f.View().Set(x, y, float32(10+5*t))
		}
	}
	return f
}

func testParams() Params {
	p := DefaultParams()
	p.NRows, p.NCols, p.Border = 2, 2, 8
	p.Motion = MotionTranslation
	return p
}

// Returns a fixed warp and result for every tile, regardless of status
type fixedAligner struct {
	warp f64.Aff3
	res  ECCResult
}

func (a fixedAligner) Align(ctx context.Context, template, input frame.View, warp f64.Aff3) (f64.Aff3, ECCResult) {
	return a.warp, a.res
}

func TestWarpAffineIntegerShift(t *testing.T) {
	src := frame.New(0, 4, 1, 1)
	copy(src.Data, []float32{1, 2, 3, 4})
	dst := frame.New(0, 4, 1, 1)
	if err := WarpAffine(dst.View(), src.View(), f64.Aff3{1, 0, 1, 0, 1, 0}, frame.BorderReplicate); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	want := []float32{2, 3, 4, 4}
	for i, w := range want {
		if math.Abs(float64(dst.Data[i]-w)) > 1e-4 {
			t.Errorf("replicate pixel %d got %v; want %v", i, dst.Data[i], w)
		}
	}
	if err := WarpAffine(dst.View(), src.View(), f64.Aff3{1, 0, -0.5, 0, 1, 0}, frame.BorderConstant); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	want = []float32{0.5, 1.5, 2.5, 3.5}
	for i, w := range want {
		if math.Abs(float64(dst.Data[i]-w)) > 2e-4 {
			t.Errorf("constant pixel %d got %v; want %v", i, dst.Data[i], w)
		}
	}
}

func TestWarpAffineRotation(t *testing.T) {
	src := blobs(32, 32, 0, 0, 0)
	dst := frame.New(0, 32, 32, 1)
	// quarter turn: dst(x,y) = src(y,31-x)
	if err := WarpAffine(dst.View(), src, f64.Aff3{0, 1, 0, -1, 0, 31}, frame.BorderReplicate); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	lo, hi := frame.MinMax(src)
	tol := 3 * float64(hi-lo) / 65535
	for _, p := range [][2]int{{0, 0}, {5, 9}, {17, 14}, {31, 31}, {20, 3}} {
		x, y := p[0], p[1]
		got, want := dst.View().At(x, y), src.At(y, 31-x)
		if math.Abs(float64(got-want)) > tol {
			t.Errorf("pixel (%d,%d) got %v; want %v", x, y, got, want)
		}
	}
	flat := frame.New(0, 8, 8, 1)
	flat.View().Fill(3)
	if err := WarpAffine(dst.View().Sub(0, 0, 8, 8), flat.View(), f64.Aff3{1, 0, 2.5, 0, 1, 0}, frame.BorderReplicate); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if got := dst.View().At(7, 7); got != 3 {
		t.Errorf("flat got %v; want 3", got)
	}
}

func TestECCRecoversTranslation(t *testing.T) {
	tpl, in := blobs(32, 32, 0, 0, 0), blobs(32, 32, 1.5, -1.0, 0)
	for _, motion := range []MotionType{MotionTranslation, MotionEuclidean} {
		e := NewECC(motion, 100, 1e-6)
		m, res := e.Align(context.Background(), tpl, in, Identity)
		if res.Status != ECCSuccess {
			t.Fatalf("%v: got %v; want success", motion, res.Status)
		}
		if math.Abs(m[2]-1.5) > 0.02 || math.Abs(m[5]+1.0) > 0.02 {
			t.Errorf("%v: got shift (%.4f,%.4f); want (1.5,-1.0)", motion, m[2], m[5])
		}
		if res.CorrCoef < 0.99 {
			t.Errorf("%v: got correlation %v; want >=0.99", motion, res.CorrCoef)
		}
	}
}

func TestECCSeededFromPreviousWarp(t *testing.T) {
	tpl, in := blobs(32, 32, 0, 0, 0), blobs(32, 32, 2.5, 2.0, 0)
	m, res := NewECC(MotionTranslation, 100, 1e-6).Align(context.Background(), tpl, in, f64.Aff3{1, 0, 1.5, 0, 1, 1.0})
	if res.Status != ECCSuccess {
		t.Fatalf("got %v; want success", res.Status)
	}
	if math.Abs(m[2]-2.5) > 0.02 || math.Abs(m[5]-2.0) > 0.02 {
		t.Errorf("got shift (%.4f,%.4f); want (2.5,2.0)", m[2], m[5])
	}
}

func TestECCFlatInputNotConverged(t *testing.T) {
	tpl := blobs(32, 32, 0, 0, 0)
	flat := frame.New(0, 32, 32, 1)
	flat.View().Fill(0.3)
	seed := f64.Aff3{1, 0, 0.25, 0, 1, -0.5}
	m, res := NewECC(MotionTranslation, 100, 1e-6).Align(context.Background(), tpl, flat.View(), seed)
	if res.Status != ECCNotConverged {
		t.Errorf("got %v; want %v", res.Status, ECCNotConverged)
	}
	if m != seed {
		t.Errorf("got %v; want unchanged %v", m, seed)
	}
}

func TestECCAborted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, res := NewECC(MotionTranslation, 100, 1e-6).Align(ctx, blobs(32, 32, 0, 0, 0), blobs(32, 32, 1, 1, 0), Identity)
	if res.Status != ECCAborted {
		t.Errorf("got %v; want %v", res.Status, ECCAborted)
	}
}

func TestRegisterBeforeProcess(t *testing.T) {
	for _, method := range []string{MethodPieceWise, MethodFrame, MethodNone} {
		r, err := New(method, testParams(), ops.NewContext(nil))
		if err != nil {
			t.Fatalf("%s: got %v; want nil", method, err)
		}
		if err := r.RegisterFrame(context.Background(), nil); !errors.Is(err, ErrNotProcessed) {
			t.Errorf("%s: got %v; want %v", method, err, ErrNotProcessed)
		}
	}
	if _, err := New("optical_flow", testParams(), ops.NewContext(nil)); !errors.Is(err, ErrMethod) {
		t.Errorf("got %v; want %v", err, ErrMethod)
	}
}

func TestParamsValidate(t *testing.T) {
	p := testParams()
	if err := p.Validate(); err != nil {
		t.Errorf("got %v; want nil", err)
	}
	p.Border = 7
	if err := p.Validate(); err == nil {
		t.Errorf("odd border: got nil; want error")
	}
	p = testParams()
	p.BorderType = frame.BorderType(42)
	if err := p.Validate(); !errors.Is(err, frame.ErrBorderType) {
		t.Errorf("got %v; want %v", err, frame.ErrBorderType)
	}
	p = testParams()
	p.WarpBorder = frame.BorderWrap
	if err := p.Validate(); !errors.Is(err, frame.ErrBorderType) {
		t.Errorf("got %v; want %v", err, frame.ErrBorderType)
	}
	if got := testParams().MaxShift(); math.Abs(got-math.Sqrt(32)) > 1e-12 {
		t.Errorf("got %v; want %v", got, math.Sqrt(32))
	}
}

func TestFirstFrameCopiedThrough(t *testing.T) {
	r, err := NewPieceWiseECC(testParams(), ops.NewContext(nil))
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	ctx := context.Background()
	if err := r.ProcessFrame(ctx, scene(0, 32, 32, 0, 0)); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if err := r.RegisterFrame(ctx, nil); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	for i, v := range r.Registered().Data {
		if v != r.Prefiltered().Data[i] {
			t.Fatalf("pixel %d got %v; want %v", i, v, r.Prefiltered().Data[i])
		}
	}
	min, max := frame.MinMax(r.Out8().View())
	if min != 0 || max != 255 {
		t.Errorf("got 8-bit range [%v,%v]; want [0,255]", min, max)
	}
}

func TestStaticMovieUnchanged(t *testing.T) {
	r, err := NewPieceWiseECC(testParams(), ops.NewContext(nil))
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	ctx := context.Background()
	for id := 0; id < 3; id++ {
		if err := r.ProcessFrame(ctx, scene(id, 32, 32, 0, 0)); err != nil {
			t.Fatalf("got %v; want nil", err)
		}
		if err := r.RegisterFrame(ctx, nil); err != nil {
			t.Fatalf("got %v; want nil", err)
		}
	}
	for i, v := range r.Registered().Data {
		if math.Abs(float64(v-r.Prefiltered().Data[i])) > 1e-3 {
			t.Fatalf("pixel %d got %v; want %v", i, v, r.Prefiltered().Data[i])
		}
	}
	if n := len(r.Diagnostics().Frames); n != 2 {
		t.Errorf("got %d frame records; want 2", n)
	}
}

func TestNotConvergedKeepsPreviousWarp(t *testing.T) {
	log := bytes.Buffer{}
	c := ops.NewContext(&log)
	warnings := make(chan ops.Warning, 16)
	c.Warnings = warnings
	r, err := NewPieceWiseECC(testParams(), c)
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	prev := f64.Aff3{1, 0, 1.5, 0, 1, -0.5}
	aligners := []TileAligner{
		nil,
		fixedAligner{warp: prev, res: ECCResult{Status: ECCSuccess, CorrCoef: 0.9}},
		fixedAligner{warp: f64.Aff3{2, 0, 3, 0, 2, 3}, res: ECCResult{Status: ECCNotConverged, Reason: "singular Hessian"}},
	}
	ctx := context.Background()
	for id, a := range aligners {
		if a != nil {
			r.Aligner = a
		}
		if err := r.ProcessFrame(ctx, scene(id, 32, 32, float64(id), 0)); err != nil {
			t.Fatalf("got %v; want nil", err)
		}
		if err := r.RegisterFrame(ctx, nil); err != nil {
			t.Fatalf("got %v; want nil", err)
		}
	}
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			if m := r.Warp(row, col); m != prev {
				t.Errorf("tile (%d,%d) got %v; want previous %v", row, col, m, prev)
			}
			if !r.DoWarp(row, col) {
				t.Errorf("tile (%d,%d) got no warp; want previous warp applied", row, col)
			}
		}
	}
	d := r.Diagnostics()
	if n := len(d.NotConverged); n != 4 {
		t.Fatalf("got %d events; want 4", n)
	}
	if got, want := d.NotConverged[3], (TileEvent{Frame: 2, Row: 1, Col: 1}); got != want {
		t.Errorf("got %+v; want %+v", got, want)
	}
	if n := len(warnings); n != 4 {
		t.Errorf("got %d warnings; want 4", n)
	}
	if !strings.Contains(log.String(), "2: WARNING not converged at tile (1,1)") {
		t.Errorf("got log %q", log.String())
	}
}

func TestFrameShapeCheckedOnFirstFrame(t *testing.T) {
	r, err := NewPieceWiseECC(testParams(), ops.NewContext(nil))
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	ctx := context.Background()
	// 31+2*8 rows do not divide into two tile rows
	if err := r.ProcessFrame(ctx, scene(0, 32, 31, 0, 0)); !errors.Is(err, frame.ErrShape) {
		t.Fatalf("got %v; want %v", err, frame.ErrShape)
	}
	if err := r.ProcessFrame(ctx, scene(1, 32, 32, 0, 0)); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if err := r.RegisterFrame(ctx, nil); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
}

func TestHighJumpRejected(t *testing.T) {
	log := bytes.Buffer{}
	r, err := NewPieceWiseECC(testParams(), ops.NewContext(&log))
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	sin, cos := math.Sincos(0.01)
	jump := f64.Aff3{cos, -sin, 5, sin, cos, 5} // distance 7.07, above sqrt(32)
	r.Aligner = fixedAligner{warp: jump, res: ECCResult{Status: ECCSuccess, CorrCoef: 0.9}}
	ctx := context.Background()
	for id := 0; id < 2; id++ {
		if err := r.ProcessFrame(ctx, scene(id, 32, 32, 0, 0)); err != nil {
			t.Fatalf("got %v; want nil", err)
		}
		if err := r.RegisterFrame(ctx, nil); err != nil {
			t.Fatalf("got %v; want nil", err)
		}
	}
	m := r.Warp(0, 1)
	if m[2] != 0 || m[5] != 0 {
		t.Errorf("got translation (%v,%v); want (0,0)", m[2], m[5])
	}
	if m[0] != cos || m[3] != sin {
		t.Errorf("got rotation (%v,%v); want (%v,%v)", m[0], m[3], cos, sin)
	}
	if r.DoWarp(0, 1) {
		t.Errorf("got do-warp; want not")
	}
	if n := len(r.Diagnostics().HighJumps); n != 4 {
		t.Errorf("got %d high jumps; want 4", n)
	}
	for i, v := range r.Registered().Data {
		if v != r.Prefiltered().Data[i] {
			t.Fatalf("pixel %d got %v; want unwarped %v", i, v, r.Prefiltered().Data[i])
		}
	}

	small := f64.Aff3{1, 0, 1, 0, 1, 1} // distance 1.41 from the rejected warp
	r.Aligner = fixedAligner{warp: small, res: ECCResult{Status: ECCSuccess, CorrCoef: 0.9}}
	if err := r.ProcessFrame(ctx, scene(2, 32, 32, 0, 0)); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if !r.DoWarp(0, 1) || r.Warp(0, 1) != small {
		t.Errorf("got %v; want accepted %v", r.Warp(0, 1), small)
	}
	rec := r.Diagnostics().Frames[1]
	if math.Abs(float64(rec.Dist[1])-math.Sqrt2) > 1e-6 {
		t.Errorf("got distance %v; want %v", rec.Dist[1], math.Sqrt2)
	}
}

func TestFrameECCAppliesWarp(t *testing.T) {
	r, err := NewFrameECC(testParams(), ops.NewContext(nil))
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	r.Aligner = fixedAligner{warp: f64.Aff3{1, 0, 1, 0, 1, 0}, res: ECCResult{Status: ECCSuccess, CorrCoef: 0.95}}
	ctx := context.Background()
	for id := 0; id < 2; id++ {
		if err := r.ProcessFrame(ctx, scene(id, 32, 32, 0, 0)); err != nil {
			t.Fatalf("got %v; want nil", err)
		}
		if err := r.RegisterFrame(ctx, nil); err != nil {
			t.Fatalf("got %v; want nil", err)
		}
	}
	pre, reg := r.Prefiltered().View(), r.Registered().View()
	if got, want := reg.At(10, 7), pre.At(11, 7); math.Abs(float64(got-want)) > 1e-3 {
		t.Errorf("got %v; want %v", got, want)
	}
	d := r.Diagnostics()
	if len(d.Frames) != 1 || !d.Frames[0].DoWarp[0] || d.Frames[0].Dist[0] != 1 {
		t.Errorf("got %+v; want one warped frame at distance 1", d.Frames)
	}
}

func TestNoneCopiesPrefiltered(t *testing.T) {
	r, err := NewNone(testParams(), ops.NewContext(nil))
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	raw := scene(0, 32, 32, 0, 0)
	ctx := context.Background()
	if err := r.ProcessFrame(ctx, raw); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if err := r.RegisterFrame(ctx, raw); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if r.Registered().Data[100] != raw.Data[100] {
		t.Errorf("got %v; want %v", r.Registered().Data[100], raw.Data[100])
	}
}

func TestDrawMotionField(t *testing.T) {
	r, err := NewPieceWiseECC(testParams(), ops.NewContext(nil))
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	f := DrawMotionField(r.WarpStore(), 32, 32, 5)
	v := f.View()
	if v.At(8, 8) != 255 || v.At(0, 5) != 255 || v.At(5, 0) != 255 {
		t.Errorf("got center %v, borders %v %v; want 255", v.At(8, 8), v.At(0, 5), v.At(5, 0))
	}
	if v.At(12, 12) != 0 {
		t.Errorf("got %v; want 0", v.At(12, 12))
	}
}

func TestDiagnosticsJSON(t *testing.T) {
	d := newDiagnostics(MethodPieceWise, 2, 2, 5.66)
	d.HighJumps = append(d.HighJumps, TileEvent{Frame: 3, Row: 1, Col: 0})
	buf := bytes.Buffer{}
	if err := d.WriteJSON(&buf); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	s := buf.String()
	if !strings.Contains(s, `"highJumps"`) || !strings.Contains(s, `"frame": 3`) {
		t.Errorf("got %s", s)
	}
}

func TestDiagnosticsSummary(t *testing.T) {
	d := newDiagnostics(MethodPieceWise, 1, 2, 5.66)
	r0, r1 := newFrameRecord(1, 2), newFrameRecord(2, 2)
	copy(r0.CorrCoef, []float32{0.5, 1})
	copy(r0.Dist, []float32{0.25, 2})
	copy(r1.CorrCoef, []float32{1, 1})
	copy(r1.Dist, []float32{1, 0.5})
	d.Frames = append(d.Frames, r0, r1)

	corr, dist := d.Summary()
	if corr.Min != 0.75 || corr.Max != 1 || corr.Mean != 0.875 {
		t.Errorf("got %v; want min 0.75 max 1 mean 0.875", corr)
	}
	if dist.Min != 1 || dist.Max != 2 {
		t.Errorf("got %v; want min 1 max 2", dist)
	}
	if s := d.String(); !strings.Contains(s, "pw_ecc on 1x2 tiles, 2 frames") {
		t.Errorf("got %q; want method and tile summary", s)
	}
}
