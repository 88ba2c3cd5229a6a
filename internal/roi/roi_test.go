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

package roi

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/mlnoga/caltrace/internal/ops"
	"github.com/valyala/fastrand"
)

func binaryRect(w, h, x0, y0, x1, y1 int) []bool {
	bin := make([]bool, w*h)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			bin[y*w+x] = true
		}
	}
	return bin
}

// A Gaussian blob of given amplitude and sigma centered at (cx,cy), plus noise in [0,noise)
func blobFrame(w, h int, cx, cy, amp, sigma, noise float64, rng *fastrand.RNG) *frame.Frame {
	f := frame.New(0, w, h, 1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			v := amp * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			if rng != nil {
				v += noise * float64(rng.Uint32n(1<<20)) / (1 << 20)
			}
			f.View().Set(x, y, float32(v))
		}
	}
	return f
}

func TestContourRectangle(t *testing.T) {
	cs := FindContours(binaryRect(10, 10, 2, 3, 6, 5), 10, 10)
	if len(cs) != 1 {
		t.Fatalf("got %d contours; want 1", len(cs))
	}
	c := cs[0]
	if len(c.Points) != 12 {
		t.Errorf("got %d points; want 12", len(c.Points))
	}
	if a := c.Area(); a != 8 {
		t.Errorf("got area %v; want 8", a)
	}
	if p := c.Perimeter(); p != 12 {
		t.Errorf("got perimeter %v; want 12", p)
	}
	if n := len(c.Fill(10, 10)); n != 15 {
		t.Errorf("got %d filled pixels; want 15", n)
	}
}

func TestContourFillsHoles(t *testing.T) {
	bin := binaryRect(9, 9, 2, 2, 6, 6)
	bin[4*9+4] = false
	cs := FindContours(bin, 9, 9)
	if len(cs) != 1 {
		t.Fatalf("got %d contours; want 1", len(cs))
	}
	if n := len(cs[0].Pixels); n != 24 {
		t.Errorf("got %d component pixels; want 24", n)
	}
	filled := cs[0].Fill(9, 9)
	if len(filled) != 25 {
		t.Errorf("got %d filled pixels; want 25", len(filled))
	}
	for i := 1; i < len(filled); i++ {
		if filled[i] <= filled[i-1] {
			t.Fatalf("got unsorted pixels at %d", i)
		}
	}
}

func TestContourOrderAndConnectivity(t *testing.T) {
	w, h := 8, 8
	bin := make([]bool, w*h)
	bin[1*w+5], bin[2*w+6] = true, true // diagonal pair, one component
	bin[4*w+1] = true                   // isolated pixel
	cs := FindContours(bin, w, h)
	if len(cs) != 2 {
		t.Fatalf("got %d contours; want 2", len(cs))
	}
	if len(cs[0].Pixels) != 2 || cs[0].Pixels[0] != int32(1*w+5) {
		t.Errorf("got first component %v; want the diagonal pair", cs[0].Pixels)
	}
	if p := cs[1].Perimeter(); p != 0 {
		t.Errorf("got perimeter %v; want 0", p)
	}
	if _, err := checkPerimeter(&cs[1]); !errors.Is(err, ErrAlgorithm) {
		t.Errorf("got %v; want %v", err, ErrAlgorithm)
	}
}

func TestDetectGaussianBlob(t *testing.T) {
	d := NewDetector(DefaultDetectorParams(), ops.NewContext(nil))
	res, err := d.Detect(blobFrame(64, 64, 32, 32, 100, 3, 0, nil))
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if len(res.ROIs) != 1 {
		t.Fatalf("got %d ROIs; want 1", len(res.ROIs))
	}
	r := res.ROIs[0]
	if r.ID != 1 {
		t.Errorf("got id %d; want 1", r.ID)
	}
	// The lowest accepted level is 7, so pixels with round(255*g) >= 8 form the disk.
	sigma := 3.0
	r2 := 2 * sigma * sigma * math.Log(255/7.5)
	rad := math.Sqrt(r2)
	within := func(name string, got, want float64) {
		if math.Abs(got-want) > 0.05*want {
			t.Errorf("got %s %v; want %v within 5%%", name, got, want)
		}
	}
	within("pixels", float64(len(r.Pixels)), math.Pi*r2)
	// The contour runs through boundary pixel centers half a pixel inside the disk edge.
	within("area", r.Area, math.Pi*(rad-0.5)*(rad-0.5))
	// An 8-connected chain overestimates a circle's perimeter by 8(sqrt2-1)/pi on average.
	chain := 8 * (math.Sqrt2 - 1) / math.Pi
	within("circularity", r.Circularity, 1/(chain*chain))
	within("mean", r.FluoMean, 100*(1-7.5/255)/(r2/(2*sigma*sigma)))
	if math.Abs(r.Centroid.X-32) > 1e-9 || math.Abs(r.Centroid.Y-32) > 1e-9 {
		t.Errorf("got centroid %v; want (32,32)", r.Centroid)
	}
	if math.Abs(r.CenterOfMass.X-32) > 1e-6 || math.Abs(r.CenterOfMass.Y-32) > 1e-6 {
		t.Errorf("got center of mass %v; want (32,32)", r.CenterOfMass)
	}
	if r.SNR <= 0 {
		t.Errorf("got SNR %v; want >0", r.SNR)
	}
	if v := res.Labels.View().At(32, 32); v != 1 {
		t.Errorf("got label %v; want 1", v)
	}
	if v := res.Labels.View().At(2, 2); v != 0 {
		t.Errorf("got label %v; want 0", v)
	}
	if v := res.Masked.View().At(2, 2); v != 0 {
		t.Errorf("got masked %v; want 0", v)
	}
}

func TestSNRIncreasesWithAmplitude(t *testing.T) {
	for seed := uint32(1); seed <= 3; seed++ {
		last := math.Inf(-1)
		for _, amp := range []float64{100, 200, 400} {
			rng := fastrand.RNG{}
			rng.Seed(seed)
			d := NewDetector(DefaultDetectorParams(), ops.NewContext(nil))
			res, err := d.Detect(blobFrame(64, 64, 32, 32, amp, 3, 10, &rng))
			if err != nil {
				t.Fatalf("got %v; want nil", err)
			}
			var best *ROI
			for i := range res.ROIs {
				r := &res.ROIs[i]
				if math.Hypot(r.Centroid.X-32, r.Centroid.Y-32) < 2 {
					best = r
				}
			}
			if best == nil {
				t.Fatalf("seed %d amplitude %v: got no ROI at the center", seed, amp)
			}
			if best.SNR <= last {
				t.Errorf("seed %d amplitude %v: got SNR %v; want >%v", seed, amp, best.SNR, last)
			}
			last = best.SNR
		}
	}
}

func TestDetectSafeguard(t *testing.T) {
	p := DefaultDetectorParams()
	p.ThreshDrop = 0
	d := NewDetector(p, ops.NewContext(nil))
	if _, err := d.Detect(blobFrame(32, 32, 16, 16, 100, 3, 0, nil)); !errors.Is(err, ErrSafeguard) {
		t.Errorf("got %v; want %v", err, ErrSafeguard)
	}
}

func TestZeroROIStreakWarning(t *testing.T) {
	p := DefaultDetectorParams()
	p.MaxZeroROIFrames = 3
	c := ops.NewContext(nil)
	warnings := make(chan ops.Warning, 4)
	c.Warnings = warnings
	d := NewDetector(p, c)
	for id := 0; id < 4; id++ {
		f := frame.New(id, 16, 16, 1)
		res, err := d.Detect(f)
		if err != nil {
			t.Fatalf("got %v; want nil", err)
		}
		if len(res.ROIs) != 0 {
			t.Fatalf("got %d ROIs; want 0", len(res.ROIs))
		}
	}
	if d.ZeroStreak() != 4 {
		t.Errorf("got streak %d; want 4", d.ZeroStreak())
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings; want 1", len(warnings))
	}
	if w := <-warnings; w.FrameID != 2 || w.Kind != ops.WarnNoROIs {
		t.Errorf("got %v; want no ROIs at frame 2", w)
	}
}

func roiAt(w int, x0, y0, x1, y1 int, snr float64) ROI {
	var px []int32
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			px = append(px, int32(y*w+x))
		}
	}
	return ROI{
		Pixels:   px,
		SNR:      snr,
		Area:     float64(len(px)),
		Centroid: Point2{float64(x0+x1) / 2, float64(y0+y1) / 2},
	}
}

func TestPickerOverlap(t *testing.T) {
	w, h := 10, 10
	p := NewPicker(w, h, PickerParams{SNRThreshold: 20, MaxOverlap: 3})
	rois := []ROI{
		roiAt(w, 0, 0, 2, 2, 30), // accepted
		roiAt(w, 2, 0, 4, 1, 30), // overlaps 2 pixels, accepted without them
		roiAt(w, 0, 0, 3, 3, 30), // overlaps 11 pixels, rejected
		roiAt(w, 6, 6, 8, 8, 10), // low SNR, rejected
	}
	if err := p.Pickup(0, rois); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if p.NumROIs() != 2 {
		t.Fatalf("got %d ROIs; want 2", p.NumROIs())
	}
	labels := p.Labels().View()
	if labels.At(2, 0) != 1 || labels.At(3, 0) != 2 || labels.At(2, 1) != 1 || labels.At(7, 7) != 0 {
		t.Errorf("got labels %v %v %v %v; want 1 2 1 0", labels.At(2, 0), labels.At(3, 0), labels.At(2, 1), labels.At(7, 7))
	}
	if n := len(p.rois[1].Pixels); n != 4 {
		t.Errorf("got %d pixels; want 4", n)
	}
}

func TestPickerSequence(t *testing.T) {
	p := NewPicker(4, 4, DefaultPickerParams())
	if err := p.Pickup(1, nil); !errors.Is(err, ErrFrameGap) {
		t.Errorf("got %v; want %v", err, ErrFrameGap)
	}
	if err := p.Pickup(0, nil); err != nil {
		t.Errorf("got %v; want nil", err)
	}
	if err := p.ExtractFrame(frame.New(0, 4, 4, 1).View()); !errors.Is(err, ErrSequence) {
		t.Errorf("got %v; want %v", err, ErrSequence)
	}
	if _, err := p.FinalizeFluo(); !errors.Is(err, ErrSequence) {
		t.Errorf("got %v; want %v", err, ErrSequence)
	}
	p.FinalizePickup()
	if err := p.ExtractFrame(frame.New(0, 5, 4, 1).View()); !errors.Is(err, frame.ErrShape) {
		t.Errorf("got %v; want %v", err, frame.ErrShape)
	}
	if err := p.Pickup(1, nil); !errors.Is(err, ErrSequence) {
		t.Errorf("got %v; want %v", err, ErrSequence)
	}
}

func TestPickerFluorescence(t *testing.T) {
	w, h := 4, 4
	p := NewPicker(w, h, PickerParams{SNRThreshold: 0, MaxOverlap: 0})
	p.Pickup(0, []ROI{roiAt(w, 0, 0, 1, 1, 10)})
	p.FinalizePickup()
	for i, roiVal := range []float32{3, 6, 5} {
		f := frame.New(i, w, h, 1)
		f.View().Fill(2)
		f.View().Sub(0, 0, 2, 2).Fill(roiVal)
		if err := p.ExtractFrame(f.View()); err != nil {
			t.Fatalf("got %v; want nil", err)
		}
	}
	fl, err := p.FinalizeFluo()
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if fl.RawMean[1][0] != 6 || fl.RawSum[1][0] != 24 || fl.Background[1] != 2 {
		t.Errorf("got mean %v sum %v bg %v; want 6 24 2", fl.RawMean[1][0], fl.RawSum[1][0], fl.Background[1])
	}
	want := []float32{0.5, 2, 1.5}
	for i, v := range Column(fl.DFF, 0) {
		if math.Abs(float64(v-want[i])) > 1e-6 {
			t.Errorf("frame %d got dF/F %v; want %v", i, v, want[i])
		}
	}
}

func TestDeltaFOverF(t *testing.T) {
	dff, err := DeltaFOverF([][]float32{{1.5}, {3}, {2.5}}, []float32{2, 2, 2}, 1)
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	want := []float32{0, 0.75, 0.5} // shifted up by 0.25
	for i, w := range want {
		if math.Abs(float64(dff[i][0]-w)) > 1e-6 {
			t.Errorf("frame %d got %v; want %v", i, dff[i][0], w)
		}
	}
	if _, err := DeltaFOverF([][]float32{{1}, {1}}, []float32{2, 0.5}, 1); !errors.Is(err, ErrLowBackground) {
		t.Errorf("got %v; want %v", err, ErrLowBackground)
	}
}

func TestDeltaFOverFShapeMismatch(t *testing.T) {
	cases := []struct {
		name  string
		raw   [][]float32
		bg    []float32
		nrois int
	}{
		{"missing background", [][]float32{{1, 2}}, []float32{}, 2},
		{"extra background", [][]float32{{1, 2}}, []float32{2, 2}, 2},
		{"short row", [][]float32{{1, 2}, {3}}, []float32{2, 2}, 2},
		{"long row", [][]float32{{1, 2, 3}}, []float32{2}, 2},
	}
	for _, c := range cases {
		if _, err := DeltaFOverF(c.raw, c.bg, c.nrois); !errors.Is(err, ErrShape) {
			t.Errorf("%s: got %v; want %v", c.name, err, ErrShape)
		}
	}
}

func TestWeightedPicker(t *testing.T) {
	w, h := 12, 12
	p := NewWeightedPicker(w, h, PickerParams{SNRThreshold: 20, JaccardThreshold: 0.4, CentroidDistThreshold: 5})
	if err := p.Pickup(0, []ROI{roiAt(w, 0, 0, 3, 3, 30), roiAt(w, 8, 8, 10, 10, 30)}); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if p.NumROIs() != 2 {
		t.Fatalf("got %d identities; want 2", p.NumROIs())
	}
	// shifted by one column: Jaccard 12/20, merged into the first identity
	if err := p.Pickup(1, []ROI{roiAt(w, 1, 0, 4, 3, 30)}); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	// Jaccard 4/28 with the first identity, between the thresholds
	if err := p.Pickup(2, []ROI{roiAt(w, 3, 2, 5, 5, 30)}); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if p.NumROIs() != 2 || p.ResidualCount() != 1 {
		t.Fatalf("got %d identities and %d residuals; want 2 and 1", p.NumROIs(), p.ResidualCount())
	}
	if err := p.FinalizePickup(); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	pixels, weights := p.Identity(0)
	if len(pixels) != 20 {
		t.Fatalf("got %d pixels; want 20", len(pixels))
	}
	for i, px := range pixels {
		x := int(px) % w
		want := float32(1)
		if x == 0 || x == 4 {
			want = 0.5
		}
		if weights[i] != want {
			t.Errorf("pixel %d got weight %v; want %v", px, weights[i], want)
		}
	}

	f := frame.New(0, w, h, 1)
	f.View().Fill(4)
	if err := p.ExtractFrame(f.View()); err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	fl, err := p.FinalizeFluo()
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	// weighted values: 12 pixels of 4, 8 pixels of 2
	if got := fl.RawSum[0][0]; got != 64 {
		t.Errorf("got sum %v; want 64", got)
	}
	if got := fl.RawMean[0][0]; got != 3.2 {
		t.Errorf("got mean %v; want 3.2", got)
	}
	if got := fl.Mask.View().At(0, 0); got != 0.5 {
		t.Errorf("got blend %v; want 0.5", got)
	}
	if got := fl.Residual.View().At(5, 5); got != 1 {
		t.Errorf("got residual %v; want 1", got)
	}
}

func TestJaccard(t *testing.T) {
	a, b := []int32{1, 2, 3, 4}, []int32{3, 4, 5}
	if got := jaccard(a, b); math.Abs(got-0.4) > 1e-12 {
		t.Errorf("got %v; want 0.4", got)
	}
	if got := mergeSorted(a, b); len(got) != 5 || got[4] != 5 {
		t.Errorf("got %v; want [1 2 3 4 5]", got)
	}
}

func TestReadMovieROIsFileNormalizesPixels(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "rois.json")
	in := `{"width":4,"height":4,"frames":[{"frame":0,"rois":[{"id":1,"pixels":[9,2,5,2,0]}]}]}`
	if err := os.WriteFile(fileName, []byte(in), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := ReadMovieROIsFile(fileName)
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if got, want := m.Frames[0].ROIs[0].Pixels, []int32{0, 2, 5, 9}; !slices.Equal(got, want) {
		t.Errorf("got %v; want %v", got, want)
	}

	tests := []struct {
		name string
		json string
	}{
		{"pixel past end", `{"width":4,"height":4,"frames":[{"frame":3,"rois":[{"id":1,"pixels":[16,1]}]}]}`},
		{"negative pixel", `{"width":4,"height":4,"frames":[{"frame":3,"rois":[{"id":1,"pixels":[2,-1]}]}]}`},
		{"empty frame size", `{"width":0,"height":4,"frames":[]}`},
	}
	for _, tt := range tests {
		if err := os.WriteFile(fileName, []byte(tt.json), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadMovieROIsFile(fileName); !errors.Is(err, ErrShape) {
			t.Errorf("%s: got %v; want %v", tt.name, err, ErrShape)
		}
	}
}
