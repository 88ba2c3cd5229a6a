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
	"bufio"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"math"
	"os"

	"github.com/anthonynsimon/bild/transform"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// Write the first channel of a frame to JPG file, using the given min, max and gamma.
func (f *Frame) WriteMonoJPGToFile(fileName string, min, max, gamma float32, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := f.WriteMonoJPG(writer, min, max, gamma, quality); err != nil {
		return err
	}
	return writer.Flush()
}

// Write the first channel of a frame to JPG, using the given min, max and gamma.
func (f *Frame) WriteMonoJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	return jpeg.Encode(writer, f.toGray(min, max, gamma), &jpeg.Options{Quality: quality})
}

// Write a preview of the frame to JPG file, with regions of the label frame tinted in distinct hues.
// Label 0 is background, labels 1..n receive evenly spaced hues. The preview is upscaled by the given integer factor.
func (f *Frame) WriteOverlayJPGToFile(fileName string, labels *Frame, min, max float32, upscale, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := f.WriteOverlayJPG(writer, labels, min, max, upscale, quality); err != nil {
		return err
	}
	return writer.Flush()
}

// Write a preview of the frame to JPG, with regions of the label frame tinted in distinct hues.
func (f *Frame) WriteOverlayJPG(writer io.Writer, labels *Frame, min, max float32, upscale, quality int) error {
	if labels.Width != f.Width || labels.Height != f.Height {
		return shapeError(labels.View(), f.View())
	}
	gray := f.toGray(min, max, 1)

	numLabels := 0
	for _, l := range labels.Data {
		if int(l) > numLabels {
			numLabels = int(l)
		}
	}
	palette := make([]colorful.Color, numLabels+1)
	for i := 1; i <= numLabels; i++ {
		palette[i] = colorful.Hsv(360*float64(i-1)/float64(numLabels), 1, 1)
	}

	img := image.NewRGBA(gray.Bounds())
	draw.Draw(img, img.Bounds(), gray, image.Point{}, draw.Src)
	lv := labels.View()
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			l := int(lv.At(x, y))
			if l <= 0 {
				continue
			}
			g := float64(gray.GrayAt(x, y).Y) / 255
			c := colorful.Color{R: g, G: g, B: g}.BlendRgb(palette[l], 0.5).Clamped()
			r, gg, b := c.RGB255()
			img.SetRGBA(x, y, color.RGBA{R: r, G: gg, B: b, A: 255})
		}
	}

	var out image.Image = img
	if upscale > 1 {
		out = transform.Resize(img, f.Width*upscale, f.Height*upscale, transform.NearestNeighbor)
	}
	return jpeg.Encode(writer, out, &jpeg.Options{Quality: quality})
}

// Converts the first channel to an 8-bit gray image, using the given min, max and gamma
func (f *Frame) toGray(min, max, gamma float32) *image.Gray {
	v := f.View()
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	scale := float32(1)
	if max > min {
		scale = 1 / (max - min)
	}
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			gray := (v.At(x, y) - min) * scale
			// replace NaNs with zeros for export, else JPG output breaks
			if math.IsNaN(float64(gray)) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			if gammaInv != 1.0 {
				gray = float32(math.Pow(float64(gray), gammaInv))
			}
			img.SetGray(x, y, color.Gray{Y: uint8(gray * 255)})
		}
	}
	return img
}
