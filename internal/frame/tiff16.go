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
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff"
)

// Write the first channel of a frame to a grayscale 16-bit TIFF file, mapping [min, max] to [0, 65535].
func (f *Frame) WriteTIFF16ToFile(fileName string, min, max float32) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := f.WriteTIFF16(writer, min, max); err != nil {
		return err
	}
	return writer.Flush()
}

// Write the first channel of a frame to grayscale 16-bit TIFF, mapping [min, max] to [0, 65535].
func (f *Frame) WriteTIFF16(writer io.Writer, min, max float32) error {
	// convert pixels into Golang Image
	v := f.View()
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	scale := float32(1)
	if max > min {
		scale = 1 / (max - min)
	}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			gray := (v.At(x, y) - min) * scale
			// replace NaNs with zeros for export, else TIFF output breaks
			if math.IsNaN(float64(gray)) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(gray*65535 + 0.5)})
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Uncompressed, Predictor: false})
}

// Write the first channel of a label frame to 16-bit TIFF file without scaling. Values are clamped to [0, 65535].
func (f *Frame) WriteLabelTIFF16ToFile(fileName string) error {
	return f.WriteTIFF16ToFile(fileName, 0, 65535)
}

// Read a color or grayscale TIFF file into a single-channel frame with the given ID.
// 8 and 16-bit values are kept in their original range, color images are converted to luminance.
func ReadTIFFFile(fileName string, id int) (*Frame, error) {
	// open file and create buffered reader
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	f, err := ReadTIFF(bufio.NewReader(file), id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return f, nil
}

// Read a color or grayscale TIFF image into a single-channel frame with the given ID.
func ReadTIFF(reader io.Reader, id int) (*Frame, error) {
	// decode TIFF file into golang image
	t, err := tiff.Decode(reader)
	if err != nil {
		return nil, err
	}

	b := t.Bounds()
	width, height := b.Dx(), b.Dy()
	f := New(id, width, height, 1)

	switch img := t.(type) {
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				f.Data[y*width+x] = float32(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray16:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				f.Data[y*width+x] = float32(img.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		// color case. Keep 8-bit sources in the 8-bit range
		eightBit := bitsPerChannel(t.ColorModel()) == 8
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				gray := float32(color.Gray16Model.Convert(t.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16).Y)
				if eightBit {
					gray = float32(math.Round(float64(gray) / 257))
				}
				f.Data[y*width+x] = gray
			}
		}
	}
	return f, nil
}

func bitsPerChannel(m color.Model) int {
	switch m {
	case color.RGBAModel, color.NRGBAModel, color.AlphaModel, color.GrayModel:
		return 8
	case color.RGBA64Model, color.NRGBA64Model, color.Alpha16Model, color.Gray16Model:
		return 16
	default:
		return 0
	}
}
