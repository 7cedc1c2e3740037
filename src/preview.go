package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"sort"

	"golang.org/x/image/draw"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/stat"
)

// from http://paulbourke.net/dataformats/asciiart/
var asciiTable = "$@B%8&WM#*oahkbdpqwmZO0QLCJUYXzcvunxrjft/\\|()1{}[]?-_+~<>i!lI;:,\"^`'."

// previewWidth is the number of characters one preview row uses, terminal
// character cells are roughly twice as tall as wide.
const previewWidth = 96

// previewVolume renders the middle axial slice of a volume as ASCII art.
// The intensity window is clipped to the 2%..98% percentiles so a few hot
// voxels do not wash out the brain.
func previewVolume(path string, out io.Writer) error {
	content, err := readNIfTIBytes(path)
	if err != nil {
		return err
	}
	header, order, err := readNIfTIHeader(content)
	if err != nil {
		return err
	}
	data, err := readNIfTIData(content, header, order)
	if err != nil {
		return err
	}
	nx, ny := int(header.Dim[1]), int(header.Dim[2])
	nz := 1
	if header.Dim[0] >= 3 {
		nz = int(header.Dim[3])
	}
	if nx < 2 || ny < 2 {
		return fmt.Errorf("%s has no usable slice", path)
	}
	slice := data[(nz/2)*nx*ny : (nz/2+1)*nx*ny]

	low, high := intensityWindow(slice, 0.02, 0.98)

	img := image.NewGray16(image.Rect(0, 0, nx, ny))
	denom := high - low
	if denom == 0 {
		denom = 1
	}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			v := (slice[y*nx+x] - low) / denom
			v = math.Min(1, math.Max(0, v))
			img.SetGray16(x, y, color.Gray16{Y: uint16(v * 65535)})
		}
	}

	// keep the voxel aspect, terminal cells are about twice as tall as wide
	h := int(math.Round(float64(previewWidth) * float64(ny) / float64(nx) / 2.2))
	if h < 1 {
		h = 1
	}
	small := image.NewGray16(image.Rect(0, 0, previewWidth, h))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Over, nil)

	fmt.Fprintf(out, "%s", sliceToASCII(small, previewWidth, h))

	summary, err := niftiSummary(path)
	if err == nil {
		langFmt := message.NewPrinter(language.English)
		langFmt.Fprintf(out, "%s: %s, slice %d/%d\n", path, summary, nz/2+1, nz)
	}
	return nil
}

// intensityWindow returns the lower and upper clip values for display.
func intensityWindow(pixels []float64, lo, hi float64) (float64, float64) {
	sorted := make([]float64, len(pixels))
	copy(sorted, pixels)
	sort.Float64s(sorted)
	return stat.Quantile(lo, stat.Empirical, sorted, nil),
		stat.Quantile(hi, stat.Empirical, sorted, nil)
}

// sliceToASCII maps the gray values of an image onto the character table,
// dark voxels get the dense characters.
func sliceToASCII(img image.Image, w, h int) []byte {
	table := []byte(reverse(asciiTable))
	buf := new(bytes.Buffer)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			g := color.Gray16Model.Convert(img.At(j, i)).(color.Gray16)
			pos := int(float64(g.Y) / 65535.0 * float64(len(table)-1))
			if pos < 0 {
				pos = 0
			}
			if pos > len(table)-1 {
				pos = len(table) - 1
			}
			_ = buf.WriteByte(table[pos])
		}
		_ = buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// reverse reverses the argument and returns the result
func reverse(s string) string {
	o := make([]rune, len(s))
	i := len(o)
	for _, c := range s {
		i--
		o[i] = c
	}
	return string(o)
}
