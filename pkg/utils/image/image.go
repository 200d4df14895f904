package image

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"

	"pocket-shutter/pkg/utils/rgb"
)

var bars = []color.RGBA{
	{R: 0xc0, G: 0xc0, B: 0xc0},
	{R: 0xc0, G: 0xc0, B: 0x00},
	{R: 0x00, G: 0xc0, B: 0xc0},
	{R: 0x00, G: 0xc0, B: 0x00},
	{R: 0xc0, G: 0x00, B: 0xc0},
	{R: 0xc0, G: 0x00, B: 0x00},
	{R: 0x00, G: 0x00, B: 0xc0},
}

// ColorBars draws SMPTE-like vertical bars; shift moves them sideways so
// consecutive frames differ.
func ColorBars(width, height, shift int) *rgb.RGB {
	img := rgb.New(width, height)
	barWidth := width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	for x := 0; x < width; x++ {
		c := bars[((x+shift)/barWidth)%len(bars)]
		for y := 0; y < height; y++ {
			img.Set(x, y, c)
		}
	}

	return img
}

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}

func EncodeJPEGBytes(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJPEG(img, &buf, quality); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
