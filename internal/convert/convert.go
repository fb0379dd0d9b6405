// Package convert turns ordinary images into panel framebuffers: resize to
// the panel, gamma correct, dither to the seven panel colours and pack two
// pixels per byte.
package convert

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/disintegration/imaging"
	"github.com/makeworld-the-better-one/dither"

	"epd7in3f/internal/epd"
)

// ResizeMode controls how a source image is mapped onto the 800x480 panel.
type ResizeMode string

const (
	// Stretch scales to exactly 800x480, ignoring aspect ratio.
	Stretch ResizeMode = "stretch"
	// Fit scales to fit inside the panel and centers on white.
	Fit ResizeMode = "fit"
	// Fill scales to cover the panel and crops the center.
	Fill ResizeMode = "fill"
)

// DefaultGamma brightens midtones before dithering; the panel pigments read
// darker than an sRGB screen.
const DefaultGamma = 1.2

type Options struct {
	Mode  ResizeMode
	Gamma float64
	// NoDither maps each pixel to its nearest colour without error diffusion.
	NoDither bool
}

// DefaultOptions matches the reference converter: stretch, gamma 1.2 and
// Floyd-Steinberg dithering.
var DefaultOptions = Options{Mode: Stretch, Gamma: DefaultGamma}

// Decode reads a PNG, JPEG or GIF, applying any EXIF orientation.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("convert: decode image: %w", err)
	}
	return img, nil
}

// Convert runs the whole pipeline.
func Convert(img image.Image, opts Options) (epd.Framebuffer, error) {
	return Pack(Quantize(Prepare(img, opts), !opts.NoDither))
}

// Prepare resizes img to the panel and applies gamma correction.
func Prepare(img image.Image, opts Options) *image.NRGBA {
	var out *image.NRGBA
	switch opts.Mode {
	case Fit:
		fit := imaging.Fit(img, epd.Width, epd.Height, imaging.Lanczos)
		out = imaging.PasteCenter(imaging.New(epd.Width, epd.Height, color.White), fit)
	case Fill:
		out = imaging.Fill(img, epd.Width, epd.Height, imaging.Center, imaging.Lanczos)
	default:
		out = imaging.Resize(img, epd.Width, epd.Height, imaging.Lanczos)
	}
	if opts.Gamma > 0 && opts.Gamma != 1 {
		out = imaging.AdjustGamma(out, opts.Gamma)
	}
	return out
}

func panelPalette() []color.Color {
	p := make([]color.Color, len(epd.Palette))
	copy(p, epd.Palette)
	return p
}

// Quantize maps img onto the displayable panel colours, with
// Floyd-Steinberg error diffusion when diffuse is set.
func Quantize(img image.Image, diffuse bool) *image.Paletted {
	if diffuse {
		d := dither.NewDitherer(panelPalette())
		d.Matrix = dither.FloydSteinberg
		return d.DitherPaletted(img)
	}
	// Nearest colour only.
	p := image.NewPaletted(img.Bounds(), panelPalette())
	draw.Draw(p, p.Rect, img, img.Bounds().Min, draw.Src)
	return p
}

// Pack encodes a panel-sized paletted image. Palette entries that are not
// exact panel colours are mapped to the nearest one.
func Pack(p *image.Paletted) (epd.Framebuffer, error) {
	b := p.Bounds()
	if b.Dx() != epd.Width || b.Dy() != epd.Height {
		return epd.Framebuffer{}, fmt.Errorf("convert: image is %dx%d, want %dx%d: %w",
			b.Dx(), b.Dy(), epd.Width, epd.Height, epd.ErrGeometryMismatch)
	}

	codes := make([]epd.Colour, len(p.Palette))
	for i, c := range p.Palette {
		codes[i] = epd.Colour(epd.Palette.Index(c))
	}

	buf := make([]byte, 0, epd.FrameSize)
	for y := 0; y < epd.Height; y++ {
		row := p.Pix[y*p.Stride : y*p.Stride+epd.Width]
		buf = appendPacked(buf, row, codes)
	}
	return epd.NewFramebuffer(buf)
}

// appendPacked packs one row of palette indices, left pixel in the high
// nibble. An odd trailing pixel is paired with Clean.
func appendPacked(dst []byte, row []uint8, codes []epd.Colour) []byte {
	for i := 0; i < len(row); i += 2 {
		hi := codes[row[i]]
		lo := epd.Clean
		if i+1 < len(row) {
			lo = codes[row[i+1]]
		}
		dst = append(dst, byte(hi)<<4|byte(lo))
	}
	return dst
}

// Preview renders fb as an image, using each colour's nominal appearance.
func Preview(fb epd.Framebuffer) *image.Paletted {
	pal := make(color.Palette, 0, 8)
	for c := epd.Black; c <= epd.Clean; c++ {
		pal = append(pal, c)
	}
	img := image.NewPaletted(image.Rect(0, 0, epd.Width, epd.Height), pal)
	buf := fb.Bytes()
	for y := 0; y < epd.Height; y++ {
		src := buf[y*epd.RowBytes : (y+1)*epd.RowBytes]
		dst := img.Pix[y*img.Stride : y*img.Stride+epd.Width]
		for i, b := range src {
			dst[2*i] = b >> 4 & 0x07
			dst[2*i+1] = b & 0x07
		}
	}
	return img
}
