package epd

import "fmt"

// Panel geometry.
const (
	Width     = 800
	Height    = 480
	RowBytes  = (Width + 1) / 2
	FrameSize = RowBytes * Height
)

// Framebuffer is a full panel image: 4 bits per pixel, two pixels per byte
// with the left pixel in the high nibble, rows top to bottom.
//
// The zero value is not usable; build one with NewFramebuffer or
// NewFilledFramebuffer.
type Framebuffer struct {
	buf []byte
}

// NewFramebuffer wraps b, which must be exactly FrameSize bytes. The slice is
// not copied.
func NewFramebuffer(b []byte) (Framebuffer, error) {
	if len(b) != FrameSize {
		return Framebuffer{}, fmt.Errorf("epd: framebuffer is %d bytes, want %d: %w", len(b), FrameSize, ErrGeometryMismatch)
	}
	return Framebuffer{buf: b}, nil
}

// NewFilledFramebuffer allocates a framebuffer with every pixel set to c.
func NewFilledFramebuffer(c Colour) Framebuffer {
	fb := Framebuffer{buf: make([]byte, FrameSize)}
	fb.Fill(c)
	return fb
}

// Bytes returns the underlying buffer.
func (f Framebuffer) Bytes() []byte {
	return f.buf
}

// Valid reports whether f wraps a correctly sized buffer.
func (f Framebuffer) Valid() bool {
	return len(f.buf) == FrameSize
}

// Fill sets every pixel to c.
func (f Framebuffer) Fill(c Colour) {
	p := c.Packed()
	for i := range f.buf {
		f.buf[i] = p
	}
}

// Pixel returns the colour code at (x, y). It panics if the point is outside
// the panel.
func (f Framebuffer) Pixel(x, y int) Colour {
	b := f.buf[offset(x, y)]
	if x%2 == 0 {
		return Colour(b >> 4)
	}
	return Colour(b & 0x0F)
}

// SetPixel sets (x, y) to c, leaving the other pixel of the pair untouched.
func (f Framebuffer) SetPixel(x, y int, c Colour) {
	i := offset(x, y)
	if x%2 == 0 {
		f.buf[i] = f.buf[i]&0x0F | byte(c&0x0F)<<4
	} else {
		f.buf[i] = f.buf[i]&0xF0 | byte(c&0x0F)
	}
}

// Clone returns a deep copy of f.
func (f Framebuffer) Clone() Framebuffer {
	b := make([]byte, len(f.buf))
	copy(b, f.buf)
	return Framebuffer{buf: b}
}

func offset(x, y int) int {
	if x < 0 || x >= Width || y < 0 || y >= Height {
		panic(fmt.Sprintf("epd: pixel (%d,%d) outside %dx%d panel", x, y, Width, Height))
	}
	return y*RowBytes + x/2
}
