package epd

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestGeometry(t *testing.T) {
	if RowBytes != 400 || FrameSize != 192000 {
		t.Fatalf("RowBytes = %d, FrameSize = %d", RowBytes, FrameSize)
	}
}

func TestNewFramebufferLength(t *testing.T) {
	for _, n := range []int{0, 1, FrameSize - 1, FrameSize + 1} {
		if _, err := NewFramebuffer(make([]byte, n)); !errors.Is(err, ErrGeometryMismatch) {
			t.Errorf("NewFramebuffer(%d bytes) = %v, want ErrGeometryMismatch", n, err)
		}
	}
	if _, err := NewFramebuffer(make([]byte, FrameSize)); err != nil {
		t.Errorf("NewFramebuffer(FrameSize) = %v", err)
	}
}

func TestPixelNibbles(t *testing.T) {
	fb := NewFilledFramebuffer(White)
	fb.SetPixel(0, 0, Red)
	fb.SetPixel(1, 0, Blue)
	if got := fb.Bytes()[0]; got != 0x43 {
		t.Errorf("byte 0 = %#x, want 0x43", got)
	}
	fb.SetPixel(799, 479, Black)
	if got := fb.Bytes()[FrameSize-1]; got != 0x10 {
		t.Errorf("last byte = %#x, want 0x10", got)
	}
}

func TestSetPixelProperty(t *testing.T) {
	fb := NewFilledFramebuffer(White)
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.IntRange(0, Width-1).Draw(t, "x")
		y := rapid.IntRange(0, Height-1).Draw(t, "y")
		c := Colour(rapid.IntRange(0, 7).Draw(t, "c"))
		neighbour := x ^ 1
		before := fb.Pixel(neighbour, y)

		fb.SetPixel(x, y, c)
		if got := fb.Pixel(x, y); got != c {
			t.Fatalf("Pixel(%d,%d) = %s, want %s", x, y, got, c)
		}
		if got := fb.Pixel(neighbour, y); got != before {
			t.Fatalf("SetPixel(%d,%d) changed neighbour to %s", x, y, got)
		}
	})
}

func TestCloneIsIndependent(t *testing.T) {
	fb := NewFilledFramebuffer(Green)
	cp := fb.Clone()
	fb.Fill(Yellow)
	if cp.Pixel(10, 10) != Green {
		t.Errorf("clone changed with original")
	}
}

func TestPixelOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Pixel(800, 0) did not panic")
		}
	}()
	NewFilledFramebuffer(White).Pixel(Width, 0)
}
