package epd

import (
	"fmt"
	"image/color"
	"strings"
)

// Colour is a 3-bit panel colour code, sent in one nibble per pixel.
type Colour uint8

const (
	Black Colour = iota
	White
	Green
	Blue
	Red
	Yellow
	Orange
	// Clean is reserved by the controller and has no stable appearance.
	Clean
)

var colourNames = [...]string{"black", "white", "green", "blue", "red", "yellow", "orange", "clean"}

// Palette holds the nominal appearance of each displayable colour, indexed
// by colour code. Clean is not part of it.
var Palette = color.Palette{
	color.NRGBA{0x00, 0x00, 0x00, 0xFF},
	color.NRGBA{0xFF, 0xFF, 0xFF, 0xFF},
	color.NRGBA{0x43, 0x8A, 0x1C, 0xFF},
	color.NRGBA{0x64, 0x40, 0xFF, 0xFF},
	color.NRGBA{0xBF, 0x00, 0x00, 0xFF},
	color.NRGBA{0xFF, 0xF3, 0x38, 0xFF},
	color.NRGBA{0xE8, 0x7E, 0x00, 0xFF},
}

var cleanRGB = color.NRGBA{0xC2, 0xA4, 0xF4, 0xFF}

// Valid reports whether c fits in the controller's colour code space.
func (c Colour) Valid() bool {
	return c <= Clean
}

// Packed returns the byte that sets both pixels of a pair to c.
func (c Colour) Packed() byte {
	return byte(c)<<4 | byte(c)
}

func (c Colour) String() string {
	if c.Valid() {
		return colourNames[c]
	}
	return fmt.Sprintf("Colour(%d)", uint8(c))
}

// Set implements flag.Value.
func (c *Colour) Set(s string) error {
	v, err := ParseColour(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// RGBA implements color.Color.
func (c Colour) RGBA() (r, g, b, a uint32) {
	if c == Clean || !c.Valid() {
		return cleanRGB.RGBA()
	}
	return Palette[c].RGBA()
}

// ParseColour accepts a colour name, case-insensitively.
func ParseColour(s string) (Colour, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range colourNames {
		if n == name {
			return Colour(i), nil
		}
	}
	return 0, fmt.Errorf("epd: unknown colour %q: %w", s, ErrInvalidColour)
}
