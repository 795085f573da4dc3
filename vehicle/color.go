package vehicle

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidColor = errors.New("vehicle: invalid color")

// DefaultColor is the light strip color before any SetColor call.
var DefaultColor = Color{R: 204, G: 0, B: 0}

// ParseHexColor accepts "#rrggbb", "rrggbb", "#rgb" and "rgb".
func ParseHexColor(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// ColorFromInts validates three 0..255 components.
func ColorFromInts(r, g, b int) (Color, error) {
	for _, v := range []int{r, g, b} {
		if v < 0 || v > 255 {
			return Color{}, fmt.Errorf("%w: components must be 0..255, got %d,%d,%d", ErrInvalidColor, r, g, b)
		}
	}
	return Color{R: uint8(r), G: uint8(g), B: uint8(b)}, nil
}

// Scale applies a 0..100 brightness percentage, rounding half away from zero.
func (c Color) Scale(brightness int) Color {
	k := float64(clamp(brightness, 0, 100)) / 100
	ch := func(v uint8) uint8 { return uint8(math.Round(float64(v) * k)) }
	return Color{R: ch(c.R), G: ch(c.G), B: ch(c.B)}
}
