package engine

import (
	"errors"
	"fmt"
)

var ErrEmptyPalette = errors.New("palette is empty")

// Palette is the fixed ordered list of target colors for a session.
type Palette []Color

// DefaultPalette mirrors the system red, blue, green, yellow and purple.
var DefaultPalette = Palette{
	MustParseHex("#FF3B30"), // red
	MustParseHex("#007AFF"), // blue
	MustParseHex("#34C759"), // green
	MustParseHex("#FFCC00"), // yellow
	MustParseHex("#AF52DE"), // purple
}

func ParsePalette(hexes []string) (Palette, error) {
	if len(hexes) == 0 {
		return nil, ErrEmptyPalette
	}
	p := make(Palette, 0, len(hexes))
	for i, h := range hexes {
		c, err := ParseHex(h)
		if err != nil {
			return nil, fmt.Errorf("palette entry %d: %w", i, err)
		}
		p = append(p, c)
	}
	return p, nil
}

func (p Palette) Len() int { return len(p) }

// At returns the target color for a trial index.
func (p Palette) At(index int) (Color, bool) {
	if index < 0 || index >= len(p) {
		return Color{}, false
	}
	return p[index], true
}

func (p Palette) IsLast(index int) bool { return index >= len(p)-1 }

func (p Palette) Hexes() []string {
	out := make([]string, len(p))
	for i, c := range p {
		out[i] = c.Hex()
	}
	return out
}
