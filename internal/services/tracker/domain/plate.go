package domain

import (
	"strings"
	"unicode"
)

const (
	minPlateLen = 5
	maxPlateLen = 9
)

// NormalizePlate uppercases raw and strips everything that is not an ASCII
// letter or digit.
func NormalizePlate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r > unicode.MaxASCII {
			continue
		}
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(unicode.ToUpper(r))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Box is a candidate's bounding box in frame pixels.
type Box struct {
	X, Y, Width, Height int
}

// PlateCandidate is one plate reader hypothesis for a frame.
type PlateCandidate struct {
	Box        Box
	Text       string
	Confidence float64
}

// SelectCandidate returns the first candidate whose normalized text has a
// plausible plate length, with Text normalized.
func SelectCandidate(candidates []PlateCandidate) (PlateCandidate, bool) {
	for _, c := range candidates {
		text := NormalizePlate(c.Text)
		if len(text) >= minPlateLen && len(text) <= maxPlateLen {
			c.Text = text
			return c, true
		}
	}
	return PlateCandidate{}, false
}
