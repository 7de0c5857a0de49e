package media

import (
	"fmt"
	"math"
)

// Size is a pixel size of a screen, a virtual display or an encoded frame.
type Size struct {
	Width  int `json:"width" mapstructure:"width"`
	Height int `json:"height" mapstructure:"height"`
}

// Flip returns the size with width and height swapped.
func (s Size) Flip() Size {
	return Size{Width: s.Height, Height: s.Width}
}

// Area is the pixel count. Sizes order by area.
func (s Size) Area() int {
	return s.Width * s.Height
}

// Aspect returns width/height, or 0 for a degenerate size.
func (s Size) Aspect() float64 {
	if s.Height == 0 {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}

// IsZero reports whether either dimension is not positive.
func (s Size) IsZero() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Half returns the size scaled down by two, the default recording size for a screen.
func (s Size) Half() Size {
	return Size{Width: s.Width / 2, Height: s.Height / 2}
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Round rounds half away from zero, matching how scaled dimensions are computed
// everywhere in the recorder.
func Round(v float64) int {
	return int(math.Round(v))
}
