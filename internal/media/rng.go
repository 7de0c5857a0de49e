package media

import (
	"cmp"
	"fmt"
)

// Range is a closed interval [Lower, Upper].
type Range[T cmp.Ordered] struct {
	Lower T `json:"lower"`
	Upper T `json:"upper"`
}

// NewRange builds a range and rejects inverted bounds.
func NewRange[T cmp.Ordered](lower, upper T) (Range[T], error) {
	if lower > upper {
		return Range[T]{}, fmt.Errorf("invalid range [%v, %v]: lower bound exceeds upper bound", lower, upper)
	}
	return Range[T]{Lower: lower, Upper: upper}, nil
}

// MustRange is NewRange for static tables.
func MustRange[T cmp.Ordered](lower, upper T) Range[T] {
	r, err := NewRange(lower, upper)
	if err != nil {
		panic(err)
	}
	return r
}

// Contains reports whether v lies within the range, bounds included.
func (r Range[T]) Contains(v T) bool {
	return v >= r.Lower && v <= r.Upper
}

// Clamp returns the value of the range closest to v.
func (r Range[T]) Clamp(v T) T {
	return min(max(v, r.Lower), r.Upper)
}

// Intersect returns the overlap of two ranges and false when they are disjoint.
func (r Range[T]) Intersect(o Range[T]) (Range[T], bool) {
	lower := max(r.Lower, o.Lower)
	upper := min(r.Upper, o.Upper)
	if lower > upper {
		return Range[T]{}, false
	}
	return Range[T]{Lower: lower, Upper: upper}, true
}

func (r Range[T]) String() string {
	return fmt.Sprintf("[%v, %v]", r.Lower, r.Upper)
}
