package encoders

import (
	"errors"

	"screen-recorder/internal/media"
)

// ErrUnsupportedWidth is returned by capability queries for a width the
// encoder cannot produce at all.
var ErrUnsupportedWidth = errors.New("unsupported width")

// VideoCapabilities is the capability model of one video encoder for one mime type.
type VideoCapabilities interface {
	SupportedWidths() media.Range[int]
	SupportedHeights() media.Range[int]
	WidthAlignment() int
	HeightAlignment() int
	BitrateRange() media.Range[int]
	// SupportedHeightsFor fails with ErrUnsupportedWidth for widths outside
	// the model.
	SupportedHeightsFor(width int) (media.Range[int], error)
	SupportedFrameRatesFor(width, height int) (media.Range[float64], error)
	IsSizeSupported(width, height int) bool
}

// AudioCapabilities is the capability model of one audio encoder.
type AudioCapabilities interface {
	BitrateRange() media.Range[int]
}

// TypeCapabilities holds the capabilities a codec reports for one mime type.
// Exactly one side is set.
type TypeCapabilities struct {
	Video VideoCapabilities
	Audio AudioCapabilities
}

// CodecInfo is one entry of the host codec registry.
type CodecInfo struct {
	Name           string
	IsEncoder      bool
	SupportedTypes []string
	// Capabilities is keyed by lower-cased mime type.
	Capabilities map[string]TypeCapabilities
}

// Registry lists the codecs available on the host.
type Registry interface {
	Codecs() ([]CodecInfo, error)
}

// StaticRegistry serves a fixed codec list.
type StaticRegistry []CodecInfo

func (r StaticRegistry) Codecs() ([]CodecInfo, error) {
	out := make([]CodecInfo, len(r))
	copy(out, r)
	return out, nil
}
