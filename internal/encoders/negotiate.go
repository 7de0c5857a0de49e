package encoders

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"screen-recorder/internal/media"
)

// shrinkStep is how much the width search gives up per iteration when the
// block budget rejects the aspect ratio at the current width.
const shrinkStep = 32

// NegotiateSize returns the supported size closest to desired that keeps its
// aspect ratio. Oversized dimensions are scaled down, both dimensions are
// aligned down, and when the encoder's block budget rejects the aspect ratio
// the width is reduced in steps of 32 until a matching height fits.
func NegotiateSize(desired media.Size, caps VideoCapabilities) (media.Size, error) {
	if desired.IsZero() {
		return media.Size{}, &VideoConstraintError{Reason: fmt.Sprintf("invalid desired size %s", desired)}
	}
	width, height := desired.Width, desired.Height
	aspect := desired.Aspect()

	widths, heights := caps.SupportedWidths(), caps.SupportedHeights()
	if width > widths.Upper {
		width = widths.Upper
		height = media.Round(float64(width) / aspect)
	}
	if height > heights.Upper {
		height = heights.Upper
		width = media.Round(aspect * float64(height))
	}

	width = alignDown(width, caps.WidthAlignment())
	height = alignDown(height, caps.HeightAlignment())

	if !widths.Contains(width) {
		return media.Size{}, &VideoConstraintError{Reason: fmt.Sprintf("width %d not supported after adjustment, range %s", width, widths)}
	}
	if !heights.Contains(height) {
		return media.Size{}, &VideoConstraintError{Reason: fmt.Sprintf("height %d not supported after adjustment, range %s", height, heights)}
	}

	if fits, err := caps.SupportedHeightsFor(width); err == nil && !fits.Contains(height) {
		candidate := width
		for candidate >= widths.Lower {
			candidate = alignDown(candidate-shrinkStep, caps.WidthAlignment())
			candidateHeight := media.Round(float64(candidate) / aspect)
			fits, err := caps.SupportedHeightsFor(candidate)
			if err != nil {
				break
			}
			if fits.Contains(candidateHeight) {
				return NegotiateSize(media.Size{Width: candidate, Height: candidateHeight}, caps)
			}
		}
	}

	if !caps.IsSizeSupported(width, height) {
		return media.Size{}, &VideoConstraintError{Reason: fmt.Sprintf("size %dx%d not supported, the aspect ratio may not fit the encoder", width, height)}
	}
	return media.Size{Width: width, Height: height}, nil
}

// NegotiateBitRate clamps a bit rate into the encoder's range.
func NegotiateBitRate(desired int, bitrates media.Range[int]) int {
	return bitrates.Clamp(desired)
}

// NegotiateFrameRate clamps a frame rate into what the encoder supports at
// size. When the encoder cannot answer for that size the desired rate is kept.
func NegotiateFrameRate(size media.Size, desired int, caps VideoCapabilities) int {
	rates, err := caps.SupportedFrameRatesFor(size.Width, size.Height)
	if err != nil {
		return desired
	}
	return int(rates.Clamp(float64(desired)))
}

func alignDown(v, alignment int) int {
	if alignment <= 1 {
		return v
	}
	r := v % alignment
	if r < 0 {
		r += alignment
	}
	return v - r
}

// Selection is the pair of encoders chosen for one negotiation attempt.
// A side without a descriptor passes requested values through unchanged.
type Selection struct {
	Video  *Descriptor
	Audio  *Descriptor
	logger zerolog.Logger
}

// NewSelection pairs the chosen encoders. Either may be nil.
func NewSelection(video, audio *Descriptor, logger *zerolog.Logger) *Selection {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "negotiator").Logger()
	}
	return &Selection{Video: video, Audio: audio, logger: l}
}

// VideoEncoderName is the selected video encoder name, or "".
func (s *Selection) VideoEncoderName() string {
	if s.Video == nil {
		return ""
	}
	return s.Video.Name
}

// AudioEncoderName is the selected audio encoder name, or "".
func (s *Selection) AudioEncoderName() string {
	if s.Audio == nil {
		return ""
	}
	return s.Audio.Name
}

func (s *Selection) VideoSize(desired media.Size) (media.Size, error) {
	if s.Video == nil || s.Video.Video == nil {
		return desired, nil
	}
	size, err := NegotiateSize(desired, s.Video.Video)
	if err != nil {
		var vce *VideoConstraintError
		if errors.As(err, &vce) && vce.Encoder == "" {
			vce.Encoder = s.Video.Name
		}
		return media.Size{}, err
	}
	s.logger.Info().Stringer("desired", desired).Stringer("adjusted", size).Str("encoder", s.Video.Name).Msg("video size negotiated")
	return size, nil
}

func (s *Selection) VideoBitRate(desired int) int {
	if s.Video == nil || s.Video.Video == nil {
		return desired
	}
	rate := NegotiateBitRate(desired, s.Video.Video.BitrateRange())
	s.logger.Info().Int("desired", desired).Int("adjusted", rate).Msg("video bit rate negotiated")
	return rate
}

func (s *Selection) VideoFrameRate(size media.Size, desired int) int {
	if s.Video == nil || s.Video.Video == nil {
		return desired
	}
	rate := NegotiateFrameRate(size, desired, s.Video.Video)
	s.logger.Info().Int("desired", desired).Int("adjusted", rate).Stringer("size", size).Msg("video frame rate negotiated")
	return rate
}

func (s *Selection) AudioBitRate(desired int) int {
	if s.Audio == nil || s.Audio.Audio == nil {
		return desired
	}
	rate := NegotiateBitRate(desired, s.Audio.Audio.BitrateRange())
	s.logger.Info().Int("desired", desired).Int("adjusted", rate).Msg("audio bit rate negotiated")
	return rate
}
