package encoders

import (
	"fmt"

	"screen-recorder/internal/media"
)

const defaultBlockSize = 16

// VideoLimits is a macroblock based capability model. Sizes must fit the
// width/height ranges and alignment, and the frame must fit MaxBlocks
// macroblocks; the block throughput caps the frame rate per size.
// Zero MaxBlocks or MaxBlocksPerSecond mean unlimited.
type VideoLimits struct {
	Widths             media.Range[int]
	Heights            media.Range[int]
	WidthAlign         int
	HeightAlign        int
	BlockWidth         int
	BlockHeight        int
	MaxBlocks          int
	MaxBlocksPerSecond int
	FrameRates         media.Range[float64]
	Bitrates           media.Range[int]
}

var _ VideoCapabilities = (*VideoLimits)(nil)

func (l *VideoLimits) SupportedWidths() media.Range[int]  { return l.Widths }
func (l *VideoLimits) SupportedHeights() media.Range[int] { return l.Heights }
func (l *VideoLimits) WidthAlignment() int                { return positive(l.WidthAlign, 1) }
func (l *VideoLimits) HeightAlignment() int               { return positive(l.HeightAlign, 1) }
func (l *VideoLimits) BitrateRange() media.Range[int]     { return l.Bitrates }

func (l *VideoLimits) blockSize() (int, int) {
	return positive(l.BlockWidth, defaultBlockSize), positive(l.BlockHeight, defaultBlockSize)
}

func (l *VideoLimits) blocks(width, height int) int {
	bw, bh := l.blockSize()
	return divCeil(width, bw) * divCeil(height, bh)
}

func (l *VideoLimits) SupportedHeightsFor(width int) (media.Range[int], error) {
	if !l.Widths.Contains(width) || width%l.WidthAlignment() != 0 {
		return media.Range[int]{}, fmt.Errorf("%w: %d not in %s step %d", ErrUnsupportedWidth, width, l.Widths, l.WidthAlignment())
	}
	heights := l.Heights
	if l.MaxBlocks > 0 {
		bw, bh := l.blockSize()
		maxHeight := (l.MaxBlocks / divCeil(width, bw)) * bh
		maxHeight -= maxHeight % l.HeightAlignment()
		if maxHeight < heights.Lower {
			return media.Range[int]{}, fmt.Errorf("%w: %d exceeds the block budget", ErrUnsupportedWidth, width)
		}
		heights.Upper = min(heights.Upper, maxHeight)
	}
	return heights, nil
}

func (l *VideoLimits) IsSizeSupported(width, height int) bool {
	if !l.Widths.Contains(width) || !l.Heights.Contains(height) {
		return false
	}
	if width%l.WidthAlignment() != 0 || height%l.HeightAlignment() != 0 {
		return false
	}
	blocks := l.blocks(width, height)
	if l.MaxBlocks > 0 && blocks > l.MaxBlocks {
		return false
	}
	if l.MaxBlocksPerSecond > 0 && float64(blocks)*l.FrameRates.Lower > float64(l.MaxBlocksPerSecond) {
		return false
	}
	return true
}

func (l *VideoLimits) SupportedFrameRatesFor(width, height int) (media.Range[float64], error) {
	if !l.IsSizeSupported(width, height) {
		return media.Range[float64]{}, fmt.Errorf("size %dx%d not supported", width, height)
	}
	rates := l.FrameRates
	if l.MaxBlocksPerSecond > 0 {
		rates.Upper = min(rates.Upper, float64(l.MaxBlocksPerSecond)/float64(l.blocks(width, height)))
	}
	return rates, nil
}

// AudioLimits is the capability model of an audio encoder.
type AudioLimits struct {
	Bitrates media.Range[int]
}

func (l *AudioLimits) BitrateRange() media.Range[int] { return l.Bitrates }

func positive(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func divCeil(a, b int) int {
	return (a + b - 1) / b
}
