package ffmpeg

import (
	"strings"

	"screen-recorder/internal/encoders"
	"screen-recorder/internal/media"
)

// Capability profiles of the encoder families ffmpeg exposes. Values follow
// the documented limits of each encoder; the trial encode catches whatever
// a specific driver or build rejects on top of that.
var (
	softwareVideo = encoders.VideoLimits{
		Widths:      media.MustRange(16, 8192),
		Heights:     media.MustRange(16, 8192),
		WidthAlign:  2,
		HeightAlign: 2,
		FrameRates:  media.MustRange(1.0, 240.0),
		Bitrates:    media.MustRange(10_000, 500_000_000),
	}
	vp8Video = encoders.VideoLimits{
		Widths:      media.MustRange(2, 16384),
		Heights:     media.MustRange(2, 16384),
		WidthAlign:  2,
		HeightAlign: 2,
		FrameRates:  media.MustRange(1.0, 240.0),
		Bitrates:    media.MustRange(10_000, 100_000_000),
	}
	// H.263 only encodes the CIF family; the range model keeps the bounds
	// and the trial rejects in-between sizes.
	h263Video = encoders.VideoLimits{
		Widths:      media.MustRange(128, 1408),
		Heights:     media.MustRange(96, 1152),
		WidthAlign:  4,
		HeightAlign: 4,
		FrameRates:  media.MustRange(1.0, 30.0),
		Bitrates:    media.MustRange(10_000, 10_000_000),
	}
	mpeg4Video = encoders.VideoLimits{
		Widths:      media.MustRange(16, 4096),
		Heights:     media.MustRange(16, 4096),
		WidthAlign:  2,
		HeightAlign: 2,
		FrameRates:  media.MustRange(1.0, 120.0),
		Bitrates:    media.MustRange(10_000, 100_000_000),
	}
	nvencVideo = encoders.VideoLimits{
		Widths:             media.MustRange(146, 4096),
		Heights:            media.MustRange(50, 4096),
		WidthAlign:         2,
		HeightAlign:        2,
		MaxBlocks:          65_536,
		MaxBlocksPerSecond: 3_932_160,
		FrameRates:         media.MustRange(1.0, 240.0),
		Bitrates:           media.MustRange(10_000, 800_000_000),
	}
	// VA-API, QSV, AMF and V4L2 drivers share the 4K level 5.1 budget.
	acceleratedVideo = encoders.VideoLimits{
		Widths:             media.MustRange(128, 4096),
		Heights:            media.MustRange(96, 4096),
		WidthAlign:         16,
		HeightAlign:        16,
		MaxBlocks:          36_864,
		MaxBlocksPerSecond: 983_040,
		FrameRates:         media.MustRange(1.0, 120.0),
		Bitrates:           media.MustRange(10_000, 240_000_000),
	}
	videoToolboxVideo = encoders.VideoLimits{
		Widths:             media.MustRange(64, 4096),
		Heights:            media.MustRange(64, 2304),
		WidthAlign:         2,
		HeightAlign:        2,
		MaxBlocks:          36_864,
		MaxBlocksPerSecond: 2_073_600,
		FrameRates:         media.MustRange(1.0, 120.0),
		Bitrates:           media.MustRange(10_000, 240_000_000),
	}
	raspberryVideo = encoders.VideoLimits{
		Widths:             media.MustRange(32, 1920),
		Heights:            media.MustRange(32, 1920),
		WidthAlign:         16,
		HeightAlign:        16,
		MaxBlocks:          8_160,
		MaxBlocksPerSecond: 244_800,
		FrameRates:         media.MustRange(1.0, 60.0),
		Bitrates:           media.MustRange(10_000, 25_000_000),
	}
)

var audioBitrates = map[string]media.Range[int]{
	"aac":               media.MustRange(8_000, 512_000),
	"aac_at":            media.MustRange(8_000, 320_000),
	"libfdk_aac":        media.MustRange(8_000, 320_000),
	"libopencore_amrnb": media.MustRange(4_750, 12_200),
	"libvo_amrwbenc":    media.MustRange(6_600, 23_850),
	"libvorbis":         media.MustRange(32_000, 500_000),
	"vorbis":            media.MustRange(32_000, 500_000),
}

func capabilitiesFor(name, mime string) (encoders.TypeCapabilities, bool) {
	if strings.HasPrefix(mime, "audio/") {
		r, ok := audioBitrates[name]
		if !ok {
			return encoders.TypeCapabilities{}, false
		}
		return encoders.TypeCapabilities{Audio: &encoders.AudioLimits{Bitrates: r}}, true
	}

	var limits encoders.VideoLimits
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "nvenc"):
		limits = nvencVideo
	case strings.Contains(n, "videotoolbox"):
		limits = videoToolboxVideo
	case strings.Contains(n, "v4l2m2m"):
		limits = raspberryVideo
	case IsHardwareEncoder(n):
		limits = acceleratedVideo
	case mime == media.MimeVideoVP8:
		limits = vp8Video
	case mime == media.MimeVideoH263:
		limits = h263Video
	case mime == media.MimeVideoMPEG4:
		limits = mpeg4Video
	default:
		limits = softwareVideo
	}
	// each descriptor owns its copy
	return encoders.TypeCapabilities{Video: &limits}, true
}
