package media

import (
	"errors"
	"fmt"
)

const (
	DefaultFrameRate       = 30
	DefaultAudioChannels   = 1
	DefaultAudioBitRate    = 64000
	DefaultAudioSampleRate = 44100
)

// RecordingParameters is the caller's desired configuration for one recording.
// It is treated as a value: a new setup always supersedes it as a whole.
type RecordingParameters struct {
	ScreenSize      Size        `json:"screen_size"`
	ScreenDensity   int         `json:"screen_density"`
	VideoSize       Size        `json:"video_size"`
	VideoFrameRate  int         `json:"video_frame_rate"`
	VideoCodec      VideoCodec  `json:"video_codec"`
	VideoBitRate    int         `json:"video_bit_rate"`
	OutputPath      string      `json:"output_path"`
	AudioChannels   int         `json:"audio_channels"`
	AudioBitRate    int         `json:"audio_bit_rate"`
	AudioSampleRate int         `json:"audio_sample_rate"`
	AudioCodec      AudioCodec  `json:"audio_codec"`
	AudioSource     AudioSource `json:"audio_source"`
}

// DefaultParameters fills every optional field with the recorder defaults:
// 30 fps H.264 with an estimated bit rate and mono 44.1kHz AMR-NB audio.
func DefaultParameters(screen Size, density int, video Size, outputPath string) RecordingParameters {
	return RecordingParameters{
		ScreenSize:      screen,
		ScreenDensity:   density,
		VideoSize:       video,
		VideoFrameRate:  DefaultFrameRate,
		VideoCodec:      VideoCodecH264,
		VideoBitRate:    EstimateVideoBitRate(video, DefaultFrameRate, 1),
		OutputPath:      outputPath,
		AudioChannels:   DefaultAudioChannels,
		AudioBitRate:    DefaultAudioBitRate,
		AudioSampleRate: DefaultAudioSampleRate,
		AudioCodec:      AudioCodecAMRNB,
		AudioSource:     AudioSourceDefault,
	}
}

// HasAudio reports whether an audio track is recorded.
func (p RecordingParameters) HasAudio() bool {
	return p.AudioChannels > 0 && p.AudioSource != AudioSourceNone
}

// FrameRate returns the requested frame rate, or the default for unset values.
func (p RecordingParameters) FrameRate() int {
	if p.VideoFrameRate <= 0 {
		return DefaultFrameRate
	}
	return p.VideoFrameRate
}

// BitRate returns the requested video bit rate, estimating one for unset values.
func (p RecordingParameters) BitRate() int {
	if p.VideoBitRate <= 0 {
		return EstimateVideoBitRate(p.VideoSize, p.FrameRate(), 1)
	}
	return p.VideoBitRate
}

// Validate checks the fields a recorder cannot do without.
func (p RecordingParameters) Validate() error {
	var errs []error
	if p.VideoSize.IsZero() {
		errs = append(errs, fmt.Errorf("video size %s must be positive", p.VideoSize))
	}
	if p.OutputPath == "" {
		errs = append(errs, errors.New("output path is required"))
	}
	if _, err := p.VideoCodec.info(); err != nil {
		errs = append(errs, err)
	}
	if p.HasAudio() {
		if _, err := p.AudioCodec.info(); err != nil {
			errs = append(errs, err)
		}
		if p.AudioSampleRate <= 0 {
			errs = append(errs, fmt.Errorf("audio sample rate %d must be positive", p.AudioSampleRate))
		}
	}
	if _, ok := audioSourceNames[p.AudioSource]; !ok {
		errs = append(errs, fmt.Errorf("%w: audio source %d", ErrUnknownCodec, int(p.AudioSource)))
	}
	return errors.Join(errs...)
}

// EstimateVideoBitRate assumes low motion:
// (1 + quality*3) * 0.07 * width * height * frameRate.
func EstimateVideoBitRate(size Size, frameRate int, quality float64) int {
	return Round((1 + quality*3) * 0.07 * float64(size.Width) * float64(size.Height) * float64(frameRate))
}
