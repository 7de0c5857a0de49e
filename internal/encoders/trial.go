package encoders

import (
	"github.com/rs/zerolog"

	"screen-recorder/internal/media"
)

// Color formats understood by trial encoders.
const (
	ColorFormatSurface = "surface"
)

// Channel layouts of an audio Format.
const (
	ChannelLayoutMono   = "mono"
	ChannelLayoutStereo = "stereo"
)

// Format is the configuration handed to an encoder instance.
// Video fields are zero for audio formats and vice versa.
type Format struct {
	MimeType       string
	Width          int
	Height         int
	ColorFormat    string
	FrameRate      int
	IFrameInterval int
	SampleRate     int
	Channels       int
	ChannelLayout  string
	BitRate        int
}

// VideoFormat describes a surface-fed video encoder with one key frame per second.
func VideoFormat(mimeType string, size media.Size, frameRate, bitRate int) Format {
	return Format{
		MimeType:       mimeType,
		Width:          size.Width,
		Height:         size.Height,
		ColorFormat:    ColorFormatSurface,
		FrameRate:      frameRate,
		IFrameInterval: 1,
		BitRate:        bitRate,
	}
}

// AudioFormat describes an audio encoder; two channels are stereo, anything
// else is mono.
func AudioFormat(mimeType string, bitRate, sampleRate, channels int) Format {
	layout := ChannelLayoutMono
	if channels == 2 {
		layout = ChannelLayoutStereo
	}
	return Format{
		MimeType:      mimeType,
		SampleRate:    sampleRate,
		Channels:      channels,
		ChannelLayout: layout,
		BitRate:       bitRate,
	}
}

// IsVideo reports whether the format carries a frame size.
func (f Format) IsVideo() bool {
	return f.Width > 0 && f.Height > 0
}

// TrialEncoder is a throwaway encoder instance.
type TrialEncoder interface {
	Configure(format Format) error
	Release() error
}

// EncoderFactory creates encoder instances by registry name.
type EncoderFactory interface {
	CreateByName(name string) (TrialEncoder, error)
}

// Configurator validates negotiated formats against a real encoder instance.
type Configurator struct {
	factory EncoderFactory
	logger  zerolog.Logger
}

func NewConfigurator(factory EncoderFactory, logger *zerolog.Logger) *Configurator {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "trial").Logger()
	}
	return &Configurator{factory: factory, logger: l}
}

// TryVideo configures a trial instance of desc. A nil descriptor is a no-op.
func (c *Configurator) TryVideo(desc *Descriptor, mimeType string, size media.Size, frameRate, bitRate int) error {
	if desc == nil {
		return nil
	}
	if err := c.try(desc.Name, VideoFormat(mimeType, size, frameRate, bitRate)); err != nil {
		return &VideoConstraintError{Encoder: desc.Name, Reason: "failed to configure video encoder", Err: err}
	}
	return nil
}

// TryAudio configures a trial instance of desc. A nil descriptor is a no-op.
func (c *Configurator) TryAudio(desc *Descriptor, mimeType string, bitRate, sampleRate, channels int) error {
	if desc == nil {
		return nil
	}
	if err := c.try(desc.Name, AudioFormat(mimeType, bitRate, sampleRate, channels)); err != nil {
		return &AudioConstraintError{Encoder: desc.Name, Reason: "failed to configure audio encoder", Err: err}
	}
	return nil
}

func (c *Configurator) try(name string, format Format) error {
	enc, err := c.factory.CreateByName(name)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := enc.Release(); rerr != nil {
			c.logger.Debug().Err(rerr).Str("encoder", name).Msg("release trial encoder")
		}
	}()
	if err := enc.Configure(format); err != nil {
		c.logger.Warn().Err(err).Str("encoder", name).Str("mime", format.MimeType).Msg("trial configuration rejected")
		return err
	}
	c.logger.Debug().Str("encoder", name).Str("mime", format.MimeType).Msg("trial configuration accepted")
	return nil
}
