package session

import (
	"errors"
	"fmt"
	"strings"

	"screen-recorder/internal/encoders"
	"screen-recorder/internal/media"
)

// Policy decides what setup does when every encoder candidate was rejected.
type Policy int

const (
	// PolicyBestEffort records with the requested, unvalidated values.
	PolicyBestEffort Policy = iota
	// PolicyStrict fails the setup.
	PolicyStrict
)

var policyNames = map[Policy]string{
	PolicyBestEffort: "best_effort",
	PolicyStrict:     "strict",
}

func (p Policy) String() string {
	if n, ok := policyNames[p]; ok {
		return n
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy parses best_effort or strict.
func ParsePolicy(name string) (Policy, error) {
	for p, n := range policyNames {
		if strings.EqualFold(n, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown negotiation policy %q", name)
}

func (p Policy) MarshalText() ([]byte, error) {
	if _, ok := policyNames[p]; !ok {
		return nil, fmt.Errorf("unknown negotiation policy %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// NegotiatedFormat is the encoder configuration a setup settled on.
// Validated is false when the values were not checked against an encoder.
type NegotiatedFormat struct {
	VideoSize       media.Size `json:"video_size"`
	VideoFrameRate  int        `json:"video_frame_rate"`
	VideoBitRate    int        `json:"video_bit_rate"`
	AudioBitRate    int        `json:"audio_bit_rate,omitempty"`
	AudioSampleRate int        `json:"audio_sample_rate,omitempty"`
	AudioChannels   int        `json:"audio_channels,omitempty"`
	VideoEncoder    string     `json:"video_encoder,omitempty"`
	AudioEncoder    string     `json:"audio_encoder,omitempty"`
	Validated       bool       `json:"validated"`
}

func requestedFormat(p media.RecordingParameters) NegotiatedFormat {
	f := NegotiatedFormat{
		VideoSize:      p.VideoSize,
		VideoFrameRate: p.FrameRate(),
		VideoBitRate:   p.BitRate(),
	}
	if p.HasAudio() {
		f.AudioBitRate = p.AudioBitRate
		f.AudioSampleRate = p.AudioSampleRate
		f.AudioChannels = p.AudioChannels
	}
	return f
}

// negotiate walks the encoder candidates until one video (and audio) encoder
// accepts the parameters. A constraint failure moves that side to its next
// candidate; running out of candidates falls back to the policy.
func (s *Session) negotiate(p media.RecordingParameters) (NegotiatedFormat, error) {
	requested := requestedFormat(p)
	if !s.checkEncoders || s.prober == nil {
		return requested, nil
	}

	videoMime, err := p.VideoCodec.MimeType()
	if err != nil {
		return NegotiatedFormat{}, err
	}
	audioMime := ""
	if p.HasAudio() {
		if audioMime, err = p.AudioCodec.MimeType(); err != nil {
			return NegotiatedFormat{}, err
		}
	}

	attempts := 1
	if c, err := s.prober.Candidates(videoMime, s.selection); err == nil {
		attempts += len(c)
	}
	if audioMime != "" {
		if c, err := s.prober.Candidates(audioMime, s.selection); err == nil {
			attempts += len(c)
		}
	}

	var exhausted error
	videoOffset, audioOffset := 0, 0
	for attempt := 0; attempt < attempts; attempt++ {
		s.logger.Debug().Int("video_offset", videoOffset).Int("audio_offset", audioOffset).Msg("checking encoders")

		video, err := s.prober.Probe(videoMime, s.selection, videoOffset)
		if err != nil {
			exhausted = err
			break
		}
		var audio *encoders.Descriptor
		if audioMime != "" {
			if audio, err = s.prober.Probe(audioMime, s.selection, audioOffset); err != nil {
				exhausted = err
				break
			}
		}

		sel := encoders.NewSelection(video, audio, &s.logger)
		f, err := s.tryFormat(sel, p, videoMime, audioMime)
		var vce *encoders.VideoConstraintError
		var ace *encoders.AudioConstraintError
		switch {
		case err == nil:
			s.metrics.Negotiation("ok")
			return f, nil
		case errors.As(err, &vce):
			s.logger.Info().Err(err).Str("encoder", video.Name).Msg("video encoder rejected, trying next")
			s.metrics.Negotiation("video_constraint")
			s.metrics.Fallback("video")
			videoOffset++
		case errors.As(err, &ace):
			s.logger.Info().Err(err).Str("encoder", audio.Name).Msg("audio encoder rejected, trying next")
			s.metrics.Negotiation("audio_constraint")
			s.metrics.Fallback("audio")
			audioOffset++
		default:
			s.metrics.Negotiation("error")
			return NegotiatedFormat{}, err
		}
	}
	if exhausted == nil {
		exhausted = &encoders.EncoderExhaustedError{MimeType: videoMime, Offset: videoOffset, Available: attempts - 1}
	}
	s.metrics.Negotiation("exhausted")

	if s.policy == PolicyStrict {
		return NegotiatedFormat{}, exhausted
	}
	s.logger.Warn().Err(exhausted).Msg("could not match encoders to the parameters, recording without checking them")
	return requested, nil
}

func (s *Session) tryFormat(sel *encoders.Selection, p media.RecordingParameters, videoMime, audioMime string) (NegotiatedFormat, error) {
	size, err := sel.VideoSize(p.VideoSize)
	if err != nil {
		return NegotiatedFormat{}, err
	}
	f := NegotiatedFormat{
		VideoSize:    size,
		VideoBitRate: sel.VideoBitRate(p.BitRate()),
		VideoEncoder: sel.VideoEncoderName(),
		Validated:    true,
	}
	f.VideoFrameRate = sel.VideoFrameRate(size, p.FrameRate())
	if s.trials != nil {
		if err := s.trials.TryVideo(sel.Video, videoMime, f.VideoSize, f.VideoFrameRate, f.VideoBitRate); err != nil {
			return NegotiatedFormat{}, err
		}
	}
	if audioMime == "" {
		return f, nil
	}

	f.AudioBitRate = sel.AudioBitRate(p.AudioBitRate)
	f.AudioSampleRate = p.AudioSampleRate
	f.AudioChannels = p.AudioChannels
	f.AudioEncoder = sel.AudioEncoderName()
	if s.trials != nil {
		if err := s.trials.TryAudio(sel.Audio, audioMime, f.AudioBitRate, f.AudioSampleRate, f.AudioChannels); err != nil {
			return NegotiatedFormat{}, err
		}
	}
	return f, nil
}

func recorderConfig(p media.RecordingParameters, f NegotiatedFormat) (RecorderConfig, error) {
	container, err := p.VideoCodec.Container()
	if err != nil {
		return RecorderConfig{}, err
	}
	videoEncoder, err := p.VideoCodec.Encoder()
	if err != nil {
		return RecorderConfig{}, err
	}
	cfg := RecorderConfig{
		VideoSource:      VideoSourceSurface,
		AudioSource:      media.AudioSourceNone,
		Container:        container,
		OutputPath:       p.OutputPath,
		VideoEncoder:     videoEncoder,
		VideoEncoderName: f.VideoEncoder,
		VideoSize:        f.VideoSize,
		VideoFrameRate:   f.VideoFrameRate,
		VideoBitRate:     f.VideoBitRate,
	}
	if !p.HasAudio() {
		return cfg, nil
	}
	audioEncoder, err := p.AudioCodec.Encoder()
	if err != nil {
		return RecorderConfig{}, err
	}
	cfg.AudioSource = media.AudioSourceDefault
	if p.AudioSource == media.AudioSourceMic {
		cfg.AudioSource = media.AudioSourceMic
	}
	cfg.AudioEncoder = audioEncoder
	cfg.AudioEncoderName = f.AudioEncoder
	cfg.AudioSampleRate = f.AudioSampleRate
	cfg.AudioBitRate = f.AudioBitRate
	cfg.AudioChannels = f.AudioChannels
	return cfg, nil
}
