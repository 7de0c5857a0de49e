package media

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCodec is returned for codec, source or container kinds outside the
// mapping tables below. Unknown kinds never fall back to a default.
var ErrUnknownCodec = errors.New("unknown codec kind")

// Mime types advertised by encoders, used to probe the codec registry.
const (
	MimeVideoH263   = "video/3gpp"
	MimeVideoAVC    = "video/avc"
	MimeVideoHEVC   = "video/hevc"
	MimeVideoVP8    = "video/x-vnd.on2.vp8"
	MimeVideoMPEG4  = "video/mp4v-es"
	MimeAudioAAC    = "audio/mp4a-latm"
	MimeAudioAMRNB  = "audio/3gpp"
	MimeAudioAMRWB  = "audio/amr-wb"
	MimeAudioVorbis = "audio/vorbis"
)

// VideoEncoder identifies the encoder a recorder is asked to use.
type VideoEncoder string

const (
	VideoEncoderH263    VideoEncoder = "h263"
	VideoEncoderH264    VideoEncoder = "h264"
	VideoEncoderHEVC    VideoEncoder = "hevc"
	VideoEncoderVP8     VideoEncoder = "vp8"
	VideoEncoderMPEG4SP VideoEncoder = "mpeg4_sp"
)

// AudioEncoder identifies the audio encoder a recorder is asked to use.
type AudioEncoder string

const (
	AudioEncoderAAC    AudioEncoder = "aac"
	AudioEncoderHEAAC  AudioEncoder = "he_aac"
	AudioEncoderAACELD AudioEncoder = "aac_eld"
	AudioEncoderAMRNB  AudioEncoder = "amr_nb"
	AudioEncoderAMRWB  AudioEncoder = "amr_wb"
	AudioEncoderVorbis AudioEncoder = "vorbis"
)

// VideoCodec is the caller-facing video codec choice.
type VideoCodec int

const (
	VideoCodecDeviceDefault VideoCodec = iota
	VideoCodecH263
	VideoCodecH264
	VideoCodecHEVC
	VideoCodecVP8
	VideoCodecMPEG4SP
)

type videoCodecInfo struct {
	name      string
	mimeType  string
	encoder   VideoEncoder
	container Container
}

// The device default resolves to H.264 in MPEG-4.
var videoCodecs = map[VideoCodec]videoCodecInfo{
	VideoCodecDeviceDefault: {"device_default", MimeVideoAVC, VideoEncoderH264, ContainerMP4},
	VideoCodecH263:          {"h263", MimeVideoH263, VideoEncoderH263, ContainerMP4},
	VideoCodecH264:          {"h264", MimeVideoAVC, VideoEncoderH264, ContainerMP4},
	VideoCodecHEVC:          {"hevc", MimeVideoHEVC, VideoEncoderHEVC, ContainerMP4},
	VideoCodecVP8:           {"vp8", MimeVideoVP8, VideoEncoderVP8, ContainerWebM},
	VideoCodecMPEG4SP:       {"mpeg4_sp", MimeVideoMPEG4, VideoEncoderMPEG4SP, ContainerMP4},
}

func (c VideoCodec) info() (videoCodecInfo, error) {
	s, ok := videoCodecs[c]
	if !ok {
		return videoCodecInfo{}, fmt.Errorf("%w: video codec %d", ErrUnknownCodec, int(c))
	}
	return s, nil
}

// MimeType returns the mime type used to look up encoders for this codec.
func (c VideoCodec) MimeType() (string, error) {
	s, err := c.info()
	return s.mimeType, err
}

// Encoder returns the recorder encoder identifier.
func (c VideoCodec) Encoder() (VideoEncoder, error) {
	s, err := c.info()
	return s.encoder, err
}

// Container returns the output container for this codec family.
func (c VideoCodec) Container() (Container, error) {
	s, err := c.info()
	return s.container, err
}

func (c VideoCodec) String() string {
	if s, ok := videoCodecs[c]; ok {
		return s.name
	}
	return fmt.Sprintf("VideoCodec(%d)", int(c))
}

// ParseVideoCodec resolves a codec name such as "h264" or "vp8".
func ParseVideoCodec(name string) (VideoCodec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, s := range videoCodecs {
		if s.name == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: video codec %q", ErrUnknownCodec, name)
}

func (c VideoCodec) MarshalText() ([]byte, error) {
	s, err := c.info()
	if err != nil {
		return nil, err
	}
	return []byte(s.name), nil
}

func (c *VideoCodec) UnmarshalText(text []byte) error {
	v, err := ParseVideoCodec(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// AudioCodec is the caller-facing audio codec choice.
type AudioCodec int

const (
	AudioCodecDeviceDefault AudioCodec = iota
	AudioCodecAAC
	AudioCodecHEAAC
	AudioCodecAACELD
	AudioCodecAMRNB
	AudioCodecAMRWB
	AudioCodecVorbis
)

type audioCodecInfo struct {
	name     string
	mimeType string
	encoder  AudioEncoder
}

var audioCodecs = map[AudioCodec]audioCodecInfo{
	AudioCodecDeviceDefault: {"device_default", MimeAudioAAC, AudioEncoderAAC},
	AudioCodecAAC:           {"aac", MimeAudioAAC, AudioEncoderAAC},
	AudioCodecHEAAC:         {"he_aac", MimeAudioAAC, AudioEncoderHEAAC},
	AudioCodecAACELD:        {"aac_eld", MimeAudioAAC, AudioEncoderAACELD},
	AudioCodecAMRNB:         {"amr_nb", MimeAudioAMRNB, AudioEncoderAMRNB},
	AudioCodecAMRWB:         {"amr_wb", MimeAudioAMRWB, AudioEncoderAMRWB},
	AudioCodecVorbis:        {"vorbis", MimeAudioVorbis, AudioEncoderVorbis},
}

func (c AudioCodec) info() (audioCodecInfo, error) {
	s, ok := audioCodecs[c]
	if !ok {
		return audioCodecInfo{}, fmt.Errorf("%w: audio codec %d", ErrUnknownCodec, int(c))
	}
	return s, nil
}

// MimeType returns the mime type used to look up encoders for this codec.
func (c AudioCodec) MimeType() (string, error) {
	s, err := c.info()
	return s.mimeType, err
}

// Encoder returns the recorder encoder identifier.
func (c AudioCodec) Encoder() (AudioEncoder, error) {
	s, err := c.info()
	return s.encoder, err
}

func (c AudioCodec) String() string {
	if s, ok := audioCodecs[c]; ok {
		return s.name
	}
	return fmt.Sprintf("AudioCodec(%d)", int(c))
}

// ParseAudioCodec resolves a codec name such as "aac" or "amr_nb".
func ParseAudioCodec(name string) (AudioCodec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, s := range audioCodecs {
		if s.name == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: audio codec %q", ErrUnknownCodec, name)
}

func (c AudioCodec) MarshalText() ([]byte, error) {
	s, err := c.info()
	if err != nil {
		return nil, err
	}
	return []byte(s.name), nil
}

func (c *AudioCodec) UnmarshalText(text []byte) error {
	v, err := ParseAudioCodec(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// AudioSource selects where recorded audio comes from.
type AudioSource int

const (
	AudioSourceDefault AudioSource = iota
	AudioSourceMic
	AudioSourceNone
)

var audioSourceNames = map[AudioSource]string{
	AudioSourceDefault: "default",
	AudioSourceMic:     "mic",
	AudioSourceNone:    "none",
}

func (s AudioSource) String() string {
	if n, ok := audioSourceNames[s]; ok {
		return n
	}
	return fmt.Sprintf("AudioSource(%d)", int(s))
}

// ParseAudioSource resolves "default", "mic" or "none".
func ParseAudioSource(name string) (AudioSource, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range audioSourceNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: audio source %q", ErrUnknownCodec, name)
}

func (s AudioSource) MarshalText() ([]byte, error) {
	n, ok := audioSourceNames[s]
	if !ok {
		return nil, fmt.Errorf("%w: audio source %d", ErrUnknownCodec, int(s))
	}
	return []byte(n), nil
}

func (s *AudioSource) UnmarshalText(text []byte) error {
	v, err := ParseAudioSource(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
