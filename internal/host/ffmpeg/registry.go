package ffmpeg

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"screen-recorder/internal/encoders"
	"screen-recorder/internal/media"
)

// encoderMimeTypes maps ffmpeg encoder names to the mime types they produce.
// Hardware variants are matched by prefix in mimeTypeFor.
var encoderMimeTypes = map[string]string{
	"libx264":           media.MimeVideoAVC,
	"libopenh264":       media.MimeVideoAVC,
	"libx265":           media.MimeVideoHEVC,
	"libvpx":            media.MimeVideoVP8,
	"h263":              media.MimeVideoH263,
	"h263p":             media.MimeVideoH263,
	"mpeg4":             media.MimeVideoMPEG4,
	"libxvid":           media.MimeVideoMPEG4,
	"aac":               media.MimeAudioAAC,
	"libfdk_aac":        media.MimeAudioAAC,
	"aac_at":            media.MimeAudioAAC,
	"libopencore_amrnb": media.MimeAudioAMRNB,
	"libvo_amrwbenc":    media.MimeAudioAMRWB,
	"libvorbis":         media.MimeAudioVorbis,
	"vorbis":            media.MimeAudioVorbis,
}

var hardwarePrefixes = map[string]string{
	"h264_": media.MimeVideoAVC,
	"hevc_": media.MimeVideoHEVC,
	"vp8_":  media.MimeVideoVP8,
}

// hardwareMarkers are the name fragments of hardware accelerated encoders.
var hardwareMarkers = []string{"nvenc", "vaapi", "qsv", "videotoolbox", "amf", "v4l2m2m", "mediacodec"}

// IsHardwareEncoder classifies ffmpeg encoder names.
func IsHardwareEncoder(name string) bool {
	n := strings.ToLower(name)
	for _, m := range hardwareMarkers {
		if strings.Contains(n, m) {
			return true
		}
	}
	return false
}

func mimeTypeFor(name string) (string, bool) {
	if m, ok := encoderMimeTypes[name]; ok {
		return m, true
	}
	for prefix, m := range hardwarePrefixes {
		if strings.HasPrefix(name, prefix) {
			return m, true
		}
	}
	return "", false
}

// EncoderLine is one row of `ffmpeg -encoders`.
type EncoderLine struct {
	Kind byte // V, A or S
	Name string
	Desc string
}

// ParseEncoders reads the table printed by `ffmpeg -hide_banner -encoders`.
// Rows look like " V....D libx264              libx264 H.264 / AVC ...".
func ParseEncoders(out []byte) []EncoderLine {
	var lines []EncoderLine
	header := true
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if header {
			if strings.HasPrefix(trimmed, "------") {
				header = false
			}
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		kind := fields[0][0]
		if kind != 'V' && kind != 'A' && kind != 'S' {
			continue
		}
		desc := ""
		if len(fields) > 2 {
			desc = strings.Join(fields[2:], " ")
		}
		lines = append(lines, EncoderLine{Kind: kind, Name: fields[1], Desc: desc})
	}
	return lines
}

// Codecs implements encoders.Registry. The encoder list is probed once.
func (e *Engine) Codecs() ([]encoders.CodecInfo, error) {
	e.once.Do(func() {
		e.codecs, e.err = e.probeCodecs()
	})
	if e.err != nil {
		return nil, e.err
	}
	out := make([]encoders.CodecInfo, len(e.codecs))
	copy(out, e.codecs)
	return out, nil
}

func (e *Engine) probeCodecs() ([]encoders.CodecInfo, error) {
	out, err := e.exec("-hide_banner", "-encoders")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg encoder check failed: %w", err)
	}
	codecs := codecsFromLines(ParseEncoders(out))
	hw := 0
	for _, c := range codecs {
		if IsHardwareEncoder(c.Name) {
			hw++
		}
	}
	e.logger.Info().Int("encoders", len(codecs)).Int("hardware", hw).Msg("probed ffmpeg encoders")
	return codecs, nil
}

func codecsFromLines(lines []EncoderLine) []encoders.CodecInfo {
	var codecs []encoders.CodecInfo
	for _, l := range lines {
		mime, ok := mimeTypeFor(l.Name)
		if !ok {
			continue
		}
		caps, ok := capabilitiesFor(l.Name, mime)
		if !ok {
			continue
		}
		codecs = append(codecs, encoders.CodecInfo{
			Name:           l.Name,
			IsEncoder:      true,
			SupportedTypes: []string{mime},
			Capabilities:   map[string]encoders.TypeCapabilities{mime: caps},
		})
	}
	return codecs
}
