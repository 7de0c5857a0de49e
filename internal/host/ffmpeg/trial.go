package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"screen-recorder/internal/encoders"
)

// VAAPIDevice is the render node used by VA-API encoders.
const VAAPIDevice = "/dev/dri/renderD128"

// hwArgs returns the global options and the video filter an encoder needs
// to accept frames produced by software filters.
func hwArgs(encoder string) (global []string, filter string) {
	n := strings.ToLower(encoder)
	switch {
	case strings.Contains(n, "vaapi"):
		return []string{"-vaapi_device", VAAPIDevice}, "format=nv12,hwupload"
	case strings.Contains(n, "qsv"):
		return nil, "format=nv12"
	default:
		return nil, "format=yuv420p"
	}
}

// CreateByName implements encoders.EncoderFactory. The returned trial runs
// a tiny synthetic encode into the null muxer when configured.
func (e *Engine) CreateByName(name string) (encoders.TrialEncoder, error) {
	if name == "" {
		return nil, errors.New("empty encoder name")
	}
	return &trialEncoder{engine: e, name: name}, nil
}

type trialEncoder struct {
	engine   *Engine
	name     string
	released bool
}

func (t *trialEncoder) Configure(f encoders.Format) error {
	if t.released {
		return errors.New("trial encoder already released")
	}
	var args []string
	if f.IsVideo() {
		args = videoTrialArgs(t.name, f)
	} else {
		args = audioTrialArgs(t.name, f)
	}
	out, err := t.engine.exec(args...)
	if err != nil {
		return fmt.Errorf("%s rejected %s: %w: %s", t.name, f.MimeType, err, lastLine(out))
	}
	return nil
}

func (t *trialEncoder) Release() error {
	t.released = true
	return nil
}

func videoTrialArgs(name string, f encoders.Format) []string {
	global, filter := hwArgs(name)
	fps := max(f.FrameRate, 1)
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, global...)
	args = append(args,
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d", f.Width, f.Height, fps),
		"-frames:v", "3",
		"-vf", filter,
		"-c:v", name,
		"-b:v", strconv.Itoa(f.BitRate),
		"-g", strconv.Itoa(max(f.IFrameInterval, 1)*fps),
		"-f", "null", "-",
	)
	return args
}

func audioTrialArgs(name string, f encoders.Format) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=%s", f.SampleRate, f.ChannelLayout),
		"-t", "0.2",
		"-c:a", name,
		"-b:a", strconv.Itoa(f.BitRate),
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
		"-f", "null", "-",
	}
}

func lastLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
