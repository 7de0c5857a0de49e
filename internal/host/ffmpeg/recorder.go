package ffmpeg

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"screen-recorder/internal/media"
	"screen-recorder/internal/session"
)

const (
	// DefaultStopTimeout is how long ffmpeg gets to finalize the container
	// after being asked to quit.
	DefaultStopTimeout = 10 * time.Second
	// startGrace catches ffmpeg exiting right away on a bad input.
	startGrace = 300 * time.Millisecond
)

var defaultVideoEncoders = map[media.VideoEncoder]string{
	media.VideoEncoderH264:    "libx264",
	media.VideoEncoderHEVC:    "libx265",
	media.VideoEncoderVP8:     "libvpx",
	media.VideoEncoderH263:    "h263",
	media.VideoEncoderMPEG4SP: "mpeg4",
}

type audioEncoder struct {
	name    string
	profile string
}

var defaultAudioEncoders = map[media.AudioEncoder]audioEncoder{
	media.AudioEncoderAAC:    {name: "aac"},
	media.AudioEncoderHEAAC:  {name: "libfdk_aac", profile: "aac_he"},
	media.AudioEncoderAACELD: {name: "libfdk_aac", profile: "aac_eld"},
	media.AudioEncoderAMRNB:  {name: "libopencore_amrnb"},
	media.AudioEncoderAMRWB:  {name: "libvo_amrwbenc"},
	media.AudioEncoderVorbis: {name: "libvorbis"},
}

var muxers = map[media.Container]string{
	media.ContainerMP4:  "mp4",
	media.ContainerWebM: "webm",
	media.Container3GP:  "3gp",
}

// RecorderOptions configure where recorders take audio from.
type RecorderOptions struct {
	AudioFormat string // e.g. pulse, alsa, avfoundation
	AudioInput  string
	// MicInput is used for the mic audio source; empty falls back to AudioInput.
	MicInput    string
	StopTimeout time.Duration
}

// RecorderFactory creates ffmpeg backed recorders.
type RecorderFactory struct {
	engine *Engine
	opts   RecorderOptions
}

func (e *Engine) RecorderFactory(opts RecorderOptions) *RecorderFactory {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &RecorderFactory{engine: e, opts: opts}
}

func (f *RecorderFactory) NewRecorder() (session.Recorder, error) {
	return &Recorder{
		ffmpegPath: f.engine.FFmpegPath,
		opts:       f.opts,
		logger:     f.engine.logger,
		surface:    &surface{},
	}, nil
}

// Progress is the last status line ffmpeg printed.
type Progress struct {
	Frames  int
	FPS     float64
	Elapsed time.Duration
}

// Recorder runs one ffmpeg process per recording. Frames come from the
// capture input bound to its surface by a virtual display.
type Recorder struct {
	ffmpegPath string
	opts       RecorderOptions
	logger     zerolog.Logger
	surface    *surface

	mu       sync.Mutex
	cfg      *session.RecorderConfig
	run      *run
	released bool

	pmu      sync.Mutex
	progress Progress
}

func (r *Recorder) Surface() session.Surface { return r.surface }

func (r *Recorder) Prepare(cfg session.RecorderConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return errors.New("recorder released")
	}
	if cfg.OutputPath == "" {
		return errors.New("output path is required")
	}
	if _, ok := muxers[cfg.Container]; !ok {
		return fmt.Errorf("%w: container %q", media.ErrUnknownCodec, cfg.Container)
	}
	if _, err := videoEncoderName(cfg); err != nil {
		return err
	}
	if cfg.HasAudio() {
		if _, err := audioEncoderFor(cfg); err != nil {
			return err
		}
		if r.opts.AudioFormat == "" || r.opts.audioInput(cfg.AudioSource) == "" {
			return errors.New("audio requested but no audio input is configured")
		}
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	r.cfg = &cfg
	return nil
}

func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg == nil {
		return errors.New("recorder not prepared")
	}
	if r.run != nil {
		return errors.New("recorder already started")
	}
	src, ok := r.surface.source()
	if !ok {
		return errors.New("recorder surface is not bound to a display")
	}

	args, err := buildArgs(*r.cfg, src, r.opts)
	if err != nil {
		return err
	}
	cmd := exec.Command(r.ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	r.logger.Info().Int("pid", cmd.Process.Pid).Str("output", r.cfg.OutputPath).Msg("ffmpeg recording started")

	run := &run{cmd: cmd, stdin: stdin, exited: make(chan struct{})}
	go run.wait(r, stderr)

	select {
	case <-run.exited:
		if run.err != nil {
			return run.err
		}
		return errors.New("ffmpeg exited right after start")
	case <-time.After(startGrace):
		r.run = run
		return nil
	}
}

// Stop asks ffmpeg to quit so it can finalize the container, killing it
// after the stop timeout.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.run
	if run == nil {
		return errors.New("recorder not started")
	}
	r.run = nil

	if _, err := run.stdin.Write([]byte("q\n")); err != nil {
		r.logger.Debug().Err(err).Msg("write quit to ffmpeg")
	}
	_ = run.stdin.Close()

	select {
	case <-run.exited:
	case <-time.After(r.opts.StopTimeout):
		r.logger.Warn().Dur("timeout", r.opts.StopTimeout).Msg("ffmpeg did not quit, killing it")
		run.kill()
	}

	p := r.Progress()
	r.logger.Info().Int("frames", p.Frames).Dur("elapsed", p.Elapsed).Msg("ffmpeg recording finalized")
	return run.err
}

func (r *Recorder) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != nil {
		r.run.kill()
		r.run = nil
	}
	r.released = true
	r.cfg = nil
	r.surface.Unbind()
	return nil
}

// run is one ffmpeg process. err is set before exited is closed.
type run struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	exited chan struct{}
	err    error
}

func (p *run) wait(r *Recorder, stderr io.Reader) {
	tail := &tailBuffer{}
	r.readProgress(io.TeeReader(stderr, tail))
	if err := p.cmd.Wait(); err != nil {
		p.err = fmt.Errorf("ffmpeg exited: %w: %s", err, tail.last())
	}
	close(p.exited)
}

func (p *run) kill() {
	_ = p.cmd.Process.Kill()
	<-p.exited
}

// Progress returns the last parsed ffmpeg status.
func (r *Recorder) Progress() Progress {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	return r.progress
}

func (o RecorderOptions) audioInput(src media.AudioSource) string {
	if src == media.AudioSourceMic && o.MicInput != "" {
		return o.MicInput
	}
	return o.AudioInput
}

var (
	reTime   = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2}\.\d+)`)
	reFPS    = regexp.MustCompile(`fps=\s*([\d.]+)`)
	reFrames = regexp.MustCompile(`frame=\s*(\d+)`)
)

func (r *Recorder) readProgress(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	sc.Split(scanLines)
	for sc.Scan() {
		if p, ok := parseProgress(sc.Text()); ok {
			r.pmu.Lock()
			r.progress = p
			r.pmu.Unlock()
		}
	}
}

func parseProgress(line string) (Progress, bool) {
	m := reTime.FindStringSubmatch(line)
	if len(m) != 4 {
		return Progress{}, false
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	s, _ := strconv.ParseFloat(m[3], 64)
	p := Progress{Elapsed: time.Duration((float64(h*3600+mins*60) + s) * float64(time.Second))}
	if fm := reFrames.FindStringSubmatch(line); len(fm) > 1 {
		p.Frames, _ = strconv.Atoi(fm[1])
	}
	if fm := reFPS.FindStringSubmatch(line); len(fm) > 1 {
		p.FPS, _ = strconv.ParseFloat(fm[1], 64)
	}
	return p, true
}

// scanLines splits on \n and on the \r ffmpeg uses for status updates.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last stderr line for error messages.
type tailBuffer struct {
	mu   sync.Mutex
	line string
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	line := bytes.TrimSpace(p)
	if i := bytes.LastIndexAny(line, "\r\n"); i >= 0 {
		line = line[i+1:]
	}
	if len(line) > 0 {
		t.mu.Lock()
		t.line = string(line)
		t.mu.Unlock()
	}
	return len(p), nil
}

func (t *tailBuffer) last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.line
}

func videoEncoderName(cfg session.RecorderConfig) (string, error) {
	if cfg.VideoEncoderName != "" {
		return cfg.VideoEncoderName, nil
	}
	name, ok := defaultVideoEncoders[cfg.VideoEncoder]
	if !ok {
		return "", fmt.Errorf("%w: video encoder %q", media.ErrUnknownCodec, cfg.VideoEncoder)
	}
	return name, nil
}

func audioEncoderFor(cfg session.RecorderConfig) (audioEncoder, error) {
	def, ok := defaultAudioEncoders[cfg.AudioEncoder]
	if !ok {
		return audioEncoder{}, fmt.Errorf("%w: audio encoder %q", media.ErrUnknownCodec, cfg.AudioEncoder)
	}
	if cfg.AudioEncoderName == "" {
		return def, nil
	}
	enc := audioEncoder{name: cfg.AudioEncoderName}
	if enc.name == def.name {
		enc.profile = def.profile
	}
	return enc, nil
}

// buildArgs constructs the ffmpeg command line of a recording.
func buildArgs(cfg session.RecorderConfig, src session.FrameSource, opts RecorderOptions) ([]string, error) {
	venc, err := videoEncoderName(cfg)
	if err != nil {
		return nil, err
	}
	muxer, ok := muxers[cfg.Container]
	if !ok {
		return nil, fmt.Errorf("%w: container %q", media.ErrUnknownCodec, cfg.Container)
	}
	if src.Input == "" {
		return nil, errors.New("display has no capture input")
	}
	fps := strconv.Itoa(max(cfg.VideoFrameRate, 1))
	global, filter := hwArgs(venc)

	// 1. Global options and the screen input.
	args := []string{"-hide_banner", "-y"}
	args = append(args, global...)
	if src.Driver != "" {
		args = append(args, "-f", src.Driver)
	}
	args = append(args, "-framerate", fps, "-i", src.Input)

	// 2. Optional audio input.
	hasAudio := cfg.HasAudio()
	if hasAudio {
		args = append(args, "-f", opts.AudioFormat, "-i", opts.audioInput(cfg.AudioSource))
	}

	// 3. Video encoding, scaled to the negotiated size.
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d,%s", cfg.VideoSize.Width, cfg.VideoSize.Height, filter),
		"-c:v", venc,
		"-b:v", strconv.Itoa(cfg.VideoBitRate),
		"-r", fps,
		"-g", fps,
	)

	// 4. Audio encoding or none.
	if hasAudio {
		aenc, err := audioEncoderFor(cfg)
		if err != nil {
			return nil, err
		}
		args = append(args, "-c:a", aenc.name)
		if aenc.profile != "" {
			args = append(args, "-profile:a", aenc.profile)
		}
		args = append(args,
			"-b:a", strconv.Itoa(cfg.AudioBitRate),
			"-ar", strconv.Itoa(cfg.AudioSampleRate),
			"-ac", strconv.Itoa(max(cfg.AudioChannels, 1)),
		)
	} else {
		args = append(args, "-an")
	}

	// 5. Container and destination.
	return append(args, "-f", muxer, cfg.OutputPath), nil
}

type surface struct {
	mu  sync.Mutex
	src *session.FrameSource
}

func (s *surface) Bind(src session.FrameSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = &src
	return nil
}

func (s *surface) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = nil
}

func (s *surface) source() (session.FrameSource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return session.FrameSource{}, false
	}
	return *s.src, true
}
