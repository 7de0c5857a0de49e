package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"screen-recorder/internal/encoders"
)

// ProbeTimeout bounds every short ffmpeg invocation (encoder listing, trials).
const ProbeTimeout = 5 * time.Second

// Engine is the local ffmpeg installation. It lists encoders, runs trial
// encodes and spawns recorders.
type Engine struct {
	FFmpegPath string

	logger zerolog.Logger
	run    runner

	once   sync.Once
	codecs []encoders.CodecInfo
	err    error
}

// runner executes one short ffmpeg command and returns its combined output.
type runner func(ctx context.Context, path string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, path string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// NewEngine locates the ffmpeg binary. An empty path searches PATH.
func NewEngine(path string, logger *zerolog.Logger) (*Engine, error) {
	if path == "" {
		path = "ffmpeg"
	}
	// 1. Locate the binary, either as given or on PATH.
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	// 2. Build the engine; probing is lazy and cached.
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "ffmpeg").Logger()
	}
	return &Engine{FFmpegPath: resolved, logger: l, run: execRunner}, nil
}

func (e *Engine) exec(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ProbeTimeout)
	defer cancel()
	out, err := e.run(ctx, e.FFmpegPath, args...)
	if ctx.Err() != nil {
		return out, fmt.Errorf("ffmpeg timed out after %s: %w", ProbeTimeout, ctx.Err())
	}
	return out, err
}
