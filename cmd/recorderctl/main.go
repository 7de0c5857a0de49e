package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"screen-recorder/internal/client"
	"screen-recorder/internal/config"
	"screen-recorder/internal/observability"
	"screen-recorder/pkg/models"
)

const usage = `usage: recorderctl [flags] <command>

commands:
  toggle       start a recording, or stop the running one
  start        start recording with the current setup
  stop         stop recording (--destroy-grant releases the capture grant)
  status       print the session status
  grant        request a capture grant from the desktop
  setup        configure the recorder
  encoders     list encoders for --mime
  recordings   list published recordings
  host         print host resources
  events       stream session events
  shutdown     stop the recorder service
`

func main() {
	fs := config.Flags("recorderctl")
	destroy := fs.Bool("destroy-grant", false, "release the capture grant on stop")
	mime := fs.String("mime", "video/avc", "mime type for the encoders command")
	mode := fs.String("mode", "", "encoder selection for the encoders command")
	videoCodec := fs.String("video-codec", "", "video codec for setup")
	audioCodec := fs.String("audio-codec", "", "audio codec for setup")
	audioSource := fs.String("audio-source", "", "default, mic or none")
	width := fs.Int("width", 0, "video width for setup")
	height := fs.Int("height", 0, "video height for setup")
	fps := fs.Int("fps", 0, "frame rate for setup")
	noAudio := fs.Bool("no-audio", false, "record without audio")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage, "\nflags:\n", fs.FlagUsages())
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := observability.NewLoggerTo(os.Stderr, cfg.LogLevel)
	c := client.New(client.Options{
		BaseURL:        cfg.ServiceURL(),
		PollInterval:   cfg.PollInterval(),
		ConnectTimeout: cfg.ConnectTimeout(),
		Logger:         logger,
	})

	setup := models.SetupRequest{
		VideoWidth:     *width,
		VideoHeight:    *height,
		VideoFrameRate: *fps,
		VideoCodec:     *videoCodec,
		AudioCodec:     *audioCodec,
		AudioSource:    *audioSource,
	}
	if *noAudio {
		zero := 0
		setup.AudioChannels = &zero
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, c, fs.Arg(0), setup, *destroy, *mime, *mode); err != nil {
		fmt.Fprintln(os.Stderr, "recorderctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, cmd string, setup models.SetupRequest, destroy bool, mime, mode string) error {
	var (
		out any
		err error
	)
	switch cmd {
	case "toggle":
		out, err = c.Toggle(ctx, setup)
	case "start":
		out, err = c.Start(ctx)
	case "stop":
		out, err = c.Stop(ctx, destroy)
	case "status":
		out, err = c.Connect(ctx)
	case "grant":
		out, err = c.RequestGrant(ctx)
	case "setup":
		out, err = c.Setup(ctx, setup)
	case "encoders":
		out, err = c.Encoders(ctx, mime, mode)
	case "recordings":
		out, err = c.Recordings(ctx)
	case "host":
		out, err = c.Host(ctx)
	case "shutdown":
		return c.StopService(ctx)
	case "events":
		events, err := c.Events(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
