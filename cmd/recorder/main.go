package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"screen-recorder/internal/config"
	"screen-recorder/internal/encoders"
	"screen-recorder/internal/heartbeat"
	"screen-recorder/internal/host/ffmpeg"
	"screen-recorder/internal/host/portal"
	"screen-recorder/internal/mediaindex"
	"screen-recorder/internal/monitor"
	"screen-recorder/internal/observability"
	"screen-recorder/internal/server"
	"screen-recorder/internal/session"
)

func main() {
	// 1. Load Configuration
	flags := config.Flags("recorder")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	cfg, err := config.Load(flags)
	if err != nil {
		observability.NewLogger("error").Fatal().Err(err).Msg("failed to load config")
	}
	logger := observability.NewLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()
	logger.Info().Str("listen", cfg.ListenAddr).Str("output_dir", cfg.OutputDir).Msg("starting screen recorder")

	// 2. Initialize the ffmpeg engine and the encoder prober on top of it
	engine, err := ffmpeg.NewEngine(cfg.FFmpegPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize ffmpeg engine")
	}
	prober := encoders.NewProber(engine, ffmpeg.IsHardwareEncoder, logger)
	trials := encoders.NewConfigurator(engine, logger)
	if cfg.CheckEncoders {
		if _, err := engine.Codecs(); err != nil {
			logger.Warn().Err(err).Msg("encoder probing unavailable, formats will not be validated")
		}
	}

	// 3. Capture grants: the desktop portal when enabled, the configured
	// capture input otherwise.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defaults := ffmpeg.CaptureTarget{InputFormat: cfg.CaptureInputFormat, Input: cfg.CaptureInput}
	var (
		grants  server.GrantRequester = ffmpeg.LocalGrants{Target: defaults}
		watcher ffmpeg.SessionWatcher
		dbusP   *portal.Portal
	)
	if cfg.PortalEnabled {
		dbusP, err = portal.New(portal.Options{}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to xdg-desktop-portal")
		}
		grants, watcher = dbusP, dbusP
	}
	issuer := ffmpeg.NewIssuer(defaults, watcher, logger)

	// 4. Media index and host checks
	var webhook *mediaindex.Webhook
	if cfg.MediaIndexWebhook != "" {
		webhook = mediaindex.NewWebhook(cfg.MediaIndexWebhook)
	}
	index, err := mediaindex.Open(cfg.MediaIndexPath, webhook, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open media index")
	}
	host := monitor.NewSystemMonitor(cfg.OutputDir, cfg.MinFreeBytes)
	hub := server.NewEventHub(logger)

	// 5. The recording session
	sess, err := session.New(session.Options{
		Issuer: issuer,
		Recorders: engine.RecorderFactory(ffmpeg.RecorderOptions{
			AudioFormat: cfg.AudioInputFormat,
			AudioInput:  cfg.AudioInput,
			MicInput:    cfg.MicInput,
		}),
		Index:         index,
		Listener:      hub,
		Prober:        prober,
		Trials:        trials,
		CheckEncoders: cfg.CheckEncoders,
		Selection:     cfg.Selection(),
		Policy:        cfg.Policy(),
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create recording session")
	}

	// 6. Stop recordings before the output volume fills up
	if cfg.MinFreeBytes > 0 {
		heartbeat.New(sess, host, cfg.DiskCheckInterval(), metrics, logger).Start(ctx)
	}

	// 7. Serve until a signal or POST /v1/service/stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-stop:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	api := server.New(server.Deps{
		Session:   sess,
		Hub:       hub,
		Host:      host,
		Grants:    grants,
		Encoders:  prober,
		Index:     index,
		Selection: cfg.Selection(),
		Defaults:  cfg.Defaults,
		OutputDir: cfg.OutputDir,
		Metrics:   metrics,
		Logger:    logger,
		Shutdown:  cancel,
	})
	serveErr := api.ListenAndServe(ctx, cfg.ListenAddr)
	shutdown(logger, sess, index, dbusP)
	if serveErr != nil {
		logger.Fatal().Err(serveErr).Msg("server failed")
	}
	logger.Info().Msg("screen recorder stopped")
}

func shutdown(logger *zerolog.Logger, sess *session.Session, index *mediaindex.Index, p *portal.Portal) {
	if err := sess.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close recording session")
	}
	if err := index.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close media index")
	}
	if p != nil {
		if err := p.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("failed to close portal connection")
		}
	}
}
