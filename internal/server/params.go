package server

import (
	"path/filepath"
	"time"

	"screen-recorder/internal/config"
	"screen-recorder/internal/media"
	"screen-recorder/pkg/models"
)

func orDefault[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

// parameters merges a setup request over the configured defaults. Without an
// output path the recording is named after now in outputDir.
func parameters(req models.SetupRequest, d config.Defaults, outputDir string, now time.Time) (media.RecordingParameters, error) {
	screen := media.Size{
		Width:  orDefault(req.ScreenWidth, d.ScreenWidth),
		Height: orDefault(req.ScreenHeight, d.ScreenHeight),
	}
	video := media.Size{
		Width:  orDefault(req.VideoWidth, orDefault(d.VideoWidth, screen.Width)),
		Height: orDefault(req.VideoHeight, orDefault(d.VideoHeight, screen.Height)),
	}

	videoCodec, err := media.ParseVideoCodec(orDefault(req.VideoCodec, d.VideoCodec))
	if err != nil {
		return media.RecordingParameters{}, err
	}
	audioCodec, err := media.ParseAudioCodec(orDefault(req.AudioCodec, d.AudioCodec))
	if err != nil {
		return media.RecordingParameters{}, err
	}
	audioSource, err := media.ParseAudioSource(orDefault(req.AudioSource, d.AudioSource))
	if err != nil {
		return media.RecordingParameters{}, err
	}

	path := req.OutputPath
	if path == "" {
		container, err := videoCodec.Container()
		if err != nil {
			return media.RecordingParameters{}, err
		}
		path = filepath.Join(outputDir, media.OutputFileName(now, container))
	}

	p := media.DefaultParameters(screen, orDefault(req.ScreenDensity, d.ScreenDensity), video, path)
	p.VideoCodec = videoCodec
	p.VideoFrameRate = orDefault(req.VideoFrameRate, d.VideoFrameRate)
	p.VideoBitRate = orDefault(req.VideoBitRate, media.EstimateVideoBitRate(video, p.FrameRate(), 1))
	p.AudioCodec = audioCodec
	p.AudioSource = audioSource
	p.AudioChannels = d.AudioChannels
	if req.AudioChannels != nil {
		p.AudioChannels = *req.AudioChannels
	}
	p.AudioBitRate = orDefault(req.AudioBitRate, d.AudioBitRate)
	p.AudioSampleRate = orDefault(req.AudioSampleRate, d.AudioSampleRate)
	return p, nil
}
