package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"screen-recorder/internal/encoders"
	"screen-recorder/internal/media"
	"screen-recorder/internal/session"
)

// Config holds all the settings for the recorder service and its controller.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	OutputDir  string `mapstructure:"output_dir"`

	CheckEncoders     bool   `mapstructure:"check_encoders"`
	EncoderSelection  string `mapstructure:"encoder_selection"`  // respect_order, prefer_hardware
	NegotiationPolicy string `mapstructure:"negotiation_policy"` // best_effort, strict
	MinFreeBytes      uint64 `mapstructure:"min_free_bytes"`
	DiskCheckMS       int    `mapstructure:"disk_check_interval_ms"`

	MediaIndexPath    string `mapstructure:"media_index_path"`
	MediaIndexWebhook string `mapstructure:"media_index_webhook"`

	PortalEnabled      bool   `mapstructure:"portal_enabled"`
	CaptureInputFormat string `mapstructure:"capture_input_format"`
	CaptureInput       string `mapstructure:"capture_input"`
	AudioInputFormat   string `mapstructure:"audio_input_format"`
	AudioInput         string `mapstructure:"audio_input"`
	MicInput           string `mapstructure:"mic_input"`

	ConnectTimeoutMS int `mapstructure:"connect_timeout_ms"`
	PollIntervalMS   int `mapstructure:"poll_interval_ms"`

	Defaults Defaults `mapstructure:"defaults"`
}

// Defaults fill the recording parameters a setup request leaves out.
type Defaults struct {
	ScreenWidth     int    `mapstructure:"screen_width"`
	ScreenHeight    int    `mapstructure:"screen_height"`
	ScreenDensity   int    `mapstructure:"screen_density"`
	VideoWidth      int    `mapstructure:"video_width"`  // 0 uses the screen width
	VideoHeight     int    `mapstructure:"video_height"` // 0 uses the screen height
	VideoFrameRate  int    `mapstructure:"video_frame_rate"`
	VideoCodec      string `mapstructure:"video_codec"`
	AudioCodec      string `mapstructure:"audio_codec"`
	AudioSource     string `mapstructure:"audio_source"`
	AudioChannels   int    `mapstructure:"audio_channels"`
	AudioBitRate    int    `mapstructure:"audio_bit_rate"`
	AudioSampleRate int    `mapstructure:"audio_sample_rate"`
}

// captureDefaults returns the ffmpeg screen and audio inputs of a platform.
func captureDefaults(goos string) (format, input, audioFormat, audioInput string) {
	switch goos {
	case "darwin":
		return "avfoundation", "1:none", "avfoundation", ":0"
	case "windows":
		return "gdigrab", "desktop", "dshow", ""
	default:
		display := os.Getenv("DISPLAY")
		if display == "" {
			display = ":0"
		}
		return "x11grab", display + ".0", "pulse", "default"
	}
}

// Flags declares the command line overrides. Every flag but --config maps to
// the config key of the same name with dashes as underscores.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "config.yml", "path to the YAML config file")
	fs.String("listen-addr", "", "service listen address")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("ffmpeg-path", "", "ffmpeg binary")
	fs.String("output-dir", "", "directory recordings are written to")
	fs.String("encoder-selection", "", "respect_order or prefer_hardware")
	fs.String("negotiation-policy", "", "best_effort or strict")
	fs.Bool("portal-enabled", false, "acquire capture grants through xdg-desktop-portal")
	fs.Bool("check-encoders", true, "negotiate formats against encoder capabilities")
	return fs
}

// Load merges defaults, the YAML file, SCREENREC_* env vars and flags.
// flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set Defaults
	home, _ := os.UserHomeDir()
	format, input, audioFormat, audioInput := captureDefaults(runtime.GOOS)
	v.SetDefault("listen_addr", "127.0.0.1:7420")
	v.SetDefault("log_level", "info")
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("output_dir", filepath.Join(home, "Videos"))
	v.SetDefault("check_encoders", true)
	v.SetDefault("encoder_selection", encoders.ModeRespectOrder.String())
	v.SetDefault("negotiation_policy", session.PolicyBestEffort.String())
	v.SetDefault("min_free_bytes", 64<<20)
	v.SetDefault("disk_check_interval_ms", 5000)
	v.SetDefault("media_index_path", filepath.Join(home, ".local", "share", "screen-recorder", "recordings.jsonl"))
	v.SetDefault("media_index_webhook", "")
	v.SetDefault("portal_enabled", false)
	v.SetDefault("capture_input_format", format)
	v.SetDefault("capture_input", input)
	v.SetDefault("audio_input_format", audioFormat)
	v.SetDefault("audio_input", audioInput)
	v.SetDefault("mic_input", "")
	v.SetDefault("connect_timeout_ms", 15000)
	v.SetDefault("poll_interval_ms", 300)
	v.SetDefault("defaults.screen_width", 1920)
	v.SetDefault("defaults.screen_height", 1080)
	v.SetDefault("defaults.screen_density", 96)
	v.SetDefault("defaults.video_width", 0)
	v.SetDefault("defaults.video_height", 0)
	v.SetDefault("defaults.video_frame_rate", media.DefaultFrameRate)
	v.SetDefault("defaults.video_codec", media.VideoCodecH264.String())
	// AMR-NB only takes 8kHz input, AAC suits desktop audio
	v.SetDefault("defaults.audio_codec", media.AudioCodecAAC.String())
	v.SetDefault("defaults.audio_source", media.AudioSourceDefault.String())
	v.SetDefault("defaults.audio_channels", media.DefaultAudioChannels)
	v.SetDefault("defaults.audio_bit_rate", media.DefaultAudioBitRate)
	v.SetDefault("defaults.audio_sample_rate", media.DefaultAudioSampleRate)

	// 2. Read from File
	path := "config.yml"
	if flags != nil {
		if p, err := flags.GetString("config"); err == nil && p != "" {
			path = p
		}
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// 3. Environment and flags
	v.SetEnvPrefix("SCREENREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" {
				return
			}
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, cfg.Validate()
}

// Validate rejects unknown modes, policies and codecs.
func (c *Config) Validate() error {
	var errs []error
	if _, err := encoders.ParseMode(c.EncoderSelection); err != nil {
		errs = append(errs, err)
	}
	if _, err := session.ParsePolicy(c.NegotiationPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := media.ParseVideoCodec(c.Defaults.VideoCodec); err != nil {
		errs = append(errs, err)
	}
	if _, err := media.ParseAudioCodec(c.Defaults.AudioCodec); err != nil {
		errs = append(errs, err)
	}
	if _, err := media.ParseAudioSource(c.Defaults.AudioSource); err != nil {
		errs = append(errs, err)
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if c.Defaults.ScreenWidth <= 0 || c.Defaults.ScreenHeight <= 0 {
		errs = append(errs, fmt.Errorf("default screen size %dx%d must be positive", c.Defaults.ScreenWidth, c.Defaults.ScreenHeight))
	}
	if c.PollIntervalMS <= 0 || c.ConnectTimeoutMS <= 0 {
		errs = append(errs, errors.New("poll_interval_ms and connect_timeout_ms must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) Selection() encoders.Mode {
	m, _ := encoders.ParseMode(c.EncoderSelection)
	return m
}

func (c *Config) Policy() session.Policy {
	p, _ := session.ParsePolicy(c.NegotiationPolicy)
	return p
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// DiskCheckInterval is how often a running recording's volume is checked.
func (c *Config) DiskCheckInterval() time.Duration {
	return time.Duration(c.DiskCheckMS) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ServiceURL is the base URL controllers use to reach the service.
func (c *Config) ServiceURL() string {
	return "http://" + c.ListenAddr
}
