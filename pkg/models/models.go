package models

import (
	"encoding/json"
	"time"
)

// Recording is one finished recording in the media index.
type Recording struct {
	Path      string    `json:"path"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	AddedAt   time.Time `json:"added_at"`
}

// Payload for the media index webhook
type RecordingPublished struct {
	Event     string    `json:"event"` // "recording_published"
	Recording Recording `json:"recording"`
}

// Body of POST /v1/grant, response of POST /v1/grant/request
type GrantPayload struct {
	ResultCode int             `json:"result_code"` // -1 granted
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Body of POST /v1/recorder/setup. Zero values take the service defaults.
type SetupRequest struct {
	ScreenWidth   int `json:"screen_width,omitempty"`
	ScreenHeight  int `json:"screen_height,omitempty"`
	ScreenDensity int `json:"screen_density,omitempty"`

	VideoWidth     int    `json:"video_width,omitempty"`
	VideoHeight    int    `json:"video_height,omitempty"`
	VideoFrameRate int    `json:"video_frame_rate,omitempty"`
	VideoBitRate   int    `json:"video_bit_rate,omitempty"`
	VideoCodec     string `json:"video_codec,omitempty"` // e.g. "h264", "vp8"
	OutputPath     string `json:"output_path,omitempty"`

	// AudioChannels 0 records no audio; nil keeps the default.
	AudioChannels   *int   `json:"audio_channels,omitempty"`
	AudioBitRate    int    `json:"audio_bit_rate,omitempty"`
	AudioSampleRate int    `json:"audio_sample_rate,omitempty"`
	AudioCodec      string `json:"audio_codec,omitempty"`  // e.g. "aac", "amr_nb"
	AudioSource     string `json:"audio_source,omitempty"` // "default", "mic", "none"
}

// Format is the negotiated recording format.
type Format struct {
	VideoWidth      int    `json:"video_width"`
	VideoHeight     int    `json:"video_height"`
	VideoFrameRate  int    `json:"video_frame_rate"`
	VideoBitRate    int    `json:"video_bit_rate"`
	AudioBitRate    int    `json:"audio_bit_rate"`
	AudioSampleRate int    `json:"audio_sample_rate"`
	AudioChannels   int    `json:"audio_channels"`
	VideoEncoder    string `json:"video_encoder,omitempty"`
	AudioEncoder    string `json:"audio_encoder,omitempty"`
	Validated       bool   `json:"validated"`
}

// Response of GET /v1/status
type StatusResponse struct {
	State      string  `json:"state"` // "idle", "prepared", "recording"
	HasGrant   bool    `json:"has_grant"`
	Configured bool    `json:"configured"`
	OutputPath string  `json:"output_path,omitempty"`
	Format     *Format `json:"format,omitempty"`
}

// Session event types streamed on /v1/events
const (
	EventRecordingStarted  = "recording_started"
	EventRecordingStopped  = "recording_stopped"
	EventStateChanged      = "state_changed"
	EventNeedCaptureGrant  = "need_capture_grant"
	EventNeedRecorderSetup = "need_recorder_setup"
	EventSetupFailed       = "setup_failed"
)

type Event struct {
	Type  string    `json:"type"`
	Path  string    `json:"path,omitempty"`
	State string    `json:"state,omitempty"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}

// EncoderInfo is one row of GET /v1/encoders
type EncoderInfo struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mime_type"`
	Types    []string `json:"types"`
	Hardware bool     `json:"hardware"`
	Widths   string   `json:"widths,omitempty"`
	Heights  string   `json:"heights,omitempty"`
	BitRates string   `json:"bit_rates"`
}

// Response of GET /v1/host
type HostSpecs struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Platform string `json:"platform"`
	CPUModel string `json:"cpu_model"`
	CPUCores int    `json:"cpu_cores"`

	// CPU usage percentage (0.0 to 100.0)
	CPUPercent float64 `json:"cpu_percent"`

	MemoryTotal     uint64 `json:"memory_total"`
	MemoryAvailable uint64 `json:"memory_available"`

	OutputDir string `json:"output_dir"`
	DiskFree  uint64 `json:"disk_free"`
	DiskTotal uint64 `json:"disk_total"`
}

// ErrorResponse wraps every non-2xx answer
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
