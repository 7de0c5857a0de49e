package session

import (
	"screen-recorder/internal/media"
)

// ResultOK is the result code of a granted capture request.
const ResultOK = -1

// CaptureGrant is the outcome of a capture authorization request.
// Payload is opaque to the session.
type CaptureGrant struct {
	ResultCode int    `json:"result_code"`
	Payload    []byte `json:"payload,omitempty"`
}

// Granted reports whether the request was accepted.
func (g CaptureGrant) Granted() bool {
	return g.ResultCode == ResultOK
}

// GrantIssuer turns a capture grant into a live projection.
type GrantIssuer interface {
	Issue(grant CaptureGrant) (Projection, error)
}

// Projection is a live screen capture authorization.
//
// The revocation callback runs when the host ends the capture on its own.
// It must not be invoked from inside a Projection method call.
type Projection interface {
	RegisterRevocation(fn func())
	UnregisterRevocation()
	CreateVirtualDisplay(name string, size media.Size, density int, surface Surface) (VirtualDisplay, error)
	Stop() error
}

// VirtualDisplay mirrors the screen into a recorder surface.
type VirtualDisplay interface {
	Release() error
}

// FrameSource is what a virtual display feeds into a surface: the mirrored
// screen at a given size plus a backend specific capture address.
type FrameSource struct {
	Name    string
	Size    media.Size
	Density int
	Driver  string
	Input   string
}

// Surface is the input side of a recorder.
type Surface interface {
	Bind(src FrameSource) error
	Unbind()
}

// Recorder encodes a surface (and optionally audio) into a container file.
type Recorder interface {
	Prepare(cfg RecorderConfig) error
	Surface() Surface
	Start() error
	Stop() error
	Release() error
}

// RecorderFactory creates a fresh recorder for every setup.
type RecorderFactory interface {
	NewRecorder() (Recorder, error)
}

// MediaIndex registers finished recordings.
type MediaIndex interface {
	Publish(path, mimeType string) error
}

// Listener receives session notifications. Calls are made while the session
// lock is held; implementations must not call back into the session.
type Listener interface {
	RecordingStarted()
	RecordingStopped(path string)
	StateChanged(state State)
	NeedCaptureGrant()
	NeedRecorderSetup()
	SetupFailed(err error)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) RecordingStarted()       {}
func (NopListener) RecordingStopped(string) {}
func (NopListener) StateChanged(State)      {}
func (NopListener) NeedCaptureGrant()       {}
func (NopListener) NeedRecorderSetup()      {}
func (NopListener) SetupFailed(error)       {}

// VideoSource is where a recorder takes video from.
type VideoSource string

// VideoSourceSurface is the only video source: frames rendered into the
// recorder surface by a virtual display.
const VideoSourceSurface VideoSource = "surface"

// RecorderConfig is the final encoder configuration of one recording.
// Encoder names are the negotiated encoders; empty means the recorder picks
// one for the codec.
type RecorderConfig struct {
	VideoSource      VideoSource
	AudioSource      media.AudioSource
	Container        media.Container
	OutputPath       string
	VideoEncoder     media.VideoEncoder
	VideoEncoderName string
	VideoSize        media.Size
	VideoFrameRate   int
	VideoBitRate     int
	AudioEncoder     media.AudioEncoder
	AudioEncoderName string
	AudioSampleRate  int
	AudioBitRate     int
	AudioChannels    int
}

// HasAudio reports whether an audio track is configured.
func (c RecorderConfig) HasAudio() bool {
	return c.AudioSource != media.AudioSourceNone
}
