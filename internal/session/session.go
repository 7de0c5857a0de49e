package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"screen-recorder/internal/encoders"
	"screen-recorder/internal/media"
	"screen-recorder/internal/observability"
)

// DefaultDisplayName names virtual displays created by the session.
const DefaultDisplayName = "ScreenRecordingService"

// Options wires a Session to its host services. Issuer and Recorders are
// required; everything else is optional.
type Options struct {
	Issuer    GrantIssuer
	Recorders RecorderFactory
	Index     MediaIndex
	Listener  Listener

	// Prober and Trials enable encoder negotiation when CheckEncoders is set.
	Prober        *encoders.Prober
	Trials        *encoders.Configurator
	CheckEncoders bool
	Selection     encoders.Mode
	Policy        Policy

	DisplayName string
	Logger      *zerolog.Logger
	Metrics     *observability.Metrics
}

// Session owns the capture grant, the recorder and the virtual display of
// one screen recording at a time. All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	issuer        GrantIssuer
	recorders     RecorderFactory
	index         MediaIndex
	listener      Listener
	prober        *encoders.Prober
	trials        *encoders.Configurator
	checkEncoders bool
	selection     encoders.Mode
	policy        Policy
	displayName   string
	logger        zerolog.Logger
	metrics       *observability.Metrics

	state      State
	params     *media.RecordingParameters
	format     *NegotiatedFormat
	config     RecorderConfig
	projection Projection
	grantGen   uint64
	recorder   Recorder
	display    VirtualDisplay
}

func New(opts Options) (*Session, error) {
	if opts.Issuer == nil {
		return nil, errors.New("session: grant issuer is required")
	}
	if opts.Recorders == nil {
		return nil, errors.New("session: recorder factory is required")
	}
	s := &Session{
		issuer:        opts.Issuer,
		recorders:     opts.Recorders,
		index:         opts.Index,
		listener:      opts.Listener,
		prober:        opts.Prober,
		trials:        opts.Trials,
		checkEncoders: opts.CheckEncoders,
		selection:     opts.Selection,
		policy:        opts.Policy,
		displayName:   opts.DisplayName,
		metrics:       opts.Metrics,
	}
	if s.listener == nil {
		s.listener = NopListener{}
	}
	if s.displayName == "" {
		s.displayName = DefaultDisplayName
	}
	s.logger = zerolog.Nop()
	if opts.Logger != nil {
		s.logger = opts.Logger.With().Str("component", "session").Logger()
	}
	s.metrics.SetState(StateIdle.String(), StateNames()...)
	return s, nil
}

// ConfigureGrant makes grant the live capture authorization, releasing the
// previous one. The session state is left as is.
func (s *Session) ConfigureGrant(grant CaptureGrant) error {
	if !grant.Granted() {
		return fmt.Errorf("%w: result code %d", ErrGrantDenied, grant.ResultCode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	projection, err := s.issuer.Issue(grant)
	if err != nil {
		return fmt.Errorf("issue projection: %w", err)
	}

	hadDisplay := s.display != nil
	s.releaseDisplay()
	s.releaseGrant()

	s.grantGen++
	gen := s.grantGen
	s.projection = projection
	projection.RegisterRevocation(func() { s.revoked(gen) })
	s.logger.Info().Msg("capture grant configured")

	if hadDisplay || s.state == StatePrepared {
		if err := s.createDisplay(s.config.VideoSize, s.densityLocked()); err != nil {
			s.logger.Warn().Err(err).Msg("rebind virtual display to new grant")
		}
	}
	return nil
}

// Setup configures a recorder for params, stopping a running recording
// first. On failure the session is Idle and a *SetupError is returned.
func (s *Session) Setup(params media.RecordingParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setup(params)
}

func (s *Session) setup(params media.RecordingParameters) error {
	if s.state == StateRecording {
		s.logger.Info().Msg("setup requested while recording, stopping current recording")
		s.stop(false)
	}
	s.logger.Debug().Interface("params", params).Msg("setting up recorder")

	s.params = &params
	s.format = nil
	s.config = RecorderConfig{}
	s.releaseDisplay()
	s.releaseRecorder()

	if err := params.Validate(); err != nil {
		return s.failSetup("validate parameters", err)
	}
	recorder, err := s.recorders.NewRecorder()
	if err != nil {
		return s.failSetup("create recorder", err)
	}
	s.recorder = recorder

	format, err := s.negotiate(params)
	if err != nil {
		return s.failSetup("negotiate encoders", err)
	}
	cfg, err := recorderConfig(params, format)
	if err != nil {
		return s.failSetup("build configuration", err)
	}
	if err := recorder.Prepare(cfg); err != nil {
		return s.failSetup("prepare recorder", err)
	}
	s.format = &format
	s.config = cfg

	if s.projection != nil {
		if err := s.createDisplay(cfg.VideoSize, params.ScreenDensity); err != nil {
			s.format = nil
			return s.failSetup("create virtual display", err)
		}
	}
	s.logger.Info().
		Stringer("size", cfg.VideoSize).
		Int("fps", cfg.VideoFrameRate).
		Int("bitrate", cfg.VideoBitRate).
		Str("container", string(cfg.Container)).
		Bool("validated", format.Validated).
		Msg("recorder prepared")
	s.setState(StatePrepared)
	return nil
}

func (s *Session) failSetup(stage string, err error) error {
	s.releaseDisplay()
	s.releaseRecorder()
	s.setState(StateIdle)
	s.metrics.SetupFailed()

	serr := &SetupError{Stage: stage, Err: err}
	s.logger.Error().Err(err).Str("stage", stage).Msg("recorder setup failed")
	s.listener.SetupFailed(serr)
	return serr
}

// Start begins recording. Without a grant it returns ErrNeedCaptureGrant;
// without any previous setup it returns ErrNeedRecorderSetup. Both are also
// reported to the listener and leave the session untouched.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.projection == nil {
		s.listener.NeedCaptureGrant()
		return ErrNeedCaptureGrant
	}
	if s.state == StateRecording {
		return nil
	}
	if s.recorder == nil {
		if s.params == nil {
			s.listener.NeedRecorderSetup()
			return ErrNeedRecorderSetup
		}
		if err := s.setup(*s.params); err != nil {
			return err
		}
	}
	if s.display == nil {
		if err := s.createDisplay(s.config.VideoSize, s.densityLocked()); err != nil {
			s.teardown()
			return fmt.Errorf("create virtual display: %w", err)
		}
	}
	if err := s.recorder.Start(); err != nil {
		s.teardown()
		return fmt.Errorf("start recorder: %w", err)
	}
	s.logger.Info().Str("path", s.config.OutputPath).Msg("recording started")
	s.metrics.RecordingStarted()
	s.listener.RecordingStarted()
	s.setState(StateRecording)
	return nil
}

// Stop finishes the recording, if any, and releases the recorder and the
// virtual display. destroyGrant also releases the capture grant.
// It never fails; problems are logged.
func (s *Session) Stop(destroyGrant bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop(destroyGrant)
}

func (s *Session) stop(destroyGrant bool) {
	wasRecording := s.state == StateRecording
	if s.recorder != nil {
		if err := s.recorder.Stop(); err != nil {
			s.logger.Debug().Err(err).Msg("stop recorder")
		}
		path := s.config.OutputPath
		if wasRecording {
			s.publish(path)
			s.metrics.RecordingStopped()
			s.logger.Info().Str("path", path).Msg("recording stopped")
		}
		s.listener.RecordingStopped(path)
	}
	s.setState(StateIdle)
	s.releaseDisplay()
	s.releaseRecorder()
	if destroyGrant {
		s.releaseGrant()
	}
}

// revoked handles the host ending the capture. The projection is already
// dead, so it is dropped without being stopped.
func (s *Session) revoked(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.grantGen || s.projection == nil {
		return
	}
	s.logger.Warn().Msg("capture grant revoked by host")
	s.stop(false)
	s.projection = nil
	s.grantGen++
}

// Close stops everything including the capture grant.
func (s *Session) Close() error {
	s.Stop(true)
	return nil
}

func (s *Session) publish(path string) {
	if s.index == nil || path == "" {
		return
	}
	mimeType := s.config.Container.MimeType()
	if mimeType == "" {
		mimeType = media.MimeTypeForPath(path)
	}
	if err := s.index.Publish(path, mimeType); err != nil {
		s.metrics.PublishFailed()
		s.logger.Error().Err(err).Str("path", path).Msg("register recording with media index")
	}
}

func (s *Session) teardown() {
	s.releaseDisplay()
	s.releaseRecorder()
	s.setState(StateIdle)
}

func (s *Session) createDisplay(size media.Size, density int) error {
	if s.projection == nil || s.recorder == nil {
		return nil
	}
	s.releaseDisplay()
	display, err := s.projection.CreateVirtualDisplay(s.displayName, size, density, s.recorder.Surface())
	if err != nil {
		return err
	}
	s.display = display
	return nil
}

func (s *Session) densityLocked() int {
	if s.params == nil {
		return 0
	}
	return s.params.ScreenDensity
}

func (s *Session) releaseDisplay() {
	if s.display == nil {
		return
	}
	if err := s.display.Release(); err != nil {
		s.logger.Warn().Err(err).Msg("release virtual display")
	}
	s.display = nil
}

func (s *Session) releaseRecorder() {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Release(); err != nil {
		s.logger.Warn().Err(err).Msg("release recorder")
	}
	s.recorder = nil
}

func (s *Session) releaseGrant() {
	if s.projection == nil {
		return
	}
	s.projection.UnregisterRevocation()
	if err := s.projection.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("stop projection")
	}
	s.projection = nil
	s.grantGen++
	s.logger.Info().Msg("capture grant released")
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.metrics.SetState(state.String(), StateNames()...)
	s.listener.StateChanged(state)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HasGrant reports whether a capture grant is live.
func (s *Session) HasGrant() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projection != nil
}

// IsConfigured reports whether a recorder is set up.
func (s *Session) IsConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder != nil && s.params != nil
}

// Format returns the format of the last successful setup.
func (s *Session) Format() (NegotiatedFormat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format == nil {
		return NegotiatedFormat{}, false
	}
	return *s.format, true
}

// Params returns the parameters of the last setup request.
func (s *Session) Params() (media.RecordingParameters, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params == nil {
		return media.RecordingParameters{}, false
	}
	return *s.params, true
}

// Status is a consistent snapshot of the session.
type Status struct {
	State      State                      `json:"state"`
	HasGrant   bool                       `json:"has_grant"`
	Configured bool                       `json:"configured"`
	Format     *NegotiatedFormat          `json:"format,omitempty"`
	Params     *media.RecordingParameters `json:"params,omitempty"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:      s.state,
		HasGrant:   s.projection != nil,
		Configured: s.recorder != nil && s.params != nil,
	}
	if s.format != nil {
		f := *s.format
		st.Format = &f
	}
	if s.params != nil {
		p := *s.params
		st.Params = &p
	}
	return st
}
