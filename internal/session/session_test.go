package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-recorder/internal/media"
	"screen-recorder/internal/observability"
)

type harness struct {
	s         *Session
	issuer    *fakeIssuer
	recorders *fakeRecorders
	index     *fakeIndex
	listener  *recordingListener
}

func newHarness(t *testing.T, mod func(*Options)) *harness {
	t.Helper()
	h := &harness{
		issuer:    &fakeIssuer{},
		recorders: &fakeRecorders{},
		index:     &fakeIndex{},
		listener:  &recordingListener{},
	}
	opts := Options{
		Issuer:    h.issuer,
		Recorders: h.recorders,
		Index:     h.index,
		Listener:  h.listener,
		Metrics:   observability.NewMetrics(),
	}
	if mod != nil {
		mod(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	h.s = s
	return h
}

func grant() CaptureGrant {
	return CaptureGrant{ResultCode: ResultOK, Payload: []byte("token")}
}

func params() media.RecordingParameters {
	return media.DefaultParameters(
		media.Size{Width: 2560, Height: 1440}, 160,
		media.Size{Width: 1280, Height: 720},
		"/home/user/Videos/20240131_142501_07.mp4",
	)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Recorders: &fakeRecorders{}})
	assert.Error(t, err)
	_, err = New(Options{Issuer: &fakeIssuer{}})
	assert.Error(t, err)
}

func TestStartWithoutGrant(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.Setup(params()))

	err := h.s.Start()
	assert.ErrorIs(t, err, ErrNeedCaptureGrant)
	assert.Equal(t, 1, h.listener.needGrant)
	assert.Equal(t, StatePrepared, h.s.State())
	assert.Zero(t, h.recorders.last().started)
}

func TestStartWithoutGrantOrSetup(t *testing.T) {
	h := newHarness(t, nil)

	err := h.s.Start()
	assert.ErrorIs(t, err, ErrNeedCaptureGrant)
	assert.Equal(t, StateIdle, h.s.State())
	assert.Empty(t, h.recorders.made)
}

func TestStartWithoutSetup(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))

	err := h.s.Start()
	assert.ErrorIs(t, err, ErrNeedRecorderSetup)
	assert.Equal(t, 1, h.listener.needSetup)
	assert.Equal(t, StateIdle, h.s.State())
}

func TestRecordingLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Setup(params()))

	assert.Equal(t, StatePrepared, h.s.State())
	assert.True(t, h.s.IsConfigured())
	rec := h.recorders.last()
	require.NotNil(t, rec.cfg)
	assert.Equal(t, VideoSourceSurface, rec.cfg.VideoSource)
	assert.Equal(t, media.ContainerMP4, rec.cfg.Container)
	assert.Equal(t, media.AudioSourceDefault, rec.cfg.AudioSource)
	assert.Equal(t, media.AudioEncoderAMRNB, rec.cfg.AudioEncoder)
	assert.Equal(t, media.VideoEncoderH264, rec.cfg.VideoEncoder)
	require.NotNil(t, rec.surface.bound)
	assert.Equal(t, media.Size{Width: 1280, Height: 720}, rec.surface.bound.Size)
	assert.Equal(t, 160, rec.surface.bound.Density)

	require.NoError(t, h.s.Start())
	assert.Equal(t, StateRecording, h.s.State())
	assert.Equal(t, 1, h.listener.started)

	h.s.Stop(false)
	assert.Equal(t, StateIdle, h.s.State())
	assert.Equal(t, []published{{params().OutputPath, "video/mp4"}}, h.index.entries)
	assert.Equal(t, []string{params().OutputPath}, h.listener.stopped)
	assert.Equal(t, 1, rec.released)
	assert.Equal(t, 1, h.issuer.last().displays[0].released)
	assert.True(t, h.s.HasGrant())
	assert.False(t, h.s.IsConfigured())
	assert.Equal(t, []State{StatePrepared, StateRecording, StateIdle}, h.listener.states)
}

func TestStopTwiceDoesNotRepublish(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Setup(params()))
	require.NoError(t, h.s.Start())

	h.s.Stop(false)
	h.s.Stop(false)

	assert.Len(t, h.index.entries, 1)
	assert.Len(t, h.listener.stopped, 1)
	assert.Equal(t, 1, h.recorders.last().released)
	assert.Equal(t, StateIdle, h.s.State())
}

func TestStopFromIdleIsNoop(t *testing.T) {
	h := newHarness(t, nil)

	h.s.Stop(false)
	h.s.Stop(true)

	assert.Empty(t, h.index.entries)
	assert.Empty(t, h.listener.stopped)
	assert.Empty(t, h.listener.states)
}

func TestStopPreparedDoesNotPublish(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Setup(params()))

	h.s.Stop(false)

	assert.Empty(t, h.index.entries)
	assert.Len(t, h.listener.stopped, 1)
	assert.Equal(t, 1, h.recorders.last().stopped)
	assert.Equal(t, StateIdle, h.s.State())
}

func TestStopDestroysGrant(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Setup(params()))
	require.NoError(t, h.s.Start())

	h.s.Stop(true)

	p := h.issuer.last()
	assert.Equal(t, 1, p.stopped)
	assert.Nil(t, p.revoke)
	assert.False(t, h.s.HasGrant())
}

func TestRevocationWhileRecording(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Setup(params()))
	require.NoError(t, h.s.Start())

	p := h.issuer.last()
	p.fire()

	assert.Equal(t, StateIdle, h.s.State())
	assert.Len(t, h.listener.stopped, 1)
	assert.Len(t, h.index.entries, 1)
	assert.Zero(t, p.stopped)
	assert.False(t, h.s.HasGrant())

	// a late duplicate revocation is ignored
	p.fire()
	assert.Len(t, h.listener.stopped, 1)

	assert.ErrorIs(t, h.s.Start(), ErrNeedCaptureGrant)
}

func TestStaleRevocationIgnored(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	first := h.issuer.last()
	stale := first.revoke
	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Setup(params()))
	require.NoError(t, h.s.Start())

	stale()

	assert.Equal(t, StateRecording, h.s.State())
	assert.Equal(t, 1, first.stopped)
	assert.True(t, h.s.HasGrant())
}

func TestConfigureGrantDenied(t *testing.T) {
	h := newHarness(t, nil)

	err := h.s.ConfigureGrant(CaptureGrant{ResultCode: 0})
	assert.ErrorIs(t, err, ErrGrantDenied)
	assert.Empty(t, h.issuer.issued)
	assert.False(t, h.s.HasGrant())
}

func TestConfigureGrantIssueFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.issuer.err = errors.New("portal unavailable")

	err := h.s.ConfigureGrant(grant())
	assert.Error(t, err)
	assert.False(t, h.s.HasGrant())
}

func TestConfigureGrantRebindsPreparedDisplay(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Setup(params()))
	first := h.issuer.last()

	require.NoError(t, h.s.ConfigureGrant(grant()))

	second := h.issuer.last()
	assert.Equal(t, 1, first.stopped)
	assert.Equal(t, 1, first.displays[0].released)
	require.Len(t, second.displays, 1)
	assert.Equal(t, media.Size{Width: 1280, Height: 720}, second.displays[0].size)
	assert.Equal(t, StatePrepared, h.s.State())
}

func TestSetupWithoutGrantCreatesDisplayOnStart(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.Setup(params()))
	assert.Nil(t, h.recorders.last().surface.bound)

	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Start())

	assert.NotNil(t, h.recorders.last().surface.bound)
	assert.Equal(t, StateRecording, h.s.State())
}

func TestStartRerunsLastSetup(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Setup(params()))
	require.NoError(t, h.s.Start())
	h.s.Stop(false)

	require.NoError(t, h.s.Start())

	assert.Len(t, h.recorders.made, 2)
	assert.Equal(t, StateRecording, h.s.State())
	assert.Equal(t, 1, h.recorders.last().started)
}

func TestSetupWhileRecordingStopsFirst(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Setup(params()))
	require.NoError(t, h.s.Start())

	next := params()
	next.OutputPath = "/home/user/Videos/next.webm"
	next.VideoCodec = media.VideoCodecVP8
	require.NoError(t, h.s.Setup(next))

	assert.Len(t, h.index.entries, 1)
	assert.Equal(t, StatePrepared, h.s.State())
	assert.Equal(t, media.ContainerWebM, h.recorders.last().cfg.Container)
	assert.True(t, h.s.HasGrant())
}

func TestSetupPrepareFailure(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	h.recorders.prepareErr = errors.New("output directory not writable")

	err := h.s.Setup(params())

	var serr *SetupError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "prepare recorder", serr.Stage)
	assert.Equal(t, StateIdle, h.s.State())
	assert.Len(t, h.listener.setupFailed, 1)
	assert.Equal(t, 1, h.recorders.last().released)
	assert.False(t, h.s.IsConfigured())
	_, ok := h.s.Format()
	assert.False(t, ok)
	_, ok = h.s.Params()
	assert.True(t, ok)
}

func TestSetupInvalidParameters(t *testing.T) {
	h := newHarness(t, nil)
	p := params()
	p.VideoSize = media.Size{}

	err := h.s.Setup(p)

	var serr *SetupError
	require.ErrorAs(t, err, &serr)
	assert.Empty(t, h.recorders.made)
}

func TestSetupDisplayFailure(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	h.issuer.last().displayErr = errors.New("display server gone")

	err := h.s.Setup(params())

	var serr *SetupError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StateIdle, h.s.State())
}

func TestStartRecorderFailure(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	h.recorders.startErr = errors.New("ffmpeg exited")
	require.NoError(t, h.s.Setup(params()))

	err := h.s.Start()

	assert.Error(t, err)
	assert.Equal(t, StateIdle, h.s.State())
	assert.Equal(t, 1, h.recorders.last().released)
	assert.Zero(t, h.listener.started)
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Setup(params()))
	require.NoError(t, h.s.Start())

	require.NoError(t, h.s.Close())

	assert.False(t, h.s.HasGrant())
	assert.Equal(t, StateIdle, h.s.State())
	assert.Equal(t, 1, h.issuer.last().stopped)
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.ConfigureGrant(grant()))
	require.NoError(t, h.s.Setup(params()))

	st := h.s.Status()
	assert.Equal(t, StatePrepared, st.State)
	assert.True(t, st.HasGrant)
	assert.True(t, st.Configured)
	require.NotNil(t, st.Format)
	assert.False(t, st.Format.Validated)
	assert.Equal(t, 30, st.Format.VideoFrameRate)
}

func TestStateText(t *testing.T) {
	raw, err := StateRecording.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "recording", string(raw))

	var s State
	require.NoError(t, s.UnmarshalText([]byte("prepared")))
	assert.Equal(t, StatePrepared, s)
	assert.Error(t, s.UnmarshalText([]byte("paused")))
}
