package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-recorder/internal/config"
	"screen-recorder/internal/encoders"
	"screen-recorder/internal/media"
	"screen-recorder/internal/monitor"
	"screen-recorder/internal/observability"
	"screen-recorder/internal/session"
	"screen-recorder/pkg/models"
)

type fakeController struct {
	mu        sync.Mutex
	hub       *EventHub
	grants    []session.CaptureGrant
	params    []media.RecordingParameters
	stops     []bool
	state     session.State
	grantErr  error
	setupErr  error
	startErr  error
	hasGrant  bool
	lastParam *media.RecordingParameters
}

func (c *fakeController) ConfigureGrant(g session.CaptureGrant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grants = append(c.grants, g)
	if !g.Granted() {
		return fmt.Errorf("%w: result code %d", session.ErrGrantDenied, g.ResultCode)
	}
	if c.grantErr != nil {
		return c.grantErr
	}
	c.hasGrant = true
	return nil
}

func (c *fakeController) Setup(p media.RecordingParameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = append(c.params, p)
	if c.setupErr != nil {
		return c.setupErr
	}
	c.lastParam = &p
	c.state = session.StatePrepared
	return nil
}

func (c *fakeController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	if !c.hasGrant {
		return session.ErrNeedCaptureGrant
	}
	c.state = session.StateRecording
	if c.hub != nil {
		c.hub.RecordingStarted()
		c.hub.StateChanged(c.state)
	}
	return nil
}

func (c *fakeController) Stop(destroy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops = append(c.stops, destroy)
	c.state = session.StateIdle
	if destroy {
		c.hasGrant = false
	}
}

func (c *fakeController) Status() session.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := session.Status{State: c.state, HasGrant: c.hasGrant, Configured: c.lastParam != nil, Params: c.lastParam}
	if c.lastParam != nil {
		st.Format = &session.NegotiatedFormat{VideoSize: c.lastParam.VideoSize, VideoFrameRate: 30, VideoEncoder: "libx264", Validated: true}
	}
	return st
}

type fakeHost struct {
	spaceErr error
	checked  []string
}

func (h *fakeHost) Specs(context.Context) (models.HostSpecs, error) {
	return models.HostSpecs{Hostname: "studio", CPUCores: 8}, nil
}

func (h *fakeHost) CheckFreeSpace(_ context.Context, path string) error {
	h.checked = append(h.checked, path)
	return h.spaceErr
}

type fakeGrants struct {
	grant session.CaptureGrant
	err   error
}

func (g fakeGrants) RequestGrant(context.Context) (session.CaptureGrant, error) {
	return g.grant, g.err
}

type fakeIndex []models.Recording

func (f fakeIndex) List() ([]models.Recording, error) { return f, nil }

var defaults = config.Defaults{
	ScreenWidth:     1920,
	ScreenHeight:    1080,
	ScreenDensity:   96,
	VideoFrameRate:  30,
	VideoCodec:      "h264",
	AudioCodec:      "aac",
	AudioSource:     "default",
	AudioChannels:   1,
	AudioBitRate:    64000,
	AudioSampleRate: 44100,
}

type harness struct {
	srv  *httptest.Server
	ctl  *fakeController
	host *fakeHost
	hub  *EventHub
}

func newHarness(t *testing.T, mod func(*Deps)) *harness {
	t.Helper()
	hub := NewEventHub(nil)
	h := &harness{ctl: &fakeController{hub: hub}, host: &fakeHost{}, hub: hub}
	d := Deps{
		Session:   h.ctl,
		Hub:       hub,
		Host:      h.host,
		Defaults:  defaults,
		OutputDir: "/home/user/Videos",
		Metrics:   observability.NewMetrics(),
		Selection: encoders.ModeRespectOrder,
	}
	if mod != nil {
		mod(&d)
	}
	s := New(d)
	s.now = func() time.Time { return time.Date(2024, 1, 31, 14, 25, 1, 70*int(time.Millisecond), time.UTC) }
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func decodeError(t *testing.T, b []byte) models.ErrorDetail {
	t.Helper()
	var e models.ErrorResponse
	require.NoError(t, json.Unmarshal(b, &e))
	return e.Error
}

func TestStartWithoutGrant(t *testing.T) {
	h := newHarness(t, nil)
	resp, body := h.do(t, http.MethodPost, "/v1/recording/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "need_capture_grant", decodeError(t, body).Code)
}

func TestGrantSetupStartStop(t *testing.T) {
	h := newHarness(t, nil)

	resp, _ := h.do(t, http.MethodPost, "/v1/grant", models.GrantPayload{ResultCode: session.ResultOK, Payload: json.RawMessage(`{"input":":0.0"}`)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"input":":0.0"}`, string(h.ctl.grants[0].Payload))

	resp, body := h.do(t, http.MethodPost, "/v1/recorder/setup", models.SetupRequest{VideoWidth: 1280, VideoHeight: 720})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var st models.StatusResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "prepared", st.State)
	assert.Equal(t, "/home/user/Videos/20240131_142501_70.mp4", st.OutputPath)
	assert.Equal(t, []string{st.OutputPath}, h.host.checked)
	require.NotNil(t, st.Format)
	assert.Equal(t, 1280, st.Format.VideoWidth)

	resp, body = h.do(t, http.MethodPost, "/v1/recording/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "recording", st.State)

	resp, _ = h.do(t, http.MethodPost, "/v1/recording/stop?destroy_grant=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []bool{true}, h.ctl.stops)

	resp, _ = h.do(t, http.MethodPost, "/v1/recording/stop?destroy_grant=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeniedGrant(t *testing.T) {
	h := newHarness(t, nil)
	resp, body := h.do(t, http.MethodPost, "/v1/grant", models.GrantPayload{ResultCode: 0})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "grant_denied", decodeError(t, body).Code)

	resp, _ = h.do(t, http.MethodPost, "/v1/grant", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetupFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.ctl.setupErr = &session.SetupError{Stage: "negotiate", Err: &encoders.EncoderExhaustedError{MimeType: "video/avc", Offset: 2, Available: 2}}
	resp, body := h.do(t, http.MethodPost, "/v1/recorder/setup", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	e := decodeError(t, body)
	assert.Equal(t, "setup_failed", e.Code)
	assert.Equal(t, map[string]any{"mime_type": "video/avc", "available": float64(2)}, e.Details)

	resp, body = h.do(t, http.MethodPost, "/v1/recorder/setup", models.SetupRequest{VideoCodec: "av1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeError(t, body).Message, "av1")

	h.host.spaceErr = fmt.Errorf("%w: 10 bytes free", monitor.ErrInsufficientSpace)
	resp, _ = h.do(t, http.MethodPost, "/v1/recorder/setup", nil)
	assert.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)
	assert.Len(t, h.ctl.params, 1, "setup not attempted without space")
}

func TestGrantRequest(t *testing.T) {
	h := newHarness(t, nil)
	resp, _ := h.do(t, http.MethodPost, "/v1/grant/request", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	h = newHarness(t, func(d *Deps) {
		d.Grants = fakeGrants{grant: session.CaptureGrant{ResultCode: session.ResultOK, Payload: []byte(`{}`)}}
	})
	resp, body := h.do(t, http.MethodPost, "/v1/grant/request", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st models.StatusResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.HasGrant)

	h = newHarness(t, func(d *Deps) { d.Grants = fakeGrants{grant: session.CaptureGrant{ResultCode: 0}} })
	resp, _ = h.do(t, http.MethodPost, "/v1/grant/request", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	h = newHarness(t, func(d *Deps) { d.Grants = fakeGrants{err: errors.New("no portal")} })
	resp, _ = h.do(t, http.MethodPost, "/v1/grant/request", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServiceStop(t *testing.T) {
	stopped := make(chan struct{})
	h := newHarness(t, func(d *Deps) { d.Shutdown = func() { close(stopped) } })
	resp, _ := h.do(t, http.MethodPost, "/v1/service/stop", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []bool{true}, h.ctl.stops)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("shutdown not called")
	}
}

func TestEncoders(t *testing.T) {
	reg := encoders.StaticRegistry{
		{Name: "libx264", IsEncoder: true, SupportedTypes: []string{"video/avc"}, Capabilities: map[string]encoders.TypeCapabilities{
			"video/avc": {Video: &encoders.VideoLimits{Widths: media.MustRange(16, 4096), Heights: media.MustRange(16, 2304), Bitrates: media.MustRange(1000, 1000000)}},
		}},
		{Name: "h264_nvenc", IsEncoder: true, SupportedTypes: []string{"video/avc"}, Capabilities: map[string]encoders.TypeCapabilities{
			"video/avc": {Video: &encoders.VideoLimits{Widths: media.MustRange(146, 4096), Heights: media.MustRange(50, 4096), Bitrates: media.MustRange(1000, 1000000)}},
		}},
		{Name: "aac", IsEncoder: true, SupportedTypes: []string{"audio/mp4a-latm"}, Capabilities: map[string]encoders.TypeCapabilities{
			"audio/mp4a-latm": {Audio: &encoders.AudioLimits{Bitrates: media.MustRange(8000, 512000)}},
		}},
	}
	classify := func(name string) bool { return strings.Contains(name, "nvenc") }
	h := newHarness(t, func(d *Deps) { d.Encoders = encoders.NewProber(reg, classify, nil) })

	resp, body := h.do(t, http.MethodGet, "/v1/encoders?mime=video/avc&mode=prefer_hardware", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var infos []models.EncoderInfo
	require.NoError(t, json.Unmarshal(body, &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "h264_nvenc", infos[0].Name)
	assert.True(t, infos[0].Hardware)
	assert.Equal(t, media.MustRange(16, 4096).String(), infos[1].Widths)

	resp, body = h.do(t, http.MethodGet, "/v1/encoders?mime=audio/mp4a-latm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &infos))
	require.Len(t, infos, 1)
	assert.Empty(t, infos[0].Widths)
	assert.NotEmpty(t, infos[0].BitRates)

	resp, _ = h.do(t, http.MethodGet, "/v1/encoders", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/v1/encoders?mime=video/avc&mode=fastest", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordingsHostAndMetrics(t *testing.T) {
	recs := fakeIndex{{Path: "/home/user/Videos/a.mp4", MimeType: "video/mp4"}}
	h := newHarness(t, func(d *Deps) { d.Index = recs })

	resp, body := h.do(t, http.MethodGet, "/v1/recordings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []models.Recording
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, []models.Recording(recs), got)

	resp, body = h.do(t, http.MethodGet, "/v1/host", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"hostname":"studio"`)

	resp, body = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "screen_recorder_")
}

func TestEventsOverWebsocket(t *testing.T) {
	h := newHarness(t, nil)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		h.hub.mu.RLock()
		defer h.hub.mu.RUnlock()
		return len(h.hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	h.ctl.hasGrant = true
	resp, _ := h.do(t, http.MethodPost, "/v1/recording/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.EventRecordingStarted, ev.Type)
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.EventStateChanged, ev.Type)
	assert.Equal(t, "recording", ev.State)
	assert.False(t, ev.Time.IsZero())
}

func TestHubSubscribersDropWhenSlow(t *testing.T) {
	hub := NewEventHub(nil)
	ch := hub.Subscribe()
	for i := 0; i < clientQueue+10; i++ {
		hub.NeedRecorderSetup()
	}
	assert.Len(t, ch, clientQueue)

	hub.SetupFailed(errors.New("boom"))
	hub.Unsubscribe(ch)
	hub.Unsubscribe(ch)
	hub.RecordingStopped("/a.mp4")

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, clientQueue, n)
}

func TestParameters(t *testing.T) {
	now := time.Date(2024, 1, 31, 14, 25, 1, 7*int(time.Millisecond), time.UTC)
	p, err := parameters(models.SetupRequest{}, defaults, "/out", now)
	require.NoError(t, err)
	assert.Equal(t, media.Size{Width: 1920, Height: 1080}, p.VideoSize)
	assert.Equal(t, media.VideoCodecH264, p.VideoCodec)
	assert.Equal(t, media.AudioCodecAAC, p.AudioCodec)
	assert.Equal(t, "/out/20240131_142501_07.mp4", p.OutputPath)
	assert.Equal(t, media.EstimateVideoBitRate(p.VideoSize, 30, 1), p.VideoBitRate)
	assert.True(t, p.HasAudio())

	zero := 0
	p, err = parameters(models.SetupRequest{VideoCodec: "vp8", AudioChannels: &zero, VideoBitRate: 2_000_000, OutputPath: "/tmp/x.webm"}, defaults, "/out", now)
	require.NoError(t, err)
	assert.False(t, p.HasAudio())
	assert.Equal(t, 2_000_000, p.VideoBitRate)
	assert.Equal(t, "/tmp/x.webm", p.OutputPath)

	p, err = parameters(models.SetupRequest{VideoCodec: "vp8"}, defaults, "/out", now)
	require.NoError(t, err)
	assert.Equal(t, "/out/20240131_142501_07.webm", p.OutputPath)

	_, err = parameters(models.SetupRequest{AudioSource: "line_in"}, defaults, "/out", now)
	assert.ErrorIs(t, err, media.ErrUnknownCodec)
}
