package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"screen-recorder/internal/monitor"
	"screen-recorder/internal/session"
	"screen-recorder/pkg/models"
)

// ErrNotConnected is returned when the service did not answer within the
// connect timeout.
var ErrNotConnected = errors.New("recorder service not reachable")

const (
	DefaultPollInterval   = 300 * time.Millisecond
	DefaultConnectTimeout = 15 * time.Second
)

type Options struct {
	BaseURL        string
	PollInterval   time.Duration
	ConnectTimeout time.Duration
	Logger         *zerolog.Logger
}

// Client drives a recorder service over its HTTP API.
type Client struct {
	baseURL        string
	pollInterval   time.Duration
	connectTimeout time.Duration
	httpClient     *http.Client
	probeClient    *http.Client
	logger         zerolog.Logger
}

// New creates a client with retries for commands. Connection probes are
// not retried; Connect polls instead.
func New(opts Options) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil // Silence default debug logger
	// commands are not idempotent: only retry when nothing reached the service
	retryClient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}

	probe := retryablehttp.NewClient()
	probe.RetryMax = 0
	probe.Logger = nil
	probe.HTTPClient.Timeout = 2 * time.Second

	l := zerolog.Nop()
	if opts.Logger != nil {
		l = opts.Logger.With().Str("component", "client").Logger()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		pollInterval:   opts.PollInterval,
		connectTimeout: opts.ConnectTimeout,
		httpClient:     retryClient.StandardClient(),
		probeClient:    probe.StandardClient(),
		logger:         l,
	}
}

// APIError is a non-2xx answer of the service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("recorder service: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

var codeErrors = map[string]error{
	"need_capture_grant":  session.ErrNeedCaptureGrant,
	"need_recorder_setup": session.ErrNeedRecorderSetup,
	"grant_denied":        session.ErrGrantDenied,
	"insufficient_space":  monitor.ErrInsufficientSpace,
}

// Is matches the service error codes against the session sentinels.
func (e *APIError) Is(target error) bool {
	return codeErrors[e.Code] == target && target != nil
}

// doRequest is the core HTTP request handler with error interception
func (c *Client) doRequest(ctx context.Context, hc *http.Client, method, path string, payload, response any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e models.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil {
			apiErr.Code, apiErr.Message = e.Error.Code, e.Error.Message
		}
		return apiErr
	}

	if response != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) status(ctx context.Context, method, path string, payload any) (models.StatusResponse, error) {
	var st models.StatusResponse
	err := c.doRequest(ctx, c.httpClient, method, path, payload, &st)
	return st, err
}

// Connect polls the service until it answers, the connect timeout elapses
// (ErrNotConnected) or ctx is canceled (ctx.Err()).
func (c *Client) Connect(ctx context.Context) (models.StatusResponse, error) {
	deadline := time.NewTimer(c.connectTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var st models.StatusResponse
		err := c.doRequest(ctx, c.probeClient, http.MethodGet, "/v1/status", nil, &st)
		if err == nil {
			return st, nil
		}
		if ctx.Err() != nil {
			return models.StatusResponse{}, ctx.Err()
		}
		c.logger.Debug().Err(err).Msg("service not ready")

		select {
		case <-ctx.Done():
			return models.StatusResponse{}, ctx.Err()
		case <-deadline.C:
			return models.StatusResponse{}, fmt.Errorf("%w after %s: %v", ErrNotConnected, c.connectTimeout, err)
		case <-ticker.C:
		}
	}
}

func (c *Client) Status(ctx context.Context) (models.StatusResponse, error) {
	return c.status(ctx, http.MethodGet, "/v1/status", nil)
}

func (c *Client) ConfigureGrant(ctx context.Context, grant models.GrantPayload) (models.StatusResponse, error) {
	return c.status(ctx, http.MethodPost, "/v1/grant", grant)
}

// RequestGrant asks the service to acquire a grant from the host itself.
func (c *Client) RequestGrant(ctx context.Context) (models.StatusResponse, error) {
	return c.status(ctx, http.MethodPost, "/v1/grant/request", nil)
}

func (c *Client) Setup(ctx context.Context, req models.SetupRequest) (models.StatusResponse, error) {
	return c.status(ctx, http.MethodPost, "/v1/recorder/setup", req)
}

func (c *Client) Start(ctx context.Context) (models.StatusResponse, error) {
	return c.status(ctx, http.MethodPost, "/v1/recording/start", nil)
}

func (c *Client) Stop(ctx context.Context, destroyGrant bool) (models.StatusResponse, error) {
	path := "/v1/recording/stop"
	if destroyGrant {
		path += "?destroy_grant=true"
	}
	return c.status(ctx, http.MethodPost, path, nil)
}

// StopService ends the recording, releases the grant and shuts the service down.
func (c *Client) StopService(ctx context.Context) error {
	return c.doRequest(ctx, c.httpClient, http.MethodPost, "/v1/service/stop", nil, nil)
}

func (c *Client) Encoders(ctx context.Context, mimeType, mode string) ([]models.EncoderInfo, error) {
	q := url.Values{"mime": {mimeType}}
	if mode != "" {
		q.Set("mode", mode)
	}
	var out []models.EncoderInfo
	err := c.doRequest(ctx, c.httpClient, http.MethodGet, "/v1/encoders?"+q.Encode(), nil, &out)
	return out, err
}

func (c *Client) Recordings(ctx context.Context) ([]models.Recording, error) {
	var out []models.Recording
	err := c.doRequest(ctx, c.httpClient, http.MethodGet, "/v1/recordings", nil, &out)
	return out, err
}

func (c *Client) Host(ctx context.Context) (models.HostSpecs, error) {
	var out models.HostSpecs
	err := c.doRequest(ctx, c.httpClient, http.MethodGet, "/v1/host", nil, &out)
	return out, err
}

// Toggle stops a running recording, or else acquires what is missing
// (grant, setup) and starts one.
func (c *Client) Toggle(ctx context.Context, setup models.SetupRequest) (models.StatusResponse, error) {
	st, err := c.Connect(ctx)
	if err != nil {
		return st, err
	}
	if st.State == session.StateRecording.String() {
		c.logger.Info().Msg("stopping recording")
		return c.Stop(ctx, false)
	}

	if !st.HasGrant {
		if st, err = c.RequestGrant(ctx); err != nil {
			return st, fmt.Errorf("capture grant: %w", err)
		}
	}
	if !st.Configured {
		if st, err = c.Setup(ctx, setup); err != nil {
			return st, err
		}
	}
	st, err = c.Start(ctx)
	if errors.Is(err, session.ErrNeedRecorderSetup) {
		if st, err = c.Setup(ctx, setup); err != nil {
			return st, err
		}
		st, err = c.Start(ctx)
	}
	if err == nil {
		c.logger.Info().Str("output", st.OutputPath).Msg("recording started")
	}
	return st, err
}

// Events streams session events until ctx is canceled or the connection
// drops; the channel is closed then.
func (c *Client) Events(ctx context.Context) (<-chan models.Event, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	out := make(chan models.Event, 16)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			var ev models.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
