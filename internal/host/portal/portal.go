// Package portal acquires screen capture grants through the
// xdg-desktop-portal ScreenCast interface.
package portal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"screen-recorder/internal/session"
)

const (
	objectName = "org.freedesktop.portal.Desktop"
	objectPath = dbus.ObjectPath("/org/freedesktop/portal/desktop")

	screenCast    = "org.freedesktop.portal.ScreenCast"
	createSession = screenCast + ".CreateSession"
	selectSources = screenCast + ".SelectSources"
	start         = screenCast + ".Start"

	requestInterface = "org.freedesktop.portal.Request"
	responseSignal   = requestInterface + ".Response"
	requestClose     = requestInterface + ".Close"

	sessionInterface = "org.freedesktop.portal.Session"
	closedSignal     = sessionInterface + ".Closed"
	sessionClose     = sessionInterface + ".Close"
)

const (
	SourceTypeMonitor uint32 = 1
	SourceTypeWindow  uint32 = 2
)

const (
	CursorModeHidden   uint32 = 1
	CursorModeEmbedded uint32 = 2
)

// Response codes of org.freedesktop.portal.Request.
const (
	responseSuccess   uint32 = 0
	responseCancelled uint32 = 1
)

// resultCanceled is the grant result code for a dialog the user dismissed.
const resultCanceled = 0

var ErrUnexpectedResponse = errors.New("unexpected response from portal")

// bus is the part of *dbus.Conn the portal uses.
type bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Names() []string
}

// Options select what the portal dialog offers.
type Options struct {
	SourceTypes uint32
	CursorMode  uint32
}

// Stream is one capture stream started by the portal.
type Stream struct {
	NodeID uint32
	Width  int32
	Height int32
}

// Portal talks to xdg-desktop-portal on the session bus.
type Portal struct {
	bus    bus
	sender string
	opts   Options
	logger zerolog.Logger

	signals chan *dbus.Signal
	done    chan struct{}

	mu       sync.Mutex
	pending  map[dbus.ObjectPath]chan *dbus.Signal
	watchers map[dbus.ObjectPath]func()
}

// New connects to the session bus.
func New(opts Options, logger *zerolog.Logger) (*Portal, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	p, err := newPortal(conn, opts, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func newPortal(b bus, opts Options, logger *zerolog.Logger) (*Portal, error) {
	names := b.Names()
	if len(names) == 0 {
		return nil, errors.New("session bus connection has no unique name")
	}
	if opts.SourceTypes == 0 {
		opts.SourceTypes = SourceTypeMonitor
	}
	if opts.CursorMode == 0 {
		opts.CursorMode = CursorModeEmbedded
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "portal").Logger()
	}
	p := &Portal{
		bus:      b,
		sender:   names[0],
		opts:     opts,
		logger:   l,
		signals:  make(chan *dbus.Signal, 16),
		done:     make(chan struct{}),
		pending:  make(map[dbus.ObjectPath]chan *dbus.Signal),
		watchers: make(map[dbus.ObjectPath]func()),
	}
	b.Signal(p.signals)
	go p.dispatch()
	return p, nil
}

// Shutdown stops signal delivery and closes the bus connection if it owns one.
func (p *Portal) Shutdown() error {
	p.bus.RemoveSignal(p.signals)
	close(p.done)
	if c, ok := p.bus.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (p *Portal) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case sig, ok := <-p.signals:
			if !ok {
				return
			}
			p.route(sig)
		}
	}
}

func (p *Portal) route(sig *dbus.Signal) {
	p.mu.Lock()
	switch sig.Name {
	case responseSignal:
		ch, ok := p.pending[sig.Path]
		p.mu.Unlock()
		if ok {
			select {
			case ch <- sig:
			default:
			}
		}
	case closedSignal:
		fn, ok := p.watchers[sig.Path]
		delete(p.watchers, sig.Path)
		p.mu.Unlock()
		if ok {
			p.logger.Info().Str("session", string(sig.Path)).Msg("portal session closed")
			go fn()
		}
	default:
		p.mu.Unlock()
	}
}

// RequestGrant runs the ScreenCast dialog flow. A dismissed dialog yields a
// denied grant rather than an error.
func (p *Portal) RequestGrant(ctx context.Context) (session.CaptureGrant, error) {
	status, results, err := p.request(ctx, objectPath, createSession, map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(newToken()),
	})
	if err != nil {
		return session.CaptureGrant{}, fmt.Errorf("CreateSession: %w", err)
	}
	if status != responseSuccess {
		return p.notGranted(status, "")
	}
	handle, ok := results["session_handle"].Value().(string)
	if !ok || handle == "" {
		return session.CaptureGrant{}, fmt.Errorf("CreateSession: %w: no session handle", ErrUnexpectedResponse)
	}
	sessionPath := dbus.ObjectPath(handle)

	granted := false
	defer func() {
		if !granted {
			_ = p.Close(string(sessionPath))
		}
	}()

	status, _, err = p.request(ctx, objectPath, selectSources, map[string]dbus.Variant{
		"types":       dbus.MakeVariant(p.opts.SourceTypes),
		"cursor_mode": dbus.MakeVariant(p.opts.CursorMode),
	}, sessionPath)
	if err != nil {
		return session.CaptureGrant{}, fmt.Errorf("SelectSources: %w", err)
	}
	if status != responseSuccess {
		return p.notGranted(status, sessionPath)
	}

	status, results, err = p.request(ctx, objectPath, start, map[string]dbus.Variant{}, sessionPath, "")
	if err != nil {
		return session.CaptureGrant{}, fmt.Errorf("Start: %w", err)
	}
	if status != responseSuccess {
		return p.notGranted(status, sessionPath)
	}
	streams := parseStreams(results)
	if len(streams) == 0 {
		return session.CaptureGrant{}, fmt.Errorf("Start: %w: no streams", ErrUnexpectedResponse)
	}

	payload, err := json.Marshal(grantPayload{PortalSession: handle, NodeID: streams[0].NodeID})
	if err != nil {
		return session.CaptureGrant{}, err
	}
	granted = true
	p.logger.Info().Str("session", handle).Uint32("node_id", streams[0].NodeID).
		Int32("width", streams[0].Width).Int32("height", streams[0].Height).Msg("screen capture granted")
	return session.CaptureGrant{ResultCode: session.ResultOK, Payload: payload}, nil
}

type grantPayload struct {
	PortalSession string `json:"portal_session"`
	NodeID        uint32 `json:"node_id"`
}

func (p *Portal) notGranted(status uint32, sessionPath dbus.ObjectPath) (session.CaptureGrant, error) {
	if status == responseCancelled {
		p.logger.Info().Str("session", string(sessionPath)).Msg("screen capture dialog dismissed")
		return session.CaptureGrant{ResultCode: resultCanceled}, nil
	}
	return session.CaptureGrant{}, fmt.Errorf("portal request ended with status %d", status)
}

// request calls a portal method returning a Request handle and waits for its
// Response signal. The subscription is made before the call so the response
// cannot be missed.
func (p *Portal) request(ctx context.Context, path dbus.ObjectPath, method string, options map[string]dbus.Variant, args ...any) (uint32, map[string]dbus.Variant, error) {
	token := newToken()
	options["handle_token"] = dbus.MakeVariant(token)
	expected := requestPath(p.sender, token)

	ch := make(chan *dbus.Signal, 1)
	unwatch, err := p.awaitResponse(expected, ch)
	if err != nil {
		return 0, nil, err
	}
	defer unwatch()

	call := p.bus.Object(objectName, path).CallWithContext(ctx, method, 0, append(args, options)...)
	if call.Err != nil {
		return 0, nil, call.Err
	}
	var handle dbus.ObjectPath
	if err := call.Store(&handle); err != nil {
		return 0, nil, err
	}
	if handle != expected {
		// portals older than 0.9 pick their own request path
		unwatchHandle, err := p.awaitResponse(handle, ch)
		if err != nil {
			return 0, nil, err
		}
		defer unwatchHandle()
	}

	select {
	case sig := <-ch:
		return decodeResponse(sig)
	case <-ctx.Done():
		_ = p.bus.Object(objectName, handle).CallWithContext(context.Background(), requestClose, 0).Err
		return 0, nil, ctx.Err()
	}
}

func (p *Portal) awaitResponse(path dbus.ObjectPath, ch chan *dbus.Signal) (func(), error) {
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(requestInterface),
		dbus.WithMatchMember("Response"),
	}
	if err := p.bus.AddMatchSignal(match...); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.pending[path] = ch
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.pending, path)
		p.mu.Unlock()
		_ = p.bus.RemoveMatchSignal(match...)
	}, nil
}

// Watch calls onClosed once when the portal closes the session.
func (p *Portal) Watch(sessionHandle string, onClosed func()) (func(), error) {
	path := dbus.ObjectPath(sessionHandle)
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(sessionInterface),
		dbus.WithMatchMember("Closed"),
	}
	if err := p.bus.AddMatchSignal(match...); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.watchers[path] = onClosed
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.watchers, path)
		p.mu.Unlock()
		_ = p.bus.RemoveMatchSignal(match...)
	}, nil
}

// Close ends a portal session.
func (p *Portal) Close(sessionHandle string) error {
	return p.bus.Object(objectName, dbus.ObjectPath(sessionHandle)).
		CallWithContext(context.Background(), sessionClose, 0).Err
}

func decodeResponse(sig *dbus.Signal) (uint32, map[string]dbus.Variant, error) {
	if len(sig.Body) != 2 {
		return 0, nil, ErrUnexpectedResponse
	}
	status, ok := sig.Body[0].(uint32)
	if !ok {
		return 0, nil, ErrUnexpectedResponse
	}
	results, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return 0, nil, ErrUnexpectedResponse
	}
	return status, results, nil
}

// parseStreams decodes the a(ua{sv}) streams result of Start.
func parseStreams(results map[string]dbus.Variant) []Stream {
	v, ok := results["streams"]
	if !ok {
		return nil
	}
	var raw [][]any
	switch rs := v.Value().(type) {
	case [][]any:
		raw = rs
	case []any:
		for _, r := range rs {
			if s, ok := r.([]any); ok {
				raw = append(raw, s)
			}
		}
	}

	var streams []Stream
	for _, s := range raw {
		if len(s) < 2 {
			continue
		}
		node, ok := s[0].(uint32)
		if !ok {
			continue
		}
		stream := Stream{NodeID: node}
		if props, ok := s[1].(map[string]dbus.Variant); ok {
			if size, ok := props["size"].Value().([]any); ok && len(size) == 2 {
				stream.Width, _ = size[0].(int32)
				stream.Height, _ = size[1].(int32)
			}
		}
		streams = append(streams, stream)
	}
	return streams
}

// requestPath is where the portal publishes the Request for a handle token:
// /org/freedesktop/portal/desktop/request/SENDER/TOKEN, SENDER being the
// unique bus name without the leading colon and with dots as underscores.
func requestPath(sender, token string) dbus.ObjectPath {
	s := strings.ReplaceAll(strings.TrimPrefix(sender, ":"), ".", "_")
	return dbus.ObjectPath(fmt.Sprintf("%s/request/%s/%s", objectPath, s, token))
}

func newToken() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return "screenrec" + hex.EncodeToString(b)
}
