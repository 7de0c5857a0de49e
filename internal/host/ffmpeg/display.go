package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"screen-recorder/internal/media"
	"screen-recorder/internal/session"
)

// CaptureTarget is what a capture grant points ffmpeg at. Grants carry it
// JSON encoded in their payload; empty fields fall back to the issuer
// defaults.
type CaptureTarget struct {
	InputFormat   string `json:"input_format,omitempty"`
	Input         string `json:"input,omitempty"`
	PortalSession string `json:"portal_session,omitempty"`
	NodeID        uint32 `json:"node_id,omitempty"`
}

func (t CaptureTarget) merge(o CaptureTarget) CaptureTarget {
	if o.InputFormat != "" {
		t.InputFormat = o.InputFormat
	}
	if o.Input != "" {
		t.Input = o.Input
	}
	if o.PortalSession != "" {
		t.PortalSession = o.PortalSession
	}
	if o.NodeID != 0 {
		t.NodeID = o.NodeID
	}
	return t
}

// Payload encodes the target for a capture grant.
func (t CaptureTarget) Payload() []byte {
	b, _ := json.Marshal(t)
	return b
}

// SessionWatcher follows the lifetime of a desktop portal session.
type SessionWatcher interface {
	Watch(session string, onClosed func()) (cancel func(), err error)
	Close(session string) error
}

// Issuer turns capture grants into projections.
type Issuer struct {
	defaults CaptureTarget
	watcher  SessionWatcher
	logger   zerolog.Logger
}

// NewIssuer creates an issuer. watcher may be nil when no portal is used,
// in which case projections are never revoked by the desktop.
func NewIssuer(defaults CaptureTarget, watcher SessionWatcher, logger *zerolog.Logger) *Issuer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "projection").Logger()
	}
	return &Issuer{defaults: defaults, watcher: watcher, logger: l}
}

func (i *Issuer) Issue(g session.CaptureGrant) (session.Projection, error) {
	if !g.Granted() {
		return nil, session.ErrGrantDenied
	}
	target := i.defaults
	if len(g.Payload) > 0 {
		var o CaptureTarget
		if err := json.Unmarshal(g.Payload, &o); err != nil {
			return nil, fmt.Errorf("invalid grant payload: %w", err)
		}
		target = target.merge(o)
	}
	if target.Input == "" && target.NodeID != 0 {
		target.InputFormat = "lavfi"
		target.Input = fmt.Sprintf("pipewiregrab=node=%d", target.NodeID)
	}
	if target.Input == "" {
		return nil, errors.New("grant has no capture input")
	}

	p := &Projection{target: target, watcher: i.watcher, logger: i.logger}
	if target.PortalSession != "" && i.watcher != nil {
		cancel, err := i.watcher.Watch(target.PortalSession, p.closed)
		if err != nil {
			return nil, fmt.Errorf("failed to watch portal session: %w", err)
		}
		p.cancelWatch = cancel
	}
	i.logger.Info().Str("input_format", target.InputFormat).Str("input", target.Input).Msg("projection issued")
	return p, nil
}

// Projection is a live grant to capture one screen input.
type Projection struct {
	target      CaptureTarget
	watcher     SessionWatcher
	logger      zerolog.Logger
	cancelWatch func()

	mu        sync.Mutex
	onRevoked func()
	stopped   bool
}

// Target returns the capture input this projection reads from.
func (p *Projection) Target() CaptureTarget { return p.target }

func (p *Projection) RegisterRevocation(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRevoked = fn
}

func (p *Projection) UnregisterRevocation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRevoked = nil
}

// closed runs when the desktop ends the portal session.
func (p *Projection) closed() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	fn := p.onRevoked
	p.mu.Unlock()

	p.logger.Warn().Str("portal_session", p.target.PortalSession).Msg("capture revoked by the desktop")
	if fn != nil {
		fn()
	}
}

func (p *Projection) CreateVirtualDisplay(name string, size media.Size, density int, surface session.Surface) (session.VirtualDisplay, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, errors.New("projection stopped")
	}
	if surface == nil {
		return nil, errors.New("no surface to render into")
	}
	src := session.FrameSource{
		Name:    name,
		Size:    size,
		Density: density,
		Driver:  p.target.InputFormat,
		Input:   p.target.Input,
	}
	if err := surface.Bind(src); err != nil {
		return nil, fmt.Errorf("failed to bind surface: %w", err)
	}
	p.logger.Debug().Str("display", name).Stringer("size", size).Msg("virtual display created")
	return &display{surface: surface}, nil
}

func (p *Projection) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	if p.cancelWatch != nil {
		p.cancelWatch()
	}
	if p.target.PortalSession != "" && p.watcher != nil {
		return p.watcher.Close(p.target.PortalSession)
	}
	return nil
}

type display struct {
	once    sync.Once
	surface session.Surface
}

func (d *display) Release() error {
	d.once.Do(d.surface.Unbind)
	return nil
}

// LocalGrants hands out grants for a fixed capture input, for desktops
// where screen capture needs no user consent (X11, Windows, macOS).
type LocalGrants struct {
	Target CaptureTarget
}

func (l LocalGrants) RequestGrant(context.Context) (session.CaptureGrant, error) {
	if l.Target.Input == "" {
		return session.CaptureGrant{}, errors.New("no capture input configured")
	}
	return session.CaptureGrant{ResultCode: session.ResultOK, Payload: l.Target.Payload()}, nil
}
