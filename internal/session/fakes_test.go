package session

import (
	"errors"
	"sync"

	"screen-recorder/internal/media"
)

type fakeSurface struct {
	bound *FrameSource
}

func (s *fakeSurface) Bind(src FrameSource) error {
	s.bound = &src
	return nil
}

func (s *fakeSurface) Unbind() { s.bound = nil }

type fakeRecorder struct {
	cfg        *RecorderConfig
	surface    *fakeSurface
	prepareErr error
	startErr   error
	started    int
	stopped    int
	released   int
}

func (r *fakeRecorder) Prepare(cfg RecorderConfig) error {
	if r.prepareErr != nil {
		return r.prepareErr
	}
	r.cfg = &cfg
	return nil
}

func (r *fakeRecorder) Surface() Surface { return r.surface }

func (r *fakeRecorder) Start() error {
	if r.startErr != nil {
		return r.startErr
	}
	r.started++
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.stopped++
	if r.started == 0 {
		return errors.New("stop called in an invalid state")
	}
	return nil
}

func (r *fakeRecorder) Release() error {
	r.released++
	return nil
}

type fakeRecorders struct {
	made       []*fakeRecorder
	prepareErr error
	startErr   error
	err        error
}

func (f *fakeRecorders) NewRecorder() (Recorder, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := &fakeRecorder{surface: &fakeSurface{}, prepareErr: f.prepareErr, startErr: f.startErr}
	f.made = append(f.made, r)
	return r, nil
}

func (f *fakeRecorders) last() *fakeRecorder {
	if len(f.made) == 0 {
		return nil
	}
	return f.made[len(f.made)-1]
}

type fakeDisplay struct {
	size     media.Size
	released int
}

func (d *fakeDisplay) Release() error {
	d.released++
	return nil
}

type fakeProjection struct {
	mu         sync.Mutex
	revoke     func()
	stopped    int
	displays   []*fakeDisplay
	displayErr error
}

func (p *fakeProjection) RegisterRevocation(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoke = fn
}

func (p *fakeProjection) UnregisterRevocation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoke = nil
}

func (p *fakeProjection) CreateVirtualDisplay(name string, size media.Size, density int, surface Surface) (VirtualDisplay, error) {
	if p.displayErr != nil {
		return nil, p.displayErr
	}
	if err := surface.Bind(FrameSource{Name: name, Size: size, Density: density}); err != nil {
		return nil, err
	}
	d := &fakeDisplay{size: size}
	p.displays = append(p.displays, d)
	return d, nil
}

func (p *fakeProjection) Stop() error {
	p.stopped++
	return nil
}

// fire simulates the host revoking the capture.
func (p *fakeProjection) fire() {
	p.mu.Lock()
	fn := p.revoke
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeIssuer struct {
	issued []*fakeProjection
	err    error
}

func (i *fakeIssuer) Issue(grant CaptureGrant) (Projection, error) {
	if i.err != nil {
		return nil, i.err
	}
	p := &fakeProjection{}
	i.issued = append(i.issued, p)
	return p, nil
}

func (i *fakeIssuer) last() *fakeProjection {
	if len(i.issued) == 0 {
		return nil
	}
	return i.issued[len(i.issued)-1]
}

type published struct {
	path, mimeType string
}

type fakeIndex struct {
	entries []published
	err     error
}

func (x *fakeIndex) Publish(path, mimeType string) error {
	x.entries = append(x.entries, published{path, mimeType})
	return x.err
}

type recordingListener struct {
	started     int
	stopped     []string
	states      []State
	needGrant   int
	needSetup   int
	setupFailed []error
}

func (l *recordingListener) RecordingStarted()            { l.started++ }
func (l *recordingListener) RecordingStopped(path string) { l.stopped = append(l.stopped, path) }
func (l *recordingListener) StateChanged(state State)     { l.states = append(l.states, state) }
func (l *recordingListener) NeedCaptureGrant()            { l.needGrant++ }
func (l *recordingListener) NeedRecorderSetup()           { l.needSetup++ }
func (l *recordingListener) SetupFailed(err error)        { l.setupFailed = append(l.setupFailed, err) }
