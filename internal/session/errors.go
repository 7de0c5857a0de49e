package session

import "errors"

var (
	// ErrNeedCaptureGrant is returned by Start when no capture grant is live.
	ErrNeedCaptureGrant = errors.New("capture grant required")
	// ErrNeedRecorderSetup is returned by Start when no recorder was ever set up.
	ErrNeedRecorderSetup = errors.New("recorder setup required")
	// ErrGrantDenied is returned for capture grants carrying a denial result code.
	ErrGrantDenied = errors.New("capture grant denied")
)

// SetupError reports a failed recorder setup. The session is Idle afterwards.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return "setup recorder: " + e.Stage + ": " + e.Err.Error()
}

func (e *SetupError) Unwrap() error { return e.Err }
