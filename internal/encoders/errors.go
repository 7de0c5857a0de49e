package encoders

import "fmt"

// VideoConstraintError means the selected video encoder cannot realize the
// requested geometry, frame rate or bit rate. Callers move on to the next
// video encoder candidate.
type VideoConstraintError struct {
	Encoder string
	Reason  string
	Err     error
}

func (e *VideoConstraintError) Error() string {
	msg := "video constraint: " + e.Reason
	if e.Encoder != "" {
		msg += " (encoder " + e.Encoder + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VideoConstraintError) Unwrap() error { return e.Err }

// AudioConstraintError is the audio counterpart of VideoConstraintError.
type AudioConstraintError struct {
	Encoder string
	Reason  string
	Err     error
}

func (e *AudioConstraintError) Error() string {
	msg := "audio constraint: " + e.Reason
	if e.Encoder != "" {
		msg += " (encoder " + e.Encoder + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AudioConstraintError) Unwrap() error { return e.Err }

// EncoderExhaustedError means the candidate list for a mime type is shorter
// than the requested ordinal. It ends a negotiation attempt; retrying with
// the same inputs can only fail again.
type EncoderExhaustedError struct {
	MimeType  string
	Offset    int
	Available int
	Err       error
}

func (e *EncoderExhaustedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no encoders for type %s: %v", e.MimeType, e.Err)
	}
	return fmt.Sprintf("no encoders for type %s at offset %d (available %d)", e.MimeType, e.Offset, e.Available)
}

func (e *EncoderExhaustedError) Unwrap() error { return e.Err }
