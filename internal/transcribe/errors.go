package transcribe

import "fmt"

// Failure reasons.
const (
	ReasonAuth      = "auth"
	ReasonQuota     = "quota"
	ReasonMalformed = "malformed"
	ReasonEmpty     = "empty"
	ReasonAPI       = "api"
)

// Error is a failed transcription. Segment is the zero-based index of the
// failing segment, or -1 when the failure concerns the merged result.
type Error struct {
	Reason   string
	Provider string
	Segment  int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("transcription failed (%s)", e.Reason)
	if e.Provider != "" {
		msg += " provider=" + e.Provider
	}
	if e.Segment >= 0 {
		msg += fmt.Sprintf(" segment=%d", e.Segment)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
