package analysis

import "fmt"

// Failure reasons.
const (
	ReasonAuth      = "auth"
	ReasonQuota     = "quota"
	ReasonMalformed = "malformed"
	ReasonEmpty     = "empty"
	ReasonAPI       = "api"
)

const maxRawLogged = 2000

// Error is a failed grading call. Raw holds the model output when there was
// one; it is kept out of Error() so callers can store the message safely.
type Error struct {
	Reason string
	Raw    string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("analysis failed (%s)", e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
