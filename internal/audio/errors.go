package audio

import "fmt"

// FetchError reports a failure to resolve an audio reference to a local file.
type FetchError struct {
	Ref        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch audio %s: http status %d", e.Ref, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch audio %s: %v", e.Ref, e.Err)
	default:
		return fmt.Sprintf("fetch audio %s", e.Ref)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizationError reports a failed mandatory segmentation step.
type NormalizationError struct {
	Path string
	Err  error
}

func (e *NormalizationError) Error() string {
	if e.Err == nil {
		return "segment audio " + e.Path
	}
	return fmt.Sprintf("segment audio %s: %v", e.Path, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }
