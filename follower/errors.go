package follower

import "fmt"

// StreamInterruption reports that the observation source failed. Frame is
// the number of frames processed before the failure.
type StreamInterruption struct {
	Frame int
	Err   error
}

func (e *StreamInterruption) Error() string {
	return fmt.Sprintf("observation stream interrupted after %d frames: %v", e.Frame, e.Err)
}

func (e *StreamInterruption) Unwrap() error {
	return e.Err
}
