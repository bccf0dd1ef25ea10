package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx response from the inference engine.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

// IsClientError reports whether err is a 4xx upstream response. Retrying a
// request the upstream has already rejected cannot succeed.
func IsClientError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusBadRequest && se.Code < http.StatusInternalServerError
	}
	return false
}

// IsCancellation reports whether err stems from the caller abandoning the
// request. Deadline expiry is deliberately excluded: a timed-out attempt is
// a transient failure, not a cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsTransient reports whether err is worth retrying: anything that is
// neither a cancellation nor a client error.
func IsTransient(err error) bool {
	return err != nil && !IsCancellation(err) && !IsClientError(err)
}
