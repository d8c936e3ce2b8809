package graphql

import (
	"errors"
	"fmt"
)

var (
	// ErrNoData is returned when a response carries neither errors nor data.
	ErrNoData = errors.New("no data returned from server")
	// ErrShapeMismatch is returned when a payload does not decode into the expected result type.
	ErrShapeMismatch = errors.New("unexpected response shape")
)

// TransportError covers fetch-level failures and non-2xx responses.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("network error: %v", e.Err)
	case e.Message != "":
		return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is the first entry of a non-empty errors list.
type ProtocolError struct {
	Message    string
	Extensions map[string]any
	// Count is the total number of errors the server reported.
	Count int
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// ErrorMessage returns the human-readable message of a transport or protocol error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Message
	}
	var terr *TransportError
	if errors.As(err, &terr) && terr.Message != "" {
		return terr.Message
	}
	return err.Error()
}
