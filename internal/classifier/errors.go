package classifier

import (
	"errors"
	"fmt"
)

// ConnectionMessage is shown to users when the classifier cannot be reached.
const ConnectionMessage = "could not reach the server, try again"

// RequestFailedError is returned when the classifier answers with a non-2xx status.
type RequestFailedError struct {
	StatusCode int
	StatusText string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("Error %d: %s", e.StatusCode, e.StatusText)
}

// ConnectionError is returned when no response could be obtained.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return ConnectionMessage
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ResponseParseError is returned when a 2xx body is not the expected JSON.
type ResponseParseError struct {
	Err error
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("malformed classifier response: %v", e.Err)
}

func (e *ResponseParseError) Unwrap() error {
	return e.Err
}

// UserMessage renders err as a short notification text.
func UserMessage(err error) string {
	var reqErr *RequestFailedError
	var connErr *ConnectionError
	var parseErr *ResponseParseError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.Error()
	case errors.As(err, &connErr):
		return ConnectionMessage
	case errors.As(err, &parseErr):
		return "unexpected response from the server"
	case err == nil:
		return ""
	default:
		return ConnectionMessage
	}
}
