package plc

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
)

// ErrRemote is a sentinel for use with errors.Is to check whether any error in
// a chain is a *RemoteError.
var ErrRemote = &RemoteError{}

// Marshaling failures. They are wrapped in a *MarshalError and can be matched
// with errors.Is.
var (
	ErrTypeMismatch    = errors.New("value does not match the declared type")
	ErrNotAnArray      = errors.New("value is not an array")
	ErrRaggedArray     = errors.New("array is not rectangular")
	ErrRowOutOfRange   = errors.New("result row out of range")
	ErrMultiColumn     = errors.New("functions returning multiple columns are not supported")
	ErrUnsupportedType = errors.New("type cannot be marshaled")
	ErrShortBuffer     = errors.New("wire buffer too short")
)

// Transport failures.
var (
	// ErrChannelClosed reports an orderly close of the channel at a message
	// boundary.
	ErrChannelClosed = errors.New("plc: channel closed")
	// ErrUnhandledMessage reports a message kind the receiver does not
	// expect in its current state.
	ErrUnhandledMessage = errors.New("unhandled message")
)

// RemoteError is an exception raised by the function body inside the
// runtime. It terminates the call; the session stays usable.
type RemoteError struct {
	Type       string // e.g. "ValueError", "RuntimeError"
	Message    string
	Stacktrace string
}

func (e *RemoteError) Error() string {
	if e.Stacktrace == "" {
		return fmt.Sprintf("exception occurred: %s", e.Message)
	}
	return fmt.Sprintf("exception occurred: \n %s \n %s", e.Message, e.Stacktrace)
}

// Is supports errors.Is by matching any *RemoteError target.
func (e *RemoteError) Is(target error) bool {
	_, ok := target.(*RemoteError)
	return ok
}

// TransportError is a failure to send or receive a message, or a message
// that arrived in a state where it cannot be handled.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("plc: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MarshalError is a failure to convert a value between its native and its
// wire form.
type MarshalError struct {
	Op   string // "encode", "decode", "consume"
	Kind Kind
	Err  error
}

func (e *MarshalError) Error() string {
	if e.Kind == KindInvalid {
		return fmt.Sprintf("plc: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("plc: %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *MarshalError) Unwrap() error { return e.Err }

func marshalErr(op string, kind Kind, err error) *MarshalError {
	return &MarshalError{Op: op, Kind: kind, Err: err}
}

// ResourceError reports that no session could be found or started for a
// container.
type ResourceError struct {
	Container string
	Err       error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("plc: container %q: %v", e.Container, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// stackFrame represents a single frame in a Go stack trace.
type stackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// errorExtra is the JSON structure written to plc.log_extra for exception
// messages.
type errorExtra struct {
	ExceptionType    string       `json:"exception_type"`
	ExceptionMessage string       `json:"exception_message"`
	Traceback        string       `json:"traceback"`
	Frames           []stackFrame `json:"frames,omitempty"`
}

// exceptionFromError builds an exception message from an error raised in the
// runtime. Stack traces are captured only when debug is set.
func exceptionFromError(err error, debug bool) *Exception {
	errType := fmt.Sprintf("%T", err)
	var remote *RemoteError
	if errors.As(err, &remote) {
		return &Exception{Type: remote.Type, Message: remote.Message, Stacktrace: remote.Stacktrace}
	}
	exc := &Exception{Type: errType, Message: err.Error()}
	if debug {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		exc.Stacktrace = string(buf[:n])
	}
	return exc
}

// buildErrorExtra creates the JSON string for plc.log_extra from an exception.
func buildErrorExtra(exc *Exception) string {
	var frames []stackFrame
	pcs := make([]uintptr, 10)
	n := runtime.Callers(3, pcs)
	if n > 0 && exc.Stacktrace != "" {
		callersFrames := runtime.CallersFrames(pcs[:n])
		for count := 0; count < 5; count++ {
			frame, more := callersFrames.Next()
			frames = append(frames, stackFrame{
				File:     frame.File,
				Line:     frame.Line,
				Function: frame.Function,
			})
			if !more {
				break
			}
		}
	}

	extra := errorExtra{
		ExceptionType:    exc.Type,
		ExceptionMessage: exc.Message,
		Traceback:        exc.Stacktrace,
		Frames:           frames,
	}
	data, _ := json.Marshal(extra)
	return string(data)
}

// parseErrorExtra is the inverse of buildErrorExtra. Malformed extras leave
// the exception with only its message.
func parseErrorExtra(raw string, exc *Exception) {
	if raw == "" {
		return
	}
	var extra errorExtra
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return
	}
	exc.Type = extra.ExceptionType
	exc.Stacktrace = extra.Traceback
}
