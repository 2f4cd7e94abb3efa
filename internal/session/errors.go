package session

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineRequired indicates a session was built without a backend.
	ErrEngineRequired = errors.New("engine is required")
	// ErrMessageTooLong indicates a single history message can never fit
	// in the context window; no truncation can recover from this.
	ErrMessageTooLong = errors.New("message will never fit in context window")
	// ErrNoSuchFunction indicates the model called an undefined function.
	ErrNoSuchFunction = errors.New("no such function")
	// ErrUnsupportedVersion indicates a saved session with an unknown
	// format version.
	ErrUnsupportedVersion = errors.New("unsupported saved session version")
)

// CallError wraps a failure while resolving or invoking a function call.
// Retry reports whether the model may attempt to self-correct; it is true
// for unknown function names and follows the function's AutoRetry policy
// for handler errors.
type CallError struct {
	FunctionName string
	Retry        bool
	Unknown      bool
	Err          error
}

func (e *CallError) Error() string {
	return e.Err.Error()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func newNoSuchFunctionError(name string) *CallError {
	return &CallError{
		FunctionName: name,
		Retry:        true,
		Unknown:      true,
		Err:          fmt.Errorf("%w: %s", ErrNoSuchFunction, name),
	}
}

func newWrappedCallError(name string, retry bool, err error) *CallError {
	return &CallError{
		FunctionName: name,
		Retry:        retry,
		Err:          err,
	}
}
