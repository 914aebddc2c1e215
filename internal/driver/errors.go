package driver

import (
	"errors"
	"fmt"
)

// Result is a driver status code. Values follow CUresult.
type Result int32

const (
	Success                   Result = 0
	ErrorInvalidValue         Result = 1
	ErrorOutOfMemory          Result = 2
	ErrorNotInitialized       Result = 3
	ErrorNoDevice             Result = 100
	ErrorInvalidDevice        Result = 101
	ErrorInvalidImage         Result = 200
	ErrorInvalidContext       Result = 201
	ErrorNoBinaryForGPU       Result = 209
	ErrorInvalidHandle        Result = 400
	ErrorNotFound             Result = 500
	ErrorLaunchOutOfResources Result = 701
	ErrorNotSupported         Result = 801
	ErrorUnknown              Result = 999
)

// Error is a failed driver call.
type Error struct {
	Op      string
	Code    Result
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: driver error %d", e.Op, int32(e.Code))
	}
	return fmt.Sprintf("%s: driver error %d: %s", e.Op, int32(e.Code), e.Message)
}

// NewError returns nil for Success and an *Error otherwise.
func NewError(op string, code Result, msg string) error {
	if code == Success {
		return nil
	}
	return &Error{Op: op, Code: code, Message: msg}
}

// Code extracts the driver status from err, or Success when err carries none.
func Code(err error) Result {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return Success
}

// IsNotFound reports whether err is a driver "symbol not found" failure.
func IsNotFound(err error) bool {
	return err != nil && Code(err) == ErrorNotFound
}
