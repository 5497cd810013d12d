// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trackbot

import (
	"errors"
	"fmt"
)

// ErrorClass tells callers how to react to an error
type ErrorClass int

const (
	// ErrorTransient errors clear up on their own; the caller may retry
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors come from bad arguments and are never queued
	ErrorInvalid
	// ErrorFatal errors stop the link; the caller must build a new one
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// ErrQueueFull means the output buffer has no room for the frame
	ErrQueueFull = errors.New("output queue full")
	// ErrStopped means the link has been stopped
	ErrStopped = errors.New("link stopped")
	// ErrFrameTooLong means an outbound frame exceeds MaxFrameSize
	ErrFrameTooLong = errors.New("frame too long")
	// ErrInvalidParameter means a command argument is out of range
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("%s.%s: %v", ce.Component, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

func classify(class ErrorClass, err error, component, operation string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err, Component: component, Operation: operation}
}

// invalidf builds an ErrorInvalid error wrapping ErrInvalidParameter
func invalidf(component, operation, format string, args ...interface{}) error {
	err := fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
	return classify(ErrorInvalid, err, component, operation)
}

// Classify returns the class of err. Unclassified errors are treated as fatal.
func Classify(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	switch {
	case errors.Is(err, ErrQueueFull):
		return ErrorTransient
	case errors.Is(err, ErrInvalidParameter), errors.Is(err, ErrFrameTooLong):
		return ErrorInvalid
	}
	return ErrorFatal
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ErrorTransient
}

// IsInvalid reports whether err was caused by a bad argument
func IsInvalid(err error) bool {
	return err != nil && Classify(err) == ErrorInvalid
}

// IsFatal reports whether err stopped the link
func IsFatal(err error) bool {
	return err != nil && Classify(err) == ErrorFatal
}
