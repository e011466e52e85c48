// Package errs defines the error taxonomy shared by every manifest-building stage.
//
// Each failure that leaves a component is wrapped in an [Error] carrying a
// [Code], so callers (logs, HTTP responses, queue acks) can classify it without
// string matching:
//
//	E_CONFIG        - missing or invalid configuration, fatal before any work
//	E_INVALID_EVENT - invocation payload cannot be processed
//	E_INDEX_QUERY   - query or pagination failure against the record store
//	E_STORE_WRITE   - manifest record write rejected by the record store
//	E_TRANSFER      - download or upload failure against blob storage
//	E_COMBINE       - decompression or recombination of staged objects failed
//	E_STAGING       - local scratch filesystem failure (create dir, write file)
//	E_CLEANUP       - staging directory could not be removed
//
// No code is retryable inside this module: every failure is terminal for the
// table being processed.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error category.
type Code string

const (
	CodeConfig       Code = "E_CONFIG"
	CodeInvalidEvent Code = "E_INVALID_EVENT"
	CodeIndexQuery   Code = "E_INDEX_QUERY"
	CodeStoreWrite   Code = "E_STORE_WRITE"
	CodeTransfer     Code = "E_TRANSFER"
	CodeCombine      Code = "E_COMBINE"
	CodeStaging      Code = "E_STAGING"
	CodeCleanup      Code = "E_CLEANUP"
)

// Error attaches a Code to an underlying error.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with code. A nil err stays nil.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// Wrapf builds a new coded error from a format string.
func Wrapf(code Code, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the first Code found in err's chain, or "" if none.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// Is reports whether any error in err's tree carries code.
// Joined errors are searched in full, so a cleanup failure attached to a
// transfer failure matches both codes.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Code == code {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range x.Unwrap() {
			if Is(inner, code) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return Is(x.Unwrap(), code)
	}
	return false
}
