package fs

import (
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/electricimp/SPIFlashFileSystem/flash"
)

// ErrCode is one of the stable error identifiers from spec.md §6. Callers
// are expected to match on Code, never on Error()'s human-readable text
// (spec.md §7).
type ErrCode string

const (
	ErrFileOpen               ErrCode = "FILE_OPEN"
	ErrFileClosed             ErrCode = "FILE_CLOSED"
	ErrFileNotFound           ErrCode = "FILE_NOT_FOUND"
	ErrFileExists             ErrCode = "FILE_EXISTS"
	ErrFileWriteR             ErrCode = "FILE_WRITE_R"
	ErrUnknownMode            ErrCode = "UNKNOWN_MODE"
	ErrValidation             ErrCode = "VALIDATION"
	ErrInvalidSPIFlashAddress ErrCode = "INVALID_SPIFLASH_ADDRESS"
	ErrInvalidWriteData       ErrCode = "INVALID_WRITE_DATA"
	ErrNoFreeSpace            ErrCode = "NO_FREE_SPACE"
	ErrInvalidFilename        ErrCode = "INVALID_FILENAME"
	ErrInvalidParameters      ErrCode = "INVALID_PARAMETERS"
)

// Error is the typed error every public operation returns on failure. It
// wraps an ErrCode plus, where the failure originated below this module
// (a flash verify mismatch, for instance), the causing error via
// github.com/pkg/errors so the chain is inspectable with errors.Cause
// without losing the stable Code callers switch on.
type Error struct {
	Code  ErrCode
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Code) + ": " + e.cause.Error()
	}
	return string(e.Code)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Code, so callers
// can write errors.Is(err, fs.NewError(fs.ErrFileNotFound)) ergonomically, or
// more simply compare fs.CodeOf(err) == fs.ErrFileNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError builds a bare Error with the given code.
func NewError(code ErrCode) *Error {
	return &Error{Code: code}
}

// wrapError builds an Error with the given code, wrapping cause for
// diagnostics via github.com/pkg/errors.
func wrapError(code ErrCode, cause error) *Error {
	return &Error{Code: code, cause: errors.Wrap(cause, string(code))}
}

// wrapWriteError classifies a flash.Device.Write/EraseSector failure: a
// verify mismatch is a medium integrity fault (spec.md §7's VALIDATION),
// anything else (bounds, I/O) is INVALID_WRITE_DATA.
func wrapWriteError(cause error) *Error {
	if stderrors.Is(cause, flash.ErrVerifyFailed) {
		return wrapError(ErrValidation, cause)
	}
	return wrapError(ErrInvalidWriteData, cause)
}

// CodeOf extracts the ErrCode from err, if err is (or wraps) an *Error;
// ok is false for any other error, including nil.
func CodeOf(err error) (ErrCode, bool) {
	var fe *Error
	if stderrors.As(err, &fe) {
		return fe.Code, true
	}
	return "", false
}
