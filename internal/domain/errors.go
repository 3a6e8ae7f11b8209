package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for import failures. Row-level problems are never errors;
// they are reported as row skips.
var (
	ErrNoFilesProvided      = errors.New("no files provided")
	ErrNoTransactionsParsed = errors.New("no transactions parsed")
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrParse                = errors.New("parse error")
	ErrConfigNotFound       = errors.New("custom format config not found")
	ErrPersist              = errors.New("persist failed")
)

var errorCodes = []struct {
	kind error
	code string
}{
	{ErrNoFilesProvided, "IMPORT_NO_FILES"},
	{ErrNoTransactionsParsed, "IMPORT_NO_TRANSACTIONS"},
	{ErrUnsupportedFormat, "IMPORT_UNSUPPORTED_FORMAT"},
	{ErrConfigNotFound, "IMPORT_CONFIG_NOT_FOUND"},
	{ErrParse, "IMPORT_PARSE_ERROR"},
	{ErrPersist, "IMPORT_PERSIST_FAILED"},
}

// ImportError is a file-level failure the batch records and moves past.
type ImportError struct {
	Kind     error
	Filename string
	Err      error
}

// NewImportError wraps err under kind for filename.
func NewImportError(kind error, filename string, err error) *ImportError {
	return &ImportError{Kind: kind, Filename: filename, Err: err}
}

func (e *ImportError) Error() string {
	msg := e.Kind.Error()
	switch {
	case e.Err != nil && errors.Is(e.Err, e.Kind):
		msg = e.Err.Error()
	case e.Err != nil:
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Filename != "" {
		msg = e.Filename + ": " + msg
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *ImportError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Code returns the stable failure code rendered to callers.
func (e *ImportError) Code() string {
	return ErrorCode(e.Kind)
}

// ErrorCode maps an error to its import failure code, or IMPORT_FAILED when
// it matches no known kind.
func ErrorCode(err error) string {
	var ie *ImportError
	if errors.As(err, &ie) {
		err = ie.Kind
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "IMPORT_FAILED"
}
