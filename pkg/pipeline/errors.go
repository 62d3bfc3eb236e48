package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies stage failures and warnings.
type ErrorKind string

const (
	KindFetch               ErrorKind = "FetchError"
	KindInvalidURL          ErrorKind = "InvalidURL"
	KindDecode              ErrorKind = "DecodeError"
	KindExtraction          ErrorKind = "ExtractionError"
	KindUnsupportedFormat   ErrorKind = "UnsupportedFormat"
	KindConversion          ErrorKind = "ConversionError"
	KindRender              ErrorKind = "RenderError"
	KindProviderUnavailable ErrorKind = "ProviderUnavailable"
	KindProviderTimeout     ErrorKind = "ProviderTimeout"
	KindDeviceUnavailable   ErrorKind = "DeviceUnavailable"
	KindUploadRejected      ErrorKind = "UploadRejected"
	KindInternal            ErrorKind = "InternalError"
	KindCancelled           ErrorKind = "Cancelled"
)

var (
	ErrFieldNotSet     = errors.New("field not set")
	ErrFieldAlreadySet = errors.New("field already set")
	ErrInvalidValue    = errors.New("invalid field value")
)

// FieldError reports a context access that violated write-once/read-after-write rules.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

// StageError is the failure carried by a Fail outcome.
type StageError struct {
	Stage  string
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *StageError) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Err.Error() != e.Detail {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error { return e.Err }
