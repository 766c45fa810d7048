package models

import "errors"

// ErrorKind is a stable identifier for a class of crawl failure, independent
// of the underlying Go error type. It is attached to CrawlError entries
// (CrawlError.ErrorType) so callers can branch on failure class without
// string matching.
type ErrorKind string

const (
	ErrorKindTransport    ErrorKind = "Transport"
	ErrorKindTimeout      ErrorKind = "Timeout"
	ErrorKindPolicyDenied ErrorKind = "PolicyDenied"
	ErrorKindHTTP4xx      ErrorKind = "Http4xx"
	ErrorKindHTTP5xx      ErrorKind = "Http5xx"
	ErrorKindParseError   ErrorKind = "ParseError"
	ErrorKindBroker       ErrorKind = "BrokerError"
	ErrorKindInvalidJob   ErrorKind = "InvalidJob"
	ErrorKindUnknownJob   ErrorKind = "UnknownJob"
)

// Sentinel errors for the kinds that surface synchronously to callers
// (submit/status/cancel), following the teacher's queue.ErrNoMessage
// sentinel-error convention rather than ad hoc string matching.
var (
	ErrInvalidJob  = errors.New("invalid job")
	ErrBroker      = errors.New("broker unavailable")
	ErrUnknownJob  = errors.New("job not found")
	ErrJobNotOwned = errors.New("job not owned by this satellite")
)

// KindError wraps an error with a stable ErrorKind, supporting errors.Is
// against the sentinels above via Unwrap.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *KindError) Unwrap() error { return e.Err }

func NewKindError(kind ErrorKind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}
