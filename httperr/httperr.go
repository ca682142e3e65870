// Package httperr carries typed domain errors through the service and maps
// them to HTTP status codes at the outermost handler boundary only. Domain
// packages never write to an http.ResponseWriter; they return an *Error.
package httperr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindAuth        Kind = "Auth"
	KindForbidden   Kind = "Forbidden"
	KindNotFound    Kind = "NotFound"
	KindConflict    Kind = "Conflict"
	KindValidation  Kind = "Validation"
	KindPolicy      Kind = "Policy"
	KindRateLimited Kind = "RateLimited"
	KindInternal    Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindAuth:        http.StatusUnauthorized,
	KindForbidden:   http.StatusForbidden,
	KindNotFound:    http.StatusNotFound,
	KindConflict:    http.StatusConflict,
	KindValidation:  http.StatusBadRequest,
	KindPolicy:      http.StatusForbidden,
	KindRateLimited: http.StatusTooManyRequests,
	KindInternal:    http.StatusInternalServerError,
}

// Error is the typed error domain packages return. Tag and Message are the
// JSON-visible surface; Resource and RetryAfter are optional extra payload
// used by specific handlers (409 with an embedded resource, 429 with a
// retry-after hint).
type Error struct {
	Kind       Kind        `json:"-"`
	Tag        string      `json:"error"`
	Message    string      `json:"message"`
	Resource   interface{} `json:"resource,omitempty"`
	RetryAfter int         `json:"retryAfter,omitempty"`
	Window     string      `json:"window,omitempty"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Tag, e.Message)
	}
	return e.Tag
}

func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type Opt func(*Error)

func WithMessage[S ~string](s S) Opt {
	return func(e *Error) { e.Message = string(s) }
}

func WithError(err error) Opt {
	return func(e *Error) {
		if err != nil {
			e.Message = err.Error()
		}
	}
}

func WithResource(r interface{}) Opt {
	return func(e *Error) { e.Resource = r }
}

func WithRetryAfter(seconds int, window string) Opt {
	return func(e *Error) { e.RetryAfter = seconds; e.Window = window }
}

func New(kind Kind, tag string, opts ...Opt) *Error {
	e := &Error{Kind: kind, Tag: tag}
	for _, o := range opts {
		o(e)
	}
	return e
}

func Auth(tag string, opts ...Opt) *Error       { return New(KindAuth, tag, opts...) }
func Forbidden(tag string, opts ...Opt) *Error  { return New(KindForbidden, tag, opts...) }
func NotFound(tag string, opts ...Opt) *Error   { return New(KindNotFound, tag, opts...) }
func Conflict(tag string, opts ...Opt) *Error   { return New(KindConflict, tag, opts...) }
func Validation(tag string, opts ...Opt) *Error { return New(KindValidation, tag, opts...) }
func Policy(tag string, opts ...Opt) *Error     { return New(KindPolicy, tag, opts...) }
func Internal(tag string, opts ...Opt) *Error   { return New(KindInternal, tag, opts...) }

func RateLimited(tag string, retryAfterSeconds int, window string, opts ...Opt) *Error {
	opts = append(opts, WithRetryAfter(retryAfterSeconds, window))
	return New(KindRateLimited, tag, opts...)
}

// As unwraps a plain error into an *Error, defaulting to Internal if it is
// not already one of ours. Call this exactly once, at the handler boundary.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return Internal("Internal", WithError(err))
}

// Write translates e to the wire and writes the JSON body + status code.
func Write(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", e.RetryAfter))
	}
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(e)
}

// WriteErr is a convenience for handlers that only have a plain error.
func WriteErr(w http.ResponseWriter, err error) {
	Write(w, As(err))
}
