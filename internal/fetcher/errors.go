package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies fetch failures.
type Kind int

const (
	// Transient failures may succeed on a later attempt.
	Transient Kind = iota + 1
	// Permanent failures are never retried.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ErrStatus wraps non-2xx HTTP responses.
var ErrStatus = errors.New("unexpected http status")

// FetchError is returned by Fetcher.Fetch for every failed fetch.
type FetchError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s failure after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a permanent FetchError.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Permanent
}

// IsTransient reports whether err is a transient FetchError.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Transient
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// MarkPermanent lets a Backend flag a transport error that must not be retried.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// classify maps one backend attempt to nil (success) or a FetchError.
func classify(rawURL string, status int, err error) *FetchError {
	if err != nil {
		kind := Transient
		var pe permanentError
		if errors.As(err, &pe) {
			kind = Permanent
		}
		if errors.Is(err, context.Canceled) {
			kind = Transient
		}
		return &FetchError{Kind: kind, URL: rawURL, StatusCode: status, Err: err}
	}
	if status >= 200 && status < 300 {
		return nil
	}
	fe := &FetchError{
		Kind:       Permanent,
		URL:        rawURL,
		StatusCode: status,
		Err:        fmt.Errorf("%w: %d %s", ErrStatus, status, http.StatusText(status)),
	}
	switch {
	case status < 200:
		fe.Kind = Transient
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		fe.Kind = Transient
	case status >= 500:
		fe.Kind = Transient
	}
	return fe
}
