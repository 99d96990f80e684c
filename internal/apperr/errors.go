// Package apperr defines the error kinds shared by the credential and
// provider layers.
//
// Every error produced by those layers wraps exactly one of the sentinels
// below (directly or through a typed error), so callers branch with
// errors.Is and logs/metrics label failures with Kind.
package apperr

import (
	"context"
	"errors"
)

var (
	// ErrMissingCredentialsFile indicates the client secrets file is unset,
	// absent or unreadable and interactive authorization cannot start.
	ErrMissingCredentialsFile = errors.New("client secrets file not found")

	// ErrNoDefaultAccount indicates no account was given and no default is set.
	ErrNoDefaultAccount = errors.New("no account specified and no default account set")

	// ErrAccountNotFound indicates the account has no stored credential.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAuthorizationDenied indicates the user or provider refused the
	// authorization or refresh (including 4xx responses from the token endpoint).
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrTransient indicates a failure that may succeed on retry.
	ErrTransient = errors.New("transient provider error")

	// ErrTimeout indicates the caller's deadline expired.
	ErrTimeout = errors.New("operation timed out")

	// ErrFileSystem indicates the credential store could not be read or written.
	ErrFileSystem = errors.New("credential store error")
)

// Kind labels for logs and metrics.
const (
	KindMissingCredentialsFile = "missing_credentials_file"
	KindNoDefaultAccount       = "no_default_account"
	KindAccountNotFound        = "account_not_found"
	KindAuthorizationDenied    = "authorization_denied"
	KindTransient              = "transient"
	KindTimeout                = "timeout"
	KindFileSystem             = "filesystem"
	KindUnknown                = "unknown"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrTimeout, KindTimeout},
	{ErrMissingCredentialsFile, KindMissingCredentialsFile},
	{ErrNoDefaultAccount, KindNoDefaultAccount},
	{ErrAccountNotFound, KindAccountNotFound},
	{ErrAuthorizationDenied, KindAuthorizationDenied},
	{ErrFileSystem, KindFileSystem},
	{ErrTransient, KindTransient},
}

// Kind returns a stable label for err. Context cancellation and deadline
// errors map to KindTimeout.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindUnknown
}

// IsFatal reports whether err must never be retried.
func IsFatal(err error) bool {
	switch Kind(err) {
	case KindMissingCredentialsFile, KindNoDefaultAccount, KindAccountNotFound,
		KindAuthorizationDenied, KindFileSystem, KindTimeout:
		return true
	}
	return false
}

// FromContext converts a context error into ErrTimeout while keeping the
// original cause in the chain. Other errors are returned unchanged.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}
