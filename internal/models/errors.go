package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Sentinel errors
var (
	ErrNoCredential     = errors.New("no refresh credential configured")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrRemoteNotFound   = errors.New("remote object not found")
	ErrVaultNotFound    = errors.New("vault folder not found in remote store")
	ErrOffline          = errors.New("engine is offline")
	ErrHalted           = errors.New("engine halted after error storm; restart required")
	ErrDrainInProgress  = errors.New("pending queue drain in progress")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// RemoteOperationError wraps a failed remote store call with the operation
// that issued it.
type RemoteOperationError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteOperationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteOperationError) Unwrap() error {
	return e.Err
}

// TokenError distinguishes credential problems from network problems during
// token refresh.
type TokenError struct {
	Reason string
	Err    error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token refresh: %s: %v", e.Reason, e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err resolves to a missing remote object.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrRemoteNotFound) {
		return true
	}
	var opErr *RemoteOperationError
	return errors.As(err, &opErr) && opErr.StatusCode == 404
}

// IsNetworkError reports whether err is a transport-level failure: the
// request never produced an HTTP response. These flip the engine offline
// instead of counting toward the halt governor.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *RemoteOperationError
	if errors.As(err, &opErr) {
		if opErr.StatusCode != 0 {
			return false
		}
		return IsNetworkError(opErr.Err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
