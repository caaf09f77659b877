package errors

// Network-level helpers for classifying raw transport faults and mapping
// HTTP status codes to pipeline error codes

import (
	"context"
	stderrs "errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// IsNetTransient reports whether the root cause is a network fault that a
// later attempt may not hit again: timeouts, resets, refused connections,
// truncated bodies
func IsNetTransient(err error) bool {
	if err == nil {
		return false
	}
	root := Root(err)

	if stderrs.Is(root, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if stderrs.As(err, &ne) && ne.Timeout() {
		return true
	}
	if stderrs.Is(root, syscall.ECONNRESET) ||
		stderrs.Is(root, syscall.ECONNREFUSED) ||
		stderrs.Is(root, syscall.EPIPE) {
		return true
	}
	if stderrs.Is(root, io.ErrUnexpectedEOF) {
		return true
	}
	// Some transports flatten the cause into text before we see it
	msg := root.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF")
}

// IsTimeout reports whether err carries a timeout anywhere in its chain
func IsTimeout(err error) bool {
	if stderrs.Is(Root(err), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrs.As(err, &ne) && ne.Timeout()
}

// TransientStatus reports whether an HTTP status should be treated as
// retryable: the whole 5xx class plus 429
func TransientStatus(status int) bool {
	return status >= 500 || status == 429
}

// AuthStatus reports whether an HTTP status signals a credential problem
func AuthStatus(status int) bool {
	return status == 401 || status == 403
}
