package pbx

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

var (
	// ErrRecordingNotReady is returned when the PBX keeps answering 404
	// after the retry budget is exhausted. It is distinct from a generic
	// download failure so operators can see the file never appeared.
	ErrRecordingNotReady = errors.New("pbx: recording not yet available after retries")

	// ErrAuthFailed is returned when the PBX rejects the login credentials.
	ErrAuthFailed = errors.New("pbx: authentication failed")
)

// ConnectivityCategory is an operator-facing classification of a transport
// level failure.
type ConnectivityCategory string

const (
	CategoryTimeout     ConnectivityCategory = "timeout"
	CategoryRefused     ConnectivityCategory = "refused"
	CategoryUnreachable ConnectivityCategory = "unreachable"
	CategoryReset       ConnectivityCategory = "reset"
	CategoryCertExpired ConnectivityCategory = "cert-expired"
	CategorySelfSigned  ConnectivityCategory = "self-signed"
	CategoryUnknown     ConnectivityCategory = "network-error"
)

// ConnectivityError wraps a transport failure with its category.
type ConnectivityError struct {
	Category ConnectivityCategory
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("pbx: %s: %v", e.Category, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Classify maps a transport-level error to a human-readable category.
func Classify(err error) *ConnectivityError {
	cat := CategoryUnknown

	var certErr x509.CertificateInvalidError
	var unknownAuthority x509.UnknownAuthorityError
	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err):
		cat = CategoryTimeout
	case errors.As(err, &certErr) && certErr.Reason == x509.Expired:
		cat = CategoryCertExpired
	case errors.As(err, &unknownAuthority):
		cat = CategorySelfSigned
	case errors.Is(err, syscall.ECONNREFUSED):
		cat = CategoryRefused
	case errors.Is(err, syscall.ECONNRESET):
		cat = CategoryReset
	case errors.As(err, &dnsErr) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH):
		cat = CategoryUnreachable
	case errors.As(err, &netErr) && netErr.Timeout():
		cat = CategoryTimeout
	case strings.Contains(err.Error(), "certificate has expired"):
		cat = CategoryCertExpired
	case strings.Contains(err.Error(), "self-signed") || strings.Contains(err.Error(), "unknown authority"):
		cat = CategorySelfSigned
	}

	return &ConnectivityError{Category: cat, Err: err}
}

// StatusError reports a terminal non-2xx PBX response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("pbx: unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("pbx: unexpected status %d", e.StatusCode)
}
