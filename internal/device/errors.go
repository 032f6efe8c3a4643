package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorType represents the category of a device error
type ErrorType int

const (
	// ErrTypeAuthentication means the device rejected the credentials or the
	// session could not be re-established after login
	ErrTypeAuthentication ErrorType = iota
	// ErrTypeCommunication means the device could not be reached or answered
	// with an unexpected status
	ErrTypeCommunication
	// ErrTypeUnknown is anything else
	ErrTypeUnknown
)

// NetworkErrorSubtype narrows down a communication error
type NetworkErrorSubtype int

const (
	NetworkErrorGeneral NetworkErrorSubtype = iota
	NetworkErrorTimeout
	NetworkErrorConnectionRefused
	NetworkErrorDNS
	NetworkErrorHostUnreachable
	NetworkErrorNetworkUnreachable
	NetworkErrorConnectionReset
	NetworkErrorHTTPStatus
)

// Sentinels matched by errors.Is against any *Error of the same type.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrCommunicationFailed  = errors.New("communication failed")
)

// ErrEmptyKey is returned by WriteValue when no key is given
var ErrEmptyKey = errors.New("empty key")

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeAuthentication:
		return "Authentication Error"
	case ErrTypeCommunication:
		return "Communication Error"
	case ErrTypeUnknown:
		return "Unknown Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is returned by every Client operation
type Error struct {
	Type           ErrorType           // Category of error
	Op             string              // Operation that failed, e.g. "fetch /PAGE115.XML"
	Message        string              // Human-readable error message
	StatusCode     int                 // HTTP status code (if applicable)
	Err            error               // Underlying error (if any)
	NetworkSubtype NetworkErrorSubtype // More specific communication error type
	Address        string              // Device address (for context)
	Retryable      bool                // Whether the next poll may succeed
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels by error type.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAuthenticationFailed:
		return e.Type == ErrTypeAuthentication
	case ErrCommunicationFailed:
		return e.Type == ErrTypeCommunication
	}
	return false
}

// ClassifyNetworkError maps a transport error onto the error taxonomy.
// Timeouts, DNS failures and connection failures are communication errors;
// anything unrecognised is unknown and keeps the cause.
func ClassifyNetworkError(err error, address string) *Error {
	if err == nil {
		return nil
	}

	var devErr *Error
	if errors.As(err, &devErr) {
		return devErr
	}

	comm := func(subtype NetworkErrorSubtype, message string) *Error {
		return &Error{
			Type:           ErrTypeCommunication,
			Message:        message,
			Err:            err,
			NetworkSubtype: subtype,
			Address:        address,
			Retryable:      true,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:    ErrTypeUnknown,
			Message: "request canceled",
			Err:     err,
			Address: address,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return comm(NetworkErrorTimeout, "request timed out")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return comm(NetworkErrorDNS, fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name))
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return comm(NetworkErrorConnectionRefused, "device refused connection")
	case errors.Is(err, syscall.EHOSTUNREACH):
		return comm(NetworkErrorHostUnreachable, "host unreachable")
	case errors.Is(err, syscall.ENETUNREACH):
		return comm(NetworkErrorNetworkUnreachable, "network unreachable")
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return comm(NetworkErrorConnectionReset, "connection reset by device")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return comm(NetworkErrorConnectionReset, "device closed the connection")
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return comm(NetworkErrorGeneral, "network error occurred")
	}

	return &Error{
		Type:    ErrTypeUnknown,
		Message: "unexpected error",
		Err:     err,
		Address: address,
	}
}

// NewAuthError creates an authentication error
func NewAuthError(op, message string) *Error {
	return &Error{
		Type:       ErrTypeAuthentication,
		Op:         op,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewStatusError creates a communication error for an unexpected HTTP status
func NewStatusError(op string, statusCode int) *Error {
	return &Error{
		Type:           ErrTypeCommunication,
		Op:             op,
		Message:        fmt.Sprintf("unexpected HTTP status %d", statusCode),
		StatusCode:     statusCode,
		NetworkSubtype: NetworkErrorHTTPStatus,
		Retryable:      statusCode >= 500,
	}
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}

// IsCommunicationError checks if an error is a communication error
func IsCommunicationError(err error) bool {
	return errors.Is(err, ErrCommunicationFailed)
}

// IsRetryable checks if the next poll might succeed where this one failed
func IsRetryable(err error) bool {
	var devErr *Error
	if errors.As(err, &devErr) {
		return devErr.Retryable
	}
	return false
}

// TroubleshootingHint returns user-facing advice for an error
func TroubleshootingHint(err error) string {
	var devErr *Error
	if !errors.As(err, &devErr) {
		return "An unexpected error occurred. Please try again."
	}

	switch devErr.Type {
	case ErrTypeAuthentication:
		return strings.Join([]string{
			"The controller rejected the login.",
			"Troubleshooting:",
			"  • Check the user name and password configured for the web interface",
			"  • Log in once through a browser to confirm the account is not locked",
			"  • Another client may be holding the only session, close it and retry",
		}, "\n")

	case ErrTypeCommunication:
		hint := []string{"Communication with the controller failed."}

		switch devErr.NetworkSubtype {
		case NetworkErrorTimeout:
			hint = append(hint, "The controller did not respond in time.",
				"Troubleshooting:",
				"  • Check that the controller is powered on and on the network",
				"  • The web server is slow under load, try a longer timeout")
		case NetworkErrorConnectionRefused:
			hint = append(hint, "The controller refused the connection.",
				"Troubleshooting:",
				"  • Verify the scheme (https is the default) and port",
				"  • The web server may be restarting, wait a minute")
		case NetworkErrorDNS:
			hint = append(hint, "Could not resolve the controller hostname.",
				"Troubleshooting:",
				"  • Use the IP address instead of the hostname",
				"  • Try 'acondctl scan' to find the controller on the LAN")
		case NetworkErrorHostUnreachable, NetworkErrorNetworkUnreachable:
			hint = append(hint, "The controller is not reachable on the network.",
				"Troubleshooting:",
				"  • Verify the controller address is correct",
				"  • Try pinging the controller: ping "+devErr.Address)
		case NetworkErrorHTTPStatus:
			hint = append(hint, fmt.Sprintf("The controller answered with HTTP %d.", devErr.StatusCode),
				"Troubleshooting:",
				"  • Check the configured page paths",
				"  • Reboot the controller if the error persists")
		default:
			hint = append(hint, "Troubleshooting:",
				"  • Check your network connection",
				"  • Verify the controller is powered on")
		}
		return strings.Join(hint, "\n")

	default:
		return "An error occurred. Please check the error message for details."
	}
}

// ShortMessage returns a concise, user-friendly error message
func ShortMessage(err error) string {
	if err == nil {
		return ""
	}

	var devErr *Error
	if !errors.As(err, &devErr) {
		return err.Error()
	}

	switch devErr.Type {
	case ErrTypeAuthentication:
		return "Login rejected by controller"
	case ErrTypeCommunication:
		switch devErr.NetworkSubtype {
		case NetworkErrorTimeout:
			return "Controller not responding (timeout)"
		case NetworkErrorConnectionRefused:
			return "Controller refused connection"
		case NetworkErrorDNS:
			return "Cannot resolve controller address"
		case NetworkErrorHostUnreachable:
			return "Controller unreachable"
		case NetworkErrorNetworkUnreachable:
			return "Network unreachable"
		case NetworkErrorHTTPStatus:
			return fmt.Sprintf("Controller error (HTTP %d)", devErr.StatusCode)
		default:
			return "Communication error"
		}
	default:
		return devErr.Message
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
