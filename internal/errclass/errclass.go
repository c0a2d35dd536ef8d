// Package errclass provides error classification and exit-code handling for
// vum-unrestrict.
package errclass

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ExitCode is the process exit code associated with a failure class, so that
// calling automation can branch on the kind of failure.
type ExitCode int

const (
	ExitOK              ExitCode = 0
	ExitOperationFailed ExitCode = 1
	ExitParameter       ExitCode = 2
	ExitConnection      ExitCode = 3
	ExitAuthentication  ExitCode = 4
	ExitNotFound        ExitCode = 5
	ExitTaskFailed      ExitCode = 6
	ExitConfiguration   ExitCode = 7
	ExitPrecondition    ExitCode = 8
	ExitUserCancelled   ExitCode = 9
	ExitVersion         ExitCode = 10
)

// String returns a string representation of the exit code class
func (c ExitCode) String() string {
	switch c {
	case ExitOK:
		return "ok"
	case ExitOperationFailed:
		return "operation-failed"
	case ExitParameter:
		return "parameter"
	case ExitConnection:
		return "connection"
	case ExitAuthentication:
		return "authentication"
	case ExitNotFound:
		return "not-found"
	case ExitTaskFailed:
		return "task-failed"
	case ExitConfiguration:
		return "configuration"
	case ExitPrecondition:
		return "precondition"
	case ExitUserCancelled:
		return "user-cancelled"
	case ExitVersion:
		return "version"
	default:
		return "unknown"
	}
}

// RunError wraps an error with its failure class
type RunError struct {
	Code     ExitCode
	Message  string
	Original error
}

// Error implements the error interface
func (e *RunError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Original != nil {
		return e.Original.Error()
	}
	return "unknown error"
}

// Unwrap returns the original error for error unwrapping
func (e *RunError) Unwrap() error {
	return e.Original
}

// NewParameterError creates a new parameter error
func NewParameterError(message string, original error) *RunError {
	return &RunError{Code: ExitParameter, Message: message, Original: original}
}

// NewConnectionError creates a new connection error
func NewConnectionError(message string, original error) *RunError {
	return &RunError{Code: ExitConnection, Message: message, Original: original}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(message string, original error) *RunError {
	return &RunError{Code: ExitAuthentication, Message: message, Original: original}
}

// NewNotFoundError creates a new resource-not-found error
func NewNotFoundError(message string, original error) *RunError {
	return &RunError{Code: ExitNotFound, Message: message, Original: original}
}

// NewOperationError creates a new operation-failed error
func NewOperationError(message string, original error) *RunError {
	return &RunError{Code: ExitOperationFailed, Message: message, Original: original}
}

// NewTaskError creates a new task-failed error
func NewTaskError(message string, original error) *RunError {
	return &RunError{Code: ExitTaskFailed, Message: message, Original: original}
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(message string, original error) *RunError {
	return &RunError{Code: ExitConfiguration, Message: message, Original: original}
}

// NewPreconditionError creates a new precondition error
func NewPreconditionError(message string, original error) *RunError {
	return &RunError{Code: ExitPrecondition, Message: message, Original: original}
}

// NewUserCancelledError creates a new user-cancelled error
func NewUserCancelledError(message string) *RunError {
	return &RunError{Code: ExitUserCancelled, Message: message}
}

// NewVersionError creates a new version error
func NewVersionError(message string, original error) *RunError {
	return &RunError{Code: ExitVersion, Message: message, Original: original}
}

// CodeFor determines the process exit code for an error
func CodeFor(err error) ExitCode {
	if err == nil {
		return ExitOK
	}

	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Code
	}

	// Unknown errors are treated as parameter errors for safety
	return ExitParameter
}

// ConnectionKind identifies which side of the system a remote call targeted
type ConnectionKind string

const (
	// KindControlPlane is the cluster-management control plane (SDDC Manager)
	KindControlPlane ConnectionKind = "SDDC Manager"

	// KindTarget is an individual managed vCenter endpoint
	KindTarget ConnectionKind = "vCenter"
)

// signature is one entry of the ordered classification table. Most specific
// signatures come first; the generic cleanup fallback applies when nothing
// matches.
type signature struct {
	keywords []string
	message  func(kind ConnectionKind, target, user string) string
}

var signatures = []signature{
	{
		keywords: []string{"identity_unauthorized_entity"},
		message: func(kind ConnectionKind, target, user string) string {
			if user != "" {
				return fmt.Sprintf("user %s is not authorized to call the %s API on %s; verify the account's role assignment", user, kind, target)
			}
			return fmt.Sprintf("the account is not authorized to call the %s API on %s; verify the account's role assignment", kind, target)
		},
	},
	{
		keywords: []string{"incorrect user name or password", "invalid credentials", "authentication failed", "login incorrect", "unauthorized", "401"},
		message: func(kind ConnectionKind, target, user string) string {
			return fmt.Sprintf("the user name or password supplied for %s %s is incorrect", kind, target)
		},
	},
	{
		keywords: []string{"no such host", "name or service not known", "could not resolve", "server misbehaving"},
		message: func(kind ConnectionKind, target, user string) string {
			return fmt.Sprintf("the name %s could not be resolved; verify the FQDN and your DNS configuration", target)
		},
	},
	{
		keywords: []string{"unsupported protocol scheme", "missing protocol scheme", "invalid url", "invalid port"},
		message: func(kind ConnectionKind, target, user string) string {
			return fmt.Sprintf("the endpoint address %s is malformed; supply a bare FQDN without scheme or path", target)
		},
	},
	{
		keywords: []string{"invalid character '<'", "unexpected content type", "not valid json"},
		message: func(kind ConnectionKind, target, user string) string {
			return fmt.Sprintf("%s did not return a %s API response; verify the endpoint is a %s and not a proxy or web server", target, kind, kind)
		},
	},
	{
		keywords: []string{"x509:", "certificate", "tls handshake"},
		message: func(kind ConnectionKind, target, user string) string {
			return fmt.Sprintf("the TLS certificate presented by %s is not trusted; supply a CA bundle or use the insecure option", target)
		},
	},
	{
		keywords: []string{"no_permission", "permission denied", "forbidden", "403"},
		message: func(kind ConnectionKind, target, user string) string {
			if user != "" {
				return fmt.Sprintf("user %s has insufficient permission on %s %s", user, kind, target)
			}
			return fmt.Sprintf("insufficient permission on %s %s", kind, target)
		},
	},
	{
		keywords: []string{"operation_not_found", "unknown api endpoint", "404", "not found"},
		message: func(kind ConnectionKind, target, user string) string {
			return fmt.Sprintf("%s %s does not expose the capability discovery operation; it may be running an unsupported release", kind, target)
		},
	},
}

// noise stripped from unmatched raw error text before it is surfaced:
// leading timestamps and the invoking API call prefix.
var (
	timestampPattern = regexp.MustCompile(`^\[?\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?\]?\s*`)
	callNamePattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._/-]*:\s+`)
)

// Classify maps raw error text from a remote call into consistent
// operator-facing guidance. It is a pure function: same input, same output.
func Classify(raw string, kind ConnectionKind, target, user string) string {
	lowered := strings.ToLower(raw)

	for _, sig := range signatures {
		for _, keyword := range sig.keywords {
			if strings.Contains(lowered, keyword) {
				return sig.message(kind, target, user)
			}
		}
	}

	// No known signature matched: strip noise and surface what remains.
	cleaned := strings.TrimSpace(raw)
	cleaned = timestampPattern.ReplaceAllString(cleaned, "")
	cleaned = callNamePattern.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return fmt.Sprintf("could not connect to %s %s; check your connection details", kind, target)
	}
	return cleaned
}
