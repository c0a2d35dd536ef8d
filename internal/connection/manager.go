// Package connection manages authenticated sessions to the control plane and
// to the managed vCenter endpoints: establishment, the minimum-version gate,
// and guaranteed teardown.
package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"vum-unrestrict/internal/credential"
	"vum-unrestrict/internal/errclass"
	"vum-unrestrict/internal/logging"
	"vum-unrestrict/internal/vsphere"
)

// State is the lifecycle state of a per-endpoint session
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateVersionChecking
	StateVersionOK
	StateInUse
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateVersionChecking:
		return "version-checking"
	case StateVersionOK:
		return "version-ok"
	case StateInUse:
		return "in-use"
	default:
		return "unknown"
	}
}

// Session tracks one endpoint's authenticated connection and its state
type Session struct {
	Endpoint  string
	Kind      errclass.ConnectionKind
	Handle    vsphere.SessionHandle
	transport vsphere.Transport
	state     State
}

// State returns the session's current lifecycle state
func (s *Session) State() State {
	return s.state
}

// Version returns the version string reported by the endpoint
func (s *Session) Version() string {
	if s.Handle == nil {
		return ""
	}
	return s.Handle.ReportedVersion()
}

// Manager owns every session of the run. At most one session exists per
// endpoint identity; opening a new session to an endpoint closes any previous
// one first so a stale token is never reused.
type Manager struct {
	sessions map[string]*Session
	order    []string
	logger   *logging.Logger
}

// NewManager creates a new session manager
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Connect establishes an authenticated session to the endpoint. On failure
// the endpoint returns to the disconnected state and the error is classified
// for the operator; the caller decides whether to reprompt and retry.
func (m *Manager) Connect(ctx context.Context, transport vsphere.Transport, kind errclass.ConnectionKind, endpoint string, cred credential.Credential) (*Session, error) {
	// Fresh-token invariant: close any existing session to this endpoint
	// before opening a new one.
	if _, ok := m.sessions[endpoint]; ok {
		if err := m.Disconnect(ctx, endpoint); err != nil {
			m.logger.LogSessionCloseError(endpoint, err)
		}
	}

	session := &Session{
		Endpoint:  endpoint,
		Kind:      kind,
		transport: transport,
		state:     StateConnecting,
	}

	start := time.Now()
	handle, err := transport.Open(ctx, endpoint, cred)
	if err != nil {
		session.state = StateDisconnected
		return nil, m.classifyConnectError(err, kind, endpoint, cred.Username)
	}

	session.Handle = handle
	session.state = StateConnected
	m.sessions[endpoint] = session
	m.order = append(m.order, endpoint)

	m.logger.LogSessionOpen(endpoint, handle.Principal(), handle.ReportedVersion(), time.Since(start))
	return session, nil
}

// EnforceVersionGate admits the session only when the endpoint's reported
// version is at or above the configured minimum, compared on (major, minor).
// A rejected session is closed before returning so no further operation can
// be attempted against an incompatible endpoint.
func (m *Manager) EnforceVersionGate(ctx context.Context, session *Session, minimum string) error {
	session.state = StateVersionChecking

	reported := session.Version()
	admitted, err := Admits(reported, minimum)
	if err != nil {
		m.logger.LogVersionGate(session.Endpoint, reported, minimum, false)
		if derr := m.Disconnect(ctx, session.Endpoint); derr != nil {
			m.logger.LogSessionCloseError(session.Endpoint, derr)
		}
		return errclass.NewVersionError(
			fmt.Sprintf("%s reported an unparseable version %q", session.Endpoint, reported), err)
	}

	m.logger.LogVersionGate(session.Endpoint, reported, minimum, admitted)

	if !admitted {
		if derr := m.Disconnect(ctx, session.Endpoint); derr != nil {
			m.logger.LogSessionCloseError(session.Endpoint, derr)
		}
		return errclass.NewVersionError(
			fmt.Sprintf("%s release unsupported (version %s).", session.Kind, MajorMinor(reported)), nil)
	}

	session.state = StateVersionOK
	return nil
}

// Acquire marks a version-admitted session as in use by the task
// orchestrator. Only version-ok sessions are eligible.
func (m *Manager) Acquire(session *Session) error {
	if session.state != StateVersionOK {
		return fmt.Errorf("session to %s is %s, not eligible for task invocation", session.Endpoint, session.state)
	}
	session.state = StateInUse
	return nil
}

// Disconnect closes the session to an endpoint. Idempotent: disconnecting an
// endpoint with no active session logs a notice and succeeds.
func (m *Manager) Disconnect(ctx context.Context, endpoint string) error {
	session, ok := m.sessions[endpoint]
	if !ok {
		m.logger.LogNoSession(endpoint)
		return nil
	}

	delete(m.sessions, endpoint)
	session.state = StateDisconnected

	if err := session.transport.Close(ctx, session.Handle); err != nil {
		return fmt.Errorf("failed to close session to %s: %w", endpoint, err)
	}

	m.logger.LogSessionClose(endpoint)
	return nil
}

// DisconnectAll closes every tracked session, most recent first. Per-session
// failures are logged and collected; teardown never stops on the first error.
func (m *Manager) DisconnectAll(ctx context.Context) {
	for i := len(m.order) - 1; i >= 0; i-- {
		endpoint := m.order[i]
		if _, ok := m.sessions[endpoint]; !ok {
			continue
		}
		if err := m.Disconnect(ctx, endpoint); err != nil {
			m.logger.LogSessionCloseError(endpoint, err)
		}
	}
	m.order = nil
}

// Session returns the tracked session for an endpoint, if any
func (m *Manager) Session(endpoint string) (*Session, bool) {
	session, ok := m.sessions[endpoint]
	return session, ok
}

// Count returns the number of currently tracked sessions
func (m *Manager) Count() int {
	return len(m.sessions)
}

// classifyConnectError maps a transport failure to a typed run error with
// operator-facing guidance. Typed transport errors drive the failure class;
// the free-text classifier supplies the message.
func (m *Manager) classifyConnectError(err error, kind errclass.ConnectionKind, endpoint, user string) error {
	message := errclass.Classify(err.Error(), kind, endpoint, user)

	var apiErr *vsphere.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsAuth() || apiErr.IsForbidden() {
			return errclass.NewAuthenticationError(message, err)
		}
		return errclass.NewConnectionError(message, err)
	}

	return errclass.NewConnectionError(message, err)
}

// Admits reports whether a version string satisfies the minimum, comparing
// (major, minor) only: minimum "9.0" admits "9.0" and "9.5" but rejects
// "8.9".
func Admits(version, minimum string) (bool, error) {
	v, err := parseVersion(version)
	if err != nil {
		return false, err
	}
	min, err := parseVersion(minimum)
	if err != nil {
		return false, fmt.Errorf("invalid minimum version %q: %w", minimum, err)
	}

	if v.Major() != min.Major() {
		return v.Major() > min.Major(), nil
	}
	return v.Minor() >= min.Minor(), nil
}

// MajorMinor reduces a version string to its first two dotted fields for
// operator-facing messages ("8.0.3.00100" becomes "8.0").
func MajorMinor(version string) string {
	v, err := parseVersion(version)
	if err != nil {
		return version
	}
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

// parseVersion parses product version strings leniently. vCenter reports four
// dotted fields with build suffixes ("8.0.3.00100"); only the first three are
// semver material and only the first two matter for the gate.
func parseVersion(version string) (*semver.Version, error) {
	trimmed := strings.TrimSpace(version)
	if trimmed == "" {
		return nil, fmt.Errorf("empty version string")
	}

	core := trimmed
	if i := strings.IndexAny(core, "-+ "); i >= 0 {
		core = core[:i]
	}
	fields := strings.Split(core, ".")
	if len(fields) > 3 {
		fields = fields[:3]
	}

	return semver.NewVersion(strings.Join(fields, "."))
}
