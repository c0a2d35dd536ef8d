// Package vsphere defines the consumed remote interfaces (session transport,
// control-plane directory, long-running task API) and provides the concrete
// REST clients for SDDC Manager and vCenter endpoints.
package vsphere

import (
	"context"
	"fmt"

	"vum-unrestrict/internal/credential"
)

// SessionHandle is an authenticated connection to one endpoint
type SessionHandle interface {
	// Endpoint returns the endpoint identity (FQDN) the session is bound to
	Endpoint() string

	// Principal returns the authenticated account name
	Principal() string

	// ReportedVersion returns the version string reported by the endpoint
	ReportedVersion() string
}

// Transport establishes and tears down authenticated sessions
type Transport interface {
	// Open authenticates to the endpoint and returns a session handle
	Open(ctx context.Context, endpoint string, cred credential.Credential) (SessionHandle, error)

	// Close terminates the session
	Close(ctx context.Context, handle SessionHandle) error
}

// Grouping is one entry of the control-plane directory: a workload domain and
// the vCenter endpoint that manages it.
type Grouping struct {
	ID             string // Domain identifier, doubles as the realm identifier
	Name           string // Display name of the workload domain
	PrimaryRealm   bool   // True for the management domain
	MemberEndpoint string // FQDN of the domain's vCenter
	Health         string // Health status reported for the domain
}

// Directory enumerates workload domains from the control plane
type Directory interface {
	ListGroupings(ctx context.Context) ([]Grouping, error)
}

// TaskHandle is an opaque reference to a long-running remote operation. It is
// valid only for the session that created it and must not be polled after
// that session closes.
type TaskHandle string

// Task states reported by the remote task service. RUNNING and IN_PROGRESS
// are both in-progress spellings; anything outside the running superstate is
// treated as terminal.
const (
	TaskRunning    = "RUNNING"
	TaskInProgress = "IN_PROGRESS"
	TaskSucceeded  = "SUCCEEDED"
	TaskFailed     = "FAILED"
	TaskBlocked    = "BLOCKED"
)

// IsRunningState reports whether a task state is still in progress
func IsRunningState(state string) bool {
	return state == TaskRunning || state == TaskInProgress
}

// TaskResult is the result payload of a completed capability discovery task
type TaskResult struct {
	// HeterogeneousClusters is set when the discovery located at least one
	// heterogeneous-hardware cluster, which unrestricts the update path.
	HeterogeneousClusters bool

	// Raw retains the result payload for diagnostic logging
	Raw string
}

// TaskAPI invokes and tracks the long-running capability discovery operation
type TaskAPI interface {
	// Invoke starts the operation on the session's endpoint
	Invoke(ctx context.Context, handle SessionHandle) (TaskHandle, error)

	// Poll returns the current task state
	Poll(ctx context.Context, handle SessionHandle, task TaskHandle) (string, error)

	// Result fetches the task's result payload. Called once, after Poll
	// reports a terminal state.
	Result(ctx context.Context, handle SessionHandle, task TaskHandle) (TaskResult, error)
}

// APIError is a non-2xx response from a remote endpoint
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s returned HTTP %d", e.Endpoint, e.StatusCode)
}

// IsAuth reports whether the response indicates rejected credentials
func (e *APIError) IsAuth() bool {
	return e.StatusCode == 401
}

// IsForbidden reports whether the response indicates insufficient permission
func (e *APIError) IsForbidden() bool {
	return e.StatusCode == 403
}
