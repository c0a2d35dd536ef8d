package connection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vum-unrestrict/internal/credential"
	"vum-unrestrict/internal/errclass"
	"vum-unrestrict/internal/logging"
	"vum-unrestrict/internal/vsphere"
)

type fakeHandle struct {
	endpoint  string
	principal string
	version   string
}

func (h *fakeHandle) Endpoint() string        { return h.endpoint }
func (h *fakeHandle) Principal() string       { return h.principal }
func (h *fakeHandle) ReportedVersion() string { return h.version }

// fakeTransport records opens and closes per endpoint.
type fakeTransport struct {
	version  string
	openErr  error
	closeErr error
	opens    int
	closes   int
}

func (t *fakeTransport) Open(ctx context.Context, endpoint string, cred credential.Credential) (vsphere.SessionHandle, error) {
	t.opens++
	if t.openErr != nil {
		return nil, t.openErr
	}
	return &fakeHandle{endpoint: endpoint, principal: cred.Username, version: t.version}, nil
}

func (t *fakeTransport) Close(ctx context.Context, handle vsphere.SessionHandle) error {
	t.closes++
	return t.closeErr
}

func testLogger() *logging.Logger {
	return logging.NewLoggerFromConfig("error", "text", true)
}

func cred() credential.Credential {
	return credential.Credential{Username: "operator", Secret: []byte("secret")}
}

func TestConnectTracksSession(t *testing.T) {
	manager := NewManager(testLogger())
	transport := &fakeTransport{version: "9.0.0.10000"}

	session, err := manager.Connect(context.Background(), transport, errclass.KindTarget, "vc01.corp.example", cred())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, session.State())
	assert.Equal(t, "9.0.0.10000", session.Version())
	assert.Equal(t, 1, manager.Count())

	tracked, ok := manager.Session("vc01.corp.example")
	require.True(t, ok)
	assert.Same(t, session, tracked)
}

func TestConnectReplacesExistingSession(t *testing.T) {
	manager := NewManager(testLogger())
	transport := &fakeTransport{version: "9.0.0.10000"}

	_, err := manager.Connect(context.Background(), transport, errclass.KindTarget, "vc01.corp.example", cred())
	require.NoError(t, err)

	// A second connect to the same endpoint closes the first session so the
	// old token is never reused.
	_, err = manager.Connect(context.Background(), transport, errclass.KindTarget, "vc01.corp.example", cred())
	require.NoError(t, err)
	assert.Equal(t, 2, transport.opens)
	assert.Equal(t, 1, transport.closes)
	assert.Equal(t, 1, manager.Count())
}

func TestConnectClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		openErr  error
		wantCode errclass.ExitCode
	}{
		{
			name:     "auth failure",
			openErr:  &vsphere.APIError{StatusCode: 401, Endpoint: "vc01.corp.example", Body: "Unauthorized"},
			wantCode: errclass.ExitAuthentication,
		},
		{
			name:     "forbidden",
			openErr:  &vsphere.APIError{StatusCode: 403, Endpoint: "vc01.corp.example", Body: "NO_PERMISSION"},
			wantCode: errclass.ExitAuthentication,
		},
		{
			name:     "server error",
			openErr:  &vsphere.APIError{StatusCode: 500, Endpoint: "vc01.corp.example", Body: "oops"},
			wantCode: errclass.ExitConnection,
		},
		{
			name:     "plain network error",
			openErr:  errors.New("dial tcp: lookup vc01.corp.example: no such host"),
			wantCode: errclass.ExitConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(testLogger())
			transport := &fakeTransport{openErr: tt.openErr}

			_, err := manager.Connect(context.Background(), transport, errclass.KindTarget, "vc01.corp.example", cred())
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errclass.CodeFor(err))
			assert.Zero(t, manager.Count())
		})
	}
}

func TestEnforceVersionGate(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		minimum   string
		admitted  bool
		wantMsg   string
		wantState State
	}{
		{name: "exact minimum", version: "9.0.0.10000", minimum: "9.0", admitted: true, wantState: StateVersionOK},
		{name: "above minimum minor", version: "9.5.1", minimum: "9.0", admitted: true, wantState: StateVersionOK},
		{name: "above minimum major", version: "10.0.0", minimum: "9.0", admitted: true, wantState: StateVersionOK},
		{
			name:    "below minimum major",
			version: "8.0.3.00100",
			minimum: "9.0",
			wantMsg: "vCenter release unsupported (version 8.0).",
		},
		{
			name:    "below minimum minor",
			version: "8.9.0",
			minimum: "9.0",
			wantMsg: "vCenter release unsupported (version 8.9).",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(testLogger())
			transport := &fakeTransport{version: tt.version}

			session, err := manager.Connect(context.Background(), transport, errclass.KindTarget, "vc01.corp.example", cred())
			require.NoError(t, err)

			err = manager.EnforceVersionGate(context.Background(), session, tt.minimum)
			if tt.admitted {
				require.NoError(t, err)
				assert.Equal(t, tt.wantState, session.State())
				return
			}

			require.Error(t, err)
			assert.Equal(t, errclass.ExitVersion, errclass.CodeFor(err))
			assert.Equal(t, tt.wantMsg, err.Error())
			// A rejected session is closed so nothing can use it
			assert.Zero(t, manager.Count())
			assert.Equal(t, 1, transport.closes)
		})
	}
}

func TestEnforceVersionGateNamesControlPlane(t *testing.T) {
	manager := NewManager(testLogger())
	transport := &fakeTransport{version: "4.5.0.0"}

	session, err := manager.Connect(context.Background(), transport, errclass.KindControlPlane, "sddc.corp.example", cred())
	require.NoError(t, err)

	err = manager.EnforceVersionGate(context.Background(), session, "5.2")
	require.Error(t, err)
	assert.Equal(t, errclass.ExitVersion, errclass.CodeFor(err))
	assert.Equal(t, "SDDC Manager release unsupported (version 4.5).", err.Error())
	assert.Zero(t, manager.Count())
}

func TestEnforceVersionGateUnparseable(t *testing.T) {
	manager := NewManager(testLogger())
	transport := &fakeTransport{version: "not-a-version"}

	session, err := manager.Connect(context.Background(), transport, errclass.KindTarget, "vc01.corp.example", cred())
	require.NoError(t, err)

	err = manager.EnforceVersionGate(context.Background(), session, "9.0")
	require.Error(t, err)
	assert.Equal(t, errclass.ExitVersion, errclass.CodeFor(err))
	assert.Zero(t, manager.Count())
}

func TestAcquireRequiresVersionOK(t *testing.T) {
	manager := NewManager(testLogger())
	transport := &fakeTransport{version: "9.0.0"}

	session, err := manager.Connect(context.Background(), transport, errclass.KindTarget, "vc01.corp.example", cred())
	require.NoError(t, err)

	// Connected but not yet version-checked
	assert.Error(t, manager.Acquire(session))

	require.NoError(t, manager.EnforceVersionGate(context.Background(), session, "9.0"))
	require.NoError(t, manager.Acquire(session))
	assert.Equal(t, StateInUse, session.State())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	manager := NewManager(testLogger())
	transport := &fakeTransport{version: "9.0.0"}

	_, err := manager.Connect(context.Background(), transport, errclass.KindTarget, "vc01.corp.example", cred())
	require.NoError(t, err)

	require.NoError(t, manager.Disconnect(context.Background(), "vc01.corp.example"))
	assert.Equal(t, 1, transport.closes)

	// Second disconnect succeeds without touching the transport
	require.NoError(t, manager.Disconnect(context.Background(), "vc01.corp.example"))
	assert.Equal(t, 1, transport.closes)

	// Unknown endpoints succeed too
	require.NoError(t, manager.Disconnect(context.Background(), "never-connected.corp.example"))
}

func TestDisconnectAllClosesEverySession(t *testing.T) {
	manager := NewManager(testLogger())
	good := &fakeTransport{version: "9.0.0"}
	flaky := &fakeTransport{version: "9.0.0", closeErr: errors.New("already invalidated")}

	_, err := manager.Connect(context.Background(), good, errclass.KindTarget, "vc01.corp.example", cred())
	require.NoError(t, err)
	_, err = manager.Connect(context.Background(), flaky, errclass.KindTarget, "vc02.corp.example", cred())
	require.NoError(t, err)

	manager.DisconnectAll(context.Background())

	// Teardown continues past the failing session
	assert.Zero(t, manager.Count())
	assert.Equal(t, 1, good.closes)
	assert.Equal(t, 1, flaky.closes)
}

func TestAdmits(t *testing.T) {
	tests := []struct {
		version string
		minimum string
		want    bool
		wantErr bool
	}{
		{version: "9.0.0.24000", minimum: "9.0", want: true},
		{version: "9.1.0", minimum: "9.0", want: true},
		{version: "10.0.0", minimum: "9.5", want: true},
		{version: "8.0.3.00100", minimum: "9.0", want: false},
		{version: "8.9.9", minimum: "9.0", want: false},
		{version: "9.0.0-build123", minimum: "9.0", want: true},
		{version: "", minimum: "9.0", wantErr: true},
		{version: "garbage", minimum: "9.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.version+"_vs_"+tt.minimum, func(t *testing.T) {
			got, err := Admits(tt.version, tt.minimum)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMajorMinor(t *testing.T) {
	assert.Equal(t, "8.0", MajorMinor("8.0.3.00100"))
	assert.Equal(t, "9.0", MajorMinor("9.0.0"))
	// Unparseable strings pass through untouched
	assert.Equal(t, "garbage", MajorMinor("garbage"))
}
