package task

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vum-unrestrict/internal/connection"
	"vum-unrestrict/internal/credential"
	"vum-unrestrict/internal/errclass"
	"vum-unrestrict/internal/logging"
	"vum-unrestrict/internal/report"
	"vum-unrestrict/internal/target"
	"vum-unrestrict/internal/vsphere"
)

type fakeHandle struct {
	endpoint string
	version  string
}

func (h *fakeHandle) Endpoint() string        { return h.endpoint }
func (h *fakeHandle) Principal() string       { return "operator" }
func (h *fakeHandle) ReportedVersion() string { return h.version }

type fakeTransport struct{}

func (t *fakeTransport) Open(ctx context.Context, endpoint string, cred credential.Credential) (vsphere.SessionHandle, error) {
	return &fakeHandle{endpoint: endpoint, version: "9.0.0"}, nil
}

func (t *fakeTransport) Close(ctx context.Context, handle vsphere.SessionHandle) error {
	return nil
}

// fakeTaskAPI walks each endpoint's task through a scripted sequence of
// states before handing out the result.
type fakeTaskAPI struct {
	states    map[string][]string
	results   map[string]vsphere.TaskResult
	invokeErr map[string]error
	pollErr   map[string]error
	resultErr map[string]error
	polls     map[string]int
}

func newFakeTaskAPI() *fakeTaskAPI {
	return &fakeTaskAPI{
		states:    make(map[string][]string),
		results:   make(map[string]vsphere.TaskResult),
		invokeErr: make(map[string]error),
		pollErr:   make(map[string]error),
		resultErr: make(map[string]error),
		polls:     make(map[string]int),
	}
}

func (a *fakeTaskAPI) Invoke(ctx context.Context, handle vsphere.SessionHandle) (vsphere.TaskHandle, error) {
	endpoint := handle.Endpoint()
	if err := a.invokeErr[endpoint]; err != nil {
		return "", err
	}
	return vsphere.TaskHandle("task-" + endpoint), nil
}

func (a *fakeTaskAPI) Poll(ctx context.Context, handle vsphere.SessionHandle, task vsphere.TaskHandle) (string, error) {
	endpoint := handle.Endpoint()
	if err := a.pollErr[endpoint]; err != nil {
		return "", err
	}

	seq := a.states[endpoint]
	i := a.polls[endpoint]
	a.polls[endpoint]++
	if i >= len(seq) {
		return seq[len(seq)-1], nil
	}
	return seq[i], nil
}

func (a *fakeTaskAPI) Result(ctx context.Context, handle vsphere.SessionHandle, task vsphere.TaskHandle) (vsphere.TaskResult, error) {
	endpoint := handle.Endpoint()
	if err := a.resultErr[endpoint]; err != nil {
		return vsphere.TaskResult{}, err
	}
	return a.results[endpoint], nil
}

func testLogger() *logging.Logger {
	return logging.NewLoggerFromConfig("error", "text", true)
}

// admitted returns a connected, version-admitted session for the endpoint.
func admitted(t *testing.T, conns *connection.Manager, endpoint string) *connection.Session {
	t.Helper()
	session, err := conns.Connect(context.Background(), &fakeTransport{}, errclass.KindTarget, endpoint,
		credential.Credential{Username: "operator", Secret: []byte("s")})
	require.NoError(t, err)
	require.NoError(t, conns.EnforceVersionGate(context.Background(), session, "9.0"))
	return session
}

func newTestOrchestrator(api vsphere.TaskAPI, conns *connection.Manager, orchestrated bool) *Orchestrator {
	return NewOrchestrator(api, conns, testLogger(), Options{
		PollInterval: time.Millisecond,
		Orchestrated: orchestrated,
		Writer:       io.Discard,
	})
}

func TestRunOperationUnrestricted(t *testing.T) {
	api := newFakeTaskAPI()
	api.states["vc01"] = []string{vsphere.TaskRunning, vsphere.TaskInProgress, vsphere.TaskSucceeded}
	api.results["vc01"] = vsphere.TaskResult{HeterogeneousClusters: true}

	conns := connection.NewManager(testLogger())
	orch := newTestOrchestrator(api, conns, false)

	rec := orch.RunOperation(context.Background(), admitted(t, conns, "vc01"), target.Target{Name: "vc01"})
	assert.Equal(t, report.StatusUnrestricted, rec.Status)
	assert.Equal(t, "Heterogeneous-hardware clusters(s) located.", rec.Message)
	assert.Equal(t, 3, api.polls["vc01"])
}

func TestRunOperationRestricted(t *testing.T) {
	api := newFakeTaskAPI()
	api.states["vc01"] = []string{vsphere.TaskSucceeded}
	api.results["vc01"] = vsphere.TaskResult{HeterogeneousClusters: false}

	conns := connection.NewManager(testLogger())
	orch := newTestOrchestrator(api, conns, false)

	rec := orch.RunOperation(context.Background(), admitted(t, conns, "vc01"), target.Target{Name: "vc01"})
	assert.Equal(t, report.StatusRestricted, rec.Status)
	assert.Equal(t, "No heterogeneous-hardware clusters(s) located.", rec.Message)
}

func TestRunOperationBlocked(t *testing.T) {
	api := newFakeTaskAPI()
	api.states["vc01"] = []string{vsphere.TaskRunning, vsphere.TaskBlocked}
	api.results["vc01"] = vsphere.TaskResult{Raw: `{"reason":"question pending"}`}

	conns := connection.NewManager(testLogger())
	orch := newTestOrchestrator(api, conns, false)

	rec := orch.RunOperation(context.Background(), admitted(t, conns, "vc01"), target.Target{Name: "vc01"})
	assert.Equal(t, report.StatusFailed, rec.Status)
	assert.Equal(t, "Capability discovery is blocked on the endpoint.", rec.Message)
}

func TestRunOperationFailedState(t *testing.T) {
	api := newFakeTaskAPI()
	api.states["vc01"] = []string{vsphere.TaskFailed}

	conns := connection.NewManager(testLogger())
	orch := newTestOrchestrator(api, conns, false)

	rec := orch.RunOperation(context.Background(), admitted(t, conns, "vc01"), target.Target{Name: "vc01"})
	assert.Equal(t, report.StatusFailed, rec.Status)
	assert.Equal(t, "Capability discovery ended in state FAILED.", rec.Message)
}

func TestRunOperationInvokeErrorSkipsPolling(t *testing.T) {
	api := newFakeTaskAPI()
	api.invokeErr["vc01"] = &vsphere.APIError{StatusCode: 404, Endpoint: "vc01", Body: "OPERATION_NOT_FOUND"}

	conns := connection.NewManager(testLogger())
	orch := newTestOrchestrator(api, conns, false)

	rec := orch.RunOperation(context.Background(), admitted(t, conns, "vc01"), target.Target{Name: "vc01"})
	assert.Equal(t, report.StatusFailed, rec.Status)
	assert.Contains(t, rec.Message, "does not expose the capability discovery operation")
	assert.Zero(t, api.polls["vc01"])
}

func TestRunOperationPollError(t *testing.T) {
	api := newFakeTaskAPI()
	api.pollErr["vc01"] = errors.New("connection reset by peer")

	conns := connection.NewManager(testLogger())
	orch := newTestOrchestrator(api, conns, false)

	rec := orch.RunOperation(context.Background(), admitted(t, conns, "vc01"), target.Target{Name: "vc01"})
	assert.Equal(t, report.StatusFailed, rec.Status)
}

func TestRunOperationResultError(t *testing.T) {
	api := newFakeTaskAPI()
	api.states["vc01"] = []string{vsphere.TaskSucceeded}
	api.resultErr["vc01"] = errors.New("connection reset by peer")

	conns := connection.NewManager(testLogger())
	orch := newTestOrchestrator(api, conns, false)

	rec := orch.RunOperation(context.Background(), admitted(t, conns, "vc01"), target.Target{Name: "vc01"})
	assert.Equal(t, report.StatusFailed, rec.Status)
}

func TestRunOperationRequiresAdmittedSession(t *testing.T) {
	api := newFakeTaskAPI()
	conns := connection.NewManager(testLogger())

	// Connected but never version-checked
	session, err := conns.Connect(context.Background(), &fakeTransport{}, errclass.KindTarget, "vc01",
		credential.Credential{Username: "operator", Secret: []byte("s")})
	require.NoError(t, err)

	orch := newTestOrchestrator(api, conns, false)
	rec := orch.RunOperation(context.Background(), session, target.Target{Name: "vc01"})
	assert.Equal(t, report.StatusFailed, rec.Status)
	assert.Zero(t, api.polls["vc01"])
}

func TestRunOperationCancelledContext(t *testing.T) {
	api := newFakeTaskAPI()
	api.states["vc01"] = []string{vsphere.TaskRunning}

	conns := connection.NewManager(testLogger())
	orch := NewOrchestrator(api, conns, testLogger(), Options{
		PollInterval: time.Hour, // the cancel must interrupt the wait
		Writer:       io.Discard,
	})

	session := admitted(t, conns, "vc01")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	done := make(chan report.Record, 1)
	go func() {
		done <- orch.RunOperation(ctx, session, target.Target{Name: "vc01"})
	}()

	select {
	case rec := <-done:
		assert.Equal(t, report.StatusFailed, rec.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not interrupt polling")
	}
}

func TestRunAllIsolatesFailures(t *testing.T) {
	api := newFakeTaskAPI()
	api.states["vc01"] = []string{vsphere.TaskSucceeded}
	api.results["vc01"] = vsphere.TaskResult{HeterogeneousClusters: true}
	api.invokeErr["vc02"] = errors.New("connection reset by peer")
	api.states["vc03"] = []string{vsphere.TaskSucceeded}
	api.results["vc03"] = vsphere.TaskResult{HeterogeneousClusters: false}

	conns := connection.NewManager(testLogger())
	orch := newTestOrchestrator(api, conns, false)

	items := []Item{
		{Session: admitted(t, conns, "vc01"), Target: target.Target{Name: "vc01"}},
		{Session: admitted(t, conns, "vc02"), Target: target.Target{Name: "vc02"}},
		{Session: admitted(t, conns, "vc03"), Target: target.Target{Name: "vc03"}},
	}

	records := orch.RunAll(context.Background(), items)
	require.Len(t, records, 3)
	assert.Equal(t, report.StatusUnrestricted, records[0].Status)
	assert.Equal(t, report.StatusFailed, records[1].Status)
	assert.Equal(t, report.StatusRestricted, records[2].Status)
}

func TestIsUnhealthy(t *testing.T) {
	for _, healthy := range []string{"", "ACTIVE", "HEALTHY", "OK", "GREEN"} {
		assert.False(t, isUnhealthy(healthy), healthy)
	}
	assert.True(t, isUnhealthy("DEGRADED"))
	assert.True(t, isUnhealthy("ERROR"))
}
