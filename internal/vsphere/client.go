package vsphere

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"vum-unrestrict/internal/credential"
	"vum-unrestrict/internal/logging"
)

// Options holds connection parameters shared by both client kinds
type Options struct {
	Timeout  time.Duration // Per-request timeout
	Insecure bool          // Skip TLS certificate verification
	CACert   string        // Path to a PEM bundle of additional trusted CAs
	Logger   *logging.Logger
}

// apiSession is the concrete session handle produced by the REST clients
type apiSession struct {
	endpoint  string
	principal string
	version   string
	token     string
}

func (s *apiSession) Endpoint() string        { return s.endpoint }
func (s *apiSession) Principal() string       { return s.principal }
func (s *apiSession) ReportedVersion() string { return s.version }

// restClient holds the HTTP plumbing shared by both client kinds. Like the
// session transport it wraps, it keeps the currently open session so that
// follow-up calls reuse the negotiated token.
type restClient struct {
	http    *http.Client
	logger  *logging.Logger
	session *apiSession
}

func newRESTClient(opts Options) (*restClient, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: opts.Insecure,
	}

	if opts.CACert != "" {
		pem, err := os.ReadFile(opts.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle %s: %w", opts.CACert, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s contains no usable certificates", opts.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	return &restClient{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
		logger: opts.Logger,
	}, nil
}

// do issues one JSON request. A non-2xx response becomes an *APIError carrying
// the response body; a 2xx response with a non-JSON body is rejected so that
// proxies and web servers masquerading as API endpoints are diagnosed.
func (c *restClient) do(ctx context.Context, method, url, token string, authHeader string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" && authHeader != "" {
		if authHeader == "Authorization" {
			req.Header.Set(authHeader, "Bearer "+token)
		} else {
			req.Header.Set(authHeader, token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   req.URL.Host,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out != nil {
		contentType := resp.Header.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "json") {
			return fmt.Errorf("%s returned unexpected content type %q", req.URL.Host, contentType)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("response from %s is not valid json: %w", req.URL.Host, err)
		}
	}

	return nil
}

// ControlPlaneClient talks to an SDDC Manager instance. It implements
// Transport, Directory and credential.Store.
type ControlPlaneClient struct {
	rest *restClient
}

// NewControlPlaneClient creates a client for the control-plane endpoint
func NewControlPlaneClient(opts Options) (*ControlPlaneClient, error) {
	rest, err := newRESTClient(opts)
	if err != nil {
		return nil, err
	}
	return &ControlPlaneClient{rest: rest}, nil
}

// Open authenticates to the control plane and reads its reported version
func (c *ControlPlaneClient) Open(ctx context.Context, endpoint string, cred credential.Credential) (SessionHandle, error) {
	base := "https://" + endpoint

	var tokenResp struct {
		AccessToken string `json:"accessToken"`
	}
	login := map[string]string{
		"username": cred.Username,
		"password": string(cred.Secret),
	}
	if err := c.rest.do(ctx, http.MethodPost, base+"/v1/tokens", "", "", login, &tokenResp); err != nil {
		return nil, err
	}
	login["password"] = ""

	session := &apiSession{
		endpoint:  endpoint,
		principal: cred.Username,
		token:     tokenResp.AccessToken,
	}

	var managers struct {
		Elements []struct {
			Version string `json:"version"`
		} `json:"elements"`
	}
	if err := c.rest.do(ctx, http.MethodGet, base+"/v1/sddc-managers", session.token, "Authorization", nil, &managers); err != nil {
		// A session without a readable version cannot pass the version gate;
		// invalidate the token before reporting failure so no session leaks.
		_ = c.Close(ctx, session)
		return nil, err
	}
	if len(managers.Elements) > 0 {
		session.version = managers.Elements[0].Version
	}

	c.rest.session = session
	return session, nil
}

// Close invalidates the control-plane session token
func (c *ControlPlaneClient) Close(ctx context.Context, handle SessionHandle) error {
	session, ok := handle.(*apiSession)
	if !ok {
		return fmt.Errorf("foreign session handle for %s", handle.Endpoint())
	}

	err := c.rest.do(ctx, http.MethodDelete, "https://"+session.endpoint+"/v1/tokens", session.token, "Authorization", nil, nil)
	if c.rest.session == session {
		c.rest.session = nil
	}
	return err
}

// ListGroupings enumerates workload domains and their vCenter endpoints
func (c *ControlPlaneClient) ListGroupings(ctx context.Context) ([]Grouping, error) {
	session := c.rest.session
	if session == nil {
		return nil, fmt.Errorf("not connected to the control plane")
	}

	var domains struct {
		Elements []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Type     string `json:"type"`
			Status   string `json:"status"`
			Vcenters []struct {
				FQDN string `json:"fqdn"`
			} `json:"vcenters"`
		} `json:"elements"`
	}
	url := "https://" + session.endpoint + "/v1/domains"
	if err := c.rest.do(ctx, http.MethodGet, url, session.token, "Authorization", nil, &domains); err != nil {
		return nil, err
	}

	groupings := make([]Grouping, 0, len(domains.Elements))
	for _, d := range domains.Elements {
		g := Grouping{
			ID:           d.ID,
			Name:         d.Name,
			PrimaryRealm: d.Type == "MANAGEMENT",
			Health:       d.Status,
		}
		if len(d.Vcenters) > 0 {
			g.MemberEndpoint = d.Vcenters[0].FQDN
		}
		groupings = append(groupings, g)
	}

	return groupings, nil
}

// ListCredentials reads vCenter credentials from the control-plane store.
// A 401/403 response is wrapped as credential.ErrInsufficientPermission so
// the resolver can distinguish it from an absent entry.
func (c *ControlPlaneClient) ListCredentials(ctx context.Context, scope string) ([]credential.Entry, error) {
	session := c.rest.session
	if session == nil {
		return nil, fmt.Errorf("not connected to the control plane")
	}

	var creds struct {
		Elements []struct {
			Username    string `json:"username"`
			Password    string `json:"password"`
			AccountType string `json:"accountType"`
			Resource    struct {
				ResourceID string `json:"resourceId"`
				DomainID   string `json:"domainId"`
			} `json:"resource"`
		} `json:"elements"`
	}
	url := "https://" + session.endpoint + "/v1/credentials?resourceType=VCENTER"
	if err := c.rest.do(ctx, http.MethodGet, url, session.token, "Authorization", nil, &creds); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.IsAuth() || apiErr.IsForbidden()) {
			return nil, fmt.Errorf("%w: %s", credential.ErrInsufficientPermission, apiErr.Error())
		}
		return nil, err
	}

	entries := make([]credential.Entry, 0, len(creds.Elements))
	for _, e := range creds.Elements {
		entries = append(entries, credential.Entry{
			Username:    e.Username,
			Secret:      e.Password,
			RealmID:     e.Resource.DomainID,
			GroupingID:  e.Resource.ResourceID,
			AccountType: e.AccountType,
		})
	}

	return entries, nil
}

// TargetClient talks to an individual vCenter endpoint. It implements
// Transport and TaskAPI. One client serves every target in turn; sessions are
// tracked per handle, so the client itself stays stateless across targets.
type TargetClient struct {
	rest *restClient
}

// NewTargetClient creates a client for managed vCenter endpoints
func NewTargetClient(opts Options) (*TargetClient, error) {
	rest, err := newRESTClient(opts)
	if err != nil {
		return nil, err
	}
	return &TargetClient{rest: rest}, nil
}

const sessionHeader = "vmware-api-session-id"

// discoveryPath invokes the heterogeneous-hardware cluster discovery as a
// long-running task on the vCenter automation API.
const discoveryPath = "/api/esx/settings/hardware-compatibility/heterogeneous?action=discover&vmw-task=true"

// Open authenticates to a vCenter endpoint and reads its reported version
func (c *TargetClient) Open(ctx context.Context, endpoint string, cred credential.Credential) (SessionHandle, error) {
	base := "https://" + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/session", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build session request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(cred.Username, string(cred.Secret))

	resp, err := c.rest.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read session response from %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: strings.TrimSpace(string(raw))}
	}

	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("session response from %s is not valid json: %w", endpoint, err)
	}

	session := &apiSession{
		endpoint:  endpoint,
		principal: cred.Username,
		token:     token,
	}

	var versionInfo struct {
		Version string `json:"version"`
	}
	if err := c.rest.do(ctx, http.MethodGet, base+"/api/appliance/system/version", token, sessionHeader, nil, &versionInfo); err != nil {
		// A session without a readable version cannot pass the version gate;
		// close it before reporting failure so no session leaks.
		_ = c.Close(ctx, session)
		return nil, fmt.Errorf("failed to read version from %s: %w", endpoint, err)
	}
	session.version = versionInfo.Version

	return session, nil
}

// Close terminates a vCenter session
func (c *TargetClient) Close(ctx context.Context, handle SessionHandle) error {
	session, ok := handle.(*apiSession)
	if !ok {
		return fmt.Errorf("foreign session handle for %s", handle.Endpoint())
	}
	return c.rest.do(ctx, http.MethodDelete, "https://"+session.endpoint+"/api/session", session.token, sessionHeader, nil, nil)
}

// Invoke starts the capability discovery task on the target
func (c *TargetClient) Invoke(ctx context.Context, handle SessionHandle) (TaskHandle, error) {
	session, ok := handle.(*apiSession)
	if !ok {
		return "", fmt.Errorf("foreign session handle for %s", handle.Endpoint())
	}

	var taskID string
	url := "https://" + session.endpoint + discoveryPath
	if err := c.rest.do(ctx, http.MethodPost, url, session.token, sessionHeader, nil, &taskID); err != nil {
		return "", err
	}

	return TaskHandle(taskID), nil
}

// Poll returns the current state of the discovery task
func (c *TargetClient) Poll(ctx context.Context, handle SessionHandle, task TaskHandle) (string, error) {
	session, ok := handle.(*apiSession)
	if !ok {
		return "", fmt.Errorf("foreign session handle for %s", handle.Endpoint())
	}

	var status struct {
		Status string `json:"status"`
	}
	url := "https://" + session.endpoint + "/api/cis/tasks/" + string(task)
	if err := c.rest.do(ctx, http.MethodGet, url, session.token, sessionHeader, nil, &status); err != nil {
		return "", err
	}

	return status.Status, nil
}

// Result fetches the discovery task's result payload
func (c *TargetClient) Result(ctx context.Context, handle SessionHandle, task TaskHandle) (TaskResult, error) {
	session, ok := handle.(*apiSession)
	if !ok {
		return TaskResult{}, fmt.Errorf("foreign session handle for %s", handle.Endpoint())
	}

	var payload struct {
		Result json.RawMessage `json:"result"`
	}
	url := "https://" + session.endpoint + "/api/cis/tasks/" + string(task)
	if err := c.rest.do(ctx, http.MethodGet, url, session.token, sessionHeader, nil, &payload); err != nil {
		return TaskResult{}, err
	}

	result := TaskResult{Raw: string(payload.Result)}
	if len(payload.Result) > 0 {
		var flags struct {
			HeterogeneousClusters bool `json:"heterogeneous_clusters"`
		}
		if err := json.Unmarshal(payload.Result, &flags); err == nil {
			result.HeterogeneousClusters = flags.HeterogeneousClusters
		}
	}

	return result, nil
}
