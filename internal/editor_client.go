package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/metaeditor"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	headerAPIKey    = "x-api-key"
	headerRequestID = "X-Request-ID"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 32 << 20
	// maxErrorBody bounds how much of a failed response ends up in an error.
	maxErrorBody = 2048

	projectPermissionMessage = "You don't have permission to access this project"
)

// EditorClient calls the Metadata Editor REST API. Requests are paced by a
// token bucket and never retried.
type EditorClient struct {
	baseURL   string
	apiKey    string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	registry  metaeditor.SchemaRegistry
}

var _ metaeditor.EditorClient = (*EditorClient)(nil)

// NewEditorClient checks cfg and builds a client. registry supplies the
// schemas UpdateProject validates against; httpClient may be nil.
func NewEditorClient(cfg metaeditor.EditorConfig, registry metaeditor.SchemaRegistry, httpClient *http.Client) (*EditorClient, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, metaeditor.NewInvalidBaseURLError(cfg.BaseURL)
	}
	if cfg.APIKey == "" {
		return nil, metaeditor.NewValidationError("api_key", "must not be empty")
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "metaeditor"
	}

	return &EditorClient{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		userAgent: userAgent,
		http:      httpClient,
		limiter:   rate.NewLimiter(limit, burst),
		registry:  registry,
	}, nil
}

// apiResponse is a completed request with a 2xx status.
type apiResponse struct {
	status int
	body   []byte
}

func (c *EditorClient) do(ctx context.Context, method, path, projectID string, payload any) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, metaeditor.NewInvalidJSONError(err)
		}
		body = bytes.NewReader(b)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, metaeditor.NewInternalError("build request", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerRequestID, requestID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, metaeditor.NewMetaEditorError(metaeditor.ErrorTypeRemote, metaeditor.ErrCodeAPIRequestFailed,
			fmt.Sprintf("%s %s failed", method, endpoint)).
			WithDetail("request_id", requestID).
			WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, metaeditor.NewMetaEditorError(metaeditor.ErrorTypeRemote, metaeditor.ErrCodeAPIRequestFailed,
			fmt.Sprintf("read response of %s %s", method, endpoint)).
			WithDetail("request_id", requestID).
			WithCause(err)
	}

	zap.S().Debugw("editor request",
		"request_id", requestID,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(started))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &apiResponse{status: resp.StatusCode, body: data}, nil
	}
	return nil, c.statusError(method, endpoint, projectID, requestID, resp.StatusCode, data)
}

func (c *EditorClient) statusError(method, endpoint, projectID, requestID string, status int, body []byte) error {
	var e *metaeditor.MetaEditorError
	switch {
	case status == http.StatusForbidden:
		e = metaeditor.NewAccessDeniedError(endpoint)
	case status == http.StatusNotFound:
		e = metaeditor.NewPageNotFoundError(endpoint)
	case status == http.StatusBadRequest && projectID != "" && bytes.Contains(body, []byte(projectPermissionMessage)):
		e = metaeditor.NewProjectAccessDeniedError(projectID)
	default:
		text := string(body)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody] + "..."
		}
		// The editor echoes request headers in some error pages.
		text = strings.ReplaceAll(text, c.apiKey, "[redacted]")
		e = metaeditor.NewAPIRequestError(method, endpoint, status, text)
	}
	return e.WithDetail("request_id", requestID)
}

func decodeResponse(method, endpoint string, resp *apiResponse, out any) error {
	if err := json.Unmarshal(resp.body, out); err != nil {
		return metaeditor.NewMetaEditorError(metaeditor.ErrorTypeRemote, metaeditor.ErrCodeAPIRequestFailed,
			fmt.Sprintf("%s %s returned a body that is not JSON", method, endpoint)).
			WithDetail("status", resp.status).
			WithCause(err)
	}
	return nil
}

// Ping checks that the API is reachable and the key is accepted.
func (c *EditorClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/editor", "", nil)
	return err
}

// ListProjects returns the projects visible to the API key, oldest first.
func (c *EditorClient) ListProjects(ctx context.Context) ([]metaeditor.Project, error) {
	resp, err := c.do(ctx, http.MethodGet, "/editor", "", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Projects []metaeditor.Project `json:"projects"`
	}
	if err := decodeResponse(http.MethodGet, c.baseURL+"/editor", resp, &out); err != nil {
		return nil, err
	}
	metaeditor.SortProjectsByCreated(out.Projects)
	return out.Projects, nil
}

// GetProject fetches one project by id.
func (c *EditorClient) GetProject(ctx context.Context, id string) (*metaeditor.Project, error) {
	if id == "" {
		return nil, metaeditor.NewValidationError("id", "must not be empty")
	}
	path := "/editor/" + url.PathEscape(id)
	resp, err := c.do(ctx, http.MethodGet, path, id, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Project *metaeditor.Project `json:"project"`
	}
	if err := decodeResponse(http.MethodGet, c.baseURL+path, resp, &out); err != nil {
		return nil, err
	}
	if out.Project == nil {
		return nil, metaeditor.NewMetaEditorError(metaeditor.ErrorTypeNotFound, metaeditor.ErrCodePageNotFound,
			fmt.Sprintf("project '%s' not found", id)).
			WithDetail("project_id", id)
	}
	return out.Project, nil
}

// CreateProject stores a new project of the given type.
func (c *EditorClient) CreateProject(ctx context.Context, projectType metaeditor.ProjectType, record *metaeditor.Record) (map[string]any, error) {
	if projectType == "" {
		return nil, metaeditor.NewValidationError("type", "must not be empty")
	}
	if record == nil {
		return nil, metaeditor.NewValidationError("", "record is nil")
	}
	if record.Idno() == "" {
		return nil, metaeditor.NewValidationError("idno", "Metadata is missing required key: 'idno'")
	}

	path := "/editor/create/" + url.PathEscape(string(projectType))
	resp, err := c.do(ctx, http.MethodPost, path, "", record.Data())
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if len(bytes.TrimSpace(resp.body)) > 0 {
		if err := decodeResponse(http.MethodPost, c.baseURL+path, resp, &out); err != nil {
			return nil, err
		}
	}
	zap.S().Infow("created project", "type", projectType, "idno", record.Idno())
	return out, nil
}

// UpdateProject merges updates over the stored metadata, validates the result
// against the schema of projectType and sends it back. Nil updates are ignored.
func (c *EditorClient) UpdateProject(ctx context.Context, projectType metaeditor.ProjectType, id string, updates map[string]any) (*metaeditor.Record, error) {
	if c.registry == nil {
		return nil, metaeditor.NewInternalError("editor client has no schema registry", nil)
	}
	schema, err := c.registry.RecordSchema(string(projectType))
	if err != nil {
		return nil, err
	}
	project, err := c.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	current, err := metaeditor.NewRecord(schema, project.Metadata)
	if err != nil {
		return nil, fmt.Errorf("stored metadata of project %s: %w", id, err)
	}
	updated, err := current.With(updates)
	if err != nil {
		return nil, err
	}

	path := "/editor/update/" + url.PathEscape(string(projectType)) + "/" + url.PathEscape(id)
	if _, err := c.do(ctx, http.MethodPost, path, id, updated.Data()); err != nil {
		return nil, err
	}
	zap.S().Infow("updated project", "type", projectType, "id", id, "fields", len(updates))
	return updated, nil
}

// DeleteProject removes a project. The editor sometimes answers a delete with
// an HTML page; the project is then looked up again to learn the outcome.
func (c *EditorClient) DeleteProject(ctx context.Context, id string) error {
	if _, err := c.GetProject(ctx, id); err != nil {
		return err
	}

	path := "/editor/delete/" + url.PathEscape(id)
	resp, err := c.do(ctx, http.MethodPost, path, id, map[string]any{})
	if err != nil {
		return err
	}
	if json.Valid(resp.body) {
		zap.S().Infow("deleted project", "id", id)
		return nil
	}

	_, err = c.GetProject(ctx, id)
	switch {
	case err == nil:
		return metaeditor.NewDeleteNotAppliedError(id)
	case metaeditor.IsNotFoundError(err), metaeditor.HasCode(err, metaeditor.ErrCodeProjectAccessDenied):
		// The editor answers a lookup of a removed id with the permission error.
		zap.S().Infow("deleted project", "id", id, "confirmed", true)
		return nil
	default:
		return fmt.Errorf("confirm delete of project %s: %w", id, err)
	}
}
