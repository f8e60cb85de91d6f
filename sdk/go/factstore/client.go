package factstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxBatchSize is the largest batch the server accepts.
const MaxBatchSize = 500

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the fact store (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration

	// UserAgent is sent on every request. Defaults to "factstore-go".
	UserAgent string
}

// Client is an HTTP client for the fact store API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("factstore: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("factstore: invalid BaseURL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "factstore-go"
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: userAgent,
		client:    httpClient,
	}, nil
}

// AddFact records a fact with conflict detection.
//
// An escalated conflict is not an error: the server answers 409 and the
// returned response has Classification CONFLICT, RequiresManualReview set
// and the Conflict populated.
func (c *Client) AddFact(ctx context.Context, req AddFactRequest) (*AddFactResponse, error) {
	var resp AddFactResponse
	if err := c.post(ctx, "/v1/facts", req, &resp, http.StatusConflict); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddFactsBatch records up to MaxBatchSize facts. Entries are applied as if
// submitted one at a time in order; each result carries its own status.
func (c *Client) AddFactsBatch(ctx context.Context, reqs []AddFactRequest) ([]BatchItemResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("factstore: batch is empty")
	}
	if len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("factstore: batch of %d exceeds the limit of %d", len(reqs), MaxBatchSize)
	}
	body := map[string]any{"facts": reqs}
	var resp []BatchItemResult
	if err := c.post(ctx, "/v1/facts/batch", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetFacts returns an entity's facts grouped by fact type and key.
// Nil opts return only current facts.
func (c *Client) GetFacts(ctx context.Context, entityType string, entityID uuid.UUID, opts *GetFactsOptions) (*FactsResponse, error) {
	params := subjectParams(entityType, entityID)
	if opts != nil {
		if opts.FactType != "" {
			params.Set("fact_type", opts.FactType)
		}
		if opts.Key != "" {
			params.Set("key", opts.Key)
		}
		if opts.IncludeHistorical {
			params.Set("include_historical", "true")
		}
	}
	var resp FactsResponse
	if err := c.get(ctx, "/v1/facts?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns every fact recorded for one slot, newest first.
func (c *Client) History(ctx context.Context, entityType string, entityID uuid.UUID, factType, key string) (*HistoryResponse, error) {
	params := subjectParams(entityType, entityID)
	params.Set("fact_type", factType)
	params.Set("key", key)
	var resp HistoryResponse
	if err := c.get(ctx, "/v1/facts/history?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolvePerson finds the registered person with the same canonical key,
// registering one unless DryRun is set.
func (c *Client) ResolvePerson(ctx context.Context, req ResolvePersonRequest) (*PersonMatch, error) {
	var resp PersonMatch
	if err := c.post(ctx, "/v1/entities/people/resolve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolveOrganization finds the registered organization with the same
// canonical key, registering one unless DryRun is set.
func (c *Client) ResolveOrganization(ctx context.Context, req ResolveOrganizationRequest) (*OrganizationMatch, error) {
	var resp OrganizationMatch
	if err := c.post(ctx, "/v1/entities/organizations/resolve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns server and storage health. An unhealthy server answers
// 503, which is returned as an *Error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Subscribe streams events to fn until ctx is cancelled, the server closes
// the stream, or fn returns an error. Cancellation returns ctx.Err(). With
// no channels named, both ChannelFacts and ChannelConflicts are delivered.
func (c *Client) Subscribe(ctx context.Context, fn func(Event) error, channels ...string) error {
	path := "/v1/subscribe"
	if len(channels) > 0 {
		path += "?" + url.Values{"channels": {strings.Join(channels, ",")}}.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any per-request timeout.
	stream := *c.client
	stream.Timeout = 0
	resp, err := stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("factstore: GET /v1/subscribe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return handleResponse(resp, nil)
	}

	err = readEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// readEvents parses a text/event-stream body. Events with an unparseable
// payload are skipped.
func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var channel, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				var ev Event
				if err := json.Unmarshal([]byte(data), &ev); err == nil {
					ev.Channel = channel
					if err := fn(ev); err != nil {
						return err
					}
				}
			}
			channel, data = "", ""
		case strings.HasPrefix(line, "event:"):
			channel = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("factstore: read event stream: %w", err)
	}
	return nil
}

func subjectParams(entityType string, entityID uuid.UUID) url.Values {
	params := url.Values{}
	params.Set("entity_type", entityType)
	params.Set("entity_id", entityID.String())
	return params
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("factstore: create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// post sends body as JSON. accept lists error statuses whose body is a
// normal data envelope rather than an error.
func (c *Client) post(ctx context.Context, path string, body any, dest any, accept ...int) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("factstore: marshal request body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest, accept...)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any, accept ...int) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("factstore: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest, accept...)
}

func handleResponse(resp *http.Response, dest any, accept ...int) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("factstore: read response body: %w", err)
	}

	if resp.StatusCode >= 400 && !accepted(resp.StatusCode, accept) {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("factstore: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return fmt.Errorf("factstore: response has no data (status %d)", resp.StatusCode)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func accepted(status int, accept []int) bool {
	for _, s := range accept {
		if s == status {
			return true
		}
	}
	return false
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		if field, ok := envelope.Error.Details["field"].(string); ok {
			apiErr.Field = field
		}
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Code == "" {
		apiErr.Code = strconv.Itoa(statusCode)
	}

	return apiErr
}
