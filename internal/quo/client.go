package quo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultUserAgent = "quosync/0.1"

	// MaxListContacts is the cap on the externalIds filter parameter.
	MaxListContacts = 20
	// MaxListPhoneNumbers is the cap on a phone-number listing.
	MaxListPhoneNumbers = 100
	// MaxWebhookResources is the cap on resourceIds per subscription.
	MaxWebhookResources = 10
)

// Config controls how the Quo client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client wraps the Quo REST endpoints the sync engine consumes.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
	userAgent  string
	tracer     trace.Tracer
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("quo: API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("quo: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
		tracer:     otel.Tracer("quosync.internal.quo"),
	}, nil
}

// BulkCreateContacts submits contacts for asynchronous creation. The create
// is not immediately visible; callers must wait before reading back.
func (c *Client) BulkCreateContacts(ctx context.Context, contacts []Contact) error {
	ctx, span := c.tracer.Start(ctx, "quo.bulk_create_contacts")
	defer span.End()

	if len(contacts) == 0 {
		return nil
	}
	body, err := json.Marshal(struct {
		Contacts []Contact `json:"contacts"`
	}{Contacts: contacts})
	if err != nil {
		return fmt.Errorf("quo: marshal bulk create body: %w", err)
	}
	_, err = c.invoke(ctx, http.MethodPost, "/contacts/bulk", nil, body)
	return err
}

// ListContacts fetches contacts filtered by external IDs. The filter accepts
// at most MaxListContacts IDs per call.
func (c *Client) ListContacts(ctx context.Context, req ListContactsRequest) ([]Contact, error) {
	ctx, span := c.tracer.Start(ctx, "quo.list_contacts")
	defer span.End()

	if len(req.ExternalIDs) > MaxListContacts {
		return nil, fmt.Errorf("quo: at most %d external IDs per list call, got %d", MaxListContacts, len(req.ExternalIDs))
	}
	maxResults := req.MaxResults
	if maxResults <= 0 || maxResults > MaxListContacts {
		maxResults = MaxListContacts
	}
	q := url.Values{}
	for _, id := range req.ExternalIDs {
		q.Add("externalIds", id)
	}
	q.Set("maxResults", strconv.Itoa(maxResults))

	data, err := c.invoke(ctx, http.MethodGet, "/contacts", q, nil)
	if err != nil {
		return nil, err
	}
	list, err := decodeDataWrapper[[]Contact](data)
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// CreateContact creates a single contact.
func (c *Client) CreateContact(ctx context.Context, contact Contact) (*Contact, error) {
	body, err := json.Marshal(contact)
	if err != nil {
		return nil, fmt.Errorf("quo: marshal contact: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/contacts", nil, body)
	if err != nil {
		return nil, err
	}
	return decodeDataWrapper[Contact](data)
}

// UpdateContact updates an existing contact by Quo ID.
func (c *Client) UpdateContact(ctx context.Context, id string, contact Contact) (*Contact, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("quo: contact id required")
	}
	body, err := json.Marshal(contact)
	if err != nil {
		return nil, fmt.Errorf("quo: marshal contact: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPatch, "/contacts/"+url.PathEscape(id), nil, body)
	if err != nil {
		return nil, err
	}
	return decodeDataWrapper[Contact](data)
}

// ListPhoneNumbers lists the workspace's phone-number resources.
func (c *Client) ListPhoneNumbers(ctx context.Context, maxResults int) ([]PhoneNumber, error) {
	if maxResults <= 0 || maxResults > MaxListPhoneNumbers {
		maxResults = MaxListPhoneNumbers
	}
	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(maxResults))
	data, err := c.invoke(ctx, http.MethodGet, "/phone-numbers", q, nil)
	if err != nil {
		return nil, err
	}
	list, err := decodeDataWrapper[[]PhoneNumber](data)
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// CreateMessageWebhook subscribes to message events.
func (c *Client) CreateMessageWebhook(ctx context.Context, req WebhookRequest) (*Webhook, error) {
	return c.createWebhook(ctx, "/webhooks/messages", req)
}

// CreateCallWebhook subscribes to call events.
func (c *Client) CreateCallWebhook(ctx context.Context, req WebhookRequest) (*Webhook, error) {
	return c.createWebhook(ctx, "/webhooks/calls", req)
}

// CreateCallSummaryWebhook subscribes to call-summary events.
func (c *Client) CreateCallSummaryWebhook(ctx context.Context, req WebhookRequest) (*Webhook, error) {
	return c.createWebhook(ctx, "/webhooks/call-summaries", req)
}

// DeleteWebhook removes a subscription.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("quo: webhook id required")
	}
	_, err := c.invoke(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) createWebhook(ctx context.Context, path string, req WebhookRequest) (*Webhook, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, errors.New("quo: webhook url required")
	}
	if len(req.ResourceIDs) > MaxWebhookResources {
		return nil, fmt.Errorf("quo: at most %d resource IDs per webhook, got %d", MaxWebhookResources, len(req.ResourceIDs))
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("quo: marshal webhook request: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}
	return decodeDataWrapper[Webhook](data)
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := c.buildURL(path, query)
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("quo: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("quo: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("quo: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("quo: request failed without response")
}

func (c *Client) buildURL(path string, query url.Values) string {
	trimmedPath := "/" + strings.TrimLeft(path, "/")
	full := c.baseURL + trimmedPath
	if len(query) > 0 {
		full = full + "?" + query.Encode()
	}
	return full
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn("quo retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 && status <= 599 {
		return true
	}
	return false
}

type apiError struct {
	StatusCode int             `json:"-"`
	Title      string          `json:"title,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	Errors     json.RawMessage `json:"errors,omitempty"`
}

func (e *apiError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("quo: %s (status=%d)", e.Title, e.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Sprintf("quo: %s (status=%d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("quo: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &apiError{StatusCode: status, Detail: string(body)}
	}
	parsed.StatusCode = status
	return &parsed
}

func decodeDataWrapper[T any](body []byte) (*T, error) {
	var wrapper struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("quo: decode response: %w", err)
	}
	return &wrapper.Data, nil
}
