package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"shelf/internal/services"
)

const userAgent = "shelf/0.1.0"

// Candidate is a provider-returned possible match for a record. Candidates
// are transient: scored, possibly accepted, never persisted independently.
type Candidate struct {
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	ISBN            string   `json:"isbn,omitempty"`
	CoverURL        string   `json:"cover_url,omitempty"`
	Publisher       string   `json:"publisher,omitempty"`
	PublicationYear int      `json:"publication_year,omitempty"`
	Genres          []string `json:"genres,omitempty"`
}

// PrimaryAuthor returns the candidate's first author, or "".
func (c Candidate) PrimaryAuthor() string {
	if len(c.Authors) == 0 {
		return ""
	}
	return c.Authors[0]
}

// Error codes returned in the provider response envelope.
const (
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeNotFound           = "NOT_FOUND"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInvalidQuery       = "INVALID_QUERY"
)

type envelope struct {
	Success bool        `json:"success"`
	Results []Candidate `json:"results"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Searcher defines the catalog operations the enrichment worker uses.
type Searcher interface {
	Search(ctx context.Context, title, author string) ([]Candidate, error)
}

// Client provides access to the catalog search API.
type Client struct {
	baseURL    string
	apiKey     string
	maxResults int
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Searcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMaxResults caps the number of candidates requested per search.
func WithMaxResults(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// WithRateLimit applies a client-side request budget of n requests per minute.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		}
	}
}

// WithTimeouts sets the connection and whole-request timeouts.
func WithTimeouts(dial, request time.Duration) Option {
	return func(c *Client) {
		if dial <= 0 || request <= 0 {
			return
		}
		c.httpClient = &http.Client{
			Timeout: request,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: dial}).DialContext,
			},
		}
	}
}

// New creates a catalog client.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("catalog base url required")
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		maxResults: 5,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Search queries the provider for candidates matching title and, when
// supplied, author. At most the configured number of candidates is returned.
// Errors are tagged with the services taxonomy so the worker can classify
// them without inspecting message text.
func (c *Client) Search(ctx context.Context, title, author string) ([]Candidate, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, services.Wrap(services.ErrValidation, "catalog", "search", "title must not be empty", nil)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, services.Wrap(services.ErrTimeout, "catalog", "search", "rate limiter wait", err)
		}
	}

	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "search", "parse base url", err)
	}
	params := url.Values{}
	params.Set("title", title)
	if author = strings.TrimSpace(author); author != "" {
		params.Set("author", author)
	}
	params.Set("limit", strconv.Itoa(c.maxResults))
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "catalog", "search", "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTimeout, "catalog", "search",
			fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	if statusErr := classifyStatus(resp); statusErr != nil {
		return nil, statusErr
	}

	var payload envelope
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, services.Wrap(services.ErrTransient, "catalog", "search", "decode response", err)
	}

	if !payload.Success {
		return nil, classifyEnvelope(payload.Error)
	}

	results := payload.Results
	if len(results) > c.maxResults {
		results = results[:c.maxResults]
	}
	return results, nil
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "catalog", "search", "no results", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return services.Wrap(services.ErrRateLimited, "catalog", "search", "provider rate limit",
			&services.RateLimitError{RetryAfter: retryAfterHeader(resp)})
	case resp.StatusCode == http.StatusServiceUnavailable:
		return services.Wrap(services.ErrUnavailable, "catalog", "search", "provider unavailable", nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return services.Wrap(services.ErrValidation, "catalog", "search",
			fmt.Sprintf("provider rejected request with status %d", resp.StatusCode), nil)
	default:
		return services.Wrap(services.ErrUnavailable, "catalog", "search",
			fmt.Sprintf("provider returned status %d", resp.StatusCode), nil)
	}
}

func classifyEnvelope(apiErr *apiError) error {
	if apiErr == nil {
		return services.Wrap(services.ErrTransient, "catalog", "search", "provider reported failure without detail", nil)
	}
	switch apiErr.Code {
	case CodeRateLimitExceeded:
		return services.Wrap(services.ErrRateLimited, "catalog", "search", apiErr.Message,
			&services.RateLimitError{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second})
	case CodeNotFound:
		return services.Wrap(services.ErrNotFound, "catalog", "search", apiErr.Message, nil)
	case CodeServiceUnavailable:
		return services.Wrap(services.ErrUnavailable, "catalog", "search", apiErr.Message, nil)
	case CodeInvalidQuery:
		return services.Wrap(services.ErrValidation, "catalog", "search", apiErr.Message, nil)
	default:
		marker := services.ErrValidation
		if apiErr.Retryable {
			marker = services.ErrTransient
		}
		return services.Wrap(marker, "catalog", "search",
			fmt.Sprintf("provider error %s: %s", apiErr.Code, apiErr.Message), nil)
	}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}
