package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultTimeout = 60 * time.Second

	attributionReferer = "https://github.com/kalambet/pal"
	attributionTitle   = "pal"
)

// ErrMissingAPIKey is returned by Complete when no API key is configured.
var ErrMissingAPIKey = errors.New("no upstream API key configured")

// Client calls an OpenAI-compatible chat completion endpoint, OpenRouter by
// default. Each call is a single request; nothing is retried.
type Client struct {
	apiKey string
	api    *openai.Client
}

// NewClient creates a client for baseURL. An empty baseURL selects
// OpenRouter and a non-positive timeout selects DefaultTimeout. The timeout
// bounds the whole request, body included.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &attributionTransport{
			base:    http.DefaultTransport,
			referer: attributionReferer,
			title:   attributionTitle,
		},
	}

	return &Client{
		apiKey: apiKey,
		api:    openai.NewClientWithConfig(cfg),
	}
}

// Complete sends messages and returns the content of the first choice.
// Failures are reported as *UnavailableError or *UpstreamError.
func (c *Client) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if c.apiKey == "" {
		return "", &UpstreamError{Err: ErrMissingAPIKey}
	}

	req := openai.ChatCompletionRequest{
		Model:       opts.Model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &UpstreamError{Status: http.StatusOK, Err: errors.New("response has no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

// classify sorts a transport or API failure into the two error kinds
// callers distinguish. Timeouts count as upstream errors even though no
// response arrived.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{Status: reqErr.HTTPStatusCode, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &UpstreamError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &UnavailableError{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &UnavailableError{Err: err}
	}

	return &UpstreamError{Err: fmt.Errorf("decoding response: %w", err)}
}

// attributionTransport adds the OpenRouter app attribution headers.
type attributionTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("HTTP-Referer", t.referer)
	r.Header.Set("X-Title", t.title)
	return t.base.RoundTrip(r)
}
