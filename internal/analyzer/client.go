package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Client talks to the streaming analysis API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	signer     *Signer
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithConnectTimeout bounds how long OpenStream waits for response headers.
// The stream body itself is not subject to this timeout.
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient.Transport = &http.Transport{
			ResponseHeaderTimeout: timeout,
		}
	}
}

// WithSigner enables SigV4 request signing for AWS-hosted deployments.
func WithSigner(s *Signer) ClientOption {
	return func(client *Client) {
		client.signer = s
	}
}

// NewClient creates an analysis API client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		// No overall timeout: streams stay open for minutes. OpenStream
		// applies its own header deadline via ctx.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether the client can reach an upstream at all.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Health probes the upstream health endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &RejectedError{StatusCode: resp.StatusCode}
	}
	return nil
}

// OpenStream starts a streaming analysis and returns the response body. The
// caller owns the body and must close it. Transport failures map to
// ErrUnavailable; HTTP refusals map to RejectedError.
func (c *Client) OpenStream(ctx context.Context, analysisReq AnalysisRequest) (io.ReadCloser, error) {
	analysisReq.Stream = true
	body, err := json.Marshal(analysisReq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.setAuth(req)

	if c.signer != nil && c.signer.IsConfigured() {
		if err := c.signer.SignRequest(ctx, req, body); err != nil {
			return nil, fmt.Errorf("analyzer: sign request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("base_url", c.baseURL).Msg("analyzer: connect failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		rejection, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RejectedError{StatusCode: resp.StatusCode, Body: string(rejection)}
	}

	return resp.Body, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
