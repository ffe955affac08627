// Package aiclient talks to the external semantic/visual element
// matching service over JSON HTTP. The client enforces its own request
// timeout, tolerates malformed responses by defaulting confidence to
// zero, and trips a circuit breaker so an unreachable endpoint degrades
// to skipped recovery tiers instead of a timeout per call.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/domheal/locator"
)

// ErrUnavailable marks the service as unreachable, timed out, or
// breaker-rejected. Recovery treats it like a zero-confidence answer
// and moves to the next tier.
var ErrUnavailable = errors.New("aiclient: matching service unavailable")

// MaxCandidates caps how many elements a semantic request carries.
const MaxCandidates = 10

// Config configures the matching service client.
type Config struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`

	// Breaker tuning. FailureThreshold consecutive failures open the
	// breaker; after ResetAfter one probe call is admitted.
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetAfter       time.Duration `yaml:"reset_after"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = 30 * time.Second
	}
}

// Candidate is one live element offered to the semantic matcher.
// Attributes only, never full markup.
type Candidate struct {
	Index      int               `json:"index"`
	Tag        string            `json:"tag"`
	Text       string            `json:"text,omitempty"`
	Role       string            `json:"role,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Selector   string            `json:"selector"`
}

// SemanticRequest asks the service to pick the candidate matching a
// natural-language target description.
type SemanticRequest struct {
	TargetDescription string      `json:"target_description"`
	Candidates        []Candidate `json:"candidates"`
	PageContext       string      `json:"page_context,omitempty"`
}

// VisualRequest asks the service to locate the target in a screenshot,
// optionally against the recorded reference image.
type VisualRequest struct {
	Screenshot         []byte   `json:"screenshot"`
	RecordedScreenshot []byte   `json:"recorded_screenshot,omitempty"`
	Target             string   `json:"target"`
	Hints              []string `json:"hints,omitempty"`
	PageContext        string   `json:"page_context,omitempty"`
}

// Match is the service's answer. CandidateIndex is nil when the service
// answered with coordinates (visual) or nothing usable.
type Match struct {
	CandidateIndex *int           `json:"candidate_index"`
	Coordinates    *locator.Point `json:"coordinates"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
}

// Client is the matching service client.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	breaker  *breaker
	logger   *slog.Logger
}

// New creates a Client. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker:  newBreaker(cfg.FailureThreshold, cfg.ResetAfter),
		logger:   logger,
	}
}

// Configured reports whether an endpoint was set; without one the AI
// recovery tiers are skipped entirely.
func (c *Client) Configured() bool { return c.endpoint != "" }

// MatchSemantic submits a candidate set for semantic matching. The
// candidate list is capped at MaxCandidates.
func (c *Client) MatchSemantic(ctx context.Context, req *SemanticRequest) (*Match, error) {
	if len(req.Candidates) > MaxCandidates {
		req.Candidates = req.Candidates[:MaxCandidates]
	}
	for i := range req.Candidates {
		req.Candidates[i].Index = i
	}
	return c.post(ctx, "/v1/match/semantic", req)
}

// MatchVisual submits a screenshot comparison request.
func (c *Client) MatchVisual(ctx context.Context, req *VisualRequest) (*Match, error) {
	return c.post(ctx, "/v1/match/visual", req)
}

func (c *Client) post(ctx context.Context, path string, payload any) (*Match, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("%w: no endpoint configured", ErrUnavailable)
	}
	if !c.breaker.allow() {
		return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("aiclient: marshal request: %w", err)
	}

	url := c.endpoint + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("aiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.recordFailure()
		return nil, fmt.Errorf("%w: POST %s: %v", ErrUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.breaker.recordFailure()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: HTTP %d from %s: %s", ErrUnavailable, resp.StatusCode, url, string(respBody))
	}
	c.breaker.recordSuccess()

	// The service reached us; a garbled body is an answer we cannot
	// use, not an outage. Default to zero confidence.
	var m Match
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		c.logger.Warn("aiclient: malformed response, treating as no match", "url", url, "error", err)
		return &Match{Reasoning: "malformed service response"}, nil
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		c.logger.Warn("aiclient: confidence out of range, clamping to 0", "confidence", m.Confidence)
		m.Confidence = 0
	}
	return &m, nil
}
