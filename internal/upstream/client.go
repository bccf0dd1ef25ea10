package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/helixchat/helix/internal/common/config"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// ChatMessage is one turn of the conversation sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the payload relayed to the inference engine.
type Request struct {
	Messages     []ChatMessage `json:"messages"`
	Model        string        `json:"model,omitempty"`
	Provider     string        `json:"provider,omitempty"`
	UseRetrieval bool          `json:"use_retrieval,omitempty"`
}

// Event is one parsed frame of the upstream response stream.
type Event struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Sources json.RawMessage `json:"sources,omitempty"`
	Err     string          `json:"error,omitempty"`
}

// Event type discriminators emitted by the inference engine.
const (
	EventContent = "content"
	EventSources = "sources"
	EventError   = "error"
)

// Client talks to the inference engine over its SSE endpoint. The engine is
// opaque: the client only understands the framing, never the model behind it.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	url        string
	apiKey     string
	timeout    time.Duration
}

// NewClient creates an upstream client from configuration.
func NewClient(logger *zap.Logger, cfg config.UpstreamConfig) *Client {
	return &Client{
		logger:     logger.Named("upstream"),
		httpClient: &http.Client{},
		url:        strings.TrimSuffix(cfg.BaseURL, "/") + cfg.Path,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
	}
}

// Stream opens a streaming completion call. The returned Stream must be
// closed by the caller; closing it releases the response body and cancels
// the call's hard timeout. The timeout context derives from ctx, so caller
// cancellation propagates into the in-flight HTTP request.
func (c *Client) Stream(ctx context.Context, req *Request) (*Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upstream request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		// The transport wraps the context error, so errors.Is still sees
		// context.Canceled or DeadlineExceeded for classification.
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	return &Stream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		cancel:  cancel,
		ctx:     callCtx,
	}, nil
}

// Stream is a parsed view over the upstream SSE byte stream.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	ctx     context.Context
	closed  bool
}

// Next returns the next parsed event. io.EOF marks natural completion:
// the upstream sent its terminal sentinel (or closed the connection).
func (s *Stream) Next() (*Event, error) {
	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")
		if line == "" || !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, dataPrefix)
		if payload == doneSentinel {
			return nil, io.EOF
		}

		if !gjson.Valid(payload) {
			return nil, fmt.Errorf("malformed upstream event: %q", payload)
		}

		var ev Event
		ev.Type = gjson.Get(payload, "type").String()
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode upstream event: %w", err)
		}
		return &ev, nil
	}

	if err := s.scanner.Err(); err != nil {
		// Surface cancellation as such rather than a read error.
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return nil, io.EOF
}

// Close releases the response body and cancels the call context. Safe to
// call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.body.Close()
	s.cancel()
	return err
}
