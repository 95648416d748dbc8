package localai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/randalmurphal/chatkit/provider"
)

// Client implements provider.Client against the model runtime's HTTP API.
// The runtime is the plugin process the Controller manages; the client only
// speaks to it and never starts or stops it.
type Client struct {
	host    string
	model   string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a client for the runtime serving on cfg.Host.
func NewClient(cfg provider.Config) *Client {
	host := cfg.Host
	if host == "" {
		host = DefaultConfig().PluginHost
	}
	return &Client{
		host:    host,
		model:   cfg.Model,
		timeout: cfg.RequestTimeout,
		http:    &http.Client{},
	}
}

// chatRequest is the runtime's chat endpoint request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is one line of the runtime's streamed response, or the
// whole body for non-streamed calls.
type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// Stream implements provider.Client. Chunks arrive as newline-delimited
// JSON; the returned channel is closed after the final chunk.
func (c *Client) Stream(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	resp, err := c.post(ctx, "stream", c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan provider.StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var cr chatResponse
			if err := json.Unmarshal(line, &cr); err != nil {
				ch <- provider.StreamChunk{Error: provider.NewError("local", "stream", fmt.Errorf("parse chunk: %w", err), false)}
				return
			}
			if cr.Error != "" {
				ch <- provider.StreamChunk{Error: provider.NewError("local", "stream", fmt.Errorf("runtime error: %s", cr.Error), false)}
				return
			}

			select {
			case ch <- provider.StreamChunk{Content: cr.Message.Content, Done: cr.Done}:
			case <-ctx.Done():
				ch <- provider.StreamChunk{Error: ctx.Err()}
				return
			}
			if cr.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- provider.StreamChunk{Error: provider.NewError("local", "stream", err, true)}
		}
	}()

	return ch, nil
}

// Complete implements provider.Client.
func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	start := time.Now()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.post(ctx, "complete", c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, provider.NewError("local", "complete", fmt.Errorf("parse response: %w", err), false)
	}
	if cr.Error != "" {
		return nil, provider.NewError("local", "complete", fmt.Errorf("runtime error: %s", cr.Error), false)
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	return &provider.Response{
		Content:      cr.Message.Content,
		Model:        model,
		FinishReason: "stop",
		Duration:     time.Since(start),
	}, nil
}

// RelatedQuestions implements provider.Client. The runtime has no
// dedicated endpoint, so it is a completion with an instruction prompt,
// one question per output line.
func (c *Client) RelatedQuestions(ctx context.Context, req provider.Request) ([]string, error) {
	prompted := req
	prompted.Messages = append([]provider.Message{{
		Role:    provider.RoleSystem,
		Content: "Suggest up to three short follow-up questions for the conversation below. One question per line, no numbering.",
	}}, req.Messages...)

	resp, err := c.Complete(ctx, prompted)
	if err != nil {
		return nil, err
	}

	var questions []string
	for _, line := range strings.Split(resp.Content, "\n") {
		if q := strings.TrimSpace(line); q != "" {
			questions = append(questions, q)
		}
	}
	return questions, nil
}

// Name implements provider.Client.
func (c *Client) Name() string {
	return "local"
}

// buildRequest converts a provider request to the runtime's wire form.
// Text-like RAG context rides along as a leading system message; deferred
// types (pdf, unknown) carry no extracted content to send.
func (c *Client) buildRequest(req provider.Request, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}

	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if ctxMsg := contextMessage(req.Context); ctxMsg != "" {
		msgs = append(msgs, chatMessage{Role: string(provider.RoleSystem), Content: ctxMsg})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	return chatRequest{Model: model, Messages: msgs, Stream: stream}
}

// contextMessage folds normalized RAG entries into one grounding prompt.
func contextMessage(entries []provider.ContextData) string {
	var sb strings.Builder
	for _, e := range entries {
		if e.Content == "" {
			continue
		}
		if e.ContentType != provider.ContextText && e.ContentType != provider.ContextMarkdown {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("Use the following source material when answering.\n")
		}
		fmt.Fprintf(&sb, "\n[%s]\n%s\n", e.Name, e.Content)
	}
	return sb.String()
}

// post sends a JSON request to the runtime's chat endpoint.
func (c *Client) post(ctx context.Context, op string, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, provider.NewError("local", op, err, false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+c.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, provider.NewError("local", op, err, false)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, provider.NewError("local", op, err, isNetworkError(err))
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500
		resp.Body.Close()
		return nil, provider.NewError("local", op, fmt.Errorf("unexpected status %s", resp.Status), retryable)
	}
	return resp, nil
}

// isNetworkError reports whether the error is a transport failure worth
// retrying once the runtime is back.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}
