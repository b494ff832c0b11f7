package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/resilience"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
)

const (
	defaultOllamaURL = "http://localhost:11434"
	maxLineBytes     = 1024 * 1024
)

type OllamaConfig struct {
	BaseURL string
	Client  *http.Client
	Retry   resilience.RetryConfig
}

// Ollama talks to an Ollama server's /api/chat endpoint.
type Ollama struct {
	baseURL string
	client  *http.Client
	retry   resilience.RetryConfig
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Minute}
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = resilience.LLMRetryConfig()
	}
	return &Ollama{baseURL: strings.TrimRight(cfg.BaseURL, "/"), client: cfg.Client, retry: cfg.Retry}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (o *Ollama) Generate(ctx context.Context, req Request) (Response, error) {
	body, err := o.open(ctx, req, false)
	if err != nil {
		return Response{}, err
	}
	defer body.Close()

	var chunk chatChunk
	if err := json.NewDecoder(body).Decode(&chunk); err != nil {
		return Response{}, apperrors.Wrap(err, apperrors.LLMInvalidResponse, "decode chat response")
	}
	if chunk.Error != "" {
		return Response{}, apperrors.New(apperrors.LLMAPIError, chunk.Error)
	}

	text := strings.TrimSpace(chunk.Message.Content)
	resp := Response{Text: text}
	if len(req.Schema) > 0 {
		if !json.Valid([]byte(text)) {
			return resp, apperrors.New(apperrors.LLMInvalidResponse, "structured output is not valid JSON")
		}
		resp.Output = json.RawMessage(text)
	}
	return resp, nil
}

func (o *Ollama) Stream(ctx context.Context, req Request, onDelta func(string)) error {
	body, err := o.open(ctx, req, true)
	if err != nil {
		return err
	}
	defer body.Close()

	// Unblock the scanner when the caller aborts.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return apperrors.Wrap(err, apperrors.LLMInvalidResponse, "decode stream chunk")
		}
		if chunk.Error != "" {
			return apperrors.New(apperrors.LLMAPIError, chunk.Error)
		}
		if chunk.Message.Content != "" {
			onDelta(chunk.Message.Content)
		}
		if chunk.Done {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.Unavailable, "read stream")
	}
	return apperrors.New(apperrors.LLMInvalidResponse, "stream ended without done")
}

// open posts the chat request, retrying transient failures, and returns the body
// of a 200 response.
func (o *Ollama) open(ctx context.Context, req Request, stream bool) (io.ReadCloser, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    req.Model.Name,
		Messages: messages(req),
		Stream:   stream,
		Format:   req.Schema,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "encode chat request")
	}

	var body io.ReadCloser
	err = resilience.Retry(ctx, o.retry, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
		if err != nil {
			return apperrors.Wrap(err, apperrors.InvalidArgument, "build chat request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		trace.Inject(ctx, httpReq)

		resp, err := o.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperrors.Wrap(err, apperrors.Unavailable, "ollama unreachable")
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return statusError(resp, strings.TrimSpace(string(msg)))
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		trace.Logger(ctx).Warn("ollama request failed", "model", req.Model.Name, "error", err)
		return nil, err
	}
	return body, nil
}

func messages(req Request) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	return append(msgs, chatMessage{Role: "user", Content: req.Prompt})
}

func statusError(resp *http.Response, body string) error {
	code := resp.StatusCode
	msg := fmt.Sprintf("ollama returned %d", code)
	if body != "" {
		msg += ": " + body
	}
	var c apperrors.Code
	switch {
	case code == http.StatusTooManyRequests:
		c = apperrors.LLMRateLimited
	case code >= 500:
		c = apperrors.Unavailable
	default:
		c = apperrors.LLMAPIError
	}
	err := apperrors.New(c, msg).WithMetadata("status", fmt.Sprint(code))
	if wait, ok := resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
		err = resilience.WithRetryAfter(err, wait)
	}
	return err
}
