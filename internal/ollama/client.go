package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	maxConcurrentRequests = 10
	connectTimeout        = 15 * time.Second
	keepAlive             = 60 * time.Second
	maxIdlePerHost        = 20
	maxErrorBodyBytes     = 4096
)

// UpstreamError reports a failure returned by the Ollama backend. The
// body is relayed to API clients verbatim.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("ollama backend returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to an Ollama server's generate endpoint. A buffered
// channel caps in-flight requests so one hot endpoint cannot exhaust
// the backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	slots      chan struct{}
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: maxIdlePerHost,
		IdleConnTimeout:     keepAlive,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		slots:   make(chan struct{}, maxConcurrentRequests),
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

// generateOptions trades a little response quality for latency; the
// passthrough endpoint is interactive.
type generateOptions struct {
	NumPredict    int     `json:"num_predict"`
	Temperature   float64 `json:"temperature"`
	TopK          int     `json:"top_k"`
	TopP          float64 `json:"top_p"`
	NumCtx        int     `json:"num_ctx"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func defaultOptions() generateOptions {
	return generateOptions{
		NumPredict:    200,
		Temperature:   0.3,
		TopK:          20,
		TopP:          0.9,
		NumCtx:        2048,
		RepeatPenalty: 1.1,
	}
}

// Generate submits a prompt and returns the backend's response text.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("ollama client is nil")
	}

	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	payload, err := json.Marshal(generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: defaultOptions(),
	})
	if err != nil {
		return "", err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return "", &UpstreamError{
			StatusCode: response.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var decoded generateResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if decoded.Error != "" {
		return "", &UpstreamError{StatusCode: response.StatusCode, Body: decoded.Error}
	}
	return decoded.Response, nil
}
