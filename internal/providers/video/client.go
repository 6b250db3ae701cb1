package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"reelgen/internal/infra"
)

// Options configures the HTTP provider client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	CallbackURL    string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client talks to a task-based text/image-to-video API: a POST starts a task
// and returns its id, completion arrives on the callback URL.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	callbackURL string
	httpClient  *http.Client
	logger      *infra.Logger
}

type generateRequest struct {
	Prompt      string   `json:"prompt"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
	Model       string   `json:"model"`
	AspectRatio string   `json:"aspectRatio"`
	Duration    int      `json:"duration"`
	CallbackURL string   `json:"callBackUrl,omitempty"`
	RequestID   string   `json:"requestId,omitempty"`
}

type generateResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID      string `json:"taskId"`
		TaskIDSnake string `json:"task_id"`
	} `json:"data"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.kie.ai/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "veo3_fast"
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     baseURL,
		model:       model,
		callbackURL: strings.TrimSpace(opts.CallbackURL),
		httpClient:  httpClient,
		logger:      logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("video: prompt is required")
	}
	callback := strings.TrimSpace(req.CallbackURL)
	if callback == "" {
		callback = c.callbackURL
	}
	body, err := json.Marshal(generateRequest{
		Prompt:      prompt,
		ImageURLs:   req.ImageURLs,
		Model:       c.model,
		AspectRatio: req.Format,
		Duration:    req.DurationSeconds,
		CallbackURL: callback,
		RequestID:   req.JobID,
	})
	if err != nil {
		return "", fmt.Errorf("video: encode request: %w", err)
	}

	raw, status, err := c.do(ctx, http.MethodPost, c.baseURL+"/veo/generate", body)
	if err != nil {
		return "", err
	}
	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if status >= 300 {
			return "", fmt.Errorf("video: status %d: %s", status, strings.TrimSpace(string(raw)))
		}
		return "", fmt.Errorf("video: decode response: %w", err)
	}
	if status >= 300 || (decoded.Code != 0 && decoded.Code != http.StatusOK) {
		msg := strings.TrimSpace(decoded.Msg)
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("video: provider rejected task (status %d, code %d): %s", status, decoded.Code, msg)
	}
	taskID := strings.TrimSpace(decoded.Data.TaskID)
	if taskID == "" {
		taskID = strings.TrimSpace(decoded.Data.TaskIDSnake)
	}
	if taskID == "" {
		return "", errors.New("video: empty task id")
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("job_id", req.JobID).
		Str("task_id", taskID).
		Msg("video: task accepted")
	return taskID, nil
}

func (c *Client) QueryStatus(ctx context.Context, taskID string) ([]byte, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	endpoint := c.baseURL + "/veo/record-info?taskId=" + url.QueryEscape(taskID)
	raw, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("video: status %d: %s", status, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("video: build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("video: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("video: read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

var (
	_ Submitter     = (*Client)(nil)
	_ StatusQuerier = (*Client)(nil)
)
