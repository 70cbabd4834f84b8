package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ohmynofan/luckywheel-bot/internal/platform/logger"
	"github.com/ohmynofan/luckywheel-bot/pkg/utils"
)

type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP Error %d: %s", e.StatusCode, e.Status)
}

type FetchOptions struct {
	Method            string
	Body              interface{}
	RawBody           []byte
	AdditionalHeaders map[string]string
}

// APIClient talks JSON to the remote recognizer services.
type APIClient struct {
	Proxy      string
	UserAgent  string
	HTTPClient *http.Client
	Log        *logger.ClassLogger
}

func NewAPIClient(proxy string, timeout time.Duration) (*APIClient, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	apiClient := &APIClient{
		Proxy:     proxy,
		UserAgent: "luckywheel-bot/1.0",
		HTTPClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
	apiClient.Log = logger.NewLogger(apiClient, nil)

	return apiClient, nil
}

func (c *APIClient) headers() map[string]string {
	return map[string]string{
		"Accept":       "application/json",
		"Content-Type": "application/json",
		"User-Agent":   c.UserAgent,
	}
}

// Fetch performs the request and returns the raw response body. Non-2xx
// responses come back as *HTTPError. Request bodies are never logged since
// they carry API keys and image payloads.
func (c *APIClient) Fetch(ctx context.Context, endpoint string, opts *FetchOptions) ([]byte, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.RawBody != nil && opts.Body != nil {
		return nil, fmt.Errorf("cannot specify both Body and RawBody")
	}

	var reqBody io.Reader
	hasBody := opts.RawBody != nil || (opts.Method != http.MethodGet && opts.Body != nil)
	if hasBody {
		if opts.RawBody != nil {
			reqBody = bytes.NewReader(opts.RawBody)
		} else {
			jsonBody, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			reqBody = bytes.NewReader(jsonBody)
		}
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.headers() {
		req.Header.Set(key, value)
	}
	for key, value := range opts.AdditionalHeaders {
		req.Header.Set(key, value)
	}
	if !hasBody {
		req.Header.Del("Content-Type")
	}

	c.Log.JustLog(fmt.Sprintf("%s %s", opts.Method, endpoint))

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer res.Body.Close()

	resBodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.Log.JustLog(fmt.Sprintf("Response %d:\n%s", res.StatusCode, utils.Truncate(utils.BeautifyJSON(resBodyBytes), 2000)))

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return resBodyBytes, nil
	}

	return nil, &HTTPError{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Body:       resBodyBytes,
	}
}

// PostJSON sends payload and decodes the JSON response into out.
func (c *APIClient) PostJSON(ctx context.Context, endpoint string, payload, out interface{}) error {
	body, err := c.Fetch(ctx, endpoint, &FetchOptions{Method: http.MethodPost, Body: payload})
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
		return fmt.Errorf("unexpected non-json response: %s", utils.Truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
