package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GeneratePath is the HTTP generation endpoint of a Petals chat server.
const GeneratePath = "/api/v1/generate"

// HTTPBackend talks to a Petals chat endpoint.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPBackend constructs a backend for baseURL. Requests carry their
// deadline on the context; the client itself has no timeout.
func NewHTTPBackend(baseURL string, connectTimeout time.Duration) *HTTPBackend {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: tr, Timeout: 0},
	}
}

type generateResponse struct {
	OK        bool   `json:"ok"`
	Outputs   string `json:"outputs"`
	Traceback string `json:"traceback"`
}

// Generate implements Backend.
func (b *HTTPBackend) Generate(ctx context.Context, req Request) (string, error) {
	form := url.Values{}
	form.Set("model", req.Model)
	form.Set("inputs", req.Inputs)
	form.Set("max_new_tokens", strconv.Itoa(req.MaxNewTokens))
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+GeneratePath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hreq.Header.Set("Accept", "application/json")
	resp, err := b.httpClient.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat backend http error: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat reply: %w", err)
	}
	if !out.OK {
		msg := strings.TrimSpace(out.Traceback)
		if msg == "" {
			msg = "backend reported failure"
		}
		return "", errors.New(msg)
	}
	return out.Outputs, nil
}
