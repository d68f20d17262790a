package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	domainGateway "outreach_engine/internal/domain/gateway"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing gateway requests.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap maps unknown or closed instances to the domain error.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return domainGateway.ErrInstanceNotConnected
	}
	return nil
}

// HTTPClient talks to an Evolution-style WhatsApp gateway.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter RateLimiter
	logger      *logrus.Entry
}

// NewHTTPClient builds a client with a fixed request timeout and a
// process-wide request rate.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, rps float64, logger *logrus.Entry) *HTTPClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &HTTPClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(limit, 1),
		logger:      logger.WithField("component", "gateway"),
	}
}

type numberCheck struct {
	Exists bool   `json:"exists"`
	JID    string `json:"jid"`
	Number string `json:"number"`
}

func (c *HTTPClient) VerifyPhone(ctx context.Context, instance, phone string) (bool, error) {
	var out []numberCheck
	body := map[string][]string{"numbers": {phone}}
	if err := c.do(ctx, http.MethodPost, "/chat/whatsappNumbers/"+url.PathEscape(instance), body, &out); err != nil {
		return false, err
	}
	for _, n := range out {
		if n.Exists {
			return true, nil
		}
	}
	return false, nil
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

func (c *HTTPClient) SendText(ctx context.Context, instance, phone, text string) (string, error) {
	var out sendResponse
	if err := c.do(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(instance), sendTextRequest{Number: phone, Text: text}, &out); err != nil {
		return "", err
	}
	return out.Key.ID, nil
}

type sendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	MimeType  string `json:"mimetype"`
	Caption   string `json:"caption,omitempty"`
	Media     string `json:"media"`
	FileName  string `json:"fileName"`
}

func (c *HTTPClient) SendMedia(ctx context.Context, instance, phone string, media domainGateway.Media) error {
	req := sendMediaRequest{
		Number:    phone,
		MediaType: media.Type,
		MimeType:  media.MimeType,
		Caption:   media.Caption,
		Media:     media.Base64,
		FileName:  media.FileName,
	}
	return c.do(ctx, http.MethodPost, "/message/sendMedia/"+url.PathEscape(instance), req, nil)
}

type connectionStateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

func (c *HTTPClient) ConnectionState(ctx context.Context, instance string) (domainGateway.ConnectionState, error) {
	var out connectionStateResponse
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(instance), nil, &out); err != nil {
		return "", err
	}
	return domainGateway.ConnectionState(out.Instance.State), nil
}

// ConnectResult carries the pairing data returned by the gateway.
type ConnectResult struct {
	PairingCode string `json:"pairingCode,omitempty"`
	Code        string `json:"code,omitempty"`
	Base64      string `json:"base64,omitempty"`
}

// Connect asks the gateway for a QR code / pairing code for the instance.
func (c *HTTPClient) Connect(ctx context.Context, instance string) (*ConnectResult, error) {
	out := &ConnectResult{}
	if err := c.do(ctx, http.MethodGet, "/instance/connect/"+url.PathEscape(instance), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) Restart(ctx context.Context, instance string) error {
	return c.do(ctx, http.MethodPost, "/instance/restart/"+url.PathEscape(instance), nil, nil)
}

func (c *HTTPClient) Logout(ctx context.Context, instance string) error {
	return c.do(ctx, http.MethodDelete, "/instance/logout/"+url.PathEscape(instance), nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("gateway rate limiter: %w", err)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode gateway request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("X-Request-ID", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"status":     resp.StatusCode,
		"request_id": requestID,
		"took":       time.Since(started),
	}).Debug("Gateway call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
