// Package wati wraps the WATI WhatsApp provider's HTTP API for outbound
// messaging and operator assignment.
package wati

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ironlady-tech/wati-support/internal/dedup"
	"github.com/ironlady-tech/wati-support/internal/identity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBaseURL    = "https://live-server.wati.io/api/v1"
	defaultUserAgent  = "wati-support-gateway/0.1"
	defaultTimeout    = 12 * time.Second
	defaultMaxButtons = 3
)

// Config controls how the WATI client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string

	// MaxButtons caps interactive button labels per message. WhatsApp
	// allows at most three; zero uses that limit.
	MaxButtons int

	// Dedup suppresses identical text sends within the resend window.
	// Optional; nil disables suppression.
	Dedup dedup.Cache
}

// Client issues outbound calls against the WATI REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	maxButtons int
	dedup      dedup.Cache
	tracer     trace.Tracer
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("wati: API key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	maxButtons := cfg.MaxButtons
	if maxButtons <= 0 || maxButtons > defaultMaxButtons {
		maxButtons = defaultMaxButtons
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
		maxButtons: maxButtons,
		dedup:      cfg.Dedup,
		tracer:     otel.Tracer("watisupport.internal.wati"),
	}, nil
}

// SendResult is the uniform outcome of one gateway operation. Failures are
// carried in Err; they are never raised as panics and never retried here.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	// Suppressed marks a send skipped by the dedup fingerprint; it counts
	// as success with no provider id.
	Suppressed bool
	Err        error
}

func failure(err error) SendResult {
	return SendResult{Err: err}
}

// SendText sends a plain session text message. Identical content to the
// same phone inside the suppression window reports success without
// transmitting.
func (c *Client) SendText(ctx context.Context, phone, text string) SendResult {
	phone = identity.NormalizePhone(phone)
	if phone == "" || strings.TrimSpace(text) == "" {
		return failure(errors.New("wati: phone and text required"))
	}
	if c.dedup != nil {
		ok, err := c.dedup.MayResend(ctx, phone, text)
		if err != nil {
			c.logger.Warn("wati dedup check failed, sending anyway", "error", err, "phone", phone)
		} else if !ok {
			c.logger.Info("wati send suppressed by fingerprint", "phone", phone)
			return SendResult{Success: true, Suppressed: true}
		}
	}
	q := url.Values{}
	q.Set("messageText", text)
	return c.invoke(ctx, http.MethodPost, "/sendSessionMessage/"+phone, q, nil)
}

// SendInteractiveButtons sends a body with up to maxButtons reply buttons.
func (c *Client) SendInteractiveButtons(ctx context.Context, phone, body string, labels []string) SendResult {
	phone = identity.NormalizePhone(phone)
	if phone == "" || strings.TrimSpace(body) == "" {
		return failure(errors.New("wati: phone and body required"))
	}
	if len(labels) == 0 {
		return failure(errors.New("wati: at least one button label required"))
	}
	if len(labels) > c.maxButtons {
		labels = labels[:c.maxButtons]
	}
	type button struct {
		Text string `json:"text"`
	}
	payload := struct {
		Body    string   `json:"body"`
		Buttons []button `json:"buttons"`
	}{Body: body}
	for _, l := range labels {
		payload.Buttons = append(payload.Buttons, button{Text: l})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return failure(err)
	}
	q := url.Values{}
	q.Set("whatsappNumber", phone)
	return c.invoke(ctx, http.MethodPost, "/sendInteractiveButtonsMessage", q, raw)
}

// SendMedia sends a hosted file with a caption.
func (c *Client) SendMedia(ctx context.Context, phone, mediaURL, caption string) SendResult {
	phone = identity.NormalizePhone(phone)
	if phone == "" || strings.TrimSpace(mediaURL) == "" {
		return failure(errors.New("wati: phone and media url required"))
	}
	payload := struct {
		URL     string `json:"url"`
		Caption string `json:"caption,omitempty"`
	}{URL: mediaURL, Caption: caption}
	raw, err := json.Marshal(payload)
	if err != nil {
		return failure(err)
	}
	return c.invoke(ctx, http.MethodPost, "/sendSessionFile/"+phone, nil, raw)
}

// AssignOperator routes the conversation to a human operator.
func (c *Client) AssignOperator(ctx context.Context, phone, operatorEmail string) SendResult {
	phone = identity.NormalizePhone(phone)
	if phone == "" || strings.TrimSpace(operatorEmail) == "" {
		return failure(errors.New("wati: phone and operator email required"))
	}
	q := url.Values{}
	q.Set("whatsappNumber", phone)
	q.Set("operatorEmail", operatorEmail)
	return c.invoke(ctx, http.MethodPost, "/assignOperator", q, nil)
}

// UnassignOperator returns the conversation to the bot.
func (c *Client) UnassignOperator(ctx context.Context, phone string) SendResult {
	phone = identity.NormalizePhone(phone)
	if phone == "" {
		return failure(errors.New("wati: phone required"))
	}
	q := url.Values{}
	q.Set("whatsappNumber", phone)
	return c.invoke(ctx, http.MethodPost, "/unassignOperator", q, nil)
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte) SendResult {
	ctx, span := c.tracer.Start(ctx, "wati.invoke")
	defer span.End()

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return failure(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("wati request failed", "path", path, "error", err)
		return failure(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		span.RecordError(err)
		return failure(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &apiError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
		span.RecordError(err)
		c.logger.Warn("wati non-2xx response", "path", path, "status", resp.StatusCode)
		return failure(err)
	}
	return decodeResult(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
