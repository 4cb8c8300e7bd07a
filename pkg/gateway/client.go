package gateway

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

	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const (
	defaultTimeout            = 10 * time.Second
	responseBodyLimit   int64 = 1 << 20
	errorBodyLimit      int64 = 1024
	defaultBreakerFails       = 5
)

var errSecretRequired = errors.New("gateway secret key is required")

// Client talks to the payment gateway REST API. Every call runs through a
// circuit breaker so a dead gateway fails fast instead of stalling checkouts.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	secretKey   string
	currency    string
	callbackURL string
	breaker     *gobreaker.CircuitBreaker[[]byte]
	metrics     *metrics.PaymentMetrics
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMetrics records call latency on m.
func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// apiError is a non-2xx gateway response.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gateway status %d: %s", e.status, e.message)
}

// NewClient builds a gateway client from config.
func NewClient(cfg config.GatewayConfig, opts ...Option) (*Client, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretRequired
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFails
	}

	client := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     base,
		secretKey:   secret,
		currency:    strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		callbackURL: strings.TrimSpace(cfg.CallbackURL),
	}
	client.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *apiError
			if errors.As(err, &apiErr) {
				return apiErr.status < http.StatusInternalServerError
			}
			return err == nil
		},
	})

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize registers a transaction for reference and returns the hosted payment page.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if strings.TrimSpace(req.Reference) == "" || strings.TrimSpace(req.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference and email are required")
	}
	if req.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	currency := req.Currency
	if currency == "" {
		currency = c.currency
	}
	callback := req.CallbackURL
	if callback == "" {
		callback = c.callbackURL
	}
	body := map[string]any{
		"reference": req.Reference,
		"email":     req.Email,
		"amount":    req.AmountMinor,
		"currency":  currency,
	}
	if callback != "" {
		body["callback_url"] = callback
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	data, err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "initialize transaction")
	}
	var out struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode initialize response")
	}
	if out.AuthorizationURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway returned no authorization url")
	}
	if out.Reference == "" {
		out.Reference = req.Reference
	}
	if out.Reference != req.Reference {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway returned a different reference").
			WithDetails(map[string]any{"requested": req.Reference, "returned": out.Reference})
	}
	return &InitializeResult{
		Reference:        out.Reference,
		AuthorizationURL: out.AuthorizationURL,
		AccessCode:       out.AccessCode,
	}, nil
}

// Verify fetches the current state of the transaction for reference.
func (c *Client) Verify(ctx context.Context, reference string) (*Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	data, err := c.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
			return nil, ErrTransactionNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "verify transaction")
	}
	var out struct {
		Reference string     `json:"reference"`
		Status    string     `json:"status"`
		Amount    int64      `json:"amount"`
		Currency  string     `json:"currency"`
		PaidAt    *time.Time `json:"paid_at"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode verify response")
	}
	if out.Reference == "" {
		out.Reference = reference
	}
	return &Transaction{
		Reference:   out.Reference,
		Status:      strings.ToLower(out.Status),
		AmountMinor: out.Amount,
		Currency:    out.Currency,
		PaidAt:      out.PaidAt,
	}, nil
}

// Refund asks the gateway to return money for reference. A zero amount refunds in full.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if strings.TrimSpace(req.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	body := map[string]any{"transaction": req.Reference}
	if req.AmountMinor > 0 {
		body["amount"] = req.AmountMinor
	}
	if req.Reason != "" {
		body["merchant_note"] = req.Reason
	}
	data, err := c.do(ctx, "refund", http.MethodPost, "/refund", body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "refund transaction")
	}
	var out struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
		Amount int64       `json:"amount"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode refund response")
	}
	return &RefundResult{ID: out.ID.String(), Status: out.Status, AmountMinor: out.Amount}, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body any) ([]byte, error) {
	start := time.Now()
	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, body)
	})
	c.metrics.ObserveGateway(operation, err, time.Since(start))
	return data, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, &apiError{status: resp.StatusCode, message: strings.TrimSpace(string(msg))}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Status {
		return nil, &apiError{status: http.StatusUnprocessableEntity, message: env.Message}
	}
	return env.Data, nil
}
