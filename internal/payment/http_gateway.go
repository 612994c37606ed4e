package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// HTTPGateway speaks a JSON REST processor API authenticated with a bearer key.
type HTTPGateway struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *logger.Logger
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *HTTPGateway {
	return &HTTPGateway{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
		logger:  log.WithComponent("payment_gateway"),
	}
}

type authorizeBody struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
	Reference     string `json:"reference"`
}

type intentResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	DeclineReason string `json:"decline_reason"`
}

// Authorize is not retried: a retried authorization could hold funds twice.
func (g *HTTPGateway) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	body := authorizeBody{
		Amount:        req.Amount.StringFixed(2),
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		Reference:     req.OrderID.String(),
	}
	var out intentResponse
	status, err := g.post(ctx, "/v1/payment_intents", req.OrderID.String(), body, &out)
	if err != nil {
		return "", err
	}
	if status == http.StatusPaymentRequired || out.Status == "declined" {
		return "", &DeclineError{Reason: out.DeclineReason}
	}
	if status >= 300 {
		return "", fmt.Errorf("payment processor returned %d", status)
	}
	return out.ID, nil
}

func (g *HTTPGateway) Capture(ctx context.Context, ref string, amount decimal.Decimal) error {
	return g.retry(ctx, "/v1/payment_intents/"+ref+"/capture", "capture-"+ref, map[string]string{"amount": amount.StringFixed(2)})
}

func (g *HTTPGateway) Void(ctx context.Context, ref string) error {
	return g.retry(ctx, "/v1/payment_intents/"+ref+"/cancel", "void-"+ref, struct{}{})
}

func (g *HTTPGateway) Refund(ctx context.Context, ref string, amount decimal.Decimal) error {
	return g.retry(ctx, "/v1/refunds", "refund-"+ref, map[string]string{"payment_intent": ref, "amount": amount.StringFixed(2)})
}

// retry repeats idempotent calls on transport errors and 5xx responses.
func (g *HTTPGateway) retry(ctx context.Context, path, idempotencyKey string, body any) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		status, err := g.post(ctx, path, idempotencyKey, body, nil)
		if err != nil {
			return struct{}{}, err
		}
		if status >= 500 {
			return struct{}{}, fmt.Errorf("payment processor returned %d", status)
		}
		if status >= 300 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("payment processor returned %d", status))
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(4))
	if err != nil {
		g.logger.Warn("Payment call failed", "path", path, "error", err)
	}
	return err
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, fmt.Errorf("failed to decode processor response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
