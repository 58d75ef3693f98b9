// Package invoke — вызов entrypoint удалённого агента по HTTP с оплатой.
package invoke

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

	"github.com/shaiso/AgentHire/internal/scheduler"
	"github.com/shaiso/AgentHire/internal/telemetry"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRate      = 10
	maxErrorBodySize = 200
)

// Заголовки запроса.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderPayer          = "X-Payer-Address"
	HeaderPayment        = "X-PAYMENT"
)

var (
	// ErrInvoke — агент вернул ошибку или запрос не удался.
	ErrInvoke = errors.New("invoke failed")

	// ErrPaymentRequired — агент требует оплату, а подписанта нет
	// или повторный запрос с оплатой тоже получил 402.
	ErrPaymentRequired = errors.New("payment required")
)

// Config — параметры HTTPInvoker.
type Config struct {
	// Client — HTTP-клиент. По умолчанию http.DefaultClient.
	Client *http.Client

	// Timeout — таймаут одного вызова, включая повтор с оплатой. Default: 30s.
	Timeout time.Duration

	// RatePerSec — предел исходящих вызовов в секунду. Default: 10.
	RatePerSec int
}

// HTTPInvoker — функция вызова по умолчанию.
//
// POST {agentURL}/entrypoints/{key}/invoke с телом {"input": ...}.
// На 402 при наличии коннектора кошелька получает заголовок оплаты
// и повторяет запрос один раз с X-PAYMENT.
type HTTPInvoker struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// NewHTTPInvoker создаёт HTTPInvoker.
func NewHTTPInvoker(cfg Config) *HTTPInvoker {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRate
	}
	return &HTTPInvoker{
		client:  cfg.Client,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Invoke реализует scheduler.InvokeFunc.
func (h *HTTPInvoker) Invoke(ctx context.Context, req scheduler.InvokeRequest) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	endpoint, err := EntrypointURL(req.AgentURL, req.EntrypointKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvoke, err)
	}
	body, err := json.Marshal(map[string]any{"input": req.Input})
	if err != nil {
		return fmt.Errorf("%w: marshal input: %v", ErrInvoke, err)
	}

	status, respBody, err := h.post(ctx, endpoint, body, req, "")
	if err != nil {
		return err
	}

	if status == http.StatusPaymentRequired {
		if req.WalletConnector == nil {
			return fmt.Errorf("%w: no wallet connector for %s", ErrPaymentRequired, endpoint)
		}
		payment, err := req.WalletConnector.PaymentHeader(ctx, json.RawMessage(respBody))
		if err != nil {
			return fmt.Errorf("%w: sign payment: %v", ErrPaymentRequired, err)
		}
		telemetry.FromContext(ctx).Debug("retrying with payment",
			"endpoint", endpoint,
			"payer", payerAddress(req),
		)
		status, respBody, err = h.post(ctx, endpoint, body, req, payment)
		if err != nil {
			return err
		}
		if status == http.StatusPaymentRequired {
			return fmt.Errorf("%w: payment rejected by %s: %s", ErrPaymentRequired, endpoint, truncate(string(respBody)))
		}
	}

	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrInvoke, status, truncate(string(respBody)))
	}
	return nil
}

func (h *HTTPInvoker) post(ctx context.Context, endpoint string, body []byte, req scheduler.InvokeRequest, payment string) (int, []byte, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("%w: rate limit: %v", ErrInvoke, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: create request: %v", ErrInvoke, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(HeaderIdempotencyKey, req.IdempotencyKey)
	}
	if payer := payerAddress(req); payer != "" {
		httpReq.Header.Set(HeaderPayer, payer)
	}
	if payment != "" {
		httpReq.Header.Set(HeaderPayment, payment)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvoke, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", ErrInvoke, err)
	}
	return resp.StatusCode, respBody, nil
}

// EntrypointURL строит URL вызова: {agentURL}/entrypoints/{key}/invoke.
// Если agentURL указывает на файл agent card, берётся его origin.
func EntrypointURL(agentURL, key string) (string, error) {
	if key == "" {
		return "", errors.New("entrypoint key is required")
	}
	u, err := url.Parse(strings.TrimSpace(agentURL))
	if err != nil {
		return "", fmt.Errorf("parse agent url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("agent url %q is not absolute", agentURL)
	}

	p := u.Path
	if i := strings.Index(p, "/.well-known/"); i >= 0 {
		p = p[:i]
	} else if strings.HasSuffix(p, ".json") {
		p = p[:strings.LastIndex(p, "/")]
	}
	base := strings.TrimRight(p, "/")
	// RawPath сохраняет "/" внутри ключа как %2F.
	u.Path = base + "/entrypoints/" + key + "/invoke"
	u.RawPath = (&url.URL{Path: base}).EscapedPath() + "/entrypoints/" + url.PathEscape(key) + "/invoke"
	u.RawQuery = ""
	return u.String(), nil
}

func payerAddress(req scheduler.InvokeRequest) string {
	if req.WalletConnector != nil {
		if addr := req.WalletConnector.Address(); addr != "" {
			return addr
		}
	}
	return req.WalletRef.Address
}

func truncate(s string) string {
	if len(s) <= maxErrorBodySize {
		return s
	}
	return s[:maxErrorBodySize] + "..."
}
