// Package agentcard загружает agent card удалённого агента по его базовому URL.
//
// Карточка ищется по нескольким известным путям; кэшированием и TTL
// управляет планировщик, а не этот пакет.
package agentcard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/AgentHire/internal/domain"
)

// ErrAgentCardNotFound — ни один из кандидатов не вернул валидную карточку.
var ErrAgentCardNotFound = errors.New("agent card not found")

const (
	defaultTimeout = 10 * time.Second

	// maxCardSize — предел размера ответа с карточкой.
	maxCardSize = 1 << 20
)

// wellKnownPaths — пути, которые пробуются относительно базового URL.
var wellKnownPaths = []string{
	"/.well-known/agent-card.json",
	"/.well-known/agent.json",
	"/agentcard.json",
}

// Attempt — результат одной попытки загрузки.
type Attempt struct {
	URL    string
	Reason string
}

// NotFoundError перечисляет все опробованные URL с причинами отказа.
type NotFoundError struct {
	BaseURL  string
	Attempts []Attempt
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent card not found for %s", e.BaseURL)
	for i, a := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s (%s)", a.URL, a.Reason)
	}
	return b.String()
}

func (e *NotFoundError) Unwrap() error { return ErrAgentCardNotFound }

// Config — параметры Fetcher.
type Config struct {
	// Client — HTTP-клиент. По умолчанию клиент с таймаутом Timeout.
	Client *http.Client

	// Timeout — таймаут одного запроса. Default: 10s.
	Timeout time.Duration
}

// Fetcher загружает agent card по HTTP.
type Fetcher struct {
	client *http.Client
}

// New создаёт Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{client: cfg.Client}
}

// FetchAgentCard пробует кандидатов по порядку и возвращает первую валидную карточку.
//
// 404 не считается ошибкой: кандидат просто пропускается. Прочие ответы,
// ошибки транспорта и невалидные карточки записываются в NotFoundError.
func (f *Fetcher) FetchAgentCard(ctx context.Context, baseURL string) (*domain.AgentCard, error) {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		return nil, &NotFoundError{BaseURL: baseURL}
	}

	nf := &NotFoundError{BaseURL: base}
	for _, u := range Candidates(base) {
		card, reason := f.try(ctx, u)
		if card != nil {
			return card, nil
		}
		nf.Attempts = append(nf.Attempts, Attempt{URL: u, Reason: reason})

		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch agent card: %w", ctx.Err())
		}
	}
	return nil, nf
}

// try загружает одного кандидата. При неудаче возвращает причину.
func (f *Fetcher) try(ctx context.Context, u string) (*domain.AgentCard, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "invalid url: " + err.Error()
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "HTTP 404"
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCardSize))
	if err != nil {
		return nil, "read body: " + err.Error()
	}

	var card domain.AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, "decode: " + err.Error()
	}
	if err := card.Validate(); err != nil {
		return nil, err.Error()
	}
	for key, ep := range card.Entrypoints {
		ep.Key = key
		card.Entrypoints[key] = ep
	}
	return &card, ""
}

// Candidates возвращает URL-кандидатов без повторов.
//
// Если URL уже указывает на ресурс (суффикс .json или путь /.well-known/),
// он пробуется первым как есть.
func Candidates(baseURL string) []string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")

	out := make([]string, 0, len(wellKnownPaths)+1)
	seen := make(map[string]struct{}, len(wellKnownPaths)+1)
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	if strings.HasSuffix(base, ".json") || strings.Contains(base, "/.well-known/") {
		add(base)
		base = origin(base)
	}
	for _, p := range wellKnownPaths {
		add(base + p)
	}
	return out
}

// origin отрезает путь ресурса, оставляя базу агента.
func origin(u string) string {
	if i := strings.Index(u, "/.well-known/"); i >= 0 {
		return u[:i]
	}
	if i := strings.LastIndex(u, "/"); i > strings.Index(u, "://")+2 {
		return u[:i]
	}
	return u
}
