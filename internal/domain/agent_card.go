package domain

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidAgentCard — карточка агента не содержит entrypoints.
var ErrInvalidAgentCard = errors.New("invalid agent card")

// AgentCard — опубликованный манифест агента.
//
// Нас интересуют только entrypoints и адрес получателя платежей,
// остальные поля формата игнорируются.
type AgentCard struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Version     string `json:"version,omitempty"`

	// Entrypoints — платные точки входа агента по ключу.
	Entrypoints map[string]Entrypoint `json:"entrypoints"`

	// Payments — способы приёма оплаты.
	Payments []PaymentMethod `json:"payments,omitempty"`
}

// Entrypoint — одна точка входа агента.
type Entrypoint struct {
	Key         string `json:"key,omitempty"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price,omitempty"`
	Network     string `json:"network,omitempty"`
}

// PaymentMethod — способ приёма оплаты агентом.
type PaymentMethod struct {
	Method  string `json:"method,omitempty"`
	PayTo   string `json:"payee,omitempty"`
	Network string `json:"network,omitempty"`
}

// Validate проверяет, что карточка пригодна для вызова.
func (c *AgentCard) Validate() error {
	if c == nil || len(c.Entrypoints) == 0 {
		return fmt.Errorf("%w: no entrypoints", ErrInvalidAgentCard)
	}
	return nil
}

// Entrypoint возвращает точку входа по ключу.
func (c *AgentCard) Entrypoint(key string) (Entrypoint, bool) {
	ep, ok := c.Entrypoints[key]
	if ok && ep.Key == "" {
		ep.Key = key
	}
	return ep, ok
}

// EntrypointKeys возвращает отсортированный список ключей.
func (c *AgentCard) EntrypointKeys() []string {
	keys := make([]string, 0, len(c.Entrypoints))
	for k := range c.Entrypoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Payee возвращает адрес получателя платежей (первый из Payments).
func (c *AgentCard) Payee() string {
	for _, p := range c.Payments {
		if p.PayTo != "" {
			return p.PayTo
		}
	}
	return ""
}
