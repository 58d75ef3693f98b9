package domain

import (
	"encoding/json"
	"maps"
)

// Clone возвращает глубокую копию hire.
func (h *Hire) Clone() *Hire {
	if h == nil {
		return nil
	}
	c := *h
	c.Metadata = cloneAny(h.Metadata)
	c.Wallet.Metadata = maps.Clone(h.Wallet.Metadata)
	if h.Agent.Card != nil {
		c.Agent.Card = h.Agent.Card.Clone()
	}
	if h.Agent.CachedAt != nil {
		t := *h.Agent.CachedAt
		c.Agent.CachedAt = &t
	}
	return &c
}

// Clone возвращает глубокую копию карточки.
func (c *AgentCard) Clone() *AgentCard {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Entrypoints = maps.Clone(c.Entrypoints)
	if c.Payments != nil {
		cp.Payments = append([]PaymentMethod(nil), c.Payments...)
	}
	return &cp
}

// Clone возвращает глубокую копию job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Lease != nil {
		l := *j.Lease
		c.Lease = &l
	}
	c.Input = cloneAny(j.Input)
	return &c
}

// cloneAny копирует JSON-совместимое значение через сериализацию.
// Значения, которые не сериализуются, возвращаются как есть.
func cloneAny[T any](v T) T {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
