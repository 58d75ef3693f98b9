package repo

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shaiso/AgentHire/internal/domain"
)

// hireBlobs — JSON-поля hire, общие для SQL-хранилищ.
type hireBlobs struct {
	card     []byte
	wallet   []byte
	metadata []byte
}

func encodeHire(h *domain.Hire) (hireBlobs, error) {
	var b hireBlobs
	var err error
	if h.Agent.Card != nil {
		if b.card, err = json.Marshal(h.Agent.Card); err != nil {
			return b, fmt.Errorf("marshal agent card: %w", err)
		}
	}
	if b.wallet, err = json.Marshal(h.Wallet); err != nil {
		return b, fmt.Errorf("marshal wallet: %w", err)
	}
	if h.Metadata != nil {
		if b.metadata, err = json.Marshal(h.Metadata); err != nil {
			return b, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	return b, nil
}

func decodeHire(h *domain.Hire, b hireBlobs) error {
	if len(b.card) > 0 {
		var card domain.AgentCard
		if err := json.Unmarshal(b.card, &card); err != nil {
			return fmt.Errorf("unmarshal agent card: %w", err)
		}
		h.Agent.Card = &card
	}
	if err := json.Unmarshal(b.wallet, &h.Wallet); err != nil {
		return fmt.Errorf("unmarshal wallet: %w", err)
	}
	if len(b.metadata) > 0 {
		if err := json.Unmarshal(b.metadata, &h.Metadata); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return nil
}

// jobBlobs — JSON-поля job.
type jobBlobs struct {
	input    []byte
	schedule []byte
}

func encodeJob(j *domain.Job) (jobBlobs, error) {
	var b jobBlobs
	var err error
	if j.Input != nil {
		if b.input, err = json.Marshal(j.Input); err != nil {
			return b, fmt.Errorf("marshal input: %w", err)
		}
	}
	if b.schedule, err = json.Marshal(j.Schedule); err != nil {
		return b, fmt.Errorf("marshal schedule: %w", err)
	}
	return b, nil
}

func decodeJob(j *domain.Job, b jobBlobs) error {
	if len(b.input) > 0 {
		if err := json.Unmarshal(b.input, &j.Input); err != nil {
			return fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if err := json.Unmarshal(b.schedule, &j.Schedule); err != nil {
		return fmt.Errorf("unmarshal schedule: %w", err)
	}
	return nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// prefixed добавляет алиас таблицы к каждой колонке списка.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
