package domain

import (
	"time"

	"github.com/google/uuid"
)

// Hire — постоянное соглашение: вызывать entrypoint одного агента (payee)
// за счёт одного кошелька (payer).
//
// Один hire порождает один или несколько Job.
// Каждый job выполняется по своему расписанию.
type Hire struct {
	// ID — уникальный идентификатор hire.
	ID uuid.UUID `json:"id"`

	// Agent — ссылка на удалённого агента (URL + кэш agent card).
	Agent AgentRef `json:"agent"`

	// Wallet — ссылка на кошелёк плательщика.
	// Только идентифицирующие метаданные, никаких секретов.
	Wallet WalletRef `json:"wallet"`

	// Status — текущий статус hire.
	Status HireStatus `json:"status"`

	// Metadata — произвольные метаданные.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive возвращает true, если jobs этого hire можно выполнять.
func (h *Hire) IsActive() bool {
	return h.Status == HireStatusActive
}

// Pause приостанавливает hire. Возвращает false, если переход невозможен.
// Повторная пауза — no-op.
func (h *Hire) Pause(now time.Time) bool {
	switch h.Status {
	case HireStatusActive:
		h.Status = HireStatusPaused
		h.UpdatedAt = now
		return true
	case HireStatusPaused:
		return true
	default:
		return false
	}
}

// Resume возобновляет hire. Возвращает false, если hire отменён.
func (h *Hire) Resume(now time.Time) bool {
	switch h.Status {
	case HireStatusPaused:
		h.Status = HireStatusActive
		h.UpdatedAt = now
		return true
	case HireStatusActive:
		return true
	default:
		return false
	}
}

// Cancel отменяет hire навсегда.
func (h *Hire) Cancel(now time.Time) {
	if h.Status == HireStatusCanceled {
		return
	}
	h.Status = HireStatusCanceled
	h.UpdatedAt = now
}

// AgentRef — указатель на манифест удалённого агента.
type AgentRef struct {
	// URL — базовый URL агента (или полный URL agent card).
	URL string `json:"url"`

	// Card — закэшированная agent card.
	Card *AgentCard `json:"card,omitempty"`

	// CachedAt — когда Card была получена.
	CachedAt *time.Time `json:"cached_at,omitempty"`
}

// Fresh возвращает закэшированную карточку, если она не старше ttl.
// Устаревшая карточка считается отсутствующей.
func (r *AgentRef) Fresh(now time.Time, ttl time.Duration) (*AgentCard, bool) {
	if r.Card == nil || r.CachedAt == nil {
		return nil, false
	}
	if now.Sub(*r.CachedAt) > ttl {
		return nil, false
	}
	return r.Card, true
}

// WalletRef — сериализуемая ссылка на кошелёк плательщика.
//
// Разрешается в живой коннектор (с правом подписи) только на время одного вызова.
type WalletRef struct {
	// ID — идентификатор кошелька во внешней подсистеме.
	ID string `json:"id"`

	// Kind — тип коннектора (например, "local", "server", "thirdweb").
	Kind string `json:"kind,omitempty"`

	// Address — публичный адрес плательщика.
	Address string `json:"address,omitempty"`

	// Network — сеть (например, "base-sepolia").
	Network string `json:"network,omitempty"`

	// Metadata — дополнительные публичные атрибуты.
	Metadata map[string]string `json:"metadata,omitempty"`
}
