package scheduler

import (
	"context"

	"github.com/google/uuid"
	"github.com/shaiso/AgentHire/internal/domain"
	"github.com/shaiso/AgentHire/internal/wallet"
)

// InvokeRequest — всё, что нужно для одного вызова entrypoint агента.
type InvokeRequest struct {
	// Manifest — актуальная agent card (с учётом TTL кэша).
	Manifest *domain.AgentCard

	// AgentURL — базовый URL агента из hire.
	AgentURL string

	EntrypointKey string
	Input         any

	WalletRef domain.WalletRef

	// WalletConnector — nil, если резолвер кошельков не настроен.
	WalletConnector wallet.Connector

	JobID  uuid.UUID
	HireID uuid.UUID

	// IdempotencyKey стабилен для всех попыток одного запуска.
	IdempotencyKey string
}

// InvokeFunc выполняет HTTP-вызов с оплатой. Любая ошибка — неудачная попытка.
type InvokeFunc func(ctx context.Context, req InvokeRequest) error

// AgentCardFetcher загружает agent card по базовому URL.
type AgentCardFetcher interface {
	FetchAgentCard(ctx context.Context, baseURL string) (*domain.AgentCard, error)
}

// EventPublisher публикует события о переходах jobs.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, ev domain.JobEvent) error
}
