// Package wallet разрешает WalletRef в коннектор с правом подписи платежей.
//
// Коннектор живёт только в памяти и только на время одного вызова:
// в хранилище попадает лишь WalletRef.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/shaiso/AgentHire/internal/domain"
)

// ErrWalletNotFound — для WalletRef не зарегистрирован коннектор.
var ErrWalletNotFound = errors.New("wallet not found")

// Connector — непрозрачная возможность подписи платежей от имени плательщика.
type Connector interface {
	// Address возвращает публичный адрес плательщика.
	Address() string

	// PaymentHeader строит значение заголовка X-PAYMENT для требований
	// из ответа 402. Формат требований определяется платёжным протоколом.
	PaymentHeader(ctx context.Context, requirements json.RawMessage) (string, error)
}

// Resolver разрешает WalletRef в Connector.
type Resolver func(ctx context.Context, ref domain.WalletRef) (Connector, error)

// Registry — реестр коннекторов по WalletRef.ID.
//
// Передаётся в планировщик явно; глобального состояния нет.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register добавляет или заменяет коннектор для walletID.
func (r *Registry) Register(walletID string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[walletID] = c
}

// Unregister удаляет коннектор.
func (r *Registry) Unregister(walletID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connectors, walletID)
}

// Resolve реализует Resolver.
func (r *Registry) Resolve(_ context.Context, ref domain.WalletRef) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[ref.ID]
	if !ok {
		return nil, fmt.Errorf("resolve wallet %q: %w", ref.ID, ErrWalletNotFound)
	}
	return c, nil
}

// Resolver возвращает метод Resolve как функцию.
func (r *Registry) Resolver() Resolver {
	return r.Resolve
}

// StaticConnector — коннектор с заранее выданным платёжным заголовком.
// Подходит для тестов и для кошельков, где подпись выполняется снаружи.
type StaticConnector struct {
	Addr   string
	Header string
}

func (c StaticConnector) Address() string { return c.Addr }

func (c StaticConnector) PaymentHeader(context.Context, json.RawMessage) (string, error) {
	if c.Header == "" {
		return "", fmt.Errorf("wallet %s: no payment header configured", c.Addr)
	}
	return c.Header, nil
}
