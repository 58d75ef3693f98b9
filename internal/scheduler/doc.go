// Package scheduler реализует движок выполнения hires по расписанию.
//
// Runtime — чистая машина состояний поверх Store: не держит таймеров
// и блокировок, его вызывает внешний драйвер (internal/worker).
//
// Структура:
//   - runtime.go  — Config, New, операции над hires и jobs
//   - tick.go     — Tick: выборка due jobs, захват, вызов, запись результата
//   - recovery.go — RecoverExpiredLeases
//   - backoff.go  — задержка retry
//   - store.go    — контракт хранилища
//   - invoke.go   — InvokeFunc и внешние зависимости
//   - metrics.go  — Prometheus-метрики
//
// Использование:
//
//	rt, err := scheduler.New(scheduler.Config{
//	    Store:      store,
//	    AgentCards: agentcard.New(agentcard.Config{}),
//	    Invoke:     invoke.NewHTTPInvoker(invoke.Config{}).Invoke,
//	    Logger:     logger,
//	})
//
//	// Вызывается драйвером на каждом тике
//	res, err := rt.Tick(ctx, scheduler.TickOptions{WorkerID: "worker-1"})
//
// Несколько воркеров могут вызывать Tick над одним хранилищем одновременно:
// корректность держится на атомарности Store.ClaimJob, а результат
// записывается через Store.UpdateJobIf только под собственным lease.
package scheduler
