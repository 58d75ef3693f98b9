// Package telemetry обеспечивает наблюдаемость сервисов.
//
// logging.go — structured logging через slog: JSON в production,
// text для разработки, логгер передаётся через context.
//
// Метрики регистрируются там, где они измеряются (scheduler.Metrics),
// и отдаются на /metrics через promhttp.
package telemetry
