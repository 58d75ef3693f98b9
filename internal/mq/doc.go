// Package mq — транспорт RabbitMQ для воркеров AgentHire.
//
// Хранилище остаётся источником истины: сообщения лишь ускоряют реакцию.
// Потерянный wake-up означает, что job подхватит следующий плановый тик.
//
// Состав:
//   - connection.go — соединение с reconnect
//   - topology.go   — exchanges, очереди, привязки
//   - publisher.go  — wake-ups и события jobs
//   - consumer.go   — чтение очереди jobs.due
//
// Типы сообщений:
//   - job.due   — job стал due (создание hire, AddJob, ResumeJob)
//   - job.event — переход job: succeeded, retrying, failed, recovered
//
// Exchanges:
//   - agenthire.jobs — jobs.due [due], jobs.events [event]
//   - agenthire.dlq  — dlq.jobs [jobs]
package mq
