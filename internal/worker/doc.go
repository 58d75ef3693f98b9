// Package worker — долгоживущий драйвер планировщика.
//
// Worker не хранит состояния jobs: на каждом шаге он вызывает
// Runtime.RecoverExpiredLeases и Runtime.Tick, а взаимное исключение
// между экземплярами обеспечивает атомарный claim хранилища.
//
// Шаг выполняется:
//   - по таймеру TickInterval (polling)
//   - сразу при сообщении job.due из очереди jobs.due, если задан Conn
//   - сразу при вызове Wake
//
// Шаги выполняются строго последовательно в одной горутине.
// Сигналы пробуждения, пришедшие во время шага, сливаются в один.
//
//	w, err := worker.New(worker.Config{
//	    Runtime:      rt,
//	    Conn:         mqConn, // nil — только polling
//	    TickInterval: time.Second,
//	    Logger:       logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop()
package worker
