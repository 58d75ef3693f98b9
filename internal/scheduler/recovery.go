package scheduler

import (
	"context"
	"fmt"

	"github.com/shaiso/AgentHire/internal/domain"
	"github.com/shaiso/AgentHire/internal/telemetry"
)

// RecoverExpiredLeases возвращает в очередь jobs, чей lease истёк без записи
// результата (воркер считается упавшим). Истёкший lease засчитывается как
// неудачная попытка. Возвращает число восстановленных jobs.
//
// Если хранилище не умеет искать истёкшие lease (нет LeaseScanner), — (0, nil).
func (r *Runtime) RecoverExpiredLeases(ctx context.Context) (int, error) {
	scanner, ok := r.store.(LeaseScanner)
	if !ok {
		return 0, nil
	}

	now := r.now()
	expired, err := scanner.GetExpiredLeases(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("get expired leases: %w", err)
	}

	recovered := 0
	for i := range expired {
		job := &expired[i]
		lease := job.Lease
		if job.Status != domain.JobStatusLeased || lease.Live(now) {
			continue
		}
		logger := telemetry.WithJobID(r.logger, job.ID.String())

		requeued := job.RecoverLease(now)
		ok, err := r.store.UpdateJobIf(ctx, job, domain.JobStatusLeased, lease)
		if err != nil {
			logger.Error("failed to recover lease", "error", err)
			continue
		}
		if !ok {
			// Воркер успел записать результат или job восстановил другой процесс.
			continue
		}

		recovered++
		logger.Warn("expired lease recovered",
			"hire_id", job.HireID,
			"lease_worker_id", lease.WorkerID,
			"attempts", job.Attempts,
			"requeued", requeued,
		)
		r.publish(ctx, domain.NewJobEvent(domain.JobEventRecovered, job, "", now))
	}

	r.metrics.recovered(recovered)
	return recovered, nil
}
