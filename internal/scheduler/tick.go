package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/AgentHire/internal/domain"
	"github.com/shaiso/AgentHire/internal/telemetry"
	"github.com/shaiso/AgentHire/internal/wallet"
	"golang.org/x/sync/errgroup"
)

// TickOptions — параметры одного тика.
type TickOptions struct {
	// WorkerID — владелец lease. Пусто — Config.WorkerID.
	WorkerID string

	// Concurrency — сколько jobs захватить и выполнить параллельно.
	// <= 0 — Config.DefaultConcurrency.
	Concurrency int
}

// TickResult — итог тика.
type TickResult struct {
	Due       int // due jobs, полученных из хранилища
	Claimed   int // успешно захваченных
	Succeeded int
	Retrying  int
	Failed    int
	Skipped   int // hire оказался неактивным, lease снят без попытки
	Lost      int // lease перехвачен до записи результата
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRetrying
	outcomeFailed
	outcomeSkipped
	outcomeLost
)

// Tick выполняет один проход по due jobs.
//
// 1. Получает до MaxDueBatch due jobs (по возрастанию next_run_at)
// 2. Захватывает самые ранние, пока не наберёт Concurrency
// 3. Выполняет захваченные параллельно
//
// Ошибки отдельных jobs записываются в сами jobs и не прерывают тик.
// Ошибка возвращается, только если не удалось получить due jobs.
func (r *Runtime) Tick(ctx context.Context, opts TickOptions) (TickResult, error) {
	start := time.Now()
	defer func() { r.metrics.tick(time.Since(start)) }()

	workerID := opts.WorkerID
	if workerID == "" {
		workerID = r.workerID
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = r.concurrency
	}
	logger := telemetry.WithWorkerID(r.logger, workerID)

	var res TickResult
	now := r.now()

	due, err := r.store.GetDueJobs(ctx, now, r.maxDueBatch)
	if err != nil {
		return res, fmt.Errorf("get due jobs: %w", err)
	}
	res.Due = len(due)
	if len(due) == 0 {
		return res, nil
	}

	claimed := make([]domain.Job, 0, concurrency)
	for i := range due {
		if len(claimed) >= concurrency || ctx.Err() != nil {
			break
		}
		job := due[i]

		ok, err := r.store.ClaimJob(ctx, job.ID, workerID, now, r.lease)
		if err != nil {
			logger.Warn("failed to claim job", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			r.metrics.conflict()
			logger.Debug("job claimed by another worker", "job_id", job.ID)
			continue
		}

		r.metrics.claimed()
		job.MarkLeased(workerID, now, r.lease)
		claimed = append(claimed, job)
	}
	res.Claimed = len(claimed)

	outcomes := make([]outcome, len(claimed))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range claimed {
		g.Go(func() error {
			outcomes[i] = r.execute(ctx, &claimed[i], workerID, logger)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch o {
		case outcomeSucceeded:
			res.Succeeded++
		case outcomeRetrying:
			res.Retrying++
		case outcomeFailed:
			res.Failed++
		case outcomeSkipped:
			res.Skipped++
		case outcomeLost:
			res.Lost++
		}
	}

	level := slog.LevelDebug
	if res.Claimed > 0 {
		level = slog.LevelInfo
	}
	logger.Log(ctx, level, "scheduler tick completed",
		"due", res.Due,
		"claimed", res.Claimed,
		"succeeded", res.Succeeded,
		"retrying", res.Retrying,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"lost", res.Lost,
	)
	return res, nil
}

// execute выполняет один захваченный job и записывает результат.
// job.Lease — lease, под которым job захвачен этим воркером.
func (r *Runtime) execute(ctx context.Context, job *domain.Job, workerID string, logger *slog.Logger) outcome {
	logger = telemetry.WithHireID(telemetry.WithJobID(logger, job.ID.String()), job.HireID.String())
	lease := job.Lease
	start := time.Now()

	// Снимок из GetDueJobs мог устареть до захвата: берём запись под нашим lease.
	if fresh, ok, err := r.store.GetJob(ctx, job.ID); err == nil && ok && fresh.Lease.Equal(lease) {
		job = fresh
	}

	hire, ok, err := r.store.GetHire(ctx, job.HireID)
	if err != nil {
		return r.fail(ctx, job, lease, workerID, fmt.Errorf("get hire: %w", err), start, logger)
	}
	if !ok || !hire.IsActive() {
		return r.release(ctx, job, lease, logger)
	}

	card, err := r.resolveCard(ctx, hire, logger)
	if err != nil {
		return r.fail(ctx, job, lease, workerID, fmt.Errorf("resolve agent card: %w", err), start, logger)
	}
	if _, ok := card.Entrypoint(job.EntrypointKey); !ok {
		return r.fail(ctx, job, lease, workerID, fmt.Errorf("%w: %q", ErrUnknownEntrypoint, job.EntrypointKey), start, logger)
	}

	var conn wallet.Connector
	if r.wallets != nil {
		conn, err = r.wallets(ctx, hire.Wallet)
		if err != nil {
			return r.fail(ctx, job, lease, workerID, fmt.Errorf("resolve wallet: %w", err), start, logger)
		}
	}

	err = r.invoke(telemetry.WithLogger(ctx, logger), InvokeRequest{
		Manifest:        card,
		AgentURL:        hire.Agent.URL,
		EntrypointKey:   job.EntrypointKey,
		Input:           job.Input,
		WalletRef:       hire.Wallet,
		WalletConnector: conn,
		JobID:           job.ID,
		HireID:          job.HireID,
		IdempotencyKey:  job.EffectiveIdempotencyKey(),
	})
	if err != nil {
		return r.fail(ctx, job, lease, workerID, fmt.Errorf("invoke: %w", err), start, logger)
	}
	return r.succeed(ctx, job, lease, workerID, start, logger)
}

func (r *Runtime) succeed(ctx context.Context, job *domain.Job, lease *domain.Lease, workerID string, start time.Time, logger *slog.Logger) outcome {
	now := r.now()
	res, label, evType := outcomeSucceeded, OutcomeSuccess, domain.JobEventSucceeded
	if err := job.RecordSuccess(now); err != nil {
		logger.Error("failed to compute next run, job failed", "error", err)
		res, label, evType = outcomeFailed, OutcomeFailed, domain.JobEventFailed
	}

	if !r.commit(ctx, job, lease, logger) {
		return outcomeLost
	}

	r.metrics.invoked(label, time.Since(start))
	logger.Info("job invoked",
		"status", job.Status,
		"next_run_at", job.NextRunAt,
		"duration", time.Since(start),
	)
	r.publish(ctx, domain.NewJobEvent(evType, job, workerID, now))
	return res
}

func (r *Runtime) fail(ctx context.Context, job *domain.Job, lease *domain.Lease, workerID string, cause error, start time.Time, logger *slog.Logger) outcome {
	now := r.now()
	retrying := job.RecordFailure(now, cause.Error(), Backoff)

	if !r.commit(ctx, job, lease, logger) {
		return outcomeLost
	}

	if retrying {
		r.metrics.invoked(OutcomeRetry, time.Since(start))
		logger.Warn("job attempt failed, retry scheduled",
			"attempts", job.Attempts,
			"max_retries", job.MaxRetries,
			"next_run_at", job.NextRunAt,
			"error", cause,
		)
		r.publish(ctx, domain.NewJobEvent(domain.JobEventRetrying, job, workerID, now))
		return outcomeRetrying
	}

	r.metrics.invoked(OutcomeFailed, time.Since(start))
	logger.Error("job failed, retries exhausted",
		"attempts", job.Attempts,
		"error", cause,
	)
	r.publish(ctx, domain.NewJobEvent(domain.JobEventFailed, job, workerID, now))
	return outcomeFailed
}

// release снимает lease без учёта попытки: hire приостановлен или отменён
// после выборки due jobs.
func (r *Runtime) release(ctx context.Context, job *domain.Job, lease *domain.Lease, logger *slog.Logger) outcome {
	job.ReleaseLease(r.now())
	if !r.commit(ctx, job, lease, logger) {
		return outcomeLost
	}
	logger.Info("hire not active, lease released")
	return outcomeSkipped
}

// commit записывает job, только если он всё ещё захвачен под lease.
func (r *Runtime) commit(ctx context.Context, job *domain.Job, lease *domain.Lease, logger *slog.Logger) bool {
	ok, err := r.store.UpdateJobIf(ctx, job, domain.JobStatusLeased, lease)
	if err != nil {
		logger.Error("failed to record job result", "status", job.Status, "error", err)
		return false
	}
	if !ok {
		logger.Warn("lease lost before result was recorded", "status", job.Status)
		return false
	}
	return true
}

// resolveCard возвращает карточку из кэша hire или загружает её заново,
// если кэш старше AgentCardTTL.
func (r *Runtime) resolveCard(ctx context.Context, hire *domain.Hire, logger *slog.Logger) (*domain.AgentCard, error) {
	now := r.now()
	if card, ok := hire.Agent.Fresh(now, r.cardTTL); ok {
		return card, nil
	}

	card, err := r.cards.FetchAgentCard(ctx, hire.Agent.URL)
	if err != nil {
		return nil, err
	}

	if cache, ok := r.store.(AgentCardCache); ok {
		if err := cache.SaveAgentCard(ctx, hire.ID, card, now); err != nil {
			logger.Warn("failed to cache agent card", "error", err)
		}
	}
	logger.Debug("agent card refreshed", "agent_url", hire.Agent.URL)
	return card, nil
}
