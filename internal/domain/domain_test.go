package domain

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedBackoff(int) time.Duration { return 10 * time.Second }

// --- Schedule ---

func TestSchedule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sched   Schedule
		wantErr bool
	}{
		{"interval ok", Schedule{Kind: ScheduleInterval, EveryMs: 1000}, false},
		{"interval zero", Schedule{Kind: ScheduleInterval}, true},
		{"once ok", Schedule{Kind: ScheduleOnce, At: t0}, false},
		{"cron ok", Schedule{Kind: ScheduleCron, Expr: "*/5 * * * *"}, false},
		{"cron bad expr", Schedule{Kind: ScheduleCron, Expr: "not a cron"}, true},
		{"cron empty", Schedule{Kind: ScheduleCron}, true},
		{"unknown kind", Schedule{Kind: "weekly"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sched.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSchedule_Initial(t *testing.T) {
	at, err := Schedule{Kind: ScheduleInterval, EveryMs: 60000}.Initial(t0)
	require.NoError(t, err)
	assert.Equal(t, t0, at)

	at, err = Schedule{Kind: ScheduleOnce, At: t0.Add(time.Hour)}.Initial(t0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), at)

	at, err = Schedule{Kind: ScheduleOnce}.Initial(t0)
	require.NoError(t, err)
	assert.Equal(t, t0, at)

	at, err = Schedule{Kind: ScheduleCron, Expr: "0 9 * * *"}.Initial(t0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), at)
}

func TestSchedule_Next_IntervalFromNow(t *testing.T) {
	s := Schedule{Kind: ScheduleInterval, EveryMs: 1000}

	// Тик опоздал на 5 секунд — следующий запуск считается от now.
	late := t0.Add(5 * time.Second)
	next, err := s.Next(late)
	require.NoError(t, err)
	assert.Equal(t, late.Add(time.Second), next)
}

func TestSchedule_Next_CronTimezone(t *testing.T) {
	s := Schedule{Kind: ScheduleCron, Expr: "0 9 * * *", Timezone: "Europe/Moscow"}

	next, err := s.Next(t0)
	require.NoError(t, err)
	// 09:00 MSK = 06:00 UTC
	assert.Equal(t, time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), next)
}

func TestSchedule_Next_Once(t *testing.T) {
	_, err := Schedule{Kind: ScheduleOnce}.Next(t0)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

// --- Job transitions ---

func newJob(s Schedule, maxRetries int) *Job {
	return &Job{
		ID:          uuid.New(),
		HireID:      uuid.New(),
		Schedule:    s,
		NextRunAt:   t0,
		ScheduledAt: t0,
		MaxRetries:  maxRetries,
		Status:      JobStatusPending,
	}
}

func TestJob_IsDue(t *testing.T) {
	j := newJob(Schedule{Kind: ScheduleOnce, At: t0}, 3)

	assert.False(t, j.IsDue(t0.Add(-time.Millisecond)))
	assert.True(t, j.IsDue(t0))

	j.MarkLeased("w1", t0, time.Minute)
	assert.False(t, j.IsDue(t0))
	assert.True(t, j.Lease.Live(t0))
	assert.False(t, j.Lease.Live(t0.Add(time.Minute)))
}

func TestJob_RecordSuccess_Once(t *testing.T) {
	j := newJob(Schedule{Kind: ScheduleOnce, At: t0}, 3)
	j.Attempts = 1
	j.MarkLeased("w1", t0, time.Minute)

	require.NoError(t, j.RecordSuccess(t0))
	assert.Equal(t, JobStatusCompleted, j.Status)
	assert.Nil(t, j.Lease)
	assert.Equal(t, 0, j.Attempts)
}

func TestJob_RecordSuccess_Interval(t *testing.T) {
	j := newJob(Schedule{Kind: ScheduleInterval, EveryMs: 1000}, 3)
	j.Attempts = 2
	j.MarkLeased("w1", t0, time.Minute)

	now := t0.Add(5 * time.Second)
	require.NoError(t, j.RecordSuccess(now))
	assert.Equal(t, JobStatusPending, j.Status)
	assert.Equal(t, 0, j.Attempts)
	assert.Equal(t, now.Add(time.Second), j.NextRunAt)
	assert.Equal(t, j.NextRunAt, j.ScheduledAt)
}

func TestJob_RecordFailure_Ceiling(t *testing.T) {
	j := newJob(Schedule{Kind: ScheduleInterval, EveryMs: 1000}, 2)

	retrying := j.RecordFailure(t0, "boom", fixedBackoff)
	assert.True(t, retrying)
	assert.Equal(t, JobStatusPending, j.Status)
	assert.Equal(t, t0.Add(10*time.Second), j.NextRunAt)
	assert.Equal(t, t0, j.ScheduledAt, "scheduled_at is stable across retries")

	retrying = j.RecordFailure(t0, "boom", fixedBackoff)
	assert.False(t, retrying)
	assert.Equal(t, JobStatusFailed, j.Status)
	assert.Equal(t, 2, j.Attempts)
	assert.Equal(t, "boom", j.LastError)
}

func TestJob_RecoverLease(t *testing.T) {
	j := newJob(Schedule{Kind: ScheduleOnce}, 3)
	j.MarkLeased("w1", t0, time.Second)

	assert.True(t, j.RecoverLease(t0.Add(2*time.Second)))
	assert.Equal(t, JobStatusPending, j.Status)
	assert.Equal(t, 1, j.Attempts)
	assert.Nil(t, j.Lease)
	assert.Contains(t, j.LastError, "w1")
	assert.Equal(t, t0, j.NextRunAt)
}

func TestJob_PauseResume(t *testing.T) {
	j := newJob(Schedule{Kind: ScheduleInterval, EveryMs: 1000}, 3)

	assert.True(t, j.Pause(t0))
	assert.True(t, j.Pause(t0), "pause is idempotent")
	assert.Equal(t, JobStatusPaused, j.Status)

	at := t0.Add(time.Hour)
	assert.True(t, j.Resume(t0, at))
	assert.Equal(t, JobStatusPending, j.Status)
	assert.Equal(t, at, j.NextRunAt)

	j.MarkLeased("w1", t0, time.Minute)
	assert.False(t, j.Pause(t0), "leased job cannot be paused")
}

func TestJob_ResumePendingReschedules(t *testing.T) {
	j := newJob(Schedule{Kind: ScheduleOnce, At: t0}, 3)

	at := t0.Add(time.Hour)
	assert.True(t, j.Resume(t0, at))
	assert.Equal(t, JobStatusPending, j.Status)
	assert.Equal(t, at, j.NextRunAt)
	assert.Equal(t, at, j.ScheduledAt)

	j.MarkLeased("w1", t0, time.Minute)
	assert.False(t, j.Resume(t0, t0), "leased job cannot be rescheduled")
}

func TestJob_ResumeFailed(t *testing.T) {
	j := newJob(Schedule{Kind: ScheduleInterval, EveryMs: 1000}, 1)
	j.RecordFailure(t0, "boom", fixedBackoff)
	require.Equal(t, JobStatusFailed, j.Status)

	assert.True(t, j.Resume(t0, t0))
	assert.Equal(t, JobStatusPending, j.Status)
	assert.Equal(t, 0, j.Attempts)
	assert.Empty(t, j.LastError)
}

func TestJob_EffectiveIdempotencyKey(t *testing.T) {
	j := newJob(Schedule{Kind: ScheduleOnce}, 3)
	key := j.EffectiveIdempotencyKey()
	assert.Contains(t, key, j.ID.String())

	// Retry не меняет ключ.
	j.RecordFailure(t0, "boom", fixedBackoff)
	assert.Equal(t, key, j.EffectiveIdempotencyKey())

	j.IdempotencyKey = "explicit"
	assert.Equal(t, "explicit", j.EffectiveIdempotencyKey())
}

func TestLease_Equal(t *testing.T) {
	var a, b *Lease
	assert.True(t, a.Equal(b))

	a = &Lease{WorkerID: "w1", ExpiresAt: t0}
	assert.False(t, a.Equal(nil))
	assert.True(t, a.Equal(&Lease{WorkerID: "w1", ExpiresAt: t0}))
	assert.False(t, a.Equal(&Lease{WorkerID: "w2", ExpiresAt: t0}))
}

// --- Hire ---

func TestHire_Transitions(t *testing.T) {
	h := &Hire{ID: uuid.New(), Status: HireStatusActive}

	assert.True(t, h.Pause(t0))
	assert.True(t, h.Pause(t0))
	assert.Equal(t, HireStatusPaused, h.Status)

	assert.True(t, h.Resume(t0))
	assert.True(t, h.Resume(t0))
	assert.True(t, h.IsActive())

	h.Cancel(t0)
	assert.True(t, h.Status.IsTerminal())
	assert.False(t, h.Pause(t0))
	assert.False(t, h.Resume(t0))
}

func TestAgentRef_Fresh(t *testing.T) {
	cached := t0
	ref := AgentRef{URL: "https://agent.example", Card: &AgentCard{}, CachedAt: &cached}

	_, ok := ref.Fresh(t0.Add(time.Minute), 5*time.Minute)
	assert.True(t, ok)

	_, ok = ref.Fresh(t0.Add(6*time.Minute), 5*time.Minute)
	assert.False(t, ok)
}

func TestAgentCard_Accessors(t *testing.T) {
	card := &AgentCard{
		Entrypoints: map[string]Entrypoint{"summarize": {Price: "0.01"}, "echo": {}},
		Payments:    []PaymentMethod{{Method: "x402", PayTo: "0xabc", Network: "base"}},
	}

	require.NoError(t, card.Validate())
	assert.Equal(t, []string{"echo", "summarize"}, card.EntrypointKeys())
	assert.Equal(t, "0xabc", card.Payee())

	ep, ok := card.Entrypoint("summarize")
	assert.True(t, ok)
	assert.Equal(t, "summarize", ep.Key)

	assert.ErrorIs(t, (&AgentCard{}).Validate(), ErrInvalidAgentCard)
}

func TestJob_Clone(t *testing.T) {
	j := newJob(Schedule{Kind: ScheduleOnce}, 3)
	j.Input = map[string]any{"q": "hello"}
	j.MarkLeased("w1", t0, time.Minute)

	c := j.Clone()
	c.Lease.WorkerID = "w2"
	c.Input.(map[string]any)["q"] = "changed"

	assert.Equal(t, "w1", j.Lease.WorkerID)
	assert.Equal(t, "hello", j.Input.(map[string]any)["q"])
}
