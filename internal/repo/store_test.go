package repo

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/AgentHire/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHire(status domain.HireStatus) *domain.Hire {
	return &domain.Hire{
		ID:        uuid.New(),
		Agent:     domain.AgentRef{URL: "https://agent.example"},
		Wallet:    domain.WalletRef{ID: "wallet-1", Address: "0xpayer"},
		Status:    status,
		Metadata:  map[string]any{"team": "ops"},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func newPendingJob(hireID uuid.UUID, nextRun time.Time) *domain.Job {
	return &domain.Job{
		ID:            uuid.New(),
		HireID:        hireID,
		EntrypointKey: "summarize",
		Input:         map[string]any{"q": "hello"},
		Schedule:      domain.Schedule{Kind: domain.ScheduleInterval, EveryMs: 60000},
		NextRunAt:     nextRun,
		ScheduledAt:   nextRun,
		MaxRetries:    3,
		Status:        domain.JobStatusPending,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

// storeSuite прогоняет общий контракт Store на конкретном бэкенде.
func storeSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("hire round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		_, ok, err := s.GetHire(ctx, uuid.New())
		require.NoError(t, err)
		assert.False(t, ok)

		h := newHire(domain.HireStatusActive)
		require.NoError(t, s.PutHire(ctx, h))

		got, ok, err := s.GetHire(ctx, h.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, h.Agent.URL, got.Agent.URL)
		assert.Equal(t, h.Wallet, got.Wallet)
		assert.Equal(t, "ops", got.Metadata["team"])
		assert.True(t, got.CreatedAt.Equal(t0))

		card := &domain.AgentCard{Name: "summarizer", Entrypoints: map[string]domain.Entrypoint{"summarize": {}}}
		require.NoError(t, s.SaveAgentCard(ctx, h.ID, card, t0))
		got, _, err = s.GetHire(ctx, h.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Agent.Card)
		assert.Equal(t, "summarizer", got.Agent.Card.Name)
		require.NotNil(t, got.Agent.CachedAt)
		assert.True(t, got.Agent.CachedAt.Equal(t0))

		assert.ErrorIs(t, s.SaveAgentCard(ctx, uuid.New(), card, t0), ErrNotFound)
	})

	t.Run("hire status update compares status", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		h := newHire(domain.HireStatusPaused)
		require.NoError(t, s.PutHire(ctx, h))
		card := &domain.AgentCard{Name: "summarizer"}
		require.NoError(t, s.SaveAgentCard(ctx, h.ID, card, t0))

		later := t0.Add(time.Minute)
		ok, err := s.UpdateHireStatusIf(ctx, h.ID, domain.HireStatusActive, domain.HireStatusCanceled, later)
		require.NoError(t, err)
		assert.False(t, ok, "stale expected status")

		ok, err = s.UpdateHireStatusIf(ctx, h.ID, domain.HireStatusPaused, domain.HireStatusActive, later)
		require.NoError(t, err)
		assert.True(t, ok)

		got, _, err := s.GetHire(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.HireStatusActive, got.Status)
		assert.True(t, got.UpdatedAt.Equal(later))
		require.NotNil(t, got.Agent.Card, "card is left untouched")
		assert.Equal(t, "summarizer", got.Agent.Card.Name)

		ok, err = s.UpdateHireStatusIf(ctx, uuid.New(), domain.HireStatusActive, domain.HireStatusPaused, later)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("due jobs ordered and filtered by hire status", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		active := newHire(domain.HireStatusActive)
		paused := newHire(domain.HireStatusPaused)
		require.NoError(t, s.PutHire(ctx, active))
		require.NoError(t, s.PutHire(ctx, paused))

		late := newPendingJob(active.ID, t0.Add(-time.Minute))
		early := newPendingJob(active.ID, t0.Add(-time.Hour))
		future := newPendingJob(active.ID, t0.Add(time.Hour))
		blocked := newPendingJob(paused.ID, t0.Add(-time.Hour))
		for _, j := range []*domain.Job{late, early, future, blocked} {
			require.NoError(t, s.PutJob(ctx, j))
		}

		due, err := s.GetDueJobs(ctx, t0, 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, early.ID, due[0].ID)
		assert.Equal(t, late.ID, due[1].ID)
		assert.Equal(t, "hello", due[0].Input.(map[string]any)["q"])

		due, err = s.GetDueJobs(ctx, t0, 1)
		require.NoError(t, err)
		assert.Len(t, due, 1)

		jobs, err := s.ListJobsByHire(ctx, active.ID)
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
	})

	t.Run("claim is exclusive", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		h := newHire(domain.HireStatusActive)
		require.NoError(t, s.PutHire(ctx, h))
		j := newPendingJob(h.ID, t0)
		require.NoError(t, s.PutJob(ctx, j))

		const workers = 8
		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.ClaimJob(ctx, j.ID, "w"+string(rune('a'+i)), t0, time.Minute)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		got, _, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusLeased, got.Status)
		require.NotNil(t, got.Lease)
		assert.True(t, got.Lease.ExpiresAt.Equal(t0.Add(time.Minute)))

		due, err := s.GetDueJobs(ctx, t0, 10)
		require.NoError(t, err)
		assert.Empty(t, due, "leased job is never due")
	})

	t.Run("claim rejects paused hire and future job", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		h := newHire(domain.HireStatusPaused)
		require.NoError(t, s.PutHire(ctx, h))
		j := newPendingJob(h.ID, t0)
		require.NoError(t, s.PutJob(ctx, j))

		ok, err := s.ClaimJob(ctx, j.ID, "w1", t0, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		active := newHire(domain.HireStatusActive)
		require.NoError(t, s.PutHire(ctx, active))
		future := newPendingJob(active.ID, t0.Add(time.Hour))
		require.NoError(t, s.PutJob(ctx, future))

		ok, err = s.ClaimJob(ctx, future.ID, "w1", t0, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.ClaimJob(ctx, uuid.New(), "w1", t0, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("update if compares status and lease", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		h := newHire(domain.HireStatusActive)
		require.NoError(t, s.PutHire(ctx, h))
		j := newPendingJob(h.ID, t0)
		require.NoError(t, s.PutJob(ctx, j))

		ok, err := s.ClaimJob(ctx, j.ID, "w1", t0, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		leased, _, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		lease := leased.Lease

		done := leased.Clone()
		require.NoError(t, done.RecordSuccess(t0.Add(time.Second)))

		stale := &domain.Lease{WorkerID: "w2", ExpiresAt: lease.ExpiresAt}
		ok, err = s.UpdateJobIf(ctx, done, domain.JobStatusLeased, stale)
		require.NoError(t, err)
		assert.False(t, ok, "foreign lease must not win")

		ok, err = s.UpdateJobIf(ctx, done, domain.JobStatusLeased, lease)
		require.NoError(t, err)
		assert.True(t, ok)

		got, _, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, got.Status)
		assert.Nil(t, got.Lease)
		assert.True(t, got.NextRunAt.Equal(t0.Add(time.Second+time.Minute)))

		ok, err = s.UpdateJobIf(ctx, done, domain.JobStatusLeased, lease)
		require.NoError(t, err)
		assert.False(t, ok, "second write with the old lease is rejected")

		paused := got.Clone()
		paused.Pause(t0)
		ok, err = s.UpdateJobIf(ctx, paused, domain.JobStatusPending, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired leases", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		h := newHire(domain.HireStatusActive)
		require.NoError(t, s.PutHire(ctx, h))
		j := newPendingJob(h.ID, t0)
		require.NoError(t, s.PutJob(ctx, j))

		ok, err := s.ClaimJob(ctx, j.ID, "w1", t0, time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		expired, err := s.GetExpiredLeases(ctx, t0)
		require.NoError(t, err)
		assert.Empty(t, expired)

		expired, err = s.GetExpiredLeases(ctx, t0.Add(2*time.Second))
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "w1", expired[0].Lease.WorkerID)
	})

	t.Run("delete hire removes jobs", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		h := newHire(domain.HireStatusActive)
		require.NoError(t, s.PutHire(ctx, h))
		j := newPendingJob(h.ID, t0)
		require.NoError(t, s.PutJob(ctx, j))

		require.NoError(t, s.DeleteHire(ctx, h.ID))

		_, ok, err := s.GetHire(ctx, h.ID)
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_PutJobUnknownHire(t *testing.T) {
	s := NewMemoryStore()
	err := s.PutJob(context.Background(), newPendingJob(uuid.New(), t0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	h := newHire(domain.HireStatusActive)
	require.NoError(t, s.PutHire(ctx, h))
	h.Status = domain.HireStatusCanceled

	got, _, err := s.GetHire(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HireStatusActive, got.Status)
}

func TestSQLiteStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "agenthire.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "agenthire.db"))
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Migrate(context.Background()))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("AGENTHIRE_TEST_DB_URL")
	if dsn == "" {
		t.Skip("AGENTHIRE_TEST_DB_URL not set")
	}

	storeSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := Open(ctx, DriverPostgres, dsn)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx))
		_, err = s.(*PostgresStore).pool.Exec(ctx, `TRUNCATE hires CASCADE`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mongo", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)

	s, err := Open(context.Background(), "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
