package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/AgentHire/internal/agentcard"
	"github.com/shaiso/AgentHire/internal/domain"
	"github.com/shaiso/AgentHire/internal/invoke"
	"github.com/shaiso/AgentHire/internal/mq"
	"github.com/shaiso/AgentHire/internal/repo"
	"github.com/shaiso/AgentHire/internal/scheduler"
	"github.com/shaiso/AgentHire/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine считает вызовы и записывает опции тиков.
type fakeEngine struct {
	mu         sync.Mutex
	order      []string
	opts       []scheduler.TickOptions
	recoverErr error
	tickErr    error

	ticks atomic.Int32
}

func (f *fakeEngine) RecoverExpiredLeases(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "recover")
	return 0, f.recoverErr
}

func (f *fakeEngine) Tick(_ context.Context, opts scheduler.TickOptions) (scheduler.TickResult, error) {
	f.mu.Lock()
	f.order = append(f.order, "tick")
	f.opts = append(f.opts, opts)
	err := f.tickErr
	f.mu.Unlock()
	f.ticks.Add(1)
	return scheduler.TickResult{}, err
}

func newWorker(t *testing.T, engine Engine, interval time.Duration) *Worker {
	t.Helper()
	w, err := New(Config{
		Runtime:      engine,
		TickInterval: interval,
		Concurrency:  2,
		WorkerID:     "w1",
		Logger:       telemetry.Discard(),
	})
	require.NoError(t, err)
	return w
}

func TestNew_RequiresRuntime(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoRuntime)
}

func TestRunOnce_RecoversThenTicks(t *testing.T) {
	engine := &fakeEngine{}
	w := newWorker(t, engine, time.Hour)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"recover", "tick"}, engine.order)
	assert.Equal(t, scheduler.TickOptions{WorkerID: "w1", Concurrency: 2}, engine.opts[0])
}

func TestRunOnce_RecoveryErrorDoesNotBlockTick(t *testing.T) {
	engine := &fakeEngine{recoverErr: errors.New("db down")}
	w := newWorker(t, engine, time.Hour)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), engine.ticks.Load())
}

func TestRunOnce_ReturnsTickError(t *testing.T) {
	engine := &fakeEngine{tickErr: errors.New("get due jobs: boom")}
	w := newWorker(t, engine, time.Hour)

	_, err := w.RunOnce(context.Background())
	assert.ErrorContains(t, err, "boom")
}

func TestStart_TicksImmediatelyAndOnInterval(t *testing.T) {
	engine := &fakeEngine{}
	w := newWorker(t, engine, 10*time.Millisecond)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool { return engine.ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestStart_Twice(t *testing.T) {
	w := newWorker(t, &fakeEngine{}, time.Hour)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)
}

func TestWake_TriggersImmediateTick(t *testing.T) {
	engine := &fakeEngine{}
	w := newWorker(t, engine, time.Hour)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool { return engine.ticks.Load() == 1 }, time.Second, 5*time.Millisecond)

	w.Wake()
	require.Eventually(t, func() bool { return engine.ticks.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHandleJobDue_Wakes(t *testing.T) {
	w := newWorker(t, &fakeEngine{}, time.Hour)

	err := w.handleJobDue(context.Background(), &mq.Message{
		ID:      "m1",
		Type:    mq.MessageTypeJobDue,
		Payload: mq.JobDuePayload{JobID: uuid.New()},
	})
	require.NoError(t, err)
	assert.Len(t, w.wakeCh, 1)

	// Сигналы сливаются, а чужие типы игнорируются.
	require.NoError(t, w.handleJobDue(context.Background(), &mq.Message{Type: mq.MessageTypeJobDue}))
	require.NoError(t, w.handleJobDue(context.Background(), &mq.Message{Type: mq.MessageTypeJobEvent}))
	assert.Len(t, w.wakeCh, 1)
}

func TestStop_Idempotent(t *testing.T) {
	w := newWorker(t, &fakeEngine{}, time.Hour)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
	assert.True(t, w.IsStopped())
}

// --- end-to-end: Runtime + MemoryStore + HTTP agent ---

type agentServer struct {
	*httptest.Server
	calls atomic.Int32
	keys  sync.Map
}

func newAgentServer(t *testing.T) *agentServer {
	t.Helper()
	a := &agentServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agent-card.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":        "echo-agent",
			"entrypoints": map[string]any{"echo": map[string]any{"description": "echo input"}},
		})
	})
	mux.HandleFunc("/entrypoints/echo/invoke", func(w http.ResponseWriter, r *http.Request) {
		a.calls.Add(1)
		a.keys.Store(r.Header.Get(invoke.HeaderIdempotencyKey), true)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"output":"ok"}`))
	})
	a.Server = httptest.NewServer(mux)
	t.Cleanup(a.Close)
	return a
}

func TestWorker_RunsDueJobEndToEnd(t *testing.T) {
	agent := newAgentServer(t)
	store := repo.NewMemoryStore()

	rt, err := scheduler.New(scheduler.Config{
		Store:      store,
		AgentCards: agentcard.New(agentcard.Config{Timeout: time.Second}),
		Invoke:     invoke.NewHTTPInvoker(invoke.Config{Timeout: time.Second}).Invoke,
		Logger:     telemetry.Discard(),
		WorkerID:   "w1",
	})
	require.NoError(t, err)

	w, err := New(Config{Runtime: rt, TickInterval: 10 * time.Millisecond, Logger: telemetry.Discard()})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	_, job, err := rt.CreateHire(context.Background(), scheduler.CreateHireRequest{
		AgentURL:      agent.URL,
		Wallet:        domain.WalletRef{ID: "wallet-1", Address: "0xpayer"},
		EntrypointKey: "echo",
		Schedule:      domain.Schedule{Kind: domain.ScheduleOnce},
		Input:         map[string]any{"text": "hi"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok, err := rt.GetJob(context.Background(), job.ID)
		return err == nil && ok && got.Status == domain.JobStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), agent.calls.Load())
	_, ok := agent.keys.Load(job.EffectiveIdempotencyKey())
	assert.True(t, ok, "agent received the job's idempotency key")
}
