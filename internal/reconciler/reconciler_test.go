package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/cron"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/registry"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/testutil"
)

type mockSource struct {
	mu   sync.Mutex
	defs []domain.TriggerDefinition
	err  error
}

func (s *mockSource) ListTriggerDefinitions(context.Context) ([]domain.TriggerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.TriggerDefinition, len(s.defs))
	copy(out, s.defs)
	return out, nil
}

func (s *mockSource) set(defs ...domain.TriggerDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = defs
	s.err = nil
}

func (s *mockSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type mockMetrics struct {
	mu         sync.Mutex
	cycles     int
	errors     int
	registered int
	lastCount  int
}

func (m *mockMetrics) TriggersRegistered(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCount = count
}

func (m *mockMetrics) ReconcileCompleted(registered, _, _ int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
	m.registered += registered
	if err != nil {
		m.errors++
	}
}

func def(id, expr, project, pipeline string) domain.TriggerDefinition {
	return domain.TriggerDefinition{
		ID:         id,
		Expression: expr,
		Payload:    domain.JobPayload{ProjectID: project, PipelineID: pipeline},
	}
}

type harness struct {
	source   *mockSource
	registry *registry.Registry
	metrics  *mockMetrics
	rec      *Reconciler
}

func newHarness() *harness {
	clock := testutil.NewFakeClock(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))
	reg := registry.New(registry.Config{Timezone: "UTC"}, cron.NewParser()).WithClock(clock.Now)
	src := &mockSource{}
	m := &mockMetrics{}
	return &harness{
		source:   src,
		registry: reg,
		metrics:  m,
		rec:      New(DefaultConfig(), src, reg).WithMetrics(m),
	}
}

func TestReconcile_RegistersNewDefinitions(t *testing.T) {
	h := newHarness()
	h.source.set(
		def("t1", "0 * * * *", "p1", "j1"),
		def("t2", "15 18 * * 1", "p1", "j2"),
	)

	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Registered: 2}, sum)

	tr, err := h.registry.Get("t2")
	require.NoError(t, err)
	assert.Equal(t, "0 15 18 ? * 2", tr.Expression.String())
	assert.Equal(t, domain.JobPayload{ProjectID: "p1", PipelineID: "j2"}, tr.Payload)

	assert.Equal(t, 2, h.metrics.lastCount)
	assert.Equal(t, 2, h.metrics.registered)
}

func TestReconcile_Idempotent(t *testing.T) {
	h := newHarness()
	h.source.set(def("t1", "0 * * * *", "p1", "j1"))

	_, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)

	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Equal(t, 1, h.registry.Len())
}

func TestReconcile_ReschedulesChangedExpression(t *testing.T) {
	h := newHarness()
	h.source.set(def("t1", "0 * * * *", "p1", "j1"))
	_, _ = h.rec.Reconcile(context.Background())
	before, _ := h.registry.Get("t1")

	h.source.set(def("t1", "30 2 * * *", "p1", "j1"))
	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Rescheduled: 1}, sum)

	after, err := h.registry.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "0 30 2 * * ?", after.Expression.String())
	assert.True(t, before.RegisteredAt.Equal(after.RegisteredAt))
}

func TestReconcile_WhitespaceOnlyChangeIgnored(t *testing.T) {
	h := newHarness()
	h.source.set(def("t1", "0 * * * *", "p1", "j1"))
	_, _ = h.rec.Reconcile(context.Background())

	h.source.set(def(" t1 ", "0  *  * * *", "p1 ", "j1"))
	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestReconcile_ReregistersChangedPayload(t *testing.T) {
	h := newHarness()
	h.source.set(def("t1", "0 * * * *", "p1", "j1"))
	_, _ = h.rec.Reconcile(context.Background())

	h.source.set(def("t1", "0 * * * *", "p1", "j9"))
	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Registered: 1}, sum)

	tr, err := h.registry.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "j9", tr.Payload.PipelineID)
}

func TestReconcile_RemovesMissingDefinitions(t *testing.T) {
	h := newHarness()
	h.source.set(
		def("t1", "0 * * * *", "p1", "j1"),
		def("t2", "0 * * * *", "p1", "j2"),
	)
	_, _ = h.rec.Reconcile(context.Background())

	h.source.set(def("t1", "0 * * * *", "p1", "j1"))
	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Removed: 1}, sum)

	_, err = h.registry.Get("t2")
	assert.ErrorIs(t, err, registry.ErrTriggerNotFound)
}

func TestReconcile_LeavesUnmanagedTriggers(t *testing.T) {
	h := newHarness()
	_, err := h.registry.Register("api", "0 * * * *", domain.JobPayload{ProjectID: "p", PipelineID: "j"})
	require.NoError(t, err)

	h.source.set(def("api", "5 * * * *", "p2", "j2"))
	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	h.source.set()
	sum, err = h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Removed)

	tr, err := h.registry.Get("api")
	require.NoError(t, err)
	assert.Equal(t, "p", tr.Payload.ProjectID)
	assert.Equal(t, "0 0 * * * ?", tr.Expression.String())
}

func TestReconcile_InvalidDefinitionSkipped(t *testing.T) {
	h := newHarness()
	h.source.set(
		def("bad-cron", "0 25 * * *", "p1", "j1"),
		def("bad-payload", "0 * * * *", "p1", ""),
		def("", "0 * * * *", "p1", "j1"),
		def("good", "0 * * * *", "p1", "j1"),
	)

	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Registered: 1, Failed: 3}, sum)
	assert.Equal(t, 1, h.registry.Len())
}

func TestReconcile_BadRescheduleKeepsPrevious(t *testing.T) {
	h := newHarness()
	h.source.set(def("t1", "0 * * * *", "p1", "j1"))
	_, _ = h.rec.Reconcile(context.Background())

	h.source.set(def("t1", "0 9 15 * 1", "p1", "j1"))
	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	tr, _ := h.registry.Get("t1")
	assert.Equal(t, "0 0 * * * ?", tr.Expression.String())

	// A fixed definition is applied on the next cycle.
	h.source.set(def("t1", "0 9 * * 1", "p1", "j1"))
	sum, err = h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Rescheduled)
}

func TestReconcile_DisabledDefinition(t *testing.T) {
	h := newHarness()
	d := def("t1", "0 * * * *", "p1", "j1")
	d.Disabled = true
	h.source.set(d)

	_, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)

	tr, err := h.registry.Get("t1")
	require.NoError(t, err)
	assert.False(t, tr.Enabled)
	assert.Equal(t, domain.TriggerStateDisabled, tr.State)

	d.Disabled = false
	h.source.set(d)
	_, err = h.rec.Reconcile(context.Background())
	require.NoError(t, err)

	tr, _ = h.registry.Get("t1")
	assert.True(t, tr.Enabled)
	assert.Equal(t, domain.TriggerStateScheduled, tr.State)
}

func TestReconcile_SourceErrorKeepsTriggers(t *testing.T) {
	h := newHarness()
	h.source.set(def("t1", "0 * * * *", "p1", "j1"))
	_, _ = h.rec.Reconcile(context.Background())

	h.source.fail(errors.New("connection refused"))
	_, err := h.rec.Reconcile(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, h.registry.Len())
	assert.Equal(t, 1, h.metrics.errors)
}

func TestReconcile_DuplicateIDFirstWins(t *testing.T) {
	h := newHarness()
	h.source.set(
		def("t1", "0 * * * *", "p1", "j1"),
		def("t1", "5 * * * *", "p1", "j2"),
	)

	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Registered)

	tr, _ := h.registry.Get("t1")
	assert.Equal(t, "j1", tr.Payload.PipelineID)
}

func TestRun_NotifyTriggersCycle(t *testing.T) {
	h := newHarness()
	h.rec = New(Config{Interval: time.Hour}, h.source, h.registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.rec.Run(ctx)
		close(done)
	}()

	h.source.set(def("t1", "0 * * * *", "p1", "j1"))
	h.rec.Notify()

	require.Eventually(t, func() bool { return h.registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNotify_NeverBlocks(t *testing.T) {
	h := newHarness()
	for i := 0; i < 10; i++ {
		h.rec.Notify()
	}
}

func TestReconcile_RestoresTriggerRemovedElsewhere(t *testing.T) {
	h := newHarness()
	h.source.set(def("t1", "0 * * * *", "p1", "j1"))
	_, _ = h.rec.Reconcile(context.Background())

	require.NoError(t, h.registry.Unregister("t1"))

	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Registered: 1}, sum)

	tr, err := h.registry.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "j1", tr.Payload.PipelineID)

	sum, err = h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestReconcile_GivesUpTriggerReplacedElsewhere(t *testing.T) {
	h := newHarness()
	h.source.set(def("t1", "0 * * * *", "p1", "j1"))
	_, _ = h.rec.Reconcile(context.Background())

	require.NoError(t, h.registry.Unregister("t1"))
	apiPayload := domain.JobPayload{ProjectID: "api", PipelineID: "api"}
	_, err := h.registry.Register("t1", "0 * * * *", apiPayload)
	require.NoError(t, err)

	h.source.set(def("t1", "*/5 * * * *", "p1", "j1"))
	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, sum)

	tr, err := h.registry.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, apiPayload, tr.Payload)
	assert.Equal(t, "0 0 * * * ?", tr.Expression.String())

	// Dropping the definition does not remove the foreign trigger.
	h.source.set()
	sum, err = h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Removed)

	_, err = h.registry.Get("t1")
	assert.NoError(t, err)
}

func TestReconcile_RemovalSkipsReplacedTrigger(t *testing.T) {
	h := newHarness()
	h.source.set(def("t1", "0 * * * *", "p1", "j1"))
	_, _ = h.rec.Reconcile(context.Background())

	require.NoError(t, h.registry.Unregister("t1"))
	_, err := h.registry.Register("t1", "0 * * * *", domain.JobPayload{ProjectID: "api", PipelineID: "api"})
	require.NoError(t, err)

	h.source.set()
	sum, err := h.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Equal(t, 1, h.registry.Len())
}
