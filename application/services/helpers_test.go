package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brain2-connections/application/ports"
	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/events"
	"brain2-connections/domain/history"
	"brain2-connections/infrastructure/persistence/memory"
	"brain2-connections/pkg/utils"
)

// MockEventPublisher is a testify mock of ports.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	args := m.Called(ctx, evts)
	return args.Error(0)
}

// recordingMetrics counts what the services report
type recordingMetrics struct {
	mu       sync.Mutex
	appends  map[history.ChangeType]int
	outcomes map[string]int
	purged   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{appends: map[history.ChangeType]int{}, outcomes: map[string]int{}}
}

func (m *recordingMetrics) LedgerAppended(c history.ChangeType) {
	m.mu.Lock()
	m.appends[c]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RollbackCompleted(outcome string) {
	m.mu.Lock()
	m.outcomes[outcome]++
	m.mu.Unlock()
}

func (m *recordingMetrics) EntriesPurged(n int) {
	m.mu.Lock()
	m.purged += n
	m.mu.Unlock()
}

func (m *recordingMetrics) outcome(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[name]
}

// fixture wires the services over a memory store
type fixture struct {
	ctx     context.Context
	clock   *utils.SteppingClock
	store   *memory.Store
	metrics *recordingMetrics
	conns   *ConnectionService
	engine  *RollbackEngine
	history *HistoryService
	janitor *RetentionJanitor
	alice   valueobjects.Actor
	bob     valueobjects.Actor
}

func newFixture(t *testing.T, opts RollbackOptions) *fixture {
	t.Helper()
	clock := utils.NewSteppingClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), time.Millisecond)
	store := memory.NewStore(clock.Now, zap.NewNop())
	metrics := newRecordingMetrics()
	logger := zap.NewNop()

	return &fixture{
		ctx:     context.Background(),
		clock:   clock,
		store:   store,
		metrics: metrics,
		conns:   NewConnectionService(store, nil, metrics, logger),
		engine:  NewRollbackEngine(store, nil, metrics, logger, opts),
		history: NewHistoryService(store.History(), logger),
		janitor: NewRetentionJanitor(store.History(), metrics, logger, 0),
		alice:   valueobjects.Actor{ID: "alice", DisplayName: "Alice"},
		bob:     valueobjects.Actor{ID: "bob", DisplayName: "Bob"},
	}
}

func (f *fixture) create(t *testing.T, a, b string, connType entities.ConnectionType, meta map[string]interface{}) *MutationResult {
	t.Helper()
	res, err := f.conns.Create(f.ctx, CreateConnectionCommand{NodeA: a, NodeB: b, Type: connType, Metadata: meta, Actor: f.alice})
	require.NoError(t, err)
	return res
}

func (f *fixture) entryCount(t *testing.T) int {
	t.Helper()
	stats, err := f.store.History().Stats(f.ctx, "")
	require.NoError(t, err)
	return stats.TotalChanges
}

func (f *fixture) pair(t *testing.T, a, b string) valueobjects.NodePair {
	t.Helper()
	p, err := valueobjects.NewNodePairFromStrings(a, b)
	require.NoError(t, err)
	return p
}

// hookedStore wraps a store so tests can corrupt reads or inject faults
type hookedStore struct {
	ports.Store
	onGetEntry   func(*history.Entry) *history.Entry
	onFindByPair func()
}

func (h *hookedStore) History() ports.HistoryLedger {
	return &hookedLedger{HistoryLedger: h.Store.History(), hooks: h}
}

func (h *hookedStore) Connections() ports.ConnectionStore {
	return &hookedConnections{ConnectionStore: h.Store.Connections(), hooks: h}
}

func (h *hookedStore) Within(ctx context.Context, pair valueobjects.NodePair, fn func(ctx context.Context, tx ports.Tx) error) error {
	return h.Store.Within(ctx, pair, func(ctx context.Context, tx ports.Tx) error {
		return fn(ctx, &hookedTx{tx: tx, hooks: h})
	})
}

type hookedTx struct {
	tx    ports.Tx
	hooks *hookedStore
}

func (t *hookedTx) Connections() ports.ConnectionStore {
	return &hookedConnections{ConnectionStore: t.tx.Connections(), hooks: t.hooks}
}

func (t *hookedTx) History() ports.HistoryLedger {
	return &hookedLedger{HistoryLedger: t.tx.History(), hooks: t.hooks}
}

type hookedLedger struct {
	ports.HistoryLedger
	hooks *hookedStore
}

func (l *hookedLedger) GetByID(ctx context.Context, id string) (*history.Entry, error) {
	e, err := l.HistoryLedger.GetByID(ctx, id)
	if err == nil && l.hooks.onGetEntry != nil {
		e = l.hooks.onGetEntry(e)
	}
	return e, err
}

type hookedConnections struct {
	ports.ConnectionStore
	hooks *hookedStore
}

func (c *hookedConnections) FindByPair(ctx context.Context, pair valueobjects.NodePair) (*entities.Connection, error) {
	if c.hooks.onFindByPair != nil {
		c.hooks.onFindByPair()
	}
	return c.ConnectionStore.FindByPair(ctx, pair)
}
