package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"brain2-connections/application/ports"
	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/utils"
)

// Store is an in-memory implementation of the connection store, the history
// ledger and the unit of work. It backs tests and local development.
//
// Writes made inside Within are applied immediately and undone if the unit
// of work fails, so concurrent readers of other pairs may briefly observe
// uncommitted state.
type Store struct {
	mu          sync.RWMutex
	connections map[string]*entities.Connection // by connection id
	pairIndex   map[string]string               // pair key -> connection id
	entries     map[string]*history.Entry

	clock  utils.Clock
	locks  *pairLocks
	logger *zap.Logger
}

// NewStore creates an empty store. A nil clock means the system clock.
func NewStore(clock utils.Clock, logger *zap.Logger) *Store {
	if clock == nil {
		clock = utils.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		connections: make(map[string]*entities.Connection),
		pairIndex:   make(map[string]string),
		entries:     make(map[string]*history.Entry),
		clock:       clock,
		locks:       newPairLocks(),
		logger:      logger,
	}
}

// Connections returns the store outside any unit of work
func (s *Store) Connections() ports.ConnectionStore {
	return &connectionStore{store: s}
}

// History returns the ledger outside any unit of work
func (s *Store) History() ports.HistoryLedger {
	return &historyLedger{store: s}
}

// Within runs fn while holding the pair's lock. If fn returns an error or
// panics, every write it made is reverted before the lock is released.
func (s *Store) Within(ctx context.Context, pair valueobjects.NodePair, fn func(ctx context.Context, tx ports.Tx) error) (err error) {
	unlock, err := s.locks.acquire(ctx, pair.Key())
	if err != nil {
		return err
	}
	defer unlock()

	j := &journal{}
	t := &tx{
		connections: &connectionStore{store: s, journal: j},
		history:     &historyLedger{store: s, journal: j},
	}

	committed := false
	defer func() {
		if !committed {
			s.rollback(j)
		}
	}()

	if err := fn(ctx, t); err != nil {
		s.logger.Debug("Unit of work discarded",
			zap.String("pair", pair.Key()),
			zap.Int("writes", len(j.undo)),
			zap.Error(err),
		)
		return err
	}
	committed = true
	return nil
}

func (s *Store) rollback(j *journal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

type tx struct {
	connections *connectionStore
	history     *historyLedger
}

func (t *tx) Connections() ports.ConnectionStore { return t.connections }
func (t *tx) History() ports.HistoryLedger       { return t.history }

// journal collects undo steps; each runs with Store.mu held
type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) {
	if j != nil {
		j.undo = append(j.undo, fn)
	}
}

var (
	_ ports.Store = (*Store)(nil)
)
