package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"brain2-connections/application/ports"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/errors"
)

const (
	// MaxNodeSetSize bounds node-set queries
	MaxNodeSetSize = 100

	// maxLineageDepth bounds provenance walks
	maxLineageDepth = 100
)

// HistoryPage is one page of entries. HasMore is exact: the service reads
// one row past the page to decide it.
type HistoryPage struct {
	Entries []*history.Entry `json:"entries"`
	HasMore bool             `json:"hasMore"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// HistoryService is the read side of the ledger
type HistoryService struct {
	ledger ports.HistoryLedger
	logger *zap.Logger
}

// NewHistoryService creates a new history service
func NewHistoryService(ledger ports.HistoryLedger, logger *zap.Logger) *HistoryService {
	return &HistoryService{ledger: ledger, logger: logger}
}

// Get returns one entry
func (s *HistoryService) Get(ctx context.Context, historyID string) (*history.Entry, error) {
	if historyID == "" {
		return nil, errors.NewValidationError("history ID is required")
	}
	return s.ledger.GetByID(ctx, historyID)
}

// ByPair pages through the entries of a node pair in either order
func (s *HistoryService) ByPair(ctx context.Context, nodeA, nodeB string, page history.Page) (*HistoryPage, error) {
	pair, err := valueobjects.NewNodePairFromStrings(nodeA, nodeB)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	return s.paged(page, func(p history.Page) ([]*history.Entry, error) {
		return s.ledger.QueryByPair(ctx, pair, p)
	})
}

// ByActor pages through the entries recorded by one actor
func (s *HistoryService) ByActor(ctx context.Context, actorID string, page history.Page) (*HistoryPage, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, errors.NewValidationError("actor ID is required")
	}
	return s.paged(page, func(p history.Page) ([]*history.Entry, error) {
		return s.ledger.QueryByActor(ctx, actorID, p)
	})
}

// ByNodes pages through entries touching any node of the set
func (s *HistoryService) ByNodes(ctx context.Context, nodeIDs []string, page history.Page) (*HistoryPage, error) {
	set := make([]string, 0, len(nodeIDs))
	seen := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		set = append(set, id)
	}
	if len(set) == 0 {
		return nil, errors.NewValidationError("at least one node ID is required")
	}
	if len(set) > MaxNodeSetSize {
		return nil, errors.NewValidationError("too many node IDs")
	}
	return s.paged(page, func(p history.Page) ([]*history.Entry, error) {
		return s.ledger.QueryByNodes(ctx, set, p)
	})
}

// Stats aggregates the ledger, scoped to actorID when set
func (s *HistoryService) Stats(ctx context.Context, actorID string) (*history.Stats, error) {
	return s.ledger.Stats(ctx, strings.TrimSpace(actorID))
}

// Lineage follows rollback provenance from historyID back to the change
// that started the chain. The requested entry comes first. A chain whose
// older links were purged ends at the oldest surviving entry.
func (s *HistoryService) Lineage(ctx context.Context, historyID string) ([]*history.Entry, error) {
	entry, err := s.Get(ctx, historyID)
	if err != nil {
		return nil, err
	}

	chain := []*history.Entry{entry}
	seen := map[string]struct{}{entry.ID: {}}
	for len(chain) < maxLineageDepth {
		parentID, ok := chain[len(chain)-1].RolledBackFrom()
		if !ok {
			break
		}
		if _, loop := seen[parentID]; loop {
			s.logger.Warn("Provenance cycle detected", zap.String("historyID", historyID), zap.String("at", parentID))
			break
		}
		parent, err := s.ledger.GetByID(ctx, parentID)
		if errors.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, err
		}
		seen[parent.ID] = struct{}{}
		chain = append(chain, parent)
	}
	return chain, nil
}

func (s *HistoryService) paged(page history.Page, fetch func(history.Page) ([]*history.Entry, error)) (*HistoryPage, error) {
	page = page.Normalize()
	entries, err := fetch(page.Probe())
	if err != nil {
		return nil, err
	}
	hasMore := len(entries) > page.Limit
	if hasMore {
		entries = entries[:page.Limit]
	}
	return &HistoryPage{Entries: entries, HasMore: hasMore, Limit: page.Limit, Offset: page.Offset}, nil
}
