package memory

import (
	"context"

	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/errors"
	"brain2-connections/pkg/utils"
)

type historyLedger struct {
	store   *Store
	journal *journal
}

func (h *historyLedger) Record(ctx context.Context, draft history.Draft) (*history.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := history.NewEntryID()
	if err != nil {
		return nil, errors.NewInternalError("failed to generate history id").WithCause(err)
	}
	entry, err := draft.Seal(id, h.store.clock())
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.entries[id] = entry

	s := h.store
	h.journal.record(func() {
		delete(s.entries, id)
	})
	return entry.Clone(), nil
}

func (h *historyLedger) GetByID(ctx context.Context, id string) (*history.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	entry, ok := h.store.entries[id]
	if !ok {
		return nil, errors.NewNotFoundError("History entry")
	}
	return entry.Clone(), nil
}

func (h *historyLedger) QueryByPair(ctx context.Context, pair valueobjects.NodePair, page history.Page) ([]*history.Entry, error) {
	key := pair.Key()
	return h.query(ctx, page, func(e *history.Entry) bool {
		return e.PairKey() == key
	})
}

func (h *historyLedger) QueryByActor(ctx context.Context, actorID string, page history.Page) ([]*history.Entry, error) {
	return h.query(ctx, page, func(e *history.Entry) bool {
		return e.ActorID == actorID
	})
}

func (h *historyLedger) QueryByNodes(ctx context.Context, nodeIDs []string, page history.Page) ([]*history.Entry, error) {
	set := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		set[id] = struct{}{}
	}
	return h.query(ctx, page, func(e *history.Entry) bool {
		return e.Touches(set)
	})
}

func (h *historyLedger) query(ctx context.Context, page history.Page, match func(*history.Entry) bool) ([]*history.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page.Limit <= 0 {
		page.Limit = history.DefaultPageLimit
	}

	matched := h.collect(match)
	window := page.Window(matched)
	out := make([]*history.Entry, len(window))
	for i, e := range window {
		out[i] = e.Clone()
	}
	return out, nil
}

// collect returns matching entries sorted newest first
func (h *historyLedger) collect(match func(*history.Entry) bool) []*history.Entry {
	h.store.mu.RLock()
	matched := make([]*history.Entry, 0)
	for _, e := range h.store.entries {
		if match(e) {
			matched = append(matched, e)
		}
	}
	h.store.mu.RUnlock()

	history.SortNewestFirst(matched)
	return matched
}

func (h *historyLedger) Stats(ctx context.Context, actorID string) (*history.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched := h.collect(func(e *history.Entry) bool {
		return actorID == "" || e.ActorID == actorID
	})

	stats := &history.Stats{RecentActivity: make([]*history.Entry, 0, history.RecentActivityLimit)}
	for _, e := range matched {
		stats.Add(e.ChangeType, 1)
	}
	recent := history.Page{Limit: history.RecentActivityLimit}
	for _, e := range recent.Window(matched) {
		stats.RecentActivity = append(stats.RecentActivity, e.Clone())
	}
	return stats, nil
}

func (h *historyLedger) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if olderThanDays < 0 {
		return 0, errors.NewValidationError("olderThanDays must not be negative")
	}
	cutoff := utils.RetentionCutoff(h.store.clock(), olderThanDays)

	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	removed := make([]*history.Entry, 0)
	for id, e := range h.store.entries {
		if e.CreatedAt.Before(cutoff) {
			removed = append(removed, e)
			delete(h.store.entries, id)
		}
	}

	s := h.store
	h.journal.record(func() {
		for _, e := range removed {
			s.entries[e.ID] = e
		}
	})
	return len(removed), nil
}
