package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/errors"
	"brain2-connections/pkg/utils"
)

const historyColumns = `id, connection_id, node_a, node_b, change_type, actor_id, actor_display_name,
  before_state, after_state, metadata, reason, created_at`

const newestFirst = ` ORDER BY created_at DESC, id DESC`

type historyLedger struct {
	q     queryer
	clock utils.Clock
}

func scanEntry(row interface{ Scan(...interface{}) error }) (*history.Entry, error) {
	var (
		e                       history.Entry
		connectionID            sql.NullString
		changeType              string
		before, after, metadata sql.NullString
		createdAt               int64
	)
	if err := row.Scan(&e.ID, &connectionID, &e.NodeA, &e.NodeB, &changeType, &e.ActorID, &e.ActorDisplayName,
		&before, &after, &metadata, &e.Reason, &createdAt); err != nil {
		return nil, err
	}
	e.ChangeType = history.ChangeType(changeType)
	e.CreatedAt = fromNanos(createdAt)
	if connectionID.Valid {
		id := connectionID.String
		e.ConnectionID = &id
	}

	var err error
	if before.Valid {
		if e.BeforeState, err = history.DecodeSnapshot([]byte(before.String)); err != nil {
			return nil, err
		}
	}
	if after.Valid {
		if e.AfterState, err = history.DecodeSnapshot([]byte(after.String)); err != nil {
			return nil, err
		}
	}
	if e.Metadata, err = decodeJSON(metadata); err != nil {
		return nil, err
	}
	return &e, nil
}

func (h *historyLedger) Record(ctx context.Context, draft history.Draft) (*history.Entry, error) {
	id, err := history.NewEntryID()
	if err != nil {
		return nil, errors.NewInternalError("failed to generate history id").WithCause(err)
	}
	entry, err := draft.Seal(id, h.clock())
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	before, err := history.EncodeSnapshot(entry.BeforeState)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	after, err := history.EncodeSnapshot(entry.AfterState)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	meta, err := encodeJSON(entry.Metadata)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	var connectionID sql.NullString
	if entry.ConnectionID != nil {
		connectionID = sql.NullString{String: *entry.ConnectionID, Valid: true}
	}

	_, err = h.q.ExecContext(ctx, `
INSERT INTO connection_history (id, connection_id, node_a, node_b, pair_key, change_type, actor_id,
  actor_display_name, before_state, after_state, metadata, reason, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, connectionID, entry.NodeA, entry.NodeB, entry.PairKey(), string(entry.ChangeType),
		entry.ActorID, entry.ActorDisplayName, nullableBytes(before), nullableBytes(after), meta,
		entry.Reason, toNanos(entry.CreatedAt),
	)
	if err != nil {
		return nil, errors.NewDatabaseError("insert history entry", err)
	}
	return entry, nil
}

func (h *historyLedger) GetByID(ctx context.Context, id string) (*history.Entry, error) {
	row := h.q.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM connection_history WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("History entry")
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get history entry", err)
	}
	return entry, nil
}

func (h *historyLedger) QueryByPair(ctx context.Context, pair valueobjects.NodePair, page history.Page) ([]*history.Entry, error) {
	return h.list(ctx, "query history by pair", `pair_key = ?`, []interface{}{pair.Key()}, page)
}

func (h *historyLedger) QueryByActor(ctx context.Context, actorID string, page history.Page) ([]*history.Entry, error) {
	return h.list(ctx, "query history by actor", `actor_id = ?`, []interface{}{actorID}, page)
}

func (h *historyLedger) QueryByNodes(ctx context.Context, nodeIDs []string, page history.Page) ([]*history.Entry, error) {
	if len(nodeIDs) == 0 {
		return []*history.Entry{}, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(nodeIDs)), ",")
	args := make([]interface{}, 0, len(nodeIDs)*2)
	for _, id := range nodeIDs {
		args = append(args, id)
	}
	for _, id := range nodeIDs {
		args = append(args, id)
	}
	where := `node_a IN (` + marks + `) OR node_b IN (` + marks + `)`
	return h.list(ctx, "query history by nodes", where, args, page)
}

func (h *historyLedger) list(ctx context.Context, op, where string, args []interface{}, page history.Page) ([]*history.Entry, error) {
	if page.Limit <= 0 {
		page.Limit = history.DefaultPageLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	query := `SELECT ` + historyColumns + ` FROM connection_history`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += newestFirst + ` LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewDatabaseError(op, err)
	}
	defer rows.Close()

	out := make([]*history.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.NewDatabaseError(op, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError(op, err)
	}
	return out, nil
}

func (h *historyLedger) Stats(ctx context.Context, actorID string) (*history.Stats, error) {
	where, args := "", []interface{}{}
	if actorID != "" {
		where, args = `actor_id = ?`, []interface{}{actorID}
	}

	query := `SELECT change_type, COUNT(*) FROM connection_history`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` GROUP BY change_type`

	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewDatabaseError("history stats", err)
	}
	stats := &history.Stats{}
	for rows.Next() {
		var changeType string
		var n int
		if err := rows.Scan(&changeType, &n); err != nil {
			rows.Close()
			return nil, errors.NewDatabaseError("history stats", err)
		}
		stats.Add(history.ChangeType(changeType), n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.NewDatabaseError("history stats", err)
	}
	// single pooled connection: close before issuing the next query
	rows.Close()

	recent, err := h.list(ctx, "history stats", where, args, history.Page{Limit: history.RecentActivityLimit})
	if err != nil {
		return nil, err
	}
	stats.RecentActivity = recent
	return stats, nil
}

func (h *historyLedger) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, errors.NewValidationError("olderThanDays must not be negative")
	}
	cutoff := utils.RetentionCutoff(h.clock(), olderThanDays)

	res, err := h.q.ExecContext(ctx, `DELETE FROM connection_history WHERE created_at < ?`, toNanos(cutoff))
	if err != nil {
		return 0, errors.NewDatabaseError("cleanup history", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewDatabaseError("cleanup history", err)
	}
	return int(n), nil
}
