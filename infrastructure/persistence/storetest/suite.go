// Package storetest holds the behavioural contract every persistence
// backend must satisfy. Backends run it from their own tests.
package storetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"brain2-connections/application/ports"
	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/errors"
	"brain2-connections/pkg/utils"
)

// Factory builds an empty store that reads time from clock
type Factory func(t *testing.T, clock utils.Clock) ports.Store

// Suite is the shared contract suite
type Suite struct {
	suite.Suite

	NewStore Factory

	ctx   context.Context
	clock *utils.SteppingClock
	store ports.Store
	actor valueobjects.Actor
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.clock = utils.NewSteppingClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Millisecond)
	s.store = s.NewStore(s.T(), s.clock.Now)
	s.actor = valueobjects.Actor{ID: "user-1", DisplayName: "Ada"}
}

func (s *Suite) pair(a, b string) valueobjects.NodePair {
	p, err := valueobjects.NewNodePairFromStrings(a, b)
	s.Require().NoError(err)
	return p
}

// createWithEntry performs a create plus its CREATED entry in one unit of work
func (s *Suite) createWithEntry(pair valueobjects.NodePair, actor valueobjects.Actor) (*entities.Connection, *history.Entry) {
	var conn *entities.Connection
	var entry *history.Entry
	err := s.store.Within(s.ctx, pair, func(ctx context.Context, tx ports.Tx) error {
		var err error
		conn, err = tx.Connections().Create(ctx, pair, entities.ConnectionTypeRelatedTo, map[string]interface{}{"note": "x"})
		if err != nil {
			return err
		}
		entry, err = tx.History().Record(ctx, history.Draft{
			ConnectionID: &conn.ID,
			Pair:         pair,
			ChangeType:   history.ChangeCreated,
			Actor:        actor,
			After:        history.SnapshotOf(conn),
		})
		return err
	})
	s.Require().NoError(err)
	return conn, entry
}

func (s *Suite) recordDeleted(pair valueobjects.NodePair, actor valueobjects.Actor) *history.Entry {
	entry, err := s.store.History().Record(s.ctx, history.Draft{
		Pair:       pair,
		ChangeType: history.ChangeDeleted,
		Actor:      actor,
		Before:     &history.Snapshot{SchemaVersion: history.CurrentSchemaVersion, NodeA: pair.A().String(), NodeB: pair.B().String()},
	})
	s.Require().NoError(err)
	return entry
}

func ids(entries []*history.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func (s *Suite) TestConnections_CreateAndFindEitherOrder() {
	conn, err := s.store.Connections().Create(s.ctx, s.pair("a", "b"), entities.ConnectionTypeInspires, map[string]interface{}{"k": "v"})
	s.Require().NoError(err)
	s.Equal(1, conn.Version)

	for _, p := range []valueobjects.NodePair{s.pair("a", "b"), s.pair("b", "a")} {
		found, err := s.store.Connections().FindByPair(s.ctx, p)
		s.Require().NoError(err)
		s.Equal(conn.ID, found.ID)
		s.Equal("a", found.NodeA.String(), "stored order is the creation order")
		s.Equal(entities.ConnectionTypeInspires, found.Type)
		s.Equal("v", found.Metadata["k"])
	}

	byID, err := s.store.Connections().GetByID(s.ctx, conn.ID)
	s.Require().NoError(err)
	s.Equal(conn.ID, byID.ID)
}

func (s *Suite) TestConnections_CreateRejectsDuplicatePair() {
	_, err := s.store.Connections().Create(s.ctx, s.pair("a", "b"), entities.ConnectionTypeRelatedTo, nil)
	s.Require().NoError(err)

	_, err = s.store.Connections().Create(s.ctx, s.pair("b", "a"), entities.ConnectionTypeRelatedTo, nil)
	s.True(errors.IsConflict(err), "got %v", err)
}

func (s *Suite) TestConnections_SeparatorInNodeIDsKeepsPairsApart() {
	joined := s.pair("a|b", "c")
	split := s.pair("a", "b|c")

	conn, entry := s.createWithEntry(joined, s.actor)

	_, err := s.store.Connections().FindByPair(s.ctx, split)
	s.True(errors.IsNotFound(err), "got %v", err)

	other, _ := s.createWithEntry(split, s.actor)
	s.NotEqual(conn.ID, other.ID)

	escaped := s.pair(`a\`, "b")
	_, err = s.store.Connections().Create(s.ctx, escaped, entities.ConnectionTypeRelatedTo, nil)
	s.Require().NoError(err)

	found, err := s.store.Connections().FindByPair(s.ctx, s.pair("c", "a|b"))
	s.Require().NoError(err)
	s.Equal(conn.ID, found.ID)

	entries, err := s.store.History().QueryByPair(s.ctx, joined, history.Page{Limit: 10})
	s.Require().NoError(err)
	s.Equal([]string{entry.ID}, ids(entries))
}

func (s *Suite) TestConnections_NotFound() {
	_, err := s.store.Connections().FindByPair(s.ctx, s.pair("x", "y"))
	s.True(errors.IsNotFound(err))

	_, err = s.store.Connections().GetByID(s.ctx, "missing")
	s.True(errors.IsNotFound(err))

	_, err = s.store.Connections().Update(s.ctx, "missing", entities.ConnectionUpdate{})
	s.True(errors.IsNotFound(err))

	s.True(errors.IsNotFound(s.store.Connections().Delete(s.ctx, "missing")))
}

func (s *Suite) TestConnections_UpdateBumpsVersion() {
	conn, err := s.store.Connections().Create(s.ctx, s.pair("a", "b"), entities.ConnectionTypeRelatedTo, map[string]interface{}{"a": "1"})
	s.Require().NoError(err)

	dep := entities.ConnectionTypeDependsOn
	updated, err := s.store.Connections().Update(s.ctx, conn.ID, entities.ConnectionUpdate{Type: &dep, Metadata: map[string]interface{}{"b": "2"}})
	s.Require().NoError(err)
	s.Equal(2, updated.Version)
	s.Equal(entities.ConnectionTypeDependsOn, updated.Type)
	s.Equal(map[string]interface{}{"a": "1", "b": "2"}, updated.Metadata)
	s.True(updated.UpdatedAt.After(conn.UpdatedAt))

	reread, err := s.store.Connections().FindByPair(s.ctx, s.pair("a", "b"))
	s.Require().NoError(err)
	s.Equal(2, reread.Version)
	s.Equal(entities.ConnectionTypeDependsOn, reread.Type)
	s.True(conn.CreatedAt.Equal(reread.CreatedAt))
}

func (s *Suite) TestConnections_DeleteFreesPair() {
	conn, err := s.store.Connections().Create(s.ctx, s.pair("a", "b"), entities.ConnectionTypeRelatedTo, nil)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Connections().Delete(s.ctx, conn.ID))

	_, err = s.store.Connections().FindByPair(s.ctx, s.pair("a", "b"))
	s.True(errors.IsNotFound(err))

	_, err = s.store.Connections().Create(s.ctx, s.pair("b", "a"), entities.ConnectionTypeRelatedTo, nil)
	s.NoError(err)
}

func (s *Suite) TestLedger_RecordAssignsIDAndTime() {
	conn, entry := s.createWithEntry(s.pair("a", "b"), s.actor)

	s.NotEmpty(entry.ID)
	s.False(entry.CreatedAt.IsZero())
	s.Require().NotNil(entry.ConnectionID)
	s.Equal(conn.ID, *entry.ConnectionID)

	got, err := s.store.History().GetByID(s.ctx, entry.ID)
	s.Require().NoError(err)
	s.Equal(entry.ID, got.ID)
	s.Equal(history.ChangeCreated, got.ChangeType)
	s.Nil(got.BeforeState)
	s.Require().NotNil(got.AfterState)
	s.Equal(conn.ID, got.AfterState.ConnectionID)
	s.Equal(1, got.AfterState.Version)
	s.Equal("Ada", got.ActorDisplayName)
	s.True(entry.CreatedAt.Equal(got.CreatedAt))
}

func (s *Suite) TestLedger_GetByIDNotFound() {
	_, err := s.store.History().GetByID(s.ctx, "nonexistent-id")
	s.True(errors.IsNotFound(err))
	s.Equal("History entry not found", errors.Message(err))
}

func (s *Suite) TestLedger_RecordRejectsMalformedEntries() {
	_, err := s.store.History().Record(s.ctx, history.Draft{
		Pair:       s.pair("a", "b"),
		ChangeType: history.ChangeCreated,
		Actor:      s.actor,
	})
	s.True(errors.IsValidation(err))
}

func (s *Suite) TestLedger_QueryByPairIsSymmetricAndOrdered() {
	ab := s.pair("a", "b")
	first := s.recordDeleted(ab, s.actor)
	second := s.recordDeleted(s.pair("b", "a"), s.actor)
	s.recordDeleted(s.pair("a", "c"), s.actor)

	forward, err := s.store.History().QueryByPair(s.ctx, ab, history.Page{Limit: 10})
	s.Require().NoError(err)
	backward, err := s.store.History().QueryByPair(s.ctx, s.pair("b", "a"), history.Page{Limit: 10})
	s.Require().NoError(err)

	s.Equal([]string{second.ID, first.ID}, ids(forward))
	s.Equal(ids(forward), ids(backward))
}

func (s *Suite) TestLedger_Pagination() {
	ab := s.pair("a", "b")
	var all []string
	for i := 0; i < 5; i++ {
		all = append([]string{s.recordDeleted(ab, s.actor).ID}, all...)
	}

	page1, err := s.store.History().QueryByPair(s.ctx, ab, history.Page{Limit: 2})
	s.Require().NoError(err)
	page3, err := s.store.History().QueryByPair(s.ctx, ab, history.Page{Limit: 2, Offset: 4})
	s.Require().NoError(err)
	past, err := s.store.History().QueryByPair(s.ctx, ab, history.Page{Limit: 2, Offset: 10})
	s.Require().NoError(err)

	s.Equal(all[:2], ids(page1))
	s.Equal(all[4:], ids(page3))
	s.Empty(past)

	negative, err := s.store.History().QueryByPair(s.ctx, ab, history.Page{Limit: 2, Offset: -3})
	s.Require().NoError(err)
	s.Equal(all[:2], ids(negative))
}

func (s *Suite) TestLedger_QueryByActorAndNodes() {
	other := valueobjects.Actor{ID: "user-2", DisplayName: "Grace"}
	e1 := s.recordDeleted(s.pair("a", "b"), s.actor)
	e2 := s.recordDeleted(s.pair("c", "d"), other)
	e3 := s.recordDeleted(s.pair("b", "e"), other)

	byActor, err := s.store.History().QueryByActor(s.ctx, "user-2", history.Page{Limit: 10})
	s.Require().NoError(err)
	s.Equal([]string{e3.ID, e2.ID}, ids(byActor))

	byNodes, err := s.store.History().QueryByNodes(s.ctx, []string{"b", "zzz"}, history.Page{Limit: 10})
	s.Require().NoError(err)
	s.Equal([]string{e3.ID, e1.ID}, ids(byNodes))

	none, err := s.store.History().QueryByNodes(s.ctx, []string{"nothing"}, history.Page{Limit: 10})
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *Suite) TestLedger_StatsTotalsAndScope() {
	other := valueobjects.Actor{ID: "user-2"}
	for i := 0; i < 12; i++ {
		s.createWithEntry(s.pair("n", fmt.Sprintf("m%02d", i)), s.actor)
	}
	s.recordDeleted(s.pair("a", "b"), other)
	s.recordDeleted(s.pair("a", "c"), s.actor)

	all, err := s.store.History().Stats(s.ctx, "")
	s.Require().NoError(err)
	s.Equal(14, all.TotalChanges)
	s.Equal(12, all.CreatedCount)
	s.Equal(2, all.DeletedCount)
	s.Equal(all.CreatedCount+all.ModifiedCount+all.DeletedCount, all.TotalChanges)
	s.Len(all.RecentActivity, history.RecentActivityLimit)
	s.Equal(history.ChangeDeleted, all.RecentActivity[0].ChangeType)
	s.Equal("user-1", all.RecentActivity[0].ActorID)

	scoped, err := s.store.History().Stats(s.ctx, "user-2")
	s.Require().NoError(err)
	s.Equal(1, scoped.TotalChanges)
	s.Equal(1, scoped.DeletedCount)
	s.Len(scoped.RecentActivity, 1)

	empty, err := s.store.History().Stats(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Equal(0, empty.TotalChanges)
	s.Empty(empty.RecentActivity)
}

func (s *Suite) TestLedger_CleanupByAge() {
	old := s.recordDeleted(s.pair("a", "b"), s.actor)
	s.clock.Advance(400 * 24 * time.Hour)
	fresh := s.recordDeleted(s.pair("a", "b"), s.actor)

	n, err := s.store.History().Cleanup(s.ctx, 365)
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.store.History().GetByID(s.ctx, old.ID)
	s.True(errors.IsNotFound(err))
	_, err = s.store.History().GetByID(s.ctx, fresh.ID)
	s.NoError(err)

	again, err := s.store.History().Cleanup(s.ctx, 365)
	s.Require().NoError(err)
	s.Equal(0, again)
}

func (s *Suite) TestLedger_CleanupHugeAgeKeepsEverything() {
	s.createWithEntry(s.pair("a", "b"), s.actor)
	s.recordDeleted(s.pair("c", "d"), s.actor)

	for _, days := range []int{200000, math.MaxInt32} {
		n, err := s.store.History().Cleanup(s.ctx, days)
		s.Require().NoError(err)
		s.Equal(0, n, "days=%d", days)
	}

	stats, err := s.store.History().Stats(s.ctx, "")
	s.Require().NoError(err)
	s.Equal(2, stats.TotalChanges)
}

func (s *Suite) TestLedger_CleanupZeroDeletesEverything() {
	for i := 0; i < 3; i++ {
		s.recordDeleted(s.pair("a", "b"), s.actor)
	}

	n, err := s.store.History().Cleanup(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(3, n)

	again, err := s.store.History().Cleanup(s.ctx, 365)
	s.Require().NoError(err)
	s.Equal(0, again)

	stats, err := s.store.History().Stats(s.ctx, "")
	s.Require().NoError(err)
	s.Equal(0, stats.TotalChanges)
}

func (s *Suite) TestUnitOfWork_ErrorDiscardsAllWrites() {
	pair := s.pair("a", "b")
	boom := fmt.Errorf("boom")

	err := s.store.Within(s.ctx, pair, func(ctx context.Context, tx ports.Tx) error {
		conn, err := tx.Connections().Create(ctx, pair, entities.ConnectionTypeRelatedTo, nil)
		if err != nil {
			return err
		}
		if _, err := tx.History().Record(ctx, history.Draft{
			ConnectionID: &conn.ID, Pair: pair, ChangeType: history.ChangeCreated, Actor: s.actor, After: history.SnapshotOf(conn),
		}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.Connections().FindByPair(s.ctx, pair)
	s.True(errors.IsNotFound(err))
	stats, err := s.store.History().Stats(s.ctx, "")
	s.Require().NoError(err)
	s.Equal(0, stats.TotalChanges)
}

func (s *Suite) TestUnitOfWork_ErrorRestoresUpdatedAndDeleted() {
	pair := s.pair("a", "b")
	conn, _ := s.createWithEntry(pair, s.actor)

	err := s.store.Within(s.ctx, pair, func(ctx context.Context, tx ports.Tx) error {
		dep := entities.ConnectionTypeDependsOn
		if _, err := tx.Connections().Update(ctx, conn.ID, entities.ConnectionUpdate{Type: &dep}); err != nil {
			return err
		}
		if err := tx.Connections().Delete(ctx, conn.ID); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	s.Error(err)

	found, err := s.store.Connections().FindByPair(s.ctx, pair)
	s.Require().NoError(err)
	s.Equal(conn.ID, found.ID)
	s.Equal(entities.ConnectionTypeRelatedTo, found.Type)
	s.Equal(1, found.Version)
}

func (s *Suite) TestUnitOfWork_ReadsOwnWrites() {
	pair := s.pair("a", "b")
	err := s.store.Within(s.ctx, pair, func(ctx context.Context, tx ports.Tx) error {
		conn, err := tx.Connections().Create(ctx, pair, entities.ConnectionTypeRelatedTo, nil)
		if err != nil {
			return err
		}
		found, err := tx.Connections().FindByPair(ctx, s.pair("b", "a"))
		if err != nil {
			return err
		}
		s.Equal(conn.ID, found.ID)
		return nil
	})
	s.NoError(err)
}

func (s *Suite) TestUnitOfWork_SerializesSamePair() {
	pair := s.pair("a", "b")
	_, err := s.store.Connections().Create(s.ctx, pair, entities.ConnectionTypeRelatedTo, map[string]interface{}{"count": float64(0)})
	s.Require().NoError(err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.store.Within(s.ctx, pair, func(ctx context.Context, tx ports.Tx) error {
				conn, err := tx.Connections().FindByPair(ctx, pair)
				if err != nil {
					return err
				}
				n, _ := conn.Metadata["count"].(float64)
				_, err = tx.Connections().Update(ctx, conn.ID, entities.ConnectionUpdate{
					Metadata: map[string]interface{}{"count": n + 1},
				})
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	final, err := s.store.Connections().FindByPair(s.ctx, pair)
	s.Require().NoError(err)
	s.Equal(float64(workers), final.Metadata["count"])
	s.Equal(workers+1, final.Version)
}
