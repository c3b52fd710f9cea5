package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/models"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

func TestTransactionCoordinatorStartIsIdempotent(t *testing.T) {
	store := newMemStore()
	coord := NewTransactionCoordinator(store, zap.NewNop())
	ctx := context.Background()

	first, err := coord.StartTransactionGroup(ctx, "a")
	require.NoError(t, err)
	second, err := coord.StartTransactionGroup(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, store.begun)

	other, err := coord.StartTransactionGroup(ctx, "b")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), other.ID())
	assert.Equal(t, "b", other.SessionID())
	assert.Equal(t, 2, store.begun)

	_, err = coord.StartTransactionGroup(ctx, "")
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestTransactionCoordinatorCommitAndRollbackWithoutGroup(t *testing.T) {
	coord := NewTransactionCoordinator(newMemStore(), nil)
	ctx := context.Background()

	require.ErrorIs(t, coord.CommitTransactionGroup(ctx, "a"), appErrors.ErrValidation)
	require.NoError(t, coord.RollBackTransactionGroup(ctx, "a"))
}

func TestTransactionCoordinatorRollbackRestoresStore(t *testing.T) {
	store := newMemStore()
	store.seed(models.LayerBays, baselineBay())
	before := store.snapshot()
	observer := &observerStub{}
	coord := NewTransactionCoordinator(store, zap.NewNop(), WithTransactionObserver(observer))
	engine := NewVersioningService(store.restrictions(), store.ledger(), zap.NewNop())
	ctx := context.Background()

	group, err := coord.StartTransactionGroup(ctx, testSession)
	require.NoError(t, err)
	_, err = engine.Delete(ctx, group, writerScope, models.LayerBays, "g-base")
	require.NoError(t, err)
	_, err = engine.Create(ctx, group, writerScope, models.LayerSigns, models.Restriction{Geometry: models.NewGeometry(orb.Point{1, 2})})
	require.NoError(t, err)
	require.NotEqual(t, before, store.snapshot())

	require.NoError(t, coord.RollBackTransactionGroup(ctx, testSession))
	assert.Equal(t, before, store.snapshot())
	_, open := coord.Group(testSession)
	assert.False(t, open)
	assert.Equal(t, 1, observer.started)
	assert.Equal(t, []string{"rolled_back"}, observer.transaction)
}

func TestTransactionCoordinatorRunCommitsOwnedGroup(t *testing.T) {
	store := newMemStore()
	observer := &observerStub{}
	coord := NewTransactionCoordinator(store, zap.NewNop(), WithTransactionObserver(observer))

	var seen *TransactionGroup
	err := coord.Run(context.Background(), testSession, func(group *TransactionGroup) error {
		seen = group
		group.MarkModified()
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.True(t, seen.Modified())
	assert.Equal(t, 1, store.commits)
	_, open := coord.Group(testSession)
	assert.False(t, open)
	assert.Equal(t, []string{"committed"}, observer.transaction)
}

func TestTransactionCoordinatorRunJoinsOpenGroup(t *testing.T) {
	store := newMemStore()
	coord := NewTransactionCoordinator(store, zap.NewNop())
	ctx := context.Background()

	group, err := coord.StartTransactionGroup(ctx, testSession)
	require.NoError(t, err)

	err = coord.Run(ctx, testSession, func(joined *TransactionGroup) error {
		assert.Same(t, group, joined)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, store.commits)
	_, open := coord.Group(testSession)
	require.True(t, open)

	require.NoError(t, coord.CommitTransactionGroup(ctx, testSession))
	assert.Equal(t, 1, store.commits)
}

func TestTransactionCoordinatorRunFailureDiscardsJoinedGroup(t *testing.T) {
	store := newMemStore()
	store.seed(models.LayerBays, baselineBay())
	before := store.snapshot()
	coord := NewTransactionCoordinator(store, zap.NewNop())
	engine := NewVersioningService(store.restrictions(), store.ledger(), zap.NewNop())
	ctx := context.Background()

	group, err := coord.StartTransactionGroup(ctx, testSession)
	require.NoError(t, err)
	_, err = engine.Delete(ctx, group, writerScope, models.LayerBays, "g-base")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = coord.Run(ctx, testSession, func(*TransactionGroup) error { return boom })
	require.ErrorIs(t, err, boom)

	_, open := coord.Group(testSession)
	assert.False(t, open)
	assert.Equal(t, before, store.snapshot())
	assert.Equal(t, 1, store.aborts)
}

func TestTransactionCoordinatorCloseRollsBackEverything(t *testing.T) {
	store := newMemStore()
	coord := NewTransactionCoordinator(store, zap.NewNop())
	ctx := context.Background()

	for _, session := range []string{"a", "b", "c"} {
		_, err := coord.StartTransactionGroup(ctx, session)
		require.NoError(t, err)
	}
	coord.Close(ctx)

	assert.Equal(t, 3, store.aborts)
	for _, session := range []string{"a", "b", "c"} {
		_, open := coord.Group(session)
		assert.False(t, open)
	}
}

func TestTransactionCoordinatorExpiresIdleGroups(t *testing.T) {
	store := newMemStore()
	clock := fixedNow
	coord := NewTransactionCoordinator(store, zap.NewNop(), WithGroupIdleTimeout(10*time.Minute))
	coord.now = func() time.Time { return clock }
	ctx := context.Background()

	stale, err := coord.StartTransactionGroup(ctx, "stale")
	require.NoError(t, err)
	_, err = coord.StartTransactionGroup(ctx, "active")
	require.NoError(t, err)
	busy, err := coord.StartTransactionGroup(ctx, "busy")
	require.NoError(t, err)

	clock = clock.Add(8 * time.Minute)
	_, err = coord.StartTransactionGroup(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, 0, coord.ExpireIdle(ctx))

	clock = clock.Add(5 * time.Minute)
	busy.mu.Lock()
	assert.Equal(t, 1, coord.ExpireIdle(ctx))
	busy.mu.Unlock()

	_, open := coord.Group("stale")
	assert.False(t, open)
	_, open = coord.Group("active")
	assert.True(t, open)
	_, open = coord.Group("busy")
	assert.True(t, open, "a group with a gesture in flight is kept")
	assert.Equal(t, 1, store.aborts)

	again, err := coord.StartTransactionGroup(ctx, "stale")
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID(), again.ID())

	disabled := NewTransactionCoordinator(newMemStore(), nil)
	_, err = disabled.StartTransactionGroup(ctx, "a")
	require.NoError(t, err)
	disabled.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	assert.Equal(t, 0, disabled.ExpireIdle(ctx))
}
