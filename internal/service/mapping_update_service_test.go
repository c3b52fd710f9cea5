package service

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/models"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

func int64Ref(v int64) *int64 { return &v }

func seedMappingUpdates(store *memStore) {
	store.seed(models.LayerMappingUpdates, models.Restriction{GeometryID: "mu-1", ProposalID: int64Ref(7), Geometry: models.NewGeometry(orb.LineString{{0, 0}, {1, 1}})})
	store.seed(models.LayerMappingUpdates, models.Restriction{GeometryID: "mu-2", ProposalID: int64Ref(7), Geometry: models.NewGeometry(orb.LineString{{2, 2}, {3, 3}})})
	store.seed(models.LayerMappingUpdates, models.Restriction{GeometryID: "mu-3", RestrictionID: "mu-3", ProposalID: int64Ref(7), Geometry: models.NewGeometry(orb.LineString{{4, 4}, {5, 5}})})
	store.seed(models.LayerMappingUpdates, models.Restriction{GeometryID: "mu-4", ProposalID: int64Ref(8), Geometry: models.NewGeometry(orb.LineString{{6, 6}, {7, 7}})})
	store.seed(models.LayerMappingUpdateMasks, models.Restriction{GeometryID: "mask-1", ProposalID: int64Ref(7), Geometry: models.NewGeometry(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})})
}

func TestMappingUpdatePublishStagesNewRows(t *testing.T) {
	store := newMemStore()
	seedMappingUpdates(store)
	coord := NewTransactionCoordinator(store, zap.NewNop())
	svc := NewMappingUpdateService(store.restrictions(), store.ledger(), zap.NewNop())
	scope := models.Scope{SessionID: testSession, ProposalID: 7, Permissions: allPermissions(t)}

	var result *MappingUpdateResult
	err := coord.Run(context.Background(), testSession, func(group *TransactionGroup) error {
		var err error
		result, err = svc.Publish(context.Background(), group, scope)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"MappingUpdates": 2, "MappingUpdateMasks": 1}, result.Published)
	assert.Equal(t, []string{"mu-1", "mu-2", "mask-1"}, result.RestrictionIDs)

	for _, row := range store.layerRows(models.LayerMappingUpdates) {
		if *row.ProposalID == 7 {
			assert.Equal(t, row.GeometryID, row.RestrictionID)
		} else {
			assert.Empty(t, row.RestrictionID)
		}
	}
	rows := store.ledgerRows(7)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, models.ActionOpen, row.ActionOnProposalAcceptance)
	}
	assert.Equal(t, models.LayerMappingUpdates, rows[0].RestrictionTableID)
	assert.Equal(t, models.LayerMappingUpdateMasks, rows[2].RestrictionTableID)
}

func TestMappingUpdatePublishRequiresFullControl(t *testing.T) {
	store := newMemStore()
	seedMappingUpdates(store)
	before := store.snapshot()
	coord := NewTransactionCoordinator(store, zap.NewNop())
	svc := NewMappingUpdateService(store.restrictions(), store.ledger(), zap.NewNop())
	group, err := coord.StartTransactionGroup(context.Background(), testSession)
	require.NoError(t, err)

	_, err = svc.Publish(context.Background(), group, writerScope)
	require.ErrorIs(t, err, appErrors.ErrPolicyViolation)
	_, err = svc.Publish(context.Background(), group, models.Scope{ProposalID: 0, Permissions: allPermissions(t)})
	require.ErrorIs(t, err, appErrors.ErrPolicyViolation)
	assert.Equal(t, before, store.snapshot())
}

func TestMappingUpdatePublishRollsBackOnFailure(t *testing.T) {
	store := newMemStore()
	seedMappingUpdates(store)
	before := store.snapshot()
	coord := NewTransactionCoordinator(store, zap.NewNop())
	svc := NewMappingUpdateService(store.restrictions(), store.ledger(), zap.NewNop())
	scope := models.Scope{SessionID: testSession, ProposalID: 7, Permissions: allPermissions(t)}
	store.failOnWrite(4)

	err := coord.Run(context.Background(), testSession, func(group *TransactionGroup) error {
		_, err := svc.Publish(context.Background(), group, scope)
		return err
	})
	require.ErrorIs(t, err, appErrors.ErrStoreWrite)
	assert.Equal(t, before, store.snapshot())
}
