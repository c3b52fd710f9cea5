package service

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/dto"
	"github.com/noah-isme/toms-api/internal/models"
	"github.com/noah-isme/toms-api/pkg/cache"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

type editingFixture struct {
	store    *memStore
	coord    *TransactionCoordinator
	registry *ProposalService
	svc      *EditingService
}

func newEditingFixture(t *testing.T, permissions models.UserPermission) *editingFixture {
	t.Helper()
	store := newMemStore()
	store.seed(models.LayerBays, baselineBay())
	store.seedProposal(models.Proposal{ProposalID: 7, Title: "Parking review", Status: models.ProposalInPreparation, CreateDate: baselineOpened})

	coord := NewTransactionCoordinator(store, zap.NewNop())
	engine := NewVersioningService(store.restrictions(), store.ledger(), zap.NewNop(), WithIDGenerator(&sequentialIDs{}))
	resolver := NewAcceptanceService(store.ledger(), store.restrictions(), store.proposals(), zap.NewNop())
	registry := NewProposalService(store.proposals(), cache.NewMemorySessionStore(), resolver, coord, permissions, zap.NewNop(),
		WithProposalClock(func() time.Time { return fixedNow }))
	publisher := NewMappingUpdateService(store.restrictions(), store.ledger(), zap.NewNop())
	svc := NewEditingService(engine, store.restrictions(), coord, registry, publisher, nil, zap.NewNop())
	return &editingFixture{store: store, coord: coord, registry: registry, svc: svc}
}

func (f *editingFixture) selectProposal(t *testing.T, id int64) {
	t.Helper()
	require.NoError(t, f.registry.SetCurrentProposal(context.Background(), testSession, id))
}

func TestResolveLayer(t *testing.T) {
	tests := []struct {
		raw     string
		want    models.LayerCode
		wantErr bool
	}{
		{raw: "Bays", want: models.LayerBays},
		{raw: "lines", want: models.LayerLines},
		{raw: "Lines.label_loading_pos", want: models.LayerLines},
		{raw: "101", want: models.LayerMappingUpdates},
		{raw: "5", want: models.LayerSigns},
		{raw: "99", wantErr: true},
		{raw: "Roads", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ResolveLayer(tc.raw)
			if tc.wantErr {
				require.ErrorIs(t, err, appErrors.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEditingServiceEditCommitsGesture(t *testing.T) {
	f := newEditingFixture(t, allPermissions(t))
	f.selectProposal(t, 7)
	ctx := context.Background()

	req := dto.RestrictionRequest{
		RestrictionTypeID: intRef(101),
		GeomShapeID:       intRef(21),
		Attributes:        baselineBay().Attributes,
		Geometry:          models.NewGeometry(orb.LineString{{0, 0}, {12, 0}}),
	}
	result, err := f.svc.EditRestriction(ctx, testSession, "Bays", "g-base", req)
	require.NoError(t, err)
	assert.Equal(t, EditForked, result.Action)
	assert.Equal(t, "r-base", result.ClosedRestrictionID)

	_, open := f.coord.Group(testSession)
	assert.False(t, open)
	assert.Equal(t, 1, f.store.commits)
	assert.Len(t, f.store.layerRows(models.LayerBays), 2)
	assert.Len(t, f.store.ledgerRows(7), 2)

	got, err := f.svc.GetRestriction(ctx, testSession, "Bays", result.Restriction.GeometryID)
	require.NoError(t, err)
	assert.True(t, got.Geometry.Equal(req.Geometry))
}

func TestEditingServiceBaselineRefused(t *testing.T) {
	f := newEditingFixture(t, allPermissions(t))
	before := f.store.snapshot()

	_, err := f.svc.CreateRestriction(context.Background(), testSession, "Bays", dto.RestrictionRequest{
		Geometry: models.NewGeometry(orb.LineString{{0, 0}, {1, 0}}),
	})
	require.ErrorIs(t, err, appErrors.ErrPolicyViolation)
	_, err = f.svc.DeleteRestriction(context.Background(), testSession, "Bays", "g-base")
	require.ErrorIs(t, err, appErrors.ErrPolicyViolation)

	assert.Equal(t, before, f.store.snapshot())
	assert.Equal(t, 2, f.store.aborts)
}

func TestEditingServiceValidatesPayload(t *testing.T) {
	f := newEditingFixture(t, allPermissions(t))
	f.selectProposal(t, 7)

	_, err := f.svc.CreateRestriction(context.Background(), testSession, "Bays", dto.RestrictionRequest{RestrictionTypeID: intRef(-1)})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = f.svc.SplitRestriction(context.Background(), testSession, "Bays", "g-base", dto.SplitRequest{})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = f.svc.EditRestriction(context.Background(), testSession, "Roads", "g-base", dto.RestrictionRequest{})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, 0, f.store.begun)
}

func TestEditingServiceSplitAtPoints(t *testing.T) {
	f := newEditingFixture(t, allPermissions(t))
	f.selectProposal(t, 7)

	result, err := f.svc.SplitRestriction(context.Background(), testSession, "Bays", "g-base", dto.SplitRequest{Points: [][2]float64{{5, 1}}})
	require.NoError(t, err)
	require.Len(t, result.Fragments, 2)
	assert.Equal(t, EditForked, result.Original.Action)
	assert.Equal(t, 1, f.store.commits)
}

func TestEditingServiceDeleteStagedThenRemoved(t *testing.T) {
	f := newEditingFixture(t, allPermissions(t))
	f.selectProposal(t, 7)
	ctx := context.Background()

	created, err := f.svc.CreateRestriction(ctx, testSession, "Signs", dto.RestrictionRequest{
		Geometry: models.NewGeometry(orb.Point{3, 4}),
	})
	require.NoError(t, err)

	removed, err := f.svc.DeleteRestriction(ctx, testSession, "Signs", created.GeometryID)
	require.NoError(t, err)
	assert.Equal(t, DeleteHard, removed.Action)

	closed, err := f.svc.DeleteRestriction(ctx, testSession, "Bays", "g-base")
	require.NoError(t, err)
	assert.Equal(t, DeleteSoft, closed.Action)

	_, err = f.svc.GetRestriction(ctx, testSession, "Signs", created.GeometryID)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestEditingServiceProposalLifecycle(t *testing.T) {
	f := newEditingFixture(t, allPermissions(t))
	ctx := context.Background()

	saved, err := f.svc.SaveProposal(ctx, testSession, dto.SaveProposalRequest{ProposalID: 7, Title: "  Parking review v2 "})
	require.NoError(t, err)
	assert.Equal(t, "Parking review v2", saved.Title)

	f.selectProposal(t, 7)
	_, err = f.svc.DeleteRestriction(ctx, testSession, "Bays", "g-base")
	require.NoError(t, err)

	openDate := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	accepted, err := f.svc.AcceptProposal(ctx, testSession, 7, dto.AcceptProposalRequest{OpenDate: &openDate})
	require.NoError(t, err)
	assert.Equal(t, openDate, accepted.OpenDate)
	assert.Equal(t, 1, accepted.Closed)

	bay := f.store.layerRows(models.LayerBays)[0]
	require.NotNil(t, bay.CloseDate)
	assert.Equal(t, openDate, *bay.CloseDate)

	_, err = f.svc.RejectProposal(ctx, testSession, 7)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	_, open := f.coord.Group(testSession)
	assert.False(t, open)
}

func TestEditingServicePublishMappingUpdates(t *testing.T) {
	f := newEditingFixture(t, allPermissions(t))
	seedMappingUpdates(f.store)
	f.selectProposal(t, 7)

	result, err := f.svc.PublishMappingUpdates(context.Background(), testSession)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Published["MappingUpdates"])
	assert.Len(t, f.store.ledgerRows(7), 3)
}

func TestEditingServiceRefusesProposalAcceptedElsewhere(t *testing.T) {
	f := newEditingFixture(t, allPermissions(t))
	ctx := context.Background()
	const other = "session-b"
	require.NoError(t, f.registry.SetCurrentProposal(ctx, other, 7))
	f.selectProposal(t, 7)

	_, err := f.svc.AcceptProposal(ctx, testSession, 7, dto.AcceptProposalRequest{})
	require.NoError(t, err)
	assert.Positive(t, f.store.updateLocks)

	stillSelected, err := f.registry.CurrentProposal(ctx, other)
	require.NoError(t, err)
	require.Equal(t, int64(7), stillSelected)

	_, err = f.svc.CreateRestriction(ctx, other, "Signs", dto.RestrictionRequest{
		Geometry: models.NewGeometry(orb.Point{3, 4}),
	})
	require.ErrorIs(t, err, appErrors.ErrPolicyViolation)
	_, err = f.svc.DeleteRestriction(ctx, other, "Bays", "g-base")
	require.ErrorIs(t, err, appErrors.ErrPolicyViolation)

	assert.Positive(t, f.store.shareLocks)
	assert.Empty(t, f.store.ledgerRows(7))
	assert.Empty(t, f.store.layerRows(models.LayerSigns))
	bay := f.store.layerRows(models.LayerBays)[0]
	assert.Nil(t, bay.CloseDate)
}

func TestEditingServiceKeepsSelectionWhenAcceptFails(t *testing.T) {
	f := newEditingFixture(t, allPermissions(t))
	f.selectProposal(t, 7)
	ctx := context.Background()

	f.store.failOnWrite(1)
	_, err := f.svc.AcceptProposal(ctx, testSession, 7, dto.AcceptProposalRequest{})
	require.Error(t, err)

	id, err := f.registry.CurrentProposal(ctx, testSession)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id, "a failed accept must leave the session on its proposal")

	_, err = f.svc.RejectProposal(ctx, testSession, 7)
	require.NoError(t, err)
	id, err = f.registry.CurrentProposal(ctx, testSession)
	require.NoError(t, err)
	assert.Equal(t, models.NoProposal, id)
}

func TestEditingServiceTariffAreaOnlyOnChargingBays(t *testing.T) {
	f := newEditingFixture(t, allPermissions(t))
	f.selectProposal(t, 7)
	ctx := context.Background()
	area := "PTA-3"
	geometry := models.NewGeometry(orb.LineString{{20, 0}, {26, 0}})

	_, err := f.svc.CreateRestriction(ctx, testSession, "Bays", dto.RestrictionRequest{Geometry: geometry, ParkingTariffArea: &area})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = f.svc.CreateRestriction(ctx, testSession, "Bays", dto.RestrictionRequest{Geometry: geometry, RestrictionTypeID: intRef(101), ParkingTariffArea: &area})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, 0, f.store.begun)

	created, err := f.svc.CreateRestriction(ctx, testSession, "Bays", dto.RestrictionRequest{
		Geometry:          geometry,
		RestrictionTypeID: intRef(models.EVChargingBayTypeID),
		ParkingTariffArea: &area,
	})
	require.NoError(t, err)
	require.NotNil(t, created.ParkingTariffArea)
	assert.Equal(t, area, *created.ParkingTariffArea)

	blank := "  "
	_, err = f.svc.CreateRestriction(ctx, testSession, "Bays", dto.RestrictionRequest{Geometry: geometry, ParkingTariffArea: &blank})
	require.NoError(t, err)
}
