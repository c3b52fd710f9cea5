package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/models"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

type layerListerStub struct {
	layers []models.RestrictionLayer
	err    error
}

func (s layerListerStub) List(context.Context) ([]models.RestrictionLayer, error) {
	return s.layers, s.err
}

func registeredLayers() []models.RestrictionLayer {
	return []models.RestrictionLayer{
		{Code: models.LayerBays, Name: "Bays"},
		{Code: models.LayerLines, Name: "Lines"},
		{Code: models.LayerSigns, Name: "Signs"},
	}
}

func TestLayerServiceVerify(t *testing.T) {
	svc := NewLayerService(layerListerStub{layers: registeredLayers()}, zap.NewNop())

	got, err := svc.Verify(context.Background(), []string{"Bays", "Bays.label_pos", "Lines.label_ldr", "Signs"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, models.LayerBays, got[0].Code)
	assert.Equal(t, models.LayerLines, got[1].Code)
	assert.Equal(t, models.LayerSigns, got[2].Code)
}

func TestLayerServiceVerifyMissing(t *testing.T) {
	svc := NewLayerService(layerListerStub{layers: registeredLayers()}, zap.NewNop())

	_, err := svc.Verify(context.Background(), []string{"Bays", "CPZs", "Roads"})
	require.ErrorIs(t, err, appErrors.ErrMissingCollaborator)
	assert.Contains(t, err.Error(), "CPZs, Roads")

	failing := NewLayerService(layerListerStub{err: errors.New("relation does not exist")}, zap.NewNop())
	_, err = failing.Verify(context.Background(), []string{"Bays"})
	require.ErrorIs(t, err, appErrors.ErrMissingCollaborator)
}

func TestLayerServiceList(t *testing.T) {
	svc := NewLayerService(layerListerStub{layers: registeredLayers()}, nil)
	layers, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, layers, 3)
}
