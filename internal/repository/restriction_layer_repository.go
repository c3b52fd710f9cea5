package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/toms-api/internal/models"
)

// RestrictionLayerRepository reads the layer code table.
type RestrictionLayerRepository struct {
	db *sqlx.DB
}

// NewRestrictionLayerRepository constructs the repository.
func NewRestrictionLayerRepository(db *sqlx.DB) *RestrictionLayerRepository {
	return &RestrictionLayerRepository{db: db}
}

// List returns every registered layer ordered by code.
func (r *RestrictionLayerRepository) List(ctx context.Context) ([]models.RestrictionLayer, error) {
	const query = `SELECT code, restriction_layer_name FROM toms.restriction_layers ORDER BY code`
	var layers []models.RestrictionLayer
	if err := r.db.SelectContext(ctx, &layers, query); err != nil {
		return nil, fmt.Errorf("list restriction layers: %w", err)
	}
	return layers, nil
}
