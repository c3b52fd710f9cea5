package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/toms-api/internal/models"
)

const restrictionColumns = `geometry_id, COALESCE(restriction_id, '') AS restriction_id, open_date, close_date, restriction_type_id, geom_shape_id,
       cpz, parking_tariff_area, attributes, ST_AsBinary(geom) AS geom`

// RestrictionRepository reads and writes rows of the restriction layer tables.
type RestrictionRepository struct {
	db   *sqlx.DB
	srid int
}

// NewRestrictionRepository constructs the repository. Geometries are stored in srid.
func NewRestrictionRepository(db *sqlx.DB, srid int) *RestrictionRepository {
	return &RestrictionRepository{db: db, srid: srid}
}

func (r *RestrictionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

func layerTable(layer models.LayerCode) (models.LayerDescriptor, error) {
	d, ok := layer.Descriptor()
	if !ok {
		return models.LayerDescriptor{}, fmt.Errorf("unknown restriction layer %d", int(layer))
	}
	return d, nil
}

func selectColumns(d models.LayerDescriptor) string {
	if d.ProposalTagged {
		return restrictionColumns + ", proposal_id"
	}
	return restrictionColumns
}

// FindByGeometryID fetches a single row by its geometry identity.
func (r *RestrictionRepository) FindByGeometryID(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, geometryID string) (*models.Restriction, error) {
	d, err := layerTable(layer)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE geometry_id = $1`, selectColumns(d), d.Table)
	var restriction models.Restriction
	if err := sqlx.GetContext(ctx, r.exec(exec), &restriction, query, geometryID); err != nil {
		return nil, err
	}
	return &restriction, nil
}

// FindByRestrictionID fetches the row carrying the restriction identity.
func (r *RestrictionRepository) FindByRestrictionID(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, restrictionID string) (*models.Restriction, error) {
	d, err := layerTable(layer)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE restriction_id = $1`, selectColumns(d), d.Table)
	var restriction models.Restriction
	if err := sqlx.GetContext(ctx, r.exec(exec), &restriction, query, restrictionID); err != nil {
		return nil, err
	}
	return &restriction, nil
}

// Insert adds a new row.
func (r *RestrictionRepository) Insert(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, restriction *models.Restriction) error {
	if restriction == nil {
		return fmt.Errorf("restriction payload is nil")
	}
	if restriction.GeometryID == "" {
		return fmt.Errorf("geometry_id is required")
	}
	d, err := layerTable(layer)
	if err != nil {
		return err
	}
	if len(restriction.Attributes) == 0 {
		restriction.Attributes = types.JSONText(`{}`)
	}

	columns := `geometry_id, restriction_id, open_date, close_date, restriction_type_id, geom_shape_id, cpz, parking_tariff_area, attributes, geom`
	values := fmt.Sprintf(`:geometry_id, NULLIF(:restriction_id, ''), :open_date, :close_date, :restriction_type_id, :geom_shape_id, :cpz, :parking_tariff_area, :attributes, ST_GeomFromWKB(:geom, %d)`, r.srid)
	if d.ProposalTagged {
		columns += ", proposal_id"
		values += ", :proposal_id"
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, d.Table, columns, values)
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, restriction); err != nil {
		return fmt.Errorf("insert %s restriction: %w", d.Name, err)
	}
	return nil
}

// Update overwrites every mutable column of the row identified by GeometryID.
func (r *RestrictionRepository) Update(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, restriction *models.Restriction) error {
	if restriction == nil {
		return fmt.Errorf("restriction payload is nil")
	}
	d, err := layerTable(layer)
	if err != nil {
		return err
	}
	if len(restriction.Attributes) == 0 {
		restriction.Attributes = types.JSONText(`{}`)
	}

	query := fmt.Sprintf(`UPDATE %s SET restriction_id = NULLIF(:restriction_id, ''), open_date = :open_date, close_date = :close_date,
	restriction_type_id = :restriction_type_id, geom_shape_id = :geom_shape_id, cpz = :cpz,
	parking_tariff_area = :parking_tariff_area, attributes = :attributes, geom = ST_GeomFromWKB(:geom, %d)
	WHERE geometry_id = :geometry_id`, d.Table, r.srid)
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, restriction)
	if err != nil {
		return fmt.Errorf("update %s restriction: %w", d.Name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s restriction rows affected: %w", d.Name, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes the row identified by geometryID.
func (r *RestrictionRepository) Delete(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, geometryID string) error {
	d, err := layerTable(layer)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE geometry_id = $1`, d.Table)
	result, err := r.exec(exec).ExecContext(ctx, query, geometryID)
	if err != nil {
		return fmt.Errorf("delete %s restriction: %w", d.Name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s restriction rows affected: %w", d.Name, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetOpenDate opens the restriction carrying restrictionID.
func (r *RestrictionRepository) SetOpenDate(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, restrictionID string, date time.Time) error {
	return r.setDate(ctx, exec, layer, "open_date", restrictionID, date)
}

// SetCloseDate retires the restriction carrying restrictionID. The row is kept.
func (r *RestrictionRepository) SetCloseDate(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, restrictionID string, date time.Time) error {
	return r.setDate(ctx, exec, layer, "close_date", restrictionID, date)
}

func (r *RestrictionRepository) setDate(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, column, restrictionID string, date time.Time) error {
	d, err := layerTable(layer)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE restriction_id = $2`, d.Table, column)
	result, err := r.exec(exec).ExecContext(ctx, query, date, restrictionID)
	if err != nil {
		return fmt.Errorf("set %s on %s restriction: %w", column, d.Name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s restriction rows affected: %w", d.Name, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListUnpublished returns rows of a proposal-tagged layer that belong to the
// proposal but have no restriction identity yet.
func (r *RestrictionRepository) ListUnpublished(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, proposalID int64) ([]models.Restriction, error) {
	d, err := layerTable(layer)
	if err != nil {
		return nil, err
	}
	if !d.ProposalTagged {
		return nil, fmt.Errorf("layer %s does not carry a proposal id", d.Name)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE proposal_id = $1 AND restriction_id IS NULL ORDER BY geometry_id`, selectColumns(d), d.Table)
	var rows []models.Restriction
	if err := sqlx.SelectContext(ctx, r.exec(exec), &rows, query, proposalID); err != nil {
		return nil, fmt.Errorf("list unpublished %s: %w", d.Name, err)
	}
	return rows, nil
}

// Publish copies the geometry identity into the restriction identity.
func (r *RestrictionRepository) Publish(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, geometryID string) error {
	d, err := layerTable(layer)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET restriction_id = geometry_id WHERE geometry_id = $1 AND restriction_id IS NULL`, d.Table)
	result, err := r.exec(exec).ExecContext(ctx, query, geometryID)
	if err != nil {
		return fmt.Errorf("publish %s row: %w", d.Name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", d.Name, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
