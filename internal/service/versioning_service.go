package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/geometry"
	"github.com/noah-isme/toms-api/internal/models"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

type restrictionStore interface {
	FindByGeometryID(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, geometryID string) (*models.Restriction, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, restriction *models.Restriction) error
	Update(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, restriction *models.Restriction) error
	Delete(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, geometryID string) error
}

type ledgerStore interface {
	Lookup(ctx context.Context, exec sqlx.ExtContext, key models.LedgerKey) (*models.RestrictionInProposal, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, row models.RestrictionInProposal) error
	Delete(ctx context.Context, exec sqlx.ExtContext, key models.LedgerKey) error
}

type versioningObserver interface {
	ObserveVersioning(operation, outcome string)
}

// IDGenerator produces unique opaque identities for restrictions and geometry rows.
type IDGenerator interface {
	NewID() string
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() string

// NewID implements IDGenerator.
func (f IDGeneratorFunc) NewID() string { return f() }

// EditAction describes how an edit was applied.
type EditAction string

const (
	EditUnchanged EditAction = "UNCHANGED"
	EditMutated   EditAction = "MUTATED"
	EditForked    EditAction = "FORKED"
)

// EditResult reports the row carrying the edit. ClosedRestrictionID is set
// when the edit forked a restriction that predates the proposal.
type EditResult struct {
	Action              EditAction          `json:"action"`
	Restriction         *models.Restriction `json:"restriction"`
	ClosedRestrictionID string              `json:"closedRestrictionId,omitempty"`
}

// SplitResult lists every fragment row in fragment order.
type SplitResult struct {
	Original  EditResult           `json:"original"`
	Fragments []models.Restriction `json:"fragments"`
}

// DeleteAction distinguishes a staged close from a physical removal.
type DeleteAction string

const (
	DeleteSoft DeleteAction = "CLOSE_STAGED"
	DeleteHard DeleteAction = "REMOVED"
)

// DeleteResult reports what a delete did.
type DeleteResult struct {
	Action        DeleteAction `json:"action"`
	GeometryID    string       `json:"geometryId"`
	RestrictionID string       `json:"restrictionId"`
}

// VersioningService applies the fork-vs-mutate rule to every restriction
// mutation. It owns no state; the proposal comes from the Scope argument.
type VersioningService struct {
	restrictions restrictionStore
	ledger       ledgerStore
	ids          IDGenerator
	logger       *zap.Logger
	observer     versioningObserver
}

// VersioningServiceOption configures the engine.
type VersioningServiceOption func(*VersioningService)

// WithIDGenerator overrides the identity source.
func WithIDGenerator(ids IDGenerator) VersioningServiceOption {
	return func(s *VersioningService) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// WithVersioningObserver reports operation outcomes.
func WithVersioningObserver(observer versioningObserver) VersioningServiceOption {
	return func(s *VersioningService) {
		s.observer = observer
	}
}

// NewVersioningService constructs the engine.
func NewVersioningService(restrictions restrictionStore, ledger ledgerStore, logger *zap.Logger, opts ...VersioningServiceOption) *VersioningService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &VersioningService{
		restrictions: restrictions,
		ledger:       ledger,
		ids:          IDGeneratorFunc(uuid.NewString),
		logger:       logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create adds a brand-new restriction to the proposal with a fresh identity.
func (s *VersioningService) Create(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, restriction models.Restriction) (result *models.Restriction, err error) {
	defer func() { s.observe("create", err) }()

	descriptor, err := s.guard(group, scope, layer)
	if err != nil {
		return nil, err
	}
	if err := checkGeometry(descriptor, restriction.Geometry); err != nil {
		return nil, err
	}

	created := restriction.Clone()
	if err := applyDefaults(descriptor, &created); err != nil {
		return nil, err
	}
	if descriptor.ProposalTagged {
		proposalID := scope.ProposalID
		created.ProposalID = &proposalID
	}
	if err := s.insertNew(ctx, group, scope, layer, &created); err != nil {
		return nil, err
	}

	s.logger.Info("restriction created",
		zap.String("layer", layer.String()),
		zap.Int64("proposal_id", scope.ProposalID),
		zap.String("restriction_id", created.RestrictionID))
	return &created, nil
}

// Edit applies an attribute or geometry edit to the row named by
// edited.GeometryID. A restriction already staged OPEN in the proposal is
// updated in place; any other restriction is forked and the original row is
// left exactly as it was.
func (s *VersioningService) Edit(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, edited models.Restriction) (result *EditResult, err error) {
	defer func() { s.observe("edit", err) }()

	descriptor, err := s.guard(group, scope, layer)
	if err != nil {
		return nil, err
	}
	if err := checkGeometry(descriptor, edited.Geometry); err != nil {
		return nil, err
	}
	return s.edit(ctx, group, scope, layer, edited, false)
}

// ApplyEdits is the gesture-level entry point: exactly one changed feature is
// supported per operation.
func (s *VersioningService) ApplyEdits(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, changed []models.Restriction) (*EditResult, error) {
	if len(changed) != 1 {
		s.observe("edit", appErrors.ErrConsistency)
		return nil, appErrors.Clone(appErrors.ErrConsistency, fmt.Sprintf("exactly one changed restriction is supported per operation, got %d", len(changed)))
	}
	return s.Edit(ctx, group, scope, layer, changed[0])
}

// Split divides one restriction into len(fragments) pieces. Fragment 0 stays
// on the original row and follows the edit rule; every other fragment is a
// new restriction.
func (s *VersioningService) Split(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, geometryID string, fragments []orb.Geometry) (result *SplitResult, err error) {
	defer func() { s.observe("split", err) }()

	descriptor, err := s.guard(group, scope, layer)
	if err != nil {
		return nil, err
	}
	if len(fragments) < 2 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a split needs at least two fragments")
	}
	for _, fragment := range fragments {
		if err := checkGeometry(descriptor, models.NewGeometry(fragment)); err != nil {
			return nil, err
		}
	}

	original, err := s.load(ctx, group, layer, geometryID)
	if err != nil {
		return nil, err
	}

	first := original.Clone()
	first.Geometry = models.NewGeometry(fragments[0])
	first.ClearDates()
	head, err := s.edit(ctx, group, scope, layer, first, true)
	if err != nil {
		return nil, err
	}

	out := &SplitResult{Original: *head, Fragments: make([]models.Restriction, 0, len(fragments))}
	out.Fragments = append(out.Fragments, *head.Restriction)
	for _, fragment := range fragments[1:] {
		piece := original.Clone()
		piece.Geometry = models.NewGeometry(fragment)
		if err := s.insertNew(ctx, group, scope, layer, &piece); err != nil {
			return nil, err
		}
		out.Fragments = append(out.Fragments, piece)
	}

	s.logger.Info("restriction split",
		zap.String("layer", layer.String()),
		zap.Int64("proposal_id", scope.ProposalID),
		zap.String("geometry_id", geometryID),
		zap.Int("fragments", len(fragments)),
		zap.String("original_action", string(head.Action)))
	return out, nil
}

// SplitAt cuts a line restriction at the points given and splits it into the
// resulting pieces.
func (s *VersioningService) SplitAt(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, geometryID string, points []orb.Point) (*SplitResult, error) {
	descriptor, err := s.guard(group, scope, layer)
	if err != nil {
		s.observe("split", err)
		return nil, err
	}
	if descriptor.Geometry != models.GeometryLine {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("layer %s does not hold lines", descriptor.Name))
	}

	original, err := s.load(ctx, group, layer, geometryID)
	if err != nil {
		return nil, err
	}
	line, ok := original.Geometry.Geometry.(orb.LineString)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only single line geometries can be cut at points")
	}
	parts, err := geometry.SplitLineAt(line, points)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "cannot cut restriction at the given points")
	}
	return s.Split(ctx, group, scope, layer, geometryID, geometry.ToGeometries(parts))
}

// Delete removes a restriction from the proposal's view. A restriction staged
// OPEN in the proposal is physically removed; anything else gets a CLOSE entry
// and the row stays untouched.
func (s *VersioningService) Delete(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, geometryID string) (result *DeleteResult, err error) {
	defer func() { s.observe("delete", err) }()

	if _, err := s.guard(group, scope, layer); err != nil {
		return nil, err
	}
	current, err := s.load(ctx, group, layer, geometryID)
	if err != nil {
		return nil, err
	}
	key := models.LedgerKey{ProposalID: scope.ProposalID, Layer: layer, RestrictionID: current.RestrictionID}
	staged, err := s.lookup(ctx, group, key)
	if err != nil {
		return nil, err
	}

	switch {
	case staged == nil:
		if err := s.stage(ctx, group, key, models.ActionClose); err != nil {
			return nil, err
		}
		s.logger.Info("restriction close staged",
			zap.String("layer", layer.String()),
			zap.Int64("proposal_id", scope.ProposalID),
			zap.String("restriction_id", current.RestrictionID))
		return &DeleteResult{Action: DeleteSoft, GeometryID: current.GeometryID, RestrictionID: current.RestrictionID}, nil

	case staged.ActionOnProposalAcceptance == models.ActionClose:
		return nil, appErrors.Clone(appErrors.ErrConsistency, "restriction is already closed in this proposal")

	default:
		if current.OpenDate != nil {
			return nil, appErrors.Clone(appErrors.ErrConsistency, "an opened restriction cannot be removed, only closed")
		}
		if err := s.ledger.Delete(ctx, group.Exec(), key); err != nil {
			return nil, appErrors.StoreWrite(err, "failed to remove restriction from proposal")
		}
		if err := s.restrictions.Delete(ctx, group.Exec(), layer, current.GeometryID); err != nil {
			return nil, appErrors.StoreWrite(err, "failed to delete restriction")
		}
		group.MarkModified()
		s.logger.Info("restriction removed",
			zap.String("layer", layer.String()),
			zap.Int64("proposal_id", scope.ProposalID),
			zap.String("restriction_id", current.RestrictionID))
		return &DeleteResult{Action: DeleteHard, GeometryID: current.GeometryID, RestrictionID: current.RestrictionID}, nil
	}
}

// edit holds the shared fork-vs-mutate logic. force skips the unchanged check
// and clears dates on an in-place update, as a split requires.
func (s *VersioningService) edit(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, edited models.Restriction, force bool) (*EditResult, error) {
	current, err := s.load(ctx, group, layer, edited.GeometryID)
	if err != nil {
		return nil, err
	}

	// identity and dates are owned by the engine, not the caller
	edited = edited.Clone()
	edited.GeometryID = current.GeometryID
	edited.RestrictionID = current.RestrictionID
	edited.ProposalID = current.ProposalID
	if !force {
		edited.OpenDate = current.OpenDate
		edited.CloseDate = current.CloseDate
		if current.SameContent(edited) {
			return &EditResult{Action: EditUnchanged, Restriction: current}, nil
		}
	}

	key := models.LedgerKey{ProposalID: scope.ProposalID, Layer: layer, RestrictionID: current.RestrictionID}
	staged, err := s.lookup(ctx, group, key)
	if err != nil {
		return nil, err
	}

	if staged != nil {
		if staged.ActionOnProposalAcceptance == models.ActionClose {
			return nil, appErrors.Clone(appErrors.ErrConsistency, "restriction is closed in this proposal and cannot be edited")
		}
		if force {
			edited.ClearDates()
		}
		if err := s.restrictions.Update(ctx, group.Exec(), layer, &edited); err != nil {
			return nil, appErrors.StoreWrite(err, "failed to update restriction")
		}
		group.MarkModified()
		return &EditResult{Action: EditMutated, Restriction: &edited}, nil
	}

	forked := edited.Clone()
	if err := s.stage(ctx, group, key, models.ActionClose); err != nil {
		return nil, err
	}
	if err := s.insertNew(ctx, group, scope, layer, &forked); err != nil {
		return nil, err
	}
	s.logger.Info("restriction forked",
		zap.String("layer", layer.String()),
		zap.Int64("proposal_id", scope.ProposalID),
		zap.String("closed_restriction_id", current.RestrictionID),
		zap.String("restriction_id", forked.RestrictionID))
	return &EditResult{Action: EditForked, Restriction: &forked, ClosedRestrictionID: current.RestrictionID}, nil
}

// insertNew gives r a fresh identity and unopened dates, inserts it and
// stages it OPEN.
func (s *VersioningService) insertNew(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, r *models.Restriction) error {
	r.GeometryID = s.ids.NewID()
	r.RestrictionID = s.ids.NewID()
	r.ClearDates()
	if err := s.restrictions.Insert(ctx, group.Exec(), layer, r); err != nil {
		return appErrors.StoreWrite(err, "failed to add restriction")
	}
	group.MarkModified()
	key := models.LedgerKey{ProposalID: scope.ProposalID, Layer: layer, RestrictionID: r.RestrictionID}
	return s.stage(ctx, group, key, models.ActionOpen)
}

func (s *VersioningService) stage(ctx context.Context, group *TransactionGroup, key models.LedgerKey, action models.RestrictionAction) error {
	row := models.RestrictionInProposal{
		ProposalID:                 key.ProposalID,
		RestrictionTableID:         key.Layer,
		RestrictionID:              key.RestrictionID,
		ActionOnProposalAcceptance: action,
	}
	if err := s.ledger.Insert(ctx, group.Exec(), row); err != nil {
		return appErrors.StoreWrite(err, fmt.Sprintf("failed to stage %s for restriction", action))
	}
	group.MarkModified()
	return nil
}

func (s *VersioningService) guard(group *TransactionGroup, scope models.Scope, layer models.LayerCode) (models.LayerDescriptor, error) {
	if scope.Baseline() {
		return models.LayerDescriptor{}, appErrors.ErrPolicyViolation
	}
	if !scope.Permissions.Has(models.PermWrite) {
		return models.LayerDescriptor{}, appErrors.Clone(appErrors.ErrPolicyViolation, "write permission is required to change restrictions")
	}
	descriptor, ok := layer.Descriptor()
	if !ok {
		return models.LayerDescriptor{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("layer %d is not a restriction layer", int(layer)))
	}
	if group == nil {
		return models.LayerDescriptor{}, appErrors.Clone(appErrors.ErrValidation, "a transaction group is required")
	}
	return descriptor, nil
}

func (s *VersioningService) load(ctx context.Context, group *TransactionGroup, layer models.LayerCode, geometryID string) (*models.Restriction, error) {
	if geometryID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "geometry id is required")
	}
	current, err := s.restrictions.FindByGeometryID(ctx, group.Exec(), layer, geometryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "restriction not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load restriction")
	}
	return current, nil
}

func (s *VersioningService) lookup(ctx context.Context, group *TransactionGroup, key models.LedgerKey) (*models.RestrictionInProposal, error) {
	staged, err := s.ledger.Lookup(ctx, group.Exec(), key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read proposal membership")
	}
	return staged, nil
}

func (s *VersioningService) observe(operation string, err error) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveVersioning(operation, outcomeOf(err))
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return appErrors.FromError(err).Code
}

func checkGeometry(descriptor models.LayerDescriptor, g models.Geometry) error {
	if g.IsEmpty() {
		return appErrors.Clone(appErrors.ErrValidation, "geometry is required")
	}
	var kind models.GeometryKind
	switch g.Geometry.(type) {
	case orb.Point, orb.MultiPoint:
		kind = models.GeometryPoint
	case orb.LineString, orb.MultiLineString:
		kind = models.GeometryLine
	case orb.Polygon, orb.MultiPolygon:
		kind = models.GeometryPolygon
	}
	if kind != descriptor.Geometry {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("layer %s expects %s geometry", descriptor.Name, descriptor.Geometry))
	}
	return nil
}

func applyDefaults(descriptor models.LayerDescriptor, r *models.Restriction) error {
	defaults := descriptor.Defaults
	if r.RestrictionTypeID == nil && defaults.RestrictionTypeID != nil {
		v := *defaults.RestrictionTypeID
		r.RestrictionTypeID = &v
	}
	if r.GeomShapeID == nil && defaults.GeomShapeID != nil {
		v := *defaults.GeomShapeID
		r.GeomShapeID = &v
	}
	if len(defaults.Attributes) == 0 {
		return nil
	}

	attrs := map[string]interface{}{}
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "attributes must be a JSON object")
		}
	}
	for k, v := range defaults.Attributes {
		if _, ok := attrs[k]; !ok {
			attrs[k] = v
		}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	r.Attributes = types.JSONText(raw)
	return nil
}
