package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/dto"
	"github.com/noah-isme/toms-api/internal/models"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

type restrictionEngine interface {
	Create(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, restriction models.Restriction) (*models.Restriction, error)
	ApplyEdits(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, changed []models.Restriction) (*EditResult, error)
	Split(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, geometryID string, fragments []orb.Geometry) (*SplitResult, error)
	SplitAt(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, geometryID string, points []orb.Point) (*SplitResult, error)
	Delete(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, geometryID string) (*DeleteResult, error)
}

type restrictionReader interface {
	FindByGeometryID(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, geometryID string) (*models.Restriction, error)
}

type gestureRunner interface {
	Run(ctx context.Context, sessionID string, fn func(*TransactionGroup) error) error
	Group(sessionID string) (*TransactionGroup, bool)
}

type proposalRegistry interface {
	Scope(ctx context.Context, sessionID string, group *TransactionGroup) (models.Scope, error)
	SaveProposal(ctx context.Context, group *TransactionGroup, proposal *models.Proposal) (*models.Proposal, error)
	AcceptProposal(ctx context.Context, group *TransactionGroup, proposalID int64, openDate time.Time) (*AcceptanceResult, error)
	RejectProposal(ctx context.Context, group *TransactionGroup, proposalID int64) (*RejectionResult, error)
	ReleaseProposal(ctx context.Context, sessionID string, proposalID int64)
}

type mappingPublisher interface {
	Publish(ctx context.Context, group *TransactionGroup, scope models.Scope) (*MappingUpdateResult, error)
}

// EditingService maps each request onto one user gesture: it validates the
// payload, resolves the session scope and runs the gesture inside the
// session's transaction group.
type EditingService struct {
	engine    restrictionEngine
	reader    restrictionReader
	groups    gestureRunner
	registry  proposalRegistry
	publisher mappingPublisher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEditingService wires the gesture layer.
func NewEditingService(engine restrictionEngine, reader restrictionReader, groups gestureRunner, registry proposalRegistry, publisher mappingPublisher, validate *validator.Validate, logger *zap.Logger) *EditingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EditingService{
		engine:    engine,
		reader:    reader,
		groups:    groups,
		registry:  registry,
		publisher: publisher,
		validator: validate,
		logger:    logger,
	}
}

// ResolveLayer accepts a layer name, a label layer name or a numeric code.
func ResolveLayer(raw string) (models.LayerCode, error) {
	raw = strings.TrimSpace(raw)
	if code, err := strconv.Atoi(raw); err == nil {
		layer := models.LayerCode(code)
		if !layer.Valid() {
			return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("layer %d is not a restriction layer", code))
		}
		return layer, nil
	}
	descriptor, err := models.LayerByName(raw)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	return descriptor.Code, nil
}

// GetRestriction reads a row, through the session's open group when there is one.
func (s *EditingService) GetRestriction(ctx context.Context, sessionID, layerName, geometryID string) (*models.Restriction, error) {
	layer, err := ResolveLayer(layerName)
	if err != nil {
		return nil, err
	}
	var exec sqlx.ExtContext
	if group, ok := s.groups.Group(sessionID); ok {
		exec = group.Exec()
	}
	restriction, err := s.reader.FindByGeometryID(ctx, exec, layer, geometryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "restriction not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load restriction")
	}
	return restriction, nil
}

// CreateRestriction adds a restriction to the session's proposal.
func (s *EditingService) CreateRestriction(ctx context.Context, sessionID, layerName string, req dto.RestrictionRequest) (*models.Restriction, error) {
	layer, err := s.prepare(layerName, req)
	if err != nil {
		return nil, err
	}
	var created *models.Restriction
	err = s.run(ctx, sessionID, func(group *TransactionGroup, scope models.Scope) error {
		created, err = s.engine.Create(ctx, group, scope, layer, req.Restriction(""))
		return err
	})
	return created, err
}

// EditRestriction applies an edit to the row named by geometryID.
func (s *EditingService) EditRestriction(ctx context.Context, sessionID, layerName, geometryID string, req dto.RestrictionRequest) (*EditResult, error) {
	layer, err := s.prepare(layerName, req)
	if err != nil {
		return nil, err
	}
	var result *EditResult
	err = s.run(ctx, sessionID, func(group *TransactionGroup, scope models.Scope) error {
		result, err = s.engine.ApplyEdits(ctx, group, scope, layer, []models.Restriction{req.Restriction(geometryID)})
		return err
	})
	return result, err
}

// DeleteRestriction removes the row from the proposal's view.
func (s *EditingService) DeleteRestriction(ctx context.Context, sessionID, layerName, geometryID string) (*DeleteResult, error) {
	layer, err := ResolveLayer(layerName)
	if err != nil {
		return nil, err
	}
	var result *DeleteResult
	err = s.run(ctx, sessionID, func(group *TransactionGroup, scope models.Scope) error {
		result, err = s.engine.Delete(ctx, group, scope, layer, geometryID)
		return err
	})
	return result, err
}

// SplitRestriction splits a row into explicit fragments or at points.
func (s *EditingService) SplitRestriction(ctx context.Context, sessionID, layerName, geometryID string, req dto.SplitRequest) (*SplitResult, error) {
	layer, err := ResolveLayer(layerName)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid split payload")
	}

	var result *SplitResult
	err = s.run(ctx, sessionID, func(group *TransactionGroup, scope models.Scope) error {
		if len(req.Fragments) > 0 {
			fragments := make([]orb.Geometry, len(req.Fragments))
			for i, f := range req.Fragments {
				fragments[i] = f.Geometry
			}
			result, err = s.engine.Split(ctx, group, scope, layer, geometryID, fragments)
			return err
		}
		points := make([]orb.Point, len(req.Points))
		for i, p := range req.Points {
			points[i] = orb.Point(p)
		}
		result, err = s.engine.SplitAt(ctx, group, scope, layer, geometryID, points)
		return err
	})
	return result, err
}

// SaveProposal persists the proposal inside the session's group.
func (s *EditingService) SaveProposal(ctx context.Context, sessionID string, req dto.SaveProposalRequest) (*models.Proposal, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid proposal payload")
	}
	var saved *models.Proposal
	err := s.groups.Run(ctx, sessionID, func(group *TransactionGroup) error {
		var err error
		saved, err = s.registry.SaveProposal(ctx, group, &models.Proposal{ProposalID: req.ProposalID, Title: req.Title, Notes: req.Notes})
		return err
	})
	return saved, err
}

// AcceptProposal finalises the proposal; any failure rolls the group back.
func (s *EditingService) AcceptProposal(ctx context.Context, sessionID string, proposalID int64, req dto.AcceptProposalRequest) (*AcceptanceResult, error) {
	var openDate time.Time
	if req.OpenDate != nil {
		openDate = *req.OpenDate
	}
	var result *AcceptanceResult
	err := s.groups.Run(ctx, sessionID, func(group *TransactionGroup) error {
		var err error
		result, err = s.registry.AcceptProposal(ctx, group, proposalID, openDate)
		return err
	})
	if err != nil {
		return nil, err
	}
	// the session keeps its selection until the status change is durable
	s.registry.ReleaseProposal(ctx, sessionID, proposalID)
	return result, nil
}

// RejectProposal discards the proposal; any failure rolls the group back.
func (s *EditingService) RejectProposal(ctx context.Context, sessionID string, proposalID int64) (*RejectionResult, error) {
	var result *RejectionResult
	err := s.groups.Run(ctx, sessionID, func(group *TransactionGroup) error {
		var err error
		result, err = s.registry.RejectProposal(ctx, group, proposalID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.registry.ReleaseProposal(ctx, sessionID, proposalID)
	return result, nil
}

// PublishMappingUpdates stages the current proposal's mapping updates.
func (s *EditingService) PublishMappingUpdates(ctx context.Context, sessionID string) (*MappingUpdateResult, error) {
	var result *MappingUpdateResult
	err := s.run(ctx, sessionID, func(group *TransactionGroup, scope models.Scope) error {
		var err error
		result, err = s.publisher.Publish(ctx, group, scope)
		return err
	})
	return result, err
}

func (s *EditingService) prepare(layerName string, req dto.RestrictionRequest) (models.LayerCode, error) {
	layer, err := ResolveLayer(layerName)
	if err != nil {
		return 0, err
	}
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid restriction payload")
	}
	if layer == models.LayerBays && req.ParkingTariffArea != nil && strings.TrimSpace(*req.ParkingTariffArea) != "" {
		if req.RestrictionTypeID == nil || *req.RestrictionTypeID != models.EVChargingBayTypeID {
			return 0, appErrors.Clone(appErrors.ErrValidation, "only electric vehicle charging bays may set a parking tariff area")
		}
	}
	return layer, nil
}

func (s *EditingService) run(ctx context.Context, sessionID string, fn func(*TransactionGroup, models.Scope) error) error {
	var proposalID int64
	err := s.groups.Run(ctx, sessionID, func(group *TransactionGroup) error {
		// resolved inside the group so an accept elsewhere cannot slip in between
		scope, err := s.registry.Scope(ctx, sessionID, group)
		if err != nil {
			return err
		}
		proposalID = scope.ProposalID
		return fn(group, scope)
	})
	if err != nil {
		s.logger.Debug("gesture failed", zap.String("session_id", sessionID), zap.Int64("proposal_id", proposalID), zap.Error(err))
	}
	return err
}
