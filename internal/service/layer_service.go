package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/models"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

type restrictionLayerLister interface {
	List(ctx context.Context) ([]models.RestrictionLayer, error)
}

// LayerService checks the configured layers against the database and lists them.
type LayerService struct {
	repo   restrictionLayerLister
	logger *zap.Logger
}

// NewLayerService constructs a LayerService.
func NewLayerService(repo restrictionLayerLister, logger *zap.Logger) *LayerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LayerService{repo: repo, logger: logger}
}

// Verify resolves every configured layer name and requires the layer to be
// registered in toms.restriction_layers. Any gap is a missing collaborator.
func (s *LayerService) Verify(ctx context.Context, names []string) ([]models.LayerDescriptor, error) {
	registered, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrMissingCollaborator.Code, appErrors.ErrMissingCollaborator.Status, "failed to read restriction layers")
	}
	known := make(map[models.LayerCode]string, len(registered))
	for _, l := range registered {
		known[l.Code] = l.Name
	}

	var (
		out     []models.LayerDescriptor
		missing []string
		seen    = map[models.LayerCode]struct{}{}
	)
	for _, name := range names {
		descriptor, err := models.LayerByName(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		if _, ok := known[descriptor.Code]; !ok {
			missing = append(missing, name)
			continue
		}
		if _, dup := seen[descriptor.Code]; dup {
			continue
		}
		seen[descriptor.Code] = struct{}{}
		out = append(out, descriptor)
	}
	if len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrMissingCollaborator, fmt.Sprintf("layers not available: %s", strings.Join(missing, ", ")))
	}
	s.logger.Info("restriction layers verified", zap.Int("count", len(out)))
	return out, nil
}

// List returns the registered restriction layers.
func (s *LayerService) List(ctx context.Context) ([]models.RestrictionLayer, error) {
	layers, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list restriction layers")
	}
	return layers, nil
}
