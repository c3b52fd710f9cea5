package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/models"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

type splitEngine interface {
	Split(ctx context.Context, group *TransactionGroup, scope models.Scope, layer models.LayerCode, geometryID string, fragments []orb.Geometry) (*SplitResult, error)
}

type splitGroups interface {
	Run(ctx context.Context, sessionID string, fn func(*TransactionGroup) error) error
	RollBackTransactionGroup(ctx context.Context, sessionID string) error
}

type scopeResolver interface {
	Scope(ctx context.Context, sessionID string, group *TransactionGroup) (models.Scope, error)
}

// SplitOutcome records how a debounced split finished.
type SplitOutcome struct {
	SessionID   string       `json:"sessionId"`
	Layer       string       `json:"layer"`
	GeometryID  string       `json:"geometryId"`
	Fragments   int          `json:"fragments"`
	Result      *SplitResult `json:"result,omitempty"`
	ErrorCode   string       `json:"errorCode,omitempty"`
	Error       string       `json:"error,omitempty"`
	CompletedAt time.Time    `json:"completedAt"`
}

// PendingSplit describes fragments collected but not yet committed.
type PendingSplit struct {
	Layer      models.LayerCode `json:"layer"`
	GeometryID string           `json:"geometryId"`
	Fragments  int              `json:"fragments"`
}

type pendingSplit struct {
	proposalID int64
	layer      models.LayerCode
	geometryID string
	fragments  []orb.Geometry
	timer      *time.Timer
}

// SplitCollector gathers the fragments of one split gesture per session and
// commits them as a single Split once no fragment has arrived for the quiet
// window.
type SplitCollector struct {
	engine     splitEngine
	groups     splitGroups
	scopes     scopeResolver
	window     time.Duration
	logger     *zap.Logger
	onComplete func(SplitOutcome)

	mu       sync.Mutex
	pending  map[string]*pendingSplit
	outcomes map[string]SplitOutcome
}

// SplitCollectorOption configures the collector.
type SplitCollectorOption func(*SplitCollector)

// WithSplitCompletion registers a hook called after every flush.
func WithSplitCompletion(fn func(SplitOutcome)) SplitCollectorOption {
	return func(c *SplitCollector) {
		c.onComplete = fn
	}
}

// NewSplitCollector constructs the collector. A non-positive window defaults to one second.
func NewSplitCollector(engine splitEngine, groups splitGroups, scopes scopeResolver, window time.Duration, logger *zap.Logger, opts ...SplitCollectorOption) *SplitCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = time.Second
	}
	c := &SplitCollector{
		engine:   engine,
		groups:   groups,
		scopes:   scopes,
		window:   window,
		logger:   logger,
		pending:  make(map[string]*pendingSplit),
		outcomes: make(map[string]SplitOutcome),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Add records a fragment of the restriction named by geometryID and restarts
// the quiet window. The first fragment of a gesture replaces the original
// geometry; later ones become new restrictions. The gesture is pinned to the
// proposal selected when its first fragment arrives.
func (c *SplitCollector) Add(ctx context.Context, sessionID string, layer models.LayerCode, geometryID string, fragment orb.Geometry) (PendingSplit, error) {
	if sessionID == "" {
		return PendingSplit{}, appErrors.Clone(appErrors.ErrValidation, "session id is required")
	}
	if geometryID == "" || fragment == nil {
		return PendingSplit{}, appErrors.Clone(appErrors.ErrValidation, "geometry id and fragment are required")
	}
	scope, err := c.scopes.Scope(ctx, sessionID, nil)
	if err != nil {
		return PendingSplit{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[sessionID]
	if ok && (p.layer != layer || p.geometryID != geometryID) {
		return PendingSplit{}, appErrors.Clone(appErrors.ErrConsistency, fmt.Sprintf("a split of %s is already in progress", p.geometryID))
	}
	if ok && p.proposalID != scope.ProposalID {
		return PendingSplit{}, appErrors.Clone(appErrors.ErrConsistency, fmt.Sprintf("split of %s started under proposal %d", p.geometryID, p.proposalID))
	}
	if !ok {
		p = &pendingSplit{proposalID: scope.ProposalID, layer: layer, geometryID: geometryID}
		c.pending[sessionID] = p
		p.timer = time.AfterFunc(c.window, func() {
			c.fire(sessionID, p)
		})
	} else {
		p.timer.Reset(c.window)
	}
	p.fragments = append(p.fragments, orb.Clone(fragment))

	return PendingSplit{Layer: p.layer, GeometryID: p.geometryID, Fragments: len(p.fragments)}, nil
}

// Pending reports the session's uncommitted split, if any.
func (c *SplitCollector) Pending(sessionID string) (PendingSplit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[sessionID]
	if !ok {
		return PendingSplit{}, false
	}
	return PendingSplit{Layer: p.layer, GeometryID: p.geometryID, Fragments: len(p.fragments)}, true
}

// LastOutcome returns the result of the session's most recent flush.
func (c *SplitCollector) LastOutcome(sessionID string) (SplitOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.outcomes[sessionID]
	return out, ok
}

// Flush commits the session's pending fragments immediately.
func (c *SplitCollector) Flush(ctx context.Context, sessionID string) (SplitOutcome, error) {
	c.mu.Lock()
	p, ok := c.pending[sessionID]
	if ok {
		p.timer.Stop()
		delete(c.pending, sessionID)
	}
	c.mu.Unlock()

	if !ok {
		return SplitOutcome{}, appErrors.Clone(appErrors.ErrNotFound, "no split is pending for this session")
	}
	return c.commit(ctx, sessionID, p)
}

// Cancel drops the pending fragments and rolls back the session's group.
func (c *SplitCollector) Cancel(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if p, ok := c.pending[sessionID]; ok {
		p.timer.Stop()
		delete(c.pending, sessionID)
	}
	c.mu.Unlock()
	return c.groups.RollBackTransactionGroup(ctx, sessionID)
}

// Close stops every pending timer without committing.
func (c *SplitCollector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
}

func (c *SplitCollector) fire(sessionID string, p *pendingSplit) {
	c.mu.Lock()
	current, ok := c.pending[sessionID]
	if !ok || current != p {
		c.mu.Unlock()
		return
	}
	delete(c.pending, sessionID)
	c.mu.Unlock()

	if _, err := c.commit(context.Background(), sessionID, p); err != nil {
		c.logger.Warn("debounced split failed", zap.String("session_id", sessionID), zap.String("geometry_id", p.geometryID), zap.Error(err))
	}
}

func (c *SplitCollector) commit(ctx context.Context, sessionID string, p *pendingSplit) (SplitOutcome, error) {
	outcome := SplitOutcome{
		SessionID:  sessionID,
		Layer:      p.layer.String(),
		GeometryID: p.geometryID,
		Fragments:  len(p.fragments),
	}

	err := c.groups.Run(ctx, sessionID, func(group *TransactionGroup) error {
		scope, err := c.scopes.Scope(ctx, sessionID, group)
		if err != nil {
			return err
		}
		if scope.ProposalID != p.proposalID {
			return appErrors.Clone(appErrors.ErrConsistency, fmt.Sprintf("split started under proposal %d but the session is now on %d", p.proposalID, scope.ProposalID))
		}
		result, err := c.engine.Split(ctx, group, scope, p.layer, p.geometryID, p.fragments)
		if err != nil {
			return err
		}
		outcome.Result = result
		return nil
	})
	if err != nil {
		appErr := appErrors.FromError(err)
		outcome.ErrorCode = appErr.Code
		outcome.Error = appErr.Message
		outcome.Result = nil
	}
	outcome.CompletedAt = time.Now()

	c.mu.Lock()
	c.outcomes[sessionID] = outcome
	c.mu.Unlock()

	if c.onComplete != nil {
		c.onComplete(outcome)
	}
	return outcome, err
}
