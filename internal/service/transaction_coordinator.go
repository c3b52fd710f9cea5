package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/pkg/database"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

// TransactionGroup is the scope of one editing gesture. Every store write of
// the gesture runs through Exec and is committed or discarded together.
type TransactionGroup struct {
	id        string
	sessionID string
	startedAt time.Time
	tx        database.Tx

	// guarded by the coordinator's mu
	lastUsed time.Time

	// serialises gestures that join the same group
	mu       sync.Mutex
	modified bool
}

// ID returns the group identity.
func (g *TransactionGroup) ID() string { return g.id }

// SessionID returns the owning session.
func (g *TransactionGroup) SessionID() string { return g.sessionID }

// Exec exposes the transaction to repositories.
func (g *TransactionGroup) Exec() sqlx.ExtContext { return g.tx }

// MarkModified records that the group carries writes.
func (g *TransactionGroup) MarkModified() { g.modified = true }

// Modified reports whether any write went through the group.
func (g *TransactionGroup) Modified() bool { return g.modified }

type transactionObserver interface {
	ObserveTransactionStart()
	ObserveTransaction(outcome string, duration time.Duration)
}

// TransactionCoordinator keeps at most one open transaction group per session.
type TransactionCoordinator struct {
	begin    database.Beginner
	logger   *zap.Logger
	observer transactionObserver
	now      func() time.Time
	idle     time.Duration

	mu     sync.Mutex
	groups map[string]*TransactionGroup
}

// TransactionCoordinatorOption configures the coordinator.
type TransactionCoordinatorOption func(*TransactionCoordinator)

// WithTransactionObserver reports commits and rollbacks.
func WithTransactionObserver(observer transactionObserver) TransactionCoordinatorOption {
	return func(c *TransactionCoordinator) {
		c.observer = observer
	}
}

// WithGroupIdleTimeout sets how long a group may sit unused before ExpireIdle
// rolls it back. Zero disables expiry.
func WithGroupIdleTimeout(d time.Duration) TransactionCoordinatorOption {
	return func(c *TransactionCoordinator) {
		c.idle = d
	}
}

// NewTransactionCoordinator constructs the coordinator.
func NewTransactionCoordinator(begin database.Beginner, logger *zap.Logger, opts ...TransactionCoordinatorOption) *TransactionCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &TransactionCoordinator{
		begin:  begin,
		logger: logger,
		now:    time.Now,
		groups: make(map[string]*TransactionGroup),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// StartTransactionGroup opens a group for the session. Calling it while a
// group is open returns that group; a second transaction is never begun.
func (c *TransactionCoordinator) StartTransactionGroup(ctx context.Context, sessionID string) (*TransactionGroup, error) {
	group, _, err := c.start(ctx, sessionID)
	return group, err
}

func (c *TransactionCoordinator) start(ctx context.Context, sessionID string) (*TransactionGroup, bool, error) {
	if sessionID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "session id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if group, ok := c.groups[sessionID]; ok {
		group.lastUsed = c.now()
		return group, false, nil
	}

	// the group spans several requests, so it must not die with this one
	tx, err := c.begin.Begin(context.WithoutCancel(ctx))
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrStoreWrite.Code, appErrors.ErrStoreWrite.Status, "failed to start transaction group")
	}
	group := &TransactionGroup{
		id:        uuid.NewString(),
		sessionID: sessionID,
		startedAt: c.now(),
		tx:        tx,
	}
	group.lastUsed = group.startedAt
	c.groups[sessionID] = group
	if c.observer != nil {
		c.observer.ObserveTransactionStart()
	}
	c.logger.Debug("transaction group started", zap.String("session_id", sessionID), zap.String("group_id", group.id))
	return group, true, nil
}

// Group returns the session's open group, if any.
func (c *TransactionCoordinator) Group(sessionID string) (*TransactionGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	group, ok := c.groups[sessionID]
	return group, ok
}

func (c *TransactionCoordinator) take(sessionID string) *TransactionGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	group, ok := c.groups[sessionID]
	if !ok {
		return nil
	}
	delete(c.groups, sessionID)
	return group
}

// CommitTransactionGroup flushes the session's group. Committing with nothing
// open is a validation error.
func (c *TransactionCoordinator) CommitTransactionGroup(_ context.Context, sessionID string) error {
	group := c.take(sessionID)
	if group == nil {
		return appErrors.Clone(appErrors.ErrValidation, "no transaction group is open for this session")
	}
	if err := group.tx.Commit(); err != nil {
		_ = group.tx.Rollback()
		c.observe("commit_failed", group)
		c.logger.Error("transaction group commit failed", zap.String("session_id", sessionID), zap.String("group_id", group.id), zap.Error(err))
		return appErrors.StoreWrite(err, "failed to commit transaction group")
	}
	c.observe("committed", group)
	c.logger.Debug("transaction group committed", zap.String("session_id", sessionID), zap.String("group_id", group.id), zap.Bool("modified", group.modified))
	return nil
}

// RollBackTransactionGroup discards every write of the session's group. It is
// a no-op when nothing is open.
func (c *TransactionCoordinator) RollBackTransactionGroup(_ context.Context, sessionID string) error {
	group := c.take(sessionID)
	if group == nil {
		return nil
	}
	if err := group.tx.Rollback(); err != nil {
		c.observe("rollback_failed", group)
		c.logger.Error("transaction group rollback failed", zap.String("session_id", sessionID), zap.String("group_id", group.id), zap.Error(err))
		return appErrors.StoreWrite(err, "failed to roll back transaction group")
	}
	c.observe("rolled_back", group)
	c.logger.Debug("transaction group rolled back", zap.String("session_id", sessionID), zap.String("group_id", group.id))
	return nil
}

// Run executes fn inside the session's group. A group opened here is
// committed when fn succeeds; any error from fn rolls the whole group back.
func (c *TransactionCoordinator) Run(ctx context.Context, sessionID string, fn func(*TransactionGroup) error) (err error) {
	group, owned, err := c.start(ctx, sessionID)
	if err != nil {
		return err
	}

	group.mu.Lock()
	err = fn(group)
	group.mu.Unlock()

	if err != nil {
		if rbErr := c.RollBackTransactionGroup(ctx, sessionID); rbErr != nil {
			c.logger.Warn("rollback after failed operation", zap.String("session_id", sessionID), zap.Error(rbErr))
		}
		return err
	}
	if owned {
		return c.CommitTransactionGroup(ctx, sessionID)
	}
	return nil
}

// Close rolls back every open group, used on shutdown.
func (c *TransactionCoordinator) Close(ctx context.Context) {
	c.mu.Lock()
	sessions := make([]string, 0, len(c.groups))
	for id := range c.groups {
		sessions = append(sessions, id)
	}
	c.mu.Unlock()
	for _, id := range sessions {
		_ = c.RollBackTransactionGroup(ctx, id)
	}
}

// ExpireIdle rolls back every group unused for longer than the idle timeout
// and returns how many were discarded. Groups with a gesture in flight are
// left alone.
func (c *TransactionCoordinator) ExpireIdle(ctx context.Context) int {
	if c.idle <= 0 {
		return 0
	}
	cutoff := c.now().Add(-c.idle)

	c.mu.Lock()
	var expired []*TransactionGroup
	for id, group := range c.groups {
		if group.lastUsed.After(cutoff) {
			continue
		}
		if !group.mu.TryLock() {
			continue
		}
		delete(c.groups, id)
		expired = append(expired, group)
	}
	c.mu.Unlock()

	for _, group := range expired {
		err := group.tx.Rollback()
		group.mu.Unlock()
		if err != nil {
			c.observe("rollback_failed", group)
			c.logger.Error("expired transaction group rollback failed", zap.String("session_id", group.sessionID), zap.String("group_id", group.id), zap.Error(err))
			continue
		}
		c.observe("expired", group)
		c.logger.Info("transaction group expired", zap.String("session_id", group.sessionID), zap.String("group_id", group.id), zap.Bool("modified", group.modified))
	}
	return len(expired)
}

// RunExpiry calls ExpireIdle every interval until ctx is done.
func (c *TransactionCoordinator) RunExpiry(ctx context.Context, interval time.Duration) {
	if c.idle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ExpireIdle(ctx)
		}
	}
}

func (c *TransactionCoordinator) observe(outcome string, group *TransactionGroup) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveTransaction(outcome, c.now().Sub(group.startedAt))
}
