package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/toms-api/internal/models"
	"github.com/noah-isme/toms-api/pkg/database"
)

var errInjected = errors.New("injected write failure")

type memState struct {
	restrictions map[models.LayerCode]map[string]models.Restriction
	ledger       map[models.LedgerKey]models.RestrictionInProposal
	proposals    map[int64]models.Proposal
}

func (s memState) clone() memState {
	out := memState{
		restrictions: make(map[models.LayerCode]map[string]models.Restriction, len(s.restrictions)),
		ledger:       make(map[models.LedgerKey]models.RestrictionInProposal, len(s.ledger)),
		proposals:    make(map[int64]models.Proposal, len(s.proposals)),
	}
	for layer, rows := range s.restrictions {
		copied := make(map[string]models.Restriction, len(rows))
		for id, r := range rows {
			copied[id] = r.Clone()
		}
		out.restrictions[layer] = copied
	}
	for k, v := range s.ledger {
		out.ledger[k] = v
	}
	for k, v := range s.proposals {
		if v.OpenDate != nil {
			d := *v.OpenDate
			v.OpenDate = &d
		}
		out.proposals[k] = v
	}
	return out
}

// memStore backs every store interface of the service package with maps.
// Transactions snapshot the state on Begin and restore it on Rollback.
type memStore struct {
	mu           sync.Mutex
	state        memState
	nextProposal int64

	writes  int
	failAt  int
	begun   int
	commits int
	aborts  int

	// locking proposal reads, by kind
	shareLocks  int
	updateLocks int
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			restrictions: map[models.LayerCode]map[string]models.Restriction{},
			ledger:       map[models.LedgerKey]models.RestrictionInProposal{},
			proposals:    map[int64]models.Proposal{},
		},
		nextProposal: 1,
	}
}

// failOnWrite makes the n-th write from now fail.
func (m *memStore) failOnWrite(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = m.writes + n
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) write() error {
	m.writes++
	if m.failAt > 0 && m.writes == m.failAt {
		m.failAt = 0
		return errInjected
	}
	return nil
}

func (m *memStore) restrictions() memRestrictions { return memRestrictions{m} }
func (m *memStore) ledger() memLedger             { return memLedger{m} }
func (m *memStore) proposals() memProposals       { return memProposals{m} }

// seed stores r directly, outside of any transaction.
func (m *memStore) seed(layer models.LayerCode, r models.Restriction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.restrictions[layer] == nil {
		m.state.restrictions[layer] = map[string]models.Restriction{}
	}
	m.state.restrictions[layer][r.GeometryID] = r.Clone()
}

func (m *memStore) seedLedger(row models.RestrictionInProposal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ledger[row.Key()] = row
}

func (m *memStore) seedProposal(p models.Proposal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.proposals[p.ProposalID] = p
	if p.ProposalID >= m.nextProposal {
		m.nextProposal = p.ProposalID + 1
	}
}

func (m *memStore) layerRows(layer models.LayerCode) []models.Restriction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Restriction, 0, len(m.state.restrictions[layer]))
	for _, r := range m.state.restrictions[layer] {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeometryID < out[j].GeometryID })
	return out
}

func (m *memStore) ledgerRows(proposalID int64) []models.RestrictionInProposal {
	rows, _ := m.ledger().ListByProposal(context.Background(), nil, proposalID)
	return rows
}

func (m *memStore) Begin(context.Context) (database.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begun++
	return &memTx{store: m, snapshot: m.state.clone()}, nil
}

type memTx struct {
	sqlx.ExtContext
	store    *memStore
	snapshot memState
	done     bool
}

func (t *memTx) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.store.commits++
	return nil
}

func (t *memTx) Rollback() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.store.state = t.snapshot
	t.store.aborts++
	return nil
}

type memRestrictions struct{ m *memStore }

func (r memRestrictions) FindByGeometryID(_ context.Context, _ sqlx.ExtContext, layer models.LayerCode, geometryID string) (*models.Restriction, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	row, ok := r.m.state.restrictions[layer][geometryID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := row.Clone()
	return &out, nil
}

func (r memRestrictions) FindByRestrictionID(_ context.Context, _ sqlx.ExtContext, layer models.LayerCode, restrictionID string) (*models.Restriction, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, row := range r.m.state.restrictions[layer] {
		if row.RestrictionID == restrictionID {
			out := row.Clone()
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memRestrictions) Insert(_ context.Context, _ sqlx.ExtContext, layer models.LayerCode, restriction *models.Restriction) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.write(); err != nil {
		return err
	}
	rows := r.m.state.restrictions[layer]
	if rows == nil {
		rows = map[string]models.Restriction{}
		r.m.state.restrictions[layer] = rows
	}
	if _, exists := rows[restriction.GeometryID]; exists {
		return fmt.Errorf("duplicate geometry id %s", restriction.GeometryID)
	}
	for _, row := range rows {
		if restriction.RestrictionID != "" && row.RestrictionID == restriction.RestrictionID {
			return fmt.Errorf("duplicate restriction id %s", restriction.RestrictionID)
		}
	}
	rows[restriction.GeometryID] = restriction.Clone()
	return nil
}

func (r memRestrictions) Update(_ context.Context, _ sqlx.ExtContext, layer models.LayerCode, restriction *models.Restriction) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.write(); err != nil {
		return err
	}
	if _, ok := r.m.state.restrictions[layer][restriction.GeometryID]; !ok {
		return sql.ErrNoRows
	}
	r.m.state.restrictions[layer][restriction.GeometryID] = restriction.Clone()
	return nil
}

func (r memRestrictions) Delete(_ context.Context, _ sqlx.ExtContext, layer models.LayerCode, geometryID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.write(); err != nil {
		return err
	}
	if _, ok := r.m.state.restrictions[layer][geometryID]; !ok {
		return sql.ErrNoRows
	}
	delete(r.m.state.restrictions[layer], geometryID)
	return nil
}

func (r memRestrictions) setDate(layer models.LayerCode, restrictionID string, apply func(*models.Restriction)) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.write(); err != nil {
		return err
	}
	for id, row := range r.m.state.restrictions[layer] {
		if row.RestrictionID == restrictionID {
			apply(&row)
			r.m.state.restrictions[layer][id] = row
			return nil
		}
	}
	return sql.ErrNoRows
}

func (r memRestrictions) SetOpenDate(_ context.Context, _ sqlx.ExtContext, layer models.LayerCode, restrictionID string, date time.Time) error {
	return r.setDate(layer, restrictionID, func(row *models.Restriction) { row.OpenDate = &date })
}

func (r memRestrictions) SetCloseDate(_ context.Context, _ sqlx.ExtContext, layer models.LayerCode, restrictionID string, date time.Time) error {
	return r.setDate(layer, restrictionID, func(row *models.Restriction) { row.CloseDate = &date })
}

func (r memRestrictions) ListUnpublished(_ context.Context, _ sqlx.ExtContext, layer models.LayerCode, proposalID int64) ([]models.Restriction, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := []models.Restriction{}
	for _, row := range r.m.state.restrictions[layer] {
		if row.ProposalID != nil && *row.ProposalID == proposalID && row.RestrictionID == "" {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeometryID < out[j].GeometryID })
	return out, nil
}

func (r memRestrictions) Publish(_ context.Context, _ sqlx.ExtContext, layer models.LayerCode, geometryID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.write(); err != nil {
		return err
	}
	row, ok := r.m.state.restrictions[layer][geometryID]
	if !ok || row.RestrictionID != "" {
		return sql.ErrNoRows
	}
	row.RestrictionID = row.GeometryID
	r.m.state.restrictions[layer][geometryID] = row
	return nil
}

type memLedger struct{ m *memStore }

func (l memLedger) Lookup(_ context.Context, _ sqlx.ExtContext, key models.LedgerKey) (*models.RestrictionInProposal, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	row, ok := l.m.state.ledger[key]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (l memLedger) Insert(_ context.Context, _ sqlx.ExtContext, row models.RestrictionInProposal) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if err := l.m.write(); err != nil {
		return err
	}
	if _, exists := l.m.state.ledger[row.Key()]; exists {
		return fmt.Errorf("duplicate ledger key %+v", row.Key())
	}
	l.m.state.ledger[row.Key()] = row
	return nil
}

func (l memLedger) Delete(_ context.Context, _ sqlx.ExtContext, key models.LedgerKey) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if err := l.m.write(); err != nil {
		return err
	}
	if _, ok := l.m.state.ledger[key]; !ok {
		return sql.ErrNoRows
	}
	delete(l.m.state.ledger, key)
	return nil
}

func (l memLedger) ListByProposal(_ context.Context, _ sqlx.ExtContext, proposalID int64) ([]models.RestrictionInProposal, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	out := []models.RestrictionInProposal{}
	for _, row := range l.m.state.ledger {
		if row.ProposalID == proposalID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RestrictionTableID != out[j].RestrictionTableID {
			return out[i].RestrictionTableID < out[j].RestrictionTableID
		}
		return out[i].RestrictionID < out[j].RestrictionID
	})
	return out, nil
}

func (l memLedger) DeleteByProposal(_ context.Context, _ sqlx.ExtContext, proposalID int64) (int64, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if err := l.m.write(); err != nil {
		return 0, err
	}
	var n int64
	for key := range l.m.state.ledger {
		if key.ProposalID == proposalID {
			delete(l.m.state.ledger, key)
			n++
		}
	}
	return n, nil
}

func (l memLedger) ListSchedule(ctx context.Context, proposalID int64) ([]models.ScheduleEntry, error) {
	rows, _ := l.ListByProposal(ctx, nil, proposalID)
	out := make([]models.ScheduleEntry, 0, len(rows))
	for _, row := range rows {
		entry := models.ScheduleEntry{
			RestrictionTableID:         row.RestrictionTableID,
			RestrictionID:              row.RestrictionID,
			ActionOnProposalAcceptance: row.ActionOnProposalAcceptance,
		}
		if r, err := l.m.restrictions().FindByRestrictionID(ctx, nil, row.RestrictionTableID, row.RestrictionID); err == nil {
			gid := r.GeometryID
			entry.GeometryID = &gid
			entry.RestrictionTypeID = r.RestrictionTypeID
		}
		out = append(out, entry)
	}
	return out, nil
}

type memProposals struct{ m *memStore }

func (p memProposals) NextID(context.Context, sqlx.ExtContext) (int64, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	id := p.m.nextProposal
	p.m.nextProposal++
	return id, nil
}

func (p memProposals) GetByID(_ context.Context, _ sqlx.ExtContext, id int64) (*models.Proposal, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	proposal, ok := p.m.state.proposals[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &proposal, nil
}

func (p memProposals) GetForEdit(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Proposal, error) {
	p.m.mu.Lock()
	p.m.shareLocks++
	p.m.mu.Unlock()
	return p.GetByID(ctx, exec, id)
}

func (p memProposals) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Proposal, error) {
	p.m.mu.Lock()
	p.m.updateLocks++
	p.m.mu.Unlock()
	return p.GetByID(ctx, exec, id)
}

func (p memProposals) List(_ context.Context, filter models.ProposalFilter) ([]models.Proposal, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	out := []models.Proposal{}
	for _, proposal := range p.m.state.proposals {
		if len(filter.Status) > 0 {
			match := false
			for _, s := range filter.Status {
				match = match || proposal.Status == s
			}
			if !match {
				continue
			}
		}
		out = append(out, proposal)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ProposalID < out[j].ProposalID
	})
	return out, nil
}

func (p memProposals) Save(_ context.Context, _ sqlx.ExtContext, proposal *models.Proposal) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if err := p.m.write(); err != nil {
		return err
	}
	if existing, ok := p.m.state.proposals[proposal.ProposalID]; ok && existing.Status != models.ProposalInPreparation {
		return sql.ErrNoRows
	}
	p.m.state.proposals[proposal.ProposalID] = *proposal
	return nil
}

func (p memProposals) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id int64, status models.ProposalStatus, openDate *time.Time) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if err := p.m.write(); err != nil {
		return err
	}
	existing, ok := p.m.state.proposals[id]
	if !ok || existing.Status != models.ProposalInPreparation {
		return sql.ErrNoRows
	}
	existing.Status = status
	if openDate != nil {
		d := *openDate
		existing.OpenDate = &d
	}
	p.m.state.proposals[id] = existing
	return nil
}

// sequentialIDs hands out predictable identities.
type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%03d", s.n)
}

type observerStub struct {
	mu          sync.Mutex
	versioning  []string
	started     int
	transaction []string
}

func (o *observerStub) ObserveVersioning(operation, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.versioning = append(o.versioning, operation+":"+outcome)
}

func (o *observerStub) ObserveTransactionStart() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *observerStub) ObserveTransaction(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transaction = append(o.transaction, outcome)
}
