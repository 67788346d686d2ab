package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/afyalink/afyalink-backend/internal/gateway"
	"github.com/afyalink/afyalink-backend/internal/models"
	repo "github.com/afyalink/afyalink-backend/internal/repository"
	"github.com/google/uuid"
)

// in-memory repositories, safe for concurrent use

type fakePayments struct {
	mu       sync.Mutex
	byID     map[string]*models.PaymentRecord
	sessions *fakeSessions
}

func newFakePayments(sessions *fakeSessions) *fakePayments {
	return &fakePayments{byID: map[string]*models.PaymentRecord{}, sessions: sessions}
}

func (f *fakePayments) Create(_ context.Context, p models.PaymentRecord) (models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for _, e := range f.byID {
		if e.ExternalRequestRef == p.ExternalRequestRef {
			return models.PaymentRecord{}, fmt.Errorf("duplicate request ref %s", p.ExternalRequestRef)
		}
	}
	cp := p
	f.byID[p.ID] = &cp
	return p, nil
}

func (f *fakePayments) GetByID(_ context.Context, id string) (models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return models.PaymentRecord{}, repo.ErrNotFound
	}
	return *p, nil
}

func (f *fakePayments) GetByRequestRef(_ context.Context, ref string) (models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.ExternalRequestRef == ref {
			return *p, nil
		}
	}
	return models.PaymentRecord{}, repo.ErrNotFound
}

func (f *fakePayments) FindByTransactionRef(_ context.Context, ref string) ([]models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentRecord
	for _, p := range f.byID {
		if p.ExternalTransactionRef != nil && *p.ExternalTransactionRef == ref {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePayments) ListWindow(_ context.Context, start, end time.Time) ([]models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentRecord
	for _, p := range f.byID {
		in := func(t time.Time) bool { return !t.Before(start) && !t.After(end) }
		if (p.ConfirmedAt != nil && in(*p.ConfirmedAt)) ||
			(p.ConfirmedAt == nil && in(p.InitiatedAt)) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].InitiatedAt, out[j].InitiatedAt
		if out[i].ConfirmedAt != nil {
			ti = *out[i].ConfirmedAt
		}
		if out[j].ConfirmedAt != nil {
			tj = *out[j].ConfirmedAt
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakePayments) ListNonTerminal(_ context.Context) ([]models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentRecord
	for _, p := range f.byID {
		if !p.Status.Terminal() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePayments) Update(_ context.Context, p models.PaymentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.byID[p.ID]
	if !ok {
		return repo.ErrNotFound
	}
	attempts := cur.Attempts
	cp := p
	cp.Attempts = attempts
	cp.UpdatedAt = time.Now().UTC()
	f.byID[p.ID] = &cp
	return nil
}

func (f *fakePayments) AppendAttempt(_ context.Context, id string, a models.PaymentAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.Attempts = append(p.Attempts, a)
	return nil
}

// CreateForSession mirrors the transactional create-and-link: nothing is
// stored unless the session exists.
func (f *fakePayments) CreateForSession(ctx context.Context, p models.PaymentRecord, sessionID string) (models.PaymentRecord, error) {
	f.sessions.mu.Lock()
	_, ok := f.sessions.byID[sessionID]
	f.sessions.mu.Unlock()
	if !ok {
		return models.PaymentRecord{}, repo.ErrNotFound
	}
	sid := sessionID
	p.SessionID = &sid
	rec, err := f.Create(ctx, p)
	if err != nil {
		return models.PaymentRecord{}, err
	}
	f.sessions.mu.Lock()
	f.sessions.byID[sessionID].PaymentID = &rec.ID
	f.sessions.mu.Unlock()
	return rec, nil
}

type fakeSessions struct {
	mu   sync.Mutex
	byID map[string]*models.SessionRecord
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: map[string]*models.SessionRecord{}}
}

func (f *fakeSessions) Create(_ context.Context, s models.SessionRecord) (models.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	cp := s
	f.byID[s.ID] = &cp
	return s, nil
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (models.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return models.SessionRecord{}, repo.ErrNotFound
	}
	return *s, nil
}

func (f *fakeSessions) UpdateStatus(_ context.Context, id string, status models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return repo.ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeSessions) ListNonTerminal(_ context.Context) ([]models.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SessionRecord
	for _, s := range f.byID {
		switch s.Status {
		case models.SessionDeclined, models.SessionCancelled, models.SessionCompleted:
		default:
			out = append(out, *s)
		}
	}
	return out, nil
}

type fakeAuditLogs struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (f *fakeAuditLogs) Create(_ context.Context, l models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, l)
	return nil
}

func (f *fakeAuditLogs) count(entityType, toState string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.EntityType == entityType && e.ToState == toState {
			n++
		}
	}
	return n
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []models.ReconciliationRun
}

func (f *fakeRuns) Create(_ context.Context, run models.ReconciliationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRuns) GetByID(_ context.Context, id string) (models.ReconciliationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return models.ReconciliationRun{}, repo.ErrNotFound
}

func (f *fakeRuns) LatestForWindow(_ context.Context, start, end time.Time) (models.ReconciliationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.runs) - 1; i >= 0; i-- {
		if f.runs[i].WindowStart.Equal(start) && f.runs[i].WindowEnd.Equal(end) {
			return f.runs[i], nil
		}
	}
	return models.ReconciliationRun{}, repo.ErrNotFound
}

// fakeGateway serves canned per-ref lookups and counts initiations.
type fakeGateway struct {
	mu        sync.Mutex
	initiated int
	statuses  map[string]gateway.StatusResult
	errs      map[string]error
	onQuery   func(ref string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses: map[string]gateway.StatusResult{},
		errs:     map[string]error{},
	}
}

func (f *fakeGateway) InitiatePayment(_ context.Context, req gateway.InitiateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiated++
	return fmt.Sprintf("REQ-%03d", f.initiated), nil
}

func (f *fakeGateway) QueryStatus(ctx context.Context, ref string) (gateway.StatusResult, error) {
	f.mu.Lock()
	hook := f.onQuery
	err := f.errs[ref]
	res, ok := f.statuses[ref]
	f.mu.Unlock()
	if hook != nil {
		hook(ref)
	}
	// a cancelled context severs the lookup, same as the HTTP client
	if cerr := ctx.Err(); cerr != nil {
		return gateway.StatusResult{}, cerr
	}
	if err != nil {
		return gateway.StatusResult{}, err
	}
	if !ok {
		return gateway.StatusResult{Found: false}, nil
	}
	return res, nil
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) SessionConfirmed(models.SessionRecord) {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
}

func (n *countingNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}
