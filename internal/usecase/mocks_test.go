// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"product-media-studio/internal/domain"
	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/domain/ports/adapter"
	"product-media-studio/internal/domain/ports/repository"
)

// --- Transaction manager ---

// memTxManager serializes transactional sections with a single mutex, the
// in-memory stand-in for per-account row locking.
type memTxManager struct {
	mu sync.Mutex
}

var _ repository.TransactionManager = (*memTxManager)(nil)

type memTx struct{}

func (m *memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, memTx{})
}

// --- Ledger repository ---

type memLedgerRepo struct {
	mu        sync.Mutex
	entries   []*model.LedgerEntry
	insertErr error
}

var _ repository.LedgerRepository = (*memLedgerRepo)(nil)

func (r *memLedgerRepo) Balance(ctx context.Context, _ repository.Tx, accountID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, e := range r.entries {
		if e.AccountID == accountID {
			sum += e.Signed()
		}
	}
	return sum, nil
}

func (r *memLedgerRepo) Insert(ctx context.Context, _ repository.Tx, entry *model.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if entry.Kind == model.LedgerEntryRefund {
		for _, e := range r.entries {
			if e.Kind == model.LedgerEntryRefund && e.DebitID == entry.DebitID {
				return domain.ErrAlreadySettled
			}
		}
	}
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *memLedgerRepo) FindRefundForDebit(ctx context.Context, _ repository.Tx, debitID string) (*model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Kind == model.LedgerEntryRefund && e.DebitID == debitID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memLedgerRepo) FindEntry(ctx context.Context, _ repository.Tx, id string) (*model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memLedgerRepo) countKind(kind model.LedgerEntryKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// --- Job repository ---

type memJobRepo struct {
	mu      sync.Mutex
	records map[string]*model.JobRecord
	saveErr error
}

var _ repository.JobRepository = (*memJobRepo)(nil)

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{records: make(map[string]*model.JobRecord)}
}

func (r *memJobRepo) Save(ctx context.Context, _ repository.Tx, job *model.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	cp := *job
	cp.UpdatedAt = time.Now()
	r.records[cp.ID] = &cp
	return nil
}

func (r *memJobRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memJobRepo) FindByTaskID(ctx context.Context, _ repository.Tx, taskID string) (*model.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.TaskID == taskID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memJobRepo) ListStaleInFlight(ctx context.Context, _ repository.Tx, cutoff time.Time, limit int) ([]*model.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.JobRecord
	for _, rec := range r.records {
		if rec.State.Terminal() || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- Status cache ---

type memStatusCache struct {
	mu       sync.Mutex
	statuses map[string]model.JobStatus
}

var _ repository.StatusCache = (*memStatusCache)(nil)

func newMemStatusCache() *memStatusCache {
	return &memStatusCache{statuses: make(map[string]model.JobStatus)}
}

func (c *memStatusCache) PutStatus(ctx context.Context, key string, st *model.JobStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[key] = *st
	return nil
}

func (c *memStatusCache) GetStatus(ctx context.Context, key string) (*model.JobStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.statuses[key]; ok {
		cp := st
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

// --- Submission guard ---

type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	next  int
	fails bool
}

var _ repository.Locker = (*memLocker)(nil)

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]string)}
}

func (l *memLocker) TryLock(ctx context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fails {
		return "", domain.ErrOperationFailed
	}
	if _, ok := l.held[key]; ok {
		return "", domain.ErrDuplicateSubmission
	}
	l.next++
	token := fmt.Sprintf("token-%d", l.next)
	l.held[key] = token
	return token, nil
}

func (l *memLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *memLocker) holding(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// --- Provider ---

// fakeProvider scripts poll responses per task; the last step repeats once
// the script is exhausted.
type fakeProvider struct {
	mu        sync.Mutex
	createErr error
	nextTask  int
	steps     []providerStep
	calls     int
}

type providerStep struct {
	status *adapter.TaskStatus
	err    error
}

var _ adapter.GenerationProvider = (*fakeProvider)(nil)

func (p *fakeProvider) CreateTask(ctx context.Context, req *model.JobRequest) (model.JobHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return model.JobHandle{}, p.createErr
	}
	p.nextTask++
	return model.JobHandle{TaskID: fmt.Sprintf("task-%d", p.nextTask), Kind: req.Kind}, nil
}

func (p *fakeProvider) TaskStatus(ctx context.Context, handle model.JobHandle) (*adapter.TaskStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	return p.steps[i].status, p.steps[i].err
}
