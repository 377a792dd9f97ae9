package web

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

// In-memory backing for full-stack handler tests.

type memTxManager struct{ mu sync.Mutex }

func (m *memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, struct{}{})
}

type memLedger struct {
	mu      sync.Mutex
	entries []*model.LedgerEntry
}

var _ repository.LedgerRepository = (*memLedger)(nil)

func (r *memLedger) Balance(ctx context.Context, _ repository.Tx, accountID string) (int64, error) {
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

func (r *memLedger) Insert(ctx context.Context, _ repository.Tx, entry *model.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *memLedger) FindRefundForDebit(ctx context.Context, _ repository.Tx, debitID string) (*model.LedgerEntry, error) {
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

func (r *memLedger) FindEntry(ctx context.Context, _ repository.Tx, id string) (*model.LedgerEntry, error) {
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

type memJobs struct {
	mu      sync.Mutex
	records map[string]*model.JobRecord
}

var _ repository.JobRepository = (*memJobs)(nil)

func newMemJobs() *memJobs { return &memJobs{records: make(map[string]*model.JobRecord)} }

func (r *memJobs) Save(ctx context.Context, _ repository.Tx, job *model.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	cp.UpdatedAt = time.Now()
	r.records[cp.ID] = &cp
	return nil
}

func (r *memJobs) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memJobs) FindByTaskID(ctx context.Context, _ repository.Tx, taskID string) (*model.JobRecord, error) {
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

func (r *memJobs) ListStaleInFlight(ctx context.Context, _ repository.Tx, cutoff time.Time, limit int) ([]*model.JobRecord, error) {
	return nil, nil
}

type memCache struct {
	mu       sync.Mutex
	statuses map[string]model.JobStatus
}

var _ repository.StatusCache = (*memCache)(nil)

func newMemCache() *memCache { return &memCache{statuses: make(map[string]model.JobStatus)} }

func (c *memCache) PutStatus(ctx context.Context, key string, st *model.JobStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[key] = *st
	return nil
}

func (c *memCache) GetStatus(ctx context.Context, key string) (*model.JobStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.statuses[key]; ok {
		cp := st
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]string
	next int
}

var _ repository.Locker = (*memLocker)(nil)

func newMemLocker() *memLocker { return &memLocker{held: make(map[string]string)} }

func (l *memLocker) TryLock(ctx context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
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

// fakeProvider answers every poll with the same scripted status.
type fakeProvider struct {
	mu       sync.Mutex
	nextTask int
	status   *adapter.TaskStatus
	err      error
}

var _ adapter.GenerationProvider = (*fakeProvider)(nil)

func (p *fakeProvider) CreateTask(ctx context.Context, req *model.JobRequest) (model.JobHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return model.JobHandle{}, p.err
	}
	p.nextTask++
	return model.JobHandle{TaskID: fmt.Sprintf("task-%d", p.nextTask), Kind: req.Kind}, nil
}

func (p *fakeProvider) TaskStatus(ctx context.Context, handle model.JobHandle) (*adapter.TaskStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.err
}
