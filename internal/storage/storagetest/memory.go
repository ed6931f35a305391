// Package storagetest provides an in-memory job ledger with the same guarded
// write semantics as the postgres store.
package storagetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/storage"
	"github.com/google/uuid"
)

// MemoryStore is a concurrency-safe in-memory ledger
type MemoryStore struct {
	mu          sync.Mutex
	jobs        map[int64]domain.Job
	evidence    map[int64][]domain.Evidence
	checkpoints map[string]uint64
	history     map[int64][]domain.JobStatus
	rejected    map[int64]bool

	failures int
	failErr  error
	now      func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[int64]domain.Job),
		evidence:    make(map[int64][]domain.Evidence),
		checkpoints: make(map[string]uint64),
		history:     make(map[int64][]domain.JobStatus),
		rejected:    make(map[int64]bool),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// FailNext makes the next n write calls return err
func (m *MemoryStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.failErr = err
}

func (m *MemoryStore) injectedLocked() error {
	if m.failures > 0 {
		m.failures--
		return m.failErr
	}
	return nil
}

// Put stores job as-is
func (m *MemoryStore) Put(job domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.JobID] = job
	m.history[job.JobID] = append(m.history[job.JobID], job.Status)
}

// Job returns a copy of the stored row
func (m *MemoryStore) Job(jobID int64) (domain.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

// History returns every status the job has been written with, in order
func (m *MemoryStore) History(jobID int64) []domain.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.JobStatus(nil), m.history[jobID]...)
}

// Checkpoint returns the stored checkpoint for name
func (m *MemoryStore) Checkpoint(name string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.checkpoints[name]
	return b, ok
}

func (m *MemoryStore) UpsertCreatedJob(ctx context.Context, job *domain.Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedLocked(); err != nil {
		return false, err
	}

	tr, _ := domain.TransitionFor(domain.EventJobCreated)
	existing, ok := m.jobs[job.JobID]
	if !ok {
		now := m.now()
		row := *job
		row.Status = tr.To
		row.CreatedAt = now
		row.UpdatedAt = now
		m.jobs[job.JobID] = row
		m.history[job.JobID] = append(m.history[job.JobID], row.Status)
		return true, nil
	}

	if tr.Allows(existing.Status) {
		existing.Status = tr.To
		m.jobs[job.JobID] = existing
	}
	return false, nil
}

func (m *MemoryStore) ApplyStatus(ctx context.Context, jobID int64, tr domain.Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedLocked(); err != nil {
		return false, err
	}

	job, ok := m.jobs[jobID]
	if !ok {
		return false, domain.ErrReconciliationRace
	}
	if !tr.Allows(job.Status) {
		return false, nil
	}
	if tr.RejectsVerdict {
		m.rejected[jobID] = true
	}

	if job.Status != tr.To {
		job.Status = tr.To
		job.UpdatedAt = m.now()
		m.history[jobID] = append(m.history[jobID], tr.To)
	}
	m.jobs[jobID] = job
	return true, nil
}

func (m *MemoryStore) RecordVerdict(ctx context.Context, jobID int64, percent int, reason string, deadline time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedLocked(); err != nil {
		return false, err
	}

	job, ok := m.jobs[jobID]
	if !ok {
		return false, domain.ErrJobNotFound
	}
	if !domain.VerdictTransition.Allows(job.Status) || m.rejected[jobID] {
		return false, nil
	}

	job.Status = domain.VerdictTransition.To
	job.AIContractorPercent = &percent
	job.AIExplanation = &reason
	job.AIDeadline = &deadline
	job.UpdatedAt = m.now()
	m.jobs[jobID] = job
	m.history[jobID] = append(m.history[jobID], job.Status)
	return true, nil
}

func (m *MemoryStore) GetJob(ctx context.Context, jobID int64) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (m *MemoryStore) ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Job
	for _, job := range m.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Party != "" &&
			!strings.EqualFold(job.ClientAddress, filter.Party) &&
			!strings.EqualFold(job.ContractorAddress, filter.Party) {
			continue
		}
		if c := filter.Cursor; c != nil {
			if job.CreatedAt.After(c.CreatedAt) || (job.CreatedAt.Equal(c.CreatedAt) && job.JobID >= c.JobID) {
				continue
			}
		}
		out = append(out, job)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].JobID > out[j].JobID
	})

	if limit := filter.PageSize + 1; len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListExpiredVerdicts(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Job
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusAIResolved && job.AIDeadline != nil && !job.AIDeadline.After(now) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AIDeadline.Before(*out[j].AIDeadline) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AddEvidence(ctx context.Context, ev *domain.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedLocked(); err != nil {
		return err
	}

	if _, ok := m.jobs[ev.JobID]; !ok {
		return domain.ErrJobNotFound
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = m.now()
	m.evidence[ev.JobID] = append(m.evidence[ev.JobID], *ev)
	return nil
}

func (m *MemoryStore) ListEvidence(ctx context.Context, jobID int64) ([]domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Evidence{}, m.evidence[jobID]...), nil
}

func (m *MemoryStore) SaveCheckpoint(ctx context.Context, name string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if block > m.checkpoints[name] {
		m.checkpoints[name] = block
	} else if _, ok := m.checkpoints[name]; !ok {
		m.checkpoints[name] = block
	}
	return nil
}

func (m *MemoryStore) LoadCheckpoint(ctx context.Context, name string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.checkpoints[name]
	return b, ok, nil
}
