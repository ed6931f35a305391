package arbitration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/chain"
	"github.com/cuongbtq/escrow-engine/internal/deadletter"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/executor"
	"github.com/cuongbtq/escrow-engine/internal/storage/storagetest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var confirmedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []chain.Call
	actors  []executor.Actor
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, actor executor.Actor, call chain.Call) (*executor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.actors = append(f.actors, actor)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}

	if f.err != nil {
		return nil, f.err
	}
	return &executor.Result{TxHash: "0xabc", BlockNumber: 42, ConfirmedAt: confirmedAt}, nil
}

func (f *fakeExecutor) recorded() ([]chain.Call, []executor.Actor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.Call(nil), f.calls...), append([]executor.Actor(nil), f.actors...)
}

type recordingDeadLetters struct {
	mu      sync.Mutex
	letters []deadletter.Letter
}

func (p *recordingDeadLetters) Publish(ctx context.Context, letter deadletter.Letter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.letters = append(p.letters, letter)
	return nil
}

func (p *recordingDeadLetters) all() []deadletter.Letter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]deadletter.Letter(nil), p.letters...)
}

type failingPolicy struct{ err error }

func (p failingPolicy) Decide(ctx context.Context, job *domain.Job, evidence []domain.Evidence) (Verdict, error) {
	return Verdict{}, p.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type agentHarness struct {
	store *storagetest.MemoryStore
	exec  *fakeExecutor
	dead  *recordingDeadLetters
	agent *Agent
}

func newAgentHarness(t *testing.T, policy Policy) *agentHarness {
	t.Helper()

	escrow, err := chain.NewEscrowContract(common.HexToAddress("0x00000000000000000000000000000000000000e1"))
	require.NoError(t, err)

	h := &agentHarness{
		store: storagetest.NewMemoryStore(),
		exec:  &fakeExecutor{},
		dead:  &recordingDeadLetters{},
	}
	h.agent = NewAgent(&AgentConfig{
		Logger:      discardLogger(),
		Store:       h.store,
		Policy:      policy,
		Executor:    h.exec,
		Escrow:      escrow,
		DeadLetters: h.dead,
	})
	return h
}

func (h *agentHarness) putJob(jobID int64, status domain.JobStatus) {
	h.store.Put(domain.Job{
		JobID:             jobID,
		ClientAddress:     "0x00000000000000000000000000000000000000aa",
		ContractorAddress: "0x00000000000000000000000000000000000000bb",
		AmountUSDC:        decimal.NewFromInt(100),
		Status:            status,
	})
}

func TestAgent_Arbitrate(t *testing.T) {
	h := newAgentHarness(t, nil)
	h.putJob(7, domain.JobStatusDisputeRaised)

	require.NoError(t, h.agent.Arbitrate(context.Background(), 7))

	calls, actors := h.exec.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "submitAIVerdict", calls[0].Method)
	assert.Equal(t, uint8(DefaultContractorPercent), calls[0].Args[1])
	assert.Equal(t, DefaultReason, calls[0].Args[2])
	assert.Equal(t, executor.AI(), actors[0])

	job, ok := h.store.Job(7)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusAIResolved, job.Status)
	require.NotNil(t, job.AIContractorPercent)
	assert.Equal(t, 60, *job.AIContractorPercent)
	require.NotNil(t, job.AIExplanation)
	assert.Equal(t, DefaultReason, *job.AIExplanation)
	require.NotNil(t, job.AIDeadline)
	assert.Equal(t, confirmedAt.Add(72*time.Hour), *job.AIDeadline)
	assert.Empty(t, h.dead.all())
}

func TestAgent_SkipsJobsNotDisputed(t *testing.T) {
	for _, status := range []domain.JobStatus{
		domain.JobStatusActive,
		domain.JobStatusAIResolved,
		domain.JobStatusResolved,
	} {
		t.Run(string(status), func(t *testing.T) {
			h := newAgentHarness(t, nil)
			h.putJob(7, status)

			require.NoError(t, h.agent.Arbitrate(context.Background(), 7))

			calls, _ := h.exec.recorded()
			assert.Empty(t, calls)
			job, _ := h.store.Job(7)
			assert.Equal(t, status, job.Status)
		})
	}
}

func TestAgent_Failures(t *testing.T) {
	tests := []struct {
		name       string
		policy     Policy
		execErr    error
		storeFail  bool
		noJob      bool
		wantErr    error
		wantStatus domain.JobStatus
	}{
		{
			name:    "unknown job",
			noJob:   true,
			wantErr: domain.ErrJobNotFound,
		},
		{
			name:       "policy outage",
			policy:     failingPolicy{err: errors.New("model unavailable")},
			wantStatus: domain.JobStatusDisputeRaised,
		},
		{
			name:       "confirmation timeout",
			execErr:    &domain.TxError{TxHash: "0xdead", Err: domain.ErrConfirmationTimeout},
			wantErr:    domain.ErrConfirmationTimeout,
			wantStatus: domain.JobStatusDisputeRaised,
		},
		{
			name:       "reverted",
			execErr:    &domain.TxError{TxHash: "0xdead", Reason: "job not disputed", Err: domain.ErrTransactionReverted},
			wantErr:    domain.ErrTransactionReverted,
			wantStatus: domain.JobStatusDisputeRaised,
		},
		{
			name:       "store unavailable after confirmation",
			storeFail:  true,
			wantStatus: domain.JobStatusDisputeRaised,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAgentHarness(t, tt.policy)
			h.exec.err = tt.execErr
			if !tt.noJob {
				h.putJob(7, domain.JobStatusDisputeRaised)
			}
			if tt.storeFail {
				h.store.FailNext(1, errors.New("connection refused"))
			}

			err := h.agent.Arbitrate(context.Background(), 7)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			letters := h.dead.all()
			require.Len(t, letters, 1)
			assert.Equal(t, deadletter.SourceArbitration, letters[0].Source)
			assert.Equal(t, int64(7), letters[0].JobID)

			if tt.wantStatus != "" {
				job, _ := h.store.Job(7)
				assert.Equal(t, tt.wantStatus, job.Status)
			}
		})
	}
}

func TestAgent_OneArbitrationPerJob(t *testing.T) {
	h := newAgentHarness(t, nil)
	h.exec.started = make(chan struct{}, 1)
	h.exec.release = make(chan struct{})
	h.putJob(7, domain.JobStatusDisputeRaised)

	done := make(chan error, 1)
	go func() { done <- h.agent.Arbitrate(context.Background(), 7) }()
	<-h.exec.started

	err := h.agent.Arbitrate(context.Background(), 7)
	assert.ErrorIs(t, err, ErrArbitrationInFlight)

	close(h.exec.release)
	require.NoError(t, <-done)

	calls, _ := h.exec.recorded()
	assert.Len(t, calls, 1)
	assert.Empty(t, h.dead.all())
}

func TestAgent_RedeliveredDisputeAfterVerdict(t *testing.T) {
	h := newAgentHarness(t, nil)
	h.putJob(7, domain.JobStatusDisputeRaised)

	require.NoError(t, h.agent.Arbitrate(context.Background(), 7))
	require.NoError(t, h.agent.Arbitrate(context.Background(), 7))

	calls, _ := h.exec.recorded()
	assert.Len(t, calls, 1)
}

func TestAgent_VerdictRejectedBeforeRecorded(t *testing.T) {
	h := newAgentHarness(t, nil)
	h.exec.started = make(chan struct{}, 1)
	h.exec.release = make(chan struct{})
	h.putJob(7, domain.JobStatusDisputeRaised)

	done := make(chan error, 1)
	go func() { done <- h.agent.Arbitrate(context.Background(), 7) }()
	<-h.exec.started

	// the rejection is reconciled while the verdict tx is still confirming
	rejected, _ := domain.TransitionFor(domain.EventAIVerdictRejected)
	applied, err := h.store.ApplyStatus(context.Background(), 7, rejected)
	require.NoError(t, err)
	require.True(t, applied)

	close(h.exec.release)
	require.NoError(t, <-done)

	job, ok := h.store.Job(7)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusDisputeRaised, job.Status)
	assert.Nil(t, job.AIContractorPercent)
	assert.Nil(t, job.AIDeadline)
	assert.Empty(t, h.dead.all())
}

func TestFixedPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy FixedPolicy
		want   Verdict
	}{
		{
			name:   "zero value uses defaults",
			policy: FixedPolicy{},
			want:   Verdict{ContractorPercent: 60, Reason: "Merged Backend AI Result"},
		},
		{
			name:   "fully configured",
			policy: FixedPolicy{ContractorPercent: 25, Reason: "partial delivery"},
			want:   Verdict{ContractorPercent: 25, Reason: "partial delivery"},
		},
		{
			name:   "percent without reason keeps percent",
			policy: FixedPolicy{ContractorPercent: 25},
			want:   Verdict{ContractorPercent: 25, Reason: DefaultReason},
		},
		{
			name:   "reason without percent awards client",
			policy: FixedPolicy{Reason: "nothing delivered"},
			want:   Verdict{ContractorPercent: 0, Reason: "nothing delivered"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.policy.Decide(context.Background(), &domain.Job{JobID: 1}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}
