package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/deadline"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/escrow"
	"github.com/cuongbtq/escrow-engine/internal/executor"
	"github.com/cuongbtq/escrow-engine/internal/storage"
	"github.com/shopspring/decimal"
)

// EscrowService is the part of escrow.Service the HTTP layer calls
type EscrowService interface {
	CreateJob(ctx context.Context, walletID, contractor string, amount decimal.Decimal) (*executor.Result, error)
	ReleaseFunds(ctx context.Context, walletID string, jobID int64) (*executor.Result, error)
	RaiseDispute(ctx context.Context, walletID string, jobID int64) (*executor.Result, error)
	AcceptVerdict(ctx context.Context, walletID string, jobID int64) (*executor.Result, error)
	RejectVerdict(ctx context.Context, walletID string, jobID int64) (*executor.Result, error)
	CastVote(ctx context.Context, walletID string, jobID int64, percent float64) (*executor.Result, error)
	EscalateToDAO(ctx context.Context, jobID int64, duration time.Duration) (*executor.Result, error)
	CheckAIDeadline(ctx context.Context, jobID int64) (*executor.Result, error)
	CheckExpiredDeadlines(ctx context.Context, limit int) ([]deadline.Outcome, error)
	FinalizeVoting(ctx context.Context, jobID int64) (*executor.Result, error)
	RegisterVoter(ctx context.Context, voter string) (*executor.Result, error)
	RemoveVoter(ctx context.Context, voter string) (*executor.Result, error)
	BanVoter(ctx context.Context, voter string) (*executor.Result, error)
	SetVotingDuration(ctx context.Context, d time.Duration) (*executor.Result, error)
	SetMinVotersRequired(ctx context.Context, n uint64) (*executor.Result, error)
	SetFeePercentage(ctx context.Context, percent float64) (*executor.Result, error)
	GetJob(ctx context.Context, jobID int64) (*escrow.JobDetail, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	AddEvidence(ctx context.Context, jobID int64, sender, message string, fileURL *string) (*domain.Evidence, error)
	RequestArbitration(ctx context.Context, jobID int64, requestedBy string) error
	WalletFor(ctx context.Context, userID string) (string, error)
}

var _ EscrowService = (*escrow.Service)(nil)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Service     EscrowService
	ServiceName string
	// AdminToken guards the admin routes when non-empty
	AdminToken string
	// HealthChecks are run by GET /health, keyed by dependency name
	HealthChecks map[string]func(context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	svc    EscrowService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		svc:    deps.Service,
	}
}

// AdminHandler handles voter registry, parameter and batch deadline requests
type AdminHandler struct {
	logger *slog.Logger
	svc    EscrowService
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(deps *Dependencies) *AdminHandler {
	return &AdminHandler{
		logger: deps.Logger,
		svc:    deps.Service,
	}
}
