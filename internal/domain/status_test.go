package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusActive, JobStatusDisputeRaised, true},
		{JobStatusActive, JobStatusResolved, true},
		{JobStatusActive, JobStatusAIResolved, false},
		{JobStatusDisputeRaised, JobStatusAIResolved, true},
		{JobStatusDisputeRaised, JobStatusActive, false},
		{JobStatusAIResolved, JobStatusDisputeRaised, true},
		{JobStatusAIResolved, JobStatusResolved, true},
		{JobStatusResolved, JobStatusDisputeRaised, false},
		{JobStatusResolved, JobStatusActive, false},
		{JobStatusResolved, JobStatusResolved, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

// Every guarded write must be an edge of the state machine, otherwise the
// reconciler could move a job somewhere unreachable.
func TestEventTransitions_FollowEdges(t *testing.T) {
	all := append([]Transition{VerdictTransition}, func() []Transition {
		var out []Transition
		for _, tr := range eventTransitions {
			out = append(out, tr)
		}
		return out
	}()...)

	for _, tr := range all {
		for _, from := range tr.From {
			assert.True(t, CanTransition(from, tr.To), "%s -> %s is not an edge", from, tr.To)
		}
	}
}

func TestTransitionFor(t *testing.T) {
	tr, ok := TransitionFor(EventVotingFinalized)
	assert.True(t, ok)
	assert.Equal(t, JobStatusResolved, tr.To)

	tr, ok = TransitionFor(EventDisputeRaised)
	assert.True(t, ok)
	assert.False(t, tr.Allows(JobStatusAIResolved), "redelivered DisputeRaised must not reopen a verdict")
	assert.False(t, tr.Allows(JobStatusResolved))

	_, ok = TransitionFor(EventAIVerdictAccepted)
	assert.False(t, ok, "AIVerdictAccepted does not change mirrored status")
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.True(t, JobStatusResolved.Terminal())
	for _, s := range []JobStatus{JobStatusActive, JobStatusDisputeRaised, JobStatusAIResolved} {
		assert.False(t, s.Terminal())
		assert.True(t, s.Valid())
	}
	assert.False(t, JobStatus("Cancelled").Valid())
}

func TestTransition_FromStrings(t *testing.T) {
	assert.Equal(t, []string{"DisputeRaised"}, VerdictTransition.FromStrings())
}

func TestErrors(t *testing.T) {
	t.Run("tx error unwraps", func(t *testing.T) {
		err := fmt.Errorf("release funds: %w", &TxError{TxHash: "0xabc", Reason: "not client", Err: ErrTransactionReverted})
		assert.ErrorIs(t, err, ErrTransactionReverted)

		var txErr *TxError
		assert.True(t, errors.As(err, &txErr))
		assert.Equal(t, "0xabc", txErr.TxHash)
		assert.Contains(t, err.Error(), "not client")
	})

	t.Run("retryable wraps", func(t *testing.T) {
		err := NewRetryableError(ErrJobNotFound)
		assert.True(t, IsRetryable(err))
		assert.ErrorIs(t, err, ErrJobNotFound)
		assert.False(t, IsRetryable(ErrJobNotFound))
	})

	t.Run("configuration error", func(t *testing.T) {
		err := NewConfigurationError("signers.admin_private_key", "not configured")
		var cfgErr *ConfigurationError
		assert.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "configuration error: signers.admin_private_key: not configured", err.Error())
	})
}
