package arbitration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	responses map[string]string
	errs      map[string]error
	tried     []string
	prompt    string
}

func (g *scriptedGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	g.tried = append(g.tried, model)
	g.prompt = prompt
	if err := g.errs[model]; err != nil {
		return "", err
	}
	return g.responses[model], nil
}

func testJob() *domain.Job {
	return &domain.Job{
		JobID:             7,
		ClientAddress:     "0x00000000000000000000000000000000000000aa",
		ContractorAddress: "0x00000000000000000000000000000000000000bb",
		AmountUSDC:        decimal.RequireFromString("250.5"),
		Status:            domain.JobStatusDisputeRaised,
	}
}

func TestGeminiPolicy_Decide(t *testing.T) {
	file := "https://files.example.com/delivery.zip"
	evidence := []domain.Evidence{
		{Sender: "client", Message: "The site was never deployed"},
		{Sender: "contractor", Message: "Deployed to staging as agreed", FileURL: &file},
	}

	gen := &scriptedGenerator{
		responses: map[string]string{"m1": `{"contractor_percent": 70, "reason": "Work delivered to staging"}`},
	}
	policy := NewGeminiPolicy(gen, []string{"m1"}, discardLogger())

	v, err := policy.Decide(context.Background(), testJob(), evidence)
	require.NoError(t, err)
	assert.Equal(t, Verdict{ContractorPercent: 70, Reason: "Work delivered to staging"}, v)

	assert.Contains(t, gen.prompt, "Job 7 escrows 250.5 USDC")
	assert.Contains(t, gen.prompt, "1. [client] The site was never deployed")
	assert.Contains(t, gen.prompt, "(attachment: "+file+")")
}

func TestGeminiPolicy_FallsBackThroughModels(t *testing.T) {
	gen := &scriptedGenerator{
		errs: map[string]error{"m1": errors.New("model not found")},
		responses: map[string]string{
			"m2": "not json",
			"m3": "```json\n{\"contractor_percent\": 40, \"reason\": \"Partial delivery\"}\n```",
		},
	}
	policy := NewGeminiPolicy(gen, []string{"m1", "m2", "m3"}, discardLogger())

	v, err := policy.Decide(context.Background(), testJob(), nil)
	require.NoError(t, err)
	assert.Equal(t, 40, v.ContractorPercent)
	assert.Equal(t, []string{"m1", "m2", "m3"}, gen.tried)
	assert.Contains(t, gen.prompt, "(no evidence was submitted)")
}

func TestGeminiPolicy_AllModelsFail(t *testing.T) {
	gen := &scriptedGenerator{
		errs: map[string]error{
			"m1": errors.New("quota exceeded"),
			"m2": errors.New("quota exceeded"),
		},
	}
	policy := NewGeminiPolicy(gen, []string{"m1", "m2"}, discardLogger())

	_, err := policy.Decide(context.Background(), testJob(), nil)
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestNewGeminiPolicy_DefaultModels(t *testing.T) {
	policy := NewGeminiPolicy(&scriptedGenerator{}, nil, discardLogger())
	assert.Equal(t, DefaultModels, policy.models)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantPercent int
		wantErr     bool
	}{
		{name: "integer", input: `{"contractor_percent": 55, "reason": "ok"}`, wantPercent: 55},
		{name: "fraction floors", input: `{"contractor_percent": 55.9, "reason": "ok"}`, wantPercent: 55},
		{name: "above range clamps", input: `{"contractor_percent": 140, "reason": "ok"}`, wantPercent: 100},
		{name: "negative clamps", input: `{"contractor_percent": -3, "reason": "ok"}`, wantPercent: 0},
		{name: "fenced", input: "```\n{\"contractor_percent\": 10, \"reason\": \"ok\"}\n```", wantPercent: 10},
		{name: "missing percent", input: `{"reason": "ok"}`, wantErr: true},
		{name: "missing reason", input: `{"contractor_percent": 10, "reason": "  "}`, wantErr: true},
		{name: "not json", input: `the contractor should get half`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseVerdict(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPercent, v.ContractorPercent)
		})
	}
}

func TestParseVerdict_TruncatesReason(t *testing.T) {
	long := strings.Repeat("a", maxReasonLength+50)
	v, err := parseVerdict(`{"contractor_percent": 10, "reason": "` + long + `"}`)
	require.NoError(t, err)
	assert.Len(t, v.Reason, maxReasonLength)

	multiByte := "a" + strings.Repeat("é", maxReasonLength)
	v, err = parseVerdict(`{"contractor_percent": 10, "reason": "` + multiByte + `"}`)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(v.Reason))
	assert.LessOrEqual(t, len(v.Reason), maxReasonLength)
	assert.Equal(t, multiByte[:maxReasonLength-1], v.Reason)
}
