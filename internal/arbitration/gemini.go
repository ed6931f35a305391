package arbitration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/vertexai/genai"
	"github.com/cuongbtq/escrow-engine/internal/domain"
)

// DefaultModels is tried in order until one answers
var DefaultModels = []string{
	"gemini-2.0-flash-001",
	"gemini-2.0-flash",
	"gemini-2.5-flash",
}

// maxReasonLength bounds the explanation stored on-chain
const maxReasonLength = 500

// Generator produces a text completion for prompt with the named model
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// GeminiPolicy asks a Gemini model for a verdict
type GeminiPolicy struct {
	gen    Generator
	models []string
	logger *slog.Logger
}

// NewGeminiPolicy creates a policy that falls back through models in order
func NewGeminiPolicy(gen Generator, models []string, logger *slog.Logger) *GeminiPolicy {
	if len(models) == 0 {
		models = DefaultModels
	}
	return &GeminiPolicy{gen: gen, models: models, logger: logger}
}

func (p *GeminiPolicy) Decide(ctx context.Context, job *domain.Job, evidence []domain.Evidence) (Verdict, error) {
	prompt := buildPrompt(job, evidence)

	var lastErr error
	for _, model := range p.models {
		text, err := p.gen.Generate(ctx, model, prompt)
		if err == nil {
			var v Verdict
			v, err = parseVerdict(text)
			if err == nil {
				p.logger.Info("Verdict generated",
					slog.Int64("job_id", job.JobID),
					slog.String("model", model),
					slog.Int("contractor_percent", v.ContractorPercent),
				)
				return v, nil
			}
		}

		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}

		p.logger.Warn("Model failed to produce a verdict",
			slog.Int64("job_id", job.JobID),
			slog.String("model", model),
			slog.String("error", err.Error()),
		)
		lastErr = err
	}

	return Verdict{}, domain.NewRetryableError(fmt.Errorf("all models failed: %w", lastErr))
}

func buildPrompt(job *domain.Job, evidence []domain.Evidence) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `You are the arbitrator of a freelance escrow dispute.

Job %d escrows %s USDC.
Client: %s
Contractor: %s

Evidence submitted by the parties, oldest first:
`, job.JobID, job.AmountUSDC.String(), job.ClientAddress, job.ContractorAddress)

	if len(evidence) == 0 {
		sb.WriteString("(no evidence was submitted)\n")
	}
	for i, ev := range evidence {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, ev.Sender, ev.Message)
		if ev.FileURL != nil {
			fmt.Fprintf(&sb, " (attachment: %s)", *ev.FileURL)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`
Decide what share of the funds the contractor should receive.

Return strict JSON with structure:
{
  "contractor_percent": integer between 0 and 100,
  "reason": string
}

Return ONLY the raw JSON without any markdown formatting, code blocks, or additional text.`)

	return sb.String()
}

func parseVerdict(text string) (Verdict, error) {
	var raw struct {
		ContractorPercent *float64 `json:"contractor_percent"`
		Reason            string   `json:"reason"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(text)), &raw); err != nil {
		return Verdict{}, fmt.Errorf("failed to parse verdict JSON: %w", err)
	}
	if raw.ContractorPercent == nil {
		return Verdict{}, errors.New("verdict is missing contractor_percent")
	}

	reason := strings.TrimSpace(raw.Reason)
	if reason == "" {
		return Verdict{}, errors.New("verdict is missing reason")
	}
	reason = truncate(reason, maxReasonLength)

	return Verdict{
		ContractorPercent: domain.FormatPercent(*raw.ContractorPercent),
		Reason:            reason,
	}, nil
}

// truncate cuts s to at most n bytes without splitting a character
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// VertexGenerator calls Gemini through Vertex AI
type VertexGenerator struct {
	client *genai.Client
}

// NewVertexGenerator connects to Vertex AI with application default credentials
func NewVertexGenerator(ctx context.Context, project, location string) (*VertexGenerator, error) {
	client, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex ai client: %w", err)
	}
	return &VertexGenerator{client: client}, nil
}

func (g *VertexGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	m := g.client.GenerativeModel(model)
	m.SetTemperature(0.1)
	m.SetTopP(0.8)
	m.ResponseMIMEType = "application/json"

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		if sb.Len() > 0 {
			return sb.String(), nil
		}
	}
	return "", errors.New("no text in response")
}

// Close releases the underlying client
func (g *VertexGenerator) Close() error {
	return g.client.Close()
}
