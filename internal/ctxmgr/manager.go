// Package ctxmgr implements the Context Manager (C5): a token-bounded
// window over a conversation's messages with orphan-pair-safe retention and
// incremental summarization of everything older than the retained window.
package ctxmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Config holds the §4.5/§6.6 tunables.
type Config struct {
	MaxTokens             int
	CompressionThreshold  float64
	KeepRecentExchanges   int
	SummaryMaxTokens      int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:            200_000,
		CompressionThreshold: 0.7,
		KeepRecentExchanges:  5,
		SummaryMaxTokens:     1000,
	}
}

// ErrContextOverflow is returned when compression cannot bring the context
// under budget; the Agent Runtime retries once with aggressive compression
// per §4.7's tie-break rule before failing the job.
var ErrContextOverflow = fmt.Errorf("ctxmgr: %s", models.ErrContextOverflow)

// Snapshot is the immutable per-step view of the conversation handed to the
// LLM client. It is never mutated again within the step (§4.5 step 4).
type Snapshot struct {
	Summary              string
	SummaryUpToMessageID int64
	Messages             []models.Message
	EstimatedTokens       int
	Compressed            bool
}

// Estimator turns a message slice into an approximate token count. The
// default implementation is a cheap char/4 heuristic, matching the
// reference's budget-packing style rather than a real tokenizer (see
// DESIGN.md — no pack dependency offers a real tokenizer either).
type Estimator func(messages []models.Message, system string, extra string) int

func DefaultEstimator(messages []models.Message, system, extra string) int {
	total := len(system) + len(extra)
	for _, m := range messages {
		total += len(m.Content) + len(m.Thinking)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + len(tc.Input)
		}
	}
	return total / 4
}

// Summarizer produces a new rolling summary covering messages up to and
// including upToID, optionally folding in a previous summary.
type Summarizer interface {
	Summarize(ctx context.Context, previousSummary string, messages []models.Message, maxTokens int) (string, error)
}

// LLMSummarizer implements Summarizer via the "cheap" LLM tier.
type LLMSummarizer struct {
	Client llm.Client
	Model  string
}

func (s *LLMSummarizer) Summarize(ctx context.Context, previous string, messages []models.Message, maxTokens int) (string, error) {
	prompt := buildSummarizationPrompt(previous, messages)
	resp, err := s.Client.Complete(ctx, llm.Request{
		Tier:      models.TierCheap,
		Model:     s.Model,
		System:    "Summarize the conversation so far concisely, preserving any decisions, facts, and open threads. Do not exceed the requested length.",
		Messages:  []llm.ChatMessage{{Role: models.RoleUser, Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func buildSummarizationPrompt(previous string, messages []models.Message) string {
	var b strings.Builder
	if previous != "" {
		b.WriteString("Existing summary:\n")
		b.WriteString(previous)
		b.WriteString("\n\n")
	}
	b.WriteString("New messages to fold in:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, truncate(m.Content, 500))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Manager implements the §4.5 windowing/compression algorithm.
type Manager struct {
	cfg        Config
	summarizer Summarizer
	estimate   Estimator
}

// New builds a Manager. estimate may be nil to use DefaultEstimator.
func New(cfg Config, summarizer Summarizer, estimate Estimator) *Manager {
	if estimate == nil {
		estimate = DefaultEstimator
	}
	return &Manager{cfg: cfg, summarizer: summarizer, estimate: estimate}
}

// Build gathers the window and, if over threshold, compresses it exactly
// once, per §4.5. systemPrompt/toolSchemaText feed the token estimate only.
func (m *Manager) Build(ctx context.Context, summary string, summaryUpToID int64, messages []models.Message, systemPrompt, toolSchemaText string, aggressive bool) (*Snapshot, error) {
	keepExchanges := m.cfg.KeepRecentExchanges
	if aggressive {
		keepExchanges = 2
	}

	est := m.estimate(messages, systemPrompt, toolSchemaText+summary)
	threshold := int(float64(m.cfg.MaxTokens) * m.cfg.CompressionThreshold)
	if est <= threshold {
		return &Snapshot{
			Summary:              summary,
			SummaryUpToMessageID: summaryUpToID,
			Messages:             messages,
			EstimatedTokens:      est,
		}, nil
	}

	retained, toSummarize := splitRetainedWindow(messages, keepExchanges)

	newSummary := summary
	newUpToID := summaryUpToID
	if len(toSummarize) > 0 {
		if m.summarizer == nil {
			return nil, ErrContextOverflow
		}
		s, err := m.summarizer.Summarize(ctx, summary, toSummarize, m.cfg.SummaryMaxTokens)
		if err != nil {
			return nil, fmt.Errorf("ctxmgr: summarize: %w", err)
		}
		newSummary = s
		newUpToID = toSummarize[len(toSummarize)-1].ID
	}

	snap := &Snapshot{
		Summary:              newSummary,
		SummaryUpToMessageID: newUpToID,
		Messages:             retained,
		Compressed:           true,
	}
	snap.EstimatedTokens = m.estimate(retained, systemPrompt, toolSchemaText+newSummary)
	if snap.EstimatedTokens > m.cfg.MaxTokens {
		return nil, ErrContextOverflow
	}
	return snap, nil
}

// splitRetainedWindow splits messages into (retained verbatim, to be
// summarised), keeping the last `keepExchanges` exchanges verbatim and
// never splitting an assistant/tool-call pair across the boundary (§4.5,
// testable property 2 / scenario S6).
func splitRetainedWindow(messages []models.Message, keepExchanges int) (retained, older []models.Message) {
	if keepExchanges <= 0 || len(messages) == 0 {
		return nil, messages
	}

	// Find exchange boundaries: a new exchange starts at each user message.
	boundaries := []int{}
	for i, m := range messages {
		if m.Role == models.RoleUser {
			boundaries = append(boundaries, i)
		}
	}
	if len(boundaries) == 0 {
		return messages, nil
	}
	cut := 0
	if len(boundaries) > keepExchanges {
		cut = boundaries[len(boundaries)-keepExchanges]
	}

	// Never split an assistant-with-tool-calls from its tool-result
	// messages: if cut lands inside such a pair, push cut back to the pair's
	// start.
	cut = pushBackToPairBoundary(messages, cut)

	return messages[cut:], messages[:cut]
}

// pushBackToPairBoundary walks backward from cut while the message at cut is
// a tool message (meaning its pairing assistant message is before cut).
func pushBackToPairBoundary(messages []models.Message, cut int) int {
	for cut > 0 && cut < len(messages) && messages[cut].Role == models.RoleTool {
		cut--
	}
	return cut
}
