package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/TobiSchelling/SignalRadar/internal/llm"
)

// Placeholder summaries used when no model output is available.
const (
	SummaryNoBackend = "Content changed (no AI key for summary)"
	SummaryFailed    = "Content changed (AI summary failed)"
	SummaryBaseline  = "Initial snapshot captured"
)

const (
	excerptLength    = 3000
	summaryMaxTokens = 500
)

const summarySystemPrompt = `You are a competitive intelligence analyst for Snigel Design AB (Swedish tactical gear). Summarize what changed on this monitored web page concisely. Focus on business-relevant changes.`

// Summarizer describes the difference between two versions of a page. It
// never fails; an unavailable backend yields a placeholder.
type Summarizer interface {
	Summarize(ctx context.Context, oldText, newText, pageURL string) string
}

// LLMSummarizer asks a language model for a one or two sentence summary.
type LLMSummarizer struct {
	provider llm.Provider
}

// NewLLMSummarizer wraps a provider. A nil provider always returns
// SummaryNoBackend.
func NewLLMSummarizer(provider llm.Provider) *LLMSummarizer {
	return &LLMSummarizer{provider: provider}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, oldText, newText, pageURL string) string {
	if s.provider == nil {
		return SummaryNoBackend
	}

	prompt := fmt.Sprintf("URL: %s\n\nPrevious content (excerpt):\n%s\n\nNew content (excerpt):\n%s\n\nWhat changed? Provide a 1-2 sentence summary.",
		pageURL, truncate(oldText, excerptLength), truncate(newText, excerptLength))

	text, err := s.provider.Generate(ctx, llm.Request{
		System:    summarySystemPrompt,
		Prompt:    prompt,
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		log.Printf("Summary error for %s: %v", pageURL, err)
		return SummaryFailed
	}

	summary := llm.PlainText(strings.TrimSpace(text))
	if summary == "" {
		return SummaryFailed
	}
	return summary
}
