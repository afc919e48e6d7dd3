package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/TobiSchelling/SignalRadar/internal/config"
	"github.com/TobiSchelling/SignalRadar/internal/llm"
)

const systemPrompt = `You are a competitive intelligence classifier for Snigel Design AB (Swedish tactical gear manufacturer). Classify news items into exactly one of four quadrants and score their relevance.

Quadrants:
- "competitors": News about specific competitor companies (NFM, Mehler, Lindnerhof, Savotta, Sacci, Taiga, Tasmanian Tiger, UF PRO, Equipnor, PTD, or any tactical gear competitor)
- "industry": Defense industry events, procurement, trade shows, regulation, military modernization programs
- "snigel": News directly mentioning or relevant to Snigel Design AB
- "anomalies": Unusual signals, cross-cutting trends, or items that don't fit the above but could be strategically important

Relevance scoring (integer 1-10):
- 10 = directly actionable for Snigel leadership (competitor M&A, lost/won contract, direct mention)
- 7-9 = highly relevant (competitor product launch, major procurement, industry shift)
- 4-6 = moderately relevant (general defense news, tangential industry event)
- 1-3 = low relevance (peripheral news, weak connection)

Return ONLY a raw JSON array, no markdown fences. Each element:
{"index": 0, "quadrant": "competitors", "relevance": 7, "label": "Short 3-6 word label"}`

// ErrUnparsable is returned when the model reply holds no JSON array.
var ErrUnparsable = errors.New("classification response is not a JSON array")

// LLMBackend classifies chunks with a language model.
type LLMBackend struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMBackend wraps a provider.
func NewLLMBackend(provider llm.Provider, maxTokens int) *LLMBackend {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &LLMBackend{provider: provider, maxTokens: maxTokens}
}

// NewFromProvider builds a classifier from config. A nil provider gives a
// heuristic-only classifier.
func NewFromProvider(provider llm.Provider, cfg config.Classification) *Classifier {
	if provider == nil {
		return New(nil, cfg)
	}
	return New(NewLLMBackend(provider, cfg.MaxTokens), cfg)
}

// Classify sends one chunk and decodes the model's JSON array.
func (b *LLMBackend) Classify(ctx context.Context, items []PromptItem) ([]Verdict, error) {
	payload, err := json.MarshalIndent(items, "", " ")
	if err != nil {
		return nil, fmt.Errorf("encoding chunk: %w", err)
	}

	text, err := b.provider.Generate(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    fmt.Sprintf("Classify these %d news items:\n\n%s", len(items), payload),
		MaxTokens: b.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	raw := llm.ParseJSONArray(text)
	if raw == nil {
		return nil, ErrUnparsable
	}

	verdicts := make([]Verdict, 0, len(raw))
	for _, m := range raw {
		idx, ok := getNumber(m, "index")
		if !ok {
			continue
		}
		rel, _ := getNumber(m, "relevance")
		verdicts = append(verdicts, Verdict{
			Index:     int(idx),
			Quadrant:  getString(m, "quadrant", ""),
			Relevance: rel,
			Label:     getString(m, "label", ""),
		})
	}
	return verdicts, nil
}

func getString(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// getNumber accepts JSON numbers and numeric strings.
func getNumber(m map[string]any, key string) (float64, bool) {
	switch n := m[key].(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
