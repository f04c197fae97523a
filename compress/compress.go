// Package compress shrinks a growing History once it approaches the
// model's context window, the way the teacher's agent.go accumulates
// llm.TokenUsage across a run but turned into an active history-rewriting
// pass instead of passive accounting.
package compress

import (
	"context"

	"github.com/dbrheo/dbrheo/errs"
	"github.com/dbrheo/dbrheo/llmservice"
	"github.com/dbrheo/dbrheo/types"
)

// estimatedTokensPerChar is the crude fallback estimator used when a
// provider can't CountTokens: ~4 characters per token, the common rule of
// thumb for English text tokenized by BPE.
const estimatedTokensPerChar = 4

const compressionPrompt = `Summarize the conversation so far in a compact paragraph, preserving every fact, decision, schema detail, and outstanding task a continuation would need. Do not include meta-commentary about the summarization itself.`

// Compressor replaces the oldest compressible prefix of a History with a
// single summary Content once the history is estimated to occupy at least
// threshold*contextWindow tokens.
type Compressor struct {
	provider      llmservice.Provider
	contextWindow int
	threshold     float64
}

// New builds a Compressor bound to provider, the model's context window
// (in tokens), and the (0,1] fraction that triggers compression.
func New(provider llmservice.Provider, contextWindow int, threshold float64) *Compressor {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &Compressor{provider: provider, contextWindow: contextWindow, threshold: threshold}
}

// EstimatedTokens returns the provider's token count for history if
// available, else a character-count-based estimate.
func (c *Compressor) EstimatedTokens(ctx context.Context, history types.History) int {
	if n, ok, err := c.provider.CountTokens(ctx, history); err == nil && ok {
		return n
	}
	chars := 0
	for _, content := range history {
		chars += len(content.Text())
	}
	return chars / estimatedTokensPerChar
}

// ShouldCompress reports whether history has grown large enough to trigger
// compression.
func (c *Compressor) ShouldCompress(ctx context.Context, history types.History) bool {
	if c.contextWindow <= 0 {
		return false
	}
	return float64(c.EstimatedTokens(ctx, history)) >= c.threshold*float64(c.contextWindow)
}

// Compress replaces the oldest contiguous prefix of history that contains
// no unresolved FunctionCall/FunctionResponse pairing with a single
// user-role summary Content produced by a dedicated LLM call. Compress
// itself does not check the threshold; callers gate it with ShouldCompress,
// which sees a much smaller estimate once the history starts with one
// summary Content.
func (c *Compressor) Compress(ctx context.Context, history types.History) (types.History, error) {
	if len(history) < 2 {
		return history, nil
	}

	splitAt := c.splitPoint(history)
	if splitAt <= 0 {
		return history, nil
	}

	prefix := history[:splitAt]
	suffix := history[splitAt:]

	summary, err := c.summarize(ctx, prefix)
	if err != nil {
		return nil, errs.Wrap(errs.CompressionError, "history compression failed", err)
	}

	out := make(types.History, 0, len(suffix)+1)
	out = append(out, types.TextContent(types.RoleUser, summary))
	out = append(out, suffix...)
	return out, nil
}

// splitPoint finds the largest prefix length that does not sever any
// unresolved call/response pairing, preferring to compress roughly the
// oldest half of the history so the tail (likely still relevant) survives.
func (c *Compressor) splitPoint(history types.History) int {
	target := len(history) / 2
	if target < 1 {
		target = 1
	}

	// Walk backward from target until landing on a boundary that doesn't
	// split a call away from its response, or until falling back to "no
	// compressible prefix" at index 0.
	for at := target; at > 0; at-- {
		if c.isSafeBoundary(history, at) {
			return at
		}
	}
	return 0
}

// isSafeBoundary reports whether every FunctionCall in history[:at] has its
// matching FunctionResponse also within history[:at] — i.e. no call/
// response pair straddles the split.
func (c *Compressor) isSafeBoundary(history types.History, at int) bool {
	pending := map[string]bool{}
	for _, content := range history[:at] {
		for _, fc := range content.FunctionCalls() {
			pending[fc.ID] = true
		}
		for _, fr := range content.FunctionResponses() {
			delete(pending, fr.ID)
		}
	}
	return len(pending) == 0
}

// summarize sends prefix through a dedicated compression prompt and
// returns the model's reply text.
func (c *Compressor) summarize(ctx context.Context, prefix types.History) (string, error) {
	req := llmservice.Request{
		History:           prefix,
		SystemInstruction: compressionPrompt,
		GenConfig:         llmservice.GenConfig{Temperature: 0.2, MaxOutputTokens: 1024},
	}
	stream, err := c.provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	var text string
	for ev := range stream {
		switch v := ev.(type) {
		case llmservice.TextDeltaEvent:
			text += v.Text
		case llmservice.FinishEvent:
			if v.Reason == llmservice.FinishError {
				return "", errs.New(errs.LLMProtocolError, "compression prompt stream finished with an error")
			}
		}
	}
	return text, nil
}
