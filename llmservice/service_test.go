package llmservice

import (
	"testing"
	"time"

	"github.com/dbrheo/dbrheo/config"
	"github.com/dbrheo/dbrheo/errs"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(map[config.Scope]string{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestIsRetryableTransportAndRateLimit(t *testing.T) {
	if !isRetryable(errs.New(errs.LLMTransportError, "connection reset")) {
		t.Error("expected LLMTransportError to be retryable")
	}
	if !isRetryable(errs.New(errs.RateLimitError, "too many requests")) {
		t.Error("expected RateLimitError to be retryable")
	}
}

func TestIsRetryableProtocolStatus(t *testing.T) {
	cases := []struct {
		detail string
		want   bool
	}{
		{"status=500", true},
		{"status=503", true},
		{"status=429", true},
		{"status=408", true},
		{"status=400", false},
		{"status=404", false},
		{"", false},
	}
	for _, tc := range cases {
		err := &errs.Error{Kind: errs.LLMProtocolError, Message: "bad request", Detail: tc.detail}
		if got := isRetryable(err); got != tc.want {
			t.Errorf("isRetryable(detail=%q) = %v, want %v", tc.detail, got, tc.want)
		}
	}
}

func TestIsRetryableOtherKindsNotRetryable(t *testing.T) {
	if isRetryable(errs.New(errs.AuthError, "bad key")) {
		t.Error("AuthError should not be retryable")
	}
	if isRetryable(errs.New(errs.InternalError, "oops")) {
		t.Error("InternalError should not be retryable")
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := &errs.Error{Kind: errs.LLMProtocolError, Message: "rate limited", Detail: "retry_after=7"}
	d, ok := retryAfterOf(err)
	if !ok {
		t.Fatal("expected retry_after to parse")
	}
	if d != 7*time.Second {
		t.Errorf("retryAfterOf = %v, want 7s", d)
	}

	_, ok = retryAfterOf(errs.New(errs.LLMProtocolError, "no hint"))
	if ok {
		t.Error("expected no retry_after hint to report ok=false")
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := 1 * time.Second

	first := backoffDelay(base, 2.0, maxDelay, 1)
	if first < 80*time.Millisecond || first > 120*time.Millisecond {
		t.Errorf("attempt 1 delay = %v, want ~100ms with jitter", first)
	}

	large := backoffDelay(base, 2.0, maxDelay, 20)
	if large > maxDelay {
		t.Errorf("backoffDelay exceeded cap: %v > %v", large, maxDelay)
	}
}

func TestFactoryBuildDispatchesByPrefix(t *testing.T) {
	cfg := newTestConfig(t)
	f := NewFactory(cfg)

	cases := []struct {
		model        string
		wantProvider string
		wantKnown    bool
	}{
		{"gemini-3-flash", "gemini", true},
		{"claude-sonnet-4-5", "anthropic", true},
		{"sonnet-4-5", "anthropic", true},
		{"opus-4-5", "anthropic", true},
		{"gpt-5", "openai", true},
		{"o3-mini", "openai", true},
		{"mystery-model-9000", "gemini", false},
	}
	for _, tc := range cases {
		p, known, err := f.Build(tc.model)
		if err == nil {
			t.Errorf("Build(%q): expected error with no credentials configured", tc.model)
			continue
		}
		if known != tc.wantKnown {
			t.Errorf("Build(%q) known = %v, want %v", tc.model, known, tc.wantKnown)
		}
		if p != nil {
			t.Errorf("Build(%q): expected nil provider on credential error", tc.model)
		}
	}
}

func TestStreamEventVariantsAreDistinct(t *testing.T) {
	events := []StreamEvent{
		TextDeltaEvent{Text: "hello"},
		FunctionCallEvent{},
		UsageUpdateEvent{InputTokens: 1},
		FinishEvent{Reason: FinishStop},
	}
	seen := map[string]bool{}
	for _, e := range events {
		switch e.(type) {
		case TextDeltaEvent:
			seen["text"] = true
		case FunctionCallEvent:
			seen["call"] = true
		case UsageUpdateEvent:
			seen["usage"] = true
		case FinishEvent:
			seen["finish"] = true
		}
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 distinct variants, matched %d", len(seen))
	}
}
