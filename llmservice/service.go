package llmservice

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/dbrheo/dbrheo/config"
	"github.com/dbrheo/dbrheo/errs"
	"github.com/dbrheo/dbrheo/tools"
	"github.com/dbrheo/dbrheo/types"
)

// GenConfig carries the sampling parameters shared across providers.
type GenConfig struct {
	Temperature     float32
	MaxOutputTokens int32
}

// Request is one call to Stream: a history, optional system instruction,
// the tools available for function calling, sampling config, and the
// abort signal to honor mid-stream.
type Request struct {
	History           types.History
	SystemInstruction string
	Tools             []tools.LLMFunctionDeclaration
	GenConfig         GenConfig
	Abort             *types.AbortSignal
}

// Provider is the normalized interface every LLM backend implements.
type Provider interface {
	// Name identifies the provider for logging (e.g. "gemini", "anthropic").
	Name() string
	// Model returns the model identifier this instance targets.
	Model() string
	// Stream sends req and returns a channel of normalized events. The
	// channel is closed after a FinishEvent or a terminal error; an error
	// mid-stream is reported as a FinishEvent{Reason: FinishError} followed
	// by channel close, not a panic or silent drop.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
	// CountTokens returns the token count for history, or ok=false if the
	// provider's SDK doesn't expose a counting API.
	CountTokens(ctx context.Context, history types.History) (count int, ok bool, err error)
	// SupportsFunctionCalling reports whether Stream honors req.Tools.
	SupportsFunctionCalling() bool
}

// retryableProvider wraps a Provider with transport-error/5xx retry and
// exponential backoff, grounded on tools/executor.go's calculateBackoff/
// shouldRetry loop generalized to respect Retry-After and to operate over
// a stream rather than a single call.
type retryableProvider struct {
	inner Provider
	cfg   *config.Config
}

// WithRetry wraps a provider with the configured retry policy. A nil cfg
// uses built-in defaults (500ms base, factor 2, 30s cap, 4 attempts).
func WithRetry(inner Provider, cfg *config.Config) Provider {
	return &retryableProvider{inner: inner, cfg: cfg}
}

func (r *retryableProvider) Name() string  { return r.inner.Name() }
func (r *retryableProvider) Model() string { return r.inner.Model() }
func (r *retryableProvider) SupportsFunctionCalling() bool {
	return r.inner.SupportsFunctionCalling()
}
func (r *retryableProvider) CountTokens(ctx context.Context, history types.History) (int, bool, error) {
	return r.inner.CountTokens(ctx, history)
}

func (r *retryableProvider) retryPolicy() (base time.Duration, factor float64, max time.Duration, attempts int) {
	if r.cfg == nil {
		return 500 * time.Millisecond, 2.0, 30 * time.Second, 4
	}
	return time.Duration(r.cfg.RetryBaseDelayMs()) * time.Millisecond,
		r.cfg.RetryFactor(),
		time.Duration(r.cfg.RetryMaxDelayMs()) * time.Millisecond,
		r.cfg.RetryMaxAttempts()
}

// Stream retries the call to the underlying provider's Stream (connection
// establishment, not mid-stream resumption) on transport errors and 5xx,
// honoring a Retry-After hint when a *errs.Error's Detail field carries
// "retry_after=<secs>" (see retryAfterOf). 4xx other than 408/429 are
// terminal.
func (r *retryableProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	base, factor, maxDelay, attempts := r.retryPolicy()
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(base, factor, maxDelay, attempt)
			if retryAfter, ok := retryAfterOf(lastErr); ok && retryAfter > delay {
				delay = retryAfter
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		events, err := r.inner.Stream(ctx, req)
		if err == nil {
			return events, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("llmservice: exhausted %d attempts: %w", attempts, lastErr)
}

// backoffDelay computes an exponentially growing delay with +/-20% jitter,
// capped at maxDelay.
func backoffDelay(base time.Duration, factor float64, maxDelay time.Duration, attempt int) time.Duration {
	raw := float64(base) * math.Pow(factor, float64(attempt-1))
	if raw > float64(maxDelay) {
		raw = float64(maxDelay)
	}
	jitter := raw * (0.8 + 0.4*rand.Float64())
	if jitter > float64(maxDelay) {
		jitter = float64(maxDelay)
	}
	return time.Duration(jitter)
}

// isRetryable reports whether err should trigger another attempt: any
// *errs.Error of kind LLMTransportError or RateLimitError, or one of
// LLMProtocolError carrying a retryable HTTP status (408/429/5xx) in Detail.
func isRetryable(err error) bool {
	if errs.Is(err, errs.LLMTransportError) || errs.Is(err, errs.RateLimitError) {
		return true
	}
	var ae *errs.Error
	for e := err; e != nil; {
		if a, ok := e.(*errs.Error); ok {
			ae = a
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if ae == nil || ae.Kind != errs.LLMProtocolError {
		return false
	}
	status := statusFromDetail(ae.Detail)
	return status == 408 || status == 429 || (status >= 500 && status < 600)
}

func statusFromDetail(detail string) int {
	var status int
	_, _ = fmt.Sscanf(detail, "status=%d", &status)
	return status
}

// retryAfterOf extracts a server-provided Retry-After duration if the
// error's detail encodes one (providers format it as "retry_after=<secs>").
func retryAfterOf(err error) (time.Duration, bool) {
	var ae *errs.Error
	for e := err; e != nil; {
		if a, ok := e.(*errs.Error); ok {
			ae = a
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if ae == nil {
		return 0, false
	}
	var secs int
	if _, err := fmt.Sscanf(ae.Detail, "retry_after=%d", &secs); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

// Factory dispatches model names to providers by prefix, generalizing
// llm/factory.go's ProviderBuilder, wired to credentials read from config.
type Factory struct {
	cfg *config.Config
}

// NewFactory builds a Factory reading provider API keys from cfg's
// credentials.* keys.
func NewFactory(cfg *config.Config) *Factory {
	return &Factory{cfg: cfg}
}

// Build returns a retry-wrapped Provider for model, dispatching on prefix:
// gemini-* -> Gemini, claude-*/sonnet*/opus* -> Anthropic,
// gpt-*/o3*/o4* -> OpenAI. Unknown prefixes fall back to Gemini and the
// caller should surface a warning event (spec Scenario 6); Build itself
// only returns the provider, the warning is the caller's responsibility
// since Factory has no event stream of its own.
func (f *Factory) Build(model string) (Provider, bool, error) {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gemini-"):
		p, err := f.buildGemini(model)
		return p, true, err
	case strings.HasPrefix(lower, "claude-"), strings.HasPrefix(lower, "sonnet"), strings.HasPrefix(lower, "opus"):
		p, err := f.buildAnthropic(model)
		return p, true, err
	case strings.HasPrefix(lower, "gpt-"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		p, err := f.buildOpenAI(model)
		return p, true, err
	default:
		p, err := f.buildGemini(model)
		return p, false, err
	}
}

func (f *Factory) buildGemini(model string) (Provider, error) {
	apiKey := f.cfg.GetString("credentials.gemini_api_key", "")
	if apiKey == "" {
		return nil, errs.New(errs.AuthError, "no gemini API key configured")
	}
	return WithRetry(NewGeminiProvider(apiKey, model, 8192, 0.7), f.cfg), nil
}

func (f *Factory) buildAnthropic(model string) (Provider, error) {
	apiKey := f.cfg.GetString("credentials.anthropic_api_key", "")
	if apiKey == "" {
		return nil, errs.New(errs.AuthError, "no anthropic API key configured")
	}
	return WithRetry(NewAnthropicProvider(apiKey, model, 8192, 0.7), f.cfg), nil
}

func (f *Factory) buildOpenAI(model string) (Provider, error) {
	apiKey := f.cfg.GetString("credentials.openai_api_key", "")
	if apiKey == "" {
		return nil, errs.New(errs.AuthError, "no openai API key configured")
	}
	return WithRetry(NewOpenAIProvider(apiKey, model, 8192, 0.7), f.cfg), nil
}

// marshalArgs is a shared helper converting a provider's native args
// representation into json.RawMessage for a FunctionCall.
func marshalArgs(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
