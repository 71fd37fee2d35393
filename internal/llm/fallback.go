package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/converso-ai/orchestration-platform/pkg/logger"
	"github.com/converso-ai/orchestration-platform/pkg/metrics"
)

// ErrAllProvidersFailed indicates every configured provider exhausted its
// retries.
var ErrAllProvidersFailed = errors.New("llm: all providers failed")

const (
	defaultMaxRetries      = 3
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 10 * time.Second
)

// FallbackClient tries the primary provider with bounded exponential retry,
// then each fallback provider in order. Provider fallback and retry live
// here so callers see a single Complete call.
type FallbackClient struct {
	providers []Client
	logger    *logger.Logger

	maxRetries      uint64
	initialInterval time.Duration
}

// NewFallbackClient creates a client chaining the given providers. The first
// provider is primary; at least one is required.
func NewFallbackClient(log *logger.Logger, providers ...Client) (*FallbackClient, error) {
	if len(providers) == 0 {
		return nil, errors.New("llm: at least one provider is required")
	}
	if log == nil {
		log = logger.Global()
	}
	return &FallbackClient{
		providers:       providers,
		logger:          log,
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
	}, nil
}

// Name returns the provider name.
func (c *FallbackClient) Name() string {
	return "fallback:" + c.providers[0].Name()
}

// Models returns the primary provider's models.
func (c *FallbackClient) Models() []string {
	return c.providers[0].Models()
}

// Complete tries each provider in order until one succeeds.
func (c *FallbackClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	var lastErr error

	for i, provider := range c.providers {
		resp, err := c.completeWithRetry(ctx, provider, req)
		if err == nil {
			metrics.RecordCompletion(resp.Model, "success", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if i < len(c.providers)-1 {
			c.logger.Warn("llm provider failed, trying fallback",
				zap.String("provider", provider.Name()),
				zap.Error(err),
			)
		}
	}

	metrics.LLMCompletionDuration.WithLabelValues(req.Model, "error").Observe(0)
	return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

func (c *FallbackClient) completeWithRetry(ctx context.Context, provider Client, req *CompletionRequest) (*CompletionResponse, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	policy.MaxInterval = defaultMaxInterval

	var resp *CompletionResponse
	operation := func() error {
		var err error
		resp, err = provider.Complete(ctx, req)
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, c.maxRetries-1), ctx))
	if err != nil {
		return nil, err
	}
	return resp, nil
}
