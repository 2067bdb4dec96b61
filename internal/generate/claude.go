package generate

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/collection-cli/internal/model"
	"github.com/sells-group/collection-cli/internal/prompt"
	"github.com/sells-group/collection-cli/internal/resilience"
	"github.com/sells-group/collection-cli/pkg/anthropic"
)

// ClaudeConfig configures a ClaudeInvoker.
type ClaudeConfig struct {
	Model        string
	CallTimeout  time.Duration
	Limits       Limits
	Retry        resilience.Policy
	RetryInvalid bool
	RatePerSec   float64
	RateBurst    int
	Breaker      *resilience.Breaker
	Owner        SectionOwner
}

// ClaudeInvoker generates section pages through the Anthropic messages API.
type ClaudeInvoker struct {
	client  anthropic.Client
	cfg     ClaudeConfig
	limiter *rate.Limiter
}

// NewClaudeInvoker creates an invoker. A zero RatePerSec disables pacing; a
// nil Breaker disables circuit breaking.
func NewClaudeInvoker(client anthropic.Client, cfg ClaudeConfig) *ClaudeInvoker {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &ClaudeInvoker{client: client, cfg: cfg, limiter: limiter}
}

// Generate implements Invoker.
func (c *ClaudeInvoker) Generate(ctx context.Context, req prompt.Request) Result {
	log := zap.L().With(
		zap.String("asset_id", req.AssetID),
		zap.String("section_id", req.SectionID),
	)

	var res Result
	policy := c.cfg.Retry
	policy.Retryable = func(err error) bool {
		var f *Failure
		return errors.As(err, &f) && f.retryable
	}
	policy.OnRetry = resilience.LogRetry("anthropic",
		zap.String("asset_id", req.AssetID),
		zap.String("section_id", req.SectionID),
	)

	page, err := resilience.Retry(ctx, policy, func(ctx context.Context) (*model.SectionPage, error) {
		res.Attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Failure{Kind: FailureTimeout, Err: eris.Wrap(err, "generate: wait for rate limiter")}
		}
		if c.cfg.Breaker == nil {
			return c.attempt(ctx, req, &res.Usage)
		}
		return resilience.Call(ctx, c.cfg.Breaker, countsTowardBreaker, func(ctx context.Context) (*model.SectionPage, error) {
			return c.attempt(ctx, req, &res.Usage)
		})
	})
	if err != nil {
		res.Failure = toFailure(err)
		log.Warn("generation failed",
			zap.String("kind", string(res.Failure.Kind)),
			zap.Int("attempts", res.Attempts),
			zap.Error(err),
		)
		return res
	}

	res.Page = page
	res.Usage.LogCost(c.cfg.Model, "generate_section")
	log.Debug("section page generated",
		zap.Int("questions", len(page.Questions)),
		zap.Int("attempts", res.Attempts),
	)
	return res
}

func (c *ClaudeInvoker) attempt(ctx context.Context, req prompt.Request, usage *anthropic.TokenUsage) (*model.SectionPage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	resp, err := c.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     c.cfg.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  []anthropic.Message{{Role: "user", Content: req.User}},
	})
	if err != nil {
		if callCtx.Err() != nil {
			return nil, &Failure{Kind: FailureTimeout, Err: eris.Wrapf(err, "generate: call exceeded %s", c.cfg.CallTimeout), retryable: ctx.Err() == nil}
		}
		code := anthropic.StatusCode(err)
		return nil, &Failure{
			Kind:      FailureEngine,
			Err:       eris.Wrap(err, "generate: engine call"),
			retryable: resilience.IsTransientStatus(code) || resilience.IsTransient(err),
		}
	}
	usage.Add(resp.Usage)

	if resp.Truncated() {
		return nil, &Failure{Kind: FailureOversized, Err: eris.Errorf("generate: output hit the %d token ceiling", req.MaxTokens), retryable: c.cfg.RetryInvalid}
	}

	page, f := ParsePage(resp.Text(), req, c.cfg.Limits, c.cfg.Owner)
	if f != nil {
		f.retryable = c.cfg.RetryInvalid
		return nil, f
	}
	return page, nil
}

// countsTowardBreaker limits breaker trips to engine health problems; bad
// content from a healthy engine does not open the circuit.
func countsTowardBreaker(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind == FailureEngine || f.Kind == FailureTimeout
	}
	return true
}

func toFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &Failure{Kind: FailureUnavailable, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Failure{Kind: FailureTimeout, Err: err}
	}
	return &Failure{Kind: FailureEngine, Err: err}
}
