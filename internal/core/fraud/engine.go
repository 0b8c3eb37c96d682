package fraud

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

// maxScore caps the aggregate even when the fired points sum past it.
const maxScore = 100

// Engine evaluates every rule concurrently and aggregates the fired signals
// into a score and an action.
type Engine struct {
	rules      []Rule
	thresholds Thresholds
	timeout    time.Duration
	failOpen   bool
	logger     *zap.Logger
}

// Options configures an Engine.
type Options struct {
	Thresholds Thresholds
	Timeout    time.Duration // default 5s
	FailOpen   bool          // default true in config
	Logger     *zap.Logger
}

// NewEngine creates an Engine over rules.
func NewEngine(rules []Rule, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		rules:      rules,
		thresholds: opts.Thresholds,
		timeout:    opts.Timeout,
		failOpen:   opts.FailOpen,
		logger:     opts.Logger,
	}
}

// Evaluate runs every rule in its own goroutine and joins on the slowest.
// With fail-open enabled a rule or store failure degrades to {0, approve};
// otherwise the first error is returned and the caller rejects the transfer.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	results := make([]*Signal, len(e.rules))
	g, gctx := errgroup.WithContext(ctx)
	for i, rule := range e.rules {
		g.Go(func() error {
			sig, err := rule.Evaluate(gctx, in)
			if err != nil {
				e.logger.Warn("fraud rule failed",
					zap.String("rule", rule.Name()),
					zap.String("trace_id", in.TraceID),
					zap.Error(err))
				return err
			}
			results[i] = sig
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if !e.failOpen {
			return Outcome{}, err
		}
		e.logger.Warn("fraud engine failing open",
			zap.String("trace_id", in.TraceID),
			zap.Error(err))
		return Outcome{Score: 0, Action: relationaldb.ActionApprove}, nil
	}

	var signals []Signal
	score := 0
	for _, sig := range results {
		if sig == nil {
			continue
		}
		signals = append(signals, *sig)
		score += sig.Points
	}
	if score > maxScore {
		score = maxScore
	}

	return Outcome{
		Score:   score,
		Action:  e.thresholds.Action(score),
		Signals: signals,
	}, nil
}
