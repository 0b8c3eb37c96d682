// Package transfer orchestrates the atomic transfer pipeline: idempotency
// probe, paired account lock, fraud scoring, the ACID balance mutation with
// its double-entry ledger pair, cache maintenance and post-commit events.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openpaisa/paisad/internal/core/fraud"
	"github.com/openpaisa/paisad/internal/core/ledger"
	"github.com/openpaisa/paisad/internal/events"
	"github.com/openpaisa/paisad/internal/idempotency"
	"github.com/openpaisa/paisad/internal/locks"
	"github.com/openpaisa/paisad/internal/metrics"
	"github.com/openpaisa/paisad/internal/money"
	"github.com/openpaisa/paisad/internal/readcache"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

// maxIdempotencyKeyLen bounds the client-supplied key.
const maxIdempotencyKeyLen = 255

// Request is one transfer attempt. TraceID is threaded explicitly through
// every collaborator so the pipeline runs the same with or without an HTTP
// request context.
type Request struct {
	IdempotencyKey string
	FromAccountID  string
	ToAccountID    string
	Amount         money.Paise
	Currency       string
	Description    string
	UserID         string
	TraceID        string
}

// Result is the pipeline outcome. Replayed marks idempotent re-executions;
// the HTTP edge maps it to 200 instead of 201.
type Result struct {
	Transfer *relationaldb.Transfer
	Replayed bool
}

// Detail is the full transfer view returned by GetTransfer.
type Detail struct {
	Transfer *relationaldb.Transfer
	Ledger   []relationaldb.LedgerEntry
	Signals  []relationaldb.FraudSignal
}

// Config are the orchestrator knobs.
type Config struct {
	MinTransfer money.Paise
	MaxTransfer money.Paise
	Currency    string

	// RetryAttempts and RetryBackoff drive the optimistic-concurrency
	// retry loop: linear backoff, RetryBackoff × attempt.
	RetryAttempts int
	RetryBackoff  time.Duration

	// EventPublishAwait makes post-commit publishes synchronous. Default
	// false: the money has moved, a slow broker must not hold the reply.
	EventPublishAwait bool
}

// DefaultConfig returns the stock pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MinTransfer:   100,        // 1 rupee
		MaxTransfer:   1000000000, // 1 crore rupees
		Currency:      "INR",
		RetryAttempts: 3,
		RetryBackoff:  100 * time.Millisecond,
	}
}

// Service is the transfer orchestrator.
type Service struct {
	store     relationaldb.Store
	locks     *locks.PairLock
	idem      *idempotency.Cache
	fraud     *fraud.Engine
	ledger    *ledger.Writer
	readCache *readcache.Cache
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

// NewService wires the orchestrator.
func NewService(
	store relationaldb.Store,
	pairLock *locks.PairLock,
	idem *idempotency.Cache,
	fraudEngine *fraud.Engine,
	ledgerWriter *ledger.Writer,
	readCache *readcache.Cache,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg Config,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		store:     store,
		locks:     pairLock,
		idem:      idem,
		fraud:     fraudEngine,
		ledger:    ledgerWriter,
		readCache: readCache,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Initiate runs the full pipeline for one transfer request.
func (s *Service) Initiate(ctx context.Context, req Request) (*Result, error) {
	start := s.now()
	defer func() {
		s.metrics.TransferDuration.Observe(s.now().Sub(start).Seconds())
	}()

	log := s.logger.With(
		zap.String("trace_id", req.TraceID),
		zap.String("from", req.FromAccountID),
		zap.String("to", req.ToAccountID),
		zap.Int64("amount", req.Amount.Int64()),
	)

	// Step 1: idempotency probe. A hit short-circuits everything, locks
	// included.
	if req.IdempotencyKey != "" {
		cached, hit, err := s.idem.Get(ctx, req.IdempotencyKey)
		if err != nil {
			// Advisory cache; the DB unique constraint still protects us.
			log.Warn("idempotency probe failed, continuing", zap.Error(err))
		} else if hit {
			log.Info("transfer replayed from idempotency cache",
				zap.String("transfer_id", cached.ID))
			s.metrics.TransfersReplayed.Inc()
			return &Result{Transfer: cached, Replayed: true}, nil
		}
	}

	// Step 2: validation. No side effects on failure.
	if err := s.validate(req); err != nil {
		s.metrics.TransfersFailed.WithLabelValues(CodeValidation).Inc()
		return nil, err
	}

	s.publishEvent(ctx, events.TopicPaymentInitiated, req.TraceID, map[string]any{
		"fromAccountId": req.FromAccountID,
		"toAccountId":   req.ToAccountID,
		"amount":        req.Amount.Int64(),
		"currency":      req.Currency,
	})

	// Step 3: paired distributed lock. Held locks reject fast; a lock
	// store outage fails the request, never fail-open.
	handle, err := s.locks.AcquirePair(ctx, req.FromAccountID, req.ToAccountID)
	if err != nil {
		if errors.Is(err, locks.ErrBusy) {
			s.metrics.TransfersFailed.WithLabelValues(CodeBusy).Inc()
			return nil, NewBusyError()
		}
		s.metrics.TransfersFailed.WithLabelValues(CodeDependency).Inc()
		return nil, NewDependencyError("lock store unavailable", err)
	}
	// Step 11: guaranteed release, whatever happens in between.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.locks.Release(releaseCtx, handle); err != nil {
			log.Warn("lock release failed, TTL will reap", zap.Error(err))
		}
	}()

	result, err := s.locked(ctx, log, req)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// locked is everything that runs under the paired lock (steps 4–10).
func (s *Service) locked(ctx context.Context, log *zap.Logger, req Request) (*Result, error) {
	// Step 4: pre-transaction account load, for existence and sender age.
	sender, err := s.store.GetAccount(ctx, req.FromAccountID)
	if err != nil {
		return nil, s.accountLoadError("sender", err)
	}
	recipient, err := s.store.GetAccount(ctx, req.ToAccountID)
	if err != nil {
		return nil, s.accountLoadError("recipient", err)
	}

	// Step 5: fraud evaluation, all rules concurrent.
	fraudInput := fraud.Input{
		SenderAccountID:    sender.ID,
		RecipientAccountID: recipient.ID,
		Amount:             req.Amount,
		SenderCreatedAt:    sender.CreatedAt,
		TraceID:            req.TraceID,
	}
	s.publishEvent(ctx, events.TopicFraudCheckRequested, req.TraceID, map[string]any{
		"fromAccountId": sender.ID,
		"toAccountId":   recipient.ID,
		"amount":        req.Amount.Int64(),
	})
	outcome, err := s.fraud.Evaluate(ctx, fraudInput)
	if err != nil {
		s.metrics.TransfersFailed.WithLabelValues(CodeDependency).Inc()
		return nil, NewDependencyError("fraud engine unavailable", err)
	}
	s.metrics.FraudScore.Observe(float64(outcome.Score))
	s.publishEvent(ctx, events.TopicFraudCheckResult, req.TraceID, map[string]any{
		"score":  outcome.Score,
		"action": string(outcome.Action),
	})

	// Step 6: decision gate.
	if outcome.Action.Blocks() {
		log.Warn("transfer blocked by fraud",
			zap.Int("score", outcome.Score),
			zap.String("action", string(outcome.Action)))
		s.metrics.FraudBlocked.Inc()
		s.publishEvent(ctx, events.TopicPaymentFraudBlocked, req.TraceID, map[string]any{
			"fromAccountId": sender.ID,
			"toAccountId":   recipient.ID,
			"amount":        req.Amount.Int64(),
			"score":         outcome.Score,
			"action":        string(outcome.Action),
			"rules":         ruleNames(outcome.Signals),
		})
		return nil, NewFraudBlockedError(outcome.Score, string(outcome.Action))
	}

	// Step 7: the atomic block, retried on concurrent modification.
	transfer, replayed, err := s.executeWithRetry(ctx, log, req, outcome)
	if err != nil {
		var opErr *OpError
		if errors.As(err, &opErr) {
			s.metrics.TransfersFailed.WithLabelValues(opErr.Code).Inc()
		} else {
			s.metrics.TransfersFailed.WithLabelValues(CodeInternal).Inc()
		}
		// Step 12: the money did not move; say so on the bus.
		s.publishEvent(ctx, events.TopicPaymentFailed, req.TraceID, map[string]any{
			"fromAccountId": req.FromAccountID,
			"toAccountId":   req.ToAccountID,
			"amount":        req.Amount.Int64(),
			"reason":        failureReason(err),
		})
		return nil, err
	}

	if replayed {
		log.Info("transfer replayed from database backstop",
			zap.String("transfer_id", transfer.ID))
		s.metrics.TransfersReplayed.Inc()
		return &Result{Transfer: transfer, Replayed: true}, nil
	}

	// Step 8: idempotency cache set.
	if req.IdempotencyKey != "" {
		if err := s.idem.Set(ctx, req.IdempotencyKey, transfer); err != nil {
			log.Warn("idempotency cache set failed", zap.Error(err))
		}
	}

	// Step 9: read-cache invalidation, parallel and awaited.
	if err := s.readCache.InvalidateAccounts(ctx, req.FromAccountID, req.ToAccountID); err != nil {
		log.Warn("read cache invalidation failed", zap.Error(err))
	}

	// Step 10: post-commit publish.
	s.publishEvent(ctx, events.TopicPaymentCompleted, req.TraceID, map[string]any{
		"transferId":    transfer.ID,
		"fromAccountId": transfer.FromAccountID,
		"toAccountId":   transfer.ToAccountID,
		"amount":        transfer.Amount.Int64(),
		"currency":      transfer.Currency,
		"fraudScore":    transfer.FraudScore,
	})

	log.Info("transfer completed",
		zap.String("transfer_id", transfer.ID),
		zap.Int("fraud_score", transfer.FraudScore))
	s.metrics.TransfersCompleted.Inc()
	return &Result{Transfer: transfer}, nil
}

func (s *Service) validate(req Request) error {
	if req.IdempotencyKey == "" {
		return NewValidationError("idempotency key is required")
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return NewValidationError("idempotency key exceeds 255 characters")
	}
	if req.FromAccountID == "" || req.ToAccountID == "" {
		return NewValidationError("sender and recipient accounts are required")
	}
	if req.FromAccountID == req.ToAccountID {
		return NewValidationError("sender and recipient must differ")
	}
	if req.Currency != s.cfg.Currency {
		return NewValidationError(fmt.Sprintf("unsupported currency %q", req.Currency))
	}
	if req.Amount < s.cfg.MinTransfer {
		return NewValidationError("amount below minimum").
			WithDetail("minimum", s.cfg.MinTransfer.Int64())
	}
	if req.Amount > s.cfg.MaxTransfer {
		return NewValidationError("amount above maximum").
			WithDetail("maximum", s.cfg.MaxTransfer.Int64())
	}
	return nil
}

// executeWithRetry runs the transactional core, retrying version conflicts
// and row-lock contention with linear backoff.
func (s *Service) executeWithRetry(ctx context.Context, log *zap.Logger, req Request, outcome fraud.Outcome) (*relationaldb.Transfer, bool, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		transfer, err := s.execute(ctx, req, outcome)
		if err == nil {
			return transfer, false, nil
		}

		if errors.Is(err, relationaldb.ErrDuplicateIdempotencyKey) {
			// Lost the race to the unique constraint: the transfer
			// already exists. Serve it as a replay.
			existing, getErr := s.store.GetTransferByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr != nil {
				return nil, false, NewConcurrentError(getErr)
			}
			return existing, true, nil
		}

		if !errors.Is(err, relationaldb.ErrVersionConflict) && !errors.Is(err, relationaldb.ErrRowLocked) {
			return nil, false, err
		}

		lastErr = err
		log.Warn("concurrent modification, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < s.cfg.RetryAttempts {
			select {
			case <-time.After(time.Duration(attempt) * s.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, false, NewConcurrentError(ctx.Err())
			}
		}
	}
	return nil, false, NewConcurrentError(lastErr)
}

// execute is steps 7.1–7.9: one attempt at the atomic block.
func (s *Service) execute(ctx context.Context, req Request, outcome fraud.Outcome) (*relationaldb.Transfer, error) {
	var transfer *relationaldb.Transfer

	err := s.store.InTransaction(ctx, func(tx relationaldb.Tx) error {
		// 7.1: row locks in canonical order, no wait.
		sender, recipient, err := tx.LockAccountPair(ctx, req.FromAccountID, req.ToAccountID)
		if err != nil {
			return err
		}

		// 7.2: status re-check under the row lock.
		if sender.Status != relationaldb.AccountActive {
			return NewFrozenError(sender.ID)
		}
		if recipient.Status != relationaldb.AccountActive {
			return NewFrozenError(recipient.ID)
		}

		// 7.3: balance check.
		senderAfter, err := money.Sub(sender.Balance, req.Amount)
		if err != nil {
			return NewInsufficientFundsError(req.Amount.Int64(), sender.Balance.Int64())
		}
		recipientAfter, err := money.Add(recipient.Balance, req.Amount)
		if err != nil {
			return NewValidationError("recipient balance overflow")
		}

		// 7.4: optimistic debit against the observed version.
		if err := tx.DebitAccountVersioned(ctx, sender.ID, req.Amount, sender.Version); err != nil {
			return err
		}

		// 7.5: credit; the row lock makes the unconditional update safe.
		if err := tx.CreditAccount(ctx, recipient.ID, req.Amount); err != nil {
			return err
		}

		// 7.6: the transfer row, status already terminal.
		now := s.now().UTC()
		transfer = &relationaldb.Transfer{
			ID:             uuid.NewString(),
			IdempotencyKey: req.IdempotencyKey,
			FromAccountID:  sender.ID,
			ToAccountID:    recipient.ID,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Status:         relationaldb.TransferCompleted,
			FraudScore:     outcome.Score,
			FraudAction:    outcome.Action,
			Description:    req.Description,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertTransfer(ctx, transfer); err != nil {
			return err
		}

		// 7.7: the double-entry pair.
		if _, err := s.ledger.WriteDoubleEntry(ctx, tx, transfer,
			ledger.Leg{AccountID: sender.ID, BalanceBefore: sender.Balance, BalanceAfter: senderAfter},
			ledger.Leg{AccountID: recipient.ID, BalanceBefore: recipient.Balance, BalanceAfter: recipientAfter},
		); err != nil {
			return err
		}

		// 7.8: fraud signal audit rows.
		if len(outcome.Signals) > 0 {
			signals := make([]relationaldb.FraudSignal, 0, len(outcome.Signals))
			for _, sig := range outcome.Signals {
				signals = append(signals, relationaldb.FraudSignal{
					ID:         uuid.NewString(),
					TransferID: transfer.ID,
					RuleName:   sig.RuleName,
					Points:     sig.Points,
					Context:    sig.Context,
					CreatedAt:  now,
				})
			}
			if err := tx.InsertFraudSignals(ctx, signals); err != nil {
				return err
			}
		}

		// 7.9: commit on return.
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// GetTransfer returns the transfer with its ledger pair and fraud signals,
// only when the requesting user owns either side.
func (s *Service) GetTransfer(ctx context.Context, transferID, requestingUserID string) (*Detail, error) {
	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		if errors.Is(err, relationaldb.ErrTransferNotFound) {
			return nil, NewNotFoundError("transfer not found")
		}
		return nil, err
	}

	owns := false
	for _, accountID := range []string{t.FromAccountID, t.ToAccountID} {
		acct, err := s.store.GetAccount(ctx, accountID)
		if err != nil {
			continue
		}
		if acct.UserID == requestingUserID {
			owns = true
			break
		}
	}
	if !owns {
		// Same shape as a missing transfer; existence is not leaked to
		// non-owners.
		return nil, NewNotFoundError("transfer not found")
	}

	entries, err := s.store.GetLedgerEntries(ctx, transferID)
	if err != nil {
		return nil, err
	}
	signals, err := s.store.GetFraudSignals(ctx, transferID)
	if err != nil {
		return nil, err
	}
	return &Detail{Transfer: t, Ledger: entries, Signals: signals}, nil
}

func (s *Service) accountLoadError(side string, err error) error {
	if errors.Is(err, relationaldb.ErrAccountNotFound) {
		s.metrics.TransfersFailed.WithLabelValues(CodeNotFound).Inc()
		return NewNotFoundError(side + " account not found")
	}
	s.metrics.TransfersFailed.WithLabelValues(CodeDependency).Inc()
	return NewDependencyError("account store unavailable", err)
}

// publishEvent ships one event, fire-and-forget unless configured to await.
// Failures are logged and counted; they never fail the request.
func (s *Service) publishEvent(ctx context.Context, topic, traceID string, payload map[string]any) {
	publish := func(ctx context.Context) {
		if err := s.publisher.Publish(ctx, topic, traceID, payload); err != nil {
			s.metrics.PublishFailures.WithLabelValues(topic).Inc()
			s.logger.Error("event publish failed",
				zap.String("topic", topic),
				zap.String("trace_id", traceID),
				zap.Error(err))
		}
	}

	if s.cfg.EventPublishAwait {
		publish(ctx)
		return
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	go func() {
		defer cancel()
		publish(bg)
	}()
}

func ruleNames(signals []fraud.Signal) []string {
	names := make([]string, 0, len(signals))
	for _, sig := range signals {
		names = append(names, sig.RuleName)
	}
	return names
}

func failureReason(err error) string {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	return CodeInternal
}
