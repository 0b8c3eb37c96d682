// Package server exposes the HTTP API: transfer initiation and lookup,
// health and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openpaisa/paisad/internal/core/transfer"
	"github.com/openpaisa/paisad/internal/money"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerTraceID        = "X-Trace-Id"
	headerUserID         = "X-User-Id"
)

// TransferService is the orchestrator surface the handler needs.
type TransferService interface {
	Initiate(ctx context.Context, req transfer.Request) (*transfer.Result, error)
	GetTransfer(ctx context.Context, transferID, requestingUserID string) (*transfer.Detail, error)
}

// Pinger reports backend liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler routes the HTTP API.
type Handler struct {
	svc      TransferService
	db       Pinger
	kv       Pinger
	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewHandler creates the API handler. registry may be nil to disable the
// metrics endpoint.
func NewHandler(svc TransferService, db, kv Pinger, registry *prometheus.Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, db: db, kv: kv, registry: registry, logger: logger}
}

// Router builds the route table with tracing and logging middleware applied.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transfers", h.createTransfer)
	mux.HandleFunc("GET /v1/transfers/{id}", h.getTransfer)
	mux.HandleFunc("GET /healthz", h.health)
	if h.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	}
	return h.withTrace(h.withLogging(mux))
}

// withTrace propagates the inbound X-Trace-Id or mints one, and echoes it on
// the response so callers can correlate.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(headerTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(headerTraceID, traceID)
		next.ServeHTTP(w, r.WithContext(withTraceID(r.Context(), traceID)))
	})
}

func (h *Handler) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.String("trace_id", traceIDFrom(r.Context())),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type traceKey struct{}

func withTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func traceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// createTransferRequest is the POST body. Amount accepts either an integer
// paise value or a quoted decimal rupee string like "150.50".
type createTransferRequest struct {
	FromAccountID string          `json:"fromAccountId"`
	ToAccountID   string          `json:"toAccountId"`
	Amount        json.RawMessage `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
}

func parseAmount(raw json.RawMessage) (money.Paise, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, errors.New("amount is required")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return money.Parse(s)
	}
	paise, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, errors.New("amount must be integer paise or a decimal rupee string")
	}
	return money.Paise(paise), nil
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := traceIDFrom(ctx)

	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeError(w, traceID, transfer.NewValidationError("X-User-Id header is required"))
		return
	}

	var body createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, traceID, transfer.NewValidationError("malformed JSON body"))
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeError(w, traceID, transfer.NewValidationError(err.Error()))
		return
	}

	res, err := h.svc.Initiate(ctx, transfer.Request{
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
		FromAccountID:  body.FromAccountID,
		ToAccountID:    body.ToAccountID,
		Amount:         amount,
		Currency:       body.Currency,
		Description:    body.Description,
		UserID:         userID,
		TraceID:        traceID,
	})
	if err != nil {
		writeError(w, traceID, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"transfer": transferJSON(res.Transfer),
		"replayed": res.Replayed,
		"traceId":  traceID,
	})
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := traceIDFrom(ctx)

	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeError(w, traceID, transfer.NewValidationError("X-User-Id header is required"))
		return
	}

	detail, err := h.svc.GetTransfer(ctx, r.PathValue("id"), userID)
	if err != nil {
		writeError(w, traceID, err)
		return
	}

	ledgerEntries := make([]map[string]any, 0, len(detail.Ledger))
	for _, e := range detail.Ledger {
		ledgerEntries = append(ledgerEntries, map[string]any{
			"id":            e.ID,
			"accountId":     e.AccountID,
			"type":          string(e.Type),
			"amount":        e.Amount.Int64(),
			"balanceBefore": e.BalanceBefore.Int64(),
			"balanceAfter":  e.BalanceAfter.Int64(),
			"createdAt":     e.CreatedAt,
		})
	}
	signals := make([]map[string]any, 0, len(detail.Signals))
	for _, s := range detail.Signals {
		signals = append(signals, map[string]any{
			"ruleName": s.RuleName,
			"points":   s.Points,
			"context":  s.Context,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transfer": transferJSON(detail.Transfer),
		"ledger":   ledgerEntries,
		"signals":  signals,
		"traceId":  traceID,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "kvstore": "ok"}
	healthy := true
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
	}
	if h.kv != nil {
		if err := h.kv.Ping(ctx); err != nil {
			checks["kvstore"] = err.Error()
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": healthy, "checks": checks})
}

func transferJSON(t *relationaldb.Transfer) map[string]any {
	return map[string]any{
		"id":              t.ID,
		"fromAccountId":   t.FromAccountID,
		"toAccountId":     t.ToAccountID,
		"amount":          t.Amount.Int64(),
		"amountFormatted": t.Amount.Format(),
		"currency":        t.Currency,
		"status":          string(t.Status),
		"fraudScore":      t.FraudScore,
		"fraudAction":     string(t.FraudAction),
		"description":     t.Description,
		"createdAt":       t.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps an error to its HTTP shape. Operational errors carry their
// own status and stable code; anything else is a 500 with only the trace ID.
func writeError(w http.ResponseWriter, traceID string, err error) {
	var opErr *transfer.OpError
	if !errors.As(err, &opErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{
				"code":    transfer.CodeInternal,
				"message": "internal error",
			},
			"traceId": traceID,
		})
		return
	}

	if opErr.HTTPStatus == http.StatusConflict {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, opErr.HTTPStatus, map[string]any{
		"error": map[string]any{
			"code":    opErr.Code,
			"message": opErr.Message,
			"details": opErr.Details,
		},
		"traceId": traceID,
	})
}
