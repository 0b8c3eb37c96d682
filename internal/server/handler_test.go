package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpaisa/paisad/internal/core/transfer"
	"github.com/openpaisa/paisad/internal/money"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

type stubService struct {
	lastRequest transfer.Request
	result      *transfer.Result
	detail      *transfer.Detail
	err         error
}

func (s *stubService) Initiate(ctx context.Context, req transfer.Request) (*transfer.Result, error) {
	s.lastRequest = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubService) GetTransfer(ctx context.Context, transferID, userID string) (*transfer.Detail, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.detail, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func sampleTransfer() *relationaldb.Transfer {
	return &relationaldb.Transfer{
		ID:            "t-1",
		FromAccountID: "a-1",
		ToAccountID:   "a-2",
		Amount:        15050,
		Currency:      "INR",
		Status:        relationaldb.TransferCompleted,
		FraudScore:    10,
		FraudAction:   relationaldb.ActionApprove,
		CreatedAt:     time.Now().UTC(),
	}
}

func postTransfer(t *testing.T, h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(body))
	req.Header.Set("X-User-Id", "u-1")
	req.Header.Set("Idempotency-Key", "key-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateTransfer(t *testing.T) {
	svc := &stubService{result: &transfer.Result{Transfer: sampleTransfer()}}
	h := NewHandler(svc, stubPinger{}, stubPinger{}, nil, nil).Router()

	rec := postTransfer(t, h, `{"fromAccountId":"a-1","toAccountId":"a-2","amount":15050,"currency":"INR"}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Transfer struct {
			ID              string `json:"id"`
			Amount          int64  `json:"amount"`
			AmountFormatted string `json:"amountFormatted"`
		} `json:"transfer"`
		Replayed bool   `json:"replayed"`
		TraceID  string `json:"traceId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t-1", resp.Transfer.ID)
	assert.Equal(t, int64(15050), resp.Transfer.Amount)
	assert.Equal(t, "150.50", resp.Transfer.AmountFormatted)
	assert.False(t, resp.Replayed)
	assert.NotEmpty(t, resp.TraceID)

	assert.Equal(t, "key-1", svc.lastRequest.IdempotencyKey)
	assert.Equal(t, "u-1", svc.lastRequest.UserID)
	assert.Equal(t, money.Paise(15050), svc.lastRequest.Amount)
}

func TestCreateTransferReplayedIs200(t *testing.T) {
	svc := &stubService{result: &transfer.Result{Transfer: sampleTransfer(), Replayed: true}}
	h := NewHandler(svc, stubPinger{}, stubPinger{}, nil, nil).Router()

	rec := postTransfer(t, h, `{"fromAccountId":"a-1","toAccountId":"a-2","amount":15050,"currency":"INR"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTransferDecimalStringAmount(t *testing.T) {
	svc := &stubService{result: &transfer.Result{Transfer: sampleTransfer()}}
	h := NewHandler(svc, stubPinger{}, stubPinger{}, nil, nil).Router()

	rec := postTransfer(t, h, `{"fromAccountId":"a-1","toAccountId":"a-2","amount":"150.50","currency":"INR"}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, money.Paise(15050), svc.lastRequest.Amount)
}

func TestCreateTransferTracePropagation(t *testing.T) {
	svc := &stubService{result: &transfer.Result{Transfer: sampleTransfer()}}
	h := NewHandler(svc, stubPinger{}, stubPinger{}, nil, nil).Router()

	rec := postTransfer(t, h, `{"fromAccountId":"a-1","toAccountId":"a-2","amount":1,"currency":"INR"}`,
		map[string]string{"X-Trace-Id": "trace-abc"})
	assert.Equal(t, "trace-abc", rec.Header().Get("X-Trace-Id"))
	assert.Equal(t, "trace-abc", svc.lastRequest.TraceID)
}

func TestCreateTransferRejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		headers    map[string]string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed body",
			body:       `{not json`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   transfer.CodeValidation,
		},
		{
			name:       "missing amount",
			body:       `{"fromAccountId":"a-1","toAccountId":"a-2","currency":"INR"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   transfer.CodeValidation,
		},
		{
			name:       "fractional paise amount",
			body:       `{"fromAccountId":"a-1","toAccountId":"a-2","amount":1.5,"currency":"INR"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   transfer.CodeValidation,
		},
		{
			name:       "missing user header",
			body:       `{"fromAccountId":"a-1","toAccountId":"a-2","amount":100,"currency":"INR"}`,
			headers:    map[string]string{"X-User-Id": ""},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   transfer.CodeValidation,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{result: &transfer.Result{Transfer: sampleTransfer()}}
			h := NewHandler(svc, stubPinger{}, stubPinger{}, nil, nil).Router()

			rec := postTransfer(t, h, tc.body, tc.headers)
			assert.Equal(t, tc.wantStatus, rec.Code)

			var resp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantCode, resp.Error.Code)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantRetry  bool
	}{
		{"insufficient funds", transfer.NewInsufficientFundsError(100, 50), http.StatusUnprocessableEntity, transfer.CodeInsufficient, false},
		{"fraud blocked", transfer.NewFraudBlockedError(85, "decline"), http.StatusForbidden, transfer.CodeFraudBlocked, false},
		{"busy", transfer.NewBusyError(), http.StatusConflict, transfer.CodeBusy, true},
		{"concurrent", transfer.NewConcurrentError(nil), http.StatusConflict, transfer.CodeConcurrent, true},
		{"not found", transfer.NewNotFoundError("gone"), http.StatusNotFound, transfer.CodeNotFound, false},
		{"dependency", transfer.NewDependencyError("down", nil), http.StatusServiceUnavailable, transfer.CodeDependency, false},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, transfer.CodeInternal, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{err: tc.err}
			h := NewHandler(svc, stubPinger{}, stubPinger{}, nil, nil).Router()

			rec := postTransfer(t, h, `{"fromAccountId":"a-1","toAccountId":"a-2","amount":100,"currency":"INR"}`, nil)
			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantRetry {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}

			var resp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
				TraceID string `json:"traceId"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantCode, resp.Error.Code)
			assert.NotEmpty(t, resp.TraceID)
		})
	}
}

func TestGetTransfer(t *testing.T) {
	detail := &transfer.Detail{
		Transfer: sampleTransfer(),
		Ledger: []relationaldb.LedgerEntry{
			{ID: "l-1", AccountID: "a-1", Type: relationaldb.EntryDebit, Amount: 15050, BalanceBefore: 100000, BalanceAfter: 84950},
			{ID: "l-2", AccountID: "a-2", Type: relationaldb.EntryCredit, Amount: 15050, BalanceBefore: 0, BalanceAfter: 15050},
		},
		Signals: []relationaldb.FraudSignal{{RuleName: "round_amount", Points: 5}},
	}
	svc := &stubService{detail: detail}
	h := NewHandler(svc, stubPinger{}, stubPinger{}, nil, nil).Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/transfers/t-1", nil)
	req.Header.Set("X-User-Id", "u-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Ledger  []map[string]any `json:"ledger"`
		Signals []map[string]any `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Ledger, 2)
	assert.Equal(t, "debit", resp.Ledger[0]["type"])
	require.Len(t, resp.Signals, 1)
	assert.Equal(t, "round_amount", resp.Signals[0]["ruleName"])
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := NewHandler(&stubService{}, stubPinger{}, stubPinger{}, nil, nil).Router()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("degraded", func(t *testing.T) {
		h := NewHandler(&stubService{}, stubPinger{err: errors.New("db down")}, stubPinger{}, nil, nil).Router()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
