package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/txledger/internal/ledger"
	"github.com/example/txledger/internal/security"
	"github.com/example/txledger/internal/store"
)

type transactRequest struct {
	IdempotencyKey string      `json:"idempotency_key"`
	Amount         json.Number `json:"amount"`
	Kind           string      `json:"kind"`
}

type transactResponse struct {
	Status         string `json:"status"`
	CorrelationID  string `json:"correlation_id"`
	IdempotencyKey string `json:"idempotency_key"`
	UserID         string `json:"user_id"`
	Balance        string `json:"balance"`
	Note           string `json:"note,omitempty"`
}

type balanceResponse struct {
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id"`
	Balance       string `json:"balance"`
}

type transactionResponse struct {
	Status         string `json:"status"`
	CorrelationID  string `json:"correlation_id"`
	IdempotencyKey string `json:"idempotency_key"`
	UserID         string `json:"user_id"`
	Amount         string `json:"amount"`
	Kind           string `json:"kind"`
	Timestamp      string `json:"timestamp"`
}

func handleTransact(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			security.WriteJSONError(w, r, http.StatusBadRequest, "validation_error")
			return
		}

		var req transactRequest
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		amount, err := parseAmount(req.Amount)
		if err != nil {
			security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "validation_error", err.Error())
			return
		}

		kind := ledger.Kind(strings.ToUpper(req.Kind))

		res, err := deps.Ledger.Transact(r.Context(), userID, amount, kind, req.IdempotencyKey)
		if err != nil {
			writeTransactError(w, r, err)
			return
		}

		resp := transactResponse{
			Status:         "success",
			CorrelationID:  security.CorrelationIDFromContext(r.Context()),
			IdempotencyKey: res.IdempotencyKey,
			UserID:         res.UserID,
			Balance:        formatAmount(res.Balance),
		}
		if res.Replayed {
			resp.Note = "transaction already processed"
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func writeTransactError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		security.WriteJSONErrorMessage(w, r, http.StatusUnprocessableEntity, "insufficient_balance",
			"insufficient balance: transaction would result in negative balance")
	case errors.Is(err, ledger.ErrAccountNotFound):
		security.WriteJSONErrorMessage(w, r, http.StatusNotFound, "account_not_found", "user does not exist")
	case ledger.IsTransient(err):
		security.WriteJSONErrorMessage(w, r, http.StatusBadGateway, "transient_failure",
			"temporary failure, retry with the same idempotency key")
	default:
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
	}
}

func handleGetBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			security.WriteJSONError(w, r, http.StatusBadRequest, "validation_error")
			return
		}

		balance, err := deps.Ledger.GetBalance(r.Context(), userID)
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				security.WriteJSONErrorMessage(w, r, http.StatusNotFound, "account_not_found", "user does not exist")
				return
			}
			security.WriteJSONError(w, r, http.StatusBadGateway, "transient_failure")
			return
		}

		writeJSON(w, r, http.StatusOK, balanceResponse{
			Status:        "success",
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			UserID:        userID,
			Balance:       formatAmount(balance),
		})
	}
}

func handleGetTransaction(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "idempotencyKey")
		if key == "" {
			security.WriteJSONError(w, r, http.StatusBadRequest, "validation_error")
			return
		}

		rec, err := deps.Ledger.GetRecord(r.Context(), key)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				security.WriteJSONError(w, r, http.StatusNotFound, "transaction_not_found")
				return
			}
			security.WriteJSONError(w, r, http.StatusBadGateway, "transient_failure")
			return
		}

		writeJSON(w, r, http.StatusOK, transactionResponse{
			Status:         "success",
			CorrelationID:  security.CorrelationIDFromContext(r.Context()),
			IdempotencyKey: rec.IdempotencyKey,
			UserID:         rec.UserID,
			Amount:         formatAmount(rec.Amount),
			Kind:           rec.Kind,
			Timestamp:      rec.Timestamp.UTC().Format(time.RFC3339),
		})
	}
}
