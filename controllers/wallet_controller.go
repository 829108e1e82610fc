package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ascendhq/ascend/ledger"
	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/utils"
)

// WalletController exposes the coin balance and the transaction log. Coins
// are only ever granted through verified payments or achievement rewards;
// the API can spend, never mint.
type WalletController struct {
	ledger *ledger.Service
}

// NewWalletController creates a WalletController.
func NewWalletController(led *ledger.Service) *WalletController {
	return &WalletController{ledger: led}
}

// Balance returns the current coin balance.
func (w *WalletController) Balance(ctx *gin.Context) {
	accountID, ok := getAccountID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	balance, err := w.ledger.GetBalance(ctx.Request.Context(), accountID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to load balance")
		return
	}
	utils.Success(ctx, gin.H{"balance": balance})
}

// Transactions returns the most recent ledger entries, newest first.
func (w *WalletController) Transactions(ctx *gin.Context) {
	accountID, ok := getAccountID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	limit := 50
	if raw := ctx.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	txs, err := w.ledger.Transactions(ctx.Request.Context(), accountID, limit)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to load transactions")
		return
	}
	utils.Success(ctx, gin.H{"transactions": txs})
}

// Spend deducts coins for an in-app purchase. The optional idempotency key
// makes client retries safe.
func (w *WalletController) Spend(ctx *gin.Context) {
	accountID, ok := getAccountID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	type request struct {
		Amount         int64  `json:"amount" binding:"required,gt=0"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	var sourceID *string
	if req.IdempotencyKey != "" {
		key := "api:" + req.IdempotencyKey
		sourceID = &key
	}

	balance, err := w.ledger.Spend(ctx.Request.Context(), accountID, req.Amount, models.CoinReasonSpend, sourceID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			utils.Error(ctx, http.StatusConflict, 40930, "insufficient coin balance")
		case errors.Is(err, ledger.ErrAccountFrozen):
			utils.Error(ctx, http.StatusConflict, 40931, "account pending reconciliation")
		case errors.Is(err, ledger.ErrInvalidAmount):
			utils.Error(ctx, http.StatusBadRequest, 40030, "invalid amount")
		default:
			utils.Error(ctx, http.StatusInternalServerError, 50032, "failed to spend coins")
		}
		return
	}
	utils.Success(ctx, gin.H{"balance": balance})
}
