package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/nbarakat/ledger-service/internal/ledger"
	"github.com/nbarakat/ledger-service/internal/model"
	"github.com/nbarakat/ledger-service/internal/store"
)

func RegisterHandlers(r *gin.Engine, eng *ledger.Engine) {
	v1 := r.Group("/v1")
	v1.Use(IdentityMiddleware())
	{
		v1.POST("/wallets", createWalletHandler(eng))
		v1.GET("/wallets", listWalletsHandler(eng))
		v1.GET("/wallets/:currency", getWalletHandler(eng))
		v1.GET("/wallets/:currency/history", historyHandler(eng))
		v1.POST("/transactions/deposit", depositHandler(eng))
		v1.POST("/transactions/withdraw", withdrawHandler(eng))
		v1.POST("/transactions/transfer", transferHandler(eng))
	}
}

type walletResponse struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Currency  string    `json:"currency"`
	Balance   string    `json:"balance"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func toWalletResponse(w *model.Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Currency:  w.Currency,
		Balance:   w.Balance.StringFixed(4),
		Active:    w.Active,
		CreatedAt: w.CreatedAt,
	}
}

type entryResponse struct {
	ID            string    `json:"id"`
	WalletID      string    `json:"wallet_id"`
	Amount        string    `json:"amount"`
	BalanceAfter  string    `json:"balance_after"`
	Kind          string    `json:"type"`
	Status        string    `json:"status"`
	ReferenceID   *string   `json:"reference_id,omitempty"`
	PairedEntryID *string   `json:"paired_entry_id,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toEntryResponse(e *model.LedgerEntry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		WalletID:      e.WalletID,
		Amount:        e.Amount.StringFixed(4),
		BalanceAfter:  e.BalanceAfter.StringFixed(4),
		Kind:          e.Kind,
		Status:        e.Status,
		ReferenceID:   e.ReferenceID,
		PairedEntryID: e.PairedEntryID,
		Description:   e.Description,
		CreatedAt:     e.CreatedAt,
	}
}

// statusFor maps the engine's typed failures onto HTTP statuses. Only 503
// is worth retrying with the same input.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidCurrency),
		errors.Is(err, ledger.ErrSelfTransfer):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrWalletNotFound),
		errors.Is(err, ledger.ErrReceiverNotFound),
		errors.Is(err, ledger.ErrReceiverWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrWalletExists):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrConcurrencyAborted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

type createWalletReq struct {
	Currency string `json:"currency" binding:"required"`
}

func createWalletHandler(eng *ledger.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createWalletReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		w, err := eng.CreateWallet(c, accountID(c), req.Currency)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, toWalletResponse(w))
	}
}

func listWalletsHandler(eng *ledger.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := eng.Wallets(c, accountID(c))
		if err != nil {
			fail(c, err)
			return
		}
		out := make([]walletResponse, 0, len(ws))
		for i := range ws {
			out = append(out, toWalletResponse(&ws[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

func getWalletHandler(eng *ledger.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := eng.Wallet(c, accountID(c), c.Param("currency"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toWalletResponse(w))
	}
}

type moveReq struct {
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

func depositHandler(eng *ledger.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req moveReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		entry, err := eng.Deposit(c, accountID(c), req.Currency, amt, req.Description, req.ReferenceID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toEntryResponse(entry))
	}
}

func withdrawHandler(eng *ledger.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req moveReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		entry, err := eng.Withdraw(c, accountID(c), req.Currency, amt, req.Description, req.ReferenceID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toEntryResponse(entry))
	}
}

type transferReq struct {
	ReceiverEmail string `json:"receiver_email" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Currency      string `json:"currency" binding:"required"`
}

func transferHandler(eng *ledger.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		entry, err := eng.Transfer(c, accountID(c), req.ReceiverEmail, amt, req.Currency)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toEntryResponse(entry))
	}
}

func historyHandler(eng *ledger.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		sinceStr := c.DefaultQuery("since", time.Now().Add(-24*time.Hour).Format(time.RFC3339))
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		es, err := eng.History(c, accountID(c), c.Param("currency"), limit, since)
		if err != nil {
			fail(c, err)
			return
		}
		out := make([]entryResponse, 0, len(es))
		for i := range es {
			out = append(out, toEntryResponse(&es[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}
