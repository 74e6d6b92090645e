package pool

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/types"
	"github.com/ksred/null-ledger/pkg/response"
)

// GinHandlers contains HTTP handlers for protection pool endpoints
type GinHandlers struct {
	pool *Pool
}

func NewGinHandlers(pool *Pool) *GinHandlers {
	return &GinHandlers{pool: pool}
}

type amountRequest struct {
	Amount types.Amount `json:"amount"`
	To     string       `json:"to"`
}

func (h *GinHandlers) FundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req amountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.pool.Fund(c.Request.Context(), auth.Principal(c), req.Amount); err != nil {
			response.Handle(c, nil, err)
			return
		}
		h.status(c)
	}
}

func (h *GinHandlers) SweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req amountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		to, err := types.ParseAddress(req.To)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.pool.Sweep(c.Request.Context(), auth.Principal(c), to, req.Amount); err != nil {
			response.Handle(c, nil, err)
			return
		}
		h.status(c)
	}
}

func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return h.status
}

func (h *GinHandlers) status(c *gin.Context) {
	bal, err := h.pool.Balance(c.Request.Context())
	response.Handle(c, gin.H{"balance": bal}, err)
}

func (h *GinHandlers) RefundStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		saleID, err := types.ParseHash(c.Param("sale_id"))
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		refunded, err := h.pool.IsRefunded(c.Request.Context(), saleID)
		response.Handle(c, gin.H{"sale_id": saleID.Hex(), "refunded": refunded}, err)
	}
}
