package escrow

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/types"
	"github.com/ksred/null-ledger/pkg/response"
)

// GinHandlers contains HTTP handlers for escrow endpoints
type GinHandlers struct {
	engine *Engine
}

func NewGinHandlers(engine *Engine) *GinHandlers {
	return &GinHandlers{engine: engine}
}

type fundRequest struct {
	Order   Order        `json:"order"`
	Payment types.Amount `json:"payment"`
}

type orderRequest struct {
	Order       Order  `json:"order"`
	EvidenceRef string `json:"evidence_ref"`
	Reason      string `json:"reason"`
}

type feesRequest struct {
	ProtocolBps   uint32 `json:"protocol_bps"`
	ProtectionBps uint32 `json:"protection_bps"`
}

type walletRequest struct {
	Wallet string       `json:"wallet"`
	Amount types.Amount `json:"amount"`
}

func (h *GinHandlers) FundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req fundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		rec, err := h.engine.Fund(c.Request.Context(), auth.Principal(c), req.Order, req.Payment)
		response.Handle(c, rec, err)
	}
}

func (h *GinHandlers) CancelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req orderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		rec, err := h.engine.Cancel(c.Request.Context(), auth.Principal(c), req.Order)
		response.Handle(c, rec, err)
	}
}

func (h *GinHandlers) SettleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req orderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		out, err := h.engine.ConfirmAndSettle(c.Request.Context(), auth.Principal(c), req.Order, req.EvidenceRef)
		response.Handle(c, out, err)
	}
}

func (h *GinHandlers) RefundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req orderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		rec, err := h.engine.RefundFromPool(c.Request.Context(), auth.Principal(c), req.Order, req.Reason)
		response.Handle(c, rec, err)
	}
}

// SaleIDHandler computes the sale ID of an order without touching the ledger.
func (h *GinHandlers) SaleIDHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var order Order
		if err := c.ShouldBindJSON(&order); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		response.Success(c, gin.H{"sale_id": order.SaleID().Hex()})
	}
}

func (h *GinHandlers) GetRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		saleID, err := types.ParseHash(c.Param("sale_id"))
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		rec, err := h.engine.Record(c.Request.Context(), saleID)
		response.Handle(c, rec, err)
	}
}

func (h *GinHandlers) GetFeesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.engine.Fees())
	}
}

func (h *GinHandlers) SetFeesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req feesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		err := h.engine.SetFees(c.Request.Context(), auth.Principal(c), req.ProtocolBps, req.ProtectionBps)
		response.Handle(c, h.engine.Fees(), err)
	}
}

func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req walletRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		wallet, err := types.ParseAddress(req.Wallet)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.engine.Deposit(c.Request.Context(), auth.Principal(c), wallet, req.Amount); err != nil {
			response.Handle(c, nil, err)
			return
		}
		h.balance(c, wallet)
	}
}

func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req walletRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		caller := auth.Principal(c)
		if err := h.engine.Withdraw(c.Request.Context(), caller, req.Amount); err != nil {
			response.Handle(c, nil, err)
			return
		}
		h.balance(c, caller)
	}
}

func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet, err := types.ParseAddress(c.Param("address"))
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		h.balance(c, wallet)
	}
}

func (h *GinHandlers) balance(c *gin.Context, wallet types.Address) {
	bal, err := h.engine.WalletBalance(c.Request.Context(), wallet)
	response.Handle(c, gin.H{"wallet": wallet.Hex(), "balance": bal}, err)
}
