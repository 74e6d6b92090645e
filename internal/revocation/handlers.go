package revocation

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/types"
	"github.com/ksred/null-ledger/pkg/response"
)

// GinHandlers contains HTTP handlers for revocation endpoints
type GinHandlers struct {
	registry *Registry
}

func NewGinHandlers(registry *Registry) *GinHandlers {
	return &GinHandlers{registry: registry}
}

type revokeRequest struct {
	Subject string `json:"subject" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
}

func (h *GinHandlers) RevokeHandler() gin.HandlerFunc {
	return h.revoke(false)
}

func (h *GinHandlers) EmergencyRevokeHandler() gin.HandlerFunc {
	return h.revoke(true)
}

func (h *GinHandlers) revoke(emergency bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req revokeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		subject, err := types.ParseHash(req.Subject)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		caller := auth.Principal(c)
		if emergency {
			rec, err := h.registry.EmergencyRevoke(c.Request.Context(), subject, req.Reason, caller)
			response.Handle(c, rec, err)
			return
		}
		rec, err := h.registry.Revoke(c.Request.Context(), subject, req.Reason, caller)
		response.Handle(c, rec, err)
	}
}

func (h *GinHandlers) GetRevocationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, err := types.ParseHash(c.Param("subject"))
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		rec, err := h.registry.Get(c.Request.Context(), subject)
		response.Handle(c, rec, err)
	}
}
