package database

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ksred/null-ledger/pkg/response"
)

const maxEventPage = 500

// GinHandlers exposes the event outbox for indexers
type GinHandlers struct {
	store *Store
}

func NewGinHandlers(store *Store) *GinHandlers {
	return &GinHandlers{store: store}
}

// EventsHandler pages through committed events: ?after=<sequence>&limit=<n>.
func (h *GinHandlers) EventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
		if err != nil {
			response.BadRequest(c, "after must be a sequence number")
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil || limit <= 0 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		if limit > maxEventPage {
			limit = maxEventPage
		}
		envs, err := h.store.EventsSince(c.Request.Context(), after, limit)
		response.Handle(c, gin.H{"events": envs}, err)
	}
}
