package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/null-ledger/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func handle(t *testing.T, method string, err error) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, "/", nil)

	Handle(c, gin.H{"ok": true}, err)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHandleStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", types.ErrAmountMismatch.Withf("paid 1"), http.StatusBadRequest, "AMOUNT_MISMATCH"},
		{"conflict", types.ErrDuplicateOrder, http.StatusConflict, "DUPLICATE_ORDER"},
		{"wrapped conflict", fmt.Errorf("pool: %w", types.ErrAlreadyRefunded), http.StatusConflict, "ALREADY_REFUNDED"},
		{"authorization", types.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
		{"resource", types.ErrInsufficientPoolBalance, http.StatusUnprocessableEntity, "INSUFFICIENT_POOL_BALANCE"},
		{"not found", types.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"gorm not found", gorm.ErrRecordNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"unclassified", errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := handle(t, http.MethodPost, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestHandleSuccess(t *testing.T) {
	w, body := handle(t, http.MethodGet, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, body.Success)

	w, _ = handle(t, http.MethodPost, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}
