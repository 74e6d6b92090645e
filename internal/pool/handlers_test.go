package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/types"
)

func newTestRouter(p *Pool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if principal, err := types.ParseAddress(c.GetHeader("X-Principal")); err == nil {
			c.Set(auth.PrincipalKey, principal)
		}
	})
	handlers := NewGinHandlers(p)
	r.GET("/pool", handlers.StatusHandler())
	r.POST("/pool/fund", handlers.FundHandler())
	r.POST("/pool/sweep", handlers.SweepHandler())
	r.GET("/pool/refunds/:sale_id", handlers.RefundStatusHandler())
	return r
}

func call(t *testing.T, r *gin.Engine, method, path string, caller types.Address, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Principal", caller.Hex())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func errorCode(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func dataField(out map[string]any, key string) any {
	data, _ := out["data"].(map[string]any)
	return data[key]
}

func TestHTTPFundAndSweep(t *testing.T) {
	p, store, _ := newPool(t)
	r := newTestRouter(p)
	stranger := types.Address{0xee}

	status, out := call(t, r, http.MethodPost, "/pool/fund", stranger, gin.H{"amount": "500"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INSUFFICIENT_BALANCE", errorCode(out))

	require.NoError(t, ledger.Credit(context.Background(), store, ledger.WalletAccount(stranger), types.NewAmount(500)))
	status, out = call(t, r, http.MethodPost, "/pool/fund", stranger, gin.H{"amount": "500"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "500", dataField(out, "balance"))

	status, out = call(t, r, http.MethodPost, "/pool/sweep", stranger, gin.H{"amount": "10", "to": stranger.Hex()})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(out))

	status, _ = call(t, r, http.MethodPost, "/pool/sweep", owner, gin.H{"amount": "10", "to": "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, out = call(t, r, http.MethodPost, "/pool/sweep", owner, gin.H{"amount": "200", "to": owner.Hex()})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "300", dataField(out, "balance"))

	status, out = call(t, r, http.MethodGet, "/pool", owner, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "300", dataField(out, "balance"))
}

func TestHTTPRefundStatus(t *testing.T) {
	ctx := context.Background()
	p, store, _ := newPool(t)
	r := newTestRouter(p)

	status, _ := call(t, r, http.MethodGet, "/pool/refunds/0x1234", owner, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, out := call(t, r, http.MethodGet, "/pool/refunds/"+sale.Hex(), owner, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, dataField(out, "refunded"))

	topUp(t, p, store, owner, types.NewAmount(100))
	_, err := p.ProcessRefund(ctx, resolver, sale, buyer, types.NewAmount(40), "fraud")
	require.NoError(t, err)

	status, out = call(t, r, http.MethodGet, "/pool/refunds/"+sale.Hex(), owner, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, dataField(out, "refunded"))
	assert.Equal(t, sale.Hex(), dataField(out, "sale_id"))
}
