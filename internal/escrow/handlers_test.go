package escrow

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/fees"
	"github.com/ksred/null-ledger/internal/types"
)

func newTestRouter(h *harness) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// Tests name the caller directly instead of minting tokens.
	r.Use(func(c *gin.Context) {
		if p, err := types.ParseAddress(c.GetHeader("X-Principal")); err == nil {
			c.Set(auth.PrincipalKey, p)
		}
	})
	handlers := NewGinHandlers(h.engine)
	r.POST("/escrow/fund", handlers.FundHandler())
	r.POST("/escrow/settle", handlers.SettleHandler())
	r.GET("/escrow/:sale_id", handlers.GetRecordHandler())
	r.PUT("/fees", handlers.SetFeesHandler())
	r.POST("/wallets/deposit", handlers.DepositHandler())
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

func TestHTTPFundAndSettle(t *testing.T) {
	h := newHarness(t, fees.Schedule{ProtocolBps: 769, ProtectionBps: 50})
	r := newTestRouter(h)
	order := testOrder(oneUnit)

	status, _ := call(t, r, http.MethodPost, "/wallets/deposit", owner, gin.H{"wallet": buyer.Hex(), "amount": oneUnit})
	require.Equal(t, http.StatusCreated, status)

	status, out := call(t, r, http.MethodPost, "/escrow/fund", buyer, gin.H{"order": order, "payment": "1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "AMOUNT_MISMATCH", errorCode(out))

	status, _ = call(t, r, http.MethodPost, "/escrow/fund", buyer, gin.H{"order": order, "payment": oneUnit})
	require.Equal(t, http.StatusCreated, status)

	status, out = call(t, r, http.MethodPost, "/escrow/fund", buyer, gin.H{"order": order, "payment": oneUnit})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "DUPLICATE_ORDER", errorCode(out))

	status, out = call(t, r, http.MethodPost, "/escrow/settle", buyer, gin.H{"order": order})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(out))

	status, out = call(t, r, http.MethodPost, "/escrow/settle", confirmer, gin.H{"order": order, "evidence_ref": "ipfs://e"})
	require.Equal(t, http.StatusCreated, status)
	split := out["data"].(map[string]any)["split"].(map[string]any)
	assert.Equal(t, "918100000000000000", split["seller_amount"])

	status, out = call(t, r, http.MethodGet, "/escrow/"+order.SaleID().Hex(), stranger, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SETTLED", out["data"].(map[string]any)["state"])

	status, _ = call(t, r, http.MethodGet, "/escrow/"+types.Hash{0x99}.Hex(), stranger, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHTTPSetFees(t *testing.T) {
	h := newHarness(t, fees.Schedule{})
	r := newTestRouter(h)

	status, out := call(t, r, http.MethodPut, "/fees", owner, gin.H{"protocol_bps": 2_000, "protection_bps": 1_000})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "FEE_TOO_HIGH", errorCode(out))

	status, out = call(t, r, http.MethodPut, "/fees", owner, gin.H{"protocol_bps": 300, "protection_bps": 100})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 300, out["data"].(map[string]any)["protocol_bps"])
}
