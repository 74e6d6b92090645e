package observability

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ksred/null-ledger/internal/types"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "already_refunded", Outcome(fmt.Errorf("wrap: %w", types.ErrAlreadyRefunded)))
	assert.Equal(t, "error", Outcome(errors.New("disk on fire")))
}

func TestObserveCounts(t *testing.T) {
	m := Ledger()
	before := testutil.ToFloat64(m.operations.WithLabelValues("escrow", "fund", "ok"))

	m.Observe("escrow", "fund", time.Now(), nil)
	m.Observe("escrow", "fund", time.Now(), nil)

	after := testutil.ToFloat64(m.operations.WithLabelValues("escrow", "fund", "ok"))
	assert.Equal(t, before+2, after)

	var nilMetrics *LedgerMetrics
	nilMetrics.Observe("escrow", "fund", time.Now(), nil)
	nilMetrics.Relayed("published", 1)
}
