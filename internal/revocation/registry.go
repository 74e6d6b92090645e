package revocation

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/observability"
	"github.com/ksred/null-ledger/internal/types"
)

// Well-known reason codes. Any non-empty reason is accepted.
const (
	ReasonFraud        = "fraud"
	ReasonCourtOrder   = "court_order"
	ReasonDuplicate    = "duplicate"
	ReasonOwnerRequest = "owner_request"
)

// Registry records one-way revocations of subject commitments.
type Registry struct {
	store   ledger.Store
	oracle  auth.AuthorizationOracle
	nowFn   func() time.Time
	metrics *observability.LedgerMetrics
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store ledger.Store, oracle auth.AuthorizationOracle) *Registry {
	return &Registry{store: store, oracle: oracle, nowFn: time.Now}
}

// SetNowFunc overrides the clock, mainly for tests.
func (r *Registry) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.nowFn = now
}

// SetMetrics enables operation metrics. Nil disables them.
func (r *Registry) SetMetrics(m *observability.LedgerMetrics) { r.metrics = m }

// NormalizeReason trims and lower-cases a reason code.
func NormalizeReason(reason string) string {
	return strings.ToLower(strings.TrimSpace(reason))
}

// Revoke permanently revokes subject. The issuer must hold the issuer role and
// a second revocation of the same subject fails with ErrAlreadyRevoked.
func (r *Registry) Revoke(ctx context.Context, subject types.Hash, reason string, issuer types.Address) (_ ledger.RevocationRecord, err error) {
	defer func(started time.Time) { r.metrics.Observe("revocation", "revoke", started, err) }(time.Now())
	if err := auth.Require(r.oracle, issuer, types.RoleIssuer); err != nil {
		return ledger.RevocationRecord{}, err
	}
	return r.record(ctx, subject, reason, issuer, false)
}

// EmergencyRevoke lets the owner revoke without holding the issuer role. The
// record is flagged so auditors can tell the two paths apart.
func (r *Registry) EmergencyRevoke(ctx context.Context, subject types.Hash, reason string, caller types.Address) (_ ledger.RevocationRecord, err error) {
	defer func(started time.Time) { r.metrics.Observe("revocation", "emergency_revoke", started, err) }(time.Now())
	if err := auth.Require(r.oracle, caller, types.RoleOwner); err != nil {
		return ledger.RevocationRecord{}, err
	}
	return r.record(ctx, subject, reason, caller, true)
}

func (r *Registry) record(ctx context.Context, subject types.Hash, reason string, issuer types.Address, emergency bool) (ledger.RevocationRecord, error) {
	logger := log.With().
		Str("service", "revocation").
		Str("subject", subject.Hex()).
		Str("issuer", issuer.Hex()).
		Bool("emergency", emergency).
		Logger()

	normalized := NormalizeReason(reason)
	if normalized == "" {
		return ledger.RevocationRecord{}, types.ErrInvalidInput.Withf("reason required")
	}

	rec := ledger.RevocationRecord{
		Subject:   subject,
		Reason:    normalized,
		Issuer:    issuer,
		Emergency: emergency,
		RevokedAt: r.nowFn().UTC(),
	}
	err := r.store.Update(ctx, func(tx ledger.Tx) error {
		if _, exists, err := tx.Revocation(subject); err != nil {
			return err
		} else if exists {
			return types.ErrAlreadyRevoked.Withf("subject %s", subject.Hex())
		}
		if err := tx.PutRevocation(rec); err != nil {
			return err
		}
		tx.Emit(events.Revoked{Subject: subject, Reason: normalized, Issuer: issuer, Emergency: emergency})
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("revocation rejected")
		return ledger.RevocationRecord{}, err
	}

	logger.Info().Str("reason", normalized).Msg("subject revoked")
	return rec, nil
}

// IsRevoked reports whether subject has been revoked. Lookup failures are
// treated as not revoked by this accessor; use Get to observe them.
func (r *Registry) IsRevoked(ctx context.Context, subject types.Hash) bool {
	_, ok, err := ledger.GetRevocation(ctx, r.store, subject)
	return err == nil && ok
}

// Get returns the revocation record for subject or ErrNotFound.
func (r *Registry) Get(ctx context.Context, subject types.Hash) (ledger.RevocationRecord, error) {
	rec, ok, err := ledger.GetRevocation(ctx, r.store, subject)
	if err != nil {
		return ledger.RevocationRecord{}, err
	}
	if !ok {
		return ledger.RevocationRecord{}, types.ErrNotFound.Withf("subject %s", subject.Hex())
	}
	return rec, nil
}
