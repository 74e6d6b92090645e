package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/types"
)

var (
	owner     = types.Address{0x01}
	confirmer = types.Address{0x02}
	stranger  = types.Address{0x03}
)

func TestRoleRegistryOwnerManagesMembership(t *testing.T) {
	reg := NewRoleRegistry(owner)
	rec := &events.Recorder{}
	reg.SetEmitter(rec)

	assert.True(t, reg.HasRole(owner, types.RoleOwner))
	assert.False(t, reg.HasRole(confirmer, types.RoleConfirmer))

	require.NoError(t, reg.Grant(owner, confirmer, types.RoleConfirmer))
	assert.True(t, reg.HasRole(confirmer, types.RoleResolver))
	assert.False(t, reg.HasRole(confirmer, types.RoleIssuer))

	// Granting twice is a no-op and does not emit.
	require.NoError(t, reg.Grant(owner, confirmer, types.RoleConfirmer))
	assert.Len(t, rec.Events(), 1)

	require.NoError(t, reg.Revoke(owner, confirmer, types.RoleConfirmer))
	assert.False(t, reg.HasRole(confirmer, types.RoleConfirmer))
}

func TestRoleRegistryRejectsNonOwner(t *testing.T) {
	reg := NewRoleRegistry(owner)

	err := reg.Grant(stranger, stranger, types.RoleConfirmer)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	err = reg.TransferOwnership(stranger, stranger)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	err = reg.Grant(owner, stranger, types.RoleOwner)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestTransferOwnership(t *testing.T) {
	reg := NewRoleRegistry(owner)
	require.NoError(t, reg.TransferOwnership(owner, stranger))

	assert.Equal(t, stranger, reg.Owner())
	assert.False(t, reg.HasRole(owner, types.RoleOwner))
	assert.ErrorIs(t, reg.Grant(owner, confirmer, types.RoleIssuer), types.ErrUnauthorized)
	require.NoError(t, reg.Grant(stranger, confirmer, types.RoleIssuer))
}

func TestZeroAddressNeverAuthorized(t *testing.T) {
	reg := NewRoleRegistry(types.ZeroAddress)
	assert.False(t, reg.HasRole(types.ZeroAddress, types.RoleOwner))
	assert.ErrorIs(t, reg.Grant(types.ZeroAddress, confirmer, types.RoleConfirmer), types.ErrUnauthorized)
}

func TestMembersSorted(t *testing.T) {
	reg := NewRoleRegistry(owner)
	require.NoError(t, reg.Grant(owner, types.Address{0x09}, types.RoleIssuer))
	require.NoError(t, reg.Grant(owner, types.Address{0x05}, types.RoleIssuer))

	assert.Equal(t, []types.Address{{0x05}, {0x09}}, reg.Members(types.RoleIssuer))
}

func TestRequire(t *testing.T) {
	oracle := OracleFunc(func(p types.Address, r types.Role) bool {
		return p == confirmer && r == types.RoleConfirmer
	})
	assert.NoError(t, Require(oracle, confirmer, types.RoleConfirmer))
	assert.ErrorIs(t, Require(oracle, stranger, types.RoleConfirmer), types.ErrUnauthorized)
	assert.ErrorIs(t, Require(nil, confirmer, types.RoleConfirmer), types.ErrUnauthorized)
}

// brokenStore rejects every commit.
type brokenStore struct {
	*ledger.MemoryStore
}

func (brokenStore) Update(context.Context, func(ledger.Tx) error) error {
	return errors.New("database is locked")
}

func TestJournaledRoleChangesCommitThroughStore(t *testing.T) {
	store := ledger.NewMemoryStore()
	rec := &events.Recorder{}
	store.SetEmitter(rec)

	reg := NewRoleRegistry(owner)
	own := &events.Recorder{}
	reg.SetEmitter(own)
	reg.SetJournal(store)

	require.NoError(t, reg.Grant(owner, confirmer, types.RoleConfirmer))
	require.NoError(t, reg.TransferOwnership(owner, stranger))

	assert.Equal(t, []string{
		events.TypeRoleChanged,
		events.TypeRoleChanged,
		events.TypeRoleChanged,
	}, rec.Types())
	assert.Empty(t, own.Events())
	assert.Equal(t, events.RoleChanged{Principal: stranger, Role: types.RoleOwner, Granted: true}, rec.Events()[2])
}

func TestFailedJournalLeavesRolesUnchanged(t *testing.T) {
	reg := NewRoleRegistry(owner)
	reg.SetJournal(brokenStore{ledger.NewMemoryStore()})

	assert.Error(t, reg.Grant(owner, confirmer, types.RoleConfirmer))
	assert.False(t, reg.HasRole(confirmer, types.RoleConfirmer))

	assert.Error(t, reg.TransferOwnership(owner, stranger))
	assert.Equal(t, owner, reg.Owner())
}

func TestReplayRebuildsRoles(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := types.Address{0x04}
	changes := []events.Event{
		events.RoleChanged{Principal: confirmer, Role: types.RoleConfirmer, Granted: true},
		events.Funded{Buyer: confirmer},
		events.RoleChanged{Principal: issuer, Role: types.RoleIssuer, Granted: true},
		events.RoleChanged{Principal: owner, Role: types.RoleOwner, Granted: false},
		events.RoleChanged{Principal: stranger, Role: types.RoleOwner, Granted: true},
		events.RoleChanged{Principal: issuer, Role: types.RoleIssuer, Granted: false},
	}
	envs := make([]events.Envelope, len(changes))
	for i, evt := range changes {
		env, err := events.Encode(uint64(i+1), evt, at)
		require.NoError(t, err)
		envs[i] = env
	}

	reg := NewRoleRegistry(owner)
	applied, err := reg.Replay(envs)
	require.NoError(t, err)
	assert.Equal(t, 5, applied)

	assert.Equal(t, stranger, reg.Owner())
	assert.True(t, reg.HasRole(confirmer, types.RoleConfirmer))
	assert.False(t, reg.HasRole(issuer, types.RoleIssuer))

	_, err = reg.Replay([]events.Envelope{{Sequence: 9, Type: events.TypeRoleChanged, Payload: []byte(`{"role":"admin","granted":true}`)}})
	assert.Error(t, err)
}
