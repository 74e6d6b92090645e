package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/types"
)

// AuthorizationOracle answers role membership questions for the ledger core.
type AuthorizationOracle interface {
	HasRole(principal types.Address, role types.Role) bool
}

// OracleFunc adapts a function to AuthorizationOracle.
type OracleFunc func(principal types.Address, role types.Role) bool

// HasRole implements AuthorizationOracle.
func (f OracleFunc) HasRole(principal types.Address, role types.Role) bool { return f(principal, role) }

// RoleRegistry keeps a single transferable owner and owner-managed confirmer
// and issuer sets.
type RoleRegistry struct {
	mu      sync.RWMutex
	owner   types.Address
	members map[types.Role]map[types.Address]bool
	emitter events.Emitter
	journal ledger.Store
}

// NewRoleRegistry creates a registry owned by owner.
func NewRoleRegistry(owner types.Address) *RoleRegistry {
	return &RoleRegistry{
		owner: owner,
		members: map[types.Role]map[types.Address]bool{
			types.RoleConfirmer: {},
			types.RoleIssuer:    {},
		},
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures where role change events go.
func (r *RoleRegistry) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emitter = emitter
}

// SetJournal commits role changes to store as ledger events, so they reach
// the store's emitter and outbox like any other ledger change. While a journal
// is set the registry's own emitter is not used.
func (r *RoleRegistry) SetJournal(store ledger.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journal = store
}

// record publishes role changes. With a journal the changes must commit
// before the caller applies them in memory.
func (r *RoleRegistry) record(changes ...events.RoleChanged) error {
	if r.journal == nil {
		for _, evt := range changes {
			r.emitter.Emit(evt)
		}
		return nil
	}
	return r.journal.Update(context.Background(), func(tx ledger.Tx) error {
		for _, evt := range changes {
			tx.Emit(evt)
		}
		return nil
	})
}

// Replay applies role changes previously journaled to the ledger, skipping
// envelopes of other types. It bypasses authorization and emits nothing, and
// returns the number of role changes applied.
func (r *RoleRegistry) Replay(envs []events.Envelope) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	applied := 0
	for _, env := range envs {
		if env.Type != events.TypeRoleChanged {
			continue
		}
		var evt events.RoleChanged
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return applied, fmt.Errorf("auth: decode role change %d: %w", env.Sequence, err)
		}
		switch {
		case evt.Role == types.RoleOwner:
			if evt.Granted {
				r.owner = evt.Principal
			}
		case r.members[evt.Role] == nil:
			return applied, fmt.Errorf("auth: role change %d names unknown role %q", env.Sequence, evt.Role)
		case evt.Granted:
			r.members[evt.Role][evt.Principal] = true
		default:
			delete(r.members[evt.Role], evt.Principal)
		}
		applied++
	}
	return applied, nil
}

// HasRole implements AuthorizationOracle.
func (r *RoleRegistry) HasRole(principal types.Address, role types.Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if principal == types.ZeroAddress {
		return false
	}
	if role == types.RoleOwner {
		return principal == r.owner
	}
	return r.members[role][principal]
}

// Owner returns the current owner.
func (r *RoleRegistry) Owner() types.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// Grant adds principal to role. Only the owner may call it.
func (r *RoleRegistry) Grant(caller, principal types.Address, role types.Role) error {
	return r.set(caller, principal, role, true)
}

// Revoke removes principal from role. Only the owner may call it.
func (r *RoleRegistry) Revoke(caller, principal types.Address, role types.Role) error {
	return r.set(caller, principal, role, false)
}

func (r *RoleRegistry) set(caller, principal types.Address, role types.Role, granted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner || caller == types.ZeroAddress {
		return types.ErrUnauthorized.Withf("%s is not the owner", caller.Hex())
	}
	set, ok := r.members[role]
	if !ok {
		return types.ErrInvalidInput.Withf("role %q is not assignable", role)
	}
	if principal == types.ZeroAddress {
		return types.ErrInvalidInput.Withf("zero principal")
	}
	if set[principal] == granted {
		return nil
	}
	if err := r.record(events.RoleChanged{Principal: principal, Role: role, Granted: granted}); err != nil {
		return err
	}
	if granted {
		set[principal] = true
	} else {
		delete(set, principal)
	}
	log.Info().
		Str("service", "auth").
		Str("principal", principal.Hex()).
		Str("role", string(role)).
		Bool("granted", granted).
		Msg("role membership changed")
	return nil
}

// TransferOwnership hands the owner role to next. Only the owner may call it.
func (r *RoleRegistry) TransferOwnership(caller, next types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner || caller == types.ZeroAddress {
		return types.ErrUnauthorized.Withf("%s is not the owner", caller.Hex())
	}
	if next == types.ZeroAddress {
		return types.ErrInvalidInput.Withf("zero owner")
	}
	prev := r.owner
	err := r.record(
		events.RoleChanged{Principal: prev, Role: types.RoleOwner, Granted: false},
		events.RoleChanged{Principal: next, Role: types.RoleOwner, Granted: true},
	)
	if err != nil {
		return err
	}
	r.owner = next
	log.Info().
		Str("service", "auth").
		Str("previous_owner", prev.Hex()).
		Str("owner", next.Hex()).
		Msg("ownership transferred")
	return nil
}

// Members lists the principals holding role, sorted.
func (r *RoleRegistry) Members(role types.Role) []types.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role == types.RoleOwner {
		return []types.Address{r.owner}
	}
	out := make([]types.Address, 0, len(r.members[role]))
	for addr := range r.members[role] {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Require returns ErrUnauthorized unless principal holds role.
func Require(oracle AuthorizationOracle, principal types.Address, role types.Role) error {
	if oracle == nil || !oracle.HasRole(principal, role) {
		return types.ErrUnauthorized.Withf("%s lacks role %s", principal.Hex(), role)
	}
	return nil
}
