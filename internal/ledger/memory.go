package ledger

import (
	"context"
	"sync"

	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/types"
)

// MemoryStore is an in-process Store. Each Update runs under a single write
// lock with copy-on-write staging, so a failed or panicking unit of work
// leaves the committed state untouched.
type MemoryStore struct {
	mu          sync.RWMutex
	balances    map[Account]types.Amount
	escrows     map[types.Hash]EscrowRecord
	guards      map[types.Hash]RefundGuard
	revocations map[types.Hash]RevocationRecord
	emitter     events.Emitter
}

// NewMemoryStore returns an empty store with a no-op emitter.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:    make(map[Account]types.Amount),
		escrows:     make(map[types.Hash]EscrowRecord),
		guards:      make(map[types.Hash]RefundGuard),
		revocations: make(map[types.Hash]RevocationRecord),
		emitter:     events.NoopEmitter{},
	}
}

// SetEmitter implements Store. Passing nil restores the no-op emitter.
func (s *MemoryStore) SetEmitter(emitter events.Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	s.emitter = emitter
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newMemTx(s, false)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	for _, evt := range tx.events {
		s.emitter.Emit(evt)
	}
	return nil
}

// View implements Store. Writes inside fn are rejected.
func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newMemTx(s, true))
}

type memTx struct {
	store       *MemoryStore
	readOnly    bool
	balances    map[Account]types.Amount
	escrows     map[types.Hash]EscrowRecord
	guards      map[types.Hash]RefundGuard
	revocations map[types.Hash]RevocationRecord
	events      []events.Event
}

func newMemTx(s *MemoryStore, readOnly bool) *memTx {
	return &memTx{
		store:       s,
		readOnly:    readOnly,
		balances:    make(map[Account]types.Amount),
		escrows:     make(map[types.Hash]EscrowRecord),
		guards:      make(map[types.Hash]RefundGuard),
		revocations: make(map[types.Hash]RevocationRecord),
	}
}

func (t *memTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *memTx) commit() {
	for acct, bal := range t.balances {
		if bal.IsZero() {
			delete(t.store.balances, acct)
			continue
		}
		t.store.balances[acct] = bal
	}
	for id, rec := range t.escrows {
		t.store.escrows[id] = rec
	}
	for id, g := range t.guards {
		t.store.guards[id] = g
	}
	for id, rec := range t.revocations {
		t.store.revocations[id] = rec
	}
}

func (t *memTx) Balance(account Account) (types.Amount, error) {
	if bal, ok := t.balances[account]; ok {
		return bal, nil
	}
	return t.store.balances[account], nil
}

func (t *memTx) Balances() (map[Account]types.Amount, error) {
	out := make(map[Account]types.Amount, len(t.store.balances))
	for acct, bal := range t.store.balances {
		out[acct] = bal
	}
	for acct, bal := range t.balances {
		if bal.IsZero() {
			delete(out, acct)
			continue
		}
		out[acct] = bal
	}
	return out, nil
}

func (t *memTx) Credit(account Account, amount types.Amount) error {
	if err := t.writable(); err != nil {
		return err
	}
	bal, _ := t.Balance(account)
	t.balances[account] = bal.Add(amount)
	return nil
}

func (t *memTx) Debit(account Account, amount types.Amount) error {
	if err := t.writable(); err != nil {
		return err
	}
	bal, _ := t.Balance(account)
	if bal.Lt(amount) {
		return insufficient(account, bal, amount)
	}
	t.balances[account] = bal.Sub(amount)
	return nil
}

func (t *memTx) Transfer(from, to Account, amount types.Amount) error {
	return transfer(t, from, to, amount)
}

func (t *memTx) Escrow(saleID types.Hash) (EscrowRecord, bool, error) {
	if rec, ok := t.escrows[saleID]; ok {
		return rec, true, nil
	}
	rec, ok := t.store.escrows[saleID]
	return rec, ok, nil
}

func (t *memTx) PutEscrow(rec EscrowRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.escrows[rec.SaleID] = rec
	return nil
}

func (t *memTx) RefundGuard(saleID types.Hash) (RefundGuard, bool, error) {
	if g, ok := t.guards[saleID]; ok {
		return g, true, nil
	}
	g, ok := t.store.guards[saleID]
	return g, ok, nil
}

func (t *memTx) PutRefundGuard(guard RefundGuard) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.guards[guard.SaleID] = guard
	return nil
}

func (t *memTx) Revocation(subject types.Hash) (RevocationRecord, bool, error) {
	if rec, ok := t.revocations[subject]; ok {
		return rec, true, nil
	}
	rec, ok := t.store.revocations[subject]
	return rec, ok, nil
}

func (t *memTx) PutRevocation(rec RevocationRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.revocations[rec.Subject] = rec
	return nil
}

func (t *memTx) Emit(evt events.Event) {
	if t.readOnly || evt == nil {
		return
	}
	t.events = append(t.events, evt)
}
