package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/escrow"
	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/fees"
	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/pool"
	"github.com/ksred/null-ledger/internal/revocation"
	"github.com/ksred/null-ledger/internal/types"
)

const (
	minOrders  = 50
	maxOrders  = 400
	numWorkers = 8
)

var (
	owner     = types.Address{0x01}
	confirmer = types.Address{0x02}
	issuer    = types.Address{0x03}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// opStats tracks latency for one ledger operation
type opStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (s *opStats) record(started time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, time.Since(started))
	s.totalCalls++
	if err != nil {
		s.failures++
	}
}

// calculate returns min, max, mean, median and 95th/99th percentile durations
func (s *opStats) calculate() (lo, hi, mean, median, p95, p99 time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(s.durations, func(i, j int) bool {
		return s.durations[i] < s.durations[j]
	})

	lo = s.durations[0]
	hi = s.durations[len(s.durations)-1]

	var sum time.Duration
	for _, d := range s.durations {
		sum += d
	}
	mean = sum / time.Duration(len(s.durations))
	median = s.durations[len(s.durations)/2]

	p95idx := int(math.Ceil(float64(len(s.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(s.durations))*0.99)) - 1
	p95 = s.durations[p95idx]
	p99 = s.durations[p99idx]
	return
}

// simulation drives the ledger core in-process with a controllable clock
type simulation struct {
	engine   *escrow.Engine
	pool     *pool.Pool
	registry *revocation.Registry
	store    *ledger.MemoryStore
	events   *events.Recorder

	clockMu sync.RWMutex
	now     time.Time

	stats map[string]*opStats

	mintedMu sync.Mutex
	minted   types.Amount
}

func newSimulation() (*simulation, error) {
	roles := auth.NewRoleRegistry(owner)
	if err := roles.Grant(owner, confirmer, types.RoleConfirmer); err != nil {
		return nil, err
	}
	if err := roles.Grant(owner, issuer, types.RoleIssuer); err != nil {
		return nil, err
	}

	store := ledger.NewMemoryStore()
	recorder := &events.Recorder{}
	store.SetEmitter(recorder)

	reserve := pool.NewPool(store, roles)
	engine, err := escrow.NewEngine(store, roles, reserve, fees.Schedule{ProtocolBps: 769, ProtectionBps: 50})
	if err != nil {
		return nil, err
	}

	sim := &simulation{
		engine:   engine,
		pool:     reserve,
		registry: revocation.NewRegistry(store, roles),
		store:    store,
		events:   recorder,
		now:      time.Now().UTC().Truncate(time.Second),
		stats: map[string]*opStats{
			"deposit": {name: "Deposit"},
			"fund":    {name: "Fund"},
			"settle":  {name: "Confirm & Settle"},
			"cancel":  {name: "Cancel"},
			"revoke":  {name: "Revoke"},
			"refund":  {name: "Refund From Pool"},
		},
	}
	engine.SetNowFunc(sim.clock)
	return sim, nil
}

func (s *simulation) clock() time.Time {
	s.clockMu.RLock()
	defer s.clockMu.RUnlock()
	return s.now
}

func (s *simulation) advance(d time.Duration) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.now = s.now.Add(d)
}

func (s *simulation) mint(ctx context.Context, to types.Address, amount types.Amount) error {
	started := time.Now()
	err := s.engine.Deposit(ctx, owner, to, amount)
	s.stats["deposit"].record(started, err)
	if err == nil {
		s.mintedMu.Lock()
		s.minted = s.minted.Add(amount)
		s.mintedMu.Unlock()
	}
	return err
}

// outcome is what the simulation does with a funded order
type outcome int

const (
	settle outcome = iota
	expire
	settleThenRefund
)

type sale struct {
	order   escrow.Order
	outcome outcome
}

func randomAddress() types.Address {
	id := uuid.New()
	return common.BytesToAddress(ethcrypto.Keccak256(id[:]))
}

func (s *simulation) newSale(rng *rand.Rand) sale {
	subject := uuid.New()
	order := escrow.Order{
		Subject: ethcrypto.Keccak256Hash(subject[:]),
		Seller:  randomAddress(),
		Buyer:   randomAddress(),
		Price:   types.NewAmount(uint64(rng.Int63n(5_000_000_000_000_000_000) + 1)),
		Expiry:  s.clock().Add(time.Hour).Unix(),
		CapPct:  uint32(100 + rng.Intn(50)),
	}
	o := outcome(rng.Intn(10))
	switch {
	case o < 6:
		o = settle
	case o < 8:
		o = expire
	default:
		o = settleThenRefund
	}
	return sale{order: order, outcome: o}
}

func (s *simulation) fund(ctx context.Context, sl sale) error {
	if err := s.mint(ctx, sl.order.Buyer, sl.order.Price); err != nil {
		return err
	}
	started := time.Now()
	_, err := s.engine.Fund(ctx, sl.order.Buyer, sl.order, sl.order.Price)
	s.stats["fund"].record(started, err)
	if err != nil {
		return err
	}

	// A replayed funding must always be rejected.
	if _, err := s.engine.Fund(ctx, sl.order.Buyer, sl.order, sl.order.Price); !errors.Is(err, types.ErrDuplicateOrder) {
		return fmt.Errorf("duplicate funding of %s not rejected: %v", sl.order.SaleID().Hex(), err)
	}
	return nil
}

func (s *simulation) resolve(ctx context.Context, sl sale) error {
	switch sl.outcome {
	case expire:
		started := time.Now()
		_, err := s.engine.Cancel(ctx, sl.order.Buyer, sl.order)
		s.stats["cancel"].record(started, err)
		return err
	case settle, settleThenRefund:
		started := time.Now()
		_, err := s.engine.ConfirmAndSettle(ctx, confirmer, sl.order, "sim://"+uuid.NewString())
		s.stats["settle"].record(started, err)
		if err != nil || sl.outcome == settle {
			return err
		}

		started = time.Now()
		_, err = s.registry.Revoke(ctx, sl.order.Subject, revocation.ReasonFraud, issuer)
		s.stats["revoke"].record(started, err)
		if err != nil {
			return err
		}

		started = time.Now()
		_, err = s.engine.RefundFromPool(ctx, confirmer, sl.order, revocation.ReasonFraud)
		s.stats["refund"].record(started, err)
		if errors.Is(err, types.ErrInsufficientPoolBalance) {
			// Expected once the reserve runs dry; the sale stays settled.
			return nil
		}
		return err
	}
	return nil
}

// checkConservation verifies that every minted unit is held by exactly one
// account and that no escrow account still holds funds.
func (s *simulation) checkConservation(ctx context.Context) error {
	bals, err := ledger.Balances(ctx, s.store)
	if err != nil {
		return err
	}
	var total types.Amount
	for acct, bal := range bals {
		if acct.IsEscrow() {
			return fmt.Errorf("escrow account %s still holds %s", acct, bal)
		}
		total = total.Add(bal)
	}
	if !total.Eq(s.minted) {
		return fmt.Errorf("ledger holds %s, minted %s", total, s.minted)
	}
	return nil
}

func (s *simulation) printPerformanceStats() {
	fmt.Println("\nLedger Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Operation", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	keys := []string{"deposit", "fund", "settle", "cancel", "revoke", "refund"}
	for _, k := range keys {
		stats := s.stats[k]
		lo, hi, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			lo.Round(time.Microsecond),
			hi.Round(time.Microsecond),
			mean.Round(time.Microsecond),
			median.Round(time.Microsecond),
			p95.Round(time.Microsecond),
			p99.Round(time.Microsecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// runConcurrently fans sales out over numWorkers goroutines.
func runConcurrently(ctx context.Context, sales []sale, fn func(context.Context, sale) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for _, sl := range sales {
		g.Go(func() error { return fn(gctx, sl) })
	}
	return g.Wait()
}

// main runs the escrow simulation: fund many orders concurrently, let some
// expire, settle the rest and refund a share of settled sales from the pool.
func main() {
	ctx := context.Background()
	runID := uuid.New()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	sim, err := newSimulation()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation")
	}

	targetOrders := rng.Intn(maxOrders-minOrders) + minOrders
	log.Warn().Str("run_id", runID.String()).Int("target_orders", targetOrders).Msg("Starting simulation")

	// The owner deposits the reserve seed and moves it into the pool.
	seed := types.MustParseAmount("20000000000000000000")
	if err := sim.mint(ctx, owner, seed); err != nil {
		log.Fatal().Err(err).Msg("Failed to mint protection pool seed")
	}
	if err := sim.pool.Fund(ctx, owner, seed); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed protection pool")
	}

	sales := make([]sale, targetOrders)
	for i := range sales {
		sales[i] = sim.newSale(rng)
	}

	started := time.Now()
	if err := runConcurrently(ctx, sales, sim.fund); err != nil {
		log.Fatal().Err(err).Msg("Funding phase failed")
	}

	sim.advance(2 * time.Hour)
	if err := runConcurrently(ctx, sales, sim.resolve); err != nil {
		log.Fatal().Err(err).Msg("Resolution phase failed")
	}
	elapsed := time.Since(started)

	if err := sim.checkConservation(ctx); err != nil {
		log.Fatal().Err(err).Msg("Conservation check failed")
	}

	counts := make(map[string]int)
	for _, typ := range sim.events.Types() {
		counts[typ]++
	}
	poolBal, _ := sim.pool.Balance(ctx)
	log.Warn().
		Str("run_id", runID.String()).
		Int("orders", targetOrders).
		Int("settled", counts[events.TypeSettled]).
		Int("cancelled", counts[events.TypeCancelled]).
		Int("refunded", counts[events.TypeRefunded]).
		Str("pool_balance", poolBal.String()).
		Dur("elapsed", elapsed).
		Msg("Simulation complete, value conserved")

	sim.printPerformanceStats()
}
