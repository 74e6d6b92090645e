package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/config"
	"github.com/ksred/null-ledger/internal/database"
	"github.com/ksred/null-ledger/internal/escrow"
	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/observability"
	"github.com/ksred/null-ledger/internal/pool"
	"github.com/ksred/null-ledger/internal/relay"
	"github.com/ksred/null-ledger/internal/revocation"
	"github.com/ksred/null-ledger/internal/types"
	"github.com/ksred/null-ledger/pkg/middleware"
	"github.com/ksred/null-ledger/pkg/response"
)

// main loads configuration, wires the ledger and serves the operator API
// until SIGINT or SIGTERM.
func main() {
	path := os.Getenv("NULL_LEDGER_CONFIG")
	if path == "" {
		path = "config.toml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", path).Msg("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		zlog.Fatal().Err(err).Msg("Invalid config")
	}
	logCloser := config.SetupLogging(cfg)
	defer logCloser.Close()

	db, err := database.NewDatabase(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}
	store := database.NewStore(db)
	store.SetEmitter(events.LogEmitter{})

	roles, err := bootstrapRoles(context.Background(), cfg.Roles, store)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to bootstrap roles")
	}

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)
	for _, cred := range cfg.Auth.Credentials {
		principal, _ := types.ParseAddress(cred.Principal)
		tokens.RegisterAPICredentials(cred.APIKey, cred.APISecret, principal)
	}

	metrics := observability.Ledger()
	reserve := pool.NewPool(store, roles)
	registry := revocation.NewRegistry(store, roles)
	engine, err := escrow.NewEngine(store, roles, reserve, cfg.Fees)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize escrow engine")
	}
	engine.SetMetrics(metrics)
	reserve.SetMetrics(metrics)
	registry.SetMetrics(metrics)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	setupRoutes(router, tokens,
		auth.NewGinHandlers(tokens, roles),
		escrow.NewGinHandlers(engine),
		pool.NewGinHandlers(reserve),
		revocation.NewGinHandlers(registry),
		database.NewGinHandlers(store),
	)
	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := store.DB().DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		response.Handle(c, gin.H{"status": "ok"}, err)
	})
	if cfg.Server.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zlog.Info().Int("port", cfg.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Relay.Enabled {
		publisher, err := relay.NewRedisPublisher(ctx, relay.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to connect event relay")
		}
		defer publisher.Close()

		processor := relay.NewProcessor(store, publisher, cfg.Relay.Interval.Duration, cfg.Relay.BatchSize)
		processor.SetMetrics(metrics)
		g.Go(func() error { return processor.Start(gctx) })
	}

	if err := g.Wait(); err != nil {
		zlog.Error().Err(err).Msg("Server exited with error")
		return
	}
	zlog.Info().Msg("Server exiting")
}

// bootstrapRoles builds the role registry. Role changes journaled to the
// ledger are replayed first; the configured confirmers and issuers are granted
// only when the journal holds none, so changes made over the API survive a
// restart.
func bootstrapRoles(ctx context.Context, cfg config.RolesConfig, store *database.Store) (*auth.RoleRegistry, error) {
	owner, err := types.ParseAddress(cfg.Owner)
	if err != nil {
		return nil, err
	}
	roles := auth.NewRoleRegistry(owner)

	replayed := 0
	var after uint64
	for {
		batch, err := store.EventsSince(ctx, after, 500)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		n, err := roles.Replay(batch)
		if err != nil {
			return nil, err
		}
		replayed += n
		after = batch[len(batch)-1].Sequence
	}
	roles.SetJournal(store)
	if replayed > 0 {
		zlog.Info().Int("role_changes", replayed).Str("owner", roles.Owner().Hex()).Msg("Restored roles from ledger journal")
		return roles, nil
	}

	grant := func(addrs []string, role types.Role) error {
		for _, a := range addrs {
			principal, err := types.ParseAddress(a)
			if err != nil {
				return err
			}
			if err := roles.Grant(owner, principal, role); err != nil {
				return err
			}
		}
		return nil
	}
	if err := grant(cfg.Confirmers, types.RoleConfirmer); err != nil {
		return nil, err
	}
	if err := grant(cfg.Issuers, types.RoleIssuer); err != nil {
		return nil, err
	}
	return roles, nil
}

// setupRoutes configures all API endpoints. Token issuance is public; every
// other route requires a bearer token and is rate limited per principal.
// Role checks happen in the ledger core, not here.
func setupRoutes(
	router *gin.Engine,
	tokens middleware.TokenValidator,
	authHandlers *auth.GinHandlers,
	escrowHandlers *escrow.GinHandlers,
	poolHandlers *pool.GinHandlers,
	registryHandlers *revocation.GinHandlers,
	eventHandlers *database.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		public := v1.Group("/auth")
		public.Use(middleware.RateLimit())
		{
			public.POST("/token", authHandlers.GenerateTokenHandler())
		}

		api := v1.Group("")
		api.Use(middleware.JWTAuth(tokens), middleware.RateLimit())

		sales := api.Group("/escrow")
		{
			sales.POST("/sale-id", escrowHandlers.SaleIDHandler())
			sales.POST("/fund", escrowHandlers.FundHandler())
			sales.POST("/cancel", escrowHandlers.CancelHandler())
			sales.POST("/settle", escrowHandlers.SettleHandler())
			sales.POST("/refund", escrowHandlers.RefundHandler())
			sales.GET("/:sale_id", escrowHandlers.GetRecordHandler())
		}

		feeRoutes := api.Group("/fees")
		{
			feeRoutes.GET("", escrowHandlers.GetFeesHandler())
			feeRoutes.PUT("", escrowHandlers.SetFeesHandler())
		}

		wallets := api.Group("/wallets")
		{
			wallets.POST("/deposit", escrowHandlers.DepositHandler())
			wallets.POST("/withdraw", escrowHandlers.WithdrawHandler())
			wallets.GET("/:address", escrowHandlers.GetBalanceHandler())
		}

		reserve := api.Group("/pool")
		{
			reserve.GET("", poolHandlers.StatusHandler())
			reserve.POST("/fund", poolHandlers.FundHandler())
			reserve.POST("/sweep", poolHandlers.SweepHandler())
			reserve.GET("/refunds/:sale_id", poolHandlers.RefundStatusHandler())
		}

		registry := api.Group("/registry")
		{
			registry.POST("/revoke", registryHandlers.RevokeHandler())
			registry.POST("/emergency-revoke", registryHandlers.EmergencyRevokeHandler())
			registry.GET("/:subject", registryHandlers.GetRevocationHandler())
		}

		roleRoutes := api.Group("/roles")
		{
			roleRoutes.POST("/grant", authHandlers.GrantRoleHandler())
			roleRoutes.POST("/revoke", authHandlers.RevokeRoleHandler())
			roleRoutes.POST("/owner", authHandlers.TransferOwnershipHandler())
			roleRoutes.GET("/:role", authHandlers.ListRoleHandler())
		}

		api.GET("/events", eventHandlers.EventsHandler())
	}
}
