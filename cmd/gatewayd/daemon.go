package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgefaas/edgefaas/internal/auth"
	"github.com/edgefaas/edgefaas/internal/cache"
	"github.com/edgefaas/edgefaas/internal/circuitbreaker"
	"github.com/edgefaas/edgefaas/internal/config"
	"github.com/edgefaas/edgefaas/internal/gatewayhttp"
	"github.com/edgefaas/edgefaas/internal/hostcache"
	"github.com/edgefaas/edgefaas/internal/invoker"
	"github.com/edgefaas/edgefaas/internal/janitor"
	"github.com/edgefaas/edgefaas/internal/logging"
	"github.com/edgefaas/edgefaas/internal/metrics"
	"github.com/edgefaas/edgefaas/internal/observability"
	"github.com/edgefaas/edgefaas/internal/orchestrator"
	"github.com/edgefaas/edgefaas/internal/pool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func daemonCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the Gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)
			if cmd.Flags().Changed("listen") {
				cfg.Daemon.HTTPAddr = listenAddr
			}

			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
			metrics.InitPrometheus("edgefaas", nil)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Tracing.Enabled,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: cfg.Tracing.ServiceName,
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			routes, err := config.LoadRoutesFile(cfg.RoutesFile)
			if err != nil {
				return fmt.Errorf("load routes file: %w", err)
			}
			functions, err := config.LoadFunctionsFile(cfg.FunctionsFile)
			if err != nil {
				return fmt.Errorf("load functions file: %w", err)
			}

			l2 := buildL2Cache(cfg.Cache)
			hc := hostcache.New(cfg.Cache.Size, cfg.Cache.TTL, hostcacheOptions(l2)...)

			perFunc := make(map[string]pool.Config)
			for _, name := range functions.Names() {
				if fc, _ := functions.Get(name); fc.MaxReplicas > 0 {
					perFunc[name] = pool.Config{MaxCapacity: fc.MaxReplicas, AcquireTimeout: cfg.Pool.AcquireTimeout}
				}
			}
			poolMgr := pool.NewManager(pool.Config{
				MaxCapacity:    cfg.Pool.Max,
				AcquireTimeout: cfg.Pool.AcquireTimeout,
			}, perFunc)

			orchClient := orchestrator.NewClient(cfg.Orchestrator.URL, cfg.Orchestrator.Timeout)
			adoptExistingWorkers(context.Background(), orchClient, poolMgr)

			breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
				FailureThreshold: cfg.Breaker.FailureThreshold,
				RecoveryWindow:   cfg.Breaker.RecoveryWindow,
			})

			inv := invoker.New(invoker.Config{RIETimeout: cfg.Orchestrator.Timeout}, functions, poolMgr, orchClient.ProvisionFuncFor, breakers, hc)

			j := janitor.New(janitor.Config{
				Interval:    cfg.Janitor.HeartbeatInterval,
				IdleTimeout: cfg.Pool.IdleTimeout,
			}, poolMgr, orchClient)
			j.Start(context.Background())
			defer j.Stop()

			jwtIssuer, err := auth.NewJWTIssuer(auth.JWTConfig{
				Algorithm: cfg.Auth.JWT.Algorithm,
				Secret:    cfg.Auth.JWT.Secret,
				Issuer:    cfg.Auth.JWT.Issuer,
				TTL:       cfg.Auth.JWT.TTL,
			})
			if err != nil {
				return fmt.Errorf("build jwt issuer: %w", err)
			}
			jwtAuthenticator, err := auth.NewJWTAuthenticator(auth.JWTConfig{
				Algorithm: cfg.Auth.JWT.Algorithm,
				Secret:    cfg.Auth.JWT.Secret,
				Issuer:    cfg.Auth.JWT.Issuer,
			})
			if err != nil {
				return fmt.Errorf("build jwt authenticator: %w", err)
			}

			authenticators := []auth.Authenticator{jwtAuthenticator}
			if cfg.Auth.APIKey != "" {
				var redisClient *redis.Client
				if cfg.Cache.RedisAddr != "" {
					redisClient = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
				}
				authenticators = append(authenticators, auth.NewAPIKeyAuthenticator(auth.APIKeyAuthConfig{
					Redis:      redisClient,
					StaticKeys: []auth.StaticKeyConfig{{Name: "default", Key: cfg.Auth.APIKey, Tier: "default"}},
				}))
			}

			handler := gatewayhttp.NewHandler(gatewayhttp.Config{
				AuthUser:    cfg.Auth.User,
				AuthPass:    cfg.Auth.Pass,
				APIKey:      cfg.Auth.APIKey,
				PublicPaths: cfg.Auth.PublicPaths,
			}, routes, inv, jwtIssuer, authenticators)

			httpServer := &http.Server{
				Addr:    cfg.Daemon.HTTPAddr,
				Handler: handler.Mux(),
			}

			go func() {
				logging.Op().Info("gateway listening", "addr", cfg.Daemon.HTTPAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("gateway http server error", "error", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	return cmd
}

// adoptExistingWorkers re-absorbs worker containers that survived a gateway
// restart instead of leaving them orphaned for the Orchestrator's own grace
// period to eventually reap. A List failure is non-fatal: the gateway starts
// cold and the first invocation of each function simply provisions fresh.
func adoptExistingWorkers(ctx context.Context, orchClient *orchestrator.Client, poolMgr *pool.Manager) {
	workers, err := orchClient.List(ctx)
	if err != nil {
		logging.Op().Warn("startup adoption: failed to list orchestrator workers, starting cold", "error", err)
		return
	}
	for _, w := range workers {
		poolMgr.Adopt(w.Function, w)
	}
	if len(workers) > 0 {
		logging.Op().Info("adopted workers surviving a previous gateway instance", "count", len(workers))
	}
}

// buildL2Cache builds the HostCache's optional distributed L2 tier. With no
// Redis address configured, a single-replica deployment gets a bare
// InMemoryCache L2 — redundant with HostCache's own L1 in isolation, but it
// gives every Gateway instance the same WithL2 code path to exercise whether
// or not Redis is present. With Redis configured, an InMemoryCache is
// layered in front of it via TieredCache; every Set and Delete still reaches
// Redis, and HostCache never reads its L2 back.
func buildL2Cache(cfg config.CacheConfig) cache.Cache {
	if cfg.RedisAddr == "" {
		return cache.NewInMemoryCache()
	}
	redis := cache.NewRedisCache(cache.RedisCacheConfig{Addr: cfg.RedisAddr, KeyPrefix: "edgefaas:hostcache:"})
	return cache.NewTieredCache(cache.NewInMemoryCache(), redis, 2*time.Second)
}

func hostcacheOptions(l2 cache.Cache) []hostcache.Option {
	return []hostcache.Option{hostcache.WithL2(l2, "edgefaas:hostcache:")}
}
