package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/audit"
	"github.com/raakeshmj/campusguard/internal/auth"
	"github.com/raakeshmj/campusguard/internal/circuitbreaker"
	"github.com/raakeshmj/campusguard/internal/config"
	"github.com/raakeshmj/campusguard/internal/consent"
	"github.com/raakeshmj/campusguard/internal/device"
	"github.com/raakeshmj/campusguard/internal/fieldcrypt"
	"github.com/raakeshmj/campusguard/internal/firewall"
	"github.com/raakeshmj/campusguard/internal/limiter"
	"github.com/raakeshmj/campusguard/internal/logging"
	"github.com/raakeshmj/campusguard/internal/masking"
	"github.com/raakeshmj/campusguard/internal/metrics"
	"github.com/raakeshmj/campusguard/internal/repository"
	"github.com/raakeshmj/campusguard/internal/repository/memory"
	"github.com/raakeshmj/campusguard/internal/repository/postgres"
	"github.com/raakeshmj/campusguard/internal/server"
	"github.com/raakeshmj/campusguard/internal/service"
)

func main() {
	configPath := flag.String("config", "config/app.yaml", "path to the service config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

type repositories interface {
	repository.RelationshipRepository
	repository.ConsentRepository
	repository.DeviceRepository
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()
	var checks []server.Check

	// Rate store: Redis when reachable, otherwise per-process memory.
	var store limiter.Store
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, using in-memory rate store", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		store = limiter.NewMemoryStore()
		rdb.Close()
	} else {
		defer rdb.Close()
		store = limiter.NewRedisStore(rdb)
		checks = append(checks, server.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	// Persistence: Postgres when configured, otherwise memory repos and stdout audit.
	var repo repositories
	var sink audit.Sink = audit.NewJSONSink(os.Stdout)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		pg := postgres.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, audit.Schema); err != nil {
			return fmt.Errorf("migrate audit tables: %w", err)
		}
		repo = pg
		breaker := circuitbreaker.New(store, 5, 30*time.Second)
		sink = audit.NewGuardedSink(audit.NewPostgresSink(pool), sink, breaker, log)
		checks = append(checks, server.Check{Name: "postgres", Ping: pool.Ping})
	} else {
		log.Warn("DATABASE_URL not set, using in-memory repositories")
		repo = memory.New()
	}
	recorder := audit.NewRecorder(sink, log)

	// Firewall configuration with hot reload.
	fwCfg, err := config.LoadFirewall(cfg.FirewallFile)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(cfg.FirewallFile)
	if statErr != nil {
		fwCfg.Environment = cfg.Environment
	}
	mgr := config.NewManager(fwCfg, log)
	if statErr == nil {
		config.Watch(cfg.FirewallFile, mgr)
	}

	collector := metrics.NewCollector(1000)
	fingerprinter := device.NewFingerprinter(nil)
	throttle := limiter.NewLoginThrottle(store, mgr)

	registry := firewall.NewRegistry(firewall.Deps{
		Store:         store,
		Throttle:      throttle,
		Geo:           firewall.NewHeaderGeoResolver(time.Hour),
		Fingerprinter: fingerprinter,
	}, log)
	pipeline := firewall.NewPipeline(mgr, registry, recorder, log, firewall.WithObserver(collector))

	crypto, err := fieldcrypt.NewEngine([]byte(cfg.MasterKey), fieldcrypt.Options{
		Environment:      cfg.Environment,
		Fields:           fwCfg.Crypto.Fields,
		LastRotation:     cfg.KeyRotatedAt,
		RotationInterval: time.Duration(fwCfg.Crypto.RotationDays) * 24 * time.Hour,
	})
	if err != nil {
		return err
	}
	if crypto.NeedsRotation(time.Now()) {
		log.Warn("field encryption master key is due for rotation")
	}

	assessor, err := device.NewAssessor(nil)
	if err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Config:   cfg,
		Firewall: mgr,
		Pipeline: pipeline,
		JWT:      auth.NewJWTManager(cfg.JWTSecret, time.Hour),
		Crypto:   crypto,
		Masking:  masking.NewEngine(nil, nil),
		Consent:  consent.NewGate(repo, repo, recorder, log),
		Devices:  service.NewDeviceService(repo, throttle, fingerprinter, assessor, recorder),
		Recorder: recorder,
		Metrics:  collector,
		Checks:   checks,
		Log:      log,
	})
	return srv.Start()
}
