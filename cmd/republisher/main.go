package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/erickfmfg/Supercarros-Republisher/internal/analytics"
	"github.com/erickfmfg/Supercarros-Republisher/internal/api"
	"github.com/erickfmfg/Supercarros-Republisher/internal/circuitbreaker"
	"github.com/erickfmfg/Supercarros-Republisher/internal/config"
	"github.com/erickfmfg/Supercarros-Republisher/internal/dispatcher"
	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
	"github.com/erickfmfg/Supercarros-Republisher/internal/executor"
	"github.com/erickfmfg/Supercarros-Republisher/internal/history"
	"github.com/erickfmfg/Supercarros-Republisher/internal/leaderelection"
	"github.com/erickfmfg/Supercarros-Republisher/internal/metrics"
	"github.com/erickfmfg/Supercarros-Republisher/internal/reconciler"
	"github.com/erickfmfg/Supercarros-Republisher/internal/republish"
	"github.com/erickfmfg/Supercarros-Republisher/internal/schedules"
	"github.com/erickfmfg/Supercarros-Republisher/internal/store/postgres"
	"github.com/erickfmfg/Supercarros-Republisher/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`republisher - vehicle listing republish scheduler

Usage:
  republisher <command>

Commands:
  serve      Start the scheduler, executor and HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REPUBLISH_URL             Republish action endpoint (required)
  REPUBLISH_SECRET          HMAC secret for request signing (optional)
  REPUBLISH_RATE            Max republish requests per minute (default: "60")
  REDIS_ADDR                Redis address for analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  TIMEZONE                  IANA zone for schedule times (default: "UTC")

  TICK_INTERVAL             Dispatcher tick interval (default: "30s")
  MAX_CONFLICT_TICKS        Conflicted ticks before skipping (default: "10", 0 = never)
  BRAND_TIMEOUT             Per-brand republish timeout (default: "5m")
  MANUAL_RUN_LIMIT          Max concurrent manual runs (default: "4")
  EXECUTOR_DRAIN_TIMEOUT    Shutdown wait for in-flight runs (default: "30s")
  EVENTBUS_BUFFER_SIZE      Run event buffer size (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Failures before a brand is skipped (default: "5", 0 = off)
  CIRCUIT_BREAKER_COOLDOWN  Open-circuit cooldown (default: "2m")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  RECONCILE_ENABLED         Enable stale run reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for stale runs (default: "5m")
  RECONCILE_THRESHOLD       Age before a running row is abandoned (default: "2h")
  RECONCILE_BATCH_SIZE      Max stale runs per cycle (default: "100")

  LEADER_ENABLED            Gate dispatcher behind leader election (default: "false")
  LEADER_LOCK_KEY           Advisory lock key shared by all instances
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection heartbeat (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid timezone: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("republisher: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db)
	scheduleSvc := schedules.New(store, loc)
	ledger := history.New(store)
	republishClient := republish.NewClient(republish.Config{
		URL:               cfg.RepublishURL,
		Secret:            cfg.RepublishSecret,
		RequestsPerMinute: cfg.RepublishRate,
	})

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("republisher: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("republisher: METRICS_ENABLED not set; metrics disabled")
	}

	bus := channel.NewEventBus(cfg.EventBusBufferSize)
	if metricsSink != nil {
		bus = bus.WithMetrics(metricsSink)
	}

	exec := executor.New(
		executor.Config{
			BrandTimeout:   cfg.BrandTimeout,
			ManualRunLimit: cfg.ManualRunLimit,
		},
		store,
		republishClient,
		ledger,
		scheduleSvc,
	).WithEmitter(bus)

	if cfg.CircuitBreakerThreshold > 0 {
		exec = exec.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("republisher: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	} else {
		log.Println("republisher: CIRCUIT_BREAKER_THRESHOLD=0; circuit breaker disabled")
	}
	if metricsSink != nil {
		exec = exec.WithMetrics(metricsSink)
	}

	disp := dispatcher.New(
		dispatcher.Config{
			TickInterval:     cfg.TickInterval,
			MaxConflictTicks: cfg.MaxConflictTicks,
		},
		scheduleSvc,
		exec,
	)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			ledger,
		).WithActiveCheck(func(id uuid.UUID) bool {
			p, ok := exec.Progress(id)
			return ok && p.Status == domain.RunStatusRunning
		})
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
		log.Printf("republisher: reconciler enabled (interval=%s, threshold=%s, batch=%d)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.ReconcileBatchSize)
	} else {
		log.Println("republisher: RECONCILE_ENABLED not set; reconciler disabled")
	}

	// Wire analytics if Redis is configured. The recorder is the bus consumer;
	// without it run events are dropped once the buffer fills, which is fine.
	var redisClient *redis.Client
	var recorder *analytics.Recorder
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		recorder = analytics.NewRecorder(bus.Channel(), analytics.NewRedisSink(redisClient, analytics.Config{}))
		log.Printf("republisher: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("republisher: REDIS_ADDR not set; analytics disabled")
	}

	apiHandler := api.NewHandler(scheduleSvc, exec, ledger, store).WithHealthChecker(db)

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("republisher: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("republisher: http server error: %v", err)
		}
	}()

	// The dispatcher and reconciler are leader duties: with several instances
	// on one database only the lock holder may drive scheduled republication.
	// Manual runs via the API stay available on every instance.
	dutiesCtx, cancelDuties := context.WithCancel(context.Background())
	var dutiesWg sync.WaitGroup

	startDuties := func(ctx context.Context) {
		dutiesWg.Add(1)
		go func() {
			defer dutiesWg.Done()
			disp.Run(ctx)
		}()
		if recon != nil {
			dutiesWg.Add(1)
			go func() {
				defer dutiesWg.Done()
				recon.Run(ctx)
			}()
		}
	}

	var elector *leaderelection.Elector
	if cfg.LeaderEnabled {
		lockKey := cfg.LeaderLockKey
		if lockKey == 0 {
			lockKey = leaderelection.DefaultLockKey
		}
		elector = leaderelection.New(
			db,
			lockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			startDuties,
			func() { dutiesWg.Wait() },
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}
		log.Printf("republisher: leader election enabled (lock_key=%d)", lockKey)
	} else {
		log.Println("republisher: LEADER_ENABLED not set; running as sole instance")
	}
	waitDuties := runLeaderDuties(dutiesCtx, &dutiesWg, startDuties, elector)

	recorderCtx, cancelRecorder := context.WithCancel(context.Background())
	var recorderWg sync.WaitGroup
	if recorder != nil {
		recorderWg.Add(1)
		go func() {
			defer recorderWg.Done()
			recorder.Run(recorderCtx)
		}()
	}

	log.Printf("republisher: started (tick=%s, http=%s, tz=%s)", cfg.TickInterval, cfg.HTTPAddr, cfg.Timezone)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("republisher: received signal %v, shutting down", received)

	// Phase 1: Stop the dispatcher (and reconciler) so no new scheduled runs start.
	log.Println("republisher: stopping dispatcher...")
	cancelDuties()
	waitDuties()
	log.Println("republisher: dispatcher stopped")

	// Phase 2: Stop the HTTP server so no new manual runs arrive.
	log.Println("republisher: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("republisher: http server shutdown error: %v", err)
	}
	log.Println("republisher: http server stopped")

	// Phase 3: Abort in-flight runs and wait for their terminal writes.
	log.Println("republisher: draining executor...")
	exec.Shutdown(cfg.ExecutorDrainTimeout)
	log.Println("republisher: executor drained")

	// Phase 4: Stop the analytics recorder; it drains buffered events first.
	if recorder != nil {
		log.Println("republisher: stopping analytics recorder...")
		cancelRecorder()
		recorderWg.Wait()
		if err := redisClient.Close(); err != nil {
			log.Printf("republisher: redis close error: %v", err)
		}
		log.Println("republisher: analytics recorder stopped")
	} else {
		cancelRecorder()
	}

	log.Println("republisher: stopped")
	return exitSuccess
}

// runLeaderDuties starts the leader duties, directly when elector is nil or
// gated behind the election loop otherwise. The returned wait function blocks
// until every goroutine involved has exited; call it after cancelling ctx.
//
// The elector goroutine gets its own WaitGroup. Its demotion callback blocks
// on dutiesWg until the duties drain, and the elector invokes that callback
// from inside its own goroutine; an elector counted in dutiesWg would wait
// on itself and never exit.
func runLeaderDuties(ctx context.Context, dutiesWg *sync.WaitGroup, startDuties func(context.Context), elector *leaderelection.Elector) (wait func()) {
	if elector == nil {
		startDuties(ctx)
		return dutiesWg.Wait
	}

	var electorWg sync.WaitGroup
	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(ctx)
	}()
	return func() {
		electorWg.Wait()
		dutiesWg.Wait()
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("republisher version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
