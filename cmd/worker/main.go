// The worker binary runs in two modes. Started normally it is the pool
// master: it spawns one worker process per core (a re-exec of itself),
// replaces crashed workers, and coordinates graceful shutdown. With
// WORKER_PROCESS=1 in the environment it is a pool worker consuming
// fulfillment jobs until the master says shutdown.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/shoplite/order-fulfillment/internal/catalog"
	"github.com/shoplite/order-fulfillment/internal/config"
	"github.com/shoplite/order-fulfillment/internal/fulfillment"
	"github.com/shoplite/order-fulfillment/internal/jobs"
	kafkax "github.com/shoplite/order-fulfillment/internal/kafka"
	"github.com/shoplite/order-fulfillment/internal/lockx"
	"github.com/shoplite/order-fulfillment/internal/loyalty"
	"github.com/shoplite/order-fulfillment/internal/notify"
	"github.com/shoplite/order-fulfillment/internal/orders"
	"github.com/shoplite/order-fulfillment/internal/postgres"
	"github.com/shoplite/order-fulfillment/internal/redisx"
	"github.com/shoplite/order-fulfillment/internal/scaling"
	"github.com/shoplite/order-fulfillment/internal/stock"
	"github.com/shoplite/order-fulfillment/internal/supervisor"
	"github.com/shoplite/order-fulfillment/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if os.Getenv(supervisor.WorkerEnv) == "1" {
		runWorker(cfg)
		return
	}
	runMaster(cfg)
}

func runMaster(cfg config.Config) {
	n := cfg.WorkerCount
	if n <= 0 {
		n = runtime.NumCPU()
	}

	sup := supervisor.New(cfg.DrainTimeout, supervisor.NewRestartLimiter(5, 30*time.Second))
	if err := sup.Start(n); err != nil {
		log.Fatalf("start worker pool: %v", err)
	}
	log.Printf("worker pool started: %d workers", n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	sampler := &scaling.Sampler{
		Requests: scaling.NewRedisRate(rdb),
		MemLimit: 1 << 30,
	}
	ctrl := &scaling.Controller{
		Pool:       sup,
		Sample:     sampler.Sample,
		CPUHigh:    80,
		MemHigh:    80,
		RPSHigh:    200,
		MinWorkers: n,
		MaxWorkers: 4 * n,
	}
	go ctrl.Run(ctx, 15*time.Second)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down worker pool...")
	cancel()
	sup.Shutdown()
	log.Println("worker pool stopped")
}

func runWorker(cfg config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.PGMaxConns))
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	notifProd := kafkax.NewProducer(cfg.KafkaBrokers, notify.Topic, 1024)
	notifProd.Start(ctx)

	// Error boundary for this goroutine's wiring: an uncaught panic stops the
	// consumers and flushes pending notifications through the same drain path
	// as a shutdown signal before exiting. Panics inside a job handler are
	// converted to errors by the runner and never reach here.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker panic: %v", r)
			cancel()
			notifProd.WaitClosed()
			os.Exit(1)
		}
	}()

	svc := &fulfillment.Service{
		Orders:  &orders.Repo{DB: db},
		Stock:   &stock.Ledger{DB: db},
		Loyalty: &loyalty.Ledger{DB: db},
		Catalog: &catalog.Repo{DB: db},
		Locks:   &lockx.Manager{Provider: &lockx.RedisProvider{RDB: rdb}, TTL: cfg.LockTTL},
		Notify:  &notify.Notifier{Producer: notifProd, Service: cfg.ServiceName + "-worker"},
		Cache:   &redisx.StatusCache{RDB: rdb},
	}
	runner := &worker.Runner{
		Exec:        svc,
		Log:         &jobs.Store{DB: db},
		MaxAttempts: cfg.JobMaxAttempts,
		BackoffBase: cfg.JobBackoffBase,
	}

	// Control channel from the master. EOF means the master is gone; treat
	// it the same as shutdown.
	go supervisor.WatchShutdown(os.Stdin, func() {
		log.Println("shutdown requested, draining...")
		cancel()
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range jobs.AllTypes {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, "fulfillment-workers", jobs.Topic(t))
		g.Go(func() error { return cons.Start(gctx, runner.Handle) })
	}
	log.Printf("worker %d consuming job topics", os.Getpid())
	if err := g.Wait(); err != nil {
		log.Printf("consumer exit: %v", err)
	}

	cancel() // in case a consumer error, not the shutdown message, ended the group
	notifProd.WaitClosed()
	log.Println("worker drained, exiting")
}
