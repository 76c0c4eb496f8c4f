package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shoplite/order-fulfillment/internal/catalog"
	"github.com/shoplite/order-fulfillment/internal/config"
	"github.com/shoplite/order-fulfillment/internal/fulfillment"
	"github.com/shoplite/order-fulfillment/internal/httpx"
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
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.PGMaxConns))
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// One producer per job topic plus the notification stream.
	producers := make(map[jobs.Type]*kafkax.Producer, len(jobs.AllTypes))
	for _, t := range jobs.AllTypes {
		p := kafkax.NewProducer(cfg.KafkaBrokers, jobs.Topic(t), 1024)
		p.Start(ctx)
		producers[t] = p
	}
	notifProd := kafkax.NewProducer(cfg.KafkaBrokers, notify.Topic, 1024)
	notifProd.Start(ctx)

	repo := &orders.Repo{DB: db}
	cat := &catalog.Repo{DB: db}
	points := &loyalty.Ledger{DB: db}
	svc := &fulfillment.Service{
		Orders:  repo,
		Stock:   &stock.Ledger{DB: db},
		Loyalty: points,
		Catalog: cat,
		Locks:   &lockx.Manager{Provider: &lockx.RedisProvider{RDB: rdb}, TTL: cfg.LockTTL},
		Notify:  &notify.Notifier{Producer: notifProd, Service: cfg.ServiceName},
		Cache:   &redisx.StatusCache{RDB: rdb},
	}

	router := httpx.NewRouter(scaling.NewRedisRate(rdb))
	oh := &httpx.OrdersHandler{
		Repo:      repo,
		Catalog:   cat,
		Loyalty:   points,
		Svc:       svc,
		Redis:     rdb,
		Producers: producers,
		Service:   cfg.ServiceName,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range producers {
		p.Close()
	}
	notifProd.Close()
	cancel()
	for _, p := range producers {
		p.WaitClosed()
	}
	notifProd.WaitClosed()
}
