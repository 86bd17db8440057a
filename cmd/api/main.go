package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/nivgold/parkswap/internal/api"
	"github.com/nivgold/parkswap/internal/config"
	"github.com/nivgold/parkswap/internal/events"
	"github.com/nivgold/parkswap/internal/geo"
	"github.com/nivgold/parkswap/internal/ledger"
	"github.com/nivgold/parkswap/internal/service"
	"github.com/nivgold/parkswap/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := store.NewPool(ctx, cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbPool.Close()

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := cache.Ping(ctx).Err(); err != nil {
			log.Printf("WARN redis unreachable at %s, geocode caching disabled: %v", cfg.RedisAddr, err)
			cache = nil
		}
	}

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.ServiceName, 256)
	publisher.Start(ctx)

	wallet := ledger.New(ledger.Config{
		BaseURL:   cfg.LedgerBaseURL,
		AccessKey: cfg.LedgerAccessKey,
		SecretKey: cfg.LedgerSecretKey,
		Timeout:   cfg.LedgerTimeout,
	})

	pins := &store.PinStore{DB: dbPool}
	transfers := &store.TransferRequestStore{DB: dbPool}
	txlog := &store.TransactionLog{DB: dbPool}
	users := &store.UserStore{DB: dbPool}

	geocoder := geo.NewGeocoder(cfg.GeoBaseURL, cache)

	reservations := service.NewReservations(service.Deps{
		Pins:        pins,
		Transfers:   transfers,
		TxLog:       txlog,
		Users:       users,
		Wallet:      wallet,
		Events:      publisher,
		Fee:         cfg.ReservationFee,
		PlatformFee: cfg.PlatformFee,
		Currency:    cfg.Currency,
		Expiry:      cfg.RequestExpiry,
	})
	notifications := service.NewNotifications(transfers, geocoder)
	wallets := service.NewWallets(users, txlog, wallet, cfg.Currency)

	go reservations.RunSweeper(ctx, cfg.SweepInterval)

	handler := api.NewHandler(reservations, notifications, wallets, geocoder, api.NewAuthClient(cfg.AuthBaseURL))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	publisher.WaitClosed()
}
