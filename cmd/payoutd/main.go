package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/payoutd/internal/ledger"
	"github.com/terminal-bench/payoutd/internal/payments"
	"github.com/terminal-bench/payoutd/internal/payout"
	"github.com/terminal-bench/payoutd/internal/pipeline"
	"github.com/terminal-bench/payoutd/internal/store"
	"github.com/terminal-bench/payoutd/pkg/leaselock"
	"github.com/terminal-bench/payoutd/pkg/messaging"
)

// storeBackend is everything the daemon needs from a store implementation.
type storeBackend interface {
	pipeline.Store
	payments.Store
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	dbURL := os.Getenv("DATABASE_URL")
	natsURL := os.Getenv("NATS_URL")
	redisURL := os.Getenv("REDIS_URL")
	ledgerURL := os.Getenv("LEDGER_URL")
	fundingAddress := os.Getenv("FUNDING_ADDRESS")
	fundingSecret := os.Getenv("FUNDING_SECRET")
	maxInFlight := envInt("MAX_IN_FLIGHT", pipeline.DefaultMaxInFlight)
	pollInterval := time.Duration(envInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond

	if ledgerURL == "" || fundingAddress == "" || fundingSecret == "" {
		log.Fatal("LEDGER_URL, FUNDING_ADDRESS and FUNDING_SECRET are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var backend storeBackend
	if dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			log.WithError(err).Fatal("failed to open database")
		}
		defer db.Close()
		pg := store.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.WithError(err).Fatal("failed to ensure schema")
		}
		backend = pg
	} else {
		log.Warn("DATABASE_URL not set, using volatile in-memory store")
		backend = store.NewMemory()
	}

	var (
		pipelineEvents pipeline.Events = pipeline.NopEvents{}
		paymentEvents  payments.Events = payments.NopEvents{}
	)
	if natsURL != "" {
		natsClient, err := messaging.NewClient(natsURL, messaging.ClientOptions{
			Name:          "payoutd",
			ReconnectWait: time.Second,
			MaxReconnects: 10,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to connect to NATS")
		}
		defer natsClient.Close()
		publisher := messaging.NewPublisher(natsClient, log)
		pipelineEvents = publisher
		paymentEvents = publisher
	}

	ledgerClient := ledger.NewHTTPClient(ledger.HTTPClientConfig{
		BaseURL: ledgerURL,
		Logger:  log,
	})

	signer := pipeline.NewSigner(backend, pipelineEvents, fundingAddress, fundingSecret)
	submitter := pipeline.NewSubmitter(backend, ledgerClient, pipelineEvents, log)
	driver := pipeline.NewDriver(pipeline.DriverConfig{
		Store:          backend,
		Client:         ledgerClient,
		Signer:         signer,
		Submitter:      submitter,
		Events:         pipelineEvents,
		Logger:         log,
		FundingAddress: fundingAddress,
		MaxInFlight:    maxInFlight,
	})

	service := payments.NewService(backend, paymentEvents, log)

	group, ctx := errgroup.WithContext(ctx)

	// one driver per funding account: hold a lease before ticking
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.WithError(err).Fatal("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		lease, err := leaselock.Acquire(ctx, rdb, "payoutd:driver:"+fundingAddress, 15*time.Second)
		if err != nil {
			log.WithError(err).Fatal("failed to acquire driver lease")
		}
		defer lease.Release(context.Background())
		group.Go(func() error {
			err := lease.Keep(ctx)
			if errors.Is(err, leaselock.ErrLost) {
				log.Error("driver lease lost, shutting down")
				return err
			}
			return nil
		})
	} else {
		log.Warn("REDIS_URL not set, single-driver lease disabled")
	}

	group.Go(func() error {
		driver.Run(ctx, pollInterval)
		return nil
	})

	router := gin.Default()
	registerRoutes(router, service, driver)

	srv := &http.Server{Addr: ":" + port, Handler: router}
	group.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	group.Go(func() error {
		select {
		case <-quit:
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	log.WithField("port", port).Info("payoutd started")
	if err := group.Wait(); err != nil {
		log.WithError(err).Fatal("payoutd stopped")
	}
}

func registerRoutes(router *gin.Engine, service *payments.Service, driver *pipeline.Driver) {
	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "healthy"}
		if err := driver.FatalError(); err != nil {
			status["status"] = "wedged"
			status["fatal"] = err.Error()
		}
		c.JSON(http.StatusOK, status)
	})

	router.POST("/api/v1/payouts", func(c *gin.Context) {
		var req payments.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		created, err := service.Create(c.Request.Context(), req)
		if err != nil {
			var ve *payout.ValidationError
			if errors.As(err, &ve) {
				c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, created)
	})

	router.GET("/api/v1/payouts/:id", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		p, err := service.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "payout not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	router.GET("/api/v1/payouts", func(c *gin.Context) {
		state := payout.State(c.DefaultQuery("state", string(payout.StatePending)))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		list, err := service.List(c.Request.Context(), state, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, list)
	})

	router.POST("/api/v1/payouts/:id/abort", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		aborted, err := service.Abort(c.Request.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, payout.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "payout not found"})
			case errors.Is(err, payout.ErrNotAbortable):
				c.JSON(http.StatusConflict, gin.H{"error": "payout cannot be aborted"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, aborted)
	})
}
