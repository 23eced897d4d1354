package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/arganhr/mailroom/internal/api/http"
	"github.com/arganhr/mailroom/internal/api/http/handlers"
	"github.com/arganhr/mailroom/internal/classify"
	"github.com/arganhr/mailroom/internal/config"
	"github.com/arganhr/mailroom/internal/dedup"
	"github.com/arganhr/mailroom/internal/events"
	"github.com/arganhr/mailroom/internal/extract"
	"github.com/arganhr/mailroom/internal/llm"
	"github.com/arganhr/mailroom/internal/loopguard"
	"github.com/arganhr/mailroom/internal/mailer"
	"github.com/arganhr/mailroom/internal/observability"
	"github.com/arganhr/mailroom/internal/persistence"
	"github.com/arganhr/mailroom/internal/pipeline"
	"github.com/arganhr/mailroom/internal/store"
	"github.com/arganhr/mailroom/internal/thread"
	"github.com/arganhr/mailroom/internal/ticketid"
	"github.com/arganhr/mailroom/internal/worker"
)

// Exit codes: 1 configuration, 2 bind failure, 3 required endpoint
// unreachable at startup.
const (
	exitConfig      = 1
	exitBind        = 2
	exitHealthcheck = 3
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		os.Exit(exitConfig)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Printf("failed to init logger: %v", err)
		os.Exit(exitConfig)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	var pg *persistence.Postgres
	var backend store.Store
	switch cfg.Store.Backend {
	case "postgres":
		pg, err = persistence.NewPostgres(ctx, cfg.Store, logger)
		if err != nil {
			logger.Error("failed to connect postgres", zap.Error(err))
			os.Exit(exitHealthcheck)
		}
		defer pg.Close()

		if cfg.Store.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
				logger.Error("failed to run migrations", zap.Error(err))
				os.Exit(exitHealthcheck)
			}
		}
		backend = store.NewPostgres(pg.Pool)
	default:
		backend = store.NewAirtable(cfg.Store, logger)
	}
	ticketStore := store.NewGuarded(backend, cfg.Store.WriteQPS)

	var redisConn *persistence.Redis
	var gate dedup.Gate
	if cfg.Dedup.Backend == "redis" {
		redisConn = persistence.NewRedis(cfg.Redis, logger)
		defer redisConn.Close()
		gate = dedup.NewRedisGate(redisConn.Client, cfg.Dedup.TTL())
	} else {
		gate = dedup.NewMemoryGate(cfg.Dedup.TTL())
	}

	completer := llm.NewClient(cfg.LLM, logger)
	if completer == nil {
		logger.Warn("llm disabled; classification and parsing run on fallbacks")
	}

	dispatcher := events.NewInMemoryDispatcher()
	worker.NewAuditWorker(dispatcher, logger).Start()

	pipe := pipeline.New(pipeline.Deps{
		Install:    cfg.Install,
		Gate:       gate,
		Guard:      loopguard.New(cfg.Outbound.FromAddr, cfg.Install.Prefix, cfg.Ack.MarkerPhrase),
		Classifier: classify.New(completer, cfg.Install.Prefix, logger),
		Allocator:  ticketid.New(ticketStore, cfg.Install.Prefix, cfg.Install.Location(), logger),
		Extractor:  extract.New(completer, logger),
		Parser:     thread.NewParser(completer, cfg.Install.Location(), logger),
		Store:      ticketStore,
		Templates:  mailer.NewTemplates(cfg.Install.ShortName, cfg.Ack),
		Sender:     mailer.NewSender(cfg.Mail, cfg.Outbound, cfg.Install.ShortName, logger),
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             25 * 1024 * 1024,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.Request.Deadline())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler("mailroom", "1.0.0", pg, redisConn),
		Webhook: handlers.NewWebhookHandler(pipe),
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Error("fiber listen", zap.Error(err))
			os.Exit(exitBind)
		}
	}()

	if cfg.App.StartupHealthcheck {
		if err := probeHealth(cfg.App.Port); err != nil {
			logger.Error("startup healthcheck failed", zap.Error(err))
			os.Exit(exitHealthcheck)
		}
		logger.Info("startup healthcheck passed")
	}

	waitForShutdown(logger)

	_ = app.Shutdown()
}

// probeHealth polls the liveness endpoint until it answers or the budget
// runs out.
func probeHealth(port string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://127.0.0.1:%s/health", port)

	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		time.Sleep(500 * time.Millisecond)
		resp, err := client.Get(url)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		lastErr = fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return lastErr
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
