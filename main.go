package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"atendimento/config"
	"atendimento/internal/dashboard"
	"atendimento/internal/db"
	"atendimento/internal/dialog"
	"atendimento/internal/gateway"
	"atendimento/internal/menu"
	"atendimento/internal/notifier"
	"atendimento/internal/queue"
	"atendimento/internal/repository"
	"atendimento/internal/sender"
	"atendimento/internal/state"
	"atendimento/internal/ttlcache"
	"atendimento/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	problems, ignored, conn := openStores(ctx, cfg)
	if conn != nil {
		defer conn.Close()
	}

	hub := dashboard.NewHub()
	go hub.Run()
	defer hub.Shutdown()

	delivery, rabbit := startDelivery(cfg)
	defer delivery.Stop()
	if rabbit != nil {
		defer rabbit.Close()
	}

	notif := notifier.New(problems, fanout{hub, delivery}, notifier.Limits{
		Active:    cfg.ActiveLimit,
		Completed: cfg.CompletedLimit,
	})

	wa, err := gateway.Open(ctx, gateway.Options{Store: cfg.SessionStore, DSN: cfg.SessionDSN, QROut: os.Stdout})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open WhatsApp session")
	}
	defer wa.Close()

	seq := sender.New(wa, ttlcache.New(time.Minute), sender.Config{
		DebounceTTL: cfg.DebounceTTL,
		Delay:       cfg.SendDelay,
	})
	defer seq.Close()

	states := state.NewStore(cfg.DuplicateWindow, cfg.DuplicateHistory)
	catalog := menu.NewCatalog(menu.DefaultCategories, cfg.VideoBaseURL, cfg.SupportContact)

	ctrl := queue.New(problems, states, seq, notif, catalog, cfg.MaxActive)
	if cfg.S3Bucket != "" {
		archiver, err := NewS3Archiver(S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
			Prefix:    cfg.S3Prefix,
		})
		if err != nil {
			log.Error().Err(err).Msg("S3 archive disabled")
		} else {
			if err := archiver.TestConnection(ctx); err != nil {
				log.Warn().Err(err).Str("bucket", cfg.S3Bucket).Msg("S3 bucket not reachable, archiving will be retried per completion")
			}
			ctrl.WithArchiver(archiver)
		}
	}

	engine := dialog.New(dialog.Deps{
		Problems: problems,
		Ignored:  ignored,
		Queue:    ctrl,
		States:   states,
		Sender:   seq,
		Notifier: notif,
		Catalog:  catalog,
		Events:   ttlcache.New(time.Minute),
		Messages: ttlcache.New(5 * time.Minute),
	}, dialog.Config{EventTTL: cfg.EventTTL, MessageTTL: cfg.MessageTTL})

	if err := wa.Start(ctx, engine); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to WhatsApp")
	}

	s := &server{
		router:   mux.NewRouter(),
		queue:    ctrl,
		notifier: notif,
		ignored:  ignored,
		hub:      hub,
		delivery: delivery,
		session:  wa,
	}
	s.routes()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Int("maxActive", cfg.MaxActive).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown")
	}
}

// openStores returns the record and ignore-list repositories for DB_DRIVER.
// The connection is nil for the memory driver.
func openStores(ctx context.Context, cfg *config.Config) (repository.Problems, repository.Ignored, *sqlx.DB) {
	if cfg.DBDriver == "memory" {
		log.Warn().Msg("Using in-memory records, everything is lost on exit")
		return repository.NewMemory(), repository.NewMemoryIgnored(), nil
	}

	conn, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to open database")
	}
	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	return repository.NewSQL(conn), repository.NewIgnoredSQL(conn), conn
}

// startDelivery builds the webhook/RabbitMQ fan-out. RabbitMQ failures only
// disable that channel.
func startDelivery(cfg *config.Config) (*DeliveryManager, *RabbitPublisher) {
	for _, ev := range cfg.RabbitSpecificEvent {
		if !isValidEventType(ev) {
			log.Warn().Str("event", ev).Strs("supported", supportedEventTypes).Msg("Unknown event in AMQP_SPECIFIC_EVENTS")
		}
	}

	var rabbit *RabbitPublisher
	var publisher EventPublisher
	if cfg.RabbitURL != "" {
		var err error
		rabbit, err = NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.RabbitQueuePrefix, cfg.RabbitSpecificEvent)
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ publishing disabled")
			rabbit = nil
		} else {
			publisher = rabbit
		}
	} else {
		log.Info().Msg("RABBITMQ_URL is not set. RabbitMQ publishing disabled.")
	}

	delivery := NewDeliveryManager(cfg.GlobalWebhook, publisher)
	delivery.Start()
	return delivery, rabbit
}
