package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/bwmarrin/snowflake"
	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-bot/internal/api/http"
	"github.com/spec-kit/ticket-bot/internal/api/http/handlers"
	"github.com/spec-kit/ticket-bot/internal/auth"
	"github.com/spec-kit/ticket-bot/internal/bot"
	"github.com/spec-kit/ticket-bot/internal/config"
	"github.com/spec-kit/ticket-bot/internal/events"
	"github.com/spec-kit/ticket-bot/internal/messaging"
	"github.com/spec-kit/ticket-bot/internal/observability"
	"github.com/spec-kit/ticket-bot/internal/persistence"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/repository"
	"github.com/spec-kit/ticket-bot/internal/service"
	"github.com/spec-kit/ticket-bot/internal/worker"
)

const notificationQueueSize = 256

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	panelPath := pflag.String("panel", cfg.App.PanelFile, "path to the panel description file")
	deployPanel := pflag.Bool("deploy-panel", false, "post or refresh the panel message after connecting")
	mintToken := pflag.String("mint-admin-token", "", "print an admin API token for the given subject and exit")
	pflag.Parse()

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	clock := clockwork.NewRealClock()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL(), clock)
	authService := service.NewAuthService(tokens)

	if *mintToken != "" {
		token, meta, err := authService.MintAdminToken(*mintToken)
		if err != nil {
			logger.Fatal("failed to mint admin token", zap.Error(err))
		}
		fmt.Println(token)
		logger.Info("admin token minted",
			zap.String("subject", meta.SubjectID),
			zap.Time("expires_at", meta.ExpiresAt))
		return
	}

	var panel config.PanelFile
	switch result := config.LoadPanelFile(*panelPath).(type) {
	case config.PanelLoaded:
		panel = result.Panel
		logger.Info("panel file loaded", zap.String("path", result.Path), zap.Int("categories", len(panel.Categories)))
	case config.PanelCreatedFromTemplate:
		logger.Warn("panel file created from template; edit it and restart", zap.String("path", result.Path))
		return
	case config.PanelLoadFailed:
		logger.Fatal("failed to load panel file", zap.String("path", result.Path), zap.Error(result.Err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tickets, transcripts, storeHealth, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var sinks []messaging.Sink
	if redis != nil {
		sinks = append(sinks, messaging.NewRedisStreamSink(redis.Client, cfg.Redis.Stream, cfg.Redis.StreamMax, logger))
	}
	if cfg.MQTT.BrokerURL != "" {
		broker, err := messaging.ConnectMQTT(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("mqtt unavailable; continuing without it", zap.Error(err))
		} else {
			sinks = append(sinks, messaging.NewMQTTSink(broker, cfg.MQTT.TopicPrefix))
		}
	}

	dispatcher := events.NewInMemoryDispatcher()
	notifications := service.NewNotificationService(dispatcher, logger, notificationQueueSize, sinks...)
	notifierDone := worker.StartNotificationWorker(ctx, notifications)

	ids, err := snowflake.NewNode(cfg.Snowflake.NodeID)
	if err != nil {
		logger.Fatal("invalid snowflake node", zap.Error(err))
	}

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		logger.Fatal("failed to create discord session", zap.Error(err))
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	chat := platform.NewDiscordPlatform(session)

	metrics := observability.NewMetrics()
	scheduler := service.NewInactivityScheduler(clock, cfg.Inactivity.WarnAfter, cfg.Inactivity.CloseAfter, logger)
	recorder, err := service.NewTranscriptRecorder(service.TranscriptDependencies{
		Transcripts:      transcripts,
		Tickets:          tickets,
		Platform:         chat,
		ArchiveChannelID: cfg.Discord.ArchiveChannelID,
		Clock:            clock,
		MaxAttempts:      cfg.Delivery.MaxAttempts,
		RetryDelay:       cfg.Delivery.RetryDelay,
		StoreTimeout:     cfg.Store.Timeout(),
		Logger:           logger,
	})
	if err != nil {
		logger.Fatal("failed to build transcript recorder", zap.Error(err))
	}
	panels := service.NewPanelService(service.PanelDependencies{
		Tickets:      tickets,
		Platform:     chat,
		Dispatcher:   dispatcher,
		Clock:        clock,
		ChannelID:    cfg.Discord.PanelChannelID,
		Panel:        panel,
		MaxAttempts:  cfg.Delivery.MaxAttempts,
		RetryDelay:   cfg.Delivery.RetryDelay,
		StoreTimeout: cfg.Store.Timeout(),
		Logger:       logger,
	})
	lifecycle := service.NewLifecycleService(service.LifecycleDependencies{
		Tickets:          tickets,
		Platform:         chat,
		Authorizer:       service.NewAuthorizer(chat, cfg.Discord.GuildID, cfg.Discord.SupporterRoleIDs, cfg.Discord.OwnerOverrideID),
		Scheduler:        scheduler,
		Transcripts:      recorder,
		Panels:           panels,
		Dispatcher:       dispatcher,
		Metrics:          metrics,
		IDs:              ids,
		Clock:            clock,
		Logger:           logger,
		GuildID:          cfg.Discord.GuildID,
		SupporterRoleIDs: cfg.Discord.SupporterRoleIDs,
		Lifecycle:        cfg.Lifecycle,
		Delivery:         cfg.Delivery,
		StoreTimeout:     cfg.Store.Timeout(),
	})
	defer scheduler.Stop()

	bot.NewHandler(ctx, bot.NewRouter(lifecycle, logger), cfg.Store.Timeout()*4, logger).Attach(session)
	if err := session.Open(); err != nil {
		logger.Fatal("failed to open discord gateway", zap.Error(err))
	}
	defer session.Close() //nolint:errcheck

	if err := bot.RegisterCommands(session, cfg.Discord.GuildID); err != nil {
		logger.Error("failed to register slash commands", zap.Error(err))
	}
	if err := lifecycle.Recover(ctx); err != nil {
		logger.Error("recovery incomplete", zap.Error(err))
	}
	if *deployPanel {
		if _, err := panels.Deploy(ctx); err != nil {
			logger.Error("failed to deploy panel", zap.Error(err))
		}
	}

	deps := []handlers.Dependency{{Name: cfg.Store.Driver, Pinger: storeHealth}}
	if redis != nil {
		deps = append(deps, handlers.Dependency{Name: "redis", Pinger: redis})
	}

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps...),
		Tickets:        handlers.NewTicketsHandler(lifecycle, recorder),
		Panel:          handlers.NewPanelHandler(panels),
		Metrics:        handlers.NewMetricsHandler(metrics),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager()),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	cancel()
	<-notifierDone
	notifications.Close()
}

// openStore connects the configured backend and returns its stores, a health probe and
// a release func.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.TicketStore, repository.TranscriptStore, handlers.Pinger, func()) {
	if cfg.Store.Driver == "postgres" {
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		return repository.NewPostgresTicketStore(pg.Pool), repository.NewPostgresTranscriptStore(pg.Pool), pg, pg.Close
	}

	db, err := persistence.NewSQLite(ctx, cfg.Store.SQLitePath, logger)
	if err != nil {
		logger.Fatal("failed to open sqlite store", zap.Error(err))
	}
	return repository.NewSQLiteTicketStore(db.DB), repository.NewSQLiteTranscriptStore(db.DB), db, db.Close
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
