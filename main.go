package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/burakerenkisapro1122/bchat/internal/config"
	"github.com/burakerenkisapro1122/bchat/internal/db"
	"github.com/burakerenkisapro1122/bchat/internal/feed"
	"github.com/burakerenkisapro1122/bchat/internal/handlers"
	applog "github.com/burakerenkisapro1122/bchat/internal/log"
	"github.com/burakerenkisapro1122/bchat/internal/middleware"
	"github.com/burakerenkisapro1122/bchat/internal/observability"
	"github.com/burakerenkisapro1122/bchat/internal/rabbitmq"
	"github.com/burakerenkisapro1122/bchat/internal/repositories"
	"github.com/burakerenkisapro1122/bchat/internal/session"
	"github.com/burakerenkisapro1122/bchat/internal/telemetry"
	"github.com/burakerenkisapro1122/bchat/internal/ws"
)

const serviceName = "bchat"

func main() {
	cfg := config.Load()
	applog.Init(cfg.Env)

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(context.Background(), cfg.OTLPEndpoint, serviceName, cfg.Env)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init tracing")
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("tracer shutdown failed")
			}
		}()
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	bus := newFeed(cfg)
	defer bus.Close()

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Info().Str("mode", rabbitmq.PublisherMode(auditPublisher)).Msg("audit publisher ready")
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.bchat", serviceName, cfg.Env)

	if eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err == nil {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	} else {
		log.Info().Err(err).Msg("ws lifecycle events disabled")
	}

	userRepo := repositories.NewUserRepo(database)
	groupRepo := repositories.NewGroupRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	sessions := session.NewManager(userRepo, groupRepo, messageRepo, bus)
	defer sessions.Close()

	hub := ws.NewHub()
	sessionHandler := handlers.NewSessionHandler(sessions, audit)
	groupHandler := handlers.NewGroupHandler(audit)
	sessionWS := ws.NewSessionWebSocketHandler(hub, sessions)

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	auth := middleware.SessionAuth(sessions)

	router.POST("/login", middleware.LoginRateLimit(cfg.LoginRatePerSec, cfg.LoginBurst), sessionHandler.Login)
	router.POST("/logout", auth, sessionHandler.Logout)
	router.GET("/conversations", auth, sessionHandler.ListConversations)
	router.PUT("/session/conversation", auth, sessionHandler.ActivateConversation)
	router.DELETE("/session/conversation", auth, sessionHandler.DeactivateConversation)
	router.GET("/session/state", auth, sessionHandler.State)
	router.POST("/messages", auth, sessionHandler.SendMessage)
	router.POST("/groups", auth, groupHandler.CreateGroup)
	router.POST("/groups/:group_id/members", auth, groupHandler.AddMember)

	router.GET("/ws/session", sessionWS.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.Debug)

	log.Info().Str("port", cfg.Port).Str("feed", cfg.FeedBackend).Msg("starting bchat")
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// newFeed selects the change-feed transport. Unreachable networked
// transports are fatal: the delivery core is useless without its feed.
func newFeed(cfg config.Config) feed.Feed {
	switch cfg.FeedBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		return feed.NewRedis(client, serviceName)
	case "amqp":
		bus, err := feed.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to amqp feed")
		}
		return bus
	default:
		return feed.NewMemory()
	}
}
