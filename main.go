package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"realtime-service/internal/auth"
	"realtime-service/internal/config"
	"realtime-service/internal/db"
	"realtime-service/internal/handlers"
	"realtime-service/internal/middleware"
	"realtime-service/internal/notify"
	"realtime-service/internal/observability"
	"realtime-service/internal/rabbitmq"
	"realtime-service/internal/repositories"
	"realtime-service/internal/ws"
)

const serviceName = "realtime-service"

func main() {
	cfg := config.Load()

	shutdownTracing, err := observability.InitTracing(context.Background(), cfg.OTLPEndpoint, serviceName, cfg.Env)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	messageRepo := repositories.NewMessageRepo(database)
	lastSeen := repositories.NewLastSeenStore(cfg.RedisURL)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	dispatcher := notify.NewDispatcher(publisher, "notifications.messages", serviceName, cfg.Env)

	gateway := ws.NewGateway(messageRepo, lastSeen, dispatcher, cfg.TypingTimeout)
	gateway.Start()
	defer gateway.Stop()

	validator := auth.NewJWTValidator(cfg.JWTSecret)
	wsHandler := ws.NewHandler(gateway, validator, cfg.HeartbeatTimeout)
	messageHandler := handlers.NewMessageHandler(messageRepo, lastSeen, gateway)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/conversations/:other_user_id/messages", authMiddleware, messageHandler.ListMessages)
	router.GET("/messages/unread-count", authMiddleware, messageHandler.UnreadCount)
	router.DELETE("/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)
	router.GET("/users/:user_id/presence", authMiddleware, messageHandler.Presence)

	router.GET("/ws", wsHandler.Handle)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
