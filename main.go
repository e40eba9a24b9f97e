package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/bus"
	"messaging-service/internal/cache"
	"messaging-service/internal/db"
	"messaging-service/internal/delivery"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/replay"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, "messaging-service", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""))
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	messageRepo := repositories.NewMessageRepo(database)
	roomRepo := repositories.NewRoomRepo(database)

	cursors := cache.NewCursorStore(getEnv("REDIS_ADDR", ""))

	instanceID := uuid.NewString()
	amqpURL := getEnv("AMQP_URL", "")
	exchange := getEnv("AMQP_EXCHANGE", "messaging_events")
	publisher := bus.NewPublisher(amqpURL, exchange)
	defer publisher.Close()

	instanceBus := bus.NewInstanceBus(instanceID, publisher)
	diagnostics := telemetry.NewDiagnosticsEmitter(publisher, "diagnostics.delivery", "messaging-service", getEnv("ENVIRONMENT", "development"))

	index := delivery.NewIndex()
	roomTracker := delivery.NewRoomTracker()
	failures := delivery.NewFailureTracker(diagnostics)

	grace := time.Duration(getEnvInt("PRESENCE_OFFLINE_GRACE_MS", 5000)) * time.Millisecond
	registry := ws.NewSessionRegistry(getEnvInt("MAX_SOCKETS_PER_SESSION", ws.DefaultMaxSocketsPerSession))
	var manager *ws.ConnectionManager
	manager = ws.NewConnectionManager(registry, grace, func(userID string, online bool) {
		log.Printf("presence change user=%s online=%t", userID, online)
		manager.Broadcast(models.PresenceFrame{Type: models.FramePresence, UserID: userID, Online: online})
		_ = instanceBus.Publish(ctx, bus.Event{Type: bus.EventPresenceChanged, UserID: userID, Online: online})
	})
	defer manager.Stop()
	manager.StartReaper(ctx, time.Minute, 3*time.Minute)

	deliverySvc := delivery.NewService(messageRepo, roomRepo, index, roomTracker, failures, manager, instanceBus, cursors)
	deliverySvc.SetAckTimeout(time.Duration(getEnvInt("DELIVERY_ACK_TIMEOUT_MS", 30000)) * time.Millisecond)
	replaySvc := replay.NewService(messageRepo, index, cursors)

	instanceBus.On(bus.EventMessageDelivered, deliverySvc.HandleRemoteDelivered)
	instanceBus.On(bus.EventPresenceChanged, func(ev bus.Event) {
		manager.Broadcast(models.PresenceFrame{Type: models.FramePresence, UserID: ev.UserID, Online: ev.Online})
	})
	instanceBus.On(bus.EventSessionKick, func(ev bus.Event) {
		if ev.SessionID != "" {
			manager.RemoveSession(ev.SessionID, ev.CloseCode, ev.Reason)
			return
		}
		manager.KickUser(ev.UserID, ev.CloseCode, ev.Reason)
	})
	if amqpURL != "" {
		go func() {
			if err := bus.Consume(ctx, amqpURL, exchange, instanceBus); err != nil {
				log.Printf("instance bus consumer stopped: %v", err)
			}
		}()
	}

	verifier := middleware.NewJWTVerifier(getEnv("JWT_SECRET", "dev-secret"))
	wsHandler := ws.NewHandler(manager, verifier, deliverySvc, replaySvc, instanceID)

	router := gin.Default()
	router.Use(otelgin.Middleware("messaging-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.Handle)

	authGroup := router.Group("/", middleware.AuthMiddleware(verifier))
	handlers.NewRoomHandler(roomRepo).Register(authGroup)
	handlers.RegisterDebugRoutes(authGroup, manager, failures, getEnv("ENABLE_DEBUG_ROUTES", "") == "true")

	port := getEnv("PORT", "8083")
	log.Printf("messaging service listening on :%s instance=%s", port, instanceID)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
