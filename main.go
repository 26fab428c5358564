package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"im-service/internal/chat"
	"im-service/internal/config"
	"im-service/internal/content"
	"im-service/internal/db"
	"im-service/internal/delivery"
	"im-service/internal/gateway"
	imgrpc "im-service/internal/grpc"
	"im-service/internal/handlers"
	"im-service/internal/middleware"
	"im-service/internal/observability"
	"im-service/internal/presence"
	"im-service/internal/rabbitmq"
	"im-service/internal/relay"
	"im-service/internal/repositories"
	"im-service/internal/ws"
)

const serviceName = "im-service"

func main() {
	if err := run(); err != nil {
		slog.Error("im-service stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))

	messages, users, closer, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	hub := ws.NewHub(cfg.SendBuffer)
	var out delivery.Delivery = hub
	var fanout *relay.Relay
	var cluster presence.Cluster = presence.Solo{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		instanceID := cfg.InstanceID
		if instanceID == "" {
			instanceID = uuid.NewString()
		}
		fanout = relay.New(rdb, hub, instanceID, logger)
		out = fanout
		cluster = relay.NewLiveness(rdb, instanceID, cfg.HeartbeatTimeout)
	}

	registry := presence.NewRegistry(cfg.HeartbeatTimeout)
	broadcaster := presence.NewBroadcaster(users, out, logger)
	monitor := presence.NewMonitor(registry, broadcaster, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, logger).WithCluster(cluster)

	unread := chat.NewUnreadCounter(messages, out)
	router := chat.NewRouter(messages, unread, out, logger)
	if cfg.SanitizeContent {
		router = router.WithContentFilter(content.Sanitize)
	}
	receipts := chat.NewReceiptService(messages, users, unread, out, logger)
	gw := gateway.New(registry, broadcaster, router, receipts, out, logger).WithCluster(cluster)

	validator := middleware.NewJWTValidator(cfg.JWTSecret, cfg.JWTIssuer)
	wsHandler := ws.NewChatWebSocketHandler(hub, gw, validator, logger)
	imHandler := handlers.NewIMHandler(registry, unread, receipts, cfg.HeartbeatTimeout)

	if cfg.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(handlers.RequestID())
	engine.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(validator)

	engine.GET("/healthz", handlers.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws", wsHandler.Handle)
	engine.GET("/presence/online", authMiddleware, imHandler.ListOnline)
	engine.GET("/unread", authMiddleware, imHandler.GetUnreadTotal)
	engine.GET("/unread/:counterparty_id", authMiddleware, imHandler.GetUnread)
	engine.POST("/conversations/:counterparty_id/read", authMiddleware, imHandler.MarkRead)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := imgrpc.NewServer(logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		return grpcServer.Serve(gctx, lis)
	})
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	if fanout != nil {
		g.Go(func() error {
			return fanout.Run(gctx)
		})
	}

	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Config) (repositories.MessageRepository, repositories.UserRepository, io.Closer, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		database, err := db.Connect(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return repositories.NewMessageRepo(database), repositories.NewUserRepo(database), database, nil
	default:
		store, err := repositories.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store, nil
	}
}
