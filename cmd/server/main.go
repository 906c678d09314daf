package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"member-chat/internal/auth"
	"member-chat/internal/config"
	"member-chat/internal/db"
	"member-chat/internal/gateway"
	"member-chat/internal/store"
	"member-chat/internal/user"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	log := logger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("load config", "error", err)
	}
	if cfg.DBDSN == "" {
		log.Fatal("db_dsn is not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("jwt_secret is not set")
	}

	database, err := db.NewDatabase(cfg.DBDSN)
	if err != nil {
		log.Fatalw("connect to database", "error", err)
	}
	if err := database.AutoMigrate(); err != nil {
		log.Fatalw("migrate schema", "error", err)
	}
	log.Info("database ready")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	authMiddleware := auth.NewMiddleware(tokens, cfg.HandshakeTimeout)

	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, tokens)
	userHandler := user.NewHandler(userService)

	st := store.NewStore(database.Conn)
	rooms := gateway.NewRoomManager()

	var cluster *gateway.Cluster
	if cfg.Redis.Enable {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalw("connect to redis", "error", err)
		}
		node := cfg.Redis.Node
		if node == "" {
			node, _ = os.Hostname()
		}
		cluster = gateway.NewCluster(rdb, cfg.Redis.Channel, node, rooms)
		go cluster.Run(ctx)
		log.Infow("cluster bridge enabled", "channel", cfg.Redis.Channel, "node", node)
	}

	gw := gateway.New(rooms, st, cluster, cfg.Client.MaxMessageSize, cfg.Client.SendBuffer)
	gwHandler := gateway.NewHandler(gw, st,
		cfg.Client.ReadBufferSize, cfg.Client.WriteBufferSize, cfg.AllowedOrigins)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Post("/api/conversations", gwHandler.StartConversation)
		r.Get("/api/messages", gwHandler.GetMessages)
		r.Get("/ws", gwHandler.ServeWS)
	})

	srv := &http.Server{Addr: cfg.Host, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infow("server starting", "addr", cfg.Host)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalw("listen and serve", "error", err)
	}
	log.Info("server stopped")
}
