package main

import (
	"context"
	"net/http"

	"github.com/xtrntr/matchbook/internal/api"
	"github.com/xtrntr/matchbook/internal/auth"
	"github.com/xtrntr/matchbook/internal/config"
	"github.com/xtrntr/matchbook/internal/db"
	"github.com/xtrntr/matchbook/internal/events"
	"github.com/xtrntr/matchbook/internal/exchange"
	"github.com/xtrntr/matchbook/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Main entry point: sets up database, engine, publishers, and the HTTP server
func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	database.LockTimeout = cfg.LockTimeout
	defer database.Close()

	engine := exchange.NewEngine(database, logger)
	authService := auth.NewAuthService(database, cfg.JWTSecret)

	// committed events fan out to websocket subscribers, and to kafka when
	// brokers are configured
	hub := ws.NewHub(logger)
	publisher := events.Fanout{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer kafkaPub.Close()
		publisher = append(publisher, kafkaPub)
		logger.Info("kafka publisher enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	handler := api.NewHandler(database, engine, authService, publisher, logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ws", hub.Handle)
	r.Mount("/", handler.Routes())

	logger.Info("starting server", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
