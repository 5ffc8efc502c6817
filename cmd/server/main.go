package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/studiobook/backend/docs"
	"github.com/studiobook/backend/internal/app"
	"github.com/studiobook/backend/internal/config"
	"github.com/studiobook/backend/internal/database"
	"github.com/studiobook/backend/internal/logging"
)

// @title Studio Ledger API
// @version 1.0
// @description Prepaid balances, gift cards, cash drawers and bank reconciliation for studios
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	config.Init()
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log := logging.NewLoggerWithService("studio-ledger", cfg.Log.Level, cfg.Log.Format)

	if cfg.JWT.SecretKey == "" {
		log.Fatal("JWT_SECRET_KEY must be set")
	}

	docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port

	db := database.InitDatabase(log)
	defer db.Close()

	redisClient := database.InitRedis(log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	a := app.New(cfg, db, redisClient, log)
	if cfg.Sweeper.Enabled {
		a.Sweeper.Start()
		defer a.Sweeper.Stop()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      a.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server stopped")
}
