package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/medpoint/loyalty/internal/db"
	"github.com/medpoint/loyalty/internal/handlers"
	"github.com/medpoint/loyalty/internal/logger"
	"github.com/medpoint/loyalty/internal/repository/postgres"
	"github.com/medpoint/loyalty/internal/service/certificate"
	"github.com/medpoint/loyalty/internal/service/ledger"
	"github.com/medpoint/loyalty/internal/service/referral"
	"github.com/medpoint/loyalty/internal/service/user"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	if c.SecretKey == "" {
		return nil, errors.New("secret key is required")
	}

	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	userService := user.NewService(user.DefaultHasher, storage)
	ledgerService := ledger.NewService(storage)
	certService := certificate.NewService(storage)
	referralService := referral.NewService(storage, log)

	mux := handlers.NewRouter(
		ledgerService,
		certService,
		referralService,
		userService,
		log,
		handlers.RouterConfig{
			SecretKey:    c.SecretKey,
			WebhookToken: c.WebhookToken,
		},
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		logger:     log,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
