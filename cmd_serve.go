package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"snapaid/internal/api"
	"snapaid/internal/auth"
	"snapaid/internal/config"
	"snapaid/internal/logging"
	"snapaid/internal/redis"
	"snapaid/internal/service/cases"
	"snapaid/internal/service/classifier"
	"snapaid/internal/service/notify"
	"snapaid/internal/service/profiles"
	"snapaid/internal/service/triage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New("serve")

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database ready", "driver", db.Driver)

	rdb, err := openRedis(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cls, err := classifier.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init classifier: %w", err)
	}
	mailer, err := newMailer(cfg)
	if err != nil {
		return err
	}

	profileService := profiles.NewService(db)
	caseStore := cases.NewStore(db, rdb)
	notifier := notify.NewNotifier(caseStore, profileService, mailer, cfg.BasicConfig.PublicBaseURL)
	recorder := triage.NewRecorder(db, notifier)
	caseService := cases.NewService(caseStore, cls, recorder, cases.Options{
		EnforceStatusValues: cfg.BasicConfig.EnforceStatusValues,
	})

	deps := api.Deps{
		Cases:         caseService,
		Triage:        recorder,
		Profiles:      profileService,
		FileBaseDir:   cfg.BasicConfig.FileBaseDir,
		FilePublicURL: cfg.BasicConfig.FilePublicURL,
	}
	if cfg.Auth.Enabled {
		deps.Auth = auth.NewService(db, rdb, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	}
	if cfg.Webhooks.IdentitySecret != "" {
		if deps.Webhook, err = auth.NewWebhookVerifier(cfg.Webhooks.IdentitySecret); err != nil {
			return err
		}
	} else {
		logger.Warn("webhooks.identity_secret not set, identity webhooks will be rejected")
	}
	if remote, ok := cls.(*classifier.RemoteClient); ok {
		deps.Quiz = remote
	} else if cfg.Classifier.BaseURL != "" {
		deps.Quiz = classifier.NewRemoteClient(cfg.Classifier.BaseURL, time.Duration(cfg.Classifier.TimeoutSeconds)*time.Second)
	}

	router := gin.Default()
	api.NewHandler(deps).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.BasicConfig.ServerAddress,
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "classifier", cfg.Classifier.Mode, "auth", cfg.Auth.Enabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openRedis(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled() {
		return nil, nil
	}
	rdb, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	return rdb, nil
}

func newMailer(cfg *config.Config) (notify.Mailer, error) {
	if cfg.Mail.Host == "" {
		logging.New("serve").Warn("mail.host not set, emergency alerts will only be logged")
		return notify.LogMailer{}, nil
	}
	m, err := notify.NewSMTPMailer(cfg.Mail)
	if err != nil {
		return nil, fmt.Errorf("init mailer: %w", err)
	}
	return m, nil
}
