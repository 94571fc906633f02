package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/MrEthical07/goOTP/channels/mail"
	"github.com/MrEthical07/goOTP/channels/sms"
	"github.com/MrEthical07/goOTP/gormrepo"
	"github.com/MrEthical07/goOTP/httpapi"
	promexport "github.com/MrEthical07/goOTP/metrics/export/prometheus"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return err
	}

	db, err := gormrepo.Open(cfg.DatabaseURL, cfg.AppEnv != "production")
	if err != nil {
		return err
	}
	if cfg.AutoMigrate {
		if err := gormrepo.Migrate(db); err != nil {
			return err
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	builder := goOTP.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithPrimaryChannel(sms.NewSevenClient(sms.Config{APIKey: cfg.SevenAPIKey, From: cfg.SMSFrom})).
		WithIdentityRepository(gormrepo.NewIdentityRepository(db)).
		WithRecordRepository(gormrepo.NewRecordRepository(db)).
		WithLogger(logger)
	if cfg.SMTPHost != "" {
		builder = builder.WithSecondaryChannel(mail.NewSMTPSender(mail.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}))
	}
	if cfg.AuditEnabled {
		builder = builder.WithAuditSink(goOTP.NewJSONWriterSink(os.Stdout))
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}

	for _, w := range engine.SecurityReport().Warnings {
		logger.Warn("security posture", "warning", w)
	}

	opts := httpapi.Options{Logger: logger}
	if cfg.MetricsEnabled {
		opts.Metrics = promexport.NewPrometheusExporter(engine).Handler()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(engine, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	// Late primary sends are still writing onto their challenges.
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Error("engine close", "error", err)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
