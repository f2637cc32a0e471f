package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logger"
	"github.com/hackgods/clinic-booking/internal/notify"
)

const prefetch = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.AMQPURL == "" {
		log.Fatal("AMQP_URL is required")
	}

	var mailer notify.Mailer
	if cfg.SMTPHost != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	} else {
		log.Warn("SMTP_HOST not set, email delivery disabled")
	}

	var texter notify.Texter
	if cfg.SMSAPIURL != "" {
		texter = notify.NewHTTPTexter(cfg.SMSAPIURL, cfg.SMSAPIKey, cfg.SMSPerSecond, nil)
	} else {
		log.Warn("SMS_API_URL not set, SMS delivery disabled")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal("amqp connection error", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("amqp channel error", zap.Error(err))
	}
	defer ch.Close()

	deliveries, err := notify.Consume(ch, cfg.NotifyQueue, prefetch)
	if err != nil {
		log.Fatal("amqp consume error", zap.Error(err))
	}
	log.Info("notify-worker consuming", zap.String("queue", cfg.NotifyQueue))

	worker := notify.NewWorker(mailer, texter, cfg.SMSCountryCode, log)
	if err := worker.Run(rootCtx, deliveries); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("notify-worker stopped", zap.Error(err))
		return
	}
	log.Info("shutdown signal received, stopping notify worker")
}
