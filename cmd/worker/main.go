package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/mailblast-backend/internal/app"
	"github.com/unclebandit/mailblast-backend/internal/config"
	"github.com/unclebandit/mailblast-backend/internal/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("mailblast-worker", cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("worker stopped")
	}
}

// run consumes queued broadcasts until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	if cfg.Queue.Driver != "amqp" {
		return fmt.Errorf("worker requires queue.driver amqp, got %q", cfg.Queue.Driver)
	}
	if cfg.Queue.URL == "" {
		return fmt.Errorf("worker requires AMQP_URL")
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.StartConsumer(); err != nil {
		return err
	}

	log.WithField("queue", cfg.Queue.Name).Info("worker running, waiting for broadcasts")
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
