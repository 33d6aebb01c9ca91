// cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/mailblast-backend/internal/config"
	"github.com/unclebandit/mailblast-backend/internal/db"
	"github.com/unclebandit/mailblast-backend/internal/logger"
	"github.com/unclebandit/mailblast-backend/internal/repository"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("mailblast-seeder", cfg.Log.Level)

	if !cfg.Database.Enabled() {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Database.URL, db.Options{})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()

	n, err := seed(ctx, conn, log)
	if err != nil {
		log.WithError(err).Fatal("seeding failed")
	}
	log.WithField("inserted", n).Info("database seeding completed")
}

// seed applies the schema and inserts the default recipients that are missing.
func seed(ctx context.Context, conn *sql.DB, log *logrus.Entry) (int, error) {
	if err := db.Migrate(ctx, conn); err != nil {
		return 0, err
	}
	log.Info("schema applied")

	repo := &repository.PostgresRecipientRepository{DB: conn}
	return repo.Seed(ctx, repository.DefaultRecipients())
}
