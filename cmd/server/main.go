// Command server runs the MindWell API.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"mindwell/internal/app"
	"mindwell/internal/config"
	"mindwell/internal/database"
	"mindwell/internal/infrastructure"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is fine; the environment may already be populated
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		return 1
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to initialize logger", slog.String("error", err.Error()))
		return 1
	}
	defer infrastructure.CloseLogFile()

	telemetry, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to start server", slog.String("error", err.Error()))
		return 1
	}

	db, err := openDatabase(cfg.Database, logger, telemetry, database.New)
	if err != nil {
		return 1
	}

	return app.Main(context.Background(), app.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Database:  db,
		Telemetry: telemetry,
	})
}

// shutdowner is the part of the telemetry providers released on early exit
type shutdowner interface {
	Shutdown(ctx context.Context) error
}

type databaseFactory func(config.DatabaseConfig, *slog.Logger) (database.Database, error)

// openDatabase builds the database handle. On failure it logs the error and
// shuts telemetry down, since the application never takes ownership of it.
func openDatabase(cfg config.DatabaseConfig, logger *slog.Logger, telemetry shutdowner, open databaseFactory) (database.Database, error) {
	db, err := open(cfg, logger)
	if err == nil {
		return db, nil
	}

	logger.Error("Failed to start server", slog.String("error", err.Error()))
	if telemetry != nil {
		if shutdownErr := telemetry.Shutdown(context.Background()); shutdownErr != nil {
			logger.Error("Failed to shut down telemetry", slog.String("error", shutdownErr.Error()))
		}
	}
	return nil, err
}
