package main

import (
	"fmt"
	"os"

	"snapaid/internal/config"
	"snapaid/internal/logging"
	"snapaid/internal/storage"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadConfig reads the config file and initialises logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.ParseLevel(cfg.BasicConfig.LogLevel), cfg.BasicConfig.LogFormat)
	return cfg, nil
}

// openDatabase opens and migrates the configured database.
func openDatabase(cfg *config.Config) (*storage.DB, error) {
	db, err := storage.Open(rootFlags.dbType, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}
