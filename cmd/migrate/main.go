package main

import (
	"errors"
	"os"
	"path/filepath"

	"realtime_core/internal/config"
	"realtime_core/internal/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	dir, err := findMigrations()
	if err != nil {
		log.Fatal("migrations directory not found", zap.Error(err))
	}

	m, err := migrate.New("file://"+dir, cfg.DBConnStr)
	if err != nil {
		log.Fatal("failed to open migrations", zap.Error(err))
	}
	defer m.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "down":
		err = m.Down()
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal("migration failed", zap.String("direction", cmd), zap.Error(err))
	}
	log.Info("migration complete", zap.String("direction", cmd), zap.String("dir", dir))
}

// findMigrations walks up from the working directory looking for migrations/.
func findMigrations() (string, error) {
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		return filepath.Abs(dir)
	}
	current, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		candidate := filepath.Join(current, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return filepath.Abs(candidate)
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return "", os.ErrNotExist
}
