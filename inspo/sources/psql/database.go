package psql

import (
	"context"
	"fmt"

	"inspo/inspo/config"
	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/logging"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	DB *gorm.DB
}

// NewDatabase opens the configured driver and migrates the schema.
// SQLite gets a single connection so writers queue instead of failing with SQLITE_BUSY.
func NewDatabase(ctx context.Context, cfg config.DBConfig) (*Database, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Path + "?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL")
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	database := &Database{DB: db}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	logging.AppLogger.Info("database ready", zap.String("driver", cfg.Driver))
	return database, nil
}

// Migrate creates or updates every table the chat layer touches.
func (db *Database) Migrate(ctx context.Context) error {
	err := db.DB.WithContext(ctx).AutoMigrate(
		&models.Project{},
		&models.Idea{},
		&models.IdeaProject{},
		&models.ChatSession{},
		&models.ChatMessage{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}

func (db *Database) Close() {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
}
