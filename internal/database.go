package internal

import (
	"fmt"

	"IBT-ASSESS/internal/config"
	"IBT-ASSESS/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDB connects to MySQL and migrates the ledger tables.
func OpenDB(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.Database.DSN()), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Database connected and migrated successfully", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))
	return db, nil
}

// Migrate creates or extends the submissions and activity_logs tables.
// Existing rows are preserved.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, model := range []any{&models.SubmissionRecord{}, &models.ActivityLog{}} {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	// Request bodies are no longer logged.
	if db.Migrator().HasColumn("activity_logs", "request_body") {
		logger.Info("Dropping legacy column activity_logs.request_body")
		if err := db.Migrator().DropColumn("activity_logs", "request_body"); err != nil {
			return fmt.Errorf("failed to drop column activity_logs.request_body: %w", err)
		}
	}

	logger.Info("Tables created/verified successfully")
	return nil
}

func CloseDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
