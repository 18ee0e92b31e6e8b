package db

import (
	"fmt"
	"log"

	"coderoom/internal/config"
	"coderoom/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm opens the Postgres database
// Learning: Flushes happen on every debounce window, so SQL logging stays
// at Warn; Info would log every keystroke burst
func NewGorm(cfg *config.Config) (*GormDB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("✓ Database connected")

	return &GormDB{db}, nil
}

// Migrate creates/updates the schema from the model structs
func (db *GormDB) Migrate() error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Room{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("✓ Database migrated successfully")
	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
