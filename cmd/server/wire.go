package main

import (
	"fmt"
	"log"

	"coderoom/internal/api"
	"coderoom/internal/auth"
	"coderoom/internal/config"
	"coderoom/internal/db"
	"coderoom/internal/repository"
)

// stores bundles the backend chosen by DB_DRIVER
type stores struct {
	rooms   api.RoomDirectory
	users   storeUsers
	migrate func() error
	close   func() error
}

// storeUsers is what both the API and the authenticator need from users
type storeUsers interface {
	api.UserStore
	auth.UserLookup
}

// openStores connects the configured backend.
// Postgres goes through GORM; sqlite is a single embedded file.
func openStores(cfg *config.Config) (*stores, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		store, err := repository.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Printf("✓ SQLite store opened at %s", cfg.SQLitePath)
		return &stores{
			rooms:   store,
			users:   store,
			migrate: store.Migrate,
			close:   store.Close,
		}, nil

	case config.DriverPostgres:
		database, err := db.NewGorm(cfg)
		if err != nil {
			return nil, err
		}
		return &stores{
			rooms:   repository.NewRoomRepository(database.DB),
			users:   repository.NewUserRepository(database.DB),
			migrate: database.Migrate,
			close:   database.Close,
		}, nil
	}

	return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
}
