package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"coderoom/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/segmentio/ksuid"
)

// SQLiteStore is an embedded Room Directory and user store for single-node
// deployments (DB_DRIVER=sqlite). It offers the same methods as the GORM
// repositories so either can be handed to the API and the session engine.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and migrates it
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; per-room write serialization happens above us
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Migrate ensures the schema is up to date
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'javascript',
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		is_read_only BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_owner ON rooms(owner_id, updated_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const roomColumns = `room_id, owner_id, code, language, is_locked, is_read_only, created_at, updated_at`

func scanRoom(row interface{ Scan(...any) error }) (*models.Room, error) {
	var room models.Room
	if err := row.Scan(
		&room.RoomID, &room.OwnerID, &room.Code, &room.Language,
		&room.IsLocked, &room.IsReadOnly, &room.CreatedAt, &room.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateRoom inserts an empty room owned by ownerID
func (s *SQLiteStore) CreateRoom(ctx context.Context, ownerID string) (*models.Room, error) {
	now := time.Now().UTC()
	room := &models.Room{
		RoomID:    uuid.NewString(),
		OwnerID:   ownerID,
		Language:  models.DefaultLanguage,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (`+roomColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		room.RoomID, room.OwnerID, room.Code, room.Language,
		room.IsLocked, room.IsReadOnly, room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return room, nil
}

// GetRoom retrieves a room by id
func (s *SQLiteStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_id = ?`, roomID)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", roomID, models.ErrRoomNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	return room, nil
}

// SaveRoom writes code and (when non-empty) language
func (s *SQLiteStore) SaveRoom(ctx context.Context, roomID, code, language string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE rooms
		SET code = ?, language = COALESCE(NULLIF(?, ''), language), updated_at = ?
		WHERE room_id = ?`,
		code, language, time.Now().UTC(), roomID,
	)
	if err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("room %s: %w", roomID, models.ErrRoomNotFound)
	}

	return nil
}

// ListByOwner returns the owner's rooms, most recently updated first
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE owner_id = ? ORDER BY updated_at DESC LIMIT ?`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

// UpdateFlags changes the owner-controlled flags and returns the new record
func (s *SQLiteStore) UpdateFlags(ctx context.Context, roomID string, update *models.RoomFlagsUpdate) (*models.Room, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if update.IsReadOnly != nil {
		room.IsReadOnly = *update.IsReadOnly
	}
	if update.IsLocked != nil {
		room.IsLocked = *update.IsLocked
	}
	room.UpdatedAt = time.Now().UTC()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET is_read_only = ?, is_locked = ?, updated_at = ? WHERE room_id = ?`,
		room.IsReadOnly, room.IsLocked, room.UpdatedAt, roomID,
	); err != nil {
		return nil, fmt.Errorf("failed to update room: %w", err)
	}

	return room, nil
}

// CreateUser inserts a user with a fresh KSUID
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error) {
	if _, err := s.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%s: %w", email, models.ErrEmailTaken)
	} else if !errors.Is(err, models.ErrUserNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           ksuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.firstUser(ctx, `id = ?`, id)
}

func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.firstUser(ctx, `email = ?`, email)
}

func (s *SQLiteStore) firstUser(ctx context.Context, where string, arg string) (*models.User, error) {
	var user models.User

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at, updated_at FROM users WHERE `+where, arg,
	).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}
