package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vitalsync/internal/models"
	"github.com/vitalsync/internal/types"
)

// ErrUserNotFound is returned when a user lookup matches no row
var ErrUserNotFound = errors.New("user not found")

// UserRepository handles user data persistence
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Tier == "" {
		user.Tier = types.TierFree
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, tier, access_token_encrypted, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		user.ID,
		user.Email,
		user.Tier,
		user.AccessTokenEncrypted,
		user.LastSyncedAt,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, email, tier, access_token_encrypted, last_synced_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user models.User

	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Tier,
		&user.AccessTokenEncrypted,
		&user.LastSyncedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// ListSyncCandidates returns users with stored credentials ordered by
// staleness: never-synced users first, then oldest last_synced_at.
// A non-positive limit returns all candidates.
func (r *UserRepository) ListSyncCandidates(ctx context.Context, limit int) ([]*models.User, error) {
	query := `
		SELECT id, email, tier, access_token_encrypted, last_synced_at, created_at, updated_at
		FROM users
		WHERE access_token_encrypted IS NOT NULL
		ORDER BY last_synced_at ASC NULLS FIRST
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync candidates: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.Tier,
			&user.AccessTokenEncrypted,
			&user.LastSyncedAt,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// UpdateLastSyncedAt records the completion time of a successful sync
func (r *UserRepository) UpdateLastSyncedAt(ctx context.Context, userID string, syncedAt time.Time) error {
	query := `
		UPDATE users
		SET last_synced_at = $2, updated_at = $3
		WHERE id = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query, userID, syncedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update last synced at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// SetAccessToken stores a new encrypted access token for the user
func (r *UserRepository) SetAccessToken(ctx context.Context, userID string, encryptedToken string) error {
	query := `
		UPDATE users
		SET access_token_encrypted = $2, updated_at = $3
		WHERE id = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query, userID, encryptedToken, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ClearAccessToken removes a revoked or invalid credential so the user is
// excluded from future sync cycles until they reconnect.
func (r *UserRepository) ClearAccessToken(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET access_token_encrypted = NULL, updated_at = $2
		WHERE id = $1
	`

	if _, err := r.db.Pool().Exec(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to clear access token: %w", err)
	}

	return nil
}
