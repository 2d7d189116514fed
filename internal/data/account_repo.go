package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/quietcut/quietcut/internal/domain/model"
)

// AccountRepo provides database operations for accounts. Accounts exist here
// only as refund targets and notification recipients; account management
// itself lives elsewhere.
type AccountRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAccountRepo creates a new AccountRepo with the given database connection.
func NewAccountRepo(db *sql.DB, tp TimeProvider) *AccountRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &AccountRepo{DB: db, timeProvider: tp}
}

const accountColumns = `id, email, credits, created_at, updated_at`

// GetByID retrieves an account by its ID.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := r.DB.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id).Scan(&a.ID, &a.Email, &a.Credits, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// Create inserts a new account with the given email and starting credit balance.
func (r *AccountRepo) Create(ctx context.Context, email string, credits int) (*model.Account, error) {
	if email == "" {
		return nil, errors.New("email is required")
	}
	if credits < 0 {
		return nil, errors.New("credits must be non-negative")
	}

	now := r.timeProvider.Now().UTC()
	var a model.Account
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO accounts (id, email, credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING `+accountColumns+`
	`, uuid.NewString(), email, credits, now).Scan(&a.ID, &a.Email, &a.Credits, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &a, nil
}
