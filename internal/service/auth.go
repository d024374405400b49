package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"orderflow/internal/model"
)

// OperatorService authenticates the operations staff behind the recovery
// endpoints.
type OperatorService struct {
	db *sql.DB
}

func NewOperatorService(db *sql.DB) *OperatorService {
	return &OperatorService{db: db}
}

// EnsureOperator seeds the configured operator account on startup. An
// existing login is left untouched.
func (s *OperatorService) EnsureOperator(ctx context.Context, login, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO operators (login, password_hash) VALUES ($1, $2) ON CONFLICT (login) DO NOTHING`,
		login, hash,
	)
	if err != nil {
		return fmt.Errorf("insert operator: %w", err)
	}
	return nil
}

func (s *OperatorService) Authenticate(ctx context.Context, login, password string) (*model.Operator, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, login, password_hash, created_at FROM operators WHERE login = $1`, login)

	var op model.Operator
	if err := row.Scan(&op.ID, &op.Login, &op.PasswordHash, &op.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(op.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &op, nil
}
