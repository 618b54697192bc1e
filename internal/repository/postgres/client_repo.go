package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/vetchat/internal/domain"
)

type ClientRepo struct {
	pool *pgxpool.Pool
}

func NewClientRepo(pool *pgxpool.Pool) *ClientRepo {
	return &ClientRepo{pool: pool}
}

func (r *ClientRepo) FindByEmail(ctx context.Context, email string) (*domain.Client, error) {
	query := `
		SELECT id, email, first_name, last_name, clinic_id, created_at
		FROM clients
		WHERE lower(email) = lower($1)
		ORDER BY created_at ASC
		LIMIT 1`
	var c domain.Client
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.ClinicID, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &c, err
}
