package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/vetchat/internal/domain"
)

type StaffRepo struct {
	pool *pgxpool.Pool
}

func NewStaffRepo(pool *pgxpool.Pool) *StaffRepo {
	return &StaffRepo{pool: pool}
}

func (r *StaffRepo) FindClinicStaff(ctx context.Context, clinicID, role string, exclude []string) (string, error) {
	roles := domain.StaffRoles
	if role != "" {
		roles = []string{role}
	}
	// A NULL array would make the ALL comparison NULL and match nothing.
	if exclude == nil {
		exclude = []string{}
	}

	query := `
		SELECT id FROM users
		WHERE clinic_id = $1 AND role = ANY($2) AND id <> ALL($3)
		ORDER BY created_at ASC
		LIMIT 1`
	var id string
	err := r.pool.QueryRow(ctx, query, clinicID, roles, exclude).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}
