package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/vetchat/internal/domain"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, first_name, last_name, role, clinic_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		user.ID, user.Email, user.FirstName, user.LastName,
		user.Role, user.ClinicID, user.PasswordHash, user.CreatedAt,
	)
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, "SELECT id, email, first_name, last_name, role, clinic_id, avatar_url, password_hash, created_at FROM users WHERE id = $1", id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, "SELECT id, email, first_name, last_name, role, clinic_id, avatar_url, password_hash, created_at FROM users WHERE lower(email) = lower($1)", email)
}

func (r *UserRepo) FindProfiles(ctx context.Context, ids []string) ([]domain.Profile, error) {
	query := `
		SELECT id, first_name, last_name, role, COALESCE(avatar_url, '')
		FROM users
		WHERE id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Role, &p.AvatarURL); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (r *UserRepo) FindClinic(ctx context.Context, participantID string) (string, error) {
	query := `
		SELECT clinic_id FROM users WHERE id = $1 AND clinic_id IS NOT NULL
		UNION ALL
		SELECT clinic_id FROM clients WHERE id = $1 AND clinic_id IS NOT NULL
		LIMIT 1`
	var clinicID string
	err := r.pool.QueryRow(ctx, query, participantID).Scan(&clinicID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return clinicID, err
}

func (r *UserRepo) scanUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role,
		&u.ClinicID, &u.AvatarURL, &u.PasswordHash, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &u, err
}
