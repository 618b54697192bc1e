package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/vetchat/internal/domain"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

// Create inserts msg and fills in the server-assigned created_at.
func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (id, sender_id, receiver_id, content, read)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Read,
	).Scan(&msg.CreatedAt)
}

// GetByID returns (nil, nil) when no message has id.
func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, read, created_at
		FROM messages
		WHERE id = $1`

	var msg domain.Message
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.Read, &msg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepo) ListByParticipants(ctx context.Context, ids []string) ([]domain.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, read, created_at
		FROM messages
		WHERE sender_id = ANY($1) OR receiver_id = ANY($1)
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.Read, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
