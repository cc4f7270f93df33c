package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/saurabhrjk/admin-connect-chat/internal/conversation"
	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
)

const messageColumns = `id, sender_id, recipient_id, content, type, file_url, is_read, created_at`

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_key, sender_id, recipient_id, content, type, file_url, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		m.ID,
		conversation.Key(m.SenderID, m.RecipientID),
		m.SenderID,
		m.RecipientID,
		m.Content,
		string(m.Type),
		m.FileURL,
		m.IsRead,
		m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) FindByFileURL(ctx context.Context, fileURL, userID string) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE file_url = $1 AND (sender_id = $2 OR recipient_id = $2)
		LIMIT 1
	`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, fileURL, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message by file: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at ASC, seq ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MarkRead relies on UPDATE ... RETURNING so that concurrent readers never
// report the same id as changed twice.
func (r *MessageRepo) MarkRead(ctx context.Context, recipientID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, recipientID)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE recipient_id = $1 AND NOT is_read AND id IN (`+strings.Join(placeholders, ",")+`)
		RETURNING id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	defer rows.Close()

	var changed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		changed = append(changed, id)
	}
	return changed, rows.Err()
}

func scanMessage(row scanner) (*domain.Message, error) {
	m := &domain.Message{}
	var typ string
	if err := row.Scan(
		&m.ID,
		&m.SenderID,
		&m.RecipientID,
		&m.Content,
		&typ,
		&m.FileURL,
		&m.IsRead,
		&m.Timestamp,
	); err != nil {
		return nil, err
	}
	m.Type = domain.MessageType(typ)
	return m, nil
}
