package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ db queryable }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{db: pool} }

const notifCols = `id, recipient_id, type, title, message, priority, is_read,
	appointment_id, payload, created_at, read_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var (
		n        Notification
		typ, pri string
		payload  []byte
	)
	if err := row.Scan(&n.ID, &n.RecipientID, &typ, &n.Title, &n.Message, &pri, &n.IsRead,
		&n.AppointmentID, &payload, &n.CreatedAt, &n.ReadAt); err != nil {
		return nil, err
	}
	n.Type = Type(typ)
	n.Priority = Priority(pri)
	p, err := decodePayload(n.Type, payload)
	if err != nil {
		return nil, err
	}
	n.Payload = p
	return &n, nil
}

func (r *repoPG) Insert(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	payload, err := encodePayload(n.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO notifications (id, recipient_id, type, title, message, priority,
			appointment_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		n.ID, n.RecipientID, string(n.Type), n.Title, n.Message, string(n.Priority),
		n.AppointmentID, payload,
	).Scan(&n.CreatedAt)
}

func (r *repoPG) ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := ` FROM notifications WHERE recipient_id = $1 AND ($2::boolean = false OR is_read = false)`

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*)`+where, recipientID, unreadOnly).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `SELECT `+notifCols+where+`
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, recipientID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = false`,
		recipientID).Scan(&count)
	return count, err
}

func (r *repoPG) MarkRead(ctx context.Context, recipientID, id uuid.UUID) (*Notification, error) {
	n, err := scanNotification(r.db.QueryRow(ctx, `
		UPDATE notifications SET is_read = true, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notifCols, id, recipientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (r *repoPG) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications SET is_read = true, read_at = NOW()
		WHERE recipient_id = $1 AND is_read = false`, recipientID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
