package notification

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the notification store. Every read and write is scoped to
// the recipient.
type Repository interface {
	Insert(ctx context.Context, n *Notification) error
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error)
	// MarkRead returns ErrNotFound when id does not belong to recipientID.
	MarkRead(ctx context.Context, recipientID, id uuid.UUID) (*Notification, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int, error)
}
