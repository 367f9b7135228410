package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Notification
	seq   time.Time
	err   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Notification), seq: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (m *mockRepo) Insert(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	m.seq = m.seq.Add(time.Minute)
	n.CreatedAt = m.seq
	cp := *n
	m.items[n.ID] = &cp
	return nil
}

func (m *mockRepo) ListByRecipient(_ context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	var out []*Notification
	for _, n := range m.items {
		if n.RecipientID == recipientID && (!unreadOnly || !n.IsRead) {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) CountUnread(_ context.Context, recipientID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	count := 0
	for _, n := range m.items {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) MarkRead(_ context.Context, recipientID, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	n, ok := m.items[id]
	if !ok || n.RecipientID != recipientID {
		return nil, ErrNotFound
	}
	if !n.IsRead {
		now := m.seq
		n.IsRead, n.ReadAt = true, &now
	}
	cp := *n
	return &cp, nil
}

func (m *mockRepo) MarkAllRead(_ context.Context, recipientID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	count := 0
	for _, n := range m.items {
		if n.RecipientID == recipientID && !n.IsRead {
			now := m.seq
			n.IsRead, n.ReadAt = true, &now
			count++
		}
	}
	return count, nil
}

var errConnRefused = errors.New("connection refused")

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *countingObserver) ObserveNotification(_, _, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string]int)
	}
	o.results[result]++
}
