// Package appointmenttest provides an in-memory appointment store for tests
// of packages that drive the workflow.
package appointmenttest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
)

// Store implements appointment.Repository with the same conditional-write
// semantics as the Postgres store. Its clock is settable so threshold
// boundaries can be tested.
type Store struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*appointment.Appointment
	now  time.Time

	// Err, when set, is returned by every call.
	Err error
	// Writes counts successful UpdateIfStatus calls.
	Writes int
}

func NewStore(now time.Time) *Store {
	return &Store{rows: make(map[uuid.UUID]*appointment.Appointment), now: now}
}

// Now returns the store clock.
func (s *Store) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetNow moves the store clock.
func (s *Store) SetNow(t time.Time) {
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
}

// Advance moves the store clock forward by d.
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

// Put stores a copy of a as is, for seeding.
func (s *Store) Put(a *appointment.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	s.rows[a.ID] = &cp
}

func (s *Store) Create(_ context.Context, a *appointment.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = appointment.StatusPending
	}
	a.CreatedAt = s.now
	a.UpdatedAt = s.now
	cp := *a
	s.rows[a.ID] = &cp
	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	row, ok := s.rows[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func matches(a *appointment.Appointment, f appointment.Filter) bool {
	switch {
	case f.PatientID != nil && a.PatientID != *f.PatientID:
		return false
	case f.DoctorID != nil && a.DoctorID != *f.DoctorID:
		return false
	case f.Status != "" && a.Status != f.Status:
		return false
	case f.Date != "" && a.Date != f.Date:
		return false
	case f.DateOnOrBefore != "" && a.Date > f.DateOnOrBefore:
		return false
	case f.IDPrefix != "" && !strings.HasPrefix(a.ID.String(), strings.ToLower(f.IDPrefix)):
		return false
	}
	return true
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func (s *Store) List(_ context.Context, f appointment.Filter, limit, offset int) ([]*appointment.Appointment, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	var out []*appointment.Appointment
	for _, row := range s.rows {
		if matches(row, f) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, limit, offset), len(out), nil
}

func (s *Store) UpdateIfStatus(_ context.Context, id uuid.UUID, cond appointment.Condition, p appointment.Patch) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	row, ok := s.rows[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	if row.Status != cond.Status {
		return nil, &appointment.StaleStateError{Expected: cond.Status, Current: row.Status}
	}
	if cond.MinAge > 0 && row.CreatedAt.After(s.now.Add(-cond.MinAge)) {
		return nil, fmt.Errorf("%w: created less than %s ago", appointment.ErrNotEligible, cond.MinAge)
	}

	row.Status = p.Status
	if p.Date != nil {
		row.Date = *p.Date
	}
	if p.Time != nil {
		row.Time = *p.Time
	}
	if row.OriginalDate == nil && p.OriginalDate != nil {
		v := *p.OriginalDate
		row.OriginalDate = &v
	}
	if row.OriginalTime == nil && p.OriginalTime != nil {
		v := *p.OriginalTime
		row.OriginalTime = &v
	}
	if p.SetConfirmedAt && row.ConfirmedAt == nil {
		t := s.now
		row.ConfirmedAt = &t
	}
	if p.CancellationReason != nil {
		row.CancellationReason = p.CancellationReason
	}
	if p.CancelledBy != nil {
		row.CancelledBy = p.CancelledBy
	}
	if p.RescheduleRequestedBy != nil {
		row.RescheduleRequestedBy = p.RescheduleRequestedBy
	}
	if p.RescheduleReason != nil {
		row.RescheduleReason = p.RescheduleReason
	}
	row.UpdatedAt = s.now
	s.Writes++

	cp := *row
	return &cp, nil
}

func (s *Store) ListStalled(_ context.Context, olderThan time.Duration, f appointment.Filter, limit, offset int) ([]*appointment.Stalled, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	f.Status = appointment.StatusPending
	cutoff := s.now.Add(-olderThan)
	var out []*appointment.Stalled
	for _, row := range s.rows {
		if matches(row, f) && !row.CreatedAt.After(cutoff) {
			out = append(out, appointment.NewStalled(row, s.now.Sub(row.CreatedAt)))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, offset), len(out), nil
}

// Notifier records notices and can be told to fail.
type Notifier struct {
	mu      sync.Mutex
	notices []appointment.Notice
	// Fail, when set, is returned for every notice and nothing is recorded.
	Fail error
}

func (n *Notifier) Notify(_ context.Context, notice appointment.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Fail != nil {
		return n.Fail
	}
	n.notices = append(n.notices, notice)
	return nil
}

// Notices returns a copy of everything delivered so far.
func (n *Notifier) Notices() []appointment.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]appointment.Notice(nil), n.notices...)
}

// For returns the notices delivered to one recipient.
func (n *Notifier) For(recipient uuid.UUID) []appointment.Notice {
	var out []appointment.Notice
	for _, notice := range n.Notices() {
		if notice.RecipientID == recipient {
			out = append(out, notice)
		}
	}
	return out
}

// Reset forgets recorded notices.
func (n *Notifier) Reset() {
	n.mu.Lock()
	n.notices = nil
	n.mu.Unlock()
}
