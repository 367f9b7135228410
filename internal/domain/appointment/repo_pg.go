package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

const apptCols = `id, patient_id, doctor_id,
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'),
	duration_minutes, consultation_type, reason, status,
	created_at, updated_at, confirmed_at, cancellation_reason, cancelled_by,
	reschedule_requested_by, reschedule_reason,
	to_char(original_date, 'YYYY-MM-DD'), to_char(original_time, 'HH24:MI')`

func scanAppt(row pgx.Row, extra ...interface{}) (*Appointment, error) {
	var (
		a                        Appointment
		modality, status         string
		cancelledBy, requestedBy *string
	)
	dest := []interface{}{&a.ID, &a.PatientID, &a.DoctorID,
		&a.Date, &a.Time,
		&a.DurationMinutes, &modality, &a.Reason, &status,
		&a.CreatedAt, &a.UpdatedAt, &a.ConfirmedAt, &a.CancellationReason, &cancelledBy,
		&requestedBy, &a.RescheduleReason,
		&a.OriginalDate, &a.OriginalTime}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	a.ConsultationType = Modality(modality)
	a.Status = Status(status)
	if cancelledBy != nil {
		r := Role(*cancelledBy)
		a.CancelledBy = &r
	}
	if requestedBy != nil {
		p := Party(*requestedBy)
		a.RescheduleRequestedBy = &p
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	created, err := scanAppt(r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, appointment_time,
			duration_minutes, consultation_type, reason, status)
		VALUES ($1, $2, $3, $4::text::date, $5::text::time, $6, $7, $8, $9)
		RETURNING `+apptCols,
		a.ID, a.PatientID, a.DoctorID, a.Date, a.Time,
		a.DurationMinutes, string(a.ConsultationType), a.Reason, string(a.Status)))
	if err != nil {
		return storeErr("create appointment", err)
	}
	*a = *created
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppt(r.db.QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get appointment", err)
	}
	return a, nil
}

// where appends the filter predicates starting at placeholder idx.
func (f Filter) where(idx int) (string, []interface{}) {
	clause := ""
	var args []interface{}
	if f.PatientID != nil {
		clause += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.DoctorID != nil {
		clause += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.Status != "" {
		clause += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}
	if f.Date != "" {
		clause += fmt.Sprintf(` AND appointment_date = $%d::text::date`, idx)
		args = append(args, f.Date)
		idx++
	}
	if f.DateOnOrBefore != "" {
		clause += fmt.Sprintf(` AND appointment_date <= $%d::text::date`, idx)
		args = append(args, f.DateOnOrBefore)
		idx++
	}
	if f.IDPrefix != "" {
		clause += fmt.Sprintf(` AND id::text LIKE $%d || '%%'`, idx)
		args = append(args, strings.ToLower(f.IDPrefix))
	}
	return clause, args
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	clause, args := f.where(1)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE TRUE`+clause, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count appointments", err)
	}

	n := len(args)
	query := `SELECT ` + apptCols + ` FROM appointments WHERE TRUE` + clause +
		fmt.Sprintf(` ORDER BY appointment_date, appointment_time, id LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, storeErr("list appointments", err)
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, 0, storeErr("scan appointment", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("list appointments", err)
	}
	return items, total, nil
}

func optString[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func (r *repoPG) UpdateIfStatus(ctx context.Context, id uuid.UUID, cond Condition, patch Patch) (*Appointment, error) {
	a, err := scanAppt(r.db.QueryRow(ctx, `
		UPDATE appointments SET
			status = $3,
			appointment_date = COALESCE($4::text::date, appointment_date),
			appointment_time = COALESCE($5::text::time, appointment_time),
			original_date = COALESCE(original_date, $6::text::date),
			original_time = COALESCE(original_time, $7::text::time),
			confirmed_at = CASE WHEN $8::boolean THEN COALESCE(confirmed_at, NOW()) ELSE confirmed_at END,
			cancellation_reason = COALESCE($9, cancellation_reason),
			cancelled_by = COALESCE($10, cancelled_by),
			reschedule_requested_by = COALESCE($11, reschedule_requested_by),
			reschedule_reason = COALESCE($12, reschedule_reason),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
			AND ($13::double precision = 0 OR created_at <= NOW() - make_interval(secs => $13::double precision))
		RETURNING `+apptCols,
		id, string(cond.Status), string(patch.Status),
		patch.Date, patch.Time, patch.OriginalDate, patch.OriginalTime,
		patch.SetConfirmedAt, patch.CancellationReason, optString(patch.CancelledBy),
		optString(patch.RescheduleRequestedBy), patch.RescheduleReason,
		cond.MinAge.Seconds()))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, storeErr("update appointment", err)
	}

	// Nothing matched: say why without touching the row.
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != cond.Status {
		return nil, &StaleStateError{Expected: cond.Status, Current: current.Status}
	}
	return nil, fmt.Errorf("%w: created less than %s ago", ErrNotEligible, cond.MinAge)
}

func (r *repoPG) ListStalled(ctx context.Context, olderThan time.Duration, f Filter, limit, offset int) ([]*Stalled, int, error) {
	f.Status = StatusPending
	clause, args := f.where(2)
	base := ` FROM appointments
		WHERE created_at <= NOW() - make_interval(secs => $1::double precision)` + clause
	args = append([]interface{}{olderThan.Seconds()}, args...)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count stalled appointments", err)
	}

	n := len(args)
	query := `SELECT ` + apptCols + `, EXTRACT(EPOCH FROM NOW() - created_at)::double precision` + base +
		fmt.Sprintf(` ORDER BY created_at ASC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, storeErr("list stalled appointments", err)
	}
	defer rows.Close()

	var items []*Stalled
	for rows.Next() {
		var secs float64
		a, err := scanAppt(rows, &secs)
		if err != nil {
			return nil, 0, storeErr("scan stalled appointment", err)
		}
		items = append(items, NewStalled(a, time.Duration(secs*float64(time.Second))))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("list stalled appointments", err)
	}
	return items, total, nil
}
