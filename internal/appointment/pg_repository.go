package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository is the Postgres booking ledger. The appointments table carries
// an exclusion constraint over (counselor_id, date, minute range) that skips
// cancelled rows; CreateAppointment relies on it for the commit-time conflict
// guarantee.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, student_id, counselor_id, date, start_minute, duration_minutes, type, status, notes, rating, feedback, created_at, updated_at`

// Helpers

func scanStudent(row pgx.Row) (*Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.Name, &s.Email, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanCounselor(row pgx.Row) (*Counselor, error) {
	var c Counselor
	err := row.Scan(&c.ID, &c.Name, &c.Specialty, &c.AcceptingAppointments, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCounselorNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var day, start, end int
	err := row.Scan(&w.ID, &w.CounselorID, &day, &start, &end, &w.IsAvailable, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.DayOfWeek = time.Weekday(day)
	w.Start = MinuteOfDay(start)
	w.End = MinuteOfDay(end)
	return &w, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start int
	err := row.Scan(
		&a.ID,
		&a.StudentID,
		&a.CounselorID,
		&a.Date,
		&start,
		&a.DurationMinutes,
		&a.Type,
		&a.Status,
		&a.Notes,
		&a.Rating,
		&a.Feedback,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Start = MinuteOfDay(start)
	a.Date = NormalizeDate(a.Date)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) GetStudentByID(ctx context.Context, id uuid.UUID) (*Student, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM students
		WHERE id = $1
	`, id)
	return scanStudent(row)
}

func (r *PgRepository) GetCounselorByID(ctx context.Context, id uuid.UUID) (*Counselor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, accepting_appointments, created_at, updated_at
		FROM counselors
		WHERE id = $1
	`, id)
	return scanCounselor(row)
}

func (r *PgRepository) ListWindows(ctx context.Context, counselorID uuid.UUID, day time.Weekday) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, counselor_id, day_of_week, start_minute, end_minute, is_available, created_at, updated_at
		FROM availability_windows
		WHERE counselor_id = $1 AND day_of_week = $2
		ORDER BY start_minute
	`, counselorID, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListDayAppointments(ctx context.Context, counselorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE counselor_id = $1
		  AND date = $2
		  AND status <> 'cancelled'
		ORDER BY start_minute
	`, counselorID, NormalizeDate(date))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	var args []any

	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND %s = $%d", clause, len(args))
	}

	if f.StudentID != nil {
		add("student_id", *f.StudentID)
	}
	if f.CounselorID != nil {
		add("counselor_id", *f.CounselorID)
	}
	if f.Status != nil {
		add("status", *f.Status)
	}
	if f.Type != nil {
		add("type", *f.Type)
	}

	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY date DESC, start_minute DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, student_id, counselor_id, date, start_minute, duration_minutes, type, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, a.StudentID, a.CounselorID, NormalizeDate(a.Date), int(a.Start), a.DurationMinutes, a.Type, a.Status, a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505") {
			// Exclusion constraint rejected an overlapping booking: the
			// other writer won the race.
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) SetRating(ctx context.Context, id uuid.UUID, rating int, feedback *string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET rating = $2,
		    feedback = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'completed'
		RETURNING `+appointmentColumns+`
	`, id, rating, feedback)
	return scanAppointment(row)
}

func (r *PgRepository) FindElapsed(ctx context.Context, before time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND date + make_interval(mins => start_minute + duration_minutes) < $1
	`, before)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
