package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrStudentNotFound     = errors.New("student not found")
	ErrCounselorNotFound   = errors.New("counselor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// ListFilter narrows ListAppointments. Nil fields are unconstrained. The
// service fills StudentID or CounselorID from the caller's identity so that
// non-admins only ever see their own appointments.
type ListFilter struct {
	StudentID   *uuid.UUID
	CounselorID *uuid.UUID
	Status      *Status
	Type        *SessionType
	Limit       int
	Offset      int
}

// Repository contains all store interactions needed by the service. The
// appointments table is the booking ledger: the authoritative record set for
// conflict checks. Rows are never deleted; cancellation is a status change.
type Repository interface {
	GetStudentByID(ctx context.Context, id uuid.UUID) (*Student, error)
	GetCounselorByID(ctx context.Context, id uuid.UUID) (*Counselor, error)

	// Availability store reads.
	ListWindows(ctx context.Context, counselorID uuid.UUID, day time.Weekday) ([]AvailabilityWindow, error)

	// Ledger reads. ListDayAppointments returns every non-cancelled
	// appointment for the counselor on the given date.
	ListDayAppointments(ctx context.Context, counselorID uuid.UUID, date time.Time) ([]Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)

	// CreateAppointment inserts atomically; the store rejects the insert if a
	// non-cancelled appointment overlaps the same counselor+date interval,
	// in which case ErrSlotUnavailable is returned.
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// UpdateAppointmentStatus is a compare-and-swap on the current status.
	// It returns ErrAppointmentNotFound when no row matches id+from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// SetRating writes rating+feedback only while the appointment is
	// completed; returns ErrAppointmentNotFound when no row matches.
	SetRating(ctx context.Context, id uuid.UUID, rating int, feedback *string) (*Appointment, error)

	// FindElapsed returns scheduled/confirmed appointments whose full
	// interval ended before the given instant. Used by the no-show sweep.
	FindElapsed(ctx context.Context, before time.Time) ([]Appointment, error)

	// Event audit log.
	InsertEvent(ctx context.Context, ev EventLog) error
}
