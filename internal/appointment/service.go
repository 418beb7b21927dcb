package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusmind/scheduling/internal/config"
	redisclient "github.com/campusmind/scheduling/internal/redis"
)

const (
	EventAppointmentCreated      = "APPOINTMENT_CREATED"
	EventAppointmentTransitioned = "APPOINTMENT_TRANSITIONED"
	EventAppointmentRated        = "APPOINTMENT_RATED"
	EventAppointmentNoShow       = "APPOINTMENT_NO_SHOW"
)

var (
	ErrSlotUnavailable       = errors.New("slot unavailable")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrInvalidState          = errors.New("appointment is not in a ratable state")
	ErrForbidden             = errors.New("actor may not perform this action")
	ErrCounselorNotAccepting = errors.New("counselor is not accepting appointments")
)

// ValidationError reports malformed or out-of-range input. The caller fixes
// the request; nothing is retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Notifier delivers fire-and-forget notifications to external collaborators.
// Failures are logged, never propagated to the booking caller.
type Notifier interface {
	CounselorBooked(ctx context.Context, appt *Appointment) error
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	cfg      config.Config
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, cfg config.Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) granularity() int {
	if s.cfg.GranularityMinutes > 0 {
		return s.cfg.GranularityMinutes
	}
	return DefaultGranularityMinutes
}

// AvailableSlots computes the free bookable slots for a counselor on a date.
// Past dates are permitted; only booking rejects them. A weekday with no
// configured windows yields an empty list, not an error.
func (s *Service) AvailableSlots(ctx context.Context, counselorID uuid.UUID, date time.Time) ([]Slot, error) {
	if _, err := s.repo.GetCounselorByID(ctx, counselorID); err != nil {
		return nil, err
	}

	date = NormalizeDate(date)

	windows, err := s.repo.ListWindows(ctx, counselorID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}

	booked, err := s.repo.ListDayAppointments(ctx, counselorID, date)
	if err != nil {
		return nil, fmt.Errorf("list day appointments: %w", err)
	}

	return slices.Collect(GenerateSlots(windows, BusyIntervals(booked), s.granularity())), nil
}

type CreateRequest struct {
	StudentID       uuid.UUID
	CounselorID     uuid.UUID
	Date            time.Time
	Time            string // 24-hour HH:MM
	DurationMinutes int
	Type            SessionType
	Notes           string
}

// CreateAppointment books a slot for a student. The per-counselor-day lock
// serializes bookings against the same calendar day, and the ledger's
// conditional insert re-verifies the conflict at commit time, so two
// concurrent requests for overlapping intervals can never both succeed.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*Appointment, error) {
	start, err := ParseMinuteOfDay(req.Time)
	if err != nil {
		return nil, invalidf("time", "%v", err)
	}
	if req.DurationMinutes < MinDurationMinutes || req.DurationMinutes > MaxDurationMinutes {
		return nil, invalidf("duration_minutes", "must be between %d and %d", MinDurationMinutes, MaxDurationMinutes)
	}
	if _, err := ParseSessionType(string(req.Type)); err != nil {
		return nil, invalidf("type", "%v", err)
	}
	if len(req.Notes) > MaxNotesLength {
		return nil, invalidf("notes", "must not exceed %d characters", MaxNotesLength)
	}

	date := NormalizeDate(req.Date)
	if date.Before(NormalizeDate(s.now())) {
		return nil, invalidf("date", "must not be in the past")
	}

	if _, err := s.repo.GetStudentByID(ctx, req.StudentID); err != nil {
		return nil, err
	}
	counselor, err := s.repo.GetCounselorByID(ctx, req.CounselorID)
	if err != nil {
		return nil, err
	}
	if !counselor.AcceptingAppointments {
		return nil, ErrCounselorNotAccepting
	}

	var created *Appointment

	err = s.locker.WithCounselorDayLock(ctx, req.CounselorID, date, func(lockCtx context.Context) error {
		windows, err := s.repo.ListWindows(lockCtx, req.CounselorID, date.Weekday())
		if err != nil {
			return fmt.Errorf("list availability windows: %w", err)
		}
		if !FitsWindow(windows, start, req.DurationMinutes, s.granularity()) {
			return ErrSlotUnavailable
		}

		booked, err := s.repo.ListDayAppointments(lockCtx, req.CounselorID, date)
		if err != nil {
			return fmt.Errorf("list day appointments: %w", err)
		}
		requested := Interval{Start: start, End: start.Add(req.DurationMinutes)}
		for i := range booked {
			if requested.Overlaps(booked[i].Interval()) {
				return ErrSlotUnavailable
			}
		}

		// The insert itself is conditioned on the absence of a conflicting
		// row, closing the race against writers that never saw our read.
		appt, err := s.repo.CreateAppointment(lockCtx, &Appointment{
			StudentID:       req.StudentID,
			CounselorID:     req.CounselorID,
			Date:            date,
			Start:           start,
			DurationMinutes: req.DurationMinutes,
			Type:            req.Type,
			Status:          StatusScheduled,
			Notes:           req.Notes,
		})
		if err != nil {
			return err
		}

		created = appt
		s.logEvent(lockCtx, appt.ID, EventAppointmentCreated, map[string]any{
			"student_id":   req.StudentID.String(),
			"counselor_id": req.CounselorID.String(),
			"date":         date.Format("2006-01-02"),
			"time":         start.String(),
			"duration":     req.DurationMinutes,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: another booking for this counselor is in progress", ErrSlotUnavailable)
		}
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.CounselorBooked(ctx, created); err != nil {
			s.log.Warn("counselor notification failed",
				zap.String("appointment_id", created.ID.String()),
				zap.Error(err))
		}
	}

	return created, nil
}

// Transition moves an appointment to the target status on behalf of an actor.
// The update is a compare-and-swap on the current status, so two concurrent
// transitions cannot both apply.
func (s *Service) Transition(ctx context.Context, appointmentID, actorID uuid.UUID, role Role, target Status) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(appt.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, target)
	}
	if !RoleMayTransition(role, appt.Status, target) {
		return nil, ErrForbidden
	}
	switch role {
	case RoleStudent:
		if appt.StudentID != actorID {
			return nil, ErrForbidden
		}
	case RoleCounselor:
		if appt.CounselorID != actorID {
			return nil, ErrForbidden
		}
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, target)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Row exists but the status guard failed: someone else
			// transitioned it first.
			return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("transition appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentTransitioned, map[string]any{
		"from":       string(appt.Status),
		"to":         string(target),
		"actor_id":   actorID.String(),
		"actor_role": string(role),
	})

	return updated, nil
}

// Rate attaches a rating and optional feedback to a completed appointment.
// Re-rating overwrites: last write wins, no history kept.
func (s *Service) Rate(ctx context.Context, appointmentID, studentID uuid.UUID, rating int, feedback string) (*Appointment, error) {
	if rating < MinRating || rating > MaxRating {
		return nil, invalidf("rating", "must be between %d and %d", MinRating, MaxRating)
	}
	if len(feedback) > MaxNotesLength {
		return nil, invalidf("feedback", "must not exceed %d characters", MaxNotesLength)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.StudentID != studentID {
		return nil, ErrForbidden
	}
	if appt.Status != StatusCompleted {
		return nil, ErrInvalidState
	}

	var fb *string
	if feedback != "" {
		fb = &feedback
	}

	updated, err := s.repo.SetRating(ctx, appt.ID, rating, fb)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("set rating: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentRated, map[string]any{
		"rating": rating,
	})

	return updated, nil
}

// GetAppointment returns a single appointment, restricted to its participants
// and admins.
func (s *Service) GetAppointment(ctx context.Context, appointmentID, actorID uuid.UUID, role Role) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	switch role {
	case RoleAdmin:
	case RoleStudent:
		if appt.StudentID != actorID {
			return nil, ErrForbidden
		}
	case RoleCounselor:
		if appt.CounselorID != actorID {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	return appt, nil
}

type ListOptions struct {
	Status string
	Type   string
	Page   int
	Limit  int
}

// ListAppointments returns a page of appointments scoped to the caller:
// students and counselors see their own, admins see everything.
func (s *Service) ListAppointments(ctx context.Context, actorID uuid.UUID, role Role, opts ListOptions) ([]Appointment, error) {
	f := ListFilter{}

	switch role {
	case RoleStudent:
		f.StudentID = &actorID
	case RoleCounselor:
		f.CounselorID = &actorID
	case RoleAdmin:
	default:
		return nil, ErrForbidden
	}

	if opts.Status != "" {
		st, err := ParseStatus(opts.Status)
		if err != nil {
			return nil, invalidf("status", "%v", err)
		}
		f.Status = &st
	}
	if opts.Type != "" {
		ty, err := ParseSessionType(opts.Type)
		if err != nil {
			return nil, invalidf("type", "%v", err)
		}
		f.Type = &ty
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	f.Limit = limit
	f.Offset = (page - 1) * limit

	appts, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// MarkOverdueNoShows sweeps scheduled/confirmed appointments whose interval
// has fully elapsed and moves them to no_show through the state machine. It is
// called periodically by the no-show worker and returns how many appointments
// it transitioned.
func (s *Service) MarkOverdueNoShows(ctx context.Context) (int, error) {
	now := s.now()
	overdue, err := s.repo.FindElapsed(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find elapsed appointments: %w", err)
	}

	marked := 0
	for _, appt := range overdue {
		if !CanTransition(appt.Status, StatusNoShow) {
			continue
		}
		if _, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusNoShow); err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Error("failed to mark appointment no-show",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err))
			continue
		}
		marked++
		s.logEvent(ctx, appt.ID, EventAppointmentNoShow, map[string]any{
			"reason": "worker",
			"from":   string(appt.Status),
		})
	}

	return marked, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload",
			zap.String("event_type", eventType),
			zap.Error(err))
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}
