package appointment

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory Repository used by tests and
// local development. It mirrors the Postgres ledger's semantics, including the
// overlap rejection on insert, so the service behaves identically on top of
// either implementation.
type MemoryRepository struct {
	mu           sync.RWMutex
	students     map[uuid.UUID]Student
	counselors   map[uuid.UUID]Counselor
	windows      map[uuid.UUID][]AvailabilityWindow
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	nextEventID  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		students:     make(map[uuid.UUID]Student),
		counselors:   make(map[uuid.UUID]Counselor),
		windows:      make(map[uuid.UUID][]AvailabilityWindow),
		appointments: make(map[uuid.UUID]Appointment),
		nextEventID:  1,
	}
}

// Seed helpers

func (r *MemoryRepository) AddStudent(s Student) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.students[s.ID] = s
}

func (r *MemoryRepository) AddCounselor(c Counselor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counselors[c.ID] = c
}

func (r *MemoryRepository) AddWindow(w AvailabilityWindow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows[w.CounselorID] = append(r.windows[w.CounselorID], w)
}

// Events returns a copy of the recorded audit log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events)
}

// Repository implementation

func (r *MemoryRepository) GetStudentByID(_ context.Context, id uuid.UUID) (*Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.students[id]
	if !ok {
		return nil, ErrStudentNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) GetCounselorByID(_ context.Context, id uuid.UUID) (*Counselor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.counselors[id]
	if !ok {
		return nil, ErrCounselorNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) ListWindows(_ context.Context, counselorID uuid.UUID, day time.Weekday) ([]AvailabilityWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []AvailabilityWindow
	for _, w := range r.windows[counselorID] {
		if w.DayOfWeek == day {
			result = append(result, w)
		}
	}
	slices.SortStableFunc(result, func(a, b AvailabilityWindow) int {
		return int(a.Start) - int(b.Start)
	})
	return result, nil
}

func (r *MemoryRepository) ListDayAppointments(_ context.Context, counselorID uuid.UUID, date time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dayAppointmentsLocked(counselorID, NormalizeDate(date)), nil
}

func (r *MemoryRepository) dayAppointmentsLocked(counselorID uuid.UUID, date time.Time) []Appointment {
	var result []Appointment
	for _, a := range r.appointments {
		if a.CounselorID == counselorID && a.Date.Equal(date) && a.Status != StatusCancelled {
			result = append(result, a)
		}
	}
	slices.SortFunc(result, func(a, b Appointment) int {
		return int(a.Start) - int(b.Start)
	})
	return result
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.appointments {
		if f.StudentID != nil && a.StudentID != *f.StudentID {
			continue
		}
		if f.CounselorID != nil && a.CounselorID != *f.CounselorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Type != nil && a.Type != *f.Type {
			continue
		}
		result = append(result, a)
	}
	slices.SortFunc(result, func(a, b Appointment) int {
		if !a.Date.Equal(b.Date) {
			if a.Date.After(b.Date) {
				return -1
			}
			return 1
		}
		return int(b.Start) - int(a.Start)
	})

	if f.Offset >= len(result) {
		return nil, nil
	}
	result = result[f.Offset:]
	if f.Limit > 0 && f.Limit < len(result) {
		result = result[:f.Limit]
	}
	return result, nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Same rule the Postgres exclusion constraint enforces.
	candidate := a.Interval()
	for _, existing := range r.dayAppointmentsLocked(a.CounselorID, NormalizeDate(a.Date)) {
		if candidate.Overlaps(existing.Interval()) {
			return nil, ErrSlotUnavailable
		}
	}

	created := *a
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	created.Date = NormalizeDate(created.Date)
	now := time.Now()
	created.CreatedAt = now
	created.UpdatedAt = now
	r.appointments[created.ID] = created
	return &created, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) SetRating(_ context.Context, id uuid.UUID, rating int, feedback *string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != StatusCompleted {
		return nil, ErrAppointmentNotFound
	}
	a.Rating = &rating
	a.Feedback = feedback
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) FindElapsed(_ context.Context, before time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.appointments {
		if (a.Status == StatusScheduled || a.Status == StatusConfirmed) && a.EndsBefore(before) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = r.nextEventID
	r.nextEventID++
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}
