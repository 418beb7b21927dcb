package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the caller as reported by the upstream auth layer. The
// scheduling core trusts it once supplied.
type Role string

const (
	RoleStudent   Role = "student"
	RoleCounselor Role = "counselor"
	RoleAdmin     Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStudent, RoleCounselor, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// IsTerminal reports whether no further transition may leave this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

type SessionType string

const (
	TypeIndividual SessionType = "individual"
	TypeGroup      SessionType = "group"
	TypeEmergency  SessionType = "emergency"
)

func ParseSessionType(s string) (SessionType, error) {
	switch SessionType(s) {
	case TypeIndividual, TypeGroup, TypeEmergency:
		return SessionType(s), nil
	}
	return "", fmt.Errorf("unknown session type %q", s)
}

const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 180
	MaxNotesLength     = 2000
	MinRating          = 1
	MaxRating          = 5
)

// MinuteOfDay is a time of day expressed as minutes since midnight.
type MinuteOfDay int

// ParseMinuteOfDay parses a 24-hour "HH:MM" string.
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("time %q is not in HH:MM format", s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("time %q is not in HH:MM format", s)
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("time %q is out of range", s)
	}
	return MinuteOfDay(h*60 + m), nil
}

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// Add returns the minute-of-day shifted forward by the given number of
// minutes. Intervals are half-open and compared numerically, so the result
// may point past the end of the day.
func (m MinuteOfDay) Add(minutes int) MinuteOfDay {
	return m + MinuteOfDay(minutes)
}

// Interval is a half-open [Start, End) span within a single day.
type Interval struct {
	Start MinuteOfDay
	End   MinuteOfDay
}

func (i Interval) Overlaps(other Interval) bool {
	return i.Start < other.End && other.Start < i.End
}

// Slot is a candidate bookable interval derived from a counselor's recurring
// availability minus existing bookings.
type Slot struct {
	Start MinuteOfDay
	End   MinuteOfDay
}

type Student struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Counselor struct {
	ID                    uuid.UUID
	Name                  string
	Specialty             *string
	AcceptingAppointments bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// AvailabilityWindow is one recurring weekly interval during which a counselor
// accepts appointments. Windows for the same counselor and weekday never
// overlap; the store enforces that.
type AvailabilityWindow struct {
	ID          uuid.UUID
	CounselorID uuid.UUID
	DayOfWeek   time.Weekday
	Start       MinuteOfDay
	End         MinuteOfDay
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Appointment struct {
	ID              uuid.UUID
	StudentID       uuid.UUID
	CounselorID     uuid.UUID
	Date            time.Time // calendar date, midnight UTC
	Start           MinuteOfDay
	DurationMinutes int
	Type            SessionType
	Status          Status
	Notes           string
	Rating          *int
	Feedback        *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Interval returns the appointment's occupied span within its day.
func (a *Appointment) Interval() Interval {
	return Interval{Start: a.Start, End: a.Start.Add(a.DurationMinutes)}
}

// EndsBefore reports whether the appointment's full interval has elapsed at
// the given instant.
func (a *Appointment) EndsBefore(t time.Time) bool {
	end := a.Date.Add(time.Duration(int(a.Start)+a.DurationMinutes) * time.Minute)
	return end.Before(t)
}

// NormalizeDate strips the time component, keeping the calendar date in UTC.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
