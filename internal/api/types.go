package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/campusmind/scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	CounselorID     string `json:"counselor_id"`
	Date            string `json:"date"` // YYYY-MM-DD
	Time            string `json:"time"` // HH:MM
	DurationMinutes int    `json:"duration_minutes"`
	Type            string `json:"type"`
	Notes           string `json:"notes,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status"`
}

type RatingRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	StudentID       uuid.UUID `json:"student_id"`
	CounselorID     uuid.UUID `json:"counselor_id"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	Rating          *int      `json:"rating,omitempty"`
	Feedback        *string   `json:"feedback,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		StudentID:       a.StudentID,
		CounselorID:     a.CounselorID,
		Date:            a.Date.Format("2006-01-02"),
		Time:            a.Start.String(),
		DurationMinutes: a.DurationMinutes,
		Type:            string(a.Type),
		Status:          string(a.Status),
		Notes:           a.Notes,
		Rating:          a.Rating,
		Feedback:        a.Feedback,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type SlotResponse struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type SlotListResponse struct {
	CounselorID uuid.UUID      `json:"counselor_id"`
	Date        string         `json:"date"`
	Slots       []SlotResponse `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
