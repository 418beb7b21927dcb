// Package notify enqueues counselor notifications on the platform's task
// queue. Delivery (email, push) is handled by an external worker; this side
// only publishes, and the booking path treats failures as non-fatal.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/campusmind/scheduling/internal/appointment"
)

const (
	TaskCounselorBooked = "notify:counselor_booked"
	queueName           = "notifications"
)

type CounselorBookedPayload struct {
	AppointmentID string `json:"appointment_id"`
	CounselorID   string `json:"counselor_id"`
	StudentID     string `json:"student_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Duration      int    `json:"duration_minutes"`
	Type          string `json:"type"`
}

type Enqueuer struct {
	client *asynq.Client
	log    *zap.Logger
}

func NewEnqueuer(redisAddr, username, password string, log *zap.Logger) *Enqueuer {
	if log == nil {
		log = zap.NewNop()
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Username: username,
		Password: password,
	})
	return &Enqueuer{client: client, log: log}
}

func (e *Enqueuer) CounselorBooked(ctx context.Context, appt *appointment.Appointment) error {
	payload, err := json.Marshal(CounselorBookedPayload{
		AppointmentID: appt.ID.String(),
		CounselorID:   appt.CounselorID.String(),
		StudentID:     appt.StudentID.String(),
		Date:          appt.Date.Format("2006-01-02"),
		Time:          appt.Start.String(),
		Duration:      appt.DurationMinutes,
		Type:          string(appt.Type),
	})
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	task := asynq.NewTask(TaskCounselorBooked, payload)
	info, err := e.client.EnqueueContext(ctx, task, asynq.Queue(queueName), asynq.MaxRetry(3))
	if err != nil {
		return fmt.Errorf("enqueue counselor notification: %w", err)
	}

	e.log.Debug("counselor notification enqueued",
		zap.String("task_id", info.ID),
		zap.String("appointment_id", appt.ID.String()))
	return nil
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}
