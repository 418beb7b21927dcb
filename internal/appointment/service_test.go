package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusmind/scheduling/internal/config"
)

type passLocker struct{}

func (passLocker) WithCounselorDayLock(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(context.Context) error) error {
	return fn(ctx)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *recordingNotifier) CounselorBooked(context.Context, *Appointment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type fixture struct {
	svc       *Service
	repo      *MemoryRepository
	notifier  *recordingNotifier
	student   Student
	counselor Counselor
}

// newFixture builds a service over the in-memory ledger with one student and
// one counselor available Mondays 09:00-10:00.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	notifier := &recordingNotifier{}
	svc := NewService(repo, passLocker{}, notifier, config.Config{GranularityMinutes: 15}, zap.NewNop())

	student := Student{ID: uuid.New(), Name: "Jamie Park"}
	counselor := Counselor{ID: uuid.New(), Name: "Dr. Okafor", AcceptingAppointments: true}
	repo.AddStudent(student)
	repo.AddCounselor(counselor)

	start, err := ParseMinuteOfDay("09:00")
	require.NoError(t, err)
	end, err := ParseMinuteOfDay("10:00")
	require.NoError(t, err)
	repo.AddWindow(AvailabilityWindow{
		ID:          uuid.New(),
		CounselorID: counselor.ID,
		DayOfWeek:   time.Monday,
		Start:       start,
		End:         end,
		IsAvailable: true,
	})

	return &fixture{svc: svc, repo: repo, notifier: notifier, student: student, counselor: counselor}
}

// nextMonday returns the next Monday strictly after today.
func nextMonday() time.Time {
	d := NormalizeDate(time.Now()).AddDate(0, 0, 1)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func (f *fixture) book(t *testing.T, hhmm string, duration int) *Appointment {
	t.Helper()
	appt, err := f.svc.CreateAppointment(context.Background(), CreateRequest{
		StudentID:       f.student.ID,
		CounselorID:     f.counselor.ID,
		Date:            nextMonday(),
		Time:            hhmm,
		DurationMinutes: duration,
		Type:            TypeIndividual,
	})
	require.NoError(t, err)
	return appt
}

func TestAvailableSlots_BookingRemovesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monday := nextMonday()

	slots, err := f.svc.AvailableSlots(ctx, f.counselor.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:15", "09:30", "09:45"}, slotStarts(slots))

	f.book(t, "09:15", 15)

	slots, err = f.svc.AvailableSlots(ctx, f.counselor.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30", "09:45"}, slotStarts(slots))
}

func TestAvailableSlots_UnknownCounselor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AvailableSlots(context.Background(), uuid.New(), nextMonday())
	assert.ErrorIs(t, err, ErrCounselorNotFound)
}

func TestAvailableSlots_EmptyWeekday(t *testing.T) {
	f := newFixture(t)

	// No windows configured for Tuesday.
	tuesday := nextMonday().AddDate(0, 0, 1)
	slots, err := f.svc.AvailableSlots(context.Background(), f.counselor.ID, tuesday)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestAvailableSlots_PastDateIsReadable(t *testing.T) {
	f := newFixture(t)

	lastMonday := nextMonday().AddDate(0, 0, -14)
	slots, err := f.svc.AvailableSlots(context.Background(), f.counselor.ID, lastMonday)
	require.NoError(t, err)
	assert.Len(t, slots, 4)
}

func TestCreateAppointment_Success(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, "09:00", 30)

	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, f.student.ID, appt.StudentID)
	assert.Equal(t, "09:00", appt.Start.String())
	assert.Equal(t, 30, appt.DurationMinutes)
	assert.Equal(t, 1, f.notifier.count())

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentCreated, events[0].EventType)
}

func TestCreateAppointment_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := CreateRequest{
		StudentID:       f.student.ID,
		CounselorID:     f.counselor.ID,
		Date:            nextMonday(),
		Time:            "09:00",
		DurationMinutes: 30,
		Type:            TypeIndividual,
	}

	testCases := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"bad time format", func(r *CreateRequest) { r.Time = "9am" }},
		{"out of range time", func(r *CreateRequest) { r.Time = "25:00" }},
		{"duration too short", func(r *CreateRequest) { r.DurationMinutes = 10 }},
		{"duration too long", func(r *CreateRequest) { r.DurationMinutes = 181 }},
		{"unknown type", func(r *CreateRequest) { r.Type = "telepathy" }},
		{"past date", func(r *CreateRequest) { r.Date = time.Now().AddDate(0, 0, -1) }},
		{"oversized notes", func(r *CreateRequest) {
			r.Notes = string(make([]byte, MaxNotesLength+1))
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			_, err := f.svc.CreateAppointment(ctx, req)
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestCreateAppointment_UnknownParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := CreateRequest{
		StudentID:       uuid.New(),
		CounselorID:     f.counselor.ID,
		Date:            nextMonday(),
		Time:            "09:00",
		DurationMinutes: 15,
		Type:            TypeIndividual,
	}
	_, err := f.svc.CreateAppointment(ctx, req)
	assert.ErrorIs(t, err, ErrStudentNotFound)

	req.StudentID = f.student.ID
	req.CounselorID = uuid.New()
	_, err = f.svc.CreateAppointment(ctx, req)
	assert.ErrorIs(t, err, ErrCounselorNotFound)
}

func TestCreateAppointment_CounselorNotAccepting(t *testing.T) {
	f := newFixture(t)

	closed := Counselor{ID: uuid.New(), Name: "Dr. Closed", AcceptingAppointments: false}
	f.repo.AddCounselor(closed)

	_, err := f.svc.CreateAppointment(context.Background(), CreateRequest{
		StudentID:       f.student.ID,
		CounselorID:     closed.ID,
		Date:            nextMonday(),
		Time:            "09:00",
		DurationMinutes: 15,
		Type:            TypeIndividual,
	})
	assert.ErrorIs(t, err, ErrCounselorNotAccepting)
}

func TestCreateAppointment_OutsideAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testCases := []struct {
		name     string
		time     string
		duration int
	}{
		{"before window", "08:00", 15},
		{"after window", "10:00", 15},
		{"misaligned start", "09:05", 15},
		{"overruns window", "09:45", 30},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateAppointment(ctx, CreateRequest{
				StudentID:       f.student.ID,
				CounselorID:     f.counselor.ID,
				Date:            nextMonday(),
				Time:            tc.time,
				DurationMinutes: tc.duration,
				Type:            TypeIndividual,
			})
			assert.ErrorIs(t, err, ErrSlotUnavailable)
		})
	}
}

func TestCreateAppointment_ConflictRejected(t *testing.T) {
	f := newFixture(t)

	f.book(t, "09:15", 15)

	_, err := f.svc.CreateAppointment(context.Background(), CreateRequest{
		StudentID:       f.student.ID,
		CounselorID:     f.counselor.ID,
		Date:            nextMonday(),
		Time:            "09:15",
		DurationMinutes: 15,
		Type:            TypeIndividual,
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestCreateAppointment_CancelledSlotIsRebookable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "09:30", 15)

	_, err := f.svc.Transition(ctx, appt.ID, f.student.ID, RoleStudent, StatusCancelled)
	require.NoError(t, err)

	rebooked := f.book(t, "09:30", 15)
	assert.NotEqual(t, appt.ID, rebooked.ID)
	assert.Equal(t, StatusScheduled, rebooked.Status)
}

func TestCreateAppointment_ConcurrentRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherStudent := Student{ID: uuid.New(), Name: "Riley Chen"}
	f.repo.AddStudent(otherStudent)

	req := func(studentID uuid.UUID) CreateRequest {
		return CreateRequest{
			StudentID:       studentID,
			CounselorID:     f.counselor.ID,
			Date:            nextMonday(),
			Time:            "09:00",
			DurationMinutes: 15,
			Type:            TypeIndividual,
		}
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, sid := range []uuid.UUID{f.student.ID, otherStudent.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(ctx, req(sid))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrSlotUnavailable)
			lost++
		}
	}
	assert.Equal(t, 1, won, "exactly one booking must win")
	assert.Equal(t, 1, lost, "exactly one booking must lose")
}

func TestTransition_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "09:00", 15)

	confirmed, err := f.svc.Transition(ctx, appt.ID, f.counselor.ID, RoleCounselor, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	completed, err := f.svc.Transition(ctx, appt.ID, f.counselor.ID, RoleCounselor, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)

	// Terminal: nothing may leave completed.
	_, err = f.svc.Transition(ctx, appt.ID, f.counselor.ID, RoleCounselor, StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestTransition_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stranger := uuid.New()

	testCases := []struct {
		name    string
		actorID func(a *Appointment) uuid.UUID
		role    Role
		target  Status
		wantErr error
	}{
		{"student cannot confirm", func(a *Appointment) uuid.UUID { return a.StudentID }, RoleStudent, StatusConfirmed, ErrForbidden},
		{"student cancels own", func(a *Appointment) uuid.UUID { return a.StudentID }, RoleStudent, StatusCancelled, nil},
		{"other student cannot cancel", func(*Appointment) uuid.UUID { return stranger }, RoleStudent, StatusCancelled, ErrForbidden},
		{"other counselor cannot confirm", func(*Appointment) uuid.UUID { return stranger }, RoleCounselor, StatusConfirmed, ErrForbidden},
		{"counselor confirms own", func(a *Appointment) uuid.UUID { return a.CounselorID }, RoleCounselor, StatusConfirmed, nil},
		{"admin may confirm any", func(*Appointment) uuid.UUID { return stranger }, RoleAdmin, StatusConfirmed, nil},
		{"counselor marks no-show", func(a *Appointment) uuid.UUID { return a.CounselorID }, RoleCounselor, StatusNoShow, nil},
	}

	slotTimes := []string{"09:00", "09:15", "09:30", "09:45"}
	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			appt := f.book(t, slotTimes[i%len(slotTimes)], 15)
			defer func() {
				// Free the slot for the next case.
				_, _ = f.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCancelled)
			}()

			got, err := f.svc.Transition(ctx, appt.ID, tc.actorID(appt), tc.role, tc.target)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)

				stored, gerr := f.repo.GetAppointmentByID(ctx, appt.ID)
				require.NoError(t, gerr)
				assert.Equal(t, StatusScheduled, stored.Status, "failed transition must leave status unchanged")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.target, got.Status)
			appt.Status = got.Status
		})
	}
}

func TestTransition_ConcurrentChangeLosesCAS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "09:00", 15)

	// Someone else cancels between our read and write.
	_, err := f.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusCancelled)
	require.NoError(t, err)

	// The stale actor read "scheduled" but the guard rejects the swap. Using
	// the repo CAS directly to model the lost race:
	_, err = f.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusCompleted)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	stored, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
}

func TestTransition_UnknownAppointment(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Transition(context.Background(), uuid.New(), f.student.ID, RoleAdmin, StatusConfirmed)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestRate_Flow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "09:00", 15)

	// Not yet completed.
	_, err := f.svc.Rate(ctx, appt.ID, f.student.ID, 5, "great")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.Transition(ctx, appt.ID, f.counselor.ID, RoleCounselor, StatusCompleted)
	require.NoError(t, err)

	// Wrong student.
	_, err = f.svc.Rate(ctx, appt.ID, uuid.New(), 5, "")
	assert.ErrorIs(t, err, ErrForbidden)

	// Out-of-range ratings.
	for _, r := range []int{0, 6, -1} {
		_, err = f.svc.Rate(ctx, appt.ID, f.student.ID, r, "")
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve, "rating %d", r)
	}

	rated, err := f.svc.Rate(ctx, appt.ID, f.student.ID, 4, "helpful session")
	require.NoError(t, err)
	require.NotNil(t, rated.Rating)
	assert.Equal(t, 4, *rated.Rating)
	require.NotNil(t, rated.Feedback)
	assert.Equal(t, "helpful session", *rated.Feedback)

	// Re-rating overwrites, last write wins.
	rerated, err := f.svc.Rate(ctx, appt.ID, f.student.ID, 2, "")
	require.NoError(t, err)
	require.NotNil(t, rerated.Rating)
	assert.Equal(t, 2, *rerated.Rating)
	assert.Nil(t, rerated.Feedback)
}

func TestGetAppointment_Access(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "09:00", 15)

	_, err := f.svc.GetAppointment(ctx, appt.ID, f.student.ID, RoleStudent)
	assert.NoError(t, err)

	_, err = f.svc.GetAppointment(ctx, appt.ID, f.counselor.ID, RoleCounselor)
	assert.NoError(t, err)

	_, err = f.svc.GetAppointment(ctx, appt.ID, uuid.New(), RoleAdmin)
	assert.NoError(t, err)

	_, err = f.svc.GetAppointment(ctx, appt.ID, uuid.New(), RoleStudent)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.GetAppointment(ctx, appt.ID, uuid.New(), RoleCounselor)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListAppointments_RoleScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := Student{ID: uuid.New(), Name: "Riley Chen"}
	f.repo.AddStudent(other)

	f.book(t, "09:00", 15)
	_, err := f.svc.CreateAppointment(ctx, CreateRequest{
		StudentID:       other.ID,
		CounselorID:     f.counselor.ID,
		Date:            nextMonday(),
		Time:            "09:30",
		DurationMinutes: 15,
		Type:            TypeGroup,
	})
	require.NoError(t, err)

	mine, err := f.svc.ListAppointments(ctx, f.student.ID, RoleStudent, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	counselors, err := f.svc.ListAppointments(ctx, f.counselor.ID, RoleCounselor, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, counselors, 2)

	all, err := f.svc.ListAppointments(ctx, uuid.New(), RoleAdmin, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	groups, err := f.svc.ListAppointments(ctx, uuid.New(), RoleAdmin, ListOptions{Type: "group"})
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	_, err = f.svc.ListAppointments(ctx, uuid.New(), RoleAdmin, ListOptions{Status: "nonsense"})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestListAppointments_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, hhmm := range []string{"09:00", "09:15", "09:30"} {
		f.book(t, hhmm, 15)
	}

	page1, err := f.svc.ListAppointments(ctx, uuid.New(), RoleAdmin, ListOptions{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page2, err := f.svc.ListAppointments(ctx, uuid.New(), RoleAdmin, ListOptions{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page2, 1)
}

func TestMarkOverdueNoShows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	yesterday := NormalizeDate(time.Now()).AddDate(0, 0, -1)

	// Insert through the repo directly; the booking path rejects past dates.
	elapsed, err := f.repo.CreateAppointment(ctx, &Appointment{
		StudentID:       f.student.ID,
		CounselorID:     f.counselor.ID,
		Date:            yesterday,
		Start:           540,
		DurationMinutes: 30,
		Type:            TypeIndividual,
		Status:          StatusScheduled,
	})
	require.NoError(t, err)

	done, err := f.repo.CreateAppointment(ctx, &Appointment{
		StudentID:       f.student.ID,
		CounselorID:     f.counselor.ID,
		Date:            yesterday,
		Start:           660,
		DurationMinutes: 30,
		Type:            TypeIndividual,
		Status:          StatusCompleted,
	})
	require.NoError(t, err)

	upcoming := f.book(t, "09:00", 15)

	marked, err := f.svc.MarkOverdueNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	got, err := f.repo.GetAppointmentByID(ctx, elapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got.Status)

	got, err = f.repo.GetAppointmentByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	got, err = f.repo.GetAppointmentByID(ctx, upcoming.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
}
