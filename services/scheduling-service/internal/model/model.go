package model

import "time"

type AppointmentState string

const (
	StatePending   AppointmentState = "PENDING"
	StateCancelled AppointmentState = "CANCELLED"
	StateAttended  AppointmentState = "ATTENDED"
	StateNoShow    AppointmentState = "NO_SHOW"
)

// Office hours and blackout bounds are minutes from local midnight, so a
// 08:30 opening is 510. Capacity is the number of appointments that may share
// one start tick.
type Office struct {
	ID           string
	Code         string
	Name         string
	OpenMinutes  int
	CloseMinutes int
	Capacity     int
	Schedulable  bool
	Active       bool
}

// Service duration quantizes the office day into ticks. OpenMinutes and
// CloseMinutes, when set, narrow the office window for this service only.
type Service struct {
	ID              string
	Code            string
	Name            string
	DurationMinutes int
	OpenMinutes     *int
	CloseMinutes    *int
	Active          bool
}

// BlackoutInterval is an admin-declared unavailable range, half-open
// [StartMinutes, EndMinutes) within Date.
type BlackoutInterval struct {
	OfficeID     string
	Date         time.Time
	StartMinutes int
	EndMinutes   int
	Description  string
}

type Holiday struct {
	Date        time.Time
	Description string
}

// PendingQuota of 0 means the global default applies.
type Client struct {
	ID           string
	Name         string
	PendingQuota int
	Active       bool
}

type Appointment struct {
	ID             string
	ClientID       string
	OfficeID       string
	ServiceID      string
	Start          time.Time
	End            time.Time
	State          AppointmentState
	Attendance     bool
	AttendanceCode string
	CancelBefore   time.Time
	Note           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanCancel reports whether the holder may still cancel at the given instant.
func (a Appointment) CanCancel(now time.Time) bool {
	if a.State != StatePending {
		return false
	}
	if a.CancelBefore.IsZero() {
		return now.Before(a.Start)
	}
	return now.Before(a.CancelBefore)
}
