package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/agenda"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/model"
)

// Read-only providers consumed by the engine. Implementations live in
// storage; the engine never reaches into a database directly.
type OfficeProvider interface {
	Office(ctx context.Context, id string) (model.Office, bool, error)
}

type ServiceProvider interface {
	Service(ctx context.Context, id string) (model.Service, bool, error)
}

type OfficeServiceProvider interface {
	Enabled(ctx context.Context, officeID, serviceID string) (bool, error)
}

type HolidayProvider interface {
	ListFuture(ctx context.Context) ([]time.Time, error)
}

type BlackoutProvider interface {
	List(ctx context.Context, officeID string, date time.Time) ([]model.BlackoutInterval, error)
}

type ClientProvider interface {
	Client(ctx context.Context, id string) (model.Client, bool, error)
}

// Ledger is the set of existing appointments. Reserve is the single
// read-modify-write critical section: implementations must re-check capacity,
// quota and the duplicate guard under a serialization boundary keyed by
// (office, start) and by client, returning ErrCapacityExhausted,
// ErrQuotaExhausted or ErrDuplicateStart when the re-check fails.
type Ledger interface {
	StartCounts(ctx context.Context, officeID string, date time.Time) (map[int]int, error)
	CountPending(ctx context.Context, clientID string) (int, error)
	HasActiveAt(ctx context.Context, clientID, officeID string, start time.Time) (bool, error)
	Reserve(ctx context.Context, appt model.Appointment, capacity, quota int) error
	Get(ctx context.Context, appointmentID string) (model.Appointment, bool, error)
	ListPending(ctx context.Context, clientID string, from time.Time) ([]model.Appointment, error)
	Cancel(ctx context.Context, appointmentID string) (model.Appointment, error)
}

// Notifier emits lifecycle events. Best effort: the engine logs failures and
// never lets them fail the operation that triggered them.
type Notifier interface {
	AppointmentCreated(ctx context.Context, appt model.Appointment) error
	AppointmentCancelled(ctx context.Context, appt model.Appointment) error
}

type Config struct {
	HorizonDays         int
	DayPolicy           agenda.DayPolicy
	DefaultPendingQuota int
	CancelLead          time.Duration
	Location            *time.Location
	// Now overrides the clock; nil means time.Now in Location.
	Now func() time.Time
}

type Deps struct {
	Offices        OfficeProvider
	Services       ServiceProvider
	OfficeServices OfficeServiceProvider
	Holidays       HolidayProvider
	Blackouts      BlackoutProvider
	Clients        ClientProvider
	Ledger         Ledger
	Notifier       Notifier
	Logger         *slog.Logger
}

type Engine struct {
	deps Deps
	cfg  Config
}

func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = agenda.DefaultHorizonDays
	}
	if cfg.DefaultPendingQuota <= 0 {
		cfg.DefaultPendingQuota = 3
	}
	if cfg.CancelLead <= 0 {
		cfg.CancelLead = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{deps: deps, cfg: cfg}
}

func (e *Engine) now() time.Time {
	if e.cfg.Now != nil {
		return e.cfg.Now()
	}
	return time.Now().In(e.cfg.Location)
}

// ListDates returns the dates on which the office currently offers
// appointments.
func (e *Engine) ListDates(ctx context.Context, officeID string) ([]time.Time, error) {
	if _, err := e.schedulableOffice(ctx, officeID); err != nil {
		return nil, err
	}
	holidays, err := e.holidaySet(ctx)
	if err != nil {
		return nil, err
	}
	return agenda.Days(e.now(), e.cfg.HorizonDays, holidays, e.cfg.DayPolicy), nil
}

// ListSlots returns the offerable tick start times for an office, service and
// date. A date that is not offerable at all yields Invalid(bad-date); a fully
// booked but otherwise valid date yields an empty, non-nil slice.
func (e *Engine) ListSlots(ctx context.Context, officeID, serviceID string, date time.Time) ([]time.Time, error) {
	office, svc, err := e.loadOfficeService(ctx, officeID, serviceID)
	if err != nil {
		return nil, err
	}

	holidays, err := e.holidaySet(ctx)
	if err != nil {
		return nil, err
	}
	date = agenda.Midnight(date.In(e.cfg.Location))
	if !e.dateOfferable(date, holidays) {
		return nil, Invalid(ReasonBadDate, "date is not offerable")
	}
	return e.computeSlots(ctx, office, svc, date)
}

func (e *Engine) computeSlots(ctx context.Context, office model.Office, svc model.Service, date time.Time) ([]time.Time, error) {
	blackouts, err := e.deps.Blackouts.List(ctx, office.ID, date)
	if err != nil {
		return nil, err
	}
	booked, err := e.deps.Ledger.StartCounts(ctx, office.ID, date)
	if err != nil {
		return nil, err
	}

	window := agenda.Window{Open: office.OpenMinutes, Close: office.CloseMinutes}.
		Narrow(svc.OpenMinutes, svc.CloseMinutes)
	ranges := make([]agenda.Blackout, 0, len(blackouts))
	for _, b := range blackouts {
		ranges = append(ranges, agenda.Blackout{Start: b.StartMinutes, End: b.EndMinutes})
	}

	slots := agenda.Slots(date, window, svc.DurationMinutes, ranges, booked, office.Capacity)
	if slots == nil {
		slots = []time.Time{}
	}
	return slots, nil
}

type ReserveRequest struct {
	ClientID  string
	OfficeID  string
	ServiceID string
	// Date is the requested calendar day; only its year/month/day are used.
	Date time.Time
	// StartMinutes is the requested tick, minutes from local midnight.
	StartMinutes int
	Note         string
}

// Reserve validates the request end to end and atomically creates a PENDING
// appointment. Each validation step fails fast with its own reason.
func (e *Engine) Reserve(ctx context.Context, req ReserveRequest) (model.Appointment, error) {
	office, svc, err := e.loadOfficeService(ctx, req.OfficeID, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}

	client, ok, err := e.deps.Clients.Client(ctx, req.ClientID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !ok || !client.Active {
		return model.Appointment{}, NotFound("client not found")
	}

	holidays, err := e.holidaySet(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	date := agenda.Midnight(req.Date.In(e.cfg.Location))
	if !e.dateOfferable(date, holidays) {
		return model.Appointment{}, Invalid(ReasonBadDate, "date is not offerable")
	}

	slots, err := e.computeSlots(ctx, office, svc, date)
	if err != nil {
		return model.Appointment{}, err
	}
	start := date.Add(time.Duration(req.StartMinutes) * time.Minute)
	if !containsTime(slots, start) {
		return model.Appointment{}, Invalid(ReasonBadSlot, "requested time is not an offerable slot")
	}

	// Idempotent-retry guard: an identical resubmission maps onto the
	// appointment the client already holds.
	dup, err := e.deps.Ledger.HasActiveAt(ctx, req.ClientID, req.OfficeID, start)
	if err != nil {
		return model.Appointment{}, err
	}
	if dup {
		return model.Appointment{}, Invalid(ReasonDuplicate, "an appointment already exists at this office and time")
	}

	quota := e.effectiveQuota(client)
	pending, err := e.deps.Ledger.CountPending(ctx, req.ClientID)
	if err != nil {
		return model.Appointment{}, err
	}
	if pending >= quota {
		return model.Appointment{}, Invalid(ReasonQuotaExceeded, fmt.Sprintf("client already holds %d pending appointments", pending))
	}

	code, err := newAttendanceCode()
	if err != nil {
		return model.Appointment{}, err
	}
	nowTS := e.now()
	appt := model.Appointment{
		ID:             uuid.NewString(),
		ClientID:       req.ClientID,
		OfficeID:       req.OfficeID,
		ServiceID:      req.ServiceID,
		Start:          start,
		End:            start.Add(time.Duration(svc.DurationMinutes) * time.Minute),
		State:          model.StatePending,
		Attendance:     false,
		AttendanceCode: code,
		CancelBefore:   e.cancelBefore(start, holidays),
		Note:           sanitizeNote(req.Note),
		CreatedAt:      nowTS,
		UpdatedAt:      nowTS,
	}

	if err := e.deps.Ledger.Reserve(ctx, appt, office.Capacity, quota); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateStart):
			return model.Appointment{}, Invalid(ReasonDuplicate, "an appointment already exists at this office and time")
		case errors.Is(err, ErrCapacityExhausted):
			return model.Appointment{}, Conflict("slot was taken concurrently")
		case errors.Is(err, ErrQuotaExhausted):
			return model.Appointment{}, Conflict("pending quota was consumed concurrently")
		default:
			return model.Appointment{}, err
		}
	}

	if err := e.deps.Notifier.AppointmentCreated(ctx, appt); err != nil {
		e.deps.Logger.Error("appointment created notification failed", "err", err, "appointment_id", appt.ID)
	}
	return appt, nil
}

// Cancel transitions a PENDING appointment to CANCELLED on behalf of its
// holder, honoring the cancellation deadline.
func (e *Engine) Cancel(ctx context.Context, clientID, appointmentID string) (model.Appointment, error) {
	appt, err := e.Get(ctx, clientID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.State != model.StatePending {
		return model.Appointment{}, Invalid(ReasonNotCancellable, "appointment is not pending")
	}
	if !appt.CanCancel(e.now()) {
		return model.Appointment{}, Invalid(ReasonPastCancelWindow, "cancellation window has closed")
	}

	cancelled, err := e.deps.Ledger.Cancel(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrStateChanged) {
			return model.Appointment{}, Conflict("appointment state changed concurrently")
		}
		return model.Appointment{}, err
	}

	if err := e.deps.Notifier.AppointmentCancelled(ctx, cancelled); err != nil {
		e.deps.Logger.Error("appointment cancelled notification failed", "err", err, "appointment_id", cancelled.ID)
	}
	return cancelled, nil
}

// Get returns an appointment after verifying ownership.
func (e *Engine) Get(ctx context.Context, clientID, appointmentID string) (model.Appointment, error) {
	appt, ok, err := e.deps.Ledger.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !ok {
		return model.Appointment{}, NotFound("appointment not found")
	}
	if appt.ClientID != clientID {
		return model.Appointment{}, Forbidden("appointment belongs to another client")
	}
	return appt, nil
}

// List returns the client's pending appointments from today onward, ordered
// by start time.
func (e *Engine) List(ctx context.Context, clientID string) ([]model.Appointment, error) {
	return e.deps.Ledger.ListPending(ctx, clientID, agenda.Midnight(e.now()))
}

// RemainingQuota returns how many more appointments the client may schedule.
func (e *Engine) RemainingQuota(ctx context.Context, clientID string) (int, error) {
	client, ok, err := e.deps.Clients.Client(ctx, clientID)
	if err != nil {
		return 0, err
	}
	if !ok || !client.Active {
		return 0, NotFound("client not found")
	}
	pending, err := e.deps.Ledger.CountPending(ctx, clientID)
	if err != nil {
		return 0, err
	}
	quota := e.effectiveQuota(client)
	if pending >= quota {
		return 0, nil
	}
	return quota - pending, nil
}

func (e *Engine) schedulableOffice(ctx context.Context, officeID string) (model.Office, error) {
	office, ok, err := e.deps.Offices.Office(ctx, officeID)
	if err != nil {
		return model.Office{}, err
	}
	if !ok || !office.Active {
		return model.Office{}, NotFound("office not found")
	}
	if !office.Schedulable {
		return model.Office{}, NotFound("office does not take appointments")
	}
	return office, nil
}

func (e *Engine) loadOfficeService(ctx context.Context, officeID, serviceID string) (model.Office, model.Service, error) {
	office, err := e.schedulableOffice(ctx, officeID)
	if err != nil {
		return model.Office{}, model.Service{}, err
	}
	svc, ok, err := e.deps.Services.Service(ctx, serviceID)
	if err != nil {
		return model.Office{}, model.Service{}, err
	}
	if !ok || !svc.Active {
		return model.Office{}, model.Service{}, NotFound("service not found")
	}
	enabled, err := e.deps.OfficeServices.Enabled(ctx, officeID, serviceID)
	if err != nil {
		return model.Office{}, model.Service{}, err
	}
	if !enabled {
		return model.Office{}, model.Service{}, Invalid(ReasonServiceNotOffered, "service is not offered at this office")
	}
	return office, svc, nil
}

func (e *Engine) holidaySet(ctx context.Context) (map[string]struct{}, error) {
	holidays, err := e.deps.Holidays.ListFuture(ctx)
	if err != nil {
		return nil, err
	}
	return agenda.HolidaySet(holidays), nil
}

func (e *Engine) dateOfferable(date time.Time, holidays map[string]struct{}) bool {
	for _, d := range agenda.Days(e.now(), e.cfg.HorizonDays, holidays, e.cfg.DayPolicy) {
		if d.Equal(date) {
			return true
		}
	}
	return false
}

func (e *Engine) effectiveQuota(client model.Client) int {
	if client.PendingQuota > 0 {
		return client.PendingQuota
	}
	return e.cfg.DefaultPendingQuota
}

// cancelBefore is start minus the cancellation lead, rolled backward one day
// at a time until it lands on a business day.
func (e *Engine) cancelBefore(start time.Time, holidays map[string]struct{}) time.Time {
	cb := start.Add(-e.cfg.CancelLead)
	for !agenda.IsBusinessDay(cb, holidays) {
		cb = cb.AddDate(0, 0, -1)
	}
	return cb
}

func containsTime(ts []time.Time, want time.Time) bool {
	for _, t := range ts {
		if t.Equal(want) {
			return true
		}
	}
	return false
}

const attendanceCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newAttendanceCode generates the 4-character code the citizen presents at
// the office counter. The alphabet omits lookalike characters.
func newAttendanceCode() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = attendanceCodeAlphabet[int(b[i])%len(attendanceCodeAlphabet)]
	}
	return string(b[:]), nil
}

const maxNoteLength = 512

// sanitizeNote trims, collapses whitespace runs and caps the free-text note.
// The cap lands on a rune boundary so a multi-byte character is never split.
func sanitizeNote(note string) string {
	note = strings.Join(strings.Fields(note), " ")
	if len(note) > maxNoteLength {
		cut := maxNoteLength
		for cut > 0 && !utf8.RuneStart(note[cut]) {
			cut--
		}
		note = note[:cut]
	}
	return note
}
