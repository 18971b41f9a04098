package booking

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jmendozar/citadesk/services/scheduling-service/internal/agenda"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/model"
)

// In-memory fakes. The fake ledger enforces the same critical-section rules
// the pgx implementation does, so the engine can be exercised end to end.

type fakeStore struct {
	offices  map[string]model.Office
	services map[string]model.Service
	links    map[string]bool
	holidays []time.Time
	blackout []model.BlackoutInterval
	clients  map[string]model.Client

	appts map[string]model.Appointment

	created   []string
	cancelled []string
}

func (f *fakeStore) Office(_ context.Context, id string) (model.Office, bool, error) {
	o, ok := f.offices[id]
	return o, ok, nil
}

func (f *fakeStore) Service(_ context.Context, id string) (model.Service, bool, error) {
	s, ok := f.services[id]
	return s, ok, nil
}

func (f *fakeStore) Enabled(_ context.Context, officeID, serviceID string) (bool, error) {
	return f.links[officeID+"/"+serviceID], nil
}

func (f *fakeStore) ListFuture(_ context.Context) ([]time.Time, error) {
	return f.holidays, nil
}

func (f *fakeStore) List(_ context.Context, officeID string, date time.Time) ([]model.BlackoutInterval, error) {
	var out []model.BlackoutInterval
	for _, b := range f.blackout {
		if b.OfficeID == officeID && b.Date.Equal(date) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) Client(_ context.Context, id string) (model.Client, bool, error) {
	c, ok := f.clients[id]
	return c, ok, nil
}

func (f *fakeStore) StartCounts(_ context.Context, officeID string, date time.Time) (map[int]int, error) {
	counts := map[int]int{}
	for _, a := range f.appts {
		if a.OfficeID == officeID && a.State != model.StateCancelled && agenda.Midnight(a.Start).Equal(date) {
			counts[agenda.MinutesOfDay(a.Start)]++
		}
	}
	return counts, nil
}

func (f *fakeStore) CountPending(_ context.Context, clientID string) (int, error) {
	n := 0
	for _, a := range f.appts {
		if a.ClientID == clientID && a.State == model.StatePending {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) HasActiveAt(_ context.Context, clientID, officeID string, start time.Time) (bool, error) {
	for _, a := range f.appts {
		if a.ClientID == clientID && a.OfficeID == officeID && a.Start.Equal(start) && a.State != model.StateCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) Reserve(ctx context.Context, appt model.Appointment, capacity, quota int) error {
	dup, _ := f.HasActiveAt(ctx, appt.ClientID, appt.OfficeID, appt.Start)
	if dup {
		return ErrDuplicateStart
	}
	counts, _ := f.StartCounts(ctx, appt.OfficeID, agenda.Midnight(appt.Start))
	if counts[agenda.MinutesOfDay(appt.Start)] >= capacity {
		return ErrCapacityExhausted
	}
	pending, _ := f.CountPending(ctx, appt.ClientID)
	if pending >= quota {
		return ErrQuotaExhausted
	}
	f.appts[appt.ID] = appt
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (model.Appointment, bool, error) {
	a, ok := f.appts[id]
	return a, ok, nil
}

func (f *fakeStore) ListPending(_ context.Context, clientID string, from time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.ClientID == clientID && a.State == model.StatePending && !a.Start.Before(from) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) Cancel(_ context.Context, id string) (model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok || a.State != model.StatePending {
		return model.Appointment{}, ErrStateChanged
	}
	a.State = model.StateCancelled
	f.appts[id] = a
	return a, nil
}

func (f *fakeStore) AppointmentCreated(_ context.Context, appt model.Appointment) error {
	f.created = append(f.created, appt.ID)
	return nil
}

func (f *fakeStore) AppointmentCancelled(_ context.Context, appt model.Appointment) error {
	f.cancelled = append(f.cancelled, appt.ID)
	return nil
}

func intp(v int) *int { return &v }

// Monday 2026-03-02 10:00 UTC.
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *fakeStore) {
	t.Helper()
	store := &fakeStore{
		offices: map[string]model.Office{
			"of-1": {ID: "of-1", Code: "CEN", Name: "Centro", OpenMinutes: 480, CloseMinutes: 900, Capacity: 2, Schedulable: true, Active: true},
			"of-2": {ID: "of-2", Code: "NOR", Name: "Norte", OpenMinutes: 480, CloseMinutes: 900, Capacity: 1, Schedulable: false, Active: true},
		},
		services: map[string]model.Service{
			"sv-1": {ID: "sv-1", Code: "LIC", Name: "Licencias", DurationMinutes: 30, Active: true},
			"sv-2": {ID: "sv-2", Code: "ACT", Name: "Actas", DurationMinutes: 15, OpenMinutes: intp(540), CloseMinutes: intp(780), Active: true},
		},
		links: map[string]bool{
			"of-1/sv-1": true,
			"of-1/sv-2": true,
		},
		clients: map[string]model.Client{
			"cl-1": {ID: "cl-1", Name: "Ana Torres", Active: true},
			"cl-2": {ID: "cl-2", Name: "Luis Vega", PendingQuota: 1, Active: true},
		},
		appts: map[string]model.Appointment{},
	}
	eng := NewEngine(Deps{
		Offices:        store,
		Services:       store,
		OfficeServices: store,
		Holidays:       store,
		Blackouts:      store,
		Clients:        store,
		Ledger:         store,
		Notifier:       store,
		Logger:         slog.Default(),
	}, Config{
		HorizonDays:         30,
		DefaultPendingQuota: 3,
		CancelLead:          24 * time.Hour,
		Location:            time.UTC,
		Now:                 func() time.Time { return testNow },
	})
	return eng, store
}

func mustReserve(t *testing.T, eng *Engine, req ReserveRequest) model.Appointment {
	t.Helper()
	appt, err := eng.Reserve(context.Background(), req)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return appt
}

// Tuesday, the first offerable day for testNow.
var testDate = time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

func TestListDates_UnknownOffice(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.ListDates(context.Background(), "nope")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestListDates_NonSchedulableOffice(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.ListDates(context.Background(), "of-2")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestListSlots_FullGrid(t *testing.T) {
	eng, _ := newTestEngine(t)
	slots, err := eng.ListSlots(context.Background(), "of-1", "sv-1", testDate)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 14 {
		t.Fatalf("expected 14 slots, got %d", len(slots))
	}
}

func TestListSlots_ServiceWindowNarrows(t *testing.T) {
	eng, _ := newTestEngine(t)
	slots, err := eng.ListSlots(context.Background(), "of-1", "sv-2", testDate)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	// 09:00-13:00, 15 minute ticks.
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
	if agenda.MinutesOfDay(slots[0]) != 540 {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Format("15:04"))
	}
}

func TestListSlots_ServiceNotOfferedHere(t *testing.T) {
	eng, store := newTestEngine(t)
	store.links = map[string]bool{}
	_, err := eng.ListSlots(context.Background(), "of-1", "sv-1", testDate)
	if ReasonOf(err) != ReasonServiceNotOffered {
		t.Fatalf("expected service-not-offered-here, got %v", err)
	}
}

func TestListSlots_NonOfferableDate(t *testing.T) {
	eng, _ := newTestEngine(t)
	// Saturday.
	_, err := eng.ListSlots(context.Background(), "of-1", "sv-1", time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC))
	if ReasonOf(err) != ReasonBadDate {
		t.Fatalf("expected bad-date, got %v", err)
	}
	// Today is never offerable.
	_, err = eng.ListSlots(context.Background(), "of-1", "sv-1", agenda.Midnight(testNow))
	if ReasonOf(err) != ReasonBadDate {
		t.Fatalf("expected bad-date for today, got %v", err)
	}
}

func TestListSlots_FullyBookedDayIsEmptyNotError(t *testing.T) {
	eng, store := newTestEngine(t)
	office := store.offices["of-1"]
	office.Capacity = 1
	store.offices["of-1"] = office

	// Fill every tick with distinct clients.
	for m := 480; m+30 <= 900; m += 30 {
		id := time.Duration(m).String()
		store.appts[id] = model.Appointment{
			ID: id, ClientID: "cl-" + id, OfficeID: "of-1", ServiceID: "sv-1",
			Start: testDate.Add(time.Duration(m) * time.Minute), State: model.StatePending,
		}
	}

	slots, err := eng.ListSlots(context.Background(), "of-1", "sv-1", testDate)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", slots)
	}
}

func TestReserve_HappyPath(t *testing.T) {
	eng, store := newTestEngine(t)
	appt := mustReserve(t, eng, ReserveRequest{
		ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
		Date: testDate, StartMinutes: 540, Note: "  bring   two copies  ",
	})

	if appt.State != model.StatePending {
		t.Fatalf("expected PENDING, got %s", appt.State)
	}
	if !appt.Start.Equal(testDate.Add(9 * time.Hour)) {
		t.Fatalf("wrong start %s", appt.Start)
	}
	if !appt.End.Equal(testDate.Add(9*time.Hour + 30*time.Minute)) {
		t.Fatalf("wrong end %s", appt.End)
	}
	if len(appt.AttendanceCode) != 4 {
		t.Fatalf("expected 4-char attendance code, got %q", appt.AttendanceCode)
	}
	if appt.Note != "bring two copies" {
		t.Fatalf("note not sanitized: %q", appt.Note)
	}
	// Tuesday 09:00 minus 24h is Monday 09:00, a business day.
	if !appt.CancelBefore.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("wrong cancel_before %s", appt.CancelBefore)
	}
	if len(store.created) != 1 || store.created[0] != appt.ID {
		t.Fatalf("created event not emitted: %v", store.created)
	}
}

func TestReserve_CancelBeforeRollsPastWeekend(t *testing.T) {
	eng, _ := newTestEngine(t)
	// Monday 2026-03-09 09:00: minus 24h lands on Sunday, rolls to Friday.
	appt := mustReserve(t, eng, ReserveRequest{
		ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
		Date: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), StartMinutes: 540,
	})
	if appt.CancelBefore.Weekday() != time.Friday {
		t.Fatalf("expected Friday, got %s (%s)", appt.CancelBefore.Weekday(), appt.CancelBefore)
	}
	if !appt.CancelBefore.Equal(time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("wrong cancel_before %s", appt.CancelBefore)
	}
}

func TestReserve_CancelBeforeRollsPastHoliday(t *testing.T) {
	eng, store := newTestEngine(t)
	// Wednesday 2026-03-04 is a holiday: booking Thursday 09:00 rolls the
	// deadline from Wednesday to Tuesday.
	store.holidays = []time.Time{time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)}
	appt := mustReserve(t, eng, ReserveRequest{
		ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
		Date: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), StartMinutes: 540,
	})
	if !appt.CancelBefore.Equal(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("wrong cancel_before %s", appt.CancelBefore)
	}
}

func TestReserve_BadSlot(t *testing.T) {
	eng, _ := newTestEngine(t)
	for _, minutes := range []int{545, 460, 900} {
		_, err := eng.Reserve(context.Background(), ReserveRequest{
			ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
			Date: testDate, StartMinutes: minutes,
		})
		if ReasonOf(err) != ReasonBadSlot {
			t.Fatalf("minutes=%d: expected bad-slot, got %v", minutes, err)
		}
	}
}

func TestReserve_DuplicateSameStart(t *testing.T) {
	eng, _ := newTestEngine(t)
	req := ReserveRequest{ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1", Date: testDate, StartMinutes: 540}
	mustReserve(t, eng, req)

	_, err := eng.Reserve(context.Background(), req)
	if ReasonOf(err) != ReasonDuplicate {
		t.Fatalf("expected duplicate-reservation, got %v", err)
	}
}

func TestReserve_QuotaDefault(t *testing.T) {
	eng, _ := newTestEngine(t)
	for i, m := range []int{480, 540, 600} {
		mustReserve(t, eng, ReserveRequest{
			ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
			Date: testDate, StartMinutes: m,
		})
		remaining, err := eng.RemainingQuota(context.Background(), "cl-1")
		if err != nil {
			t.Fatalf("remaining: %v", err)
		}
		if remaining != 2-i {
			t.Fatalf("after %d reservations expected remaining %d, got %d", i+1, 2-i, remaining)
		}
	}

	_, err := eng.Reserve(context.Background(), ReserveRequest{
		ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
		Date: testDate, StartMinutes: 660,
	})
	if ReasonOf(err) != ReasonQuotaExceeded {
		t.Fatalf("expected quota-exceeded, got %v", err)
	}
}

func TestReserve_QuotaClientOverride(t *testing.T) {
	eng, _ := newTestEngine(t)
	mustReserve(t, eng, ReserveRequest{
		ClientID: "cl-2", OfficeID: "of-1", ServiceID: "sv-1",
		Date: testDate, StartMinutes: 480,
	})
	_, err := eng.Reserve(context.Background(), ReserveRequest{
		ClientID: "cl-2", OfficeID: "of-1", ServiceID: "sv-1",
		Date: testDate, StartMinutes: 540,
	})
	if ReasonOf(err) != ReasonQuotaExceeded {
		t.Fatalf("expected quota-exceeded at override 1, got %v", err)
	}
}

func TestReserve_CapacityFillThenConflict(t *testing.T) {
	eng, store := newTestEngine(t)
	// Capacity 2: cl-1 and cl-2 take 09:00, the third attempt finds no slot.
	mustReserve(t, eng, ReserveRequest{ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1", Date: testDate, StartMinutes: 540})
	mustReserve(t, eng, ReserveRequest{ClientID: "cl-2", OfficeID: "of-1", ServiceID: "sv-1", Date: testDate, StartMinutes: 540})

	store.clients["cl-3"] = model.Client{ID: "cl-3", Name: "Eva Ruiz", Active: true}
	_, err := eng.Reserve(context.Background(), ReserveRequest{
		ClientID: "cl-3", OfficeID: "of-1", ServiceID: "sv-1",
		Date: testDate, StartMinutes: 540,
	})
	// The full tick is gone from the offerable grid, so the pre-check fires.
	if ReasonOf(err) != ReasonBadSlot {
		t.Fatalf("expected bad-slot for a full tick, got %v", err)
	}

	// The adjacent tick is unaffected.
	mustReserve(t, eng, ReserveRequest{ClientID: "cl-3", OfficeID: "of-1", ServiceID: "sv-1", Date: testDate, StartMinutes: 570})
}

// raceLedger simulates another writer winning between the pre-check and the
// critical section.
type raceLedger struct {
	*fakeStore
	reserveErr error
}

func (l *raceLedger) Reserve(context.Context, model.Appointment, int, int) error {
	return l.reserveErr
}

func TestReserve_CommitRaceMapsToConflict(t *testing.T) {
	for _, sentinel := range []error{ErrCapacityExhausted, ErrQuotaExhausted} {
		eng, store := newTestEngine(t)
		eng.deps.Ledger = &raceLedger{fakeStore: store, reserveErr: sentinel}

		_, err := eng.Reserve(context.Background(), ReserveRequest{
			ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
			Date: testDate, StartMinutes: 540,
		})
		if KindOf(err) != KindConflict {
			t.Fatalf("%v: expected conflict, got %v", sentinel, err)
		}
	}

	eng, store := newTestEngine(t)
	eng.deps.Ledger = &raceLedger{fakeStore: store, reserveErr: ErrDuplicateStart}
	_, err := eng.Reserve(context.Background(), ReserveRequest{
		ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
		Date: testDate, StartMinutes: 540,
	})
	if ReasonOf(err) != ReasonDuplicate {
		t.Fatalf("expected duplicate-reservation, got %v", err)
	}
}

func TestCancel_RoundTripRestoresAvailability(t *testing.T) {
	eng, store := newTestEngine(t)
	office := store.offices["of-1"]
	office.Capacity = 1
	store.offices["of-1"] = office

	appt := mustReserve(t, eng, ReserveRequest{
		ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
		Date: testDate, StartMinutes: 540,
	})

	slots, _ := eng.ListSlots(context.Background(), "of-1", "sv-1", testDate)
	if containsTime(slots, appt.Start) {
		t.Fatal("booked tick still offered")
	}

	cancelled, err := eng.Cancel(context.Background(), "cl-1", appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.State != model.StateCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.State)
	}

	slots, _ = eng.ListSlots(context.Background(), "of-1", "sv-1", testDate)
	if !containsTime(slots, appt.Start) {
		t.Fatal("cancelled tick not offered again")
	}
	if len(store.cancelled) != 1 {
		t.Fatalf("cancelled event not emitted: %v", store.cancelled)
	}
}

func TestCancel_Ownership(t *testing.T) {
	eng, _ := newTestEngine(t)
	appt := mustReserve(t, eng, ReserveRequest{
		ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
		Date: testDate, StartMinutes: 540,
	})
	_, err := eng.Cancel(context.Background(), "cl-2", appt.ID)
	if KindOf(err) != KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCancel_PastWindow(t *testing.T) {
	eng, store := newTestEngine(t)
	appt := mustReserve(t, eng, ReserveRequest{
		ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
		Date: testDate, StartMinutes: 540,
	})

	// Force the deadline into the past.
	a := store.appts[appt.ID]
	a.CancelBefore = testNow.Add(-time.Minute)
	store.appts[appt.ID] = a

	_, err := eng.Cancel(context.Background(), "cl-1", appt.ID)
	if ReasonOf(err) != ReasonPastCancelWindow {
		t.Fatalf("expected past-cancel-window, got %v", err)
	}
}

func TestCancel_NotPending(t *testing.T) {
	eng, store := newTestEngine(t)
	appt := mustReserve(t, eng, ReserveRequest{
		ClientID: "cl-1", OfficeID: "of-1", ServiceID: "sv-1",
		Date: testDate, StartMinutes: 540,
	})
	a := store.appts[appt.ID]
	a.State = model.StateAttended
	store.appts[appt.ID] = a

	_, err := eng.Cancel(context.Background(), "cl-1", appt.ID)
	if ReasonOf(err) != ReasonNotCancellable {
		t.Fatalf("expected not-cancellable, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.Get(context.Background(), "cl-1", "missing")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestSanitizeNote(t *testing.T) {
	if got := sanitizeNote("  a \t b\n c  "); got != "a b c" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("x", 600)
	if got := sanitizeNote(long); len(got) != maxNoteLength {
		t.Fatalf("expected %d bytes, got %d", maxNoteLength, len(got))
	}

	// The cap must not cut through a multi-byte character: the leading ASCII
	// byte shifts the two-byte "ñ" runes so the byte limit lands mid-rune.
	accented := "a" + strings.Repeat("ñ", 300)
	got := sanitizeNote(accented)
	if !utf8.ValidString(got) {
		t.Fatal("truncated note is not valid UTF-8")
	}
	if len(got) > maxNoteLength {
		t.Fatalf("note exceeds cap: %d bytes", len(got))
	}
	if len(got) != maxNoteLength-1 {
		t.Fatalf("expected truncation at the rune boundary (%d bytes), got %d", maxNoteLength-1, len(got))
	}
}

func TestAttendanceCodeAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := newAttendanceCode()
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != 4 {
			t.Fatalf("bad length %q", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(attendanceCodeAlphabet, r) {
				t.Fatalf("character %q outside alphabet", r)
			}
		}
	}
}
