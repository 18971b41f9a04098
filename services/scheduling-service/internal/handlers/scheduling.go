package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmendozar/citadesk/services/scheduling-service/internal/booking"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/model"
)

const dateLayout = "2006-01-02"

type SchedulingHandler struct {
	engine   *booking.Engine
	logger   *slog.Logger
	location *time.Location
}

func NewSchedulingHandler(engine *booking.Engine, logger *slog.Logger, location *time.Location) *SchedulingHandler {
	if location == nil {
		location = time.UTC
	}
	return &SchedulingHandler{engine: engine, logger: logger, location: location}
}

type datesResponse struct {
	OfficeID string   `json:"office_id"`
	Dates    []string `json:"dates"`
}

type slotsResponse struct {
	OfficeID  string   `json:"office_id"`
	ServiceID string   `json:"service_id"`
	Date      string   `json:"date"`
	Slots     []string `json:"slots"`
}

type createAppointmentRequest struct {
	OfficeID  string `json:"office_id"`
	ServiceID string `json:"service_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Note      string `json:"note"`
}

type cancelAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type appointmentResponse struct {
	AppointmentID  string `json:"appointment_id"`
	OfficeID       string `json:"office_id"`
	ServiceID      string `json:"service_id"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	State          string `json:"state"`
	AttendanceCode string `json:"attendance_code"`
	CancelBefore   string `json:"cancel_before"`
	Note           string `json:"note,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type remainingQuotaResponse struct {
	Remaining int `json:"remaining"`
}

func (h *SchedulingHandler) Dates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	officeID := strings.TrimSpace(r.URL.Query().Get("office_id"))
	if officeID == "" {
		http.Error(w, "office_id is required", http.StatusBadRequest)
		return
	}

	dates, err := h.engine.ListDates(r.Context(), officeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(dateLayout))
	}
	writeJSON(w, http.StatusOK, datesResponse{OfficeID: officeID, Dates: out})
}

func (h *SchedulingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	officeID := strings.TrimSpace(q.Get("office_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if officeID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "office_id, service_id and date are required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation(dateLayout, dateStr, h.location)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	slots, err := h.engine.ListSlots(r.Context(), officeID, serviceID, date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Format("15:04"))
	}
	writeJSON(w, http.StatusOK, slotsResponse{
		OfficeID:  officeID,
		ServiceID: serviceID,
		Date:      dateStr,
		Slots:     out,
	})
}

func (h *SchedulingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := ClientIDFromContext(r.Context())
	if clientID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OfficeID = strings.TrimSpace(req.OfficeID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.OfficeID == "" || req.ServiceID == "" || req.Date == "" || req.Time == "" {
		http.Error(w, "office_id, service_id, date and time are required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation(dateLayout, req.Date, h.location)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	minutes, err := parseClock(req.Time)
	if err != nil {
		http.Error(w, "invalid time", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Reserve(r.Context(), booking.ReserveRequest{
		ClientID:     clientID,
		OfficeID:     req.OfficeID,
		ServiceID:    req.ServiceID,
		Date:         date,
		StartMinutes: minutes,
		Note:         req.Note,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := ClientIDFromContext(r.Context())
	if clientID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req cancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.AppointmentID) == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Cancel(r.Context(), clientID, req.AppointmentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *SchedulingHandler) Detail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := ClientIDFromContext(r.Context())
	if clientID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if id == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Get(r.Context(), clientID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *SchedulingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := ClientIDFromContext(r.Context())
	if clientID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	appts, err := h.engine.List(r.Context(), clientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SchedulingHandler) RemainingQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := ClientIDFromContext(r.Context())
	if clientID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	remaining, err := h.engine.RemainingQuota(r.Context(), clientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, remainingQuotaResponse{Remaining: remaining})
}

func (h *SchedulingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch booking.KindOf(err) {
	case booking.KindNotFound:
		status = http.StatusNotFound
	case booking.KindInvalid:
		status = http.StatusUnprocessableEntity
	case booking.KindConflict:
		status = http.StatusConflict
	case booking.KindForbidden:
		status = http.StatusForbidden
	default:
		h.logger.Error("request failed", "err", err, "path", r.URL.Path)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	body := map[string]string{"error": publicMessage(err)}
	if reason := booking.ReasonOf(err); reason != "" {
		body["reason"] = reason
	}
	writeJSON(w, status, body)
}

func publicMessage(err error) string {
	var e *booking.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "request failed"
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		AppointmentID:  a.ID,
		OfficeID:       a.OfficeID,
		ServiceID:      a.ServiceID,
		StartTime:      a.Start.Format(time.RFC3339),
		EndTime:        a.End.Format(time.RFC3339),
		State:          string(a.State),
		AttendanceCode: a.AttendanceCode,
		CancelBefore:   a.CancelBefore.Format(time.RFC3339),
		Note:           a.Note,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
}

// parseClock converts "HH:MM" to minutes from midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
