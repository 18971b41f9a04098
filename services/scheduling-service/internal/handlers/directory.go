package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmendozar/citadesk/services/scheduling-service/internal/storage"
)

// DirectoryHandler serves the public office and service catalog the booking
// frontend renders before any availability query.
type DirectoryHandler struct {
	offices  *storage.OfficeRepository
	services *storage.ServiceRepository
	logger   *slog.Logger
}

func NewDirectoryHandler(offices *storage.OfficeRepository, services *storage.ServiceRepository, logger *slog.Logger) *DirectoryHandler {
	return &DirectoryHandler{offices: offices, services: services, logger: logger}
}

type officeItem struct {
	OfficeID  string `json:"office_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
}

type serviceItem struct {
	ServiceID       string `json:"service_id"`
	Code            string `json:"code"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *DirectoryHandler) Offices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	offices, err := h.offices.ListSchedulable(r.Context())
	if err != nil {
		h.logger.Error("office listing failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]officeItem, 0, len(offices))
	for _, o := range offices {
		out = append(out, officeItem{
			OfficeID:  o.ID,
			Code:      o.Code,
			Name:      o.Name,
			OpenTime:  clockOf(o.OpenMinutes),
			CloseTime: clockOf(o.CloseMinutes),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *DirectoryHandler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	officeID := strings.TrimSpace(r.URL.Query().Get("office_id"))
	if officeID == "" {
		http.Error(w, "office_id is required", http.StatusBadRequest)
		return
	}

	services, err := h.services.ListByOffice(r.Context(), officeID)
	if err != nil {
		h.logger.Error("service listing failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]serviceItem, 0, len(services))
	for _, s := range services {
		out = append(out, serviceItem{
			ServiceID:       s.ID,
			Code:            s.Code,
			Name:            s.Name,
			DurationMinutes: s.DurationMinutes,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func clockOf(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
