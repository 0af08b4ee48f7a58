package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/printing"
)

// WithPrinter attaches the registration-desk slip printer. Without one,
// print endpoints answer 503.
func (h *Handler) WithPrinter(printer printing.Printer) *Handler {
	h.printer = printer
	return h
}

func (h *Handler) handlePrintRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/print/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 1 && parts[0] == "status" {
		h.handlePrinterStatus(w, r)
		return
	}
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	patientID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || patientID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient id must be a positive integer")
		return
	}

	switch parts[0] {
	case "token":
		h.handlePrintToken(w, r, patientID)
	case "opd-slip":
		h.handlePrintOPDSlip(w, r, patientID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) requirePrinter(w http.ResponseWriter) bool {
	if h.printer == nil {
		writeError(w, http.StatusServiceUnavailable, "printer_unavailable", "no printer configured")
		return false
	}
	return true
}

func (h *Handler) handlePrintToken(w http.ResponseWriter, r *http.Request, patientID int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, "registration", "admin") {
		return
	}
	if !h.requirePrinter(w) {
		return
	}

	patient, err := h.store.GetPatient(r.Context(), patientID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	slip := printing.TokenSlip{TokenNumber: patient.TokenNumber, PatientName: patient.Name}
	// The OPD line is optional; the token can be printed before allocation.
	if entry, err := h.store.OpenEntry(r.Context(), patientID); err == nil {
		slip.OPDCode = entry.OPDCode
	}

	if err := h.printer.PrintToken(r.Context(), slip); err != nil {
		writeError(w, http.StatusBadGateway, "print_failed", "printer did not accept the job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "token printed"})
}

func (h *Handler) handlePrintOPDSlip(w http.ResponseWriter, r *http.Request, patientID int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, "registration", "admin") {
		return
	}
	if !h.requirePrinter(w) {
		return
	}

	entry, err := h.store.OpenEntry(r.Context(), patientID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	patient, err := h.store.GetPatient(r.Context(), patientID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	wait := int(time.Since(patient.RegistrationTime).Minutes())
	if wait < 0 {
		wait = 0
	}
	slip := printing.OPDSlip{
		TokenNumber:      patient.TokenNumber,
		PatientName:      patient.Name,
		OPDCode:          entry.OPDCode,
		RegistrationTime: patient.RegistrationTime,
		WaitMinutes:      wait,
	}

	if err := h.printer.PrintOPDSlip(r.Context(), slip); err != nil {
		writeError(w, http.StatusBadGateway, "print_failed", "printer did not accept the job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "opd slip printed"})
}

func (h *Handler) handlePrinterStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := sessionFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	if h.printer == nil {
		writeJSON(w, http.StatusOK, printing.Status{})
		return
	}
	writeJSON(w, http.StatusOK, h.printer.Status(r.Context()))
}
