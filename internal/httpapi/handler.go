package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/models"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/printing"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/store"
)

type Handler struct {
	store   store.QueueStore
	printer printing.Printer
}

type registerPatientRequest struct {
	Name  string `json:"name"`
	Age   int    `json:"age"`
	Phone string `json:"phone"`
}

type allocateRequest struct {
	OPDCode string `json:"opd_code"`
}

type referRequest struct {
	ToOPD   string `json:"to_opd"`
	Remarks string `json:"remarks"`
}

type returnReferralRequest struct {
	OPDCode string `json:"opd_code"`
	Remarks string `json:"remarks"`
}

type remarksRequest struct {
	Remarks string `json:"remarks"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(store store.QueueStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/patients", h.handleListPatients)
	mux.HandleFunc("/api/patients/register", h.handleRegister)
	mux.HandleFunc("/api/patients/referred", h.handleReferred)
	mux.HandleFunc("/api/patients/", h.handlePatientRoutes)
	mux.HandleFunc("/api/print/", h.handlePrintRoutes)
	mux.HandleFunc("/api/opds", h.handleOPDs)
	mux.HandleFunc("/api/opd/stats/all", h.handleAllStats)
	mux.HandleFunc("/api/opd/", h.handleOPDRoutes)
	mux.HandleFunc("/api/display/all", h.handleDisplayAll)
	mux.HandleFunc("/api/display/opd/", h.handleDisplayOPD)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, "registration", "admin") {
		return
	}

	var req registerPatientRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if req.Age <= 0 || req.Age > 150 {
		writeError(w, http.StatusBadRequest, "invalid_request", "age must be between 1 and 150")
		return
	}
	if req.Phone != "" && !isValidPhone(req.Phone) {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone must be 8-16 digits")
		return
	}

	patient, err := h.store.RegisterPatient(r.Context(), store.RegisterPatientInput{
		Name:  req.Name,
		Age:   req.Age,
		Phone: req.Phone,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, patient)
}

func (h *Handler) handleListPatients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := sessionFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	query := r.URL.Query()
	patients, err := h.store.ListPatients(r.Context(), store.ListPatientsInput{
		Search: strings.TrimSpace(query.Get("search")),
		Limit:  queryInt(query.Get("limit")),
		Offset: queryInt(query.Get("offset")),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if patients == nil {
		patients = []models.Patient{}
	}
	writeJSON(w, http.StatusOK, patients)
}

func queryInt(raw string) int {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}

func (h *Handler) handleReferred(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := sessionFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	fromOPD := strings.TrimSpace(r.URL.Query().Get("from_opd"))
	toOPD := strings.TrimSpace(r.URL.Query().Get("to_opd"))

	referred, err := h.store.ListReferred(r.Context(), fromOPD, toOPD)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if referred == nil {
		referred = []models.ReferredPatient{}
	}
	writeJSON(w, http.StatusOK, referred)
}

func (h *Handler) handlePatientRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/patients/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	patientID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || patientID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient id must be a positive integer")
		return
	}

	if len(parts) == 1 {
		h.handleGetPatient(w, r, patientID)
		return
	}
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "allocate-opd":
		h.handleAllocate(w, r, patientID)
	case "refer":
		h.handleRefer(w, r, patientID)
	case "return-from-referral":
		h.handleReturnFromReferral(w, r, patientID)
	case "endvisit":
		h.handleEndVisit(w, r, patientID)
	case "flow-history":
		h.handleFlowHistory(w, r, patientID)
	case "purge":
		h.handlePurge(w, r, patientID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetPatient(w http.ResponseWriter, r *http.Request, patientID int64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := sessionFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	patient, err := h.store.GetPatient(r.Context(), patientID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request, patientID int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, "registration", "admin") {
		return
	}

	var req allocateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.OPDCode = strings.TrimSpace(req.OPDCode)
	if req.OPDCode == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "opd_code is required")
		return
	}

	entry, err := h.store.AllocateOPD(r.Context(), store.AllocateInput{
		PatientID: patientID,
		OPDCode:   req.OPDCode,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleRefer(w http.ResponseWriter, r *http.Request, patientID int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, "nursing", "admin") {
		return
	}

	var req referRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.ToOPD = strings.TrimSpace(req.ToOPD)
	if req.ToOPD == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "to_opd is required")
		return
	}

	referral, err := h.store.Refer(r.Context(), store.ReferInput{
		PatientID:   patientID,
		ToOPD:       req.ToOPD,
		Remarks:     strings.TrimSpace(req.Remarks),
		AllowedOPDs: allowedOPDs(r),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, referral)
}

func (h *Handler) handleReturnFromReferral(w http.ResponseWriter, r *http.Request, patientID int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, "nursing", "admin") {
		return
	}

	var req returnReferralRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.OPDCode = strings.TrimSpace(req.OPDCode)
	if req.OPDCode == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "opd_code is required")
		return
	}

	entry, err := h.store.ReturnFromReferral(r.Context(), store.ReturnReferralInput{
		PatientID:   patientID,
		OPDCode:     req.OPDCode,
		Remarks:     strings.TrimSpace(req.Remarks),
		AllowedOPDs: allowedOPDs(r),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleEndVisit(w http.ResponseWriter, r *http.Request, patientID int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, "nursing", "admin") {
		return
	}

	var req remarksRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	entry, err := h.store.EndVisit(r.Context(), store.EndVisitInput{
		PatientID:   patientID,
		Remarks:     strings.TrimSpace(req.Remarks),
		AllowedOPDs: allowedOPDs(r),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleFlowHistory(w http.ResponseWriter, r *http.Request, patientID int64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := sessionFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	records, err := h.store.FlowHistory(r.Context(), patientID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if records == nil {
		records = []models.FlowRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request, patientID int64) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, "admin") {
		return
	}

	if err := h.store.PurgePatient(r.Context(), patientID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOPDs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	opds, err := h.store.ListOPDs(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if opds == nil {
		opds = []models.OPD{}
	}
	writeJSON(w, http.StatusOK, opds)
}

func (h *Handler) handleAllStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := sessionFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	stats, err := h.store.GetAllStats(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if stats == nil {
		stats = []models.OPDStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleOPDRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/opd/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	opdCode := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "queue":
			h.handleQueue(w, r, opdCode)
		case "stats":
			h.handleStats(w, r, opdCode)
		case "call-next":
			h.handleCallNext(w, r, opdCode)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
		return
	}

	if len(parts) != 3 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	patientID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || patientID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient id must be a positive integer")
		return
	}

	switch parts[1] {
	case "call-out-of-order":
		h.handleEntryAction(w, r, opdCode, patientID, h.callOutOfOrder)
	case "send-back-to-queue":
		h.handleEntryAction(w, r, opdCode, patientID, h.sendBack)
	case "dilate-patient":
		h.handleEntryAction(w, r, opdCode, patientID, h.dilate)
	case "return-dilated":
		h.handleEntryAction(w, r, opdCode, patientID, h.returnDilated)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request, opdCode string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := sessionFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	snapshot, err := h.store.GetQueue(r.Context(), opdCode)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request, opdCode string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := sessionFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	stats, err := h.store.GetStats(r.Context(), opdCode)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request, opdCode string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, "nursing", "admin") {
		return
	}
	if !requireOPDAccess(w, r, opdCode) {
		return
	}

	item, err := h.store.CallNext(r.Context(), store.CallNextInput{OPDCode: opdCode})
	if err != nil {
		if errors.Is(err, store.ErrNoPatient) {
			writeError(w, http.StatusConflict, "queue_empty", "no patients waiting")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type entryAction func(r *http.Request, input store.EntryActionInput) (interface{}, error)

func (h *Handler) callOutOfOrder(r *http.Request, input store.EntryActionInput) (interface{}, error) {
	return h.store.CallOutOfOrder(r.Context(), input)
}

func (h *Handler) sendBack(r *http.Request, input store.EntryActionInput) (interface{}, error) {
	return h.store.SendBack(r.Context(), input)
}

func (h *Handler) dilate(r *http.Request, input store.EntryActionInput) (interface{}, error) {
	return h.store.Dilate(r.Context(), input)
}

func (h *Handler) returnDilated(r *http.Request, input store.EntryActionInput) (interface{}, error) {
	return h.store.ReturnDilated(r.Context(), input)
}

func (h *Handler) handleEntryAction(w http.ResponseWriter, r *http.Request, opdCode string, patientID int64, action entryAction) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, r, "nursing", "admin") {
		return
	}
	if !requireOPDAccess(w, r, opdCode) {
		return
	}

	var req remarksRequest
	if r.ContentLength != 0 {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
	}

	result, err := action(r, store.EntryActionInput{
		OPDCode:     opdCode,
		PatientID:   patientID,
		Remarks:     strings.TrimSpace(req.Remarks),
		AllowedOPDs: allowedOPDs(r),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDisplayAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	boards, err := h.store.DisplayAll(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if boards == nil {
		boards = []models.DisplayBoard{}
	}
	writeJSON(w, http.StatusOK, boards)
}

func (h *Handler) handleDisplayOPD(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	opdCode := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/display/opd/"), "/")
	if opdCode == "" || strings.Contains(opdCode, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	board, err := h.store.DisplayBoard(r.Context(), opdCode)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrOPDNotFound):
		return http.StatusNotFound, "opd_not_found", "opd not found"
	case errors.Is(err, store.ErrOPDInactive):
		return http.StatusConflict, "opd_inactive", "opd is not accepting patients"
	case errors.Is(err, store.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found", "patient not found"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "no matching queue entry"
	case errors.Is(err, store.ErrNoPatient):
		return http.StatusConflict, "queue_empty", "no patients waiting"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "entry state does not allow this action"
	case errors.Is(err, store.ErrAlreadyQueued):
		return http.StatusConflict, "already_queued", "patient already has an open queue entry"
	case errors.Is(err, store.ErrOPDBusy):
		return http.StatusConflict, "opd_busy", "opd is at serving capacity"
	case errors.Is(err, store.ErrNotReferred):
		return http.StatusConflict, "not_referred", "entry was not opened by a referral"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
