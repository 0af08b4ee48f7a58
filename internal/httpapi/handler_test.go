package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/models"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/printing"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/store"
)

type fakeStore struct {
	registerFn       func(ctx context.Context, input store.RegisterPatientInput) (models.Patient, error)
	getPatientFn     func(ctx context.Context, patientID int64) (models.Patient, error)
	listPatientsFn   func(ctx context.Context, input store.ListPatientsInput) ([]models.Patient, error)
	openEntryFn      func(ctx context.Context, patientID int64) (models.QueueEntry, error)
	purgeFn          func(ctx context.Context, patientID int64) error
	allocateFn       func(ctx context.Context, input store.AllocateInput) (models.QueueEntry, error)
	callNextFn       func(ctx context.Context, input store.CallNextInput) (models.QueueItem, error)
	callOutFn        func(ctx context.Context, input store.EntryActionInput) (models.QueueItem, error)
	sendBackFn       func(ctx context.Context, input store.EntryActionInput) (models.QueueEntry, error)
	dilateFn         func(ctx context.Context, input store.EntryActionInput) (models.QueueEntry, error)
	returnDilatedFn  func(ctx context.Context, input store.EntryActionInput) (models.QueueEntry, error)
	referFn          func(ctx context.Context, input store.ReferInput) (models.Referral, error)
	returnReferralFn func(ctx context.Context, input store.ReturnReferralInput) (models.QueueEntry, error)
	endVisitFn       func(ctx context.Context, input store.EndVisitInput) (models.QueueEntry, error)
	getQueueFn       func(ctx context.Context, opdCode string) (models.QueueSnapshot, error)
	getStatsFn       func(ctx context.Context, opdCode string) (models.OPDStats, error)
	allStatsFn       func(ctx context.Context) ([]models.OPDStats, error)
	referredFn       func(ctx context.Context, fromOPD, toOPD string) ([]models.ReferredPatient, error)
	flowFn           func(ctx context.Context, patientID int64) ([]models.FlowRecord, error)
	displayFn        func(ctx context.Context, opdCode string) (models.DisplayBoard, error)
	displayAllFn     func(ctx context.Context) ([]models.DisplayBoard, error)
	listOPDsFn       func(ctx context.Context) ([]models.OPD, error)
	getSessionFn     func(ctx context.Context, sessionID string) (store.Session, error)
	getAccessFn      func(ctx context.Context, userID string) ([]string, error)
}

func (f fakeStore) RegisterPatient(ctx context.Context, input store.RegisterPatientInput) (models.Patient, error) {
	if f.registerFn == nil {
		return models.Patient{}, nil
	}
	return f.registerFn(ctx, input)
}

func (f fakeStore) GetPatient(ctx context.Context, patientID int64) (models.Patient, error) {
	if f.getPatientFn == nil {
		return models.Patient{}, nil
	}
	return f.getPatientFn(ctx, patientID)
}

func (f fakeStore) ListPatients(ctx context.Context, input store.ListPatientsInput) ([]models.Patient, error) {
	if f.listPatientsFn == nil {
		return nil, nil
	}
	return f.listPatientsFn(ctx, input)
}

func (f fakeStore) OpenEntry(ctx context.Context, patientID int64) (models.QueueEntry, error) {
	if f.openEntryFn == nil {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	return f.openEntryFn(ctx, patientID)
}

func (f fakeStore) PurgePatient(ctx context.Context, patientID int64) error {
	if f.purgeFn == nil {
		return nil
	}
	return f.purgeFn(ctx, patientID)
}

func (f fakeStore) AllocateOPD(ctx context.Context, input store.AllocateInput) (models.QueueEntry, error) {
	if f.allocateFn == nil {
		return models.QueueEntry{}, nil
	}
	return f.allocateFn(ctx, input)
}

func (f fakeStore) CallNext(ctx context.Context, input store.CallNextInput) (models.QueueItem, error) {
	if f.callNextFn == nil {
		return models.QueueItem{}, nil
	}
	return f.callNextFn(ctx, input)
}

func (f fakeStore) CallOutOfOrder(ctx context.Context, input store.EntryActionInput) (models.QueueItem, error) {
	if f.callOutFn == nil {
		return models.QueueItem{}, nil
	}
	return f.callOutFn(ctx, input)
}

func (f fakeStore) SendBack(ctx context.Context, input store.EntryActionInput) (models.QueueEntry, error) {
	if f.sendBackFn == nil {
		return models.QueueEntry{}, nil
	}
	return f.sendBackFn(ctx, input)
}

func (f fakeStore) Dilate(ctx context.Context, input store.EntryActionInput) (models.QueueEntry, error) {
	if f.dilateFn == nil {
		return models.QueueEntry{}, nil
	}
	return f.dilateFn(ctx, input)
}

func (f fakeStore) ReturnDilated(ctx context.Context, input store.EntryActionInput) (models.QueueEntry, error) {
	if f.returnDilatedFn == nil {
		return models.QueueEntry{}, nil
	}
	return f.returnDilatedFn(ctx, input)
}

func (f fakeStore) Refer(ctx context.Context, input store.ReferInput) (models.Referral, error) {
	if f.referFn == nil {
		return models.Referral{}, nil
	}
	return f.referFn(ctx, input)
}

func (f fakeStore) ReturnFromReferral(ctx context.Context, input store.ReturnReferralInput) (models.QueueEntry, error) {
	if f.returnReferralFn == nil {
		return models.QueueEntry{}, nil
	}
	return f.returnReferralFn(ctx, input)
}

func (f fakeStore) EndVisit(ctx context.Context, input store.EndVisitInput) (models.QueueEntry, error) {
	if f.endVisitFn == nil {
		return models.QueueEntry{}, nil
	}
	return f.endVisitFn(ctx, input)
}

func (f fakeStore) GetQueue(ctx context.Context, opdCode string) (models.QueueSnapshot, error) {
	if f.getQueueFn == nil {
		return models.QueueSnapshot{}, nil
	}
	return f.getQueueFn(ctx, opdCode)
}

func (f fakeStore) GetStats(ctx context.Context, opdCode string) (models.OPDStats, error) {
	if f.getStatsFn == nil {
		return models.OPDStats{}, nil
	}
	return f.getStatsFn(ctx, opdCode)
}

func (f fakeStore) GetAllStats(ctx context.Context) ([]models.OPDStats, error) {
	if f.allStatsFn == nil {
		return nil, nil
	}
	return f.allStatsFn(ctx)
}

func (f fakeStore) ListReferred(ctx context.Context, fromOPD, toOPD string) ([]models.ReferredPatient, error) {
	if f.referredFn == nil {
		return nil, nil
	}
	return f.referredFn(ctx, fromOPD, toOPD)
}

func (f fakeStore) FlowHistory(ctx context.Context, patientID int64) ([]models.FlowRecord, error) {
	if f.flowFn == nil {
		return nil, nil
	}
	return f.flowFn(ctx, patientID)
}

func (f fakeStore) DisplayBoard(ctx context.Context, opdCode string) (models.DisplayBoard, error) {
	if f.displayFn == nil {
		return models.DisplayBoard{}, nil
	}
	return f.displayFn(ctx, opdCode)
}

func (f fakeStore) DisplayAll(ctx context.Context) ([]models.DisplayBoard, error) {
	if f.displayAllFn == nil {
		return nil, nil
	}
	return f.displayAllFn(ctx)
}

func (f fakeStore) ListOPDs(ctx context.Context) ([]models.OPD, error) {
	if f.listOPDsFn == nil {
		return nil, nil
	}
	return f.listOPDsFn(ctx)
}

func (f fakeStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.getSessionFn == nil {
		return store.Session{}, store.ErrSessionNotFound
	}
	return f.getSessionFn(ctx, sessionID)
}

func (f fakeStore) GetOPDAccess(ctx context.Context, userID string) ([]string, error) {
	if f.getAccessFn == nil {
		return nil, nil
	}
	return f.getAccessFn(ctx, userID)
}

func asRole(req *http.Request, role string, opds ...string) *http.Request {
	info := authInfo{
		Session: store.Session{SessionID: "s-1", UserID: "u-1", Role: role, ExpiresAt: time.Now().Add(time.Hour)},
		OPDs:    opds,
	}
	return req.WithContext(context.WithValue(req.Context(), authContextKey{}, info))
}

func TestRegisterPatientSuccess(t *testing.T) {
	st := fakeStore{
		registerFn: func(ctx context.Context, input store.RegisterPatientInput) (models.Patient, error) {
			return models.Patient{
				ID:          1,
				TokenNumber: "20260829-1001",
				Name:        input.Name,
				Age:         input.Age,
			}, nil
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]interface{}{"name": "Asha", "age": 42})
	req := asRole(httptest.NewRequest(http.MethodPost, "/api/patients/register", bytes.NewReader(body)), "registration")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}
	var patient models.Patient
	if err := json.NewDecoder(resp.Body).Decode(&patient); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if patient.TokenNumber == "" || patient.Name != "Asha" {
		t.Fatalf("unexpected patient response: %+v", patient)
	}
}

func TestRegisterPatientInvalidAge(t *testing.T) {
	h := NewHandler(fakeStore{})

	body, _ := json.Marshal(map[string]interface{}{"name": "Asha", "age": 0})
	req := asRole(httptest.NewRequest(http.MethodPost, "/api/patients/register", bytes.NewReader(body)), "registration")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestRegisterPatientRequiresRole(t *testing.T) {
	h := NewHandler(fakeStore{})

	body, _ := json.Marshal(map[string]interface{}{"name": "Asha", "age": 42})
	req := asRole(httptest.NewRequest(http.MethodPost, "/api/patients/register", bytes.NewReader(body)), "nursing")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestAllocateOPDSuccess(t *testing.T) {
	var got store.AllocateInput
	st := fakeStore{
		allocateFn: func(ctx context.Context, input store.AllocateInput) (models.QueueEntry, error) {
			got = input
			position := 3
			return models.QueueEntry{ID: 7, PatientID: input.PatientID, OPDCode: input.OPDCode, Status: models.StatusPending, Position: &position}, nil
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{"opd_code": "eye"})
	req := asRole(httptest.NewRequest(http.MethodPost, "/api/patients/12/allocate-opd", bytes.NewReader(body)), "registration")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.PatientID != 12 || got.OPDCode != "eye" {
		t.Fatalf("unexpected allocate input: %+v", got)
	}
}

func TestAllocateOPDAlreadyQueued(t *testing.T) {
	st := fakeStore{
		allocateFn: func(ctx context.Context, input store.AllocateInput) (models.QueueEntry, error) {
			return models.QueueEntry{}, store.ErrAlreadyQueued
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{"opd_code": "eye"})
	req := asRole(httptest.NewRequest(http.MethodPost, "/api/patients/12/allocate-opd", bytes.NewReader(body)), "registration")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "already_queued" {
		t.Fatalf("expected error code already_queued, got %s", errResp.Error.Code)
	}
}

func TestCallNextSuccess(t *testing.T) {
	st := fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (models.QueueItem, error) {
			return models.QueueItem{EntryID: 1, PatientID: 2, TokenNumber: "20260829-1001", Status: models.StatusInOPD}, nil
		},
	}
	h := NewHandler(st)

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/opd/eye/call-next", nil), "nursing")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestCallNextQueueEmpty(t *testing.T) {
	st := fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (models.QueueItem, error) {
			return models.QueueItem{}, store.ErrNoPatient
		},
	}
	h := NewHandler(st)

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/opd/eye/call-next", nil), "nursing")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "queue_empty" {
		t.Fatalf("expected error code queue_empty, got %s", errResp.Error.Code)
	}
}

func TestCallNextOPDAccessDenied(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/opd/eye/call-next", nil), "nursing", "retina")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestCallOutOfOrderRouting(t *testing.T) {
	var got store.EntryActionInput
	st := fakeStore{
		callOutFn: func(ctx context.Context, input store.EntryActionInput) (models.QueueItem, error) {
			got = input
			return models.QueueItem{EntryID: 4, PatientID: input.PatientID, Status: models.StatusInOPD}, nil
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{"remarks": "urgent"})
	req := asRole(httptest.NewRequest(http.MethodPost, "/api/opd/eye/call-out-of-order/9", bytes.NewReader(body)), "nursing", "eye")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.OPDCode != "eye" || got.PatientID != 9 || got.Remarks != "urgent" {
		t.Fatalf("unexpected input: %+v", got)
	}
	if len(got.AllowedOPDs) != 1 || got.AllowedOPDs[0] != "eye" {
		t.Fatalf("expected opd grants to pass through, got %+v", got.AllowedOPDs)
	}
}

func TestSendBackInvalidState(t *testing.T) {
	st := fakeStore{
		sendBackFn: func(ctx context.Context, input store.EntryActionInput) (models.QueueEntry, error) {
			return models.QueueEntry{}, store.ErrInvalidState
		},
	}
	h := NewHandler(st)

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/opd/eye/send-back-to-queue/9", nil), "nursing")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestReferSuccess(t *testing.T) {
	var got store.ReferInput
	st := fakeStore{
		referFn: func(ctx context.Context, input store.ReferInput) (models.Referral, error) {
			got = input
			return models.Referral{
				From: models.QueueEntry{ID: 1, Status: models.StatusReferred},
				To:   models.QueueEntry{ID: 2, Status: models.StatusPending, IsReferred: true},
			}, nil
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{"to_opd": "retina", "remarks": "fundus check"})
	req := asRole(httptest.NewRequest(http.MethodPost, "/api/patients/5/refer", bytes.NewReader(body)), "nursing")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.PatientID != 5 || got.ToOPD != "retina" || got.Remarks != "fundus check" {
		t.Fatalf("unexpected refer input: %+v", got)
	}
	var referral models.Referral
	if err := json.NewDecoder(resp.Body).Decode(&referral); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if referral.From.Status != models.StatusReferred || !referral.To.IsReferred {
		t.Fatalf("unexpected referral response: %+v", referral)
	}
}

func TestReturnFromReferralNotReferred(t *testing.T) {
	st := fakeStore{
		returnReferralFn: func(ctx context.Context, input store.ReturnReferralInput) (models.QueueEntry, error) {
			return models.QueueEntry{}, store.ErrNotReferred
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{"opd_code": "retina"})
	req := asRole(httptest.NewRequest(http.MethodPost, "/api/patients/5/return-from-referral", bytes.NewReader(body)), "nursing")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "not_referred" {
		t.Fatalf("expected error code not_referred, got %s", errResp.Error.Code)
	}
}

func TestEndVisitSuccess(t *testing.T) {
	st := fakeStore{
		endVisitFn: func(ctx context.Context, input store.EndVisitInput) (models.QueueEntry, error) {
			return models.QueueEntry{ID: 3, PatientID: input.PatientID, Status: models.StatusEndVisit}, nil
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{"remarks": "glasses prescribed"})
	req := asRole(httptest.NewRequest(http.MethodPost, "/api/patients/5/endvisit", bytes.NewReader(body)), "nursing")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestPurgeRequiresAdmin(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := asRole(httptest.NewRequest(http.MethodDelete, "/api/patients/5/purge", nil), "nursing")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestPurgeSuccess(t *testing.T) {
	called := false
	st := fakeStore{
		purgeFn: func(ctx context.Context, patientID int64) error {
			called = patientID == 5
			return nil
		},
	}
	h := NewHandler(st)

	req := asRole(httptest.NewRequest(http.MethodDelete, "/api/patients/5/purge", nil), "admin")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}
	if !called {
		t.Fatalf("expected purge to be called with patient 5")
	}
}

func TestQueueRequiresSession(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/opd/eye/queue", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestDisplayIsPublic(t *testing.T) {
	st := fakeStore{
		displayFn: func(ctx context.Context, opdCode string) (models.DisplayBoard, error) {
			return models.DisplayBoard{OPDCode: opdCode, OPDName: "Eye OPD"}, nil
		},
		displayAllFn: func(ctx context.Context) ([]models.DisplayBoard, error) {
			return []models.DisplayBoard{{OPDCode: "eye"}}, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/display/opd/eye", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/display/all", nil)
	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestGetPatientNotFound(t *testing.T) {
	st := fakeStore{
		getPatientFn: func(ctx context.Context, patientID int64) (models.Patient, error) {
			return models.Patient{}, store.ErrPatientNotFound
		},
	}
	h := NewHandler(st)

	req := asRole(httptest.NewRequest(http.MethodGet, "/api/patients/99", nil), "registration")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

type fakePrinter struct {
	printTokenFn   func(ctx context.Context, slip printing.TokenSlip) error
	printOPDSlipFn func(ctx context.Context, slip printing.OPDSlip) error
	statusFn       func(ctx context.Context) printing.Status
}

func (f fakePrinter) PrintToken(ctx context.Context, slip printing.TokenSlip) error {
	if f.printTokenFn == nil {
		return nil
	}
	return f.printTokenFn(ctx, slip)
}

func (f fakePrinter) PrintOPDSlip(ctx context.Context, slip printing.OPDSlip) error {
	if f.printOPDSlipFn == nil {
		return nil
	}
	return f.printOPDSlipFn(ctx, slip)
}

func (f fakePrinter) Status(ctx context.Context) printing.Status {
	if f.statusFn == nil {
		return printing.Status{}
	}
	return f.statusFn(ctx)
}

func TestListPatientsSearch(t *testing.T) {
	var got store.ListPatientsInput
	st := fakeStore{
		listPatientsFn: func(ctx context.Context, input store.ListPatientsInput) ([]models.Patient, error) {
			got = input
			return []models.Patient{{ID: 1, TokenNumber: "20260829-1001", Name: "Asha"}}, nil
		},
	}
	h := NewHandler(st)

	req := asRole(httptest.NewRequest(http.MethodGet, "/api/patients?search=Asha&limit=10&offset=20", nil), "registration")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.Search != "Asha" || got.Limit != 10 || got.Offset != 20 {
		t.Fatalf("unexpected list input: %+v", got)
	}
	var patients []models.Patient
	if err := json.NewDecoder(resp.Body).Decode(&patients); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(patients) != 1 || patients[0].Name != "Asha" {
		t.Fatalf("unexpected patients response: %+v", patients)
	}
}

func TestListPatientsRequiresSession(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestPrintTokenSuccess(t *testing.T) {
	st := fakeStore{
		getPatientFn: func(ctx context.Context, patientID int64) (models.Patient, error) {
			return models.Patient{ID: patientID, TokenNumber: "20260829-1001", Name: "Asha"}, nil
		},
		openEntryFn: func(ctx context.Context, patientID int64) (models.QueueEntry, error) {
			return models.QueueEntry{ID: 1, PatientID: patientID, OPDCode: "eye", Status: models.StatusPending}, nil
		},
	}
	var got printing.TokenSlip
	printer := fakePrinter{
		printTokenFn: func(ctx context.Context, slip printing.TokenSlip) error {
			got = slip
			return nil
		},
	}
	h := NewHandler(st).WithPrinter(printer)

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/print/token/5", nil), "registration")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.TokenNumber != "20260829-1001" || got.PatientName != "Asha" || got.OPDCode != "eye" {
		t.Fatalf("unexpected slip: %+v", got)
	}
}

func TestPrintTokenRequiresRegistrationRole(t *testing.T) {
	h := NewHandler(fakeStore{}).WithPrinter(fakePrinter{})

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/print/token/5", nil), "nursing")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestPrintTokenWithoutPrinter(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/print/token/5", nil), "registration")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", resp.Code)
	}
}

func TestPrintOPDSlipRequiresOpenEntry(t *testing.T) {
	st := fakeStore{
		openEntryFn: func(ctx context.Context, patientID int64) (models.QueueEntry, error) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		},
	}
	h := NewHandler(st).WithPrinter(fakePrinter{})

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/print/opd-slip/5", nil), "registration")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestPrintOPDSlipFailure(t *testing.T) {
	st := fakeStore{
		getPatientFn: func(ctx context.Context, patientID int64) (models.Patient, error) {
			return models.Patient{ID: patientID, TokenNumber: "20260829-1001", Name: "Asha", RegistrationTime: time.Now()}, nil
		},
		openEntryFn: func(ctx context.Context, patientID int64) (models.QueueEntry, error) {
			return models.QueueEntry{ID: 1, PatientID: patientID, OPDCode: "eye", Status: models.StatusPending}, nil
		},
	}
	printer := fakePrinter{
		printOPDSlipFn: func(ctx context.Context, slip printing.OPDSlip) error {
			return errors.New("paper jam")
		},
	}
	h := NewHandler(st).WithPrinter(printer)

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/print/opd-slip/5", nil), "registration")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", resp.Code)
	}
	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "print_failed" {
		t.Fatalf("expected error code print_failed, got %s", errResp.Error.Code)
	}
}

func TestPrinterStatus(t *testing.T) {
	printer := fakePrinter{
		statusFn: func(ctx context.Context) printing.Status {
			return printing.Status{Connected: true, Address: "192.168.1.100:9100"}
		},
	}
	h := NewHandler(fakeStore{}).WithPrinter(printer)

	req := asRole(httptest.NewRequest(http.MethodGet, "/api/print/status", nil), "nursing")
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var status printing.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !status.Connected || status.Address != "192.168.1.100:9100" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestAuthMiddlewareInvalidSession(t *testing.T) {
	st := fakeStore{
		getSessionFn: func(ctx context.Context, sessionID string) (store.Session, error) {
			return store.Session{}, store.ErrSessionNotFound
		},
	}
	h := NewHandler(st)
	wrapped := AuthMiddleware(st, h.Routes())

	req := httptest.NewRequest(http.MethodGet, "/api/opd/eye/queue", nil)
	req.Header.Set("Authorization", "Bearer bad-session")
	resp := httptest.NewRecorder()

	wrapped.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestAuthMiddlewareResolvesGrants(t *testing.T) {
	var gotGrants []string
	st := fakeStore{
		getSessionFn: func(ctx context.Context, sessionID string) (store.Session, error) {
			return store.Session{SessionID: sessionID, UserID: "u-7", Role: "nursing", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
		getAccessFn: func(ctx context.Context, userID string) ([]string, error) {
			return []string{"eye"}, nil
		},
		callOutFn: func(ctx context.Context, input store.EntryActionInput) (models.QueueItem, error) {
			gotGrants = input.AllowedOPDs
			return models.QueueItem{}, nil
		},
	}
	h := NewHandler(st)
	wrapped := AuthMiddleware(st, h.Routes())

	req := httptest.NewRequest(http.MethodPost, "/api/opd/eye/call-out-of-order/3", nil)
	req.Header.Set("Authorization", "Bearer good-session")
	resp := httptest.NewRecorder()

	wrapped.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if len(gotGrants) != 1 || gotGrants[0] != "eye" {
		t.Fatalf("expected grants [eye], got %+v", gotGrants)
	}
}
