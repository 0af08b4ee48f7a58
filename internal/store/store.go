package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/models"
)

type RegisterPatientInput struct {
	Name  string
	Age   int
	Phone string
}

// ListPatientsInput filters the registration-desk patient directory.
// Search matches name, token number, or phone as a substring.
type ListPatientsInput struct {
	Search string
	Limit  int
	Offset int
}

type AllocateInput struct {
	PatientID int64
	OPDCode   string
}

type CallNextInput struct {
	OPDCode string
}

// EntryActionInput addresses one patient's entry inside one OPD's queue.
// AllowedOPDs carries the actor's OPD-access grants resolved at the
// boundary; an empty slice means unrestricted.
type EntryActionInput struct {
	OPDCode     string
	PatientID   int64
	Remarks     string
	AllowedOPDs []string
}

type ReferInput struct {
	PatientID   int64
	ToOPD       string
	Remarks     string
	AllowedOPDs []string
}

type ReturnReferralInput struct {
	PatientID   int64
	OPDCode     string
	Remarks     string
	AllowedOPDs []string
}

type EndVisitInput struct {
	PatientID   int64
	Remarks     string
	AllowedOPDs []string
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	OPDCode   string          `json:"opd_code"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type OutboxOffset struct {
	LastEventTime time.Time
	LastEventID   string
}

type Session struct {
	SessionID string
	UserID    string
	Role      string
	ExpiresAt time.Time
}

// QueueStore is the engine's contract with its ledger. Every mutating
// call runs as a single transaction: validate precondition, update the
// entry, append a flow record, insert an outbox event.
type QueueStore interface {
	RegisterPatient(ctx context.Context, input RegisterPatientInput) (models.Patient, error)
	GetPatient(ctx context.Context, patientID int64) (models.Patient, error)
	ListPatients(ctx context.Context, input ListPatientsInput) ([]models.Patient, error)
	OpenEntry(ctx context.Context, patientID int64) (models.QueueEntry, error)
	PurgePatient(ctx context.Context, patientID int64) error

	AllocateOPD(ctx context.Context, input AllocateInput) (models.QueueEntry, error)
	CallNext(ctx context.Context, input CallNextInput) (models.QueueItem, error)
	CallOutOfOrder(ctx context.Context, input EntryActionInput) (models.QueueItem, error)
	SendBack(ctx context.Context, input EntryActionInput) (models.QueueEntry, error)
	Dilate(ctx context.Context, input EntryActionInput) (models.QueueEntry, error)
	ReturnDilated(ctx context.Context, input EntryActionInput) (models.QueueEntry, error)
	Refer(ctx context.Context, input ReferInput) (models.Referral, error)
	ReturnFromReferral(ctx context.Context, input ReturnReferralInput) (models.QueueEntry, error)
	EndVisit(ctx context.Context, input EndVisitInput) (models.QueueEntry, error)

	GetQueue(ctx context.Context, opdCode string) (models.QueueSnapshot, error)
	GetStats(ctx context.Context, opdCode string) (models.OPDStats, error)
	GetAllStats(ctx context.Context) ([]models.OPDStats, error)
	ListReferred(ctx context.Context, fromOPD, toOPD string) ([]models.ReferredPatient, error)
	FlowHistory(ctx context.Context, patientID int64) ([]models.FlowRecord, error)
	DisplayBoard(ctx context.Context, opdCode string) (models.DisplayBoard, error)
	DisplayAll(ctx context.Context) ([]models.DisplayBoard, error)
	ListOPDs(ctx context.Context) ([]models.OPD, error)

	GetSession(ctx context.Context, sessionID string) (Session, error)
	GetOPDAccess(ctx context.Context, userID string) ([]string, error)
}

// EventStore is the broadcast relay's contract: drain outbox rows past a
// durable offset, advance the offset, and prune delivered rows.
type EventStore interface {
	ListOutboxEvents(ctx context.Context, after OutboxOffset, limit int) ([]OutboxEvent, error)
	GetOffset(ctx context.Context, consumer string) (OutboxOffset, error)
	UpdateOffset(ctx context.Context, consumer string, offset OutboxOffset) error
	CleanupOutbox(ctx context.Context, before time.Time) (int64, error)

	GetSession(ctx context.Context, sessionID string) (Session, error)
	GetOPDAccess(ctx context.Context, userID string) ([]string, error)
}
