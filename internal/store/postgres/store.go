package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/models"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	roomRegistration = "registration"
	roomWaitingArea  = "waiting_area"
	roomDilationArea = "dilation_area"
)

type Store struct {
	pool          *pgxpool.Pool
	serveCapacity int
	dilationSLA   time.Duration
}

type Options struct {
	// ServeCapacity caps concurrently in_opd entries per OPD; 0 disables
	// the cap.
	ServeCapacity int
	DilationSLA   time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	capacity := options.ServeCapacity
	if capacity < 0 {
		capacity = 0
	}
	sla := options.DilationSLA
	if sla <= 0 {
		sla = 30 * time.Minute
	}
	return &Store{
		pool:          pool,
		serveCapacity: capacity,
		dilationSLA:   sla,
	}
}

func opdRoom(code string) string {
	return "opd_" + code
}

func opdAllowed(allowed []string, code string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, item := range allowed {
		if item == code {
			return true
		}
	}
	return false
}

// lockOPD serializes position assignment and head selection per OPD for
// the duration of the transaction.
func lockOPD(ctx context.Context, tx pgx.Tx, opdCode string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, opdCode)
	return err
}

func getOPD(ctx context.Context, tx pgx.Tx, code string) (models.OPD, error) {
	var opd models.OPD
	row := tx.QueryRow(ctx, `
		SELECT opd_code, opd_name, is_active
		FROM opds
		WHERE opd_code = $1
	`, code)
	if err := row.Scan(&opd.Code, &opd.Name, &opd.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.OPD{}, store.ErrOPDNotFound
		}
		return models.OPD{}, err
	}
	return opd, nil
}

func ensureOPDActive(ctx context.Context, tx pgx.Tx, code string) error {
	opd, err := getOPD(ctx, tx, code)
	if err != nil {
		return err
	}
	if !opd.Active {
		return store.ErrOPDInactive
	}
	return nil
}

// nextPendingPosition must run after lockOPD; positions are 1+max over the
// current pending set, so concurrently pending entries never collide.
func nextPendingPosition(ctx context.Context, tx pgx.Tx, opdCode string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0) + 1
		FROM queue_entries
		WHERE opd_code = $1 AND status = 'pending'
	`, opdCode)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) checkServeCapacity(ctx context.Context, tx pgx.Tx, opdCode string) error {
	if s.serveCapacity <= 0 {
		return nil
	}
	var serving int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE opd_code = $1 AND status = 'in_opd'
	`, opdCode)
	if err := row.Scan(&serving); err != nil {
		return err
	}
	if serving >= s.serveCapacity {
		return store.ErrOPDBusy
	}
	return nil
}

const entryColumns = `id, patient_id, opd_code, status, position, allocated_at, dilation_start, referred_to_opd, referred_from_opd, is_referred, COALESCE(remarks, ''), updated_at`

const entryColumnsQ = `q.id, q.patient_id, q.opd_code, q.status, q.position, q.allocated_at, q.dilation_start, q.referred_to_opd, q.referred_from_opd, q.is_referred, COALESCE(q.remarks, ''), q.updated_at`

func scanEntry(row pgx.Row) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var position sql.NullInt32
	var dilationStart sql.NullTime
	var referredTo sql.NullString
	var referredFrom sql.NullString
	if err := row.Scan(&entry.ID, &entry.PatientID, &entry.OPDCode, &entry.Status, &position, &entry.AllocatedAt, &dilationStart, &referredTo, &referredFrom, &entry.IsReferred, &entry.Remarks, &entry.UpdatedAt); err != nil {
		return models.QueueEntry{}, err
	}
	if position.Valid {
		value := int(position.Int32)
		entry.Position = &value
	}
	if dilationStart.Valid {
		value := dilationStart.Time
		entry.DilationStart = &value
	}
	if referredTo.Valid {
		entry.ReferredToOPD = &referredTo.String
	}
	if referredFrom.Valid {
		entry.ReferredFromOPD = &referredFrom.String
	}
	return entry, nil
}

// openEntryForPatient locks the patient's single open entry, if any.
func openEntryForPatient(ctx context.Context, tx pgx.Tx, patientID int64) (models.QueueEntry, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE patient_id = $1 AND status IN ('pending', 'in_opd', 'dilated')
		FOR UPDATE
	`, patientID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func openEntryInOPD(ctx context.Context, tx pgx.Tx, patientID int64, opdCode string) (models.QueueEntry, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE patient_id = $1 AND opd_code = $2 AND status IN ('pending', 'in_opd', 'dilated')
		FOR UPDATE
	`, patientID, opdCode)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func getPatientTx(ctx context.Context, tx pgx.Tx, patientID int64) (models.Patient, error) {
	var patient models.Patient
	var phone sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT id, token_number, name, age, phone, registration_time
		FROM patients
		WHERE id = $1
	`, patientID)
	if err := row.Scan(&patient.ID, &patient.TokenNumber, &patient.Name, &patient.Age, &phone, &patient.RegistrationTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	if phone.Valid {
		patient.Phone = phone.String
	}
	return patient, nil
}

func insertFlow(ctx context.Context, tx pgx.Tx, patientID int64, token string, fromRoom, toRoom *string, status models.Status, notes string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO patient_flow (patient_id, token_number, from_room, to_room, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`, patientID, token, fromRoom, toRoom, status, notes, time.Now().UTC())
	return err
}

// insertOutboxEvent writes the broadcast notification in the same
// transaction as the mutation; consumers treat it as a refresh hint only.
func insertOutboxEvent(ctx context.Context, tx pgx.Tx, opdCode, eventType string, patientID int64, token string, status models.Status) error {
	payload := map[string]interface{}{
		"opd_code":     opdCode,
		"event_type":   eventType,
		"patient_id":   patientID,
		"token_number": token,
		"status":       status,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, opd_code, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), opdCode, eventType, payloadJSON, time.Now().UTC())
	return err
}

func strPtr(value string) *string {
	return &value
}
