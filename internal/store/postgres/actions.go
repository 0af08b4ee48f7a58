package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/models"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) AllocateOPD(ctx context.Context, input store.AllocateInput) (models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockOPD(ctx, tx, input.OPDCode); err != nil {
		return models.QueueEntry{}, err
	}
	if err = ensureOPDActive(ctx, tx, input.OPDCode); err != nil {
		return models.QueueEntry{}, err
	}

	patient, err := getPatientTx(ctx, tx, input.PatientID)
	if err != nil {
		return models.QueueEntry{}, err
	}

	_, open, err := openEntryForPatient(ctx, tx, input.PatientID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if open {
		err = store.ErrAlreadyQueued
		return models.QueueEntry{}, err
	}

	position, err := nextPendingPosition(ctx, tx, input.OPDCode)
	if err != nil {
		return models.QueueEntry{}, err
	}

	now := time.Now().UTC()
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_entries (patient_id, opd_code, status, position, allocated_at, is_referred, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $5)
		RETURNING `+entryColumns+`
	`, input.PatientID, input.OPDCode, models.StatusPending, position, now)
	entry, err := scanEntry(row)
	if err != nil {
		return models.QueueEntry{}, err
	}

	if err = insertFlow(ctx, tx, patient.ID, patient.TokenNumber, strPtr(roomRegistration), strPtr(opdRoom(input.OPDCode)), models.StatusPending, ""); err != nil {
		return models.QueueEntry{}, err
	}
	if err = insertOutboxEvent(ctx, tx, input.OPDCode, "queue.joined", patient.ID, patient.TokenNumber, models.StatusPending); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.QueueItem, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueItem{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockOPD(ctx, tx, input.OPDCode); err != nil {
		return models.QueueItem{}, err
	}
	if err = ensureOPDActive(ctx, tx, input.OPDCode); err != nil {
		return models.QueueItem{}, err
	}
	if err = s.checkServeCapacity(ctx, tx, input.OPDCode); err != nil {
		return models.QueueItem{}, err
	}

	row := tx.QueryRow(ctx, `
		WITH next_entry AS (
			SELECT id
			FROM queue_entries
			WHERE opd_code = $1 AND status = 'pending'
			ORDER BY position ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE queue_entries q
		SET status = 'in_opd', position = NULL, updated_at = $2
		FROM next_entry
		WHERE q.id = next_entry.id
		RETURNING `+entryColumnsQ+`
	`, input.OPDCode, time.Now().UTC())
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoPatient
		}
		return models.QueueItem{}, err
	}

	patient, err := getPatientTx(ctx, tx, entry.PatientID)
	if err != nil {
		return models.QueueItem{}, err
	}

	if err = insertFlow(ctx, tx, patient.ID, patient.TokenNumber, strPtr(roomWaitingArea), strPtr(opdRoom(input.OPDCode)), models.StatusInOPD, ""); err != nil {
		return models.QueueItem{}, err
	}
	if err = insertOutboxEvent(ctx, tx, input.OPDCode, "queue.called", patient.ID, patient.TokenNumber, models.StatusInOPD); err != nil {
		return models.QueueItem{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueItem{}, err
	}
	return queueItem(entry, patient, s.dilationSLA), nil
}

func (s *Store) CallOutOfOrder(ctx context.Context, input store.EntryActionInput) (models.QueueItem, error) {
	if !opdAllowed(input.AllowedOPDs, input.OPDCode) {
		return models.QueueItem{}, store.ErrAccessDenied
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueItem{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockOPD(ctx, tx, input.OPDCode); err != nil {
		return models.QueueItem{}, err
	}
	if err = ensureOPDActive(ctx, tx, input.OPDCode); err != nil {
		return models.QueueItem{}, err
	}
	if err = s.checkServeCapacity(ctx, tx, input.OPDCode); err != nil {
		return models.QueueItem{}, err
	}

	entry, found, err := openEntryInOPD(ctx, tx, input.PatientID, input.OPDCode)
	if err != nil {
		return models.QueueItem{}, err
	}
	if !found {
		err = store.ErrEntryNotFound
		return models.QueueItem{}, err
	}
	if !store.ValidTransition("call_out_of_order", entry.Status) {
		err = store.ErrInvalidState
		return models.QueueItem{}, err
	}

	// Remaining pending entries keep their stored positions; only this
	// entry leaves ordering consideration.
	row := tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'in_opd', position = NULL, dilation_start = NULL, updated_at = $2
		WHERE id = $1
		RETURNING `+entryColumns+`
	`, entry.ID, time.Now().UTC())
	entry, err = scanEntry(row)
	if err != nil {
		return models.QueueItem{}, err
	}

	patient, err := getPatientTx(ctx, tx, entry.PatientID)
	if err != nil {
		return models.QueueItem{}, err
	}

	if err = insertFlow(ctx, tx, patient.ID, patient.TokenNumber, strPtr(roomWaitingArea), strPtr(opdRoom(input.OPDCode)), models.StatusInOPD, "called out of order"); err != nil {
		return models.QueueItem{}, err
	}
	if err = insertOutboxEvent(ctx, tx, input.OPDCode, "queue.called", patient.ID, patient.TokenNumber, models.StatusInOPD); err != nil {
		return models.QueueItem{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueItem{}, err
	}
	return queueItem(entry, patient, s.dilationSLA), nil
}

func (s *Store) SendBack(ctx context.Context, input store.EntryActionInput) (models.QueueEntry, error) {
	if !opdAllowed(input.AllowedOPDs, input.OPDCode) {
		return models.QueueEntry{}, store.ErrAccessDenied
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockOPD(ctx, tx, input.OPDCode); err != nil {
		return models.QueueEntry{}, err
	}

	entry, found, err := openEntryInOPD(ctx, tx, input.PatientID, input.OPDCode)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !found {
		err = store.ErrEntryNotFound
		return models.QueueEntry{}, err
	}
	if !store.ValidTransition("send_back", entry.Status) {
		err = store.ErrInvalidState
		return models.QueueEntry{}, err
	}

	position, err := nextPendingPosition(ctx, tx, input.OPDCode)
	if err != nil {
		return models.QueueEntry{}, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'pending', position = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+entryColumns+`
	`, entry.ID, position, time.Now().UTC())
	entry, err = scanEntry(row)
	if err != nil {
		return models.QueueEntry{}, err
	}

	patient, err := getPatientTx(ctx, tx, entry.PatientID)
	if err != nil {
		return models.QueueEntry{}, err
	}

	if err = insertFlow(ctx, tx, patient.ID, patient.TokenNumber, strPtr(opdRoom(input.OPDCode)), strPtr(roomWaitingArea), models.StatusPending, "sent back to queue"); err != nil {
		return models.QueueEntry{}, err
	}
	if err = insertOutboxEvent(ctx, tx, input.OPDCode, "queue.sent_back", patient.ID, patient.TokenNumber, models.StatusPending); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) Dilate(ctx context.Context, input store.EntryActionInput) (models.QueueEntry, error) {
	return s.updateEntryStatus(ctx, input, "dilate", dilateEffect)
}

func (s *Store) ReturnDilated(ctx context.Context, input store.EntryActionInput) (models.QueueEntry, error) {
	return s.updateEntryStatus(ctx, input, "return_dilated", returnDilatedEffect)
}

type entryEffect struct {
	query    string
	fromRoom string
	toRoom   string
	status   models.Status
	event    string
	notes    func(entry models.QueueEntry, input store.EntryActionInput) string
}

var dilateEffect = entryEffect{
	query: `
		UPDATE queue_entries
		SET status = 'dilated', dilation_start = $2, remarks = NULLIF($3, ''), updated_at = $2
		WHERE id = $1
		RETURNING ` + entryColumns,
	fromRoom: "",
	toRoom:   roomDilationArea,
	status:   models.StatusDilated,
	event:    "queue.dilated",
	notes: func(entry models.QueueEntry, input store.EntryActionInput) string {
		if input.Remarks != "" {
			return input.Remarks
		}
		return "patient given dilation drops"
	},
}

var returnDilatedEffect = entryEffect{
	query: `
		UPDATE queue_entries
		SET status = 'in_opd', dilation_start = NULL, updated_at = $2, remarks = COALESCE(NULLIF($3, ''), remarks)
		WHERE id = $1
		RETURNING ` + entryColumns,
	fromRoom: roomDilationArea,
	toRoom:   "",
	status:   models.StatusInOPD,
	event:    "queue.undilated",
	notes: func(entry models.QueueEntry, input store.EntryActionInput) string {
		if entry.DilationStart != nil {
			return fmt.Sprintf("returned from dilation started at %s", entry.DilationStart.UTC().Format(time.RFC3339))
		}
		return "returned from dilation"
	},
}

func (s *Store) updateEntryStatus(ctx context.Context, input store.EntryActionInput, action string, effect entryEffect) (models.QueueEntry, error) {
	if !opdAllowed(input.AllowedOPDs, input.OPDCode) {
		return models.QueueEntry{}, store.ErrAccessDenied
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	entry, found, err := openEntryInOPD(ctx, tx, input.PatientID, input.OPDCode)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !found {
		err = store.ErrEntryNotFound
		return models.QueueEntry{}, err
	}
	if !store.ValidTransition(action, entry.Status) {
		err = store.ErrInvalidState
		return models.QueueEntry{}, err
	}

	notes := effect.notes(entry, input)
	row := tx.QueryRow(ctx, effect.query, entry.ID, time.Now().UTC(), input.Remarks)
	entry, err = scanEntry(row)
	if err != nil {
		return models.QueueEntry{}, err
	}

	patient, err := getPatientTx(ctx, tx, entry.PatientID)
	if err != nil {
		return models.QueueEntry{}, err
	}

	fromRoom := effect.fromRoom
	if fromRoom == "" {
		fromRoom = opdRoom(input.OPDCode)
	}
	toRoom := effect.toRoom
	if toRoom == "" {
		toRoom = opdRoom(input.OPDCode)
	}
	if err = insertFlow(ctx, tx, patient.ID, patient.TokenNumber, strPtr(fromRoom), strPtr(toRoom), effect.status, notes); err != nil {
		return models.QueueEntry{}, err
	}
	if err = insertOutboxEvent(ctx, tx, input.OPDCode, effect.event, patient.ID, patient.TokenNumber, effect.status); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

// Refer closes the origin entry and opens a pending entry in the target
// OPD inside one transaction; the two writes are never split.
func (s *Store) Refer(ctx context.Context, input store.ReferInput) (models.Referral, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Referral{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = getPatientTx(ctx, tx, input.PatientID); err != nil {
		return models.Referral{}, err
	}

	// Peek without locking to learn the origin OPD, then take both
	// advisory locks in code order before touching rows. Keeps lock
	// order consistent with the single-OPD operations.
	var originCode string
	row := tx.QueryRow(ctx, `
		SELECT opd_code
		FROM queue_entries
		WHERE patient_id = $1 AND status IN ('pending', 'in_opd', 'dilated')
	`, input.PatientID)
	if err = row.Scan(&originCode); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrEntryNotFound
		}
		return models.Referral{}, err
	}

	if !opdAllowed(input.AllowedOPDs, originCode) {
		err = store.ErrAccessDenied
		return models.Referral{}, err
	}

	first, second := originCode, input.ToOPD
	if second < first {
		first, second = second, first
	}
	if err = lockOPD(ctx, tx, first); err != nil {
		return models.Referral{}, err
	}
	if first != second {
		if err = lockOPD(ctx, tx, second); err != nil {
			return models.Referral{}, err
		}
	}

	if err = ensureOPDActive(ctx, tx, input.ToOPD); err != nil {
		return models.Referral{}, err
	}

	origin, found, err := openEntryForPatient(ctx, tx, input.PatientID)
	if err != nil {
		return models.Referral{}, err
	}
	if !found {
		err = store.ErrEntryNotFound
		return models.Referral{}, err
	}
	if !store.ValidTransition("refer", origin.Status) {
		err = store.ErrInvalidState
		return models.Referral{}, err
	}

	now := time.Now().UTC()
	row = tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'referred', referred_to_opd = $2, position = NULL, remarks = COALESCE(NULLIF($3, ''), remarks), updated_at = $4
		WHERE id = $1
		RETURNING `+entryColumns+`
	`, origin.ID, input.ToOPD, input.Remarks, now)
	from, err := scanEntry(row)
	if err != nil {
		return models.Referral{}, err
	}

	position, err := nextPendingPosition(ctx, tx, input.ToOPD)
	if err != nil {
		return models.Referral{}, err
	}

	row = tx.QueryRow(ctx, `
		INSERT INTO queue_entries (patient_id, opd_code, status, position, allocated_at, referred_from_opd, is_referred, remarks, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, NULLIF($7, ''), $5)
		RETURNING `+entryColumns+`
	`, input.PatientID, input.ToOPD, models.StatusPending, position, now, from.OPDCode, input.Remarks)
	to, err := scanEntry(row)
	if err != nil {
		return models.Referral{}, err
	}

	patient, err := getPatientTx(ctx, tx, input.PatientID)
	if err != nil {
		return models.Referral{}, err
	}

	if err = insertFlow(ctx, tx, patient.ID, patient.TokenNumber, strPtr(opdRoom(from.OPDCode)), strPtr(opdRoom(input.ToOPD)), models.StatusReferred, input.Remarks); err != nil {
		return models.Referral{}, err
	}
	if err = insertOutboxEvent(ctx, tx, from.OPDCode, "queue.referred", patient.ID, patient.TokenNumber, models.StatusReferred); err != nil {
		return models.Referral{}, err
	}
	if err = insertOutboxEvent(ctx, tx, input.ToOPD, "queue.joined", patient.ID, patient.TokenNumber, models.StatusPending); err != nil {
		return models.Referral{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Referral{}, err
	}
	return models.Referral{From: from, To: to}, nil
}

// ReturnFromReferral closes the referred-to entry only. The origin entry
// went terminal when the referral was made; nothing is reopened.
func (s *Store) ReturnFromReferral(ctx context.Context, input store.ReturnReferralInput) (models.QueueEntry, error) {
	if !opdAllowed(input.AllowedOPDs, input.OPDCode) {
		return models.QueueEntry{}, store.ErrAccessDenied
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	entry, found, err := openEntryInOPD(ctx, tx, input.PatientID, input.OPDCode)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !found {
		if _, err = getPatientTx(ctx, tx, input.PatientID); err != nil {
			return models.QueueEntry{}, err
		}
		err = store.ErrEntryNotFound
		return models.QueueEntry{}, err
	}
	if !store.ValidTransition("return_referral", entry.Status) {
		err = store.ErrInvalidState
		return models.QueueEntry{}, err
	}
	if !entry.IsReferred {
		err = store.ErrNotReferred
		return models.QueueEntry{}, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'end_visit', position = NULL, remarks = COALESCE(NULLIF($2, ''), remarks), updated_at = $3
		WHERE id = $1
		RETURNING `+entryColumns+`
	`, entry.ID, input.Remarks, time.Now().UTC())
	entry, err = scanEntry(row)
	if err != nil {
		return models.QueueEntry{}, err
	}

	patient, err := getPatientTx(ctx, tx, entry.PatientID)
	if err != nil {
		return models.QueueEntry{}, err
	}

	notes := "returned from referral"
	if entry.ReferredFromOPD != nil {
		notes = fmt.Sprintf("returned from referral, originally from %s", *entry.ReferredFromOPD)
	}
	if err = insertFlow(ctx, tx, patient.ID, patient.TokenNumber, strPtr(opdRoom(input.OPDCode)), nil, models.StatusEndVisit, notes); err != nil {
		return models.QueueEntry{}, err
	}
	if err = insertOutboxEvent(ctx, tx, input.OPDCode, "queue.returned", patient.ID, patient.TokenNumber, models.StatusEndVisit); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) EndVisit(ctx context.Context, input store.EndVisitInput) (models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = getPatientTx(ctx, tx, input.PatientID); err != nil {
		return models.QueueEntry{}, err
	}

	entry, found, err := openEntryForPatient(ctx, tx, input.PatientID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !found {
		err = store.ErrEntryNotFound
		return models.QueueEntry{}, err
	}
	if !store.ValidTransition("end_visit", entry.Status) {
		err = store.ErrInvalidState
		return models.QueueEntry{}, err
	}
	if !opdAllowed(input.AllowedOPDs, entry.OPDCode) {
		err = store.ErrAccessDenied
		return models.QueueEntry{}, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'end_visit', position = NULL, dilation_start = NULL, remarks = COALESCE(NULLIF($2, ''), remarks), updated_at = $3
		WHERE id = $1
		RETURNING `+entryColumns+`
	`, entry.ID, input.Remarks, time.Now().UTC())
	entry, err = scanEntry(row)
	if err != nil {
		return models.QueueEntry{}, err
	}

	patient, err := getPatientTx(ctx, tx, entry.PatientID)
	if err != nil {
		return models.QueueEntry{}, err
	}

	if err = insertFlow(ctx, tx, patient.ID, patient.TokenNumber, strPtr(opdRoom(entry.OPDCode)), nil, models.StatusEndVisit, input.Remarks); err != nil {
		return models.QueueEntry{}, err
	}
	if err = insertOutboxEvent(ctx, tx, entry.OPDCode, "visit.ended", patient.ID, patient.TokenNumber, models.StatusEndVisit); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}
