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

// Token numbers restart each day at 1001, formatted YYYYMMDD-NNNN.
const tokenSeqStart = 1000

func nextTokenNumber(ctx context.Context, tx pgx.Tx, now time.Time) (string, error) {
	day := now.Format("20060102")
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO token_sequences (day, next_number)
		VALUES ($1, $2)
		ON CONFLICT (day)
		DO UPDATE SET next_number = token_sequences.next_number + 1
		RETURNING next_number
	`, day, tokenSeqStart+1)
	if err := row.Scan(&next); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", day, next), nil
}

func (s *Store) RegisterPatient(ctx context.Context, input store.RegisterPatientInput) (models.Patient, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Patient{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	token, err := nextTokenNumber(ctx, tx, now)
	if err != nil {
		return models.Patient{}, err
	}

	var patient models.Patient
	row := tx.QueryRow(ctx, `
		INSERT INTO patients (token_number, name, age, phone, registration_time)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id, token_number, name, age, COALESCE(phone, ''), registration_time
	`, token, input.Name, input.Age, input.Phone, now)
	if err = row.Scan(&patient.ID, &patient.TokenNumber, &patient.Name, &patient.Age, &patient.Phone, &patient.RegistrationTime); err != nil {
		return models.Patient{}, err
	}

	if err = insertFlow(ctx, tx, patient.ID, patient.TokenNumber, nil, strPtr(roomRegistration), models.StatusPending, ""); err != nil {
		return models.Patient{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Patient{}, err
	}
	return patient, nil
}

func (s *Store) GetPatient(ctx context.Context, patientID int64) (models.Patient, error) {
	var patient models.Patient
	row := s.pool.QueryRow(ctx, `
		SELECT id, token_number, name, age, COALESCE(phone, ''), registration_time
		FROM patients
		WHERE id = $1
	`, patientID)
	if err := row.Scan(&patient.ID, &patient.TokenNumber, &patient.Name, &patient.Age, &patient.Phone, &patient.RegistrationTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	return patient, nil
}

const listPatientsDefaultLimit = 100

// ListPatients pages the patient directory, newest registrations first.
// Search matches name, token number, or phone as a case-insensitive
// substring.
func (s *Store) ListPatients(ctx context.Context, input store.ListPatientsInput) ([]models.Patient, error) {
	limit := input.Limit
	if limit <= 0 || limit > 500 {
		limit = listPatientsDefaultLimit
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, token_number, name, age, COALESCE(phone, ''), registration_time
		FROM patients`
	args := []interface{}{}
	if input.Search != "" {
		args = append(args, "%"+input.Search+"%")
		query += `
		WHERE name ILIKE $1 OR token_number ILIKE $1 OR phone ILIKE $1`
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(`
		ORDER BY registration_time DESC, id DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []models.Patient
	for rows.Next() {
		var patient models.Patient
		if err := rows.Scan(&patient.ID, &patient.TokenNumber, &patient.Name, &patient.Age, &patient.Phone, &patient.RegistrationTime); err != nil {
			return nil, err
		}
		patients = append(patients, patient)
	}
	return patients, rows.Err()
}

// OpenEntry returns the patient's single open queue entry, if any.
func (s *Store) OpenEntry(ctx context.Context, patientID int64) (models.QueueEntry, error) {
	if _, err := s.GetPatient(ctx, patientID); err != nil {
		return models.QueueEntry{}, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE patient_id = $1 AND status IN ('pending', 'in_opd', 'dilated')
	`, patientID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	return entry, nil
}

// PurgePatient removes the patient and every queue entry and flow record
// referencing them. Terminal entries go too; this is the administrative
// escape hatch, not a workflow operation.
func (s *Store) PurgePatient(ctx context.Context, patientID int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	patient, err := getPatientTx(ctx, tx, patientID)
	if err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `
		SELECT DISTINCT opd_code
		FROM queue_entries
		WHERE patient_id = $1 AND status IN ('pending', 'in_opd', 'dilated')
	`, patientID)
	if err != nil {
		return err
	}
	var openOPDs []string
	for rows.Next() {
		var code string
		if err = rows.Scan(&code); err != nil {
			rows.Close()
			return err
		}
		openOPDs = append(openOPDs, code)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM patient_flow WHERE patient_id = $1`, patientID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM queue_entries WHERE patient_id = $1`, patientID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM patients WHERE id = $1`, patientID); err != nil {
		return err
	}

	for _, code := range openOPDs {
		if err = insertOutboxEvent(ctx, tx, code, "queue.purged", patientID, patient.TokenNumber, models.StatusEndVisit); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
