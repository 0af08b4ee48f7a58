package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/models"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/store"

	"github.com/jackc/pgx/v5"
)

func queueItem(entry models.QueueEntry, patient models.Patient, dilationSLA time.Duration) models.QueueItem {
	item := models.QueueItem{
		EntryID:          entry.ID,
		PatientID:        patient.ID,
		TokenNumber:      patient.TokenNumber,
		PatientName:      patient.Name,
		Age:              patient.Age,
		Phone:            patient.Phone,
		Status:           entry.Status,
		Position:         entry.Position,
		RegistrationTime: patient.RegistrationTime,
		DilationStart:    entry.DilationStart,
		IsReferred:       entry.IsReferred,
		ReferredFrom:     entry.ReferredFromOPD,
	}
	if entry.Status == models.StatusDilated && entry.DilationStart != nil {
		item.DilationOverdue = time.Since(*entry.DilationStart) > dilationSLA
	}
	return item
}

const itemColumns = `q.id, q.patient_id, p.token_number, p.name, p.age, COALESCE(p.phone, ''), q.status, q.position, p.registration_time, q.dilation_start, q.is_referred, q.referred_from_opd`

func (s *Store) scanItem(row pgx.Row) (models.QueueItem, error) {
	var item models.QueueItem
	var position sql.NullInt32
	var dilationStart sql.NullTime
	var referredFrom sql.NullString
	err := row.Scan(&item.EntryID, &item.PatientID, &item.TokenNumber, &item.PatientName, &item.Age, &item.Phone, &item.Status, &position, &item.RegistrationTime, &dilationStart, &item.IsReferred, &referredFrom)
	if err != nil {
		return models.QueueItem{}, err
	}
	if position.Valid {
		value := int(position.Int32)
		item.Position = &value
	}
	if dilationStart.Valid {
		value := dilationStart.Time
		item.DilationStart = &value
	}
	if referredFrom.Valid {
		item.ReferredFrom = &referredFrom.String
	}
	if item.Status == models.StatusDilated && item.DilationStart != nil {
		item.DilationOverdue = time.Since(*item.DilationStart) > s.dilationSLA
	}
	return item, nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...interface{}) ([]models.QueueItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := s.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) getOPDByCode(ctx context.Context, code string) (models.OPD, error) {
	var opd models.OPD
	row := s.pool.QueryRow(ctx, `
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

// GetQueue returns the staff view of one OPD. Ranks are dense over the
// pending set in stored-position order; gaps left by out-of-order calls
// do not show through.
func (s *Store) GetQueue(ctx context.Context, opdCode string) (models.QueueSnapshot, error) {
	if _, err := s.getOPDByCode(ctx, opdCode); err != nil {
		return models.QueueSnapshot{}, err
	}

	items, err := s.queryItems(ctx, `
		SELECT `+itemColumns+`
		FROM queue_entries q
		JOIN patients p ON p.id = q.patient_id
		WHERE q.opd_code = $1 AND q.status IN ('pending', 'in_opd', 'dilated')
		ORDER BY q.position ASC NULLS LAST, q.updated_at ASC
	`, opdCode)
	if err != nil {
		return models.QueueSnapshot{}, err
	}

	snapshot := models.QueueSnapshot{OPDCode: opdCode}
	for _, item := range items {
		switch item.Status {
		case models.StatusPending:
			item.Rank = len(snapshot.Pending) + 1
			snapshot.Pending = append(snapshot.Pending, item)
		case models.StatusInOPD:
			snapshot.Serving = append(snapshot.Serving, item)
		case models.StatusDilated:
			snapshot.Dilated = append(snapshot.Dilated, item)
		}
	}
	return snapshot, nil
}

const statsColumns = `
	o.opd_code,
	o.opd_name,
	COUNT(q.id),
	COUNT(q.id) FILTER (WHERE q.status = 'pending'),
	COUNT(q.id) FILTER (WHERE q.status = 'in_opd'),
	COUNT(q.id) FILTER (WHERE q.status = 'dilated'),
	COUNT(q.id) FILTER (WHERE q.status = 'referred'),
	COUNT(q.id) FILTER (WHERE q.status = 'end_visit' AND q.updated_at >= date_trunc('day', now())),
	AVG(EXTRACT(EPOCH FROM (q.updated_at - q.allocated_at)) / 60)
		FILTER (WHERE q.status = 'end_visit' AND q.updated_at >= date_trunc('day', now()))`

func scanStats(row pgx.Row) (models.OPDStats, error) {
	var stats models.OPDStats
	var avgWait sql.NullFloat64
	err := row.Scan(&stats.OPDCode, &stats.OPDName, &stats.TotalPatients, &stats.Pending, &stats.InOPD, &stats.Dilated, &stats.Referred, &stats.CompletedToday, &avgWait)
	if err != nil {
		return models.OPDStats{}, err
	}
	if avgWait.Valid {
		stats.AvgWaitMinutes = &avgWait.Float64
	}
	return stats, nil
}

func (s *Store) GetStats(ctx context.Context, opdCode string) (models.OPDStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+statsColumns+`
		FROM opds o
		LEFT JOIN queue_entries q ON q.opd_code = o.opd_code
		WHERE o.opd_code = $1
		GROUP BY o.opd_code, o.opd_name
	`, opdCode)
	stats, err := scanStats(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.OPDStats{}, store.ErrOPDNotFound
		}
		return models.OPDStats{}, err
	}
	return stats, nil
}

func (s *Store) GetAllStats(ctx context.Context) ([]models.OPDStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+statsColumns+`
		FROM opds o
		LEFT JOIN queue_entries q ON q.opd_code = o.opd_code
		GROUP BY o.opd_code, o.opd_name
		ORDER BY o.opd_code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []models.OPDStats
	for rows.Next() {
		stats, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, stats)
	}
	return all, rows.Err()
}

// ListReferred lists referred-to entries, newest first. Either filter may
// be empty.
func (s *Store) ListReferred(ctx context.Context, fromOPD, toOPD string) ([]models.ReferredPatient, error) {
	query := `
		SELECT q.id, q.patient_id, p.token_number, p.name, COALESCE(q.referred_from_opd, ''), q.opd_code, q.status, q.allocated_at, COALESCE(q.remarks, '')
		FROM queue_entries q
		JOIN patients p ON p.id = q.patient_id
		WHERE q.is_referred = TRUE`
	args := []interface{}{}
	if fromOPD != "" {
		args = append(args, fromOPD)
		query += fmt.Sprintf(" AND q.referred_from_opd = $%d", len(args))
	}
	if toOPD != "" {
		args = append(args, toOPD)
		query += fmt.Sprintf(" AND q.opd_code = $%d", len(args))
	}
	query += " ORDER BY q.allocated_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var referred []models.ReferredPatient
	for rows.Next() {
		var item models.ReferredPatient
		if err := rows.Scan(&item.EntryID, &item.PatientID, &item.TokenNumber, &item.PatientName, &item.FromOPD, &item.ToOPD, &item.Status, &item.ReferredAt, &item.Remarks); err != nil {
			return nil, err
		}
		referred = append(referred, item)
	}
	return referred, rows.Err()
}

func (s *Store) FlowHistory(ctx context.Context, patientID int64) ([]models.FlowRecord, error) {
	if _, err := s.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, patient_id, token_number, from_room, to_room, status, COALESCE(notes, ''), created_at
		FROM patient_flow
		WHERE patient_id = $1
		ORDER BY created_at ASC, id ASC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.FlowRecord
	for rows.Next() {
		var record models.FlowRecord
		var fromRoom, toRoom sql.NullString
		if err := rows.Scan(&record.ID, &record.PatientID, &record.TokenNumber, &fromRoom, &toRoom, &record.Status, &record.Notes, &record.CreatedAt); err != nil {
			return nil, err
		}
		if fromRoom.Valid {
			record.FromRoom = &fromRoom.String
		}
		if toRoom.Valid {
			record.ToRoom = &toRoom.String
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

const displayNextLimit = 5

func (s *Store) displayBoard(ctx context.Context, opd models.OPD) (models.DisplayBoard, error) {
	board := models.DisplayBoard{OPDCode: opd.Code, OPDName: opd.Name}

	serving, err := s.queryItems(ctx, `
		SELECT `+itemColumns+`
		FROM queue_entries q
		JOIN patients p ON p.id = q.patient_id
		WHERE q.opd_code = $1 AND q.status = 'in_opd'
		ORDER BY q.updated_at DESC
	`, opd.Code)
	if err != nil {
		return models.DisplayBoard{}, err
	}
	board.Serving = len(serving)
	if len(serving) > 0 {
		board.Current = &serving[0]
	}

	next, err := s.queryItems(ctx, `
		SELECT `+itemColumns+`
		FROM queue_entries q
		JOIN patients p ON p.id = q.patient_id
		WHERE q.opd_code = $1 AND q.status = 'pending'
		ORDER BY q.position ASC
		LIMIT $2
	`, opd.Code, displayNextLimit)
	if err != nil {
		return models.DisplayBoard{}, err
	}
	for i := range next {
		next[i].Rank = i + 1
	}
	board.Next = next

	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE opd_code = $1 AND status = 'pending'
	`, opd.Code)
	if err := row.Scan(&board.Waiting); err != nil {
		return models.DisplayBoard{}, err
	}
	return board, nil
}

func (s *Store) DisplayBoard(ctx context.Context, opdCode string) (models.DisplayBoard, error) {
	opd, err := s.getOPDByCode(ctx, opdCode)
	if err != nil {
		return models.DisplayBoard{}, err
	}
	return s.displayBoard(ctx, opd)
}

func (s *Store) DisplayAll(ctx context.Context) ([]models.DisplayBoard, error) {
	opds, err := s.ListOPDs(ctx)
	if err != nil {
		return nil, err
	}
	boards := make([]models.DisplayBoard, 0, len(opds))
	for _, opd := range opds {
		if !opd.Active {
			continue
		}
		board, err := s.displayBoard(ctx, opd)
		if err != nil {
			return nil, err
		}
		boards = append(boards, board)
	}
	return boards, nil
}

func (s *Store) ListOPDs(ctx context.Context) ([]models.OPD, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT opd_code, opd_name, is_active
		FROM opds
		ORDER BY opd_code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opds []models.OPD
	for rows.Next() {
		var opd models.OPD
		if err := rows.Scan(&opd.Code, &opd.Name, &opd.Active); err != nil {
			return nil, err
		}
		opds = append(opds, opd)
	}
	return opds, rows.Err()
}
