package models

import "time"

// Status is the closed set of states a queue entry can hold. Referred and
// end_visit are terminal for the entry; a referral opens a fresh entry in
// the target OPD instead of mutating the old one.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInOPD    Status = "in_opd"
	StatusDilated  Status = "dilated"
	StatusReferred Status = "referred"
	StatusEndVisit Status = "end_visit"
)

func (s Status) Open() bool {
	switch s {
	case StatusPending, StatusInOPD, StatusDilated:
		return true
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusReferred || s == StatusEndVisit
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInOPD, StatusDilated, StatusReferred, StatusEndVisit:
		return true
	default:
		return false
	}
}

type Patient struct {
	ID               int64     `json:"id"`
	TokenNumber      string    `json:"token_number"`
	Name             string    `json:"name"`
	Age              int       `json:"age"`
	Phone            string    `json:"phone,omitempty"`
	RegistrationTime time.Time `json:"registration_time"`
}

type OPD struct {
	Code   string `json:"opd_code"`
	Name   string `json:"opd_name"`
	Active bool   `json:"is_active"`
}

// QueueEntry is one patient's presence in one OPD queue for one visit leg.
// Position is set only while the entry is pending.
type QueueEntry struct {
	ID              int64      `json:"id"`
	PatientID       int64      `json:"patient_id"`
	OPDCode         string     `json:"opd_code"`
	Status          Status     `json:"status"`
	Position        *int       `json:"position,omitempty"`
	AllocatedAt     time.Time  `json:"allocated_at"`
	DilationStart   *time.Time `json:"dilation_start,omitempty"`
	ReferredToOPD   *string    `json:"referred_to_opd,omitempty"`
	ReferredFromOPD *string    `json:"referred_from_opd,omitempty"`
	IsReferred      bool       `json:"is_referred"`
	Remarks         string     `json:"remarks,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// FlowRecord is one immutable audit row; exactly one is written per
// successful status transition.
type FlowRecord struct {
	ID          int64     `json:"id"`
	PatientID   int64     `json:"patient_id"`
	TokenNumber string    `json:"token_number"`
	FromRoom    *string   `json:"from_room,omitempty"`
	ToRoom      *string   `json:"to_room,omitempty"`
	Status      Status    `json:"status"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// QueueItem joins a queue entry with its patient for staff and display
// views. Rank is recomputed per query over the pending set; stored
// positions are never renumbered by out-of-order calls or send-backs.
type QueueItem struct {
	EntryID          int64      `json:"entry_id"`
	PatientID        int64      `json:"patient_id"`
	TokenNumber      string     `json:"token_number"`
	PatientName      string     `json:"patient_name"`
	Age              int        `json:"age"`
	Phone            string     `json:"phone,omitempty"`
	Status           Status     `json:"status"`
	Position         *int       `json:"position,omitempty"`
	Rank             int        `json:"rank,omitempty"`
	RegistrationTime time.Time  `json:"registration_time"`
	DilationStart    *time.Time `json:"dilation_start,omitempty"`
	DilationOverdue  bool       `json:"dilation_overdue,omitempty"`
	IsReferred       bool       `json:"is_referred"`
	ReferredFrom     *string    `json:"referred_from,omitempty"`
}

// QueueSnapshot is the staff dashboard view of one OPD: who is being
// served, the ordered pending line, and the dilation waiting set.
type QueueSnapshot struct {
	OPDCode string      `json:"opd_code"`
	Serving []QueueItem `json:"serving"`
	Pending []QueueItem `json:"pending"`
	Dilated []QueueItem `json:"dilated"`
}

type OPDStats struct {
	OPDCode        string   `json:"opd_code"`
	OPDName        string   `json:"opd_name"`
	TotalPatients  int      `json:"total_patients"`
	Pending        int      `json:"pending_patients"`
	InOPD          int      `json:"in_opd_patients"`
	Dilated        int      `json:"dilated_patients"`
	Referred       int      `json:"referred_patients"`
	CompletedToday int      `json:"completed_today"`
	AvgWaitMinutes *float64 `json:"avg_waiting_time,omitempty"`
}

// DisplayBoard is the public screen projection for one OPD.
type DisplayBoard struct {
	OPDCode string      `json:"opd_code"`
	OPDName string      `json:"opd_name"`
	Current *QueueItem  `json:"current_patient"`
	Next    []QueueItem `json:"next_patients"`
	Waiting int         `json:"waiting_count"`
	Serving int         `json:"serving_count"`
}

// Referral pairs the closed origin entry with the freshly opened target
// entry; both are written in one transaction.
type Referral struct {
	From QueueEntry `json:"from"`
	To   QueueEntry `json:"to"`
}

// ReferredPatient is a row of the referral listing query.
type ReferredPatient struct {
	EntryID     int64     `json:"entry_id"`
	PatientID   int64     `json:"patient_id"`
	TokenNumber string    `json:"token_number"`
	PatientName string    `json:"patient_name"`
	FromOPD     string    `json:"from_opd"`
	ToOPD       string    `json:"to_opd"`
	Status      Status    `json:"status"`
	ReferredAt  time.Time `json:"referred_at"`
	Remarks     string    `json:"remarks,omitempty"`
}
