package store

import "errors"

var (
	ErrOPDNotFound     = errors.New("opd not found")
	ErrOPDInactive     = errors.New("opd inactive")
	ErrPatientNotFound = errors.New("patient not found")
	ErrEntryNotFound   = errors.New("queue entry not found")
	ErrNoPatient       = errors.New("no patients waiting")
	ErrInvalidState    = errors.New("invalid entry state")
	ErrAlreadyQueued   = errors.New("patient already queued")
	ErrOPDBusy         = errors.New("opd at serving capacity")
	ErrNotReferred     = errors.New("entry is not a referral")
	ErrAccessDenied    = errors.New("access denied")
	ErrSessionNotFound = errors.New("session not found")
)
