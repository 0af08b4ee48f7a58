package store

import (
	"testing"

	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   models.Status
		valid  bool
	}{
		{"call_next", models.StatusPending, true},
		{"call_next", models.StatusInOPD, false},
		{"call_next", models.StatusDilated, false},
		{"call_out_of_order", models.StatusPending, true},
		{"call_out_of_order", models.StatusDilated, true},
		{"call_out_of_order", models.StatusInOPD, false},
		{"send_back", models.StatusInOPD, true},
		{"send_back", models.StatusPending, false},
		{"dilate", models.StatusInOPD, true},
		{"dilate", models.StatusDilated, false},
		{"return_dilated", models.StatusDilated, true},
		{"return_dilated", models.StatusInOPD, false},
		{"refer", models.StatusInOPD, true},
		{"refer", models.StatusPending, false},
		{"refer", models.StatusDilated, false},
		{"return_referral", models.StatusInOPD, true},
		{"return_referral", models.StatusDilated, false},
		{"end_visit", models.StatusPending, true},
		{"end_visit", models.StatusInOPD, true},
		{"end_visit", models.StatusDilated, true},
		{"end_visit", models.StatusEndVisit, false},
		{"end_visit", models.StatusReferred, false},
		{"unknown", models.StatusPending, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestStatusSets(t *testing.T) {
	open := []models.Status{models.StatusPending, models.StatusInOPD, models.StatusDilated}
	for _, status := range open {
		if !status.Open() || status.Terminal() {
			t.Fatalf("expected %s to be open and not terminal", status)
		}
	}
	terminal := []models.Status{models.StatusReferred, models.StatusEndVisit}
	for _, status := range terminal {
		if status.Open() || !status.Terminal() {
			t.Fatalf("expected %s to be terminal and not open", status)
		}
	}
	if models.Status("waiting").Valid() {
		t.Fatalf("expected unknown status to be invalid")
	}
}
