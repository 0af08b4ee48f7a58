package store

import "github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/models"

var transitionMap = map[string][]models.Status{
	"call_next":         {models.StatusPending},
	"call_out_of_order": {models.StatusPending, models.StatusDilated},
	"send_back":         {models.StatusInOPD},
	"dilate":            {models.StatusInOPD},
	"return_dilated":    {models.StatusDilated},
	"refer":             {models.StatusInOPD},
	"return_referral":   {models.StatusInOPD},
	"end_visit":         {models.StatusPending, models.StatusInOPD, models.StatusDilated},
}

func ValidTransition(action string, from models.Status) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}
