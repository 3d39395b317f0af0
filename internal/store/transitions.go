package store

import "github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/models"

// transitionMap lists the statuses a ticket may be in when each action is
// applied. Completing an already completed ticket is handled separately as an
// idempotent no-op, not as a transition.
var transitionMap = map[string][]string{
	"call_next": {models.StatusWaiting},
	"complete":  {models.StatusTreating, models.StatusCalled},
	"skip":      {models.StatusWaiting},
	"recall":    {models.StatusTreating},
	"cancel":    {models.StatusWaiting},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
