// Package recommendation suggests which predefined shift a clock-in most
// likely belongs to. The suggestion is advisory only: nothing enforces that
// a user opens the recommended shift.
package recommendation

import (
	"time"

	"pargorojo/backend/internal/domain"
)

// Suggest returns the shift definition whose hour window contains at, or nil
// when no window matches. A definition with start_hour > end_hour is a night
// shift spanning midnight: it matches hours from start_hour through 23 and
// from 0 up to (but excluding) end_hour.
func Suggest(definitions []domain.ShiftDefinition, at time.Time) *domain.ShiftDefinition {
	hour := at.Hour()
	for _, def := range definitions {
		if matches(def, hour) {
			found := def
			return &found
		}
	}
	return nil
}

func matches(def domain.ShiftDefinition, hour int) bool {
	if def.StartHour == def.EndHour {
		return false
	}
	if def.StartHour < def.EndHour {
		return hour >= def.StartHour && hour < def.EndHour
	}
	// wraps midnight
	return hour >= def.StartHour || hour < def.EndHour
}
