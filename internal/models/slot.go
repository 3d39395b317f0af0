package models

import (
	"strings"
	"time"
)

// TimeSlot is one bookable appointment slot in a doctor's day.
type TimeSlot struct {
	Time   string `json:"time"`
	Booked bool   `json:"booked"`
	Locked bool   `json:"locked"`
}

// DayAvailability is the structured day -> slot list served to booking
// clients. The persistence layer only ever sees relational rows; this type is
// the API boundary.
type DayAvailability struct {
	Day      string     `json:"day"`
	DoctorID string     `json:"doctor_id"`
	Slots    []TimeSlot `json:"slots"`
}

const slotLayout = "15:04"

// ParseSlotTime validates an HH:MM slot time and returns it in canonical
// form.
func ParseSlotTime(value string) (string, bool) {
	parsed, err := time.Parse(slotLayout, strings.TrimSpace(value))
	if err != nil {
		return "", false
	}
	return parsed.Format(slotLayout), true
}
