package models

import (
	"strings"
	"time"
)

type Ticket struct {
	TicketID    string    `json:"ticket_id"`
	Number      int       `json:"number"`
	Day         string    `json:"day"`
	PatientID   *string   `json:"patient_id,omitempty"`
	WalkInName  string    `json:"walk_in_name,omitempty"`
	WalkInPhone string    `json:"walk_in_phone,omitempty"`
	DoctorID    *string   `json:"doctor_id,omitempty"`
	RoomID      *string   `json:"room_id,omitempty"`
	SlotTime    string    `json:"slot_time,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusTreating  = "treating"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

// NormalizeStatus collapses case variants to the canonical lower-case form.
// Unknown values are rejected rather than passed through.
func NormalizeStatus(value string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case StatusWaiting:
		return StatusWaiting, true
	case StatusCalled:
		return StatusCalled, true
	case StatusTreating:
		return StatusTreating, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusCancelled:
		return StatusCancelled, true
	case StatusSkipped:
		return StatusSkipped, true
	default:
		return "", false
	}
}

func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusSkipped:
		return true
	default:
		return false
	}
}

const dayLayout = "2006-01-02"

// ParseDay validates a calendar date in YYYY-MM-DD form and returns it in
// canonical form.
func ParseDay(value string) (string, bool) {
	parsed, err := time.Parse(dayLayout, strings.TrimSpace(value))
	if err != nil {
		return "", false
	}
	return parsed.Format(dayLayout), true
}

func Today() string {
	return time.Now().UTC().Format(dayLayout)
}

type Doctor struct {
	DoctorID string `json:"doctor_id"`
	Name     string `json:"name"`
}

// Actor is the authenticated staff identity performing a mutation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

func (a Actor) IsZero() bool {
	return a.ID == ""
}

// Snapshot is the externally visible queue state for one day. It is derived
// from the ticket store and never independently mutated.
type Snapshot struct {
	Day          string            `json:"day"`
	ActiveByRoom map[string]Ticket `json:"active_by_room"`
	Waiting      []Ticket          `json:"waiting"`
	WaitingCount int               `json:"waiting_count"`
}
