package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/models"
)

type CreateTicketInput struct {
	Day         string
	PatientID   string
	WalkInName  string
	WalkInPhone string
	DoctorID    string
	SlotTime    string
	Actor       string
	CreatedAt   time.Time
}

type CallNextInput struct {
	Day      string
	RoomID   string
	DoctorID string
	Actor    string
	CalledAt time.Time
}

type TicketActionInput struct {
	TicketID   string
	Actor      string
	OccurredAt time.Time
}

// TicketStore is the durable source of truth for queue tickets. Operations
// that read and then write (numbering, call-next) are atomic inside the
// store; callers serialize per-day access on top of that.
type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, error)
	CompleteTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	SkipTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	RecallTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	CancelTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	ListByDayAndStatus(ctx context.Context, day string, statuses ...string) ([]models.Ticket, error)
	FindMaxNumber(ctx context.Context, day string) (int, error)
	DeleteByDay(ctx context.Context, day string) (int, error)
	ListBookedSlots(ctx context.Context, day, doctorID string) ([]string, error)
	ListDoctors(ctx context.Context) ([]models.Doctor, error)
	ListEvents(ctx context.Context, day string, after time.Time, limit int) ([]QueueEvent, error)
}

// QueueEvent is one audit log entry, written in the same transaction as the
// mutation it records.
type QueueEvent struct {
	EventID   string          `json:"event_id"`
	Day       string          `json:"day"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
