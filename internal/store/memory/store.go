// Package memory holds an in-process TicketStore used for development runs
// without a database and for engine tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/models"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu        sync.Mutex
	tickets   map[string]models.Ticket
	sequences map[string]int
	doctors   []models.Doctor
	events    []store.QueueEvent
}

func NewStore() *Store {
	return &Store{
		tickets:   make(map[string]models.Ticket),
		sequences: make(map[string]int),
	}
}

// SeedDoctors replaces the doctor roster. Dev mode loads it from config.
func (s *Store) SeedDoctors(doctors []models.Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors = append([]models.Doctor(nil), doctors...)
}

func (s *Store) CreateTicket(_ context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.SlotTime != "" && input.DoctorID != "" {
		for _, ticket := range s.tickets {
			if ticket.Day == input.Day && ticket.SlotTime == input.SlotTime &&
				ticket.DoctorID != nil && *ticket.DoctorID == input.DoctorID &&
				ticket.Status != models.StatusCancelled {
				return models.Ticket{}, store.ErrSlotTaken
			}
		}
	}

	s.sequences[input.Day]++
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	ticket := models.Ticket{
		TicketID:    uuid.NewString(),
		Number:      s.sequences[input.Day],
		Day:         input.Day,
		WalkInName:  input.WalkInName,
		WalkInPhone: input.WalkInPhone,
		SlotTime:    input.SlotTime,
		Status:      models.StatusWaiting,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if input.PatientID != "" {
		ticket.PatientID = &input.PatientID
	}
	if input.DoctorID != "" {
		ticket.DoctorID = &input.DoctorID
	}
	s.tickets[ticket.TicketID] = ticket
	s.appendEvent(input.Day, "ticket.created", input.Actor, ticket)
	return ticket, nil
}

func (s *Store) GetTicket(_ context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (s *Store) CallNext(_ context.Context, input store.CallNextInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	for id, ticket := range s.tickets {
		if ticket.Day != input.Day || ticket.RoomID == nil || *ticket.RoomID != input.RoomID {
			continue
		}
		if ticket.Status == models.StatusCalled || ticket.Status == models.StatusTreating {
			ticket.Status = models.StatusCompleted
			ticket.RoomID = nil
			ticket.UpdatedAt = calledAt
			s.tickets[id] = ticket
			s.appendEvent(input.Day, "ticket.completed", input.Actor, ticket)
		}
	}

	next, ok := s.lowestWaiting(input.Day)
	if !ok {
		return models.Ticket{}, store.ErrNoTicket
	}

	next.Status = models.StatusTreating
	roomID := input.RoomID
	next.RoomID = &roomID
	if input.DoctorID != "" {
		doctorID := input.DoctorID
		next.DoctorID = &doctorID
	}
	next.UpdatedAt = calledAt
	s.tickets[next.TicketID] = next
	s.appendEvent(input.Day, "ticket.called", input.Actor, next)
	return next, nil
}

func (s *Store) CompleteTicket(_ context.Context, input store.TicketActionInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[input.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if ticket.Status == models.StatusCompleted {
		return ticket, nil
	}
	if !store.ValidTransition("complete", ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	return s.applyLocked(ticket, models.StatusCompleted, "ticket.completed", input), nil
}

func (s *Store) SkipTicket(_ context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.transition(input, "skip", models.StatusSkipped, "ticket.skipped")
}

func (s *Store) CancelTicket(_ context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.transition(input, "cancel", models.StatusCancelled, "ticket.cancelled")
}

func (s *Store) RecallTicket(_ context.Context, input store.TicketActionInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[input.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if !store.ValidTransition("recall", ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	ticket.UpdatedAt = occurredAt
	s.tickets[ticket.TicketID] = ticket
	s.appendEvent(ticket.Day, "ticket.recalled", input.Actor, ticket)
	return ticket, nil
}

func (s *Store) transition(input store.TicketActionInput, action, toStatus, eventType string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[input.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if !store.ValidTransition(action, ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	return s.applyLocked(ticket, toStatus, eventType, input), nil
}

func (s *Store) applyLocked(ticket models.Ticket, toStatus, eventType string, input store.TicketActionInput) models.Ticket {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	ticket.Status = toStatus
	ticket.RoomID = nil
	ticket.UpdatedAt = occurredAt
	s.tickets[ticket.TicketID] = ticket
	s.appendEvent(ticket.Day, eventType, input.Actor, ticket)
	return ticket
}

func (s *Store) ListByDayAndStatus(_ context.Context, day string, statuses ...string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}
	var tickets []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.Day == day && wanted[ticket.Status] {
			tickets = append(tickets, ticket)
		}
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Number < tickets[j].Number })
	return tickets, nil
}

func (s *Store) FindMaxNumber(_ context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	max := 0
	for _, ticket := range s.tickets {
		if ticket.Day == day && ticket.Number > max {
			max = ticket.Number
		}
	}
	return max, nil
}

func (s *Store) DeleteByDay(_ context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, ticket := range s.tickets {
		if ticket.Day == day {
			delete(s.tickets, id)
			count++
		}
	}
	delete(s.sequences, day)

	payload, _ := json.Marshal(map[string]int{"deleted": count})
	s.events = append(s.events, store.QueueEvent{
		EventID:   uuid.NewString(),
		Day:       day,
		Type:      "queue.reset",
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return count, nil
}

func (s *Store) ListBookedSlots(_ context.Context, day, doctorID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var slots []string
	for _, ticket := range s.tickets {
		if ticket.Day == day && ticket.SlotTime != "" &&
			ticket.DoctorID != nil && *ticket.DoctorID == doctorID &&
			ticket.Status != models.StatusCancelled {
			slots = append(slots, ticket.SlotTime)
		}
	}
	sort.Strings(slots)
	return slots, nil
}

func (s *Store) ListDoctors(_ context.Context) ([]models.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Doctor(nil), s.doctors...), nil
}

func (s *Store) ListEvents(_ context.Context, day string, after time.Time, limit int) ([]store.QueueEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var events []store.QueueEvent
	for _, event := range s.events {
		if event.Day != day {
			continue
		}
		if !after.IsZero() && !event.CreatedAt.After(after) {
			continue
		}
		events = append(events, event)
		if len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (s *Store) lowestWaiting(day string) (models.Ticket, bool) {
	var next models.Ticket
	found := false
	for _, ticket := range s.tickets {
		if ticket.Day != day || ticket.Status != models.StatusWaiting {
			continue
		}
		if !found || ticket.Number < next.Number {
			next = ticket
			found = true
		}
	}
	return next, found
}

func (s *Store) appendEvent(day, eventType, actor string, ticket models.Ticket) {
	payload, _ := json.Marshal(ticket)
	s.events = append(s.events, store.QueueEvent{
		EventID:   uuid.NewString(),
		Day:       day,
		Type:      eventType,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}
