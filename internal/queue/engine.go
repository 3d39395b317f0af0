// Package queue implements the clinic queue: per-day ticket numbering,
// the ticket lifecycle, room binding and the queue snapshot.
package queue

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/models"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/store"
)

var (
	ErrBusy         = errors.New("queue busy, try again")
	ErrUnknownRoom  = errors.New("unknown room")
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError marks bad caller input, mapped to 400 at the edge.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

var phonePattern = regexp.MustCompile(`^[0-9]{10,14}$`)

// Broadcaster is notified after every successful mutation so connected
// clients get a fresh snapshot without waiting for the poll tick.
type Broadcaster interface {
	QueueChanged(day string)
}

// SlotLocks is the advisory lock view the engine needs: release after a
// booking commits, and the locked times for availability.
type SlotLocks interface {
	Release(ctx context.Context, day, doctorID, slotTime, holder string) error
	LockedTimes(ctx context.Context, day, doctorID string) ([]string, error)
}

type Config struct {
	Rooms        []string
	LockTimeout  time.Duration
	OpenTime     string
	CloseTime    string
	SlotInterval time.Duration
}

type Engine struct {
	store       store.TicketStore
	locks       *dayLocks
	broadcaster Broadcaster
	slots       SlotLocks
	config      Config
	rooms       map[string]bool
}

func NewEngine(ticketStore store.TicketStore, slots SlotLocks, broadcaster Broadcaster, config Config) *Engine {
	if config.LockTimeout <= 0 {
		config.LockTimeout = time.Second
	}
	if config.OpenTime == "" {
		config.OpenTime = "09:00"
	}
	if config.CloseTime == "" {
		config.CloseTime = "17:00"
	}
	if config.SlotInterval <= 0 {
		config.SlotInterval = 30 * time.Minute
	}
	rooms := make(map[string]bool, len(config.Rooms))
	for _, room := range config.Rooms {
		rooms[room] = true
	}
	return &Engine{
		store:       ticketStore,
		locks:       newDayLocks(),
		broadcaster: broadcaster,
		slots:       slots,
		config:      config,
		rooms:       rooms,
	}
}

// SetBroadcaster breaks the construction cycle between the engine and the
// realtime publisher, which needs the engine for snapshots.
func (e *Engine) SetBroadcaster(broadcaster Broadcaster) {
	e.broadcaster = broadcaster
}

func (e *Engine) SetSlotLocks(slots SlotLocks) {
	e.slots = slots
}

type IssueTicketInput struct {
	Day        string
	PatientID  string
	DoctorID   string
	SlotTime   string
	LockHolder string
	Actor      models.Actor
}

// IssueTicket books an appointment ticket. The store rejects a taken slot;
// on success the caller's advisory slot lock is released.
func (e *Engine) IssueTicket(ctx context.Context, input IssueTicketInput) (models.Ticket, error) {
	if input.Actor.IsZero() {
		return models.Ticket{}, ErrUnauthorized
	}
	day, err := normalizeDay(input.Day)
	if err != nil {
		return models.Ticket{}, err
	}
	if input.PatientID == "" {
		return models.Ticket{}, ValidationError("patient_id is required")
	}
	slotTime := input.SlotTime
	if slotTime != "" {
		// A slot booking needs the doctor; the doctor of a plain ticket
		// may stay unset until the patient is called.
		if input.DoctorID == "" {
			return models.Ticket{}, ValidationError("doctor_id is required for a slot booking")
		}
		canonical, ok := models.ParseSlotTime(slotTime)
		if !ok {
			return models.Ticket{}, ValidationError("slot_time must be HH:MM")
		}
		slotTime = canonical
	}

	if !e.locks.acquire(day, e.config.LockTimeout) {
		return models.Ticket{}, ErrBusy
	}
	defer e.locks.release(day)

	ticket, err := e.store.CreateTicket(ctx, store.CreateTicketInput{
		Day:       day,
		PatientID: input.PatientID,
		DoctorID:  input.DoctorID,
		SlotTime:  slotTime,
		Actor:     input.Actor.ID,
	})
	if err != nil {
		return models.Ticket{}, err
	}

	if slotTime != "" && e.slots != nil {
		holder := input.LockHolder
		if holder == "" {
			holder = input.Actor.ID
		}
		// Best effort: an unreleased lock expires on its own.
		_ = e.slots.Release(ctx, day, input.DoctorID, slotTime, holder)
	}

	e.notify(day)
	return ticket, nil
}

type WalkInInput struct {
	Day   string
	Name  string
	Phone string
	Actor models.Actor
}

func (e *Engine) AddWalkIn(ctx context.Context, input WalkInInput) (models.Ticket, error) {
	if input.Actor.IsZero() {
		return models.Ticket{}, ErrUnauthorized
	}
	day, err := normalizeDay(input.Day)
	if err != nil {
		return models.Ticket{}, err
	}
	if input.Name == "" {
		return models.Ticket{}, ValidationError("name is required")
	}
	if input.Phone != "" && !phonePattern.MatchString(input.Phone) {
		return models.Ticket{}, ValidationError("phone must be 10 to 14 digits")
	}

	if !e.locks.acquire(day, e.config.LockTimeout) {
		return models.Ticket{}, ErrBusy
	}
	defer e.locks.release(day)

	ticket, err := e.store.CreateTicket(ctx, store.CreateTicketInput{
		Day:         day,
		WalkInName:  input.Name,
		WalkInPhone: input.Phone,
		Actor:       input.Actor.ID,
	})
	if err != nil {
		return models.Ticket{}, err
	}
	e.notify(day)
	return ticket, nil
}

type CallNextInput struct {
	Day      string
	RoomID   string
	DoctorID string
	Actor    models.Actor
}

// CallNext seats the lowest-numbered waiting patient in the room. Whatever
// ticket currently occupies the room is completed in the same transaction.
func (e *Engine) CallNext(ctx context.Context, input CallNextInput) (models.Ticket, error) {
	if input.Actor.IsZero() {
		return models.Ticket{}, ErrUnauthorized
	}
	day, err := normalizeDay(input.Day)
	if err != nil {
		return models.Ticket{}, err
	}
	if input.RoomID == "" {
		return models.Ticket{}, ValidationError("room_id is required")
	}
	if len(e.rooms) > 0 && !e.rooms[input.RoomID] {
		return models.Ticket{}, ErrUnknownRoom
	}

	if !e.locks.acquire(day, e.config.LockTimeout) {
		return models.Ticket{}, ErrBusy
	}
	defer e.locks.release(day)

	ticket, err := e.store.CallNext(ctx, store.CallNextInput{
		Day:      day,
		RoomID:   input.RoomID,
		DoctorID: input.DoctorID,
		Actor:    input.Actor.ID,
	})
	if err != nil {
		return models.Ticket{}, err
	}
	e.notify(day)
	return ticket, nil
}

func (e *Engine) Complete(ctx context.Context, ticketID string, actor models.Actor) (models.Ticket, error) {
	return e.action(ctx, ticketID, actor, e.store.CompleteTicket)
}

func (e *Engine) Skip(ctx context.Context, ticketID string, actor models.Actor) (models.Ticket, error) {
	return e.action(ctx, ticketID, actor, e.store.SkipTicket)
}

func (e *Engine) Recall(ctx context.Context, ticketID string, actor models.Actor) (models.Ticket, error) {
	return e.action(ctx, ticketID, actor, e.store.RecallTicket)
}

func (e *Engine) Cancel(ctx context.Context, ticketID string, actor models.Actor) (models.Ticket, error) {
	return e.action(ctx, ticketID, actor, e.store.CancelTicket)
}

func (e *Engine) action(ctx context.Context, ticketID string, actor models.Actor,
	apply func(context.Context, store.TicketActionInput) (models.Ticket, error)) (models.Ticket, error) {
	if actor.IsZero() {
		return models.Ticket{}, ErrUnauthorized
	}
	if ticketID == "" {
		return models.Ticket{}, ValidationError("ticket_id is required")
	}

	current, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	day := current.Day

	if !e.locks.acquire(day, e.config.LockTimeout) {
		return models.Ticket{}, ErrBusy
	}
	defer e.locks.release(day)

	ticket, err := apply(ctx, store.TicketActionInput{TicketID: ticketID, Actor: actor.ID})
	if err != nil {
		return models.Ticket{}, err
	}
	e.notify(day)
	return ticket, nil
}

// ResetDay wipes the day's tickets and restarts numbering at 1. The edge
// restricts it to admins.
func (e *Engine) ResetDay(ctx context.Context, day string, actor models.Actor) (int, error) {
	if actor.IsZero() {
		return 0, ErrUnauthorized
	}
	day, err := normalizeDay(day)
	if err != nil {
		return 0, err
	}

	if !e.locks.acquire(day, e.config.LockTimeout) {
		return 0, ErrBusy
	}
	defer e.locks.release(day)

	count, err := e.store.DeleteByDay(ctx, day)
	if err != nil {
		return count, err
	}
	e.notify(day)
	return count, nil
}

// Snapshot builds the read model: the active ticket per room, the waiting
// list in call order and the waiting count.
func (e *Engine) Snapshot(ctx context.Context, day string) (models.Snapshot, error) {
	day, err := normalizeDay(day)
	if err != nil {
		return models.Snapshot{}, err
	}

	active, err := e.store.ListByDayAndStatus(ctx, day, models.StatusCalled, models.StatusTreating)
	if err != nil {
		return models.Snapshot{}, err
	}
	waiting, err := e.store.ListByDayAndStatus(ctx, day, models.StatusWaiting)
	if err != nil {
		return models.Snapshot{}, err
	}

	snapshot := models.Snapshot{
		Day:          day,
		ActiveByRoom: make(map[string]models.Ticket, len(active)),
		Waiting:      waiting,
		WaitingCount: len(waiting),
	}
	for _, ticket := range active {
		if ticket.RoomID != nil {
			snapshot.ActiveByRoom[*ticket.RoomID] = ticket
		}
	}
	if snapshot.Waiting == nil {
		snapshot.Waiting = []models.Ticket{}
	}
	return snapshot, nil
}

// Availability lays the clinic's slot grid over bookings and advisory locks.
func (e *Engine) Availability(ctx context.Context, day, doctorID string) (models.DayAvailability, error) {
	day, err := normalizeDay(day)
	if err != nil {
		return models.DayAvailability{}, err
	}
	if doctorID == "" {
		return models.DayAvailability{}, ValidationError("doctor_id is required")
	}

	booked, err := e.store.ListBookedSlots(ctx, day, doctorID)
	if err != nil {
		return models.DayAvailability{}, err
	}
	var locked []string
	if e.slots != nil {
		locked, err = e.slots.LockedTimes(ctx, day, doctorID)
		if err != nil {
			return models.DayAvailability{}, err
		}
	}

	bookedSet := make(map[string]bool, len(booked))
	for _, slot := range booked {
		bookedSet[slot] = true
	}
	lockedSet := make(map[string]bool, len(locked))
	for _, slot := range locked {
		lockedSet[slot] = true
	}

	availability := models.DayAvailability{Day: day, DoctorID: doctorID}
	for _, slot := range e.slotGrid() {
		availability.Slots = append(availability.Slots, models.TimeSlot{
			Time:   slot,
			Booked: bookedSet[slot],
			Locked: !bookedSet[slot] && lockedSet[slot],
		})
	}
	return availability, nil
}

func (e *Engine) slotGrid() []string {
	open, err := time.Parse("15:04", e.config.OpenTime)
	if err != nil {
		return nil
	}
	closing, err := time.Parse("15:04", e.config.CloseTime)
	if err != nil || !closing.After(open) {
		return nil
	}
	var grid []string
	for at := open; at.Before(closing); at = at.Add(e.config.SlotInterval) {
		grid = append(grid, at.Format("15:04"))
	}
	return grid
}

func (e *Engine) Ticket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.store.GetTicket(ctx, ticketID)
}

func (e *Engine) Doctors(ctx context.Context) ([]models.Doctor, error) {
	return e.store.ListDoctors(ctx)
}

func (e *Engine) Events(ctx context.Context, day string, after time.Time, limit int) ([]store.QueueEvent, error) {
	day, err := normalizeDay(day)
	if err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, day, after, limit)
}

func (e *Engine) notify(day string) {
	if e.broadcaster != nil {
		e.broadcaster.QueueChanged(day)
	}
}

func normalizeDay(day string) (string, error) {
	if day == "" {
		return models.Today(), nil
	}
	canonical, ok := models.ParseDay(day)
	if !ok {
		return "", ValidationError("day must be YYYY-MM-DD")
	}
	return canonical, nil
}
