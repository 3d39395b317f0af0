package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/models"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/store"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/store/memory"
)

const testDay = "2026-08-31"

var deskActor = models.Actor{ID: "desk", Role: "desk"}

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	memStore := memory.NewStore()
	engine := NewEngine(memStore, nil, nil, Config{
		Rooms: []string{"room-1", "room-2"},
	})
	return engine, memStore
}

func addWalkIns(t *testing.T, engine *Engine, count int) []models.Ticket {
	t.Helper()
	tickets := make([]models.Ticket, 0, count)
	for i := 0; i < count; i++ {
		ticket, err := engine.AddWalkIn(context.Background(), WalkInInput{
			Day:   testDay,
			Name:  "patient",
			Actor: deskActor,
		})
		if err != nil {
			t.Fatalf("AddWalkIn: %v", err)
		}
		tickets = append(tickets, ticket)
	}
	return tickets
}

func TestWalkInNumbersAreSequential(t *testing.T) {
	engine, _ := newTestEngine(t)
	tickets := addWalkIns(t, engine, 5)
	for i, ticket := range tickets {
		if ticket.Number != i+1 {
			t.Fatalf("ticket %d got number %d", i, ticket.Number)
		}
		if ticket.Status != models.StatusWaiting {
			t.Fatalf("new ticket status = %q", ticket.Status)
		}
	}
}

func TestConcurrentWalkInsGetUniqueNumbers(t *testing.T) {
	engine, _ := newTestEngine(t)

	const workers = 20
	var wg sync.WaitGroup
	numbers := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := engine.AddWalkIn(context.Background(), WalkInInput{Day: testDay, Name: "p", Actor: deskActor})
			if err != nil {
				t.Errorf("AddWalkIn: %v", err)
				return
			}
			numbers <- ticket.Number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for n := range numbers {
		if seen[n] {
			t.Fatalf("duplicate number %d", n)
		}
		seen[n] = true
	}
	for n := 1; n <= workers; n++ {
		if !seen[n] {
			t.Fatalf("number %d missing", n)
		}
	}
}

func TestCallNextTakesLowestNumber(t *testing.T) {
	engine, _ := newTestEngine(t)
	tickets := addWalkIns(t, engine, 3)

	// Skip the first so the lowest waiting number is 2.
	if _, err := engine.Skip(context.Background(), tickets[0].TicketID, models.Actor{ID: "desk"}); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	called, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-1", Actor: deskActor})
	if err != nil {
		t.Fatalf("CallNext: %v", err)
	}
	if called.Number != 2 {
		t.Fatalf("called number = %d, want 2", called.Number)
	}
	if called.Status != models.StatusTreating {
		t.Fatalf("called status = %q", called.Status)
	}
	if called.RoomID == nil || *called.RoomID != "room-1" {
		t.Fatalf("called room = %v", called.RoomID)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-1", Actor: deskActor})
	if !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("err = %v, want ErrNoTicket", err)
	}
}

func TestCallNextUnknownRoom(t *testing.T) {
	engine, _ := newTestEngine(t)
	addWalkIns(t, engine, 1)
	_, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-9", Actor: deskActor})
	if !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("err = %v, want ErrUnknownRoom", err)
	}
}

func TestCallNextVacatesRoom(t *testing.T) {
	engine, _ := newTestEngine(t)
	addWalkIns(t, engine, 2)

	first, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-1", Actor: deskActor})
	if err != nil {
		t.Fatalf("first CallNext: %v", err)
	}
	second, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-1", Actor: deskActor})
	if err != nil {
		t.Fatalf("second CallNext: %v", err)
	}
	if second.TicketID == first.TicketID {
		t.Fatal("same ticket called twice")
	}

	previous, err := engine.Ticket(context.Background(), first.TicketID)
	if err != nil {
		t.Fatalf("Ticket: %v", err)
	}
	if previous.Status != models.StatusCompleted {
		t.Fatalf("previous occupant status = %q, want completed", previous.Status)
	}
	if previous.RoomID != nil {
		t.Fatalf("previous occupant still bound to room %q", *previous.RoomID)
	}

	snapshot, err := engine.Snapshot(context.Background(), testDay)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if active, ok := snapshot.ActiveByRoom["room-1"]; !ok || active.TicketID != second.TicketID {
		t.Fatalf("room-1 active = %+v", snapshot.ActiveByRoom)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	engine, _ := newTestEngine(t)
	addWalkIns(t, engine, 2)

	first, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-1", Actor: deskActor})
	if err != nil {
		t.Fatalf("CallNext room-1: %v", err)
	}
	second, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-2", Actor: deskActor})
	if err != nil {
		t.Fatalf("CallNext room-2: %v", err)
	}

	current, err := engine.Ticket(context.Background(), first.TicketID)
	if err != nil {
		t.Fatalf("Ticket: %v", err)
	}
	if current.Status != models.StatusTreating {
		t.Fatalf("room-1 occupant status = %q, want treating", current.Status)
	}
	if second.Number <= first.Number {
		t.Fatalf("call order wrong: %d then %d", first.Number, second.Number)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t)
	addWalkIns(t, engine, 1)

	called, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-1", Actor: deskActor})
	if err != nil {
		t.Fatalf("CallNext: %v", err)
	}
	actor := models.Actor{ID: "desk"}
	first, err := engine.Complete(context.Background(), called.TicketID, actor)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	again, err := engine.Complete(context.Background(), called.TicketID, actor)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if again.Status != models.StatusCompleted || again.UpdatedAt != first.UpdatedAt {
		t.Fatalf("second Complete mutated ticket: %+v", again)
	}
}

func TestSkipRequiresWaiting(t *testing.T) {
	engine, _ := newTestEngine(t)
	addWalkIns(t, engine, 1)

	called, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-1", Actor: deskActor})
	if err != nil {
		t.Fatalf("CallNext: %v", err)
	}
	if _, err := engine.Complete(context.Background(), called.TicketID, models.Actor{ID: "desk"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	_, err = engine.Skip(context.Background(), called.TicketID, models.Actor{ID: "desk"})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestRecallRequiresTreating(t *testing.T) {
	engine, _ := newTestEngine(t)
	tickets := addWalkIns(t, engine, 1)

	_, err := engine.Recall(context.Background(), tickets[0].TicketID, models.Actor{ID: "desk"})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("recall on waiting: err = %v, want ErrInvalidState", err)
	}

	called, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-1", Actor: deskActor})
	if err != nil {
		t.Fatalf("CallNext: %v", err)
	}
	recalled, err := engine.Recall(context.Background(), called.TicketID, models.Actor{ID: "desk"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if recalled.Status != models.StatusTreating {
		t.Fatalf("recalled status = %q", recalled.Status)
	}
}

func TestCancelWaitingTicket(t *testing.T) {
	engine, _ := newTestEngine(t)
	tickets := addWalkIns(t, engine, 2)

	cancelled, err := engine.Cancel(context.Background(), tickets[0].TicketID, models.Actor{ID: "desk"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.StatusCancelled {
		t.Fatalf("status = %q", cancelled.Status)
	}

	called, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-1", Actor: deskActor})
	if err != nil {
		t.Fatalf("CallNext: %v", err)
	}
	if called.TicketID != tickets[1].TicketID {
		t.Fatal("cancelled ticket was called")
	}
}

func TestResetDayRestartsNumbering(t *testing.T) {
	engine, _ := newTestEngine(t)
	addWalkIns(t, engine, 3)

	count, err := engine.ResetDay(context.Background(), testDay, models.Actor{ID: "admin", Role: "admin"})
	if err != nil {
		t.Fatalf("ResetDay: %v", err)
	}
	if count != 3 {
		t.Fatalf("deleted = %d, want 3", count)
	}

	snapshot, err := engine.Snapshot(context.Background(), testDay)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.WaitingCount != 0 || len(snapshot.ActiveByRoom) != 0 {
		t.Fatalf("snapshot not empty: %+v", snapshot)
	}

	ticket, err := engine.AddWalkIn(context.Background(), WalkInInput{Day: testDay, Name: "p", Actor: deskActor})
	if err != nil {
		t.Fatalf("AddWalkIn: %v", err)
	}
	if ticket.Number != 1 {
		t.Fatalf("number after reset = %d, want 1", ticket.Number)
	}
}

func TestDaysAreIndependent(t *testing.T) {
	engine, _ := newTestEngine(t)
	addWalkIns(t, engine, 2)

	other, err := engine.AddWalkIn(context.Background(), WalkInInput{Day: "2026-09-01", Name: "p", Actor: deskActor})
	if err != nil {
		t.Fatalf("AddWalkIn: %v", err)
	}
	if other.Number != 1 {
		t.Fatalf("other day number = %d, want 1", other.Number)
	}
}

func TestWalkInValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	cases := []struct {
		name  string
		input WalkInInput
	}{
		{"missing name", WalkInInput{Day: testDay, Actor: deskActor}},
		{"short phone", WalkInInput{Day: testDay, Name: "p", Phone: "12345", Actor: deskActor}},
		{"letters in phone", WalkInInput{Day: testDay, Name: "p", Phone: "08123abc9012", Actor: deskActor}},
		{"bad day", WalkInInput{Day: "31-08-2026", Name: "p", Actor: deskActor}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.AddWalkIn(context.Background(), tc.input)
			var validation ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestWalkInPhoneOptional(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.AddWalkIn(context.Background(), WalkInInput{Day: testDay, Name: "p", Actor: deskActor}); err != nil {
		t.Fatalf("AddWalkIn without phone: %v", err)
	}
	if _, err := engine.AddWalkIn(context.Background(), WalkInInput{Day: testDay, Name: "p", Phone: "081234567890", Actor: deskActor}); err != nil {
		t.Fatalf("AddWalkIn with valid phone: %v", err)
	}
}

func TestIssueTicketRejectsTakenSlot(t *testing.T) {
	engine, _ := newTestEngine(t)

	input := IssueTicketInput{Day: testDay, PatientID: "pat-1", DoctorID: "doc-1", SlotTime: "10:00", Actor: deskActor}
	if _, err := engine.IssueTicket(context.Background(), input); err != nil {
		t.Fatalf("first IssueTicket: %v", err)
	}
	input.PatientID = "pat-2"
	_, err := engine.IssueTicket(context.Background(), input)
	if !errors.Is(err, store.ErrSlotTaken) {
		t.Fatalf("err = %v, want ErrSlotTaken", err)
	}
}

func TestIssueTicketAfterCancelFreesSlot(t *testing.T) {
	engine, _ := newTestEngine(t)

	input := IssueTicketInput{Day: testDay, PatientID: "pat-1", DoctorID: "doc-1", SlotTime: "10:00", Actor: deskActor}
	ticket, err := engine.IssueTicket(context.Background(), input)
	if err != nil {
		t.Fatalf("IssueTicket: %v", err)
	}
	if _, err := engine.Cancel(context.Background(), ticket.TicketID, models.Actor{ID: "desk"}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	input.PatientID = "pat-2"
	if _, err := engine.IssueTicket(context.Background(), input); err != nil {
		t.Fatalf("rebooking cancelled slot: %v", err)
	}
}

func TestSnapshotOrdersWaitingByNumber(t *testing.T) {
	engine, _ := newTestEngine(t)
	addWalkIns(t, engine, 4)

	if _, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-1", Actor: deskActor}); err != nil {
		t.Fatalf("CallNext: %v", err)
	}

	snapshot, err := engine.Snapshot(context.Background(), testDay)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.WaitingCount != 3 {
		t.Fatalf("waiting count = %d, want 3", snapshot.WaitingCount)
	}
	for i := 1; i < len(snapshot.Waiting); i++ {
		if snapshot.Waiting[i].Number <= snapshot.Waiting[i-1].Number {
			t.Fatalf("waiting out of order: %+v", snapshot.Waiting)
		}
	}
}

func TestAvailabilityMarksBookedAndLocked(t *testing.T) {
	memStore := memory.NewStore()
	slots := &fakeSlotLocks{locked: []string{"11:00"}}
	engine := NewEngine(memStore, slots, nil, Config{
		OpenTime:     "09:00",
		CloseTime:    "12:00",
		SlotInterval: time.Hour,
	})

	if _, err := engine.IssueTicket(context.Background(), IssueTicketInput{
		Day: testDay, PatientID: "pat-1", DoctorID: "doc-1", SlotTime: "10:00",
		Actor: deskActor,
	}); err != nil {
		t.Fatalf("IssueTicket: %v", err)
	}

	availability, err := engine.Availability(context.Background(), testDay, "doc-1")
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	want := map[string]struct{ booked, locked bool }{
		"09:00": {false, false},
		"10:00": {true, false},
		"11:00": {false, true},
	}
	if len(availability.Slots) != 3 {
		t.Fatalf("slots = %+v", availability.Slots)
	}
	for _, slot := range availability.Slots {
		expected := want[slot.Time]
		if slot.Booked != expected.booked || slot.Locked != expected.locked {
			t.Fatalf("slot %s = booked:%v locked:%v", slot.Time, slot.Booked, slot.Locked)
		}
	}
}

func TestBookingReleasesSlotLock(t *testing.T) {
	memStore := memory.NewStore()
	slots := &fakeSlotLocks{}
	engine := NewEngine(memStore, slots, nil, Config{})

	if _, err := engine.IssueTicket(context.Background(), IssueTicketInput{
		Day: testDay, PatientID: "pat-1", DoctorID: "doc-1", SlotTime: "10:00",
		LockHolder: "desk-a", Actor: models.Actor{ID: "staff-1"},
	}); err != nil {
		t.Fatalf("IssueTicket: %v", err)
	}
	if len(slots.released) != 1 || slots.released[0] != testDay+"|doc-1|10:00|desk-a" {
		t.Fatalf("released = %v", slots.released)
	}
}

func TestMutationsNotifyBroadcaster(t *testing.T) {
	memStore := memory.NewStore()
	broadcaster := &fakeBroadcaster{}
	engine := NewEngine(memStore, nil, broadcaster, Config{Rooms: []string{"room-1"}})

	ticket, err := engine.AddWalkIn(context.Background(), WalkInInput{Day: testDay, Name: "p", Actor: deskActor})
	if err != nil {
		t.Fatalf("AddWalkIn: %v", err)
	}
	if _, err := engine.CallNext(context.Background(), CallNextInput{Day: testDay, RoomID: "room-1", Actor: deskActor}); err != nil {
		t.Fatalf("CallNext: %v", err)
	}
	if _, err := engine.Complete(context.Background(), ticket.TicketID, models.Actor{ID: "desk"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := broadcaster.count(testDay); got != 3 {
		t.Fatalf("broadcasts = %d, want 3", got)
	}
}

type fakeSlotLocks struct {
	mu       sync.Mutex
	locked   []string
	released []string
}

func (f *fakeSlotLocks) Release(_ context.Context, day, doctorID, slotTime, holder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, day+"|"+doctorID+"|"+slotTime+"|"+holder)
	return nil
}

func (f *fakeSlotLocks) LockedTimes(context.Context, string, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked, nil
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	days []string
}

func (f *fakeBroadcaster) QueueChanged(day string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days = append(f.days, day)
}

func (f *fakeBroadcaster) count(day string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.days {
		if d == day {
			n++
		}
	}
	return n
}

func TestMutationsRejectMissingActor(t *testing.T) {
	engine, _ := newTestEngine(t)
	tickets := addWalkIns(t, engine, 1)
	ctx := context.Background()
	none := models.Actor{}

	cases := []struct {
		name string
		call func() error
	}{
		{"issue", func() error {
			_, err := engine.IssueTicket(ctx, IssueTicketInput{Day: testDay, PatientID: "pat-1"})
			return err
		}},
		{"walk-in", func() error {
			_, err := engine.AddWalkIn(ctx, WalkInInput{Day: testDay, Name: "p"})
			return err
		}},
		{"call next", func() error {
			_, err := engine.CallNext(ctx, CallNextInput{Day: testDay, RoomID: "room-1"})
			return err
		}},
		{"complete", func() error {
			_, err := engine.Complete(ctx, tickets[0].TicketID, none)
			return err
		}},
		{"skip", func() error {
			_, err := engine.Skip(ctx, tickets[0].TicketID, none)
			return err
		}},
		{"recall", func() error {
			_, err := engine.Recall(ctx, tickets[0].TicketID, none)
			return err
		}},
		{"cancel", func() error {
			_, err := engine.Cancel(ctx, tickets[0].TicketID, none)
			return err
		}},
		{"reset", func() error {
			_, err := engine.ResetDay(ctx, testDay, none)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("err = %v, want ErrUnauthorized", err)
			}
		})
	}

	// Nothing above may have touched the queue.
	snapshot, err := engine.Snapshot(ctx, testDay)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.WaitingCount != 1 {
		t.Fatalf("waiting count = %d, want 1", snapshot.WaitingCount)
	}
}

func TestIssueTicketDoctorOptionalWithoutSlot(t *testing.T) {
	engine, _ := newTestEngine(t)

	ticket, err := engine.IssueTicket(context.Background(), IssueTicketInput{
		Day: testDay, PatientID: "pat-1", Actor: deskActor,
	})
	if err != nil {
		t.Fatalf("IssueTicket without doctor: %v", err)
	}
	if ticket.DoctorID != nil {
		t.Fatalf("doctor = %v, want unset", ticket.DoctorID)
	}
	if ticket.Number != 1 || ticket.Status != models.StatusWaiting {
		t.Fatalf("ticket = %+v", ticket)
	}

	// A slot booking still needs the doctor for the uniqueness pair.
	_, err = engine.IssueTicket(context.Background(), IssueTicketInput{
		Day: testDay, PatientID: "pat-2", SlotTime: "10:00", Actor: deskActor,
	})
	var validation ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}
