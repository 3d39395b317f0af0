package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/models"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `ticket_id, number, day::text, patient_id, walk_in_name, walk_in_phone, doctor_id, room_id, slot_time, status, created_at, updated_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Commit-time guard: the slot lock is advisory, so a committed
	// appointment for the same (day, doctor, time) must still be rejected
	// here.
	if input.SlotTime != "" && input.DoctorID != "" {
		var exists bool
		row := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM tickets
				WHERE day = $1::date AND doctor_id = $2 AND slot_time = $3 AND status <> 'cancelled'
			)
		`, input.Day, input.DoctorID, input.SlotTime)
		if err = row.Scan(&exists); err != nil {
			return models.Ticket{}, err
		}
		if exists {
			err = store.ErrSlotTaken
			return models.Ticket{}, err
		}
	}

	var seq int
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (day, next_number)
		VALUES ($1::date, 1)
		ON CONFLICT (day)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, input.Day)
	if err = row.Scan(&seq); err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var ticket models.Ticket
	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, number, day, patient_id, walk_in_name, walk_in_phone,
			doctor_id, slot_time, status, created_at, updated_at
		) VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING `+ticketColumns+`
	`, uuid.NewString(), seq, input.Day, nullIfEmpty(input.PatientID), nullIfEmpty(input.WalkInName),
		nullIfEmpty(input.WalkInPhone), nullIfEmpty(input.DoctorID), nullIfEmpty(input.SlotTime),
		models.StatusWaiting, createdAt)
	if ticket, err = scanTicket(row); err != nil {
		if isUniqueViolation(err, "tickets_slot_key") {
			err = store.ErrSlotTaken
		}
		return models.Ticket{}, err
	}

	if err = insertEvent(ctx, tx, input.Day, "ticket.created", input.Actor, ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	// The room is vacated for the new occupant: whatever is called or
	// treating there is force-completed.
	rows, err := tx.Query(ctx, `
		UPDATE tickets
		SET status = $1, room_id = NULL, updated_at = $2
		WHERE day = $3::date AND room_id = $4 AND status IN ($5, $6)
		RETURNING `+ticketColumns+`
	`, models.StatusCompleted, calledAt, input.Day, input.RoomID, models.StatusCalled, models.StatusTreating)
	if err != nil {
		return models.Ticket{}, err
	}
	vacated, err := collectTickets(rows)
	if err != nil {
		return models.Ticket{}, err
	}

	var next models.Ticket
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE day = $1::date AND status = $2
		ORDER BY number ASC
		LIMIT 1
		FOR UPDATE
	`, input.Day, models.StatusWaiting)
	if next, err = scanTicket(row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoTicket
		}
		return models.Ticket{}, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1, room_id = $2, doctor_id = COALESCE($3, doctor_id), updated_at = $4
		WHERE ticket_id = $5
		RETURNING `+ticketColumns+`
	`, models.StatusTreating, input.RoomID, nullIfEmpty(input.DoctorID), calledAt, next.TicketID)
	if next, err = scanTicket(row); err != nil {
		return models.Ticket{}, err
	}

	for _, ticket := range vacated {
		if err = insertEvent(ctx, tx, input.Day, "ticket.completed", input.Actor, ticket); err != nil {
			return models.Ticket{}, err
		}
	}
	if err = insertEvent(ctx, tx, input.Day, "ticket.called", input.Actor, next); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return next, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticket, err := lockTicket(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}

	// Re-completing a completed ticket is a no-op success.
	if ticket.Status == models.StatusCompleted {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, err
		}
		return ticket, nil
	}
	if !store.ValidTransition("complete", ticket.Status) {
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1, room_id = NULL, updated_at = $2
		WHERE ticket_id = $3
		RETURNING `+ticketColumns+`
	`, models.StatusCompleted, occurredAt, input.TicketID)
	if ticket, err = scanTicket(row); err != nil {
		return models.Ticket{}, err
	}

	if err = insertEvent(ctx, tx, ticket.Day, "ticket.completed", input.Actor, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) SkipTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.applyTransition(ctx, input, "skip", models.StatusSkipped, "ticket.skipped")
}

func (s *Store) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.applyTransition(ctx, input, "cancel", models.StatusCancelled, "ticket.cancelled")
}

func (s *Store) applyTransition(ctx context.Context, input store.TicketActionInput, action, toStatus, eventType string) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticket, err := lockTicket(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !store.ValidTransition(action, ticket.Status) {
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1, room_id = NULL, updated_at = $2
		WHERE ticket_id = $3
		RETURNING `+ticketColumns+`
	`, toStatus, occurredAt, input.TicketID)
	if ticket, err = scanTicket(row); err != nil {
		return models.Ticket{}, err
	}

	if err = insertEvent(ctx, tx, ticket.Day, eventType, input.Actor, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) RecallTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticket, err := lockTicket(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !store.ValidTransition("recall", ticket.Status) {
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET updated_at = $1
		WHERE ticket_id = $2
		RETURNING `+ticketColumns+`
	`, occurredAt, input.TicketID)
	if ticket, err = scanTicket(row); err != nil {
		return models.Ticket{}, err
	}

	if err = insertEvent(ctx, tx, ticket.Day, "ticket.recalled", input.Actor, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListByDayAndStatus(ctx context.Context, day string, statuses ...string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE day = $1::date AND status = ANY($2)
		ORDER BY number ASC
	`, day, statuses)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) FindMaxNumber(ctx context.Context, day string) (int, error) {
	var max int
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(number), 0)
		FROM tickets
		WHERE day = $1::date
	`, day)
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func (s *Store) DeleteByDay(ctx context.Context, day string) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `DELETE FROM tickets WHERE day = $1::date`, day)
	if err != nil {
		return 0, err
	}
	count := int(tag.RowsAffected())

	// Numbering restarts at 1 after a reset.
	if _, err = tx.Exec(ctx, `DELETE FROM ticket_sequences WHERE day = $1::date`, day); err != nil {
		return count, err
	}

	payload, err := json.Marshal(map[string]int{"deleted": count})
	if err != nil {
		return count, err
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO queue_events (event_id, day, type, actor, payload, created_at)
		VALUES ($1, $2::date, $3, NULL, $4, $5)
	`, uuid.NewString(), day, "queue.reset", payload, time.Now().UTC()); err != nil {
		return count, err
	}

	if err = tx.Commit(ctx); err != nil {
		return count, err
	}
	return count, nil
}

func (s *Store) ListBookedSlots(ctx context.Context, day, doctorID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT slot_time
		FROM tickets
		WHERE day = $1::date AND doctor_id = $2 AND slot_time IS NOT NULL AND status <> 'cancelled'
		ORDER BY slot_time ASC
	`, day, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []string
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

func (s *Store) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doctor_id, name
		FROM doctors
		WHERE active = TRUE
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctors []models.Doctor
	for rows.Next() {
		var doctor models.Doctor
		if err := rows.Scan(&doctor.DoctorID, &doctor.Name); err != nil {
			return nil, err
		}
		doctors = append(doctors, doctor)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return doctors, nil
}

func (s *Store) ListEvents(ctx context.Context, day string, after time.Time, limit int) ([]store.QueueEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, day::text, type, COALESCE(actor, ''), payload, created_at
		FROM queue_events
		WHERE day = $1::date
	`
	args := []interface{}{day}
	if !after.IsZero() {
		query += " AND created_at > $2 ORDER BY created_at ASC LIMIT $3"
		args = append(args, after, limit)
	} else {
		query += " ORDER BY created_at ASC LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.QueueEvent
	for rows.Next() {
		var event store.QueueEvent
		if err := rows.Scan(&event.EventID, &event.Day, &event.Type, &event.Actor, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func lockTicket(ctx context.Context, tx pgx.Tx, ticketID string) (models.Ticket, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
		FOR UPDATE
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, day, eventType, actor string, ticket models.Ticket) error {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO queue_events (event_id, day, type, actor, payload, created_at)
		VALUES ($1, $2::date, $3, $4, $5, $6)
	`, uuid.NewString(), day, eventType, nullIfEmpty(actor), payload, time.Now().UTC())
	return err
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var patientID, walkInName, walkInPhone, doctorID, roomID, slotTime sql.NullString
	if err := row.Scan(&ticket.TicketID, &ticket.Number, &ticket.Day, &patientID, &walkInName,
		&walkInPhone, &doctorID, &roomID, &slotTime, &ticket.Status, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return models.Ticket{}, err
	}
	ticket.PatientID = nullStringPtr(patientID)
	ticket.DoctorID = nullStringPtr(doctorID)
	ticket.RoomID = nullStringPtr(roomID)
	if walkInName.Valid {
		ticket.WalkInName = walkInName.String
	}
	if walkInPhone.Valid {
		ticket.WalkInPhone = walkInPhone.String
	}
	if slotTime.Valid {
		ticket.SlotTime = slotTime.String
	}
	return ticket, nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
