package store

import "errors"

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrNoTicket       = errors.New("no patient waiting")
	ErrInvalidState   = errors.New("invalid ticket state")
	ErrSlotTaken      = errors.New("slot already booked")
	ErrDoctorNotFound = errors.New("doctor not found")
)
