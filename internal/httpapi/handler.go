// Package httpapi is the HTTP edge: routing, auth, request decoding and
// error-to-status mapping. All queue logic lives behind QueueService.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/models"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/queue"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/slotlock"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/store"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// QueueService is what the handlers call. Tests plug in a fake; production
// wires the queue engine.
type QueueService interface {
	IssueTicket(ctx context.Context, input queue.IssueTicketInput) (models.Ticket, error)
	AddWalkIn(ctx context.Context, input queue.WalkInInput) (models.Ticket, error)
	CallNext(ctx context.Context, input queue.CallNextInput) (models.Ticket, error)
	Complete(ctx context.Context, ticketID string, actor models.Actor) (models.Ticket, error)
	Skip(ctx context.Context, ticketID string, actor models.Actor) (models.Ticket, error)
	Recall(ctx context.Context, ticketID string, actor models.Actor) (models.Ticket, error)
	Cancel(ctx context.Context, ticketID string, actor models.Actor) (models.Ticket, error)
	ResetDay(ctx context.Context, day string, actor models.Actor) (int, error)
	Snapshot(ctx context.Context, day string) (models.Snapshot, error)
	Availability(ctx context.Context, day, doctorID string) (models.DayAvailability, error)
	Ticket(ctx context.Context, ticketID string) (models.Ticket, error)
	Doctors(ctx context.Context) ([]models.Doctor, error)
	Events(ctx context.Context, day string, after time.Time, limit int) ([]store.QueueEvent, error)
}

// SlotLocker is the advisory lock surface exposed over HTTP.
type SlotLocker interface {
	Lock(ctx context.Context, day, doctorID, slotTime, holder string) error
	Release(ctx context.Context, day, doctorID, slotTime, holder string) error
}

type Handler struct {
	service QueueService
	locker  SlotLocker
	auth    *Authenticator
	limiter *rateLimiter
	log     zerolog.Logger
	mux     *http.ServeMux
}

type Options struct {
	JWTSecret     string
	RateLimit     int
	RateInterval  time.Duration
	Logger        zerolog.Logger
	EnableTracing bool
}

func NewHandler(service QueueService, locker SlotLocker, opts Options) http.Handler {
	h := &Handler{
		service: service,
		locker:  locker,
		auth:    NewAuthenticator(opts.JWTSecret),
		limiter: newRateLimiter(opts.RateLimit, opts.RateInterval),
		log:     opts.Logger,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.HandleFunc("GET /api/queue/snapshot", h.handleSnapshot)
	h.mux.HandleFunc("GET /api/availability", h.handleAvailability)
	h.mux.HandleFunc("GET /api/doctors", h.handleDoctors)
	h.mux.HandleFunc("GET /api/tickets/{id}", h.handleGetTicket)

	h.mux.Handle("POST /api/tickets", h.requireAuth(h.handleIssueTicket))
	h.mux.Handle("POST /api/tickets/walk-in", h.requireAuth(h.handleWalkIn))
	h.mux.Handle("POST /api/queue/call-next", h.requireAuth(h.handleCallNext))
	h.mux.Handle("POST /api/tickets/{id}/actions/{action}", h.requireAuth(h.handleTicketAction))
	h.mux.Handle("POST /api/queue/reset", h.requireAuth(h.requireRole("admin", h.handleReset)))
	h.mux.Handle("GET /api/events", h.requireAuth(h.handleEvents))
	h.mux.Handle("POST /api/slots/lock", h.requireAuth(h.handleSlotLock))
	h.mux.Handle("POST /api/slots/release", h.requireAuth(h.handleSlotRelease))

	var handler http.Handler = h.mux
	handler = h.limiter.middleware(handler)
	handler = requestLogger(opts.Logger, handler)
	if opts.EnableTracing {
		handler = otelhttp.NewHandler(handler, "httpapi")
	}
	return handler
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Day        string `json:"day"`
		PatientID  string `json:"patient_id"`
		DoctorID   string `json:"doctor_id"`
		SlotTime   string `json:"slot_time"`
		LockHolder string `json:"lock_holder"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	ticket, err := h.service.IssueTicket(r.Context(), queue.IssueTicketInput{
		Day:        body.Day,
		PatientID:  body.PatientID,
		DoctorID:   body.DoctorID,
		SlotTime:   body.SlotTime,
		LockHolder: body.LockHolder,
		Actor:      actorFrom(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, ticket)
}

func (h *Handler) handleWalkIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Day   string `json:"day"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	ticket, err := h.service.AddWalkIn(r.Context(), queue.WalkInInput{
		Day:   body.Day,
		Name:  body.Name,
		Phone: body.Phone,
		Actor: actorFrom(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, ticket)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Day      string `json:"day"`
		RoomID   string `json:"room_id"`
		DoctorID string `json:"doctor_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	ticket, err := h.service.CallNext(r.Context(), queue.CallNextInput{
		Day:      body.Day,
		RoomID:   body.RoomID,
		DoctorID: body.DoctorID,
		Actor:    actorFrom(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("id")
	actor := actorFrom(r)

	var (
		ticket models.Ticket
		err    error
	)
	switch r.PathValue("action") {
	case "complete":
		ticket, err = h.service.Complete(r.Context(), ticketID, actor)
	case "skip":
		ticket, err = h.service.Skip(r.Context(), ticketID, actor)
	case "recall":
		ticket, err = h.service.Recall(r.Context(), ticketID, actor)
	case "cancel":
		ticket, err = h.service.Cancel(r.Context(), ticketID, actor)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ticket)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Day string `json:"day"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	count, err := h.service.ResetDay(r.Context(), body.Day, actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"deleted": count})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.Snapshot(r.Context(), r.URL.Query().Get("day"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, snapshot)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	availability, err := h.service.Availability(r.Context(), query.Get("day"), query.Get("doctor_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, availability)
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.service.Ticket(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ticket)
}

func (h *Handler) handleDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.service.Doctors(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, doctors)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var after time.Time
	if raw := query.Get("after"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "after must be RFC3339")
			return
		}
		after = parsed
	}
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	events, err := h.service.Events(r.Context(), query.Get("day"), after, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []store.QueueEvent{}
	}
	writeData(w, http.StatusOK, events)
}

type slotRequest struct {
	Day      string `json:"day"`
	DoctorID string `json:"doctor_id"`
	SlotTime string `json:"slot_time"`
	Holder   string `json:"holder"`
}

func (s slotRequest) validate() string {
	if _, ok := models.ParseDay(s.Day); !ok {
		return "day must be YYYY-MM-DD"
	}
	if s.DoctorID == "" {
		return "doctor_id is required"
	}
	if _, ok := models.ParseSlotTime(s.SlotTime); !ok {
		return "slot_time must be HH:MM"
	}
	return ""
}

func (h *Handler) handleSlotLock(w http.ResponseWriter, r *http.Request) {
	var body slotRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if msg := body.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}
	holder := body.Holder
	if holder == "" {
		holder = actorFrom(r).ID
	}
	if err := h.locker.Lock(r.Context(), body.Day, body.DoctorID, body.SlotTime, holder); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "locked", "holder": holder})
}

func (h *Handler) handleSlotRelease(w http.ResponseWriter, r *http.Request) {
	var body slotRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if msg := body.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}
	holder := body.Holder
	if holder == "" {
		holder = actorFrom(r).ID
	}
	if err := h.locker.Release(r.Context(), body.Day, body.DoctorID, body.SlotTime, holder); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "released"})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validation queue.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_error", validation.Error())
	case errors.Is(err, store.ErrTicketNotFound):
		writeError(w, http.StatusNotFound, "not_found", "ticket not found")
	case errors.Is(err, store.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "not_found", "doctor not found")
	case errors.Is(err, store.ErrNoTicket):
		writeError(w, http.StatusConflict, "no_patient_waiting", "no patient waiting")
	case errors.Is(err, store.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", "action not allowed in current state")
	case errors.Is(err, store.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", "slot already booked")
	case errors.Is(err, slotlock.ErrSlotLocked):
		writeError(w, http.StatusConflict, "slot_locked", "slot locked by another holder")
	case errors.Is(err, queue.ErrUnknownRoom):
		writeError(w, http.StatusBadRequest, "validation_error", "unknown room")
	case errors.Is(err, queue.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, "busy", "queue busy, try again")
	case errors.Is(err, queue.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "store_error", "internal error")
	}
}

type envelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *errorEnvelope `json:"error,omitempty"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Success: false, Error: &errorEnvelope{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return false
	}
	return true
}
