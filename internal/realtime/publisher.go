// Package realtime pushes queue snapshots to connected clients over sockjs
// and keeps a polling fallback ticking for clients that missed a push.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/hub"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/models"

	"github.com/rs/zerolog"
)

// SnapshotSource computes the read model for a day.
type SnapshotSource interface {
	Snapshot(ctx context.Context, day string) (models.Snapshot, error)
}

type message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

type Publisher struct {
	source SnapshotSource
	hub    *hub.Hub
	log    zerolog.Logger
}

func NewPublisher(source SnapshotSource, h *hub.Hub, log zerolog.Logger) *Publisher {
	return &Publisher{source: source, hub: h, log: log}
}

// QueueChanged recomputes the day's snapshot and broadcasts it. Called by
// the engine after every successful mutation.
func (p *Publisher) QueueChanged(day string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.publishSnapshot(ctx, day)
}

// SlotChanged tells availability watchers that advisory lock state moved.
func (p *Publisher) SlotChanged(day, doctorID string) {
	payload, err := json.Marshal(message{
		Type:      "slot.changed",
		Payload:   map[string]string{"day": day, "doctor_id": doctorID},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	p.hub.Broadcast(day, payload)
}

func (p *Publisher) publishSnapshot(ctx context.Context, day string) {
	snapshot, err := p.source.Snapshot(ctx, day)
	if err != nil {
		p.log.Error().Err(err).Str("day", day).Msg("snapshot for broadcast failed")
		return
	}
	payload, err := json.Marshal(message{
		Type:      "queue.snapshot",
		Payload:   snapshot,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		p.log.Error().Err(err).Msg("snapshot encode failed")
		return
	}
	p.hub.Broadcast(day, payload)
}

// SendSnapshot delivers the current snapshot to a single client, used right
// after it subscribes.
func (p *Publisher) SendSnapshot(ctx context.Context, client *hub.Client, day string) {
	snapshot, err := p.source.Snapshot(ctx, day)
	if err != nil {
		p.log.Error().Err(err).Str("day", day).Msg("initial snapshot failed")
		return
	}
	payload, err := json.Marshal(message{
		Type:      "queue.snapshot",
		Payload:   snapshot,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	select {
	case client.Send <- payload:
	default:
	}
}

// Poller re-broadcasts snapshots for every watched day on a fixed interval
// so a dropped push never leaves a display stale for long.
type Poller struct {
	publisher *Publisher
	interval  time.Duration
}

func NewPoller(publisher *Publisher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{publisher: publisher, interval: interval}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, day := range p.publisher.hub.Days() {
				p.publisher.publishSnapshot(ctx, day)
			}
		}
	}
}
