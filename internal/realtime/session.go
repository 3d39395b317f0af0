package realtime

import (
	"context"
	"net/http"

	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/rs/zerolog"
)

// NewSocketHandler mounts the sockjs endpoint. Each session registers with
// the hub, picks a day with {"action":"subscribe","day":"YYYY-MM-DD"} and
// then receives snapshot pushes until it disconnects.
func NewSocketHandler(prefix string, h *hub.Hub, publisher *Publisher, log zerolog.Logger) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{
			ID:   uuid.NewString(),
			Send: make(chan []byte, 16),
		}
		h.Register(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for payload := range client.Send {
				if err := session.Send(string(payload)); err != nil {
					return
				}
			}
		}()

		for {
			raw, err := session.Recv()
			if err != nil {
				break
			}
			msg, ok := hub.ParseSubscribe([]byte(raw))
			if !ok || msg.Day == "" {
				continue
			}
			h.UpdateSubscription(client.ID, msg.Day)
			publisher.SendSnapshot(context.Background(), client, msg.Day)
			log.Debug().Str("client_id", client.ID).Str("day", msg.Day).Msg("client subscribed")
		}

		// Unregister closes Send, which stops the writer goroutine.
		h.Unregister(client.ID)
		<-done
	})
}
