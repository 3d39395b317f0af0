package hub

import (
	"testing"
)

func newClient(id, day string) *Client {
	return &Client{ID: id, Send: make(chan []byte, 4), Day: day}
}

func TestBroadcastReachesOnlySubscribedDay(t *testing.T) {
	h := NewHub()
	a := newClient("a", "2026-08-31")
	b := newClient("b", "2026-09-01")
	h.Register(a)
	h.Register(b)

	h.Broadcast("2026-08-31", []byte("x"))

	select {
	case <-a.Send:
	default:
		t.Fatal("subscribed client got nothing")
	}
	select {
	case <-b.Send:
		t.Fatal("other-day client got the message")
	default:
	}
}

func TestFullBufferDropsMessage(t *testing.T) {
	h := NewHub()
	client := &Client{ID: "a", Send: make(chan []byte, 1), Day: "2026-08-31"}
	h.Register(client)

	h.Broadcast("2026-08-31", []byte("1"))
	// Buffer is full now; this must not block.
	h.Broadcast("2026-08-31", []byte("2"))

	if got := <-client.Send; string(got) != "1" {
		t.Fatalf("got %q", got)
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := NewHub()
	client := newClient("a", "2026-08-31")
	h.Register(client)
	h.Unregister("a")

	if _, open := <-client.Send; open {
		t.Fatal("send channel still open")
	}
	if h.ClientCount() != 0 {
		t.Fatalf("client count = %d", h.ClientCount())
	}
	// Double unregister is a no-op.
	h.Unregister("a")
}

func TestDaysListsDistinctSubscriptions(t *testing.T) {
	h := NewHub()
	h.Register(newClient("a", "2026-08-31"))
	h.Register(newClient("b", "2026-08-31"))
	h.Register(newClient("c", "2026-09-01"))
	h.Register(newClient("d", ""))

	days := h.Days()
	if len(days) != 2 {
		t.Fatalf("days = %v", days)
	}
}

func TestUpdateSubscriptionMovesClient(t *testing.T) {
	h := NewHub()
	client := newClient("a", "2026-08-31")
	h.Register(client)
	h.UpdateSubscription("a", "2026-09-01")

	h.Broadcast("2026-09-01", []byte("x"))
	select {
	case <-client.Send:
	default:
		t.Fatal("client missed new day broadcast")
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","day":"2026-08-31"}`))
	if !ok || msg.Day != "2026-08-31" {
		t.Fatalf("msg = %+v, ok = %v", msg, ok)
	}
	if _, ok := ParseSubscribe([]byte(`{"action":"other"}`)); ok {
		t.Fatal("non-subscribe action accepted")
	}
	if _, ok := ParseSubscribe([]byte(`not json`)); ok {
		t.Fatal("garbage accepted")
	}
}

func TestConcurrentSubscribeAndBroadcast(t *testing.T) {
	h := NewHub()
	client := &Client{ID: "a", Send: make(chan []byte, 64)}
	h.Register(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.UpdateSubscription("a", "2026-08-31")
			h.UpdateSubscription("a", "2026-09-01")
		}
	}()
	for i := 0; i < 100; i++ {
		h.Broadcast("2026-08-31", []byte("x"))
		h.Days()
	}
	<-done
}
