package feed

import "testing"

func TestPublish_DropsSlowClient(t *testing.T) {
	t.Parallel()
	h := NewHub(WithBuffer(1))
	slow := &client{send: make(chan []byte, 1), done: make(chan struct{})}
	if !h.register(slow) {
		t.Fatal("register refused")
	}

	h.Status("active", nil)
	h.Status("closed", nil)

	if h.Clients() != 0 {
		t.Errorf("clients = %d, want slow client dropped", h.Clients())
	}
	select {
	case <-slow.done:
	default:
		t.Error("slow client not stopped")
	}
	if got := len(slow.send); got != 1 {
		t.Errorf("queued = %d, want 1", got)
	}
}
