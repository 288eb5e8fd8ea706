package client

import (
	"context"
	"testing"
	"time"

	"podpulse/internal/models"

	"github.com/gorilla/websocket"
)

func TestPingProbeRoundTrip(t *testing.T) {
	f := newStreamFixture(t, func(conn *websocket.Conn) {
		conn.WriteJSON(models.Envelope{Event: models.EventInitial})
		for {
			var env models.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Event == models.EventPing {
				conn.WriteJSON(models.Envelope{Event: models.EventPong})
			}
		}
	})

	center := NewCenter()
	defer center.Close()

	p := NewPingProber(f.stream(center, false))
	if err := p.probe(context.Background()); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
}

func TestPingProbeTimesOutWithoutPong(t *testing.T) {
	f := newStreamFixture(t, func(conn *websocket.Conn) {
		conn.WriteJSON(models.Envelope{Event: models.EventInitial})
		// Never answer the ping
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	center := NewCenter()
	defer center.Close()

	p := NewPingProber(f.stream(center, false))
	p.timeout = 50 * time.Millisecond
	if err := p.probe(context.Background()); err == nil {
		t.Fatal("probe returned nil without a pong")
	}
}
