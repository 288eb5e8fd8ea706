package client

import (
	"context"
	"log"
	"time"

	"podpulse/internal/models"
)

const (
	pingInterval = 30 * time.Second
	pongTimeout  = 5 * time.Second
)

// PingProber checks stream liveness on its own short-lived connections so
// the primary stream never pays for a probe failure. Every interval it
// dials, sends one ping envelope, waits for the pong, and closes.
type PingProber struct {
	stream   *Stream
	interval time.Duration
	timeout  time.Duration
}

// NewPingProber creates a prober that shares the stream's endpoint and
// credentials.
func NewPingProber(stream *Stream) *PingProber {
	return &PingProber{
		stream:   stream,
		interval: pingInterval,
		timeout:  pongTimeout,
	}
}

// Run probes until ctx is cancelled. Probe failures are logged and nothing
// else: they never tear down the primary stream or reach the user.
func (p *PingProber) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.probe(ctx); err != nil {
				log.Printf("task stream ping probe failed: %v", err)
			}
		}
	}
}

func (p *PingProber) probe(ctx context.Context) error {
	target, err := p.stream.streamURL()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, _, err := p.stream.dialer.DialContext(dialCtx, target, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(p.timeout))
	if err := conn.WriteJSON(models.Envelope{Event: models.EventPing}); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(p.timeout))
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		// The probe's fresh connection receives its own initial snapshot
		// first; skip anything that is not the pong.
		if env.Event == models.EventPong {
			return nil
		}
	}
}
