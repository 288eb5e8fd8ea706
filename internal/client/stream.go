package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"

	"podpulse/internal/models"

	"github.com/gorilla/websocket"
)

// Stream consumes the persistent task event channel for one user and feeds
// everything it receives into the center. When the stream cannot be opened
// or drops, it falls back to exactly one REST fetch; re-opening the stream
// is the owner's concern (the next page-level mount).
type Stream struct {
	baseURL  string
	apiKey   string
	userID   int64
	center   *Center
	fallback *Fetcher
	dialer   *websocket.Dialer
}

// NewStream creates a stream consumer. baseURL is the plain HTTP base
// (e.g. "http://localhost:8080"); the websocket scheme is derived from it.
func NewStream(baseURL, apiKey string, userID int64, center *Center, fallback *Fetcher) *Stream {
	return &Stream{
		baseURL:  baseURL,
		apiKey:   apiKey,
		userID:   userID,
		center:   center,
		fallback: fallback,
		dialer:   websocket.DefaultDialer,
	}
}

// streamURL converts the HTTP base into the ws endpoint with credentials as
// connection parameters.
func (s *Stream) streamURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/api/tasks/" + strconv.FormatInt(s.userID, 10)
	u.RawQuery = url.Values{"api_key": {s.apiKey}}.Encode()
	return u.String(), nil
}

// Run opens the stream and consumes events until the connection drops or
// ctx is cancelled. It returns after the single fallback fetch that follows
// a transport failure; there is no retry loop here.
func (s *Stream) Run(ctx context.Context) error {
	target, err := s.streamURL()
	if err != nil {
		return err
	}

	conn, resp, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			log.Printf("task stream open failed (%d): %v", resp.StatusCode, err)
		} else {
			log.Printf("task stream open failed: %v", err)
		}
		s.resync(ctx)
		return err
	}
	defer conn.Close()

	// Unblock the read loop when the owner tears the tab down.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("task stream closed: %v", err)
			s.resync(ctx)
			return nil
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// One malformed frame never costs the connection
			log.Printf("task stream: ignoring malformed frame: %v", err)
			continue
		}
		s.apply(env)
	}
}

func (s *Stream) apply(env models.Envelope) {
	switch env.Event {
	case models.EventInitial, models.EventRefresh:
		s.center.ApplySnapshot(env.Tasks)
	case models.EventUpdate:
		if env.Task != nil {
			s.center.Apply(*env.Task)
		}
	case models.EventPong:
		// Liveness answer for the ping prober's connection; nothing to do
		// on the primary stream.
	default:
		log.Printf("task stream: unknown event %q ignored", env.Event)
	}
}

// resync issues the one post-failure REST fetch. A failed fetch leaves the
// task list untouched.
func (s *Stream) resync(ctx context.Context) {
	if s.fallback == nil {
		return
	}
	tasks, err := s.fallback.Fetch(ctx)
	if err != nil {
		log.Printf("task resync failed: %v", err)
		return
	}
	s.center.ApplySnapshot(tasks)
}
