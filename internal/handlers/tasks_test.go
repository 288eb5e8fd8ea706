package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"podpulse/internal/models"
	"podpulse/internal/storage"
	"podpulse/internal/tasks"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type taskFixture struct {
	srv      *httptest.Server
	registry *tasks.Registry
	hub      *tasks.Hub
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	keys := storage.NewApiKeyRepository(db)
	if err := keys.Upsert(context.Background(), "k1", 7); err != nil {
		t.Fatalf("failed to seed api key: %v", err)
	}

	hub := tasks.NewHub()
	registry := tasks.NewRegistry(hub)

	h := NewTaskHandler(registry, hub, keys)
	e := echo.New()
	e.GET("/ws/api/tasks/:user_id", h.Stream)
	e.GET("/api/tasks/active", h.Active)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &taskFixture{srv: srv, registry: registry, hub: hub}
}

func (f *taskFixture) wsURL(userID, apiKey string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/api/tasks/" + userID + "?api_key=" + apiKey
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env models.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("failed to read envelope: %v", err)
	}
	return env
}

func TestActiveRequiresMatchingKey(t *testing.T) {
	f := newTaskFixture(t)

	cases := []struct {
		name   string
		key    string
		userID string
		want   int
	}{
		{"valid", "k1", "7", http.StatusOK},
		{"wrong user", "k1", "8", http.StatusUnauthorized},
		{"unknown key", "nope", "7", http.StatusUnauthorized},
		{"missing key", "", "7", http.StatusUnauthorized},
		{"bad user id", "k1", "abc", http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/tasks/active?user_id="+tc.userID, nil)
			if tc.key != "" {
				req.Header.Set("X-Api-Key", tc.key)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestActiveReturnsSnapshot(t *testing.T) {
	f := newTaskFixture(t)
	rec := f.registry.Create(7, models.TaskTypePodcastDownload, nil)
	f.registry.Update(rec.TaskID, models.StatusDownloading, 30, map[string]string{"episode_title": "Ep 1"})

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/tasks/active?user_id=7", nil)
	req.Header.Set("X-Api-Key", "k1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Tasks []models.TaskRecord `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(body.Tasks))
	}
	if body.Tasks[0].Details["episode_title"] != "Ep 1" {
		t.Error("details lost on the wire")
	}
}

func TestStreamRejectsBadCredential(t *testing.T) {
	f := newTaskFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("7", "wrong"), nil)
	if err == nil {
		t.Fatal("dial succeeded with a bad key")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake response = %v, want 401", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(f.wsURL("8", "k1"), nil)
	if err == nil {
		t.Fatal("dial succeeded for a user the key does not own")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake response = %v, want 401", resp)
	}
}

func TestStreamSendsInitialSnapshotThenUpdates(t *testing.T) {
	f := newTaskFixture(t)
	existing := f.registry.Create(7, models.TaskTypeFeedRefresh, nil)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("7", "k1"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	initial := readEnvelope(t, conn)
	if initial.Event != models.EventInitial {
		t.Fatalf("first event = %s, want %s", initial.Event, models.EventInitial)
	}
	if len(initial.Tasks) != 1 || initial.Tasks[0].TaskID != existing.TaskID {
		t.Fatal("initial snapshot missing the pre-existing task")
	}

	f.registry.Update(existing.TaskID, models.StatusSuccess, 100, nil)

	update := readEnvelope(t, conn)
	if update.Event != models.EventUpdate {
		t.Fatalf("second event = %s, want %s", update.Event, models.EventUpdate)
	}
	if update.Task == nil || update.Task.Status != models.StatusSuccess {
		t.Fatal("update envelope missing the changed record")
	}
}

func TestStreamAnswersPingWithPong(t *testing.T) {
	f := newTaskFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("7", "k1"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	readEnvelope(t, conn) // initial

	if err := conn.WriteJSON(models.Envelope{Event: models.EventPing}); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}
	pong := readEnvelope(t, conn)
	if pong.Event != models.EventPong {
		t.Errorf("event = %s, want %s", pong.Event, models.EventPong)
	}
}

func TestStreamSurvivesMalformedFrame(t *testing.T) {
	f := newTaskFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("7", "k1"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	readEnvelope(t, conn) // initial

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{garbage")); err != nil {
		t.Fatalf("failed to send frame: %v", err)
	}
	// The connection must still answer pings afterwards
	if err := conn.WriteJSON(models.Envelope{Event: models.EventPing}); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}
	pong := readEnvelope(t, conn)
	if pong.Event != models.EventPong {
		t.Errorf("event after malformed frame = %s, want %s", pong.Event, models.EventPong)
	}
}

func TestStreamDisconnectDropsSubscriber(t *testing.T) {
	f := newTaskFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("7", "k1"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	readEnvelope(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.SubscriberCount(7) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
