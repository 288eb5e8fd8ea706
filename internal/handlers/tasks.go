package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"podpulse/internal/models"
	"podpulse/internal/storage"
	"podpulse/internal/tasks"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The api key is the credential; origin is not part of the auth model.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TaskHandler serves the task stream and its REST fallback.
type TaskHandler struct {
	registry *tasks.Registry
	hub      *tasks.Hub
	keys     *storage.ApiKeyRepository
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(registry *tasks.Registry, hub *tasks.Hub, keys *storage.ApiKeyRepository) *TaskHandler {
	return &TaskHandler{registry: registry, hub: hub, keys: keys}
}

// authorize resolves the key and checks it owns userID.
func (h *TaskHandler) authorize(c echo.Context, key string, userID int64) bool {
	if key == "" {
		return false
	}
	owner, ok, err := h.keys.GetUserID(c.Request().Context(), key)
	if err != nil {
		log.Printf("api key lookup failed: %v", err)
		return false
	}
	return ok && owner == userID
}

// Active returns the current task snapshot for a user.
// GET /api/tasks/active?user_id=N, credential in X-Api-Key.
func (h *TaskHandler) Active(c echo.Context) error {
	userID, err := strconv.ParseInt(c.QueryParam("user_id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
	}
	if !h.authorize(c, c.Request().Header.Get("X-Api-Key"), userID) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "api key does not authorize this user"})
	}

	snapshot := h.registry.SnapshotForUser(userID)
	return c.JSON(http.StatusOK, map[string][]models.TaskRecord{"tasks": snapshot})
}

// Stream upgrades to the persistent task event stream.
// GET /ws/api/tasks/:user_id?api_key=…
func (h *TaskHandler) Stream(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
	}
	if !h.authorize(c, c.QueryParam("api_key"), userID) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "api key does not authorize this user"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sub := h.hub.Subscribe(userID)
	pongs := make(chan struct{}, 1)
	done := make(chan struct{})

	go h.writePump(conn, sub, userID, pongs, done)
	h.readPump(conn, pongs)

	close(done)
	h.hub.Unsubscribe(sub)
	conn.Close()
	return nil
}

// writePump is the single writer for a stream connection. It sends the
// initial snapshot first, then forwards hub events, protocol pongs, and
// websocket-level keepalive pings.
func (h *TaskHandler) writePump(conn *websocket.Conn, sub *tasks.Subscriber, userID int64, pongs <-chan struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	initial := models.Envelope{
		Event: models.EventInitial,
		Tasks: h.registry.SnapshotForUser(userID),
	}
	if err := h.writeJSON(conn, initial); err != nil {
		conn.Close()
		return
	}

	for {
		select {
		case <-done:
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.writeJSON(conn, env); err != nil {
				conn.Close()
				return
			}
		case <-pongs:
			if err := h.writeJSON(conn, models.Envelope{Event: models.EventPong}); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (h *TaskHandler) writeJSON(conn *websocket.Conn, env models.Envelope) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

// readPump consumes inbound frames until the connection drops. The only
// meaningful inbound message is the client's ping envelope.
func (h *TaskHandler) readPump(conn *websocket.Conn, pongs chan<- struct{}) {
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("task stream closed: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// One bad frame never costs the connection
			log.Printf("task stream: ignoring malformed frame: %v", err)
			continue
		}
		if env.Event == models.EventPing {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}
