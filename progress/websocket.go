package progress

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/poiesic/docvec/core"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// helloEvent is the first message on every connection. Clients compare the
// instance ID across reconnects to detect a server restart.
type helloEvent struct {
	Type       string `json:"type"`
	InstanceID string `json:"instanceId"`
}

// Handler streams a user's events over a websocket.
// Query parameters: user (required) and document (optional, narrows the stream
// to one document and ends it after the terminal event).
type Handler struct {
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	instanceID  string
	logger      *slog.Logger
}

// NewHandler creates a websocket handler over b.
func NewHandler(b *Broadcaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		instanceID: uuid.NewString(),
		logger:     logger.With("component", "websocket"),
	}
}

// InstanceID identifies this server process.
func (h *Handler) InstanceID() string {
	return h.instanceID
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}
	documentID := r.URL.Query().Get("document")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection", "err", err)
		return
	}
	defer conn.Close()

	var sub *Subscription
	if documentID != "" {
		sub = h.broadcaster.SubscribeDocument(documentID)
	} else {
		sub = h.broadcaster.SubscribeUser(userID)
	}
	defer sub.Close()

	h.logger.Debug("websocket client connected", "user", userID, "document", documentID)

	// Reads keep the connection alive and notice when the client goes away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Warn("websocket read error", "err", err)
				}
				return
			}
		}
	}()

	if err := h.write(conn, helloEvent{Type: "hello", InstanceID: h.instanceID}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case event, ok := <-sub.Events():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
				return
			}
			if !h.visible(event, userID) {
				continue
			}
			if err := h.write(conn, event); err != nil {
				h.logger.Warn("websocket write failed", "user", userID, "err", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// visible keeps document streams from leaking another user's events.
func (h *Handler) visible(event core.ProgressEvent, userID string) bool {
	return event.UserID == userID
}

func (h *Handler) write(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
